package memory

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidLength    = errors.New("invalid length")
)

// Access is the direction of a user memory access.
type Access int

const (
	Read Access = iota
	Write
)

func (a Access) String() string {
	if a == Write {
		return "write"
	}
	return "read"
}

type tlbKey struct {
	token uint64
	vpn   VPN
}

// MMU walks page tables on behalf of the kernel. It caches leaf entries in
// an LRU TLB keyed by address space and page.
type MMU struct {
	mem *PhysicalMemory
	tlb *lru.Cache[tlbKey, PageTableEntry]
}

func NewMMU(mem *PhysicalMemory, tlbEntries int) (*MMU, error) {
	u := &MMU{mem: mem}
	if tlbEntries > 0 {
		tlb, err := lru.New[tlbKey, PageTableEntry](tlbEntries)
		if err != nil {
			return nil, fmt.Errorf("creating TLB: %w", err)
		}
		u.tlb = tlb
	}
	return u, nil
}

func (u *MMU) Memory() *PhysicalMemory { return u.mem }

// Lookup resolves one page, going through the TLB when it is enabled.
func (u *MMU) Lookup(token uint64, vpn VPN) (PageTableEntry, bool) {
	if u.tlb != nil {
		if pte, ok := u.tlb.Get(tlbKey{token, vpn}); ok {
			return pte, true
		}
	}
	pte, ok := FromToken(u.mem, token).Translate(vpn)
	if ok && u.tlb != nil {
		u.tlb.Add(tlbKey{token, vpn}, pte)
	}
	return pte, ok
}

// Invalidate drops a single cached translation.
func (u *MMU) Invalidate(token uint64, vpn VPN) {
	if u.tlb != nil {
		u.tlb.Remove(tlbKey{token, vpn})
	}
}

// Flush drops every cached translation of an address space.
func (u *MMU) Flush(token uint64) {
	if u.tlb == nil {
		return
	}
	for _, k := range u.tlb.Keys() {
		if k.token == token {
			u.tlb.Remove(k)
		}
	}
}

func (u *MMU) TLBLen() int {
	if u.tlb == nil {
		return 0
	}
	return u.tlb.Len()
}

// TranslatedByteBuffer converts the user range [va, va+length) of the
// address space identified by token into physical windows, one per page
// touched, in address order. Every page must be mapped, user-accessible and
// allow the requested access; nothing is returned otherwise.
func (u *MMU) TranslatedByteBuffer(token, va, length uint64, access Access) (UserBuffer, error) {
	if length == 0 {
		return UserBuffer{}, ErrInvalidLength
	}
	end := va + length
	if end < va || end > u.mem.MaxVA() {
		return UserBuffer{}, fmt.Errorf("%w: range %#x+%d outside the address space", ErrUnmappedPage, va, length)
	}

	var buffers [][]byte
	start := va
	for start < end {
		vpn := u.mem.Floor(start)
		pte, ok := u.Lookup(token, vpn)
		if !ok {
			return UserBuffer{}, fmt.Errorf("%w: va %#x", ErrUnmappedPage, start)
		}
		if err := checkAccess(pte, access); err != nil {
			return UserBuffer{}, fmt.Errorf("%w: %s at va %#x (%s)", err, access, start, pte.Flags())
		}

		pageEnd := min(u.mem.VA(vpn+1), end)
		frame := u.mem.Frame(pte.PPN())
		desde := u.mem.PageOffset(start)
		hasta := desde + int(pageEnd-start)
		buffers = append(buffers, frame[desde:hasta:hasta])
		start = pageEnd
	}
	return UserBuffer{Buffers: buffers}, nil
}

func checkAccess(pte PageTableEntry, access Access) error {
	if !pte.User() {
		return ErrPermissionDenied
	}
	switch access {
	case Write:
		if !pte.Writable() {
			return ErrPermissionDenied
		}
	default:
		if !pte.Readable() {
			return ErrPermissionDenied
		}
	}
	return nil
}
