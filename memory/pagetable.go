package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrUnmappedPage  = errors.New("unmapped page")
	ErrAlreadyMapped = errors.New("page already mapped")
)

// PTEFlags follow the RISC-V Sv39 layout.
type PTEFlags uint8

const (
	PTEValid PTEFlags = 1 << iota
	PTERead
	PTEWrite
	PTEExec
	PTEUser
)

func (f PTEFlags) String() string {
	b := []byte("-----")
	for i, c := range "VRWXU" {
		if f&(1<<i) != 0 {
			b[i] = byte(c)
		}
	}
	return string(b)
}

type PageTableEntry uint64

func newPTE(ppn PPN, flags PTEFlags) PageTableEntry {
	return PageTableEntry(uint64(ppn)<<10 | uint64(flags))
}

func (e PageTableEntry) PPN() PPN        { return PPN(uint64(e) >> 10) }
func (e PageTableEntry) Flags() PTEFlags { return PTEFlags(uint64(e) & 0xff) }
func (e PageTableEntry) Valid() bool     { return e.Flags()&PTEValid != 0 }
func (e PageTableEntry) Readable() bool  { return e.Flags()&PTERead != 0 }
func (e PageTableEntry) Writable() bool  { return e.Flags()&PTEWrite != 0 }
func (e PageTableEntry) User() bool      { return e.Flags()&PTEUser != 0 }

// tokenMode marks a token as a paged address space, like satp.MODE.
const tokenMode = uint64(8) << 60

// PageTable is a multi-level table whose nodes are frames of physical memory.
// Only tables built with NewPageTable own their node frames; views built
// with FromToken can walk and edit but never release.
type PageTable struct {
	mem    *PhysicalMemory
	root   PPN
	frames []PPN
}

func NewPageTable(mem *PhysicalMemory) (*PageTable, error) {
	root, err := mem.AllocFrame()
	if err != nil {
		return nil, fmt.Errorf("allocating root table: %w", err)
	}
	return &PageTable{mem: mem, root: root, frames: []PPN{root}}, nil
}

// FromToken rebuilds a non-owning view of the table a token refers to.
func FromToken(mem *PhysicalMemory, token uint64) *PageTable {
	return &PageTable{mem: mem, root: PPN(token &^ tokenMode)}
}

func (pt *PageTable) Token() uint64 {
	return tokenMode | uint64(pt.root)
}

// armarListaEntradas splits a VPN in one table index per level, root first.
func (pt *PageTable) armarListaEntradas(vpn VPN) []uint64 {
	cantNiveles := pt.mem.levels
	cantEntradas := pt.mem.entries

	entradas := make([]uint64, cantNiveles)
	for i := 1; i <= cantNiveles; i++ {
		exponente := uint(cantNiveles-i) * pt.mem.indexBits
		entradas[i-1] = (uint64(vpn) >> exponente) % cantEntradas
	}
	return entradas
}

func (pt *PageTable) readPTE(table PPN, idx uint64) PageTableEntry {
	frame := pt.mem.Frame(table)
	return PageTableEntry(binary.LittleEndian.Uint64(frame[idx*PTESize:]))
}

func (pt *PageTable) writePTE(table PPN, idx uint64, e PageTableEntry) {
	frame := pt.mem.Frame(table)
	binary.LittleEndian.PutUint64(frame[idx*PTESize:], uint64(e))
}

// leaf returns the table frame and index of vpn's last-level entry. With
// create set, missing intermediate tables are allocated on the way down.
func (pt *PageTable) leaf(vpn VPN, create bool) (PPN, uint64, error) {
	if pt.mem.VA(vpn) >= pt.mem.MaxVA() {
		return 0, 0, ErrUnmappedPage
	}
	entradas := pt.armarListaEntradas(vpn)
	actual := pt.root
	for nivel, idx := range entradas {
		if nivel == len(entradas)-1 {
			return actual, idx, nil
		}
		pte := pt.readPTE(actual, idx)
		if !pte.Valid() {
			if !create {
				return 0, 0, ErrUnmappedPage
			}
			subtabla, err := pt.mem.AllocFrame()
			if err != nil {
				return 0, 0, fmt.Errorf("allocating level %d table: %w", nivel+2, err)
			}
			pt.frames = append(pt.frames, subtabla)
			pte = newPTE(subtabla, PTEValid)
			pt.writePTE(actual, idx, pte)
		}
		actual = pte.PPN()
	}
	return 0, 0, ErrUnmappedPage
}

func (pt *PageTable) Map(vpn VPN, ppn PPN, flags PTEFlags) error {
	table, idx, err := pt.leaf(vpn, true)
	if err != nil {
		return err
	}
	if pt.readPTE(table, idx).Valid() {
		return fmt.Errorf("%w: vpn %#x", ErrAlreadyMapped, uint64(vpn))
	}
	pt.writePTE(table, idx, newPTE(ppn, flags|PTEValid))
	return nil
}

func (pt *PageTable) Unmap(vpn VPN) error {
	table, idx, err := pt.leaf(vpn, false)
	if err == nil && !pt.readPTE(table, idx).Valid() {
		err = ErrUnmappedPage
	}
	if err != nil {
		return fmt.Errorf("%w: vpn %#x", err, uint64(vpn))
	}
	pt.writePTE(table, idx, 0)
	return nil
}

// Translate returns the leaf entry for vpn, if it is valid.
func (pt *PageTable) Translate(vpn VPN) (PageTableEntry, bool) {
	table, idx, err := pt.leaf(vpn, false)
	if err != nil {
		return 0, false
	}
	pte := pt.readPTE(table, idx)
	return pte, pte.Valid()
}

// Release frees the node frames the table owns. Leaf frames belong to
// whoever mapped them.
func (pt *PageTable) Release() {
	for _, f := range pt.frames {
		pt.mem.FreeFrame(f)
	}
	pt.frames = nil
}
