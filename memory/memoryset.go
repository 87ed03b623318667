package memory

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"
)

var (
	ErrMisaligned = errors.New("address not page aligned")
	ErrOverlap    = errors.New("range overlaps an existing mapping")
	ErrNotMapped  = errors.New("range not fully mapped")
)

// MapPermission uses the same bit positions as PTEFlags.
type MapPermission uint8

const (
	PermR MapPermission = MapPermission(PTERead)
	PermW MapPermission = MapPermission(PTEWrite)
	PermX MapPermission = MapPermission(PTEExec)
	PermU MapPermission = MapPermission(PTEUser)
)

func (p MapPermission) String() string {
	return PTEFlags(p).String()[1:]
}

// PermissionFromPort turns the low three bits of an mmap port (R=1, W=2,
// X=4) into a user permission.
func PermissionFromPort(port uint64) MapPermission {
	return MapPermission(port&0x7)<<1 | PermU
}

type AreaKind int

const (
	AreaText AreaKind = iota
	AreaStack
	AreaTrapContext
	AreaMmap
)

func (k AreaKind) String() string {
	switch k {
	case AreaText:
		return "text"
	case AreaStack:
		return "stack"
	case AreaTrapContext:
		return "trap_context"
	case AreaMmap:
		return "mmap"
	default:
		return "unknown"
	}
}

// MapArea is a run of pages [Start, End) with one permission, each backed by
// its own frame.
type MapArea struct {
	Start  VPN
	End    VPN
	Perm   MapPermission
	Kind   AreaKind
	frames map[VPN]PPN
}

func (a *MapArea) contains(vpn VPN) bool { return vpn >= a.Start && vpn < a.End }

func (a *MapArea) overlaps(start, end VPN) bool { return start < a.End && a.Start < end }

// MemorySet is a task's address space: its page table and its areas. Areas
// never overlap.
type MemorySet struct {
	mmu   *MMU
	pt    *PageTable
	areas []*MapArea
}

func NewMemorySet(mmu *MMU) (*MemorySet, error) {
	pt, err := NewPageTable(mmu.mem)
	if err != nil {
		return nil, err
	}
	return &MemorySet{mmu: mmu, pt: pt}, nil
}

// TextBase is where program images are loaded.
const TextBase = 0x10000

// FromImage builds an address space for a program image: the image in a
// read-execute text area at TextBase, a guard page, stackPages of user stack
// and the trap context page. It returns the set and the user stack top.
func FromImage(mmu *MMU, image []byte, stackPages int) (*MemorySet, uint64, error) {
	ms, err := NewMemorySet(mmu)
	if err != nil {
		return nil, 0, err
	}
	mem := mmu.mem

	textEnd := uint64(TextBase) + uint64(max(len(image), 1))
	if err := ms.insertFramed(mem.Floor(TextBase), mem.Ceil(textEnd), PermR|PermX|PermU, AreaText, image); err != nil {
		ms.Recycle()
		return nil, 0, fmt.Errorf("mapping text: %w", err)
	}

	stackBottom := mem.Ceil(textEnd) + 1
	stackTop := stackBottom + VPN(stackPages)
	if err := ms.insertFramed(stackBottom, stackTop, PermR|PermW|PermU, AreaStack, nil); err != nil {
		ms.Recycle()
		return nil, 0, fmt.Errorf("mapping user stack: %w", err)
	}

	trap := mem.Floor(mem.TrapContextVA())
	if err := ms.insertFramed(trap, trap+1, PermR|PermW, AreaTrapContext, nil); err != nil {
		ms.Recycle()
		return nil, 0, fmt.Errorf("mapping trap context: %w", err)
	}

	return ms, mem.VA(stackTop), nil
}

func (ms *MemorySet) Token() uint64 { return ms.pt.Token() }

func (ms *MemorySet) PageTable() *PageTable { return ms.pt }

// Translate resolves a page of this address space without permission checks.
func (ms *MemorySet) Translate(vpn VPN) (PageTableEntry, bool) {
	return ms.pt.Translate(vpn)
}

// insertFramed maps [start, end) to fresh frames and, if data is given,
// copies it in from the first page on. Either every page is mapped or none.
func (ms *MemorySet) insertFramed(start, end VPN, perm MapPermission, kind AreaKind, data []byte) error {
	area := &MapArea{Start: start, End: end, Perm: perm, Kind: kind, frames: make(map[VPN]PPN)}
	for vpn := start; vpn < end; vpn++ {
		ppn, err := ms.mmu.mem.AllocFrame()
		if err == nil {
			err = ms.pt.Map(vpn, ppn, PTEFlags(perm))
			if err != nil {
				ms.mmu.mem.FreeFrame(ppn)
			}
		}
		if err != nil {
			ms.unmapPages(area, start, vpn)
			return err
		}
		area.frames[vpn] = ppn
	}

	for vpn := start; vpn < end && len(data) > 0; vpn++ {
		n := copy(ms.mmu.mem.Frame(area.frames[vpn]), data)
		data = data[n:]
	}

	ms.areas = append(ms.areas, area)
	slices.SortFunc(ms.areas, func(a, b *MapArea) int { return cmp.Compare(a.Start, b.Start) })
	return nil
}

// unmapPages tears down [from, to) of area and frees the frames.
func (ms *MemorySet) unmapPages(area *MapArea, from, to VPN) {
	token := ms.Token()
	for vpn := from; vpn < to; vpn++ {
		ppn, ok := area.frames[vpn]
		if !ok {
			continue
		}
		if err := ms.pt.Unmap(vpn); err == nil {
			ms.mmu.Invalidate(token, vpn)
		}
		ms.mmu.mem.FreeFrame(ppn)
		delete(area.frames, vpn)
	}
}

// Mmap maps length bytes at start, rounded up to whole pages, with perm.
// It fails without side effects if start is misaligned, length is zero, the
// range leaves the address space, needs more frames than are free or any
// page of it is already mapped.
func (ms *MemorySet) Mmap(start, length uint64, perm MapPermission) error {
	mem := ms.mmu.mem
	if !mem.Aligned(start) {
		return fmt.Errorf("%w: %#x", ErrMisaligned, start)
	}
	if length == 0 {
		return ErrInvalidLength
	}
	end := start + length
	if end < start || end > mem.MaxVA() {
		return fmt.Errorf("%w: %#x+%d outside the address space", ErrInvalidLength, start, length)
	}

	first, last := mem.Floor(start), mem.Ceil(end)
	if pages := uint64(last - first); pages > uint64(mem.FreeFrames()) {
		return fmt.Errorf("%w: %d pages requested, %d frames free", ErrOutOfMemory, pages, mem.FreeFrames())
	}
	for vpn := first; vpn < last; vpn++ {
		if _, ok := ms.pt.Translate(vpn); ok {
			return fmt.Errorf("%w: va %#x", ErrOverlap, mem.VA(vpn))
		}
	}
	return ms.insertFramed(first, last, perm, AreaMmap, nil)
}

// Munmap removes the pages covering [start, start+length). Every page must
// belong to an mmap area; otherwise nothing is removed. Areas cut in the
// middle are split in two.
func (ms *MemorySet) Munmap(start, length uint64) error {
	mem := ms.mmu.mem
	if !mem.Aligned(start) {
		return fmt.Errorf("%w: %#x", ErrMisaligned, start)
	}
	if length == 0 {
		return ErrInvalidLength
	}
	end := start + length
	if end < start || end > mem.MaxVA() {
		return fmt.Errorf("%w: %#x+%d", ErrNotMapped, start, length)
	}

	first, last := mem.Floor(start), mem.Ceil(end)
	for vpn := first; vpn < last; vpn++ {
		area := ms.areaOf(vpn)
		if area == nil || area.Kind != AreaMmap {
			return fmt.Errorf("%w: va %#x", ErrNotMapped, mem.VA(vpn))
		}
	}

	var kept []*MapArea
	for _, area := range ms.areas {
		if !area.overlaps(first, last) {
			kept = append(kept, area)
			continue
		}
		cutFrom, cutTo := max(area.Start, first), min(area.End, last)
		ms.unmapPages(area, cutFrom, cutTo)
		if area.Start < cutFrom {
			kept = append(kept, area.slice(area.Start, cutFrom))
		}
		if cutTo < area.End {
			kept = append(kept, area.slice(cutTo, area.End))
		}
	}
	ms.areas = kept
	return nil
}

// slice returns the part [from, to) of area as an area of its own.
func (a *MapArea) slice(from, to VPN) *MapArea {
	part := &MapArea{Start: from, End: to, Perm: a.Perm, Kind: a.Kind, frames: make(map[VPN]PPN)}
	for vpn := from; vpn < to; vpn++ {
		if ppn, ok := a.frames[vpn]; ok {
			part.frames[vpn] = ppn
		}
	}
	return part
}

func (ms *MemorySet) areaOf(vpn VPN) *MapArea {
	for _, area := range ms.areas {
		if area.contains(vpn) {
			return area
		}
	}
	return nil
}

// Areas returns a copy of the area list, sorted by start page.
func (ms *MemorySet) Areas() []MapArea {
	out := make([]MapArea, 0, len(ms.areas))
	for _, area := range ms.areas {
		out = append(out, MapArea{Start: area.Start, End: area.End, Perm: area.Perm, Kind: area.Kind})
	}
	return out
}

// MappedPages counts the data pages, not counting page table nodes.
func (ms *MemorySet) MappedPages() int {
	n := 0
	for _, area := range ms.areas {
		n += len(area.frames)
	}
	return n
}

// Recycle releases every frame of the address space, page tables included.
func (ms *MemorySet) Recycle() {
	for _, area := range ms.areas {
		ms.unmapPages(area, area.Start, area.End)
	}
	ms.areas = nil
	ms.mmu.Flush(ms.Token())
	ms.pt.Release()
}

func (ms *MemorySet) MMU() *MMU { return ms.mmu }

// Dump writes the contents of every mapped page, in address order.
func (ms *MemorySet) Dump(w io.Writer) (int64, error) {
	var total int64
	for _, area := range ms.areas {
		for vpn := area.Start; vpn < area.End; vpn++ {
			ppn, ok := area.frames[vpn]
			if !ok {
				continue
			}
			n, err := w.Write(ms.mmu.mem.Frame(ppn))
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}
