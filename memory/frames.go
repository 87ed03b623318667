// Package memory simulates paged physical memory: frames, page tables stored
// in those frames, the MMU that walks them, and per-task address spaces.
package memory

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/dustin/go-humanize"
)

var (
	ErrOutOfMemory   = errors.New("out of physical frames")
	ErrInvalidLayout = errors.New("invalid memory layout")
)

// PTESize is the width in bytes of one page table entry.
const PTESize = 8

type (
	// PPN is a physical page (frame) number.
	PPN uint64
	// VPN is a virtual page number.
	VPN uint64
)

// Config describes the simulated machine.
type Config struct {
	MemorySize uint64 // bytes of physical memory
	PageSize   int    // bytes per page, power of two
	Levels     int    // page table levels
	TLBEntries int    // 0 disables the TLB
}

// PhysicalMemory is the machine's RAM split in PageSize frames, plus the
// free-frame bitmap used to hand frames out.
type PhysicalMemory struct {
	mu         sync.Mutex
	bytes      []byte
	pageSize   int
	pageShift  uint
	levels     int
	entries    uint64 // PTEs per table frame
	indexBits  uint
	marcoLibre []bool
	libres     int
}

func NewPhysicalMemory(cfg Config) (*PhysicalMemory, error) {
	if cfg.PageSize < 2*PTESize || cfg.PageSize&(cfg.PageSize-1) != 0 {
		return nil, fmt.Errorf("%w: page size %d is not a power of two", ErrInvalidLayout, cfg.PageSize)
	}
	if cfg.Levels < 1 {
		return nil, fmt.Errorf("%w: %d page table levels", ErrInvalidLayout, cfg.Levels)
	}
	if cfg.MemorySize < uint64(cfg.PageSize) {
		return nil, fmt.Errorf("%w: memory size %s smaller than a page", ErrInvalidLayout, humanize.IBytes(cfg.MemorySize))
	}

	entries := uint64(cfg.PageSize / PTESize)
	m := &PhysicalMemory{
		pageSize:  cfg.PageSize,
		pageShift: uint(bits.TrailingZeros(uint(cfg.PageSize))),
		levels:    cfg.Levels,
		entries:   entries,
		indexBits: uint(bits.TrailingZeros64(entries)),
	}
	if uint(cfg.Levels)*m.indexBits+m.pageShift > 63 {
		return nil, fmt.Errorf("%w: %d levels overflow the address width", ErrInvalidLayout, cfg.Levels)
	}

	totalMarcos := int(cfg.MemorySize / uint64(cfg.PageSize))
	m.bytes = make([]byte, totalMarcos*cfg.PageSize)
	m.marcoLibre = make([]bool, totalMarcos)
	for i := range m.marcoLibre {
		m.marcoLibre[i] = true
	}
	m.libres = totalMarcos
	return m, nil
}

func (m *PhysicalMemory) PageSize() int { return m.pageSize }

func (m *PhysicalMemory) Levels() int { return m.levels }

// MaxVA is one past the highest virtual address a page table can map.
func (m *PhysicalMemory) MaxVA() uint64 {
	return 1 << (uint(m.levels)*m.indexBits + m.pageShift)
}

// TrapContextVA is the fixed virtual address of every task's trap context
// page. The page above it is left unmapped, where a trampoline would live.
func (m *PhysicalMemory) TrapContextVA() uint64 {
	return m.MaxVA() - 2*uint64(m.pageSize)
}

func (m *PhysicalMemory) Floor(va uint64) VPN { return VPN(va >> m.pageShift) }

func (m *PhysicalMemory) Ceil(va uint64) VPN {
	return VPN((va + uint64(m.pageSize) - 1) >> m.pageShift)
}

func (m *PhysicalMemory) PageOffset(va uint64) int { return int(va & uint64(m.pageSize-1)) }

func (m *PhysicalMemory) Aligned(va uint64) bool { return m.PageOffset(va) == 0 }

func (m *PhysicalMemory) VA(vpn VPN) uint64 { return uint64(vpn) << m.pageShift }

// AllocFrame reserves the first free frame and zeroes it.
func (m *PhysicalMemory) AllocFrame() (PPN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, libre := range m.marcoLibre {
		if libre {
			m.marcoLibre[i] = false
			m.libres--
			clear(m.frame(PPN(i)))
			return PPN(i), nil
		}
	}
	return 0, ErrOutOfMemory
}

func (m *PhysicalMemory) FreeFrame(ppn PPN) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(ppn) >= len(m.marcoLibre) || m.marcoLibre[ppn] {
		panic(fmt.Sprintf("frame %d freed twice or out of range", ppn))
	}
	m.marcoLibre[ppn] = true
	m.libres++
}

// Frame returns the bytes of one frame. Writes go straight to memory.
func (m *PhysicalMemory) Frame(ppn PPN) []byte {
	return m.frame(ppn)
}

func (m *PhysicalMemory) frame(ppn PPN) []byte {
	inicio := int(ppn) * m.pageSize
	return m.bytes[inicio : inicio+m.pageSize : inicio+m.pageSize]
}

func (m *PhysicalMemory) TotalBytes() uint64 {
	return uint64(len(m.bytes))
}

func (m *PhysicalMemory) FreeFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.libres
}

func (m *PhysicalMemory) FreeBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(m.libres) * uint64(m.pageSize)
}
