// Package cpu is the user-mode half of the machine: it fetches, decodes
// and executes program instructions on behalf of the running task and traps
// into the kernel for syscalls, timer ticks and page faults.
package cpu

import (
	"github.com/sisoputnfrba/tp-kernel/kernel/scheduler"
	"github.com/sisoputnfrba/tp-kernel/memory"
	log "github.com/sisoputnfrba/tp-kernel/utils/logger"
)

// Dispatcher services a syscall trap.
type Dispatcher interface {
	Dispatch(id uint64, args [3]uint64) int64
}

// Dumper saves the running task's memory for DUMP_MEMORY.
type Dumper interface {
	Dump(id int) (string, error)
}

type CPU struct {
	manager  *scheduler.Manager
	mmu      *memory.MMU
	sys      Dispatcher
	dumper   Dumper
	programs []Program
	logger   *log.LoggerStruct

	// A timer trap fires every timeSlice instructions; 0 disables it.
	timeSlice int
	ticks     int
}

func New(manager *scheduler.Manager, mmu *memory.MMU, sys Dispatcher, programs []Program, timeSlice int, logger *log.LoggerStruct) *CPU {
	return &CPU{
		manager:   manager,
		mmu:       mmu,
		sys:       sys,
		programs:  programs,
		timeSlice: timeSlice,
		logger:    logger,
	}
}

// SetDumper enables DUMP_MEMORY; without a dumper it does nothing.
func (c *CPU) SetDumper(d Dumper) { c.dumper = d }

// Run is the body of task id's goroutine. It executes the task's program
// until the task exits or the kernel halts, and never returns.
func (c *CPU) Run(id int) {
	prog := c.programs[id]
	for {
		c.cicloDeInstruccion(id, prog)
	}
}
