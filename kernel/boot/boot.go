// Package boot assembles the machine and the kernel from a config and a set
// of program images.
package boot

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/sisoputnfrba/tp-kernel/console"
	"github.com/sisoputnfrba/tp-kernel/cpu"
	"github.com/sisoputnfrba/tp-kernel/kernel/dump"
	"github.com/sisoputnfrba/tp-kernel/kernel/global"
	"github.com/sisoputnfrba/tp-kernel/kernel/loader"
	"github.com/sisoputnfrba/tp-kernel/kernel/scheduler"
	"github.com/sisoputnfrba/tp-kernel/kernel/syscalls"
	"github.com/sisoputnfrba/tp-kernel/kernel/task"
	"github.com/sisoputnfrba/tp-kernel/kernel/timer"
	"github.com/sisoputnfrba/tp-kernel/memory"
	log "github.com/sisoputnfrba/tp-kernel/utils/logger"
	"github.com/sisoputnfrba/tp-kernel/utils/views"
)

type Kernel struct {
	BootID   uuid.UUID
	Memory   *memory.PhysicalMemory
	MMU      *memory.MMU
	Manager  *scheduler.Manager
	Syscalls *syscalls.Syscalls
	CPU      *cpu.CPU
	Console  *console.Console

	tlbEntries int
	logger     *log.LoggerStruct
}

// New builds physical memory, loads every application from ld into its own
// address space and wires the scheduler, syscalls and CPU together.
func New(cfg *global.Config, ld loader.Loader, clock timer.Clock, out io.Writer, logger *log.LoggerStruct) (*Kernel, error) {
	memCfg, err := cfg.MemoryConfig()
	if err != nil {
		return nil, err
	}
	mem, err := memory.NewPhysicalMemory(memCfg)
	if err != nil {
		return nil, err
	}
	mmu, err := memory.NewMMU(mem, memCfg.TLBEntries)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		BootID:     uuid.New(),
		Memory:     mem,
		MMU:        mmu,
		tlbEntries: memCfg.TLBEntries,
	}
	k.logger = logger.With("boot", k.BootID.String())
	k.Console = console.New(out, k.logger)

	n := ld.NumApps()
	programs := make([]cpu.Program, n)
	tasks := make([]*task.TaskControlBlock, n)
	for i := range n {
		nombre := loader.AppName(ld, i)
		image, err := ld.AppData(i)
		if err != nil {
			return nil, err
		}
		if programs[i], err = cpu.Decode(image); err != nil {
			return nil, fmt.Errorf("app %d (%s): %w", i, nombre, err)
		}
		if tasks[i], err = task.NewTaskControlBlock(i, image, mmu, cfg.UserStackPages); err != nil {
			return nil, fmt.Errorf("app %d (%s): %w", i, nombre, err)
		}
		k.logger.Logf(log.DEBUG, "## (%d) loaded %s: %s image, %d instructions", i, nombre, humanize.IBytes(uint64(len(image))), len(programs[i]))
	}

	k.Manager = scheduler.NewManager(tasks, clock, k.logger, func(id int) { k.CPU.Run(id) })
	k.Syscalls = syscalls.New(k.Manager, mmu, clock, k.Console, k.logger, cfg.SplitRecords)
	k.CPU = cpu.New(k.Manager, mmu, k.Syscalls, programs, cfg.TimeSlice, k.logger)
	if cfg.DumpPath != "" {
		k.CPU.SetDumper(dump.New(cfg.DumpPath, k.Manager, k.logger))
	}

	k.logger.Logf(log.INFO, "[kernel] %d apps, %s of memory in %d-byte pages, %d frames free",
		n, humanize.IBytes(mem.TotalBytes()), mem.PageSize(), mem.FreeBytes()/uint64(mem.PageSize()))
	return k, nil
}

// Run starts the first task and blocks until every task has exited or ctx
// is cancelled. It returns scheduler.ErrAllTasksCompleted on a normal
// shutdown.
func (k *Kernel) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { k.Manager.Halt(ctx.Err()) })
	defer stop()
	return k.Manager.RunFirstTask()
}

func (k *Kernel) MemoryView() views.MemoryView {
	return views.MemoryView{
		BootID:     k.BootID.String(),
		PageSize:   k.Memory.PageSize(),
		Levels:     k.Memory.Levels(),
		MaxVA:      fmt.Sprintf("%#x", k.Memory.MaxVA()),
		Total:      humanize.IBytes(k.Memory.TotalBytes()),
		Free:       humanize.IBytes(k.Memory.FreeBytes()),
		TotalBytes: k.Memory.TotalBytes(),
		FreeBytes:  k.Memory.FreeBytes(),
		TLBEntries: k.tlbEntries,
		TLBUsed:    k.MMU.TLBLen(),
	}
}

func (k *Kernel) Tasks() []views.TaskView { return k.Manager.Snapshot() }

func (k *Kernel) Task(id int) (views.TaskView, bool) { return k.Manager.Task(id) }

func (k *Kernel) SchedulerView() views.SchedulerView { return k.Manager.SchedulerView() }
