package cpu

import (
	"errors"
	"runtime"

	"github.com/sisoputnfrba/tp-kernel/kernel/syscalls"
	"github.com/sisoputnfrba/tp-kernel/kernel/task"
	"github.com/sisoputnfrba/tp-kernel/memory"
	log "github.com/sisoputnfrba/tp-kernel/utils/logger"
)

// ExitPageFault is the exit code of a task killed by a page fault.
const ExitPageFault = -2

type pageFault struct {
	addr uint64
	err  error
}

func (f *pageFault) Error() string { return f.err.Error() }
func (f *pageFault) Unwrap() error { return f.err }

var syscallDe = map[Opcode]uint64{
	YIELD:        syscalls.SyscallYield,
	EXIT:         syscalls.SyscallExit,
	GET_TIME:     syscalls.SyscallGetTime,
	TASK_INFO:    syscalls.SyscallTaskInfo,
	MMAP:         syscalls.SyscallMmap,
	MUNMAP:       syscalls.SyscallMunmap,
	SET_PRIORITY: syscalls.SyscallSetPriority,
	WRITE:        syscalls.SyscallWrite,
}

func (c *CPU) cicloDeInstruccion(id int, prog Program) {
	if c.manager.Halted() {
		runtime.Goexit()
	}
	tc := c.manager.CurrentTrapContext()
	pc := tc.Sepc()

	if pc >= uint64(len(prog)) {
		c.logger.Logf(log.DEBUG, "## (%d) ran off the end of its program", id)
		c.trap(tc, syscalls.SyscallExit, [3]uint64{0})
	}
	inst := prog[pc]
	c.logger.Logf(log.DEBUG, "## (%d) FETCH - PC: %d - %s", id, pc, inst)

	if err := c.execute(id, tc, inst); err != nil {
		var addr uint64
		var pf *pageFault
		if errors.As(err, &pf) {
			addr = pf.addr
		}
		c.logger.Logf(log.ERROR, "[kernel] PageFault in application, bad addr = %#x, kernel killed it.", addr)
		c.logger.Logf(log.DEBUG, "## (%d) line %d: %v", id, inst.Line, err)
		c.manager.ExitCurrentAndRunNext(ExitPageFault)
	}
	c.checkInterrupt(id)
}

// execute runs one instruction and leaves sepc at the next one.
func (c *CPU) execute(id int, tc task.TrapContext, inst Instruccion) error {
	if num, ok := syscallDe[inst.Opcode]; ok {
		var args [3]uint64
		copy(args[:], inst.Args)
		c.trap(tc, num, args)
		return nil
	}

	switch inst.Opcode {
	case SYSCALL:
		var args [3]uint64
		copy(args[:], inst.Args[1:])
		c.trap(tc, inst.Args[0], args)
	case GOTO:
		tc.SetSepc(inst.Args[0])
	case DUMP_MEMORY:
		if c.dumper == nil {
			c.logger.Logf(log.WARN, "## (%d) DUMP_MEMORY ignored, no dump path configured", id)
		} else if _, err := c.dumper.Dump(id); err != nil {
			c.logger.Logf(log.ERROR, "## (%d) %v", id, err)
		}
		tc.SetSepc(tc.Sepc() + 1)
	case STORE:
		if err := c.store(inst.Args[0], inst.Data); err != nil {
			return err
		}
		tc.SetSepc(tc.Sepc() + 1)
	case LOAD:
		data, err := c.load(inst.Args[0], inst.Args[1])
		if err != nil {
			return err
		}
		c.logger.Logf(log.DEBUG, "LOAD %#x: %q", inst.Args[0], data)
		tc.SetSepc(tc.Sepc() + 1)
	default:
		tc.SetSepc(tc.Sepc() + 1)
	}
	return nil
}

// trap enters the kernel for syscall id. sepc moves past the instruction
// before the handler runs, since the handler may switch tasks.
func (c *CPU) trap(tc task.TrapContext, id uint64, args [3]uint64) {
	tc.SetReg(task.RegA7, id)
	tc.SetReg(task.RegA0, args[0])
	tc.SetReg(task.RegA1, args[1])
	tc.SetReg(task.RegA2, args[2])
	tc.SetSepc(tc.Sepc() + 1)

	id, args = tc.SyscallArgs()
	ret := c.sys.Dispatch(id, args)
	tc.SetReg(task.RegA0, uint64(ret))
}

func (c *CPU) store(va uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	buf, err := c.mmu.TranslatedByteBuffer(c.manager.CurrentUserToken(), va, uint64(len(data)), memory.Write)
	if err != nil {
		return &pageFault{addr: va, err: err}
	}
	_, err = buf.WriteAt(data, 0)
	return err
}

func (c *CPU) load(va, length uint64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	buf, err := c.mmu.TranslatedByteBuffer(c.manager.CurrentUserToken(), va, length, memory.Read)
	if err != nil {
		return nil, &pageFault{addr: va, err: err}
	}
	return buf.Bytes(), nil
}

// checkInterrupt takes a timer trap once the running slice is used up.
func (c *CPU) checkInterrupt(id int) {
	if c.timeSlice <= 0 {
		return
	}
	c.ticks++
	if c.ticks < c.timeSlice {
		return
	}
	c.ticks = 0
	c.logger.Logf(log.DEBUG, "## (%d) timer interrupt", id)
	c.manager.SuspendCurrentAndRunNext()
}
