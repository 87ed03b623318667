// Package syscalls is the kernel's syscall surface. Every handler validates
// its arguments before touching any state and reports failure to user code
// as -1; errors only live on the kernel side, in the log.
package syscalls

import (
	"errors"
	"fmt"
	"io"

	"github.com/sisoputnfrba/tp-kernel/kernel/scheduler"
	"github.com/sisoputnfrba/tp-kernel/kernel/timer"
	"github.com/sisoputnfrba/tp-kernel/memory"
	log "github.com/sisoputnfrba/tp-kernel/utils/logger"
)

const (
	SyscallWrite       = 64
	SyscallExit        = 93
	SyscallYield       = 124
	SyscallSetPriority = 140
	SyscallGetTime     = 169
	SyscallMunmap      = 215
	SyscallMmap        = 222
	SyscallTaskInfo    = 410
)

const FdStdout = 1

var (
	ErrSplitRecord     = errors.New("record crosses a page boundary")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownSyscall  = errors.New("unknown syscall")
)

var names = map[uint64]string{
	SyscallWrite:       "write",
	SyscallExit:        "exit",
	SyscallYield:       "yield",
	SyscallSetPriority: "set_priority",
	SyscallGetTime:     "get_time",
	SyscallMunmap:      "munmap",
	SyscallMmap:        "mmap",
	SyscallTaskInfo:    "task_info",
}

// Name returns the syscall's name, or its number if it is unknown.
func Name(id uint64) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("syscall_%d", id)
}

type Syscalls struct {
	manager *scheduler.Manager
	mmu     *memory.MMU
	clock   timer.Clock
	console io.Writer
	logger  *log.LoggerStruct

	// With splitRecords off, get_time and task_info refuse a destination
	// that straddles a page boundary.
	splitRecords bool
}

func New(manager *scheduler.Manager, mmu *memory.MMU, clock timer.Clock, console io.Writer, logger *log.LoggerStruct, splitRecords bool) *Syscalls {
	return &Syscalls{
		manager:      manager,
		mmu:          mmu,
		clock:        clock,
		console:      console,
		logger:       logger,
		splitRecords: splitRecords,
	}
}

// Dispatch counts the call for the running task and routes it. Exit does
// not return.
func (s *Syscalls) Dispatch(id uint64, args [3]uint64) int64 {
	s.manager.CountSyscall(id)
	s.logger.Logf(log.DEBUG, "## (%d) Syscall %s", s.manager.CurrentID(), Name(id))

	switch id {
	case SyscallWrite:
		return s.Write(args[0], args[1], args[2])
	case SyscallExit:
		s.Exit(int(int32(args[0])))
		return 0 // not reached
	case SyscallYield:
		return s.Yield()
	case SyscallSetPriority:
		return s.SetPriority(int64(args[0]))
	case SyscallGetTime:
		return s.GetTime(args[0], args[1])
	case SyscallMunmap:
		return s.Munmap(args[0], args[1])
	case SyscallMmap:
		return s.Mmap(args[0], args[1], args[2])
	case SyscallTaskInfo:
		return s.TaskInfo(args[0])
	default:
		return s.fail(id, fmt.Errorf("%w: %d", ErrUnknownSyscall, id))
	}
}

func (s *Syscalls) fail(id uint64, err error) int64 {
	s.logger.Logf(log.ERROR, "## (%d) %s: %v", s.manager.CurrentID(), Name(id), err)
	return -1
}

// Exit ends the running task with code and never returns.
func (s *Syscalls) Exit(code int) {
	s.logger.Logf(log.INFO, "[kernel] Application exited with code %d", code)
	s.manager.ExitCurrentAndRunNext(code)
}

func (s *Syscalls) Yield() int64 {
	s.manager.SuspendCurrentAndRunNext()
	return 0
}

func (s *Syscalls) SetPriority(prio int64) int64 {
	return s.fail(SyscallSetPriority, fmt.Errorf("priority %d: %w", prio, errors.ErrUnsupported))
}

// Write copies len bytes at buf to the console. Only stdout is supported.
func (s *Syscalls) Write(fd, buf, length uint64) int64 {
	if fd != FdStdout {
		return s.fail(SyscallWrite, fmt.Errorf("%w: fd %d", ErrInvalidArgument, fd))
	}
	if length == 0 {
		return 0
	}
	ub, err := s.mmu.TranslatedByteBuffer(s.manager.CurrentUserToken(), buf, length, memory.Read)
	if err != nil {
		return s.fail(SyscallWrite, err)
	}
	for _, w := range ub.Buffers {
		if _, err := s.console.Write(w); err != nil {
			return s.fail(SyscallWrite, err)
		}
	}
	return int64(length)
}

// GetTime fills the TimeVal at ts with the time since boot. tz is ignored.
func (s *Syscalls) GetTime(ts, _ uint64) int64 {
	buf, err := s.recordBuffer(SyscallGetTime, ts, TimeValSize)
	if err != nil {
		return s.fail(SyscallGetTime, err)
	}
	if err := TimeValFromUS(s.clock.TimeUS()).Store(buf); err != nil {
		return s.fail(SyscallGetTime, err)
	}
	return 0
}

// TaskInfo fills the TaskInfo at ti for the running task.
func (s *Syscalls) TaskInfo(ti uint64) int64 {
	buf, err := s.recordBuffer(SyscallTaskInfo, ti, TaskInfoSize)
	if err != nil {
		return s.fail(SyscallTaskInfo, err)
	}
	info := &TaskInfo{
		Status:       s.manager.CurrentStatus(),
		SyscallTimes: s.manager.CurrentSyscallCounts(),
		Time:         s.manager.CurrentElapsedTime(),
	}
	if err := info.Store(buf); err != nil {
		return s.fail(SyscallTaskInfo, err)
	}
	return 0
}

// recordBuffer translates a writable destination for a record of size
// bytes at va and applies the split-record policy.
func (s *Syscalls) recordBuffer(id, va uint64, size int) (memory.UserBuffer, error) {
	buf, err := s.mmu.TranslatedByteBuffer(s.manager.CurrentUserToken(), va, uint64(size), memory.Write)
	if err != nil {
		return buf, err
	}
	if buf.Split() {
		if !s.splitRecords {
			return memory.UserBuffer{}, fmt.Errorf("%w: %s at %#x", ErrSplitRecord, Name(id), va)
		}
		s.logger.Logf(log.WARN, "## (%d) %s record at %#x spans %d pages", s.manager.CurrentID(), Name(id), va, len(buf.Buffers))
	}
	return buf, nil
}

// Mmap maps len bytes at start with the permissions in port (R=1, W=2,
// X=4). start must be page aligned, len non-zero and port must grant
// something and use no other bits.
func (s *Syscalls) Mmap(start, length, port uint64) int64 {
	if port&^0x7 != 0 || port&0x7 == 0 {
		return s.fail(SyscallMmap, fmt.Errorf("%w: port %#x", ErrInvalidArgument, port))
	}
	if err := s.manager.Mmap(start, length, memory.PermissionFromPort(port)); err != nil {
		return s.fail(SyscallMmap, err)
	}
	return 0
}

func (s *Syscalls) Munmap(start, length uint64) int64 {
	if err := s.manager.Munmap(start, length); err != nil {
		return s.fail(SyscallMunmap, err)
	}
	return 0
}
