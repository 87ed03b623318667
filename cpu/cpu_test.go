package cpu

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisoputnfrba/tp-kernel/kernel/scheduler"
	"github.com/sisoputnfrba/tp-kernel/kernel/syscalls"
	"github.com/sisoputnfrba/tp-kernel/kernel/task"
	"github.com/sisoputnfrba/tp-kernel/kernel/timer"
	"github.com/sisoputnfrba/tp-kernel/memory"
	log "github.com/sisoputnfrba/tp-kernel/utils/logger"
)

func TestDecode(t *testing.T) {
	prog, err := Decode([]byte(`
# header comment
NOOP
mmap 0x10000000 4096 3   # lowercase works
STORE 0x10000000 "hi # there\n"
STORE 0x10000010 plain text
EXIT -2
EXIT
GOTO 0
SYSCALL 410 0x1000
`))
	require.NoError(t, err)
	require.Len(t, prog, 8)

	assert.Equal(t, NOOP, prog[0].Opcode)
	assert.Equal(t, 3, prog[0].Line)
	assert.Equal(t, []uint64{0x10000000, 4096, 3}, prog[1].Args)
	assert.Equal(t, "hi # there\n", string(prog[2].Data))
	assert.Equal(t, "plain text", string(prog[3].Data))
	assert.Equal(t, -2, int(int32(prog[4].Args[0])))
	assert.Equal(t, []uint64{0}, prog[5].Args)
	assert.Equal(t, []uint64{410, 0x1000}, prog[7].Args)
	assert.Equal(t, "MMAP 0x10000000 0x1000 0x3", prog[1].String())
}

func TestDecodeErrors(t *testing.T) {
	for name, src := range map[string]string{
		"unknown opcode":  "JUMP 3",
		"missing args":    "MMAP 0x1000 4096",
		"extra args":      "YIELD 1",
		"bad number":      "GET_TIME 0xzz",
		"goto past end":   "NOOP\nGOTO 2",
		"bad quote":       `STORE 0x1000 "open`,
		"store no data":   "STORE 0x1000",
		"syscall no args": "SYSCALL",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(src))
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

type call struct {
	id   uint64
	args [3]uint64
}

// fakeSys records traps and implements just enough of the kernel for exit,
// yield and a stop switch.
type fakeSys struct {
	m      *scheduler.Manager
	calls  []call
	stopAt int
}

var errStop = errors.New("stop")

func (f *fakeSys) Dispatch(id uint64, args [3]uint64) int64 {
	f.calls = append(f.calls, call{id, args})
	switch id {
	case syscalls.SyscallExit:
		f.m.ExitCurrentAndRunNext(int(int32(args[0])))
	case syscalls.SyscallYield:
		f.m.SuspendCurrentAndRunNext()
	}
	if f.stopAt > 0 && len(f.calls) == f.stopAt {
		f.m.Halt(errStop)
	}
	return 0
}

func boot(t *testing.T, timeSlice, stopAt int, sources ...string) (*scheduler.Manager, *fakeSys, error) {
	t.Helper()
	mem, err := memory.NewPhysicalMemory(memory.Config{MemorySize: 256 * 4096, PageSize: 4096, Levels: 3})
	require.NoError(t, err)
	mmu, err := memory.NewMMU(mem, 16)
	require.NoError(t, err)

	var programs []Program
	var tasks []*task.TaskControlBlock
	for i, src := range sources {
		prog, err := Decode([]byte(src))
		require.NoError(t, err)
		programs = append(programs, prog)
		tcb, err := task.NewTaskControlBlock(i, []byte(src), mmu, 1)
		require.NoError(t, err)
		tasks = append(tasks, tcb)
	}

	var c *CPU
	m := scheduler.NewManager(tasks, &timer.ManualClock{}, log.Discard(), func(id int) { c.Run(id) })
	sys := &fakeSys{m: m, stopAt: stopAt}
	c = New(m, mmu, sys, programs, timeSlice, log.Discard())

	errc := make(chan error, 1)
	go func() { errc <- m.RunFirstTask() }()
	select {
	case err = <-errc:
	case <-time.After(5 * time.Second):
		t.Fatal("kernel did not halt")
	}
	return m, sys, err
}

func ids(calls []call) []uint64 {
	out := make([]uint64, len(calls))
	for i, c := range calls {
		out[i] = c.id
	}
	return out
}

func TestTimerTrapsInterleaveTasks(t *testing.T) {
	m, sys, err := boot(t, 2, 0,
		"NOOP\nNOOP\nNOOP\nNOOP\nSYSCALL 7 1",
		"SYSCALL 8",
	)
	assert.ErrorIs(t, err, scheduler.ErrAllTasksCompleted)
	assert.Equal(t, []uint64{8, syscalls.SyscallExit, 7, syscalls.SyscallExit}, ids(sys.calls))
	assert.Equal(t, [3]uint64{1, 0, 0}, sys.calls[2].args)
	assert.Equal(t, []int{0, 1, 0, 0, 0}, m.Dispatches())
}

func TestSyscallArgumentsReachDispatcher(t *testing.T) {
	_, sys, err := boot(t, 0, 0, "MMAP 0x10000000 8192 3\nGET_TIME 0x10000ffc\nWRITE 1 0x10000000 5\nEXIT 4")
	assert.ErrorIs(t, err, scheduler.ErrAllTasksCompleted)
	assert.Equal(t, []call{
		{syscalls.SyscallMmap, [3]uint64{0x10000000, 8192, 3}},
		{syscalls.SyscallGetTime, [3]uint64{0x10000ffc, 0, 0}},
		{syscalls.SyscallWrite, [3]uint64{1, 0x10000000, 5}},
		{syscalls.SyscallExit, [3]uint64{4, 0, 0}},
	}, sys.calls)
}

func TestPageFaultKillsOnlyTheFaultingTask(t *testing.T) {
	m, sys, err := boot(t, 0, 0,
		`STORE 0x5000 "x"`,
		`STORE 0x10000 "x"`,
		"LOAD 0x10000 4\nSYSCALL 9",
	)
	assert.ErrorIs(t, err, scheduler.ErrAllTasksCompleted)
	assert.Equal(t, []uint64{9, syscalls.SyscallExit}, ids(sys.calls))

	for id, want := range []int{ExitPageFault, ExitPageFault, 0} {
		v, ok := m.Task(id)
		require.True(t, ok)
		assert.Equal(t, want, v.ExitCode, "task %d", id)
	}
}

func TestGotoLoopsUntilHalt(t *testing.T) {
	m, sys, err := boot(t, 0, 3, "SYSCALL 5\nGOTO 0")
	assert.ErrorIs(t, err, errStop)
	assert.Equal(t, []uint64{5, 5, 5}, ids(sys.calls))
	assert.True(t, m.Halted())
}
