package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisoputnfrba/tp-kernel/memory"
)

func newMMU(t *testing.T) *memory.MMU {
	t.Helper()
	mem, err := memory.NewPhysicalMemory(memory.Config{MemorySize: 64 * 4096, PageSize: 4096, Levels: 3})
	require.NoError(t, err)
	mmu, err := memory.NewMMU(mem, 8)
	require.NoError(t, err)
	return mmu
}

func TestTaskStatusString(t *testing.T) {
	assert.Equal(t, "UnInit", UnInit.String())
	assert.Equal(t, "Ready", Ready.String())
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "Exited", Exited.String())
	assert.Equal(t, "TaskStatus(9)", TaskStatus(9).String())
}

func TestNewTaskControlBlock(t *testing.T) {
	mmu := newMMU(t)
	tcb, err := NewTaskControlBlock(3, []byte("NOOP\nEXIT 0\n"), mmu, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, tcb.ID)
	assert.Equal(t, Ready, tcb.Status)
	assert.Equal(t, 1, tcb.StateCount[Ready])
	assert.False(t, tcb.Dispatched)

	tc := tcb.TrapContext()
	assert.Zero(t, tc.Sepc())
	assert.Equal(t, tcb.BaseSize, tc.Reg(RegSP))
	assert.Equal(t, uint64(SstatusSPIE), tc.Sstatus())

	mem := mmu.Memory()
	pte, ok := memory.FromToken(mem, tcb.UserToken()).Translate(mem.Floor(mem.TrapContextVA()))
	require.True(t, ok)
	assert.Equal(t, tcb.TrapCxPPN, pte.PPN())
	assert.False(t, pte.User(), "trap context is kernel-only")
}

func TestNewTaskControlBlockOutOfMemory(t *testing.T) {
	mmu := newMMU(t)
	_, err := NewTaskControlBlock(0, []byte("NOOP"), mmu, 1000)
	assert.ErrorIs(t, err, memory.ErrOutOfMemory)
	assert.Equal(t, mmu.Memory().TotalBytes(), mmu.Memory().FreeBytes())
}

func TestSetStatusAccountsTime(t *testing.T) {
	mmu := newMMU(t)
	tcb, err := NewTaskControlBlock(0, []byte("NOOP"), mmu, 1)
	require.NoError(t, err)

	assert.Equal(t, Ready, tcb.SetStatus(Running, 10))
	assert.Equal(t, Running, tcb.SetStatus(Ready, 25))
	tcb.SetStatus(Running, 30)
	tcb.SetStatus(Exited, 31)

	assert.Equal(t, uint64(10+5), tcb.StateTime[Ready])
	assert.Equal(t, uint64(15+1), tcb.StateTime[Running])
	assert.Equal(t, 2, tcb.StateCount[Running])
	assert.Equal(t, 1, tcb.StateCount[Exited])
}

func TestTrapContextRegisters(t *testing.T) {
	tc := NewTrapContext(make([]byte, 4096))
	tc.SetReg(0, 99)
	assert.Zero(t, tc.Reg(0))

	tc.SetReg(RegA7, 169)
	tc.SetReg(RegA0, 0x1000)
	tc.SetReg(RegA1, 2)
	tc.SetReg(RegA2, 3)
	tc.SetSepc(7)

	id, args := tc.SyscallArgs()
	assert.Equal(t, uint64(169), id)
	assert.Equal(t, [3]uint64{0x1000, 2, 3}, args)
	assert.Equal(t, uint64(7), tc.Sepc())

	tc.AppInit(0, 0x8000)
	assert.Zero(t, tc.Reg(RegA7))
	assert.Equal(t, uint64(0x8000), tc.Reg(RegSP))
}

func TestSwitchRunsOneGoroutineAtATime(t *testing.T) {
	halt := make(chan struct{})
	done := make(chan []string, 1)
	var trace []string
	var a, b *TaskContext

	a = NewTaskContext(func() {
		trace = append(trace, "a1")
		if !Switch(a, b, halt) {
			return
		}
		trace = append(trace, "a2")
		Handoff(b)
	})
	b = NewTaskContext(func() {
		trace = append(trace, "b1")
		if !Switch(b, a, halt) {
			return
		}
		trace = append(trace, "b2")
		done <- trace
	})

	Start(a)
	select {
	case got := <-done:
		assert.Equal(t, []string{"a1", "b1", "a2", "b2"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("tasks never finished")
	}
	assert.True(t, a.Started())
	assert.True(t, b.Started())
}

func TestParkedTaskStopsOnHalt(t *testing.T) {
	halt := make(chan struct{})
	stopped := make(chan bool, 1)
	idle := NewTaskContext(func() {})
	var a *TaskContext
	a = NewTaskContext(func() {
		stopped <- Switch(a, idle, halt)
	})

	Start(a)
	close(halt)
	select {
	case ok := <-stopped:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("parked task did not observe halt")
	}
}
