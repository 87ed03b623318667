// Package task defines the task control block and the two contexts a task
// carries: the kernel-side switch context and the user trap frame.
package task

import (
	"fmt"

	"github.com/sisoputnfrba/tp-kernel/memory"
)

type TaskStatus int

const (
	UnInit TaskStatus = iota
	Ready
	Running
	Exited
)

var statusNames = [...]string{"UnInit", "Ready", "Running", "Exited"}

func (s TaskStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
	return statusNames[s]
}

// MaxSyscallNum bounds the syscall ids that get counted.
const MaxSyscallNum = 500

type TaskControlBlock struct {
	ID           int
	Status       TaskStatus
	Context      *TaskContext
	MemorySet    *memory.MemorySet
	TrapCxPPN    memory.PPN
	BaseSize     uint64 // user stack top
	SyscallTimes [MaxSyscallNum]uint32
	DispatchTime uint64 // ms, set on first dispatch
	Dispatched   bool
	ExitCode     int

	// Times each state was entered and ms spent in it.
	StateCount map[TaskStatus]int
	StateTime  map[TaskStatus]uint64
	enteredAt  uint64
}

// NewTaskControlBlock builds the address space of image and prepares the
// trap frame so that the first return to user mode starts at instruction 0
// with sp at the top of the user stack.
func NewTaskControlBlock(id int, image []byte, mmu *memory.MMU, stackPages int) (*TaskControlBlock, error) {
	ms, stackTop, err := memory.FromImage(mmu, image, stackPages)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", id, err)
	}
	mem := mmu.Memory()
	pte, ok := ms.Translate(mem.Floor(mem.TrapContextVA()))
	if !ok {
		ms.Recycle()
		return nil, fmt.Errorf("task %d: trap context page: %w", id, memory.ErrUnmappedPage)
	}

	t := &TaskControlBlock{
		ID:         id,
		Status:     UnInit,
		MemorySet:  ms,
		TrapCxPPN:  pte.PPN(),
		BaseSize:   stackTop,
		StateCount: make(map[TaskStatus]int),
		StateTime:  make(map[TaskStatus]uint64),
	}
	t.TrapContext().AppInit(0, stackTop)
	t.SetStatus(Ready, 0)
	return t, nil
}

// TrapContext is the trap frame living in the task's trap context page.
func (t *TaskControlBlock) TrapContext() TrapContext {
	return NewTrapContext(t.MemorySet.MMU().Memory().Frame(t.TrapCxPPN))
}

func (t *TaskControlBlock) UserToken() uint64 {
	return t.MemorySet.Token()
}

// SetStatus moves the task to s at time now (ms), updating the per-state
// counters. It returns the previous status.
func (t *TaskControlBlock) SetStatus(s TaskStatus, now uint64) TaskStatus {
	prev := t.Status
	if t.StateCount[prev] > 0 && now >= t.enteredAt {
		t.StateTime[prev] += now - t.enteredAt
	}
	t.StateCount[s]++
	t.Status = s
	t.enteredAt = now
	return prev
}
