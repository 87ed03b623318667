// Package scheduler implements the round-robin task manager. It owns the
// task table and decides which task runs next; the switch itself is done by
// task.Switch once the table lock has been released.
package scheduler

import (
	"errors"
	"io"
	"runtime"
	"sync"

	"github.com/sasha-s/go-deadlock"

	"github.com/sisoputnfrba/tp-kernel/kernel/task"
	"github.com/sisoputnfrba/tp-kernel/kernel/timer"
	"github.com/sisoputnfrba/tp-kernel/memory"
	log "github.com/sisoputnfrba/tp-kernel/utils/logger"
)

var ErrAllTasksCompleted = errors.New("all applications completed")

type Manager struct {
	mu         deadlock.Mutex
	tasks      []*task.TaskControlBlock
	current    int
	dispatches []int

	clock  timer.Clock
	logger *log.LoggerStruct

	halt     chan struct{}
	haltOnce sync.Once
	err      error
}

// NewManager takes ownership of tasks. Each task's goroutine runs entry with
// the task id the first time the task is dispatched.
func NewManager(tasks []*task.TaskControlBlock, clock timer.Clock, logger *log.LoggerStruct, entry func(id int)) *Manager {
	m := &Manager{
		tasks:   tasks,
		clock:   clock,
		logger:  logger,
		halt:    make(chan struct{}),
		current: -1,
	}
	for _, t := range tasks {
		id := t.ID
		t.Context = task.NewTaskContext(func() { entry(id) })
	}
	return m
}

func (m *Manager) NumTasks() int { return len(m.tasks) }

// RunFirstTask dispatches task 0 and blocks until the kernel halts. It
// returns the halt reason: ErrAllTasksCompleted on a normal shutdown.
func (m *Manager) RunFirstTask() error {
	m.mu.Lock()
	if len(m.tasks) == 0 {
		m.mu.Unlock()
		m.Halt(ErrAllTasksCompleted)
		return m.Err()
	}
	first := m.tasks[0]
	m.dispatch(0)
	m.mu.Unlock()

	task.Start(first.Context)
	<-m.halt
	return m.Err()
}

// SuspendCurrent marks the running task Ready.
func (m *Manager) SuspendCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStatus(m.tasks[m.current], task.Ready)
}

// ExitCurrent marks the running task Exited with code and releases its
// address space.
func (m *Manager) ExitCurrent(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.tasks[m.current]
	cur.ExitCode = code
	m.setStatus(cur, task.Exited)
	cur.MemorySet.Recycle()
}

// Schedule gives the CPU to the next Ready task after the current one. If
// the current task is still alive the call returns when it is dispatched
// again; if it has exited, or the kernel halts, the call never returns.
func (m *Manager) Schedule() {
	m.mu.Lock()
	cur := m.tasks[m.current]
	next, ok := m.findNextTask()
	if !ok || m.Halted() {
		m.mu.Unlock()
		if !ok {
			m.logger.Log("[kernel] All applications completed!", log.INFO)
			m.Halt(ErrAllTasksCompleted)
		}
		runtime.Goexit()
	}
	m.dispatch(next)
	exited := cur.Status == task.Exited
	curCx, nextCx := cur.Context, m.tasks[next].Context
	m.mu.Unlock()

	if exited {
		task.Handoff(nextCx)
		runtime.Goexit()
	}
	if !task.Switch(curCx, nextCx, m.halt) {
		runtime.Goexit()
	}
}

func (m *Manager) SuspendCurrentAndRunNext() {
	m.SuspendCurrent()
	m.Schedule()
}

// ExitCurrentAndRunNext never returns.
func (m *Manager) ExitCurrentAndRunNext(code int) {
	m.ExitCurrent(code)
	m.Schedule()
}

// findNextTask scans current+1 .. current+N round robin and returns the
// first Ready task. The current task itself is the last candidate.
func (m *Manager) findNextTask() (int, bool) {
	n := len(m.tasks)
	for i := m.current + 1; i <= m.current+n; i++ {
		id := i % n
		if m.tasks[id].Status == task.Ready {
			return id, true
		}
	}
	return 0, false
}

func (m *Manager) dispatch(id int) {
	t := m.tasks[id]
	m.setStatus(t, task.Running)
	if !t.Dispatched {
		t.Dispatched = true
		t.DispatchTime = m.clock.TimeMS()
	}
	m.current = id
	m.dispatches = append(m.dispatches, id)
}

func (m *Manager) setStatus(t *task.TaskControlBlock, s task.TaskStatus) {
	prev := t.SetStatus(s, m.clock.TimeMS())
	m.logger.Logf(log.INFO, "## (%d) State change %s -> %s", t.ID, prev, s)
}

// Halt stops the kernel with err. Only the first call has an effect.
func (m *Manager) Halt(err error) {
	m.haltOnce.Do(func() {
		m.err = err
		close(m.halt)
		if !errors.Is(err, ErrAllTasksCompleted) {
			m.logger.Logf(log.WARN, "[kernel] halted: %v", err)
		}
	})
}

func (m *Manager) Halted() bool {
	select {
	case <-m.halt:
		return true
	default:
		return false
	}
}

// Done is closed when the kernel halts.
func (m *Manager) Done() <-chan struct{} { return m.halt }

// Err returns the halt reason, or nil while the kernel is running.
func (m *Manager) Err() error {
	if !m.Halted() {
		return nil
	}
	return m.err
}

func (m *Manager) CurrentID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) CurrentStatus() task.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[m.current].Status
}

func (m *Manager) CurrentUserToken() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[m.current].UserToken()
}

func (m *Manager) CurrentTrapContext() task.TrapContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[m.current].TrapContext()
}

// CurrentSyscallCounts returns a copy of the running task's counters.
func (m *Manager) CurrentSyscallCounts() [task.MaxSyscallNum]uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[m.current].SyscallTimes
}

// CurrentElapsedTime is the ms since the running task was first dispatched.
func (m *Manager) CurrentElapsedTime() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[m.current]
	now := m.clock.TimeMS()
	if now < t.DispatchTime {
		return 0
	}
	return now - t.DispatchTime
}

// CountSyscall records one call of id for the running task. Ids at or above
// MaxSyscallNum are not counted.
func (m *Manager) CountSyscall(id uint64) {
	if id >= task.MaxSyscallNum {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[m.current].SyscallTimes[id]++
}

func (m *Manager) Mmap(start, length uint64, perm memory.MapPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[m.current].MemorySet.Mmap(start, length, perm)
}

func (m *Manager) Munmap(start, length uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[m.current].MemorySet.Munmap(start, length)
}

// Dispatches is the order in which tasks were given the CPU.
func (m *Manager) Dispatches() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.dispatches...)
}

// DumpCurrent writes the running task's mapped pages to w.
func (m *Manager) DumpCurrent(w io.Writer) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[m.current].MemorySet.Dump(w)
}
