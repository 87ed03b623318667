package scheduler

import (
	"fmt"
	"strconv"

	"github.com/sisoputnfrba/tp-kernel/kernel/task"
	"github.com/sisoputnfrba/tp-kernel/utils/views"
)

// Snapshot returns a view of every task, taken under the table lock.
func (m *Manager) Snapshot() []views.TaskView {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]views.TaskView, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, taskView(t))
	}
	return out
}

// Task returns the view of one task.
func (m *Manager) Task(id int) (views.TaskView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id >= len(m.tasks) {
		return views.TaskView{}, false
	}
	return taskView(m.tasks[id]), true
}

func (m *Manager) SchedulerView() views.SchedulerView {
	m.mu.Lock()
	v := views.SchedulerView{
		Current:    m.current,
		Dispatches: append([]int{}, m.dispatches...),
	}
	m.mu.Unlock()

	if err := m.Err(); err != nil {
		v.Halted = true
		v.Reason = err.Error()
	}
	return v
}

func taskView(t *task.TaskControlBlock) views.TaskView {
	v := views.TaskView{
		ID:           t.ID,
		Status:       t.Status.String(),
		ExitCode:     t.ExitCode,
		Dispatched:   t.Dispatched,
		DispatchTime: t.DispatchTime,
		StateCount:   make(map[string]int, len(t.StateCount)),
		StateTime:    make(map[string]uint64, len(t.StateTime)),
		MappedPages:  t.MemorySet.MappedPages(),
	}
	for id, n := range t.SyscallTimes {
		if n == 0 {
			continue
		}
		if v.Syscalls == nil {
			v.Syscalls = make(map[string]uint32)
		}
		v.Syscalls[strconv.Itoa(id)] = n
	}
	for s, n := range t.StateCount {
		v.StateCount[s.String()] = n
	}
	for s, ms := range t.StateTime {
		v.StateTime[s.String()] = ms
	}

	mem := t.MemorySet.MMU().Memory()
	for _, a := range t.MemorySet.Areas() {
		v.Areas = append(v.Areas, views.AreaView{
			Start: fmt.Sprintf("%#x", mem.VA(a.Start)),
			End:   fmt.Sprintf("%#x", mem.VA(a.End)),
			Pages: int(a.End - a.Start),
			Perm:  a.Perm.String(),
			Kind:  a.Kind.String(),
		})
	}
	return v
}

