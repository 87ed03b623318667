package task

// TaskContext is the kernel side of a task: the goroutine that runs it and
// the channel it parks on while another task holds the CPU. The goroutine is
// started by the first wake-up, which plays the part of the first return to
// user mode.
type TaskContext struct {
	resume  chan struct{}
	started bool
	entry   func()
}

func NewTaskContext(entry func()) *TaskContext {
	return &TaskContext{resume: make(chan struct{}, 1), entry: entry}
}

func (c *TaskContext) wake() {
	if !c.started {
		c.started = true
		go c.entry()
		return
	}
	c.resume <- struct{}{}
}

// park blocks until the context is woken again. It reports false if halt
// was closed first.
func (c *TaskContext) park(halt <-chan struct{}) bool {
	select {
	case <-c.resume:
		return true
	case <-halt:
		return false
	}
}

// Started reports whether the task's goroutine has been launched.
func (c *TaskContext) Started() bool { return c.started }

// Start hands the CPU to next from a context that is not a task.
func Start(next *TaskContext) {
	next.wake()
}

// Switch hands the CPU from cur to next and blocks until cur is scheduled
// again. It returns false if halt closed while cur was parked; the caller
// must then stop running.
func Switch(cur, next *TaskContext, halt <-chan struct{}) bool {
	if cur == next {
		return true
	}
	next.wake()
	return cur.park(halt)
}

// Handoff hands the CPU to next without parking. Used by a task that will
// never run again.
func Handoff(next *TaskContext) {
	next.wake()
}
