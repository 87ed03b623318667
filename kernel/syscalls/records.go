package syscalls

import (
	"github.com/sisoputnfrba/tp-kernel/kernel/task"
	"github.com/sisoputnfrba/tp-kernel/memory"
)

// TimeVal is the record filled by get_time.
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

const TimeValSize = 16

func TimeValFromUS(us uint64) TimeVal {
	return TimeVal{Sec: us / 1_000_000, Usec: us % 1_000_000}
}

// Store writes the record one field at a time, so a record split across
// pages lands in both.
func (tv TimeVal) Store(buf memory.UserBuffer) error {
	if err := buf.PutUint64(0, tv.Sec); err != nil {
		return err
	}
	return buf.PutUint64(8, tv.Usec)
}

func LoadTimeVal(buf memory.UserBuffer) (TimeVal, error) {
	var tv TimeVal
	var err error
	if tv.Sec, err = buf.Uint64(0); err != nil {
		return tv, err
	}
	tv.Usec, err = buf.Uint64(8)
	return tv, err
}

// TaskInfo is the record filled by task_info.
type TaskInfo struct {
	Status       task.TaskStatus
	SyscallTimes [task.MaxSyscallNum]uint32
	Time         uint64 // ms since first dispatch
}

const (
	taskInfoTimes = 4
	taskInfoTime  = taskInfoTimes + task.MaxSyscallNum*4 + 4 // aligned to 8
	TaskInfoSize  = taskInfoTime + 8
)

func (ti *TaskInfo) Store(buf memory.UserBuffer) error {
	if err := buf.PutUint32(0, uint32(ti.Status)); err != nil {
		return err
	}
	for i, n := range ti.SyscallTimes {
		if err := buf.PutUint32(taskInfoTimes+4*i, n); err != nil {
			return err
		}
	}
	return buf.PutUint64(taskInfoTime, ti.Time)
}

func LoadTaskInfo(buf memory.UserBuffer) (*TaskInfo, error) {
	ti := new(TaskInfo)
	status, err := buf.Uint32(0)
	if err != nil {
		return nil, err
	}
	ti.Status = task.TaskStatus(status)
	for i := range ti.SyscallTimes {
		if ti.SyscallTimes[i], err = buf.Uint32(taskInfoTimes + 4*i); err != nil {
			return nil, err
		}
	}
	if ti.Time, err = buf.Uint64(taskInfoTime); err != nil {
		return nil, err
	}
	return ti, nil
}
