package task

import "encoding/binary"

// Register numbers used by the syscall convention.
const (
	RegSP = 2
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17
)

const (
	offSstatus      = 32 * 8
	offSepc         = offSstatus + 8
	TrapContextSize = offSepc + 8

	// SstatusSPIE re-enables interrupts on return to user mode.
	SstatusSPIE = 1 << 5
)

// TrapContext is a view over the bytes of a trap context page: 32 general
// registers, sstatus and sepc, little-endian.
type TrapContext struct {
	frame []byte
}

func NewTrapContext(frame []byte) TrapContext {
	return TrapContext{frame: frame[:TrapContextSize]}
}

func (tc TrapContext) Reg(i int) uint64 {
	return binary.LittleEndian.Uint64(tc.frame[i*8:])
}

// SetReg writes x[i]. x0 is hardwired to zero.
func (tc TrapContext) SetReg(i int, v uint64) {
	if i == 0 {
		return
	}
	binary.LittleEndian.PutUint64(tc.frame[i*8:], v)
}

func (tc TrapContext) Sstatus() uint64 {
	return binary.LittleEndian.Uint64(tc.frame[offSstatus:])
}

func (tc TrapContext) SetSstatus(v uint64) {
	binary.LittleEndian.PutUint64(tc.frame[offSstatus:], v)
}

// Sepc is the index of the next user instruction.
func (tc TrapContext) Sepc() uint64 {
	return binary.LittleEndian.Uint64(tc.frame[offSepc:])
}

func (tc TrapContext) SetSepc(v uint64) {
	binary.LittleEndian.PutUint64(tc.frame[offSepc:], v)
}

// SyscallArgs returns the id in a7 and the arguments in a0..a2.
func (tc TrapContext) SyscallArgs() (uint64, [3]uint64) {
	return tc.Reg(RegA7), [3]uint64{tc.Reg(RegA0), tc.Reg(RegA1), tc.Reg(RegA2)}
}

// AppInit clears the frame for a fresh task entering user mode at entry.
func (tc TrapContext) AppInit(entry, sp uint64) {
	clear(tc.frame[:TrapContextSize])
	tc.SetSstatus(SstatusSPIE)
	tc.SetSepc(entry)
	tc.SetReg(RegSP, sp)
}
