package memory

import (
	"encoding/binary"
	"errors"
	"io"
)

var errNegativeOffset = errors.New("negative offset")

// UserBuffer is a virtually contiguous user range seen as the ordered
// physical windows that back it, one per page touched.
type UserBuffer struct {
	Buffers [][]byte
}

func (b UserBuffer) Len() int {
	n := 0
	for _, w := range b.Buffers {
		n += len(w)
	}
	return n
}

// Split reports whether the range crosses at least one page boundary.
func (b UserBuffer) Split() bool {
	return len(b.Buffers) > 1
}

// Bytes copies the windows out, in order.
func (b UserBuffer) Bytes() []byte {
	out := make([]byte, 0, b.Len())
	for _, w := range b.Buffers {
		out = append(out, w...)
	}
	return out
}

// WriteAt copies p into the range starting at off, moving on to the next
// window whenever one fills up.
func (b UserBuffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errNegativeOffset
	}
	n := b.walk(p, off, func(window, chunk []byte) { copy(window, chunk) })
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (b UserBuffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errNegativeOffset
	}
	n := b.walk(p, off, func(window, chunk []byte) { copy(chunk, window) })
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b UserBuffer) walk(p []byte, off int64, move func(window, chunk []byte)) int {
	done := 0
	for _, w := range b.Buffers {
		if done == len(p) {
			break
		}
		if off >= int64(len(w)) {
			off -= int64(len(w))
			continue
		}
		window := w[off:]
		off = 0
		n := min(len(window), len(p)-done)
		move(window[:n], p[done:done+n])
		done += n
	}
	return done
}

// PutUint32 stores v little-endian at off, splitting it across windows when
// the field straddles a page boundary.
func (b UserBuffer) PutUint32(off int, v uint32) error {
	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], v)
	_, err := b.WriteAt(field[:], int64(off))
	return err
}

func (b UserBuffer) PutUint64(off int, v uint64) error {
	var field [8]byte
	binary.LittleEndian.PutUint64(field[:], v)
	_, err := b.WriteAt(field[:], int64(off))
	return err
}

func (b UserBuffer) Uint32(off int) (uint32, error) {
	var field [4]byte
	if _, err := b.ReadAt(field[:], int64(off)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(field[:]), nil
}

func (b UserBuffer) Uint64(off int) (uint64, error) {
	var field [8]byte
	if _, err := b.ReadAt(field[:], int64(off)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(field[:]), nil
}
