package memory

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mmapBase = 0x1000_0000

func newMappedSet(t *testing.T, pages int, perm MapPermission) (*MMU, *MemorySet) {
	t.Helper()
	mmu := newTestMMU(t)
	ms, err := NewMemorySet(mmu)
	require.NoError(t, err)
	require.NoError(t, ms.Mmap(mmapBase, uint64(pages*testPage), perm))
	return mmu, ms
}

func TestTranslatedByteBufferSinglePage(t *testing.T) {
	mmu, ms := newMappedSet(t, 1, PermR|PermW|PermU)

	buf, err := mmu.TranslatedByteBuffer(ms.Token(), mmapBase+16, 16, Write)
	require.NoError(t, err)
	require.Len(t, buf.Buffers, 1)
	assert.False(t, buf.Split())
	assert.Equal(t, 16, buf.Len())
}

func TestTranslatedByteBufferStraddlesTwoPages(t *testing.T) {
	mmu, ms := newMappedSet(t, 2, PermR|PermW|PermU)
	va := uint64(mmapBase + testPage - 8)
	payload := []byte("0123456789abcdef")

	buf, err := mmu.TranslatedByteBuffer(ms.Token(), va, uint64(len(payload)), Write)
	require.NoError(t, err)
	require.Len(t, buf.Buffers, 2)
	assert.Len(t, buf.Buffers[0], 8)
	assert.Len(t, buf.Buffers[1], 8)

	n, err := buf.WriteAt(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	back, err := mmu.TranslatedByteBuffer(ms.Token(), va, uint64(len(payload)), Read)
	require.NoError(t, err)
	assert.Equal(t, payload, back.Bytes())
	assert.Equal(t, payload, append(append([]byte{}, back.Buffers[0]...), back.Buffers[1]...))
}

func TestTranslatedByteBufferNonContiguousFrames(t *testing.T) {
	mmu := newTestMMU(t)
	ms, err := NewMemorySet(mmu)
	require.NoError(t, err)

	// Map the two pages separately with a foreign allocation in between so
	// their frames are not adjacent.
	require.NoError(t, ms.Mmap(mmapBase, testPage, PermR|PermW|PermU))
	_, err = mmu.Memory().AllocFrame()
	require.NoError(t, err)
	require.NoError(t, ms.Mmap(mmapBase+testPage, testPage, PermR|PermW|PermU))

	p0, _ := ms.Translate(mmu.Memory().Floor(mmapBase))
	p1, _ := ms.Translate(mmu.Memory().Floor(mmapBase + testPage))
	require.NotEqual(t, p0.PPN()+1, p1.PPN())

	va := uint64(mmapBase + testPage - 4)
	buf, err := mmu.TranslatedByteBuffer(ms.Token(), va, 16, Write)
	require.NoError(t, err)
	require.Len(t, buf.Buffers, 2)
	assert.Len(t, buf.Buffers[0], 4)
	assert.Len(t, buf.Buffers[1], 12)

	require.NoError(t, buf.PutUint64(0, 0x1122334455667788))
	require.NoError(t, buf.PutUint64(8, 42))

	frame0 := mmu.Memory().Frame(p0.PPN())
	frame1 := mmu.Memory().Frame(p1.PPN())
	raw := append(append([]byte{}, frame0[testPage-4:]...), frame1[:12]...)
	assert.Equal(t, []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, 42, 0, 0, 0, 0, 0, 0, 0}, raw)
}

func TestTranslatedByteBufferThreePages(t *testing.T) {
	mmu, ms := newMappedSet(t, 3, PermR|PermW|PermU)

	buf, err := mmu.TranslatedByteBuffer(ms.Token(), mmapBase+testPage-1, testPage+2, Read)
	require.NoError(t, err)
	require.Len(t, buf.Buffers, 3)
	assert.Len(t, buf.Buffers[0], 1)
	assert.Len(t, buf.Buffers[1], testPage)
	assert.Len(t, buf.Buffers[2], 1)
}

func TestTranslatedByteBufferFailures(t *testing.T) {
	mmu, ms := newMappedSet(t, 1, PermR|PermU)

	_, err := mmu.TranslatedByteBuffer(ms.Token(), mmapBase, 0, Read)
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = mmu.TranslatedByteBuffer(ms.Token(), mmapBase, 8, Write)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = mmu.TranslatedByteBuffer(ms.Token(), mmapBase+testPage-4, 8, Read)
	assert.ErrorIs(t, err, ErrUnmappedPage, "second page is not mapped")

	_, err = mmu.TranslatedByteBuffer(ms.Token(), mmu.Memory().MaxVA()-4, 8, Read)
	assert.ErrorIs(t, err, ErrUnmappedPage)

	trap := mmu.Memory().TrapContextVA()
	require.NoError(t, ms.insertFramed(mmu.Memory().Floor(trap), mmu.Memory().Floor(trap)+1, PermR|PermW, AreaTrapContext, nil))
	_, err = mmu.TranslatedByteBuffer(ms.Token(), trap, 8, Read)
	assert.ErrorIs(t, err, ErrPermissionDenied, "kernel-only page")
}

func TestTLBDoesNotServeStaleEntries(t *testing.T) {
	mmu, ms := newMappedSet(t, 1, PermR|PermW|PermU)

	_, err := mmu.TranslatedByteBuffer(ms.Token(), mmapBase, 8, Read)
	require.NoError(t, err)
	assert.Equal(t, 1, mmu.TLBLen())

	require.NoError(t, ms.Munmap(mmapBase, testPage))
	assert.Zero(t, mmu.TLBLen())
	_, err = mmu.TranslatedByteBuffer(ms.Token(), mmapBase, 8, Read)
	assert.ErrorIs(t, err, ErrUnmappedPage)
}

func TestTLBDisabled(t *testing.T) {
	mem, err := NewPhysicalMemory(testConfig())
	require.NoError(t, err)
	mmu, err := NewMMU(mem, 0)
	require.NoError(t, err)
	ms, err := NewMemorySet(mmu)
	require.NoError(t, err)
	require.NoError(t, ms.Mmap(mmapBase, testPage, PermR|PermU))

	_, err = mmu.TranslatedByteBuffer(ms.Token(), mmapBase, 8, Read)
	require.NoError(t, err)
	assert.Zero(t, mmu.TLBLen())
}

func TestUserBufferReadWriteBounds(t *testing.T) {
	buf := UserBuffer{Buffers: [][]byte{make([]byte, 3), make([]byte, 5)}}

	n, err := buf.WriteAt([]byte("abcdefghij"), 0)
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte("abcdefgh"), buf.Bytes())

	out := make([]byte, 4)
	n, err = buf.ReadAt(out, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("cdef"), out)

	_, err = buf.ReadAt(out, 6)
	assert.ErrorIs(t, err, io.EOF)

	_, err = buf.WriteAt([]byte("x"), -1)
	assert.Error(t, err)
}

func TestUserBufferFieldsStraddleWindows(t *testing.T) {
	buf := UserBuffer{Buffers: [][]byte{make([]byte, 6), make([]byte, 10)}}

	require.NoError(t, buf.PutUint32(4, 0xdeadbeef))
	require.NoError(t, buf.PutUint64(8, 0x0102030405060708))

	v32, err := buf.Uint32(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), v32)
	v64, err := buf.Uint64(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), v64)

	assert.True(t, bytes.Equal([]byte{0xef, 0xbe}, buf.Buffers[0][4:6]))
	assert.Error(t, buf.PutUint64(12, 1), "field runs past the range")
}
