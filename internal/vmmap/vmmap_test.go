package vmmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmkern/internal/defs"
	"vmkern/internal/frametab"
	"vmkern/internal/mmu"
	"vmkern/internal/spt"
	"vmkern/internal/vfile"
)

const stackFloor = defs.PhysBase - defs.MaxStackSize

func TestMmapRejectsLowFD(t *testing.T) {
	sptTbl := spt.New()
	mm := New()
	data := make([]byte, defs.PageSize)
	f := vfile.NewMemFile(&data)

	id, err := Mmap(sptTbl, mm, 1, 1, f, 0x10000000, stackFloor)
	assert.Equal(t, defs.MapFailed, id)
	assert.Equal(t, defs.EINVAL, err)
}

func TestMmapRejectsMisalignedAddr(t *testing.T) {
	sptTbl := spt.New()
	mm := New()
	data := make([]byte, defs.PageSize)
	f := vfile.NewMemFile(&data)

	id, err := Mmap(sptTbl, mm, 1, 2, f, 0x4, stackFloor)
	assert.Equal(t, defs.MapFailed, id)
	assert.Equal(t, defs.EINVAL, err)
	assert.Equal(t, 0, sptTbl.Len())
}

func TestMmapRejectsZeroLengthFile(t *testing.T) {
	sptTbl := spt.New()
	mm := New()
	var empty []byte
	f := vfile.NewMemFile(&empty)

	id, err := Mmap(sptTbl, mm, 1, 2, f, 0x10000000, stackFloor)
	assert.Equal(t, defs.MapFailed, id)
	assert.Equal(t, defs.EINVAL, err)
}

func TestMmapRejectsStackIntrusion(t *testing.T) {
	sptTbl := spt.New()
	mm := New()
	data := make([]byte, defs.PageSize)
	f := vfile.NewMemFile(&data)

	id, err := Mmap(sptTbl, mm, 1, 2, f, stackFloor, stackFloor)
	assert.Equal(t, defs.MapFailed, id)
	assert.Equal(t, defs.EINVAL, err)
	assert.Equal(t, 0, sptTbl.Len())
}

func TestMmapSuccessCreatesOnePagePerEntry(t *testing.T) {
	sptTbl := spt.New()
	mm := New()
	data := make([]byte, 3*defs.PageSize-10)
	f := vfile.NewMemFile(&data)

	id, err := Mmap(sptTbl, mm, 1, 2, f, 0x10000000, stackFloor)
	require.Equal(t, defs.Err_t(0), err)
	require.GreaterOrEqual(t, id, 0)

	desc, ok := mm.Get(id)
	require.True(t, ok)
	assert.Len(t, desc.Entries, 3)
	assert.Equal(t, defs.PageSize, desc.Entries[2].File.ZeroBytes+desc.Entries[2].File.ReadBytes)
	assert.Equal(t, 3, sptTbl.Len())
}

func TestMunmapWritesBackDirtyPagesAndFreesResources(t *testing.T) {
	sptTbl := spt.New()
	mm := New()
	frames := frametab.New(8, nil)
	dir := mmu.NewSimDirectory()
	data := make([]byte, defs.PageSize)
	f := vfile.NewMemFile(&data)

	id, err := Mmap(sptTbl, mm, 1, 2, f, 0x10000000, stackFloor)
	require.Equal(t, defs.Err_t(0), err)

	desc, _ := mm.Get(id)
	entry := desc.Entries[0]
	fr, ferr := frames.Acquire(1, entry.Vaddr, dir, entry)
	require.Equal(t, defs.Err_t(0), ferr)
	dir.Install(entry.Vaddr, uintptr(fr.ID), true)
	entry.FrameIdx = fr.ID
	frames.Unpin(fr)
	fr.Data[0] = 'Q'
	dir.SetDirty(entry.Vaddr, true)

	merr := Munmap(sptTbl, mm, frames, dir, nil, id)
	require.Equal(t, defs.Err_t(0), merr)

	assert.Equal(t, byte('Q'), data[0])
	assert.Equal(t, 0, sptTbl.Len())
	assert.Equal(t, 0, frames.Len())
	_, ok := mm.Get(id)
	assert.False(t, ok)
}

func TestMunmapMissingIDFails(t *testing.T) {
	sptTbl := spt.New()
	mm := New()
	frames := frametab.New(8, nil)
	dir := mmu.NewSimDirectory()

	err := Munmap(sptTbl, mm, frames, dir, nil, 999)
	assert.Equal(t, defs.EINVAL, err)
}
