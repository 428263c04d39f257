package frametab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmkern/internal/defs"
	"vmkern/internal/mmu"
)

// noEvict is an Evictor that always fails, for tests that expect pool
// exhaustion to surface as an error rather than actually evicting.
type noEvict struct{}

func (noEvict) Evict(*Frame) defs.Err_t { return defs.OUT_OF_MEMORY }

func TestAcquireFillsCapacityThenFails(t *testing.T) {
	tbl := New(2, nil)
	tbl.SetEvictor(noEvict{})
	dir := mmu.NewSimDirectory()

	f1, err := tbl.Acquire(1, 0x1000, dir, nil)
	require.Equal(t, defs.Err_t(0), err)
	require.NotNil(t, f1)
	f2, err := tbl.Acquire(1, 0x2000, dir, nil)
	require.Equal(t, defs.Err_t(0), err)
	require.NotNil(t, f2)

	_, err = tbl.Acquire(1, 0x3000, dir, nil)
	assert.Equal(t, defs.OUT_OF_MEMORY, err)
}

// reclaimEvict evicts unconditionally, simulating a policy layer that
// always manages to free its victim's resources.
type reclaimEvict struct{}

func (reclaimEvict) Evict(f *Frame) defs.Err_t { return 0 }

func TestAcquireEvictsWhenFull(t *testing.T) {
	tbl := New(1, nil)
	tbl.SetEvictor(reclaimEvict{})
	dir := mmu.NewSimDirectory()

	f1, err := tbl.Acquire(1, 0x1000, dir, nil)
	require.Equal(t, defs.Err_t(0), err)
	dir.Install(0x1000, uintptr(f1.ID), true)
	tbl.Unpin(f1)
	oldID := f1.ID

	f2, err := tbl.Acquire(1, 0x2000, dir, nil)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 1, tbl.Len())
	assert.NotEqual(t, oldID, f2.ID)
}

func TestSelectVictimSkipsPinnedAndClearsAccessed(t *testing.T) {
	tbl := New(2, nil)
	dir := mmu.NewSimDirectory()

	f1, err := tbl.Acquire(1, 0x1000, dir, nil)
	require.Equal(t, defs.Err_t(0), err)
	dir.Install(0x1000, uintptr(f1.ID), true)
	tbl.Unpin(f1)

	f2, err := tbl.Acquire(1, 0x2000, dir, nil)
	require.Equal(t, defs.Err_t(0), err)
	dir.Install(0x2000, uintptr(f2.ID), true)
	// f2 stays pinned, so only f1 is eligible.

	dir.SetAccessed(0x1000, true)

	evicted := false
	evictor := evictorFunc(func(f *Frame) defs.Err_t {
		evicted = true
		assert.Equal(t, f1.ID, f.ID)
		return 0
	})
	tbl.SetEvictor(evictor)

	_, err = tbl.Acquire(1, 0x3000, dir, nil)
	require.Equal(t, defs.Err_t(0), err)
	assert.True(t, evicted)
}

type evictorFunc func(*Frame) defs.Err_t

func (f evictorFunc) Evict(fr *Frame) defs.Err_t { return f(fr) }

func TestRemove(t *testing.T) {
	tbl := New(2, nil)
	dir := mmu.NewSimDirectory()
	f1, err := tbl.Acquire(1, 0x1000, dir, nil)
	require.Equal(t, defs.Err_t(0), err)

	tbl.Remove(f1)
	assert.Equal(t, 0, tbl.Len())
	_, ok := tbl.Get(f1.ID)
	assert.False(t, ok)
}
