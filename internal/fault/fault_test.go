package fault

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmkern/internal/blockdev"
	"vmkern/internal/defs"
	"vmkern/internal/frametab"
	"vmkern/internal/metrics"
	"vmkern/internal/mmu"
	"vmkern/internal/spt"
	"vmkern/internal/swap"
	"vmkern/internal/vfile"
)

type stubEvictor struct{}

func (stubEvictor) Evict(*frametab.Frame) defs.Err_t { return defs.OUT_OF_MEMORY }

func newResolver(t *testing.T, capacity int) (*Resolver, *spt.Table) {
	t.Helper()
	sectorSize := 512
	dev := blockdev.NewMemDevice(sectorSize, 64)
	sptTbl := spt.New()
	frames := frametab.New(capacity, nil)
	frames.SetEvictor(stubEvictor{})
	dir := mmu.NewSimDirectory()
	swapMgr := swap.New(dev, nil)
	return &Resolver{
		SPT: sptTbl, Frames: frames, Swap: swapMgr, Dir: dir,
		Metrics: metrics.NewRegistry(prometheus.NewRegistry()), Owner: 1,
	}, sptTbl
}

func TestResolveRejectsNonUserAddress(t *testing.T) {
	r, _ := newResolver(t, 4)
	outcome, err := r.Resolve(defs.PhysBase, false, defs.PhysBase)
	assert.Equal(t, Terminated, outcome)
	assert.Equal(t, defs.EFAULT, err)
}

func TestResolveRejectsWriteToReadOnlyMapping(t *testing.T) {
	r, sptTbl := newResolver(t, 4)
	var backing []byte
	f := vfile.NewMemFile(&backing)
	_, cerr := sptTbl.CreateFileBacked(1, 0x1000, f, false, 0, 0, spt.Executable, -1)
	require.Equal(t, defs.Err_t(0), cerr)

	outcome, err := r.Resolve(0x1000, true, 0x1000)
	assert.Equal(t, Terminated, outcome)
	assert.Equal(t, defs.EFAULT, err)
}

func TestResolveLoadsFileBackedPage(t *testing.T) {
	r, sptTbl := newResolver(t, 4)
	data := make([]byte, defs.PageSize)
	data[0] = 'H'
	f := vfile.NewMemFile(&data)
	entry, cerr := sptTbl.CreateFileBacked(1, 0x1000, f, true, 0, defs.PageSize, spt.FileMapped, 0)
	require.Equal(t, defs.Err_t(0), cerr)

	outcome, err := r.Resolve(0x1000, false, 0x1000)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, ResolvedFileLoad, outcome)
	assert.True(t, entry.Resident())

	fr, ok := r.Frames.Get(entry.FrameIdx)
	require.True(t, ok)
	assert.Equal(t, byte('H'), fr.Data[0])
}

func TestResolveStackGrowthWithinWindow(t *testing.T) {
	r, sptTbl := newResolver(t, 4)
	sp := defs.PhysBase - 100
	va := sp - 4

	outcome, err := r.Resolve(va, true, sp)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, ResolvedStackGrowth, outcome)
	_, ok := sptTbl.Lookup(va)
	assert.True(t, ok)
}

func TestResolveOutsideStackWindowTerminates(t *testing.T) {
	r, _ := newResolver(t, 4)
	sp := defs.PhysBase - 100
	va := sp - 1000

	outcome, err := r.Resolve(va, true, sp)
	assert.Equal(t, Terminated, outcome)
	assert.Equal(t, defs.EFAULT, err)
}

func TestResolveSwapRoundTrip(t *testing.T) {
	r, sptTbl := newResolver(t, 4)
	entry, cerr := sptTbl.CreateAnonymous(1, 0x5000, true)
	require.Equal(t, defs.Err_t(0), cerr)

	slot, werr := r.Swap.WritePage(bytesOf('K'))
	require.NoError(t, werr)
	entry.SwapSlot = int64(slot)
	entry.HasSwapSlot = true

	outcome, err := r.Resolve(0x5000, false, 0x5000)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, ResolvedSwapIn, outcome)
	assert.False(t, entry.HasSwapSlot)

	fr, ok := r.Frames.Get(entry.FrameIdx)
	require.True(t, ok)
	assert.Equal(t, byte('K'), fr.Data[0])
}

func bytesOf(b byte) []byte {
	buf := make([]byte, defs.PageSize)
	buf[0] = b
	return buf
}
