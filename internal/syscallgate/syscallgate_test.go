package syscallgate

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmkern/internal/defs"
	"vmkern/internal/fault"
	"vmkern/internal/frametab"
	"vmkern/internal/metrics"
	"vmkern/internal/mmu"
	"vmkern/internal/spt"
	"vmkern/internal/vfile"
)

func newGate(t *testing.T, capacity int) (*Gate, *spt.Table) {
	t.Helper()
	sptTbl := spt.New()
	frames := frametab.New(capacity, nil)
	dir := mmu.NewSimDirectory()
	resolver := &fault.Resolver{
		SPT: sptTbl, Frames: frames, Dir: dir, Owner: 1,
		Metrics: metrics.NewRegistry(prometheus.NewRegistry()),
	}
	return &Gate{SPT: sptTbl, Frames: frames, Dir: dir, Resolver: resolver}, sptTbl
}

func TestValidateRejectsNullAndKernelPointers(t *testing.T) {
	g, _ := newGate(t, 4)
	sp := defs.PhysBase - 4096

	_, err := g.Validate(0, 8, false, sp)
	assert.Equal(t, defs.EFAULT, err)

	_, err = g.Validate(defs.PhysBase, 8, false, sp)
	assert.Equal(t, defs.EFAULT, err)
}

func TestValidateMaterializesMissingPageOnDemand(t *testing.T) {
	g, sptTbl := newGate(t, 4)
	sp := defs.PhysBase - 4096
	va := sp - 4

	span, err := g.Validate(va, 4, true, sp)
	require.Equal(t, defs.Err_t(0), err)
	require.NotNil(t, span)
	defer span.Unpin()

	_, ok := sptTbl.Lookup(va)
	assert.True(t, ok)
	assert.Len(t, span.frames, 1)
}

func TestValidateRejectsWriteToReadOnlyPage(t *testing.T) {
	g, sptTbl := newGate(t, 4)
	var backing []byte
	f := vfile.NewMemFile(&backing)
	_, cerr := sptTbl.CreateFileBacked(1, 0x2000, f, false, 0, 0, spt.Executable, -1)
	require.Equal(t, defs.Err_t(0), cerr)

	_, err := g.Validate(0x2000, 4, true, 0x2000)
	assert.Equal(t, defs.EFAULT, err)
}

func TestValidateUnwindsPinsOnMidSpanFailure(t *testing.T) {
	g, sptTbl := newGate(t, 4)
	data := make([]byte, defs.PageSize)
	f := vfile.NewMemFile(&data)
	_, cerr := sptTbl.CreateFileBacked(1, 0x1000, f, true, 0, defs.PageSize, spt.FileMapped, 0)
	require.Equal(t, defs.Err_t(0), cerr)

	// Span covers the valid first page and a second page with no SPT entry
	// that isn't stack growth either, which must fail resolution and leave
	// the first page's frame resident but unpinned again.
	n := defs.PageSize + 1
	_, err := g.Validate(0x1000, n, false, 0x1000)
	assert.Equal(t, defs.EFAULT, err)
	assert.Equal(t, 1, g.Frames.Len())
}

func TestByteAtAndSetByteAtRoundTrip(t *testing.T) {
	g, _ := newGate(t, 4)
	sp := defs.PhysBase - 4096
	va := sp - 4

	span, err := g.Validate(va, 4, true, sp)
	require.Equal(t, defs.Err_t(0), err)
	defer span.Unpin()

	span.SetByteAt(va, 0x42)
	assert.Equal(t, byte(0x42), span.ByteAt(va))
	assert.True(t, g.Dir.IsDirty(defs.PageAlign(va)))
}

func TestConsoleReadWritesExactlyNBytes(t *testing.T) {
	g, _ := newGate(t, 4)
	sp := defs.PhysBase - 4096
	buf := sp - 8

	source := []byte{1, 2, 3, 4}
	i := 0
	n, err := g.ConsoleRead(buf, len(source), sp, func() byte {
		b := source[i]
		i++
		return b
	})
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, len(source), n)

	span, verr := g.Validate(buf, len(source), false, sp)
	require.Equal(t, defs.Err_t(0), verr)
	defer span.Unpin()
	for idx, want := range source {
		assert.Equal(t, want, span.ByteAt(buf+uintptr(idx)))
	}
}
