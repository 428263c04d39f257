package swap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmkern/internal/blockdev"
	"vmkern/internal/defs"
)

func newTestManager(t *testing.T, slots int64) *Manager {
	t.Helper()
	sectorSize := 512
	sectorsPerPage := int64(defs.PageSize) / int64(sectorSize)
	dev := blockdev.NewMemDevice(sectorSize, slots*sectorsPerPage)
	return New(dev, nil)
}

func TestSwapRoundTrip(t *testing.T) {
	m := newTestManager(t, 4)
	page := make([]byte, defs.PageSize)
	for i := range page {
		page[i] = byte(i % 251)
	}

	slot, err := m.WritePage(page)
	require.NoError(t, err)

	got := make([]byte, defs.PageSize)
	require.NoError(t, m.ReadPage(slot, got))
	assert.Equal(t, page, got)

	m.Free(slot)
	assert.Equal(t, int64(4), m.SlotCount())
}

func TestSwapFullReturnsSentinel(t *testing.T) {
	m := newTestManager(t, 2)
	page := make([]byte, defs.PageSize)

	_, err := m.WritePage(page)
	require.NoError(t, err)
	_, err = m.WritePage(page)
	require.NoError(t, err)

	_, err = m.WritePage(page)
	assert.Equal(t, defs.SWAP_FULL, err)
}

func TestSwapFreeThenReallocate(t *testing.T) {
	m := newTestManager(t, 1)
	page := make([]byte, defs.PageSize)

	slot, err := m.WritePage(page)
	require.NoError(t, err)
	m.Free(slot)

	slot2, err := m.WritePage(page)
	require.NoError(t, err)
	assert.Equal(t, slot, slot2)
}

func TestNewPanicsOnMissingDevice(t *testing.T) {
	assert.Panics(t, func() {
		New(nil, nil)
	})
}
