package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverlaysPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vmkerneld.yaml")
	require.NoError(t, os.WriteFile(path, []byte("frame_pool_capacity: 128\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.FramePoolCapacity)
	assert.Equal(t, Default().SwapDevicePath, cfg.SwapDevicePath)
}

func TestLoadMissingFileReturnsDefaultAndError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidateRejectsNonPositiveFields(t *testing.T) {
	cases := []Config{
		{FramePoolCapacity: 0, SwapSectorSize: 512, SwapSectorCount: 1, MaxStackSize: 1},
		{FramePoolCapacity: 1, SwapSectorSize: 0, SwapSectorCount: 1, MaxStackSize: 1},
		{FramePoolCapacity: 1, SwapSectorSize: 512, SwapSectorCount: 0, MaxStackSize: 1},
		{FramePoolCapacity: 1, SwapSectorSize: 512, SwapSectorCount: 1, MaxStackSize: 0},
	}
	for _, c := range cases {
		assert.Error(t, c.Validate())
	}
}
