package vmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMin(t *testing.T) {
	assert.Equal(t, 3, Min(3, 5))
	assert.Equal(t, 3, Min(5, 3))
	assert.Equal(t, uintptr(0), Min(uintptr(0), uintptr(4096)))
}

func TestRounddown(t *testing.T) {
	assert.Equal(t, uintptr(0x1000), Rounddown(uintptr(0x1fff), uintptr(0x1000)))
	assert.Equal(t, uintptr(0x2000), Rounddown(uintptr(0x2000), uintptr(0x1000)))
}

func TestRoundup(t *testing.T) {
	assert.Equal(t, uintptr(0x2000), Roundup(uintptr(0x1001), uintptr(0x1000)))
	assert.Equal(t, uintptr(0x1000), Roundup(uintptr(0x1000), uintptr(0x1000)))
	assert.Equal(t, int64(8192), Roundup(int64(8000), int64(4096)))
}
