package vidmem_test

import (
	"testing"

	"github.com/go-scanout/scanout/vidmem"
	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, vidmem.AlignUp(0, 8))
	require.Equal(t, 8, vidmem.AlignUp(1, 8))
	require.Equal(t, 16, vidmem.AlignUp(13, 8))
	require.Equal(t, 16, vidmem.AlignUp(16, 8))
	require.Equal(t, 13, vidmem.AlignUp(13, 1))
	require.Equal(t, 4096, vidmem.AlignUp(1, 4096))
}

func TestAlignDown(t *testing.T) {
	require.Equal(t, 0, vidmem.AlignDown(0, 8))
	require.Equal(t, 0, vidmem.AlignDown(7, 8))
	require.Equal(t, 8, vidmem.AlignDown(13, 8))
	require.Equal(t, 16, vidmem.AlignDown(16, 8))
	require.Equal(t, 13, vidmem.AlignDown(13, 1))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, vidmem.CheckPow2(uint(1), "alignment"))
	require.NoError(t, vidmem.CheckPow2(uint(2), "alignment"))
	require.NoError(t, vidmem.CheckPow2(uint(4096), "alignment"))

	err := vidmem.CheckPow2(uint(3), "alignment")
	require.Error(t, err)
	require.ErrorIs(t, err, vidmem.PowerOfTwoError)

	require.Error(t, vidmem.CheckPow2(uint(1280), "pitch"))
}

func TestLargestDivisorPow2(t *testing.T) {
	// 640x480 RGB565: pitch 1280 = 2^8 * 5
	require.Equal(t, uint(256), vidmem.LargestDivisorPow2(1280, 4096))

	// 1920x1080 BGRx: pitch 7680 = 2^9 * 15
	require.Equal(t, uint(512), vidmem.LargestDivisorPow2(7680, 4096))

	// Page-multiple pitches cap at the maximum
	require.Equal(t, uint(4096), vidmem.LargestDivisorPow2(3*4096, 4096))

	// Odd pitches can only be byte-aligned
	require.Equal(t, uint(1), vidmem.LargestDivisorPow2(1281, 4096))
}
