package display_test

import (
	"testing"

	"github.com/go-scanout/scanout/display"
	"github.com/stretchr/testify/require"
)

func TestPixelFormatPlaneCount(t *testing.T) {
	require.Equal(t, 0, display.FormatInvalid.PlaneCount())
	require.Equal(t, 1, display.FormatRGB565.PlaneCount())
	require.Equal(t, 1, display.FormatYUY2.PlaneCount())
	require.Equal(t, 2, display.FormatNV12.PlaneCount())
	require.Equal(t, 3, display.FormatI420.PlaneCount())
	require.Equal(t, 3, display.FormatY444.PlaneCount())

	require.False(t, display.FormatRGB565.IsPlanar())
	require.True(t, display.FormatI420.IsPlanar())

	require.False(t, display.FormatBGRx.IsYUV())
	require.True(t, display.FormatYUY2.IsYUV())
	require.True(t, display.FormatNV21.IsYUV())
}

func TestPixelFormatRowBytes(t *testing.T) {
	require.Equal(t, 1280, display.FormatRGB565.RowBytes(0, 640))
	require.Equal(t, 2560, display.FormatBGRx.RowBytes(0, 640))

	// Packed 4:2:2 rounds the trailing macropixel up
	require.Equal(t, 1280, display.FormatYUY2.RowBytes(0, 640))
	require.Equal(t, 1280, display.FormatYUY2.RowBytes(0, 639))

	require.Equal(t, 640, display.FormatI420.RowBytes(0, 640))
	require.Equal(t, 320, display.FormatI420.RowBytes(1, 640))
	require.Equal(t, 3, display.FormatI420.RowBytes(1, 5))

	// NV12 chroma rows interleave U and V
	require.Equal(t, 640, display.FormatNV12.RowBytes(1, 640))
}

func TestPixelFormatPlaneHeight(t *testing.T) {
	require.Equal(t, 480, display.FormatI420.PlaneHeight(0, 480))
	require.Equal(t, 240, display.FormatI420.PlaneHeight(1, 480))
	require.Equal(t, 3, display.FormatI420.PlaneHeight(1, 5))
	require.Equal(t, 480, display.FormatYUY2.PlaneHeight(0, 480))
}

func TestPixelFormatSupportsOddWidth(t *testing.T) {
	require.True(t, display.FormatRGB565.SupportsOddWidth())
	require.True(t, display.FormatYUY2.SupportsOddWidth())
	require.True(t, display.FormatY444.SupportsOddWidth())
	require.False(t, display.FormatI420.SupportsOddWidth())
	require.False(t, display.FormatNV12.SupportsOddWidth())
}

func TestPixelFormatPixelStep(t *testing.T) {
	x, y := display.FormatRGB565.PixelStep()
	require.Equal(t, [2]int{1, 1}, [2]int{x, y})

	x, y = display.FormatYUY2.PixelStep()
	require.Equal(t, [2]int{2, 1}, [2]int{x, y})

	x, y = display.FormatI420.PixelStep()
	require.Equal(t, [2]int{2, 2}, [2]int{x, y})

	x, y = display.FormatNV12.PixelStep()
	require.Equal(t, [2]int{2, 2}, [2]int{x, y})
}

func TestPixelFormatBytesPerPixel(t *testing.T) {
	require.Equal(t, 2, display.FormatRGB565.BytesPerPixel())
	require.Equal(t, 4, display.FormatBGRx.BytesPerPixel())
	require.Equal(t, 4, display.FormatAYUV.BytesPerPixel())

	// Packed macropixels and planar formats have no per-pixel byte count
	require.Equal(t, 0, display.FormatYUY2.BytesPerPixel())
	require.Equal(t, 0, display.FormatI420.BytesPerPixel())
}

func TestPixelFormatString(t *testing.T) {
	require.Equal(t, "FormatRGB565", display.FormatRGB565.String())
	require.Equal(t, "FormatNV12", display.FormatNV12.String())
	require.Equal(t, "unknown PixelFormat", display.PixelFormat(999).String())
}
