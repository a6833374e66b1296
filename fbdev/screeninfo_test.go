package fbdev

import (
	"testing"

	"github.com/go-scanout/scanout/display"
	"github.com/stretchr/testify/require"
)

func TestFormatForLayoutRGB565(t *testing.T) {
	v := &varScreenInfo{
		BitsPerPixel: 16,
		Red:          bitField{Offset: 11, Length: 5},
		Green:        bitField{Offset: 5, Length: 6},
		Blue:         bitField{Offset: 0, Length: 5},
	}

	format, err := formatForLayout(v)
	require.NoError(t, err)
	require.Equal(t, display.FormatRGB565, format)
}

func TestFormatForLayout32Bit(t *testing.T) {
	v := &varScreenInfo{
		BitsPerPixel: 32,
		Red:          bitField{Offset: 16, Length: 8},
		Green:        bitField{Offset: 8, Length: 8},
		Blue:         bitField{Offset: 0, Length: 8},
	}

	format, err := formatForLayout(v)
	require.NoError(t, err)
	require.Equal(t, display.FormatBGRx, format)

	v.Transp = bitField{Offset: 24, Length: 8}
	format, err = formatForLayout(v)
	require.NoError(t, err)
	require.Equal(t, display.FormatBGRA, format)
}

func TestFormatForLayoutUnsupported(t *testing.T) {
	// 24bpp packed RGB has no scanout format here
	_, err := formatForLayout(&varScreenInfo{
		BitsPerPixel: 24,
		Red:          bitField{Offset: 16, Length: 8},
		Green:        bitField{Offset: 8, Length: 8},
		Blue:         bitField{Offset: 0, Length: 8},
	})
	require.Error(t, err)

	// BGR565 byte order is not RGB565
	_, err = formatForLayout(&varScreenInfo{
		BitsPerPixel: 16,
		Red:          bitField{Offset: 0, Length: 5},
		Green:        bitField{Offset: 5, Length: 6},
		Blue:         bitField{Offset: 11, Length: 5},
	})
	require.Error(t, err)
}

func TestScreenInfoFromRaw(t *testing.T) {
	fix := &fixScreenInfo{
		SMemLen:    8 * 1024 * 1024,
		LineLength: 1280,
	}
	v := &varScreenInfo{
		XRes:         640,
		YRes:         480,
		XResVirtual:  640,
		YResVirtual:  960,
		BitsPerPixel: 16,
		Red:          bitField{Offset: 11, Length: 5},
		Green:        bitField{Offset: 5, Length: 6},
		Blue:         bitField{Offset: 0, Length: 5},
	}

	info, err := screenInfoFromRaw(fix, v)
	require.NoError(t, err)
	require.Equal(t, display.ScreenInfo{
		Width:         640,
		Height:        480,
		VirtualWidth:  640,
		VirtualHeight: 960,
		Format:        display.FormatRGB565,
		Pitch:         1280,
		MemorySize:    8 * 1024 * 1024,
	}, info)
}

func TestPanOffsets(t *testing.T) {
	x, y, err := panOffsets(0, 1280, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(0), x)
	require.Equal(t, uint32(0), y)

	// A whole-scanline offset pans purely vertically
	x, y, err = panOffsets(480*1280, 1280, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(0), x)
	require.Equal(t, uint32(480), y)

	// Mid-scanline offsets pan horizontally by pixels
	x, y, err = panOffsets(1280+4, 1280, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(2), x)
	require.Equal(t, uint32(1), y)

	_, _, err = panOffsets(1281, 1280, 2)
	require.Error(t, err)

	_, _, err = panOffsets(-1, 1280, 2)
	require.Error(t, err)
}
