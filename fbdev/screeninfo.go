package fbdev

import (
	"github.com/cockroachdb/errors"
	"github.com/go-scanout/scanout/display"
)

// ioctl request numbers from the framebuffer uapi
const (
	fbioGetVarInfo   = 0x4600
	fbioPutVarInfo   = 0x4601
	fbioGetFixedInfo = 0x4602
	fbioPanDisplay   = 0x4606
	fbioWaitForVsync = 0x40044620

	fbActivateNow = 0
)

type bitField struct {
	Offset   uint32
	Length   uint32
	MSBRight uint32
}

// varScreenInfo mirrors struct fb_var_screeninfo: the device state that
// userspace may change
type varScreenInfo struct {
	XRes         uint32
	YRes         uint32
	XResVirtual  uint32
	YResVirtual  uint32
	XOffset      uint32
	YOffset      uint32
	BitsPerPixel uint32
	Grayscale    uint32
	Red          bitField
	Green        bitField
	Blue         bitField
	Transp       bitField
	NonStd       uint32
	Activate     uint32
	Height       uint32
	Width        uint32
	AccelFlags   uint32
	PixClock     uint32
	LeftMargin   uint32
	RightMargin  uint32
	UpperMargin  uint32
	LowerMargin  uint32
	HSyncLen     uint32
	VSyncLen     uint32
	Sync         uint32
	VMode        uint32
	Rotate       uint32
	Colorspace   uint32
	Reserved     [4]uint32
}

// fixScreenInfo mirrors struct fb_fix_screeninfo: the device properties that
// are fixed while it is open
type fixScreenInfo struct {
	ID           [16]byte
	SMemStart    uintptr
	SMemLen      uint32
	Type         uint32
	TypeAux      uint32
	Visual       uint32
	XPanStep     uint16
	YPanStep     uint16
	YWrapStep    uint16
	LineLength   uint32
	MMIOStart    uintptr
	MMIOLen      uint32
	Accel        uint32
	Capabilities uint16
	Reserved     [2]uint16
}

// formatForLayout maps the device's reported bit layout onto a PixelFormat
func formatForLayout(v *varScreenInfo) (display.PixelFormat, error) {
	switch v.BitsPerPixel {
	case 16:
		if v.Red.Offset == 11 && v.Red.Length == 5 &&
			v.Green.Offset == 5 && v.Green.Length == 6 &&
			v.Blue.Offset == 0 && v.Blue.Length == 5 {
			return display.FormatRGB565, nil
		}
	case 32:
		if v.Red.Offset == 16 && v.Red.Length == 8 &&
			v.Green.Offset == 8 && v.Green.Length == 8 &&
			v.Blue.Offset == 0 && v.Blue.Length == 8 {
			if v.Transp.Length == 8 {
				return display.FormatBGRA, nil
			}
			return display.FormatBGRx, nil
		}
	}

	return display.FormatInvalid, errors.Newf(
		"the device scans out an unsupported pixel layout: %d bpp, red %d/%d, green %d/%d, blue %d/%d",
		v.BitsPerPixel,
		v.Red.Offset, v.Red.Length,
		v.Green.Offset, v.Green.Length,
		v.Blue.Offset, v.Blue.Length)
}

// screenInfoFromRaw assembles the geometry the session consumes out of the
// kernel's two info structs
func screenInfoFromRaw(fix *fixScreenInfo, v *varScreenInfo) (display.ScreenInfo, error) {
	format, err := formatForLayout(v)
	if err != nil {
		return display.ScreenInfo{}, err
	}

	return display.ScreenInfo{
		Width:         int(v.XRes),
		Height:        int(v.YRes),
		VirtualWidth:  int(v.XResVirtual),
		VirtualHeight: int(v.YResVirtual),
		Format:        format,
		Pitch:         int(fix.LineLength),
		MemorySize:    int(fix.SMemLen),
	}, nil
}

// panOffsets converts a byte offset into the mapped region to the coordinate
// pair the pan ioctl wants. The offset must land on a pixel boundary.
func panOffsets(offsetBytes, pitch, bytesPerPixel int) (xOffset, yOffset uint32, err error) {
	if offsetBytes < 0 {
		return 0, 0, errors.Newf("cannot pan to the negative offset %d", offsetBytes)
	}

	remainder := offsetBytes % pitch
	if remainder%bytesPerPixel != 0 {
		return 0, 0, errors.Newf(
			"offset %d does not land on a pixel boundary (pitch %d, %d bytes per pixel)",
			offsetBytes, pitch, bytesPerPixel)
	}

	return uint32(remainder / bytesPerPixel), uint32(offsetBytes / pitch), nil
}
