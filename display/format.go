package display

// PixelFormat identifies the memory layout of a frame. Packed RGB formats are
// what framebuffer devices scan out directly; the YUV formats appear when a
// hardware overlay is in play.
type PixelFormat uint32

const (
	FormatInvalid PixelFormat = iota
	// FormatRGB565 is 16-bit packed RGB
	FormatRGB565
	// FormatBGRx is 32-bit packed RGB with a dead byte
	FormatBGRx
	// FormatBGRA is 32-bit packed RGB with alpha
	FormatBGRA
	// FormatYUY2 is packed 4:2:2 YUV, Y0 U0 Y1 V0 byte order
	FormatYUY2
	// FormatUYVY is packed 4:2:2 YUV, U0 Y0 V0 Y1 byte order
	FormatUYVY
	// FormatAYUV is packed 4:4:4 YUV with alpha
	FormatAYUV
	// FormatY444 is planar 4:4:4 YUV
	FormatY444
	// FormatI420 is planar 4:2:0 YUV, U plane before V
	FormatI420
	// FormatYV12 is planar 4:2:0 YUV, V plane before U
	FormatYV12
	// FormatNV12 is biplanar 4:2:0 YUV with interleaved UV
	FormatNV12
	// FormatNV21 is biplanar 4:2:0 YUV with interleaved VU
	FormatNV21
)

var pixelFormatMapping = map[PixelFormat]string{
	FormatInvalid: "FormatInvalid",
	FormatRGB565:  "FormatRGB565",
	FormatBGRx:    "FormatBGRx",
	FormatBGRA:    "FormatBGRA",
	FormatYUY2:    "FormatYUY2",
	FormatUYVY:    "FormatUYVY",
	FormatAYUV:    "FormatAYUV",
	FormatY444:    "FormatY444",
	FormatI420:    "FormatI420",
	FormatYV12:    "FormatYV12",
	FormatNV12:    "FormatNV12",
	FormatNV21:    "FormatNV21",
}

func (f PixelFormat) String() string {
	str, ok := pixelFormatMapping[f]
	if !ok {
		return "unknown PixelFormat"
	}

	return str
}

// planeSpec describes one plane of a format. Samples are grouped into blocks
// so that packed 4:2:2 formats, whose smallest addressable unit covers two
// pixels, can share the row math with everything else.
type planeSpec struct {
	horizontalSub  int
	verticalSub    int
	pixelsPerBlock int
	bytesPerBlock  int
}

var formatPlanes = map[PixelFormat][]planeSpec{
	FormatRGB565: {{1, 1, 1, 2}},
	FormatBGRx:   {{1, 1, 1, 4}},
	FormatBGRA:   {{1, 1, 1, 4}},
	FormatYUY2:   {{1, 1, 2, 4}},
	FormatUYVY:   {{1, 1, 2, 4}},
	FormatAYUV:   {{1, 1, 1, 4}},
	FormatY444:   {{1, 1, 1, 1}, {1, 1, 1, 1}, {1, 1, 1, 1}},
	FormatI420:   {{1, 1, 1, 1}, {2, 2, 1, 1}, {2, 2, 1, 1}},
	FormatYV12:   {{1, 1, 1, 1}, {2, 2, 1, 1}, {2, 2, 1, 1}},
	FormatNV12:   {{1, 1, 1, 1}, {2, 2, 1, 2}},
	FormatNV21:   {{1, 1, 1, 1}, {2, 2, 1, 2}},
}

// PlaneCount returns the number of memory planes the format occupies
func (f PixelFormat) PlaneCount() int {
	return len(formatPlanes[f])
}

// IsPlanar returns true for formats that spread a frame across more than one plane
func (f PixelFormat) IsPlanar() bool {
	return f.PlaneCount() > 1
}

// IsYUV returns true for formats in a YUV color space
func (f PixelFormat) IsYUV() bool {
	switch f {
	case FormatYUY2, FormatUYVY, FormatAYUV, FormatY444, FormatI420, FormatYV12, FormatNV12, FormatNV21:
		return true
	}
	return false
}

// SupportsOddWidth returns false for formats whose chroma planes subsample
// horizontally across separate planes. Hardware cannot address half a chroma
// sample, so those formats only accept even source widths.
func (f PixelFormat) SupportsOddWidth() bool {
	for _, plane := range formatPlanes[f] {
		if plane.horizontalSub > 1 {
			return false
		}
	}
	return true
}

// RowBytes returns the unpadded number of bytes in one row of the given plane
// for a frame width pixels across
func (f PixelFormat) RowBytes(plane, width int) int {
	spec := formatPlanes[f][plane]
	samples := (width + spec.horizontalSub - 1) / spec.horizontalSub
	blocks := (samples + spec.pixelsPerBlock - 1) / spec.pixelsPerBlock
	return blocks * spec.bytesPerBlock
}

// PlaneHeight returns the number of rows in the given plane for a frame
// height pixels tall
func (f PixelFormat) PlaneHeight(plane, height int) int {
	spec := formatPlanes[f][plane]
	return (height + spec.verticalSub - 1) / spec.verticalSub
}

// PixelStep returns the smallest horizontal and vertical pixel counts that
// keep every plane of the format block-aligned. Copy origins snap to these.
func (f PixelFormat) PixelStep() (x, y int) {
	x, y = 1, 1
	for _, spec := range formatPlanes[f] {
		if step := spec.horizontalSub * spec.pixelsPerBlock; step > x {
			x = step
		}
		if spec.verticalSub > y {
			y = spec.verticalSub
		}
	}
	return x, y
}

// BytesPerPixel returns the packed pixel stride for single-plane formats and 0
// for planar formats, which have no single per-pixel byte count
func (f PixelFormat) BytesPerPixel() int {
	planes := formatPlanes[f]
	if len(planes) != 1 || planes[0].pixelsPerBlock != 1 {
		return 0
	}
	return planes[0].bytesPerBlock
}
