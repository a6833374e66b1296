package display

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// FrameData is frame content in process memory, as handed over for
// presentation: pixel data plus the layout locating each plane within it
type FrameData struct {
	Format PixelFormat
	Width  int
	Height int
	Planes []PlaneLayout
	Bytes  []byte
}

// NewFrameData builds a tightly packed frame: no row padding, planes laid
// back to back
func NewFrameData(format PixelFormat, width, height int) *FrameData {
	planes, size := layoutPlanes(format, width, height, AlignmentSpec{}.withDefaults())

	return &FrameData{
		Format: format,
		Width:  width,
		Height: height,
		Planes: planes,
		Bytes:  make([]byte, size),
	}
}

// PlaneBytes returns the memory of a single plane
func (f *FrameData) PlaneBytes(planeIndex int) []byte {
	plane := f.Planes[planeIndex]
	return f.Bytes[plane.Offset : plane.Offset+plane.Size() : plane.Offset+plane.Size()]
}

// stagingPool recycles the frames used to repack content into a surface
// layout, so steady-state presentation does not allocate
var stagingPool = sync.Pool{
	New: func() any {
		return &FrameData{}
	},
}

// AcquireStagingFrame returns a pooled, tightly packed frame for the format
// and size, growing its backing memory only when the last use was smaller
func AcquireStagingFrame(format PixelFormat, width, height int) *FrameData {
	frame := stagingPool.Get().(*FrameData)

	planes, size := layoutPlanes(format, width, height, AlignmentSpec{}.withDefaults())
	frame.Format = format
	frame.Width = width
	frame.Height = height
	frame.Planes = planes
	if cap(frame.Bytes) < size {
		frame.Bytes = make([]byte, size)
	}
	frame.Bytes = frame.Bytes[:size]

	return frame
}

// ReleaseStagingFrame hands a frame back for reuse. The frame must not be
// accessed afterward.
func ReleaseStagingFrame(frame *FrameData) {
	stagingPool.Put(frame)
}

// CopyCentered copies the frame into the surface a plane at a time, centering
// content smaller than the surface and clipping content larger than it. The
// copy origin snaps to the format's pixel step so chroma planes stay aligned
// with luma. Formats must match.
func CopyCentered(dst *Surface, src *FrameData) error {
	if src.Format != dst.Format() {
		return errors.Newf("cannot copy a %s frame into a %s surface", src.Format, dst.Format())
	}

	copyWidth := src.Width
	if dst.Width() < copyWidth {
		copyWidth = dst.Width()
	}
	copyHeight := src.Height
	if dst.Height() < copyHeight {
		copyHeight = dst.Height()
	}

	stepX, stepY := src.Format.PixelStep()
	dstX := (dst.Width() - copyWidth) / 2
	dstX -= dstX % stepX
	dstY := (dst.Height() - copyHeight) / 2
	dstY -= dstY % stepY

	format := src.Format
	for planeIndex := range src.Planes {
		srcBytes := src.PlaneBytes(planeIndex)
		dstBytes := dst.PlaneBytes(planeIndex)
		srcStride := src.Planes[planeIndex].Stride
		dstStride := dst.Plane(planeIndex).Stride

		rowBytes := format.RowBytes(planeIndex, copyWidth)
		originBytes := format.RowBytes(planeIndex, dstX)
		rows := format.PlaneHeight(planeIndex, copyHeight)
		originRows := format.PlaneHeight(planeIndex, dstY)

		for row := 0; row < rows; row++ {
			dstStart := (originRows+row)*dstStride + originBytes
			srcStart := row * srcStride
			copy(dstBytes[dstStart:dstStart+rowBytes], srcBytes[srcStart:srcStart+rowBytes])
		}
	}

	return nil
}

// Repack copies the frame into the surface row by row, translating the
// frame's strides into the surface's. Used when scanout demands a layout the
// producer did not deliver. Sizes and formats must match.
func Repack(dst *Surface, src *FrameData) error {
	if src.Format != dst.Format() || src.Width != dst.Width() || src.Height != dst.Height() {
		return errors.Newf("cannot repack a %dx%d %s frame into a %dx%d %s surface",
			src.Width, src.Height, src.Format, dst.Width(), dst.Height(), dst.Format())
	}

	format := src.Format
	for planeIndex := range src.Planes {
		srcBytes := src.PlaneBytes(planeIndex)
		dstBytes := dst.PlaneBytes(planeIndex)
		srcStride := src.Planes[planeIndex].Stride
		dstStride := dst.Plane(planeIndex).Stride
		rows := format.PlaneHeight(planeIndex, src.Height)

		if srcStride == dstStride {
			copy(dstBytes[:rows*srcStride], srcBytes[:rows*srcStride])
			continue
		}

		rowBytes := format.RowBytes(planeIndex, src.Width)
		for row := 0; row < rows; row++ {
			dstStart := row * dstStride
			srcStart := row * srcStride
			copy(dstBytes[dstStart:dstStart+rowBytes], srcBytes[srcStart:srcStart+rowBytes])
		}
	}

	return nil
}
