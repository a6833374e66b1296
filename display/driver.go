package display

import (
	"time"
)

// ScreenInfo describes the scanout geometry a driver reported. The session
// treats everything here as fixed for its lifetime except the virtual size,
// which it may grow to make room for pannable buffers.
type ScreenInfo struct {
	// Width and Height are the visible screen size in pixels
	Width  int
	Height int

	// VirtualWidth and VirtualHeight are the size of the addressable region
	// the screen can pan across. At least the visible size.
	VirtualWidth  int
	VirtualHeight int

	// Format is the scanout pixel format of the primary surface
	Format PixelFormat

	// Pitch is the number of bytes from the start of one scanline to the next
	Pitch int

	// MemorySize is the total number of usable bytes of video memory
	MemorySize int
}

// AlignmentSpec carries the alignment requirements a surface layout must meet,
// all expressed as power-of-two byte counts. A zero field means byte-aligned.
type AlignmentSpec struct {
	// StartAlign applies to the offset of the surface as a whole
	StartAlign uint
	// PlaneAlign applies to the offset of each plane within the surface
	PlaneAlign uint
	// ScanlineAlign applies to the stride of each plane
	ScanlineAlign uint
}

func (a AlignmentSpec) withDefaults() AlignmentSpec {
	if a.StartAlign == 0 {
		a.StartAlign = 1
	}
	if a.PlaneAlign == 0 {
		a.PlaneAlign = 1
	}
	if a.ScanlineAlign == 0 {
		a.ScanlineAlign = 1
	}
	return a
}

// ScanoutTarget identifies the memory a driver should scan out next: a byte
// offset into the mapped region for offset-addressed hardware, or a buffer
// object for handle-addressed hardware. Exactly one of the two is meaningful,
// and which one follows from the driver's capabilities.
type ScanoutTarget struct {
	OffsetBytes int
	Object      *BufferObject
}

// Driver is the minimum surface every display device exposes: fixed screen
// geometry, a mappable memory region, and a way to change which part of that
// region is scanned out. Implementations are not expected to be safe for
// concurrent use; the session serializes driver calls.
type Driver interface {
	// Open readies the device and reports its geometry. Must be the first call.
	Open() (ScreenInfo, error)
	// MapFramebuffer maps size bytes of video memory into the process. The
	// returned slice stays valid until Close.
	MapFramebuffer(size int) ([]byte, error)
	// SetVirtualSize asks the device for a larger pannable region and reports
	// the geometry actually in effect afterward. Drivers are free to grant
	// less than requested; callers must check the returned info.
	SetVirtualSize(width, height int) (ScreenInfo, error)
	// SetScanoutBuffer synchronously points the hardware at the target. The
	// change takes effect no later than the next vertical blank.
	SetScanoutBuffer(target ScanoutTarget) error
	// WaitForVerticalBlank blocks until the next vertical blanking period
	WaitForVerticalBlank() error
	// Close releases the device, restoring whatever scanout state it saved
	// during Open
	Close() error
}

// FlipQueueDriver is implemented by drivers whose device completes scanout
// changes asynchronously through an event queue. When a driver implements it,
// the synchronizer requests events and polls for their completion instead of
// blocking in the driver.
type FlipQueueDriver interface {
	// RequestVsyncEvent queues a request for an event at the next vertical blank
	RequestVsyncEvent() error
	// RequestFlipEvent queues a scanout change to the target, to be completed
	// at the next vertical blank. The completion arrives via PollEvent.
	RequestFlipEvent(target ScanoutTarget) error
	// PollEvent waits up to timeout for queued events and dispatches any that
	// arrived. It returns true once a previously requested event has completed.
	PollEvent(timeout time.Duration) (bool, error)
}

// BufferObject is a driver-owned allocation of scanout-capable memory. Drivers
// that allocate per-surface hand these out instead of offsets into one region.
type BufferObject struct {
	// Handle is the driver's name for the object
	Handle uint32
	// Pitch is the row stride the driver chose, which may exceed the minimum
	Pitch int
	// Size is the total mapped size in bytes
	Size int
	// Data is the object's memory, mapped for the life of the object
	Data []byte
}

// BufferObjectDriver is implemented by drivers that allocate scanout memory
// as per-surface objects rather than slicing one mapped region
type BufferObjectDriver interface {
	CreateBufferObject(width, height int, format PixelFormat) (*BufferObject, error)
	DestroyBufferObject(object *BufferObject) error
}

// OverlayDriver is implemented by drivers with a hardware overlay: a second
// scanout plane that composites over the primary surface with its own format
// and scaling.
type OverlayDriver interface {
	// SupportedOverlayFormats lists scanout formats for the overlay plane.
	// Drivers order the list by preference, with formats that tolerate odd
	// source widths first.
	SupportedOverlayFormats() []PixelFormat
	// OverlayAlignment reports the layout requirements for overlay surfaces.
	// fixedStride is true when the hardware derives plane strides itself and
	// the surface layout must match them exactly rather than merely aligning.
	OverlayAlignment() (alignment AlignmentSpec, fixedStride bool)
	// PrepareOverlay reserves the overlay plane and configures it for the
	// format and source size. Must precede ShowOverlay.
	PrepareOverlay(format PixelFormat, width, height int) error
	// ShowOverlay points the overlay plane at the target and displays it
	// within the destination rectangle of the descriptor. Safe to call per
	// frame; the first call enables the plane.
	ShowOverlay(target ScanoutTarget, desc OverlayDescriptor) error
	// HideOverlay disables the overlay plane without releasing it
	HideOverlay() error
	// ReleaseOverlay disables and unreserves the overlay plane
	ReleaseOverlay() error
}
