package display

import (
	"time"
)

// FakeDriver is an in-memory display device for tests: fixed geometry, a
// byte slice for video memory, and counters for every driver call. The error
// fields let tests script failures.
type FakeDriver struct {
	Info   ScreenInfo
	Memory []byte

	OpenErr    error
	MapErr     error
	VirtualErr error
	ScanoutErr error
	VsyncErr   error
	CloseErr   error

	// GrantRows caps how many virtual rows SetVirtualSize grants; 0 grants
	// whatever fits in MemorySize
	GrantRows int

	OpenCalls    int
	MapCalls     int
	VirtualCalls int
	ScanoutCalls int
	VsyncCalls   int
	CloseCalls   int

	LastScanout ScanoutTarget
	Scanouts    []ScanoutTarget
}

func NewFakeDriver(width, height int, format PixelFormat, memorySize int) *FakeDriver {
	return &FakeDriver{
		Info: ScreenInfo{
			Width:         width,
			Height:        height,
			VirtualWidth:  width,
			VirtualHeight: height,
			Format:        format,
			Pitch:         format.RowBytes(0, width),
			MemorySize:    memorySize,
		},
	}
}

func (d *FakeDriver) Open() (ScreenInfo, error) {
	d.OpenCalls++
	if d.OpenErr != nil {
		return ScreenInfo{}, d.OpenErr
	}
	return d.Info, nil
}

func (d *FakeDriver) MapFramebuffer(size int) ([]byte, error) {
	d.MapCalls++
	if d.MapErr != nil {
		return nil, d.MapErr
	}
	if len(d.Memory) < size {
		d.Memory = make([]byte, size)
	}
	return d.Memory[:size], nil
}

func (d *FakeDriver) SetVirtualSize(width, height int) (ScreenInfo, error) {
	d.VirtualCalls++
	if d.VirtualErr != nil {
		return d.Info, d.VirtualErr
	}

	granted := height
	if d.GrantRows > 0 && granted > d.GrantRows {
		granted = d.GrantRows
	}
	if d.Info.MemorySize > 0 && granted > d.Info.MemorySize/d.Info.Pitch {
		granted = d.Info.MemorySize / d.Info.Pitch
	}

	d.Info.VirtualWidth = width
	d.Info.VirtualHeight = granted
	return d.Info, nil
}

func (d *FakeDriver) SetScanoutBuffer(target ScanoutTarget) error {
	d.ScanoutCalls++
	if d.ScanoutErr != nil {
		return d.ScanoutErr
	}
	d.LastScanout = target
	d.Scanouts = append(d.Scanouts, target)
	return nil
}

func (d *FakeDriver) WaitForVerticalBlank() error {
	d.VsyncCalls++
	return d.VsyncErr
}

func (d *FakeDriver) Close() error {
	d.CloseCalls++
	return d.CloseErr
}

// FakeFlipQueueDriver adds an event queue to FakeDriver. A requested event
// completes on the next PollEvent unless Wedged is set.
type FakeFlipQueueDriver struct {
	FakeDriver

	FlipErr error
	PollErr error
	// Wedged makes PollEvent sleep out its timeout and report nothing
	Wedged bool

	VsyncRequests int
	FlipRequests  int
	PollCalls     int

	pending     bool
	pendingFlip *ScanoutTarget
}

func (d *FakeFlipQueueDriver) RequestVsyncEvent() error {
	d.VsyncRequests++
	if d.VsyncErr != nil {
		return d.VsyncErr
	}
	d.pending = true
	return nil
}

func (d *FakeFlipQueueDriver) RequestFlipEvent(target ScanoutTarget) error {
	d.FlipRequests++
	if d.FlipErr != nil {
		return d.FlipErr
	}
	d.pending = true
	copied := target
	d.pendingFlip = &copied
	return nil
}

func (d *FakeFlipQueueDriver) PollEvent(timeout time.Duration) (bool, error) {
	d.PollCalls++
	if d.PollErr != nil {
		return false, d.PollErr
	}
	if d.Wedged || !d.pending {
		time.Sleep(timeout)
		return false, nil
	}

	d.pending = false
	if d.pendingFlip != nil {
		d.LastScanout = *d.pendingFlip
		d.Scanouts = append(d.Scanouts, *d.pendingFlip)
		d.pendingFlip = nil
	}
	return true, nil
}

// FakeObjectDriver is a FakeDriver whose surfaces come from per-surface
// buffer objects instead of one mapped region
type FakeObjectDriver struct {
	FakeDriver

	CreateErr  error
	DestroyErr error
	// PitchPadding widens every object's pitch past the minimum
	PitchPadding int

	nextHandle  uint32
	LiveObjects map[uint32]*BufferObject
}

func (d *FakeObjectDriver) CreateBufferObject(width, height int, format PixelFormat) (*BufferObject, error) {
	if d.CreateErr != nil {
		return nil, d.CreateErr
	}

	planes, size := layoutPlanes(format, width, height, AlignmentSpec{}.withDefaults())
	pitch := planes[0].Stride + d.PitchPadding
	size += d.PitchPadding * planes[0].Height

	d.nextHandle++
	object := &BufferObject{
		Handle: d.nextHandle,
		Pitch:  pitch,
		Size:   size,
		Data:   make([]byte, size),
	}

	if d.LiveObjects == nil {
		d.LiveObjects = make(map[uint32]*BufferObject)
	}
	d.LiveObjects[object.Handle] = object
	return object, nil
}

func (d *FakeObjectDriver) DestroyBufferObject(object *BufferObject) error {
	if d.DestroyErr != nil {
		return d.DestroyErr
	}
	delete(d.LiveObjects, object.Handle)
	return nil
}

// FakeOverlayDriver adds an overlay plane to FakeDriver
type FakeOverlayDriver struct {
	FakeDriver

	Formats     []PixelFormat
	Alignment   AlignmentSpec
	FixedStride bool

	PrepareErr error
	ShowErr    error

	PrepareCalls int
	ShowCalls    int
	HideCalls    int
	ReleaseCalls int

	Prepared       bool
	Visible        bool
	PreparedFormat PixelFormat
	PreparedWidth  int
	PreparedHeight int
	LastTarget     ScanoutTarget
	LastDesc       OverlayDescriptor
}

func (d *FakeOverlayDriver) SupportedOverlayFormats() []PixelFormat {
	return d.Formats
}

func (d *FakeOverlayDriver) OverlayAlignment() (AlignmentSpec, bool) {
	return d.Alignment, d.FixedStride
}

func (d *FakeOverlayDriver) PrepareOverlay(format PixelFormat, width, height int) error {
	d.PrepareCalls++
	if d.PrepareErr != nil {
		return d.PrepareErr
	}
	d.Prepared = true
	d.PreparedFormat = format
	d.PreparedWidth = width
	d.PreparedHeight = height
	return nil
}

func (d *FakeOverlayDriver) ShowOverlay(target ScanoutTarget, desc OverlayDescriptor) error {
	d.ShowCalls++
	if d.ShowErr != nil {
		return d.ShowErr
	}
	d.Visible = true
	d.LastTarget = target
	d.LastDesc = desc
	return nil
}

func (d *FakeOverlayDriver) HideOverlay() error {
	d.HideCalls++
	d.Visible = false
	return nil
}

func (d *FakeOverlayDriver) ReleaseOverlay() error {
	d.ReleaseCalls++
	d.Prepared = false
	return nil
}
