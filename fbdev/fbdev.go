//go:build linux

package fbdev

import (
	"bytes"
	"context"
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-scanout/scanout/display"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// DefaultDevicePath is the first framebuffer device node
const DefaultDevicePath = "/dev/fb0"

// Driver drives a linux framebuffer device: one mappable region of video
// memory, scanout addressed by byte offset, panned with FBIOPAN_DISPLAY.
// It implements display.Driver.
type Driver struct {
	logger *slog.Logger
	path   string

	file    *os.File
	fix     fixScreenInfo
	current varScreenInfo
	saved   varScreenInfo
	mapped  []byte
	console *consoleMode
}

// NewDriver prepares a driver for the device node at path. An empty path
// selects DefaultDevicePath. Nothing is touched until Open.
func NewDriver(logger *slog.Logger, path string) *Driver {
	if path == "" {
		path = DefaultDevicePath
	}

	return &Driver{
		logger: logger,
		path:   path,
	}
}

func ioctl(fd uintptr, request uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(request), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Open opens the device node, reads its geometry, and switches the console to
// graphics mode so nothing draws over the framebuffer
func (d *Driver) Open() (display.ScreenInfo, error) {
	d.logger.Debug("fbdev.Driver::Open")

	file, err := os.OpenFile(d.path, os.O_RDWR, 0)
	if err != nil {
		return display.ScreenInfo{}, errors.Wrapf(err, "failed to open the framebuffer device %s", d.path)
	}

	err = ioctl(file.Fd(), fbioGetFixedInfo, unsafe.Pointer(&d.fix))
	if err == nil {
		err = ioctl(file.Fd(), fbioGetVarInfo, unsafe.Pointer(&d.current))
	}
	if err != nil {
		_ = file.Close()
		return display.ScreenInfo{}, errors.Wrapf(err, "%s did not answer the screen info queries", d.path)
	}

	info, err := screenInfoFromRaw(&d.fix, &d.current)
	if err != nil {
		_ = file.Close()
		return display.ScreenInfo{}, err
	}

	d.file = file
	d.saved = d.current
	d.console = enterGraphicsMode(d.logger)

	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "opened framebuffer device",
		slog.String("device", d.path),
		slog.String("id", string(bytes.TrimRight(d.fix.ID[:], "\x00"))),
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
		slog.String("format", info.Format.String()),
		slog.Int("memorySize", info.MemorySize))

	return info, nil
}

// MapFramebuffer maps size bytes of the device's video memory
func (d *Driver) MapFramebuffer(size int) ([]byte, error) {
	mapped, err := unix.Mmap(int(d.file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d bytes of video memory", size)
	}

	d.mapped = mapped
	return mapped, nil
}

// SetVirtualSize asks the device for a new pannable region and reports the
// geometry that actually took effect, which may be smaller than requested
func (d *Driver) SetVirtualSize(width, height int) (display.ScreenInfo, error) {
	requested := d.current
	requested.XResVirtual = uint32(width)
	requested.YResVirtual = uint32(height)
	requested.Activate = fbActivateNow

	err := ioctl(d.file.Fd(), fbioPutVarInfo, unsafe.Pointer(&requested))
	if err != nil {
		return display.ScreenInfo{}, errors.Wrapf(err,
			"the device refused a virtual size of %dx%d", width, height)
	}

	// The driver may round the grant; read back what is in effect
	err = ioctl(d.file.Fd(), fbioGetVarInfo, unsafe.Pointer(&d.current))
	if err != nil {
		return display.ScreenInfo{}, errors.Wrap(err, "failed to read back the virtual size")
	}

	return screenInfoFromRaw(&d.fix, &d.current)
}

// SetScanoutBuffer pans the display to the target's byte offset
func (d *Driver) SetScanoutBuffer(target display.ScanoutTarget) error {
	if target.Object != nil {
		return errors.New("framebuffer devices address scanout by offset, not by buffer object")
	}

	xOffset, yOffset, err := panOffsets(target.OffsetBytes, int(d.fix.LineLength), int(d.current.BitsPerPixel)/8)
	if err != nil {
		return err
	}
	if xOffset != 0 && d.fix.XPanStep == 0 {
		return errors.Newf("the device cannot pan horizontally, but offset %d is mid-scanline", target.OffsetBytes)
	}

	prevX, prevY := d.current.XOffset, d.current.YOffset
	d.current.XOffset = xOffset
	d.current.YOffset = yOffset

	err = ioctl(d.file.Fd(), fbioPanDisplay, unsafe.Pointer(&d.current))
	if err != nil {
		d.current.XOffset = prevX
		d.current.YOffset = prevY
		return errors.Wrapf(err, "the device rejected the pan to offset %d", target.OffsetBytes)
	}

	return nil
}

// WaitForVerticalBlank blocks in the driver until the next vertical blanking
// period
func (d *Driver) WaitForVerticalBlank() error {
	screen := uint32(0)
	err := ioctl(d.file.Fd(), fbioWaitForVsync, unsafe.Pointer(&screen))
	if err != nil {
		return errors.Wrap(err, "the device cannot signal vertical blanks")
	}
	return nil
}

// Close restores the screen state saved at Open, unmaps video memory, puts the
// console back into text mode, and closes the device node
func (d *Driver) Close() error {
	d.logger.Debug("fbdev.Driver::Close")

	if d.file == nil {
		return errors.New("the framebuffer device is not open")
	}

	var firstErr error

	restore := d.saved
	restore.Activate = fbActivateNow
	err := ioctl(d.file.Fd(), fbioPutVarInfo, unsafe.Pointer(&restore))
	if err != nil {
		firstErr = errors.Wrap(err, "failed to restore the saved screen state")
	}

	if d.mapped != nil {
		err = unix.Munmap(d.mapped)
		if err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "failed to unmap video memory")
		}
		d.mapped = nil
	}

	d.console.restore(d.logger)
	d.console = nil

	err = d.file.Close()
	if err != nil && firstErr == nil {
		firstErr = errors.Wrapf(err, "failed to close %s", d.path)
	}
	d.file = nil

	return firstErr
}
