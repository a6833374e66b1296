package display

import (
	"github.com/cockroachdb/errors"
)

// The display package sorts failures into three classes. Callers that want to
// fall back (smaller swap chains, direct copy instead of overlay, system
// memory instead of video memory) should test with errors.Is against these
// sentinels rather than matching message text.
var (
	// ErrResourceExhausted indicates that video memory or another fixed-size
	// resource ran out. Recoverable: retry with fewer or smaller buffers.
	ErrResourceExhausted = errors.New("video memory exhausted")

	// ErrDriverIO indicates that the display driver rejected or failed a
	// request. Per-frame occurrences drop the frame; occurrences during setup
	// or teardown abort the operation.
	ErrDriverIO = errors.New("display driver request failed")

	// ErrConfigUnsatisfiable indicates that the requested configuration cannot
	// be satisfied by the device, for example an overlay format the hardware
	// does not scan out. Recoverable by renegotiating a lesser configuration.
	ErrConfigUnsatisfiable = errors.New("display configuration unsatisfiable")
)
