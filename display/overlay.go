package display

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/go-scanout/scanout/vidmem"
	"golang.org/x/exp/slog"
)

// OverlayDescriptor places overlay content on screen: the source size of the
// content and the destination rectangle it should cover, in screen pixels
type OverlayDescriptor struct {
	SrcWidth  int
	SrcHeight int

	DstX      int
	DstY      int
	DstWidth  int
	DstHeight int
}

// OverlayPlan is the outcome of overlay negotiation: the format to produce,
// where the content lands on screen, and the layout rules surfaces must meet
// to be scanned out by the overlay plane.
type OverlayPlan struct {
	Format      PixelFormat
	Desc        OverlayDescriptor
	Alignment   AlignmentSpec
	FixedStride bool
}

// NativeLayout reports whether content with the given plane layout meets the
// plan's requirements and can be handed to the overlay without repacking
func (p OverlayPlan) NativeLayout(format PixelFormat, width int, planes []PlaneLayout) bool {
	if format != p.Format || len(planes) != format.PlaneCount() {
		return false
	}

	for planeIndex, plane := range planes {
		if plane.Offset%int(p.Alignment.PlaneAlign) != 0 {
			return false
		}

		required := format.RowBytes(planeIndex, width)
		if p.FixedStride {
			// The hardware derives strides from the source width itself, so the
			// layout must match them exactly
			if plane.Stride != vidmem.AlignUp(required, p.Alignment.ScanlineAlign) {
				return false
			}
		} else if plane.Stride%int(p.Alignment.ScanlineAlign) != 0 || plane.Stride < required {
			return false
		}
	}

	return true
}

// aspectRatioTolerance is how far apart two aspect ratios may be before
// letterboxing kicks in. Keeps hairline mismatches from rounding away a row.
const aspectRatioTolerance = 0.01

// FitDestination computes the on-screen rectangle for content of the given
// source size. Unless told to ignore aspect, content whose ratio differs from
// the screen's is shrunk along one axis and centered, never stretched.
func FitDestination(srcWidth, srcHeight, screenWidth, screenHeight int, ignoreAspect bool) OverlayDescriptor {
	desc := OverlayDescriptor{
		SrcWidth:  srcWidth,
		SrcHeight: srcHeight,
		DstWidth:  screenWidth,
		DstHeight: screenHeight,
	}
	if ignoreAspect || srcWidth < 1 || srcHeight < 1 {
		return desc
	}

	srcRatio := float64(srcWidth) / float64(srcHeight)
	dstRatio := float64(screenWidth) / float64(screenHeight)
	if math.Abs(srcRatio-dstRatio) <= aspectRatioTolerance {
		return desc
	}

	if srcRatio > dstRatio {
		desc.DstHeight = screenWidth * srcHeight / srcWidth
		desc.DstY = (screenHeight - desc.DstHeight) / 2
	} else {
		desc.DstWidth = screenHeight * srcWidth / srcHeight
		desc.DstX = (screenWidth - desc.DstWidth) / 2
	}

	if desc.DstX < 0 {
		desc.DstX = 0
	}
	if desc.DstY < 0 {
		desc.DstY = 0
	}

	return desc
}

// OverlayNegotiator picks the format and placement for overlay presentation
// against one driver's overlay plane
type OverlayNegotiator struct {
	logger *slog.Logger
	driver OverlayDriver

	screenWidth  int
	screenHeight int
	ignoreAspect bool
}

func newOverlayNegotiator(logger *slog.Logger, driver OverlayDriver, screen ScreenInfo, ignoreAspect bool) *OverlayNegotiator {
	return &OverlayNegotiator{
		logger: logger,
		driver: driver,

		screenWidth:  screen.Width,
		screenHeight: screen.Height,
		ignoreAspect: ignoreAspect,
	}
}

// NegotiateFormat picks the overlay format for content of the given width.
// The driver's preference order wins; candidates, when non-empty, restrict
// the choice to formats the caller can produce. Odd source widths exclude
// formats that subsample horizontally.
func (n *OverlayNegotiator) NegotiateFormat(width int, candidates []PixelFormat) (PixelFormat, error) {
	oddWidth := width%2 != 0

	for _, format := range n.driver.SupportedOverlayFormats() {
		if oddWidth && !format.SupportsOddWidth() {
			continue
		}
		if len(candidates) > 0 && !containsFormat(candidates, format) {
			continue
		}

		return format, nil
	}

	return FormatInvalid, errors.Wrapf(ErrConfigUnsatisfiable,
		"no overlay format supports width %d from %d candidate formats", width, len(candidates))
}

// PlanOverlay negotiates a complete overlay plan for content of the given
// source size: format, destination rectangle, and surface layout rules
func (n *OverlayNegotiator) PlanOverlay(srcWidth, srcHeight int, candidates []PixelFormat) (OverlayPlan, error) {
	n.logger.Debug("OverlayNegotiator::PlanOverlay")

	format, err := n.NegotiateFormat(srcWidth, candidates)
	if err != nil {
		return OverlayPlan{}, err
	}

	alignment, fixedStride := n.driver.OverlayAlignment()
	plan := OverlayPlan{
		Format:      format,
		Desc:        FitDestination(srcWidth, srcHeight, n.screenWidth, n.screenHeight, n.ignoreAspect),
		Alignment:   alignment.withDefaults(),
		FixedStride: fixedStride,
	}

	n.logger.LogAttrs(context.Background(), slog.LevelDebug, "  negotiated overlay",
		slog.String("format", plan.Format.String()),
		slog.Int("dstX", plan.Desc.DstX),
		slog.Int("dstY", plan.Desc.DstY),
		slog.Int("dstWidth", plan.Desc.DstWidth),
		slog.Int("dstHeight", plan.Desc.DstHeight),
	)

	return plan, nil
}

func containsFormat(formats []PixelFormat, format PixelFormat) bool {
	for _, candidate := range formats {
		if candidate == format {
			return true
		}
	}

	return false
}
