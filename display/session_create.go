package display

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-scanout/scanout/display/internal/utils"
	"github.com/go-scanout/scanout/vidmem"
	"github.com/go-scanout/scanout/vidmem/arena"
	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"
)

// CreateFlags indicate specific session behaviors to activate or deactivate
type CreateFlags int32

var sessionCreateFlagsMapping = utils.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	sessionCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return sessionCreateFlagsMapping.FlagsToString(f)
}

const (
	// SessionCreateExternallySynchronized ensures that this session and all objects created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// thread at a time or are synchronized by some other mechanism, but performance may improve because
	// internal mutexes are not used.
	SessionCreateExternallySynchronized CreateFlags = 1 << iota
	// SessionCreateDisableVsync presents without ever waiting for the vertical
	// blank. Frames tear, but nothing blocks on the display.
	SessionCreateDisableVsync
	// SessionCreatePanDoesVsync declares that the driver's scanout changes
	// already block until the vertical blank, so the session skips its own
	// vsync wait before each flip
	SessionCreatePanDoesVsync
	// SessionCreateSkipClear leaves the mapped video memory untouched when the
	// session opens, instead of clearing it to black
	SessionCreateSkipClear
	// SessionCreateDisableOverlay ignores the driver's overlay plane even when
	// the hardware has one
	SessionCreateDisableOverlay
	// SessionCreateDisableBufferPooling lowers the swap chain surface caps to
	// what unpooled presentation needs
	SessionCreateDisableBufferPooling
	// SessionCreateIgnoreAspectRatio stretches overlay content to the full
	// screen instead of letterboxing it
	SessionCreateIgnoreAspectRatio
)

func init() {
	SessionCreateExternallySynchronized.Register("SessionCreateExternallySynchronized")
	SessionCreateDisableVsync.Register("SessionCreateDisableVsync")
	SessionCreatePanDoesVsync.Register("SessionCreatePanDoesVsync")
	SessionCreateSkipClear.Register("SessionCreateSkipClear")
	SessionCreateDisableOverlay.Register("SessionCreateDisableOverlay")
	SessionCreateDisableBufferPooling.Register("SessionCreateDisableBufferPooling")
	SessionCreateIgnoreAspectRatio.Register("SessionCreateIgnoreAspectRatio")
}

// BudgetPolicy selects how much of the device's video memory the session
// takes charge of. Positive values are a size in megabytes, clamped between
// one screen's worth of scanlines and the device's total memory.
type BudgetPolicy int

const (
	// BudgetVirtualSize manages exactly the virtual region the driver already
	// exposes, growing nothing
	BudgetVirtualSize BudgetPolicy = 0
	// BudgetUpTo8Screens manages up to eight screens' worth of scanlines,
	// enough for deep buffering without claiming the whole of a large device
	BudgetUpTo8Screens BudgetPolicy = -1
	// BudgetAllAvailable manages every byte the device reports
	BudgetAllAvailable BudgetPolicy = -2
)

// maxPanAlignment caps the start alignment derived from the device pitch.
// Page alignment is as much as any scanout engine asks for.
const maxPanAlignment = 4096

// CreateOptions contains optional settings when creating a session
type CreateOptions struct {
	// Flags indicates specific session behaviors to activate or deactivate
	Flags CreateFlags

	// Budget selects how much video memory the session manages. The zero
	// value manages the virtual region the driver already exposes.
	Budget BudgetPolicy

	// FrameRateLimit paces Present to at most this many frames per second.
	// 0 leaves presentation paced by vsync alone.
	FrameRateLimit float64

	// LivenessTimeout bounds every blocking wait on driver events. 0 applies
	// a 5 second default.
	LivenessTimeout time.Duration

	// SurfaceCallbackOptions is an optional set of callbacks that will be executed when surfaces
	// are allocated or freed by this session. It can be helpful in cases when the consumer requires
	// session-level info about surface memory
	SurfaceCallbackOptions *SurfaceCallbackOptions
}

// NewSession opens the display device behind driver and readies it for
// presentation: geometry is read, the virtual region is grown to cover the
// memory budget, video memory is mapped and cleared, and the overlay plane is
// probed.
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewSession(logger *slog.Logger, driver Driver, options CreateOptions) (*Session, error) {
	useMutex := options.Flags&SessionCreateExternallySynchronized == 0

	info, err := driver.Open()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to open the display driver"), ErrDriverIO)
	}

	err = validateScreenInfo(info)
	if err != nil {
		closeErr := driver.Close()
		if closeErr != nil {
			logger.Error("error attempting to close the driver after an unusable screen report",
				slog.Any("error", closeErr))
		}
		return nil, err
	}

	session := &Session{
		logger: logger,
		driver: driver,

		useMutex:    useMutex,
		createFlags: options.Flags,

		poolsMutex: utils.OptionalRWMutex{UseMutex: useMutex},
	}

	objectDriver, hasObjects := driver.(BufferObjectDriver)
	budget := calculateBudget(info, options.Budget)

	var memArena *arena.Arena
	var mapped []byte

	if !hasObjects {
		info, budget = growVirtualSize(logger, driver, info, budget)

		mapped, err = driver.MapFramebuffer(budget)
		if err != nil {
			closeErr := driver.Close()
			if closeErr != nil {
				logger.Error("error attempting to close the driver after a failed mapping",
					slog.Any("error", closeErr))
			}
			return nil, errors.Mark(
				errors.Wrapf(err, "failed to map %d bytes of video memory", budget),
				ErrDriverIO)
		}

		memArena = arena.New(budget)
	}

	session.info = info
	session.budget = budget
	session.mapped = mapped
	session.memArena = memArena

	var limiter *rate.Limiter
	if options.FrameRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(options.FrameRateLimit), 1)
	}

	session.synchronizer = newSynchronizer(
		logger,
		driver,
		options.Flags&SessionCreateDisableVsync == 0,
		options.Flags&SessionCreatePanDoesVsync != 0,
		!hasObjects,
		options.LivenessTimeout,
		limiter,
	)

	session.allocator = newSurfaceAllocator(
		logger,
		memArena,
		mapped,
		info.Pitch,
		useMutex,
		objectDriver,
		&surfaceCallbacks{
			Callbacks: options.SurfaceCallbackOptions,
			Session:   session,
		},
		AlignmentSpec{StartAlign: vidmem.LargestDivisorPow2(info.Pitch, maxPanAlignment)},
	)

	if options.Flags&SessionCreateDisableOverlay == 0 {
		overlayDriver, hasOverlay := driver.(OverlayDriver)
		if hasOverlay {
			session.overlayDriver = overlayDriver
			session.negotiator = newOverlayNegotiator(
				logger,
				overlayDriver,
				info,
				options.Flags&SessionCreateIgnoreAspectRatio != 0,
			)

			alignment, fixedStride := overlayDriver.OverlayAlignment()
			session.allocator.setOverlayAlignment(alignment, fixedStride)
		}
	}

	if mapped != nil && options.Flags&SessionCreateSkipClear == 0 {
		// Whatever the console left in video memory would otherwise appear on
		// screen until the first frame
		for i := range mapped {
			mapped[i] = 0
		}
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "opened display session",
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
		slog.Int("virtualHeight", info.VirtualHeight),
		slog.String("format", info.Format.String()),
		slog.Int("pitch", info.Pitch),
		slog.Int("budget", budget),
		slog.Bool("bufferObjects", hasObjects),
		slog.Bool("overlay", session.negotiator != nil),
	)

	return session, nil
}

func validateScreenInfo(info ScreenInfo) error {
	if info.Width < 1 || info.Height < 1 || info.Pitch < 1 {
		return errors.Wrapf(ErrConfigUnsatisfiable,
			"the driver reported an unusable %dx%d screen with pitch %d",
			info.Width, info.Height, info.Pitch)
	}
	if info.Format.PlaneCount() == 0 {
		return errors.Wrapf(ErrConfigUnsatisfiable,
			"the driver reported scanout format %s, which cannot be presented to", info.Format.String())
	}

	return nil
}

func calculateBudget(info ScreenInfo, policy BudgetPolicy) int {
	screenBytes := info.Pitch * info.Height

	var budget int
	switch {
	case policy == BudgetVirtualSize:
		budget = info.Pitch * info.VirtualHeight
	case policy == BudgetUpTo8Screens:
		budget = screenBytes * 8
	case policy == BudgetAllAvailable:
		budget = info.MemorySize
	case policy > 0:
		budget = int(policy) * 1024 * 1024
	default:
		budget = info.Pitch * info.VirtualHeight
	}

	if budget < screenBytes {
		budget = screenBytes
	}
	if info.MemorySize > 0 && budget > info.MemorySize {
		budget = info.MemorySize
	}

	return budget
}

// growVirtualSize asks the driver for enough virtual scanlines to cover the
// budget. Drivers are free to grant fewer rows than requested or refuse
// outright, and the budget degrades to whatever region actually exists
// afterward.
func growVirtualSize(logger *slog.Logger, driver Driver, info ScreenInfo, budget int) (ScreenInfo, int) {
	current := info.Pitch * info.VirtualHeight
	if budget <= current {
		return info, budget
	}

	requestRows := budget / info.Pitch
	granted, err := driver.SetVirtualSize(info.VirtualWidth, requestRows)
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelWarn,
			"the driver refused to grow the virtual screen, continuing with the region it has",
			slog.Int("requestedRows", requestRows),
			slog.Any("error", err))
		return info, current
	}

	if granted.VirtualHeight < requestRows {
		logger.LogAttrs(context.Background(), slog.LevelDebug,
			"the driver granted fewer virtual scanlines than requested",
			slog.Int("requestedRows", requestRows),
			slog.Int("grantedRows", granted.VirtualHeight))
	}

	return granted, granted.Pitch * granted.VirtualHeight
}
