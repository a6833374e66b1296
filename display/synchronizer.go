package display

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"
)

// SyncState tracks where a presentation cycle stands. A cycle walks
// SyncIdle -> SyncAwaitingVsync -> SyncFlipSubmitted -> SyncSettled -> SyncIdle,
// with the middle states skipped when vsync is off or no flip is needed.
type SyncState uint32

const (
	// SyncIdle means no presentation cycle is in progress
	SyncIdle SyncState = iota
	// SyncAwaitingVsync means the cycle is holding for the vertical blank
	SyncAwaitingVsync
	// SyncFlipSubmitted means a scanout change was queued and has not yet
	// been confirmed complete
	SyncFlipSubmitted
	// SyncSettled means the cycle's scanout change is complete and the cycle
	// only awaits Complete
	SyncSettled
)

var syncStateMapping = map[SyncState]string{
	SyncIdle:          "SyncIdle",
	SyncAwaitingVsync: "SyncAwaitingVsync",
	SyncFlipSubmitted: "SyncFlipSubmitted",
	SyncSettled:       "SyncSettled",
}

func (s SyncState) String() string {
	str, ok := syncStateMapping[s]
	if !ok {
		return "unknown SyncState"
	}

	return str
}

const (
	// defaultLivenessTimeout bounds every blocking wait on driver events, so a
	// wedged device degrades the session instead of hanging it
	defaultLivenessTimeout = 5 * time.Second
	// eventPollRound is how long a single event poll may block before the
	// deadline is rechecked
	eventPollRound = time.Second
)

// Synchronizer owns the timing of presentation: vsync waits, scanout flips,
// and completion tracking. It is single-owner and performs no locking; only
// one goroutine may drive presentation.
type Synchronizer struct {
	logger    *slog.Logger
	driver    Driver
	flipQueue FlipQueueDriver

	state           SyncState
	vsyncEnabled    bool
	panDoesVsync    bool
	parkAtBase      bool
	livenessTimeout time.Duration
	limiter         *rate.Limiter

	vsyncTimeouts   int
	flipFailures    int
	framesPresented int
	framesDropped   int
}

func newSynchronizer(
	logger *slog.Logger,
	driver Driver,
	vsyncEnabled bool,
	panDoesVsync bool,
	parkAtBase bool,
	livenessTimeout time.Duration,
	limiter *rate.Limiter,
) *Synchronizer {
	if livenessTimeout <= 0 {
		livenessTimeout = defaultLivenessTimeout
	}

	flipQueue, _ := driver.(FlipQueueDriver)

	return &Synchronizer{
		logger:    logger,
		driver:    driver,
		flipQueue: flipQueue,

		state:           SyncIdle,
		vsyncEnabled:    vsyncEnabled,
		panDoesVsync:    panDoesVsync,
		parkAtBase:      parkAtBase,
		livenessTimeout: livenessTimeout,
		limiter:         limiter,
	}
}

// State returns where the current presentation cycle stands
func (y *Synchronizer) State() SyncState {
	return y.state
}

// VsyncEnabled reports whether vsync waits are still being performed. It
// starts from the session configuration and latches to false after the first
// failed or timed-out vsync wait.
func (y *Synchronizer) VsyncEnabled() bool {
	return y.vsyncEnabled
}

// VsyncTimeouts returns the number of vsync waits that failed or timed out
func (y *Synchronizer) VsyncTimeouts() int {
	return y.vsyncTimeouts
}

// FlipFailures returns the number of scanout changes the driver rejected
func (y *Synchronizer) FlipFailures() int {
	return y.flipFailures
}

// FramesPresented returns the number of presentation cycles started
func (y *Synchronizer) FramesPresented() int {
	return y.framesPresented
}

// FramesDropped returns the number of cycles that ended without a completed
// scanout change
func (y *Synchronizer) FramesDropped() int {
	return y.framesDropped
}

// AwaitVsync begins a presentation cycle by holding for the next vertical
// blank. When vsync has been disabled the state still advances but nothing
// blocks. Beginning a cycle while the previous one has not completed is a
// programming error and panics.
func (y *Synchronizer) AwaitVsync() {
	if y.state != SyncIdle {
		panic(fmt.Sprintf("attempting to begin a presentation cycle while the previous cycle is still %s", y.state))
	}
	y.state = SyncAwaitingVsync

	if !y.vsyncEnabled {
		return
	}

	var err error
	if y.flipQueue != nil {
		err = y.flipQueue.RequestVsyncEvent()
		if err == nil {
			err = y.awaitCompletion()
		}
	} else {
		err = y.driver.WaitForVerticalBlank()
	}

	if err != nil {
		y.disableVsync(err)
	}
}

// SubmitFlip hands the surface to the hardware as the next scanout buffer.
// Synchronous drivers settle immediately; event-queue drivers leave the cycle
// in SyncFlipSubmitted until AwaitSettled confirms completion. A driver
// failure settles the cycle and returns an ErrDriverIO-classed error; the
// caller decides whether the frame is dropped.
func (y *Synchronizer) SubmitFlip(surface *Surface) error {
	if y.state != SyncIdle && y.state != SyncAwaitingVsync {
		panic(fmt.Sprintf("attempting to submit a flip while the cycle is %s", y.state))
	}

	target := surface.ScanoutTarget()

	if y.flipQueue != nil {
		err := y.flipQueue.RequestFlipEvent(target)
		if err != nil {
			y.state = SyncSettled
			y.flipFailures++
			return errors.Mark(
				errors.Wrapf(err, "the driver rejected the flip to offset %d", target.OffsetBytes),
				ErrDriverIO)
		}

		y.state = SyncFlipSubmitted
		return nil
	}

	err := y.driver.SetScanoutBuffer(target)
	if err != nil {
		y.state = SyncSettled
		y.flipFailures++
		return errors.Mark(
			errors.Wrapf(err, "the driver rejected the scanout change to offset %d", target.OffsetBytes),
			ErrDriverIO)
	}

	// A synchronous pan is complete as soon as the driver returns
	y.state = SyncSettled
	return nil
}

// SubmitShow performs a synchronous scanout change through the provided
// function, with the same cycle bookkeeping as SubmitFlip. Overlay planes
// present this way.
func (y *Synchronizer) SubmitShow(surface *Surface, show func(target ScanoutTarget) error) error {
	if y.state != SyncIdle && y.state != SyncAwaitingVsync {
		panic(fmt.Sprintf("attempting to submit a flip while the cycle is %s", y.state))
	}

	err := show(surface.ScanoutTarget())
	if err != nil {
		y.state = SyncSettled
		y.flipFailures++
		return errors.Mark(errors.Wrap(err, "the driver rejected the scanout change"), ErrDriverIO)
	}

	y.state = SyncSettled
	return nil
}

// AwaitSettled blocks until the submitted scanout change completes. A
// completion that never arrives within the liveness bound is logged and the
// cycle settles anyway, so a wedged device cannot hang presentation.
func (y *Synchronizer) AwaitSettled() {
	switch y.state {
	case SyncSettled:
		return
	case SyncFlipSubmitted:
	default:
		panic(fmt.Sprintf("attempting to await settlement while the cycle is %s", y.state))
	}

	err := y.awaitCompletion()
	if err != nil {
		y.logger.LogAttrs(context.Background(), slog.LevelWarn, "flip completion never arrived",
			slog.Any("error", err))
	}

	y.state = SyncSettled
}

// Complete finishes the presentation cycle and returns the synchronizer to
// SyncIdle
func (y *Synchronizer) Complete() {
	if y.state != SyncSettled {
		panic(fmt.Sprintf("attempting to complete a presentation cycle while the cycle is %s", y.state))
	}

	y.state = SyncIdle
}

// settleWithoutFlip closes out a cycle that needed no scanout change, such as
// a copy into the already-visible surface of a single-buffer chain
func (y *Synchronizer) settleWithoutFlip() {
	if y.state != SyncIdle && y.state != SyncAwaitingVsync {
		panic(fmt.Sprintf("attempting to settle while the cycle is %s", y.state))
	}

	y.state = SyncSettled
}

// awaitCompletion polls the driver's event queue in bounded rounds until a
// requested event completes or the liveness timeout expires
func (y *Synchronizer) awaitCompletion() error {
	deadline := time.Now().Add(y.livenessTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.Wrapf(ErrDriverIO, "no completion event arrived within %s", y.livenessTimeout)
		}

		round := eventPollRound
		if round > remaining {
			round = remaining
		}

		completed, err := y.flipQueue.PollEvent(round)
		if err != nil {
			return errors.Mark(errors.Wrap(err, "polling the driver event queue failed"), ErrDriverIO)
		}
		if completed {
			return nil
		}
	}
}

func (y *Synchronizer) disableVsync(err error) {
	y.vsyncTimeouts++
	y.vsyncEnabled = false

	y.logger.LogAttrs(context.Background(), slog.LevelWarn, "vsync wait failed, disabling vsync for this session",
		slog.Any("error", err))
}

// Present runs one full presentation cycle against the chain: pace the frame,
// render into the back buffer, wait for vsync, hand the buffer to the
// hardware, confirm completion, advance the ring. Single-buffer chains hold
// for vsync and then render straight into the visible surface.
//
// A render error or rejected flip drops the frame: the chain does not
// advance, and the error comes back to the caller.
func (y *Synchronizer) Present(chain *SwapChain, render func(surface *Surface) error) error {
	return y.PresentWith(chain, render, y.SubmitFlip)
}

// PresentWith is Present with the scanout change performed by submit instead
// of SubmitFlip. The submit function owns the cycle's flip bookkeeping, the
// way SubmitFlip and SubmitShow do.
func (y *Synchronizer) PresentWith(chain *SwapChain, render func(surface *Surface) error, submit func(surface *Surface) error) error {
	if y.limiter != nil {
		_ = y.limiter.Wait(context.Background())
	}

	y.framesPresented++

	if !chain.CanFlip() {
		y.AwaitVsync()

		front := chain.NextBackBuffer()
		err := render(front)
		if err != nil {
			y.framesDropped++
			y.settleWithoutFlip()
			y.Complete()
			return err
		}

		// Even a single-buffer chain must point the hardware at its surface;
		// after the first cycle the target is unchanged
		err = submit(front)
		if err != nil {
			y.framesDropped++
			y.Complete()
			return err
		}

		y.AwaitSettled()
		y.Complete()
		return nil
	}

	back := chain.NextBackBuffer()
	err := render(back)
	if err != nil {
		y.framesDropped++
		return err
	}

	if !(y.panDoesVsync && y.vsyncEnabled) {
		y.AwaitVsync()
	}

	err = submit(back)
	if err != nil {
		y.framesDropped++
		y.Complete()
		return err
	}

	y.AwaitSettled()
	chain.Advance()
	y.Complete()

	return nil
}

// Drain settles any outstanding scanout change and, for offset-addressed
// drivers, parks the hardware on a safe surface so it never scans memory that
// is about to be freed. A nil safe surface parks at the base of the mapped
// region. Called during session close, before the mapping goes away.
func (y *Synchronizer) Drain(safe *Surface) {
	y.logger.Debug("Synchronizer::Drain")

	switch y.state {
	case SyncFlipSubmitted:
		y.AwaitSettled()
		y.Complete()
	case SyncAwaitingVsync:
		y.settleWithoutFlip()
		y.Complete()
	case SyncSettled:
		y.Complete()
	}

	var target ScanoutTarget
	switch {
	case safe != nil:
		target = safe.ScanoutTarget()
	case y.parkAtBase:
		target = ScanoutTarget{OffsetBytes: 0}
	default:
		// Handle-addressed drivers restore their saved scanout state on Close
		return
	}

	err := y.driver.SetScanoutBuffer(target)
	if err != nil {
		y.logger.LogAttrs(context.Background(), slog.LevelError, "failed to park scanout on a safe surface during drain",
			slog.Any("error", err))
	}
}
