package display_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-scanout/scanout/display"
	"github.com/stretchr/testify/require"
)

func createFlipChain(t require.TestingT, session *display.Session, bufferCount int) *display.SwapChain {
	chain, err := session.CreateSwapChain(display.SwapChainCreateInfo{
		Role:        display.RolePrimary,
		BufferCount: bufferCount,
	})
	require.NoError(t, err)
	return chain
}

func renderNothing(surface *display.Surface) error {
	return nil
}

func TestPresentFlipCycle(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})
	chain := createFlipChain(t, session, 2)

	y := session.Synchronizer()
	require.Equal(t, display.SyncIdle, y.State())

	require.NoError(t, session.Present(chain, renderNothing))

	require.Equal(t, display.SyncIdle, y.State())
	require.Equal(t, 1, driver.VsyncCalls)
	require.Equal(t, 1, driver.ScanoutCalls)
	require.Equal(t, 1, y.FramesPresented())
	require.Equal(t, 0, y.FramesDropped())
	require.True(t, y.VsyncEnabled())

	// The presented surface became the front buffer
	require.Equal(t, 0, chain.FrontIndex())
	require.Equal(t, 1, chain.BackIndex())

	require.NoError(t, chain.Destroy())
	require.NoError(t, session.Close())
}

func TestPresentVsyncErrorDisablesVsync(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	driver.VsyncErr = errFake

	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})
	chain := createFlipChain(t, session, 2)

	y := session.Synchronizer()

	// The frame still goes out, but vsync stays off from here on
	require.NoError(t, session.Present(chain, renderNothing))
	require.False(t, y.VsyncEnabled())
	require.Equal(t, 1, y.VsyncTimeouts())
	require.Equal(t, 1, driver.ScanoutCalls)

	require.NoError(t, session.Present(chain, renderNothing))
	require.Equal(t, 1, y.VsyncTimeouts())
	require.Equal(t, 1, driver.VsyncCalls)
	require.Equal(t, 2, y.FramesPresented())

	require.NoError(t, chain.Destroy())
	require.NoError(t, session.Close())
}

func TestPresentVsyncTimeoutDisablesVsync(t *testing.T) {
	driver := &display.FakeFlipQueueDriver{
		FakeDriver: *display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024),
		Wedged:     true,
	}

	session := createTestSession(t, driver, display.CreateOptions{
		Budget:          display.BudgetUpTo8Screens,
		LivenessTimeout: 20 * time.Millisecond,
	})
	chain := createFlipChain(t, session, 2)

	y := session.Synchronizer()

	require.NoError(t, session.Present(chain, renderNothing))
	require.False(t, y.VsyncEnabled())
	require.Equal(t, 1, y.VsyncTimeouts())
	require.Equal(t, 1, driver.VsyncRequests)
	require.Equal(t, 1, driver.FlipRequests)

	// No further vsync requests once disabled
	require.NoError(t, session.Present(chain, renderNothing))
	require.Equal(t, 1, driver.VsyncRequests)
	require.Equal(t, 2, driver.FlipRequests)
	require.Equal(t, 2, y.FramesPresented())

	require.NoError(t, chain.Destroy())
	require.NoError(t, session.Close())
}

func TestPresentFlipQueueCompletes(t *testing.T) {
	driver := &display.FakeFlipQueueDriver{
		FakeDriver: *display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024),
	}

	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})
	chain := createFlipChain(t, session, 3)

	y := session.Synchronizer()

	require.NoError(t, session.Present(chain, renderNothing))
	require.Equal(t, 1, driver.VsyncRequests)
	require.Equal(t, 1, driver.FlipRequests)
	require.GreaterOrEqual(t, driver.PollCalls, 2)
	require.True(t, y.VsyncEnabled())
	require.Equal(t, display.SyncIdle, y.State())

	// The completion event carried the flip through to the scanout register
	require.Equal(t, chain.FrontBuffer().Offset(), driver.LastScanout.OffsetBytes)

	require.NoError(t, chain.Destroy())
	require.NoError(t, session.Close())
}

func TestPresentFlipRejectedDropsFrame(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})
	chain := createFlipChain(t, session, 2)

	y := session.Synchronizer()

	driver.ScanoutErr = errFake
	err := session.Present(chain, renderNothing)
	require.Error(t, err)
	require.True(t, errors.Is(err, display.ErrDriverIO))

	require.Equal(t, 1, y.FramesDropped())
	require.Equal(t, 1, y.FlipFailures())
	require.Equal(t, display.SyncIdle, y.State())

	// The chain did not advance past the failed frame
	require.Equal(t, 0, chain.BackIndex())

	driver.ScanoutErr = nil
	require.NoError(t, session.Present(chain, renderNothing))
	require.Equal(t, 0, chain.FrontIndex())
	require.Equal(t, 2, y.FramesPresented())
	require.Equal(t, 1, y.FramesDropped())

	require.NoError(t, chain.Destroy())
	require.NoError(t, session.Close())
}

func TestPresentRenderErrorDropsFrame(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})
	chain := createFlipChain(t, session, 2)

	y := session.Synchronizer()

	err := session.Present(chain, func(surface *display.Surface) error {
		return errFake
	})
	require.ErrorIs(t, err, errFake)
	require.Equal(t, 1, y.FramesDropped())
	require.Equal(t, 0, driver.ScanoutCalls)
	require.Equal(t, display.SyncIdle, y.State())
	require.Equal(t, 0, chain.BackIndex())

	require.NoError(t, chain.Destroy())
	require.NoError(t, session.Close())
}

func TestPresentPanDoesVsyncSkipsWait(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{
		Flags:  display.SessionCreatePanDoesVsync,
		Budget: display.BudgetUpTo8Screens,
	})
	chain := createFlipChain(t, session, 2)

	require.NoError(t, session.Present(chain, renderNothing))
	require.Equal(t, 0, driver.VsyncCalls)
	require.Equal(t, 1, driver.ScanoutCalls)

	require.NoError(t, chain.Destroy())
	require.NoError(t, session.Close())
}

func TestPresentDisableVsyncFlag(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{
		Flags:  display.SessionCreateDisableVsync,
		Budget: display.BudgetUpTo8Screens,
	})
	chain := createFlipChain(t, session, 2)

	y := session.Synchronizer()
	require.False(t, y.VsyncEnabled())

	require.NoError(t, session.Present(chain, renderNothing))
	require.Equal(t, 0, driver.VsyncCalls)
	require.Equal(t, 1, driver.ScanoutCalls)
	require.Equal(t, 0, y.VsyncTimeouts())

	require.NoError(t, chain.Destroy())
	require.NoError(t, session.Close())
}

func TestSynchronizerSingleFlight(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})
	chain := createFlipChain(t, session, 2)

	y := session.Synchronizer()
	y.AwaitVsync()
	require.Equal(t, display.SyncAwaitingVsync, y.State())

	require.Panics(t, func() {
		y.AwaitVsync()
	})

	// Finish the cycle so teardown finds the synchronizer idle
	require.NoError(t, y.SubmitFlip(chain.NextBackBuffer()))
	y.AwaitSettled()
	y.Complete()
	require.Equal(t, display.SyncIdle, y.State())

	require.NoError(t, chain.Destroy())
	require.NoError(t, session.Close())
}

func TestDrainSettlesOutstandingFlip(t *testing.T) {
	driver := &display.FakeFlipQueueDriver{
		FakeDriver: *display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024),
	}

	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})
	chain := createFlipChain(t, session, 2)

	y := session.Synchronizer()
	require.NoError(t, y.SubmitFlip(chain.Surface(1)))
	require.Equal(t, display.SyncFlipSubmitted, y.State())
	require.NotZero(t, chain.Surface(1).Offset())

	y.Drain(nil)
	require.Equal(t, display.SyncIdle, y.State())

	// Draining parks the scanout back at the base of video memory
	require.Equal(t, 0, driver.LastScanout.OffsetBytes)

	require.NoError(t, chain.Destroy())
	require.NoError(t, session.Close())
}

func TestSyncStateString(t *testing.T) {
	require.Equal(t, "SyncIdle", display.SyncIdle.String())
	require.Equal(t, "SyncAwaitingVsync", display.SyncAwaitingVsync.String())
	require.Equal(t, "SyncFlipSubmitted", display.SyncFlipSubmitted.String())
	require.Equal(t, "SyncSettled", display.SyncSettled.String())
	require.Equal(t, "unknown SyncState", display.SyncState(99).String())
}
