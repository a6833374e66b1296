package display_test

import (
	"testing"

	"github.com/go-scanout/scanout/display"
	"github.com/stretchr/testify/require"
)

func createFramePool(t require.TestingT, session *display.Session, min, max int) *display.FramePool {
	pool, err := session.CreateFramePool(display.FramePoolCreateInfo{
		Template: display.SurfaceTemplate{
			Width:  640,
			Height: 480,
			Format: display.FormatRGB565,
			Role:   display.RolePrimary,
		},
		MinSurfaces: min,
		MaxSurfaces: max,
	})
	require.NoError(t, err)
	return pool
}

func TestFramePoolPreallocatesMinimum(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})

	pool := createFramePool(t, session, 2, 4)
	require.Equal(t, 2, pool.FreeSurfaceCount())
	require.Equal(t, 0, pool.OutstandingSurfaceCount())
	require.Equal(t, 2, session.LiveSurfaceCount())
	require.NotZero(t, pool.ID())

	require.NoError(t, pool.Destroy())
	require.Equal(t, 0, session.LiveSurfaceCount())
	require.NoError(t, session.Close())
}

func TestFramePoolAcquireRecycles(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})

	pool := createFramePool(t, session, 1, 4)

	first, err := pool.Acquire()
	require.NoError(t, err)
	require.Equal(t, 0, pool.FreeSurfaceCount())
	require.Equal(t, 1, pool.OutstandingSurfaceCount())

	pool.Release(first)
	require.Equal(t, 1, pool.FreeSurfaceCount())

	// The released surface comes straight back
	again, err := pool.Acquire()
	require.NoError(t, err)
	require.Same(t, first, again)
	pool.Release(again)

	require.NoError(t, pool.Destroy())
	require.NoError(t, session.Close())
}

func TestFramePoolGrowsToCap(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})

	pool := createFramePool(t, session, 0, 2)
	require.Equal(t, 0, pool.FreeSurfaceCount())

	first, err := pool.Acquire()
	require.NoError(t, err)
	second, err := pool.Acquire()
	require.NoError(t, err)

	// Two live surfaces is the cap
	_, err = pool.Acquire()
	require.Error(t, err)
	require.ErrorIs(t, err, display.ErrResourceExhausted)

	pool.Release(first)
	third, err := pool.Acquire()
	require.NoError(t, err)

	pool.Release(second)
	pool.Release(third)
	require.NoError(t, pool.Destroy())
	require.NoError(t, session.Close())
}

func TestFramePoolDestroyWithOutstandingSurfaces(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})

	pool := createFramePool(t, session, 0, 2)

	surface, err := pool.Acquire()
	require.NoError(t, err)

	err = pool.Destroy()
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 acquired surfaces")

	pool.Release(surface)
	require.NoError(t, pool.Destroy())
	require.NoError(t, session.Close())
}

func TestFramePoolRejectsForeignRelease(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})

	pool := createFramePool(t, session, 0, 2)

	foreign, err := session.CreateSurface(display.SurfaceTemplate{
		Width:  320,
		Height: 240,
		Format: display.FormatRGB565,
		Role:   display.RolePrimary,
	})
	require.NoError(t, err)

	require.Panics(t, func() {
		pool.Release(foreign)
	})

	require.NoError(t, session.DestroySurface(foreign))
	require.NoError(t, pool.Destroy())
	require.NoError(t, session.Close())
}

func TestFramePoolName(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})

	pool := createFramePool(t, session, 0, 2)
	require.Empty(t, pool.Name())
	pool.SetName("decode output")
	require.Equal(t, "decode output", pool.Name())

	require.NoError(t, pool.Destroy())
	require.NoError(t, session.Close())
}

func TestSessionCloseDestroysPools(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{
		Budget: display.BudgetUpTo8Screens,
	})

	createFramePool(t, session, 2, 4)
	createFramePool(t, session, 1, 4)
	require.Equal(t, 3, session.LiveSurfaceCount())

	// Close tears the pools down along with their pooled surfaces
	require.NoError(t, session.Close())
}

func TestFramePoolMinAboveMax(t *testing.T) {
	driver := display.NewFakeDriver(640, 480, display.FormatRGB565, 8*1024*1024)
	session := createTestSession(t, driver, display.CreateOptions{})

	_, err := session.CreateFramePool(display.FramePoolCreateInfo{
		Template: display.SurfaceTemplate{
			Width:  640,
			Height: 480,
			Format: display.FormatRGB565,
			Role:   display.RolePrimary,
		},
		MinSurfaces: 3,
		MaxSurfaces: 2,
	})
	require.Error(t, err)

	require.NoError(t, session.Close())
}
