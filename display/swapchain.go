package display

import (
	"golang.org/x/exp/slog"
)

// SwapChain is an ordered ring of same-shape surfaces being cycled through by
// presentation. The back buffer is the one being rendered into; advancing
// makes it the front buffer and moves the back index one step around the
// ring. A single-buffer chain never flips: the one surface is both front and
// back, and the present path copies into it directly.
type SwapChain struct {
	logger  *slog.Logger
	session *Session
	role    SurfaceRole

	surfaces   []*Surface
	frontIndex int
	backIndex  int
}

func newSwapChain(session *Session, role SurfaceRole, surfaces []*Surface) *SwapChain {
	return &SwapChain{
		logger:  session.logger,
		session: session,
		role:    role,

		surfaces: surfaces,
	}
}

// Count returns the number of surfaces in the chain
func (c *SwapChain) Count() int {
	return len(c.surfaces)
}

// CanFlip returns true when the chain has enough surfaces to change the
// scanout buffer instead of copying into the visible one
func (c *SwapChain) CanFlip() bool {
	return len(c.surfaces) > 1
}

// Role returns the scanout path the chain presents to
func (c *SwapChain) Role() SurfaceRole {
	return c.role
}

// NextBackBuffer returns the surface the next frame should be rendered into
func (c *SwapChain) NextBackBuffer() *Surface {
	return c.surfaces[c.backIndex]
}

// FrontBuffer returns the surface most recently handed to the hardware
func (c *SwapChain) FrontBuffer() *Surface {
	return c.surfaces[c.frontIndex]
}

// FrontIndex returns the index of the front buffer
func (c *SwapChain) FrontIndex() int {
	return c.frontIndex
}

// BackIndex returns the index of the back buffer
func (c *SwapChain) BackIndex() int {
	return c.backIndex
}

// Surface returns the chain surface at the given index
func (c *SwapChain) Surface(index int) *Surface {
	return c.surfaces[index]
}

// Advance commits the back buffer as the new front and steps the back index
// around the ring. Called once per presented frame, after the scanout change
// for the old back buffer has been submitted.
func (c *SwapChain) Advance() {
	c.frontIndex = c.backIndex
	c.backIndex = (c.backIndex + 1) % len(c.surfaces)
}

// Destroy returns every chain surface to the session. Overlay chains hide and
// release the overlay plane first, so the hardware stops scanning the memory
// before it is freed. The chain must not be presented again afterward.
func (c *SwapChain) Destroy() error {
	c.logger.Debug("SwapChain::Destroy")

	if c.role == RoleOverlay {
		c.session.releaseOverlay()
	}

	for _, surface := range c.surfaces {
		err := c.session.allocator.DestroySurface(surface)
		if err != nil {
			return err
		}
	}

	c.surfaces = nil
	return nil
}
