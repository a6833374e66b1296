package display

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/go-scanout/scanout/display/internal/utils"
	"golang.org/x/exp/slog"
)

// FramePoolCreateInfo configures a FramePool
type FramePoolCreateInfo struct {
	// Template is the shape of every surface the pool hands out
	Template SurfaceTemplate

	// MinSurfaces surfaces are created up front, so the first frames do not
	// pay allocation cost
	MinSurfaces int
	// MaxSurfaces caps how many surfaces the pool will ever have live at
	// once. 0 means no cap beyond what video memory allows.
	MaxSurfaces int
}

// FramePool recycles surfaces of one shape so that presenting a steady stream
// of frames does not touch the video memory arena per frame. Surfaces move
// between the pool's free list and the caller via Acquire and Release; every
// surface must come back before the pool is destroyed.
type FramePool struct {
	logger        *slog.Logger
	parentSession *Session

	template    SurfaceTemplate
	maxSurfaces int

	freeMutex   utils.OptionalMutex
	free        []*Surface
	outstanding int

	id   int
	name string
	prev *FramePool
	next *FramePool
}

func (p *FramePool) SetName(name string) {
	p.logger.Debug("FramePool::SetName")

	p.name = name
}

func (p *FramePool) SetID(id int) error {
	if p.id != 0 {
		return errors.New("attempted to set id on a frame pool that already has one")
	}
	p.id = id
	return nil
}

func (p *FramePool) ID() int {
	return p.id
}

func (p *FramePool) Name() string {
	p.logger.Debug("FramePool::Name")

	return p.name
}

// Template returns the shape of the surfaces this pool hands out
func (p *FramePool) Template() SurfaceTemplate {
	return p.template
}

// FreeSurfaceCount returns the number of surfaces waiting in the pool
func (p *FramePool) FreeSurfaceCount() int {
	p.freeMutex.Lock()
	defer p.freeMutex.Unlock()

	return len(p.free)
}

// OutstandingSurfaceCount returns the number of acquired surfaces that have
// not yet been released back
func (p *FramePool) OutstandingSurfaceCount() int {
	p.freeMutex.Lock()
	defer p.freeMutex.Unlock()

	return p.outstanding
}

// Acquire hands out a surface matching the pool's template, recycling a
// released one when available and allocating otherwise. Returns an error
// classed ErrResourceExhausted when the pool is at its cap or video memory
// has run out.
func (p *FramePool) Acquire() (*Surface, error) {
	p.freeMutex.Lock()
	defer p.freeMutex.Unlock()

	freeCount := len(p.free)
	if freeCount > 0 {
		surface := p.free[freeCount-1]
		p.free = p.free[:freeCount-1]
		p.outstanding++
		return surface, nil
	}

	if p.maxSurfaces > 0 && p.outstanding >= p.maxSurfaces {
		return nil, errors.Wrapf(ErrResourceExhausted,
			"the pool is at its cap of %d surfaces and none are free", p.maxSurfaces)
	}

	surface, err := p.parentSession.allocator.CreateSurface(p.template)
	if err != nil {
		return nil, err
	}

	p.outstanding++
	return surface, nil
}

// Release returns an acquired surface to the pool for reuse. The surface's
// contents are left as-is.
func (p *FramePool) Release(surface *Surface) {
	if surface.Format() != p.template.Format ||
		surface.Width() != p.template.Width ||
		surface.Height() != p.template.Height ||
		surface.Role() != p.template.Role {
		panic(fmt.Sprintf("attempting to release a %dx%d %s surface into a pool of %dx%d %s surfaces",
			surface.Width(), surface.Height(), surface.Format(),
			p.template.Width, p.template.Height, p.template.Format))
	}

	p.freeMutex.Lock()
	defer p.freeMutex.Unlock()

	if p.outstanding < 1 {
		panic("attempting to release more surfaces into a pool than were acquired from it")
	}

	p.outstanding--
	p.free = append(p.free, surface)
}

// Destroy frees every pooled surface and removes the pool from its session.
// Fails without side effects while acquired surfaces remain outstanding.
func (p *FramePool) Destroy() error {
	p.logger.Debug("FramePool::Destroy")

	p.parentSession.poolsMutex.Lock()
	defer p.parentSession.poolsMutex.Unlock()

	return p.destroyAfterLock()
}

func (p *FramePool) destroyAfterLock() error {
	p.freeMutex.Lock()
	defer p.freeMutex.Unlock()

	if p.outstanding > 0 {
		return errors.Newf("the pool still has %d acquired surfaces that remain unreleased", p.outstanding)
	}

	for _, surface := range p.free {
		err := p.parentSession.allocator.DestroySurface(surface)
		if err != nil {
			return err
		}
	}
	p.free = nil

	next := p.next
	if p.next != nil {
		p.next.prev = p.prev
	}
	if p.prev != nil {
		p.prev.next = next
	}

	if p.parentSession.pools == p {
		p.parentSession.pools = next
	}

	return nil
}

// createMinSurfaces pre-fills the pool's free list at creation time
func (p *FramePool) createMinSurfaces(count int) error {
	for i := 0; i < count; i++ {
		surface, err := p.parentSession.allocator.CreateSurface(p.template)
		if err != nil {
			return err
		}

		p.free = append(p.free, surface)
	}

	return nil
}
