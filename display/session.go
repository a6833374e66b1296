package display

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/go-scanout/scanout/display/internal/utils"
	"github.com/go-scanout/scanout/vidmem"
	"github.com/go-scanout/scanout/vidmem/arena"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
)

// Session owns one opened display device: the video memory mapped from it,
// the surfaces carved out of that memory, and the timing of presentation.
// Sessions are single-screen; open one per device, and close it to give the
// device back.
//
// Unless the session was created ExternallySynchronized its methods are safe
// for concurrent use, with the exception of Present, which is always driven
// by a single goroutine.
type Session struct {
	logger *slog.Logger
	driver Driver

	useMutex    bool
	createFlags CreateFlags

	info   ScreenInfo
	budget int
	mapped []byte

	memArena  *arena.Arena
	allocator *SurfaceAllocator

	synchronizer *Synchronizer

	overlayDriver   OverlayDriver
	negotiator      *OverlayNegotiator
	overlayPlan     OverlayPlan
	overlayPrepared bool

	nextPoolID int
	poolsMutex utils.OptionalRWMutex
	pools      *FramePool

	closed bool
}

// Swap chains hold at most this many surfaces. With buffer pooling disabled
// the deeper rings serve no purpose, so the caps drop.
const (
	maxPrimarySurfaces         = 10
	maxUnpooledPrimarySurfaces = 3
	maxOverlaySurfaces         = 30
	maxUnpooledOverlaySurfaces = 8
)

// Info returns the screen geometry in effect, including any virtual size
// growth performed when the session opened
func (s *Session) Info() ScreenInfo {
	return s.info
}

// Budget returns the number of bytes of video memory the session manages
func (s *Session) Budget() int {
	return s.budget
}

// Allocator returns the session's surface allocator
func (s *Session) Allocator() *SurfaceAllocator {
	return s.allocator
}

// Synchronizer returns the session's presentation synchronizer
func (s *Session) Synchronizer() *Synchronizer {
	return s.synchronizer
}

// HasOverlay returns true when the driver exposes an overlay plane and the
// session was not created with SessionCreateDisableOverlay
func (s *Session) HasOverlay() bool {
	return s.negotiator != nil
}

// OverlayPlan returns the overlay negotiation outcome currently presenting,
// if any
func (s *Session) OverlayPlan() (OverlayPlan, bool) {
	return s.overlayPlan, s.overlayPrepared
}

// CreateSurface allocates a single displayable surface from video memory
func (s *Session) CreateSurface(template SurfaceTemplate) (*Surface, error) {
	return s.allocator.CreateSurface(template)
}

// CreateSystemSurface allocates a staging surface in process memory
func (s *Session) CreateSystemSurface(template SurfaceTemplate) (*Surface, error) {
	return s.allocator.CreateSystemSurface(template)
}

// DestroySurface returns a surface's memory to the session
func (s *Session) DestroySurface(surface *Surface) error {
	return s.allocator.DestroySurface(surface)
}

// LiveSurfaceCount returns the number of surfaces created and not yet
// destroyed across the whole session
func (s *Session) LiveSurfaceCount() int {
	return s.allocator.LiveSurfaceCount()
}

// Validate runs internal consistency checks between the surface registry and
// the video memory arena. Intended for tests and debug builds.
func (s *Session) Validate() error {
	return s.allocator.Validate()
}

// CheckCorruption verifies the debug markers past every arena-backed surface.
// It only has teeth when vidmem.DebugMargin is nonzero.
func (s *Session) CheckCorruption() error {
	s.logger.Debug("Session::CheckCorruption")

	return s.allocator.CheckCorruption()
}

func (s *Session) maxSurfacesForRole(role SurfaceRole) int {
	pooling := s.createFlags&SessionCreateDisableBufferPooling == 0

	if role == RoleOverlay {
		if pooling {
			return maxOverlaySurfaces
		}
		return maxUnpooledOverlaySurfaces
	}

	if pooling {
		return maxPrimarySurfaces
	}
	return maxUnpooledPrimarySurfaces
}

// SwapChainCreateInfo configures a swap chain
type SwapChainCreateInfo struct {
	// Role selects the scanout path. RolePrimary presents on the device's
	// primary surface; RoleOverlay requires overlay hardware.
	Role SurfaceRole

	// Width and Height are the content size. Ignored for RolePrimary, whose
	// surfaces are always screen-sized.
	Width  int
	Height int

	// CandidateFormats restricts overlay format negotiation to formats the
	// producer can deliver, in no particular order. Empty means any. Ignored
	// for RolePrimary.
	CandidateFormats []PixelFormat

	// BufferCount is the number of surfaces in the chain. 0 allocates as many
	// as the role's cap and video memory allow.
	BufferCount int
}

// CreateSwapChain builds a ring of displayable surfaces for one scanout path.
// Overlay chains negotiate a format and reserve the overlay plane; a session
// presents at most one overlay chain at a time. When the overlay cannot be
// had the error is classed ErrConfigUnsatisfiable and the caller is expected
// to fall back to a primary chain.
//
// Video memory pressure degrades the chain rather than failing it: fewer
// surfaces than requested, down to a single one, which still presents with
// CanFlip reporting false.
func (s *Session) CreateSwapChain(createInfo SwapChainCreateInfo) (*SwapChain, error) {
	s.logger.Debug("Session::CreateSwapChain",
		slog.String("Role", createInfo.Role.String()),
		slog.Int("BufferCount", createInfo.BufferCount),
	)

	var template SurfaceTemplate

	switch createInfo.Role {
	case RolePrimary:
		template = SurfaceTemplate{
			Width:  s.info.Width,
			Height: s.info.Height,
			Format: s.info.Format,
			Role:   RolePrimary,
		}

	case RoleOverlay:
		if s.negotiator == nil {
			return nil, errors.Wrap(ErrConfigUnsatisfiable, "this session has no overlay plane to present on")
		}
		if createInfo.Width < 1 || createInfo.Height < 1 {
			return nil, errors.Wrapf(ErrConfigUnsatisfiable,
				"overlay content size %dx%d is not displayable", createInfo.Width, createInfo.Height)
		}

		plan, err := s.negotiator.PlanOverlay(createInfo.Width, createInfo.Height, createInfo.CandidateFormats)
		if err != nil {
			return nil, err
		}
		err = s.prepareOverlay(plan, createInfo.Width, createInfo.Height)
		if err != nil {
			return nil, err
		}

		template = SurfaceTemplate{
			Width:  createInfo.Width,
			Height: createInfo.Height,
			Format: plan.Format,
			Role:   RoleOverlay,
		}

	default:
		return nil, errors.Newf("%s is not a role swap chains can be created for", createInfo.Role.String())
	}

	surfaces, err := s.allocateChainSurfaces(template, createInfo.BufferCount)
	if err != nil {
		if createInfo.Role == RoleOverlay {
			s.releaseOverlay()
		}
		return nil, err
	}

	// Overlay presentation flips between at least two surfaces; a plane that
	// can only ever show the surface being rendered into is worse than the
	// primary path, so the chain fails toward that fallback instead
	if createInfo.Role == RoleOverlay && len(surfaces) < 2 {
		s.destroyChainSurfaces(surfaces)
		s.releaseOverlay()
		return nil, errors.Wrapf(ErrConfigUnsatisfiable,
			"only %d overlay surfaces fit in video memory, and overlay presentation needs at least 2",
			len(surfaces))
	}

	return newSwapChain(s, createInfo.Role, surfaces), nil
}

func (s *Session) destroyChainSurfaces(surfaces []*Surface) {
	for _, surface := range surfaces {
		err := s.allocator.DestroySurface(surface)
		if err != nil {
			s.logger.LogAttrs(context.Background(), slog.LevelError,
				"failed to destroy a surface while unwinding a failed swap chain",
				slog.Any("error", err))
		}
	}
}

// allocateChainSurfaces builds the chain's surface ring. A shortfall of video
// memory degrades the ring to however many surfaces fit rather than failing;
// only a chain that cannot fit even one surface is an error.
func (s *Session) allocateChainSurfaces(template SurfaceTemplate, requested int) ([]*Surface, error) {
	target := requested
	roleCap := s.maxSurfacesForRole(template.Role)
	if target < 1 || target > roleCap {
		target = roleCap
	}

	var surfaces []*Surface
	for len(surfaces) < target {
		surface, err := s.allocator.CreateSurface(template)
		if err == nil {
			surfaces = append(surfaces, surface)
			continue
		}

		if errors.Is(err, ErrResourceExhausted) && len(surfaces) > 0 {
			s.logger.LogAttrs(context.Background(), slog.LevelWarn,
				"video memory ran out while building the swap chain, continuing with fewer surfaces",
				slog.Int("requested", target),
				slog.Int("allocated", len(surfaces)))
			break
		}

		s.destroyChainSurfaces(surfaces)
		return nil, err
	}

	return surfaces, nil
}

func (s *Session) prepareOverlay(plan OverlayPlan, width, height int) error {
	if s.overlayPrepared {
		return errors.Wrap(ErrConfigUnsatisfiable, "the overlay plane is already presenting another swap chain")
	}

	err := s.overlayDriver.PrepareOverlay(plan.Format, width, height)
	if err != nil {
		// Double-classed: this is a driver failure, but callers recover from it
		// the way they recover from any unusable overlay, by presenting on the
		// primary plane instead
		return errors.Mark(
			errors.Mark(
				errors.Wrapf(err, "failed to reserve the overlay plane for %dx%d %s",
					width, height, plan.Format.String()),
				ErrDriverIO),
			ErrConfigUnsatisfiable)
	}

	s.overlayPlan = plan
	s.overlayPrepared = true
	return nil
}

// releaseOverlay hides and unreserves the overlay plane. Safe to call when no
// overlay is prepared.
func (s *Session) releaseOverlay() {
	if !s.overlayPrepared {
		return
	}

	err := s.overlayDriver.HideOverlay()
	if err != nil {
		s.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to hide the overlay plane",
			slog.Any("error", err))
	}
	err = s.overlayDriver.ReleaseOverlay()
	if err != nil {
		s.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to release the overlay plane",
			slog.Any("error", err))
	}

	s.overlayPrepared = false
	s.overlayPlan = OverlayPlan{}
}

// Present runs one presentation cycle on the chain. The render callback is
// handed the back buffer to fill, and on success the surface goes to the
// hardware on the chain's scanout path. A render error or a rejected scanout
// change drops the frame: the chain does not advance and the error comes
// back.
//
// Present is single-owner: one goroutine per session drives presentation.
func (s *Session) Present(chain *SwapChain, render func(surface *Surface) error) error {
	if chain.Role() == RoleOverlay {
		if !s.overlayPrepared {
			return errors.Wrap(ErrConfigUnsatisfiable, "the overlay plane is not prepared for this chain")
		}
		return s.synchronizer.PresentWith(chain, render, s.submitOverlay)
	}

	return s.synchronizer.Present(chain, render)
}

func (s *Session) submitOverlay(surface *Surface) error {
	return s.synchronizer.SubmitShow(surface, s.showOverlaySurface)
}

func (s *Session) showOverlaySurface(target ScanoutTarget) error {
	return s.overlayDriver.ShowOverlay(target, s.overlayPlan.Desc)
}

// PresentFrame presents one frame of content on the chain. Primary chains get
// a centered, clipped copy; overlay chains get a stride-translating repack
// into the negotiated layout.
func (s *Session) PresentFrame(chain *SwapChain, frame *FrameData) error {
	if chain.Role() == RoleOverlay {
		return s.Present(chain, func(surface *Surface) error {
			return Repack(surface, frame)
		})
	}

	return s.Present(chain, func(surface *Surface) error {
		return CopyCentered(surface, frame)
	})
}

// CreateFramePool builds a pool that recycles surfaces of one shape
func (s *Session) CreateFramePool(createInfo FramePoolCreateInfo) (*FramePool, error) {
	s.logger.Debug("Session::CreateFramePool",
		slog.String("Format", createInfo.Template.Format.String()),
		slog.Int("MinSurfaces", createInfo.MinSurfaces),
		slog.Int("MaxSurfaces", createInfo.MaxSurfaces),
	)

	if createInfo.MaxSurfaces != 0 && createInfo.MinSurfaces > createInfo.MaxSurfaces {
		return nil, errors.Newf("provided MinSurfaces %d was greater than provided MaxSurfaces %d",
			createInfo.MinSurfaces, createInfo.MaxSurfaces)
	}

	pool := &FramePool{
		logger:        s.logger,
		parentSession: s,
		template:      createInfo.Template,
		maxSurfaces:   createInfo.MaxSurfaces,
		freeMutex:     utils.OptionalMutex{UseMutex: s.useMutex},
	}

	err := pool.createMinSurfaces(createInfo.MinSurfaces)
	if err != nil {
		destroyErr := pool.Destroy()
		if destroyErr != nil {
			s.logger.Error("error attempting to destroy frame pool after creation failure",
				slog.Any("error", destroyErr))
		}
		return nil, err
	}

	s.poolsMutex.Lock()
	defer s.poolsMutex.Unlock()

	s.nextPoolID++
	err = pool.SetID(s.nextPoolID)
	if err != nil {
		destroyErr := pool.destroyAfterLock()
		if destroyErr != nil {
			s.logger.Error("error attempting to destroy frame pool after failing to set id",
				slog.Any("error", destroyErr))
		}
		return nil, err
	}

	pool.next = s.pools
	if s.pools != nil {
		s.pools.prev = pool
	}
	s.pools = pool

	return pool, nil
}

// CalculateStatistics computes a fast summary of video memory usage
func (s *Session) CalculateStatistics(stats *vidmem.Statistics) {
	s.logger.Debug("Session::CalculateStatistics")

	stats.Clear()
	s.allocator.AddStatistics(stats)
}

// CalculateDetailedStatistics computes full video memory usage statistics,
// including unused range data. Slower than CalculateStatistics.
func (s *Session) CalculateDetailedStatistics(stats *vidmem.DetailedStatistics) {
	s.logger.Debug("Session::CalculateDetailedStatistics")

	stats.Clear()
	s.allocator.AddDetailedStatistics(stats)
}

// BuildStatsString builds a JSON string describing the session's memory and
// presentation state. When detailedMap is set it includes the arena's block
// map and every live surface.
func (s *Session) BuildStatsString(detailedMap bool) string {
	s.logger.Debug("Session::BuildStatsString")

	writer := jwriter.NewWriter()
	obj := writer.Object()

	general := obj.Name("General").Object()
	general.Name("Width").Int(s.info.Width)
	general.Name("Height").Int(s.info.Height)
	general.Name("VirtualWidth").Int(s.info.VirtualWidth)
	general.Name("VirtualHeight").Int(s.info.VirtualHeight)
	general.Name("Format").String(s.info.Format.String())
	general.Name("Pitch").Int(s.info.Pitch)
	general.Name("Budget").Int(s.budget)
	general.Name("MemorySize").Int(s.info.MemorySize)
	general.End()

	var stats vidmem.DetailedStatistics
	stats.Clear()
	s.allocator.AddDetailedStatistics(&stats)

	total := obj.Name("Total").Object()
	writeDetailedStatsJson(&total, &stats)
	total.End()

	var systemStats vidmem.Statistics
	systemStats.Clear()
	s.allocator.AddSystemStatistics(&systemStats)

	system := obj.Name("SystemMemory").Object()
	system.Name("Allocations").Int(systemStats.AllocationCount)
	system.Name("AllocationBytes").Int(systemStats.AllocationBytes)
	system.End()

	presentation := obj.Name("Presentation").Object()
	presentation.Name("FramesPresented").Int(s.synchronizer.FramesPresented())
	presentation.Name("FramesDropped").Int(s.synchronizer.FramesDropped())
	presentation.Name("VsyncEnabled").Bool(s.synchronizer.VsyncEnabled())
	presentation.Name("VsyncTimeouts").Int(s.synchronizer.VsyncTimeouts())
	presentation.Name("FlipFailures").Int(s.synchronizer.FlipFailures())
	presentation.End()

	if detailedMap {
		if s.memArena != nil {
			arenaObj := obj.Name("Arena").Object()
			s.allocator.arenaMutex.Lock()
			s.memArena.BlockJsonData(arenaObj)
			s.allocator.arenaMutex.Unlock()
			arenaObj.End()
		}

		s.allocator.buildSurfacesJson(obj.Name("Surfaces"))
	}

	obj.End()
	return string(writer.Bytes())
}

func writeDetailedStatsJson(json *jwriter.ObjectState, stats *vidmem.DetailedStatistics) {
	json.Name("ArenaCount").Int(stats.ArenaCount)
	json.Name("ArenaBytes").Int(stats.ArenaBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	if stats.AllocationCount > 1 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.UnusedRangeCount > 1 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

// Close drains presentation, reclaims every surface, and releases the device.
// Surfaces still alive are leaks: each is reported at Error level and then
// reclaimed so the device can be given back. Teardown always runs to
// completion; the first error encountered is returned.
func (s *Session) Close() error {
	s.logger.Debug("Session::Close")

	if s.closed {
		return errors.New("the session is already closed")
	}
	s.closed = true

	var firstErr error

	s.synchronizer.Drain(nil)
	s.releaseOverlay()

	s.poolsMutex.Lock()
	pool := s.pools
	for pool != nil {
		next := pool.next
		err := pool.destroyAfterLock()
		if err != nil {
			s.logger.LogAttrs(context.Background(), slog.LevelError,
				"a frame pool could not be destroyed at session close",
				slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
		}
		pool = next
	}
	s.poolsMutex.Unlock()

	err := s.allocator.destroy()
	if err != nil && firstErr == nil {
		firstErr = err
	}

	if s.mapped != nil && s.createFlags&SessionCreateSkipClear == 0 {
		// Leave a black screen behind rather than the last frame presented
		for i := range s.mapped {
			s.mapped[i] = 0
		}
	}

	s.allocator.mapped = nil
	s.mapped = nil

	err = s.driver.Close()
	if err != nil {
		err = errors.Mark(errors.Wrap(err, "failed to close the display driver"), ErrDriverIO)
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
