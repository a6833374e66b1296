package display

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/go-scanout/scanout/display/internal/utils"
	"github.com/go-scanout/scanout/vidmem"
	"github.com/go-scanout/scanout/vidmem/arena"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
)

// SurfaceTemplate describes the surface being requested from a
// SurfaceAllocator. Alignment can usually be left zero, in which case the
// allocator applies the defaults for the surface's role.
type SurfaceTemplate struct {
	Width  int
	Height int
	Format PixelFormat
	Role   SurfaceRole

	// Alignment overrides the allocator's per-role alignment defaults when
	// any field is nonzero
	Alignment AlignmentSpec
}

var surfaceObjectPool = sync.Pool{
	New: func() any {
		return &Surface{}
	},
}

// SurfaceAllocator carves displayable surfaces out of a session's video
// memory. Arena-backed surfaces are windows into the session's mapped region;
// when the driver allocates per-surface buffer objects, surfaces wrap those
// instead. Every live surface is tracked so that teardown can report leaks.
type SurfaceAllocator struct {
	logger *slog.Logger

	arena      *arena.Arena
	arenaMutex utils.OptionalMutex
	mapped     []byte
	pitch      int

	objectDriver BufferObjectDriver

	surfaces      *swiss.Map[SurfaceID, *Surface]
	surfacesMutex utils.OptionalRWMutex
	nextSurfaceID SurfaceID

	callbacks *surfaceCallbacks

	primaryAlignment   AlignmentSpec
	overlayAlignment   AlignmentSpec
	overlayFixedStride bool
}

func newSurfaceAllocator(
	logger *slog.Logger,
	memArena *arena.Arena,
	mapped []byte,
	pitch int,
	useMutex bool,
	objectDriver BufferObjectDriver,
	callbacks *surfaceCallbacks,
	primaryAlignment AlignmentSpec,
) *SurfaceAllocator {
	return &SurfaceAllocator{
		logger: logger,

		arena:      memArena,
		arenaMutex: utils.OptionalMutex{UseMutex: useMutex},
		mapped:     mapped,
		pitch:      pitch,

		objectDriver: objectDriver,

		surfaces:      swiss.NewMap[SurfaceID, *Surface](42),
		surfacesMutex: utils.OptionalRWMutex{UseMutex: useMutex},

		callbacks: callbacks,

		primaryAlignment: primaryAlignment.withDefaults(),
		overlayAlignment: AlignmentSpec{}.withDefaults(),
	}
}

func (a *SurfaceAllocator) setOverlayAlignment(alignment AlignmentSpec, fixedStride bool) {
	a.overlayAlignment = alignment.withDefaults()
	a.overlayFixedStride = fixedStride
}

func (a *SurfaceAllocator) alignmentForRole(role SurfaceRole) AlignmentSpec {
	if role == RoleOverlay {
		return a.overlayAlignment
	}
	return a.primaryAlignment
}

// layoutPlanes walks the format's planes in order, aligning each plane offset
// and each stride, and returns the plane layouts together with the total byte
// size of the surface
func layoutPlanes(format PixelFormat, width, height int, alignment AlignmentSpec) ([]PlaneLayout, int) {
	planeCount := format.PlaneCount()
	planes := make([]PlaneLayout, planeCount)

	var size int
	for planeIndex := 0; planeIndex < planeCount; planeIndex++ {
		size = vidmem.AlignUp(size, alignment.PlaneAlign)

		rowBytes := format.RowBytes(planeIndex, width)
		stride := vidmem.AlignUp(rowBytes, alignment.ScanlineAlign)
		planeHeight := format.PlaneHeight(planeIndex, height)

		planes[planeIndex] = PlaneLayout{
			Offset:   size,
			Stride:   stride,
			RowBytes: rowBytes,
			Height:   planeHeight,
		}

		size += stride * planeHeight
	}

	return planes, size
}

// layoutForRole builds a surface's plane layout, forcing the device pitch
// onto primary surfaces. Keeping primary strides and sizes at whole scanlines
// keeps every arena offset pannable.
func (a *SurfaceAllocator) layoutForRole(template SurfaceTemplate, alignment AlignmentSpec) ([]PlaneLayout, int) {
	planes, size := layoutPlanes(template.Format, template.Width, template.Height, alignment)

	if template.Role == RolePrimary && a.pitch > planes[0].Stride {
		planes[0].Stride = a.pitch
		planes = rebasePlanes(planes)
		last := planes[len(planes)-1]
		size = last.Offset + last.Size()
	}

	return planes, size
}

func (a *SurfaceAllocator) validateTemplate(template SurfaceTemplate) error {
	if template.Width < 1 || template.Height < 1 {
		return errors.Wrapf(ErrConfigUnsatisfiable,
			"surface dimensions %dx%d are not displayable", template.Width, template.Height)
	}
	if template.Format.PlaneCount() == 0 {
		return errors.Wrapf(ErrConfigUnsatisfiable,
			"%s is not an allocatable surface format", template.Format.String())
	}
	if template.Width%2 != 0 && !template.Format.SupportsOddWidth() {
		return errors.Wrapf(ErrConfigUnsatisfiable,
			"%s cannot represent the odd frame width %d", template.Format.String(), template.Width)
	}
	return nil
}

// CreateSurface allocates a displayable surface from video memory. When the
// driver hands out per-surface buffer objects the surface wraps a new object;
// otherwise a block is carved from the session arena. A wrapped
// ErrResourceExhausted comes back when the arena cannot fit the surface, and
// callers are expected to degrade (fewer buffers, or CreateSystemSurface).
func (a *SurfaceAllocator) CreateSurface(template SurfaceTemplate) (*Surface, error) {
	a.logger.Debug("SurfaceAllocator::CreateSurface")

	err := a.validateTemplate(template)
	if err != nil {
		return nil, err
	}

	alignment := template.Alignment
	if alignment == (AlignmentSpec{}) {
		alignment = a.alignmentForRole(template.Role)
	}
	alignment = alignment.withDefaults()

	if a.objectDriver != nil {
		return a.createObjectSurface(template, alignment)
	}

	planes, size := a.layoutForRole(template, alignment)

	a.arenaMutex.Lock()
	block, err := a.arena.Allocate(size, alignment.StartAlign)
	a.arenaMutex.Unlock()
	if err != nil {
		if errors.Is(err, arena.ErrResourceExhausted) {
			err = errors.Mark(err, ErrResourceExhausted)
		}
		return nil, err
	}

	surface := a.allocateSurfaceObject(template)
	surface.initArenaSurface(block, planes, alignment)
	if template.Role == RoleOverlay {
		// The layout was built to the overlay plane's own rules
		surface.flags |= surfaceNativeLayout
	}

	if vidmem.DebugMargin > 0 && a.mapped != nil {
		vidmem.WriteMagicValue(a.mapped, block.End())
		surface.fillSurface(vidmem.CreatedFillPattern)
	}

	a.registerSurface(surface)
	a.callbacks.Allocate(template.Role, size, block.Offset)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "  Allocated surface from arena",
		slog.Int("offset", block.Offset),
		slog.Int("size", size))

	return surface, nil
}

func (a *SurfaceAllocator) createObjectSurface(template SurfaceTemplate, alignment AlignmentSpec) (*Surface, error) {
	object, err := a.objectDriver.CreateBufferObject(template.Width, template.Height, template.Format)
	if err != nil {
		return nil, errors.Mark(
			errors.Wrapf(err, "failed to create a %dx%d %s buffer object",
				template.Width, template.Height, template.Format.String()),
			ErrDriverIO)
	}

	// The driver chose the pitch, so the layout is rebuilt around it
	planes, _ := layoutPlanes(template.Format, template.Width, template.Height, alignment)
	if object.Pitch > planes[0].Stride {
		planes[0].Stride = object.Pitch
		planes = rebasePlanes(planes)
	}

	surface := a.allocateSurfaceObject(template)
	surface.initObjectSurface(object, planes, alignment)
	if template.Role == RoleOverlay {
		surface.flags |= surfaceNativeLayout
	}

	if vidmem.DebugMargin > 0 {
		surface.fillSurface(vidmem.CreatedFillPattern)
	}

	a.registerSurface(surface)
	a.callbacks.Allocate(template.Role, object.Size, 0)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "  Allocated buffer object surface",
		slog.Any("handle", object.Handle),
		slog.Int("size", object.Size))

	return surface, nil
}

// rebasePlanes recomputes plane offsets after a stride adjustment so that the
// planes remain contiguous and in order
func rebasePlanes(planes []PlaneLayout) []PlaneLayout {
	var offset int
	for planeIndex := range planes {
		planes[planeIndex].Offset = offset
		offset += planes[planeIndex].Size()
	}
	return planes
}

// CreateSystemSurface allocates a surface in process memory with the same
// plane layout an arena surface would have. System surfaces cannot be scanned
// out; they exist for staging and for degraded operation when video memory is
// exhausted.
func (a *SurfaceAllocator) CreateSystemSurface(template SurfaceTemplate) (*Surface, error) {
	a.logger.Debug("SurfaceAllocator::CreateSystemSurface")

	err := a.validateTemplate(template)
	if err != nil {
		return nil, err
	}

	alignment := template.Alignment
	if alignment == (AlignmentSpec{}) {
		alignment = a.alignmentForRole(template.Role)
	}
	alignment = alignment.withDefaults()

	planes, size := a.layoutForRole(template, alignment)

	surface := a.allocateSurfaceObject(template)
	surface.initSystemSurface(make([]byte, size), planes, alignment)

	a.registerSurface(surface)
	a.callbacks.Allocate(template.Role, size, 0)

	return surface, nil
}

// DestroySurface returns a surface's memory. For arena surfaces the block must
// still match a live allocation; a mismatch means the surface was corrupted or
// double-freed, which panics in debug builds and is logged and ignored in
// production builds.
func (a *SurfaceAllocator) DestroySurface(surface *Surface) error {
	a.logger.Debug("SurfaceAllocator::DestroySurface")

	if surface.parentAllocator == nil {
		return errors.Errorf("surface %d was already destroyed", surface.id)
	}
	if surface.parentAllocator != a {
		return errors.New("attempted to destroy a surface that belongs to a different session")
	}

	if !a.unregisterSurface(surface) {
		err := errors.Errorf("surface %d was already destroyed", surface.id)
		if vidmem.DebugMargin > 0 {
			panic(err)
		}
		a.logger.LogAttrs(context.Background(), slog.LevelError, "attempted to destroy a dead surface",
			slog.Any("error", err))
		return nil
	}

	role := surface.role
	size := surface.size
	offset := surface.Offset()

	err := a.releaseSurfaceMemory(surface)

	surface.free()
	a.recycleSurfaceObject(surface)
	a.callbacks.Free(role, size, offset)

	return err
}

func (a *SurfaceAllocator) releaseSurfaceMemory(surface *Surface) error {
	switch surface.memoryKind {
	case memoryKindArena:
		if vidmem.DebugMargin > 0 && a.mapped != nil {
			if !vidmem.ValidateMagicValue(a.mapped, surface.block.End()) {
				panic("MEMORY CORRUPTION DETECTED AFTER FREED SURFACE")
			}
			surface.fillSurface(vidmem.DestroyedFillPattern)
		}

		a.arenaMutex.Lock()
		err := a.arena.Free(surface.block)
		a.arenaMutex.Unlock()

		if err != nil {
			if vidmem.DebugMargin > 0 {
				panic(err)
			}
			a.logger.LogAttrs(context.Background(), slog.LevelError, "freeing a surface block failed",
				slog.Any("error", err))
		}
		return nil

	case memoryKindBufferObject:
		if vidmem.DebugMargin > 0 {
			surface.fillSurface(vidmem.DestroyedFillPattern)
		}

		err := a.objectDriver.DestroyBufferObject(surface.object)
		if err != nil {
			return errors.Mark(
				errors.Wrapf(err, "failed to destroy buffer object %d", surface.object.Handle),
				ErrDriverIO)
		}
		return nil

	case memoryKindSystem:
		return nil
	}

	return errors.Errorf("surface %d has no backing memory to release", surface.id)
}

func (a *SurfaceAllocator) allocateSurfaceObject(template SurfaceTemplate) *Surface {
	surface := surfaceObjectPool.Get().(*Surface)

	a.surfacesMutex.Lock()
	a.nextSurfaceID++
	id := a.nextSurfaceID
	a.surfacesMutex.Unlock()

	surface.init(a, id, template.Role, template.Format, template.Width, template.Height)
	return surface
}

func (a *SurfaceAllocator) recycleSurfaceObject(surface *Surface) {
	surface.parentAllocator = nil
	surfaceObjectPool.Put(surface)
}

func (a *SurfaceAllocator) registerSurface(surface *Surface) {
	a.surfacesMutex.Lock()
	defer a.surfacesMutex.Unlock()

	a.surfaces.Put(surface.id, surface)
}

func (a *SurfaceAllocator) unregisterSurface(surface *Surface) bool {
	a.surfacesMutex.Lock()
	defer a.surfacesMutex.Unlock()

	_, live := a.surfaces.Get(surface.id)
	if live {
		a.surfaces.Delete(surface.id)
	}
	return live
}

// LiveSurfaceCount returns the number of surfaces created and not yet destroyed
func (a *SurfaceAllocator) LiveSurfaceCount() int {
	a.surfacesMutex.RLock()
	defer a.surfacesMutex.RUnlock()

	return a.surfaces.Count()
}

// Validate performs internal consistency checks between the surface registry
// and the arena
func (a *SurfaceAllocator) Validate() error {
	a.surfacesMutex.RLock()
	arenaBacked := 0
	a.surfaces.Iter(func(id SurfaceID, surface *Surface) bool {
		if surface.memoryKind == memoryKindArena {
			arenaBacked++
		}
		return false
	})
	a.surfacesMutex.RUnlock()

	if a.arena == nil {
		if arenaBacked != 0 {
			return errors.Errorf(
				"the registry holds %d arena-backed surfaces, but the session has no arena", arenaBacked)
		}
		return nil
	}

	a.arenaMutex.Lock()
	defer a.arenaMutex.Unlock()

	if arenaBacked != a.arena.AllocationCount() {
		return errors.Errorf(
			"the registry holds %d arena-backed surfaces, but the arena has %d live blocks",
			arenaBacked, a.arena.AllocationCount())
	}

	return a.arena.Validate()
}

// CheckCorruption walks every arena-backed surface and verifies the debug
// markers past each block. It only has teeth when vidmem.DebugMargin is
// nonzero; production builds always return nil.
func (a *SurfaceAllocator) CheckCorruption() error {
	if vidmem.DebugMargin == 0 || a.mapped == nil {
		return nil
	}

	a.surfacesMutex.RLock()
	defer a.surfacesMutex.RUnlock()

	var corrupt *Surface
	a.surfaces.Iter(func(id SurfaceID, surface *Surface) bool {
		if surface.memoryKind != memoryKindArena {
			return false
		}
		if !vidmem.ValidateMagicValue(a.mapped, surface.block.End()) {
			corrupt = surface
			return true
		}
		return false
	})

	if corrupt != nil {
		return errors.Errorf(
			"the debug marker after surface %d (offset %d, size %d) was overwritten",
			corrupt.id, corrupt.block.Offset, corrupt.size)
	}

	return nil
}

// AddDetailedStatistics sums video memory statistics into the provided object.
// Buffer object surfaces count as their own arenas, the way dedicated device
// memory would. System surfaces are not video memory and are excluded; see
// AddSystemStatistics.
func (a *SurfaceAllocator) AddDetailedStatistics(stats *vidmem.DetailedStatistics) {
	if a.arena != nil {
		a.arenaMutex.Lock()
		a.arena.AddDetailedStatistics(stats)
		a.arenaMutex.Unlock()
	}

	a.surfacesMutex.RLock()
	defer a.surfacesMutex.RUnlock()

	a.surfaces.Iter(func(id SurfaceID, surface *Surface) bool {
		if surface.memoryKind == memoryKindBufferObject {
			stats.ArenaCount++
			stats.ArenaBytes += surface.size
			stats.AddAllocation(surface.size)
		}
		return false
	})
}

// AddStatistics sums video memory statistics into the provided object
func (a *SurfaceAllocator) AddStatistics(stats *vidmem.Statistics) {
	if a.arena != nil {
		a.arenaMutex.Lock()
		a.arena.AddStatistics(stats)
		a.arenaMutex.Unlock()
	}

	a.surfacesMutex.RLock()
	defer a.surfacesMutex.RUnlock()

	a.surfaces.Iter(func(id SurfaceID, surface *Surface) bool {
		if surface.memoryKind == memoryKindBufferObject {
			stats.ArenaCount++
			stats.ArenaBytes += surface.size
			stats.AllocationCount++
			stats.AllocationBytes += surface.size
		}
		return false
	})
}

// AddSystemStatistics sums the statistics of system memory surfaces into the
// provided object
func (a *SurfaceAllocator) AddSystemStatistics(stats *vidmem.Statistics) {
	a.surfacesMutex.RLock()
	defer a.surfacesMutex.RUnlock()

	a.surfaces.Iter(func(id SurfaceID, surface *Surface) bool {
		if surface.memoryKind == memoryKindSystem {
			stats.AllocationCount++
			stats.AllocationBytes += surface.size
		}
		return false
	})
}

func (a *SurfaceAllocator) buildSurfacesJson(writer *jwriter.Writer) {
	a.surfacesMutex.RLock()
	defer a.surfacesMutex.RUnlock()

	s := writer.Array()
	defer s.End()

	a.surfaces.Iter(func(id SurfaceID, surface *Surface) bool {
		o := s.Object()
		surface.printParameters(&o)
		o.End()
		return false
	})
}

// destroy tears the allocator down. Live surfaces at this point are leaks:
// each is reported at Error level and then reclaimed so the session can close.
func (a *SurfaceAllocator) destroy() error {
	var leaked []*Surface

	a.surfacesMutex.RLock()
	a.surfaces.Iter(func(id SurfaceID, surface *Surface) bool {
		leaked = append(leaked, surface)
		return false
	})
	a.surfacesMutex.RUnlock()

	for _, surface := range leaked {
		a.logUnreleasedSurface(surface)
	}

	for _, surface := range leaked {
		err := a.DestroySurface(surface)
		if err != nil {
			return err
		}
	}

	if len(leaked) > 0 {
		return errors.Errorf("%d surfaces were not destroyed before the session was closed", len(leaked))
	}

	return nil
}

func (a *SurfaceAllocator) logUnreleasedSurface(surface *Surface) {
	name := surface.Name()
	if name == "" {
		name = "empty"
	}

	a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED SURFACE] undestroyed surface",
		slog.Any("id", surface.id),
		slog.String("role", surface.role.String()),
		slog.Int("offset", surface.Offset()),
		slog.Int("size", surface.size),
		slog.Any("userData", surface.UserData()),
		slog.String("name", name),
	)
}
