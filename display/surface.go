package display

import (
	"fmt"

	"github.com/go-scanout/scanout/display/internal/utils"
	"github.com/go-scanout/scanout/vidmem"
	"github.com/go-scanout/scanout/vidmem/arena"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// SurfaceID uniquely identifies a live surface within its session
type SurfaceID uint64

// SurfaceRole describes the scanout path a surface is intended for
type SurfaceRole byte

const (
	// RolePrimary surfaces hold frames for the primary scanout plane
	RolePrimary SurfaceRole = iota
	// RoleOverlay surfaces hold frames for a hardware overlay plane
	RoleOverlay
)

var surfaceRoleMapping = make(map[SurfaceRole]string)

func (r SurfaceRole) String() string {
	return surfaceRoleMapping[r]
}

func init() {
	surfaceRoleMapping[RolePrimary] = "RolePrimary"
	surfaceRoleMapping[RoleOverlay] = "RoleOverlay"
}

type surfaceMemoryKind byte

const (
	memoryKindNone surfaceMemoryKind = iota
	memoryKindArena
	memoryKindBufferObject
	memoryKindSystem
)

var surfaceMemoryKindMapping = make(map[surfaceMemoryKind]string)

func (k surfaceMemoryKind) String() string {
	return surfaceMemoryKindMapping[k]
}

func init() {
	surfaceMemoryKindMapping[memoryKindNone] = "memoryKindNone"
	surfaceMemoryKindMapping[memoryKindArena] = "memoryKindArena"
	surfaceMemoryKindMapping[memoryKindBufferObject] = "memoryKindBufferObject"
	surfaceMemoryKindMapping[memoryKindSystem] = "memoryKindSystem"
}

type surfaceFlags uint32

const (
	// surfaceScanout marks surfaces the hardware can present directly
	surfaceScanout surfaceFlags = 1 << iota
	// surfaceNativeLayout marks overlay surfaces whose plane layout the
	// hardware accepts without a repack copy
	surfaceNativeLayout
)

var surfaceFlagsMapping = utils.NewFlagStringMapping[surfaceFlags]()

func init() {
	surfaceFlagsMapping.Register(surfaceScanout, "surfaceScanout")
	surfaceFlagsMapping.Register(surfaceNativeLayout, "surfaceNativeLayout")
}

// PlaneLayout locates one plane of a surface within the surface's memory
type PlaneLayout struct {
	// Offset is the plane's first byte, relative to the surface start
	Offset int
	// Stride is the number of bytes from one row to the next
	Stride int
	// RowBytes is the number of meaningful bytes per row, at most Stride
	RowBytes int
	// Height is the number of rows
	Height int
}

// Size returns the total number of bytes the plane occupies
func (p PlaneLayout) Size() int {
	return p.Stride * p.Height
}

// Surface is a single frame's worth of displayable memory. Surfaces are
// created by a SurfaceAllocator and remain valid until destroyed through it.
// The backing memory is one of: a block carved from the session's video memory
// arena, a driver buffer object, or plain process memory for staging.
type Surface struct {
	id        SurfaceID
	role      SurfaceRole
	format    PixelFormat
	width     int
	height    int
	alignment AlignmentSpec
	size      int
	planes    []PlaneLayout
	flags     surfaceFlags

	memoryKind   surfaceMemoryKind
	block        arena.Block
	object       *BufferObject
	systemMemory []byte

	parentAllocator *SurfaceAllocator
	userData        any
	name            string
}

func (s *Surface) init(allocator *SurfaceAllocator, id SurfaceID, role SurfaceRole, format PixelFormat, width, height int) {
	s.id = id
	s.role = role
	s.format = format
	s.width = width
	s.height = height
	s.alignment = AlignmentSpec{}
	s.size = 0
	s.planes = nil
	s.flags = 0

	s.memoryKind = memoryKindNone
	s.block = arena.Block{}
	s.object = nil
	s.systemMemory = nil

	s.parentAllocator = allocator
	s.userData = nil
	s.name = ""
}

func (s *Surface) initArenaSurface(block arena.Block, planes []PlaneLayout, alignment AlignmentSpec) {
	if s.memoryKind != memoryKindNone {
		panic("attempting to init a surface that has already been initialized")
	}
	if block.Size < 1 {
		panic("attempting to init an arena surface from an empty block")
	}

	s.memoryKind = memoryKindArena
	s.block = block
	s.size = block.Size
	s.planes = planes
	s.alignment = alignment
	s.flags |= surfaceScanout
}

func (s *Surface) initObjectSurface(object *BufferObject, planes []PlaneLayout, alignment AlignmentSpec) {
	if s.memoryKind != memoryKindNone {
		panic("attempting to init a surface that has already been initialized")
	}
	if object == nil || object.Data == nil {
		panic("attempting to init a buffer object surface using a nil buffer object")
	}

	s.memoryKind = memoryKindBufferObject
	s.object = object
	s.size = object.Size
	s.planes = planes
	s.alignment = alignment
	s.flags |= surfaceScanout
}

func (s *Surface) initSystemSurface(memory []byte, planes []PlaneLayout, alignment AlignmentSpec) {
	if s.memoryKind != memoryKindNone {
		panic("attempting to init a surface that has already been initialized")
	}

	s.memoryKind = memoryKindSystem
	s.systemMemory = memory
	s.size = len(memory)
	s.planes = planes
	s.alignment = alignment
}

func (s *Surface) free() {
	s.memoryKind = memoryKindNone
	s.block = arena.Block{}
	s.object = nil
	s.systemMemory = nil
	s.flags = 0
}

// ID returns the surface's identity within its session
func (s *Surface) ID() SurfaceID { return s.id }

// Role returns the scanout path this surface was created for
func (s *Surface) Role() SurfaceRole { return s.role }

// Format returns the surface's pixel format
func (s *Surface) Format() PixelFormat { return s.format }

// Width returns the frame width in pixels
func (s *Surface) Width() int { return s.width }

// Height returns the frame height in pixels
func (s *Surface) Height() int { return s.height }

// Size returns the total number of bytes backing the surface
func (s *Surface) Size() int { return s.size }

// Alignment returns the alignment requirements the surface's layout satisfies
func (s *Surface) Alignment() AlignmentSpec { return s.alignment }

// PlaneCount returns the number of memory planes in the surface's layout
func (s *Surface) PlaneCount() int { return len(s.planes) }

// Plane returns the layout of one plane
func (s *Surface) Plane(planeIndex int) PlaneLayout {
	return s.planes[planeIndex]
}

// IsSystemMemory returns true when the surface lives in process memory rather
// than scanout-capable video memory
func (s *Surface) IsSystemMemory() bool {
	return s.memoryKind == memoryKindSystem
}

// CanScanOut returns true when the hardware can present this surface directly
func (s *Surface) CanScanOut() bool {
	return s.flags&surfaceScanout != 0
}

// HasNativeLayout returns true when an overlay driver accepted the surface's
// plane layout without requiring a repack copy
func (s *Surface) HasNativeLayout() bool {
	return s.flags&surfaceNativeLayout != 0
}

// Offset returns the surface's byte offset within the session's mapped video
// memory. Only meaningful for arena-backed surfaces; buffer object and system
// surfaces return 0.
func (s *Surface) Offset() int {
	if s.memoryKind == memoryKindArena {
		return s.block.Offset
	}
	return 0
}

// ScanoutTarget returns the identity the driver should scan out to present
// this surface
func (s *Surface) ScanoutTarget() ScanoutTarget {
	switch s.memoryKind {
	case memoryKindArena:
		return ScanoutTarget{OffsetBytes: s.block.Offset}
	case memoryKindBufferObject:
		return ScanoutTarget{Object: s.object}
	}

	panic(fmt.Sprintf("attempting to build a scanout target for a surface with memory kind %s", s.memoryKind))
}

// Bytes returns the surface's memory. For arena surfaces this is a window into
// the session's mapped region and is only valid while the session is open.
func (s *Surface) Bytes() []byte {
	switch s.memoryKind {
	case memoryKindArena:
		mapped := s.parentAllocator.mapped
		if mapped == nil {
			panic("attempting to access an arena surface after the session mapping was released")
		}
		return mapped[s.block.Offset : s.block.Offset+s.size : s.block.Offset+s.size]
	case memoryKindBufferObject:
		return s.object.Data[:s.size:s.size]
	case memoryKindSystem:
		return s.systemMemory
	}

	panic(fmt.Sprintf("attempting to access the memory of a surface with memory kind %s", s.memoryKind))
}

// PlaneBytes returns the memory of a single plane
func (s *Surface) PlaneBytes(planeIndex int) []byte {
	plane := s.planes[planeIndex]
	return s.Bytes()[plane.Offset : plane.Offset+plane.Size() : plane.Offset+plane.Size()]
}

// Fill writes the provided byte across the entire surface
func (s *Surface) Fill(value byte) {
	data := s.Bytes()
	for i := range data {
		data[i] = value
	}
}

func (s *Surface) fillSurface(pattern uint8) {
	if vidmem.DebugMargin == 0 {
		// Don't fill surfaces if memory debugging is turned off
		return
	}

	s.Fill(pattern)
}

// Name retrieves the debug name of the surface, if any
func (s *Surface) Name() string {
	return s.name
}

// SetName applies a debug name to the surface, which appears in leak reports
// and stats dumps
func (s *Surface) SetName(name string) {
	s.parentAllocator.logger.Debug("Surface::SetName")

	s.name = name
}

// UserData retrieves the arbitrary data associated with the surface, if any
func (s *Surface) UserData() any {
	return s.userData
}

// SetUserData associates arbitrary data with the surface
func (s *Surface) SetUserData(userData any) {
	s.userData = userData
}

func (s *Surface) printParameters(json *jwriter.ObjectState) {
	json.Name("Role").String(s.role.String())
	json.Name("Format").String(s.format.String())
	json.Name("Width").Int(s.width)
	json.Name("Height").Int(s.height)
	json.Name("Size").Int(s.size)
	json.Name("MemoryKind").String(s.memoryKind.String())

	if s.memoryKind == memoryKindArena {
		json.Name("Offset").Int(s.block.Offset)
	}

	if s.userData != nil {
		json.Name("CustomData").String(fmt.Sprintf("%+v", s.userData))
	}

	if s.name != "" {
		json.Name("Name").String(s.name)
	}
}
