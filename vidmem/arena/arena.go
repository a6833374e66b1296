package arena

import (
	"fmt"

	"github.com/go-scanout/scanout/vidmem"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

// ErrResourceExhausted is returned from Arena.Allocate when no gap and no tail
// region of the arena can hold the requested allocation. Callers are expected
// to recover, usually by falling back to system memory or reducing buffer counts.
var ErrResourceExhausted = errors.New("out of video memory")

// Block describes a single live allocation within an Arena. Blocks are plain
// values: the (Offset, Size) pair is the identity of the allocation, and
// consumers hand the same pair back to Free. Raw addresses are never stored,
// only offsets into the arena's managed region.
type Block struct {
	Offset    int
	Size      int
	Alignment uint
}

// End returns the first byte offset past the block
func (b Block) End() int {
	return b.Offset + b.Size
}

// Arena manages a single contiguous region of video memory with a bump pointer
// plus an address-ordered chain of live blocks. Allocation walks the chain from
// the base looking for the first gap that fits; freeing any block makes its gap
// reusable, and freeing the highest block rewinds the end marker.
//
// An Arena performs no locking of its own. Consumers that share an Arena
// across goroutines must guard every call with the same lock.
type Arena struct {
	size           int
	endMarker      int
	totalAllocated int

	// sorted by Offset, no overlaps
	blocks []Block
}

// New creates an Arena managing size bytes. The size is fixed for the lifetime
// of the arena.
func New(size int) *Arena {
	if size < 1 {
		panic(fmt.Sprintf("attempted to create a video memory arena with %d bytes", size))
	}

	return &Arena{size: size}
}

// Allocate carves a block of the requested size out of the arena. alignment
// must be a power of two, in bytes; 0 is treated as 1. The first fit wins:
// gaps left by freed blocks are checked in address order before the tail
// region past the highest live block. Returns ErrResourceExhausted when
// nothing fits.
func (a *Arena) Allocate(size int, alignment uint) (Block, error) {
	if size < 1 {
		panic(fmt.Sprintf("attempted to allocate %d bytes of video memory", size))
	}
	if alignment == 0 {
		alignment = 1
	}
	err := vidmem.CheckPow2(alignment, "alignment")
	if err != nil {
		return Block{}, err
	}

	debugMargin := vidmem.DebugMargin

	// Base of the free space being probed. Starts at the arena base and
	// advances past each live block.
	var candidate int

	for blockIndex, block := range a.blocks {
		offset := vidmem.AlignUp(candidate, alignment)
		if offset+size+debugMargin <= block.Offset {
			return a.commitAllocation(blockIndex, offset, size, alignment), nil
		}

		candidate = block.End() + debugMargin
	}

	offset := vidmem.AlignUp(candidate, alignment)
	if offset+size+debugMargin <= a.size {
		return a.commitAllocation(len(a.blocks), offset, size, alignment), nil
	}

	return Block{}, errors.Wrapf(ErrResourceExhausted,
		"%d bytes with alignment %d do not fit (arena size %d, %d bytes in %d live blocks)",
		size, alignment, a.size, a.totalAllocated, len(a.blocks))
}

func (a *Arena) commitAllocation(blockIndex, offset, size int, alignment uint) Block {
	block := Block{
		Offset:    offset,
		Size:      size,
		Alignment: alignment,
	}

	a.blocks = append(a.blocks, Block{})
	copy(a.blocks[blockIndex+1:], a.blocks[blockIndex:])
	a.blocks[blockIndex] = block

	a.totalAllocated += size
	if block.End() > a.endMarker {
		a.endMarker = block.End()
	}

	vidmem.DebugValidate(a)
	return block
}

// Free releases a block previously returned by Allocate. The block must match
// a live allocation exactly on (Offset, Size). Freeing the highest block
// rewinds the end marker to the end of the new highest remaining block, or to
// 0 when the arena empties.
func (a *Arena) Free(block Block) error {
	for blockIndex, liveBlock := range a.blocks {
		if liveBlock.Offset != block.Offset {
			continue
		}

		if liveBlock.Size != block.Size {
			return errors.Errorf(
				"block at offset %d has size %d, but the free request was for %d bytes",
				block.Offset, liveBlock.Size, block.Size)
		}

		a.blocks = append(a.blocks[:blockIndex], a.blocks[blockIndex+1:]...)
		a.totalAllocated -= block.Size

		if len(a.blocks) > 0 {
			a.endMarker = a.blocks[len(a.blocks)-1].End()
		} else {
			a.endMarker = 0
		}

		vidmem.DebugValidate(a)
		return nil
	}

	return errors.Errorf("no live block at offset %d- the block being freed was not allocated from this arena", block.Offset)
}

// Clear instantly frees all blocks and rewinds the end marker
func (a *Arena) Clear() {
	a.blocks = a.blocks[:0]
	a.endMarker = 0
	a.totalAllocated = 0
}

// Size returns the number of bytes managed by the arena
func (a *Arena) Size() int { return a.size }

// EndMarker returns the first byte offset past the highest live block, or 0
// when the arena is empty
func (a *Arena) EndMarker() int { return a.endMarker }

// TotalAllocated returns the number of bytes currently held by live blocks
func (a *Arena) TotalAllocated() int { return a.totalAllocated }

// AvailableBytes returns the number of managed bytes not held by live blocks.
// Fragmentation may prevent a single allocation of this size from succeeding.
func (a *Arena) AvailableBytes() int { return a.size - a.totalAllocated }

// AllocationCount returns the number of live blocks
func (a *Arena) AllocationCount() int { return len(a.blocks) }

// IsEmpty returns true if this arena has no live blocks
func (a *Arena) IsEmpty() bool { return len(a.blocks) == 0 }

// VisitBlocks calls the provided callback once for each live block in address
// order, stopping at the first error
func (a *Arena) VisitBlocks(visit func(block Block) error) error {
	for _, block := range a.blocks {
		err := visit(block)
		if err != nil {
			return err
		}
	}

	return nil
}

// Validate performs internal consistency checks on the chain. When the arena
// is functioning correctly it should not be possible for this method to return
// an error, but it may assist in diagnosing issues.
func (a *Arena) Validate() error {
	if a.size < 1 {
		return errors.Errorf("the arena has an invalid size %d", a.size)
	}

	debugMargin := vidmem.DebugMargin

	var prevEnd, sumAllocated int
	for blockIndex, block := range a.blocks {
		if block.Size < 1 {
			return errors.Errorf("block at index %d has invalid size %d", blockIndex, block.Size)
		}

		if block.Offset < 0 || block.End() > a.size {
			return errors.Errorf(
				"block at index %d spans [%d, %d), which lies outside the arena's %d bytes",
				blockIndex, block.Offset, block.End(), a.size)
		}

		if blockIndex > 0 && block.Offset < prevEnd+debugMargin {
			return errors.Errorf(
				"block at index %d has offset %d- this collides with the previous block, which ends at %d",
				blockIndex, block.Offset, prevEnd)
		}

		prevEnd = block.End()
		sumAllocated += block.Size
	}

	if sumAllocated != a.totalAllocated {
		return errors.Errorf(
			"the chain holds %d allocated bytes, but the arena accounting indicates %d",
			sumAllocated, a.totalAllocated)
	}

	if a.endMarker != prevEnd {
		return errors.Errorf(
			"the end marker is %d, but the highest live block ends at %d",
			a.endMarker, prevEnd)
	}

	return nil
}

// AddDetailedStatistics sums this arena's allocation statistics into the
// statistics currently present in the provided vidmem.DetailedStatistics object
func (a *Arena) AddDetailedStatistics(stats *vidmem.DetailedStatistics) {
	stats.ArenaCount++
	stats.ArenaBytes += a.size

	var prevEnd int
	for _, block := range a.blocks {
		if block.Offset > prevEnd {
			stats.AddUnusedRange(block.Offset - prevEnd)
		}

		stats.AddAllocation(block.Size)
		prevEnd = block.End()
	}

	if a.size > prevEnd {
		stats.AddUnusedRange(a.size - prevEnd)
	}
}

// AddStatistics sums this arena's allocation statistics into the statistics
// currently present in the provided vidmem.Statistics object
func (a *Arena) AddStatistics(stats *vidmem.Statistics) {
	stats.ArenaCount++
	stats.ArenaBytes += a.size
	stats.AllocationCount += len(a.blocks)
	stats.AllocationBytes += a.totalAllocated
}

// BlockJsonData populates a json object with information about this arena's layout
func (a *Arena) BlockJsonData(json jwriter.ObjectState) {
	var unusedRangeCount int
	var prevEnd int
	for _, block := range a.blocks {
		if block.Offset > prevEnd {
			unusedRangeCount++
		}
		prevEnd = block.End()
	}
	if a.size > prevEnd {
		unusedRangeCount++
	}

	json.Name("TotalBytes").Int(a.size)
	json.Name("UnusedBytes").Int(a.AvailableBytes())
	json.Name("Allocations").Int(len(a.blocks))
	json.Name("UnusedRanges").Int(unusedRangeCount)
	json.Name("EndMarker").Int(a.endMarker)

	blocksJson := json.Name("Blocks").Array()
	defer blocksJson.End()

	for _, block := range a.blocks {
		blockJson := blocksJson.Object()
		blockJson.Name("Offset").Int(block.Offset)
		blockJson.Name("Size").Int(block.Size)
		blockJson.End()
	}
}
