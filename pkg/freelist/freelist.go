// ABOUTME: Free-space bitmap allocator over file blocks
// ABOUTME: Tracks used/free blocks, placement policy, and compaction heuristics

package freelist

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// Blocks 0 and 1 are reserved for the two store-header copies; the
// allocator never hands those out.
const firstAllocatableBlock = 2

// FreeList tracks which file blocks are occupied by live chunks. It is the
// store's placement authority: every chunk write asks it for a run of free
// blocks, and every chunk drop returns its blocks to the pool.
type FreeList struct {
	mu         sync.Mutex
	blockSize  int
	used       *bitset.BitSet
	fileBlocks uint
}

// New creates an allocator for a file whose blocks are blockSize bytes each.
func New(blockSize int) *FreeList {
	fl := &FreeList{
		blockSize: blockSize,
		used:      bitset.New(64),
	}
	for b := uint(0); b < firstAllocatableBlock; b++ {
		fl.used.Set(b)
	}
	fl.fileBlocks = firstAllocatableBlock
	return fl
}

// MarkUsed records that [startBlock, startBlock+numBlocks) are occupied,
// growing the tracked file size if necessary. Used while replaying chunk
// headers found during recovery.
func (fl *FreeList) MarkUsed(startBlock, numBlocks uint) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.markUsedLocked(startBlock, numBlocks)
}

func (fl *FreeList) markUsedLocked(startBlock, numBlocks uint) {
	for b := startBlock; b < startBlock+numBlocks; b++ {
		fl.used.Set(b)
	}
	if end := startBlock + numBlocks; end > fl.fileBlocks {
		fl.fileBlocks = end
	}
}

// Free returns [startBlock, startBlock+numBlocks) to the pool. Called once a
// chunk has been dropped and no live page references it anymore.
func (fl *FreeList) Free(startBlock, numBlocks uint) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	for b := startBlock; b < startBlock+numBlocks; b++ {
		fl.used.Clear(b)
	}
}

// Allocate finds and reserves the first free run of numBlocks blocks,
// skipping the half-open reserved interval [reservedLow, reservedHigh)
// (reservedHigh == -1 means "open-ended to end of file", used while a
// compaction pass is still writing the tail of the file and new ordinary
// writes must not race into that space). It returns the starting block and
// marks those blocks used.
func (fl *FreeList) Allocate(numBlocks uint, reservedLow, reservedHigh int64) uint {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	start := fl.findFreeRunLocked(numBlocks, reservedLow, reservedHigh)
	fl.markUsedLocked(start, numBlocks)
	return start
}

// PredictAllocation reports where Allocate would place a run of numBlocks
// blocks without reserving it. Used by the store to decide chunk placement
// before a chunk's final size is known.
func (fl *FreeList) PredictAllocation(numBlocks uint, reservedLow, reservedHigh int64) uint {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.findFreeRunLocked(numBlocks, reservedLow, reservedHigh)
}

func (fl *FreeList) findFreeRunLocked(numBlocks uint, reservedLow, reservedHigh int64) uint {
	if numBlocks == 0 {
		numBlocks = 1
	}

	inReserved := func(b uint) bool {
		if reservedLow < 0 {
			return false
		}
		if reservedHigh == -1 {
			return int64(b) >= reservedLow
		}
		return int64(b) >= reservedLow && int64(b) < reservedHigh
	}

	candidate := uint(firstAllocatableBlock)
	for {
		// Skip the reserved interval entirely rather than scanning through it.
		if inReserved(candidate) {
			if reservedHigh == -1 {
				break // nothing usable past an open-ended reservation
			}
			candidate = uint(reservedHigh)
			continue
		}

		run := uint(0)
		b := candidate
		for run < numBlocks {
			if inReserved(b) {
				break
			}
			if fl.used.Test(b) {
				break
			}
			run++
			b++
		}
		if run == numBlocks {
			return candidate
		}
		candidate = b + 1
	}

	// No free run large enough anywhere in the file: extend past the end.
	return fl.fileBlocks
}

// Total returns the number of blocks currently marked used.
func (fl *FreeList) Total() uint {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.used.Count()
}

// FileBlocks returns the current logical end of the tracked file, in blocks.
func (fl *FreeList) FileBlocks() uint {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.fileBlocks
}

// ShrinkToFit recomputes the tracked file end as one past the highest block
// currently marked used, letting it fall behind the previous high-water mark
// after blocks have been freed. MarkUsed only ever grows fileBlocks, so a
// round of chunk moves and drops needs this before the store can tell
// whether truncating the backing file is worthwhile. Returns the new value.
func (fl *FreeList) ShrinkToFit() uint {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	b := fl.fileBlocks
	for b > firstAllocatableBlock && !fl.used.Test(b-1) {
		b--
	}
	fl.fileBlocks = b
	return b
}

// FillRate returns the fraction of blocks below the file's current end that
// are in use. A low fill rate means the file is mostly holes and is a good
// compaction candidate.
func (fl *FreeList) FillRate() float64 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.fileBlocks == 0 {
		return 1
	}
	return float64(fl.used.Count()) / float64(fl.fileBlocks)
}

// IsFragmented reports whether the free space is scattered across many small
// holes rather than one large one, which makes chunk placement expensive.
// The heuristic counts free/used transitions below the file's end: many
// transitions relative to file size means small, scattered holes.
func (fl *FreeList) IsFragmented() bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.fileBlocks < 16 {
		return false
	}
	transitions := uint(0)
	prevUsed := true
	for b := uint(0); b < fl.fileBlocks; b++ {
		used := fl.used.Test(b)
		if used != prevUsed {
			transitions++
		}
		prevUsed = used
	}
	return transitions*4 > fl.fileBlocks
}

// MovePriority scores how worthwhile it is to relocate the chunk occupying
// [block, block+numBlocks) toward the start of the file during compaction:
// higher means move it sooner. It favors chunks sitting directly after a
// large hole and chunks far from the start of the file (since moving those closer
// shrinks the file most).
func (fl *FreeList) MovePriority(block, numBlocks uint) float64 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.fileBlocks == 0 {
		return 0
	}

	holeBefore := uint(0)
	for b := block; b > 0; b-- {
		if fl.used.Test(b - 1) {
			break
		}
		holeBefore++
	}

	posScore := float64(block) / float64(fl.fileBlocks)
	holeScore := float64(holeBefore) / float64(numBlocks+1)
	return posScore + holeScore
}
