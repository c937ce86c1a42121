// Package pool implements FixedPool, the fixed-size-block tier: constant-time
// alloc/free of uniform-size blocks, with the free list threaded through the
// blocks themselves so that a free block carries no metadata beyond a single
// machine word.
package pool

import (
	"unsafe"

	"github.com/FEDOS-o/memalloc/memutils"
	"github.com/FEDOS-o/memalloc/pagesource"
	"github.com/pkg/errors"
)

// indexWordSize is the width, in bytes, of the free-list index word threaded through
// every free block. It doubles as the minimum legal block size.
const indexWordSize = 8

// FixedPool is a constant-time allocator for blocks of a single size, using the
// intrusive index free list: the pool stores no per-block
// header, just the next-free index inside each free block's first word.
type FixedPool struct {
	blockSize  int
	blockCount int
	source     pagesource.Source

	region      unsafe.Pointer
	head        unsafe.Pointer
	initialized bool
}

// New constructs a FixedPool for blocks of blockSize bytes, blockCount of them,
// drawing backing memory from source. blockSize must already be a multiple of
// pagesource.AlignSize and at least indexWordSize; New panics if it is not, mirroring
// the original FixedSizeAllocator's constructor assertions.
func New(blockSize, blockCount int, source pagesource.Source) *FixedPool {
	if blockSize < indexWordSize {
		panic("pool: blockSize must be at least 8 bytes")
	}
	if blockSize%pagesource.AlignSize != 0 {
		panic("pool: blockSize must be a multiple of the allocator alignment")
	}
	if blockCount <= 0 {
		panic("pool: blockCount must be positive")
	}

	return &FixedPool{
		blockSize:  blockSize,
		blockCount: blockCount,
		source:     source,
	}
}

// BlockSize returns the configured block size in bytes.
func (p *FixedPool) BlockSize() int { return p.blockSize }

// BlockCount returns the configured number of blocks in the pool.
func (p *FixedPool) BlockCount() int { return p.blockCount }

// Init acquires the pool's backing region and threads every block onto the free
// list in ascending order. Idempotent on an already-initialized pool.
func (p *FixedPool) Init() error {
	if p.initialized {
		return nil
	}

	region, err := p.source.AllocPages(p.blockSize * p.blockCount)
	if err != nil {
		return errors.Wrap(err, "failed to acquire fixed pool backing memory")
	}
	if region == nil {
		return errors.New("page source returned no memory for fixed pool")
	}

	p.region = region
	for i := 0; i < p.blockCount; i++ {
		block := unsafe.Add(p.region, i*p.blockSize)
		*(*uint64)(block) = uint64(i + 1)
	}

	p.head = p.region
	p.initialized = true
	return nil
}

// Destroy releases the pool's backing region. Idempotent on an uninitialized pool.
func (p *FixedPool) Destroy() {
	if !p.initialized {
		return
	}

	p.source.FreePages(p.region, p.blockSize*p.blockCount)
	p.region = nil
	p.head = nil
	p.initialized = false
}

// Alloc removes the head block from the free list and returns it, or nil if the pool
// is exhausted.
func (p *FixedPool) Alloc() unsafe.Pointer {
	memutils.DebugAssert(p.initialized, "pool: alloc called before init")

	if p.head == nil {
		return nil
	}

	block := p.head
	next := *(*uint64)(block)
	if next == uint64(p.blockCount) {
		p.head = nil
	} else {
		p.head = unsafe.Add(p.region, int(next)*p.blockSize)
	}

	return block
}

// Free returns a block to the free list. The caller must have already verified
// Belongs(ptr); Free does not re-check it, matching the stated
// precondition. Double-free is undefined behavior.
func (p *FixedPool) Free(ptr unsafe.Pointer) {
	memutils.DebugAssert(p.initialized, "pool: free called before init")
	memutils.DebugAssert(p.Belongs(ptr), "pool: free called on a pointer outside this pool")

	var index uint64
	if p.head == nil {
		index = uint64(p.blockCount)
	} else {
		index = uint64((uintptr(p.head) - uintptr(p.region)) / uintptr(p.blockSize))
	}

	*(*uint64)(ptr) = index
	p.head = ptr
}

// Belongs reports whether ptr was handed out by this pool's backing region. It is
// false for nil and for an uninitialized pool.
func (p *FixedPool) Belongs(ptr unsafe.Pointer) bool {
	if !p.initialized || ptr == nil {
		return false
	}

	start := uintptr(p.region)
	end := start + uintptr(p.blockSize*p.blockCount)
	addr := uintptr(ptr)

	if addr < start || addr >= end {
		return false
	}

	return (addr-start)%uintptr(p.blockSize) == 0
}

// FreeCount walks the free list and returns its length. This is a diagnostic
// operation, O(free blocks), not used by the hot alloc/free path.
func (p *FixedPool) FreeCount() int {
	if !p.initialized || p.head == nil {
		return 0
	}

	count := 1
	current := p.head
	for {
		next := *(*uint64)(current)
		if next == uint64(p.blockCount) {
			return count
		}
		current = unsafe.Add(p.region, int(next)*p.blockSize)
		count++
	}
}

// UsedCount returns the number of blocks currently allocated out of this pool.
func (p *FixedPool) UsedCount() int {
	if !p.initialized {
		return 0
	}
	return p.blockCount - p.FreeCount()
}

// Validate walks the free list checking that every index is reachable at
// most once and that the chain terminates at the sentinel. It does not check that
// each next index is in range. Expensive, diagnostic-only, and should
// never fail when the pool is implemented correctly.
func (p *FixedPool) Validate() error {
	if !p.initialized {
		return nil
	}

	seen := make(map[int]bool, p.blockCount)
	current := p.head
	for current != nil {
		index := int((uintptr(current) - uintptr(p.region)) / uintptr(p.blockSize))
		if seen[index] {
			return errors.Errorf("pool: free list revisits index %d", index)
		}
		seen[index] = true

		next := *(*uint64)(current)
		if next == uint64(p.blockCount) {
			break
		}
		current = unsafe.Add(p.region, int(next)*p.blockSize)
	}

	return nil
}

// AddStatistics sums this pool's allocation statistics into stats.
func (p *FixedPool) AddStatistics(stats *memutils.Statistics) {
	if !p.initialized {
		return
	}
	stats.BlockCount++
	stats.BlockBytes += p.blockSize * p.blockCount
	stats.AllocationCount += p.UsedCount()
	stats.AllocationBytes += p.UsedCount() * p.blockSize
}
