// Package arena implements CoalesceArena, the variable-size coalescing tier: a
// single contiguous region partitioned into boundary-tag blocks, a first-fit search
// over an explicit doubly linked free list, and immediate bidirectional coalescing
// on free.
package arena

import (
	"unsafe"

	"github.com/FEDOS-o/memalloc/memutils"
	"github.com/FEDOS-o/memalloc/pagesource"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

// maxDumpBlocks caps DumpBlocksJSON's per-block enumeration to keep large dumps
// bounded. Presentation-only, never affects correctness.
const maxDumpBlocks = 100

// CoalesceArena holds a free-list head, a handle registry, insert/remove helpers
// (merging happens inline in Free), and a Validate() that walks the whole structure. The block
// bookkeeping itself lives inside the arena's own bytes rather than in a side Go
// struct, following a classic boundary-tag design.
type CoalesceArena struct {
	source pagesource.Source
	region unsafe.Pointer
	size   int

	freeHead int64 // offset of the head free block, or noLink

	// handles maps an outstanding allocation's data pointer to the offset of its
	// block. Nothing in this package's public contract requires handles (Free routes
	// purely by pointer), but the registry lets Validate cross-check its occupied
	// count against an independent source and lets DumpBlocksJSON report whether a
	// block's handle is actually registered.
	handles *swiss.Map[uintptr, int]

	initialized bool
}

// New constructs a CoalesceArena that will draw its backing region from source.
func New(source pagesource.Source) *CoalesceArena {
	return &CoalesceArena{source: source}
}

// Size returns the arena's total backing size in bytes. Zero before Init.
func (a *CoalesceArena) Size() int { return a.size }

// Init acquires a region of at least requestedSize bytes (rounded up to the
// alignment and to the minimum block size) and installs one giant free block
// spanning it. Idempotent on an already-initialized arena.
func (a *CoalesceArena) Init(requestedSize int) error {
	if a.initialized {
		return nil
	}

	size := memutils.AlignUp(requestedSize, AlignSize)
	if size < minBlockSize {
		size = minBlockSize
	}

	region, err := a.source.AllocPages(size)
	if err != nil {
		return errors.Wrap(err, "failed to acquire coalesce arena backing memory")
	}
	if region == nil {
		return errors.New("page source returned no memory for coalesce arena")
	}

	a.region = region
	a.size = size
	a.handles = swiss.NewMap[uintptr, int](16)

	head := at(region, 0)
	head.setSize(size)
	head.setFree(true)
	head.setNextFree(noLink)
	head.setPrevFree(noLink)
	head.setFooter(size)

	a.freeHead = 0
	a.initialized = true
	return nil
}

// Destroy releases the arena's backing region. Idempotent on an uninitialized arena.
func (a *CoalesceArena) Destroy() {
	if !a.initialized {
		return
	}

	a.source.FreePages(a.region, a.size)
	a.region = nil
	a.size = 0
	a.freeHead = noLink
	a.handles = nil
	a.initialized = false
}

// occupiedSize computes the total block size needed to
// serve a data_size-byte request.
func occupiedSize(dataSize int) int {
	return memutils.AlignUp(hdrOff+dataSize+footerSize, AlignSize)
}

// Alloc implements first-fit allocation.
func (a *CoalesceArena) Alloc(size int) unsafe.Pointer {
	memutils.DebugAssert(a.initialized, "arena: alloc called before init")

	if size <= 0 {
		return nil
	}

	dataSize := memutils.AlignUp(size, AlignSize)
	need := occupiedSize(dataSize)
	// An occupied block goes back on the free list when it is freed, so it must be
	// large enough to hold the free-list links then.
	if need < minBlockSize {
		need = minBlockSize
	}

	offset := a.findFirstFit(need)
	if offset == noLink {
		return nil
	}

	chosen := at(a.region, int(offset))
	a.removeFree(chosen)

	remaining := chosen.size() - need
	if remaining >= minBlockSize {
		chosen.setSize(need)
		chosen.setFooter(need)

		split := at(a.region, chosen.offset+need)
		split.setSize(remaining)
		split.setFree(true)
		split.setFooter(remaining)
		a.insertFree(split)
	}

	chosen.setFree(false)
	a.handles.Put(uintptr(chosen.data()), chosen.offset)

	return chosen.data()
}

// findFirstFit walks the free list from the head and returns the offset of the
// first block whose size is at least need, or noLink.
func (a *CoalesceArena) findFirstFit(need int) int64 {
	cur := a.freeHead
	for cur != noLink {
		b := at(a.region, int(cur))
		if b.size() >= need {
			return cur
		}
		cur = b.nextFree()
	}
	return noLink
}

// Free recovers the header,
// validate it, reject double frees per the debug/release policy in §7, coalesce
// bidirectionally, and reinsert at the free-list head.
func (a *CoalesceArena) Free(ptr unsafe.Pointer) {
	memutils.DebugAssert(a.initialized, "arena: free called before init")

	if ptr == nil {
		return
	}

	offset := int(uintptr(ptr) - uintptr(a.region) - hdrOff)
	if offset < 0 || offset >= a.size {
		return
	}

	b := at(a.region, offset)
	if !a.blockLooksValid(b) {
		return
	}
	if b.isFree() {
		memutils.DebugAssert(false, "arena: double free detected")
		return
	}

	a.handles.Delete(uintptr(ptr))

	cur := b

	if pred, ok := a.precedingBlock(cur); ok && pred.isFree() {
		a.removeFree(pred)
		merged := pred.size() + cur.size()
		pred.setSize(merged)
		pred.setFooter(merged)
		cur = pred
	}

	if next, ok := a.followingBlock(cur); ok && next.isFree() {
		a.removeFree(next)
		merged := cur.size() + next.size()
		cur.setSize(merged)
		cur.setFooter(merged)
	}

	cur.setFree(true)
	a.insertFree(cur)
}

// blockLooksValid applies structural sanity checks to a recovered
// header before it is trusted: positive size, bounded by the arena, and its footer
// mirrors its header.
func (a *CoalesceArena) blockLooksValid(b block) bool {
	size := b.size()
	if size < occupiedMin || b.offset+size > a.size {
		return false
	}
	return b.footer() == size
}

// precedingBlock reads the footer immediately before b and, if it describes a block
// fully inside the arena, returns that block's header view.
func (a *CoalesceArena) precedingBlock(b block) (block, bool) {
	if b.offset == 0 {
		return block{}, false
	}

	footerOff := b.offset - footerSize
	if footerOff < 0 {
		return block{}, false
	}
	predSize := int(*(*uint64)(unsafe.Add(a.region, footerOff)))
	if predSize < occupiedMin || predSize > b.offset {
		return block{}, false
	}

	pred := at(a.region, b.offset-predSize)
	if pred.size() != predSize {
		return block{}, false
	}
	if pred.end() != b.offset {
		return block{}, false
	}
	return pred, true
}

// followingBlock returns the block immediately after b, if it lies fully inside the
// arena.
func (a *CoalesceArena) followingBlock(b block) (block, bool) {
	nextOffset := b.end()
	if nextOffset >= a.size {
		return block{}, false
	}
	next := at(a.region, nextOffset)
	size := next.size()
	if size < occupiedMin || nextOffset+size > a.size {
		return block{}, false
	}
	return next, true
}

// insertFree threads b onto the head of the free list (LIFO insertion, cheapest
// to implement since it needs no list traversal).
func (a *CoalesceArena) insertFree(b block) {
	b.setFree(true)
	b.setPrevFree(noLink)
	b.setNextFree(a.freeHead)
	if a.freeHead != noLink {
		at(a.region, int(a.freeHead)).setPrevFree(int64(b.offset))
	}
	a.freeHead = int64(b.offset)
}

// removeFree unlinks b from the free list. b must currently be free and present in
// the list.
func (a *CoalesceArena) removeFree(b block) {
	prev := b.prevFree()
	next := b.nextFree()

	if prev != noLink {
		at(a.region, int(prev)).setNextFree(next)
	} else {
		a.freeHead = next
	}
	if next != noLink {
		at(a.region, int(next)).setPrevFree(prev)
	}
}

// Belongs reports whether ptr lies inside this arena's region, at or past the first
// block's data offset. It is an address-range check only: it does not check that
// ptr is the data pointer of an occupied block.
func (a *CoalesceArena) Belongs(ptr unsafe.Pointer) bool {
	if !a.initialized || ptr == nil {
		return false
	}
	start := uintptr(a.region)
	end := start + uintptr(a.size)
	addr := uintptr(ptr)
	return addr >= start+uintptr(hdrOff) && addr < end
}

// Validate walks the entire arena tiling and the free list structure and reports
// the first violation found. Expensive, diagnostic, and should never fail on a
// correctly implemented arena.
func (a *CoalesceArena) Validate() error {
	if !a.initialized {
		return nil
	}

	offset := 0
	freeCount := 0
	occupiedCount := 0
	var prevFree bool
	for offset < a.size {
		b := at(a.region, offset)
		size := b.size()
		if size < occupiedMin {
			return errors.Errorf("arena: block at offset %d has size %d below minimum", offset, size)
		}
		if offset+size > a.size {
			return errors.Errorf("arena: block at offset %d overruns arena end", offset)
		}
		if b.footer() != size {
			return errors.Errorf("arena: block at offset %d has mismatched header/footer size", offset)
		}
		if b.isFree() {
			if prevFree {
				return errors.Errorf("arena: two adjacent free blocks ending at offset %d", offset)
			}
			if size < minBlockSize {
				return errors.Errorf("arena: free block at offset %d has size %d too small to hold free-list links", offset, size)
			}
			freeCount++
		} else {
			occupiedCount++
			handleOffset, ok := a.handles.Get(uintptr(b.data()))
			if !ok {
				return errors.Errorf("arena: occupied block at offset %d has no registered handle", offset)
			}
			if handleOffset != offset {
				return errors.Errorf("arena: handle for block at offset %d points at offset %d instead", offset, handleOffset)
			}
		}
		prevFree = b.isFree()
		offset += size
	}
	if offset != a.size {
		return errors.Errorf("arena: tiling does not exactly cover the arena, ended at %d of %d", offset, a.size)
	}
	if a.handles.Count() != occupiedCount {
		return errors.Errorf("arena: handle registry has %d entries but tiling found %d occupied blocks", a.handles.Count(), occupiedCount)
	}

	walked := 0
	cur := a.freeHead
	seen := make(map[int64]bool)
	for cur != noLink {
		if seen[cur] {
			return errors.Errorf("arena: free list revisits offset %d", cur)
		}
		seen[cur] = true
		b := at(a.region, int(cur))
		if !b.isFree() {
			return errors.Errorf("arena: free list contains an occupied block at offset %d", cur)
		}
		walked++
		cur = b.nextFree()
	}
	if walked != freeCount {
		return errors.Errorf("arena: free list length %d does not match the %d free blocks found while tiling", walked, freeCount)
	}

	return nil
}

// FreeListLength walks the free list up to limit entries and reports how many it
// found and whether the walk was truncated. A dump_stat()-style caller uses this to
// summarize free-list length without risking an unbounded walk on a pathological
// arena, the same cap (1000) the original dumpStat() applies to its own free-list
// walk.
func (a *CoalesceArena) FreeListLength(limit int) (count int, truncated bool) {
	cur := a.freeHead
	for cur != noLink {
		if count >= limit {
			return count, true
		}
		count++
		cur = at(a.region, int(cur)).nextFree()
	}
	return count, false
}

// DumpBlocksJSON renders up to maxDumpBlocks of the arena's blocks as a JSON array,
// one object per block, in physical order. This is the machine-readable half of the
// diagnostic dump surface outside the core contract; it exists for
// tooling and tests, not for the allocator's own correctness.
func (a *CoalesceArena) DumpBlocksJSON() ([]byte, error) {
	w := jwriter.NewWriter()
	arr := w.Array()

	offset := 0
	count := 0
	for offset < a.size && count < maxDumpBlocks {
		b := at(a.region, offset)
		obj := arr.Object()
		obj.Name("Offset").Int(offset)
		obj.Name("Size").Int(b.size())
		obj.Name("Free").Bool(b.isFree())
		if !b.isFree() {
			_, registered := a.handles.Get(uintptr(b.data()))
			obj.Name("HandleRegistered").Bool(registered)
		}
		obj.End()

		offset += b.size()
		count++
	}
	arr.End()

	return w.Bytes(), w.Error()
}

// AddStatistics sums this arena's allocation statistics into stats.
func (a *CoalesceArena) AddStatistics(stats *memutils.Statistics) {
	if !a.initialized {
		return
	}
	stats.BlockCount++
	stats.BlockBytes += a.size

	offset := 0
	for offset < a.size {
		b := at(a.region, offset)
		size := b.size()
		if !b.isFree() {
			stats.AllocationCount++
			stats.AllocationBytes += b.userSize()
		}
		offset += size
	}
}

// AddDetailedStatistics folds this arena's blocks into stats, tracking allocation
// and free-block (unused range) size extremes alongside the plain counts, the
// variable-size analog of dumpStat()'s used/free percentage reporting that a
// uniform-block pool has no use for.
func (a *CoalesceArena) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	if !a.initialized {
		return
	}
	stats.BlockCount++
	stats.BlockBytes += a.size

	offset := 0
	for offset < a.size {
		b := at(a.region, offset)
		size := b.size()
		if b.isFree() {
			stats.AddUnusedRange(size)
		} else {
			stats.AddAllocation(b.userSize())
		}
		offset += size
	}
}
