package arena_test

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/FEDOS-o/memalloc/arena"
	"github.com/FEDOS-o/memalloc/memutils"
	"github.com/FEDOS-o/memalloc/pagesource"
	"github.com/stretchr/testify/require"
)

const arenaSize = 4096

func newArena(t *testing.T) *arena.CoalesceArena {
	t.Helper()
	a := arena.New(pagesource.NewHeap())
	require.NoError(t, a.Init(arenaSize))
	t.Cleanup(a.Destroy)
	return a
}

func TestCoalesceArenaInitInstallsOneFreeBlock(t *testing.T) {
	a := newArena(t)
	require.NoError(t, a.Validate())
}

func TestCoalesceArenaAllocationsAreAligned(t *testing.T) {
	a := newArena(t)

	for _, size := range []int{1, 7, 8, 9, 100, 513} {
		ptr := a.Alloc(size)
		require.NotNil(t, ptr)
		require.Zero(t, uintptr(ptr)%pagesource.AlignSize)
	}
	require.NoError(t, a.Validate())
}

func TestCoalesceArenaAllocZeroReturnsNil(t *testing.T) {
	a := newArena(t)
	require.Nil(t, a.Alloc(0))
}

func TestCoalesceArenaFreeNilIsNoOp(t *testing.T) {
	a := newArena(t)
	require.NotPanics(t, func() { a.Free(nil) })
}

func TestCoalesceArenaExhaustionReturnsNil(t *testing.T) {
	a := newArena(t)
	require.Nil(t, a.Alloc(arenaSize*2))
}

// Freeing a lone allocation must coalesce the arena back into exactly
// one free block covering the whole region.
func TestCoalesceArenaFreeRestoresSingleFreeBlock(t *testing.T) {
	a := newArena(t)

	p := a.Alloc(600)
	require.NotNil(t, p)

	pattern := make([]byte, 600)
	for i := range pattern {
		pattern[i] = byte(i)
	}
	dst := unsafe.Slice((*byte)(p), 600)
	copy(dst, pattern)
	require.Equal(t, pattern, dst)

	a.Free(p)
	require.NoError(t, a.Validate())

	var stats memutils.Statistics
	a.AddStatistics(&stats)
	require.Equal(t, 0, stats.AllocationCount)
}

// Split-and-coalesce cycle: three equal allocations exactly exhaust an arena sized
// for them, so every free-list length afterward is unambiguous. Freeing the middle
// one, with both neighbors still occupied, must leave exactly one free block
// (between the first and third allocations) that is still large enough to satisfy
// another same-size request; freeing all three must coalesce the arena back into a
// single free block spanning the whole region.
func TestCoalesceArenaSplitAndCoalesceCycle(t *testing.T) {
	const occupied = 1024 // header(16) + 1000-byte payload + footer(8), already aligned
	const size = 3 * occupied

	a := arena.New(pagesource.NewHeap())
	require.NoError(t, a.Init(size))
	t.Cleanup(a.Destroy)
	require.Equal(t, size, a.Size())

	p1 := a.Alloc(1000)
	p2 := a.Alloc(1000)
	p3 := a.Alloc(1000)
	require.NotNil(t, p1)
	require.NotNil(t, p2)
	require.NotNil(t, p3)

	count, truncated := a.FreeListLength(10)
	require.False(t, truncated)
	require.Zero(t, count, "three equal allocations should exactly exhaust an arena sized for them")

	a.Free(p2)
	require.NoError(t, a.Validate())

	count, truncated = a.FreeListLength(10)
	require.False(t, truncated)
	require.Equal(t, 1, count, "freeing the middle block must leave exactly one free block, not coalesce across still-occupied neighbors")

	mid := a.Alloc(1000)
	require.NotNil(t, mid, "the free block between the first and third allocations must still fit another 1000-byte request")
	a.Free(mid)
	require.NoError(t, a.Validate())

	a.Free(p1)
	require.NoError(t, a.Validate())

	a.Free(p3)
	require.NoError(t, a.Validate())

	count, truncated = a.FreeListLength(10)
	require.False(t, truncated)
	require.Equal(t, 1, count, "freeing every allocation must coalesce the arena back into a single free block")

	var stats memutils.Statistics
	a.AddStatistics(&stats)
	require.Zero(t, stats.AllocationCount)
	require.Equal(t, size, stats.BlockBytes)
}

// A mixed workload of varied sizes with shuffled free order must never
// corrupt the structure and must fully coalesce.
func TestCoalesceArenaMixedWorkloadShuffleFree(t *testing.T) {
	a := arena.New(pagesource.NewHeap())
	require.NoError(t, a.Init(1 << 20))
	defer a.Destroy()

	sizes := []int{10, 30, 60, 150, 300, 500, 600, 5000}
	var ptrs []unsafe.Pointer
	for _, s := range sizes {
		p := a.Alloc(s)
		require.NotNil(t, p)
		ptrs = append(ptrs, p)
	}

	rand.Shuffle(len(ptrs), func(i, j int) { ptrs[i], ptrs[j] = ptrs[j], ptrs[i] })

	for _, p := range ptrs {
		a.Free(p)
		require.NoError(t, a.Validate())
	}
}

func TestCoalesceArenaBelongs(t *testing.T) {
	a := newArena(t)

	p := a.Alloc(100)
	require.True(t, a.Belongs(p))
	require.False(t, a.Belongs(nil))

	other := arena.New(pagesource.NewHeap())
	require.NoError(t, other.Init(arenaSize))
	defer other.Destroy()
	q := other.Alloc(100)
	require.False(t, a.Belongs(q))
}

func TestCoalesceArenaDumpBlocksJSONIsWellFormed(t *testing.T) {
	a := newArena(t)
	_ = a.Alloc(100)

	data, err := a.DumpBlocksJSON()
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.Equal(t, byte('['), data[0])
}

func TestCoalesceArenaInitIsIdempotent(t *testing.T) {
	a := arena.New(pagesource.NewHeap())
	require.NoError(t, a.Init(arenaSize))
	require.NoError(t, a.Init(arenaSize))
	defer a.Destroy()

	require.Equal(t, arenaSize, a.Size())
}
