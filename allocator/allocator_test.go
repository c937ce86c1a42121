package allocator_test

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/FEDOS-o/memalloc/allocator"
	"github.com/FEDOS-o/memalloc/pagesource"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newDispatcher(t *testing.T) *allocator.Dispatcher {
	t.Helper()
	d := allocator.NewDefault(pagesource.NewHeap())
	require.NoError(t, d.Init())
	t.Cleanup(d.Destroy)
	return d
}

// Scenario 1: tiny allocations hit the smallest pool.
func TestDispatcherTinyAllocationsHitSmallestPool(t *testing.T) {
	d := newDispatcher(t)

	a := d.Alloc(10)
	b := d.Alloc(10)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotEqual(t, a, b)
	require.Zero(t, uintptr(a)%pagesource.AlignSize)
	require.Zero(t, uintptr(b)%pagesource.AlignSize)

	d.Free(a)
	d.Free(b)
	require.NoError(t, d.Validate())
}

// Scenario 2: medium allocation routes to the arena and fully coalesces on free.
func TestDispatcherMediumAllocationRoutesToArena(t *testing.T) {
	d := newDispatcher(t)

	p := d.Alloc(600)
	require.NotNil(t, p)
	require.Zero(t, uintptr(p)%pagesource.AlignSize)

	pattern := make([]byte, 600)
	for i := range pattern {
		pattern[i] = byte(i % 251)
	}
	dst := unsafe.Slice((*byte)(p), 600)
	copy(dst, pattern)
	require.Equal(t, pattern, dst)

	d.Free(p)
	require.NoError(t, d.Validate())
}

// Scenario 3: large allocations route straight to OSDirect.
func TestDispatcherLargeAllocationRoutesToOS(t *testing.T) {
	d := newDispatcher(t)

	p := d.Alloc(11 << 20)
	q := d.Alloc(20 << 20)
	require.NotNil(t, p)
	require.NotNil(t, q)
	require.NotEqual(t, p, q)
	require.Zero(t, uintptr(p)%pagesource.AlignSize)
	require.Zero(t, uintptr(q)%pagesource.AlignSize)

	d.Free(p)
	d.Free(q)
	require.NoError(t, d.Validate())
}

// Scenario 4: mixed workload across all tiers, freed in shuffled order.
func TestDispatcherMixedWorkloadShuffleFree(t *testing.T) {
	d := newDispatcher(t)

	sizes := []int{10, 30, 60, 150, 300, 500, 600, 5000, 1 << 20, 11 << 20}
	var ptrs []unsafe.Pointer
	for _, s := range sizes {
		p := d.Alloc(s)
		require.NotNil(t, p)
		ptrs = append(ptrs, p)
	}

	for i, p := range ptrs {
		for j, q := range ptrs {
			if i != j {
				require.NotEqual(t, p, q)
			}
		}
	}

	rand.Shuffle(len(ptrs), func(i, j int) { ptrs[i], ptrs[j] = ptrs[j], ptrs[i] })
	for _, p := range ptrs {
		d.Free(p)
		require.NoError(t, d.Validate())
	}
}

// Scenario 5: split-and-coalesce cycle in the arena tier, reached through the
// dispatcher.
func TestDispatcherSplitAndCoalesceCycle(t *testing.T) {
	const occupied = 1024 // header(16) + 1000-byte payload + footer(8), already aligned

	cfg := allocator.DefaultConfig()
	cfg.ArenaInitialSize = 3 * occupied

	d := allocator.New(cfg, pagesource.NewHeap(), nil)
	require.NoError(t, d.Init())
	defer d.Destroy()

	a := d.Alloc(1000)
	b := d.Alloc(1000)
	c := d.Alloc(1000)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, c)

	stats := d.Statistics()
	require.Equal(t, 3, stats.AllocationCount)

	// the arena was sized for exactly these three allocations, so a fourth
	// same-size request must fail until one is freed.
	require.Nil(t, d.Alloc(1000))

	d.Free(b)
	require.NoError(t, d.Validate())

	// the free block left between a and c, with both still occupied, must still be
	// large enough to satisfy another 1000-byte request.
	mid := d.Alloc(1000)
	require.NotNil(t, mid)
	d.Free(mid)
	require.NoError(t, d.Validate())

	d.Free(a)
	require.NoError(t, d.Validate())

	d.Free(c)
	require.NoError(t, d.Validate())

	stats = d.Statistics()
	require.Zero(t, stats.AllocationCount, "every allocation should be freed")
}

// Scenario 6: pool exhaustion falls through to the arena.
func TestDispatcherPoolExhaustionFallsThroughToArena(t *testing.T) {
	d := newDispatcher(t)

	var ptrs []unsafe.Pointer
	for i := 0; i < 1024; i++ {
		p := d.Alloc(10)
		require.NotNil(t, p)
		ptrs = append(ptrs, p)
	}

	overflow := d.Alloc(10)
	require.NotNil(t, overflow)
	require.Zero(t, uintptr(overflow)%pagesource.AlignSize)

	ptrs = append(ptrs, overflow)
	for _, p := range ptrs {
		d.Free(p)
	}
	require.NoError(t, d.Validate())
}

func TestDispatcherAllocZeroReturnsNil(t *testing.T) {
	d := newDispatcher(t)
	require.Nil(t, d.Alloc(0))
}

func TestDispatcherFreeNilIsNoOp(t *testing.T) {
	d := newDispatcher(t)
	require.NotPanics(t, func() { d.Free(nil) })
}

func TestDispatcherInitIsIdempotent(t *testing.T) {
	d := allocator.NewDefault(pagesource.NewHeap())
	require.NoError(t, d.Init())
	require.NoError(t, d.Init())
	defer d.Destroy()
}

func TestDispatcherDestroyIsIdempotent(t *testing.T) {
	d := allocator.NewDefault(pagesource.NewHeap())
	require.NoError(t, d.Init())
	d.Destroy()
	require.NotPanics(t, d.Destroy)
}

// Custom config lets tests exercise the arena-allocation-failure path without
// actually exhausting 4 MiB of real memory: a 64-byte arena, with a mock page
// source that passes every request through to the Go heap.
func TestDispatcherFallsBackToNilWhenArenaExhausted(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := pagesource.NewMockSource(ctrl)

	cfg := allocator.Config{
		SizeClasses:      []int{16},
		BlockCount:       1,
		OSThreshold:      1 << 20,
		ArenaInitialSize: 64,
	}

	source.EXPECT().AllocPages(gomock.Any()).DoAndReturn(func(size int) (unsafe.Pointer, error) {
		return pagesource.NewHeap().AllocPages(size)
	}).AnyTimes()
	source.EXPECT().FreePages(gomock.Any(), gomock.Any()).AnyTimes()

	d := allocator.New(cfg, source, nil)
	require.NoError(t, d.Init())
	defer d.Destroy()

	p := d.Alloc(16)
	require.NotNil(t, p)

	require.Nil(t, d.Alloc(10000))
}

func TestDispatcherDumpStatAndDumpBlocksJSON(t *testing.T) {
	d := newDispatcher(t)
	_ = d.Alloc(100)

	require.NotEmpty(t, d.DumpStat())

	blocksJSON, err := d.DumpBlocksJSON()
	require.NoError(t, err)
	require.NotEmpty(t, blocksJSON)

	statJSON, err := d.DumpStatJSON()
	require.NoError(t, err)
	require.NotEmpty(t, statJSON)
}
