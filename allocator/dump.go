package allocator

import (
	"fmt"
	"strings"

	"github.com/FEDOS-o/memalloc/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// maxDumpFreeWalk caps how many arena free-list entries DumpStat will walk before
// reporting a truncated count (pool free counts are not capped), mirroring the original dumpStat()'s 1000-entry
// cap on its own free-list walk. Presentation-only, never affects allocator behavior.
const maxDumpFreeWalk = 1000

// DumpStat renders a human-readable summary of every tier's statistics. This is the
// text half of the diagnostic side channel, kept separate from the
// core contract.
func (d *Dispatcher) DumpStat() string {
	if d.state != stateInitialized {
		return "allocator: not initialized\n"
	}

	var b strings.Builder

	for i, p := range d.pools {
		fmt.Fprintf(&b, "pool[%d] blockSize=%d free=%d used=%d\n", i, p.BlockSize(), p.FreeCount(), p.UsedCount())
	}

	freeLen, truncated := d.arena.FreeListLength(maxDumpFreeWalk)
	if truncated {
		fmt.Fprintf(&b, "arena size=%d freeListLength>=%d (truncated)\n", d.arena.Size(), freeLen)
	} else {
		fmt.Fprintf(&b, "arena size=%d freeListLength=%d\n", d.arena.Size(), freeLen)
	}

	fmt.Fprintf(&b, "osdirect outstanding=%d\n", d.os.OutstandingCount())

	var arenaDetail memutils.DetailedStatistics
	arenaDetail.Clear()
	d.arena.AddDetailedStatistics(&arenaDetail)
	if arenaDetail.AllocationCount > 0 {
		fmt.Fprintf(&b, "arena allocationSize min=%d max=%d\n",
			arenaDetail.AllocationSizeMin, arenaDetail.AllocationSizeMax)
	}
	if arenaDetail.UnusedRangeCount > 0 {
		fmt.Fprintf(&b, "arena unusedRange count=%d min=%d max=%d\n",
			arenaDetail.UnusedRangeCount, arenaDetail.UnusedRangeSizeMin, arenaDetail.UnusedRangeSizeMax)
	}

	stats := d.Statistics()
	fmt.Fprintf(&b, "total blocks=%d blockBytes=%d allocations=%d allocationBytes=%d\n",
		stats.BlockCount, stats.BlockBytes, stats.AllocationCount, stats.AllocationBytes)

	return b.String()
}

// DumpBlocksJSON renders the coalesce arena's block layout as JSON, reusing
// CoalesceArena.DumpBlocksJSON. The pool and OSDirect tiers have no comparable
// internal block structure worth dumping: a pool's blocks are uniform and
// position-addressable from BlockSize/BlockCount alone, and OSDirect's outstanding
// list is already a flat, small record set.
func (d *Dispatcher) DumpBlocksJSON() ([]byte, error) {
	return d.arena.DumpBlocksJSON()
}

// DumpStatJSON renders every tier's statistics as a single JSON object, plus the
// arena's allocation and unused-range size extremes.
func (d *Dispatcher) DumpStatJSON() ([]byte, error) {
	stats := d.Statistics()

	var arenaDetail memutils.DetailedStatistics
	arenaDetail.Clear()
	d.arena.AddDetailedStatistics(&arenaDetail)

	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("BlockCount").Int(stats.BlockCount)
	obj.Name("BlockBytes").Int(stats.BlockBytes)
	obj.Name("AllocationCount").Int(stats.AllocationCount)
	obj.Name("AllocationBytes").Int(stats.AllocationBytes)
	obj.Name("ArenaAllocationSizeMin").Int(arenaDetail.AllocationSizeMin)
	obj.Name("ArenaAllocationSizeMax").Int(arenaDetail.AllocationSizeMax)
	obj.Name("ArenaUnusedRangeCount").Int(arenaDetail.UnusedRangeCount)
	obj.Name("ArenaUnusedRangeSizeMin").Int(arenaDetail.UnusedRangeSizeMin)
	obj.Name("ArenaUnusedRangeSizeMax").Int(arenaDetail.UnusedRangeSizeMax)
	obj.End()

	return w.Bytes(), w.Error()
}
