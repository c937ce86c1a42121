// Package osdirect implements OSDirect, the large-allocation passthrough tier:
// requests above the dispatcher's threshold go straight to the page source, with an
// ordered list of outstanding (address, size) records standing in for any
// per-allocation header.
package osdirect

import (
	"unsafe"

	"github.com/FEDOS-o/memalloc/memutils"
	"github.com/FEDOS-o/memalloc/pagesource"
	"github.com/pkg/errors"
)

type record struct {
	ptr  unsafe.Pointer
	size int
}

// OSDirect is a thin lifecycle wrapper around a page source with no block
// structure of its own. Every allocation is exactly what the page source handed
// back, tracked in a flat slice rather than threaded through the memory itself,
// since large allocations are rare enough that a linear scan is acceptable.
type OSDirect struct {
	source      pagesource.Source
	outstanding []record
	initialized bool
}

// New constructs an OSDirect tier drawing backing memory from source.
func New(source pagesource.Source) *OSDirect {
	return &OSDirect{source: source}
}

// Init marks the tier ready to serve allocations. Idempotent.
func (o *OSDirect) Init() error {
	if o.initialized {
		return nil
	}
	o.initialized = true
	return nil
}

// Destroy releases every outstanding block back to the page source and resets the
// tier to uninitialized.
func (o *OSDirect) Destroy() {
	if !o.initialized {
		return
	}
	for _, r := range o.outstanding {
		o.source.FreePages(r.ptr, r.size)
	}
	o.outstanding = nil
	o.initialized = false
}

// Alloc requests size bytes directly from the page source and records the result.
// Returns nil on page-source failure.
func (o *OSDirect) Alloc(size int) unsafe.Pointer {
	memutils.DebugAssert(o.initialized, "osdirect: alloc called before init")

	if size <= 0 {
		return nil
	}

	ptr, err := o.source.AllocPages(size)
	if err != nil || ptr == nil {
		return nil
	}

	o.outstanding = append(o.outstanding, record{ptr: ptr, size: size})
	return ptr
}

// Free locates ptr in the outstanding list, releases it to the page source, and
// removes the record. A no-op if ptr is not tracked.
func (o *OSDirect) Free(ptr unsafe.Pointer) {
	memutils.DebugAssert(o.initialized, "osdirect: free called before init")

	index := o.indexOf(ptr)
	if index < 0 {
		return
	}

	r := o.outstanding[index]
	o.source.FreePages(r.ptr, r.size)
	o.outstanding = append(o.outstanding[:index], o.outstanding[index+1:]...)
}

// Owns reports whether ptr is a currently outstanding OSDirect allocation.
func (o *OSDirect) Owns(ptr unsafe.Pointer) bool {
	if !o.initialized || ptr == nil {
		return false
	}
	return o.indexOf(ptr) >= 0
}

func (o *OSDirect) indexOf(ptr unsafe.Pointer) int {
	if ptr == nil {
		return -1
	}
	for i, r := range o.outstanding {
		if r.ptr == ptr {
			return i
		}
	}
	return -1
}

// OutstandingCount returns the number of currently outstanding allocations. A
// diagnostic accessor, not used by the hot path.
func (o *OSDirect) OutstandingCount() int {
	return len(o.outstanding)
}

// Validate checks that every outstanding record has a positive size and a non-nil
// pointer. There is little else to validate for this tier: it has no internal
// structure beyond the list itself.
func (o *OSDirect) Validate() error {
	for i, r := range o.outstanding {
		if r.ptr == nil {
			return errors.Errorf("osdirect: outstanding record %d has a nil pointer", i)
		}
		if r.size <= 0 {
			return errors.Errorf("osdirect: outstanding record %d has non-positive size %d", i, r.size)
		}
	}
	return nil
}

// AddStatistics sums this tier's allocation statistics into stats.
func (o *OSDirect) AddStatistics(stats *memutils.Statistics) {
	if !o.initialized {
		return
	}
	for _, r := range o.outstanding {
		stats.BlockCount++
		stats.BlockBytes += r.size
		stats.AllocationCount++
		stats.AllocationBytes += r.size
	}
}
