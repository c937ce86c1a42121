package pagesource

import "unsafe"

// heapSource is a Source backed by ordinary Go-heap allocations. It is the simplest
// possible implementation of the page source contract and is what tier tests use by
// default.
type heapSource struct{}

// NewHeap returns a Source that draws its memory from the Go heap. Each region is
// backed by a []uint64 so the returned pointer is trivially 8-byte aligned regardless
// of platform.
func NewHeap() Source {
	return heapSource{}
}

func (heapSource) AllocPages(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, nil
	}
	words := (size + 7) / 8
	buf := make([]uint64, words)
	return unsafe.Pointer(&buf[0]), nil
}

func (heapSource) FreePages(ptr unsafe.Pointer, size int) {
	// The Go garbage collector reclaims heap regions once nothing references the
	// pointer; there is nothing to release explicitly here.
}
