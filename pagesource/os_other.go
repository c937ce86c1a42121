//go:build !unix

package pagesource

// NewOS returns a Source backed by the Go heap on platforms without mmap/munmap.
func NewOS() Source {
	return NewHeap()
}
