package arena

import "unsafe"

// Byte layout of a CoalesceArena block:
//
//	offset 0            size      (8 bytes, uint64), the entire block including header and footer
//	offset 8            isFree    (1 byte)
//	offset 9..hdrOff     padding
//	offset hdrOff        nextFree (8 bytes, int64 offset into the arena, or noLink)
//	offset hdrOff+8      prevFree (8 bytes, int64 offset into the arena, or noLink)
//	offset size-8        footer size (8 bytes, uint64), mirroring the header's size
//
// nextFree/prevFree are only meaningful while isFree is true. When a block is
// allocated, the bytes at [hdrOff, size-footerSize) belong entirely to the client,
// including the bytes that would otherwise hold nextFree/prevFree. This aliasing is
// deliberate, matching the original C++ implementation this system was distilled
// from (its BlockHeader's free-list pointers share storage with occupied user
// data), and is why hdrOff is computed from only size+isFree rather than the full
// header footprint.
const (
	// AlignSize is the universal allocator alignment, restated here
	// so the arena's own size arithmetic doesn't need to import pagesource just for
	// a constant.
	AlignSize = 8

	// hdrOff is the offset at which a block's user data begins
	// when the block is occupied. round_up(sizeof(size)+sizeof(isFree), AlignSize).
	hdrOff = 16
	// freeLinkSize is the space the free-list pointers need when a block is free.
	freeLinkSize = 16
	// fullFreeHeaderSize is hdrOff plus room for both free-list links, the actual
	// minimum header footprint a block needs while it sits in the free list. This,
	// not hdrOff alone, governs the block-size minimum below.
	fullFreeHeaderSize = hdrOff + freeLinkSize
	footerSize         = 8

	// occupiedMin is the smallest size any block, free or occupied, may have: room
	// for the header, one aligned user word, and the footer. It is the floor the
	// header sanity checks in Free and Validate apply to every block.
	occupiedMin = hdrOff + AlignSize + footerSize

	// minBlockSize is the smallest size a block may have while sitting in the free
	// list: occupiedMin plus room for both free-list links. This, not occupiedMin,
	// governs the smallest block Alloc hands out (every occupied block becomes free
	// again on Free), the split decision in Alloc, and the initial/minimum arena size, because
	// a free block that cannot hold nextFree/prevFree would corrupt the list the
	// moment it was linked in.
	minBlockSize = fullFreeHeaderSize + AlignSize + footerSize

	// noLink is the sentinel stored in nextFree/prevFree meaning "no block".
	noLink int64 = -1
)

// block is a thin view over a span of arena memory starting at offset. It has no
// state of its own beyond region+offset; every accessor reads or writes directly
// through the arena's backing bytes, which is what lets the free-list pointers live
// inside the blocks themselves rather than in a parallel Go structure.
type block struct {
	region unsafe.Pointer
	offset int
}

func at(region unsafe.Pointer, offset int) block {
	return block{region: region, offset: offset}
}

func (b block) ptr() unsafe.Pointer { return unsafe.Add(b.region, b.offset) }

func (b block) size() int {
	return int(*(*uint64)(b.ptr()))
}

func (b block) setSize(size int) {
	*(*uint64)(b.ptr()) = uint64(size)
}

func (b block) isFree() bool {
	return *(*byte)(unsafe.Add(b.ptr(), 8)) != 0
}

func (b block) setFree(free bool) {
	var v byte
	if free {
		v = 1
	}
	*(*byte)(unsafe.Add(b.ptr(), 8)) = v
}

func (b block) nextFree() int64 {
	return *(*int64)(unsafe.Add(b.ptr(), hdrOff))
}

func (b block) setNextFree(offset int64) {
	*(*int64)(unsafe.Add(b.ptr(), hdrOff)) = offset
}

func (b block) prevFree() int64 {
	return *(*int64)(unsafe.Add(b.ptr(), hdrOff+8))
}

func (b block) setPrevFree(offset int64) {
	*(*int64)(unsafe.Add(b.ptr(), hdrOff+8)) = offset
}

// footerOffset returns this block's footer offset relative to the arena base.
func (b block) footerOffset() int {
	return b.offset + b.size() - footerSize
}

func (b block) footer() int {
	return int(*(*uint64)(unsafe.Add(b.region, b.footerOffset())))
}

func (b block) setFooter(size int) {
	*(*uint64)(unsafe.Add(b.region, b.footerOffset())) = uint64(size)
}

// data returns the pointer handed to the client for an occupied block.
func (b block) data() unsafe.Pointer {
	return unsafe.Add(b.ptr(), hdrOff)
}

// end returns the offset one past this block's last byte.
func (b block) end() int {
	return b.offset + b.size()
}

// userSize returns the number of bytes usable by the client if this block is (or
// were) occupied.
func (b block) userSize() int {
	return b.size() - hdrOff - footerSize
}
