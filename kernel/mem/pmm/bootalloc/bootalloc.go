// Package bootalloc provides the tiny bump allocator used to bootstrap the
// real buddy allocator: before the buddy allocator's own metadata bit
// vector exists, something still has to hand out the handful of frames it
// needs for its own bookkeeping. A small allocator over a reserved scratch
// region satisfies buddy.Aux for exactly that window.
package bootalloc

import "helium/kernel"

// Allocator is a monotonic bump allocator over a single contiguous region.
// It never frees; its only job is to live long enough to back the main
// buddy allocator's metadata block during Init, after which it is
// discarded.
type Allocator struct {
	next uint64
	end  uint64
}

// Init prepares the allocator to hand out frames from [start, end).
func (a *Allocator) Init(start, end uint64) *kernel.Error {
	if end <= start {
		return &kernel.Error{Module: "bootalloc", Message: "empty region"}
	}
	a.next = start
	a.end = end
	return nil
}

// Alloc rounds size up to the next power of two, bumps the cursor past it,
// and returns the physical address of the new block, or 0 if the region is
// exhausted. Allocations are always aligned to their own (rounded) size,
// the same alignment guarantee the real buddy allocator provides, since the
// buddy allocator inspects the metadata frame's alignment via FindOrder.
func (a *Allocator) Alloc(size uint64) uint64 {
	if size == 0 {
		size = 1
	}
	order := uint(0)
	for (uint64(1) << order) < size {
		order++
	}
	blockSize := uint64(1) << order

	aligned := alignUp(a.next, blockSize)
	if aligned+blockSize > a.end {
		return 0
	}

	a.next = aligned + blockSize
	return aligned
}

// Remaining reports how many bytes are left unused in the region.
func (a *Allocator) Remaining() uint64 {
	if a.next >= a.end {
		return 0
	}
	return a.end - a.next
}

func alignUp(addr, align uint64) uint64 {
	return (addr + align - 1) &^ (align - 1)
}
