// Package heap implements the byte-granular allocator layered on top of
// the buddy frame allocator: a single first-fit free list of
// address-ordered blocks that grows by whole frames whenever it runs dry.
//
// It exists independently of the Go runtime's own allocator (wired up
// separately in kernel/goruntime once paging is live) because it backs
// allocations made before a full address space exists -- there is nothing
// for the Go runtime allocator to grow into yet -- and because the
// tasklet/IRQ bottom-half path (kernel/sched) needs an allocator it can
// call without assuming the Go scheduler itself is reentrant.
//
// Malloc is first-fit with in-place splitting and grows by
// max(requested, PageGrowth) frames on exhaustion; Free keeps the free list
// address-ordered and coalesces with both neighbours.
package heap

import (
	"unsafe"

	"helium/kernel"
	"helium/kernel/mem/pmm/buddy"
)

// PageGrowth is the number of 4 KiB frames requested whenever the heap
// needs to grow.
const PageGrowth = 16

const pageSize = 4096

// blockHeader precedes every block on the free list. A live allocation
// only has the leading size field preserved immediately before the
// pointer handed back to the caller; next/prev only matter while the
// block is on the free list.
type blockHeader struct {
	size uint32
	next *blockHeader
	prev *blockHeader
}

const headerSize = unsafe.Sizeof(uint32(0))
const minAllocSize = unsafe.Sizeof(blockHeader{})

// Heap is a single first-fit free-list allocator growing by whole frames
// taken from frames. The zero value is not usable; construct with New.
type Heap struct {
	freeBlocks *blockHeader
	frames     *buddy.Allocator
}

var errOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}

// New takes the heap's first chunk (PageGrowth frames) from frames and
// initializes the free list to a single block spanning it.
func New(frames *buddy.Allocator) (*Heap, *kernel.Error) {
	h := &Heap{frames: frames}

	phys := frames.Alloc(PageGrowth * pageSize)
	if phys == 0 {
		return nil, errOutOfMemory
	}

	// size counts the usable bytes after the size field, so the last
	// allocation carved from this chunk cannot run past the frame.
	block := blockAt(uintptr(phys))
	block.size = PageGrowth*pageSize - uint32(headerSize)
	block.next = nil
	block.prev = nil
	h.freeBlocks = block

	return h, nil
}

// Malloc rounds n up to the minimum allocation size and walks the free
// list first-fit: a block big enough to hold n plus a header plus a
// minimum free block is split in place; a block that fits but can't be
// split cleanly is taken whole; if nothing fits, a new frame-allocator
// chunk sized to hold at least n is appended and the search retries.
// Returns nil on OOM.
func (h *Heap) Malloc(n uintptr) unsafe.Pointer {
	if n < minAllocSize {
		n = minAllocSize
	}

	b := h.freeBlocks
	for {
		if b == nil {
			return nil
		}

		if uintptr(b.size) >= n+headerSize+minAllocSize {
			mem := blockMemory(b)
			b1 := blockAt(mem + n)
			b1.size = b.size - uint32(n+headerSize)
			b1.prev = b.prev
			b1.next = b.next
			if b1.prev != nil {
				b1.prev.next = b1
			} else {
				h.freeBlocks = b1
			}
			if b1.next != nil {
				b1.next.prev = b1
			}
			b.size = uint32(n)
			return unsafe.Pointer(mem)
		}

		if uintptr(b.size) >= n {
			prev, next := b.prev, b.next
			if prev != nil {
				prev.next = next
			} else {
				h.freeBlocks = next
			}
			if next != nil {
				next.prev = prev
			}
			return unsafe.Pointer(blockMemory(b))
		}

		if b.next == nil {
			if !h.growAfter(b, n) {
				return nil
			}
		}
		b = b.next
	}
}

// growAfter appends a freshly allocated frame-sized chunk after the tail
// free block b, sized to hold at least n bytes or PageGrowth frames,
// whichever is larger.
func (h *Heap) growAfter(tail *blockHeader, n uintptr) bool {
	numPages := (uintptr(n)+pageSize-1)/pageSize + 1
	if numPages < PageGrowth {
		numPages = PageGrowth
	}
	size := numPages * pageSize

	phys := h.frames.Alloc(uint64(size))
	if phys == 0 {
		return false
	}

	block := blockAt(uintptr(phys))
	block.size = uint32(size - headerSize)
	block.prev = tail
	block.next = nil
	tail.next = block
	return true
}

// Free recovers the header immediately before p to learn the block's
// size and inserts it into the free list at the position that keeps the
// list sorted by address, coalescing with either neighbour that turns out
// to be adjacent. Free(nil) is a no-op.
func (h *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}

	block := headerBefore(p)

	if h.freeBlocks == nil || uintptr(unsafe.Pointer(block)) < uintptr(unsafe.Pointer(h.freeBlocks)) {
		block.next = h.freeBlocks
		block.prev = nil
		if h.freeBlocks != nil {
			h.freeBlocks.prev = block
		}
		h.freeBlocks = block
		h.coalesce(block)
		return
	}

	b := h.freeBlocks
	for b.next != nil && uintptr(unsafe.Pointer(b.next)) < uintptr(unsafe.Pointer(block)) {
		b = b.next
	}

	next := b.next
	b.next = block
	block.prev = b
	block.next = next
	if next != nil {
		next.prev = block
	}
	h.coalesce(block)
}

// coalesce merges block with either free-list neighbour that is
// physically adjacent to it.
func (h *Heap) coalesce(block *blockHeader) {
	if next := block.next; next != nil {
		if blockMemory(block)+uintptr(block.size) == uintptr(unsafe.Pointer(next)) {
			block.size += uint32(headerSize) + next.size
			block.next = next.next
			if block.next != nil {
				block.next.prev = block
			}
		}
	}

	if prev := block.prev; prev != nil {
		if blockMemory(prev)+uintptr(prev.size) == uintptr(unsafe.Pointer(block)) {
			prev.size += uint32(headerSize) + block.size
			prev.next = block.next
			if prev.next != nil {
				prev.next.prev = prev
			}
		}
	}
}

func blockAt(addr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(addr))
}

// blockMemory returns the address handed back to callers for a block:
// immediately past its size field.
func blockMemory(b *blockHeader) uintptr {
	return uintptr(unsafe.Pointer(b)) + headerSize
}

// headerBefore recovers the block header immediately preceding a pointer
// previously returned by Malloc.
func headerBefore(p unsafe.Pointer) *blockHeader {
	return blockAt(uintptr(p) - headerSize)
}
