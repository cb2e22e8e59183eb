// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator.
package goruntime

import (
	"unsafe"

	"helium/kernel/mem"
	"helium/kernel/mem/pmm/buddy"
	"helium/kernel/mem/vmm"
)

var (
	// dir is the active page directory, installed once vmm.Init has run.
	// Every sys* hook below is a no-op until SetDirectory is called.
	dir vmm.Directory

	// frames backs sysAlloc's per-page frame requests. Installed together
	// with dir once the buddy allocator is up.
	frames *buddy.Allocator
)

// SetDirectory installs the page directory and frame allocator the sys*
// hooks below use to satisfy the Go runtime's own allocation requests. Must
// be called once, after vmm.Init and the buddy allocator are both ready,
// before the Go allocator makes its first sysAlloc call.
func SetDirectory(d vmm.Directory, a *buddy.Allocator) {
	dir = d
	frames = a
}

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
// Directory only exposes MapPerm, which allocates and maps a frame in the
// same step -- there is no way to carve out an unmapped virtual range
// separately. sysReserve therefore always reports reserved=false, which
// tells the Go runtime to fall through to sysAlloc for the whole region
// instead of a later sysMap call; this is the same fallback path the
// runtime already uses on platforms that can't reserve address space
// up front.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	*reserved = false
	return nil
}

// sysMap establishes a mapping for a particular memory region that has been
// reserved previously via a call to sysReserve.
//
// This function replaces runtime.sysMap and is required for initializing the
// Go allocator. Since sysReserve never reports a successful reservation,
// the runtime never actually calls sysMap; it is kept (rather than deleted)
// because go:redirect-from wires it up unconditionally and a future
// Directory that does support bare reservations should resume using it.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}
	return unsafe.Pointer(uintptr(0))
}

// sysAlloc reserves enough physical frames to satisfy the allocation request
// and establishes a mapping for them, returning the virtual address of the
// first page.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	if dir == nil || frames == nil {
		return unsafe.Pointer(uintptr(0))
	}

	regionSize := (mem.Size(size) + mem.PageSize - 1) &^ (mem.PageSize - 1)
	pageCount := regionSize >> mem.PageShift

	var regionStart uintptr
	for i := uint64(0); i < uint64(pageCount); i++ {
		phys := frames.Alloc(uint64(mem.PageSize))
		if phys == 0 {
			return unsafe.Pointer(uintptr(0))
		}

		virt, err := dir.MapPerm(phys)
		if err != nil {
			return unsafe.Pointer(uintptr(0))
		}

		if i == 0 {
			regionStart = virt
		}
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStart)
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var (
		reserved bool
		stat     uint64
		zeroPtr  = unsafe.Pointer(uintptr(0))
	)

	sysReserve(zeroPtr, 0, &reserved)
	sysMap(zeroPtr, 0, true, &stat)
	sysAlloc(0, &stat)
}
