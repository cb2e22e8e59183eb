// Package vmm implements the paging subsystem: it turns a flat physical
// frame allocator into a virtual address space with an identity-mapped
// kernel window, a rotating temporary-mapping window and a monotonically
// growing permanent-mapping window. Two independent table layouts satisfy
// the same Directory interface -- legacyTables (32-bit page directory, 4 MiB
// large pages) and paeTables (PAE, 2 MiB large pages) -- selected at Init
// time based on how much physical memory was discovered and whether the
// CPU reports PAE support.
package vmm

import (
	"helium/kernel"
	"helium/kernel/cpu"
)

// Layout of the kernel's own virtual address space. Deliberately
// conservative, so that both table formats, whose large-page sizes differ
// (4 MiB vs 2 MiB), can address every window with a single directory/L2
// entry.
const (
	pageBits = 12
	PageSize = uint64(1) << pageBits

	// identityWindowSize covers the kernel image plus whatever the early
	// boot allocators carve out before the heap exists.
	identityWindowSize = 16 * 1024 * 1024

	// tempWindowStart/tempWindowSlots describe the rotating window used
	// for short-lived mappings (e.g. zeroing a freshly allocated page
	// table before linking it in). One slot is one 4 KiB page regardless
	// of which table format is active.
	tempWindowStart = identityWindowSize
	tempWindowSlots = 1024

	// permWindowStart is where permanent (monotonically increasing,
	// never reclaimed) mappings begin.
	permWindowStart = tempWindowStart + tempWindowSlots*PageSize
)

// FrameAllocFunc allocates a single physical frame-sized block and returns
// its address, or 0 on failure; buddy.Allocator.Alloc has exactly this
// shape.
type FrameAllocFunc func(size uint64) uint64

// Directory is satisfied by both page table layouts this package supports.
type Directory interface {
	// MapTemp establishes a short-lived mapping for the physical frame at
	// phys and returns the virtual address it's now visible at.
	MapTemp(phys uint64) (virt uintptr, err *kernel.Error)
	// UnmapTemp releases a mapping previously returned by MapTemp.
	UnmapTemp(virt uintptr)
	// MapPerm establishes a mapping that is never reclaimed.
	MapPerm(phys uint64) (virt uintptr, err *kernel.Error)
	// MaxMemory reports the largest physical address this layout can
	// describe.
	MaxMemory() uint64
}

var (
	// cpuidFeaturesFn and the CR3/CR4/paging-enable hooks are mocked by
	// tests, the same seam idiom used elsewhere for cpu-touching package
	// vars (vmm's activePDTFn/switchPDTFn, map's flushTLBEntryFn).
	cpuidFeaturesFn = cpu.CPUIDFeatures
	writeCR3Fn      = cpu.WriteCR3
	readCR4Fn       = cpu.ReadCR4
	writeCR4Fn      = cpu.WriteCR4
	readCR0Fn       = cpu.ReadCR0
	writeCR0Fn      = cpu.WriteCR0
	flushTLBEntryFn = cpu.FlushTLBEntry
)

func enablePaging() {
	writeCR0Fn(readCR0Fn() | cpu.CR0PagingEnable)
}

// Static directory instances: Init runs before the Go allocator is online,
// so the active layout lives in package data rather than on the heap.
var (
	legacyDir legacyTables
	paeDir    paeTables
)

// Init selects and initializes the appropriate page table layout: PAE when
// the discovered physical memory exceeds the 32-bit address space and the
// CPU reports PAE support, legacy otherwise (including the fallback when
// PAE-sized memory is present but the feature bit is missing).
func Init(maxPhysicalMemory uint64, alloc FrameAllocFunc) (Directory, *kernel.Error) {
	if maxPhysicalMemory > (uint64(1)<<32) && cpuidFeaturesFn()&cpu.FeaturePAE != 0 {
		if err := paeDir.init(alloc); err != nil {
			return nil, err
		}
		return &paeDir, nil
	}

	if err := legacyDir.init(alloc); err != nil {
		return nil, err
	}
	return &legacyDir, nil
}

var errOutOfTempMappings = &kernel.Error{Module: "vmm", Message: "out of temporary mappings"}
var errPSEUnsupported = &kernel.Error{Module: "vmm", Message: "large pages (PSE) are not supported"}
var errOutOfFrames = &kernel.Error{Module: "vmm", Message: "physical frame allocator exhausted"}
