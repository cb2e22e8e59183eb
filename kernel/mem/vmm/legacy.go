package vmm

import (
	"unsafe"

	"helium/kernel"
	"helium/kernel/cpu"
)

const (
	legacyLargePageBits = 22 // 4 MiB
	legacyLargePageSize = uint64(1) << legacyLargePageBits
	legacyEntriesPerTbl = 1024
)

type legacyFlag uint32

const (
	legacyPresent legacyFlag = 1 << 0
	legacyRW      legacyFlag = 1 << 1
	legacyLarge   legacyFlag = 1 << 7
)

type legacyEntry uint32

func (e legacyEntry) present() bool { return uint32(e)&uint32(legacyPresent) != 0 }
func (e legacyEntry) phys() uint64  { return uint64(e) &^ 0xFFF }

func mkLegacyEntry(phys uint64, flags legacyFlag) legacyEntry {
	return legacyEntry(phys) | legacyEntry(flags)
}

type legacyTable = [legacyEntriesPerTbl]legacyEntry

func asLegacyTable(phys uint64) *legacyTable {
	return (*legacyTable)(unsafe.Pointer(uintptr(phys)))
}

func legacyDirIndex(addr uint64) uint32   { return uint32(addr >> legacyLargePageBits) }
func legacyTableIndex(addr uint64) uint32 { return uint32(addr>>pageBits) & (legacyEntriesPerTbl - 1) }

// legacyTables implements Directory using the classic 32-bit two-level page
// table format: a 1024-entry page directory, large (4 MiB) pages for the
// identity window, and regular 4 KiB pages reached through one page table
// per directory entry for the temp/perm windows.
type legacyTables struct {
	dirPhys uint64
	dir     *legacyTable
	tmp     *legacyTable

	tempCursor uint32
	permCursor uint64

	alloc FrameAllocFunc
}

func (lt *legacyTables) init(alloc FrameAllocFunc) *kernel.Error {
	if cpuidFeaturesFn()&cpu.FeaturePSE == 0 {
		return errPSEUnsupported
	}

	dirPhys := alloc(PageSize)
	if dirPhys == 0 {
		return errOutOfFrames
	}
	dir := asLegacyTable(dirPhys)
	zeroLegacyTable(dir)

	lt.dirPhys = dirPhys
	lt.dir = dir
	lt.alloc = alloc

	// Identity map the kernel window with large pages.
	for addr := uint64(0); addr < identityWindowSize; addr += legacyLargePageSize {
		dir[legacyDirIndex(addr)] = mkLegacyEntry(addr, legacyPresent|legacyRW|legacyLarge)
	}

	// Set up the temporary mapping window's page table.
	tmpPhys := alloc(PageSize)
	if tmpPhys == 0 {
		return errOutOfFrames
	}
	tmp := asLegacyTable(tmpPhys)
	zeroLegacyTable(tmp)
	dir[legacyDirIndex(tempWindowStart)] = mkLegacyEntry(tmpPhys, legacyPresent|legacyRW)
	lt.tmp = tmp

	lt.tempCursor = 0
	lt.permCursor = permWindowStart

	writeCR3Fn(uint32(dirPhys))
	writeCR4Fn(readCR4Fn() | cpu.CR4PSE)
	enablePaging()

	return nil
}

func (lt *legacyTables) MapTemp(phys uint64) (uintptr, *kernel.Error) {
	start := lt.tempCursor
	idx := start
	for lt.tmp[idx].present() {
		idx = (idx + 1) % tempWindowSlots
		if idx == start {
			return 0, errOutOfTempMappings
		}
	}

	lt.tmp[idx] = mkLegacyEntry(phys, legacyPresent|legacyRW)
	virt := tempWindowStart + uint64(idx)*PageSize
	lt.tempCursor = (idx + 1) % tempWindowSlots
	return uintptr(virt), nil
}

func (lt *legacyTables) UnmapTemp(virt uintptr) {
	flushTLBEntryFn(virt)
	idx := uint32((uint64(virt) - tempWindowStart) / PageSize)
	lt.tmp[idx] = 0
	lt.tempCursor = idx
}

func (lt *legacyTables) MapPerm(phys uint64) (uintptr, *kernel.Error) {
	virt := lt.permCursor

	entry := &lt.dir[legacyDirIndex(virt)]
	var table *legacyTable
	if entry.present() {
		table = asLegacyTable(entry.phys())
	} else {
		tablePhys := lt.alloc(PageSize)
		if tablePhys == 0 {
			return 0, errOutOfFrames
		}
		table = asLegacyTable(tablePhys)
		zeroLegacyTable(table)
		*entry = mkLegacyEntry(tablePhys, legacyPresent|legacyRW)
	}

	table[legacyTableIndex(virt)] = mkLegacyEntry(phys, legacyPresent|legacyRW)
	lt.permCursor += PageSize
	return uintptr(virt), nil
}

func (lt *legacyTables) MaxMemory() uint64 {
	return uint64(1) << 32
}

func zeroLegacyTable(t *legacyTable) {
	for i := range t {
		t[i] = 0
	}
}
