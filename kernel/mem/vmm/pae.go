package vmm

import (
	"unsafe"

	"helium/kernel"
	"helium/kernel/cpu"
)

const (
	paeEntryBits     = pageBits - 3 // 9 bits -> 512 entries/table
	paeLargePageBits = pageBits + paeEntryBits
	paeLargePageSize = uint64(1) << paeLargePageBits
	paeL3Entries     = 4
	paeEntriesPerTbl = 1 << paeEntryBits
)

type paeFlag uint64

const (
	paePresent paeFlag = 1 << 0
	paeRW      paeFlag = 1 << 1
	paeLarge   paeFlag = 1 << 7
)

type paeEntry uint64

func (e paeEntry) present() bool { return uint64(e)&uint64(paePresent) != 0 }
func (e paeEntry) phys() uint64  { return uint64(e) &^ 0xFFF }

func mkPaeEntry(phys uint64, flags paeFlag) paeEntry {
	return paeEntry(phys) | paeEntry(flags)
}

type paeL3Table = [paeL3Entries]paeEntry
type paeTable = [paeEntriesPerTbl]paeEntry

func asPaeL3Table(phys uint64) *paeL3Table { return (*paeL3Table)(unsafe.Pointer(uintptr(phys))) }
func asPaeTable(phys uint64) *paeTable     { return (*paeTable)(unsafe.Pointer(uintptr(phys))) }

func paeL3Index(addr uint64) uint32 { return uint32(addr>>30) & 0x3 }
func paeL2Index(addr uint64) uint32 {
	return uint32(addr>>paeLargePageBits) & (paeEntriesPerTbl - 1)
}
func paeL1Index(addr uint64) uint32 { return uint32(addr>>pageBits) & (paeEntriesPerTbl - 1) }

// paeTables implements Directory using PAE's 3-level format: a 4-entry L3
// table, one L2 table of 512 64-bit entries covering the first GiB of
// virtual memory (a second GiB would need a second L2 table, which this
// kernel's virtual layout never reaches), and dynamically allocated
// 512-entry L1 tables for the temp/perm windows. Large (2 MiB) pages back
// the identity window.
type paeTables struct {
	l3Phys uint64
	l3     *paeL3Table
	l2     *paeTable
	tmp    *paeTable

	tempCursor uint32
	permCursor uint64

	alloc FrameAllocFunc
}

func (pt *paeTables) init(alloc FrameAllocFunc) *kernel.Error {
	if cpuidFeaturesFn()&cpu.FeaturePSE == 0 {
		return errPSEUnsupported
	}

	l3Phys := alloc(PageSize)
	if l3Phys == 0 {
		return errOutOfFrames
	}
	l3 := asPaeL3Table(l3Phys)
	zeroPaeL3Table(l3)

	l2Phys := alloc(PageSize)
	if l2Phys == 0 {
		return errOutOfFrames
	}
	l2 := asPaeTable(l2Phys)
	zeroPaeTable(l2)
	l3[0] = mkPaeEntry(l2Phys, paePresent)

	pt.l3Phys = l3Phys
	pt.l3 = l3
	pt.l2 = l2
	pt.alloc = alloc

	for addr := uint64(0); addr < identityWindowSize; addr += paeLargePageSize {
		l2[paeL2Index(addr)] = mkPaeEntry(addr, paePresent|paeRW|paeLarge)
	}

	tmpPhys := alloc(PageSize)
	if tmpPhys == 0 {
		return errOutOfFrames
	}
	tmp := asPaeTable(tmpPhys)
	zeroPaeTable(tmp)
	l2[paeL2Index(tempWindowStart)] = mkPaeEntry(tmpPhys, paePresent|paeRW)
	pt.tmp = tmp

	pt.tempCursor = 0
	pt.permCursor = permWindowStart

	writeCR3Fn(uint32(l3Phys))
	writeCR4Fn(readCR4Fn() | cpu.CR4PSE)
	writeCR4Fn(readCR4Fn() | cpu.CR4PAE)
	enablePaging()

	return nil
}

// paeTempSlots is the temp window capacity under PAE: one L1 table's worth
// of 4 KiB entries, half the legacy capacity, occupying the first 2 MiB of
// the shared temp window range.
const paeTempSlots = paeEntriesPerTbl

func (pt *paeTables) MapTemp(phys uint64) (uintptr, *kernel.Error) {
	start := pt.tempCursor
	idx := start
	for pt.tmp[idx].present() {
		idx = (idx + 1) % paeTempSlots
		if idx == start {
			return 0, errOutOfTempMappings
		}
	}

	pt.tmp[idx] = mkPaeEntry(phys, paePresent|paeRW)
	virt := tempWindowStart + uint64(idx)*PageSize
	pt.tempCursor = (idx + 1) % paeTempSlots
	return uintptr(virt), nil
}

func (pt *paeTables) UnmapTemp(virt uintptr) {
	flushTLBEntryFn(virt)
	idx := uint32((uint64(virt) - tempWindowStart) / PageSize)
	pt.tmp[idx] = 0
	pt.tempCursor = idx
}

func (pt *paeTables) MapPerm(phys uint64) (uintptr, *kernel.Error) {
	virt := pt.permCursor

	entry := &pt.l2[paeL2Index(virt)]
	var table *paeTable
	if entry.present() {
		table = asPaeTable(entry.phys())
	} else {
		tablePhys := pt.alloc(PageSize)
		if tablePhys == 0 {
			return 0, errOutOfFrames
		}
		table = asPaeTable(tablePhys)
		zeroPaeTable(table)
		*entry = mkPaeEntry(tablePhys, paePresent|paeRW)
	}

	table[paeL1Index(virt)] = mkPaeEntry(phys, paePresent|paeRW)
	pt.permCursor += PageSize
	return uintptr(virt), nil
}

func (pt *paeTables) MaxMemory() uint64 {
	return uint64(1) << 36
}

func zeroPaeTable(t *paeTable) {
	for i := range t {
		t[i] = 0
	}
}

func zeroPaeL3Table(t *paeL3Table) {
	for i := range t {
		t[i] = 0
	}
}
