package vmm

import (
	"testing"
	"unsafe"

	"helium/kernel/cpu"
)

// bumpAlloc returns a FrameAllocFunc that bump-allocates page-aligned
// blocks out of buf, treating Go's own addresses as physical addresses --
// the same stand-in used throughout kernel/mem/pmm/buddy's tests.
func bumpAlloc(buf []byte) FrameAllocFunc {
	base := uint64(uintptr(unsafe.Pointer(&buf[0])))
	aligned := (base + PageSize - 1) &^ (PageSize - 1)
	next := aligned
	end := base + uint64(len(buf))
	return func(size uint64) uint64 {
		if next+size > end {
			return 0
		}
		ret := next
		next += size
		return ret
	}
}

func withMockedCPU(t *testing.T, features uint32) (restore func()) {
	t.Helper()
	origCPUID, origCR3, origCR4r, origCR4w, origCR0r, origCR0w, origTLB :=
		cpuidFeaturesFn, writeCR3Fn, readCR4Fn, writeCR4Fn, readCR0Fn, writeCR0Fn, flushTLBEntryFn

	var cr0, cr4 uint32
	cpuidFeaturesFn = func() uint32 { return features }
	writeCR3Fn = func(uint32) {}
	readCR4Fn = func() uint32 { return cr4 }
	writeCR4Fn = func(v uint32) { cr4 = v }
	readCR0Fn = func() uint32 { return cr0 }
	writeCR0Fn = func(v uint32) { cr0 = v }
	flushTLBEntryFn = func(uintptr) {}

	return func() {
		cpuidFeaturesFn, writeCR3Fn, readCR4Fn, writeCR4Fn, readCR0Fn, writeCR0Fn, flushTLBEntryFn =
			origCPUID, origCR3, origCR4r, origCR4w, origCR0r, origCR0w, origTLB
	}
}

func TestInitPicksLegacyByDefault(t *testing.T) {
	defer withMockedCPU(t, cpu.FeaturePSE)()

	buf := make([]byte, 1<<20)
	dir, err := Init(uint64(1)<<30, bumpAlloc(buf))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, ok := dir.(*legacyTables); !ok {
		t.Errorf("expected legacyTables for <4GiB memory, got %T", dir)
	}
}

func TestInitPicksPAEForLargeMemoryWithFeature(t *testing.T) {
	defer withMockedCPU(t, cpu.FeaturePSE|cpu.FeaturePAE)()

	buf := make([]byte, 1<<20)
	dir, err := Init(uint64(1)<<33, bumpAlloc(buf))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, ok := dir.(*paeTables); !ok {
		t.Errorf("expected paeTables for >4GiB memory with PAE support, got %T", dir)
	}
}

func TestInitFallsBackToLegacyWithoutPAEFeature(t *testing.T) {
	defer withMockedCPU(t, cpu.FeaturePSE)()

	buf := make([]byte, 1<<20)
	dir, err := Init(uint64(1)<<33, bumpAlloc(buf))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, ok := dir.(*legacyTables); !ok {
		t.Errorf("expected legacyTables fallback without PAE feature, got %T", dir)
	}
}

func TestInitFailsWithoutPSE(t *testing.T) {
	defer withMockedCPU(t, 0)()

	buf := make([]byte, 1<<20)
	if _, err := Init(uint64(1)<<30, bumpAlloc(buf)); err == nil {
		t.Error("expected Init to fail when the CPU doesn't report PSE support")
	}
}
