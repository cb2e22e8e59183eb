package vmm

import "testing"

func TestPAEMapTempReturnsWindowAddress(t *testing.T) {
	defer withMockedCPU(t, 0xFFFFFFFF)()

	buf := make([]byte, 4<<20)
	var pt paeTables
	if err := pt.init(bumpAlloc(buf)); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	virt, err := pt.MapTemp(0x12345000)
	if err != nil {
		t.Fatalf("MapTemp failed: %v", err)
	}
	if uint64(virt) < tempWindowStart || uint64(virt) >= tempWindowStart+tempWindowSlots*PageSize {
		t.Errorf("expected virt in temp window, got %#x", virt)
	}

	pt.UnmapTemp(virt)
	virt2, err := pt.MapTemp(0x6000)
	if err != nil {
		t.Fatalf("second MapTemp failed: %v", err)
	}
	if virt2 != virt {
		t.Errorf("expected reused slot %#x, got %#x", virt, virt2)
	}
}

func TestPAEMapPermGrowsMonotonically(t *testing.T) {
	defer withMockedCPU(t, 0xFFFFFFFF)()

	buf := make([]byte, 8<<20)
	var pt paeTables
	if err := pt.init(bumpAlloc(buf)); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	v1, err := pt.MapPerm(0x100000)
	if err != nil {
		t.Fatalf("MapPerm failed: %v", err)
	}
	v2, err := pt.MapPerm(0x101000)
	if err != nil {
		t.Fatalf("MapPerm failed: %v", err)
	}

	if v2 != v1+uintptr(PageSize) {
		t.Errorf("expected MapPerm to advance by one page, got %#x then %#x", v1, v2)
	}
}

func TestPAEMaxMemory(t *testing.T) {
	var pt paeTables
	if got, want := pt.MaxMemory(), uint64(1)<<36; got != want {
		t.Errorf("expected max memory %#x, got %#x", want, got)
	}
}
