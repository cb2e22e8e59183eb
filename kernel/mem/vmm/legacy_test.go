package vmm

import "testing"

func TestLegacyMapTempReturnsWindowAddress(t *testing.T) {
	defer withMockedCPU(t, 0xFFFFFFFF)()

	buf := make([]byte, 4<<20)
	var lt legacyTables
	if err := lt.init(bumpAlloc(buf)); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	virt, err := lt.MapTemp(0x12345000)
	if err != nil {
		t.Fatalf("MapTemp failed: %v", err)
	}
	if uint64(virt) < tempWindowStart || uint64(virt) >= tempWindowStart+tempWindowSlots*PageSize {
		t.Errorf("expected virt in temp window, got %#x", virt)
	}

	lt.UnmapTemp(virt)
	// Mapping the same slot again should succeed immediately, proving the
	// cursor rewound to the freed slot.
	virt2, err := lt.MapTemp(0x6000)
	if err != nil {
		t.Fatalf("second MapTemp failed: %v", err)
	}
	if virt2 != virt {
		t.Errorf("expected reused slot %#x, got %#x", virt, virt2)
	}
}

func TestLegacyMapTempExhaustion(t *testing.T) {
	defer withMockedCPU(t, 0xFFFFFFFF)()

	buf := make([]byte, 4<<20)
	var lt legacyTables
	if err := lt.init(bumpAlloc(buf)); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	for i := 0; i < tempWindowSlots; i++ {
		if _, err := lt.MapTemp(uint64(0x1000 * (i + 1))); err != nil {
			t.Fatalf("MapTemp %d failed unexpectedly: %v", i, err)
		}
	}

	if _, err := lt.MapTemp(0x99999000); err == nil {
		t.Error("expected MapTemp to fail once every slot is taken")
	}
}

func TestLegacyMapPermGrowsMonotonically(t *testing.T) {
	defer withMockedCPU(t, 0xFFFFFFFF)()

	buf := make([]byte, 8<<20)
	var lt legacyTables
	if err := lt.init(bumpAlloc(buf)); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	v1, err := lt.MapPerm(0x100000)
	if err != nil {
		t.Fatalf("MapPerm failed: %v", err)
	}
	v2, err := lt.MapPerm(0x101000)
	if err != nil {
		t.Fatalf("MapPerm failed: %v", err)
	}

	if v2 != v1+uintptr(PageSize) {
		t.Errorf("expected MapPerm to advance by one page, got %#x then %#x", v1, v2)
	}
}

func TestLegacyMaxMemory(t *testing.T) {
	var lt legacyTables
	if got, want := lt.MaxMemory(), uint64(1)<<32; got != want {
		t.Errorf("expected max memory %#x, got %#x", want, got)
	}
}
