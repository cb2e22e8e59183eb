package buddy

import (
	"testing"
	"unsafe"
)

// backing returns a byte slice usable as a stand-in physical memory region,
// along with its address treated as a physical base, so "raw physical
// memory" code can be exercised from a regular test binary.
func backing(tb testing.TB, size int) (buf []byte, base uint64) {
	tb.Helper()
	buf = make([]byte, size)
	return buf, uint64(uintptr(unsafe.Pointer(&buf[0])))
}

func allUsable(_, _ uint64) Info { return InfoUsable }

func TestInitAvailableBytesMatchesRegion(t *testing.T) {
	_, base := backing(t, 1<<16)

	var a Allocator
	if err := a.Init(base, base+(1<<16), 6, allUsable, nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Self-hosted bootstrap carves the metadata block out of the region
	// itself: order max(minOrder, maxOrder-minOrder-2) = 8, so 256 bytes.
	if got, want := a.AvailableBytes(), uint64(1<<16)-256; got != want {
		t.Errorf("expected %d available bytes, got %d", want, got)
	}
}

func TestAllocShrinksAvailableAndReturnsInRangeAddr(t *testing.T) {
	_, base := backing(t, 1<<16)

	var a Allocator
	if err := a.Init(base, base+(1<<16), 6, allUsable, nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	before := a.AvailableBytes()
	phys := a.Alloc(256)
	if phys == 0 {
		t.Fatal("expected non-zero allocation")
	}
	if phys < base || phys >= base+(1<<16) {
		t.Errorf("allocated address %#x out of range", phys)
	}

	after := a.AvailableBytes()
	if after >= before {
		t.Errorf("expected available bytes to shrink: before=%d after=%d", before, after)
	}
}

func TestAllocDisjointBlocks(t *testing.T) {
	_, base := backing(t, 1<<16)

	var a Allocator
	if err := a.Init(base, base+(1<<16), 6, allUsable, nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	seen := map[uint64]bool{}
	for i := 0; i < 8; i++ {
		phys := a.Alloc(64)
		if phys == 0 {
			t.Fatalf("allocation %d failed", i)
		}
		if seen[phys] {
			t.Fatalf("allocation %d returned duplicate address %#x", i, phys)
		}
		seen[phys] = true
	}
}

func TestFreeMergesBuddiesBackToParentOrder(t *testing.T) {
	_, base := backing(t, 1<<16)

	var a Allocator
	if err := a.Init(base, base+(1<<16), 6, allUsable, nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	full := a.AvailableBytes()

	// Exhaust order-minOrder blocks two at a time and free them
	// immediately; the merge logic should bring availability back to the
	// starting point every time, proving buddies recombine.
	p1 := a.Alloc(64)
	p2 := a.Alloc(64)
	if p1 == 0 || p2 == 0 {
		t.Fatal("expected both allocations to succeed")
	}

	a.Free(p1)
	a.Free(p2)

	if got := a.AvailableBytes(); got != full {
		t.Errorf("expected merge to restore %d available bytes, got %d", full, got)
	}

	// After the merge, an allocation at twice the size should succeed
	// without growing the region, proving the parent block reformed.
	if phys := a.Alloc(128); phys == 0 {
		t.Error("expected order-up allocation to succeed after merge")
	}
}

func TestFindOrderMatchesAllocationOrder(t *testing.T) {
	_, base := backing(t, 1<<16)

	var a Allocator
	if err := a.Init(base, base+(1<<16), 6, allUsable, nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	phys := a.Alloc(200) // rounds up to order 8 (256 bytes)
	if phys == 0 {
		t.Fatal("alloc failed")
	}

	if got, want := a.FindOrder(phys), uint(8); got != want {
		t.Errorf("expected order %d, got %d", want, got)
	}
}

func TestInitRespectsPartialRegions(t *testing.T) {
	_, base := backing(t, 1<<16)
	reservedStart := base + (1 << 14)
	reservedEnd := base + (1 << 15)

	classify := func(start, size uint64) Info {
		end := start + size
		if end <= reservedStart || start >= reservedEnd {
			return InfoUsable
		}
		if start >= reservedStart && end <= reservedEnd {
			return InfoReserved
		}
		return InfoPartial
	}

	var a Allocator
	if err := a.Init(base, base+(1<<16), 6, classify, nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// The usable three quarters of the region, minus the 256-byte metadata
	// block the self-hosted bootstrap carves out.
	want := uint64(1<<16) - (1 << 14) - 256
	if got := a.AvailableBytes(); got != want {
		t.Errorf("expected %d available bytes with reserved middle, got %d", want, got)
	}
}

func TestInitFailsOnOrderTooSmall(t *testing.T) {
	_, base := backing(t, 1<<12)

	var a Allocator
	if err := a.Init(base, base+(1<<12), 2, allUsable, nil); err == nil {
		t.Error("expected Init to reject a min order too small for the free-list node")
	}
}

// TestAllocFreeAccounting walks a fixed alloc/free sequence and checks the
// available-byte accounting after every step: each allocation shrinks
// availability by its size rounded up to a power of two, and frees restore
// it exactly.
func TestAllocFreeAccounting(t *testing.T) {
	_, base := backing(t, 1<<20)

	var a Allocator
	if err := a.Init(base, base+(1<<20), 5, allUsable, nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	total := a.AvailableBytes()

	x := a.Alloc(128)
	if x == 0 {
		t.Fatal("alloc(128) failed")
	}
	if got := a.AvailableBytes(); got != total-128 {
		t.Fatalf("after alloc(128): got %d available, want %d", got, total-128)
	}

	a.Free(x)
	if got := a.AvailableBytes(); got != total {
		t.Fatalf("after free: got %d available, want %d", got, total)
	}

	x = a.Alloc(200) // rounds to 256
	if got := a.AvailableBytes(); got != total-256 {
		t.Fatalf("after alloc(200): got %d available, want %d", got, total-256)
	}

	y := a.Alloc(33) // rounds to 64
	if got := a.AvailableBytes(); got != total-256-64 {
		t.Fatalf("after alloc(33): got %d available, want %d", got, total-256-64)
	}

	a.Free(x)
	a.Free(y)
	if got := a.AvailableBytes(); got != total {
		t.Fatalf("after freeing both: got %d available, want %d", got, total)
	}
}

// TestNonPowerOfTwoRegion manages a 12000-byte region whose tail is not
// usable: the total must come out under 12000 (the region cannot be rounded
// up), one 6500-byte allocation fits, a second must fail.
func TestNonPowerOfTwoRegion(t *testing.T) {
	_, base := backing(t, 16384)

	classify := func(start, size uint64) Info {
		end := start + size
		if end <= base+12000 {
			return InfoUsable
		}
		if start >= base+12000 {
			return InfoReserved
		}
		return InfoPartial
	}

	var a Allocator
	if err := a.Init(base, base+12000, 5, classify, nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if got := a.AvailableBytes(); got >= 12000 {
		t.Fatalf("expected available < 12000 with unusable tail, got %d", got)
	}

	if p := a.Alloc(6500); p == 0 {
		t.Fatal("expected first alloc(6500) to succeed")
	}
	if p := a.Alloc(6500); p != 0 {
		t.Fatal("expected second alloc(6500) to fail with 0")
	}
}

func TestSizeToOrder(t *testing.T) {
	cases := []struct {
		size uint64
		want uint
	}{
		{0xF, 4},
		{0x10, 4},
		{0x1C, 5},
		{0x73A8BB2, 27},
		{0x100000, 20},
	}
	for _, c := range cases {
		if got := sizeToOrder(c.size); got != c.want {
			t.Errorf("sizeToOrder(%#x) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestAuxAllocatorBootstrapsMetadata(t *testing.T) {
	_, auxBase := backing(t, 1<<14)
	_, mainBase := backing(t, 1<<16)

	var aux Allocator
	if err := aux.Init(auxBase, auxBase+(1<<14), 6, allUsable, nil); err != nil {
		t.Fatalf("aux Init failed: %v", err)
	}

	var main Allocator
	if err := main.Init(mainBase, mainBase+(1<<16), 6, allUsable, &aux); err != nil {
		t.Fatalf("main Init with aux failed: %v", err)
	}

	if got, want := main.AvailableBytes(), uint64(1<<16); got != want {
		t.Errorf("expected main allocator's own region to stay fully available, got %d want %d", got, want)
	}

	if aux.AvailableBytes() >= uint64(1<<14) {
		t.Error("expected aux allocator to have donated the metadata block")
	}
}
