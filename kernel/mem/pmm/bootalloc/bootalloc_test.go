package bootalloc

import "testing"

func TestAllocReturnsAlignedDisjointBlocks(t *testing.T) {
	var a Allocator
	if err := a.Init(0x1000, 0x10000); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	p1 := a.Alloc(100) // rounds up to 128
	p2 := a.Alloc(300) // rounds up to 512, must realign past p1

	if p1 == 0 || p2 == 0 {
		t.Fatal("expected both allocations to succeed")
	}
	if p1%128 != 0 {
		t.Errorf("expected p1 aligned to 128, got %#x", p1)
	}
	if p2%512 != 0 {
		t.Errorf("expected p2 aligned to 512, got %#x", p2)
	}
	if p2 < p1+128 {
		t.Errorf("expected p2 (%#x) to land after p1's block (%#x + 128)", p2, p1)
	}
}

func TestAllocFailsWhenExhausted(t *testing.T) {
	var a Allocator
	if err := a.Init(0x100, 0x200); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if p := a.Alloc(256); p == 0 {
		t.Fatal("expected the whole region to be allocatable at once")
	}
	if p := a.Alloc(1); p != 0 {
		t.Errorf("expected exhausted allocator to return 0, got %#x", p)
	}
}

func TestInitRejectsEmptyRegion(t *testing.T) {
	var a Allocator
	if err := a.Init(10, 10); err == nil {
		t.Error("expected Init to reject an empty region")
	}
}

func TestRemaining(t *testing.T) {
	var a Allocator
	if err := a.Init(0, 1024); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if got, want := a.Remaining(), uint64(1024); got != want {
		t.Errorf("expected %d remaining, got %d", want, got)
	}
	a.Alloc(64)
	if got := a.Remaining(); got >= 1024 {
		t.Errorf("expected remaining to shrink after alloc, got %d", got)
	}
}
