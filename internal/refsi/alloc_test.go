package refsi

import "testing"

func TestAllocatorAlignment(t *testing.T) {
	a := NewAllocator(0x1000, 0x10000)

	addr := a.Alloc(100, 64)
	if addr == 0 {
		t.Fatalf("alloc failed")
	}

	if uint64(addr)%64 != 0 {
		t.Errorf("addr %#x not aligned to 64", addr)
	}
}

func TestAllocatorCoverageInvariant(t *testing.T) {
	a := NewAllocator(0x1000, 0x10000)

	var live []Addr
	for i := 0; i < 16; i++ {
		addr := a.Alloc(200, 16)
		if addr == 0 {
			t.Fatalf("alloc %d failed unexpectedly", i)
		}

		live = append(live, addr)
	}

	for _, addr := range live {
		a.Free(addr)
	}

	if got := a.Available(); got != a.Size() {
		t.Errorf("after freeing everything: available = %d, want %d", got, a.Size())
	}

	if len(a.blocks) != 1 {
		t.Errorf("expected full coalescing into one block, got %d blocks", len(a.blocks))
	}
}

func TestAllocatorNoOverlap(t *testing.T) {
	a := NewAllocator(0, 0x100)

	first := a.Alloc(0x40, 1)
	second := a.Alloc(0x40, 1)

	if first == 0 || second == 0 {
		t.Fatalf("allocation failed")
	}

	firstEnd := uint64(first) + 0x40
	secondEnd := uint64(second) + 0x40

	overlap := uint64(first) < secondEnd && uint64(second) < firstEnd
	if overlap {
		t.Errorf("allocations overlap: [%#x,%#x) and [%#x,%#x)", first, firstEnd, second, secondEnd)
	}
}

func TestAllocatorExhaustion(t *testing.T) {
	a := NewAllocator(0x1000, 0x100)

	if addr := a.Alloc(0x100, 1); addr == 0 {
		t.Fatalf("expected to fill the whole region")
	}

	if addr := a.Alloc(1, 1); addr != 0 {
		t.Errorf("expected exhaustion to return null address, got %#x", addr)
	}
}

func TestAllocatorFreeNullIsNoop(t *testing.T) {
	a := NewAllocator(0, 0x100)
	before := a.Available()

	a.Free(0)

	if a.Available() != before {
		t.Errorf("freeing the null address changed availability")
	}
}

func TestAllocatorFreeUnknownIsNoop(t *testing.T) {
	a := NewAllocator(0, 0x100)
	addr := a.Alloc(0x10, 1)

	before := a.Available()
	a.Free(addr + 4) // not a live allocation's start address

	if a.Available() != before {
		t.Errorf("freeing a non-start address changed availability")
	}
}
