package refsi

import "testing"

func TestControllerPriceIsRightDecode(t *testing.T) {
	ctl := NewController()

	low := NewRAM(0x100)
	high := NewRAM(0x100)

	if !ctl.Add(0x0, low) {
		t.Fatalf("add low failed")
	}

	if !ctl.Add(0x1000, high) {
		t.Fatalf("add high failed")
	}

	if base, dev, ok := ctl.Find(0x50); !ok || base != 0 || dev != low {
		t.Errorf("Find(0x50) = %#x, %v, %v; want 0x0, low, true", base, dev, ok)
	}

	if base, dev, ok := ctl.Find(0x1050); !ok || base != 0x1000 || dev != high {
		t.Errorf("Find(0x1050) = %#x, %v, %v; want 0x1000, high, true", base, dev, ok)
	}

	if _, _, ok := ctl.Find(0x2000); ok {
		t.Errorf("Find(0x2000) should miss: no device covers it")
	}
}

func TestControllerRejectsOverlappingBase(t *testing.T) {
	ctl := NewController()

	ram := NewRAM(0x100)
	if !ctl.Add(0x100, ram) {
		t.Fatalf("first add failed")
	}

	if ctl.Add(0x100, NewRAM(0x100)) {
		t.Errorf("expected adding at an already-registered base to fail")
	}
}

func TestControllerLoadStoreRoundTrip(t *testing.T) {
	ctl := NewController()
	ram := NewRAM(0x100)

	if !ctl.Add(0x1000, ram) {
		t.Fatalf("add failed")
	}

	if !ctl.Store64(0x1008, 0xdeadbeefcafed00d, External) {
		t.Fatalf("store64 failed")
	}

	got, ok := ctl.Load64(0x1008, External)
	if !ok {
		t.Fatalf("load64 failed")
	}

	if got != 0xdeadbeefcafed00d {
		t.Errorf("load64 = %#x, want 0xdeadbeefcafed00d", got)
	}
}

func TestControllerCopy(t *testing.T) {
	ctl := NewController()
	src := NewRAM(0x100)
	dst := NewRAM(0x100)

	ctl.Add(0x0, src)
	ctl.Add(0x1000, dst)

	if !ctl.Store64(0x10, 0x1122334455667788, External) {
		t.Fatalf("store failed")
	}

	if !ctl.Copy(0x1010, 0x10, 8, External) {
		t.Fatalf("copy failed")
	}

	got, ok := ctl.Load64(0x1010, External)
	if !ok || got != 0x1122334455667788 {
		t.Errorf("copy did not round-trip: got %#x, ok=%v", got, ok)
	}
}
