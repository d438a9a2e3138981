package refsi

import "testing"

func TestWindowSharedRemap(t *testing.T) {
	ctl := NewController()
	target := NewRAM(0x1000)
	ctl.Add(0x2000, target)

	w := NewWindow(ctl)
	w.SetTarget(0x2000)
	w.SetBase(0x5000)

	if !w.SetMode(ModeShared) {
		t.Fatalf("SetMode(ModeShared) failed to enable the window")
	}

	if !ctl.Store64(0x5000, 0x42, External) {
		t.Fatalf("store through window failed")
	}

	got, ok := ctl.Load64(0x2000, External)
	if !ok || got != 0x42 {
		t.Errorf("write through window did not land at target: got %#x, ok=%v", got, ok)
	}
}

func TestWindowPerHartScaling(t *testing.T) {
	ctl := NewController()
	target := NewRAM(0x1000)
	ctl.Add(0x2000, target)

	w := NewWindow(ctl)
	w.SetTarget(0x2000)
	w.SetBase(0x5000)
	w.SetScale(PackWindowScale(0x100))

	if !w.SetMode(ModePerHart) {
		t.Fatalf("SetMode(ModePerHart) failed to enable the window")
	}

	if !ctl.Store64(0x5000, 0x11, AccHart(0)) {
		t.Fatalf("hart 0 store failed")
	}

	if !ctl.Store64(0x5000, 0x22, AccHart(1)) {
		t.Fatalf("hart 1 store failed")
	}

	got0, ok0 := ctl.Load64(0x5000, AccHart(0))
	got1, ok1 := ctl.Load64(0x5000, AccHart(1))

	if !ok0 || !ok1 {
		t.Fatalf("reload failed: ok0=%v ok1=%v", ok0, ok1)
	}

	if got0 != 0x11 || got1 != 0x22 {
		t.Errorf("per-hart aliasing broken: hart0=%#x hart1=%#x", got0, got1)
	}

	if _, ok := ctl.Load64(0x5000, External); ok {
		t.Errorf("a non-hart unit should not resolve through a PerHart window")
	}
}

func TestWindowRejectsCycle(t *testing.T) {
	ctl := NewController()

	base := NewRAM(0x1000)
	ctl.Add(0x0, base)

	w1 := NewWindow(ctl)
	w1.SetTarget(0x0)
	w1.SetBase(0x1000)
	if !w1.SetMode(ModeShared) {
		t.Fatalf("w1 failed to enable")
	}

	w2 := NewWindow(ctl)
	w2.SetTarget(0x1000) // targets w1, a window: must be rejected
	w2.SetBase(0x2000)

	if w2.SetMode(ModeShared) {
		t.Errorf("expected window-targeting-a-window to be rejected")
	}
}

func TestWindowUnboundedWhenSizeUnset(t *testing.T) {
	ctl := NewController()
	target := NewRAM(0x1000)
	ctl.Add(0x2000, target)

	w := NewWindow(ctl)
	w.SetTarget(0x2000)
	w.SetBase(0x5000)

	if !w.SetMode(ModeShared) {
		t.Fatalf("enable failed")
	}

	// No SetSize call on this direct (non-register) API: size defaults to
	// its zero value, which inBounds treats as unbounded, so a far offset
	// should still resolve. The CMP's packed MODE register always carries
	// a size (see SetModeRegister/PackWindowMode); this only exercises the
	// direct Window API's default.
	if !ctl.Store64(0x5000+0x800, 0x7, External) {
		t.Errorf("expected an unbounded window to accept a far offset")
	}
}
