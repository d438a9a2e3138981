package refsi

import "testing"

// barrierKernel: li a0, <link>; li a7, hostIOBarrier; ecall;
// li a7, hostIOExit; li a0, 0; ecall.
func barrierKernel(link int64) []byte {
	e := &Encoder{}
	e.AddLI(RegA0, link)
	e.AddLI(RegA7, hostIOBarrier)
	e.AddECALL()
	e.AddLI(RegA7, hostIOExit)
	e.AddLI(RegA0, 0)
	e.AddECALL()

	return e.Bytes()
}

func TestSimBarrierRendezvousMatchingLinks(t *testing.T) {
	ctl := NewController()
	if !ctl.Add(0, NewRAM(0x10000)) {
		t.Fatalf("add ram failed")
	}

	const entry = Addr(0x1000)
	if !ctl.Store(entry, barrierKernel(0x42), External) {
		t.Fatalf("store kernel failed")
	}

	sim := NewSim(ctl, 2)
	sim.SetMaxActiveHarts(2)
	sim.SetTrapHandler(DefaultTrapHandler{})

	for i := 0; i < 2; i++ {
		h := sim.hart(uint16(i))
		h.PC = entry
	}

	code := sim.Run()
	if code != 0 {
		t.Errorf("barrier rendezvous with matching links: exit code = %d, want 0", code)
	}
}

func TestSimBarrierRendezvousMismatchedLinksAborts(t *testing.T) {
	ctl := NewController()
	if !ctl.Add(0, NewRAM(0x10000)) {
		t.Fatalf("add ram failed")
	}

	const entry0 = Addr(0x1000)
	const entry1 = Addr(0x2000)

	if !ctl.Store(entry0, barrierKernel(0x42), External) {
		t.Fatalf("store kernel 0 failed")
	}

	if !ctl.Store(entry1, barrierKernel(0x43), External) {
		t.Fatalf("store kernel 1 failed")
	}

	sim := NewSim(ctl, 2)
	sim.SetMaxActiveHarts(2)
	sim.SetTrapHandler(DefaultTrapHandler{})

	sim.hart(0).PC = entry0
	sim.hart(1).PC = entry1

	code := sim.Run()
	if code != -1 {
		t.Errorf("barrier rendezvous with mismatched links: exit code = %d, want -1", code)
	}
}
