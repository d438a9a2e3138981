package refsi

import "testing"

// newTestCMP wires a CMP over two disjoint RAM regions: a low "data" region
// for register/memory-op assertions, and a high "scratch" region for the
// command buffers themselves, leaving a gap in between free for a window's
// own base address.
func newTestCMP(t *testing.T) (*Controller, *CMP) {
	t.Helper()

	ctl := NewController()
	if !ctl.Add(0, NewRAM(0x4000)) {
		t.Fatalf("add data ram failed")
	}

	if !ctl.Add(0x8000, NewRAM(0x10000)) {
		t.Fatalf("add scratch ram failed")
	}

	accel := NewAccelerator(ctl, "IMAC", 1, 0, 0)
	cmp := NewCMP(ctl, accel)

	t.Cleanup(cmp.Stop)

	return ctl, cmp
}

func submit(ctl *Controller, cmp *CMP, cb *CommandBuffer) {
	const scratchAddr = Addr(0x8000)

	ctl.Store(scratchAddr, cb.Bytes(), External)
	cmp.EnqueueRequest(scratchAddr, cb.Size())
	cmp.WaitEmptyQueue()
}

func TestCMPRegisterAndMemoryOps(t *testing.T) {
	ctl, cmp := newTestCMP(t)

	cb := NewCommandBuffer()
	cb.WriteReg64(RegScratch, 0xabcd1234)
	cb.StoreReg64(RegScratch, 0x100)
	cb.StoreImm64(0x200, 0x5566)
	cb.LoadReg64(RegScratch, 0x200)
	cb.CopyMem64(1, 0x100, 0x300)
	cb.Finish()

	submit(ctl, cmp, cb)

	if got, ok := ctl.Load64(0x100, External); !ok || got != 0xabcd1234 {
		t.Errorf("STORE_REG64: mem[0x100] = %#x, ok=%v, want 0xabcd1234", got, ok)
	}

	if got, ok := ctl.Load64(0x300, External); !ok || got != 0xabcd1234 {
		t.Errorf("COPY_MEM64: mem[0x300] = %#x, ok=%v, want 0xabcd1234", got, ok)
	}

	cmp.mu.Lock()
	scratch := cmp.regs[RegScratch]
	cmp.mu.Unlock()

	if scratch != 0x5566 {
		t.Errorf("LOAD_REG64: regs[scratch] = %#x, want 0x5566", scratch)
	}
}

func TestCMPWindowRegisterProtocol(t *testing.T) {
	ctl, cmp := newTestCMP(t)

	cb := NewCommandBuffer()
	cb.WriteReg64(WindowRegister(0, WinFieldTarget), 0x0)
	cb.WriteReg64(WindowRegister(0, WinFieldBase), 0x4000)
	cb.WriteReg64(WindowRegister(0, WinFieldMode), PackWindowMode(ModeShared, 0x100))
	cb.StoreImm64(0x4008, 0x42)
	cb.Finish()

	submit(ctl, cmp, cb)

	if got, ok := ctl.Load64(0x8, External); !ok || got != 0x42 {
		t.Errorf("write through window 0 did not land at its target: got %#x, ok=%v", got, ok)
	}
}

// TestCMPWindowRegisterSizeEnforced checks that the size packed into a
// MODE register write (§4.E's offset+len >= size rejection) is actually
// wired through the CMP, not silently left unbounded.
func TestCMPWindowRegisterSizeEnforced(t *testing.T) {
	ctl, cmp := newTestCMP(t)

	cb := NewCommandBuffer()
	cb.WriteReg64(WindowRegister(0, WinFieldTarget), 0x0)
	cb.WriteReg64(WindowRegister(0, WinFieldBase), 0x4000)
	cb.WriteReg64(WindowRegister(0, WinFieldMode), PackWindowMode(ModeShared, 0x10))
	cb.StoreImm64(0x4000, 0x42) // offset 0: 0+8 < 0x10, within the window
	cb.StoreImm64(0x4ff8, 0x99) // offset 0xff8, well past the window's size
	cb.Finish()

	submit(ctl, cmp, cb)

	if got, ok := ctl.Load64(0x0, External); !ok || got != 0x42 {
		t.Errorf("in-bounds write through window 0: got %#x, ok=%v, want 0x42", got, ok)
	}

	if got, ok := ctl.Load64(0xff8, External); !ok || got == 0x99 {
		t.Errorf("write past the window's packed size should have been rejected")
	}
}

// TestCMPRunInstancesLaunchesKernel drives a real multi-instance kernel
// launch through the CMP's RUN_INSTANCES decoder, rather than exercising
// Accelerator.RunKernelSlice directly. The kernel writes its instance id
// (a0) to the address passed in a1 (extraArgs[0]).
func TestCMPRunInstancesLaunchesKernel(t *testing.T) {
	ctl, cmp := newTestCMP(t)

	const entry = Addr(0x1000)
	const returnAddr = Addr(0x1100)
	const scratchBase = Addr(0x2000)

	e := &Encoder{}
	e.AddSW(RegA0, RegA1, 0) // mem[a1] = instance id
	e.AddJR(RegRA)
	if !ctl.Store(entry, e.Bytes(), External) {
		t.Fatalf("store kernel failed")
	}

	ret := &Encoder{}
	ret.AddJR(RegRA)
	ctl.Store(returnAddr, ret.Bytes(), External)

	cb := NewCommandBuffer()
	cb.WriteReg64(RegEntry, uint64(entry))
	cb.WriteReg64(RegReturnAddr, uint64(returnAddr))
	cb.WriteReg64(RegStackTop, 0x3000)
	cb.RunInstances(1, 3, []uint64{uint64(scratchBase)})
	cb.Finish()

	submit(ctl, cmp, cb)

	// Only one hart is active (maxHarts=1), so the three instances ran
	// sequentially and the final instance id (2) is what's left in memory.
	got, ok := ctl.Load64(scratchBase, External)
	if !ok || uint32(got) != 2 {
		t.Errorf("RUN_INSTANCES: scratch = %#x, ok=%v, want 2", got, ok)
	}
}

func TestCMPQueueBackpressure(t *testing.T) {
	ctl, cmp := newTestCMP(t)

	for i := 0; i < maxRequests*3; i++ {
		cb := NewCommandBuffer()
		cb.StoreImm64(Addr(0x400+i*8), uint64(i))
		cb.Finish()

		ctl.Store(Addr(0x8000+i*0x100), cb.Bytes(), External)
		cmp.EnqueueRequest(Addr(0x8000+i*0x100), cb.Size())
	}

	cmp.WaitEmptyQueue()

	for i := 0; i < maxRequests*3; i++ {
		got, ok := ctl.Load64(Addr(0x400+i*8), External)
		if !ok || got != uint64(i) {
			t.Errorf("request %d: mem = %#x, ok=%v, want %d", i, got, ok, i)
		}
	}
}
