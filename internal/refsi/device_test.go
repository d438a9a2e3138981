package refsi

import "testing"

func TestNewGDeviceRegionsAndWindows(t *testing.T) {
	const dramSize = 200 * 1024 * 1024 // big enough for the ELF + hart windows

	dev := NewGDevice([]byte{0x13, 0x00, 0x00, 0x00}, 0, dramSize, 2, 0, 0, "IMAC")

	wantNames := []string{"tcim", "tcdm", "dram", "counters"}

	regions := dev.Regions()
	if len(regions) != len(wantNames) {
		t.Fatalf("got %d regions, want %d", len(regions), len(wantNames))
	}

	for i, name := range wantNames {
		if regions[i].Name != name {
			t.Errorf("region %d = %q, want %q", i, regions[i].Name, name)
		}
	}

	if !dev.Initialize() {
		t.Fatalf("Initialize failed")
	}

	if dev.ElfWindowBase != elfWindowBase {
		t.Errorf("ElfWindowBase = %#x, want %#x", dev.ElfWindowBase, elfWindowBase)
	}

	if dev.HartWindowBase != elfWindowBase+elfWindowSize {
		t.Errorf("HartWindowBase = %#x, want %#x", dev.HartWindowBase, elfWindowBase+elfWindowSize)
	}

	// The ELF window should alias straight through to its backing DRAM
	// region for any unit.
	if !dev.Ctl.Store64(dev.ElfWindowBase+8, 0x99, External) {
		t.Fatalf("store through elf window failed")
	}

	// The hart window should alias each hart to a disjoint slice.
	if !dev.Ctl.Store64(dev.HartWindowBase, 0x1, AccHart(0)) {
		t.Fatalf("hart 0 store failed")
	}

	if !dev.Ctl.Store64(dev.HartWindowBase, 0x2, AccHart(1)) {
		t.Fatalf("hart 1 store failed")
	}

	v0, ok0 := dev.Ctl.Load64(dev.HartWindowBase, AccHart(0))
	v1, ok1 := dev.Ctl.Load64(dev.HartWindowBase, AccHart(1))

	if !ok0 || !ok1 || v0 != 0x1 || v1 != 0x2 {
		t.Errorf("hart window aliasing broken: v0=%#x(%v) v1=%#x(%v)", v0, ok0, v1, ok1)
	}
}

func TestNewMDeviceRegionsAndCMP(t *testing.T) {
	dev := NewMDevice(1<<20, 1, 0, 0, "IMAC")
	t.Cleanup(dev.CMP.Stop)

	wantNames := []string{"tcdm", "dram", "dma", "counters"}

	regions := dev.Regions()
	if len(regions) != len(wantNames) {
		t.Fatalf("got %d regions, want %d", len(regions), len(wantNames))
	}

	for i, name := range wantNames {
		if regions[i].Name != name {
			t.Errorf("region %d = %q, want %q", i, regions[i].Name, name)
		}
	}

	if dev.CMP == nil {
		t.Fatalf("M-family device has no CMP")
	}

	cb := NewCommandBuffer()
	cb.StoreImm64(dev.DRAM.Alloc(8, 8), 0xfeed)
	cb.Finish()

	scratch := dev.DRAM.Alloc(cb.Size(), 8)
	if !dev.Ctl.Store(scratch, cb.Bytes(), External) {
		t.Fatalf("store command buffer failed")
	}

	dev.ExecuteCommandBuffer(scratch, cb.Size())
	dev.WaitForDeviceIdle()
}
