package refsi

// Region records one memory-map entry in construction order, so the HAL
// bridge can discover DRAM/TCDM/counter ranges by replaying the map instead
// of hard-coding addresses.
type Region struct {
	Name   string
	Base   Addr
	Device MemoryDevice
}

// Device is a constructed SoC instance: a memory controller plus an
// allocator over DRAM, a recorded memory map, and (for M-family) a command
// processor. G-family devices drive their accelerator directly; M-family
// devices drive it through the CMP.
type Device struct {
	Family Family

	Ctl   *Controller
	DRAM  *Allocator
	Accel *Accelerator
	CMP   *CMP // nil for G-family

	regions []Region

	// TCDMSliceSize is the per-hart slice size of the hart-local area,
	// used to compute per-hart addresses and window scales.
	TCDMSliceSize uint64
	// ElfWindowBase/HartWindowBase are the G-family's two fixed windows'
	// base addresses, populated by Initialize; zero for M-family (which
	// has no fixed windows of its own — the HAL bridge programs its own
	// via the CMP's eight window registers).
	ElfWindowBase  Addr
	HartWindowBase Addr

	elfWindow  *Window
	hartWindow *Window
}

type Family uint8

const (
	FamilyG Family = iota
	FamilyM
)

const (
	gTCIMSize      = 60 * 1024
	gTCDMSize      = 4 * 1024 * 1024
	gDefaultDRAM   = 1 << 30 // 1 GiB
	ioBase         = Addr(0x80000000)
	elfWindowBase  = Addr(0x10000)
	elfWindowSize  = 128 * 1024 * 1024
	numPerfPerHart = 8
	numPerfGlobal  = 4
)

func (d *Device) add(name string, base Addr, dev MemoryDevice) {
	d.Ctl.Add(base, dev)
	d.regions = append(d.regions, Region{Name: name, Base: base, Device: dev})
}

// Regions returns the memory map in registration order.
func (d *Device) Regions() []Region { return d.regions }

// NewGDevice constructs a G-family device: loader ROM, TCDM, DRAM, and
// performance counters, per §4.L. loaderROM is placed at the start of the
// 60 KiB TCIM ROM at the loader address. TCDM and DRAM sit above the
// address range Initialize gives to the two fixed windows. A dramSize of
// zero selects the 1 GiB default; any other size is used as given.
func NewGDevice(loaderROM []byte, loaderAddr Addr, dramSize uint64, numHarts, vlen, elen int, isa string) *Device {
	if dramSize == 0 {
		dramSize = gDefaultDRAM
	}

	ctl := NewController()
	d := &Device{Family: FamilyG, Ctl: ctl, TCDMSliceSize: gTCDMSize / uint64(maxInt(numHarts, 1))}

	tcim := make([]byte, gTCIMSize)
	copy(tcim, loaderROM)
	d.add("tcim", loaderAddr, NewROM(tcim))

	tcdmBase := elfWindowBase + elfWindowSize + gTCDMSize
	d.add("tcdm", tcdmBase, NewRAM(gTCDMSize))

	dramBase := tcdmBase + gTCDMSize
	dram := NewRAM(dramSize)
	d.add("dram", dramBase, dram)
	d.DRAM = NewAllocator(dramBase, dramSize)

	d.Accel = NewAccelerator(ctl, isa, numHarts, vlen, elen)
	d.add("counters", ioBase, NewPerfCounters(numPerfPerHart, numPerfGlobal, d.Accel.Sim()))

	return d
}

// Initialize materialises the simulator and programs the G-family's two
// fixed windows: window 0 maps the ELF area (shared), window 1 maps the
// hart-local area (per-hart, scaled by the per-hart TCDM slice size).
func (d *Device) Initialize() bool {
	if d.Family != FamilyG {
		return true
	}

	elfRegion := d.DRAM.Alloc(elfWindowSize, 4096)

	d.elfWindow = NewWindow(d.Ctl)
	if !d.elfWindow.SetBase(elfWindowBase) || !d.elfWindow.SetSize(elfWindowSize) ||
		!d.elfWindow.SetTarget(elfRegion) || !d.elfWindow.SetMode(ModeShared) {
		return false
	}

	d.ElfWindowBase = elfWindowBase

	hartAreaBase := elfWindowBase + elfWindowSize
	hartRegion := d.DRAM.Alloc(d.TCDMSliceSize*uint64(d.Accel.HartCount()), 4096)

	d.hartWindow = NewWindow(d.Ctl)
	if !d.hartWindow.SetBase(hartAreaBase) || !d.hartWindow.SetSize(d.TCDMSliceSize) ||
		!d.hartWindow.SetTarget(hartRegion) || !d.hartWindow.SetScale(PackWindowScale(d.TCDMSliceSize)) ||
		!d.hartWindow.SetMode(ModePerHart) {
		return false
	}

	d.HartWindowBase = hartAreaBase

	return true
}

// NewMDevice constructs an M-family device: TCDM, DRAM, DMA, performance
// counters, a CMP, and its accelerator, per §4.L.
func NewMDevice(dramSize uint64, numHarts, vlen, elen int, isa string) *Device {
	if dramSize == 0 {
		dramSize = gDefaultDRAM
	}

	ctl := NewController()
	d := &Device{Family: FamilyM, Ctl: ctl, TCDMSliceSize: gTCDMSize / uint64(maxInt(numHarts, 1))}

	d.add("tcdm", 0, NewRAM(gTCDMSize))

	dramBase := Addr(gTCDMSize)
	d.add("dram", dramBase, NewRAM(dramSize))
	d.DRAM = NewAllocator(dramBase, dramSize)

	d.add("dma", ioBase, NewDMA(ctl))

	d.Accel = NewAccelerator(ctl, isa, numHarts, vlen, elen)
	d.add("counters", ioBase+numDMARegs*8, NewPerfCounters(numPerfPerHart, numPerfGlobal, d.Accel.Sim()))

	d.CMP = NewCMP(ctl, d.Accel)

	cfg := ConfigFromEnv()
	if cfg.ProfileLevel > 2 {
		d.Accel.Sim().SetPreRunCallback(func(*Sim) {
			for i := 0; i < d.Accel.HartCount(); i++ {
				d.Accel.InitializeHart(uint16(i))
			}
		})
	}

	return d
}

// ExecuteCommandBuffer submits a command buffer at addr/size to the CMP,
// starting its worker on first submission. M-family only.
func (d *Device) ExecuteCommandBuffer(addr Addr, size uint64) {
	d.CMP.EnqueueRequest(addr, size)
}

// WaitForDeviceIdle blocks until every submitted command buffer has
// drained. M-family only.
func (d *Device) WaitForDeviceIdle() {
	d.CMP.WaitEmptyQueue()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}
