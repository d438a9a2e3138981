package refsi

const maxExtraArgs = 7

// sentinelReturnAddr is the generic kernel launch's synthetic return
// address, matching REFSI_GENERIC_RETURN_ADDR in the original driver.
const sentinelReturnAddr = Addr(0xffffffff00defafa)

// PerHartLaunchData is the per-hart information a kernel-slice launch needs
// to seed a hart's registers, per §4.J.
type PerHartLaunchData struct {
	StackTop  uint64
	ExtraArgs []uint64 // a1..a7; at most maxExtraArgs entries
}

// Accelerator is the kernel-slice launcher: ISA configuration plus a
// simulator materialised on first use.
type Accelerator struct {
	ctl  *Controller
	isa  string
	vlen int
	elen int

	sim *Sim
}

// NewAccelerator creates an accelerator targeting numHarts harts with the
// given ISA descriptor and vector/element widths.
func NewAccelerator(ctl *Controller, isa string, numHarts, vlen, elen int) *Accelerator {
	return &Accelerator{ctl: ctl, isa: isa, vlen: vlen, elen: elen, sim: NewSim(ctl, numHarts)}
}

func (a *Accelerator) Sim() *Sim { return a.sim }

func (a *Accelerator) HartCount() int { return a.sim.HartCount() }

// InitializeHart enables FP/vector status bits when the ISA string carries
// those extensions, enables counter access, and disables paging — modelled
// here as CSR bookkeeping since this interpreter has no privileged-mode
// enforcement to actually gate.
func (a *Accelerator) InitializeHart(idx uint16) {
	h := a.sim.hart(idx)
	if h == nil {
		return
	}

	const (
		csrMstatus    = 0x300
		csrMcounteren = 0x306
		csrScounteren = 0x106
		csrSatp       = 0x180
	)

	var mstatus uint64

	for _, ext := range []byte{'F', 'D', 'V'} {
		for _, c := range a.isa {
			if byte(c) == ext {
				mstatus |= extStatusBit(ext)
			}
		}
	}

	h.csr[csrMstatus] = mstatus
	h.csr[csrMcounteren] = 0xffffffff // counters visible to supervisor mode
	h.csr[csrScounteren] = 0xffffffff // counters visible to user mode
	h.csr[csrSatp] = 0                // bare mode: paging disabled
}

func extStatusBit(ext byte) uint64 {
	switch ext {
	case 'F', 'D':
		return 1 << 13 // FS field, simplified to a single enable bit
	case 'V':
		return 1 << 9 // VS field, simplified to a single enable bit
	default:
		return 0
	}
}

// RunKernelSlice distributes numInstances calls to entry across numHarts
// harts, in rounds bounded by the hart pool, using perHart[i] to seed each
// active hart's stack and extra arguments. a0 receives a monotonically
// increasing instance id across the whole launch.
func (a *Accelerator) RunKernelSlice(numInstances int, entry, returnAddr Addr, perHart []PerHartLaunchData) int {
	handler := &returnTrapHandler{returnAddr: returnAddr}
	a.sim.SetTrapHandler(handler)

	numHarts := len(perHart)
	for i := 0; i < numHarts && i < a.sim.HartCount(); i++ {
		a.sim.SetBreakpoint(uint16(i), returnAddr)
	}

	instanceID := uint64(0)
	exitCode := 0

	for instanceID < uint64(numInstances) {
		active := numInstances - int(instanceID)
		if active > numHarts {
			active = numHarts
		}

		a.sim.SetMaxActiveHarts(active)

		for i := 0; i < active; i++ {
			h := a.sim.hart(uint16(i))
			h.PC = entry
			h.X[1] = uint64(returnAddr) // ra
			h.X[2] = perHart[i].StackTop // sp
			h.X[regA0] = instanceID

			for j, v := range perHart[i].ExtraArgs {
				if j >= maxExtraArgs {
					break
				}

				h.X[regA0+1+j] = v
			}

			instanceID++
		}

		exitCode = a.sim.Run()
		if exitCode != 0 {
			break
		}
	}

	a.sim.ClearBreakpoints()
	a.sim.SetTrapHandler(nil)

	return exitCode
}

// RunGeneric resets the entire hart pool and runs to exit using the
// sentinel return address, for the G-family's direct kernel_exec.
func (a *Accelerator) RunGeneric(entry Addr, stackTop uint64) int {
	handler := &returnTrapHandler{returnAddr: sentinelReturnAddr}
	a.sim.SetTrapHandler(handler)
	a.sim.SetMaxActiveHarts(a.sim.HartCount())

	for i := 0; i < a.sim.HartCount(); i++ {
		a.sim.ResetHart(uint16(i))
		a.sim.SetBreakpoint(uint16(i), sentinelReturnAddr)

		h := a.sim.hart(uint16(i))
		h.PC = entry
		h.X[1] = uint64(sentinelReturnAddr)
		h.X[2] = stackTop
	}

	code := a.sim.Run()

	a.sim.ClearBreakpoints()
	a.sim.SetTrapHandler(nil)

	return code
}

// SyncCache flushes the TLB when dcache is set, else the I-cache, on every
// hart; stepping is suppressed for the duration by zeroing max active
// harts. This simulator has no cache model to actually flush, so the
// operation is a bookkeeping no-op beyond the max-active-harts dance,
// matching the spec's framing of cache sync as a hook.
func (a *Accelerator) SyncCache(dcache bool) {
	saved := a.sim.activeCount()
	a.sim.SetMaxActiveHarts(0)
	a.sim.SetMaxActiveHarts(saved)
}

// ReadPerfCounter/WritePerfCounter expose the hart's CSR file for
// PerfCounters, per §4.G ("per-hart counters backed by RISC-V CSRs").
func (a *Accelerator) ReadPerfCounter(idx int, hart uint16) (uint64, bool) {
	return a.sim.ReadCSR(hart, csrMCycle+uint32(idx))
}

func (a *Accelerator) WritePerfCounter(idx int, hart uint16, val uint64) bool {
	return a.sim.WriteCSR(hart, csrMCycle+uint32(idx), val)
}
