package refsi

// CSRReader/CSRWriter give the performance-counter device access to a
// hart's CSR file without depending on the simulator package directly; Sim
// implements this.
type CSRReader interface {
	ReadCSR(hart uint16, csr uint32) (uint64, bool)
}

type CSRWriter interface {
	WriteCSR(hart uint16, csr uint32, val uint64) bool
}

// csrMCycle is the base CSR for per-hart counters; counter index idx reads
// CSR_MCYCLE+idx, per §4.G.
const csrMCycle = 0xB00

// PerfCounters is the performance-counter memory device: the low half of
// the region holds numPerHart per-hart counters backed by hart CSRs, the
// high half holds numGlobal in-memory registers.
type PerfCounters struct {
	baseDevice

	numPerHart uint64
	numGlobal  uint64
	global     []uint64
	sim        interface {
		CSRReader
		CSRWriter
	}
}

// NewPerfCounters creates a performance-counter device with numPerHart
// per-hart counters (read through sim's CSR interface) and numGlobal
// process-wide counters.
func NewPerfCounters(numPerHart, numGlobal uint64, sim interface {
	CSRReader
	CSRWriter
}) *PerfCounters {
	p := &PerfCounters{
		numPerHart: numPerHart,
		numGlobal:  numGlobal,
		global:     make([]uint64, numGlobal),
		sim:        sim,
	}
	p.self = p

	return p
}

func (p *PerfCounters) Size() uint64 { return (p.numPerHart + p.numGlobal) * 8 }

func (p *PerfCounters) DirectPtr(Addr, uint64, UnitID) ([]byte, bool) { return nil, false }

func (p *PerfCounters) index(addr Addr) (idx uint64, isPerHart bool, ok bool) {
	if addr%8 != 0 {
		return 0, false, false
	}

	abs := uint64(addr) / 8
	if abs < p.numPerHart {
		return abs, true, true
	}

	idx = abs - p.numPerHart

	return idx, false, idx < p.numGlobal
}

func (p *PerfCounters) Load(offset Addr, buf []byte, unit UnitID) bool {
	if len(buf) > 8 {
		if len(buf)%8 != 0 {
			return false
		}

		for i := 0; i < len(buf); i += 8 {
			if !p.Load(offset+Addr(i), buf[i:i+8], unit) {
				return false
			}
		}

		return true
	}

	idx, isPerHart, ok := p.index(offset)
	if !ok {
		return false
	}

	var val uint64

	if isPerHart {
		if !unit.IsHart() {
			return false
		}

		val, _ = p.sim.ReadCSR(unit.Index(), csrMCycle+uint32(idx))
	} else {
		val = p.global[idx]
	}

	switch len(buf) {
	case 8:
		putLeUint64(buf, val)
	case 4:
		buf[0], buf[1], buf[2], buf[3] = byte(val), byte(val>>8), byte(val>>16), byte(val>>24)
	default:
		return false
	}

	return true
}

func (p *PerfCounters) Store(offset Addr, buf []byte, unit UnitID) bool {
	if len(buf) > 8 {
		return false // multi-register writes are not supported
	}

	idx, isPerHart, ok := p.index(offset)
	if !ok {
		return false
	}

	var val uint64

	switch len(buf) {
	case 8:
		val = leUint64(buf)
	case 4:
		val = uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24
	default:
		return false
	}

	if isPerHart {
		if !unit.IsHart() {
			return false
		}

		p.sim.WriteCSR(unit.Index(), csrMCycle+uint32(idx), val)
	} else {
		p.global[idx] = val
	}

	return true
}
