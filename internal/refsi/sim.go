package refsi

import (
	"fmt"
	"os"
)

// Interleave is the instruction quota each hart runs before the scheduler
// advances to the next hart, matching the original's INTERLEAVE constant.
const Interleave = 5000

// TrapHandler recovers from or aborts on a trap. Returning true indicates
// recovery (the facade advances past the faulting instruction); false
// aborts the hart group with 0x80000000|cause.
type TrapHandler interface {
	HandleTrap(sim *Sim, hart *Hart, cause uint64, tval uint64) bool
	HandleBreakpoint(sim *Sim, hart *Hart) bool
}

// Hart is one hardware thread: its integer register file, program counter,
// CSR file, and breakpoint/run-state bookkeeping.
type Hart struct {
	index uint16

	PC Addr
	X  [32]uint64

	csr map[uint32]uint64

	bpAddr     Addr
	bpArmed    bool
	running    bool
	barrierPC  Addr
	atBarrier  bool

	trapCause uint64
	trapTval  uint64
	trapped   bool

	profilerMode bool
}

func (h *Hart) setX(reg uint32, v uint64) {
	if reg == 0 {
		return // x0 is hardwired to zero
	}

	h.X[reg] = v
}

func (h *Hart) raise(cause, tval uint64) {
	h.trapCause = cause
	h.trapTval = tval
	h.trapped = true
}

// ReadCSR/WriteCSR satisfy PerfCounters' CSRReader/CSRWriter. A missing CSR
// reads as zero; writes to a missing CSR are no-ops, per §4.G.
func (s *Sim) ReadCSR(hartIdx uint16, csr uint32) (uint64, bool) {
	h := s.hart(hartIdx)
	if h == nil {
		return 0, false
	}

	return h.csr[csr], true
}

func (s *Sim) WriteCSR(hartIdx uint16, csr uint32, val uint64) bool {
	h := s.hart(hartIdx)
	if h == nil {
		return false
	}

	if _, ok := h.csr[csr]; !ok {
		return true
	}

	h.csr[csr] = val

	return true
}

// Sim is the simulator facade: it owns a fixed pool of harts and
// interleaves their stepping, consulting an installed trap handler and the
// breakpoint-on-PC mechanism after every step.
type Sim struct {
	ctl     *Controller
	harts   []*Hart
	handler TrapHandler

	maxActiveHarts int
	currentHart    int

	exited   bool
	exitCode int

	preRun func(*Sim)

	out *os.File
}

// NewSim creates a simulator with numHarts harts over the shared memory
// controller ctl.
func NewSim(ctl *Controller, numHarts int) *Sim {
	s := &Sim{ctl: ctl, out: os.Stdout}

	for i := 0; i < numHarts; i++ {
		s.harts = append(s.harts, &Hart{index: uint16(i), csr: make(map[uint32]uint64)})
	}

	s.maxActiveHarts = numHarts

	return s
}

func (s *Sim) hart(idx uint16) *Hart {
	if int(idx) >= len(s.harts) {
		return nil
	}

	return s.harts[idx]
}

func (s *Sim) Harts() []*Hart { return s.harts }

func (s *Sim) HartCount() int { return len(s.harts) }

// SetMaxActiveHarts caps the running subset; the cache-sync operation (§4.J)
// temporarily sets this to zero to prevent stepping during a flush.
func (s *Sim) SetMaxActiveHarts(n int) { s.maxActiveHarts = n }

// SetTrapHandler installs or removes (with nil) the active trap handler.
func (s *Sim) SetTrapHandler(h TrapHandler) { s.handler = h }

// SetPreRunCallback installs a hook invoked once before Run begins stepping
// harts.
func (s *Sim) SetPreRunCallback(f func(*Sim)) { s.preRun = f }

// SetExited implements the run-state bitset transition: code != 0 aborts
// every hart; code == 0 clears only the current hart's bit, raising the
// simulator exit flag once every hart has cleared its bit.
func (s *Sim) SetExited(code int) {
	if code != 0 {
		for _, h := range s.harts {
			h.running = false
		}

		s.exited = true
		s.exitCode = code

		return
	}

	s.harts[s.currentHart].running = false

	if !s.anyRunning() {
		s.exited = true
		s.exitCode = 0
	}
}

func (s *Sim) anyRunning() bool {
	for _, h := range s.harts {
		if h.running {
			return true
		}
	}

	return false
}

// HandleBarrier implements the barrier rendezvous: the calling hart records
// its link address and clears its running bit; when every hart has
// stopped, all recorded addresses must match or the run aborts with -1.
func (s *Sim) HandleBarrier(linkAddr Addr) {
	h := s.harts[s.currentHart]
	h.barrierPC = linkAddr
	h.atBarrier = true
	h.running = false

	if s.anyRunning() {
		return
	}

	first := s.harts[0].barrierPC

	for _, hh := range s.harts[:s.activeCount()] {
		if hh.atBarrier && hh.barrierPC != first {
			for _, hhh := range s.harts {
				hhh.running = false
			}

			s.exited = true
			s.exitCode = -1

			return
		}
	}

	for _, hh := range s.harts[:s.activeCount()] {
		hh.atBarrier = false
		hh.running = true
	}
}

func (s *Sim) activeCount() int {
	n := s.maxActiveHarts
	if n > len(s.harts) {
		n = len(s.harts)
	}

	return n
}

// MMIOLoad/MMIOStore route a hart's data access through the shared
// controller, tagged with the current hart's unit ID.
func (s *Sim) MMIOLoad(addr Addr, buf []byte) bool {
	return s.ctl.Load(addr, buf, AccHart(uint16(s.currentHart)))
}

func (s *Sim) MMIOStore(addr Addr, buf []byte) bool {
	return s.ctl.Store(addr, buf, AccHart(uint16(s.currentHart)))
}

// MMIOPrint fetches a NUL-terminated string at addr and writes it to the
// simulator's output, used by the default trap handler's PUTSTRING ecall.
func (s *Sim) MMIOPrint(addr Addr) {
	var out []byte

	for {
		var buf [8]byte
		if !s.MMIOLoad(addr, buf[:]) {
			break
		}

		end := 8
		for i, b := range buf {
			if b == 0 {
				end = i
				break
			}
		}

		out = append(out, buf[:end]...)

		if end < 8 {
			break
		}

		addr += 8
	}

	fmt.Fprint(s.out, string(out))
}

// Run resets exit state, marks the active harts running, optionally invokes
// the pre-run callback, then interleaves hart stepping until no hart is
// running or the exit flag is set. It returns the final exit code.
func (s *Sim) Run() int {
	s.exited = false
	s.exitCode = 0

	active := s.activeCount()
	for i, h := range s.harts {
		h.running = i < active
		h.atBarrier = false
	}

	s.currentHart = 0

	if s.preRun != nil {
		s.preRun(s)
	}

	for !s.exited {
		h := s.harts[s.currentHart]
		if !h.running {
			s.advance()
			continue
		}

		for quota := 0; quota < Interleave && h.running && !s.exited; quota++ {
			h.trapped = false

			h.step(s.ctl)

			if h.trapped {
				s.onTrap(h)
				break
			}

			if h.bpArmed && h.PC == h.bpAddr {
				s.onBreakpoint(h)
				break
			}
		}

		s.advance()
	}

	return s.exitCode
}

func (s *Sim) advance() {
	s.currentHart++
	if s.currentHart >= len(s.harts) {
		s.currentHart = 0
	}
}

func (s *Sim) onTrap(h *Hart) {
	if s.handler == nil || !s.handler.HandleTrap(s, h, h.trapCause, h.trapTval) {
		s.SetExited(int(0x80000000 | h.trapCause))
		return
	}

	// Recovery: clear the trap CSRs and resume just past the faulting
	// instruction, per §4.I's trap handler contract.
	h.PC += 4
	h.trapCause = 0
	h.trapTval = 0
}

func (s *Sim) onBreakpoint(h *Hart) {
	if s.handler != nil && s.handler.HandleBreakpoint(s, h) {
		return
	}

	s.SetExited(int(0x80000000 | causeBreakpoint))
}

// SetBreakpoint arms addr as hart idx's breakpoint-on-PC sentinel.
func (s *Sim) SetBreakpoint(idx uint16, addr Addr) {
	h := s.hart(idx)
	if h == nil {
		return
	}

	h.bpAddr = addr
	h.bpArmed = true
}

// ClearBreakpoints disarms every hart's breakpoint.
func (s *Sim) ClearBreakpoints() {
	for _, h := range s.harts {
		h.bpArmed = false
	}
}

// ResetHart clears hart idx's architectural state to power-on defaults.
func (s *Sim) ResetHart(idx uint16) {
	h := s.hart(idx)
	if h == nil {
		return
	}

	h.PC = 0
	h.X = [32]uint64{}
	h.running = false
	h.bpArmed = false
}
