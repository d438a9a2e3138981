package refsi

import "sync"

// CMP register slots, matching §3's "CMP register file": scratch,
// entry-point, KUB descriptor (base+size packed), kernel-args descriptor
// (offset+size packed), TSD descriptor, stack top, return address, then
// eight groups of four window registers (base, target, mode, scale).
const (
	regScratch = iota
	regEntry
	regKUB
	regKArgs
	regTSD
	regStackTop
	regReturnAddr
	regWindowBase // 8 windows * 4 fields follow from here
	numCMPFixedRegs = regWindowBase
	numWindows      = 8
	numCMPRegs      = numCMPFixedRegs + numWindows*4
)

const (
	winFieldBase = iota
	winFieldTarget
	winFieldMode
	winFieldScale
	winFieldCount
)

func windowRegIndex(win int, field int) int {
	return regWindowBase + win*winFieldCount + field
}

// isWindowRegister reports whether reg addresses one of the eight window
// register groups, and which window/field.
func isWindowRegister(reg int) (win, field int, ok bool) {
	if reg < regWindowBase || reg >= numCMPRegs {
		return 0, 0, false
	}

	rel := reg - regWindowBase

	return rel / winFieldCount, rel % winFieldCount, true
}

// Opcodes, a closed enum over the ten command-buffer operations.
type Opcode uint8

const (
	OpNOP Opcode = iota
	OpFINISH
	OpWRITE_REG64
	OpLOAD_REG64
	OpSTORE_REG64
	OpSTORE_IMM64
	OpCOPY_MEM64
	OpRUN_KERNEL_SLICE
	OpRUN_INSTANCES
	OpSYNC_CACHE
)

const maxRequests = 4

type cmpRequest struct {
	addr Addr
	size uint64
}

// CMP is the M-family's command processor: a dedicated worker goroutine
// decoding and dispatching command buffers against the device's registers,
// windows, and accelerator, per §4.K.
type CMP struct {
	mu         sync.Mutex
	dispatched *sync.Cond
	executed   *sync.Cond

	ctl     *Controller
	accel   *Accelerator
	windows [numWindows]*Window
	regs    [numCMPRegs]uint64

	queue    []cmpRequest
	stopping bool
	started  bool
	done     chan struct{}
}

// NewCMP creates a command processor over ctl and accel, with its eight
// memory windows bound to the same controller.
func NewCMP(ctl *Controller, accel *Accelerator) *CMP {
	c := &CMP{ctl: ctl, accel: accel}
	c.dispatched = sync.NewCond(&c.mu)
	c.executed = sync.NewCond(&c.mu)

	for i := range c.windows {
		c.windows[i] = NewWindow(ctl)
	}

	return c
}

// start launches the worker goroutine, lazily, on first enqueue. Caller
// must hold c.mu.
func (c *CMP) start() {
	if c.started {
		return
	}

	c.started = true
	c.done = make(chan struct{})

	go c.workerMain()
}

// Stop drains and terminates the worker: set the stopping flag, signal
// dispatched, drop the lock, join, retake it.
func (c *CMP) Stop() {
	c.mu.Lock()

	if !c.started {
		c.mu.Unlock()
		return
	}

	c.stopping = true
	c.dispatched.Signal()

	done := c.done
	c.mu.Unlock()

	<-done

	c.mu.Lock()
	c.started = false
	c.stopping = false
	c.mu.Unlock()
}

// EnqueueRequest submits a command buffer at addr/size for execution,
// blocking (on executed) while the bounded queue is full.
func (c *CMP) EnqueueRequest(addr Addr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.start()

	for len(c.queue) >= maxRequests {
		c.executed.Wait()
	}

	c.queue = append(c.queue, cmpRequest{addr: addr, size: size})
	c.dispatched.Signal()
}

// WaitEmptyQueue blocks until every submitted command buffer has been
// processed, establishing a synchronisation point against all prior
// submissions.
func (c *CMP) WaitEmptyQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.queue) > 0 {
		c.executed.Wait()
	}
}

func (c *CMP) workerMain() {
	c.mu.Lock()

	for {
		for len(c.queue) == 0 && !c.stopping {
			c.dispatched.Wait()
		}

		if c.stopping && len(c.queue) == 0 {
			break
		}

		req := c.queue[0]

		c.mu.Unlock()
		c.execute(req)
		c.mu.Lock()

		c.queue = c.queue[1:]
		c.executed.Broadcast()
	}

	c.mu.Unlock()
	close(c.done)
}

// execute decodes and dispatches req's command buffer, one 64-bit chunk
// header at a time, stopping the buffer (but not the worker) on FINISH or
// any decode/dispatch failure.
func (c *CMP) execute(req cmpRequest) {
	offset := req.addr
	end := req.addr + Addr(req.size)

	for offset < end {
		header, ok := c.ctl.Load64(offset, Cmp)
		if !ok {
			return
		}

		op, numChunks, inline, ok := decodeHeader(header)
		if !ok {
			return
		}

		offset += 8

		chunks := make([]uint64, numChunks)
		for i := range chunks {
			v, ok := c.ctl.Load64(offset, Cmp)
			if !ok {
				return
			}

			chunks[i] = v
			offset += 8
		}

		if op == OpFINISH {
			return
		}

		if !c.dispatch(op, inline, chunks) {
			return
		}
	}
}

// decodeHeader parses the canonical header chunk, rejecting anything whose
// low 32 bits don't match 0xC0000000 | (opcode<<8) | ((2*numChunks)<<16).
func decodeHeader(header uint64) (op Opcode, numChunks int, inline uint32, ok bool) {
	low := uint32(header)
	high := uint32(header >> 32)

	opByte := (low >> 8) & 0xff
	countField := (low >> 16) & 0xff

	check := low &^ (0xff << 8) &^ (0xff << 16)
	if check != 0xC0000000 {
		return 0, 0, 0, false
	}

	return Opcode(opByte), int(countField) / 2, high, true
}

func (c *CMP) dispatch(op Opcode, inline uint32, chunks []uint64) bool {
	switch op {
	case OpNOP:
		return true
	case OpWRITE_REG64:
		return c.execWriteReg64(chunks)
	case OpLOAD_REG64:
		return c.execLoadReg64(chunks)
	case OpSTORE_REG64:
		return c.execStoreReg64(chunks)
	case OpSTORE_IMM64:
		return c.execStoreImm64(inline, chunks)
	case OpCOPY_MEM64:
		return c.execCopyMem64(inline, chunks)
	case OpRUN_KERNEL_SLICE:
		return c.execRunKernelSlice(inline, chunks)
	case OpRUN_INSTANCES:
		return c.execRunInstances(inline, chunks)
	case OpSYNC_CACHE:
		return c.execSyncCache(inline)
	default:
		return false
	}
}

func (c *CMP) execWriteReg64(chunks []uint64) bool {
	if len(chunks) != 2 {
		return false
	}

	reg := int(chunks[0])
	if reg < 0 || reg >= numCMPRegs {
		return false
	}

	imm := chunks[1]

	if win, field, ok := isWindowRegister(reg); ok {
		if !c.writeWindowField(win, field, imm) {
			return false
		}
	}

	c.regs[reg] = imm

	return true
}

// writeWindowField applies a window register write's side effect (§4.E),
// driven by the register's field position.
func (c *CMP) writeWindowField(win, field int, imm uint64) bool {
	w := c.windows[win]

	switch field {
	case winFieldBase:
		return w.SetBase(Addr(imm))
	case winFieldTarget:
		return w.SetTarget(Addr(imm))
	case winFieldMode:
		return w.SetModeRegister(imm)
	case winFieldScale:
		return w.SetScale(imm)
	default:
		return false
	}
}

func (c *CMP) execLoadReg64(chunks []uint64) bool {
	if len(chunks) != 2 {
		return false
	}

	reg := int(chunks[0])
	if reg < 0 || reg >= numCMPRegs {
		return false
	}

	val, ok := c.ctl.Load64(Addr(chunks[1]), Cmp)
	if !ok {
		return false
	}

	c.regs[reg] = val

	return true
}

func (c *CMP) execStoreReg64(chunks []uint64) bool {
	if len(chunks) != 2 {
		return false
	}

	reg := int(chunks[0])
	if reg < 0 || reg >= numCMPRegs {
		return false
	}

	return c.ctl.Store64(Addr(chunks[1]), c.regs[reg], Cmp)
}

func (c *CMP) execStoreImm64(inline uint32, chunks []uint64) bool {
	if len(chunks) != 1 {
		return false
	}

	return c.ctl.Store64(Addr(inline), chunks[0], Cmp)
}

func (c *CMP) execCopyMem64(inline uint32, chunks []uint64) bool {
	if len(chunks) != 2 {
		return false
	}

	count := uint64(inline)
	src := Addr(chunks[0])
	dst := Addr(chunks[1])

	if src%8 != 0 {
		return false
	}

	var buf [8]byte

	for i := uint64(0); i < count; i++ {
		srcAddr := src + Addr(i*8)
		dstAddr := dst + Addr(i*8)

		if !c.ctl.Load(srcAddr, buf[:], Cmp) {
			return false
		}

		if !c.ctl.Store(dstAddr, buf[:], Cmp) {
			return false
		}
	}

	return true
}

func (c *CMP) execSyncCache(inline uint32) bool {
	const dcacheFlag = 1
	c.accel.SyncCache(inline&dcacheFlag != 0)

	return true
}

// Exported CMP register identifiers, for command-buffer builders outside
// this package (internal/hal) that need to address specific registers by
// name rather than magic numbers.
const (
	RegScratch    = regScratch
	RegEntry      = regEntry
	RegKUB        = regKUB
	RegKArgs      = regKArgs
	RegTSD        = regTSD
	RegStackTop   = regStackTop
	RegReturnAddr = regReturnAddr
	NumWindows    = numWindows
)

const (
	WinFieldBase   = winFieldBase
	WinFieldTarget = winFieldTarget
	WinFieldMode   = winFieldMode
	WinFieldScale  = winFieldScale
)

// WindowRegister computes the CMP register index for window win's field,
// for use with WRITE_REG64/WriteReg64.
func WindowRegister(win, field int) int { return windowRegIndex(win, field) }

// PackKUB/PackKArgs encode a (base, size) or (offset, size) pair into the
// packed form the KUB and KArgs/TSD registers expect.
func PackKUB(base Addr, size uint64) uint64   { return uint64(base)<<32 | size }
func PackKArgs(offset, size uint64) uint64 { return offset<<32 | size }

func kubParts(packed uint64) (base Addr, size uint64) {
	return Addr(packed >> 32), packed & 0xffffffff
}

func kargsParts(packed uint64) (offset, size uint64) {
	return packed >> 32, packed & 0xffffffff
}

func (c *CMP) execRunKernelSlice(inline uint32, chunks []uint64) bool {
	if len(chunks) != 2 {
		return false
	}

	maxHarts := int(inline & 0xff)
	numInstances := int(chunks[0])
	sliceID := chunks[1]

	entry := Addr(c.regs[regEntry])
	kubBase, _ := kubParts(c.regs[regKUB])
	tsdOffset, tsdSize := kargsParts(c.regs[regTSD])
	stackTop := c.regs[regStackTop]
	returnAddr := Addr(c.regs[regReturnAddr])

	if maxHarts <= 0 || maxHarts > c.accel.HartCount() {
		maxHarts = c.accel.HartCount()
	}

	perHart := make([]PerHartLaunchData, maxHarts)

	for i := 0; i < maxHarts; i++ {
		ktbAddr := hartLocalContextAddr(uint16(i))

		if tsdSize > 0 {
			if !c.copyTSD(kubBase+Addr(tsdOffset), ktbAddr, tsdSize, uint16(i)) {
				return false
			}
		}

		perHart[i] = PerHartLaunchData{
			StackTop:  stackTop,
			ExtraArgs: []uint64{sliceID, uint64(kubBase), uint64(ktbAddr)},
		}
	}

	return c.accel.RunKernelSlice(numInstances, entry, returnAddr, perHart) == 0
}

// hartLocalContextAddr is the fixed hart-local-TCDM address the kernel
// thread block is copied to, mirroring REFSI_CONTEXT_ADDRESS.
const hartLocalContextAddr0 = Addr(0x0)

func hartLocalContextAddr(uint16) Addr { return hartLocalContextAddr0 }

func (c *CMP) copyTSD(src, dst Addr, size uint64, hart uint16) bool {
	buf := make([]byte, size)
	if !c.ctl.Load(src, buf, Cmp) {
		return false
	}

	return c.ctl.Store(dst, buf, AccHart(hart))
}

func (c *CMP) execRunInstances(inline uint32, chunks []uint64) bool {
	maxHarts := int(inline & 0xff)
	numExtraArgs := int((inline >> 8) & 0xff)

	if numExtraArgs > maxExtraArgs {
		return false
	}

	if len(chunks) != numExtraArgs+1 {
		return false
	}

	numInstances := int(chunks[0])
	extraArgs := append([]uint64(nil), chunks[1:]...)

	entry := Addr(c.regs[regEntry])
	stackTop := c.regs[regStackTop]
	returnAddr := Addr(c.regs[regReturnAddr])

	if maxHarts <= 0 || maxHarts > c.accel.HartCount() {
		maxHarts = c.accel.HartCount()
	}

	perHart := make([]PerHartLaunchData, maxHarts)
	for i := range perHart {
		perHart[i] = PerHartLaunchData{StackTop: stackTop, ExtraArgs: extraArgs}
	}

	return c.accel.RunKernelSlice(numInstances, entry, returnAddr, perHart) == 0
}
