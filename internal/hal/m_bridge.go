package hal

import (
	"github.com/smoynes/refsi/internal/log"
	"github.com/smoynes/refsi/internal/refsi"
)

// Fixed addresses the M-family bridge programs its two reserved CMP
// windows to: one for ELF/argument storage (shared), one for hart-local
// scheduling data (per-hart, scaled by the hart TCDM slice size).
const (
	mWindowElfBase  = refsi.Addr(0x20000000)
	mWindowHartBase = refsi.Addr(0x30000000)

	mWindowElfIndex  = 0
	mWindowHartIndex = 1
)

// ktb layout (the hart-local "kernel thread block" the launch thunks and
// kernel-exit stub read/write): entry address, three group counts, three
// group ids (filled in by the thunk), and the argument pointer.
const (
	ktbEntry     = 0
	ktbNumGroups = 8  // 3 words
	ktbGroupID   = 32 // 3 words
	ktbArgPtr    = 56
	ktbSize      = 64
)

// mExecutor implements the M-family's kernel_exec. The host writes the
// per-hart scheduling data (ktb) into every hart's slice of the hart window
// before submission; the command buffer issues no DMA transfer. The buffer
// points the CMP at a launch thunk selected by work dimension and runs all
// slices with a single RUN_INSTANCES command.
type mExecutor struct {
	exitStub     refsi.Addr
	thunks       [3]refsi.Addr // indexed by work_dim-1
	elfTarget    refsi.Addr
	hartTarget   refsi.Addr
	romBase      refsi.Addr
	scratchBase  refsi.Addr
	countersBase refsi.Addr
}

// NewMBridge creates a HAL bridge over an M-family device: emits the ROM
// stub and launch thunks, and programs the two reserved CMP windows.
func NewMBridge(dev *refsi.Device, logger *log.Logger) *Bridge {
	exec := &mExecutor{}
	b := newBridge(dev, logger, exec)

	exec.init(dev)

	return b
}

func (m *mExecutor) init(dev *refsi.Device) {
	rom := buildROM()
	m.romBase = dev.DRAM.Alloc(uint64(len(rom.bytes)), 8)
	dev.Ctl.Store(m.romBase, rom.bytes, refsi.External)

	m.exitStub = m.romBase + refsi.Addr(rom.exitOffset)
	m.thunks[0] = m.romBase + refsi.Addr(rom.thunkOffsets[0])
	m.thunks[1] = m.romBase + refsi.Addr(rom.thunkOffsets[1])
	m.thunks[2] = m.romBase + refsi.Addr(rom.thunkOffsets[2])

	m.elfTarget = dev.DRAM.Alloc(elfWindowBytes, 4096)
	m.hartTarget = dev.DRAM.Alloc(dev.TCDMSliceSize*uint64(dev.Accel.HartCount()), 4096)
	m.scratchBase = dev.DRAM.Alloc(4096, 8)

	for _, r := range dev.Regions() {
		if r.Name == "counters" {
			m.countersBase = r.Base
		}
	}

	cb := refsi.NewCommandBuffer()
	cb.WriteReg64(refsi.WindowRegister(mWindowElfIndex, refsi.WinFieldTarget), uint64(m.elfTarget))
	cb.WriteReg64(refsi.WindowRegister(mWindowElfIndex, refsi.WinFieldBase), uint64(mWindowElfBase))
	cb.WriteReg64(refsi.WindowRegister(mWindowElfIndex, refsi.WinFieldMode), refsi.PackWindowMode(refsi.ModeShared, elfWindowBytes))

	cb.WriteReg64(refsi.WindowRegister(mWindowHartIndex, refsi.WinFieldTarget), uint64(m.hartTarget))
	cb.WriteReg64(refsi.WindowRegister(mWindowHartIndex, refsi.WinFieldBase), uint64(mWindowHartBase))
	cb.WriteReg64(refsi.WindowRegister(mWindowHartIndex, refsi.WinFieldScale), refsi.PackWindowScale(dev.TCDMSliceSize))
	cb.WriteReg64(refsi.WindowRegister(mWindowHartIndex, refsi.WinFieldMode), refsi.PackWindowMode(refsi.ModePerHart, dev.TCDMSliceSize))
	cb.Finish()

	submit(dev, cb)
}

const elfWindowBytes = 128 * 1024 * 1024

// romImage records the byte content of the emitted ROM plus the offsets
// within it of the kernel-exit stub and the three launch thunks.
type romImage struct {
	bytes        []byte
	exitOffset   int
	thunkOffsets [3]int
}

// buildROM assembles the kernel-exit stub (`li a0,0; li a7,0; ecall`) and
// the three N-D launch thunks (one per work dimension), using the same
// RISC-V encodings original_source's loader ROM does.
func buildROM() romImage {
	var img romImage

	exit := &refsi.Encoder{}
	exit.AddLI(refsi.RegA0, 0)
	exit.AddLI(refsi.RegA7, 0)
	exit.AddECALL()

	img.exitOffset = 0
	img.bytes = append(img.bytes, exit.Bytes()...)

	thunk1 := buildThunk(1)
	img.thunkOffsets[0] = len(img.bytes)
	img.bytes = append(img.bytes, thunk1.Bytes()...)

	thunk2 := buildThunk(2)
	img.thunkOffsets[1] = len(img.bytes)
	img.bytes = append(img.bytes, thunk2.Bytes()...)

	thunk3 := buildThunk(3)
	img.thunkOffsets[2] = len(img.bytes)
	img.bytes = append(img.bytes, thunk3.Bytes()...)

	return img
}

// buildThunk derives group_id[0..dim) from the instance id in a0 and the
// group counts in the ktb (pointed to by a2), then jumps to the kernel
// entry address also stored in the ktb. Register convention follows
// RUN_INSTANCES' extra-arg layout for this bridge: a0 = instance id
// (assigned automatically by the kernel-slice runner), a1 = kargs pointer,
// a2 = ktb address (the per-hart window base; the window remaps it to
// this hart's own slice).
func buildThunk(dim int) *refsi.Encoder {
	e := &refsi.Encoder{}

	switch dim {
	case 1:
		e.AddSW(refsi.RegA0, refsi.RegA2, ktbGroupID)
	case 2:
		e.AddLW(refsi.RegT1, refsi.RegA2, ktbNumGroups)
		e.AddMulInst(refsi.MulREMU, refsi.RegS0, refsi.RegA0, refsi.RegT1)
		e.AddMulInst(refsi.MulDIVU, refsi.RegS1, refsi.RegA0, refsi.RegT1)
		e.AddSW(refsi.RegS0, refsi.RegA2, ktbGroupID)
		e.AddSW(refsi.RegS1, refsi.RegA2, ktbGroupID+8)
	case 3:
		e.AddLW(refsi.RegT1, refsi.RegA2, ktbNumGroups)
		e.AddLW(refsi.RegT2, refsi.RegA2, ktbNumGroups+8)
		e.AddMulInst(refsi.MulREMU, refsi.RegS0, refsi.RegA0, refsi.RegT1)
		e.AddMulInst(refsi.MulDIVU, refsi.RegS1, refsi.RegA0, refsi.RegT1)
		e.AddSW(refsi.RegS0, refsi.RegA2, ktbGroupID)
		e.AddMulInst(refsi.MulREMU, refsi.RegS0, refsi.RegS1, refsi.RegT2)
		e.AddMulInst(refsi.MulDIVU, refsi.RegS1, refsi.RegS1, refsi.RegT2)
		e.AddSW(refsi.RegS0, refsi.RegA2, ktbGroupID+8)
		e.AddSW(refsi.RegS1, refsi.RegA2, ktbGroupID+16)
	}

	e.AddLW(refsi.RegT0, refsi.RegA2, ktbEntry)
	e.AddJR(refsi.RegT0)

	return e
}

// submit stores cb's bytes to a scratch DRAM region and runs it to
// completion on the device's CMP.
func submit(dev *refsi.Device, cb *refsi.CommandBuffer) bool {
	bytes := cb.Bytes()

	addr := dev.DRAM.Alloc(uint64(len(bytes)), 8)
	if addr == 0 && len(bytes) != 0 {
		return false
	}

	if !dev.Ctl.Store(addr, bytes, refsi.External) {
		return false
	}

	dev.ExecuteCommandBuffer(addr, uint64(len(bytes)))
	dev.WaitForDeviceIdle()
	dev.DRAM.Free(addr)

	return true
}

func (m *mExecutor) execute(b *Bridge, prog *Program, kern Kernel, nd NDRange, args []Arg) bool {
	argBuf, ok := packArgs(args)
	if !ok {
		return false
	}

	argPtr := b.dev.DRAM.Alloc(uint64(len(argBuf)), 8)
	if argPtr == 0 && len(argBuf) != 0 {
		return false
	}

	if len(argBuf) > 0 && !b.dev.Ctl.Store(argPtr, argBuf, refsi.External) {
		return false
	}

	numGroups := [3]uint64{1, 1, 1}
	for i := 0; i < nd.WorkDim; i++ {
		if nd.Local[i] == 0 {
			return false
		}

		numGroups[i] = nd.Global[i] / nd.Local[i]
	}

	totalSlices := numGroups[0] * numGroups[1] * numGroups[2]

	ktb := make([]byte, ktbSize)
	putWord(ktb[ktbEntry:], uint64(kern.Entry))
	putWord(ktb[ktbNumGroups:], numGroups[0])
	putWord(ktb[ktbNumGroups+8:], numGroups[1])
	putWord(ktb[ktbNumGroups+16:], numGroups[2])
	putWord(ktb[ktbArgPtr:], uint64(argPtr))

	numHarts := b.dev.Accel.HartCount()

	for i := 0; i < numHarts; i++ {
		if !b.dev.Ctl.Store(mWindowHartBase, ktb, refsi.AccHart(uint16(i))) {
			return false
		}
	}

	thunk := m.thunks[nd.WorkDim-1]
	stackTop := b.dev.TCDMSliceSize - 8

	cb := refsi.NewCommandBuffer()
	cb.WriteReg64(refsi.RegEntry, uint64(thunk))
	cb.WriteReg64(refsi.RegStackTop, stackTop)
	cb.WriteReg64(refsi.RegReturnAddr, uint64(m.exitStub))

	if b.counter {
		cb.CopyMem64(numPerfWords, m.countersBase, m.scratchBase)
	}

	cb.RunInstances(uint8(numHarts), int(totalSlices), []uint64{uint64(argPtr), uint64(mWindowHartBase)})

	if b.counter {
		cb.CopyMem64(numPerfWords, m.countersBase, m.scratchBase+numPerfWords*8)
	}

	cb.SyncCache(true)
	cb.Finish()

	return submit(b.dev, cb)
}

const numPerfWords = 8
