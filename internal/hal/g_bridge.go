package hal

import (
	"github.com/smoynes/refsi/internal/log"
	"github.com/smoynes/refsi/internal/refsi"
)

// NewGBridge creates a HAL bridge over a G-family device.
func NewGBridge(dev *refsi.Device, logger *log.Logger) *Bridge {
	return newBridge(dev, logger, &gExecutor{})
}

// execStateMagic tags a well-formed exec_state block; the kernel entry stub
// checks it before trusting the rest of the structure.
const execStateMagic = 0x52656653 // "RefS"

// execStateSize is the fixed layout size of one hart's exec_state: magic,
// thread mode, work dim, offset/global/local[3], group id[3], group
// count[3], argument pointer — all as 8-byte words for uniform alignment.
const execStateSize = (1 + 1 + 1 + 3 + 3 + 3 + 3 + 3 + 1) * 8

// localAlignBump is the alignment granularity original_source's work-item
// thread mode uses to bump-allocate per-work-item local memory. This
// interpreter only ever runs in work-group mode (one shared local-memory
// reservation per group, passed through packArgs as a plain size word), so
// the constant and threadModeWorkItem below are not yet read anywhere;
// they're kept as the named slot work-item mode would fill in.
const localAlignBump = 128

// threadModeWorkItem and threadModeWorkGroup select how local-memory
// arguments are packed: one reservation per work item, or one shared
// reservation per work group (passed through as a plain size word instead).
type threadMode uint64

const (
	threadModeWorkGroup threadMode = iota
	threadModeWorkItem
)

// gExecutor implements the G-family's kernel_exec: ELF segments are already
// resident (ProgramLoad did that); this packs arguments, writes an
// exec_state to every hart's local context, and runs the whole pool once.
type gExecutor struct{}

func (gExecutor) execute(b *Bridge, prog *Program, kern Kernel, nd NDRange, args []Arg) bool {
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

	numHarts := b.dev.Accel.HartCount()
	if numHarts == 0 {
		return false
	}

	totalGroups := uint64(1)
	for i := 0; i < nd.WorkDim; i++ {
		if nd.Local[i] == 0 {
			return false
		}

		totalGroups *= nd.Global[i] / nd.Local[i]
	}

	if totalGroups == 0 {
		totalGroups = 1
	}

	mode := threadModeWorkGroup

	for hartIdx := 0; hartIdx < numHarts; hartIdx++ {
		groupID := uint64(hartIdx) % totalGroups

		state := buildExecState(nd, groupID, argPtr, mode)

		if !b.dev.Ctl.Store(b.dev.HartWindowBase, state, refsi.AccHart(uint16(hartIdx))) {
			return false
		}
	}

	stackTop := b.dev.TCDMSliceSize - 8

	return b.dev.Accel.RunGeneric(kern.Entry, stackTop) == 0
}

// buildExecState lays out one hart's exec_state: magic, thread mode, work
// dim, offset/global/local ranges, this hart's group id broken out per
// dimension, group counts per dimension, and the argument buffer pointer.
func buildExecState(nd NDRange, groupID uint64, argPtr refsi.Addr, mode threadMode) []byte {
	buf := make([]byte, execStateSize)
	w := buf

	putWord(w, uint64(execStateMagic))
	w = w[8:]
	putWord(w, uint64(mode))
	w = w[8:]
	putWord(w, uint64(nd.WorkDim))
	w = w[8:]

	for i := 0; i < 3; i++ {
		putWord(w, nd.Offset[i])
		w = w[8:]
	}

	for i := 0; i < 3; i++ {
		putWord(w, nd.Global[i])
		w = w[8:]
	}

	for i := 0; i < 3; i++ {
		putWord(w, nd.Local[i])
		w = w[8:]
	}

	groupCounts := [3]uint64{1, 1, 1}
	groupIDs := [3]uint64{0, 0, 0}
	remaining := groupID

	for i := 0; i < nd.WorkDim; i++ {
		groupCounts[i] = nd.Global[i] / nd.Local[i]
	}

	for i := 0; i < nd.WorkDim; i++ {
		if groupCounts[i] == 0 {
			continue
		}

		groupIDs[i] = remaining % groupCounts[i]
		remaining /= groupCounts[i]
	}

	for i := 0; i < 3; i++ {
		putWord(w, groupIDs[i])
		w = w[8:]
	}

	for i := 0; i < 3; i++ {
		putWord(w, groupCounts[i])
		w = w[8:]
	}

	putWord(w, uint64(argPtr))

	return buf
}

func putWord(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// packArgs lays out kernel arguments into one contiguous byte vector:
// pointer arguments occupy one 8-byte-aligned 8-byte word; POD arguments
// are aligned to the next power-of-two of their own size; local-memory
// arguments (Kind == ArgPointer, Space == AddressLocal) pass their reserved
// size as a plain word, leaving the actual local-memory bump allocation to
// the device side's hart-local area.
func packArgs(args []Arg) ([]byte, bool) {
	var buf []byte

	for _, arg := range args {
		align := 8
		if arg.Kind != ArgPointer {
			align = len(alignPOD(arg.Value))
		}

		for align > 0 && len(buf)%align != 0 {
			buf = append(buf, 0)
		}

		switch {
		case arg.Kind == ArgPointer && arg.Space == AddressLocal:
			buf = appendWord(buf, unpackUint64(arg.Value))
		case arg.Kind == ArgPointer:
			buf = appendWord(buf, uint64(arg.Addr))
		default:
			buf = append(buf, alignPOD(arg.Value)...)
		}
	}

	return buf, true
}

func appendWord(buf []byte, v uint64) []byte {
	return append(buf, packUint64(v)...)
}

// alignPOD zero-pads value to the smallest power of two not less than its
// length, matching the original packer's POD alignment rule.
func alignPOD(value []byte) []byte {
	size := len(value)
	if size == 0 {
		return nil
	}

	align := 1
	for align < size {
		align <<= 1
	}

	out := make([]byte, align)
	copy(out, value)

	return out
}
