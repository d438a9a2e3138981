// Package hal implements the host-facing bridge onto a RefSi device: the
// C-ABI-shaped surface an OpenCL-like runtime would call (mem_alloc,
// program_load, kernel_exec, counter_read, ...), realised here as a plain
// exported Go API rather than cgo, per the platform's "HAL C ABI".
package hal

import "github.com/smoynes/refsi/internal/refsi"

// APIVersion is the version number of the HAL API this package implements.
const APIVersion = 6

// AddressSpace distinguishes global (DRAM-backed) from local (hart-local
// TCDM) kernel arguments.
type AddressSpace uint8

const (
	AddressGlobal AddressSpace = iota
	AddressLocal
)

// ArgKind is an argument's shape: a pointer, or a plain-old-data value.
type ArgKind uint8

const (
	ArgPointer ArgKind = iota
	ArgPOD
)

// Arg is one kernel argument, as the HAL ABI enumerates them: a pointer
// argument carries an address space and (if resolved) a device address; a
// POD argument carries raw bytes to copy inline.
type Arg struct {
	Kind  ArgKind
	Space AddressSpace

	// Addr is populated for ArgPointer once the argument has been
	// allocated or resolved against device memory.
	Addr refsi.Addr

	// Value holds the raw bytes for ArgPOD, or the local-memory size in
	// the first 8 bytes (little-endian) for an unresolved local pointer.
	Value []byte
}

// NDRange is the HAL's N-D range: three 3-element arrays (offset, global,
// local) plus the active work dimension, 1 through 3.
type NDRange struct {
	WorkDim int
	Offset  [3]uint64
	Global  [3]uint64
	Local   [3]uint64
}

// DeviceInfo summarises the RISC-V flavoured device properties the ABI
// exposes to callers; fields not meaningful to this simulator (fp16,
// double, linker script text) are carried as plain data with no behaviour
// attached.
type DeviceInfo struct {
	WordSize      int // 32 or 64
	TargetName    string
	DRAMSize      uint64
	LocalMemSize  uint64
	LinkerScript  string
	PreferredVLen int
	FP16          bool
	Double        bool
	MaxWorkGroup  int
	BigEndian     bool
	Extensions    string // e.g. "IMAFDC"
	ABI           string // e.g. "LP64D"
	VLen          int
	Counters      []string
}

// Kernel is an opaque handle to a symbol resolved from a loaded program.
type Kernel struct {
	Name  string
	Entry refsi.Addr
}

// Program is a loaded ELF image plus the device region it was placed in.
type Program struct {
	Elf  *refsi.Program
	Base refsi.Addr
	Size uint64
}

func packUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}

	return b
}

func unpackUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}

	return v
}
