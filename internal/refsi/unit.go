// Package refsi simulates a RISC-V based accelerator SoC ("RefSi"): its
// memory fabric, command processor, and hart-pool scheduler.
package refsi

import "fmt"

// UnitKind tags the execution unit issuing a memory request. Per-hart scoped
// resources (hart-local storage, per-hart DMA registers, per-hart performance
// counters) return different contents to different units from the same
// address, so every request must carry one.
type UnitKind uint8

const (
	UnitAny UnitKind = iota
	UnitExternal
	UnitCmp
	UnitAccCore
	UnitAccHart
)

// UnitID identifies the unit issuing a memory request: a kind plus an index,
// meaningful only for AccCore and AccHart. It is a plain struct; this module
// defines no packed integer encoding of it.
type UnitID struct {
	kind  UnitKind
	index uint16
}

// Any is the wildcard unit: it may read anything but its access is never
// scoped to a particular hart or core.
var Any = UnitID{kind: UnitAny}

// External identifies host-initiated DMA or debug access.
var External = UnitID{kind: UnitExternal}

// Cmp identifies the command processor as the issuing unit.
var Cmp = UnitID{kind: UnitCmp}

// AccCore identifies an accelerator core by index.
func AccCore(index uint16) UnitID { return UnitID{kind: UnitAccCore, index: index} }

// AccHart identifies a hart by index.
func AccHart(index uint16) UnitID { return UnitID{kind: UnitAccHart, index: index} }

func (u UnitID) Kind() UnitKind { return u.kind }
func (u UnitID) Index() uint16  { return u.index }

// IsHart reports whether the unit is a specific hart.
func (u UnitID) IsHart() bool { return u.kind == UnitAccHart }

// Format yields a short human-readable tag, used in logs and error messages.
func (u UnitID) Format() string {
	switch u.kind {
	case UnitAny:
		return "any"
	case UnitExternal:
		return "external"
	case UnitCmp:
		return "cmp"
	case UnitAccHart:
		return fmt.Sprintf("hart:%d", u.index)
	case UnitAccCore:
		return fmt.Sprintf("core:%d", u.index)
	default:
		return fmt.Sprintf("0x%02x:%04x", uint8(u.kind), u.index)
	}
}

func (u UnitID) String() string { return u.Format() }

// Addr is a device address: a location in the SoC's physical address space.
// Arithmetic is unsigned; callers must check for wraparound themselves, as
// address decoding treats any overflowed range as non-matching rather than
// silently wrapping.
type Addr uint64

// addOverflows reports whether base+size would wrap a 64-bit address.
func addOverflows(base Addr, size uint64) bool {
	return uint64(base)+size < uint64(base)
}
