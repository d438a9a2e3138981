package refsi

// WindowMode selects how a Window resolves a request offset into its target
// device.
type WindowMode uint8

const (
	// ModeShared maps every unit to the same underlying range. Matches
	// CMP_WINDOW_MODE_SHARED's register encoding.
	ModeShared WindowMode = 0
	// ModePerHart scales the underlying offset by the requesting hart's
	// index; only AccHart units may use a PerHart window. Matches
	// CMP_WINDOW_MODE_PERT_HART's register encoding; the gap at 1 is the
	// ACTIVE bit's position in the packed MODE register (see
	// Window.SetModeRegister), not a mode value of its own.
	ModePerHart WindowMode = 2

	// cmpWindowActive is the MODE register's ACTIVE bit, matching
	// CMP_WINDOW_ACTIVE.
	cmpWindowActive = 1
)

// windowConfig is the plain value record mutated by register writes; it has
// two lives, "pending" (edited freely) and "mapped" (the last-enabled
// snapshot actually in effect for Load/Store).
type windowConfig struct {
	active  bool
	mode    WindowMode
	base    Addr
	target  Addr
	size    uint64
	scaleA  uint8
	scaleB  uint32
}

func (c windowConfig) scale() uint64 {
	if c.scaleA == 0 {
		return 0
	}

	return (uint64(1) << (c.scaleA - 1)) * (uint64(c.scaleB) + 1)
}

// PackWindowScale computes the scale_a/scale_b bitfields for a desired
// per-hart stride and packs them into the SCALE register's wire format
// (scale_a in bits 0-4, scale_b in bits 32-63), matching
// RefSiMemoryWindowConfig::setScale in the original driver: scale is
// defined as (1 << (scale_a-1)) * (scale_b+1), so scale_a is set to the
// number of trailing zero bits of newScale (at least 1, at most 31) and
// scale_b+1 to the remaining factor, newScale >> (scale_a-1).
func PackWindowScale(newScale uint64) uint64 {
	if newScale == 0 {
		return 0
	}

	const maxScaleA = 31

	scaleA := uint64(0)
	for scaleA < maxScaleA && newScale%(uint64(1)<<(scaleA+1)) == 0 {
		scaleA++
	}

	if scaleA == 0 {
		// newScale is odd: scale_a = 1 makes the power-of-two factor 1,
		// leaving scale_b+1 = newScale.
		scaleA = 1
	}

	scaleB := (newScale >> (scaleA - 1)) - 1

	return scaleA | scaleB<<32
}

func (c windowConfig) differs(other windowConfig) bool {
	return c.active != other.active || c.size != other.size || c.mode != other.mode || c.scale() != other.scale() ||
		c.base != other.base || c.target != other.target
}

// Window is a virtual remapping device: it references some other device
// registered in the same Controller. Enabling a window fails if the target
// doesn't resolve to any device, if the target resolves to another window
// (cycle prevention), or if mode isn't Shared or PerHart.
type Window struct {
	ctl *Controller

	pending windowConfig
	mapped  windowConfig
	enabled bool

	target     MemoryDevice
	targetBase Addr
	offset     Addr // mapped_offset = target - targetBase
}

// NewWindow creates a window bound to controller ctl, initially inactive.
func NewWindow(ctl *Controller) *Window {
	return &Window{ctl: ctl}
}

// SetBase, SetTarget, SetSize, SetMode, SetScale, SetActive are the direct,
// non-register Window API: each edits one pending field and reconfigures.
// They're used by code that owns a *Window value outright (e.g. the
// G-family's two fixed windows in device.go); the CMP's own command-buffer
// protocol instead packs several of these fields into a single register
// write — see SetModeRegister and PackWindowMode/PackWindowScale.
func (w *Window) SetBase(addr Addr) bool   { w.pending.base = addr; return w.reconfigure() }
func (w *Window) SetTarget(addr Addr) bool { w.pending.target = addr; return w.reconfigure() }
func (w *Window) SetSize(size uint64) bool { w.pending.size = size; return w.reconfigure() }

// SetMode sets the mapping mode directly and activates the window; there
// is no separate "inactive" value since this direct API has no analogue
// of the MODE register's ACTIVE bit. Use SetActive(false) to deactivate.
func (w *Window) SetMode(mode WindowMode) bool {
	w.pending.mode = mode
	w.pending.active = true

	return w.reconfigure()
}

// SetScale writes the window's packed SCALE register directly: scale_a
// occupies bits 0-4 and scale_b bits 32-63, matching
// CMP_GET_WINDOW_SCALE_A/B. Use PackWindowScale to compute this value from
// a desired per-hart stride.
func (w *Window) SetScale(value uint64) bool {
	w.pending.scaleA = uint8(value & 0x1f)
	w.pending.scaleB = uint32(value >> 32)

	return w.reconfigure()
}

func (w *Window) SetActive(active bool) bool {
	w.pending.active = active
	return w.reconfigure()
}

// SetModeRegister writes the window's packed MODE register as the CMP's
// command-buffer protocol does: bit 0 is ACTIVE, bits 1-2 are the mode,
// and bits 32-63 carry size-1, matching
// CMP_GET_WINDOW_ACTIVE/_MODE/_SIZE. Use PackWindowMode to compute this
// value from a desired mode and size.
func (w *Window) SetModeRegister(value uint64) bool {
	w.pending.active = value&0x1 != 0
	w.pending.mode = WindowMode(value & 0x6)
	w.pending.size = (value >> 32) + 1

	return w.reconfigure()
}

// PackWindowMode packs a mode/size pair into the MODE register's wire
// format, the inverse of CMP_GET_WINDOW_ACTIVE/_MODE/_SIZE: bit 0 set
// (active), bits 1-2 the mode, bits 32-63 size-1.
func PackWindowMode(mode WindowMode, size uint64) uint64 {
	return uint64(cmpWindowActive) | uint64(mode) | (size-1)<<32
}

// reconfigure implements the register-write protocol: if the pending
// configuration differs from the mapped snapshot, disable (remove from the
// controller) then, if active, re-enable (bind + re-insert at base).
func (w *Window) reconfigure() bool {
	if !w.pending.differs(w.mapped) {
		return true
	}

	w.disable()

	if !w.pending.active {
		w.mapped = w.pending
		return true
	}

	return w.enable()
}

func (w *Window) disable() {
	if w.enabled {
		w.ctl.Remove(w.mapped.base)
		w.enabled = false
	}
}

func (w *Window) enable() bool {
	base, dev, ok := w.ctl.Find(w.pending.target)
	if !ok {
		return false
	}

	if _, isWindow := dev.(*Window); isWindow {
		return false // cycle prevention: a window's target may not be a window
	}

	if w.pending.mode != ModeShared && w.pending.mode != ModePerHart {
		return false
	}

	w.target = dev
	w.targetBase = base
	w.offset = w.pending.target - base
	w.mapped = w.pending

	if !w.ctl.Add(w.mapped.base, w) {
		w.target = nil
		return false
	}

	w.enabled = true

	return true
}

// Size reports the mapped window's size so Controller.Find can bounds-check
// requests against it.
func (w *Window) Size() uint64 { return w.mapped.size }

// effective computes the underlying device offset for a request at
// windowOffset from unit, per §4.E.
func (w *Window) effective(windowOffset Addr, unit UnitID) (Addr, bool) {
	switch w.mapped.mode {
	case ModeShared:
		return w.offset + windowOffset, true
	case ModePerHart:
		if !unit.IsHart() {
			return 0, false
		}

		return w.offset + Addr(uint64(unit.Index())*w.mapped.scale()) + windowOffset, true
	default:
		return 0, false
	}
}

// inBounds rejects offset+len >= size: the last byte-inclusive edge is
// reserved, per §4.E (note the strict >=, unlike the default device policy).
func (w *Window) inBounds(offset Addr, length uint64) bool {
	if !w.enabled {
		return false
	}

	if w.mapped.size != 0 && uint64(offset)+length >= w.mapped.size {
		return false
	}

	return true
}

func (w *Window) DirectPtr(offset Addr, length uint64, unit UnitID) ([]byte, bool) {
	if !w.inBounds(offset, length) {
		return nil, false
	}

	real, ok := w.effective(offset, unit)
	if !ok {
		return nil, false
	}

	return w.target.DirectPtr(real, length, unit)
}

func (w *Window) Load(offset Addr, buf []byte, unit UnitID) bool {
	if !w.inBounds(offset, uint64(len(buf))) {
		return false
	}

	real, ok := w.effective(offset, unit)
	if !ok {
		return false
	}

	return w.target.Load(real, buf, unit)
}

func (w *Window) Store(offset Addr, buf []byte, unit UnitID) bool {
	if !w.inBounds(offset, uint64(len(buf))) {
		return false
	}

	real, ok := w.effective(offset, unit)
	if !ok {
		return false
	}

	return w.target.Store(real, buf, unit)
}
