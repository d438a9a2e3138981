package refsi

import "os"

// MemoryDevice is the uniform capability set every memory device exposes.
// Size returns 0 for variable-sized or composite devices (controllers, and
// windows with no size set). DirectPtr returns a host-addressable slice when the device can
// provide one for the given unit; callers fall back to Load/Store when it
// cannot.
type MemoryDevice interface {
	Size() uint64
	DirectPtr(offset Addr, length uint64, unit UnitID) ([]byte, bool)
	Load(offset Addr, buf []byte, unit UnitID) bool
	Store(offset Addr, buf []byte, unit UnitID) bool
}

// baseDevice provides the default Load/Store behaviour described in §4.C:
// bounds-check against Size (when nonzero), then delegate to DirectPtr.
// Concrete devices embed it and only need to implement Size and DirectPtr,
// collapsing what the original's MemoryDevice -> MemoryDeviceBase hierarchy
// expressed as inheritance into a single provided block.
type baseDevice struct {
	self MemoryDevice
}

func (b baseDevice) checkBounds(offset Addr, length uint64) bool {
	size := b.self.Size()
	if size == 0 {
		return true
	}

	if addOverflows(offset, length) {
		return false
	}

	return uint64(offset)+length <= size
}

func (b baseDevice) Load(offset Addr, buf []byte, unit UnitID) bool {
	if !b.checkBounds(offset, uint64(len(buf))) {
		return false
	}

	ptr, ok := b.self.DirectPtr(offset, uint64(len(buf)), unit)
	if !ok {
		return false
	}

	copy(buf, ptr)

	return true
}

func (b baseDevice) Store(offset Addr, buf []byte, unit UnitID) bool {
	if !b.checkBounds(offset, uint64(len(buf))) {
		return false
	}

	ptr, ok := b.self.DirectPtr(offset, uint64(len(buf)), unit)
	if !ok {
		return false
	}

	copy(ptr, buf)

	return true
}

// RAM owns a zero-initialised byte buffer. Every unit may read and write it.
type RAM struct {
	baseDevice
	bytes []byte
}

// NewRAM allocates a zeroed RAM device of the given size.
func NewRAM(size uint64) *RAM {
	r := &RAM{bytes: make([]byte, size)}
	r.self = r

	return r
}

func (r *RAM) Size() uint64 { return uint64(len(r.bytes)) }

func (r *RAM) DirectPtr(offset Addr, length uint64, _ UnitID) ([]byte, bool) {
	if offset < 0 || uint64(offset)+length > uint64(len(r.bytes)) {
		return nil, false
	}

	return r.bytes[offset : uint64(offset)+length], true
}

// ROM is read-only to the accelerator: only the host (External) may write
// it, and Store fails for every other unit. Any unit may read it, but
// DirectPtr is only offered to External so that non-host units are forced
// through the read-only Load path.
type ROM struct {
	baseDevice
	bytes []byte
}

// NewROM wraps pre-initialised content as read-only device memory.
func NewROM(content []byte) *ROM {
	r := &ROM{bytes: append([]byte(nil), content...)}
	r.self = r

	return r
}

func (r *ROM) Size() uint64 { return uint64(len(r.bytes)) }

func (r *ROM) DirectPtr(offset Addr, length uint64, unit UnitID) ([]byte, bool) {
	if unit.Kind() != UnitExternal {
		return nil, false
	}

	if uint64(offset)+length > uint64(len(r.bytes)) {
		return nil, false
	}

	return r.bytes[offset : uint64(offset)+length], true
}

func (r *ROM) Load(offset Addr, buf []byte, _ UnitID) bool {
	if uint64(offset)+uint64(len(buf)) > uint64(len(r.bytes)) {
		return false
	}

	copy(buf, r.bytes[offset:])

	return true
}

func (r *ROM) Store(offset Addr, buf []byte, unit UnitID) bool {
	ptr, ok := r.DirectPtr(offset, uint64(len(buf)), unit)
	if !ok {
		return false
	}

	copy(ptr, buf)

	return true
}

// HartLocal lazily allocates a private, zero-initialised slice per hart
// index; only AccHart units may access it, each seeing only its own slice.
type HartLocal struct {
	baseDevice
	sliceSize uint64
	slices    map[uint16][]byte
}

// NewHartLocal creates a hart-local device where each hart gets its own
// zeroed region of sliceSize bytes.
func NewHartLocal(sliceSize uint64) *HartLocal {
	h := &HartLocal{sliceSize: sliceSize, slices: make(map[uint16][]byte)}
	h.self = h

	return h
}

func (h *HartLocal) Size() uint64 { return h.sliceSize }

func (h *HartLocal) DirectPtr(offset Addr, length uint64, unit UnitID) ([]byte, bool) {
	if !unit.IsHart() {
		return nil, false
	}

	if uint64(offset)+length > h.sliceSize {
		return nil, false
	}

	s, ok := h.slices[unit.Index()]
	if !ok {
		s = make([]byte, h.sliceSize)
		h.slices[unit.Index()] = s
	}

	return s[offset : uint64(offset)+length], true
}

// FileDevice is a read-only device backed by a host file; store always
// fails.
type FileDevice struct {
	baseDevice
	f    *os.File
	size uint64
}

// NewFileDevice opens path for positional, read-only access.
func NewFileDevice(path string) (*FileDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, opErr("file device open", 0, ErrMemory)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, opErr("file device stat", 0, ErrMemory)
	}

	fd := &FileDevice{f: f, size: uint64(info.Size())}
	fd.self = fd

	return fd, nil
}

func (fd *FileDevice) Close() error { return fd.f.Close() }

func (fd *FileDevice) Size() uint64 { return fd.size }

func (fd *FileDevice) DirectPtr(Addr, uint64, UnitID) ([]byte, bool) { return nil, false }

func (fd *FileDevice) Load(offset Addr, buf []byte, _ UnitID) bool {
	if uint64(offset)+uint64(len(buf)) > fd.size {
		return false
	}

	n, err := fd.f.ReadAt(buf, int64(offset))

	return err == nil && n == len(buf)
}

func (fd *FileDevice) Store(Addr, []byte, UnitID) bool { return false }

// Buffer is a non-owning, writable view of host memory, used to expose a
// host-allocated slice as a device.
type Buffer struct {
	baseDevice
	bytes []byte
}

// NewBuffer wraps host memory as a device; the caller retains ownership.
func NewBuffer(bytes []byte) *Buffer {
	b := &Buffer{bytes: bytes}
	b.self = b

	return b
}

func (b *Buffer) Size() uint64 { return uint64(len(b.bytes)) }

func (b *Buffer) DirectPtr(offset Addr, length uint64, _ UnitID) ([]byte, bool) {
	if uint64(offset)+length > uint64(len(b.bytes)) {
		return nil, false
	}

	return b.bytes[offset : uint64(offset)+length], true
}
