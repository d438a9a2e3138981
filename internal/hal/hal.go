package hal

import (
	"sync"

	"github.com/smoynes/refsi/internal/log"
	"github.com/smoynes/refsi/internal/refsi"
)

// Bridge is the HAL bridge over one RefSi device: translates the externally
// visible HAL operations into memory-controller operations, holding a
// single lock covering all state. KernelExec is family-specific; Bridge
// embeds a kernelExecutor supplied by NewGBridge or NewMBridge.
type Bridge struct {
	mu sync.Mutex

	dev     *refsi.Device
	logger  *log.Logger
	nextID  int
	loaded  map[int]*Program
	counter bool

	exec kernelExecutor
}

// kernelExecutor is the family-specific half of kernel_exec: everything
// about argument packing, exec-state layout, and dispatch mechanism that
// differs between the G and M families.
type kernelExecutor interface {
	execute(b *Bridge, prog *Program, kern Kernel, nd NDRange, args []Arg) bool
}

func newBridge(dev *refsi.Device, logger *log.Logger, exec kernelExecutor) *Bridge {
	return &Bridge{dev: dev, logger: logger, loaded: make(map[int]*Program), exec: exec}
}

// MemAlloc allocates size bytes, aligned to align, from the device's DRAM
// allocator.
func (b *Bridge) MemAlloc(size, align uint64) (refsi.Addr, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	addr := b.dev.DRAM.Alloc(size, align)
	if addr == 0 && size != 0 {
		return 0, false
	}

	return addr, true
}

// MemFree releases a previous MemAlloc allocation.
func (b *Bridge) MemFree(addr refsi.Addr) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dev.DRAM.Free(addr)

	return true
}

// MemRead copies len(dst) bytes from device address src into host buffer dst.
func (b *Bridge) MemRead(dst []byte, src refsi.Addr) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dev.Ctl.Load(src, dst, refsi.External)
}

// MemWrite copies host buffer src into device address dst.
func (b *Bridge) MemWrite(dst refsi.Addr, src []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dev.Ctl.Store(dst, src, refsi.External)
}

// MemCopy copies length bytes from src to dst, both device addresses.
func (b *Bridge) MemCopy(dst, src refsi.Addr, length uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dev.Ctl.Copy(dst, src, length, refsi.External)
}

// MemFill fills length bytes at dst by repeating pattern.
func (b *Bridge) MemFill(dst refsi.Addr, pattern []byte, length uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(pattern) == 0 {
		return length == 0
	}

	buf := make([]byte, len(pattern))

	for off := uint64(0); off < length; off += uint64(len(pattern)) {
		n := uint64(len(pattern))
		if length-off < n {
			n = length - off
		}

		copy(buf[:n], pattern[:n])

		if !b.dev.Ctl.Store(dst+refsi.Addr(off), buf[:n], refsi.External) {
			return false
		}
	}

	return true
}

// ProgramLoad allocates DRAM for an ELF image, parses it, loads its
// segments, and returns a handle.
func (b *Bridge) ProgramLoad(data []byte) (*Program, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	src := refsi.NewBuffer(data)

	elf, err := refsi.ParseELF(src)
	if err != nil {
		b.logger.Error("program load failed", log.String("err", err.Error()))
		return nil, false
	}

	var size uint64

	for _, seg := range elf.Segments {
		end := uint64(seg.VAddr) + seg.MemSize
		if end > size {
			size = end
		}
	}

	base := b.dev.DRAM.Alloc(size, 4096)
	if base == 0 && size != 0 {
		return nil, false
	}

	rebased := make([]refsi.Segment, len(elf.Segments))
	for i, seg := range elf.Segments {
		rebased[i] = refsi.Segment{VAddr: base + seg.VAddr, FileSize: seg.FileSize, MemSize: seg.MemSize, Data: seg.Data}
	}

	elf.Segments = rebased
	for name, addr := range elf.Symbols {
		elf.Symbols[name] = base + addr
	}

	elf.Entry += base

	if !elf.Load(b.dev.Ctl, refsi.External) {
		return nil, false
	}

	prog := &Program{Elf: elf, Base: base, Size: size}
	b.nextID++
	b.loaded[b.nextID] = prog

	return prog, true
}

// ProgramFindKernel resolves a kernel by symbol name against a loaded
// program.
func (b *Bridge) ProgramFindKernel(prog *Program, name string) (Kernel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	addr, ok := prog.Elf.FindSymbol(name)
	if !ok {
		return Kernel{}, false
	}

	return Kernel{Name: name, Entry: addr}, true
}

// ProgramFree releases the DRAM backing a loaded program.
func (b *Bridge) ProgramFree(prog *Program) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dev.DRAM.Free(prog.Base)

	return true
}

// KernelExec launches kern from prog across the work described by nd with
// the given arguments, delegating to the family-specific executor.
func (b *Bridge) KernelExec(prog *Program, kern Kernel, nd NDRange, args []Arg) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.exec.execute(b, prog, kern, nd, args)
}

// CounterSetEnabled toggles whether KernelExec samples performance
// counters.
func (b *Bridge) CounterSetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counter = enabled
}

// CounterRead reads one counter value by hart index and in-hart counter id.
func (b *Bridge) CounterRead(hart uint16, id int) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dev.Accel.ReadPerfCounter(id, hart)
}
