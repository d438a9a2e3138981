package refsi

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildTestELF64 hand-assembles a minimal RISC-V ELF64 executable: one
// PT_LOAD segment with a BSS tail, and a symbol table naming its entry
// point, enough to exercise ParseELF/Load/FindSymbol without a real
// toolchain.
func buildTestELF64() (data []byte, vaddr Addr, code []byte, symName string) {
	code = []byte{0x13, 0x05, 0x00, 0x00} // arbitrary instruction bytes
	vaddr = Addr(0x1000)
	symName = "start"

	filesz := uint64(len(code))
	memsz := filesz + 16 // 16 bytes of BSS beyond the file image

	strtab := append([]byte{0}, append([]byte(symName), 0)...)
	nameIdx := uint32(1)

	const (
		ehdrSize = 64
		phdrSize = 56
		symSize  = 24
		shdrSize = 64
	)

	phoff := uint64(ehdrSize)
	codeOff := phoff + uint64(phdrSize)
	strtabOff := codeOff + uint64(len(code))
	symtabOff := strtabOff + uint64(len(strtab))
	numSyms := 2
	shoff := symtabOff + uint64(numSyms*symSize)

	buf := make([]byte, shoff+3*shdrSize)

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = elfClass64
	buf[5] = 1 // little-endian
	buf[6] = 1 // EI_VERSION

	binary.LittleEndian.PutUint16(buf[16:18], 2) // ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], elfMachineRISCV)
	binary.LittleEndian.PutUint32(buf[20:24], 1)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(vaddr))
	binary.LittleEndian.PutUint64(buf[32:40], phoff)
	binary.LittleEndian.PutUint64(buf[40:48], shoff)
	binary.LittleEndian.PutUint16(buf[52:54], ehdrSize)
	binary.LittleEndian.PutUint16(buf[54:56], phdrSize)
	binary.LittleEndian.PutUint16(buf[56:58], 1)
	binary.LittleEndian.PutUint16(buf[58:60], shdrSize)
	binary.LittleEndian.PutUint16(buf[60:62], 3)
	binary.LittleEndian.PutUint16(buf[62:64], 0)

	p := buf[phoff:]
	binary.LittleEndian.PutUint32(p[0:4], ptLoad)
	binary.LittleEndian.PutUint32(p[4:8], 5) // R+X
	binary.LittleEndian.PutUint64(p[8:16], codeOff)
	binary.LittleEndian.PutUint64(p[16:24], uint64(vaddr))
	binary.LittleEndian.PutUint64(p[24:32], uint64(vaddr))
	binary.LittleEndian.PutUint64(p[32:40], filesz)
	binary.LittleEndian.PutUint64(p[40:48], memsz)
	binary.LittleEndian.PutUint64(p[48:56], 16)

	copy(buf[codeOff:], code)
	copy(buf[strtabOff:], strtab)

	sym1 := buf[symtabOff+symSize:]
	binary.LittleEndian.PutUint32(sym1[0:4], nameIdx)
	sym1[4] = 0x12 // bind=STB_GLOBAL(1)<<4 | type=STT_FUNC(2)
	binary.LittleEndian.PutUint64(sym1[8:16], uint64(vaddr))

	sh1 := buf[shoff+shdrSize:]
	binary.LittleEndian.PutUint32(sh1[4:8], shtSymtab)
	binary.LittleEndian.PutUint64(sh1[24:32], symtabOff)
	binary.LittleEndian.PutUint64(sh1[32:40], uint64(numSyms*symSize))
	binary.LittleEndian.PutUint32(sh1[40:44], 2) // sh_link -> strtab section index
	binary.LittleEndian.PutUint64(sh1[56:64], symSize)

	sh2 := buf[shoff+2*shdrSize:]
	binary.LittleEndian.PutUint32(sh2[4:8], shtStrtab)
	binary.LittleEndian.PutUint64(sh2[24:32], strtabOff)
	binary.LittleEndian.PutUint64(sh2[32:40], uint64(len(strtab)))

	return buf, vaddr, code, symName
}

func TestParseELFRoundTrip(t *testing.T) {
	data, vaddr, code, symName := buildTestELF64()

	prog, err := ParseELF(NewBuffer(data))
	if err != nil {
		t.Fatalf("ParseELF: %v", err)
	}

	if !prog.Is64 {
		t.Errorf("expected a 64-bit ELF")
	}

	if prog.Entry != vaddr {
		t.Errorf("entry = %#x, want %#x", prog.Entry, vaddr)
	}

	if len(prog.Segments) != 1 {
		t.Fatalf("expected one loadable segment, got %d", len(prog.Segments))
	}

	seg := prog.Segments[0]
	if seg.VAddr != vaddr {
		t.Errorf("segment vaddr = %#x, want %#x", seg.VAddr, vaddr)
	}

	if seg.MemSize != seg.FileSize+16 {
		t.Errorf("segment memsz = %d, want filesz+16 = %d", seg.MemSize, seg.FileSize+16)
	}

	addr, ok := prog.FindSymbol(symName)
	if !ok {
		t.Fatalf("FindSymbol(%q) missed", symName)
	}

	if addr != vaddr {
		t.Errorf("FindSymbol(%q) = %#x, want %#x", symName, addr, vaddr)
	}

	dst := NewRAM(0x4000)
	if !prog.Load(dst, External) {
		t.Fatalf("Load failed")
	}

	got := make([]byte, len(code))
	if !dst.Load(vaddr, got, External) {
		t.Fatalf("read back segment data failed")
	}

	if !bytes.Equal(got, code) {
		t.Errorf("segment data = % x, want % x", got, code)
	}

	bss := make([]byte, 16)
	if !dst.Load(vaddr+Addr(len(code)), bss, External) {
		t.Fatalf("read back BSS tail failed")
	}

	for i, b := range bss {
		if b != 0 {
			t.Errorf("bss[%d] = %#x, want 0", i, b)
		}
	}
}

func TestParseELFRejectsBadMagic(t *testing.T) {
	data, _, _, _ := buildTestELF64()
	data[1] = 'X'

	if _, err := ParseELF(NewBuffer(data)); err == nil {
		t.Errorf("expected an error for a corrupted magic number")
	}
}
