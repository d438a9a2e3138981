package refsi

// CommandBuffer builds the wire format §4.K's CMP decodes: a sequence of
// 64-bit chunks, each command a header chunk followed by its payload. This
// is the producer side; cmp.go's execute/decodeHeader is the consumer.
type CommandBuffer struct {
	chunks []uint64
}

func NewCommandBuffer() *CommandBuffer { return &CommandBuffer{} }

func header(op Opcode, numChunks int, inline uint32) uint64 {
	low := uint32(0xC0000000) | (uint32(op) << 8) | (uint32(numChunks*2) << 16)
	return uint64(low) | uint64(inline)<<32
}

func (b *CommandBuffer) append(op Opcode, inline uint32, payload ...uint64) {
	b.chunks = append(b.chunks, header(op, len(payload), inline))
	b.chunks = append(b.chunks, payload...)
}

func (b *CommandBuffer) NOP() { b.append(OpNOP, 0) }

func (b *CommandBuffer) Finish() { b.append(OpFINISH, 0) }

func (b *CommandBuffer) WriteReg64(reg int, imm uint64) {
	b.append(OpWRITE_REG64, 0, uint64(reg), imm)
}

func (b *CommandBuffer) LoadReg64(reg int, srcAddr Addr) {
	b.append(OpLOAD_REG64, 0, uint64(reg), uint64(srcAddr))
}

func (b *CommandBuffer) StoreReg64(reg int, dstAddr Addr) {
	b.append(OpSTORE_REG64, 0, uint64(reg), uint64(dstAddr))
}

func (b *CommandBuffer) StoreImm64(dstAddr Addr, imm uint64) {
	b.append(OpSTORE_IMM64, uint32(dstAddr), imm)
}

func (b *CommandBuffer) CopyMem64(count uint64, src, dst Addr) {
	b.append(OpCOPY_MEM64, uint32(count), uint64(src), uint64(dst))
}

func (b *CommandBuffer) RunKernelSlice(maxHarts uint8, numInstances int, sliceID uint64) {
	b.append(OpRUN_KERNEL_SLICE, uint32(maxHarts), uint64(numInstances), sliceID)
}

func (b *CommandBuffer) RunInstances(maxHarts uint8, numInstances int, extraArgs []uint64) {
	inline := uint32(maxHarts) | uint32(len(extraArgs))<<8
	payload := append([]uint64{uint64(numInstances)}, extraArgs...)
	b.append(OpRUN_INSTANCES, inline, payload...)
}

func (b *CommandBuffer) SyncCache(dcache bool) {
	var flags uint32
	if dcache {
		flags = 1
	}

	b.append(OpSYNC_CACHE, flags)
}

// Bytes serialises the accumulated chunks as little-endian bytes, ready to
// be stored into device memory and submitted to the CMP.
func (b *CommandBuffer) Bytes() []byte {
	out := make([]byte, len(b.chunks)*8)
	for i, c := range b.chunks {
		putLeUint64(out[i*8:], c)
	}

	return out
}

func (b *CommandBuffer) Size() uint64 { return uint64(len(b.chunks) * 8) }
