package refsi

// Register is a RISC-V integer register index, named the way
// riscv_register is in original_source's encoder for readability at call
// sites.
type Register uint32

const (
	RegZero Register = iota
	RegRA
	RegSP
	RegGP
	RegTP
	RegT0
	RegT1
	RegT2
	RegS0
	RegS1
	RegA0
	RegA1
	RegA2
	RegA3
	RegA4
	RegA5
	RegA6
	RegA7
)

// MulOp selects the RV64M opcode Encoder.AddMulInst emits.
type MulOp uint8

const (
	MulMUL MulOp = iota
	MulMULH
	MulMULHSU
	MulMULHU
	MulDIV
	MulDIVU
	MulREM
	MulREMU
)

// Encoder assembles RISC-V instruction words, grounded on
// original_source's riscv_encoder: enough of the I/S/R-type encodings to
// build the loader ROM stubs the HAL bridge emits (§4.M).
type Encoder struct {
	Words []uint32
}

func (e *Encoder) emit(w uint32) { e.Words = append(e.Words, w) }

func encodeR(funct7, rs2, rs1, funct3, rd, opcode uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeI(imm uint32, rs1, funct3, rd, opcode uint32) uint32 {
	return (imm&0xfff)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeS(imm uint32, rs2, rs1, funct3, opcode uint32) uint32 {
	lo := imm & 0x1f
	hi := (imm >> 5) & 0x7f

	return hi<<25 | rs2<<20 | rs1<<15 | funct3<<12 | lo<<7 | opcode
}

// AddADDI emits `addi rd, rs1, imm`.
func (e *Encoder) AddADDI(rd, rs1 Register, imm int32) {
	e.emit(encodeI(uint32(imm), uint32(rs1), 0, uint32(rd), opOpImm))
}

// AddLI emits `li rd, imm`, as `addi rd, x0, imm` when imm fits 12 bits,
// else `lui`+`addi`.
func (e *Encoder) AddLI(rd Register, imm int64) {
	if imm >= -2048 && imm <= 2047 {
		e.AddADDI(rd, RegZero, int32(imm))
		return
	}

	upper := uint32((imm + 0x800) >> 12)
	lower := int32(imm - (int64(upper) << 12))
	e.emit(encodeU(upper, uint32(rd), opLui))
	e.AddADDI(rd, rd, lower)
}

func encodeU(imm uint32, rd, opcode uint32) uint32 {
	return (imm << 12) | rd<<7 | opcode
}

// AddMV emits `mv rd, rs`, as `addi rd, rs, 0`.
func (e *Encoder) AddMV(rd, rs Register) { e.AddADDI(rd, rs, 0) }

// AddECALL emits `ecall`.
func (e *Encoder) AddECALL() { e.emit(0x00000073) }

// AddJR emits `jr rs`, as `jalr x0, 0(rs)`.
func (e *Encoder) AddJR(rs Register) {
	e.emit(encodeI(0, uint32(rs), 0, uint32(RegZero), opJalr))
}

// AddJALR emits `jalr rd, offset(rs1)`.
func (e *Encoder) AddJALR(rd, rs1 Register, offset int32) {
	e.emit(encodeI(uint32(offset), uint32(rs1), 0, uint32(rd), opJalr))
}

// AddLW emits `lw rd, offset(rs1)`.
func (e *Encoder) AddLW(rd, rs1 Register, offset int32) {
	e.emit(encodeI(uint32(offset), uint32(rs1), 2, uint32(rd), opLoad))
}

// AddSW emits `sw rs2, offset(rs1)`.
func (e *Encoder) AddSW(rs2, rs1 Register, offset int32) {
	e.emit(encodeS(uint32(offset), uint32(rs2), uint32(rs1), 2, opStore))
}

// AddMulInst emits one of the RV64M R-type instructions selected by op.
func (e *Encoder) AddMulInst(op MulOp, rd, rs1, rs2 Register) {
	e.emit(encodeR(0x01, uint32(rs2), uint32(rs1), uint32(op), uint32(rd), opOp))
}

// Bytes serialises the assembled words as little-endian bytes, ready to be
// wrapped in a ROM device.
func (e *Encoder) Bytes() []byte {
	out := make([]byte, len(e.Words)*4)
	for i, w := range e.Words {
		putLeUint32(out[i*4:], w)
	}

	return out
}
