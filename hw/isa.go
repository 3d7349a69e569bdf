package hw

import "encoding/binary"

// The user instruction set. Instructions are a fixed 12 bytes:
//
//	byte 0     opcode
//	byte 1     register operand a
//	byte 2     register operand b
//	byte 3     reserved, must be zero
//	bytes 4-11 64-bit little-endian immediate
//
// Memory operands translate through the page tables in user mode, so a
// LOAD, STORE, or instruction fetch against an unmapped or protected
// page raises INT_PF with the usual error code bits.
const INSN_SIZE = 12

// Opcodes.
const (
	OP_NOP    = iota
	OP_MOVI   // a = imm
	OP_MOV    // a = b
	OP_LOAD   // a = mem64[b + imm]
	OP_LOADB  // a = mem8[b + imm], zero extended
	OP_STORE  // mem64[a + imm] = b
	OP_STOREB // mem8[a + imm] = low byte of b
	OP_ADD    // a += b
	OP_ADDI   // a += imm
	OP_SUB    // a -= b
	OP_MULI   // a *= imm
	OP_JMP    // rip = imm
	OP_JNZ    // if a != 0 { rip = imm }
	OP_JZ     // if a == 0 { rip = imm }
	OP_SYSCALL
	NOPCODES
)

// Insn is one decoded instruction.
type Insn struct {
	Op  byte
	A   byte
	B   byte
	Imm uint64
}

// DecodeInsn decodes the instruction stored at buf[0:INSN_SIZE].
// ok is false when the encoding is invalid.
func DecodeInsn(buf []byte) (insn Insn, ok bool) {
	if len(buf) < INSN_SIZE {
		return Insn{}, false
	}
	insn = Insn{
		Op:  buf[0],
		A:   buf[1],
		B:   buf[2],
		Imm: binary.LittleEndian.Uint64(buf[4:12]),
	}
	if insn.Op >= NOPCODES || buf[3] != 0 {
		return Insn{}, false
	}
	if insn.A >= NREGS || insn.B >= NREGS {
		return Insn{}, false
	}
	return insn, true
}

// EncodeInsn appends the 12-byte encoding of insn to dst.
func EncodeInsn(dst []byte, insn Insn) []byte {
	var buf [INSN_SIZE]byte
	buf[0] = insn.Op
	buf[1] = insn.A
	buf[2] = insn.B
	binary.LittleEndian.PutUint64(buf[4:12], insn.Imm)
	return append(dst, buf[:]...)
}
