package asm_amd64

import (
	"fmt"

	"github.com/tetratelabs/thunkpool/internal/asm"
)

// register is a general purpose register number as used in ModRM and REX.
type register byte

const (
	regRAX register = 0
	regRSP register = 4
	regR10 register = 10
	regR12 register = 12
)

// scratchRegister holds the data pair address when the dispatcher runs.
const scratchRegister = regR10

const (
	opcodeMovImm  = 0xb8 // MOV r64, imm64 is B8+rd with REX.W.
	opcodeLea     = 0x8d
	opcodeGroup5  = 0xff // JMP r/m64 is FF /4.
	extensionJmp  = 4
	opcodeNop     = 0x90
	modIndirect   = 0b00
	modDisp32     = 0b10
	rmRIPRelative = 0b101
	rexBase       = 0x40
	rexW          = 0x08
	rexR          = 0x04
	rexB          = 0x01
	leaRIPSize    = 7
)

func modRM(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

// movImm64 is "MOV dst, imm64".
type movImm64 struct {
	dst register
	imm uint64
}

func (i movImm64) encode(buf *asm.Buffer) {
	rex := byte(rexBase | rexW)
	if i.dst >= 8 {
		rex |= rexB
	}
	buf.EmitByte(rex)
	buf.EmitByte(opcodeMovImm | byte(i.dst)&7)
	buf.Emit8Bytes(i.imm)
}

// leaRIP is "LEA dst, [RIP+disp]", where disp is relative to the end of the
// instruction.
type leaRIP struct {
	dst  register
	disp int32
}

func (i leaRIP) encode(buf *asm.Buffer) {
	rex := byte(rexBase | rexW)
	if i.dst >= 8 {
		rex |= rexR
	}
	buf.EmitByte(rex)
	buf.EmitByte(opcodeLea)
	buf.EmitByte(modRM(modIndirect, byte(i.dst), rmRIPRelative))
	buf.Emit4Bytes(uint32(i.disp))
}

// jmpIndirect is "JMP [base+disp]" with a 32-bit displacement.
type jmpIndirect struct {
	base register
	disp uint32
}

func (i jmpIndirect) encode(buf *asm.Buffer) {
	if i.base&7 == regRSP&7 {
		// RSP and R12 as a base require a SIB byte which thunks never use.
		panic(fmt.Errorf("BUG: jmpIndirect does not support base register %d", i.base))
	}
	if i.base >= 8 {
		buf.EmitByte(rexBase | rexB)
	}
	buf.EmitByte(opcodeGroup5)
	buf.EmitByte(modRM(modDisp32, extensionJmp, byte(i.base)))
	buf.Emit4Bytes(i.disp)
}
