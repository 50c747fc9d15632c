// Package asm_x86 encodes thunks for 32-bit x86.
package asm_x86

import "github.com/tetratelabs/thunkpool/internal/asm"

// ThunkSize is the size of every x86 thunk.
const ThunkSize = 12

type register byte

const regEAX register = 0

const (
	opcodeMovImm = 0xb8
	opcodeGroup5 = 0xff
	extensionJmp = 4
	modDisp32    = 0b10
	opcodeNop    = 0x90
)

// movImm32 is "MOV dst, imm32".
type movImm32 struct {
	dst register
	imm uint32
}

func (i movImm32) encode(buf *asm.Buffer) {
	buf.EmitByte(opcodeMovImm | byte(i.dst))
	buf.Emit4Bytes(i.imm)
}

// jmpIndirect is "JMP [base+disp32]". ESP as a base needs a SIB byte and is
// not supported.
type jmpIndirect struct {
	base register
	disp uint32
}

func (i jmpIndirect) encode(buf *asm.Buffer) {
	buf.EmitByte(opcodeGroup5)
	buf.EmitByte(modDisp32<<6 | extensionJmp<<3 | byte(i.base))
	buf.Emit4Bytes(i.disp)
}

// Absolute is the only x86 encoding; 32-bit x86 has no instruction pointer
// relative addressing.
//
//	mov eax, <data>
//	jmp [eax + <displacement>]
//	nop
var Absolute asm.ThunkEncoder = absoluteEncoder{}

type absoluteEncoder struct{}

func (absoluteEncoder) Size() int                 { return ThunkSize }
func (absoluteEncoder) PositionIndependent() bool { return false }

func (absoluteEncoder) Encode(buf *asm.Buffer, t asm.Thunk) {
	movImm32{dst: regEAX, imm: uint32(t.Data)}.encode(buf)
	jmpIndirect{base: regEAX, disp: t.Displacement}.encode(buf)
	buf.PadWith(opcodeNop)
}
