package asm_amd64

import (
	"fmt"
	"math"

	"github.com/tetratelabs/thunkpool/internal/asm"
)

// ThunkSize is the size of every amd64 thunk.
const ThunkSize = 20

var (
	// Absolute embeds the data pair address as an immediate:
	//
	//	mov r10, <data>
	//	jmp [r10 + <displacement>]
	//	nop; nop; nop
	Absolute asm.ThunkEncoder = absoluteEncoder{}

	// RIPRelative computes the data pair address from the instruction
	// pointer, so the stubs can be duplicated into any mapping:
	//
	//	lea r10, [rip + <data - next instruction>]
	//	jmp [r10 + <displacement>]
	//	nop * 6
	RIPRelative asm.ThunkEncoder = ripRelativeEncoder{}
)

type absoluteEncoder struct{}

func (absoluteEncoder) Size() int                 { return ThunkSize }
func (absoluteEncoder) PositionIndependent() bool { return false }

func (absoluteEncoder) Encode(buf *asm.Buffer, t asm.Thunk) {
	movImm64{dst: scratchRegister, imm: uint64(t.Data)}.encode(buf)
	jmpIndirect{base: scratchRegister, disp: t.Displacement}.encode(buf)
	buf.PadWith(opcodeNop)
}

type ripRelativeEncoder struct{}

func (ripRelativeEncoder) Size() int                 { return ThunkSize }
func (ripRelativeEncoder) PositionIndependent() bool { return true }

func (ripRelativeEncoder) Encode(buf *asm.Buffer, t asm.Thunk) {
	next := int64(t.Addr) + leaRIPSize
	disp := int64(t.Data) - next
	if disp < math.MinInt32 || disp > math.MaxInt32 {
		panic(fmt.Errorf("BUG: data pair %#x is out of RIP-relative range of %#x", t.Data, t.Addr))
	}
	leaRIP{dst: scratchRegister, disp: int32(disp)}.encode(buf)
	jmpIndirect{base: scratchRegister, disp: t.Displacement}.encode(buf)
	buf.PadWith(opcodeNop)
}
