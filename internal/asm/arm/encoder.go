// Package asm_arm encodes thunks for 32-bit ARM in Thumb-2 mode.
//
// Callers branch to a thunk with BLX, so its entry address must have the
// Thumb bit set.
package asm_arm

import "github.com/tetratelabs/thunkpool/internal/asm"

// ThunkSize is the size of every Thumb-2 thunk.
const ThunkSize = 20

// Absolute loads the data pair address with MOVW/MOVT and passes it to the
// dispatcher both in r12 and below the stack pointer:
//
//	movw r12, <data & 0xffff>
//	movt r12, <data >> 16>
//	str  r12, [sp, #-4]
//	ldr  r12, [r12, #<displacement>]
//	bx   r12
//	nop
var Absolute asm.ThunkEncoder = absoluteEncoder{}

type absoluteEncoder struct{}

func (absoluteEncoder) Size() int                 { return ThunkSize }
func (absoluteEncoder) PositionIndependent() bool { return false }

func (absoluteEncoder) Encode(buf *asm.Buffer, t asm.Thunk) {
	movImm32(buf, regR12, uint32(t.Data))
	strNegativeOffset{rt: regR12, rn: regSP, imm8: 4}.encode(buf)
	ldrImm12{rt: regR12, rn: regR12, imm12: t.Displacement}.encode(buf)
	bx{rm: regR12}.encode(buf)
	buf.Emit2Bytes(nop)
}
