package asm_arm

import (
	"fmt"

	"github.com/tetratelabs/thunkpool/internal/asm"
)

type register uint16

const (
	regR12 register = 12
	regSP  register = 13
)

// movImm16 is the T3 encoding of MOVW (top == false) or MOVT (top == true):
//
//	hw0: 11110 i 10 T 1 00 imm4
//	hw1: 0 imm3 rd imm8
type movImm16 struct {
	rd  register
	imm uint16
	top bool
}

func (i movImm16) encode(buf *asm.Buffer) {
	hw0 := uint16(0xf240)
	if i.top {
		hw0 = 0xf2c0
	}
	imm4 := i.imm >> 12 & 0xf
	bitI := i.imm >> 11 & 0x1
	imm3 := i.imm >> 8 & 0x7
	imm8 := i.imm & 0xff
	buf.Emit2Bytes(hw0 | bitI<<10 | imm4)
	buf.Emit2Bytes(imm3<<12 | uint16(i.rd)<<8 | imm8)
}

// movImm32 loads a 32-bit value with a MOVW/MOVT pair.
func movImm32(buf *asm.Buffer, rd register, imm uint32) {
	movImm16{rd: rd, imm: uint16(imm)}.encode(buf)
	movImm16{rd: rd, imm: uint16(imm >> 16), top: true}.encode(buf)
}

// strNegativeOffset is the T4 encoding of "STR rt, [rn, #-imm8]" without
// write-back.
type strNegativeOffset struct {
	rt, rn register
	imm8   uint8
}

func (i strNegativeOffset) encode(buf *asm.Buffer) {
	const (
		p = 1 << 10 // offset addressing
		u = 0 << 9  // subtract
		w = 0 << 8  // no write-back
	)
	buf.Emit2Bytes(0xf840 | uint16(i.rn))
	buf.Emit2Bytes(uint16(i.rt)<<12 | 1<<11 | p | u | w | uint16(i.imm8))
}

// ldrImm12 is the T3 encoding of "LDR.W rt, [rn, #imm12]".
type ldrImm12 struct {
	rt, rn register
	imm12  uint32
}

func (i ldrImm12) encode(buf *asm.Buffer) {
	if i.imm12 > 0xfff {
		panic(fmt.Errorf("BUG: ldr offset %#x does not fit in 12 bits", i.imm12))
	}
	buf.Emit2Bytes(0xf8d0 | uint16(i.rn))
	buf.Emit2Bytes(uint16(i.rt)<<12 | uint16(i.imm12))
}

// bx is the T1 encoding of "BX rm".
type bx struct {
	rm register
}

func (i bx) encode(buf *asm.Buffer) {
	buf.Emit2Bytes(0x4700 | uint16(i.rm)<<3)
}

const nop = 0xbf00
