package asm_arm64

import (
	"fmt"

	"github.com/tetratelabs/thunkpool/internal/asm"
)

type register uint32

const (
	// regIP0 and regIP1 are the intra-procedure-call scratch registers x16
	// and x17, which the platform ABIs leave free for veneers like thunks.
	regIP0 register = 16
	regIP1 register = 17
)

// adr is "ADR rd, #offset": rd = PC + offset.
//
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/ADR--Form-PC-relative-address-
type adr struct {
	rd     register
	offset int32
}

func (i adr) encode() uint32 {
	if i.offset < -(1<<20) || i.offset >= 1<<20 {
		panic(fmt.Errorf("BUG: adr offset %#x is out of range", i.offset))
	}
	immlo := uint32(i.offset) & 0b11
	immhi := uint32(i.offset>>2) & 0x7ffff
	return immlo<<29 | 0b10000<<24 | immhi<<5 | uint32(i.rd)
}

// ldrUnsignedOffset is "LDR rt, [rn, #offset]" for 64-bit registers, where
// offset is scaled by 8.
//
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/LDR--immediate---Load-Register--immediate--
type ldrUnsignedOffset struct {
	rt, rn register
	offset uint32
}

func (i ldrUnsignedOffset) encode() uint32 {
	if i.offset%8 != 0 || i.offset/8 > 0xfff {
		panic(fmt.Errorf("BUG: ldr offset %#x cannot be encoded", i.offset))
	}
	return 0b11_111_0_01_01<<22 | (i.offset/8)<<10 | uint32(i.rn)<<5 | uint32(i.rt)
}

// br is "BR rn".
//
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/BR--Branch-to-Register-
type br struct {
	rn register
}

func (i br) encode() uint32 {
	return 0b1101011_0000_11111_000000<<10 | uint32(i.rn)<<5
}

// brk is "BRK #imm".
type brk struct {
	imm uint16
}

func (i brk) encode() uint32 {
	return 0b11010100_001<<21 | uint32(i.imm)<<5
}

type instruction interface {
	encode() uint32
}

func emit(buf *asm.Buffer, insts ...instruction) {
	for _, inst := range insts {
		buf.Emit4Bytes(inst.encode())
	}
}
