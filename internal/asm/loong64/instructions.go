package asm_loong64

import (
	"fmt"

	"github.com/tetratelabs/thunkpool/internal/asm"
)

type register uint32

const (
	regZero register = 0
	regT7   register = 19
	regT8   register = 20
)

// pcaddi is "PCADDI rd, si20": rd = PC + si20<<2.
type pcaddi struct {
	rd     register
	offset int32
}

func (i pcaddi) encode() uint32 {
	if i.offset%4 != 0 || i.offset < -(1<<21) || i.offset >= 1<<21 {
		panic(fmt.Errorf("BUG: pcaddi offset %#x cannot be encoded", i.offset))
	}
	si20 := uint32(i.offset>>2) & 0xfffff
	return 0b0001100<<25 | si20<<5 | uint32(i.rd)
}

// ldD is "LD.D rd, rj, si12".
type ldD struct {
	rd, rj register
	si12   int16
}

func (i ldD) encode() uint32 {
	return 0b0010100011<<22 | (uint32(i.si12)&0xfff)<<10 | uint32(i.rj)<<5 | uint32(i.rd)
}

// jirl is "JIRL rd, rj, offs16": jump to rj + offs16<<2, linking into rd.
type jirl struct {
	rd, rj register
	offs16 int16
}

func (i jirl) encode() uint32 {
	return 0b010011<<26 | (uint32(i.offs16)&0xffff)<<10 | uint32(i.rj)<<5 | uint32(i.rd)
}

type instruction interface {
	encode() uint32
}

func emit(buf *asm.Buffer, insts ...instruction) {
	for _, inst := range insts {
		buf.Emit4Bytes(inst.encode())
	}
}
