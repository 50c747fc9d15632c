// Package thunkexec interprets thunks, so their behavior can be verified for
// every architecture regardless of the host running the tests.
//
// Only the instruction shapes emitted by the thunk encoders are understood.
// Anything else is reported as an error, which makes an encoder regression
// visible instead of silently misinterpreted.
package thunkexec

import (
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/thunkpool/internal/geometry"
)

// Load reads size bytes (4 or 8) at addr as a little-endian integer.
type Load func(addr uintptr, size int) (uint64, error)

// Result is the machine state observed when a thunk transfers control.
type Result struct {
	// Context is the data pair address handed to the dispatcher.
	Context uintptr
	// Target is where the thunk jumps.
	Target uintptr
	// Executed is the number of instructions executed, padding excluded.
	Executed int
}

// Run executes code, whose first byte is at pc, until it jumps.
func Run(arch geometry.Arch, code []byte, pc uintptr, load Load) (Result, error) {
	switch arch {
	case geometry.ArchAMD64:
		return runX86(code, pc, load, true)
	case geometry.Arch386:
		return runX86(code, pc, load, false)
	case geometry.ArchARM:
		return runThumb2(code, load)
	case geometry.ArchARM64:
		return runARM64(code, pc, load)
	case geometry.ArchLoong64:
		return runLoong64(code, pc, load)
	default:
		return Result{}, fmt.Errorf("unsupported architecture %s", arch)
	}
}

func errUnknown(off int, b []byte) error {
	return fmt.Errorf("unknown instruction at offset %d: % x", off, b)
}

func runX86(code []byte, pc uintptr, load Load, is64 bool) (res Result, err error) {
	ptrSize := 4
	if is64 {
		ptrSize = 8
	}
	var scratch uint64
	for off := 0; off < len(code); {
		b := code[off:]
		switch {
		case is64 && len(b) >= 10 && b[0] == 0x49 && b[1] == 0xba: // mov r10, imm64
			scratch = binary.LittleEndian.Uint64(b[2:])
			off += 10
		case is64 && len(b) >= 7 && b[0] == 0x4c && b[1] == 0x8d && b[2] == 0x15: // lea r10, [rip+disp32]
			next := uint64(pc) + uint64(off) + 7
			scratch = next + uint64(int64(int32(binary.LittleEndian.Uint32(b[3:]))))
			off += 7
		case !is64 && len(b) >= 5 && b[0] == 0xb8: // mov eax, imm32
			scratch = uint64(binary.LittleEndian.Uint32(b[1:]))
			off += 5
		case is64 && len(b) >= 7 && b[0] == 0x41 && b[1] == 0xff && b[2] == 0xa2, // jmp [r10+disp32]
			!is64 && len(b) >= 6 && b[0] == 0xff && b[1] == 0xa0: // jmp [eax+disp32]
			dispAt := 2
			if is64 {
				dispAt = 3
			}
			disp := uint64(binary.LittleEndian.Uint32(b[dispAt:]))
			res.Executed++
			target, err := load(uintptr(scratch+disp), ptrSize)
			if err != nil {
				return res, err
			}
			res.Context, res.Target = uintptr(scratch), uintptr(target)
			return res, nil
		case b[0] == 0x90:
			off++
			continue
		default:
			return res, errUnknown(off, b)
		}
		res.Executed++
	}
	return res, fmt.Errorf("ran off the end of the thunk")
}

func runThumb2(code []byte, load Load) (res Result, err error) {
	var regs [16]uint32
	stored := false
	for off := 0; off+2 <= len(code); {
		hw0 := binary.LittleEndian.Uint16(code[off:])
		if hw0 == 0xbf00 { // nop
			off += 2
			continue
		}
		if hw0&0xff87 == 0x4700 { // bx rm
			res.Executed++
			if !stored {
				return res, fmt.Errorf("bx before the context was stored")
			}
			res.Target = uintptr(regs[(hw0>>3)&0xf])
			return res, nil
		}
		if off+4 > len(code) {
			return res, errUnknown(off, code[off:])
		}
		hw1 := binary.LittleEndian.Uint16(code[off+2:])
		switch {
		case hw0&0xfbf0 == 0xf240, hw0&0xfbf0 == 0xf2c0: // movw, movt
			imm := uint32(hw0&0xf)<<12 | uint32(hw0>>10&1)<<11 | uint32(hw1>>12&7)<<8 | uint32(hw1&0xff)
			rd := hw1 >> 8 & 0xf
			if hw0&0xfbf0 == 0xf240 {
				regs[rd] = imm
			} else {
				regs[rd] = regs[rd]&0xffff | imm<<16
			}
		case hw0&0xfff0 == 0xf840 && hw1&0x0f00 == 0x0c00: // str rt, [rn, #-imm8]
			if hw0&0xf != 13 {
				return res, fmt.Errorf("str to a base other than sp")
			}
			res.Context = uintptr(regs[hw1>>12])
			stored = true
		case hw0&0xfff0 == 0xf8d0: // ldr.w rt, [rn, #imm12]
			v, err := load(uintptr(regs[hw0&0xf]+uint32(hw1&0xfff)), 4)
			if err != nil {
				return res, err
			}
			regs[hw1>>12] = uint32(v)
		default:
			return res, errUnknown(off, code[off:off+4])
		}
		res.Executed++
		off += 4
	}
	return res, fmt.Errorf("ran off the end of the thunk")
}

func signExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

func runARM64(code []byte, pc uintptr, load Load) (res Result, err error) {
	var x [32]uint64
	for off := 0; off+4 <= len(code); off += 4 {
		w := binary.LittleEndian.Uint32(code[off:])
		res.Executed++
		switch {
		case w&0x9f000000 == 0x10000000: // adr
			imm := uint64(w>>5&0x7ffff)<<2 | uint64(w>>29&3)
			x[w&31] = uint64(pc) + uint64(off) + uint64(signExtend(imm, 21))
		case w&0xffc00000 == 0xf9400000: // ldr xt, [xn, #imm]
			v, err := load(uintptr(x[w>>5&31]+uint64(w>>10&0xfff)*8), 8)
			if err != nil {
				return res, err
			}
			x[w&31] = v
		case w&0xfffffc1f == 0xd61f0000: // br
			res.Context, res.Target = uintptr(x[16]), uintptr(x[w>>5&31])
			return res, nil
		case w&0xffe0001f == 0xd4200000:
			return res, fmt.Errorf("brk at offset %d", off)
		default:
			return res, errUnknown(off, code[off:off+4])
		}
	}
	return res, fmt.Errorf("ran off the end of the thunk")
}

func runLoong64(code []byte, pc uintptr, load Load) (res Result, err error) {
	var r [32]uint64
	for off := 0; off+4 <= len(code); off += 4 {
		w := binary.LittleEndian.Uint32(code[off:])
		res.Executed++
		rd, rj := w&31, w>>5&31
		switch {
		case w>>25 == 0b0001100: // pcaddi
			r[rd] = uint64(pc) + uint64(off) + uint64(signExtend(uint64(w>>5&0xfffff), 20)<<2)
		case w>>22 == 0b0010100011: // ld.d
			v, err := load(uintptr(r[rj]+uint64(signExtend(uint64(w>>10&0xfff), 12))), 8)
			if err != nil {
				return res, err
			}
			r[rd] = v
		case w>>26 == 0b010011: // jirl
			res.Context = uintptr(r[19])
			res.Target = uintptr(r[rj] + uint64(signExtend(uint64(w>>10&0xffff), 16)<<2))
			return res, nil
		default:
			return res, errUnknown(off, code[off:off+4])
		}
		if rd == 0 {
			r[0] = 0
		}
	}
	return res, fmt.Errorf("ran off the end of the thunk")
}
