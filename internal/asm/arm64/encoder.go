// Package asm_arm64 encodes thunks for arm64.
package asm_arm64

import (
	"fmt"
	"math"

	"github.com/tetratelabs/thunkpool/internal/asm"
)

// ThunkSize is the size of every arm64 thunk.
const ThunkSize = 16

// maxLdrOffset is the largest offset of LDR (immediate, unsigned offset).
const maxLdrOffset = 0xfff * 8

// PCRelative is the only arm64 encoding, and is position independent:
//
//	adr x16, <data - pc>
//	ldr x17, [x16, #<displacement>]
//	br  x17
//	brk #0xf000
//
// The trailing BRK keeps thunks 16-byte aligned. When the displacement does
// not fit the scaled ldr offset, the BRK makes room for a second ADR.
var PCRelative asm.ThunkEncoder = pcRelativeEncoder{}

type pcRelativeEncoder struct{}

func (pcRelativeEncoder) Size() int                 { return ThunkSize }
func (pcRelativeEncoder) PositionIndependent() bool { return true }

func (pcRelativeEncoder) Encode(buf *asm.Buffer, t asm.Thunk) {
	delta := int64(t.Data) - int64(t.Addr)
	if delta < math.MinInt32 || delta > math.MaxInt32 {
		panic(fmt.Errorf("BUG: data pair %#x is out of range of %#x", t.Data, t.Addr))
	}
	if t.Displacement <= maxLdrOffset {
		emit(buf,
			adr{rd: regIP0, offset: int32(delta)},
			ldrUnsignedOffset{rt: regIP1, rn: regIP0, offset: t.Displacement},
			br{rn: regIP1},
			brk{imm: 0xf000},
		)
		return
	}
	// 64 KiB pages put the dispatcher slot out of reach of the ldr offset,
	// so a second adr addresses it directly.
	emit(buf,
		adr{rd: regIP0, offset: int32(delta)},
		adr{rd: regIP1, offset: int32(delta) + int32(t.Displacement) - 4},
		ldrUnsignedOffset{rt: regIP1, rn: regIP1},
		br{rn: regIP1},
	)
}
