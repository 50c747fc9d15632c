// Package asm_loong64 encodes thunks for LoongArch64.
package asm_loong64

import (
	"fmt"
	"math"

	"github.com/tetratelabs/thunkpool/internal/asm"
)

// ThunkSize is the size of every loong64 thunk.
const ThunkSize = 16

// PCRelative is the only loong64 encoding, and is position independent:
//
//	pcaddi $t7, <data - pc>
//	pcaddi $t8, <data + displacement - pc>
//	ld.d   $t8, $t8, 0
//	jirl   $zero, $t8, 0
//
// The second PCADDI executes one instruction later, so its offset is biased
// by 4.
var PCRelative asm.ThunkEncoder = pcRelativeEncoder{}

type pcRelativeEncoder struct{}

func (pcRelativeEncoder) Size() int                 { return ThunkSize }
func (pcRelativeEncoder) PositionIndependent() bool { return true }

func (pcRelativeEncoder) Encode(buf *asm.Buffer, t asm.Thunk) {
	delta := int64(t.Data) - int64(t.Addr)
	dispatcher := delta + int64(t.Displacement) - 4
	if delta < math.MinInt32 || dispatcher > math.MaxInt32 {
		panic(fmt.Errorf("BUG: data pair %#x is out of range of %#x", t.Data, t.Addr))
	}
	emit(buf,
		pcaddi{rd: regT7, offset: int32(delta)},
		pcaddi{rd: regT8, offset: int32(dispatcher)},
		ldD{rd: regT8, rj: regT8},
		jirl{rd: regZero, rj: regT8},
	)
}
