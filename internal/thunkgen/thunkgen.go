// Package thunkgen selects the thunk encoder of an architecture and writes
// whole stub regions with it.
package thunkgen

import (
	"fmt"

	"github.com/tetratelabs/thunkpool/internal/asm"
	asm_amd64 "github.com/tetratelabs/thunkpool/internal/asm/amd64"
	asm_arm "github.com/tetratelabs/thunkpool/internal/asm/arm"
	asm_arm64 "github.com/tetratelabs/thunkpool/internal/asm/arm64"
	asm_loong64 "github.com/tetratelabs/thunkpool/internal/asm/loong64"
	asm_x86 "github.com/tetratelabs/thunkpool/internal/asm/x86"
	"github.com/tetratelabs/thunkpool/internal/geometry"
)

// Encoder returns the encoder for arch. When pic is set, the encoder must be
// position independent.
//
// This panics if arch has no such encoder: the process would otherwise run
// malformed code.
func Encoder(arch geometry.Arch, pic bool) asm.ThunkEncoder {
	var enc asm.ThunkEncoder
	switch arch {
	case geometry.ArchAMD64:
		if pic {
			enc = asm_amd64.RIPRelative
		} else {
			enc = asm_amd64.Absolute
		}
	case geometry.Arch386:
		enc = asm_x86.Absolute
	case geometry.ArchARM:
		enc = asm_arm.Absolute
	case geometry.ArchARM64:
		enc = asm_arm64.PCRelative
	case geometry.ArchLoong64:
		enc = asm_loong64.PCRelative
	default:
		panic(fmt.Errorf("thunkpool: no thunk encoder for architecture %s", arch))
	}
	if pic && !enc.PositionIndependent() {
		panic(fmt.Errorf("thunkpool: no position independent thunk encoder for architecture %s", arch))
	}
	if enc.Size() != arch.ThunkSize() {
		panic(fmt.Errorf("BUG: %s encoder emits %d byte thunks, geometry expects %d", arch, enc.Size(), arch.ThunkSize()))
	}
	return enc
}

// HasPositionIndependent reports whether arch has a position independent
// encoder.
func HasPositionIndependent(arch geometry.Arch) bool {
	switch arch {
	case geometry.ArchAMD64, geometry.ArchARM64, geometry.ArchLoong64:
		return true
	default:
		return false
	}
}

// Fill encodes every thunk of every block of a mapping into stubs, which is
// the writable view of the stub region executing at stubAddr. dataAddr is the
// address of the paired data region.
//
// Bytes of a block after its last thunk are left untouched.
func Fill(l geometry.Layout, enc asm.ThunkEncoder, stubs []byte, stubAddr, dataAddr uintptr) {
	if len(stubs) < l.MappingSize {
		panic(fmt.Errorf("BUG: stub region of %d bytes is smaller than the mapping size %d", len(stubs), l.MappingSize))
	}
	buf := asm.NewBuffer(nil)
	for block := 0; block < l.BlocksPerMapping; block++ {
		for slot := 0; slot < l.ThunksPerBlock; slot++ {
			off := l.ThunkOffset(block, slot)
			buf.Reset(stubs[off : off+l.ThunkSize])
			enc.Encode(buf, asm.Thunk{
				Addr:         stubAddr + uintptr(off),
				Data:         dataAddr + uintptr(l.DataSlotOffset(block, slot)),
				Displacement: l.Displacement(slot),
			})
		}
	}
}

// TemplateImage returns a stub region encoded with a position independent
// encoder, assuming the data region follows it at MappingSize. The image can
// be mapped at any page aligned address.
func TemplateImage(l geometry.Layout) []byte {
	enc := Encoder(l.Arch, true)
	image := make([]byte, l.MappingSize)
	// Any base works; the encoding only depends on distances.
	const base = 0
	Fill(l, enc, image, base, base+uintptr(l.MappingSize))
	return image
}
