package thunkgen

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/thunkpool/internal/geometry"
	"github.com/tetratelabs/thunkpool/internal/testing/thunkexec"
)

// dispatcher is the value stored in the dispatcher slot of each block.
func dispatcher(block int) uint64 {
	return 0x0bad_0000 + uint64(block)*0x10
}

// fakeData returns a Load that serves the dispatcher slots of the data
// region at dataAddr and fails on any other address.
func fakeData(l geometry.Layout, dataAddr uintptr) thunkexec.Load {
	return func(addr uintptr, size int) (uint64, error) {
		if size != l.PointerSize {
			return 0, fmt.Errorf("load of %d bytes, want %d", size, l.PointerSize)
		}
		for block := 0; block < l.BlocksPerMapping; block++ {
			if addr == dataAddr+uintptr(l.DispatcherSlotOffset(block)) {
				return dispatcher(block), nil
			}
		}
		return 0, fmt.Errorf("load %#x is not a dispatcher slot", addr)
	}
}

func TestFill(t *testing.T) {
	for _, tc := range []struct {
		arch     geometry.Arch
		pageSize int
		pic      bool
	}{
		{arch: geometry.ArchAMD64, pageSize: 0x1000},
		{arch: geometry.ArchAMD64, pageSize: 0x1000, pic: true},
		{arch: geometry.Arch386, pageSize: 0x1000},
		{arch: geometry.ArchARM, pageSize: 0x1000},
		{arch: geometry.ArchARM64, pageSize: 0x1000, pic: true},
		{arch: geometry.ArchARM64, pageSize: 0x4000, pic: true},
		{arch: geometry.ArchARM64, pageSize: 0x10000, pic: true},
		{arch: geometry.ArchLoong64, pageSize: 0x4000, pic: true},
	} {
		tc := tc
		t.Run(fmt.Sprintf("%s/%#x/pic=%v", tc.arch, tc.pageSize, tc.pic), func(t *testing.T) {
			l := geometry.New(tc.arch, tc.pageSize)
			enc := Encoder(tc.arch, tc.pic)
			require.Equal(t, tc.pic, enc.PositionIndependent())

			const stubAddr = uintptr(0x1000_0000)
			dataAddr := stubAddr + uintptr(l.MappingSize)
			stubs := make([]byte, l.MappingSize)
			Fill(l, enc, stubs, stubAddr, dataAddr)

			load := fakeData(l, dataAddr)
			for block := 0; block < l.BlocksPerMapping; block++ {
				for slot := 0; slot < l.ThunksPerBlock; slot++ {
					off := l.ThunkOffset(block, slot)
					res, err := thunkexec.Run(tc.arch, stubs[off:off+l.ThunkSize], stubAddr+uintptr(off), load)
					require.NoError(t, err, "block %d slot %d", block, slot)
					require.Equal(t, dataAddr+uintptr(l.DataSlotOffset(block, slot)), res.Context, "block %d slot %d", block, slot)
					require.Equal(t, uintptr(dispatcher(block)), res.Target, "block %d slot %d", block, slot)
				}
				// Bytes after the last thunk of a block are untouched.
				tail := stubs[l.ThunkOffset(block, l.ThunksPerBlock):l.ThunkOffset(block+1, 0)]
				require.Equal(t, make([]byte, len(tail)), tail)
			}
		})
	}
}

func TestFill_SmallRegion(t *testing.T) {
	l := geometry.New(geometry.ArchAMD64, 0x1000)
	require.PanicsWithError(t, "BUG: stub region of 4096 bytes is smaller than the mapping size 32768", func() {
		Fill(l, Encoder(geometry.ArchAMD64, false), make([]byte, 0x1000), 0, 0)
	})
}

func TestEncoder(t *testing.T) {
	require.PanicsWithError(t, "thunkpool: no thunk encoder for architecture unknown(0)", func() {
		Encoder(geometry.ArchUnknown, false)
	})
	for _, arch := range []geometry.Arch{geometry.Arch386, geometry.ArchARM} {
		require.False(t, HasPositionIndependent(arch))
		require.PanicsWithError(t, "thunkpool: no position independent thunk encoder for architecture "+arch.String(), func() {
			Encoder(arch, true)
		})
	}
	for _, arch := range []geometry.Arch{geometry.ArchAMD64, geometry.ArchARM64, geometry.ArchLoong64} {
		require.True(t, HasPositionIndependent(arch))
		require.True(t, Encoder(arch, true).PositionIndependent())
	}
}

func TestTemplateImage(t *testing.T) {
	for _, arch := range []geometry.Arch{geometry.ArchAMD64, geometry.ArchARM64, geometry.ArchLoong64} {
		arch := arch
		t.Run(arch.String(), func(t *testing.T) {
			l := geometry.New(arch, 0x4000)
			image := TemplateImage(l)
			require.Equal(t, l.MappingSize, len(image))

			// The image behaves the same wherever it is mapped.
			for _, base := range []uintptr{0x2000_0000, 0x7654_0000} {
				dataAddr := base + uintptr(l.MappingSize)
				load := fakeData(l, dataAddr)
				block, slot := l.BlocksPerMapping-1, l.ThunksPerBlock-1
				off := l.ThunkOffset(block, slot)
				res, err := thunkexec.Run(arch, image[off:off+l.ThunkSize], base+uintptr(off), load)
				require.NoError(t, err)
				require.Equal(t, dataAddr+uintptr(l.DataSlotOffset(block, slot)), res.Context)
				require.Equal(t, uintptr(dispatcher(block)), res.Target)
			}
		})
	}
}

func TestTemplateImage_Deterministic(t *testing.T) {
	l := geometry.New(geometry.ArchARM64, 0x1000)
	first := TemplateImage(l)
	require.Equal(t, first, TemplateImage(l))
	// adr x16 of the first thunk points one mapping ahead.
	require.Equal(t, uint32(0x10040010), binary.LittleEndian.Uint32(first))
}
