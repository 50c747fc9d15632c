//go:build amd64 || arm64 || loong64 || ppc64le || riscv64 || s390x

package asm_arm64

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twitchyliquid64/golang-asm/obj/arm64"

	"github.com/tetratelabs/thunkpool/internal/asm"
	"github.com/tetratelabs/thunkpool/internal/asm/golang_asm"
)

var thunk3 = asm.Thunk{
	Addr:         0x7f12_3456_0000 + 3*ThunkSize,
	Data:         0x7f12_3456_8000 + 3*16,
	Displacement: 0x1000 - 8 - 3*16,
}

func encode(th asm.Thunk) []byte {
	code := make([]byte, ThunkSize)
	PCRelative.Encode(asm.NewBuffer(code), th)
	return code
}

func TestPCRelative_Encode(t *testing.T) {
	require.Equal(t, ThunkSize, PCRelative.Size())
	require.True(t, PCRelative.PositionIndependent())
	require.Equal(t,
		"10000410"+ // adr x16, #0x8000
			"11e647f9"+ // ldr x17, [x16, #0xfc8]
			"20021fd6"+ // br x17
			"00003ed4", // brk #0xf000
		hex.EncodeToString(encode(thunk3)))

	moved := thunk3
	moved.Addr -= 0x4000_0000
	moved.Data -= 0x4000_0000
	require.Equal(t, encode(thunk3), encode(moved))
}

func TestPCRelative_Encode64KPages(t *testing.T) {
	th := asm.Thunk{
		Addr:         0x7f12_3456_0000,
		Data:         0x7f12_3457_0000,
		Displacement: 0x10000 - 8,
	}
	require.Equal(t,
		"10000810"+ // adr x16, #0x10000
			"b1ff0f10"+ // adr x17, #0x1fff4
			"310240f9"+ // ldr x17, [x17]
			"20021fd6", // br x17
		hex.EncodeToString(encode(th)))
}

func TestInstructions(t *testing.T) {
	for _, tc := range []struct {
		inst instruction
		want string
	}{
		{inst: adr{rd: 0, offset: 1}, want: "00000030"},
		{inst: adr{rd: regIP0, offset: -4}, want: "f0ffff10"},
		{inst: adr{rd: regIP0, offset: 0x8000}, want: "10000410"},
		{inst: ldrUnsignedOffset{rt: regIP1, rn: regIP0}, want: "110240f9"},
		{inst: ldrUnsignedOffset{rt: 0, rn: 1, offset: 0x7ff8}, want: "20fc7ff9"},
		{inst: br{rn: regIP1}, want: "20021fd6"},
		{inst: brk{imm: 0xf000}, want: "00003ed4"},
	} {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], tc.inst.encode())
		require.Equal(t, tc.want, hex.EncodeToString(b[:]))
	}

	require.Panics(t, func() { adr{offset: 1 << 20}.encode() })
	require.Panics(t, func() { ldrUnsignedOffset{offset: 4}.encode() })
	require.Panics(t, func() { ldrUnsignedOffset{offset: 0x8000}.encode() })
}

// TestPCRelative_GolangAsm cross-checks the load and the branch with the Go
// assembler. ADR needs a branch target in golang-asm so it is only covered
// by the hex tables.
func TestPCRelative_GolangAsm(t *testing.T) {
	a, err := golang_asm.NewAssembler("arm64")
	require.NoError(t, err)
	a.MemoryToRegister(arm64.AMOVD, arm64.REG_R16, int64(thunk3.Displacement), arm64.REG_R17)
	a.JumpToMemory(arm64.REG_R17, 0)

	// The assembler may pad the function to its alignment.
	require.Equal(t, encode(thunk3)[4:12], a.Assemble()[:8])
}
