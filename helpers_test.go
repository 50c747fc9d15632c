package thunkpool

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/thunkpool/internal/geometry"
	"github.com/tetratelabs/thunkpool/internal/platform"
	"github.com/tetratelabs/thunkpool/internal/testing/fakevm"
	"github.com/tetratelabs/thunkpool/internal/testing/thunkexec"
)

var (
	// unixPolicy forbids adding execute permission, like SELinux execmem.
	unixPolicy = platform.Policy{ExecAtCreation: true}
	// windowsPolicy lets read+write memory become executable.
	windowsPolicy = platform.Policy{}
	// darwinPolicy brackets code writes with the JIT write protection toggle.
	darwinPolicy = platform.Policy{ExecAtCreation: true, JITWriteProtect: platform.JITToggleAvailable}
)

// hostIs64 is set when fake memory addresses may not fit 32-bit encodings.
const hostIs64 = unsafe.Sizeof(uintptr(0)) == 8

// store writes the little-endian value v of size bytes at addr.
func store(addr uintptr, size int, v uint64) {
	b := platform.Region{Addr: addr, Size: size}.Bytes()
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
}

// requireThunksWork wires every thunk of m with a distinct context and
// dispatcher per block, then interprets each one.
func requireThunksWork(t *testing.T, l geometry.Layout, m *Mapping, load thunkexec.Load) {
	for block := 0; block < l.BlocksPerMapping; block++ {
		dispatcher := uint64(0x0d15_0000 + block*0x100)
		store(m.Thunk(block, 0).DispatcherSlot, l.PointerSize, dispatcher)
		for slot := 0; slot < l.ThunksPerBlock; slot++ {
			th := m.Thunk(block, slot)
			store(th.DataSlot, l.PointerSize, uint64(0xc0_0000+slot))

			addr := l.CodeAddress(th.Addr)
			code := platform.Region{Addr: addr, Size: l.ThunkSize}.Bytes()
			res, err := thunkexec.Run(l.Arch, code, addr, load)
			require.NoError(t, err, "block %d slot %d", block, slot)
			require.Equal(t, th.DataSlot, res.Context, "block %d slot %d", block, slot)
			require.Equal(t, uintptr(dispatcher), res.Target, "block %d slot %d", block, slot)

			ctx, err := load(res.Context, l.PointerSize)
			require.NoError(t, err)
			require.Equal(t, uint64(0xc0_0000+slot), ctx)
		}
	}
}

// requireProtections asserts the final state of a mapping: stubs read+exec,
// data read+write.
func requireProtections(t *testing.T, vm *fakevm.VM, m *Mapping) {
	l := m.layout
	for block := 0; block < l.BlocksPerMapping; block++ {
		off := uintptr(block * l.PageSize)
		p, ok := vm.ProtectionAt(m.StubAddr() + off)
		require.True(t, ok)
		require.Equal(t, platform.ProtReadExec, p, "stub block %d", block)
		p, ok = vm.ProtectionAt(m.DataAddr() + off)
		require.True(t, ok)
		require.Equal(t, platform.ProtReadWrite, p, "data block %d", block)
	}
}
