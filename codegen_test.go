package thunkpool

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/thunkpool/internal/geometry"
	"github.com/tetratelabs/thunkpool/internal/platform"
	"github.com/tetratelabs/thunkpool/internal/testing/fakevm"
	"github.com/tetratelabs/thunkpool/internal/testing/hammer"
)

func TestCodeGen_AllocateThunkMapping(t *testing.T) {
	for _, tc := range []struct {
		arch     geometry.Arch
		pageSize int
		policy   platform.Policy
	}{
		{arch: geometry.ArchAMD64, pageSize: 0x1000, policy: unixPolicy},
		{arch: geometry.ArchAMD64, pageSize: 0x1000, policy: windowsPolicy},
		{arch: geometry.ArchARM64, pageSize: 0x4000, policy: darwinPolicy},
		{arch: geometry.ArchARM64, pageSize: 0x10000, policy: unixPolicy},
		{arch: geometry.ArchLoong64, pageSize: 0x4000, policy: unixPolicy},
		{arch: geometry.Arch386, pageSize: 0x1000, policy: windowsPolicy},
		{arch: geometry.ArchARM, pageSize: 0x1000, policy: unixPolicy},
	} {
		tc := tc
		t.Run(fmt.Sprintf("%s/%#x", tc.arch, tc.pageSize), func(t *testing.T) {
			if hostIs64 && tc.arch.PointerSize() == 4 {
				t.Skip("32-bit thunks cannot address 64-bit memory")
			}
			vm := fakevm.New(tc.pageSize, tc.policy)
			a := New(NewConfigCodeGen().WithMemory(vm).withArch(tc.arch))
			l := a.Geometry()
			require.Equal(t, tc.arch, l.Arch)
			require.Equal(t, tc.pageSize, l.PageSize)

			for id := 0; id < 2; id++ {
				m, err := a.AllocateThunkMapping()
				require.NoError(t, err)
				require.Equal(t, id, m.ID())
				require.Equal(t, m.StubAddr()+uintptr(l.MappingSize), m.DataAddr())
				require.Equal(t, m.DataAddr(), a.DataBlockAddress(m.StubAddr()+7))
				require.Equal(t, m.StubAddr(), a.StubBlockAddress(m.DataAddr()+uintptr(l.PageSize)-1))

				requireProtections(t, vm, m)
				requireThunksWork(t, l, m, vm.Load)
			}
			require.Equal(t, 2, a.Mappings())
			require.Len(t, vm.Flushed(), 2)
		})
	}
}

func TestCodeGen_FailureReleasesMapping(t *testing.T) {
	vm := fakevm.New(0x1000, unixPolicy).FailOn(fakevm.OpProtect, 1)
	a := New(NewConfigCodeGen().WithMemory(vm).withArch(geometry.ArchAMD64))

	m, err := a.AllocateThunkMapping()
	require.Nil(t, m)
	require.ErrorIs(t, err, ErrMapping)
	require.Zero(t, vm.Live())
	require.Zero(t, a.Mappings())

	// Failures are not sticky.
	m, err = a.AllocateThunkMapping()
	require.NoError(t, err)
	require.Zero(t, m.ID())
	require.Equal(t, 1, vm.Live())
}

func TestCodeGen_Fatal(t *testing.T) {
	t.Run("no encoder", func(t *testing.T) {
		require.PanicsWithError(t, "thunkpool: no thunk encoding for architecture unknown(0)", func() {
			New(NewConfigCodeGen().WithMemory(fakevm.New(0x1000, unixPolicy)).withArch(geometry.ArchUnknown))
		})
	})
	t.Run("jit write protection unavailable", func(t *testing.T) {
		vm := fakevm.New(0x4000, platform.Policy{ExecAtCreation: true, JITWriteProtect: platform.JITToggleUnavailable})
		require.Panics(t, func() {
			New(NewConfigCodeGen().WithMemory(vm).withArch(geometry.ArchARM64))
		})
	})
	t.Run("no instruction cache flush", func(t *testing.T) {
		vm := fakevm.New(0x1000, platform.Policy{ExecAtCreation: true, NoInstructionCacheFlush: true})
		require.Panics(t, func() {
			New(NewConfigCodeGen().WithMemory(vm).withArch(geometry.ArchARM))
		})
		require.Zero(t, vm.Calls(fakevm.OpReserve))
	})
}

func TestCodeGen_Concurrent(t *testing.T) {
	vm := fakevm.New(0x1000, unixPolicy)
	a := New(NewConfigCodeGen().WithMemory(vm).withArch(geometry.ArchAMD64))

	h := hammer.NewHammer(t, 8, 8)
	mappings := make([][]*Mapping, h.P)
	errs := make([][]error, h.P)
	h.Run(func(p, n int) {
		m, err := a.AllocateThunkMapping()
		mappings[p] = append(mappings[p], m)
		errs[p] = append(errs[p], err)
	})
	if t.Failed() {
		return
	}

	ids := map[int]struct{}{}
	stubs := map[uintptr]struct{}{}
	for p := range mappings {
		for i, m := range mappings[p] {
			require.NoError(t, errs[p][i])
			ids[m.ID()] = struct{}{}
			stubs[m.StubAddr()] = struct{}{}
		}
	}
	require.Len(t, ids, h.P*h.N)
	require.Len(t, stubs, h.P*h.N)
	require.Equal(t, h.P*h.N, a.Mappings())
	require.Equal(t, h.P*h.N, vm.Live())
}
