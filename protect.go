package thunkpool

import (
	"fmt"
	"runtime"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tetratelabs/thunkpool/internal/geometry"
	"github.com/tetratelabs/thunkpool/internal/platform"
)

// fillFunc writes the code of a stub region through its writable view.
type fillFunc func(stubs []byte, stubAddr, dataAddr uintptr)

// mapDualRegion reserves a stub region followed by its data region and drives
// it to the final protections: stubs read+exec, data read+write. When fill is
// set, it is called while the stub region is writable, and the instruction
// cache is flushed afterwards.
//
// Hosts that refuse to add execute permission get the whole region mapped
// read+exec up front. The data half is then made writable, and the stub half
// is writable only while fill runs. Other hosts map everything read+write
// and make the stubs executable last.
//
// On failure every byte reserved is released, and the error wraps ErrMapping.
func mapDualRegion(vm platform.VirtualMemory, l geometry.Layout, logger *zap.Logger, fill fillFunc) (platform.Region, error) {
	policy := vm.Policy()
	initial := platform.ProtReadWrite
	if policy.ExecAtCreation {
		initial = platform.ProtReadExec
	}
	dual, err := vm.Reserve(2*l.MappingSize, initial)
	if err != nil {
		return platform.Region{}, fmt.Errorf("%w: reserve: %w", ErrMapping, err)
	}
	stubs, data := dual.Slice(0, l.MappingSize), dual.Slice(l.MappingSize, l.MappingSize)

	step, err := protectDualRegion(vm, policy, stubs, data, fill)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrMapping, step, err)
		logger.Warn("releasing thunk mapping after failed setup",
			zap.Uintptr("stubs", stubs.Addr), zap.String("step", step), zap.Error(err))
		return platform.Region{}, multierr.Append(err, vm.Free(dual))
	}
	if fill != nil {
		vm.FlushInstructionCache(stubs)
	}
	return dual, nil
}

// protectDualRegion runs the protection transitions of mapDualRegion after
// the reservation. It returns the name of the failed step.
func protectDualRegion(vm platform.VirtualMemory, policy platform.Policy, stubs, data platform.Region, fill fillFunc) (string, error) {
	if !policy.ExecAtCreation {
		if fill != nil {
			fill(stubs.Bytes(), stubs.Addr, data.Addr)
		}
		if err := vm.Protect(stubs, platform.ProtReadExec); err != nil {
			return "protect stubs " + platform.ProtReadExec.String(), err
		}
		return "", nil
	}

	if err := vm.Protect(data, platform.ProtReadWrite); err != nil {
		return "protect data " + platform.ProtReadWrite.String(), err
	}
	if fill == nil {
		return "", nil
	}
	if policy.JITWriteProtect == platform.JITToggleAvailable {
		// The toggle is per thread.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		vm.SetJITWriteProtect(false)
		fill(stubs.Bytes(), stubs.Addr, data.Addr)
		vm.SetJITWriteProtect(true)
		return "", nil
	}
	if err := vm.Protect(stubs, platform.ProtReadWriteExec); err != nil {
		return "protect stubs " + platform.ProtReadWriteExec.String(), err
	}
	fill(stubs.Bytes(), stubs.Addr, data.Addr)
	if err := vm.Protect(stubs, platform.ProtReadExec); err != nil {
		return "protect stubs " + platform.ProtReadExec.String(), err
	}
	return "", nil
}

// checkCodeWritable panics when the host cannot run code this build writes:
// its JIT write protection toggle or its instruction cache flush is out of
// reach.
func checkCodeWritable(vm platform.VirtualMemory) {
	policy := vm.Policy()
	if policy.JITWriteProtect == platform.JITToggleUnavailable {
		panic(fmt.Errorf("thunkpool: %s/%s requires JIT write protection, which this build cannot use",
			runtime.GOOS, runtime.GOARCH))
	}
	if policy.NoInstructionCacheFlush {
		panic(fmt.Errorf("thunkpool: %s/%s cannot flush the instruction cache",
			runtime.GOOS, runtime.GOARCH))
	}
}
