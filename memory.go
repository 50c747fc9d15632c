package thunkpool

import "github.com/tetratelabs/thunkpool/internal/platform"

// VirtualMemory is the set of virtual memory primitives an Allocator is
// built on. NativeMemory returns the one of the running process.
type VirtualMemory = platform.VirtualMemory

type (
	Protection = platform.Protection
	Region     = platform.Region
	Policy     = platform.Policy
	Module     = platform.Module
)

// NativeMemory returns the VirtualMemory of the running process.
func NativeMemory() VirtualMemory {
	return platform.Native()
}
