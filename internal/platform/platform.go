// Package platform is the virtual memory layer the thunk pool is built on.
//
// Everything the pool needs from the operating system goes through the
// VirtualMemory interface, so that allocation strategies can be exercised
// against an in-process fake and so that hosts with different W^X rules
// share one implementation of the protection state machine.
package platform

import (
	"errors"
	"unsafe"
)

// ErrUnsupported is returned by operations the host cannot perform.
var ErrUnsupported = errors.New("not supported on this platform")

// Protection is a set of page access rights.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec

	ProtNone          Protection = 0
	ProtReadWrite                = ProtRead | ProtWrite
	ProtReadExec                 = ProtRead | ProtExec
	ProtReadWriteExec            = ProtRead | ProtWrite | ProtExec
)

// String returns the protection in the "rwx" notation of /proc/self/maps.
func (p Protection) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Region is a page aligned range of virtual memory.
type Region struct {
	Addr uintptr
	Size int
}

// Slice returns the sub-region of size bytes starting at off.
func (r Region) Slice(off, size int) Region {
	if off < 0 || size < 0 || off+size > r.Size {
		panic("BUG: sub-region out of range")
	}
	return Region{Addr: r.Addr + uintptr(off), Size: size}
}

// End is the first address after the region.
func (r Region) End() uintptr {
	return r.Addr + uintptr(r.Size)
}

// Contains reports whether addr is inside the region.
func (r Region) Contains(addr uintptr) bool {
	return addr >= r.Addr && addr < r.End()
}

// Bytes returns the region as a byte slice. Accessing it is only valid while
// the region is mapped with suitable protection.
func (r Region) Bytes() []byte {
	if r.Size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(r.Addr)), r.Size)
}

// JITToggle tells whether the host brackets writes to executable memory with
// a per-thread write-protection switch.
type JITToggle uint8

const (
	// JITToggleNotRequired means executable memory is made writable with
	// ordinary protection changes.
	JITToggleNotRequired JITToggle = iota
	// JITToggleAvailable means SetJITWriteProtect must bracket code writes.
	JITToggleAvailable
	// JITToggleUnavailable means the host requires the toggle but this build
	// cannot reach it. Generating code is impossible.
	JITToggleUnavailable
)

// Policy describes the W^X rules of a host.
type Policy struct {
	// ExecAtCreation is set when execute permission can only be kept or
	// dropped, never added: memory that will hold code must be created
	// executable.
	ExecAtCreation bool
	// JITWriteProtect tells how code writes are bracketed.
	JITWriteProtect JITToggle
	// NoInstructionCacheFlush is set when this build cannot make code
	// written to memory visible to instruction fetch.
	NoInstructionCacheFlush bool
}

// Module is an executable image mapped by LoadModule, with its data region
// following it.
type Module struct {
	// Base is the address of the first byte of the image.
	Base uintptr
	// Size is the size of the image, excluding the data region.
	Size int

	handle uintptr
}

// Handle identifies the module to the VirtualMemory that loaded it.
func (m Module) Handle() uintptr {
	return m.handle
}

// NewModule returns a Module value. It is meant for VirtualMemory
// implementations outside this package.
func NewModule(handle, base uintptr, size int) Module {
	return Module{Base: base, Size: size, handle: handle}
}

// VirtualMemory is the set of virtual memory primitives the thunk pool
// consumes.
type VirtualMemory interface {
	// PageSize returns the granularity of protection changes.
	PageSize() int

	// Policy returns the W^X rules of the host.
	Policy() Policy

	// Reserve maps size bytes of anonymous memory. With ProtNone only
	// address space is reserved and sub-regions must be committed before
	// use.
	Reserve(size int, prot Protection) (Region, error)

	// Commit makes a sub-region of a reservation accessible with prot.
	Commit(r Region, prot Protection) error

	// Protect changes the protection of a sub-region of a reservation.
	Protect(r Region, prot Protection) error

	// Free releases a whole reservation returned by Reserve.
	Free(r Region) error

	// FlushInstructionCache makes code written to r visible to instruction
	// fetch on every core.
	FlushInstructionCache(r Region)

	// SetJITWriteProtect enables or disables write protection of JIT memory
	// for the calling thread. Only valid under JITToggleAvailable.
	SetJITWriteProtect(enabled bool)

	// LoadModule maps image as read+exec, followed by dataSize bytes of
	// read+write memory. The image is never writable once mapped.
	LoadModule(image []byte, dataSize int) (Module, error)

	// ModuleOf returns the module whose image contains addr and the offset
	// of addr from the module base.
	ModuleOf(addr uintptr) (m Module, rva uintptr, ok bool)

	// DuplicateFromTemplate maps size bytes of the module image at rva as
	// read+exec into a fresh region of 2*size bytes, whose second half is
	// read+write data.
	DuplicateFromTemplate(m Module, rva uintptr, size int) (Region, error)

	// FreeFromTemplate releases a region returned by DuplicateFromTemplate.
	FreeFromTemplate(r Region) error

	// MarkValidCallTargets registers every thunk of stubs as a valid
	// indirect call target with the host's control-flow integrity checks.
	MarkValidCallTargets(stubs Region, thunkSize, thunksPerBlock, blockSize, blocks int) error
}

// Native returns the VirtualMemory of the running process.
func Native() VirtualMemory {
	return native
}
