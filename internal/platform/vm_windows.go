package platform

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var native = &windowsMemory{}

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

// windowsMemory maps memory with VirtualAlloc. Windows lets execute
// permission be added to committed pages, so code is written to read+write
// memory and sealed afterwards.
type windowsMemory struct{}

func windowsProt(p Protection) uint32 {
	switch p {
	case ProtNone:
		return windows.PAGE_NOACCESS
	case ProtRead:
		return windows.PAGE_READONLY
	case ProtReadWrite, ProtWrite:
		return windows.PAGE_READWRITE
	case ProtExec:
		return windows.PAGE_EXECUTE
	case ProtReadExec:
		return windows.PAGE_EXECUTE_READ
	default:
		return windows.PAGE_EXECUTE_READWRITE
	}
}

// PageSize implements VirtualMemory.PageSize.
func (m *windowsMemory) PageSize() int {
	return windows.Getpagesize()
}

// Policy implements VirtualMemory.Policy.
func (m *windowsMemory) Policy() Policy {
	return Policy{ExecAtCreation: false, JITWriteProtect: JITToggleNotRequired}
}

// Reserve implements VirtualMemory.Reserve.
func (m *windowsMemory) Reserve(size int, prot Protection) (Region, error) {
	allocType := uint32(windows.MEM_RESERVE)
	if prot != ProtNone {
		allocType |= windows.MEM_COMMIT
	}
	addr, err := windows.VirtualAlloc(0, uintptr(size), allocType, windowsProt(prot))
	if err != nil {
		return Region{}, fmt.Errorf("VirtualAlloc %d bytes %s: %w", size, prot, err)
	}
	return Region{Addr: addr, Size: size}, nil
}

// Commit implements VirtualMemory.Commit.
func (m *windowsMemory) Commit(r Region, prot Protection) error {
	if _, err := windows.VirtualAlloc(r.Addr, uintptr(r.Size), windows.MEM_COMMIT, windowsProt(prot)); err != nil {
		return fmt.Errorf("commit %#x+%#x %s: %w", r.Addr, r.Size, prot, err)
	}
	return nil
}

// Protect implements VirtualMemory.Protect.
func (m *windowsMemory) Protect(r Region, prot Protection) error {
	var old uint32
	if err := windows.VirtualProtect(r.Addr, uintptr(r.Size), windowsProt(prot), &old); err != nil {
		return fmt.Errorf("VirtualProtect %#x+%#x %s: %w", r.Addr, r.Size, prot, err)
	}
	return nil
}

// Free implements VirtualMemory.Free.
func (m *windowsMemory) Free(r Region) error {
	return windows.VirtualFree(r.Addr, 0, windows.MEM_RELEASE)
}

// FlushInstructionCache implements VirtualMemory.FlushInstructionCache.
func (m *windowsMemory) FlushInstructionCache(r Region) {
	process, _ := windows.GetCurrentProcess()
	_, _, _ = procFlushInstructionCache.Call(uintptr(process), r.Addr, uintptr(r.Size))
}

// SetJITWriteProtect implements VirtualMemory.SetJITWriteProtect.
func (m *windowsMemory) SetJITWriteProtect(bool) {
	panic("BUG: SetJITWriteProtect called on a platform that does not require it")
}

// LoadModule implements VirtualMemory.LoadModule.
//
// TODO: map the template image as a section object (CreateFileMapping with
// SEC_IMAGE) so DuplicateFromTemplate can use MapViewOfFile3.
func (m *windowsMemory) LoadModule([]byte, int) (Module, error) {
	return Module{}, ErrUnsupported
}

// ModuleOf implements VirtualMemory.ModuleOf.
func (m *windowsMemory) ModuleOf(uintptr) (Module, uintptr, bool) {
	return Module{}, 0, false
}

// DuplicateFromTemplate implements VirtualMemory.DuplicateFromTemplate.
func (m *windowsMemory) DuplicateFromTemplate(Module, uintptr, int) (Region, error) {
	return Region{}, ErrUnsupported
}

// FreeFromTemplate implements VirtualMemory.FreeFromTemplate.
func (m *windowsMemory) FreeFromTemplate(Region) error {
	return ErrUnsupported
}

// MarkValidCallTargets implements VirtualMemory.MarkValidCallTargets.
//
// Control Flow Guard registration needs SetProcessValidCallTargets, which
// only applies to processes built with /guard:cf. Go binaries are not, so
// every address is already a valid target.
func (m *windowsMemory) MarkValidCallTargets(Region, int, int, int, int) error {
	return nil
}
