//go:build unix

package platform

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var native = &unixMemory{reservations: map[uintptr][]byte{}}

// unixMemory maps memory with mmap. Reservations are remembered so Free
// can hand unix.Munmap the exact slice it returned.
type unixMemory struct {
	mu           sync.Mutex
	reservations map[uintptr][]byte
	modules      []Module
}

func unixProt(p Protection) int {
	prot := unix.PROT_NONE
	if p&ProtRead != 0 {
		prot |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	if p&ProtExec != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

// PageSize implements VirtualMemory.PageSize.
func (m *unixMemory) PageSize() int {
	return unix.Getpagesize()
}

// Policy implements VirtualMemory.Policy.
//
// Hardened kernels (SELinux execmem, PaX MPROTECT) refuse to add PROT_EXEC
// to a mapping created without it.
func (m *unixMemory) Policy() Policy {
	return Policy{
		ExecAtCreation:          true,
		JITWriteProtect:         jitToggle,
		NoInstructionCacheFlush: !canFlushInstructionCache,
	}
}

// Reserve implements VirtualMemory.Reserve.
func (m *unixMemory) Reserve(size int, prot Protection) (Region, error) {
	flags := unix.MAP_ANON | unix.MAP_PRIVATE
	if prot&ProtExec != 0 && mapJIT != 0 {
		// MAP_JIT memory is created RWX and write access is switched per
		// thread with SetJITWriteProtect.
		flags |= mapJIT
		prot = ProtReadWriteExec
	}
	b, err := unix.Mmap(-1, 0, size, unixProt(prot), flags)
	if err != nil {
		return Region{}, fmt.Errorf("mmap %d bytes %s: %w", size, prot, err)
	}
	r := Region{Addr: uintptr(unsafe.Pointer(&b[0])), Size: size}
	m.mu.Lock()
	m.reservations[r.Addr] = b
	m.mu.Unlock()
	return r, nil
}

// Commit implements VirtualMemory.Commit. Anonymous pages become resident on
// first touch, so committing only grants access.
func (m *unixMemory) Commit(r Region, prot Protection) error {
	return m.Protect(r, prot)
}

// Protect implements VirtualMemory.Protect.
func (m *unixMemory) Protect(r Region, prot Protection) error {
	if err := unix.Mprotect(r.Bytes(), unixProt(prot)); err != nil {
		return fmt.Errorf("mprotect %#x+%#x %s: %w", r.Addr, r.Size, prot, err)
	}
	return nil
}

// Free implements VirtualMemory.Free.
func (m *unixMemory) Free(r Region) error {
	m.mu.Lock()
	b, ok := m.reservations[r.Addr]
	delete(m.reservations, r.Addr)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("free %#x: not a reservation", r.Addr)
	}
	return unix.Munmap(b)
}

// FlushInstructionCache implements VirtualMemory.FlushInstructionCache.
func (m *unixMemory) FlushInstructionCache(r Region) {
	flushInstructionCache(r.Addr, uintptr(r.Size))
}

// SetJITWriteProtect implements VirtualMemory.SetJITWriteProtect.
func (m *unixMemory) SetJITWriteProtect(enabled bool) {
	setJITWriteProtect(enabled)
}

// MarkValidCallTargets implements VirtualMemory.MarkValidCallTargets.
// Unix hosts have no call target registry, so every thunk already is one.
func (m *unixMemory) MarkValidCallTargets(Region, int, int, int, int) error {
	return nil
}

// ModuleOf implements VirtualMemory.ModuleOf.
func (m *unixMemory) ModuleOf(addr uintptr) (Module, uintptr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mod := range m.modules {
		if addr >= mod.Base && addr < mod.Base+uintptr(mod.Size) {
			return mod, addr - mod.Base, true
		}
	}
	return Module{}, 0, false
}
