// Package fakevm is an in-process platform.VirtualMemory. Regions are backed
// by page aligned Go memory, so code written into them can be inspected and
// interpreted, while protections, W^X rules and failures are simulated.
package fakevm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"github.com/tetratelabs/thunkpool/internal/platform"
)

// Op names a VirtualMemory operation, for failure injection and counting.
type Op string

const (
	OpReserve               Op = "Reserve"
	OpCommit                Op = "Commit"
	OpProtect               Op = "Protect"
	OpFree                  Op = "Free"
	OpLoadModule            Op = "LoadModule"
	OpDuplicateFromTemplate Op = "DuplicateFromTemplate"
	OpFreeFromTemplate      Op = "FreeFromTemplate"
	OpMarkValidCallTargets  Op = "MarkValidCallTargets"
)

// ErrInjected is the error returned by operations scheduled to fail with FailOn.
var ErrInjected = errors.New("injected failure")

// ErrWX is returned when a protection change breaks the W^X rules of the
// simulated host.
var ErrWX = errors.New("W^X violation")

// region is a live allocation. execCapable is set when it was created
// executable; prot and committed are indexed by page.
type region struct {
	platform.Region
	mem         []byte
	prot        []platform.Protection
	committed   []bool
	execCapable bool
	clone       bool
}

// VM is a fake platform.VirtualMemory. The zero value is not usable; call New.
type VM struct {
	pageSize int
	policy   platform.Policy

	mu      sync.Mutex
	regions map[uintptr]*region
	modules []platform.Module
	calls   map[Op]int
	fail    map[Op]map[int]struct{}
	flushed []platform.Region
	jit     []bool
	marked  []platform.Region
	wx      int
}

var _ platform.VirtualMemory = (*VM)(nil)

// New returns a VM with the given page size and host policy.
func New(pageSize int, policy platform.Policy) *VM {
	return &VM{
		pageSize: pageSize,
		policy:   policy,
		regions:  map[uintptr]*region{},
		calls:    map[Op]int{},
		fail:     map[Op]map[int]struct{}{},
	}
}

// FailOn makes the nth (1-based) call of op fail with ErrInjected.
func (vm *VM) FailOn(op Op, nth int) *VM {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.fail[op] == nil {
		vm.fail[op] = map[int]struct{}{}
	}
	vm.fail[op][nth] = struct{}{}
	return vm
}

// call counts op and reports whether it was scheduled to fail.
// Must be called with mu held.
func (vm *VM) call(op Op) error {
	vm.calls[op]++
	if _, ok := vm.fail[op][vm.calls[op]]; ok {
		return fmt.Errorf("%s #%d: %w", op, vm.calls[op], ErrInjected)
	}
	return nil
}

// Calls returns how many times op was called.
func (vm *VM) Calls(op Op) int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.calls[op]
}

// Live returns the number of regions not yet released, module images
// excluded.
func (vm *VM) Live() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	n := 0
	for _, r := range vm.regions {
		if !vm.isModule(r.Addr) {
			n++
		}
	}
	return n
}

// Modules returns the modules loaded with LoadModule.
func (vm *VM) Modules() []platform.Module {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]platform.Module(nil), vm.modules...)
}

// Flushed returns every region passed to FlushInstructionCache, in order.
func (vm *VM) Flushed() []platform.Region {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]platform.Region(nil), vm.flushed...)
}

// JITWriteProtect returns every value passed to SetJITWriteProtect, in order.
func (vm *VM) JITWriteProtect() []bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]bool(nil), vm.jit...)
}

// Marked returns every stub region passed to MarkValidCallTargets, in order.
func (vm *VM) Marked() []platform.Region {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]platform.Region(nil), vm.marked...)
}

// WritableExecutable returns how many protection changes made pages writable
// and executable at once.
func (vm *VM) WritableExecutable() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.wx
}

// ProtectionAt returns the protection of the page containing addr.
func (vm *VM) ProtectionAt(addr uintptr) (platform.Protection, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	r := vm.find(addr)
	if r == nil {
		return platform.ProtNone, false
	}
	return r.prot[vm.page(r, addr)], true
}

// Load reads a little-endian value of size bytes at addr, failing unless the
// memory is mapped readable. It has the signature of thunkexec.Load.
func (vm *VM) Load(addr uintptr, size int) (uint64, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	r := vm.find(addr)
	if r == nil || !r.Contains(addr+uintptr(size)-1) {
		return 0, fmt.Errorf("load %#x: not mapped", addr)
	}
	if p := r.prot[vm.page(r, addr)]; p&platform.ProtRead == 0 || !r.committed[vm.page(r, addr)] {
		return 0, fmt.Errorf("load %#x: page is %s", addr, p)
	}
	off := addr - r.Addr
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(r.mem[off+uintptr(i)])
	}
	return v, nil
}

func (vm *VM) isModule(addr uintptr) bool {
	for _, m := range vm.modules {
		if m.Base == addr {
			return true
		}
	}
	return false
}

func (vm *VM) find(addr uintptr) *region {
	for _, r := range vm.regions {
		if r.Contains(addr) {
			return r
		}
	}
	return nil
}

func (vm *VM) page(r *region, addr uintptr) int {
	return int(addr-r.Addr) / vm.pageSize
}

// alloc returns a new region of size bytes, all pages set to prot.
func (vm *VM) alloc(size int, prot platform.Protection, committed bool) (*region, error) {
	if size <= 0 || size%vm.pageSize != 0 {
		return nil, fmt.Errorf("size %d is not a positive multiple of the page size %d", size, vm.pageSize)
	}
	buf := make([]byte, size+vm.pageSize)
	start := uintptr(unsafe.Pointer(&buf[0]))
	skip := int((uintptr(vm.pageSize) - start%uintptr(vm.pageSize)) % uintptr(vm.pageSize))
	mem := buf[skip : skip+size]
	r := &region{
		Region:      platform.Region{Addr: uintptr(unsafe.Pointer(&mem[0])), Size: size},
		mem:         mem,
		prot:        make([]platform.Protection, size/vm.pageSize),
		committed:   make([]bool, size/vm.pageSize),
		execCapable: prot&platform.ProtExec != 0,
	}
	for i := range r.prot {
		r.prot[i] = prot
		r.committed[i] = committed
	}
	vm.regions[r.Addr] = r
	return r, nil
}

// setProt validates a protection change of sub and applies it.
func (vm *VM) setProt(sub platform.Region, prot platform.Protection, commit bool) error {
	r := vm.find(sub.Addr)
	if r == nil || sub.Size <= 0 || !r.Contains(sub.End()-1) {
		return fmt.Errorf("%#x+%#x is not inside a reservation", sub.Addr, sub.Size)
	}
	if (sub.Addr-r.Addr)%uintptr(vm.pageSize) != 0 || sub.Size%vm.pageSize != 0 {
		return fmt.Errorf("%#x+%#x is not page aligned", sub.Addr, sub.Size)
	}
	if prot&platform.ProtExec != 0 && vm.policy.ExecAtCreation && !r.execCapable {
		return fmt.Errorf("adding %s to a mapping created without execute: %w", prot, ErrWX)
	}
	if prot&platform.ProtWrite != 0 && prot&platform.ProtExec != 0 {
		vm.wx++
	}
	first := vm.page(r, sub.Addr)
	for i := first; i < first+sub.Size/vm.pageSize; i++ {
		if !commit && !r.committed[i] {
			return fmt.Errorf("page %#x is not committed", r.Addr+uintptr(i*vm.pageSize))
		}
	}
	for i := first; i < first+sub.Size/vm.pageSize; i++ {
		r.prot[i] = prot
		r.committed[i] = true
	}
	return nil
}

// PageSize implements platform.VirtualMemory.PageSize.
func (vm *VM) PageSize() int {
	return vm.pageSize
}

// Policy implements platform.VirtualMemory.Policy.
func (vm *VM) Policy() platform.Policy {
	return vm.policy
}

// Reserve implements platform.VirtualMemory.Reserve.
func (vm *VM) Reserve(size int, prot platform.Protection) (platform.Region, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if err := vm.call(OpReserve); err != nil {
		return platform.Region{}, err
	}
	if prot&platform.ProtWrite != 0 && prot&platform.ProtExec != 0 {
		vm.wx++
	}
	r, err := vm.alloc(size, prot, prot != platform.ProtNone)
	if err != nil {
		return platform.Region{}, err
	}
	return r.Region, nil
}

// Commit implements platform.VirtualMemory.Commit.
func (vm *VM) Commit(sub platform.Region, prot platform.Protection) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if err := vm.call(OpCommit); err != nil {
		return err
	}
	return vm.setProt(sub, prot, true)
}

// Protect implements platform.VirtualMemory.Protect.
func (vm *VM) Protect(sub platform.Region, prot platform.Protection) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if err := vm.call(OpProtect); err != nil {
		return err
	}
	return vm.setProt(sub, prot, false)
}

// Free implements platform.VirtualMemory.Free.
func (vm *VM) Free(reservation platform.Region) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if err := vm.call(OpFree); err != nil {
		return err
	}
	return vm.release(reservation, false)
}

func (vm *VM) release(reservation platform.Region, clone bool) error {
	r, ok := vm.regions[reservation.Addr]
	if !ok || r.Size != reservation.Size || r.clone != clone || vm.isModule(r.Addr) {
		return fmt.Errorf("%#x+%#x is not a releasable region", reservation.Addr, reservation.Size)
	}
	delete(vm.regions, reservation.Addr)
	return nil
}

// FlushInstructionCache implements platform.VirtualMemory.FlushInstructionCache.
func (vm *VM) FlushInstructionCache(r platform.Region) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.flushed = append(vm.flushed, r)
}

// SetJITWriteProtect implements platform.VirtualMemory.SetJITWriteProtect.
func (vm *VM) SetJITWriteProtect(enabled bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.policy.JITWriteProtect != platform.JITToggleAvailable {
		panic("BUG: SetJITWriteProtect called on a platform that does not require it")
	}
	vm.jit = append(vm.jit, enabled)
}

// LoadModule implements platform.VirtualMemory.LoadModule.
func (vm *VM) LoadModule(image []byte, dataSize int) (platform.Module, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if err := vm.call(OpLoadModule); err != nil {
		return platform.Module{}, err
	}
	r, err := vm.alloc(len(image)+dataSize, platform.ProtReadExec, true)
	if err != nil {
		return platform.Module{}, err
	}
	copy(r.mem, image)
	if dataSize > 0 {
		if err = vm.setProt(r.Slice(len(image), dataSize), platform.ProtReadWrite, false); err != nil {
			return platform.Module{}, err
		}
	}
	m := platform.NewModule(uintptr(len(vm.modules)+1), r.Addr, len(image))
	vm.modules = append(vm.modules, m)
	return m, nil
}

// ModuleOf implements platform.VirtualMemory.ModuleOf.
func (vm *VM) ModuleOf(addr uintptr) (platform.Module, uintptr, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, m := range vm.modules {
		if addr >= m.Base && addr < m.Base+uintptr(m.Size) {
			return m, addr - m.Base, true
		}
	}
	return platform.Module{}, 0, false
}

// DuplicateFromTemplate implements platform.VirtualMemory.DuplicateFromTemplate.
func (vm *VM) DuplicateFromTemplate(m platform.Module, rva uintptr, size int) (platform.Region, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if err := vm.call(OpDuplicateFromTemplate); err != nil {
		return platform.Region{}, err
	}
	src, ok := vm.regions[m.Base]
	if !ok || !vm.isModule(m.Base) || int(rva)+size > m.Size {
		return platform.Region{}, fmt.Errorf("%#x+%#x is not inside module %#x", rva, size, m.Base)
	}
	r, err := vm.alloc(2*size, platform.ProtReadExec, true)
	if err != nil {
		return platform.Region{}, err
	}
	r.clone = true
	copy(r.mem, src.mem[rva:int(rva)+size])
	if err = vm.setProt(r.Slice(size, size), platform.ProtReadWrite, false); err != nil {
		return platform.Region{}, err
	}
	return r.Region, nil
}

// FreeFromTemplate implements platform.VirtualMemory.FreeFromTemplate.
func (vm *VM) FreeFromTemplate(r platform.Region) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if err := vm.call(OpFreeFromTemplate); err != nil {
		return err
	}
	return vm.release(r, true)
}

// MarkValidCallTargets implements platform.VirtualMemory.MarkValidCallTargets.
func (vm *VM) MarkValidCallTargets(stubs platform.Region, thunkSize, thunksPerBlock, blockSize, blocks int) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if err := vm.call(OpMarkValidCallTargets); err != nil {
		return err
	}
	if thunkSize*thunksPerBlock > blockSize || blockSize*blocks > stubs.Size {
		return fmt.Errorf("call targets overflow %#x+%#x", stubs.Addr, stubs.Size)
	}
	vm.marked = append(vm.marked, stubs)
	return nil
}

// Regions returns the live regions ordered by address, module images
// included.
func (vm *VM) Regions() []platform.Region {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	ret := make([]platform.Region, 0, len(vm.regions))
	for _, r := range vm.regions {
		ret = append(ret, r.Region)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Addr < ret[j].Addr })
	return ret
}
