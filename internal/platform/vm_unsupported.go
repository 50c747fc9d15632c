//go:build !(unix || windows)

package platform

var native VirtualMemory = unsupportedMemory{}

// unsupportedMemory fails every allocation.
type unsupportedMemory struct{}

func (unsupportedMemory) PageSize() int  { return 1 << 16 }
func (unsupportedMemory) Policy() Policy { return Policy{} }

func (unsupportedMemory) Reserve(int, Protection) (Region, error) { return Region{}, ErrUnsupported }
func (unsupportedMemory) Commit(Region, Protection) error         { return ErrUnsupported }
func (unsupportedMemory) Protect(Region, Protection) error        { return ErrUnsupported }
func (unsupportedMemory) Free(Region) error                       { return ErrUnsupported }
func (unsupportedMemory) FlushInstructionCache(Region)            {}
func (unsupportedMemory) SetJITWriteProtect(bool)                 {}

func (unsupportedMemory) LoadModule([]byte, int) (Module, error) { return Module{}, ErrUnsupported }
func (unsupportedMemory) ModuleOf(uintptr) (Module, uintptr, bool) {
	return Module{}, 0, false
}

func (unsupportedMemory) DuplicateFromTemplate(Module, uintptr, int) (Region, error) {
	return Region{}, ErrUnsupported
}
func (unsupportedMemory) FreeFromTemplate(Region) error { return ErrUnsupported }
func (unsupportedMemory) MarkValidCallTargets(Region, int, int, int, int) error {
	return ErrUnsupported
}
