//go:build unix && !linux

package platform

// LoadModule implements VirtualMemory.LoadModule.
func (m *unixMemory) LoadModule([]byte, int) (Module, error) {
	return Module{}, ErrUnsupported
}

// DuplicateFromTemplate implements VirtualMemory.DuplicateFromTemplate.
func (m *unixMemory) DuplicateFromTemplate(Module, uintptr, int) (Region, error) {
	return Region{}, ErrUnsupported
}

// FreeFromTemplate implements VirtualMemory.FreeFromTemplate.
func (m *unixMemory) FreeFromTemplate(Region) error {
	return ErrUnsupported
}
