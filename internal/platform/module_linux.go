package platform

import (
	"fmt"
	"unsafe"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// LoadModule implements VirtualMemory.LoadModule.
//
// The image is written to a memfd and mapped from it read+exec, so no page
// of it is ever writable and executable at once. The same file backs every
// later DuplicateFromTemplate.
func (m *unixMemory) LoadModule(image []byte, dataSize int) (Module, error) {
	fd, err := unix.MemfdCreate("thunkpool-template", unix.MFD_CLOEXEC)
	if err != nil {
		return Module{}, fmt.Errorf("memfd_create: %w", err)
	}
	for written := 0; written < len(image); {
		n, err := unix.Write(fd, image[written:])
		if err != nil {
			_ = unix.Close(fd)
			return Module{}, fmt.Errorf("write template image: %w", err)
		}
		written += n
	}
	dual, err := mapImage(fd, 0, len(image), dataSize)
	if err != nil {
		_ = unix.Close(fd)
		return Module{}, err
	}
	mod := Module{Base: dual.Addr, Size: len(image), handle: uintptr(fd)}
	m.mu.Lock()
	m.modules = append(m.modules, mod)
	m.mu.Unlock()
	return mod, nil
}

// DuplicateFromTemplate implements VirtualMemory.DuplicateFromTemplate.
func (m *unixMemory) DuplicateFromTemplate(mod Module, rva uintptr, size int) (Region, error) {
	if int(rva)+size > mod.Size {
		return Region{}, fmt.Errorf("template %#x+%#x exceeds module of %#x bytes", rva, size, mod.Size)
	}
	return mapImage(int(mod.handle), int64(rva), size, size)
}

// FreeFromTemplate implements VirtualMemory.FreeFromTemplate.
func (m *unixMemory) FreeFromTemplate(r Region) error {
	return unix.MunmapPtr(unsafe.Pointer(r.Addr), uintptr(r.Size))
}

// mapImage maps size bytes of fd at offset as read+exec, followed by dataSize
// bytes of anonymous read+write memory.
func mapImage(fd int, offset int64, size, dataSize int) (Region, error) {
	total := uintptr(size + dataSize)
	base, err := unix.MmapPtr(-1, 0, nil, total, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return Region{}, fmt.Errorf("reserve %d bytes: %w", total, err)
	}
	dual := Region{Addr: uintptr(base), Size: int(total)}
	if _, err = unix.MmapPtr(fd, offset, base, uintptr(size),
		unix.PROT_READ|unix.PROT_EXEC, unix.MAP_SHARED|unix.MAP_FIXED); err != nil {
		err = fmt.Errorf("map template image: %w", err)
	} else if _, err = unix.MmapPtr(-1, 0, unsafe.Add(base, size), uintptr(dataSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_FIXED); err != nil {
		err = fmt.Errorf("map template data: %w", err)
	}
	if err != nil {
		return Region{}, multierr.Append(err, unix.MunmapPtr(base, total))
	}
	return dual, nil
}
