// Package geometry computes how thunks are laid out in memory.
//
// A mapping is a stub region followed by a data region of the same size
// (MappingSize). Each region is split into blocks of one page. Thunk i of a
// stub block uses the pointer pair i of the paired data block, and the last
// pointer of every data block holds the dispatcher target shared by all
// thunks of the block.
package geometry

import (
	"fmt"
	"math/bits"
	"os"
	"runtime"
	"unsafe"
)

// MinMappingSize is the smallest size of either half of a mapping.
const MinMappingSize = 0x8000

// Layout holds the geometry constants for an architecture and page size.
// Values are immutable once returned by New.
type Layout struct {
	Arch             Arch
	PageSize         int
	PointerSize      int
	ThunkSize        int
	ThunksPerBlock   int
	BlocksPerMapping int
	MappingSize      int
}

// New returns the Layout of arch on a host with the given page size.
//
// This panics when the combination cannot be laid out: an unknown
// architecture, or a page size that is not a power of two dividing the
// mapping size. Both indicate a build or platform mismatch.
func New(arch Arch, pageSize int) Layout {
	thunkSize := arch.ThunkSize()
	if thunkSize == 0 {
		panic(fmt.Errorf("thunkpool: no thunk encoding for architecture %s", arch))
	}
	return NewWithThunkSize(arch, thunkSize, pageSize)
}

// NewWithThunkSize is like New, but takes the thunk size from precompiled
// stubs instead of the encoder of arch, so it also works for ArchUnknown.
// Pointers are native sized when arch is unknown.
func NewWithThunkSize(arch Arch, thunkSize, pageSize int) Layout {
	if thunkSize <= 0 || thunkSize%4 != 0 {
		panic(fmt.Errorf("thunkpool: thunk size %d of %s is not a positive multiple of 4", thunkSize, arch))
	}
	if pageSize <= 0 || bits.OnesCount(uint(pageSize)) != 1 {
		panic(fmt.Errorf("thunkpool: invalid page size %d", pageSize))
	}
	mappingSize := MinMappingSize
	if pageSize > mappingSize {
		mappingSize = pageSize
	}
	if mappingSize%pageSize != 0 {
		panic(fmt.Errorf("thunkpool: mapping size %#x is not a multiple of page size %#x", mappingSize, pageSize))
	}
	ptr := arch.PointerSize()
	if ptr == 0 {
		ptr = int(unsafe.Sizeof(uintptr(0)))
	}
	perBlock := pageSize / thunkSize
	// The last pointer of the data page is the dispatcher slot.
	if pairs := (pageSize - ptr) / (2 * ptr); pairs < perBlock {
		perBlock = pairs
	}
	return Layout{
		Arch:             arch,
		PageSize:         pageSize,
		PointerSize:      ptr,
		ThunkSize:        thunkSize,
		ThunksPerBlock:   perBlock,
		BlocksPerMapping: mappingSize / pageSize,
		MappingSize:      mappingSize,
	}
}

// Native returns the Layout of the running process.
func Native() Layout {
	return New(ParseArch(runtime.GOARCH), os.Getpagesize())
}

// BlockSize is the size of a stub block, which equals a data block.
func (l Layout) BlockSize() int {
	return l.PageSize
}

// ThunksPerMapping is the number of usable thunks in a whole mapping.
func (l Layout) ThunksPerMapping() int {
	return l.ThunksPerBlock * l.BlocksPerMapping
}

func (l Layout) pageMask() uintptr {
	return ^uintptr(l.PageSize - 1)
}

// DataBlockAddress returns the data block paired with the stub block
// containing stub.
func (l Layout) DataBlockAddress(stub uintptr) uintptr {
	return (stub & l.pageMask()) + uintptr(l.MappingSize)
}

// StubBlockAddress returns the stub block paired with the data block
// containing data.
func (l Layout) StubBlockAddress(data uintptr) uintptr {
	return (data & l.pageMask()) - uintptr(l.MappingSize)
}

// EntryPoint returns the address native code calls for the thunk whose code
// starts at code. On ArchARM this sets the Thumb bit, so that BLX switches to
// Thumb state; elsewhere it is code itself.
func (l Layout) EntryPoint(code uintptr) uintptr {
	if l.Arch == ArchARM {
		return code | 1
	}
	return code
}

// CodeAddress is the inverse of EntryPoint.
func (l Layout) CodeAddress(entry uintptr) uintptr {
	if l.Arch == ArchARM {
		return entry &^ 1
	}
	return entry
}

// ThunkOffset is the offset of a thunk from the start of the stub region.
func (l Layout) ThunkOffset(block, slot int) int {
	return block*l.PageSize + slot*l.ThunkSize
}

// DataSlotOffset is the offset of a thunk's data pair from the start of the
// data region.
func (l Layout) DataSlotOffset(block, slot int) int {
	return block*l.PageSize + slot*2*l.PointerSize
}

// DispatcherSlotOffset is the offset of a block's dispatcher slot from the
// start of the data region.
func (l Layout) DispatcherSlotOffset(block int) int {
	return block*l.PageSize + l.PageSize - l.PointerSize
}

// Displacement is the distance from the data pair of slot to the dispatcher
// slot of the same block.
func (l Layout) Displacement(slot int) uint32 {
	return uint32(l.PageSize - l.PointerSize - slot*2*l.PointerSize)
}
