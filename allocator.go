package thunkpool

import (
	"fmt"

	"github.com/tetratelabs/thunkpool/internal/geometry"
	"github.com/tetratelabs/thunkpool/internal/platform"
)

// Allocator hands out thunk mappings. All methods are safe for concurrent
// use.
//
// Mappings are never released: the thunks of a mapping stay valid for the
// lifetime of the process.
type Allocator interface {
	// Geometry returns the layout of the mappings.
	Geometry() Geometry

	// AllocateThunkMapping returns a new mapping whose stubs are ready to
	// execute and whose data region is writable.
	//
	// A failed call leaves nothing allocated. The error wraps ErrMapping
	// when memory could not be set up, or is ErrExhausted.
	AllocateThunkMapping() (*Mapping, error)

	// DataBlockAddress returns the data block paired with the stub block
	// containing stub, which must be inside a mapping of this Allocator.
	DataBlockAddress(stub uintptr) uintptr

	// StubBlockAddress is the inverse of DataBlockAddress.
	StubBlockAddress(data uintptr) uintptr

	// Mappings returns how many mappings were handed out.
	Mappings() int
}

// New returns an Allocator configured by c, or by NewConfig when c is nil.
//
// This panics on configurations that can never work: an architecture without
// a thunk encoder, a page size inconsistent with the mapping size, a host
// whose JIT write protection or instruction cache flush cannot be reached,
// or a missing collaborator of the selected strategy.
func New(c *Config) Allocator {
	if c == nil {
		c = NewConfig()
	}
	vm := c.memory
	if vm == nil {
		vm = platform.Native()
	}
	var layout geometry.Layout
	if c.strategy == StrategyFixedPool && c.stubs != nil {
		layout = geometry.NewWithThunkSize(c.arch, c.stubs.ThunkSize(), vm.PageSize())
	} else {
		layout = geometry.New(c.arch, vm.PageSize())
	}
	switch c.strategy {
	case StrategyCodeGen:
		return newCodeGen(c, vm, layout)
	case StrategyFixedPool:
		return newFixedPool(c, vm, layout)
	case StrategyTemplate:
		return newTemplate(c, vm, layout)
	default:
		panic(fmt.Errorf("thunkpool: unknown strategy %s", c.strategy))
	}
}

// Mapping is a stub region and its data region, handed out together.
// Thunks are addressed by block and slot.
type Mapping struct {
	id     int
	layout geometry.Layout
	stubs  uintptr
	data   uintptr
}

// ID is the sequence number of the mapping within its Allocator, from zero.
func (m *Mapping) ID() int {
	return m.id
}

// StubAddr is the address of the first stub block.
func (m *Mapping) StubAddr() uintptr {
	return m.stubs
}

// DataAddr is the address of the first data block.
func (m *Mapping) DataAddr() uintptr {
	return m.data
}

// Thunk returns the thunk at slot of block.
func (m *Mapping) Thunk(block, slot int) Thunk {
	l := m.layout
	if block < 0 || block >= l.BlocksPerMapping || slot < 0 || slot >= l.ThunksPerBlock {
		panic(fmt.Errorf("thunkpool: thunk (%d, %d) is outside a mapping of %d blocks of %d thunks",
			block, slot, l.BlocksPerMapping, l.ThunksPerBlock))
	}
	return Thunk{
		Addr:           l.EntryPoint(m.stubs + uintptr(l.ThunkOffset(block, slot))),
		DataSlot:       m.data + uintptr(l.DataSlotOffset(block, slot)),
		DispatcherSlot: m.data + uintptr(l.DispatcherSlotOffset(block)),
	}
}

// Thunk are the addresses of one thunk.
type Thunk struct {
	// Addr is the entry point native code calls. On 32-bit ARM it has the
	// Thumb bit set, so it is one past the first byte of the code;
	// Geometry.CodeAddress strips it.
	Addr uintptr
	// DataSlot is the pointer pair loaded into the scratch register. The
	// first pointer is the caller supplied context.
	DataSlot uintptr
	// DispatcherSlot holds the jump target shared by the block.
	DispatcherSlot uintptr
}
