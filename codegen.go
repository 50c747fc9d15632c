package thunkpool

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tetratelabs/thunkpool/internal/asm"
	"github.com/tetratelabs/thunkpool/internal/geometry"
	"github.com/tetratelabs/thunkpool/internal/platform"
	"github.com/tetratelabs/thunkpool/internal/thunkgen"
)

// codeGen implements StrategyCodeGen: every mapping is a fresh dual region
// whose stubs are encoded in place.
type codeGen struct {
	vm     platform.VirtualMemory
	layout geometry.Layout
	enc    asm.ThunkEncoder
	logger *zap.Logger

	mappings atomic.Int64
}

func newCodeGen(c *Config, vm platform.VirtualMemory, l geometry.Layout) *codeGen {
	checkCodeWritable(vm)
	return &codeGen{
		vm:     vm,
		layout: l,
		enc:    thunkgen.Encoder(l.Arch, false),
		logger: c.logger,
	}
}

// Geometry implements Allocator.Geometry.
func (a *codeGen) Geometry() Geometry {
	return a.layout
}

// AllocateThunkMapping implements Allocator.AllocateThunkMapping.
func (a *codeGen) AllocateThunkMapping() (*Mapping, error) {
	dual, err := mapDualRegion(a.vm, a.layout, a.logger, func(stubs []byte, stubAddr, dataAddr uintptr) {
		thunkgen.Fill(a.layout, a.enc, stubs, stubAddr, dataAddr)
	})
	if err != nil {
		return nil, err
	}
	m := &Mapping{
		id:     int(a.mappings.Inc() - 1),
		layout: a.layout,
		stubs:  dual.Addr,
		data:   dual.Addr + uintptr(a.layout.MappingSize),
	}
	a.logger.Debug("generated thunk mapping",
		zap.Int("id", m.id), zap.Uintptr("stubs", m.stubs), zap.Uintptr("data", m.data))
	return m, nil
}

// DataBlockAddress implements Allocator.DataBlockAddress.
func (a *codeGen) DataBlockAddress(stub uintptr) uintptr {
	return a.layout.DataBlockAddress(stub)
}

// StubBlockAddress implements Allocator.StubBlockAddress.
func (a *codeGen) StubBlockAddress(data uintptr) uintptr {
	return a.layout.StubBlockAddress(data)
}

// Mappings implements Allocator.Mappings.
func (a *codeGen) Mappings() int {
	return int(a.mappings.Load())
}
