package thunkpool

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tetratelabs/thunkpool/internal/geometry"
	"github.com/tetratelabs/thunkpool/internal/platform"
	"github.com/tetratelabs/thunkpool/internal/thunkgen"
)

// template implements StrategyTemplate. The template is a stub region of
// position independent thunks inside a module, followed by its data region.
// It is handed out once as is, then cloned for every later mapping.
type template struct {
	vm      platform.VirtualMemory
	layout  geometry.Layout
	logger  *zap.Logger
	address uintptr

	// mu guards loading the template, which happens once.
	mu       sync.Mutex
	base     atomic.Uintptr
	consumed atomic.Bool
	mappings atomic.Int64
}

func newTemplate(c *Config, vm platform.VirtualMemory, l geometry.Layout) *template {
	if !thunkgen.HasPositionIndependent(l.Arch) {
		panic(fmt.Errorf("thunkpool: strategy %s needs position independent thunks, which %s lacks", StrategyTemplate, l.Arch))
	}
	if c.templateAddress%uintptr(l.PageSize) != 0 {
		panic(fmt.Errorf("thunkpool: template at %#x is not page aligned", c.templateAddress))
	}
	return &template{vm: vm, layout: l, logger: c.logger, address: c.templateAddress}
}

// Geometry implements Allocator.Geometry.
func (a *template) Geometry() Geometry {
	return a.layout
}

// templateBase returns the stub address of the template, loading it on first
// use. A failed load is retried by the next call.
func (a *template) templateBase() (uintptr, error) {
	if base := a.base.Load(); base != 0 {
		return base, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if base := a.base.Load(); base != 0 {
		return base, nil
	}
	base := a.address
	if base == 0 {
		mod, err := a.vm.LoadModule(thunkgen.TemplateImage(a.layout), a.layout.MappingSize)
		if err != nil {
			return 0, fmt.Errorf("%w: load template: %w", ErrMapping, err)
		}
		base = mod.Base
		a.logger.Debug("loaded thunk template", zap.Uintptr("stubs", base))
	}
	a.base.Store(base)
	return base, nil
}

// AllocateThunkMapping implements Allocator.AllocateThunkMapping.
func (a *template) AllocateThunkMapping() (*Mapping, error) {
	base, err := a.templateBase()
	if err != nil {
		return nil, err
	}
	stubSize := a.layout.MappingSize

	if a.consumed.CompareAndSwap(false, true) {
		if err = a.markValidCallTargets(base); err != nil {
			// The template stays mapped: it belongs to its module.
			return nil, err
		}
		return a.newMapping(base), nil
	}

	mod, rva, ok := a.vm.ModuleOf(base)
	if !ok {
		return nil, fmt.Errorf("%w: template %#x is not inside a module", ErrMapping, base)
	}
	clone, err := a.vm.DuplicateFromTemplate(mod, rva, stubSize)
	if err != nil {
		return nil, fmt.Errorf("%w: duplicate template: %w", ErrMapping, err)
	}
	if err = a.markValidCallTargets(clone.Addr); err != nil {
		a.logger.Warn("releasing thunk template clone", zap.Uintptr("stubs", clone.Addr), zap.Error(err))
		return nil, multierr.Append(err, a.vm.FreeFromTemplate(clone))
	}
	return a.newMapping(clone.Addr), nil
}

func (a *template) markValidCallTargets(stubs uintptr) error {
	l := a.layout
	r := platform.Region{Addr: stubs, Size: l.MappingSize}
	if err := a.vm.MarkValidCallTargets(r, l.ThunkSize, l.ThunksPerBlock, l.BlockSize(), l.BlocksPerMapping); err != nil {
		return fmt.Errorf("%w: mark call targets: %w", ErrMapping, err)
	}
	return nil
}

func (a *template) newMapping(stubs uintptr) *Mapping {
	m := &Mapping{
		id:     int(a.mappings.Inc() - 1),
		layout: a.layout,
		stubs:  stubs,
		data:   a.layout.DataBlockAddress(stubs),
	}
	a.logger.Debug("mapped thunk template",
		zap.Int("id", m.id), zap.Uintptr("stubs", m.stubs), zap.Uintptr("data", m.data))
	return m
}

// DataBlockAddress implements Allocator.DataBlockAddress.
func (a *template) DataBlockAddress(stub uintptr) uintptr {
	return a.layout.DataBlockAddress(stub)
}

// StubBlockAddress implements Allocator.StubBlockAddress.
func (a *template) StubBlockAddress(data uintptr) uintptr {
	return a.layout.StubBlockAddress(data)
}

// Mappings implements Allocator.Mappings.
func (a *template) Mappings() int {
	return int(a.mappings.Load())
}
