package thunkpool

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tetratelabs/thunkpool/internal/geometry"
	"github.com/tetratelabs/thunkpool/internal/platform"
)

// FixedPool is the Allocator of StrategyFixedPool. It pairs precompiled
// stubs with data regions committed, one mapping per call, from a single
// reservation made on first use.
//
// Stub mapping i uses data mapping i, so translation between the two is
// relative to the bases of the stubs and the data reservation, which the
// stubs read through DataBase.
type FixedPool struct {
	vm       platform.VirtualMemory
	layout   geometry.Layout
	logger   *zap.Logger
	stubBase uintptr
	count    int

	// mu serializes the reservation and every commit, so a failed commit
	// leaves next unchanged.
	mu       sync.Mutex
	data     platform.Region
	dataBase atomic.Uintptr
	next     atomic.Int64
}

var _ Allocator = (*FixedPool)(nil)

func newFixedPool(c *Config, vm platform.VirtualMemory, l geometry.Layout) *FixedPool {
	if c.stubs == nil {
		panic(fmt.Errorf("thunkpool: strategy %s needs static stubs", StrategyFixedPool))
	}
	base, count := c.stubs.Base(), c.stubs.Mappings()
	if count <= 0 {
		panic(fmt.Errorf("thunkpool: static stubs hold %d mappings", count))
	}
	if base%uintptr(l.PageSize) != 0 {
		panic(fmt.Errorf("thunkpool: static stubs at %#x are not page aligned", base))
	}
	return &FixedPool{vm: vm, layout: l, logger: c.logger, stubBase: base, count: count}
}

// Geometry implements Allocator.Geometry.
func (a *FixedPool) Geometry() Geometry {
	return a.layout
}

// DataBase returns the address of the data reservation, or zero until the
// first call to AllocateThunkMapping reserved it.
func (a *FixedPool) DataBase() uintptr {
	return a.dataBase.Load()
}

// AllocateThunkMapping implements Allocator.AllocateThunkMapping.
//
// After every static stub mapping was handed out, this returns ErrExhausted.
func (a *FixedPool) AllocateThunkMapping() (*Mapping, error) {
	if int(a.next.Load()) >= a.count {
		return nil, ErrExhausted
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	i := int(a.next.Load())
	if i >= a.count {
		return nil, ErrExhausted
	}
	if a.dataBase.Load() == 0 {
		data, err := a.vm.Reserve(a.count*a.layout.MappingSize, platform.ProtNone)
		if err != nil {
			return nil, fmt.Errorf("%w: reserve data pool: %w", ErrMapping, err)
		}
		a.data = data
		a.dataBase.Store(data.Addr)
		a.logger.Debug("reserved thunk data pool",
			zap.Uintptr("data", data.Addr), zap.Int("mappings", a.count))
	}

	sub := a.data.Slice(i*a.layout.MappingSize, a.layout.MappingSize)
	if err := a.vm.Commit(sub, platform.ProtReadWrite); err != nil {
		a.logger.Warn("cannot commit thunk data", zap.Int("id", i), zap.Error(err))
		return nil, fmt.Errorf("%w: commit data of mapping %d: %w", ErrMapping, i, err)
	}
	stubs := a.stubBase + uintptr(i*a.layout.MappingSize)
	if a.DataBlockAddress(stubs) != sub.Addr || a.StubBlockAddress(sub.Addr) != stubs {
		panic(fmt.Errorf("BUG: stubs %#x and data %#x do not translate to each other", stubs, sub.Addr))
	}
	a.next.Inc()

	a.logger.Debug("committed thunk mapping",
		zap.Int("id", i), zap.Uintptr("stubs", stubs), zap.Uintptr("data", sub.Addr))
	return &Mapping{id: i, layout: a.layout, stubs: stubs, data: sub.Addr}, nil
}

func (a *FixedPool) pageMask() uintptr {
	return ^uintptr(a.layout.PageSize - 1)
}

// DataBlockAddress implements Allocator.DataBlockAddress.
//
// It returns zero until the first mapping reserved the data region.
func (a *FixedPool) DataBlockAddress(stub uintptr) uintptr {
	base := a.dataBase.Load()
	if base == 0 {
		return 0
	}
	return base + (stub & a.pageMask()) - a.stubBase
}

// StubBlockAddress implements Allocator.StubBlockAddress.
//
// It returns zero until the first mapping reserved the data region.
func (a *FixedPool) StubBlockAddress(data uintptr) uintptr {
	base := a.dataBase.Load()
	if base == 0 {
		return 0
	}
	return a.stubBase + (data & a.pageMask()) - base
}

// Mappings implements Allocator.Mappings.
func (a *FixedPool) Mappings() int {
	return int(a.next.Load())
}
