package thunkpool

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/tetratelabs/thunkpool/internal/geometry"
	"github.com/tetratelabs/thunkpool/internal/platform"
)

// Strategy selects how an Allocator obtains the code of its thunks.
type Strategy uint8

const (
	// StrategyCodeGen encodes thunks into freshly mapped memory at runtime.
	StrategyCodeGen Strategy = iota + 1
	// StrategyFixedPool pairs precompiled stubs with data pages committed
	// from a single reservation. It never generates code, and fails with
	// ErrExhausted once the stubs run out.
	StrategyFixedPool
	// StrategyTemplate clones a read-only template of position independent
	// thunks. The template itself is handed out first.
	StrategyTemplate
)

// String returns the name accepted by ParseStrategy.
func (s Strategy) String() string {
	switch s {
	case StrategyCodeGen:
		return "codegen"
	case StrategyFixedPool:
		return "fixedpool"
	case StrategyTemplate:
		return "template"
	}
	return fmt.Sprintf("Strategy(%d)", uint8(s))
}

// ParseStrategy returns the Strategy named s.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range []Strategy{StrategyCodeGen, StrategyFixedPool, StrategyTemplate} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown strategy %q", s)
}

// StaticStubs is a precompiled stub image used by StrategyFixedPool. It holds
// Mappings() stub regions of MappingSize bytes each, back to back from
// Base(), made of thunks of ThunkSize() bytes. The stubs find their data
// through the base published by FixedPool.DataBase.
//
// ThunkSize decides the geometry of a fixed pool, so it works on builds that
// have no thunk encoder.
type StaticStubs interface {
	Base() uintptr
	Mappings() int
	ThunkSize() int
}

// Config controls Allocator behavior, with the default implementation as
// NewConfig. Config is immutable: each With function returns a new instance
// including the corresponding change.
type Config struct {
	strategy        Strategy
	logger          *zap.Logger
	memory          platform.VirtualMemory
	stubs           StaticStubs
	templateAddress uintptr
	arch            geometry.Arch
}

// strategyLessConfig helps avoid copy/pasting the wrong defaults.
var strategyLessConfig = &Config{
	logger: zap.NewNop(),
	arch:   geometry.ParseArch(runtime.GOARCH),
}

// clone ensures all fields are copied even if nil.
func (c *Config) clone() *Config {
	ret := *c
	return &ret
}

// NewConfigCodeGen returns a Config selecting StrategyCodeGen.
//
// Note: New panics if runtime.GOARCH has no thunk encoder. Use NewConfig to
// get a strategy the build supports.
func NewConfigCodeGen() *Config {
	ret := strategyLessConfig.clone()
	ret.strategy = StrategyCodeGen
	return ret
}

// NewConfigFixedPool returns a Config selecting StrategyFixedPool. New panics
// unless WithStaticStubs is also set.
func NewConfigFixedPool() *Config {
	ret := strategyLessConfig.clone()
	ret.strategy = StrategyFixedPool
	return ret
}

// WithStrategy selects how thunks are obtained.
func (c *Config) WithStrategy(s Strategy) *Config {
	ret := c.clone()
	ret.strategy = s
	return ret
}

// WithLogger sets the logger of mapping setup and failure events. Defaults to
// zap.NewNop.
func (c *Config) WithLogger(logger *zap.Logger) *Config {
	if logger == nil {
		logger = zap.NewNop()
	}
	ret := c.clone()
	ret.logger = logger
	return ret
}

// WithMemory replaces the virtual memory primitives, which default to
// NativeMemory.
//
// Note: the Allocator writes and reads the returned regions directly, so they
// must be addressable by this process.
func (c *Config) WithMemory(vm VirtualMemory) *Config {
	ret := c.clone()
	ret.memory = vm
	return ret
}

// WithStaticStubs sets the precompiled stubs of StrategyFixedPool.
func (c *Config) WithStaticStubs(stubs StaticStubs) *Config {
	ret := c.clone()
	ret.stubs = stubs
	return ret
}

// WithTemplateAddress makes StrategyTemplate hand out and clone the existing
// template at addr, instead of loading one. addr must be the start of a stub
// region inside a module known to the VirtualMemory, followed by its data
// region.
func (c *Config) WithTemplateAddress(addr uintptr) *Config {
	ret := c.clone()
	ret.templateAddress = addr
	return ret
}

// withArch overrides the architecture the thunks are encoded for. Only code
// generation into memory that is never executed can use a foreign
// architecture.
func (c *Config) withArch(arch geometry.Arch) *Config {
	ret := c.clone()
	ret.arch = arch
	return ret
}

// Strategy returns the selected strategy.
func (c *Config) Strategy() Strategy {
	return c.strategy
}
