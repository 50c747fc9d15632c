package thunkpool

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tetratelabs/thunkpool/internal/geometry"
	"github.com/tetratelabs/thunkpool/internal/testing/fakevm"
)

func TestConfig(t *testing.T) {
	vm := fakevm.New(0x1000, unixPolicy)
	logger := zap.NewExample()
	stubs := staticStubs{base: stubBase, mappings: 1}

	tests := []struct {
		name     string
		with     func(*Config) *Config
		expected *Config
	}{
		{
			name:     "WithStrategy",
			with:     func(c *Config) *Config { return c.WithStrategy(StrategyTemplate) },
			expected: &Config{strategy: StrategyTemplate},
		},
		{
			name:     "WithLogger",
			with:     func(c *Config) *Config { return c.WithLogger(logger) },
			expected: &Config{logger: logger},
		},
		{
			name:     "WithMemory",
			with:     func(c *Config) *Config { return c.WithMemory(vm) },
			expected: &Config{memory: vm},
		},
		{
			name:     "WithStaticStubs",
			with:     func(c *Config) *Config { return c.WithStaticStubs(stubs) },
			expected: &Config{stubs: stubs},
		},
		{
			name:     "WithTemplateAddress",
			with:     func(c *Config) *Config { return c.WithTemplateAddress(0x4000) },
			expected: &Config{templateAddress: 0x4000},
		},
		{
			name:     "withArch",
			with:     func(c *Config) *Config { return c.withArch(geometry.ArchLoong64) },
			expected: &Config{arch: geometry.ArchLoong64},
		},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			input := &Config{}
			rc := tc.with(input)
			require.Equal(t, tc.expected, rc)
			// The original wasn't affected.
			require.Equal(t, &Config{}, input)
		})
	}
}

func TestConfig_WithLoggerNil(t *testing.T) {
	c := (&Config{}).WithLogger(nil)
	require.NotNil(t, c.logger)
}

func TestNewConfig(t *testing.T) {
	c := NewConfig()
	require.NotNil(t, c.logger)
	if CodeGenSupported {
		require.Equal(t, StrategyCodeGen, c.Strategy())
	} else {
		require.Equal(t, StrategyFixedPool, c.Strategy())
	}
	require.Equal(t, StrategyFixedPool, NewConfigFixedPool().Strategy())
	require.Equal(t, StrategyCodeGen, NewConfigCodeGen().Strategy())
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []Strategy{StrategyCodeGen, StrategyFixedPool, StrategyTemplate} {
		parsed, err := ParseStrategy(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
	_, err := ParseStrategy("jit")
	require.EqualError(t, err, `unknown strategy "jit"`)
	require.Equal(t, "Strategy(9)", Strategy(9).String())
}

func TestNew_UnknownStrategy(t *testing.T) {
	require.PanicsWithError(t, "thunkpool: unknown strategy Strategy(0)", func() {
		New(NewConfig().WithStrategy(0).WithMemory(fakevm.New(0x1000, unixPolicy)).withArch(geometry.ArchAMD64))
	})
}
