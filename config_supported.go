//go:build amd64 || arm64 || 386 || arm || loong64

package thunkpool

// CodeGenSupported is true when thunks can be encoded for runtime.GOARCH.
const CodeGenSupported = true

// NewConfig returns NewConfigCodeGen.
func NewConfig() *Config {
	return NewConfigCodeGen()
}
