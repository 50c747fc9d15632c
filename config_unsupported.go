//go:build !(amd64 || arm64 || 386 || arm || loong64)

package thunkpool

// CodeGenSupported is true when thunks can be encoded for runtime.GOARCH.
const CodeGenSupported = false

// NewConfig returns NewConfigFixedPool. Without an encoder, thunks can only
// come from precompiled stubs given by WithStaticStubs, whose ThunkSize sets
// the geometry. New panics if they are missing.
func NewConfig() *Config {
	return NewConfigFixedPool()
}
