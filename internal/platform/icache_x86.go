//go:build 386 || amd64

package platform

const canFlushInstructionCache = true

// flushInstructionCache is a no-op: x86 keeps instruction fetch coherent with
// stores.
func flushInstructionCache(addr, size uintptr) {}
