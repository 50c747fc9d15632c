package platform

const canFlushInstructionCache = true

// flushInstructionCache cleans the data cache to the point of unification
// and invalidates the instruction cache over [addr, addr+size).
//
// implemented in icache_arm64.s
//
//go:noescape
func flushInstructionCache(addr, size uintptr)
