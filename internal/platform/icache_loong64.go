package platform

const canFlushInstructionCache = true

// implemented in icache_loong64.s
//
//go:noescape
func flushInstructionCache(addr, size uintptr)
