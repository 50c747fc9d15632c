package platform

import "golang.org/x/sys/unix"

// sysCacheflush is the ARM private cacheflush system call (__ARM_NR_cacheflush).
const sysCacheflush = 0xf0002

const canFlushInstructionCache = true

func flushInstructionCache(addr, size uintptr) {
	if _, _, errno := unix.Syscall(sysCacheflush, addr, addr+size, 0); errno != 0 {
		panic(errno)
	}
}
