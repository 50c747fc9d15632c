//go:build !(386 || amd64 || arm64 || loong64 || (linux && arm))

package platform

import (
	"fmt"
	"runtime"
)

const canFlushInstructionCache = false

func flushInstructionCache(addr, size uintptr) {
	panic(fmt.Errorf("thunkpool: no instruction cache flush for %s/%s", runtime.GOOS, runtime.GOARCH))
}
