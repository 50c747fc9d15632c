//go:build darwin && !ios && arm64 && cgo

package platform

/*
#include <pthread.h>
*/
import "C"

import "golang.org/x/sys/unix"

// Apple silicon maps MAP_JIT memory either writable or executable per
// thread, switched by pthread_jit_write_protect_np.
const (
	jitToggle = JITToggleAvailable
	mapJIT    = unix.MAP_JIT
)

func setJITWriteProtect(enabled bool) {
	var v C.int
	if enabled {
		v = 1
	}
	C.pthread_jit_write_protect_np(v)
}
