//go:build (darwin && arm64 && !cgo) || (ios && arm64)

package platform

import "fmt"

// The write-protection switch is required on this host but cannot be
// reached: iOS forbids JIT memory, and macOS needs cgo to call
// pthread_jit_write_protect_np.
const (
	jitToggle = JITToggleUnavailable
	mapJIT    = 0
)

func setJITWriteProtect(bool) {
	panic(fmt.Errorf("thunkpool: JIT write protection is unavailable on this platform"))
}
