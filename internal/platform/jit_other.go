//go:build !(darwin && arm64)

package platform

const (
	jitToggle = JITToggleNotRequired
	mapJIT    = 0
)

func setJITWriteProtect(bool) {
	panic("BUG: SetJITWriteProtect called on a platform that does not require it")
}
