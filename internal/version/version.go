// Package version reads the version of this module from build information.
package version

import "runtime/debug"

// Default is returned when the version cannot be determined, such as in tests
// or builds from a source tree.
const Default = "dev"

const modulePath = "github.com/tetratelabs/thunkpool"

// GetVersion returns the version of thunkpool linked into the running
// binary.
func GetVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Default
	}
	return versionOf(info)
}

func versionOf(info *debug.BuildInfo) string {
	if info.Main.Path == modulePath {
		return orDefault(info.Main.Version)
	}
	for _, dep := range info.Deps {
		if dep.Path == modulePath {
			if dep.Replace != nil {
				return orDefault(dep.Replace.Version)
			}
			return orDefault(dep.Version)
		}
	}
	return Default
}

func orDefault(v string) string {
	if v == "" || v == "(devel)" {
		return Default
	}
	return v
}
