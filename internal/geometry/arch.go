package geometry

import "fmt"

// Arch is an instruction set for which thunks can be encoded.
type Arch byte

const (
	ArchUnknown Arch = iota
	ArchAMD64
	Arch386
	// ArchARM is 32-bit ARM executing in Thumb-2 mode.
	ArchARM
	ArchARM64
	ArchLoong64
)

// ParseArch returns the Arch for a GOARCH name, or ArchUnknown.
func ParseArch(goarch string) Arch {
	switch goarch {
	case "amd64":
		return ArchAMD64
	case "386":
		return Arch386
	case "arm":
		return ArchARM
	case "arm64":
		return ArchARM64
	case "loong64":
		return ArchLoong64
	default:
		return ArchUnknown
	}
}

// String implements fmt.Stringer using GOARCH names.
func (a Arch) String() string {
	switch a {
	case ArchAMD64:
		return "amd64"
	case Arch386:
		return "386"
	case ArchARM:
		return "arm"
	case ArchARM64:
		return "arm64"
	case ArchLoong64:
		return "loong64"
	default:
		return fmt.Sprintf("unknown(%d)", byte(a))
	}
}

// ThunkSize returns the size in bytes of a single thunk, or zero when the
// architecture has no thunk encoding.
func (a Arch) ThunkSize() int {
	switch a {
	case ArchAMD64:
		return 20
	case Arch386:
		return 12
	case ArchARM:
		return 20
	case ArchARM64:
		return 16
	case ArchLoong64:
		return 16
	default:
		return 0
	}
}

// PointerSize returns the size of a native pointer, or zero when unknown.
func (a Arch) PointerSize() int {
	switch a {
	case ArchAMD64, ArchARM64, ArchLoong64:
		return 8
	case Arch386, ArchARM:
		return 4
	default:
		return 0
	}
}
