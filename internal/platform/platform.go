// Package platform derives the execution environment facts the rest of the
// controller depends on: the OS family, the normalized CPU architecture, and
// the set of filesystem paths shared with spawned processes.
package platform

import (
	"fmt"
	"runtime"
)

// Family identifies the OS family the controller is running on. It is a
// closed enum: every consumer switches exhaustively over the three values,
// so adding a platform is a compile-visible change rather than a map insert.
type Family int

const (
	Linux Family = iota
	Darwin
	Windows
)

func (f Family) String() string {
	switch f {
	case Linux:
		return "linux"
	case Darwin:
		return "darwin"
	case Windows:
		return "windows"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// Profile is a snapshot of the host environment, taken once at startup and
// immutable for the run. RawArch is the architecture name as reported by the
// runtime; callers normalize it with NormalizeArch before acting on it.
type Profile struct {
	Family  Family
	RawArch string
}

// Detect builds a Profile from the Go runtime. An OS outside the three
// supported families is a terminal error.
func Detect() (Profile, error) {
	var family Family
	switch runtime.GOOS {
	case "linux":
		family = Linux
	case "darwin":
		family = Darwin
	case "windows":
		family = Windows
	default:
		return Profile{}, fmt.Errorf("unsupported operating system %q", runtime.GOOS)
	}
	return Profile{Family: family, RawArch: runtime.GOARCH}, nil
}

// UnsupportedArchError reports an architecture with no release build of the
// sharing daemon. It fires before any download is attempted.
type UnsupportedArchError struct {
	Arch string
}

func (e *UnsupportedArchError) Error() string {
	return fmt.Sprintf("unsupported architecture %q: only amd64 and arm64 have upterm release builds", e.Arch)
}

// NormalizeArch maps an architecture name to the one used in upterm release
// archive names. The mapping is total: every input either maps to amd64 or
// arm64, or returns UnsupportedArchError.
func NormalizeArch(name string) (string, error) {
	switch name {
	case "x64", "amd64":
		return "amd64", nil
	case "arm64":
		return "arm64", nil
	default:
		return "", &UnsupportedArchError{Arch: name}
	}
}
