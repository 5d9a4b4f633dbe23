package platform

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

var (
	// ErrUnsupportedPlatform is returned for operating systems tycana is not built for.
	ErrUnsupportedPlatform = errors.New("operating system is not supported")
	// ErrUnsupportedArchitecture is returned for CPU architectures tycana is not built for.
	ErrUnsupportedArchitecture = errors.New("architecture is not supported")
)

// Target identifies the platform/architecture pair used in artifact names.
type Target struct {
	// OS is the canonical operating system identifier (darwin, linux).
	OS string
	// Arch is the canonical architecture identifier (x86_64, arm64).
	Arch string
}

// String renders the target the way artifact names embed it.
func (t Target) String() string {
	return t.OS + "_" + t.Arch
}

// Resolve maps the running OS/CPU to the canonical target.
// Unrecognized values are terminal errors: an unsupported target must never
// produce a plausible-looking but wrong download URL.
func Resolve() (Target, error) {
	return Parse(runtime.GOOS, runtime.GOARCH)
}

// Parse maps OS and architecture identifiers to the canonical target.
// Both Go-style (runtime.GOOS/GOARCH) and uname-style spellings are accepted.
func Parse(osName, archName string) (Target, error) {
	var target Target

	switch strings.ToLower(strings.TrimSpace(osName)) {
	case "darwin":
		target.OS = "darwin"
	case "linux":
		target.OS = "linux"
	default:
		return Target{}, fmt.Errorf("%s: %w", osName, ErrUnsupportedPlatform)
	}

	switch strings.ToLower(strings.TrimSpace(archName)) {
	case "x86_64", "amd64":
		target.Arch = "x86_64"
	case "arm64", "aarch64":
		target.Arch = "arm64"
	default:
		return Target{}, fmt.Errorf("%s: %w", archName, ErrUnsupportedArchitecture)
	}

	return target, nil
}
