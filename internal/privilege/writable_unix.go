//go:build !windows && !plan9 && !js

package privilege

import (
	"golang.org/x/sys/unix"
)

// writable reports whether the calling process may write to path.
func writable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}
