//go:build windows || plan9 || js

package privilege

import "os"

// writable falls back to a write-open probe on platforms without access(2).
func writable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	if info.IsDir() {
		probe, err := os.CreateTemp(path, ".tycana-probe-*")
		if err != nil {
			return false
		}

		name := probe.Name()
		_ = probe.Close()
		_ = os.Remove(name)

		return true
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}

	_ = f.Close()

	return true
}
