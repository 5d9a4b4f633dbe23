package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/tycana/releases/internal/logger"
)

const (
	// MarkerFilename marks that a deployment is running right now to avoid
	// parallel execution against the same install target.
	MarkerFilename = "tycana-update-marker.bin"

	// updaterExecutable is this tool's own process name, used for stale
	// marker recovery.
	updaterExecutable = "tycana-update"

	// markerLifetime is the period after which an update marker is
	// considered stale and eligible for recovery.
	markerLifetime = 10 * time.Minute

	// versionCommandTimeout bounds execution of a binary's self-check.
	versionCommandTimeout = 10 * time.Second

	// backupTimeFormat names backup files uniquely per upgrade.
	backupTimeFormat = "20060102-150405"

	// workDirPattern prefixes per-run temporary directories.
	workDirPattern = "tycana-update-"
)

var (
	errInvalidVersionOutput = errors.New("invalid self-check output format")
	errWorkDirNotExecutable = errors.New("work directory does not allow execution")
)

// markerPath returns the concurrent-run marker location.
func markerPath() string {
	return filepath.Join(os.TempDir(), MarkerFilename)
}

// isRunningNow checks presence of a marker file and attempts recovery if it
// looks stale and no live updater process backs it.
func isRunningNow(ctx context.Context) bool {
	fileInfo, err := os.Stat(markerPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Infof(ctx, "Unable to read update marker: %v", err)
		}

		return false
	}

	if time.Since(fileInfo.ModTime()) <= markerLifetime {
		return true
	}

	logger.Info(ctx, "The update marker is stale, attempting cleanup")

	if processRunning(updaterExecutable) {
		return true
	}

	if err = os.Remove(markerPath()); err != nil {
		return true
	}

	return false
}

// processRunning reports whether another process with the given executable
// name is alive.
func processRunning(name string) bool {
	processList, err := ps.Processes()
	if err != nil {
		// Without a process list assume the marker is honest.
		return true
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() == name {
			return true
		}
	}

	return false
}

// reportRunningInstances logs live processes of the managed binary. They
// stay valid through an upgrade: renaming the binary detaches the path from
// the inode without invalidating open process images.
func reportRunningInstances(ctx context.Context, binaryName string) {
	processList, err := ps.Processes()
	if err != nil {
		return
	}

	for _, process := range processList {
		if process.Executable() == binaryName {
			logger.InfoKV(ctx, "Binary is currently running; its process image stays valid during the upgrade",
				"pid", process.Pid(), "executable", binaryName)
		}
	}
}

// parseVersionFromOutput extracts the version string from a binary's
// self-check output: the first line's second whitespace-delimited token.
func parseVersionFromOutput(output string) (string, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(output), "\n")

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", fmt.Errorf("%q: %w", line, errInvalidVersionOutput)
	}

	v := strings.Trim(fields[1], ",")
	if v == "" {
		return "", fmt.Errorf("%q: %w", line, errInvalidVersionOutput)
	}

	return v, nil
}

// probeWorkDir verifies the per-run directory allows writing and executing,
// to detect non-executable mount points before the protocol starts.
func probeWorkDir(ctx context.Context, dir string) error {
	probe := filepath.Join(dir, "probe.sh")

	if err := os.WriteFile(probe, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		return fmt.Errorf("%w: %w", errWorkDirNotExecutable, err)
	}

	defer func() {
		_ = os.Remove(probe)
	}()

	probeCtx, cancel := context.WithTimeout(ctx, versionCommandTimeout)
	defer cancel()

	if err := exec.CommandContext(probeCtx, probe).Run(); err != nil {
		return fmt.Errorf("%s: %w: %w", dir, errWorkDirNotExecutable, err)
	}

	return nil
}
