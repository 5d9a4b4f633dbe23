package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/tycana/releases/internal/logger"
	"github.com/tycana/releases/internal/release"
)

var errVersionMismatch = errors.New("self-check version mismatch")

const (
	// installDirEnv overrides the installation directory resolution.
	installDirEnv = "TYCANA_INSTALL_DIR"

	// systemInstallDir is the well-known system directory.
	systemInstallDir = "/usr/local/bin"
)

// resolveInstallDir picks the installation directory once per run:
// explicit flag, explicit environment override, configured directory, the
// system directory when writable, an existing user-local binary directory,
// and finally the system directory again, accepting that elevation will be
// needed.
func (r *runner) resolveInstallDir() string {
	if r.opts.InstallDir != "" {
		return r.opts.InstallDir
	}

	if dir := os.Getenv(installDirEnv); dir != "" {
		return dir
	}

	if r.cfg.InstallDir != "" {
		return r.cfg.InstallDir
	}

	if r.broker.CanWrite(systemInstallDir) {
		return systemInstallDir
	}

	if home, err := os.UserHomeDir(); err == nil {
		for _, dir := range []string{
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, "bin"),
		} {
			if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
				return dir
			}
		}
	}

	return systemInstallDir
}

// detectInstalledVersion runs the installed binary's self-check and parses
// the reported version. An absent or broken installation yields a zero
// version, not an error: it might be a first install.
func detectInstalledVersion(ctx context.Context, finalPath string) release.Version {
	if _, err := os.Stat(finalPath); err != nil {
		return ""
	}

	cmdCtx, cancel := context.WithTimeout(ctx, versionCommandTimeout)
	defer cancel()

	output, err := exec.CommandContext(cmdCtx, finalPath, "version").Output()
	if err != nil {
		logger.Warnf(ctx, "Could not get installed version from %s: %v", finalPath, err)
		return ""
	}

	current, err := parseVersionFromOutput(string(output))
	if err != nil {
		logger.Warnf(ctx, "Could not parse installed version: %v", err)
		return ""
	}

	return release.Version(current)
}

// verifyCommand returns the self-check used as the upgrade's verification
// step: the deployed binary must run, report a parseable version, and that
// version must match the one just deployed.
func verifyCommand(expected release.Version) verifyFunc {
	return func(ctx context.Context, path string) error {
		cmdCtx, cancel := context.WithTimeout(ctx, versionCommandTimeout)
		defer cancel()

		output, err := exec.CommandContext(cmdCtx, path, "version").Output()
		if err != nil {
			return err
		}

		got, err := parseVersionFromOutput(string(output))
		if err != nil {
			return err
		}

		if !release.Version(got).Equal(expected) {
			return fmt.Errorf("self-check reported version %s, expected %s: %w",
				got, expected.Tag(), errVersionMismatch)
		}

		return nil
	}
}
