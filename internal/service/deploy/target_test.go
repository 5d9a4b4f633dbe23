package deploy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tycana/releases/internal/config"
	"github.com/tycana/releases/internal/privilege"
)

func newTestRunner(opts *Options) *runner {
	return &runner{
		opts:   opts,
		cfg:    config.Default(),
		broker: privilege.NewBroker(true),
	}
}

// TestResolveInstallDir_FlagWins checks the explicit override order.
func TestResolveInstallDir_FlagWins(t *testing.T) {
	t.Setenv(installDirEnv, "/env/bin")

	r := newTestRunner(&Options{InstallDir: "/flag/bin"})
	require.Equal(t, "/flag/bin", r.resolveInstallDir())
}

// TestResolveInstallDir_EnvBeatsConfig checks environment over config.
func TestResolveInstallDir_EnvBeatsConfig(t *testing.T) {
	t.Setenv(installDirEnv, "/env/bin")

	r := newTestRunner(&Options{})
	r.cfg.InstallDir = "/config/bin"
	require.Equal(t, "/env/bin", r.resolveInstallDir())
}

// TestResolveInstallDir_Config checks the configured directory is honored.
func TestResolveInstallDir_Config(t *testing.T) {
	t.Setenv(installDirEnv, "")

	r := newTestRunner(&Options{})
	r.cfg.InstallDir = "/config/bin"
	require.Equal(t, "/config/bin", r.resolveInstallDir())
}

// TestDetectInstalledVersion_Missing yields a zero version for an absent
// binary, since it might be a first install.
func TestDetectInstalledVersion_Missing(t *testing.T) {
	t.Parallel()

	v := detectInstalledVersion(context.Background(), filepath.Join(t.TempDir(), "tycana"))
	require.True(t, v.IsZero())
}

// TestDetectInstalledVersion_Reports parses the installed self-check output.
func TestDetectInstalledVersion_Reports(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tycana")
	fakeBinary(t, path, "0.3.0")

	v := detectInstalledVersion(context.Background(), path)
	require.Equal(t, "0.3.0", v.Normalized())
}

// TestDetectInstalledVersion_Broken yields a zero version when the binary
// cannot report one.
func TestDetectInstalledVersion_Broken(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tycana")
	brokenBinary(t, path)

	v := detectInstalledVersion(context.Background(), path)
	require.True(t, v.IsZero())
}
