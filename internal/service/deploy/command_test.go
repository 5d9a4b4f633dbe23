package deploy

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tycana/releases/internal/config"
	"github.com/tycana/releases/internal/platform"
	"github.com/tycana/releases/internal/privilege"
	"github.com/tycana/releases/internal/release"
)

// releaseArchive builds a tar.gz holding an executable self-check script at
// the archive root.
func releaseArchive(t *testing.T, version string) []byte {
	t.Helper()

	payload := []byte("#!/bin/sh\necho \"tycana " + version + "\"\n")

	var buf bytes.Buffer

	gzWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzWriter)

	require.NoError(t, tarWriter.WriteHeader(&tar.Header{
		Name:     "tycana",
		Typeflag: tar.TypeReg,
		Mode:     0o755,
		Size:     int64(len(payload)),
	}))

	_, err := tarWriter.Write(payload)
	require.NoError(t, err)
	require.NoError(t, tarWriter.Close())
	require.NoError(t, gzWriter.Close())

	return buf.Bytes()
}

// distribution serves a release index with one tag plus its artifact, and
// writes a matching settings file. It returns the options and the final
// binary path.
func distribution(t *testing.T, tag string) (*Options, string) {
	t.Helper()

	target, err := platform.Resolve()
	require.NoError(t, err)

	normalized := release.Version(tag).Normalized()
	archiveBytes := releaseArchive(t, normalized)

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/tycana/tycana/releases", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"tag_name":"` + tag + `"}]`))
	})
	mux.HandleFunc("/tycana/tycana/releases/download/"+tag+"/tycana_"+normalized+"_"+target.String()+".tar.gz",
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(archiveBytes)
		})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	installDir := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, os.MkdirAll(installDir, 0o755))

	cfgPath := filepath.Join(t.TempDir(), "settings.yaml")
	cfg := config.Default()
	cfg.APIHost = srv.URL
	cfg.ReleasesHost = srv.URL
	cfg.InstallDir = installDir
	require.NoError(t, config.Save(cfgPath, cfg))

	opts := &Options{
		ConfigPath:     cfgPath,
		NonInteractive: true,
	}

	return opts, filepath.Join(installDir, "tycana")
}

// TestRun_FreshInstall deploys into an empty directory.
//
// The Run tests share the process-wide marker file and therefore do not run
// in parallel.
func TestRun_FreshInstall(t *testing.T) {
	opts, finalPath := distribution(t, "v0.4.0")

	require.NoError(t, Run(context.Background(), opts))

	info, err := os.Stat(finalPath)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&0o111)
	require.Equal(t, "0.4.0", detectInstalledVersion(context.Background(), finalPath).Normalized())
}

// TestRun_Upgrade replaces an older installed binary and leaves no backup.
func TestRun_Upgrade(t *testing.T) {
	opts, finalPath := distribution(t, "v0.4.0")
	fakeBinary(t, finalPath, "0.3.0")

	require.NoError(t, Run(context.Background(), opts))

	require.Equal(t, "0.4.0", detectInstalledVersion(context.Background(), finalPath).Normalized())
	require.Empty(t, backups(t, finalPath))
}

// TestRun_AlreadyCurrent performs no filesystem mutation when the
// normalized versions match, marker aside.
func TestRun_AlreadyCurrent(t *testing.T) {
	opts, finalPath := distribution(t, "v0.3.0")
	fakeBinary(t, finalPath, "0.3.0")

	before, err := os.ReadFile(finalPath)
	require.NoError(t, err)

	require.NoError(t, Run(context.Background(), opts))

	after, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Empty(t, backups(t, finalPath))
}

// TestRun_CheckOnly reports availability without mutating the target.
func TestRun_CheckOnly(t *testing.T) {
	opts, finalPath := distribution(t, "v0.4.0")
	opts.CheckOnly = true
	fakeBinary(t, finalPath, "0.3.0")

	require.NoError(t, Run(context.Background(), opts))

	require.Equal(t, "0.3.0", detectInstalledVersion(context.Background(), finalPath).Normalized())
}

// TestRun_ElevationUnavailable covers an install directory that cannot be
// created without elevation while elevation is denied: the run fails with
// ErrElevationUnavailable and leaves no partial state behind.
func TestRun_ElevationUnavailable(t *testing.T) {
	opts, _ := distribution(t, "v0.4.0")

	cfg, err := config.Load(opts.ConfigPath)
	require.NoError(t, err)

	cfg.InstallDir = filepath.Join(t.TempDir(), "missing", "bin")

	r := &runner{
		opts: opts,
		cfg:  cfg,
		broker: privilege.NewBroker(true,
			privilege.WithValidator(func(context.Context, bool) error {
				return errors.New("a password is required")
			})),
	}

	defer r.cleanup(context.Background())

	err = r.run(context.Background())
	require.ErrorIs(t, err, privilege.ErrElevationUnavailable)

	_, statErr := os.Stat(cfg.InstallDir)
	require.True(t, os.IsNotExist(statErr))
}

// TestChooseMover_ParentWritableSkipsElevation creates a missing install
// directory through its writable parent without requesting elevation.
func TestChooseMover_ParentWritableSkipsElevation(t *testing.T) {
	t.Parallel()

	r := newTestRunner(&Options{})

	m, elevated, err := r.chooseMover(context.Background(), filepath.Join(t.TempDir(), "bin"))
	require.NoError(t, err)
	require.False(t, elevated)
	require.IsType(t, directMover{}, m)
}

// TestResolveVersion_BoundedByTransferTimeout ensures the index query
// cannot outlive the configured transfer bound.
func TestResolveVersion_BoundedByTransferTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		_, _ = w.Write([]byte(`[{"tag_name":"v0.4.0"}]`))
	}))
	t.Cleanup(srv.Close)

	r := newTestRunner(&Options{})
	r.cfg.APIHost = srv.URL
	r.cfg.TransferTimeout = 50 * time.Millisecond

	_, err := r.resolveVersion(context.Background())
	require.Error(t, err)
}

// TestRun_StaleMarkerRecovered proceeds past a marker whose lifetime has
// expired and that no live updater process backs.
func TestRun_StaleMarkerRecovered(t *testing.T) {
	opts, finalPath := distribution(t, "v0.4.0")

	marker, err := os.Create(markerPath())
	require.NoError(t, err)
	require.NoError(t, marker.Close())

	past := time.Now().Add(-markerLifetime - time.Minute)
	require.NoError(t, os.Chtimes(markerPath(), past, past))

	require.NoError(t, Run(context.Background(), opts))
	require.Equal(t, "0.4.0", detectInstalledVersion(context.Background(), finalPath).Normalized())
}

// TestRun_SecondInstanceRefused ensures the marker blocks a concurrent run.
func TestRun_SecondInstanceRefused(t *testing.T) {
	opts, _ := distribution(t, "v0.4.0")

	marker, err := os.Create(markerPath())
	require.NoError(t, err)
	require.NoError(t, marker.Close())

	t.Cleanup(func() {
		_ = os.Remove(markerPath())
	})

	err = Run(context.Background(), opts)
	require.ErrorIs(t, err, errAlreadyRunning)
}
