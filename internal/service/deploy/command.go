package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tycana/releases/internal/archive"
	"github.com/tycana/releases/internal/config"
	"github.com/tycana/releases/internal/fetch"
	"github.com/tycana/releases/internal/logger"
	"github.com/tycana/releases/internal/platform"
	"github.com/tycana/releases/internal/privilege"
	"github.com/tycana/releases/internal/release"
)

var errAlreadyRunning = errors.New("another deployment is already running")

// Options are inputs accepted by the deployment entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// InstallDir overrides the installation directory resolution.
	InstallDir string
	// TargetVersion deploys a specific release tag instead of the latest.
	TargetVersion string
	// NonInteractive forbids blocking on a credential prompt.
	NonInteractive bool
	// CheckOnly reports whether an update is available without mutating
	// anything.
	CheckOnly bool
}

// runner holds the mutable state and helpers for a single deployment.
// It is intentionally unexported; call Run(ctx, Options) from callers.
type runner struct {
	opts    *Options
	cfg     *config.Config
	broker  *privilege.Broker
	workDir string
}

// Run executes the deployment lifecycle and is the public entry point for
// the CLI. It installs the binary fresh or upgrades it in place, leaving
// the target path with a working executable on every outcome short of a
// RestoreError.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "tycana-update")

	r, err := newRunner(ctx, opts)
	if err != nil {
		return err
	}

	defer r.cleanup(ctx)

	if err = r.run(ctx); err != nil {
		logger.ErrorKV(ctx, "Deployment failed", "error", err)
		return err
	}

	return nil
}

// newRunner prepares the run and writes a marker to avoid concurrent runs.
func newRunner(ctx context.Context, opts *Options) (*runner, error) {
	r := &runner{
		opts:   opts,
		broker: privilege.NewBroker(opts.NonInteractive),
	}

	if isRunningNow(ctx) {
		return r, errAlreadyRunning
	}

	var err error
	if r.cfg, err = config.Load(opts.ConfigPath); err != nil {
		return r, err
	}

	// The marker is written last so an early failure cannot leak it past
	// the cleanup defer. O_EXCL makes acquisition atomic against a run
	// that passed the staleness check at the same moment.
	marker, err := os.OpenFile(markerPath(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return r, errAlreadyRunning
		}

		return r, fmt.Errorf("create update marker: %w", err)
	}

	if err = marker.Close(); err != nil {
		_ = os.Remove(markerPath())

		return r, fmt.Errorf("create update marker: %w", err)
	}

	return r, nil
}

// run executes the workflow:
// 1) Resolve platform and latest version.
// 2) Compare against the installed version; stop when already current.
// 3) Download and extract the artifact.
// 4) Decide the elevation path once.
// 5) Install fresh or upgrade with rollback, then verify.
func (r *runner) run(ctx context.Context) error {
	target, err := platform.Resolve()
	if err != nil {
		return err
	}

	latest, err := r.resolveVersion(ctx)
	if err != nil {
		return err
	}

	installDir := r.resolveInstallDir()
	finalPath := filepath.Join(installDir, r.cfg.BinaryName)

	logger.InfoKV(ctx, "Resolved deployment target",
		"platform", target.String(), "version", latest.Tag(), "path", finalPath)

	current := detectInstalledVersion(ctx, finalPath)
	if !current.IsZero() && current.Equal(latest) {
		logger.InfoKV(ctx, "Already current", "version", current.Normalized())
		return nil
	}

	if r.opts.CheckOnly {
		r.reportCheck(ctx, current, latest)
		return nil
	}

	payload, err := r.acquirePayload(ctx, target, latest)
	if err != nil {
		return err
	}

	reportRunningInstances(ctx, r.cfg.BinaryName)

	m, elevated, err := r.chooseMover(ctx, installDir)
	if err != nil {
		return err
	}

	eng := &engine{
		m:         m,
		finalPath: finalPath,
		verify:    verifyCommand(latest),
		now:       time.Now,
	}

	if _, statErr := os.Stat(finalPath); statErr != nil {
		logger.InfoKV(ctx, "Installing", "version", latest.Tag(), "path", finalPath)

		if err = eng.freshInstall(ctx, payload.Path, elevated); err != nil {
			return err
		}
	} else {
		logger.InfoKV(ctx, "Upgrading",
			"from", current.Normalized(), "to", latest.Normalized(), "path", finalPath)

		if err = r.stageAndUpgrade(ctx, eng, payload.Path); err != nil {
			return err
		}
	}

	logger.InfoKV(ctx, "Deployment completed", "version", latest.Normalized(), "path", finalPath)

	return nil
}

// resolveVersion returns the requested tag, or the first entry of the
// release index when none was pinned.
func (r *runner) resolveVersion(ctx context.Context) (release.Version, error) {
	if r.opts.TargetVersion != "" {
		return release.Version(r.opts.TargetVersion), nil
	}

	client := fetch.NewHTTPClient(r.cfg.ConnectTimeout, r.cfg.TransferTimeout)
	resolver := release.NewResolver(client, r.cfg.APIHost, r.cfg.Repo)

	return resolver.Latest(ctx)
}

// reportCheck prints the availability verdict without touching anything.
func (r *runner) reportCheck(ctx context.Context, current, latest release.Version) {
	if current.IsZero() {
		logger.InfoKV(ctx, "Not installed; latest release is available",
			"latest", latest.Tag())
		return
	}

	logger.InfoKV(ctx, "Update available",
		"installed", current.Normalized(), "latest", latest.Normalized())
}

// acquirePayload creates the per-run work directory, downloads the
// artifact, and extracts the executable payload. The archive is removed as
// soon as extraction succeeds; the work directory itself lives until
// cleanup.
func (r *runner) acquirePayload(
	ctx context.Context,
	target platform.Target,
	version release.Version,
) (*archive.Executable, error) {
	workDir, err := os.MkdirTemp("", workDirPattern)
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	r.workDir = workDir

	if err = probeWorkDir(ctx, workDir); err != nil {
		return nil, err
	}

	fetcher := fetch.NewFetcher(
		r.cfg.ReleasesHost, r.cfg.ConnectTimeout, r.cfg.TransferTimeout, fetch.DefaultRetryPolicy())

	descriptor := fetch.Descriptor{
		Repo:       r.cfg.Repo,
		BinaryName: r.cfg.BinaryName,
		Version:    version,
		Target:     target,
	}

	logger.InfoKV(ctx, "Downloading artifact", "url", descriptor.URL(r.cfg.ReleasesHost))

	artifact, err := fetcher.Fetch(ctx, descriptor, workDir)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Downloaded artifact", "path", artifact.LocalPath, "bytes", artifact.ByteSize)

	payload, err := archive.Extract(ctx, artifact.LocalPath, workDir, r.cfg.BinaryName)
	if err != nil {
		return nil, err
	}

	_ = os.Remove(artifact.LocalPath)

	return payload, nil
}

// chooseMover makes the elevation decision exactly once for the whole
// mutation sequence. Elevation is requested only when writing without it is
// not possible.
func (r *runner) chooseMover(ctx context.Context, installDir string) (mover, bool, error) {
	if r.broker.CanWrite(installDir) {
		return directMover{}, false, nil
	}

	if _, err := os.Stat(installDir); err != nil {
		// The directory does not exist yet; a writable parent lets us
		// create it without elevation.
		if r.broker.CanWrite(filepath.Dir(installDir)) {
			return directMover{}, false, nil
		}
	}

	handle, err := r.broker.Ensure(ctx)
	if err != nil {
		return nil, false, err
	}

	return elevatedMover{handle: handle}, true, nil
}

// stageAndUpgrade copies the payload next to the final path, so the
// protocol's renames never cross filesystems, then runs the upgrade.
func (r *runner) stageAndUpgrade(ctx context.Context, eng *engine, payloadPath string) error {
	stagedPath := eng.finalPath + ".new-" + eng.now().UTC().Format(backupTimeFormat)

	if err := eng.m.Copy(ctx, payloadPath, stagedPath, 0o755); err != nil {
		return fmt.Errorf("stage new binary: %w", err)
	}

	if err := eng.upgrade(ctx, stagedPath); err != nil {
		// The staged file is orphaned when the vacate step failed.
		_ = eng.m.Remove(ctx, stagedPath)

		return err
	}

	return nil
}

// cleanup removes temporary artifacts and the running marker on every exit
// path.
func (r *runner) cleanup(ctx context.Context) {
	if _, err := os.Stat(markerPath()); err == nil {
		_ = os.Remove(markerPath())
	}

	if r.workDir != "" {
		if _, err := os.Stat(r.workDir); err == nil {
			_ = os.RemoveAll(r.workDir)
		}
	}

	logger.Debug(ctx, "Deployment run finished")
}
