package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tycana/releases/internal/logger"
)

var (
	// ErrArtifactNotFound indicates the remote object does not exist, as
	// opposed to a generic network failure. Callers use it to present an
	// actionable message.
	ErrArtifactNotFound = errors.New("release artifact not found")

	// ErrEmptyArtifact indicates the downloaded archive has zero bytes.
	ErrEmptyArtifact = errors.New("downloaded artifact is empty")

	errHTTPStatus = errors.New("unexpected http status")
)

// MinimumPlausibleSize is the soft lower bound for a release archive.
// Smaller downloads trigger a warning only, because legitimate small builds
// are possible.
const MinimumPlausibleSize = 1 << 20

// RetryPolicy bounds download attempts. The delay is fixed: failures are
// assumed to be transient network blips, not congestion that would call for
// exponential backoff.
type RetryPolicy struct {
	// MaxAttempts is the total number of download attempts.
	MaxAttempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
}

// DefaultRetryPolicy matches the distribution defaults: three attempts,
// two seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
	}
}

// DownloadError reports exhaustion of the retry budget.
type DownloadError struct {
	// Attempts is how many attempts were made before giving up.
	Attempts int
	// Cause is the failure of the final attempt.
	Cause error
}

// Error implements the error interface.
func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed after %d attempts: %v", e.Attempts, e.Cause)
}

// Unwrap exposes the final attempt's failure, so errors.Is can still detect
// ErrArtifactNotFound through the wrapper.
func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// Artifact is a successfully downloaded archive on local disk.
// The caller owns its removal; the fetcher does not self-clean, so callers
// can retry extraction without re-downloading.
type Artifact struct {
	// LocalPath is where the archive was written.
	LocalPath string
	// ByteSize is the archive size on disk, always > 0.
	ByteSize int64
}

// Fetcher downloads release artifacts with bounded retries.
type Fetcher struct {
	client *http.Client
	host   string
	policy RetryPolicy
}

// NewHTTPClient builds a client whose connection establishment and overall
// transfer are bounded independently. Every outbound request of the
// deployment tooling goes through a client built here, so none of them can
// hang past their configured bounds.
func NewHTTPClient(connectTimeout, transferTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}

	//nolint:exhaustruct // Remaining transport fields keep their zero values.
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: connectTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   transferTimeout,
	}
}

// NewFetcher returns a fetcher for the given releases host. The connect and
// transfer timeouts bound each individual attempt; once either expires the
// attempt is abandoned and the retry counter advances.
func NewFetcher(host string, connectTimeout, transferTimeout time.Duration, policy RetryPolicy) *Fetcher {
	return &Fetcher{
		client: NewHTTPClient(connectTimeout, transferTimeout),
		host:   host,
		policy: policy,
	}
}

// Fetch downloads the artifact described by desc into destinationDir and
// validates the result. On retry-budget exhaustion it returns a
// *DownloadError wrapping the last attempt's cause.
func (f *Fetcher) Fetch(ctx context.Context, desc Descriptor, destinationDir string) (*Artifact, error) {
	artifactURL := desc.URL(f.host)
	localPath := filepath.Join(destinationDir, desc.ArchiveName())

	var lastErr error

	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			logger.InfoKV(ctx, "Retrying download",
				"attempt", attempt, "of", f.policy.MaxAttempts, "delay", f.policy.Delay.String())

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.policy.Delay):
			}
		}

		lastErr = f.downloadOnce(ctx, artifactURL, localPath)
		if lastErr == nil {
			return f.validate(ctx, localPath)
		}

		logger.WarnKV(ctx, "Download attempt failed",
			"attempt", attempt, "url", artifactURL, "error", lastErr)
	}

	return nil, &DownloadError{
		Attempts: f.policy.MaxAttempts,
		Cause:    lastErr,
	}
}

// downloadOnce performs a single attempt, writing the body to localPath.
func (f *Fetcher) downloadOnce(ctx context.Context, artifactURL, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, http.NoBody)
	if err != nil {
		return err
	}

	response, err := f.client.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	switch {
	case response.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", artifactURL, ErrArtifactNotFound)
	case response.StatusCode != http.StatusOK:
		return fmt.Errorf("%s, %s: %w", artifactURL, response.Status, errHTTPStatus)
	}

	outputFile, err := os.Create(filepath.Clean(localPath))
	if err != nil {
		return err
	}

	if _, err = io.Copy(outputFile, response.Body); err != nil {
		_ = outputFile.Close()
		_ = os.Remove(localPath)

		return err
	}

	return outputFile.Close()
}

// validate checks the downloaded archive: empty is fatal, implausibly small
// is a warning only.
func (f *Fetcher) validate(ctx context.Context, localPath string) (*Artifact, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}

	size := info.Size()
	if size == 0 {
		_ = os.Remove(localPath)

		return nil, fmt.Errorf("%s: %w", localPath, ErrEmptyArtifact)
	}

	if size < MinimumPlausibleSize {
		logger.WarnKV(ctx, "Artifact is suspiciously small",
			"path", localPath, "bytes", size, "expected_at_least", int64(MinimumPlausibleSize))
	}

	return &Artifact{
		LocalPath: localPath,
		ByteSize:  size,
	}, nil
}
