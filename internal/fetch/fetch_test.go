package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tycana/releases/internal/platform"
)

// zeroDelayPolicy keeps tests fast while preserving the attempt budget.
func zeroDelayPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 0}
}

func testDescriptor() Descriptor {
	return Descriptor{
		Repo:       "tycana/tycana",
		BinaryName: "tycana",
		Version:    "v0.4.0",
		Target:     platform.Target{OS: "linux", Arch: "x86_64"},
	}
}

// TestDescriptorURL checks artifact naming: marker stripped from the
// filename, marker kept in the release-tag path segment.
func TestDescriptorURL(t *testing.T) {
	t.Parallel()

	desc := testDescriptor()
	require.Equal(t, "tycana_0.4.0_linux_x86_64.tar.gz", desc.ArchiveName())
	require.Equal(t,
		"https://github.com/tycana/tycana/releases/download/v0.4.0/tycana_0.4.0_linux_x86_64.tar.gz",
		desc.URL("https://github.com"))
}

// TestFetch_SucceedsAfterTransientFailures exercises the fixed-delay retry loop.
func TestFetch_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		_, _ = w.Write([]byte("archive-bytes"))
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.URL, time.Second, time.Minute, zeroDelayPolicy())

	artifact, err := fetcher.Fetch(context.Background(), testDescriptor(), t.TempDir())
	require.NoError(t, err)
	require.Equal(t, int64(len("archive-bytes")), artifact.ByteSize)
	require.EqualValues(t, 3, calls.Load())
}

// TestFetch_ExhaustsRetryBudget verifies DownloadError carries the attempt
// count and the final cause.
func TestFetch_ExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.URL, time.Second, time.Minute, zeroDelayPolicy())

	_, err := fetcher.Fetch(context.Background(), testDescriptor(), t.TempDir())
	require.Error(t, err)

	var downloadErr *DownloadError
	require.ErrorAs(t, err, &downloadErr)
	require.Equal(t, 3, downloadErr.Attempts)
}

// TestFetch_NotFound verifies a missing remote object is distinguishable
// from a generic network error. Not-found still consumes the whole attempt
// budget; the loop does not special-case it.
func TestFetch_NotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.URL, time.Second, time.Minute, zeroDelayPolicy())

	_, err := fetcher.Fetch(context.Background(), testDescriptor(), t.TempDir())
	require.ErrorIs(t, err, ErrArtifactNotFound)
	require.EqualValues(t, 3, calls.Load())
}

// TestFetch_EmptyArtifact verifies a zero-byte download is fatal.
func TestFetch_EmptyArtifact(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.URL, time.Second, time.Minute, zeroDelayPolicy())

	_, err := fetcher.Fetch(context.Background(), testDescriptor(), t.TempDir())
	require.ErrorIs(t, err, ErrEmptyArtifact)
}

// TestFetch_ContextCanceled ensures the inter-attempt wait honors cancellation.
func TestFetch_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := NewFetcher(srv.URL, time.Second, time.Minute, RetryPolicy{MaxAttempts: 3, Delay: time.Hour})

	_, err := fetcher.Fetch(ctx, testDescriptor(), t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
}
