package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

var (
	// ErrNoReleases is returned when the release index lists nothing usable.
	ErrNoReleases = errors.New("release index contains no releases")

	errBadHTTPStatus = errors.New("unexpected http status")
)

// record is the subset of a release index entry the resolver cares about.
type record struct {
	TagName string `json:"tag_name"`
}

// Resolver queries a versioned-release listing endpoint for a repository.
type Resolver struct {
	client  *http.Client
	apiHost string
	repo    string
}

// NewResolver returns a resolver for the given API host and owner/name repo.
// A nil client falls back to http.DefaultClient.
func NewResolver(client *http.Client, apiHost, repo string) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}

	return &Resolver{
		client:  client,
		apiHost: apiHost,
		repo:    repo,
	}
}

// Latest returns the most recent published version tag.
//
// The index is treated as an ordered list whose first entry is the
// authoritative "latest": upstream ordering is the source of truth, and no
// version-string comparison is performed. If upstream ever lists a hotfix
// out of sequence, this resolves to the tag upstream put first.
func (r *Resolver) Latest(ctx context.Context) (Version, error) {
	indexURL, err := r.indexURL()
	if err != nil {
		return "", fmt.Errorf("resolve latest version: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("resolve latest version: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")

	response, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve latest version: %w", err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve latest version: %s, %s: %w",
			indexURL, response.Status, errBadHTTPStatus)
	}

	var records []record
	if err = json.NewDecoder(response.Body).Decode(&records); err != nil {
		return "", fmt.Errorf("resolve latest version: decode index: %w", err)
	}

	for _, rec := range records {
		if tag := strings.TrimSpace(rec.TagName); tag != "" {
			return Version(tag), nil
		}
	}

	return "", fmt.Errorf("resolve latest version: %w", ErrNoReleases)
}

// indexURL composes the listing endpoint for the configured repository.
func (r *Resolver) indexURL() (string, error) {
	u, err := url.Parse(r.apiHost)
	if err != nil {
		return "", err
	}

	u.Path = path.Join(u.Path, "repos", r.repo, "releases")

	return u.String(), nil
}
