package release

import "strings"

// Version is an opaque release tag, for example "v0.4.0" or "0.4.0".
// Two versions are compared only by string equality after normalizing away
// an optional leading marker character; no semantic-version arithmetic is
// performed anywhere.
type Version string

// Tag returns the version exactly as the release index published it.
func (v Version) Tag() string {
	return string(v)
}

// Normalized returns the version with any leading non-numeric marker
// character (typically "v") removed. Artifact filenames embed this form,
// while the release-tag URL segment keeps the marker.
func (v Version) Normalized() string {
	s := strings.TrimSpace(string(v))
	if len(s) > 0 && (s[0] < '0' || s[0] > '9') {
		return s[1:]
	}

	return s
}

// Equal reports whether the two versions match in normalized form.
func (v Version) Equal(other Version) bool {
	return v.Normalized() == other.Normalized()
}

// IsZero reports whether the version is empty.
func (v Version) IsZero() bool {
	return strings.TrimSpace(string(v)) == ""
}
