package fetch

import (
	"fmt"

	"github.com/tycana/releases/internal/platform"
	"github.com/tycana/releases/internal/release"
)

// ArchiveExtension is the artifact format for Unix-like targets.
const ArchiveExtension = "tar.gz"

// Descriptor deterministically names one release artifact. It is a pure
// function of its fields; no hidden state.
type Descriptor struct {
	// Repo is the <owner>/<name> repository publishing the release.
	Repo string
	// BinaryName is the executable shipped inside the archive.
	BinaryName string
	// Version is the release tag the artifact belongs to.
	Version release.Version
	// Target is the platform/architecture pair the artifact is built for.
	Target platform.Target
}

// ArchiveName returns the artifact filename. The filename embeds the
// normalized version while the release-tag URL segment keeps the marker, so
// the two are allowed to differ syntactically.
func (d Descriptor) ArchiveName() string {
	return fmt.Sprintf("%s_%s_%s.%s",
		d.BinaryName, d.Version.Normalized(), d.Target.String(), ArchiveExtension)
}

// URL returns the download URL for the artifact on the given releases host.
func (d Descriptor) URL(host string) string {
	return fmt.Sprintf("%s/%s/releases/download/%s/%s",
		host, d.Repo, d.Version.Tag(), d.ArchiveName())
}
