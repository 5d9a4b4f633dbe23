// Package release models release version tags and resolves the latest
// published tag from the remote release index.
package release
