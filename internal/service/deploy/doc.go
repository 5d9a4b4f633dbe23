// Package deploy orchestrates installing and upgrading the tycana binary.
//
// It resolves the platform and the latest published version, downloads and
// extracts the matching artifact, decides the elevation path once, and
// replaces the installed binary through a crash-safe
// vacate/install/verify/commit rename sequence with automatic rollback.
package deploy
