// Package version exposes build identity injected via ldflags and a
// reusable cobra `version` subcommand.
package version
