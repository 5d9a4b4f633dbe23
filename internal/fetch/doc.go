// Package fetch builds deterministic artifact URLs and downloads release
// archives with a bounded, fixed-delay retry policy.
package fetch
