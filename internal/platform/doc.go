// Package platform resolves the running OS/CPU pair to the canonical
// identifiers embedded in release artifact names.
package platform
