// Package config loads and persists YAML settings shared by the tycana
// distribution tooling.
package config
