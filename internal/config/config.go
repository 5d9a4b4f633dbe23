package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds distribution parameters for the tycana deployment tooling.
type Config struct {
	// Repo is the <owner>/<name> identifier of the repository publishing releases.
	Repo string `yaml:"repo"`
	// ReleasesHost is the base URL artifacts are downloaded from.
	ReleasesHost string `yaml:"releases_host"`
	// APIHost is the base URL of the release index API.
	APIHost string `yaml:"api_host"`
	// BinaryName is the name of the distributed executable.
	BinaryName string `yaml:"binary_name"`
	// InstallDir optionally pins the installation directory.
	InstallDir string `yaml:"install_dir"`
	// ConnectTimeout bounds establishing a network connection per attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// TransferTimeout bounds a whole download attempt.
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
}

const (
	// DefaultConfigFilename is the default filename for deployment settings.
	DefaultConfigFilename = "tycana-update.yaml"

	// DefaultRepo publishes tycana release artifacts.
	DefaultRepo = "tycana/tycana"

	// DefaultReleasesHost hosts the downloadable artifacts.
	DefaultReleasesHost = "https://github.com"

	// DefaultAPIHost serves the release index.
	DefaultAPIHost = "https://api.github.com"

	// DefaultBinaryName is the executable shipped inside release archives.
	DefaultBinaryName = "tycana"

	// DefaultConnectTimeout is the default connection establishment bound.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultTransferTimeout is the default bound for one download attempt.
	DefaultTransferTimeout = 5 * time.Minute

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errRepoRequired is returned when the repository identifier is missing.
	errRepoRequired = errors.New("repository identifier must be provided")
	// errInvalidRepo is returned when the repository identifier is not owner/name.
	errInvalidRepo = errors.New("repository identifier must look like owner/name")
)

// Default returns a configuration pointing at the public tycana distribution.
func Default() *Config {
	return &Config{
		Repo:            DefaultRepo,
		ReleasesHost:    DefaultReleasesHost,
		APIHost:         DefaultAPIHost,
		BinaryName:      DefaultBinaryName,
		ConnectTimeout:  DefaultConnectTimeout,
		TransferTimeout: DefaultTransferTimeout,
	}
}

// Load reads configuration from the provided path and validates essential fields.
// A missing file is not an error: the tooling must work on machines that have
// never been configured, so defaults are returned instead.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting,
// filling defaults for optional ones.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	cfg.Repo = strings.TrimSpace(cfg.Repo)
	if cfg.Repo == "" {
		return errRepoRequired
	}

	parts := strings.Split(cfg.Repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%s: %w", cfg.Repo, errInvalidRepo)
	}

	if cfg.ReleasesHost == "" {
		cfg.ReleasesHost = DefaultReleasesHost
	}

	if cfg.APIHost == "" {
		cfg.APIHost = DefaultAPIHost
	}

	for _, host := range []string{cfg.ReleasesHost, cfg.APIHost} {
		if _, err := url.ParseRequestURI(host); err != nil {
			return fmt.Errorf("invalid host URI: %w", err)
		}
	}

	if cfg.BinaryName == "" {
		cfg.BinaryName = DefaultBinaryName
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = DefaultTransferTimeout
	}

	return nil
}
