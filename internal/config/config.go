// Package config holds the optional launcher configuration file and the
// on-disk layout of installed game versions.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Compiled-in defaults, used when the config file is absent or a field is
// unset.
const (
	// DefaultLatest is the version "latest" resolves to.
	DefaultLatest = "0.5.2"

	// DefaultURLPrefix is the base URL all game asset downloads hang off.
	DefaultURLPrefix = "https://app-polytrack.kodub.com/"

	// DefaultMaxRetries is the number of download attempts per file.
	DefaultMaxRetries = 5

	// DefaultRetryDelay is the pause between download attempts.
	DefaultRetryDelay = 5 * time.Second
)

// Config represents the optional polylauncher configuration file.
type Config struct {
	Latest         *string `toml:"latest"`
	URLPrefix      *string `toml:"url_prefix"`
	MaxRetries     *int    `toml:"max_retries"`
	RetryDelaySecs *int    `toml:"retry_delay_secs"`
	Workers        *int    `toml:"workers"`
	RateLimit      *int    `toml:"rate_limit"` // download requests per second, 0 = unlimited
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "polylauncher", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}

	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}

// LatestVersion returns the pinned latest version.
func (c Config) LatestVersion() string {
	if c.Latest != nil && *c.Latest != "" {
		return *c.Latest
	}
	return DefaultLatest
}

// DownloadURLPrefix returns the base URL for game asset downloads.
func (c Config) DownloadURLPrefix() string {
	if c.URLPrefix != nil && *c.URLPrefix != "" {
		return *c.URLPrefix
	}
	return DefaultURLPrefix
}

// DownloadRetries returns the number of attempts per downloaded file.
func (c Config) DownloadRetries() int {
	if c.MaxRetries != nil && *c.MaxRetries > 0 {
		return *c.MaxRetries
	}
	return DefaultMaxRetries
}

// DownloadRetryDelay returns the pause between download attempts.
func (c Config) DownloadRetryDelay() time.Duration {
	if c.RetryDelaySecs != nil && *c.RetryDelaySecs >= 0 {
		return time.Duration(*c.RetryDelaySecs) * time.Second
	}
	return DefaultRetryDelay
}

// ResolveVersion converts the "latest" alias into the pinned version number;
// any other version string passes through unchanged.
func (c Config) ResolveVersion(version string) string {
	if version == "latest" {
		return c.LatestVersion()
	}
	return version
}

// Dir returns the launcher home directory (~/.polylauncher).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".polylauncher"), nil
}

// VersionDir returns the installation directory for a game version.
func VersionDir(version string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "versions", version), nil
}

// TemplateDir returns the bundled template project directory, resolved
// relative to the running executable.
func TemplateDir() (string, error) {
	return resourcePath("template_project")
}

// ManifestPath returns the bundled download manifest for a game version:
// a JSON array of absolute asset URLs.
func ManifestPath(version string) (string, error) {
	return resourcePath("manifests", version+".json")
}

func resourcePath(parts ...string) (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	segments := append([]string{filepath.Dir(exe), "resources"}, parts...)
	return filepath.Join(segments...), nil
}
