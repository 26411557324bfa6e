// Package config manages global rollsync configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store modes.
const (
	ModeGoTrue = "gotrue"
	ModeLocal  = "local"
)

// Config holds the global rollsync configuration. Secret material is
// never stored here: the auth service key is named by environment
// variable and read at startup.
type Config struct {
	// Mode selects the store backend: "gotrue" for a hosted auth
	// service + its profile API, "local" for the sqlite database.
	Mode string `json:"mode"`

	// AuthURL is the base URL of the auth service (gotrue mode).
	AuthURL string `json:"auth_url,omitempty"`

	// RestURL is the base URL of the profile query API (gotrue mode).
	// Empty means it is derived from AuthURL.
	RestURL string `json:"rest_url,omitempty"`

	// ServiceKeyEnv names the environment variable holding the
	// service-role key (gotrue mode). Default ROLLSYNC_SERVICE_KEY.
	ServiceKeyEnv string `json:"service_key_env,omitempty"`

	// DBPath is the sqlite database location (local mode). Empty means
	// the default under ~/.rollsync.
	DBPath string `json:"db_path,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:          ModeLocal,
		ServiceKeyEnv: "ROLLSYNC_SERVICE_KEY",
	}
}

// ConfigPath returns the path to the config file.
// Falls back to current directory if home directory cannot be determined.
func ConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "rollsync", "config.json")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "rollsync", "config.json")
	}
	return filepath.Join(homeDir, ".config", "rollsync", "config.json")
}

// Load reads the configuration from disk, then applies ROLLSYNC_MODE,
// ROLLSYNC_AUTH_URL, ROLLSYNC_REST_URL, and ROLLSYNC_DB environment
// overrides. A missing file yields the defaults. The result is not
// validated, so a broken file can still be loaded and repaired.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the configuration from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("ROLLSYNC_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("ROLLSYNC_AUTH_URL"); v != "" {
		cfg.AuthURL = v
	}
	if v := os.Getenv("ROLLSYNC_REST_URL"); v != "" {
		cfg.RestURL = v
	}
	if v := os.Getenv("ROLLSYNC_DB"); v != "" {
		cfg.DBPath = v
	}
	if cfg.ServiceKeyEnv == "" {
		cfg.ServiceKeyEnv = "ROLLSYNC_SERVICE_KEY"
	}
	return cfg, nil
}

// Validate checks mode membership and mode-specific requirements.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Mode)) {
	case ModeGoTrue:
		if strings.TrimSpace(c.AuthURL) == "" {
			return fmt.Errorf("gotrue mode requires auth_url")
		}
	case ModeLocal:
	default:
		return fmt.Errorf("unknown mode %q (supported: gotrue, local)", c.Mode)
	}
	return nil
}

// ProfileURL returns the profile query API base URL. When rest_url is
// unset it is derived from AuthURL, which covers hosted deployments
// that expose both services under one project URL.
func (c *Config) ProfileURL() string {
	if c.RestURL != "" {
		return c.RestURL
	}
	if strings.Contains(c.AuthURL, "/auth/") {
		return strings.Replace(c.AuthURL, "/auth/", "/rest/", 1)
	}
	return strings.TrimRight(c.AuthURL, "/") + "/rest/v1"
}

// ServiceKey reads the service-role key from the configured environment
// variable.
func (c *Config) ServiceKey() (string, error) {
	key := os.Getenv(c.ServiceKeyEnv)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", c.ServiceKeyEnv)
	}
	return key, nil
}

// Save writes the configuration to disk atomically.
func (c *Config) Save() error {
	return c.SaveTo(ConfigPath())
}

// SaveTo writes the configuration to an explicit path.
func (c *Config) SaveTo(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp config: %w", err)
	}
	return nil
}
