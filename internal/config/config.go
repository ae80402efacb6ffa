package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// DeviceConfig identifies the controller and how to connect to it.
type DeviceConfig struct {
	Address        string        `yaml:"address"` // MAC on Linux, CoreBluetooth UUID on macOS
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ConnectRetries int           `yaml:"connect_retries"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// SessionConfig holds command cycle timings.
type SessionConfig struct {
	BurstTimeout      time.Duration `yaml:"burst_timeout"`
	BurstSize         int           `yaml:"burst_size"`
	WriteInterval     time.Duration `yaml:"write_interval"`
	WriteWithResponse bool          `yaml:"write_with_response"`
	WatchInterval     time.Duration `yaml:"watch_interval"`
}

// LogConfig holds logging settings. An empty File logs to stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// MetricsConfig controls the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blipctl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ConnectTimeout: 10 * time.Second,
			ConnectRetries: 5,
			MaxBackoff:     30 * time.Second,
		},
		Session: SessionConfig{
			BurstTimeout:      2 * time.Second,
			BurstSize:         3,
			WriteInterval:     100 * time.Millisecond,
			WriteWithResponse: true,
			WatchInterval:     30 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in log.file is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Log.File = expandTilde(cfg.Log.File)

	return cfg, nil
}

// Validate checks the config for invalid values. The device address is
// not required here since it may come from the command line.
func (c *Config) Validate() error {
	if c.Device.ConnectTimeout <= 0 {
		return fmt.Errorf("device.connect_timeout must be > 0")
	}
	if c.Device.ConnectRetries < 0 {
		return fmt.Errorf("device.connect_retries must be >= 0, got %d", c.Device.ConnectRetries)
	}
	if c.Device.MaxBackoff <= 0 {
		return fmt.Errorf("device.max_backoff must be > 0")
	}

	if c.Session.BurstTimeout <= 0 {
		return fmt.Errorf("session.burst_timeout must be > 0")
	}
	if c.Session.BurstSize <= 0 {
		return fmt.Errorf("session.burst_size must be > 0, got %d", c.Session.BurstSize)
	}
	if c.Session.WriteInterval < 0 {
		return fmt.Errorf("session.write_interval must be >= 0")
	}
	if c.Session.WatchInterval <= 0 {
		return fmt.Errorf("session.watch_interval must be > 0")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}
	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0 when log.file is set")
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
