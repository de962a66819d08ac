// Package config provides configuration management for the ledger daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config represents the ledger daemon configuration.
type Config struct {
	Ledger  LedgerConfig  `yaml:"ledger"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// LedgerConfig tunes appends and the periodic self-check.
type LedgerConfig struct {
	MaxRetries           uint64        `yaml:"max_retries"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval"`
	VerifyOnStart        bool          `yaml:"verify_on_start"`
	VerifyInterval       time.Duration `yaml:"verify_interval"` // 0 disables
}

// StorageConfig contains storage-related settings.
type StorageConfig struct {
	Driver        string `yaml:"driver"` // "sqlite" or "memory"
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// APIConfig contains settings for the read-only HTTP API.
type APIConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	EnableStream   bool     `yaml:"enable_stream"`
	EnableMetrics  bool     `yaml:"enable_metrics"`
}

// LogConfig sets the go-log level for all ledger subsystems.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataPath := filepath.Join(homeDir, ".election-ledger", "data")

	return &Config{
		Ledger: LedgerConfig{
			MaxRetries:           8,
			RetryInitialInterval: 5 * time.Millisecond,
			RetryMaxInterval:     250 * time.Millisecond,
			VerifyOnStart:        true,
			VerifyInterval:       time.Hour,
		},
		Storage: StorageConfig{
			Driver:        DriverSQLite,
			Path:          dataPath,
			BusyTimeoutMS: 5000,
		},
		API: APIConfig{
			ListenAddr:     "127.0.0.1:8090",
			AllowedOrigins: []string{"*"},
			EnableStream:   true,
			EnableMetrics:  true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".election-ledger", "config.yaml")
}

// Load loads the configuration from a file. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default config if file doesn't exist
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Save saves the configuration to a file.
func Save(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath()
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// BusyTimeout returns storage.busy_timeout_ms as a duration.
func (c StorageConfig) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMS) * time.Millisecond
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.BusyTimeoutMS < 0 {
		return errors.New("storage.busy_timeout_ms must not be negative")
	}
	if c.Ledger.RetryInitialInterval <= 0 {
		return errors.New("ledger.retry_initial_interval must be positive")
	}
	if c.Ledger.RetryMaxInterval < c.Ledger.RetryInitialInterval {
		return errors.New("ledger.retry_max_interval must not be below retry_initial_interval")
	}
	if c.Ledger.VerifyInterval < 0 {
		return errors.New("ledger.verify_interval must not be negative")
	}
	if c.API.ListenAddr == "" {
		return errors.New("api.listen_addr is required")
	}
	return nil
}
