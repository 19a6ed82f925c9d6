// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/focusforge/internal/infra"
)

const (
	// FileName is the config file inside the data directory.
	FileName = "config.yaml"

	// DefaultListenAddr is the loopback address the daemon serves on.
	DefaultListenAddr = "127.0.0.1:7425"

	EnvListenAddr = "FOCUSFORGE_LISTEN_ADDR"
	EnvDataDir    = "FOCUSFORGE_DATA_DIR"
)

// Config holds the daemon settings. Timer settings live in the state store.
type Config struct {
	ListenAddr        string        `yaml:"listen_addr"`
	DataDir           string        `yaml:"data_dir"`
	Store             string        `yaml:"store"`
	LogFile           string        `yaml:"log_file"`
	LogLevel          string        `yaml:"log_level"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultConfig returns the defaults rooted at dataDir.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		ListenAddr:        DefaultListenAddr,
		DataDir:           dataDir,
		Store:             infra.StoreSQLite,
		LogFile:           filepath.Join(dataDir, "focusforge.log"),
		LogLevel:          "info",
		HeartbeatInterval: 30 * time.Second,
	}
}

// Overrides are the command-line values; empty fields are ignored.
type Overrides struct {
	DataDir    string
	ListenAddr string
	Store      string
	LogLevel   string
}

// Resolve builds the effective config: defaults, then <data dir>/config.yaml,
// then environment variables, then command-line overrides.
func Resolve(o Overrides, getenv func(string) string) (*Config, error) {
	dataDir := infra.DetectPaths().DataDir
	if v := getenv(EnvDataDir); v != "" {
		dataDir = v
	}
	if o.DataDir != "" {
		dataDir = o.DataDir
	}

	cfg, err := Load(filepath.Join(dataDir, FileName), dataDir)
	if err != nil {
		return cfg, err
	}

	if v := getenv(EnvListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if o.ListenAddr != "" {
		cfg.ListenAddr = o.ListenAddr
	}
	if o.Store != "" {
		cfg.Store = o.Store
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}

	return cfg, cfg.Validate()
}

// Load reads path over the defaults for dataDir.
// If the file does not exist, the defaults are returned.
func Load(path, dataDir string) (*Config, error) {
	cfg := DefaultConfig(dataDir)

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return DefaultConfig(dataDir), fmt.Errorf("failed to parse config yaml: %w", err)
	}

	// A relocated data dir moves the default log file with it.
	if cfg.DataDir != dataDir && cfg.LogFile == filepath.Join(dataDir, "focusforge.log") {
		cfg.LogFile = filepath.Join(cfg.DataDir, "focusforge.log")
	}
	return cfg, nil
}

// Save writes cfg as YAML to path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config yaml: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects unusable values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr must not be empty")
	}
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	if !infra.IsStoreBackend(c.Store) {
		return fmt.Errorf("unknown store backend %q (want %s, %s or %s)",
			c.Store, infra.StoreFile, infra.StoreSQLite, infra.StoreEncrypted)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat_interval must be positive")
	}
	return nil
}

// Level returns the parsed log level (info when invalid).
func (c *Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
