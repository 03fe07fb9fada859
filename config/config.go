// Package config provides configuration management for Tunnel Manager.
// It handles loading, saving, and validating application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adlara/tunnel-manager/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// ConnectTimeoutSec is the maximum time in seconds to wait for a tunnel
	// tool to print its public URL.
	ConnectTimeoutSec int `yaml:"connect_timeout_sec"`
	// DisconnectGraceSec is how long in seconds a tunnel process gets to exit
	// after a termination signal before it is force-killed.
	DisconnectGraceSec int `yaml:"disconnect_grace_sec"`
	// WatchIntervalSec is how often in seconds the status watcher re-polls
	// registered providers.
	WatchIntervalSec int `yaml:"watch_interval_sec"`
	// HistoryLimit caps the number of sessions shown by --history.
	HistoryLimit int `yaml:"history_limit"`
	// HistoryRetentionDays is how long finished sessions are kept before
	// being pruned at startup.
	HistoryRetentionDays int `yaml:"history_retention_days"`
	// EnableFileLog enables logging to a rotating file in addition to stdout.
	EnableFileLog bool `yaml:"enable_file_log"`
}

// DefaultConfig returns the default configuration.
// These are sensible defaults for most users.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeoutSec:    int(common.ConnectTimeout / time.Second),
		DisconnectGraceSec:   int(common.DisconnectGrace / time.Second),
		WatchIntervalSec:     int(common.WatchInterval / time.Second),
		HistoryLimit:         20,
		HistoryRetentionDays: 90,
		EnableFileLog:        true,
	}
}

// ConnectTimeout returns the connect timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

// DisconnectGrace returns the disconnect grace period as a duration.
func (c *Config) DisconnectGrace() time.Duration {
	return time.Duration(c.DisconnectGraceSec) * time.Second
}

// WatchInterval returns the watcher poll interval as a duration.
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.WatchIntervalSec) * time.Second
}

// HistoryRetention returns the history retention window as a duration.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}

// Load loads the configuration from the config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	// If it doesn't exist, return default configuration
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, common.WrapError(common.ErrConfigLoad, err.Error())
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	var config Config
	if err := decoder.Decode(&config); err != nil {
		return nil, common.WrapError(common.ErrConfigLoad, err.Error())
	}

	config.validate()

	return &config, nil
}

// validate clamps out-of-range values back to defaults.
func (c *Config) validate() {
	def := DefaultConfig()
	if c.ConnectTimeoutSec <= 0 {
		c.ConnectTimeoutSec = def.ConnectTimeoutSec
	}
	if c.DisconnectGraceSec <= 0 {
		c.DisconnectGraceSec = def.DisconnectGraceSec
	}
	if c.WatchIntervalSec <= 0 {
		c.WatchIntervalSec = def.WatchIntervalSec
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.HistoryRetentionDays <= 0 {
		c.HistoryRetentionDays = def.HistoryRetentionDays
	}
}

// Save saves the configuration to the file
func (c *Config) Save() error {
	configPath, err := getConfigPath()
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return common.WrapError(common.ErrConfigSave, err.Error())
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return common.WrapError(common.ErrConfigSave, err.Error())
	}

	return nil
}

func getConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", common.ConfigDirName, common.ConfigFileName), nil
}
