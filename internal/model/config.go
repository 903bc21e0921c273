package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ServiceConfig is the top-level configuration for the draftspace service.
type ServiceConfig struct {
	// DBPath is the path of the SQLite database backing the drafts.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// MinFlushDelayMS is the minimum quiet period (in milliseconds) after
	// an edit before its draft is flushed to storage.
	MinFlushDelayMS int `mapstructure:"min_flush_delay_ms" yaml:"min_flush_delay_ms"`

	// MaxFlushDelayMS caps (in milliseconds) how long a continuously
	// edited draft may go unflushed, counted from the first unflushed edit.
	MaxFlushDelayMS int `mapstructure:"max_flush_delay_ms" yaml:"max_flush_delay_ms"`

	// MaxIdleMin is how long (in minutes) a space may sit untouched
	// before DeleteExpired reaps it.
	MaxIdleMin int `mapstructure:"max_idle_min" yaml:"max_idle_min"`
}

// MinFlushDelay returns the minimum flush delay as a duration.
func (c *ServiceConfig) MinFlushDelay() time.Duration {
	return time.Duration(c.MinFlushDelayMS) * time.Millisecond
}

// MaxFlushDelay returns the maximum flush delay as a duration.
func (c *ServiceConfig) MaxFlushDelay() time.Duration {
	return time.Duration(c.MaxFlushDelayMS) * time.Millisecond
}

// MaxIdle returns the idle-expiry threshold as a duration.
func (c *ServiceConfig) MaxIdle() time.Duration {
	return time.Duration(c.MaxIdleMin) * time.Minute
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/draftspace/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "draftspace", "config.yaml")
}

// defaultServiceConfig returns a sensible default configuration.
func defaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		DBPath:          filepath.Join(".", "draftspace.db"),
		MinFlushDelayMS: 5000,
		MaxFlushDelayMS: 30000,
		MaxIdleMin:      60,
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*ServiceConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("db_path", filepath.Join(".", "draftspace.db"))
	v.SetDefault("min_flush_delay_ms", 5000)
	v.SetDefault("max_flush_delay_ms", 30000)
	v.SetDefault("max_idle_min", 60)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultServiceConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultServiceConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultServiceConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.MaxFlushDelayMS < cfg.MinFlushDelayMS {
		return nil, fmt.Errorf("config %s: max_flush_delay_ms (%d) below min_flush_delay_ms (%d)",
			path, cfg.MaxFlushDelayMS, cfg.MinFlushDelayMS)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *ServiceConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("db_path", cfg.DBPath)
	v.Set("min_flush_delay_ms", cfg.MinFlushDelayMS)
	v.Set("max_flush_delay_ms", cfg.MaxFlushDelayMS)
	v.Set("max_idle_min", cfg.MaxIdleMin)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
