// Package config holds the engine configuration: transfer timing knobs, tree
// defaults, history storage, and saved session profiles.
package config

import (
	"fmt"
	"time"

	"github.com/sshdeck/sshdeck/internal/models"
)

// Config represents the application configuration.
type Config struct {
	Transfer TransferConfig  `yaml:"transfer"`
	Tree     TreeConfig      `yaml:"tree"`
	History  HistoryConfig   `yaml:"history"`
	Sessions []SessionConfig `yaml:"sessions"`
}

// TransferConfig holds transfer coordination settings.
type TransferConfig struct {
	// TimeoutSeconds bounds the wait for a terminal event per transfer.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// GracePeriodSeconds keeps terminal tasks visible before auto-removal.
	GracePeriodSeconds int `yaml:"grace_period_seconds"`
	// ProgressIntervalMillis throttles progress events per task.
	ProgressIntervalMillis int `yaml:"progress_interval_millis"`
}

// Timeout returns the terminal-event safety timeout as a duration.
func (c TransferConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GracePeriod returns the terminal-task retention as a duration.
func (c TransferConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// ProgressInterval returns the progress throttle as a duration.
func (c TransferConfig) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMillis) * time.Millisecond
}

// TreeConfig holds directory tree defaults.
type TreeConfig struct {
	SortField     models.SortField `yaml:"sort_field"`
	SortAscending bool             `yaml:"sort_ascending"`
}

// HistoryConfig holds transfer history settings.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path to the SQLite database. Empty selects the default app data path.
	Path string `yaml:"path"`
	// RetentionDays prunes rows older than this on startup. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// SessionConfig is a saved connection profile.
type SessionConfig struct {
	Name       string `yaml:"name"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	KeyPath    string `yaml:"key_path"`
	KnownHosts string `yaml:"known_hosts"`
	// Insecure disables host key verification. Off by default.
	Insecure bool `yaml:"insecure"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Transfer: TransferConfig{
			TimeoutSeconds:         60,
			GracePeriodSeconds:     3,
			ProgressIntervalMillis: 500,
		},
		Tree: TreeConfig{
			SortField:     models.SortByName,
			SortAscending: true,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 90,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Transfer.TimeoutSeconds < 1 {
		return fmt.Errorf("transfer.timeout_seconds: must be at least 1")
	}
	if c.Transfer.GracePeriodSeconds < 0 {
		return fmt.Errorf("transfer.grace_period_seconds: must not be negative")
	}
	if c.Transfer.ProgressIntervalMillis < 50 {
		return fmt.Errorf("transfer.progress_interval_millis: must be at least 50")
	}
	if c.Tree.SortField != models.SortByName && c.Tree.SortField != models.SortByModified {
		return fmt.Errorf("tree.sort_field: must be 'name' or 'modified'")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days: must not be negative")
	}
	for i, s := range c.Sessions {
		if s.Name == "" {
			return fmt.Errorf("sessions[%d].name: required", i)
		}
		if s.Host == "" {
			return fmt.Errorf("sessions[%d].host: required", i)
		}
		if s.Port < 0 || s.Port > 65535 {
			return fmt.Errorf("sessions[%d].port: out of range", i)
		}
	}
	return nil
}

// Session returns the saved session profile with the given name.
func (c *Config) Session(name string) (SessionConfig, bool) {
	for _, s := range c.Sessions {
		if s.Name == name {
			return s, true
		}
	}
	return SessionConfig{}, false
}
