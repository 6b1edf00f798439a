// Package config loads dotfleet configuration from a YAML file, applying
// struct-tag defaults for anything the file leaves out.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	// DataDir is where exported sample tables are written.
	DataDir string `yaml:"data_dir" default:"data"`

	// DatabasePath is the SQLite device/recording database.
	DatabasePath string `yaml:"database_path" default:"dotfleet.db"`

	// LockPath guards against two fleet managers driving the same hardware.
	LockPath string `yaml:"lock_path" default:"dotfleet.lock"`

	ScanTimeoutSeconds int `yaml:"scan_timeout_seconds" default:"10"`
	PollIntervalMs     int `yaml:"poll_interval_ms" default:"200"`

	// AllowList restricts Bluetooth discovery to these addresses. Empty
	// means accept every advertising dot.
	AllowList []string `yaml:"allow_list"`

	// ClassifierCommand is the external jump classifier: samples go in as
	// CSV on stdin, jump records come back as JSON on stdout.
	ClassifierCommand []string `yaml:"classifier_command"`

	// IncludeResearchFields selects the full column set on export.
	IncludeResearchFields bool `yaml:"include_research_fields"`
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file. A missing file is not an error: the
// defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMs)
	}
	if c.ScanTimeoutSeconds <= 0 {
		return fmt.Errorf("scan_timeout_seconds must be positive, got %d", c.ScanTimeoutSeconds)
	}
	return nil
}

// ScanTimeout is the Bluetooth scan bound as a duration.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.ScanTimeoutSeconds) * time.Second
}

// PollInterval is the charging-set poll period as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// NewLogger creates a logger configured per the LogLevel field.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
