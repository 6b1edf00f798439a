package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dotfleet/internal/config"
)

// loadConfig reads the configuration file named by --config and applies the
// --log-level override on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	// --log-level takes precedence over the file
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		if _, err := logrus.ParseLevel(logLevelStr); err != nil {
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
		cfg.LogLevel = logLevelStr
	}

	return cfg, nil
}

// configureLogger loads the configuration and builds its logger in one step.
func configureLogger(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.NewLogger(), nil
}
