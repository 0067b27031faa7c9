package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Custody.Timeout == 0 {
		cfg.Custody.Timeout = 10 * time.Second
	}
	if cfg.Metadata.Timeout == 0 {
		cfg.Metadata.Timeout = 10 * time.Second
	}
	if cfg.Metadata.Retry.MaxAttempts == 0 {
		cfg.Metadata.Retry.MaxAttempts = 5
	}
	if cfg.Metadata.Retry.InitialDelay == 0 {
		cfg.Metadata.Retry.InitialDelay = 500 * time.Millisecond
	}
	if cfg.Metadata.Retry.MaxDelay == 0 {
		cfg.Metadata.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Metadata.Retry.Multiplier == 0 {
		cfg.Metadata.Retry.Multiplier = 2.0
	}
	if cfg.Staging.DisplayCurrency == "" {
		cfg.Staging.DisplayCurrency = "USD"
	}
	if cfg.Staging.SessionTTL == 0 {
		cfg.Staging.SessionTTL = 30 * time.Minute
	}

	return &cfg, nil
}
