package config

import (
	"time"

	"github.com/tellerhq/teller/internal/infra/custody"
	redisclient "github.com/tellerhq/teller/internal/infra/redis"
	"github.com/tellerhq/teller/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Custody  custody.Config     `yaml:"custody"`
	Metadata MetadataConfig     `yaml:"metadata"`
	Staging  StagingConfig      `yaml:"staging"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetadataConfig holds metadata store settings.
type MetadataConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
}

// RetryConfig holds retry policy settings for metadata fetches.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// StagingConfig holds staging session settings.
type StagingConfig struct {
	DisplayCurrency string        `yaml:"display_currency"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
}
