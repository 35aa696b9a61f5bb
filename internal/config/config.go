// Package config loads the service configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Service struct {
		Name      string `yaml:"name"`
		AdminPort int    `yaml:"admin_port"`
	} `yaml:"service"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"postgres"`

	Queue struct {
		LockDurationSeconds     int `yaml:"lock_duration_seconds"`
		MaxAttempts             int `yaml:"max_attempts"`
		BackoffBaseSeconds      int `yaml:"backoff_base_seconds"`
		KeepCompleted           int `yaml:"keep_completed"`
		CompletedRetentionHours int `yaml:"completed_retention_hours"`
		KeepFailed              int `yaml:"keep_failed"`
		FailedRetentionHours    int `yaml:"failed_retention_hours"`
	} `yaml:"queue"`

	Worker struct {
		Concurrency         int `yaml:"concurrency"`
		RatePerSecond       int `yaml:"rate_per_second"`
		PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	} `yaml:"worker"`

	Pipeline struct {
		ChunkSize       int `yaml:"chunk_size"`
		MatchWindowDays int `yaml:"match_window_days"`
	} `yaml:"pipeline"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Set defaults
	if cfg.Service.Name == "" {
		cfg.Service.Name = "fund-reconciliation-processor"
	}
	if cfg.Service.AdminPort == 0 {
		cfg.Service.AdminPort = 8088
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Queue.LockDurationSeconds == 0 {
		cfg.Queue.LockDurationSeconds = 300
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BackoffBaseSeconds == 0 {
		cfg.Queue.BackoffBaseSeconds = 30
	}
	if cfg.Queue.KeepCompleted == 0 {
		cfg.Queue.KeepCompleted = 100
	}
	if cfg.Queue.CompletedRetentionHours == 0 {
		cfg.Queue.CompletedRetentionHours = 24
	}
	if cfg.Queue.KeepFailed == 0 {
		cfg.Queue.KeepFailed = 500
	}
	if cfg.Queue.FailedRetentionHours == 0 {
		cfg.Queue.FailedRetentionHours = 168
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 5
	}
	if cfg.Worker.RatePerSecond == 0 {
		cfg.Worker.RatePerSecond = 10
	}
	if cfg.Worker.PollIntervalSeconds == 0 {
		cfg.Worker.PollIntervalSeconds = 1
	}
	if cfg.Pipeline.ChunkSize == 0 {
		cfg.Pipeline.ChunkSize = 500
	}
	if cfg.Pipeline.MatchWindowDays == 0 {
		cfg.Pipeline.MatchWindowDays = 90
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// GetPostgresConnectionString returns a connection string for PostgreSQL
func (c *Config) GetPostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Database,
		c.Postgres.SSLMode,
	)
}
