package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agenttrace settings. A Config is an immutable snapshot:
// components keep the pointer they were given and are swapped to a new
// snapshot wholesale, never mutated in place.
type Config struct {
	OutputDir             string        `yaml:"output_dir"`
	MaxSessionsRetained   int           `yaml:"max_sessions_retained"`
	AutoCleanupDays       int           `yaml:"auto_cleanup_days"`
	CaptureRequestBodies  bool          `yaml:"capture_request_bodies"`
	CaptureResponseBodies bool          `yaml:"capture_response_bodies"`
	MaxBodySize           int           `yaml:"max_body_size"`
	SensitiveHeaders      []string      `yaml:"sensitive_headers"`
	RedactPatterns        []string      `yaml:"redact_patterns"`
	BatchSize             int           `yaml:"batch_size"`
	FlushInterval         time.Duration `yaml:"flush_interval"`
	MaxMemoryUsageMB      int           `yaml:"max_memory_usage_mb"`
	LedgerPath            string        `yaml:"ledger_path"`
}

// DefaultSensitiveHeaders are the field names whose values are always
// replaced wholesale. Matching is a case-insensitive substring check in
// either direction.
var DefaultSensitiveHeaders = []string{
	"authorization",
	"x-api-key",
	"api-key",
	"cookie",
	"set-cookie",
	"x-auth-token",
	"proxy-authorization",
}

// DefaultRedactPatterns cover common API key shapes, bearer tokens and
// email addresses inside string values.
var DefaultRedactPatterns = []string{
	`sk-ant-[A-Za-z0-9_-]{10,}`,
	`sk-[A-Za-z0-9_-]{20,}`,
	`AIza[A-Za-z0-9_-]{30,}`,
	`(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`,
	`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		OutputDir:             ".agenttrace",
		MaxSessionsRetained:   50,
		AutoCleanupDays:       30,
		CaptureRequestBodies:  true,
		CaptureResponseBodies: true,
		MaxBodySize:           1024 * 1024,
		SensitiveHeaders:      append([]string(nil), DefaultSensitiveHeaders...),
		RedactPatterns:        append([]string(nil), DefaultRedactPatterns...),
		BatchSize:             50,
		FlushInterval:         5 * time.Second,
		MaxMemoryUsageMB:      256,
		LedgerPath:            "agenttrace.db",
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects snapshots that would break the pipeline.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("config: output_dir must not be empty")
	}
	if c.MaxSessionsRetained <= 0 {
		return fmt.Errorf("config: max_sessions_retained must be positive, got %d", c.MaxSessionsRetained)
	}
	if c.MaxBodySize <= 0 {
		return fmt.Errorf("config: max_body_size must be positive, got %d", c.MaxBodySize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive, got %d", c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("config: flush_interval must be positive, got %s", c.FlushInterval)
	}
	return nil
}
