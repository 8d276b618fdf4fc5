// Package config provides centralized configuration management for the
// TuShare cache proxy. Configuration is loaded from a JSON file with
// environment variable overrides and validated before use, so every other
// component can assume a well-formed configuration.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"log/slog"
)

// DefaultPolicyKey is the operation-policy lookup key that must always be
// present. Operations without a specific policy fall back to it.
const DefaultPolicyKey = "default"

// AppConfig represents the complete application configuration.
type AppConfig struct {
	// Application metadata
	AppName string `json:"app_name" env:"TSCACHE_APP_NAME"`
	Version string `json:"version" env:"TSCACHE_VERSION"`

	// Upstream configuration
	Upstream UpstreamConfig `json:"upstream"`

	// Cache configuration
	Cache CacheConfig `json:"cache"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// FieldTypes maps field names to semantic types ("str", "float64",
	// "int64"), overriding or extending the built-in schema.
	FieldTypes map[string]string `json:"field_types"`
}

// UpstreamConfig configures the TuShare gateway.
type UpstreamConfig struct {
	Token           string            `json:"token" env:"TSCACHE_TOKEN"`                   // API token for authenticated requests
	BaseURL         string            `json:"base_url" env:"TSCACHE_BASE_URL"`             // Upstream endpoint URL
	RateLimitPerMin int               `json:"rate_limit_per_min" env:"TSCACHE_RATE_LIMIT"` // Requests per minute
	Timeout         string            `json:"timeout" env:"TSCACHE_HTTP_TIMEOUT"`          // HTTP request timeout
	Retry           RetryPolicyConfig `json:"retry_policy"`                                // Retry configuration
}

// RetryPolicyConfig configures retry behavior for transient upstream failures.
type RetryPolicyConfig struct {
	MaxAttempts  int    `json:"max_attempts"`  // Maximum attempts including the first
	InitialDelay string `json:"initial_delay"` // Initial delay between attempts
	MaxDelay     string `json:"max_delay"`     // Maximum delay between attempts
	Jitter       bool   `json:"jitter"`        // Add randomness to delays
}

// CacheConfig configures the on-disk cache store and the incremental
// reconciler's reference window.
type CacheConfig struct {
	Root           string                     `json:"root" env:"TSCACHE_CACHE_ROOT"`           // Cache directory root
	ReferenceYears int                        `json:"reference_years" env:"TSCACHE_REF_YEARS"` // Trailing reference window in years
	Operations     map[string]OperationPolicy `json:"operations"`                              // Per-operation policies; must contain "default"
}

// OperationPolicy is the cache policy of one upstream operation.
type OperationPolicy struct {
	ExpiryDays        int  `json:"expiry_days"`        // Entry freshness window in days
	IncrementalUpdate bool `json:"incremental_update"` // Route range queries through the reconciler
}

// PolicyFor returns the policy of the named operation, falling back to the
// required default entry when no specific policy exists.
func (c CacheConfig) PolicyFor(operation string) OperationPolicy {
	if policy, ok := c.Operations[operation]; ok {
		return policy
	}
	return c.Operations[DefaultPolicyKey]
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"TSCACHE_LOG_LEVEL"`         // Log level: debug, info, warn, error
	Format     string `json:"format" env:"TSCACHE_LOG_FORMAT"`       // Log format: json, text
	Output     string `json:"output" env:"TSCACHE_LOG_OUTPUT"`       // Output: stdout, stderr, file
	FilePath   string `json:"file_path" env:"TSCACHE_LOG_FILE_PATH"` // Log file path
	MaxSize    int    `json:"max_size"`                              // Maximum log file size in MB
	MaxBackups int    `json:"max_backups"`                           // Maximum log file backups
	MaxAge     int    `json:"max_age"`                               // Maximum log file age in days
	Compress   bool   `json:"compress"`                              // Compress rotated log files
}

// Manager handles configuration loading and validation.
type Manager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
}

// NewManager creates a configuration manager reading from the given path.
// An empty path skips file loading and uses defaults plus environment.
func NewManager(configPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		configPath: configPath,
		logger:     logger,
	}
}

// Load loads configuration with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (m *Manager) Load(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()

	if m.configPath != "" {
		if err := m.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := m.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := m.validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	m.config = config
	m.logger.Info("configuration loaded",
		"config_path", m.configPath,
		"cache_root", config.Cache.Root,
		"reference_years", config.Cache.ReferenceYears,
		"log_level", config.Logging.Level)

	return config, nil
}

// Config returns the most recently loaded configuration.
func (m *Manager) Config() *AppConfig {
	return m.config
}

// loadFromFile loads configuration from a JSON file.
func (m *Manager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.logger.Debug("config file does not exist, using defaults", "path", m.configPath)
		return nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", m.configPath, err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", m.configPath, err)
	}

	m.logger.Debug("loaded configuration from file", "path", m.configPath)
	return nil
}

// loadFromEnv loads configuration from environment variables.
func (m *Manager) loadFromEnv(config *AppConfig) error {
	if val := os.Getenv("TSCACHE_APP_NAME"); val != "" {
		config.AppName = val
	}
	if val := os.Getenv("TSCACHE_TOKEN"); val != "" {
		config.Upstream.Token = val
	}
	if val := os.Getenv("TSCACHE_BASE_URL"); val != "" {
		config.Upstream.BaseURL = val
	}
	if val := os.Getenv("TSCACHE_RATE_LIMIT"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Upstream.RateLimitPerMin = limit
		}
	}
	if val := os.Getenv("TSCACHE_HTTP_TIMEOUT"); val != "" {
		config.Upstream.Timeout = val
	}
	if val := os.Getenv("TSCACHE_CACHE_ROOT"); val != "" {
		config.Cache.Root = val
	}
	if val := os.Getenv("TSCACHE_REF_YEARS"); val != "" {
		if years, err := strconv.Atoi(val); err == nil {
			config.Cache.ReferenceYears = years
		}
	}
	if val := os.Getenv("TSCACHE_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("TSCACHE_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("TSCACHE_LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("TSCACHE_LOG_FILE_PATH"); val != "" {
		config.Logging.FilePath = val
	}

	m.logger.Debug("loaded configuration from environment variables")
	return nil
}

// validate checks the configuration for consistency and required fields.
func (m *Manager) validate(config *AppConfig) error {
	var errors []string

	// Validate upstream configuration
	if config.Upstream.BaseURL == "" {
		errors = append(errors, "upstream.base_url is required")
	}
	if config.Upstream.RateLimitPerMin <= 0 {
		errors = append(errors, "upstream.rate_limit_per_min must be greater than 0")
	}
	if _, err := time.ParseDuration(config.Upstream.Timeout); err != nil {
		errors = append(errors, fmt.Sprintf("upstream.timeout is not a valid duration: %v", err))
	}
	if config.Upstream.Retry.MaxAttempts <= 0 {
		errors = append(errors, "upstream.retry_policy.max_attempts must be greater than 0")
	}
	if _, err := time.ParseDuration(config.Upstream.Retry.InitialDelay); err != nil {
		errors = append(errors, fmt.Sprintf("upstream.retry_policy.initial_delay is not a valid duration: %v", err))
	}
	if _, err := time.ParseDuration(config.Upstream.Retry.MaxDelay); err != nil {
		errors = append(errors, fmt.Sprintf("upstream.retry_policy.max_delay is not a valid duration: %v", err))
	}

	// Validate cache configuration
	if config.Cache.Root == "" {
		errors = append(errors, "cache.root is required")
	}
	if config.Cache.ReferenceYears <= 0 {
		errors = append(errors, "cache.reference_years must be greater than 0")
	}
	if _, ok := config.Cache.Operations[DefaultPolicyKey]; !ok {
		errors = append(errors, fmt.Sprintf("cache.operations must contain a %q entry", DefaultPolicyKey))
	}
	for name, policy := range config.Cache.Operations {
		if policy.ExpiryDays <= 0 {
			errors = append(errors, fmt.Sprintf("cache.operations.%s.expiry_days must be greater than 0", name))
		}
	}

	// Validate field type overrides
	validFieldTypes := map[string]bool{"str": true, "float64": true, "int64": true}
	for field, typ := range config.FieldTypes {
		if !validFieldTypes[typ] {
			errors = append(errors, fmt.Sprintf("field_types.%s must be one of: str, float64, int64", field))
		}
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}
	if config.Logging.Output == "file" && config.Logging.FilePath == "" {
		errors = append(errors, "logging.file_path is required when logging.output is 'file'")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults. The "daily"
// operation is the only one with incremental reconciliation enabled out of
// the box, matching the per-entity window shape of its range queries.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "tscache",
		Version: "1.0.0",
		Upstream: UpstreamConfig{
			BaseURL:         "http://api.tushare.pro",
			RateLimitPerMin: 180,
			Timeout:         "30s",
			Retry: RetryPolicyConfig{
				MaxAttempts:  3,
				InitialDelay: "1s",
				MaxDelay:     "30s",
				Jitter:       true,
			},
		},
		Cache: CacheConfig{
			Root:           "./cache",
			ReferenceYears: 6,
			Operations: map[string]OperationPolicy{
				DefaultPolicyKey: {ExpiryDays: 10},
				"daily":          {ExpiryDays: 10, IncrementalUpdate: true},
				"trade_cal":      {ExpiryDays: 30},
				"stock_basic":    {ExpiryDays: 30},
				"stk_limit":      {ExpiryDays: 10},
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		},
		FieldTypes: map[string]string{},
	}
}

// String returns a string representation of the configuration with the
// upstream token redacted.
func (c *AppConfig) String() string {
	sanitized := *c
	sanitized.Upstream.Token = "[REDACTED]"

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}
