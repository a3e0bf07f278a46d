// Package config provides YAML configuration loading with validation and
// environment variable substitution for the dependency protection service.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server          ServerConfig       `yaml:"server" json:"server"`
	Metrics         MetricsConfig      `yaml:"metrics" json:"metrics"`
	Logging         LoggingConfig      `yaml:"logging" json:"logging"`
	RateLimit       RateLimitConfig    `yaml:"rate_limit" json:"rate_limit"`
	Auth            AuthConfig         `yaml:"auth" json:"auth"`
	Admin           AdminConfig        `yaml:"admin" json:"admin"`
	BreakerDefaults BreakerConfig      `yaml:"breaker_defaults" json:"breaker_defaults"`
	Dependencies    []DependencyConfig `yaml:"dependencies" json:"dependencies"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              int       `yaml:"port" json:"port"`
	ReadTimeoutMs     int       `yaml:"read_timeout_ms" json:"read_timeout_ms"`
	WriteTimeoutMs    int       `yaml:"write_timeout_ms" json:"write_timeout_ms"`
	ShutdownTimeoutMs int       `yaml:"shutdown_timeout_ms" json:"shutdown_timeout_ms"`
	TLS               TLSConfig `yaml:"tls" json:"tls"`
}

// ReadTimeout returns the server read timeout as a time.Duration.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMs) * time.Millisecond
}

// WriteTimeout returns the server write timeout as a time.Duration.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMs) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown deadline as a time.Duration.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutMs) * time.Millisecond
}

// TLSConfig holds TLS termination settings for the service endpoints.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	MinVersion string `yaml:"min_version" json:"min_version"` // "1.2" or "1.3"; default: "1.2"
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	Level      string `yaml:"level" json:"level"`             // "debug", "info", "warn", "error"; default: "info"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"` // max days to retain rotated files; default: 30
}

// ValidLogLevels are the accepted log level strings.
var ValidLogLevels = map[string]bool{
	"":      true, // empty means default ("info")
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RateLimitConfig holds the admin API rate limiter settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// AuthConfig holds JWT bearer token settings for mutating admin endpoints.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string `yaml:"issuer" json:"issuer"`
	Audience  string `yaml:"audience" json:"audience"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// BreakerConfig holds circuit breaker tuning. Zero-valued fields fall back
// to the service defaults. A breaker's tuning is fixed once it is created;
// reloads only affect breakers created afterwards.
type BreakerConfig struct {
	FailureThreshold   float64 `yaml:"failure_threshold" json:"failure_threshold"`
	ResetTimeoutMs     int     `yaml:"reset_timeout_ms" json:"reset_timeout_ms"`
	MonitoringPeriodMs int     `yaml:"monitoring_period_ms" json:"monitoring_period_ms"`
	MinimumRequests    *int    `yaml:"minimum_requests" json:"minimum_requests"`
	HalfOpenRequests   int     `yaml:"half_open_requests" json:"half_open_requests"`
}

// ResetTimeout returns the open-state duration as a time.Duration.
func (b BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(b.ResetTimeoutMs) * time.Millisecond
}

// MonitoringPeriod returns the accounting window as a time.Duration.
func (b BreakerConfig) MonitoringPeriod() time.Duration {
	return time.Duration(b.MonitoringPeriodMs) * time.Millisecond
}

// DependencyConfig declares one protected downstream dependency.
type DependencyConfig struct {
	Name            string         `yaml:"name" json:"name"`
	Address         string         `yaml:"address" json:"address"` // host:port, probed over TCP
	ProbeIntervalMs int            `yaml:"probe_interval_ms" json:"probe_interval_ms"`
	ProbeTimeoutMs  int            `yaml:"probe_timeout_ms" json:"probe_timeout_ms"`
	Breaker         *BreakerConfig `yaml:"breaker" json:"breaker,omitempty"`
}

// ProbeInterval returns the probe cadence as a time.Duration.
func (d DependencyConfig) ProbeInterval() time.Duration {
	return time.Duration(d.ProbeIntervalMs) * time.Millisecond
}

// ProbeTimeout returns the per-probe deadline as a time.Duration.
func (d DependencyConfig) ProbeTimeout() time.Duration {
	return time.Duration(d.ProbeTimeoutMs) * time.Millisecond
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMs == 0 {
		cfg.Server.ReadTimeoutMs = 15000
	}
	if cfg.Server.WriteTimeoutMs == 0 {
		cfg.Server.WriteTimeoutMs = 15000
	}
	if cfg.Server.ShutdownTimeoutMs == 0 {
		cfg.Server.ShutdownTimeoutMs = 10000
	}
	if cfg.Server.TLS.Enabled && cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = "1.2"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 25
	}

	applyBreakerDefaults(&cfg.BreakerDefaults)
	for i := range cfg.Dependencies {
		d := &cfg.Dependencies[i]
		if d.ProbeIntervalMs == 0 {
			d.ProbeIntervalMs = 15000
		}
		if d.ProbeTimeoutMs == 0 {
			d.ProbeTimeoutMs = 2000
		}
	}
}

func applyBreakerDefaults(b *BreakerConfig) {
	if b.FailureThreshold == 0 {
		b.FailureThreshold = 0.5
	}
	if b.ResetTimeoutMs == 0 {
		b.ResetTimeoutMs = 30000
	}
	if b.MonitoringPeriodMs == 0 {
		b.MonitoringPeriodMs = 60000
	}
	if b.MinimumRequests == nil {
		n := 10
		b.MinimumRequests = &n
	}
	if b.HalfOpenRequests == 0 {
		b.HalfOpenRequests = 3
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if cfg.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be positive")
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
		}
		if cfg.Auth.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when auth is enabled")
		}
		if cfg.Auth.Audience == "" {
			return fmt.Errorf("auth.audience is required when auth is enabled")
		}
	}

	if err := validateBreaker("breaker_defaults", cfg.BreakerDefaults); err != nil {
		return err
	}

	// TLS validation
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.MinVersion != "1.2" && cfg.Server.TLS.MinVersion != "1.3" {
			return fmt.Errorf("server.tls.min_version must be \"1.2\" or \"1.3\", got %q", cfg.Server.TLS.MinVersion)
		}
	}

	// Logging validation
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}
	if !ValidLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	seen := make(map[string]bool)
	for i, d := range cfg.Dependencies {
		if d.Name == "" {
			return fmt.Errorf("dependencies[%d].name is required", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate dependency name: %s", d.Name)
		}
		seen[d.Name] = true

		if d.Address == "" {
			return fmt.Errorf("dependencies[%d].address is required", i)
		}
		if _, _, err := net.SplitHostPort(d.Address); err != nil {
			return fmt.Errorf("dependencies[%d].address must be host:port: %w", i, err)
		}
		if d.ProbeIntervalMs < 100 {
			return fmt.Errorf("dependencies[%d].probe_interval_ms must be at least 100", i)
		}
		if d.ProbeTimeoutMs < 1 {
			return fmt.Errorf("dependencies[%d].probe_timeout_ms must be positive", i)
		}
		if d.Breaker != nil {
			applyBreakerDefaults(d.Breaker)
			if err := validateBreaker(fmt.Sprintf("dependencies[%d].breaker", i), *d.Breaker); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateBreaker(field string, b BreakerConfig) error {
	if b.FailureThreshold <= 0 || b.FailureThreshold > 1 {
		return fmt.Errorf("%s.failure_threshold must be between 0 (exclusive) and 1 (inclusive)", field)
	}
	if b.ResetTimeoutMs <= 0 {
		return fmt.Errorf("%s.reset_timeout_ms must be positive", field)
	}
	if b.MonitoringPeriodMs <= 0 {
		return fmt.Errorf("%s.monitoring_period_ms must be positive", field)
	}
	if b.MinimumRequests != nil && *b.MinimumRequests < 0 {
		return fmt.Errorf("%s.minimum_requests must be non-negative", field)
	}
	if b.HalfOpenRequests < 1 {
		return fmt.Errorf("%s.half_open_requests must be positive", field)
	}
	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Auth.Enabled && strings.Contains(cfg.Auth.JWTSecret, "${") {
		warnings = append(warnings, "auth.jwt_secret contains unresolved environment variable")
	}
	if cfg.Admin.Enabled && !cfg.Auth.Enabled {
		warnings = append(warnings, "admin API is enabled without token auth; only the IP allowlist protects mutating endpoints")
	}
	if len(cfg.Dependencies) == 0 {
		warnings = append(warnings, "no dependencies configured; only preset breakers will be registered")
	}
	return warnings
}
