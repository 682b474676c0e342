// Package config defines the QuotaFlow service configuration. It is loaded
// once at process start; rules are immutable thereafter.
package config

import (
	"fmt"

	"github.com/quotaflow/quotaflow/pkg/errors"
)

// Config holds the application's configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // in seconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // in seconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // in seconds
}

type RedisConfig struct {
	Mode           string   `mapstructure:"mode"` // standalone, cluster, sentinel
	Addrs          []string `mapstructure:"addrs"`
	Password       string   `mapstructure:"password"`
	DB             int      `mapstructure:"db"`
	SentinelMaster string   `mapstructure:"sentinel_master"`
	PoolSize       int      `mapstructure:"pool_size"`
	MinIdleConns   int      `mapstructure:"min_idle_conns"`
	DialTimeout    int      `mapstructure:"dial_timeout"`  // in seconds
	ReadTimeout    int      `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout   int      `mapstructure:"write_timeout"` // in seconds
}

// RuleConfig is the throttling configuration attached to a rule.
type RuleConfig struct {
	Algorithm     string  `mapstructure:"algorithm"`
	WindowSeconds int     `mapstructure:"window_seconds"`
	MaxRequests   int64   `mapstructure:"max_requests"`
	Rate          float64 `mapstructure:"rate"`           // tokens/sec, token bucket only
	BurstCapacity int64   `mapstructure:"burst_capacity"` // token bucket only, defaults to max_requests
	Distributed   bool    `mapstructure:"distributed"`    // attempt the shared store
}

// Rule binds path/method patterns to a throttling config. Rules are evaluated
// in declaration order; the first match wins.
type Rule struct {
	ID           string     `mapstructure:"id"`
	Name         string     `mapstructure:"name"`
	Paths        []string   `mapstructure:"paths"`
	Methods      []string   `mapstructure:"methods"` // empty = all methods
	ErrorMessage string     `mapstructure:"error_message"`
	Config       RuleConfig `mapstructure:"config"`
}

type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Headers enables echoing X-RateLimit-* response headers.
	Headers bool `mapstructure:"headers"`

	// StatusCode is the denial status. Defaults to 429.
	StatusCode int `mapstructure:"status_code"`

	// Message is the default denial body message.
	Message string `mapstructure:"message"`

	// KeyPrefix namespaces shared-store keys.
	KeyPrefix string `mapstructure:"key_prefix"`

	// ProbeInterval is the degraded-state health probe interval in seconds.
	ProbeInterval int `mapstructure:"probe_interval"`

	// SweepInterval is the local store eviction sweep interval in seconds.
	SweepInterval int `mapstructure:"sweep_interval"`

	// Default is the global fallback config applied when no rule matches.
	// Nil means unmatched requests are unthrottled.
	Default *RuleConfig `mapstructure:"default"`

	Rules []Rule `mapstructure:"rules"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
	Environment    string  `mapstructure:"environment"`
}

type AuditConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
	BatchSize    int      `mapstructure:"batch_size"`
	WriteTimeout int      `mapstructure:"write_timeout"` // in seconds
}

type MonitoringConfig struct {
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// Validate checks essential configuration values. Configuration errors are
// fatal at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.ErrInvalidConfig("invalid server port %d", c.Server.Port)
	}

	seen := make(map[string]struct{}, len(c.RateLimit.Rules))
	for i := range c.RateLimit.Rules {
		rule := &c.RateLimit.Rules[i]
		if rule.ID == "" {
			return errors.ErrInvalidConfig("rule %d has no id", i)
		}
		if _, dup := seen[rule.ID]; dup {
			return errors.ErrInvalidConfig("duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = struct{}{}

		if len(rule.Paths) == 0 {
			return errors.ErrInvalidConfig("rule %q has no path patterns", rule.ID)
		}
		if err := rule.Config.validate(); err != nil {
			return errors.ErrInvalidConfig("rule %q: %v", rule.ID, err)
		}
		if rule.Config.Distributed && len(c.Redis.Addrs) == 0 {
			return errors.ErrInvalidConfig("rule %q is distributed but no redis address is configured", rule.ID)
		}
	}

	if c.RateLimit.Default != nil {
		if err := c.RateLimit.Default.validate(); err != nil {
			return errors.ErrInvalidConfig("default config: %v", err)
		}
	}

	return nil
}

func (rc *RuleConfig) validate() error {
	switch rc.Algorithm {
	case "fixed_window", "sliding_window", "token_bucket":
	case "leaky_bucket":
		return fmt.Errorf("algorithm leaky_bucket is reserved and not implemented")
	default:
		return fmt.Errorf("unknown algorithm %q", rc.Algorithm)
	}
	if rc.WindowSeconds < 1 {
		return fmt.Errorf("window_seconds must be at least 1, got %d", rc.WindowSeconds)
	}
	if rc.MaxRequests < 1 {
		return fmt.Errorf("max_requests must be positive, got %d", rc.MaxRequests)
	}
	if rc.Algorithm == "token_bucket" {
		if rc.BurstCapacity < 0 {
			return fmt.Errorf("burst_capacity must not be negative, got %d", rc.BurstCapacity)
		}
		if rc.Rate < 0 {
			return fmt.Errorf("rate must not be negative, got %f", rc.Rate)
		}
	}
	return nil
}
