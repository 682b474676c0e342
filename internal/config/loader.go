package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/quotaflow/quotaflow/pkg/errors"
)

// LoadConfig loads the configuration from file and environment variables.
// Lookup order: explicit path (when non-empty), /etc/quotaflow/config.yaml,
// ./config.yaml; QUOTAFLOW_* environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/quotaflow/")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.ErrInvalidConfig("failed to read config file").WithCause(err)
		}
	}

	v.SetEnvPrefix("QUOTAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ErrInvalidConfig("failed to unmarshal config").WithCause(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.shutdown_timeout", 15)

	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.dial_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.headers", true)
	v.SetDefault("rate_limit.status_code", 429)
	v.SetDefault("rate_limit.message", "too many requests")
	v.SetDefault("rate_limit.key_prefix", "quotaflow")
	v.SetDefault("rate_limit.probe_interval", 30)
	v.SetDefault("rate_limit.sweep_interval", 60)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "quotaflow")
	v.SetDefault("tracing.sampling_rate", 0.1)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.topic", "quotaflow.denials")
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.write_timeout", 3)
}
