package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultServerURL      = "redis://127.0.0.1:6379"
	DefaultChmod          = "755"
	DefaultMaxResults     = int64(1000)
	DefaultSentinelMaster = "mymaster"
	DefaultMetricsAddress = ":9310"
)

// NewDefault returns a configuration populated with defaults. Identity
// fields are left unresolved.
func NewDefault() *Config {
	cfg := &Config{MaxResults: DefaultMaxResults}
	ApplyDefaults(cfg)
	return cfg
}

// setDefaults registers every scalar key with viper so that AutomaticEnv
// can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("disable_raw", false)
	v.SetDefault("read_only", false)
	v.SetDefault("allow_other", false)
	v.SetDefault("user", "")
	v.SetDefault("group", "")
	v.SetDefault("chmod", DefaultChmod)
	v.SetDefault("max_results", DefaultMaxResults)
	v.SetDefault("sentinel_master", DefaultSentinelMaster)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", DefaultMetricsAddress)

	v.SetDefault("network.dial_timeout", 5*time.Second)
	v.SetDefault("network.read_timeout", 3*time.Second)
	v.SetDefault("network.write_timeout", 3*time.Second)
	v.SetDefault("network.pool_size", 16)

	v.SetDefault("mount.attr_timeout", time.Second)
	v.SetDefault("mount.entry_timeout", time.Second)
}

// ApplyDefaults fills zero values left after unmarshalling and normalizes
// case-insensitive fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Chmod == "" {
		cfg.Chmod = DefaultChmod
	}
	if len(cfg.Servers) == 0 {
		cfg.Servers = []ServerConfig{{URL: DefaultServerURL}}
	}
	if cfg.SentinelMaster == "" {
		cfg.SentinelMaster = DefaultSentinelMaster
	}

	applyLoggingDefaults(&cfg.Logging)

	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = DefaultMetricsAddress
	}

	if cfg.Network.DialTimeout == 0 {
		cfg.Network.DialTimeout = 5 * time.Second
	}
	if cfg.Network.ReadTimeout == 0 {
		cfg.Network.ReadTimeout = 3 * time.Second
	}
	if cfg.Network.WriteTimeout == 0 {
		cfg.Network.WriteTimeout = 3 * time.Second
	}
	if cfg.Network.PoolSize == 0 {
		cfg.Network.PoolSize = 16
	}

	if cfg.Mount.AttrTimeout == 0 {
		cfg.Mount.AttrTimeout = time.Second
	}
	if cfg.Mount.EntryTimeout == 0 {
		cfg.Mount.EntryTimeout = time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	cfg.Format = strings.ToLower(cfg.Format)
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}
