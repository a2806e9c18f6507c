package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	kverrors "github.com/fusekv/fusekv/pkg/errors"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "FUSEKV"

// Config is the complete fusekv configuration.
type Config struct {
	DisableRaw bool `mapstructure:"disable_raw" yaml:"disable_raw"`
	ReadOnly   bool `mapstructure:"read_only" yaml:"read_only"`
	AllowOther bool `mapstructure:"allow_other" yaml:"allow_other"`

	// User and Group name the default owner. Empty means the invoking user
	// and that user's primary group. Numeric ids are accepted.
	User  string `mapstructure:"user" yaml:"user"`
	Group string `mapstructure:"group" yaml:"group"`

	// Chmod holds the default permission bits as an octal string.
	Chmod string `mapstructure:"chmod" yaml:"chmod" validate:"required"`

	// MaxResults caps directory listings; -1 disables the cap.
	MaxResults int64 `mapstructure:"max_results" yaml:"max_results" validate:"min=-1"`

	Servers        []ServerConfig     `mapstructure:"server" yaml:"server" validate:"required,min=1,dive"`
	SentinelMaster string             `mapstructure:"sentinel_master" yaml:"sentinel_master"`
	Permissions    []PermissionConfig `mapstructure:"permission" yaml:"permission" validate:"dive"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Mount   MountConfig   `mapstructure:"mount" yaml:"mount"`

	// Resolved during Load.
	UID  uint32 `mapstructure:"-" yaml:"-"`
	GID  uint32 `mapstructure:"-" yaml:"-"`
	Mode uint32 `mapstructure:"-" yaml:"-"`
}

// ServerConfig names one store endpoint (a sentinel in sentinel mode).
type ServerConfig struct {
	URL string `mapstructure:"url" yaml:"url" validate:"required"`
}

// PermissionConfig overrides ownership, mode or listing cap for the paths
// matching Pattern. Unset fields fall back to the global defaults.
type PermissionConfig struct {
	Pattern    string `mapstructure:"pattern" yaml:"pattern" validate:"required"`
	User       string `mapstructure:"user" yaml:"user,omitempty"`
	Group      string `mapstructure:"group" yaml:"group,omitempty"`
	Chmod      string `mapstructure:"chmod" yaml:"chmod,omitempty"`
	MaxResults *int64 `mapstructure:"max_results" yaml:"max_results,omitempty" validate:"omitempty,min=-1"`

	// Resolved during Load.
	Regexp *regexp.Regexp `mapstructure:"-" yaml:"-"`
	UID    *uint32        `mapstructure:"-" yaml:"-"`
	GID    *uint32        `mapstructure:"-" yaml:"-"`
	Mode   *uint32        `mapstructure:"-" yaml:"-"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Valid values: TRACE, DEBUG, INFO, WARN, ERROR (case-insensitive,
	// normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=TRACE DEBUG INFO WARN WARNING ERROR"`
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
	// stdout, stderr or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// MetricsConfig controls the Prometheus and health listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address" validate:"required_if=Enabled true"`
}

// NetworkConfig holds store transport settings.
type NetworkConfig struct {
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" validate:"gt=0"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
	PoolSize     int           `mapstructure:"pool_size" yaml:"pool_size" validate:"gt=0"`
}

// MountConfig holds kernel cache settings.
type MountConfig struct {
	AttrTimeout  time.Duration `mapstructure:"attr_timeout" yaml:"attr_timeout" validate:"gte=0"`
	EntryTimeout time.Duration `mapstructure:"entry_timeout" yaml:"entry_timeout" validate:"gte=0"`
}

// SentinelMode reports whether more than one server is configured.
func (c *Config) SentinelMode() bool {
	return len(c.Servers) > 1
}

// ServerURLs returns the configured server URLs in declaration order.
func (c *Config) ServerURLs() []string {
	urls := make([]string, 0, len(c.Servers))
	for _, s := range c.Servers {
		urls = append(urls, s.URL)
	}
	return urls
}

// Load builds the configuration from defaults, the optional file at
// configPath, FUSEKV_* environment variables and the changed flags in fs.
// An empty configPath searches the default configuration directory; a
// missing file there is not an error.
func Load(configPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, kverrors.NewError(kverrors.ErrCodeConfigLoad, "failed to bind flags").
			WithComponent("config").WithCause(err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, kverrors.NewError(kverrors.ErrCodeConfigLoad, "failed to unmarshal config").
			WithComponent("config").WithCause(err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, kverrors.NewError(kverrors.ErrCodeInvalidConfig, "configuration validation failed").
			WithComponent("config").WithCause(err)
	}
	if err := Resolve(&cfg); err != nil {
		return nil, kverrors.NewError(kverrors.ErrCodeInvalidConfig, "configuration resolution failed").
			WithComponent("config").WithCause(err)
	}

	return &cfg, nil
}

// setupViper configures environment and config file lookup.
func setupViper(v *viper.Viper, configPath string) {
	// FUSEKV_READ_ONLY=true, FUSEKV_LOGGING_LEVEL=DEBUG, ...
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("logging.level", EnvPrefix+"_LOGGING_LEVEL", EnvPrefix+"_LOG_LEVEL")

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(GetConfigDir())
	v.SetConfigName("config")
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && configPath == "" {
			return nil
		}
		return kverrors.NewError(kverrors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithPath(configPath).
			WithCause(err)
	}
	return nil
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"read-only":       "read_only",
	"disable-raw":     "disable_raw",
	"allow-other":     "allow_other",
	"user":            "user",
	"group":           "group",
	"chmod":           "chmod",
	"max-results":     "max_results",
	"sentinel-master": "sentinel_master",
	"log-level":       "logging.level",
	"log-format":      "logging.format",
	"log-output":      "logging.output",
	"metrics-address": "metrics.address",
}

// bindFlags layers the flags in fs over viper. Only flags that were set on
// the command line take effect.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}

	if fs.Changed("metrics-address") {
		v.Set("metrics.enabled", true)
	}

	if fs.Changed("server") {
		urls, err := fs.GetStringSlice("server")
		if err != nil {
			return fmt.Errorf("server flag: %w", err)
		}
		servers := make([]map[string]interface{}, 0, len(urls))
		for _, u := range urls {
			servers = append(servers, map[string]interface{}{"url": u})
		}
		v.Set("server", servers)
	}
	return nil
}

// GetConfigDir returns $XDG_CONFIG_HOME/fusekv, falling back to
// ~/.config/fusekv and finally the working directory.
func GetConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fusekv")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "fusekv")
}

// Dump renders the effective configuration as YAML.
func Dump(cfg *Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}
