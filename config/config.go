// Package config loads service configuration with viper.
//
// Precedence, highest first: command-line flags bound by the caller,
// COMMISSION_* environment variables, the YAML config file, defaults.
// Nested keys map to env vars with "." replaced by "_", so
// reconciler.interval is COMMISSION_RECONCILER_INTERVAL.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "COMMISSION"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Rates      RatesConfig      `mapstructure:"rates"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Lock       LockConfig       `mapstructure:"lock"`
	IDs        IDConfig         `mapstructure:"ids"`
	Receipt    ReceiptConfig    `mapstructure:"receipt"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig selects persistence. Driver "memory" keeps everything in
// process and is meant for demos.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | memory
	Path   string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

type ReconcilerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Workers  int           `mapstructure:"workers"`
}

// RatesConfig points at a JSON rate book. Empty means the built-in baseline.
type RatesConfig struct {
	File string `mapstructure:"file"`
}

// RedisConfig enables the distributed entitlement lock when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LockConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type IDConfig struct {
	Node int64 `mapstructure:"node"`
}

type ReceiptConfig struct {
	IssuerName string `mapstructure:"issuer_name"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "commission.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.service_name", "commission")
	v.SetDefault("metrics.environment", "dev")
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval", time.Hour)
	v.SetDefault("reconciler.workers", 4)
	v.SetDefault("rates.file", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("ids.node", 1)
	v.SetDefault("receipt.issuer_name", "")
}

// New returns a viper instance with defaults and env overrides wired.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (if non-empty) into v and decodes the result.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path required for sqlite"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q unknown", c.Database.Driver))
	}
	if c.Reconciler.Enabled && c.Reconciler.Interval <= 0 {
		errs = append(errs, errors.New("reconciler.interval must be positive"))
	}
	if c.Reconciler.Workers < 0 {
		errs = append(errs, errors.New("reconciler.workers must not be negative"))
	}
	if c.IDs.Node < 0 || c.IDs.Node > 1023 {
		errs = append(errs, fmt.Errorf("ids.node %d out of range 0-1023", c.IDs.Node))
	}
	return errors.Join(errs...)
}
