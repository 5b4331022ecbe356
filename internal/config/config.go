// Package config loads tinct settings from a YAML file and TINCT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Persistence backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

const (
	DefaultDatabasePath = ".tinct/cache.db"
	DefaultRedisAddr    = "localhost:6379"
	EnvPrefix           = "TINCT"
)

// ErrUnknownBackend is returned by Validate for an unrecognised
// persistence.backend value.
var ErrUnknownBackend = errors.New("config: unknown persistence backend")

// Config is the full set of tinct settings.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Scripts     ScriptsConfig     `mapstructure:"scripts"`
	Workers     int               `mapstructure:"workers"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// PersistenceConfig selects the persistent tier.
type PersistenceConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds connection details for the redis backend.
type RedisConfig struct {
	Addrs    []string `mapstructure:"addrs"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	Prefix   string   `mapstructure:"prefix"`
}

// CacheConfig sizes the in-memory tier.
type CacheConfig struct {
	MaxDocuments int `mapstructure:"max_documents"`
}

// ScriptsConfig points at classification scripts on disk. An empty Dir
// uses the embedded scripts.
type ScriptsConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig selects the zap preset and level.
type LoggingConfig struct {
	Env   string `mapstructure:"env"`
	Level string `mapstructure:"level"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from configPath, or from tinct.yaml in the
// current directory or .tinct/ when configPath is empty. A missing file is
// not an error; defaults and environment variables still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(DefaultDatabasePath))
		v.SetConfigName("tinct")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("persistence.backend", BackendSQLite)
	v.SetDefault("persistence.redis.addrs", []string{DefaultRedisAddr})
	v.SetDefault("persistence.redis.username", "")
	v.SetDefault("persistence.redis.password", "")
	v.SetDefault("persistence.redis.db", 0)
	v.SetDefault("persistence.redis.prefix", "tinct")
	v.SetDefault("cache.max_documents", 8)
	v.SetDefault("scripts.dir", "")
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("logging.env", "local")
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.addr", "")
}

// Validate checks values that cannot be expressed as defaults.
func (c *Config) Validate() error {
	switch c.Persistence.Backend {
	case BackendSQLite, BackendRedis, BackendNone:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Persistence.Backend)
	}
	if c.Persistence.Backend == BackendRedis && len(c.Persistence.Redis.Addrs) == 0 {
		return errors.New("config: persistence.redis.addrs is required for the redis backend")
	}
	if c.Persistence.Backend == BackendSQLite && c.Database.Path == "" {
		return errors.New("config: database.path is required for the sqlite backend")
	}
	if c.Cache.MaxDocuments < 1 {
		return fmt.Errorf("config: cache.max_documents must be positive, got %d", c.Cache.MaxDocuments)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	return nil
}
