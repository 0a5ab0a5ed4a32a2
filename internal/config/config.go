// Package config provides configuration management for learnlog.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	yamlv3 "gopkg.in/yaml.v3"
	"gorm.io/gorm/logger"

	"github.com/thebtf/learnlog/pkg/models"
)

const (
	// EnvPrefix prefixes environment overrides. Nested keys are joined with
	// a double underscore: LEARNLOG_DB__MAX_CONNS sets db.max_conns.
	EnvPrefix = "LEARNLOG_"

	// DefaultServerAddr is the listen address of the HTTP API.
	DefaultServerAddr = "127.0.0.1:37780"
)

// Duration is a time.Duration written as "5s" in YAML and accepted as
// either a duration string or nanoseconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds the application configuration.
type Config struct {
	DB          DBConfig          `yaml:"db" json:"db" koanf:"db"`
	Retry       RetryConfig       `yaml:"retry" json:"retry" koanf:"retry"`
	Search      SearchConfig      `yaml:"search" json:"search" koanf:"search"`
	Analytics   AnalyticsConfig   `yaml:"analytics" json:"analytics" koanf:"analytics"`
	Server      ServerConfig      `yaml:"server" json:"server" koanf:"server"`
	Maintenance MaintenanceConfig `yaml:"maintenance" json:"maintenance" koanf:"maintenance"`
	LogLevel    string            `yaml:"log_level" json:"log_level" koanf:"log_level"`
}

// DBConfig selects and tunes the record store.
type DBConfig struct {
	Driver    string   `yaml:"driver" json:"driver" koanf:"driver"` // sqlite or postgres
	Path      string   `yaml:"path" json:"path" koanf:"path"`
	DSN       string   `yaml:"dsn,omitempty" json:"dsn,omitempty" koanf:"dsn"`
	MaxConns  int      `yaml:"max_conns" json:"max_conns" koanf:"max_conns"`
	LogLevel  string   `yaml:"log_level" json:"log_level" koanf:"log_level"` // silent, error, warn or info
	OpTimeout Duration `yaml:"op_timeout" json:"op_timeout" koanf:"op_timeout"`
}

// RetryConfig bounds the retries of unavailable-storage errors.
type RetryConfig struct {
	Attempts  int      `yaml:"attempts" json:"attempts" koanf:"attempts"`
	BaseDelay Duration `yaml:"base_delay" json:"base_delay" koanf:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay" json:"max_delay" koanf:"max_delay"`
}

// SearchConfig tunes the search manager.
type SearchConfig struct {
	DefaultLimit int      `yaml:"default_limit" json:"default_limit" koanf:"default_limit"`
	CacheTTL     Duration `yaml:"cache_ttl" json:"cache_ttl" koanf:"cache_ttl"`
	Hybrid       bool     `yaml:"hybrid" json:"hybrid" koanf:"hybrid"`
}

// AnalyticsConfig tunes aggregation.
type AnalyticsConfig struct {
	WindowDays      int      `yaml:"window_days" json:"window_days" koanf:"window_days"`
	TrendMinSamples int      `yaml:"trend_min_samples" json:"trend_min_samples" koanf:"trend_min_samples"`
	CacheTTL        Duration `yaml:"cache_ttl" json:"cache_ttl" koanf:"cache_ttl"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Addr           string   `yaml:"addr" json:"addr" koanf:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" koanf:"allowed_origins"`
	// CacheTTL caps the search and analytics cache TTLs while serving. Writes
	// come from other learnlog processes, so the server never sees them.
	CacheTTL Duration `yaml:"cache_ttl" json:"cache_ttl" koanf:"cache_ttl"`
}

// MaintenanceConfig schedules stale pattern cleanup.
type MaintenanceConfig struct {
	Enabled              bool   `yaml:"enabled" json:"enabled" koanf:"enabled"`
	Schedule             string `yaml:"schedule" json:"schedule" koanf:"schedule"` // standard 5-field cron expression
	PatternRetentionDays int    `yaml:"pattern_retention_days" json:"pattern_retention_days" koanf:"pattern_retention_days"`
}

// DataDir returns the data directory path (~/.learnlog).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".learnlog")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "learning.db")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		DB: DBConfig{
			Driver:    "sqlite",
			Path:      DBPath(),
			MaxConns:  4,
			LogLevel:  "silent",
			OpTimeout: Duration(5 * time.Second),
		},
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: Duration(100 * time.Millisecond),
			MaxDelay:  Duration(2 * time.Second),
		},
		Search: SearchConfig{
			DefaultLimit: 20,
			CacheTTL:     Duration(600 * time.Second),
			Hybrid:       true,
		},
		Analytics: AnalyticsConfig{
			WindowDays:      30,
			TrendMinSamples: 4,
			CacheTTL:        Duration(5 * time.Minute),
		},
		Server: ServerConfig{
			Addr:           DefaultServerAddr,
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
			CacheTTL:       Duration(30 * time.Second),
		},
		Maintenance: MaintenanceConfig{
			Enabled:              true,
			Schedule:             "0 3 * * *",
			PatternRetentionDays: 90,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path over the defaults, then applies
// LEARNLOG_* environment overrides and validates the result. A missing file
// is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps LEARNLOG_SEARCH__CACHE_TTL to search.cache_ttl.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to path as YAML, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var gormLogLevels = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(c.DB.Path) == "" {
			return models.NewValidationError("db.path", "is required for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(c.DB.DSN) == "" {
			return models.NewValidationError("db.dsn", "is required for postgres")
		}
	default:
		return models.NewValidationError("db.driver", "must be sqlite or postgres (got %q)", c.DB.Driver)
	}
	if c.DB.MaxConns < 1 {
		return models.NewValidationError("db.max_conns", "must be >= 1")
	}
	if _, ok := gormLogLevels[c.DB.LogLevel]; !ok {
		return models.NewValidationError("db.log_level", "must be silent, error, warn or info (got %q)", c.DB.LogLevel)
	}
	if c.DB.OpTimeout <= 0 {
		return models.NewValidationError("db.op_timeout", "must be positive")
	}

	if c.Retry.Attempts < 1 {
		return models.NewValidationError("retry.attempts", "must be >= 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return models.NewValidationError("retry.base_delay", "delays must not be negative")
	}

	if c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > 1000 {
		return models.NewValidationError("search.default_limit", "must be within [1,1000] (got %d)", c.Search.DefaultLimit)
	}
	if c.Search.CacheTTL < 0 {
		return models.NewValidationError("search.cache_ttl", "must not be negative")
	}

	if c.Analytics.WindowDays < 1 {
		return models.NewValidationError("analytics.window_days", "must be >= 1")
	}
	if c.Analytics.TrendMinSamples < 2 {
		return models.NewValidationError("analytics.trend_min_samples", "must be >= 2")
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		return models.NewValidationError("server.addr", "is required")
	}
	if c.Server.CacheTTL < 0 {
		return models.NewValidationError("server.cache_ttl", "must not be negative")
	}

	if c.Maintenance.Enabled {
		if _, err := cron.ParseStandard(c.Maintenance.Schedule); err != nil {
			return models.NewValidationError("maintenance.schedule", "invalid cron expression %q: %v", c.Maintenance.Schedule, err)
		}
	}
	if c.Maintenance.PatternRetentionDays < 1 {
		return models.NewValidationError("maintenance.pattern_retention_days", "must be >= 1")
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return models.NewValidationError("log_level", "%v", err)
	}
	return nil
}

// GormLogLevel maps db.log_level onto the GORM logger.
func (c *DBConfig) GormLogLevel() logger.LogLevel {
	if lvl, ok := gormLogLevels[c.LogLevel]; ok {
		return lvl
	}
	return logger.Silent
}

// Level returns the parsed log level, info when unset or malformed.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
