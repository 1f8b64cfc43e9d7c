package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration of the extractor.
// Values come from defaults, an optional TOML file and the environment,
// with the environment winning.
type Config struct {
	Environment string          `toml:"environment" mapstructure:"environment"`
	EnvFiles    []string        `toml:"env_files" mapstructure:"env_files"`
	Log         LogConfig       `toml:"log" mapstructure:"log"`
	Database    DatabaseConfig  `toml:"database" mapstructure:"database"`
	Datastore   DatastoreConfig `toml:"datastore" mapstructure:"datastore"`
	Timezone    TimezoneConfig  `toml:"timezone" mapstructure:"timezone"`
	Server      ServerConfig    `toml:"server" mapstructure:"server"`
	Metrics     MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	History     HistoryConfig   `toml:"history" mapstructure:"history"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
	AppID      string `toml:"app_id" mapstructure:"app_id"`
	TaskID     string `toml:"task_id" mapstructure:"task_id"`
}

// DatabaseConfig describes how to reach the per-country databases.
// For postgres the database is <country>_db and the user <country>_rw.
// For sqlite every country gets <sqlite_dir>/<country>.db.
type DatabaseConfig struct {
	Driver         string        `toml:"driver" mapstructure:"driver"`
	Host           string        `toml:"host" mapstructure:"host"`
	Port           int           `toml:"port" mapstructure:"port"`
	Password       string        `toml:"password" mapstructure:"password"`
	SSLMode        string        `toml:"ssl_mode" mapstructure:"ssl_mode"`
	ConnectTimeout time.Duration `toml:"connect_timeout" mapstructure:"connect_timeout"`
	SQLiteDir      string        `toml:"sqlite_dir" mapstructure:"sqlite_dir"`
}

type DatastoreConfig struct {
	URL     string        `toml:"url" mapstructure:"url"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// TimezoneConfig configures the timezone service client. A zero CacheTTL keeps
// the fetched table for the process lifetime.
type TimezoneConfig struct {
	URL      string        `toml:"url" mapstructure:"url"`
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
	CacheTTL time.Duration `toml:"cache_ttl" mapstructure:"cache_ttl"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	CertFile string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `toml:"key_file" mapstructure:"key_file"`
}

type MetricsConfig struct {
	Enabled     bool   `toml:"enabled" mapstructure:"enabled"`
	PushGateway string `toml:"push_gateway" mapstructure:"push_gateway"`
}

// HistoryConfig selects where run outcomes are recorded. Empty DSN disables it.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	EnvProduction = "production"
)

// envBindings keeps the variable names the service has always been deployed with.
var envBindings = map[string][]string{
	"environment":          {"EXTRACTOR_ENVIRONMENT", "NODE_ENV"},
	"env_files":            {"EXTRACTOR_ENV_FILES"},
	"log.level":            {"EXTRACTOR_LOG_LEVEL", "LOG_LEVEL"},
	"log.file":             {"EXTRACTOR_LOG_FILE"},
	"log.app_id":           {"MARATHON_APP_ID"},
	"log.task_id":          {"MESOS_TASK_ID"},
	"database.driver":      {"EXTRACTOR_DATABASE_DRIVER", "DB_DRIVER"},
	"database.host":        {"EXTRACTOR_DATABASE_HOST", "DB_HOST"},
	"database.port":        {"EXTRACTOR_DATABASE_PORT", "DB_PORT"},
	"database.password":    {"EXTRACTOR_DATABASE_PASSWORD", "DB_PASSWORD"},
	"database.ssl_mode":    {"EXTRACTOR_DATABASE_SSL_MODE", "DB_SSL_MODE"},
	"database.sqlite_dir":  {"EXTRACTOR_DATABASE_SQLITE_DIR"},
	"datastore.url":        {"EXTRACTOR_DATASTORE_URL", "DATASTORE_API_URL"},
	"timezone.url":         {"EXTRACTOR_TIMEZONE_URL", "TIMEZONE_SERVICE_API_URL"},
	"timezone.cache_ttl":   {"EXTRACTOR_TIMEZONE_CACHE_TTL"},
	"server.listen":        {"EXTRACTOR_SERVER_LISTEN"},
	"metrics.enabled":      {"EXTRACTOR_METRICS_ENABLED"},
	"metrics.push_gateway": {"EXTRACTOR_METRICS_PUSH_GATEWAY"},
	"history.dsn":          {"EXTRACTOR_HISTORY_DSN"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.connect_timeout", 500*time.Millisecond)
	v.SetDefault("datastore.timeout", 10*time.Second)
	v.SetDefault("timezone.timeout", 10*time.Second)
	v.SetDefault("timezone.cache_ttl", time.Duration(0))
	v.SetDefault("server.listen", ":8000")
}

// Load builds a Config. path may be empty, in which case only defaults and
// the environment are used. Env files named by env_files are loaded into the
// process environment before decoding; they never override variables that
// are already set.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if files := envFiles(v, path); len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envFiles returns env_files entries; relative entries resolve against the
// config file directory.
func envFiles(v *viper.Viper, configPath string) []string {
	raw := v.GetStringSlice("env_files")
	if len(raw) == 1 && strings.Contains(raw[0], ",") {
		raw = strings.Split(raw[0], ",")
	}
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !filepath.IsAbs(f) && configPath != "" {
			f = filepath.Join(filepath.Dir(configPath), f)
		}
		out = append(out, filepath.Clean(f))
	}
	return out
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database.host is required for postgres"))
		}
	case DriverSQLite:
		if c.Database.SQLiteDir == "" {
			errs = append(errs, errors.New("database.sqlite_dir is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q (supported: %s, %s)",
			c.Database.Driver, DriverPostgres, DriverSQLite))
	}
	if c.Database.ConnectTimeout < 0 {
		errs = append(errs, errors.New("database.connect_timeout must not be negative"))
	}
	if c.Timezone.CacheTTL < 0 {
		errs = append(errs, errors.New("timezone.cache_ttl must not be negative"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether logs should use the machine-readable format.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}
