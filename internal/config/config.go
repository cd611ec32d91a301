// Package config loads and validates page-analyzer configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppName names the XDG directories and the config file search path.
const AppName = "page-analyzer"

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Snapshot and notification backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Fetcher       FetcherConfig       `mapstructure:"fetcher"`
	Snapshots     SnapshotConfig      `mapstructure:"snapshots"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// DatabaseConfig selects and tunes the repository backend.
type DatabaseConfig struct {
	// Driver is postgres, sqlite or memory. Empty infers it from DSN.
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	// AutoMigrate creates the schema whenever the application starts.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// FetcherConfig tunes the outbound page fetch.
type FetcherConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// SnapshotConfig sets where fetched bodies are archived.
type SnapshotConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// NotificationsConfig holds metadata for check event publishing.
type NotificationsConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment. Variables from a .env file
// in the working directory are loaded first; DATABASE_URL and PORT are
// honored alongside the PAGE_ANALYZER_ prefixed names. With an empty path,
// config.yaml is looked up in the working directory and the XDG config home.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("PAGE_ANALYZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database.dsn", "PAGE_ANALYZER_DATABASE_DSN", "DATABASE_URL"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("server.port", "PAGE_ANALYZER_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, AppName))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime_seconds", 3600)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("fetcher.user_agent", "page-analyzer/1.0")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("fetcher.max_body_bytes", 10*1024*1024)
	v.SetDefault("snapshots.backend", BackendNone)
	v.SetDefault("snapshots.base_dir", "")
	v.SetDefault("snapshots.gcs_bucket", "")
	v.SetDefault("snapshots.prefix", "snapshots")
	v.SetDefault("snapshots.content_type", "text/html; charset=utf-8")
	v.SetDefault("notifications.backend", BackendNone)
	v.SetDefault("notifications.project_id", "")
	v.SetDefault("notifications.topic", "page-analyzer-checks")
	v.SetDefault("logging.development", false)
}

// applyDerived fills values that depend on other settings.
func (c *Config) applyDerived() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = InferDriver(c.Database.DSN)
	}
	if c.Database.Driver == DriverSQLite && c.Database.DSN == "" {
		c.Database.DSN = DefaultSQLitePath()
	}
	if c.Snapshots.Backend == BackendLocal && c.Snapshots.BaseDir == "" {
		c.Snapshots.BaseDir = filepath.Join(xdg.DataHome, AppName, "snapshots")
	}
}

// InferDriver picks postgres for postgres URLs and keyword DSNs, sqlite otherwise.
func InferDriver(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres
	case strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return DriverPostgres
	default:
		return DriverSQLite
	}
}

// DefaultSQLitePath is the database file used when no DSN is configured.
func DefaultSQLitePath() string {
	return filepath.Join(xdg.DataHome, AppName, AppName+".db")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("database.driver %q is not one of postgres, sqlite, memory", c.Database.Driver)
	}
	if c.Database.MinConns > c.Database.MaxConns && c.Database.MaxConns > 0 {
		return fmt.Errorf("database.min_conns must not exceed database.max_conns")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Fetcher.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetcher.max_body_bytes must be > 0")
	}
	switch c.Snapshots.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Snapshots.BaseDir == "" {
			return fmt.Errorf("snapshots.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Snapshots.GCSBucket == "" {
			return fmt.Errorf("snapshots.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("snapshots.backend %q is not one of none, memory, local, gcs", c.Snapshots.Backend)
	}
	switch c.Notifications.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Notifications.ProjectID == "" || c.Notifications.Topic == "" {
			return fmt.Errorf("notifications.project_id and notifications.topic are required for the pubsub backend")
		}
	default:
		return fmt.Errorf("notifications.backend %q is not one of none, memory, pubsub", c.Notifications.Backend)
	}
	return nil
}

// FetchTimeout is the per-check outbound request budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds a single API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// MaxConnLifetime is the pool connection lifetime.
func (c Config) MaxConnLifetime() time.Duration {
	return time.Duration(c.Database.MaxConnLifetimeSeconds) * time.Second
}
