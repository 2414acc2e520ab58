package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/hubofallthings/hatsync/internal/database"
	"github.com/hubofallthings/hatsync/pkg/validator"
)

// Config represents the runtime configuration for hatsync.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	HAT         HATConfig         `mapstructure:"hat"`
	Tokens      TokensConfig      `mapstructure:"tokens"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server and logging.
type ServerConfig struct {
	Port      int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format" validate:"omitempty,oneof=json console"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver" validate:"required,oneof=sqlite sqlite3 postgres postgresql mysql mariadb"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Backend    string           `mapstructure:"backend" validate:"oneof=database redis"`
	DefaultTTL time.Duration    `mapstructure:"default_ttl"`
	Redis      RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// HATConfig describes the HAT the service talks to.
type HATConfig struct {
	Domain     string        `mapstructure:"domain" validate:"omitempty,hatdomain"`
	Scheme     string        `mapstructure:"scheme" validate:"oneof=http https"`
	APIVersion string        `mapstructure:"api_version"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Token      string        `mapstructure:"token"`
	Take       int           `mapstructure:"take" validate:"gte=0"`
}

// TokensConfig controls how HAT tokens are stored.
type TokensConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// SyncConfig tunes the sync coordinators.
type SyncConfig struct {
	DedupeInflight bool                    `mapstructure:"dedupe_inflight"`
	Types          map[string]TypeOverride `mapstructure:"types" validate:"dive"`
}

// TypeOverride replaces parts of a shipped record type descriptor. Zero values keep the shipped value.
type TypeOverride struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Source string        `mapstructure:"source" validate:"omitempty,hatname"`
	Table  string        `mapstructure:"table" validate:"omitempty,hatname"`
}

// MaintenanceConfig schedules background jobs. An empty schedule disables the job.
type MaintenanceConfig struct {
	PurgeSchedule    string `mapstructure:"purge_schedule"`
	LogSchedule      string `mapstructure:"log_schedule"`
	RefreshSchedule  string `mapstructure:"refresh_schedule"`
	LogRetentionDays int    `mapstructure:"log_retention_days" validate:"gte=0"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("HATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	config.HAT.Domain = strings.ToLower(strings.TrimSpace(config.HAT.Domain))
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if err := validator.ValidateStruct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Cache.Backend == "redis" && strings.TrimSpace(c.Cache.Redis.Address) == "" {
		return errors.New("config: cache.redis.address is required for the redis backend")
	}
	return validateTokenKey(c.Tokens.EncryptionKey)
}

// ConnectionConfig converts the database section into the database package representation.
func (d DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(d.Driver)),
		Path:   d.Path,
		DSN:    d.DSN,
	}

	var auth DBAuthConfig
	switch cfg.Driver {
	case "postgres", "postgresql":
		auth = d.Postgres
	case "mysql", "mariadb":
		auth = d.MySQL
	default:
		return cfg
	}

	cfg.Host = auth.Host
	cfg.Port = auth.Port
	cfg.Name = auth.Database
	cfg.User = auth.Username
	cfg.Password = auth.Password
	cfg.Options = auth.Options
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/hatsync.sqlite")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("cache.backend", "database")
	v.SetDefault("cache.default_ttl", "0s")
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("hat.domain", "")
	v.SetDefault("hat.scheme", "https")
	v.SetDefault("hat.api_version", "v2.6")
	v.SetDefault("hat.timeout", "30s")
	v.SetDefault("hat.token", "")
	v.SetDefault("hat.take", 1000)

	v.SetDefault("tokens.encryption_key", "")

	v.SetDefault("sync.dedupe_inflight", false)

	v.SetDefault("maintenance.purge_schedule", "@every 1h")
	v.SetDefault("maintenance.log_schedule", "@daily")
	v.SetDefault("maintenance.refresh_schedule", "")
	v.SetDefault("maintenance.log_retention_days", 30)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
