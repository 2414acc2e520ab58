package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hubofallthings/hatsync/internal/records"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "console", cfg.Server.LogFormat)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, 3306, cfg.Database.MySQL.Port)

	require.True(t, cfg.Cache.UsesRedis())
	require.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	require.Equal(t, "redis.example.com:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 2*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, "alice.hubofallthings.net", cfg.HAT.Domain)
	require.Equal(t, 10*time.Second, cfg.HAT.Timeout)
	require.Equal(t, 250, cfg.HAT.Take)

	require.True(t, cfg.Sync.DedupeInflight)
	require.Equal(t, 15*time.Minute, cfg.Sync.Types["notes"].TTL)
	require.Equal(t, "notablesv2", cfg.Sync.Types["notes"].Table)

	require.Equal(t, "@every 30m", cfg.Maintenance.PurgeSchedule)
	require.Equal(t, "@daily", cfg.Maintenance.LogSchedule)
	require.Equal(t, 7, cfg.Maintenance.LogRetentionDays)

	require.False(t, cfg.Monitoring.Prometheus.Enabled)
	require.True(t, cfg.Monitoring.Health.Enabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "database", cfg.Cache.Backend)
	require.Equal(t, "https", cfg.HAT.Scheme)
	require.Equal(t, 30*time.Second, cfg.HAT.Timeout)
	require.False(t, cfg.Sync.DedupeInflight)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("HATSYNC_HAT_DOMAIN", "bob.hubofallthings.net")
	t.Setenv("HATSYNC_SERVER_PORT", "9191")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "bob.hubofallthings.net", cfg.HAT.Domain)
	require.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("hat:\n  domain: https://alice.hubofallthings.net\n"), 0o600))

	_, err := LoadConfig(dir)
	require.Error(t, err)
}

func TestDatabaseConnectionConfig(t *testing.T) {
	cfg := DatabaseConfig{
		Driver: "MySQL",
		MySQL: DBAuthConfig{
			Host:     "db",
			Port:     3307,
			Database: "hatsync",
			Username: "user",
			Password: "pass",
			Options:  map[string]string{"charset": "utf8mb4"},
		},
	}

	conn := cfg.ConnectionConfig()
	require.Equal(t, "mysql", conn.Driver)
	require.Equal(t, "db", conn.Host)
	require.Equal(t, 3307, conn.Port)
	require.Equal(t, "hatsync", conn.Name)
	require.Equal(t, "user", conn.User)
	require.Equal(t, "utf8mb4", conn.Options["charset"])

	sqlite := DatabaseConfig{Driver: "sqlite", Path: "/tmp/hatsync.sqlite"}.ConnectionConfig()
	require.Equal(t, "/tmp/hatsync.sqlite", sqlite.Path)
	require.Empty(t, sqlite.Host)
}

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{
		Cache: CacheConfig{DefaultTTL: time.Minute},
		Sync: SyncConfig{Types: map[string]TypeOverride{
			"notes": {TTL: 15 * time.Minute, Source: "custom", Table: "notablesv2"},
		}},
	}

	notes := ApplyOverrides(cfg, records.Notes)
	require.Equal(t, 15*time.Minute, notes.TTL)
	require.Equal(t, "custom", notes.Source)
	require.Equal(t, "notablesv2", notes.Table)
	require.Equal(t, "notablesv2", notes.Schema.Name)
	require.Equal(t, "notablesv1", records.Notes.Table, "shipped descriptor must not change")

	locations := ApplyOverrides(cfg, records.Locations)
	require.Equal(t, time.Minute, locations.TTL)
	require.Equal(t, records.Locations.Table, locations.Table)

	require.Equal(t, records.Profiles.TTL, ApplyOverrides[records.Profile](nil, records.Profiles).TTL)
}

func TestHATClientConfig(t *testing.T) {
	client := HATConfig{Scheme: " http ", APIVersion: "v2.6", Timeout: time.Second, Take: 10}.ClientConfig()
	require.Equal(t, "http", client.Scheme)
	require.Equal(t, time.Second, client.Timeout)
	require.Equal(t, 10, client.Take)
}
