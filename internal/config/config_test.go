package config_test

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tracklight/tracklight/internal/config"
)

func TestLoadConfig_DefaultHostIsLocalhost(t *testing.T) {
	_ = os.Unsetenv("TRACKLIGHT_HOST")
	cfg, err := config.LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host,
		"Default host must be 127.0.0.1 for security")
}

func TestLoadConfig_CanOverrideHost(t *testing.T) {
	t.Setenv("TRACKLIGHT_HOST", "0.0.0.0")
	cfg, err := config.LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadConfig_IngestDefaults(t *testing.T) {
	_ = os.Unsetenv("TRACKLIGHT_QUEUE_SIZE")
	_ = os.Unsetenv("TRACKLIGHT_RATE_LIMIT")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Ingest.QueueSize)
	assert.Equal(t, 1000, cfg.Ingest.FlushIntervalMS)
	assert.Equal(t, 256, cfg.Ingest.MaxBatch)
	assert.True(t, cfg.Ingest.SpoolEnabled)
	assert.Equal(t, 50.0, cfg.Ingest.RateLimit)
	assert.Equal(t, 100, cfg.Ingest.RateBurst)
}

func TestLoadConfig_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("TRACKLIGHT_PORT", "not-a-number")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 6464, cfg.Server.Port)
}

// TestLoadConfigFile_MergesFileAndEnv verifies that env vars take precedence
// over config file values, and file values over defaults.
func TestLoadConfigFile_MergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracklight.yaml")
	content := []byte(`
server:
  port: 9090
storage:
  storage_engine: postgres
  postgres_dsn: postgres://localhost/timeline
ingest:
  max_batch: 64
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	t.Setenv("TRACKLIGHT_PORT", "7070")
	_ = os.Unsetenv("TRACKLIGHT_STORAGE_ENGINE")

	cfg, err := config.LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port, "env var must override file value")
	assert.Equal(t, "postgres", cfg.Storage.StorageEngine)
	assert.Equal(t, "postgres://localhost/timeline", cfg.Storage.PostgresDSN)
	assert.Equal(t, 64, cfg.Ingest.MaxBatch)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset keys keep defaults")
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	_, err := config.LoadConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

// TestSaveConfig_PersistsClusterName verifies that SaveConfig writes the
// cluster name to the settings table and can be read back.
func TestSaveConfig_PersistsClusterName(t *testing.T) {
	db := openTestDB(t)
	defer func() { _ = db.Close() }()

	cfg := &config.Config{}
	cfg.Cluster.ClusterName = "prod-east"

	err := cfg.SaveConfig(db, config.DialectSQLite)
	require.NoError(t, err, "SaveConfig must not return an error")

	var value string
	err = db.QueryRow("SELECT value FROM settings WHERE key = 'cluster_name'").Scan(&value)
	require.NoError(t, err, "cluster_name must be stored in settings table")
	assert.Equal(t, "prod-east", value)
}

// TestLoadConfigFromDB_DBOverridesEnvVar verifies that the database value
// takes precedence over the environment variable.
func TestLoadConfigFromDB_DBOverridesEnvVar(t *testing.T) {
	db := openTestDB(t)
	defer func() { _ = db.Close() }()

	t.Setenv("TRACKLIGHT_CLUSTER_NAME", "env-cluster")

	_, err := db.Exec(`INSERT INTO settings (key, value) VALUES ('cluster_name', 'db-cluster')`)
	require.NoError(t, err)

	cfg, err := config.LoadConfigFromDB(db, config.DialectSQLite)
	require.NoError(t, err)

	assert.Equal(t, "db-cluster", cfg.Cluster.ClusterName,
		"Database value must take precedence over environment variable")
}

// TestLoadConfigFromDB_FallsBackToEnvVar verifies that when no database entry
// exists, LoadConfigFromDB falls back to the environment variable.
func TestLoadConfigFromDB_FallsBackToEnvVar(t *testing.T) {
	db := openTestDB(t)
	defer func() { _ = db.Close() }()

	t.Setenv("TRACKLIGHT_CLUSTER_NAME", "fallback-cluster")

	cfg, err := config.LoadConfigFromDB(db, config.DialectSQLite)
	require.NoError(t, err)

	assert.Equal(t, "fallback-cluster", cfg.Cluster.ClusterName)
}

// TestSaveConfig_UpdatesExistingEntry verifies upsert semantics: saving the
// same key twice updates the value.
func TestSaveConfig_UpdatesExistingEntry(t *testing.T) {
	db := openTestDB(t)
	defer func() { _ = db.Close() }()

	cfg := &config.Config{}

	cfg.Cluster.ClusterName = "first"
	require.NoError(t, cfg.SaveConfig(db, config.DialectSQLite))

	cfg.Cluster.ClusterName = "second"
	require.NoError(t, cfg.SaveConfig(db, config.DialectSQLite))

	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = 'cluster_name'").Scan(&value)
	require.NoError(t, err)
	assert.Equal(t, "second", value)
}

func TestLoadConfigFromDB_NilDB(t *testing.T) {
	_, err := config.LoadConfigFromDB(nil, config.DialectSQLite)
	assert.Error(t, err)
}

// openTestDB opens an in-memory SQLite database with the settings table.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	require.NoError(t, err)

	return db
}
