// Package config provides configuration management for Tracklight.
// It loads settings from environment variables with the TRACKLIGHT_ prefix,
// optionally merged over a YAML config file, and provides sensible defaults
// for all configuration options.
//
// Precedence is: environment variables > config file > defaults.
//
// Cluster settings (e.g., cluster_name) are persisted to the settings table
// in the database. LoadConfigFromDB reads from the database first and falls
// back to environment variables. SaveConfig writes cluster settings to the
// database.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Tracklight application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Security SecurityConfig `yaml:"security"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Backup   BackupConfig   `yaml:"backup"`
	Features FeaturesConfig `yaml:"features"`
	Cluster  ClusterConfig  `yaml:"cluster"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 6464)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string `yaml:"storage_engine"` // Storage engine type: sqlite, postgres (default: sqlite)
	DataPath      string `yaml:"data_path"`      // Path to data directory (default: ./data)
	PostgresDSN   string `yaml:"postgres_dsn"`   // Postgres connection string, required when engine is postgres
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string `yaml:"security_mode"` // Security mode: development, production (default: development)
	APIToken     string `yaml:"api_token"`     // API authentication token
}

// IngestConfig contains write-path configuration: the in-memory aggregator,
// the spool directory watcher, and API rate limiting.
type IngestConfig struct {
	QueueSize       int     `yaml:"queue_size"`        // Aggregator queue capacity (default: 1024)
	FlushIntervalMS int     `yaml:"flush_interval_ms"` // Aggregator flush interval in milliseconds (default: 1000)
	MaxBatch        int     `yaml:"max_batch"`         // Max entities coalesced per flush (default: 256)
	SpoolEnabled    bool    `yaml:"spool_enabled"`     // Watch {data_path}/spool for batch files (default: true)
	RateLimit       float64 `yaml:"rate_limit"`        // Sustained API requests per second (default: 50)
	RateBurst       int     `yaml:"rate_burst"`        // API rate limit burst size (default: 100)
}

// BackupConfig contains backup configuration.
type BackupConfig struct {
	BackupEnabled          bool   `yaml:"backup_enabled"`           // Enable automatic backups (default: false)
	BackupInterval         string `yaml:"backup_interval"`          // Backup interval duration (default: 24h)
	BackupPath             string `yaml:"backup_path"`              // Path to backup directory (default: ./backups)
	BackupVerify           bool   `yaml:"backup_verify"`            // Verify backups after creation (default: true)
	BackupRetentionHourly  int    `yaml:"backup_retention_hourly"`  // Number of hourly backups to keep (default: 24)
	BackupRetentionDaily   int    `yaml:"backup_retention_daily"`   // Number of daily backups to keep (default: 7)
	BackupRetentionWeekly  int    `yaml:"backup_retention_weekly"`  // Number of weekly backups to keep (default: 4)
	BackupRetentionMonthly int    `yaml:"backup_retention_monthly"` // Number of monthly backups to keep (default: 12)
}

// FeaturesConfig contains feature flags.
type FeaturesConfig struct {
	EnableREST      bool `yaml:"enable_rest"`      // Enable REST API (default: true)
	EnableWebSocket bool `yaml:"enable_websocket"` // Enable WebSocket feed (default: true)
}

// ClusterConfig contains deployment-specific settings that persist across
// restarts. These settings are stored in the settings table in the database.
type ClusterConfig struct {
	// ClusterName is the display name for this deployment, shown in stats.
	// Env var: TRACKLIGHT_CLUSTER_NAME
	// Database key: cluster_name
	ClusterName string `yaml:"cluster_name"`
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the TRACKLIGHT_ prefix.
// Cluster settings are loaded from environment variables only.
// Use LoadConfigFromDB to also read persisted cluster settings from the
// database.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	return cfg, nil
}

// LoadConfigFile loads configuration from a YAML file, then applies
// environment variables on top. Missing file keys keep their defaults.
func LoadConfigFile(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse config file: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// Dialect selects the SQL placeholder style used for the settings table
// queries. SQLite binds with ?, Postgres with $1-style ordinals.
type Dialect string

// Supported settings-table dialects, matching the storage engines.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// LoadConfigFromDB loads configuration from both environment variables and
// the database. The database value takes precedence over the environment
// variable for cluster settings. Falls back to the environment variable when
// no DB entry exists.
//
// Returns an error if db is nil.
func LoadConfigFromDB(db *sql.DB, dialect Dialect) (*Config, error) {
	if db == nil {
		return nil, errors.New("config: database connection is required")
	}

	cfg := buildBaseConfig()

	// Load cluster_name from settings table (DB takes precedence over env var)
	clusterName, err := getSetting(db, dialect, "cluster_name")
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("config: failed to load cluster_name from database: %w", err)
	}

	if clusterName != "" {
		cfg.Cluster.ClusterName = clusterName
	}
	// If no DB value, cfg.Cluster.ClusterName already has the env var value.

	return cfg, nil
}

// SaveConfig persists cluster configuration settings to the settings table in
// the database. Uses upsert semantics: inserts if not present, updates if
// already stored.
//
// Returns an error if db is nil.
func (c *Config) SaveConfig(db *sql.DB, dialect Dialect) error {
	if db == nil {
		return errors.New("config: database connection is required")
	}

	if err := setSetting(db, dialect, "cluster_name", c.Cluster.ClusterName); err != nil {
		return fmt.Errorf("config: failed to save cluster_name: %w", err)
	}

	return nil
}

// getSetting retrieves a single setting value by key from the settings table.
// Returns an empty string and sql.ErrNoRows if the key does not exist.
func getSetting(db *sql.DB, dialect Dialect, key string) (string, error) {
	query := "SELECT value FROM settings WHERE key = ?"
	if dialect == DialectPostgres {
		query = "SELECT value FROM settings WHERE key = $1"
	}

	var value string
	if err := db.QueryRow(query, key).Scan(&value); err != nil {
		return "", err
	}
	return value, nil
}

// setSetting writes a key-value pair to the settings table using upsert
// semantics.
func setSetting(db *sql.DB, dialect Dialect, key, value string) error {
	query := `
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value`
	if dialect == DialectPostgres {
		query = `
		INSERT INTO settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value`
	}

	_, err := db.Exec(query, key, value)
	return err
}

// defaultConfig constructs a Config holding only the built-in defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 6464,
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			StorageEngine: "sqlite",
			DataPath:      "./data",
		},
		Security: SecurityConfig{
			SecurityMode: "development",
		},
		Ingest: IngestConfig{
			QueueSize:       1024,
			FlushIntervalMS: 1000,
			MaxBatch:        256,
			SpoolEnabled:    true,
			RateLimit:       50,
			RateBurst:       100,
		},
		Backup: BackupConfig{
			BackupEnabled:          false,
			BackupInterval:         "24h",
			BackupPath:             "./backups",
			BackupVerify:           true,
			BackupRetentionHourly:  24,
			BackupRetentionDaily:   7,
			BackupRetentionWeekly:  4,
			BackupRetentionMonthly: 12,
		},
		Features: FeaturesConfig{
			EnableREST:      true,
			EnableWebSocket: true,
		},
	}
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults. This is the shared base for LoadConfig and LoadConfigFromDB.
func buildBaseConfig() *Config {
	cfg := defaultConfig()
	applyEnv(cfg)
	return cfg
}

// applyEnv overlays TRACKLIGHT_* environment variables onto cfg. Variables
// that are unset or fail to parse leave the existing value untouched.
func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("TRACKLIGHT_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("TRACKLIGHT_HOST", cfg.Server.Host)

	cfg.Storage.StorageEngine = getEnv("TRACKLIGHT_STORAGE_ENGINE", cfg.Storage.StorageEngine)
	cfg.Storage.DataPath = getEnv("TRACKLIGHT_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("TRACKLIGHT_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Security.SecurityMode = getEnv("TRACKLIGHT_SECURITY_MODE", cfg.Security.SecurityMode)
	cfg.Security.APIToken = getEnv("TRACKLIGHT_API_TOKEN", cfg.Security.APIToken)

	cfg.Ingest.QueueSize = getEnvInt("TRACKLIGHT_QUEUE_SIZE", cfg.Ingest.QueueSize)
	cfg.Ingest.FlushIntervalMS = getEnvInt("TRACKLIGHT_FLUSH_INTERVAL_MS", cfg.Ingest.FlushIntervalMS)
	cfg.Ingest.MaxBatch = getEnvInt("TRACKLIGHT_MAX_BATCH", cfg.Ingest.MaxBatch)
	cfg.Ingest.SpoolEnabled = getEnvBool("TRACKLIGHT_SPOOL_ENABLED", cfg.Ingest.SpoolEnabled)
	cfg.Ingest.RateLimit = getEnvFloat("TRACKLIGHT_RATE_LIMIT", cfg.Ingest.RateLimit)
	cfg.Ingest.RateBurst = getEnvInt("TRACKLIGHT_RATE_BURST", cfg.Ingest.RateBurst)

	cfg.Backup.BackupEnabled = getEnvBool("TRACKLIGHT_BACKUP_ENABLED", cfg.Backup.BackupEnabled)
	cfg.Backup.BackupInterval = getEnv("TRACKLIGHT_BACKUP_INTERVAL", cfg.Backup.BackupInterval)
	cfg.Backup.BackupPath = getEnv("TRACKLIGHT_BACKUP_PATH", cfg.Backup.BackupPath)
	cfg.Backup.BackupVerify = getEnvBool("TRACKLIGHT_BACKUP_VERIFY", cfg.Backup.BackupVerify)
	cfg.Backup.BackupRetentionHourly = getEnvInt("TRACKLIGHT_BACKUP_RETENTION_HOURLY", cfg.Backup.BackupRetentionHourly)
	cfg.Backup.BackupRetentionDaily = getEnvInt("TRACKLIGHT_BACKUP_RETENTION_DAILY", cfg.Backup.BackupRetentionDaily)
	cfg.Backup.BackupRetentionWeekly = getEnvInt("TRACKLIGHT_BACKUP_RETENTION_WEEKLY", cfg.Backup.BackupRetentionWeekly)
	cfg.Backup.BackupRetentionMonthly = getEnvInt("TRACKLIGHT_BACKUP_RETENTION_MONTHLY", cfg.Backup.BackupRetentionMonthly)

	cfg.Features.EnableREST = getEnvBool("TRACKLIGHT_ENABLE_REST", cfg.Features.EnableREST)
	cfg.Features.EnableWebSocket = getEnvBool("TRACKLIGHT_ENABLE_WEBSOCKET", cfg.Features.EnableWebSocket)

	cfg.Cluster.ClusterName = getEnv("TRACKLIGHT_CLUSTER_NAME", cfg.Cluster.ClusterName)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the environment variable exists but cannot be parsed as an
// integer, it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. Accepts the forms understood by strconv.ParseBool.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
