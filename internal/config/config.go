// Package config loads process configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all settings shared by the binaries.
type Config struct {
	AppEnv   string
	LogLevel string
	Port     string

	StorageDriver string
	DatabaseURL   string
	SQLitePath    string
	DBMaxConns    int

	// StatementTimeout bounds statements in transactions without a timeout.
	StatementTimeout time.Duration
	// DefaultTxTimeout applies to service transactions; zero disables it.
	DefaultTxTimeout time.Duration

	MetricsEnabled bool
}

// Development reports whether logs should be human-readable.
func (c Config) Development() bool {
	return c.AppEnv == "development"
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	// Missing .env is fine; real deployments use the environment.
	_ = godotenv.Load(".env")

	cfg := Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Port:             getEnv("APP_PORT", "8080"),
		StorageDriver:    getEnv("STORAGE_DRIVER", DriverSQLite),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       getEnv("SQLITE_PATH", "txprop.db"),
		DBMaxConns:       getEnvInt("DB_MAX_CONNS", 10),
		StatementTimeout: getEnvDuration("DB_STATEMENT_TIMEOUT", 30*time.Second),
		DefaultTxTimeout: getEnvDuration("TX_DEFAULT_TIMEOUT", 0),
		MetricsEnabled:   getEnv("METRICS_ENABLED", "true") == "true",
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for storage driver %q", c.StorageDriver)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for storage driver %q", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.DefaultTxTimeout < 0 {
		return fmt.Errorf("TX_DEFAULT_TIMEOUT must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
