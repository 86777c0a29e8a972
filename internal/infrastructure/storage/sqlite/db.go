// Package sqlite provides the embedded storage backend. It exists for local
// runs and integration tests that need real physical transactions without a
// PostgreSQL server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds database configuration.
type Config struct {
	Path        string
	BusyTimeout time.Duration
	MaxConns    int
}

// DefaultConfig returns defaults suitable for concurrent transactions on
// one file: WAL journal and a busy timeout instead of immediate SQLITE_BUSY.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		BusyTimeout: 5 * time.Second,
		MaxConns:    8,
	}
}

// Open opens and pings the database file.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
