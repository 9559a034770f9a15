package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PoolConfig holds connection pool limits. Zero values keep driver defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open opens a database for driver "sqlite" or "postgres" and verifies the
// connection.
func Open(ctx context.Context, driver, dsn string, pool PoolConfig) (*sql.DB, error) {
	var name string
	switch driver {
	case "sqlite":
		name = "sqlite3"
	case "postgres":
		name = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source_file TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		status TEXT NOT NULL,
		text_strategy TEXT NOT NULL DEFAULT '',
		figure_strategy TEXT NOT NULL DEFAULT '',
		pages INTEGER NOT NULL DEFAULT 0,
		figures INTEGER NOT NULL DEFAULT 0,
		questions INTEGER NOT NULL DEFAULT 0,
		linked_questions INTEGER NOT NULL DEFAULT 0,
		warnings INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		report TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at)`,
	`CREATE TABLE IF NOT EXISTS run_figures (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
		page INTEGER NOT NULL,
		sequence_index INTEGER NOT NULL,
		filename TEXT NOT NULL,
		source_type TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_run_figures_run ON run_figures (run_id)`,
	`CREATE TABLE IF NOT EXISTS question_links (
		run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		question_number INTEGER NOT NULL,
		filename TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

// Migrate creates the run history tables if they do not exist.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// WithTx runs fn inside a transaction, rolling back on error.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
