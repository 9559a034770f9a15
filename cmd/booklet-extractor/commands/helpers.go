package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/spherical/booklet-extractor/internal/config"
	"github.com/spherical/booklet-extractor/internal/observability"
	"github.com/spherical/booklet-extractor/internal/storage"
)

// newLogger writes to stderr so it never interleaves with command output.
// Interactive commands pass a quieter level unless --verbose is set.
func newLogger(c *config.Config, level string) *observability.Logger {
	if level == "" || verbose {
		level = c.Observability.LogLevel
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      c.Observability.LogFormat,
		Output:      os.Stderr,
		ServiceName: c.Observability.ServiceName,
	})
}

// openHistory opens and migrates the run history database.
func openHistory(ctx context.Context, c *config.Config) (*storage.History, error) {
	pool := storage.PoolConfig{MaxOpenConns: c.Database.SQLite.MaxOpenConns}
	if c.Database.Driver == "postgres" {
		pool = storage.PoolConfig{
			MaxOpenConns:    c.Database.Postgres.MaxOpenConns,
			MaxIdleConns:    c.Database.Postgres.MaxIdleConns,
			ConnMaxLifetime: c.Database.Postgres.ConnMaxLifetime,
		}
	}

	dsn := c.DatabaseDSN()
	if dsn == "" {
		return nil, fmt.Errorf("%s database requires a DSN", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := storage.Open(ctx, c.Database.Driver, dsn, pool)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return storage.NewHistory(db), nil
}

// requireHistory opens the history database for the history commands.
func requireHistory(ctx context.Context) (*storage.History, error) {
	if !cfg.Database.Enabled {
		return nil, fmt.Errorf("run history is disabled (set database.enabled or DATABASE_URL)")
	}
	return openHistory(ctx, cfg)
}

// resolveRunID accepts a full run ID or a unique prefix of one.
func resolveRunID(ctx context.Context, h *storage.History, idOrPrefix string) (uuid.UUID, error) {
	if id, err := uuid.Parse(idOrPrefix); err == nil {
		return id, nil
	}

	prefix := strings.ToLower(strings.TrimSpace(idOrPrefix))
	if len(prefix) < 4 {
		return uuid.Nil, fmt.Errorf("run id prefix %q is too short", idOrPrefix)
	}

	runs, err := h.List(ctx, 0)
	if err != nil {
		return uuid.Nil, err
	}

	var match uuid.UUID
	for _, r := range runs {
		if strings.HasPrefix(r.ID.String(), prefix) {
			if match != uuid.Nil {
				return uuid.Nil, fmt.Errorf("run id prefix %q is ambiguous", idOrPrefix)
			}
			match = r.ID
		}
	}
	if match == uuid.Nil {
		return uuid.Nil, fmt.Errorf("no run matches %q", idOrPrefix)
	}
	return match, nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
