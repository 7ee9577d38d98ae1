package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new PostgreSQL connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Migrate creates the decision tables if they do not exist. The decision
// table is append-only apart from the override projection columns;
// override_events is strictly append-only.
func (db *DB) Migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS decisions (
			id              UUID PRIMARY KEY,
			dedup_key       UUID NOT NULL UNIQUE,
			source_type     TEXT NOT NULL,
			source_id       TEXT NOT NULL,
			class_id        TEXT NOT NULL,
			confidence      DOUBLE PRECISION NOT NULL,
			status          TEXT NOT NULL,
			candidates      JSONB NOT NULL,
			attributes      JSONB NOT NULL,
			override_class  TEXT NOT NULL DEFAULT '',
			overridden_at   TIMESTAMPTZ,
			override_author TEXT NOT NULL DEFAULT '',
			decided_at      TIMESTAMPTZ NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS override_events (
			id          UUID PRIMARY KEY,
			decision_id UUID NOT NULL REFERENCES decisions(id),
			class_id    TEXT NOT NULL,
			reason      TEXT NOT NULL,
			author      TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_override_events_decision
			ON override_events (decision_id, created_at);
	`
	if _, err := db.Pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (db *DB) Close() {
	db.Pool.Close()
}
