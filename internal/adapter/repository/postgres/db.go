package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection
// connectionString should be in the format: "host=localhost port=5432 user=postgres password=postgres dbname=tracefund sslmode=disable"
func NewDB(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS donations (
		id            TEXT PRIMARY KEY,
		trace_id      TEXT NOT NULL,
		giver_address TEXT NOT NULL,
		amount        NUMERIC(78, 0) NOT NULL,
		currency      TEXT NOT NULL,
		status        TEXT NOT NULL,
		tx_hash       TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS donations_trace_created_idx ON donations (trace_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS withdrawal_audit (
		id               UUID PRIMARY KEY,
		attempt_id       UUID NOT NULL,
		trace_id         TEXT NOT NULL,
		initiator        TEXT NOT NULL,
		phase            TEXT NOT NULL,
		donation_count   INTEGER NOT NULL DEFAULT 0,
		tx_url           TEXT,
		failure_kind     TEXT,
		rejection_reason TEXT,
		recorded_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS withdrawal_audit_attempt_idx ON withdrawal_audit (attempt_id, recorded_at)`,
}

// EnsureSchema creates the tables this service reads and writes when they are missing
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
