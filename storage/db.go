// Package storage persists conversations, messages and the purchase records
// the assistant's tools operate on, plus uploaded files in blob storage.
//
// One schema serves SQLite (modernc.org/sqlite, the default) and Postgres
// (lib/pq). Queries are written once with placeholder(n), which renders "?"
// or "$n" for the active dialect. Timestamps are stored as unix milliseconds.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"receiptly/config"
)

// ErrNotFound is returned when a row does not exist or is not visible to the
// requesting user.
var ErrNotFound = errors.New("not found")

type DB struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// Open connects to the configured database. An empty SQLite DSN selects
// <dataDir>/receiptly.db.
func Open(ctx context.Context, cfg config.DatabaseConfig, dataDir string) (*DB, error) {
	driver, dsn := cfg.Driver, cfg.DSN
	switch driver {
	case config.DriverSQLite:
		if dsn == "" {
			if err := config.EnsureDir(dataDir); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
			dsn = filepath.Join(dataDir, "receiptly.db")
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		}
	case config.DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == config.DriverSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db, driver), nil
}

// New wraps an open handle. dialect is config.DriverSQLite or
// config.DriverPostgres.
func New(db *sql.DB, dialect string) *DB {
	return &DB{db: db, dialect: dialect, now: time.Now}
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Dialect() string {
	return d.dialect
}

// placeholder returns the n-th (1-based) bind parameter.
func (d *DB) placeholder(n int) string {
	if d.dialect == config.DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// placeholders returns count comma-separated parameters starting at start.
func (d *DB) placeholders(start, count int) string {
	list := make([]string, count)
	for i := range list {
		list[i] = d.placeholder(start + i)
	}
	return strings.Join(list, ", ")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// migrations are applied in order; each runs once and is recorded in
// schema_migrations.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		started_page TEXT NOT NULL DEFAULT '',
		context_type TEXT NOT NULL DEFAULT '',
		context_id TEXT NOT NULL DEFAULT '',
		last_message_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, last_message_at)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		position BIGINT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT NOT NULL DEFAULT '',
		attachments TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		UNIQUE (conversation_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		merchant TEXT NOT NULL,
		item TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT '',
		purchased_on BIGINT NOT NULL,
		return_days INTEGER NOT NULL DEFAULT 0,
		warranty_months INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_user ON purchases(user_id, purchased_on)`,
	`CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		purchase_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		purchase_id TEXT NOT NULL DEFAULT '',
		case_id TEXT NOT NULL DEFAULT '',
		storage_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		file_type TEXT NOT NULL DEFAULT '',
		file_size BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	)`,
}

// Migrate brings the schema up to date.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := d.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		err := d.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, applied_at) VALUES (`+d.placeholders(1, 2)+`)`,
				version, toMillis(d.now()))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d failed: %w", version, err)
		}
		slog.Info("[Storage] applied migration", "version", version)
	}
	return nil
}

func (d *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("[Storage] rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
