// Package store opens and migrates the SQLite-backed stores that back C3
// (reminders), C7 (ledger, pending confirmations), the idempotency table,
// and preferences. Each store lives in its own single-file database under
// the configured data directory, following spec.md §6's persisted-state
// layout; the teacher's pgxpool+Transactor pair over one Postgres database
// becomes one *sqlx.DB per file here, since a client-server database cannot
// satisfy "local, single-file embedded relational store" (spec.md §4.3).
package store

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/reminders/*.sql
var remindersMigrations embed.FS

//go:embed migrations/ledger/*.sql
var ledgerMigrations embed.FS

//go:embed migrations/pending/*.sql
var pendingMigrations embed.FS

//go:embed migrations/idempotency/*.sql
var idempotencyMigrations embed.FS

//go:embed migrations/preferences/*.sql
var preferencesMigrations embed.FS

// Open opens the SQLite file at dataDir/name, sets WAL mode and a busy
// timeout so the single-writer serialization spec.md §5 requires holds
// without an extra in-process lock, then applies the migration set rooted
// at migrationsDir within fsys.
func Open(ctx context.Context, dataDir, name string, fsys embed.FS, migrationsDir string) (*sqlx.DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dataDir, name)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	db.SetMaxOpenConns(1) // single writer; SQLite serializes anyway, this avoids SQLITE_BUSY churn

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", name, err)
	}

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db.DB, migrationsDir); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", name, err)
	}

	return db, nil
}

// OpenReminders opens reminders.db (C3).
func OpenReminders(ctx context.Context, dataDir string) (*sqlx.DB, error) {
	return Open(ctx, dataDir, "reminders.db", remindersMigrations, "migrations/reminders")
}

// OpenLedger opens ledger.db (C7 action ledger).
func OpenLedger(ctx context.Context, dataDir string) (*sqlx.DB, error) {
	return Open(ctx, dataDir, "ledger.db", ledgerMigrations, "migrations/ledger")
}

// OpenPending opens pending.db (C7 pending confirmations).
func OpenPending(ctx context.Context, dataDir string) (*sqlx.DB, error) {
	return Open(ctx, dataDir, "pending.db", pendingMigrations, "migrations/pending")
}

// OpenIdempotency opens idempotency.db (C6 callback dedupe).
func OpenIdempotency(ctx context.Context, dataDir string) (*sqlx.DB, error) {
	return Open(ctx, dataDir, "idempotency.db", idempotencyMigrations, "migrations/idempotency")
}

// OpenPreferences opens preferences.db (supplemented feature, see SPEC_FULL.md).
func OpenPreferences(ctx context.Context, dataDir string) (*sqlx.DB, error) {
	return Open(ctx, dataDir, "preferences.db", preferencesMigrations, "migrations/preferences")
}
