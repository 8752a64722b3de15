// Package store is PureBoot's SQLite-backed persistence layer. It holds the
// full §3 data model (nodes, device groups, state/event logs, clone
// sessions, health alerts and snapshots, workflow executions) behind a
// single Store type, and is the only package that talks to the database
// directly — everything above it (bootscript, workfloweng, health,
// internal/api) goes through Store's methods.
//
// Store is built on modernc.org/sqlite, a CGo-free driver, wired through
// database/sql the same way the rest of the pack's provisioning tools do.
// Migrations are plain SQL files embedded at build time and applied in
// filename order against a schema_migrations bookkeeping table.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mrveiss/pureboot/pkg/eventbus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store wraps a *sql.DB and the shared event bus. Every exported method is
// safe for concurrent use; row-level serialization for node transitions is
// done with SQLite's BEGIN IMMEDIATE rather than in-process locking, since
// SQLite has no row-level lock of its own.
type Store struct {
	db  *sql.DB
	bus *eventbus.Bus
	now func() time.Time
}

// Open opens (creating if absent) the SQLite database at dsn, applies any
// pending migrations, and returns a ready Store. bus may be nil, in which
// case state changes are not published anywhere.
func Open(ctx context.Context, dsn string, bus *eventbus.Bus) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite + BEGIN IMMEDIATE: serialize writers in-process.

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db, bus: bus, now: time.Now}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for subsystems that need raw access
// (currently only tests that prepare rows directly).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}

		contents, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, name, s.now().UTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// publish is a no-op when the store was opened without an event bus.
func (s *Store) publish(topic eventbus.Topic, payload interface{}) {
	if s.bus != nil {
		s.bus.Publish(topic, payload)
	}
}
