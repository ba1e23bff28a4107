// Package sqlite implements the engine's schema, migrations, and row-level
// storage operations on top of github.com/ncruces/go-sqlite3 — a pure-Go,
// WASM-hosted SQLite driver, keeping the module cgo-free.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/agenr/memory/internal/debug"
)

// DB wraps a *sql.DB with the engine's schema and maintenance operations.
// All writes must go through a single *DB held by the write queue (§5 of
// SPEC_FULL.md); reads may use additional short-lived connections.
type DB struct {
	sqlDB    *sql.DB
	path     string
	inMemory bool
	log      *debug.Logger
}

// Open opens (creating if necessary) the database at path, applies
// pragmas, and runs migrations. path may be ":memory:" or "file::memory:"
// for an in-memory database, in which case the file-backed pragmas
// (busy_timeout, wal_autocheckpoint) are skipped.
func Open(ctx context.Context, path string, log *debug.Logger) (*DB, error) {
	if log == nil {
		log = debug.NewNop()
	}
	dsn := path
	inMemory := path == ":memory:" || path == "file::memory:"

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// The engine owns exactly one writer; cap the pool so accidental
	// concurrent writers fail fast against SQLITE_BUSY instead of silently
	// interleaving through a connection pool.
	sqlDB.SetMaxOpenConns(8)

	db := &DB{sqlDB: sqlDB, path: path, inMemory: inMemory, log: log}

	if !inMemory {
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
		}
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA busy_timeout=3000"); err != nil {
			return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
		}
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA wal_autocheckpoint=1000"); err != nil {
			return nil, fmt.Errorf("sqlite: set wal_autocheckpoint: %w", err)
		}
	}
	if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}

	if err := RunMigrations(ctx, sqlDB); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	if corrupt, err := db.QuickCheck(ctx); err != nil {
		log.Warnf("quick_check failed: %v", err)
	} else if corrupt {
		log.WarnOnce("vector_index_corrupt", "vector index appears corrupt; run agenr doctor --fix")
	}

	return db, nil
}

// Underlying returns the wrapped *sql.DB, for escape-hatch access by
// components that need their own prepared statements or transactions.
func (db *DB) Underlying() *sql.DB { return db.sqlDB }

// Path returns the path argument passed to Open unchanged, including
// ":memory:" variants for in-memory databases.
func (db *DB) Path() string { return db.path }

// InMemory reports whether this database skips file-backed pragmas.
func (db *DB) InMemory() bool { return db.inMemory }

// Close closes the underlying connection pool.
func (db *DB) Close() error { return db.sqlDB.Close() }

// Checkpoint forces a WAL checkpoint, moving committed frames from
// knowledge.db-wal into the main database file. A no-op on an in-memory
// database.
func (db *DB) Checkpoint(ctx context.Context) error {
	if db.inMemory {
		return nil
	}
	_, err := db.sqlDB.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("sqlite: wal checkpoint: %w", err)
	}
	return nil
}

// Vacuum rebuilds the database file, reclaiming space freed by deletes.
// Callers should run this only after a batch of deletes large enough to
// justify the cost, since VACUUM rewrites the entire file.
func (db *DB) Vacuum(ctx context.Context) error {
	if db.inMemory {
		return nil
	}
	if _, err := db.sqlDB.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("sqlite: vacuum: %w", err)
	}
	return nil
}
