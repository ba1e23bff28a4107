package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one named, idempotent schema step, run in order after the
// baseline schema is applied.
type Migration struct {
	Name string
	Func func(ctx context.Context, db *sql.DB) error
}

// migrationsList holds deltas applied after the baseline schema.go shape.
// Empty today; the slice (rather than a single switch) exists so future
// column/index additions follow the same ordered-list discipline from the
// first one, instead of schema.go growing ad hoc ALTER statements.
var migrationsList = []Migration{}

// RunMigrations applies schema.go's baseline DDL, then each entry in
// migrationsList in order, inside a single EXCLUSIVE transaction so
// concurrent processes opening the same fresh database never race on
// check-then-create DDL. foreign_keys is turned off for the duration
// because SQLite requires no FK-enforcing cascade surprises while a
// migration is still reshaping tables it references.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys for migrations: %w", err)
	}
	defer func() { _, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON") }()

	if _, err := db.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("acquire exclusive lock for migrations: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = db.ExecContext(ctx, "ROLLBACK")
		}
	}()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply baseline schema: %w", err)
	}

	for _, m := range migrationsList {
		if err := m.Func(ctx, db); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
	}

	if err := stampSchemaVersion(ctx, db); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}

	if _, err := db.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	committed = true
	return nil
}

func stampSchemaVersion(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", schemaVersion))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES ('db_created_at', strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		 ON CONFLICT(key) DO NOTHING`)
	return err
}
