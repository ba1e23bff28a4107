package sqlite

import (
	"context"
	"fmt"
)

// QuickCheck issues PRAGMA quick_check and reports corrupt=true if it
// returns anything other than "ok". This must be issued on
// startup to detect a corrupt vector index.
func (db *DB) QuickCheck(ctx context.Context) (corrupt bool, err error) {
	row := db.sqlDB.QueryRowContext(ctx, "PRAGMA quick_check")
	var result string
	if err := row.Scan(&result); err != nil {
		return false, fmt.Errorf("sqlite: quick_check: %w", err)
	}
	return result != "ok", nil
}

// Reset drops every user table, index, trigger, and view (system objects
// such as sqlite_sequence are left alone) and re-runs RunMigrations,
// producing a schema-fresh, data-empty database.
func (db *DB) Reset(ctx context.Context) error {
	rows, err := db.sqlDB.QueryContext(ctx,
		`SELECT type, name FROM sqlite_master
		 WHERE name NOT LIKE 'sqlite_%' AND name NOT LIKE '%_fts_%'`)
	if err != nil {
		return fmt.Errorf("sqlite: reset: list objects: %w", err)
	}
	type obj struct{ typ, name string }
	var objs []obj
	for rows.Next() {
		var o obj
		if err := rows.Scan(&o.typ, &o.name); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: reset: scan object: %w", err)
		}
		objs = append(objs, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: reset: iterate objects: %w", err)
	}

	if _, err := db.sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("sqlite: reset: disable foreign keys: %w", err)
	}
	defer func() { _, _ = db.sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON") }()

	// Drop by type: views, then triggers, then tables, then any indexes
	// still standing. Names matching '%_fts_%' (the FTS5 shadow tables and
	// the FTS sync triggers) are not listed in objs: they go with the
	// entries_fts virtual table and the entries table they belong to.
	order := map[string]int{"view": 0, "trigger": 1, "table": 2, "index": 3}
	for pass := 0; pass <= 3; pass++ {
		for _, o := range objs {
			if order[o.typ] != pass {
				continue
			}
			stmt := fmt.Sprintf("DROP %s IF EXISTS %q", o.typ, o.name)
			if _, err := db.sqlDB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("sqlite: reset: %s: %w", stmt, err)
			}
		}
	}

	return RunMigrations(ctx, db.sqlDB)
}

// RebuildIndex drops and recreates the FTS index from the current content
// of entries, then rebuilds the vector index: since NearestNeighbors scans
// the embedding column directly rather than maintaining a separate vector
// structure (DESIGN.md's deliberate, justified stdlib realization of
// component A's vector index), "rebuilding" it means re-validating every
// stored embedding blob and clearing any that fail to decode, so a
// corrupt entry drops out of candidate generation instead of poisoning
// every subsequent cosine scan, and picks up a fresh embedding on its next
// write. It is the operator action the startup warning instructs when
// QuickCheck reports corruption.
func (db *DB) RebuildIndex(ctx context.Context) error {
	if _, err := db.sqlDB.ExecContext(ctx, "INSERT INTO entries_fts(entries_fts) VALUES ('rebuild')"); err != nil {
		return fmt.Errorf("sqlite: rebuild_index: fts: %w", err)
	}

	rows, err := db.sqlDB.QueryContext(ctx, `SELECT id, embedding FROM entries WHERE embedding IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("sqlite: rebuild_index: scan embeddings: %w", err)
	}
	type corrupt struct{ id string }
	var toClear []corrupt
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: rebuild_index: scan row: %w", err)
		}
		if _, err := decodeVector(blob); err != nil {
			toClear = append(toClear, corrupt{id: id})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: rebuild_index: iterate embeddings: %w", err)
	}

	for _, c := range toClear {
		if _, err := db.sqlDB.ExecContext(ctx, `UPDATE entries SET embedding = NULL WHERE id = ?`, c.id); err != nil {
			return fmt.Errorf("sqlite: rebuild_index: clear corrupt embedding %s: %w", c.id, err)
		}
	}
	return nil
}
