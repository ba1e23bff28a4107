package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/agenr/memory/internal/types"
)

// InsertConflictLog records one LLM conflict classification outcome.
func InsertConflictLog(ctx context.Context, conn *sql.Conn, c types.ConflictLogEntry) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := conn.ExecContext(ctx, `
		INSERT INTO conflict_log (id, entry_a, entry_b, relation, confidence, resolution, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.EntryA, c.EntryB, c.Relation, c.Confidence, c.Resolution,
		c.CreatedAt.UTC().Format(time.RFC3339Nano), nullTime(c.ResolvedAt))
	return err
}

// ResolveConflictLog updates an existing conflict_log row's resolution and
// resolved_at, e.g. when a pending flag is later acted on.
func ResolveConflictLog(ctx context.Context, conn *sql.Conn, id string, resolution types.Resolution, now time.Time) error {
	_, err := conn.ExecContext(ctx, `
		UPDATE conflict_log SET resolution = ?, resolved_at = ? WHERE id = ?`,
		resolution, now.UTC().Format(time.RFC3339Nano), id)
	return err
}

// PendingConflicts returns conflict_log rows still awaiting resolution.
func (db *DB) PendingConflicts(ctx context.Context, limit int) ([]types.ConflictLogEntry, error) {
	rows, err := db.sqlDB.QueryContext(ctx, `
		SELECT id, entry_a, entry_b, relation, confidence, resolution, created_at, resolved_at
		FROM conflict_log WHERE resolution = 'pending' ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ConflictLogEntry
	for rows.Next() {
		var c types.ConflictLogEntry
		var createdAt string
		var resolvedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.EntryA, &c.EntryB, &c.Relation, &c.Confidence, &c.Resolution, &createdAt, &resolvedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, err
		}
		c.CreatedAt = t
		if resolvedAt.Valid {
			rt, err := time.Parse(time.RFC3339Nano, resolvedAt.String)
			if err != nil {
				return nil, err
			}
			c.ResolvedAt = &rt
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
