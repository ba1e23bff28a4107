package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/agenr/memory/internal/types"
)

// InsertRelation creates a directed edge, ignoring the insert if the same
// (source, target, relation_type) triple already exists (
// "at most one of each type per ordered pair").
func InsertRelation(ctx context.Context, conn *sql.Conn, r types.Relation) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO relations (source_id, target_id, relation_type, created_at)
		VALUES (?, ?, ?, ?)`,
		r.SourceID, r.TargetID, r.RelationType, r.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// RelationsFrom returns outgoing relations for an entry.
func (db *DB) RelationsFrom(ctx context.Context, sourceID string) ([]types.Relation, error) {
	rows, err := db.sqlDB.QueryContext(ctx,
		`SELECT source_id, target_id, relation_type, created_at FROM relations WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelations(rows)
}

// RelationsTo returns incoming relations for an entry.
func (db *DB) RelationsTo(ctx context.Context, targetID string) ([]types.Relation, error) {
	rows, err := db.sqlDB.QueryContext(ctx,
		`SELECT source_id, target_id, relation_type, created_at FROM relations WHERE target_id = ?`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelations(rows)
}

// AllRelations returns every relation edge, for a full export pass.
func (db *DB) AllRelations(ctx context.Context) ([]types.Relation, error) {
	rows, err := db.sqlDB.QueryContext(ctx,
		`SELECT source_id, target_id, relation_type, created_at FROM relations ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelations(rows)
}

func scanRelations(rows *sql.Rows) ([]types.Relation, error) {
	var out []types.Relation
	for rows.Next() {
		var r types.Relation
		var createdAt string
		if err := rows.Scan(&r.SourceID, &r.TargetID, &r.RelationType, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, err
		}
		r.CreatedAt = t
		out = append(out, r)
	}
	return out, rows.Err()
}
