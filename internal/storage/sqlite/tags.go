package sqlite

import (
	"context"
	"database/sql"
)

// InsertTags upserts (entry_id, tag) rows for a cleaned tag set.
func InsertTags(ctx context.Context, conn *sql.Conn, entryID string, tags []string) error {
	for _, tag := range tags {
		if _, err := conn.ExecContext(ctx,
			`INSERT OR IGNORE INTO tags (entry_id, tag) VALUES (?, ?)`, entryID, tag); err != nil {
			return err
		}
	}
	return nil
}

// GetTags returns the tag set for an entry.
func (db *DB) GetTags(ctx context.Context, entryID string) ([]string, error) {
	rows, err := db.sqlDB.QueryContext(ctx, `SELECT tag FROM tags WHERE entry_id = ? ORDER BY tag`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetIssuesByLabel-equivalent: entries sharing a tag.
func (db *DB) EntryIDsByTag(ctx context.Context, tag string) ([]string, error) {
	rows, err := db.sqlDB.QueryContext(ctx, `SELECT entry_id FROM tags WHERE tag = ?`, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
