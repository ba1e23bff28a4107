package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/agenr/memory/internal/types"
)

// InsertIngestLog appends one row summarizing a completed store_entries
// batch.
func InsertIngestLog(ctx context.Context, conn *sql.Conn, l types.IngestLog) error {
	if l.IngestedAt.IsZero() {
		l.IngestedAt = time.Now().UTC()
	}
	_, err := conn.ExecContext(ctx, `
		INSERT INTO ingest_log (id, file_path, content_hash, ingested_at, added, updated, skipped, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.FilePath, l.ContentHash, l.IngestedAt.UTC().Format(time.RFC3339Nano),
		l.Added, l.Updated, l.Skipped, l.DurationMS)
	return err
}

// RecentIngestLogs returns the most recent ingest_log rows, newest first.
func (db *DB) RecentIngestLogs(ctx context.Context, limit int) ([]types.IngestLog, error) {
	rows, err := db.sqlDB.QueryContext(ctx, `
		SELECT id, file_path, content_hash, ingested_at, added, updated, skipped, duration_ms
		FROM ingest_log ORDER BY ingested_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.IngestLog
	for rows.Next() {
		var l types.IngestLog
		var ingestedAt string
		if err := rows.Scan(&l.ID, &l.FilePath, &l.ContentHash, &ingestedAt, &l.Added, &l.Updated, &l.Skipped, &l.DurationMS); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, ingestedAt)
		if err != nil {
			return nil, err
		}
		l.IngestedAt = t
		out = append(out, l)
	}
	return out, rows.Err()
}
