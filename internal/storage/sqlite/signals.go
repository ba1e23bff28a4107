package sqlite

import (
	"context"
	"time"

	"github.com/agenr/memory/internal/types"
)

// RowidEntry pairs an entry with its storage rowid, so a signal consumer
// can advance its watermark past exactly the rows it was shown.
type RowidEntry struct {
	Rowid int64
	Entry *types.Entry
}

// GetWatermark returns the last entries.rowid surfaced to consumer (0 if
// never surfaced).
func (db *DB) GetWatermark(ctx context.Context, consumer string) (int64, error) {
	row := db.sqlDB.QueryRowContext(ctx, `SELECT rowid_high FROM signal_watermarks WHERE consumer = ?`, consumer)
	var rowid int64
	err := row.Scan(&rowid)
	if err != nil {
		return 0, nil //nolint:nilerr // sql.ErrNoRows -> unseen consumer starts at 0
	}
	return rowid, nil
}

// SetWatermark advances (never regresses) the watermark for consumer.
func (db *DB) SetWatermark(ctx context.Context, consumer string, rowid int64) error {
	_, err := db.sqlDB.ExecContext(ctx, `
		INSERT INTO signal_watermarks (consumer, rowid_high) VALUES (?, ?)
		ON CONFLICT(consumer) DO UPDATE SET rowid_high = MAX(rowid_high, excluded.rowid_high)`,
		consumer, rowid)
	return err
}

// EntriesSinceRowid returns active entries with rowid > sinceRowid and
// importance >= minImportance, created at or after recencyFloor, newest
// rowid first, up to limit. Used by the signals consumer
// to surface only recent, high-importance entries a consumer hasn't seen.
func (db *DB) EntriesSinceRowid(ctx context.Context, sinceRowid int64, minImportance int, recencyFloor time.Time, limit int) ([]RowidEntry, error) {
	rows, err := db.sqlDB.QueryContext(ctx, `
		SELECT rowid, `+entryColumns+` FROM entries
		WHERE rowid > ? AND importance >= ? AND created_at >= ?
		  AND superseded_by IS NULL AND retired = 0
		ORDER BY rowid DESC LIMIT ?`,
		sinceRowid, minImportance, recencyFloor.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RowidEntry
	for rows.Next() {
		var rowid int64
		e, err := scanEntry(func(dest ...any) error {
			return rows.Scan(append([]any{&rowid}, dest...)...)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, RowidEntry{Rowid: rowid, Entry: e})
	}
	return out, rows.Err()
}
