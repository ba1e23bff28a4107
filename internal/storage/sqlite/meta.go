package sqlite

import "context"

// GetMeta reads a key/value row from meta (schema_version, db_created_at,
// and any internal bookkeeping a component wants to persist outside its
// own table, e.g. consolidation cursors).
func (db *DB) GetMeta(ctx context.Context, key string) (string, bool, error) {
	row := db.sqlDB.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		return "", false, nil //nolint:nilerr // missing key is a normal, non-error outcome
	}
	return v, true, nil
}

// SetMeta upserts a key/value row in meta.
func (db *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := db.sqlDB.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
