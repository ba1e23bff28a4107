package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agenr/memory/internal/types"
)

const entryColumns = `id, type, subject, content, canonical_key, subject_key, importance, expiry, scope,
	platform, project, source_file, source_context, embedding, content_hash,
	created_at, updated_at, last_recalled_at, recall_count, confirmations, contradictions,
	recall_intervals, superseded_by, retired, retired_at, retired_reason, suppressed_contexts`

func scanEntry(scan func(dest ...any) error) (*types.Entry, error) {
	var e types.Entry
	var canonicalKey, subjectKey, platform, project, sourceFile, sourceContext sql.NullString
	var embedding []byte
	var lastRecalledAt, retiredAt, retiredReason sql.NullString
	var recallIntervalsJSON, suppressedJSON string
	var createdAt, updatedAt string
	var supersededBy sql.NullString
	var retired int

	if err := scan(
		&e.ID, &e.Type, &e.Subject, &e.Content, &canonicalKey, &subjectKey, &e.Importance, &e.Expiry, &e.Scope,
		&platform, &project, &sourceFile, &sourceContext, &embedding, &e.ContentHash,
		&createdAt, &updatedAt, &lastRecalledAt, &e.RecallCount, &e.Confirmations, &e.Contradictions,
		&recallIntervalsJSON, &supersededBy, &retired, &retiredAt, &retiredReason, &suppressedJSON,
	); err != nil {
		return nil, err
	}

	e.CanonicalKey = nullableString(canonicalKey)
	e.SubjectKey = nullableString(subjectKey)
	e.Platform = nullableString(platform)
	e.Project = nullableString(project)
	e.SourceFile = nullableString(sourceFile)
	e.SourceContext = nullableString(sourceContext)
	e.SupersededBy = nullableString(supersededBy)
	e.RetiredReason = nullableString(retiredReason)
	e.Retired = retired != 0

	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if lastRecalledAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastRecalledAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_recalled_at: %w", err)
		}
		e.LastRecalledAt = &t
	}
	if retiredAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, retiredAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse retired_at: %w", err)
		}
		e.RetiredAt = &t
	}
	if len(embedding) > 0 {
		if e.Embedding, err = decodeVector(embedding); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal([]byte(recallIntervalsJSON), &e.RecallIntervals); err != nil {
		return nil, fmt.Errorf("parse recall_intervals: %w", err)
	}
	if err := json.Unmarshal([]byte(suppressedJSON), &e.SuppressedContexts); err != nil {
		return nil, fmt.Errorf("parse suppressed_contexts: %w", err)
	}
	return &e, nil
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// InsertEntry inserts a new row for e within the given conn (part of a
// caller-managed transaction). created_at defaults to now when e.CreatedAt
// is zero; updated_at is always set to now.
func InsertEntry(ctx context.Context, conn *sql.Conn, e *types.Entry, now time.Time) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	// A nil slice would marshal to JSON null, which json_insert in
	// AppendRecallMetadata cannot append to; store an empty array instead.
	intervals := e.RecallIntervals
	if intervals == nil {
		intervals = []int64{}
	}
	intervalsJSON, err := json.Marshal(intervals)
	if err != nil {
		return err
	}
	suppressedJSON, err := json.Marshal(e.SuppressedContexts)
	if err != nil {
		return err
	}

	var embeddingBlob []byte
	if len(e.Embedding) > 0 {
		embeddingBlob = encodeVector(e.Embedding)
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Type, e.Subject, e.Content, e.CanonicalKey, e.SubjectKey, e.Importance, e.Expiry, e.Scope,
		e.Platform, e.Project, e.SourceFile, e.SourceContext, embeddingBlob, e.ContentHash,
		e.CreatedAt.UTC().Format(time.RFC3339Nano), e.UpdatedAt.UTC().Format(time.RFC3339Nano), nullTime(e.LastRecalledAt),
		e.RecallCount, e.Confirmations, e.Contradictions, string(intervalsJSON), e.SupersededBy, boolToInt(e.Retired),
		nullTime(e.RetiredAt), e.RetiredReason, string(suppressedJSON),
	)
	return err
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetEntry fetches a single entry by id.
func (db *DB) GetEntry(ctx context.Context, id string) (*types.Entry, error) {
	row := db.sqlDB.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	return scanEntry(row.Scan)
}

// GetEntryByContentHash looks up an entry by its idempotency key, active
// or not (content_hash is unique regardless of lifecycle state).
func (db *DB) GetEntryByContentHash(ctx context.Context, hash string) (*types.Entry, error) {
	row := db.sqlDB.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE content_hash = ?`, hash)
	e, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// GetActiveByCanonicalKey returns the active entry sharing canonical_key,
// if any.
func (db *DB) GetActiveByCanonicalKey(ctx context.Context, canonicalKey string) (*types.Entry, error) {
	row := db.sqlDB.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE canonical_key = ? AND superseded_by IS NULL AND retired = 0
		ORDER BY created_at DESC LIMIT 1`, canonicalKey)
	e, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// FindActiveBySubjectTypeSource returns the most recent active entry
// sharing (subject, type, source_file), used by the source-file recency
// guard.
func (db *DB) FindActiveBySubjectTypeSource(ctx context.Context, subject string, t types.EntryType, sourceFile *string) (*types.Entry, error) {
	row := db.sqlDB.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE lower(subject) = lower(?) AND type = ? AND source_file IS ? AND superseded_by IS NULL AND retired = 0
		ORDER BY created_at DESC LIMIT 1`, subject, t, sourceFile)
	e, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// NearestNeighbors performs a brute-force cosine-similarity scan over
// active entries' embeddings and returns the top K. The engine's vector
// "index" is this scan plus the B-tree filters applied as a WHERE clause
// before scoring, appropriate at the corpus sizes a local per-user memory
// store reaches; DESIGN.md records this as the deliberate, justified
// stdlib-only realization of a "vector index".
func (db *DB) NearestNeighbors(ctx context.Context, query []float32, k int, includeInactive bool) ([]ScoredEntry, error) {
	return nearestNeighbors(ctx, db.sqlDB, query, k, includeInactive)
}

// NearestNeighborsTx is the same scan run over conn, so it observes rows
// inserted earlier in the same not-yet-committed transaction (e.g. when
// classifying the second entry of a batch against the first).
func NearestNeighborsTx(ctx context.Context, conn *sql.Conn, query []float32, k int, includeInactive bool) ([]ScoredEntry, error) {
	return nearestNeighbors(ctx, conn, query, k, includeInactive)
}

// querier is satisfied by both *sql.DB and *sql.Conn.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func nearestNeighbors(ctx context.Context, q querier, query []float32, k int, includeInactive bool) ([]ScoredEntry, error) {
	where := "embedding IS NOT NULL"
	if !includeInactive {
		where += " AND superseded_by IS NULL AND retired = 0"
	}
	rows, err := q.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE `+where)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []ScoredEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		if len(e.Embedding) == 0 {
			continue
		}
		scored = append(scored, ScoredEntry{Entry: e, Cosine: cosineSimilarity(query, e.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	topKByCosine(scored, k)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// ScoredEntry pairs an entry with its cosine similarity to a query vector.
type ScoredEntry struct {
	Entry  *types.Entry
	Cosine float64
}

func topKByCosine(s []ScoredEntry, k int) {
	// Partial selection sort is sufficient: k is small (<=500 per
	// the session candidate limit) relative to realistic corpus
	// sizes, and this avoids pulling in a heap for a one-shot call.
	n := len(s)
	if k > n {
		k = n
	}
	for i := 0; i < k; i++ {
		maxIdx := i
		for j := i + 1; j < n; j++ {
			if s[j].Cosine > s[maxIdx].Cosine {
				maxIdx = j
			}
		}
		s[i], s[maxIdx] = s[maxIdx], s[i]
	}
}

// SearchFTS runs a plain-text match over subject+content, returning
// matching active entry ids ordered by FTS rank. Each whitespace-separated
// word of query is passed to FTS5 as a quoted string, so punctuation such
// as '-' or ':' is not read as query syntax; all words must match.
func (db *DB) SearchFTS(ctx context.Context, query string, limit int, includeInactive bool) ([]*types.Entry, error) {
	terms := strings.Fields(query)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	match := strings.Join(terms, " ")
	where := "e.superseded_by IS NULL AND e.retired = 0"
	if includeInactive {
		where = "1=1"
	}
	rows, err := db.sqlDB.QueryContext(ctx, `
		SELECT `+prefixColumns("e")+`
		FROM entries_fts f
		JOIN entries e ON e.rowid = f.rowid
		WHERE entries_fts MATCH ? AND `+where+`
		ORDER BY rank LIMIT ?`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendRecallMetadata opens its own transaction and delegates to the
// package-level AppendRecallMetadata, for callers (the recall engine)
// that aren't already inside a write-queue transaction.
func (db *DB) AppendRecallMetadata(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		return AppendRecallMetadata(ctx, conn, ids, now)
	})
}

// ActiveSince returns active entries created at or after since, newest
// first, up to limit. Used by the recall engine's browse/session-start
// candidate path, which does not require an embedding to be present.
func (db *DB) ActiveSince(ctx context.Context, since time.Time, limit int) ([]*types.Entry, error) {
	rows, err := db.sqlDB.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE superseded_by IS NULL AND retired = 0 AND created_at >= ?
		ORDER BY created_at DESC LIMIT ?`,
		since.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func prefixColumns(alias string) string {
	cols := []string{"id", "type", "subject", "content", "canonical_key", "subject_key", "importance", "expiry", "scope",
		"platform", "project", "source_file", "source_context", "embedding", "content_hash",
		"created_at", "updated_at", "last_recalled_at", "recall_count", "confirmations", "contradictions",
		"recall_intervals", "superseded_by", "retired", "retired_at", "retired_reason", "suppressed_contexts"}
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

// Reinforce increments confirmations and updated_at for id, leaving
// everything else untouched.
func Reinforce(ctx context.Context, conn *sql.Conn, id string, now time.Time) error {
	_, err := conn.ExecContext(ctx, `
		UPDATE entries SET confirmations = confirmations + 1, updated_at = ? WHERE id = ?`,
		now.UTC().Format(time.RFC3339Nano), id)
	return err
}

// Supersede marks oldID as superseded by newID.
func Supersede(ctx context.Context, conn *sql.Conn, oldID, newID string, now time.Time) error {
	_, err := conn.ExecContext(ctx, `
		UPDATE entries SET superseded_by = ?, updated_at = ? WHERE id = ?`,
		newID, now.UTC().Format(time.RFC3339Nano), oldID)
	return err
}

// IncrementContradictions bumps the contradictions counter on id.
func IncrementContradictions(ctx context.Context, conn *sql.Conn, id string, now time.Time) error {
	_, err := conn.ExecContext(ctx, `
		UPDATE entries SET contradictions = contradictions + 1, updated_at = ? WHERE id = ?`,
		now.UTC().Format(time.RFC3339Nano), id)
	return err
}

// Retire sets the retired flag and reason on id.
func Retire(ctx context.Context, conn *sql.Conn, id, reason string, now time.Time) error {
	_, err := conn.ExecContext(ctx, `
		UPDATE entries SET retired = 1, retired_at = ?, retired_reason = ?, updated_at = ? WHERE id = ?`,
		now.UTC().Format(time.RFC3339Nano), reason, now.UTC().Format(time.RFC3339Nano), id)
	return err
}

// AppendRecallMetadata atomically appends now (unix seconds) to
// recall_intervals, sets last_recalled_at, and increments recall_count for
// every id in ids, within a single statement per id executed on the same
// conn/transaction so the caller's enclosing transaction makes it atomic
// as a whole.
func AppendRecallMetadata(ctx context.Context, conn *sql.Conn, ids []string, now time.Time) error {
	nowUnix := now.Unix()
	nowISO := now.UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		_, err := conn.ExecContext(ctx, `
			UPDATE entries
			SET recall_count = recall_count + 1,
			    last_recalled_at = ?,
			    recall_intervals = json_insert(recall_intervals, '$[#]', ?)
			WHERE id = ?`, nowISO, nowUnix, id)
		if err != nil {
			return fmt.Errorf("append recall metadata for %s: %w", id, err)
		}
	}
	return nil
}

// AllEntries returns every entry regardless of lifecycle state, ordered by
// created_at, for a full export pass.
func (db *DB) AllEntries(ctx context.Context) ([]*types.Entry, error) {
	rows, err := db.sqlDB.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountActive returns the number of active entries, used by the
// extraction scheduler's pre-fetch floor.
func (db *DB) CountActive(ctx context.Context) (int, error) {
	row := db.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE superseded_by IS NULL AND retired = 0`)
	var n int
	err := row.Scan(&n)
	return n, err
}

// ActiveSubjectKeys returns every active entry's id -> subject_key, for
// rebuilding the in-process subject index on startup.
func (db *DB) ActiveSubjectKeys(ctx context.Context) (map[string]string, error) {
	rows, err := db.sqlDB.QueryContext(ctx, `
		SELECT id, subject_key FROM entries
		WHERE superseded_by IS NULL AND retired = 0 AND subject_key IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, err
		}
		out[id] = key
	}
	return out, rows.Err()
}
