package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agenr/memory/internal/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func withConn(t *testing.T, db *DB, fn func(conn *sql.Conn)) {
	t.Helper()
	conn, err := db.Underlying().Conn(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	fn(conn)
}

func newEntry(subject, content string) *types.Entry {
	now := time.Now().UTC()
	e := &types.Entry{
		ID:         "e-" + subject,
		Type:       types.TypeFact,
		Subject:    subject,
		Content:    content,
		Importance: 5,
		Expiry:     types.ExpiryPermanent,
		Scope:      types.ScopePrivate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	e.ContentHash = e.ComputeContentHash()
	return e
}

func insert(t *testing.T, db *DB, e *types.Entry) {
	t.Helper()
	withConn(t, db, func(conn *sql.Conn) {
		require.NoError(t, InsertEntry(context.Background(), conn, e, e.CreatedAt))
	})
}

func TestOpenIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	// Re-running Open-style migrations against an already-initialized
	// schema must not error (CREATE ... IF NOT EXISTS throughout).
	require.NoError(t, RunMigrations(context.Background(), db.Underlying()))

	corrupt, err := db.QuickCheck(context.Background())
	require.NoError(t, err)
	require.False(t, corrupt)
}

func TestInsertAndGetEntry(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	e := newEntry("database", "the project uses SQLite in WAL mode")
	e.Tags = nil
	e.RecallIntervals = []int64{}
	e.SuppressedContexts = []string{}
	insert(t, db, e)

	got, err := db.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, e.Subject, got.Subject)
	require.Equal(t, e.Content, got.Content)
	require.Equal(t, e.ContentHash, got.ContentHash)
	require.True(t, got.Active())
}

func TestGetEntryByContentHashMissingReturnsNilNil(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetEntryByContentHash(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestContentHashUniqueConstraint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	e1 := newEntry("editor", "prefers tabs over spaces")
	e1.RecallIntervals = []int64{}
	e1.SuppressedContexts = []string{}
	insert(t, db, e1)

	e2 := newEntry("editor-dup", "prefers tabs over spaces")
	e2.ID = "e-editor-dup"
	e2.RecallIntervals = []int64{}
	e2.SuppressedContexts = []string{}
	e2.ContentHash = e1.ContentHash // same (source_file, content) -> same idempotency key

	withConn(t, db, func(conn *sql.Conn) {
		err := InsertEntry(ctx, conn, e2, e2.CreatedAt)
		require.Error(t, err)
	})
}

func TestGetActiveByCanonicalKeyExcludesSupersededAndRetired(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	key := "ck-1"

	e := newEntry("subject-a", "first version")
	e.RecallIntervals = []int64{}
	e.SuppressedContexts = []string{}
	e.CanonicalKey = &key
	insert(t, db, e)

	active, err := db.GetActiveByCanonicalKey(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, e.ID, active.ID)

	withConn(t, db, func(conn *sql.Conn) {
		require.NoError(t, Supersede(ctx, conn, e.ID, "e-newer", time.Now().UTC()))
	})

	active, err = db.GetActiveByCanonicalKey(ctx, key)
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestFindActiveBySubjectTypeSource(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	srcA := "a.jsonl"

	e := newEntry("notes", "uses pnpm for package management")
	e.RecallIntervals = []int64{}
	e.SuppressedContexts = []string{}
	e.SourceFile = &srcA
	insert(t, db, e)

	found, err := db.FindActiveBySubjectTypeSource(ctx, "NOTES", types.TypeFact, &srcA)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, e.ID, found.ID)

	srcB := "b.jsonl"
	notFound, err := db.FindActiveBySubjectTypeSource(ctx, "notes", types.TypeFact, &srcB)
	require.NoError(t, err)
	require.Nil(t, notFound)
}

func TestNearestNeighborsRanksByCosineSimilarity(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	near := newEntry("near", "closely related content")
	near.RecallIntervals = []int64{}
	near.SuppressedContexts = []string{}
	near.Embedding = []float32{1, 0, 0}
	insert(t, db, near)

	far := newEntry("far", "unrelated content")
	far.RecallIntervals = []int64{}
	far.SuppressedContexts = []string{}
	far.Embedding = []float32{0, 1, 0}
	insert(t, db, far)

	scored, err := db.NearestNeighbors(ctx, []float32{1, 0, 0}, 2, false)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	require.Equal(t, "near", scored[0].Entry.Subject)
	require.InDelta(t, 1.0, scored[0].Cosine, 0.0001)
}

func TestNearestNeighborsTxSeesUncommittedRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		e := newEntry("inflight", "not yet committed")
		e.RecallIntervals = []int64{}
		e.SuppressedContexts = []string{}
		e.Embedding = []float32{1, 1, 0}
		if err := InsertEntry(ctx, conn, e, e.CreatedAt); err != nil {
			return err
		}

		scored, err := NearestNeighborsTx(ctx, conn, []float32{1, 1, 0}, 1, false)
		if err != nil {
			return err
		}
		require.Len(t, scored, 1)
		require.Equal(t, "inflight", scored[0].Entry.Subject)
		return nil
	})
	require.NoError(t, err)
}

func TestSearchFTSMatchesHyphenatedContent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	e := newEntry("deployment", "the service deploys via a blue-green rollout")
	e.RecallIntervals = []int64{}
	e.SuppressedContexts = []string{}
	insert(t, db, e)

	results, err := db.SearchFTS(ctx, "blue-green", 10, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, e.ID, results[0].ID)
}

func TestSearchFTSExcludesRetiredByDefault(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	e := newEntry("retiring", "a fact about to be retired")
	e.RecallIntervals = []int64{}
	e.SuppressedContexts = []string{}
	insert(t, db, e)

	withConn(t, db, func(conn *sql.Conn) {
		require.NoError(t, Retire(ctx, conn, e.ID, "no longer relevant", time.Now().UTC()))
	})

	results, err := db.SearchFTS(ctx, "retired", 10, false)
	require.NoError(t, err)
	require.Empty(t, results)

	resultsInactive, err := db.SearchFTS(ctx, "retired", 10, true)
	require.NoError(t, err)
	require.Len(t, resultsInactive, 1)
}

func TestAppendRecallMetadataIsAtomicAcrossIDs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := newEntry("a", "first")
	a.RecallIntervals = []int64{}
	a.SuppressedContexts = []string{}
	b := newEntry("b", "second")
	b.RecallIntervals = []int64{}
	b.SuppressedContexts = []string{}
	insert(t, db, a)
	insert(t, db, b)

	require.NoError(t, db.AppendRecallMetadata(ctx, []string{a.ID, b.ID}, time.Now()))

	gotA, err := db.GetEntry(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, gotA.RecallCount)
	require.Len(t, gotA.RecallIntervals, 1)
	require.NotNil(t, gotA.LastRecalledAt)

	gotB, err := db.GetEntry(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 1, gotB.RecallCount)
}

func TestReinforceSupersedeContradictRetire(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := newEntry("lifecycle", "tracks every lifecycle transition")
	e.RecallIntervals = []int64{}
	e.SuppressedContexts = []string{}
	insert(t, db, e)

	withConn(t, db, func(conn *sql.Conn) {
		require.NoError(t, Reinforce(ctx, conn, e.ID, now))
		require.NoError(t, IncrementContradictions(ctx, conn, e.ID, now))
	})
	got, err := db.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Confirmations)
	require.Equal(t, 1, got.Contradictions)
	require.True(t, got.Active())

	withConn(t, db, func(conn *sql.Conn) {
		require.NoError(t, Supersede(ctx, conn, e.ID, "e-replacement", now))
	})
	got, err = db.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	require.False(t, got.Active())
	require.Equal(t, "e-replacement", *got.SupersededBy)

	other := newEntry("retire-me", "will be retired directly")
	other.RecallIntervals = []int64{}
	other.SuppressedContexts = []string{}
	insert(t, db, other)
	withConn(t, db, func(conn *sql.Conn) {
		require.NoError(t, Retire(ctx, conn, other.ID, "superseded by newer guidance", now))
	})
	got, err = db.GetEntry(ctx, other.ID)
	require.NoError(t, err)
	require.True(t, got.Retired)
	require.Equal(t, "superseded by newer guidance", *got.RetiredReason)
	require.False(t, got.Active())
}

func TestWithImmediateTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	e := newEntry("rollback-me", "should not survive a failed transaction")
	e.RecallIntervals = []int64{}
	e.SuppressedContexts = []string{}

	err := db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		if insertErr := InsertEntry(ctx, conn, e, e.CreatedAt); insertErr != nil {
			return insertErr
		}
		return sql.ErrTxDone // any non-nil, non-rollback-sentinel error
	})
	require.Error(t, err)

	got, err := db.GetEntryByContentHash(ctx, e.ContentHash)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestWithImmediateTxHonorsRollbackRequested(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	e := newEntry("dry-run", "a dry-run insert that should not persist")
	e.RecallIntervals = []int64{}
	e.SuppressedContexts = []string{}

	err := db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		if insertErr := InsertEntry(ctx, conn, e, e.CreatedAt); insertErr != nil {
			return insertErr
		}
		return ErrRollbackRequested()
	})
	require.NoError(t, err)

	got, err := db.GetEntryByContentHash(ctx, e.ContentHash)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTagsUpsertAndLookup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	e := newEntry("tagged", "an entry with tags")
	e.RecallIntervals = []int64{}
	e.SuppressedContexts = []string{}
	insert(t, db, e)

	withConn(t, db, func(conn *sql.Conn) {
		require.NoError(t, InsertTags(ctx, conn, e.ID, []string{"go", "sqlite", "go"}))
	})

	tags, err := db.GetTags(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"go", "sqlite"}, tags)

	ids, err := db.EntryIDsByTag(ctx, "go")
	require.NoError(t, err)
	require.Equal(t, []string{e.ID}, ids)
}

func TestRelationsFromAndTo(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	older := newEntry("older", "the original fact")
	older.RecallIntervals = []int64{}
	older.SuppressedContexts = []string{}
	newer := newEntry("newer", "the updated fact")
	newer.RecallIntervals = []int64{}
	newer.SuppressedContexts = []string{}
	insert(t, db, older)
	insert(t, db, newer)

	withConn(t, db, func(conn *sql.Conn) {
		require.NoError(t, InsertRelation(ctx, conn, types.Relation{
			SourceID: newer.ID, TargetID: older.ID, RelationType: types.RelationSupersedes,
		}))
		// Re-inserting the same (source, target, type) triple is a no-op.
		require.NoError(t, InsertRelation(ctx, conn, types.Relation{
			SourceID: newer.ID, TargetID: older.ID, RelationType: types.RelationSupersedes,
		}))
	})

	from, err := db.RelationsFrom(ctx, newer.ID)
	require.NoError(t, err)
	require.Len(t, from, 1)
	require.Equal(t, types.RelationSupersedes, from[0].RelationType)

	to, err := db.RelationsTo(ctx, older.ID)
	require.NoError(t, err)
	require.Len(t, to, 1)

	all, err := db.AllRelations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestIngestLogAndConflictLog(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	withConn(t, db, func(conn *sql.Conn) {
		require.NoError(t, InsertIngestLog(ctx, conn, types.IngestLog{
			ID: "il-1", FilePath: "a.jsonl", ContentHash: "h1", Added: 2, Updated: 1, Skipped: 0, DurationMS: 12,
		}))
	})
	logs, err := db.RecentIngestLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, 2, logs[0].Added)

	withConn(t, db, func(conn *sql.Conn) {
		require.NoError(t, InsertConflictLog(ctx, conn, types.ConflictLogEntry{
			ID: "cl-1", EntryA: "e1", EntryB: "e2", Relation: types.RelationContradicts,
			Confidence: 0.9, Resolution: types.ResolutionPending,
		}))
	})
	pending, err := db.PendingConflicts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	withConn(t, db, func(conn *sql.Conn) {
		require.NoError(t, ResolveConflictLog(ctx, conn, "cl-1", types.ResolutionKeepNew, time.Now().UTC()))
	})
	pending, err = db.PendingConflicts(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSignalWatermarkAndEntriesSinceRowid(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	got, err := db.GetWatermark(ctx, "slack-bridge")
	require.NoError(t, err)
	require.Equal(t, int64(0), got)

	e := newEntry("important", "an entry worth surfacing")
	e.RecallIntervals = []int64{}
	e.SuppressedContexts = []string{}
	e.Importance = 9
	insert(t, db, e)

	recent, err := db.EntriesSinceRowid(ctx, 0, 5, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, e.ID, recent[0].Entry.ID)

	require.NoError(t, db.SetWatermark(ctx, "slack-bridge", recent[0].Rowid))
	got, err = db.GetWatermark(ctx, "slack-bridge")
	require.NoError(t, err)
	require.Equal(t, recent[0].Rowid, got)

	// Watermark never regresses.
	require.NoError(t, db.SetWatermark(ctx, "slack-bridge", 0))
	got, err = db.GetWatermark(ctx, "slack-bridge")
	require.NoError(t, err)
	require.Equal(t, recent[0].Rowid, got)

	none, err := db.EntriesSinceRowid(ctx, got, 5, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestMetaGetSet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, ok, err := db.GetMeta(ctx, "test_key")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.SetMeta(ctx, "test_key", "1"))
	v, ok, err := db.GetMeta(ctx, "test_key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)

	require.NoError(t, db.SetMeta(ctx, "test_key", "2"))
	v, _, err = db.GetMeta(ctx, "test_key")
	require.NoError(t, err)
	require.Equal(t, "2", v)
}

func TestResetProducesEmptySchemaFreshDatabase(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	e := newEntry("soon-gone", "will not survive Reset")
	e.RecallIntervals = []int64{}
	e.SuppressedContexts = []string{}
	insert(t, db, e)

	require.NoError(t, db.Reset(ctx))

	got, err := db.GetEntry(ctx, e.ID)
	require.Error(t, err)
	require.Nil(t, got)

	// Schema must still be usable after Reset.
	fresh := newEntry("after-reset", "inserted post-reset")
	fresh.RecallIntervals = []int64{}
	fresh.SuppressedContexts = []string{}
	insert(t, db, fresh)
	got, err = db.GetEntry(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, fresh.Subject, got.Subject)
}

func TestRebuildIndexKeepsFTSSearchable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	e := newEntry("searchable", "a fact findable via full text search")
	e.RecallIntervals = []int64{}
	e.SuppressedContexts = []string{}
	insert(t, db, e)

	require.NoError(t, db.RebuildIndex(ctx))

	results, err := db.SearchFTS(ctx, "findable", 10, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestQuickCheckReportsOKOnFreshDatabase(t *testing.T) {
	db := openTestDB(t)
	corrupt, err := db.QuickCheck(context.Background())
	require.NoError(t, err)
	require.False(t, corrupt)
}
