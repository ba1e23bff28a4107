package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agenr/memory/internal/dedup"
	"github.com/agenr/memory/internal/embedcache"
	"github.com/agenr/memory/internal/retirement"
	"github.com/agenr/memory/internal/storage/sqlite"
	"github.com/agenr/memory/internal/subjectindex"
	"github.com/agenr/memory/internal/types"
)

func newPipeline(t *testing.T) (*Pipeline, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, embedcache.New(), subjectindex.New(), nil, nil, nil), db
}

func newPipelineWithLedger(t *testing.T, ledger *retirement.Ledger) (*Pipeline, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, embedcache.New(), subjectindex.New(), nil, nil, ledger), db
}

// fixedEmbed returns the vector mapped for a text, or else a one-hot unit
// vector whose position is derived from the text's length: texts of
// different lengths get orthogonal vectors, texts of equal length get
// identical ones - good enough to exercise the similarity bands without a
// real provider.
func fixedEmbed(vectors map[string][]float32) embedcache.EmbedFunc {
	return func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			v, ok := vectors[t]
			if !ok {
				v = make([]float32, 64)
				v[len(t)%64] = 1
			}
			out[i] = v
		}
		return out, nil
	}
}

func fact(subject, content, sourceFile string) *types.Entry {
	e := &types.Entry{
		Type:    types.TypeFact,
		Subject: subject,
		Content: content,
	}
	if sourceFile != "" {
		e.SourceFile = &sourceFile
	}
	return e
}

func TestS1WithinBatchDedup(t *testing.T) {
	p, _ := newPipeline(t)
	a := &types.Entry{Type: types.TypeEvent, Subject: "version 0.7.1 release", Content: "shipped 0.7.1", SourceFile: strPtr("/tmp/log.jsonl")}
	b := &types.Entry{Type: types.TypeEvent, Subject: "version 0.7.1 release", Content: "shipped 0.7.1 again", SourceFile: strPtr("/tmp/log.jsonl")}

	res, err := p.StoreEntries(context.Background(), []*types.Entry{a, b}, Options{}, fixedEmbed(nil))
	require.NoError(t, err)
	require.Equal(t, 1, res.Added)
	require.Equal(t, 1, res.Skipped)
}

func TestS2RecencyGuardReinforces(t *testing.T) {
	p, _ := newPipeline(t)
	source := "/tmp/s.jsonl"
	first := fact("bar", "bar is blue", source)
	res1, err := p.StoreEntries(context.Background(), []*types.Entry{first}, Options{}, fixedEmbed(nil))
	require.NoError(t, err)
	require.Equal(t, 1, res1.Added)

	second := fact("bar", "bar is actually blue-green", source)
	res2, err := p.StoreEntries(context.Background(), []*types.Entry{second}, Options{}, fixedEmbed(nil))
	require.NoError(t, err)
	require.Equal(t, 0, res2.Added)
	require.Equal(t, 1, res2.Updated)
}

func TestS3DifferentSourceKeepsBoth(t *testing.T) {
	p, _ := newPipeline(t)
	first := fact("bar", "bar is blue", "/tmp/a.jsonl")
	res1, err := p.StoreEntries(context.Background(), []*types.Entry{first}, Options{}, fixedEmbed(nil))
	require.NoError(t, err)
	require.Equal(t, 1, res1.Added)

	second := fact("bar", "bar is blue in context two", "/tmp/b.jsonl")
	res2, err := p.StoreEntries(context.Background(), []*types.Entry{second}, Options{}, fixedEmbed(nil))
	require.NoError(t, err)
	require.Equal(t, 1, res2.Added)
	require.Equal(t, 0, res2.Updated)
}

func TestIdempotentReingestSkipsEverything(t *testing.T) {
	p, _ := newPipeline(t)
	batch := []*types.Entry{
		fact("alpha", "alpha content", "/tmp/x.jsonl"),
		fact("beta", "beta content", "/tmp/x.jsonl"),
	}
	res1, err := p.StoreEntries(context.Background(), batch, Options{}, fixedEmbed(nil))
	require.NoError(t, err)
	require.Equal(t, 2, res1.Added)

	// Re-ingest fresh Entry values with the same (source_file, content),
	// since content_hash is keyed on that pair, not instance identity.
	batch2 := []*types.Entry{
		fact("alpha", "alpha content", "/tmp/x.jsonl"),
		fact("beta", "beta content", "/tmp/x.jsonl"),
	}
	res2, err := p.StoreEntries(context.Background(), batch2, Options{}, fixedEmbed(nil))
	require.NoError(t, err)
	require.Equal(t, 0, res2.Added)
	require.Equal(t, 2, res2.Skipped)
}

func TestReingestAfterPersistedRetireInheritsRetiredFlag(t *testing.T) {
	ledger, err := retirement.Open(t.TempDir())
	require.NoError(t, err)
	p, db := newPipelineWithLedger(t, ledger)

	e := fact("api key rotation policy", "rotate every 90 days", "/tmp/x.jsonl")
	_, err = p.StoreEntries(context.Background(), []*types.Entry{e}, Options{}, fixedEmbed(nil))
	require.NoError(t, err)

	stored, err := db.GetEntryByContentHash(context.Background(), e.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, stored)

	conn, err := db.Underlying().Conn(context.Background())
	require.NoError(t, err)
	require.NoError(t, sqlite.Retire(context.Background(), conn, stored.ID, "forgotten", time.Now().UTC()))
	conn.Close()
	require.NoError(t, ledger.Record(retirement.Key(stored.Subject, stored.Type, stored.ContentHash), "forgotten", time.Now().UTC()))

	// Simulate the entry disappearing (e.g. a reset) and being re-ingested
	// from the same source.
	require.NoError(t, db.Reset(context.Background()))

	reingested := fact("api key rotation policy", "rotate every 90 days", "/tmp/x.jsonl")
	res, err := p.StoreEntries(context.Background(), []*types.Entry{reingested}, Options{}, fixedEmbed(nil))
	require.NoError(t, err)
	require.Equal(t, 1, res.Added)

	got, err := db.GetEntryByContentHash(context.Background(), reingested.ContentHash)
	require.NoError(t, err)
	require.True(t, got.Retired, "re-ingested entry must inherit the persisted retirement")
	require.NotNil(t, got.RetiredReason)
	require.Equal(t, "forgotten", *got.RetiredReason)
}

func TestReingestWithoutLedgerDoesNotInheritRetiredFlag(t *testing.T) {
	p, db := newPipeline(t)

	e := fact("trivia", "some trivia", "/tmp/x.jsonl")
	_, err := p.StoreEntries(context.Background(), []*types.Entry{e}, Options{}, fixedEmbed(nil))
	require.NoError(t, err)
	require.NoError(t, db.Reset(context.Background()))

	reingested := fact("trivia", "some trivia", "/tmp/x.jsonl")
	res, err := p.StoreEntries(context.Background(), []*types.Entry{reingested}, Options{}, fixedEmbed(nil))
	require.NoError(t, err)
	require.Equal(t, 1, res.Added)

	got, err := db.GetEntryByContentHash(context.Background(), reingested.ContentHash)
	require.NoError(t, err)
	require.False(t, got.Retired)
}

func TestDryRunRollsBack(t *testing.T) {
	p, db := newPipeline(t)
	batch := []*types.Entry{fact("alpha", "alpha content", "/tmp/x.jsonl")}

	res, err := p.StoreEntries(context.Background(), batch, Options{DryRun: true}, fixedEmbed(nil))
	require.NoError(t, err)
	require.Equal(t, 1, res.Added)

	got, err := db.GetEntryByContentHash(context.Background(), batch[0].ContentHash)
	require.NoError(t, err)
	require.Nil(t, got, "dry run must not persist the entry")
}

func TestOnDecisionCalledInInputOrder(t *testing.T) {
	p, _ := newPipeline(t)
	batch := []*types.Entry{
		fact("a", "content a", "/tmp/x.jsonl"),
		fact("b", "content b", "/tmp/x.jsonl"),
		fact("c", "content c", "/tmp/x.jsonl"),
	}
	var seen []int
	opts := Options{OnDecision: func(index int, entry *types.Entry, action dedup.Action) {
		seen = append(seen, index)
	}}
	_, err := p.StoreEntries(context.Background(), batch, opts, fixedEmbed(nil))
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, seen)
}

func strPtr(s string) *string { return &s }
