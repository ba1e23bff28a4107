package exportimport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agenr/memory/internal/storage/sqlite"
	"github.com/agenr/memory/internal/types"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertEntry(t *testing.T, db *sqlite.DB, e *types.Entry) {
	t.Helper()
	conn, err := db.Underlying().Conn(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	if e.ContentHash == "" {
		e.ContentHash = e.ComputeContentHash()
	}
	require.NoError(t, sqlite.InsertEntry(context.Background(), conn, e, e.CreatedAt))
}

func TestBuildAndImportRoundTripPreservesFieldsModuloEmbeddings(t *testing.T) {
	src := newTestDB(t)
	now := time.Now().UTC().Add(-time.Hour)
	later := now.Add(time.Minute)

	e1 := &types.Entry{
		ID: "e1", Type: types.TypeFact, Subject: "alex weight", Content: "alex weighs 200lb",
		Importance: 7, Expiry: types.ExpiryPermanent, Scope: types.ScopePrivate,
		Tags: []string{"health", "fitness"}, CreatedAt: now, UpdatedAt: now,
	}
	e2 := &types.Entry{
		ID: "e2", Type: types.TypeTodo, Subject: "followup", Content: "ask about the gym plan",
		Importance: 4, Expiry: types.ExpiryPermanent, Scope: types.ScopePrivate,
		CreatedAt: later, UpdatedAt: later,
	}
	insertEntry(t, src, e1)
	insertEntry(t, src, e2)

	conn, err := src.Underlying().Conn(context.Background())
	require.NoError(t, err)
	require.NoError(t, sqlite.InsertRelation(context.Background(), conn, types.Relation{
		SourceID: "e2", TargetID: "e1", RelationType: types.RelationElaborates, CreatedAt: later,
	}))
	conn.Close()

	doc, err := Build(context.Background(), src, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, doc.Entries, 2)
	require.Len(t, doc.Relations, 1)

	raw, err := ExportJSON(doc)
	require.NoError(t, err)

	reparsed, err := ParseJSON(raw)
	require.NoError(t, err)
	require.Len(t, reparsed.Entries, 2)

	dst := newTestDB(t)
	n, err := Import(context.Background(), dst, reparsed)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got1, err := dst.GetEntry(context.Background(), "e1")
	require.NoError(t, err)
	require.Equal(t, e1.Subject, got1.Subject)
	require.Equal(t, e1.Content, got1.Content)
	require.Equal(t, e1.Importance, got1.Importance)
	require.ElementsMatch(t, e1.Tags, got1.Tags)

	gotRelations, err := dst.AllRelations(context.Background())
	require.NoError(t, err)
	require.Len(t, gotRelations, 1)
	require.Equal(t, "e2", gotRelations[0].SourceID)
	require.Equal(t, "e1", gotRelations[0].TargetID)
}

func TestExportYAMLProducesParsableDocument(t *testing.T) {
	doc := Document{
		Version:    documentVersion,
		ExportedAt: time.Now().UTC(),
		Entries: []EntryDoc{
			{ID: "e1", Type: "fact", Subject: "s", Content: "c", Importance: 5, Expiry: "permanent", ContentHash: "h"},
		},
	}
	out, err := ExportYAML(doc)
	require.NoError(t, err)
	require.Contains(t, string(out), "id: e1")
}

func TestToEntriesPreservesOptionalSourceFields(t *testing.T) {
	file := "transcript.jsonl"
	ctxStr := "session-42"
	doc := Document{Entries: []EntryDoc{
		{ID: "e1", Type: "fact", Subject: "s", Content: "c", Expiry: "permanent", Source: &SourceDoc{File: file, Context: ctxStr}},
	}}
	entries := doc.ToEntries()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].SourceFile)
	require.Equal(t, file, *entries[0].SourceFile)
	require.NotNil(t, entries[0].SourceContext)
	require.Equal(t, ctxStr, *entries[0].SourceContext)
}
