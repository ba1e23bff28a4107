package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agenr/memory"
	"github.com/agenr/memory/internal/embedder"
)

func openTestEngine(t *testing.T) *memory.Engine {
	t.Helper()
	t.Setenv("AGENR_HOME", t.TempDir())

	eng, err := memory.Open(context.Background(), nil, nil, embedder.Hash())
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestOpenAndStoreEntries(t *testing.T) {
	eng := openTestEngine(t)
	ctx := context.Background()

	entries := []*memory.Entry{
		{
			Type:       memory.TypeFact,
			Subject:    "database",
			Content:    "the project uses SQLite in WAL mode",
			Importance: 6,
			Expiry:     memory.ExpiryPermanent,
			Scope:      memory.ScopePrivate,
		},
	}

	result, err := eng.Store.StoreEntries(ctx, entries, memory.StoreOptions{}, eng.Embed)
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)
	require.Equal(t, 1, result.TotalEntries)
}

func TestStoreThenRecall(t *testing.T) {
	eng := openTestEngine(t)
	ctx := context.Background()

	entries := []*memory.Entry{
		{
			Type:       memory.TypePreference,
			Subject:    "editor",
			Content:    "prefers tabs over spaces",
			Importance: 5,
			Expiry:     memory.ExpiryPermanent,
			Scope:      memory.ScopePrivate,
		},
	}
	_, err := eng.Store.StoreEntries(ctx, entries, memory.StoreOptions{}, eng.Embed)
	require.NoError(t, err)

	results, err := eng.Recall.Recall(ctx, memory.RecallQuery{Text: "editor tabs", Limit: 5}, eng.Embed)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "editor", results[0].Entry.Subject)
}

func TestExportImportRoundTrip(t *testing.T) {
	eng := openTestEngine(t)
	ctx := context.Background()

	entries := []*memory.Entry{
		{
			Type:       memory.TypeFact,
			Subject:    "roundtrip",
			Content:    "export then import should preserve this entry",
			Importance: 7,
			Expiry:     memory.ExpiryPermanent,
			Scope:      memory.ScopePrivate,
		},
	}
	_, err := eng.Store.StoreEntries(ctx, entries, memory.StoreOptions{}, eng.Embed)
	require.NoError(t, err)

	doc, err := eng.Export(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	require.Equal(t, "roundtrip", doc.Entries[0].Subject)

	other := openTestEngine(t)
	n, err := other.Import(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
