package signals

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

func insertImportant(t *testing.T, db *sqlite.DB, subject string, importance int, createdAt time.Time) {
	t.Helper()
	conn, err := db.Underlying().Conn(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	e := &types.Entry{
		ID: subject, Type: types.TypeFact, Subject: subject, Content: "content " + subject,
		Importance: importance, Expiry: types.ExpiryPermanent, Scope: types.ScopePrivate,
		CreatedAt: createdAt, UpdatedAt: createdAt,
	}
	e.ContentHash = e.ComputeContentHash()
	require.NoError(t, sqlite.InsertEntry(context.Background(), conn, e, createdAt))
}

func TestSinceRowidFiltersByImportanceAndAdvancesWatermark(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	insertImportant(t, db, "low", 5, now)
	insertImportant(t, db, "high", 9, now)

	n := New(db, DefaultConfig())
	out, err := n.SinceRowid(context.Background(), "cli", "", now)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "high", out[0].ID)

	// A second call with nothing new since the advanced watermark returns
	// empty.
	out2, err := n.SinceRowid(context.Background(), "cli", "", now)
	require.NoError(t, err)
	require.Empty(t, out2)
}

func TestSinceRowidRespectsRecencyWindow(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	insertImportant(t, db, "stale", 9, now.Add(-1*time.Hour))

	cfg := DefaultConfig()
	cfg.RecencyWindow = 300 * time.Second
	n := New(db, cfg)

	out, err := n.SinceRowid(context.Background(), "cli", "", now)
	require.NoError(t, err)
	require.Empty(t, out, "entry older than the recency window must not surface")
}

func TestSinceRowidSessionCooldownGates(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	insertImportant(t, db, "a", 9, now)
	insertImportant(t, db, "b", 9, now)

	cfg := DefaultConfig()
	cfg.Cooldown = 30 * time.Second
	n := New(db, cfg)

	out1, err := n.SinceRowid(context.Background(), "cli", "sess1", now)
	require.NoError(t, err)
	require.Len(t, out1, 2)

	// Immediately again within the cooldown window: gated even though "b"
	// already surfaced and the watermark has advanced - the session gate
	// itself returns before any query runs.
	out2, err := n.SinceRowid(context.Background(), "cli", "sess1", now.Add(5*time.Second))
	require.NoError(t, err)
	require.Empty(t, out2)

	out3, err := n.SinceRowid(context.Background(), "cli", "sess1", now.Add(31*time.Second))
	require.NoError(t, err)
	require.Empty(t, out3, "no new rows past the already-advanced watermark")
}

func TestSinceRowidSessionCapGates(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	insertImportant(t, db, "a", 9, now)

	cfg := DefaultConfig()
	cfg.MaxPerSession = 1
	cfg.Cooldown = 0
	n := New(db, cfg)

	out1, err := n.SinceRowid(context.Background(), "cli", "sess1", now)
	require.NoError(t, err)
	require.Len(t, out1, 1)

	insertImportant(t, db, "b", 9, now)
	out2, err := n.SinceRowid(context.Background(), "cli", "sess1", now.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, out2, "session cap of 1 already reached")
}

func TestFallbackExcerptTruncatesToTrailingTurns(t *testing.T) {
	turns := make([]Turn, 0, 15)
	for i := 0; i < 15; i++ {
		turns = append(turns, Turn{Role: "user", Content: "turn"})
	}
	out := fallbackExcerpt(turns)
	lines := 0
	for _, c := range out {
		if c == '\n' {
			lines++
		}
	}
	require.Equal(t, handoffFallbackTurns-1, lines, "expected exactly the trailing window worth of lines")
}

func TestFallbackExcerptShorterThanWindowKeepsAll(t *testing.T) {
	turns := []Turn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}
	out := fallbackExcerpt(turns)
	require.Contains(t, out, "hi")
	require.Contains(t, out, "hello")
}
