// Package signals implements the signals/handoff component (component L):
// watermark-based "since last surfaced" queries gated by importance,
// recency, and per-session cooldown, plus the session-end handoff write.
package signals

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agenr/memory/internal/embedcache"
	"github.com/agenr/memory/internal/llm"
	"github.com/agenr/memory/internal/store"
	"github.com/agenr/memory/internal/storage/sqlite"
	"github.com/agenr/memory/internal/types"
)

// Config tunes the signal consumer's importance/recency filter and its
// per-session throttling.
type Config struct {
	MinImportance  int
	MaxPerSignal   int
	RecencyWindow  time.Duration
	Cooldown       time.Duration
	MaxPerSession  int
}

func DefaultConfig() Config {
	return Config{
		MinImportance: 8,
		MaxPerSignal:  3,
		RecencyWindow: 300 * time.Second,
		Cooldown:      30 * time.Second,
		MaxPerSession: 10,
	}
}

// sessionState tracks per-session gating for one consumer session.
type sessionState struct {
	lastSignalAt time.Time
	count        int
}

// Notifier runs SinceRowid queries against a database, gating output by
// the configured cooldown and session cap.
type Notifier struct {
	db  *sqlite.DB
	cfg Config

	mu       sync.Mutex
	sessions map[string]*sessionState
}

func New(db *sqlite.DB, cfg Config) *Notifier {
	if cfg.MinImportance <= 0 {
		cfg.MinImportance = 8
	}
	if cfg.MaxPerSignal <= 0 {
		cfg.MaxPerSignal = 3
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = 300 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.MaxPerSession <= 0 {
		cfg.MaxPerSession = 10
	}
	return &Notifier{db: db, cfg: cfg, sessions: make(map[string]*sessionState)}
}

// SinceRowid returns entries surfaced to consumer since its last watermark,
// advancing the watermark to the highest rowid returned. sessionID gates
// per-session cooldown and the session cap; an empty sessionID skips both
// gates (used by non-interactive consumers).
func (n *Notifier) SinceRowid(ctx context.Context, consumer, sessionID string, now time.Time) ([]*types.Entry, error) {
	if sessionID != "" && !n.allowSession(sessionID, now) {
		return nil, nil
	}

	watermark, err := n.db.GetWatermark(ctx, consumer)
	if err != nil {
		return nil, fmt.Errorf("signals: get watermark: %w", err)
	}

	recencyFloor := now.Add(-n.cfg.RecencyWindow)
	rows, err := n.db.EntriesSinceRowid(ctx, watermark, n.cfg.MinImportance, recencyFloor, n.cfg.MaxPerSignal)
	if err != nil {
		return nil, fmt.Errorf("signals: query since rowid: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	highest := watermark
	out := make([]*types.Entry, 0, len(rows))
	for _, r := range rows {
		if r.Rowid > highest {
			highest = r.Rowid
		}
		out = append(out, r.Entry)
	}
	if err := n.db.SetWatermark(ctx, consumer, highest); err != nil {
		return nil, fmt.Errorf("signals: set watermark: %w", err)
	}

	if sessionID != "" {
		n.recordSignal(sessionID, now)
	}
	return out, nil
}

// allowSession reports whether sessionID may receive another signal,
// given the per-session cooldown and session cap.
func (n *Notifier) allowSession(sessionID string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.sessions[sessionID]
	if !ok {
		return true
	}
	if st.count >= n.cfg.MaxPerSession {
		return false
	}
	if now.Sub(st.lastSignalAt) < n.cfg.Cooldown {
		return false
	}
	return true
}

func (n *Notifier) recordSignal(sessionID string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		n.sessions[sessionID] = st
	}
	st.lastSignalAt = now
	st.count++
}

// Turn is one transcript turn used to build the deterministic handoff
// fallback excerpt.
type Turn struct {
	Role    string
	Content string
}

// handoffFallbackTurns is how many trailing turns compose the deterministic
// excerpt when the LLM summary upgrade is unavailable or fails.
const handoffFallbackTurns = 10

// Handoff writes a session-end summary entry through the store pipeline.
// It tries an LLM-produced summary first; any failure there falls back to
// a deterministic last-N-turns excerpt, so the handoff write itself never
// fails because the upgrade step did.
type Handoff struct {
	pipeline *store.Pipeline
	client   llm.Client
}

func NewHandoff(pipeline *store.Pipeline, client llm.Client) *Handoff {
	return &Handoff{pipeline: pipeline, client: client}
}

// Write composes and stores the handoff entry for sessionID, deduping
// against a paired begin-session signal via canonical_key.
func (h *Handoff) Write(ctx context.Context, sessionID string, turns []Turn, embed embedcache.EmbedFunc) (store.Result, error) {
	summary := h.summarize(ctx, turns)
	canonicalKey := "handoff:" + sessionID

	entry := &types.Entry{
		Type:         types.TypeEvent,
		Subject:      "session handoff",
		Content:      summary,
		Importance:   9,
		Tags:         []string{"handoff"},
		CanonicalKey: &canonicalKey,
	}

	return h.pipeline.StoreEntries(ctx, []*types.Entry{entry}, store.Options{LLMEnabled: h.client != nil}, embed)
}

// summarize asks the LLM for a summary; on any error (including a nil
// client) it degrades to a deterministic excerpt of the trailing turns.
func (h *Handoff) summarize(ctx context.Context, turns []Turn) string {
	fallback := fallbackExcerpt(turns)
	if h.client == nil {
		return fallback
	}

	var b strings.Builder
	b.WriteString("Summarize this coding session's end state in 2-4 sentences for a future session to pick up from:\n\n")
	for _, t := range turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}

	summary, err := h.client.Summarize(ctx, b.String())
	if err != nil || strings.TrimSpace(summary) == "" {
		return fallback
	}
	return summary
}

// fallbackExcerpt joins the trailing handoffFallbackTurns turns verbatim.
func fallbackExcerpt(turns []Turn) string {
	start := 0
	if len(turns) > handoffFallbackTurns {
		start = len(turns) - handoffFallbackTurns
	}
	var b strings.Builder
	for _, t := range turns[start:] {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
