// Package recall implements the recall engine (component G): candidate
// generation, scoring, session-start budget allocation, and the atomic
// recall-metadata update.
package recall

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/agenr/memory/internal/embedcache"
	"github.com/agenr/memory/internal/retirement"
	"github.com/agenr/memory/internal/storage/sqlite"
	"github.com/agenr/memory/internal/types"
)

// Context selects the candidate-generation and categorization mode.
type Context string

const (
	ContextDefault      Context = "default"
	ContextSessionStart Context = "session-start"
	ContextBrowse       Context = "browse"
)

// IsTopic reports whether ctx is a "topic:<text>" value, returning the
// topic text.
func (c Context) IsTopic() (string, bool) {
	s := string(c)
	if strings.HasPrefix(s, "topic:") {
		return strings.TrimPrefix(s, "topic:"), true
	}
	return "", false
}

// SessionCandidateLimit is the vector top-K used for session-start
// candidate generation instead of limit*3.
const SessionCandidateLimit = 500

// Query mirrors the documented query record.
type Query struct {
	Text            string
	Limit           int
	Types           []types.EntryType
	Tags            []string
	MinImportance   int
	Since           *time.Time
	Expiry          *types.Expiry
	Scope           *types.Scope
	Platform        *string
	Projects        []string
	ExcludeProjects []string
	Strict          bool
	Context         Context
	Budget          *int
	NoBoost         bool
	NoUpdate        bool
	SuppressCtx     string // current context value checked against suppressed_contexts
}

// Result is one scored recall hit.
type Result struct {
	Entry  *types.Entry
	Score  float64
	Scores ScoreBreakdown
}

// Engine executes recall queries against durable storage.
type Engine struct {
	db     *sqlite.DB
	cache  *embedcache.Cache
	cfg    ScoreConfig
	ledger *retirement.Ledger
}

// New builds an Engine. ledger may be nil, in which case Retire(persist:
// true) still retires the entry in storage but records nothing durable
// for re-ingest to consult.
func New(db *sqlite.DB, cache *embedcache.Cache, cfg ScoreConfig, ledger *retirement.Ledger) *Engine {
	return &Engine{db: db, cache: cache, cfg: cfg, ledger: ledger}
}

// Retire marks id as retired (4.G.5). When persist is set, the
// (subject, type, content_hash) tuple is additionally recorded in the
// retirements ledger, so a later StoreEntries call that re-ingests an
// entry matching that tuple inherits the retired flag (invariant 9)
// instead of silently reviving it.
func (eng *Engine) Retire(ctx context.Context, id, reason string, persist bool) error {
	now := time.Now().UTC()
	entry, err := eng.db.GetEntry(ctx, id)
	if err != nil {
		return fmt.Errorf("recall: retire %s: %w", id, err)
	}
	if err := eng.db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		return sqlite.Retire(ctx, conn, id, reason, now)
	}); err != nil {
		return err
	}
	if persist && eng.ledger != nil {
		key := retirement.Key(entry.Subject, entry.Type, entry.ContentHash)
		if err := eng.ledger.Record(key, reason, now); err != nil {
			return fmt.Errorf("recall: persist retirement for %s: %w", id, err)
		}
	}
	return nil
}

// Recall runs candidate generation, filtering, scoring, and (unless
// NoUpdate) the atomic recall-metadata update, returning results ordered
// by descending score.
func (eng *Engine) Recall(ctx context.Context, q Query, embed embedcache.EmbedFunc) ([]Result, error) {
	now := time.Now().UTC()
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	candidates, cosines, err := eng.generateCandidates(ctx, q, limit, embed)
	if err != nil {
		return nil, err
	}

	filtered := applyFilters(candidates, cosines, q)

	results := make([]Result, 0, len(filtered))
	for _, fc := range filtered {
		sb := Score(fc.entry, fc.cosine, eng.cfg, now, q.NoBoost)
		results = append(results, Result{Entry: fc.entry, Score: sb.Total, Scores: sb})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if math.Abs(results[i].Score-results[j].Score) < 0.05 {
			return results[i].Entry.UpdatedAt.After(results[j].Entry.UpdatedAt)
		}
		return results[i].Score > results[j].Score
	})

	if q.Context == ContextSessionStart {
		results = categorizeAndBudget(results, q.Budget)
	} else if len(results) > limit {
		results = results[:limit]
	}

	if !q.NoUpdate && len(results) > 0 {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.Entry.ID
		}
		if err := eng.db.AppendRecallMetadata(ctx, ids, now); err != nil {
			return results, err
		}
	}

	return results, nil
}

type filteredCandidate struct {
	entry  *types.Entry
	cosine float64
}

func (eng *Engine) generateCandidates(ctx context.Context, q Query, limit int, embed embedcache.EmbedFunc) ([]*types.Entry, map[string]float64, error) {
	cosines := make(map[string]float64)

	switch {
	case q.Context == ContextBrowse || (q.Text == "" && q.Context != ContextSessionStart):
		window := 30 * 24 * time.Hour
		entries, err := eng.browse(ctx, window)
		return entries, cosines, err

	case q.Context == ContextSessionStart:
		window := 30 * 24 * time.Hour
		entries, err := eng.browse(ctx, window)
		if err != nil {
			return nil, cosines, err
		}
		if q.Text == "" {
			return entries, cosines, nil
		}
		vecs, err := embed(ctx, []string{q.Text})
		if err != nil || len(vecs) == 0 {
			return entries, cosines, nil
		}
		scored, err := eng.db.NearestNeighbors(ctx, vecs[0], SessionCandidateLimit, false)
		if err != nil {
			return entries, cosines, nil
		}
		seen := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			seen[e.ID] = struct{}{}
		}
		for _, s := range scored {
			cosines[s.Entry.ID] = s.Cosine
			if _, dup := seen[s.Entry.ID]; dup {
				continue
			}
			seen[s.Entry.ID] = struct{}{}
			entries = append(entries, s.Entry)
		}
		return entries, cosines, nil

	default:
		if q.Text == "" {
			entries, err := eng.browse(ctx, 30*24*time.Hour)
			return entries, cosines, err
		}
		vecs, err := embed(ctx, []string{q.Text})
		if err != nil || len(vecs) == 0 {
			// Degrade to FTS when embedding is unavailable.
			entries, ferr := eng.db.SearchFTS(ctx, q.Text, limit*3, false)
			return entries, cosines, ferr
		}
		scored, err := eng.db.NearestNeighbors(ctx, vecs[0], limit*3, false)
		if err != nil {
			return nil, cosines, err
		}
		entries := make([]*types.Entry, len(scored))
		for i, s := range scored {
			entries[i] = s.Entry
			cosines[s.Entry.ID] = s.Cosine
		}
		return entries, cosines, nil
	}
}

func (eng *Engine) browse(ctx context.Context, window time.Duration) ([]*types.Entry, error) {
	since := time.Now().UTC().Add(-window)
	return eng.db.ActiveSince(ctx, since, 1000)
}

func applyFilters(entries []*types.Entry, cosines map[string]float64, q Query) []filteredCandidate {
	out := make([]filteredCandidate, 0, len(entries))
	for _, e := range entries {
		if e.SupersededBy != nil || e.Retired {
			continue
		}
		if q.SuppressCtx != "" && containsString(e.SuppressedContexts, q.SuppressCtx) {
			continue
		}
		if len(q.Types) > 0 && !containsType(q.Types, e.Type) {
			continue
		}
		if q.MinImportance > 0 && e.Importance < q.MinImportance {
			continue
		}
		if q.Since != nil && e.CreatedAt.Before(*q.Since) {
			continue
		}
		if q.Expiry != nil && e.Expiry != *q.Expiry {
			continue
		}
		if q.Scope != nil && e.Scope != *q.Scope {
			continue
		}
		if q.Platform != nil && (e.Platform == nil || *e.Platform != *q.Platform) {
			continue
		}
		if len(q.Projects) > 0 {
			if e.Project == nil {
				if q.Strict {
					continue
				}
			} else if !containsString(q.Projects, *e.Project) {
				continue
			}
		}
		if len(q.ExcludeProjects) > 0 && e.Project != nil && containsString(q.ExcludeProjects, *e.Project) {
			continue
		}
		if len(q.Tags) > 0 && !anyTagMatches(e.Tags, q.Tags) {
			continue
		}
		out = append(out, filteredCandidate{entry: e, cosine: cosines[e.ID]})
	}
	return out
}

func containsString(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsType(xs []types.EntryType, v types.EntryType) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func anyTagMatches(have, want []string) bool {
	for _, w := range want {
		if containsString(have, w) {
			return true
		}
	}
	return false
}
