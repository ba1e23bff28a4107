// Package store implements the store pipeline (component F): resolve
// embeddings, classify each candidate, and commit everything in one
// transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agenr/memory/internal/conflict"
	"github.com/agenr/memory/internal/debug"
	"github.com/agenr/memory/internal/dedup"
	"github.com/agenr/memory/internal/embedcache"
	"github.com/agenr/memory/internal/llm"
	"github.com/agenr/memory/internal/retirement"
	"github.com/agenr/memory/internal/storage/sqlite"
	"github.com/agenr/memory/internal/subjectindex"
	"github.com/agenr/memory/internal/types"
	"github.com/agenr/memory/internal/validation"
)

// Options configures one store_entries call.
type Options struct {
	DryRun        bool
	LLMEnabled    bool
	Thresholds    dedup.Thresholds
	OnDecision    func(index int, entry *types.Entry, action dedup.Action) // called in input order
}

// Result mirrors the documented StoreResult shape.
type Result struct {
	Added            int
	Updated          int
	Skipped          int
	RelationsCreated int
	TotalEntries     int
	DurationMS       int64
}

// Pipeline wires the storage, embedding cache, subject index, and
// (optional) LLM client into one store_entries operation.
type Pipeline struct {
	db     *sqlite.DB
	cache  *embedcache.Cache
	idx    *subjectindex.Index
	llm    llm.Client
	log    *debug.Logger
	ledger *retirement.Ledger
}

// New builds a Pipeline. ledger may be nil, in which case re-ingested
// entries never inherit a prior retirement (invariant 9 is a no-op
// without a ledger to consult).
func New(db *sqlite.DB, cache *embedcache.Cache, idx *subjectindex.Index, client llm.Client, log *debug.Logger, ledger *retirement.Ledger) *Pipeline {
	return &Pipeline{db: db, cache: cache, idx: idx, llm: client, log: log, ledger: ledger}
}

// sqliteSubjectStore adapts *sqlite.DB to subjectindex.Store, for lazily
// rebuilding the subject index from durable storage.
type sqliteSubjectStore struct{ db *sqlite.DB }

func (s sqliteSubjectStore) ActiveSubjectKeys(ctx context.Context) (map[string]string, error) {
	return s.db.ActiveSubjectKeys(ctx)
}

// conflictSubjectIndexAdapter adapts *subjectindex.Index to
// conflict.SubjectIndex.
type conflictSubjectIndexAdapter struct {
	idx   *subjectindex.Index
	store subjectindex.Store
}

func (c conflictSubjectIndexAdapter) Lookup(ctx context.Context, entity, attribute string) ([]string, error) {
	return c.idx.Lookup(ctx, c.store, entity, attribute)
}
func (c conflictSubjectIndexAdapter) FuzzyLookup(ctx context.Context, entity, attribute string) ([]string, error) {
	return c.idx.FuzzyLookup(ctx, c.store, entity, attribute)
}
func (c conflictSubjectIndexAdapter) CrossEntityLookup(ctx context.Context, attribute string) ([]string, error) {
	return c.idx.CrossEntityLookup(ctx, c.store, attribute)
}

// conflictStoreAdapter adapts *sqlite.DB plus a live conn to
// conflict.Store.
type conflictStoreAdapter struct {
	db   *sqlite.DB
	conn *sql.Conn
}

func (s conflictStoreAdapter) GetEntry(ctx context.Context, id string) (*types.Entry, error) {
	return s.db.GetEntry(ctx, id)
}

func (s conflictStoreAdapter) NearestNeighborIDs(ctx context.Context, query []float32, k int) ([]string, error) {
	scored, err := sqlite.NearestNeighborsTx(ctx, s.conn, query, k, false)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(scored))
	for i, sc := range scored {
		ids[i] = sc.Entry.ID
	}
	return ids, nil
}

// dedupReader adapts sqlite to dedup.Reader, using conn so within-batch
// writes are visible to later classifications in the same batch.
type dedupReader struct {
	db   *sqlite.DB
	conn *sql.Conn
}

func (r dedupReader) GetEntryByContentHash(ctx context.Context, hash string) (*types.Entry, error) {
	return r.db.GetEntryByContentHash(ctx, hash)
}
func (r dedupReader) GetActiveByCanonicalKey(ctx context.Context, key string) (*types.Entry, error) {
	return r.db.GetActiveByCanonicalKey(ctx, key)
}
func (r dedupReader) FindActiveBySubjectTypeSource(ctx context.Context, subject string, t types.EntryType, sourceFile *string) (*types.Entry, error) {
	return r.db.FindActiveBySubjectTypeSource(ctx, subject, t, sourceFile)
}
func (r dedupReader) NearestNeighbors(ctx context.Context, query []float32, k int, includeInactive bool) ([]dedup.NeighborEntry, error) {
	scored, err := sqlite.NearestNeighborsTx(ctx, r.conn, query, k, includeInactive)
	if err != nil {
		return nil, err
	}
	out := make([]dedup.NeighborEntry, len(scored))
	for i, s := range scored {
		out[i] = dedup.NeighborEntry{Entry: s.Entry, Cosine: s.Cosine}
	}
	return out, nil
}

// StoreEntries implements the full 4.F operation.
func (p *Pipeline) StoreEntries(ctx context.Context, entries []*types.Entry, opts Options, embed embedcache.EmbedFunc) (Result, error) {
	start := time.Now()
	res := Result{TotalEntries: len(entries)}

	validated := make([]*types.Entry, 0, len(entries))
	for _, e := range entries {
		if err := validation.ForIngest()(e); err != nil {
			res.Skipped++
			continue
		}
		e.ContentHash = e.ComputeContentHash()
		p.inheritRetirement(e)
		validated = append(validated, e)
	}

	survivors, preCollapsed := dedup.CollapseBatch(validated)
	res.Skipped += preCollapsed

	vectors, err := p.cache.Resolve(ctx, survivors, embed)
	if err != nil {
		return res, fmt.Errorf("store: resolve embeddings: %w", err)
	}

	th := opts.Thresholds
	th.LLMEnabled = opts.LLMEnabled && p.llm != nil

	txErr := p.db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		dr := dedupReader{db: p.db, conn: conn}

		now := time.Now().UTC()
		for i, e := range survivors {
			vec := vectors[i]
			e.Embedding = vec

			decision, err := dedup.Classify(ctx, dr, e, vec, th, now)
			if err != nil {
				return fmt.Errorf("classify entry %d: %w", i, err)
			}
			if opts.OnDecision != nil {
				opts.OnDecision(i, e, decision.Action)
			}

			switch decision.Action {
			case dedup.ActionSkip:
				res.Skipped++
			case dedup.ActionReinforce:
				if err := sqlite.Reinforce(ctx, conn, decision.ExistingID, now); err != nil {
					return err
				}
				res.Updated++
			case dedup.ActionRelate:
				if e.ID == "" {
					e.ID = uuid.NewString()
				}
				if err := sqlite.InsertEntry(ctx, conn, e, now); err != nil {
					return err
				}
				if err := sqlite.InsertTags(ctx, conn, e.ID, e.Tags); err != nil {
					return err
				}
				if err := sqlite.InsertRelation(ctx, conn, types.Relation{
					SourceID: e.ID, TargetID: decision.ExistingID, RelationType: decision.Relation, CreatedAt: now,
				}); err != nil {
					return err
				}
				if decision.Relation == types.RelationSupersedes {
					if err := sqlite.Supersede(ctx, conn, decision.ExistingID, e.ID, now); err != nil {
						return err
					}
					p.idx.Remove(decision.ExistingID)
				}
				res.Added++
				res.RelationsCreated++
				if e.SubjectKey != nil {
					p.idx.Add(e.ID, *e.SubjectKey)
				}
			case dedup.ActionClassifyWithLLM:
				csi := conflictSubjectIndexAdapter{idx: p.idx, store: sqliteSubjectStore{db: p.db}}
				cst := conflictStoreAdapter{db: p.db, conn: conn}
				candidates, err := conflict.BuildCandidates(ctx, csi, cst, e, vec)
				if err != nil {
					return err
				}
				if len(candidates) == 0 {
					if existing, gerr := p.db.GetEntry(ctx, decision.TopCandidate); gerr == nil && existing != nil {
						candidates = []*types.Entry{existing}
					}
				}
				if len(candidates) == 0 {
					if err := insertPlain(ctx, conn, p.idx, e, now); err != nil {
						return err
					}
					res.Added++
					continue
				}

				// Evaluate every candidate; an auto-supersede wins outright,
				// otherwise the first flag wins, otherwise fall through to
				// coexist against the first candidate.
				best := conflict.Resolve(ctx, p.llm, candidates[0], e)
				existing := candidates[0]
				for _, cand := range candidates[1:] {
					o := conflict.Resolve(ctx, p.llm, cand, e)
					if o.Resolution == conflict.ResolutionAutoSupersede {
						best, existing = o, cand
						break
					}
					if best.Resolution == conflict.ResolutionCoexist && o.Resolution == conflict.ResolutionFlag {
						best, existing = o, cand
					}
				}
				outcome := best
				logEntry := conflict.LogEntry(uuid.NewString(), "", outcome, now)
				if e.ID == "" {
					e.ID = uuid.NewString()
				}
				logEntry.EntryB = e.ID

				switch outcome.Resolution {
				case conflict.ResolutionAutoSupersede:
					if err := sqlite.InsertEntry(ctx, conn, e, now); err != nil {
						return err
					}
					if err := sqlite.InsertTags(ctx, conn, e.ID, e.Tags); err != nil {
						return err
					}
					if err := sqlite.Supersede(ctx, conn, existing.ID, e.ID, now); err != nil {
						return err
					}
					if err := sqlite.InsertRelation(ctx, conn, types.Relation{
						SourceID: e.ID, TargetID: existing.ID, RelationType: types.RelationSupersedes, CreatedAt: now,
					}); err != nil {
						return err
					}
					p.idx.Remove(existing.ID)
					if e.SubjectKey != nil {
						p.idx.Add(e.ID, *e.SubjectKey)
					}
					res.Added++
					res.RelationsCreated++
				case conflict.ResolutionFlag:
					if outcome.Relation == llm.RelationContradicts {
						if err := sqlite.IncrementContradictions(ctx, conn, existing.ID, now); err != nil {
							return err
						}
						if err := sqlite.InsertRelation(ctx, conn, types.Relation{
							SourceID: e.ID, TargetID: existing.ID, RelationType: types.RelationContradicts, CreatedAt: now,
						}); err != nil {
							return err
						}
						res.RelationsCreated++
					}
					if err := insertPlain(ctx, conn, p.idx, e, now); err != nil {
						return err
					}
					res.Added++
				default: // coexist
					if err := insertPlain(ctx, conn, p.idx, e, now); err != nil {
						return err
					}
					res.Added++
				}
				if err := sqlite.InsertConflictLog(ctx, conn, logEntry); err != nil {
					return err
				}
			default: // insert
				if err := insertPlain(ctx, conn, p.idx, e, now); err != nil {
					return err
				}
				res.Added++
			}
		}

		logID := uuid.NewString()
		if err := sqlite.InsertIngestLog(ctx, conn, types.IngestLog{
			ID: logID, Added: res.Added, Updated: res.Updated, Skipped: res.Skipped,
			IngestedAt: now, DurationMS: time.Since(start).Milliseconds(),
		}); err != nil {
			return err
		}

		if opts.DryRun {
			return sqlite.ErrRollbackRequested()
		}
		return nil
	})
	if txErr != nil {
		return res, txErr
	}

	res.DurationMS = time.Since(start).Milliseconds()
	return res, nil
}

// inheritRetirement implements invariant 9: an entry re-ingested with
// the same (subject, type, content_hash) as a previously persisted
// retirement comes back retired rather than silently reviving. It
// mutates e in place before any insert path runs, so every downstream
// sqlite.InsertEntry call (plain insert, relate, auto-supersede) picks
// up the inherited flag for free.
func (p *Pipeline) inheritRetirement(e *types.Entry) {
	if p.ledger == nil || e.Retired {
		return
	}
	rec, ok := p.ledger.Lookup(retirement.Key(e.Subject, e.Type, e.ContentHash))
	if !ok {
		return
	}
	e.Retired = true
	retiredAt := rec.RetiredAt
	e.RetiredAt = &retiredAt
	reason := rec.Reason
	e.RetiredReason = &reason
}

func insertPlain(ctx context.Context, conn *sql.Conn, idx *subjectindex.Index, e *types.Entry, now time.Time) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := sqlite.InsertEntry(ctx, conn, e, now); err != nil {
		return err
	}
	if err := sqlite.InsertTags(ctx, conn, e.ID, e.Tags); err != nil {
		return err
	}
	if e.SubjectKey != nil {
		idx.Add(e.ID, *e.SubjectKey)
	}
	return nil
}
