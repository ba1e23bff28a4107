// Package memory is the library facade: the types and constructors a
// Go program embedding the engine needs, without reaching into
// internal/*. It mirrors the reference project's root-level alias
// package, re-exporting the pieces an extension actually needs instead
// of requiring direct internal/ imports.
package memory

import (
	"context"
	"time"

	"github.com/agenr/memory/internal/config"
	"github.com/agenr/memory/internal/consolidate"
	"github.com/agenr/memory/internal/debug"
	"github.com/agenr/memory/internal/embedcache"
	"github.com/agenr/memory/internal/exportimport"
	"github.com/agenr/memory/internal/extract"
	"github.com/agenr/memory/internal/llm"
	"github.com/agenr/memory/internal/recall"
	"github.com/agenr/memory/internal/retirement"
	"github.com/agenr/memory/internal/signals"
	"github.com/agenr/memory/internal/storage/sqlite"
	"github.com/agenr/memory/internal/store"
	"github.com/agenr/memory/internal/subjectindex"
	"github.com/agenr/memory/internal/types"
	"github.com/agenr/memory/internal/writequeue"
)

// Core domain types, re-exported so a caller never has to import
// internal/types directly.
type (
	Entry          = types.Entry
	EntryType      = types.EntryType
	Expiry         = types.Expiry
	Scope          = types.Scope
	Relation       = types.Relation
	RelationType   = types.RelationType
	SignalWatermark = types.SignalWatermark
)

// Entry type constants.
const (
	TypeFact       = types.TypeFact
	TypeDecision   = types.TypeDecision
	TypePreference = types.TypePreference
	TypeTodo       = types.TypeTodo
	TypeLesson     = types.TypeLesson
	TypeEvent      = types.TypeEvent
)

// Expiry constants.
const (
	ExpiryCore       = types.ExpiryCore
	ExpiryPermanent  = types.ExpiryPermanent
	ExpiryTemporary  = types.ExpiryTemporary
	ExpirySessionOnly = types.ExpirySessionOnly
)

// Scope constants.
const (
	ScopePrivate  = types.ScopePrivate
	ScopePersonal = types.ScopePersonal
	ScopePublic   = types.ScopePublic
)

// StoreOptions and StoreResult mirror the store pipeline's documented
// request/response shape.
type (
	StoreOptions = store.Options
	StoreResult  = store.Result
)

// RecallQuery and RecallResult mirror the recall engine's request/
// response shape.
type (
	RecallQuery  = recall.Query
	RecallResult = recall.Result
)

// Engine composes every component needed to run the memory system as a
// library: durable storage, the store pipeline, the recall engine, the
// consolidator, the extraction scheduler, and the signals/handoff
// notifier, all sharing one database handle and embedding cache.
type Engine struct {
	DB         *sqlite.DB
	Log        *debug.Logger
	Config     *config.Config
	Cache      *embedcache.Cache
	Embed      embedcache.EmbedFunc
	LLM        llm.Client
	Store      *store.Pipeline
	Writer     *store.QueuedPipeline
	Recall     *recall.Engine
	Consolidate *consolidate.Consolidator
	Extract    *extract.Scheduler
	Signals    *signals.Notifier
	Handoff    *signals.Handoff
}

// Open loads configuration, opens the database, and wires every
// component together. client may be nil to run without LLM-backed
// conflict resolution, summarization, or extraction; embed must not be
// nil (internal/embedder.Hash is a deterministic stand-in when no real
// embedding provider is configured).
func Open(ctx context.Context, log *debug.Logger, client llm.Client, embed embedcache.EmbedFunc) (*Engine, error) {
	if log == nil {
		log = debug.NewNop()
	}
	cfg, err := config.Load(log)
	if err != nil {
		return nil, err
	}
	db, err := sqlite.Open(ctx, cfg.DBPath(), log)
	if err != nil {
		return nil, err
	}

	ledger, err := retirement.Open(cfg.Home())
	if err != nil {
		return nil, err
	}

	cache := embedcache.New()
	idx := subjectindex.New()
	pipeline := store.New(db, cache, idx, client, log, ledger)
	writer := store.NewQueued(pipeline, embed, store.Options{LLMEnabled: client != nil}, writequeue.DefaultConfig())
	recallEngine := recall.New(db, cache, recall.DefaultScoreConfig(), ledger)

	eng := &Engine{
		DB:          db,
		Log:         log,
		Config:      cfg,
		Cache:       cache,
		Embed:       embed,
		LLM:         client,
		Store:       pipeline,
		Writer:      writer,
		Recall:      recallEngine,
		Consolidate: consolidate.New(db, client, consolidate.DefaultConfig(), ledger),
		Signals:     signals.New(db, signals.DefaultConfig()),
		Handoff:     signals.NewHandoff(pipeline, client),
	}
	eng.Extract = extract.New(extract.DefaultConfig(), client, recallEngine, embed, db.CountActive, log.Warnf)
	return eng, nil
}

// Close drains and stops the write queue, then releases the database
// handle. Queued writes are allowed to finish; no new work is accepted.
func (e *Engine) Close() error {
	if e.Writer != nil {
		_ = e.Writer.Close(context.Background())
	}
	return e.DB.Close()
}

// Export dumps the full database as a round-trippable document.
func (e *Engine) Export(ctx context.Context, now time.Time) (exportimport.Document, error) {
	return exportimport.Build(ctx, e.DB, now)
}

// Import restores a document into the database, returning the number of
// entries inserted. Callers should re-embed imported entries afterward;
// embeddings are never part of the exported document.
func (e *Engine) Import(ctx context.Context, doc exportimport.Document) (int, error) {
	return exportimport.Import(ctx, e.DB, doc)
}
