// Package extract implements the extraction scheduler (component K):
// whole-file vs. chunked mode selection, concurrency-capped per-chunk
// extraction, elaborative pre-fetch, and an optional post-extraction
// dedup pass.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agenr/memory/internal/embedcache"
	"github.com/agenr/memory/internal/llm"
	"github.com/agenr/memory/internal/recall"
	"github.com/agenr/memory/internal/types"
)

// Message is one transcript turn handed to the extractor.
type Message struct {
	Role    string
	Content string
}

// ChunkMode controls whole-file vs. chunked extraction.
type ChunkMode string

const (
	ChunkAuto  ChunkMode = "auto"
	ChunkForce ChunkMode = "force"
	ChunkNever ChunkMode = "never"
)

// Config tunes the scheduler.
type Config struct {
	Model                   string
	ContextWindow           int
	OutputBudget            int
	SystemPromptBudget      int
	Concurrency             int
	Mode                    ChunkMode
	EntryCountWarnThreshold int

	NoPreFetch             bool
	PreFetchThreshold      float64
	PreFetchCandidateLimit int
	PreFetchMaxInjected    int
	PreFetchFloor          int
	PreFetchTimeout        time.Duration

	ChunkTimeout time.Duration
	PostDedup    bool
}

func DefaultConfig() Config {
	return Config{
		OutputBudget:            16384,
		SystemPromptBudget:      4000,
		Concurrency:             5,
		Mode:                    ChunkAuto,
		EntryCountWarnThreshold: 500,
		PreFetchThreshold:       0.72,
		PreFetchCandidateLimit:  15,
		PreFetchMaxInjected:     5,
		PreFetchFloor:           20,
		PreFetchTimeout:         5 * time.Second,
		ChunkTimeout:            60 * time.Second,
	}
}

// contextWindows carries the known usable context window per model; an
// unrecognized model falls back to defaultContextWindow.
var contextWindows = map[string]int{
	"claude-3-5-haiku-20241022":  200_000,
	"claude-3-5-sonnet-20241022": 200_000,
	"claude-opus-4":              200_000,
}

const defaultContextWindow = 200_000

func contextWindowFor(model string) int {
	if w, ok := contextWindows[model]; ok {
		return w
	}
	return defaultContextWindow
}

// ActiveCounter reports the number of currently active entries, used to
// gate pre-fetch on a near-empty database.
type ActiveCounter func(ctx context.Context) (int, error)

// Scheduler runs extraction over a batch of transcript messages.
type Scheduler struct {
	cfg     Config
	llm     llm.Client
	recall  *recall.Engine
	embed   embedcache.EmbedFunc
	active  ActiveCounter
	logWarn func(format string, args ...any)
}

func New(cfg Config, client llm.Client, rec *recall.Engine, embed embedcache.EmbedFunc, active ActiveCounter, logWarn func(format string, args ...any)) *Scheduler {
	if cfg.OutputBudget <= 0 {
		cfg.OutputBudget = 16384
	}
	if cfg.SystemPromptBudget <= 0 {
		cfg.SystemPromptBudget = 4000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Mode == "" {
		cfg.Mode = ChunkAuto
	}
	if cfg.PreFetchTimeout <= 0 {
		cfg.PreFetchTimeout = 5 * time.Second
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = 60 * time.Second
	}
	if logWarn == nil {
		logWarn = func(string, ...any) {}
	}
	return &Scheduler{cfg: cfg, llm: client, recall: rec, embed: embed, active: active, logWarn: logWarn}
}

// EstimateTokens applies the 1.3x-word-count heuristic (the same one
// token budgeting rule, reused here for consistency) to a message set.
func EstimateTokens(messages []Message) int {
	words := 0
	for _, m := range messages {
		words += len(strings.Fields(m.Content))
	}
	return int(1.3 * float64(words))
}

// Extract decides whole-file vs. chunked mode and returns every extracted
// candidate entry across the batch.
func (s *Scheduler) Extract(ctx context.Context, messages []Message) ([]llm.ExtractedEntry, error) {
	if len(messages) > s.cfg.EntryCountWarnThreshold {
		s.logWarn("extract: %d messages exceeds warn threshold %d", len(messages), s.cfg.EntryCountWarnThreshold)
	}

	usable := contextWindowFor(s.cfg.Model) - s.cfg.OutputBudget - s.cfg.SystemPromptBudget
	estimate := EstimateTokens(messages)

	var chunks [][]Message
	switch s.cfg.Mode {
	case ChunkForce:
		if len(messages) == 0 {
			return nil, errors.New("extract: force mode requires non-empty messages")
		}
		if estimate > usable {
			return nil, fmt.Errorf("extract: force mode estimate %d exceeds usable window %d", estimate, usable)
		}
		chunks = [][]Message{messages}
	case ChunkNever:
		chunks = packChunks(messages, usable)
	default:
		if estimate <= usable {
			chunks = [][]Message{messages}
		} else {
			chunks = packChunks(messages, usable)
		}
	}

	results, err := s.runChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	if s.cfg.PostDedup {
		results = s.postDedup(ctx, results)
	}
	return results, nil
}

// packChunks greedily groups messages so each chunk's estimated token
// count stays at or under usable, splitting on message boundaries.
func packChunks(messages []Message, usable int) [][]Message {
	if usable <= 0 {
		usable = defaultContextWindow
	}
	var chunks [][]Message
	var current []Message
	currentTokens := 0
	for _, m := range messages {
		mt := int(1.3 * float64(len(strings.Fields(m.Content))))
		if len(current) > 0 && currentTokens+mt > usable {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, m)
		currentTokens += mt
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// runChunks extracts every chunk concurrently, capped at cfg.Concurrency,
// grounded on the same worker-pool idiom used by the consolidator.
func (s *Scheduler) runChunks(ctx context.Context, chunks [][]Message) ([]llm.ExtractedEntry, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	type indexed struct {
		idx     int
		entries []llm.ExtractedEntry
		err     error
	}
	workCh := make(chan int, len(chunks))
	resultCh := make(chan indexed, len(chunks))

	var wg sync.WaitGroup
	for w := 0; w < s.cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workCh {
				entries, err := s.extractChunk(ctx, chunks[idx])
				resultCh <- indexed{idx: idx, entries: entries, err: err}
			}
		}()
	}
	for i := range chunks {
		workCh <- i
	}
	close(workCh)
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	ordered := make([][]llm.ExtractedEntry, len(chunks))
	var firstErr error
	for r := range resultCh {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		ordered[r.idx] = r.entries
	}
	if firstErr != nil {
		return nil, firstErr
	}

	var all []llm.ExtractedEntry
	for _, e := range ordered {
		all = append(all, e...)
	}
	return all, nil
}

func (s *Scheduler) extractChunk(ctx context.Context, chunk []Message) ([]llm.ExtractedEntry, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ChunkTimeout)
	defer cancel()

	reference := s.prefetch(cctx, chunk)

	var b strings.Builder
	for _, m := range chunk {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}

	return s.llm.ExtractEntries(cctx, b.String(), reference)
}

// prefetch vector-searches related active entries to ground the
// extraction prompt, degrading silently to "" on any error, timeout, or
// below-floor database size.
func (s *Scheduler) prefetch(ctx context.Context, chunk []Message) string {
	if s.cfg.NoPreFetch || s.recall == nil || s.embed == nil {
		return ""
	}
	if s.active != nil {
		n, err := s.active(ctx)
		if err != nil || n < s.cfg.PreFetchFloor {
			return ""
		}
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PreFetchTimeout)
	defer cancel()

	var b strings.Builder
	for _, m := range chunk {
		b.WriteString(m.Content)
		b.WriteString(" ")
	}

	results, err := s.recall.Recall(pctx, recall.Query{
		Text: b.String(), Limit: s.cfg.PreFetchCandidateLimit, NoUpdate: true,
	}, s.embed)
	if err != nil {
		return ""
	}

	var refs []string
	for _, r := range results {
		if r.Scores.Similarity < s.cfg.PreFetchThreshold {
			continue
		}
		refs = append(refs, fmt.Sprintf("- (%s) %s: %s", r.Entry.Type, r.Entry.Subject, r.Entry.Content))
		if len(refs) >= s.cfg.PreFetchMaxInjected {
			break
		}
	}
	return strings.Join(refs, "\n")
}

// postDedup drops an entry when the model classifies it as a near-variant
// of the immediately preceding kept entry, a cheap O(n) pass bounded to
// adjacent pairs rather than every combination.
func (s *Scheduler) postDedup(ctx context.Context, entries []llm.ExtractedEntry) []llm.ExtractedEntry {
	if len(entries) < 2 || s.llm == nil {
		return entries
	}
	kept := []llm.ExtractedEntry{entries[0]}
	for _, e := range entries[1:] {
		prev := kept[len(kept)-1]
		cls, err := s.llm.ClassifyConflict(ctx, entryText(prev), entryText(e))
		if err == nil && cls.Confidence >= 0.85 &&
			(cls.Relation == llm.RelationSupersedes || cls.Relation == llm.RelationElaborates) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func entryText(e llm.ExtractedEntry) string {
	return e.Subject + "\n" + e.Content
}

// ToEntries converts extracted candidates into store-ready types.Entry
// values, leaving ID/ContentHash/timestamps for the store pipeline to
// assign.
func ToEntries(extracted []llm.ExtractedEntry, sourceFile *string) []*types.Entry {
	out := make([]*types.Entry, 0, len(extracted))
	for _, e := range extracted {
		out = append(out, &types.Entry{
			Type:       types.EntryType(e.Type),
			Subject:    e.Subject,
			Content:    e.Content,
			Importance: e.Importance,
			Tags:       types.CleanTags(e.Tags),
			SourceFile: sourceFile,
		})
	}
	return out
}
