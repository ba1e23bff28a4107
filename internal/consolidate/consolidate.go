// Package consolidate implements the consolidator (component H): cluster
// near-duplicate entries via a worker pool, classify clusters with the
// LLM, merge or flag, and run a separate forgetting pass.
package consolidate

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/agenr/memory/internal/fsatomic"
	"github.com/agenr/memory/internal/llm"
	"github.com/agenr/memory/internal/retirement"
	"github.com/agenr/memory/internal/storage/sqlite"
	"github.com/agenr/memory/internal/types"
)

const defaultConcurrency = 5

// Config controls one consolidation run.
type Config struct {
	Concurrency      int
	ReportOnly       bool
	Forget           bool
	NoResume         bool
	BatchSize        int
	Phase1Threshold  float64
	Phase1MaxCluster int
	Phase2MaxCluster int
	Forgetting       ForgettingConfig
}

func DefaultConfig() Config {
	return Config{
		Concurrency:      defaultConcurrency,
		BatchSize:        0, // 0 == unbounded
		Phase1Threshold:  0.82,
		Phase1MaxCluster: 8,
		Phase2MaxCluster: 6,
		Forgetting:       DefaultForgettingConfig(),
	}
}

// ForgettingConfig tunes the forgetting pass.
type ForgettingConfig struct {
	Enabled        bool
	ScoreThreshold float64
	MaxAgeDays     int
	Protect        []string // substrings (matched in subject or content) exempt from forgetting
}

func DefaultForgettingConfig() ForgettingConfig {
	return ForgettingConfig{ScoreThreshold: 0.75, MaxAgeDays: 180}
}

// Report summarizes one consolidation run (produced even in report-only
// mode).
type Report struct {
	ActiveCount        int
	DuplicateClusters  int
	MergedEntries      int
	ForgettingFlagged  int
	ForgettingDeleted  int
	Errors             []error
}

// Checkpoint is a cluster cursor persisted as TOML by LoadCheckpoint and
// SaveCheckpoint. Run neither reads nor writes it, so a run always starts
// from the full set of active entries.
type Checkpoint struct {
	Cursor    string    `toml:"cursor"`
	UpdatedAt time.Time `toml:"updated_at"`
}

// LoadCheckpoint reads a checkpoint file; a missing file is not an error.
func LoadCheckpoint(path string) (Checkpoint, error) {
	var cp Checkpoint
	_, err := toml.DecodeFile(path, &cp)
	if err != nil {
		return Checkpoint{}, nil //nolint:nilerr // absent checkpoint starts fresh
	}
	return cp, nil
}

// SaveCheckpoint writes cp to path atomically.
func SaveCheckpoint(path string, cp Checkpoint) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cp); err != nil {
		return fmt.Errorf("consolidate: encode checkpoint: %w", err)
	}
	return fsatomic.WriteFile(path, buf.Bytes(), 0o644)
}

// Consolidator runs report/clustering/forgetting passes against a
// database.
type Consolidator struct {
	db     *sqlite.DB
	llm    llm.Client
	cfg    Config
	ledger *retirement.Ledger
}

// New builds a Consolidator. ledger may be nil, in which case entries
// the forgetting pass retires do not survive re-ingest.
func New(db *sqlite.DB, client llm.Client, cfg Config, ledger *retirement.Ledger) *Consolidator {
	return &Consolidator{db: db, llm: client, cfg: cfg, ledger: ledger}
}

// Run executes the pipeline: report, phase 1/2 clustering and merging,
// forgetting. There is no rule-based cleanup step (expired or malformed
// entries are not removed). When cfg.ReportOnly is set, Run only counts
// clusters and forgetting candidates and changes nothing.
func (c *Consolidator) Run(ctx context.Context) (Report, error) {
	var report Report

	active, err := c.db.CountActive(ctx)
	if err != nil {
		return report, fmt.Errorf("consolidate: count active: %w", err)
	}
	report.ActiveCount = active

	clusters, err := c.findClusters(ctx, c.cfg.Phase1Threshold, c.cfg.Phase1MaxCluster)
	if err != nil {
		return report, fmt.Errorf("consolidate: phase 1 clustering: %w", err)
	}
	report.DuplicateClusters = len(clusters)

	if c.cfg.ReportOnly {
		flagged, err := c.forgettingCandidates(ctx)
		if err != nil {
			return report, err
		}
		report.ForgettingFlagged = len(flagged)
		return report, nil
	}

	merged, errs := c.classifyAndMergeClusters(ctx, clusters)
	report.MergedEntries += merged
	report.Errors = append(report.Errors, errs...)

	phase2Threshold := c.cfg.Phase1Threshold
	if c.cfg.Phase2MaxCluster > 0 {
		if phase2Threshold < 0.88 {
			phase2Threshold = 0.88
		}
		clusters2, err := c.findClusters(ctx, phase2Threshold, c.cfg.Phase2MaxCluster)
		if err == nil {
			merged2, errs2 := c.classifyAndMergeClusters(ctx, clusters2)
			report.MergedEntries += merged2
			report.Errors = append(report.Errors, errs2...)
		}
	}

	flagged, err := c.forgettingCandidates(ctx)
	if err != nil {
		return report, err
	}
	if c.cfg.Forget {
		const reason = "forgotten: low forgetting score"
		for _, e := range flagged {
			now := time.Now().UTC()
			err := c.db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
				return sqlite.Retire(ctx, conn, e.ID, reason, now)
			})
			if err != nil {
				continue
			}
			report.ForgettingDeleted++
			if c.ledger != nil {
				_ = c.ledger.Record(retirement.Key(e.Subject, e.Type, e.ContentHash), reason, now)
			}
		}
	} else {
		report.ForgettingFlagged = len(flagged)
	}

	if report.MergedEntries > 0 || report.ForgettingDeleted > 0 {
		if err := c.db.Checkpoint(ctx); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("consolidate: checkpoint: %w", err))
		}
	}
	if report.MergedEntries+report.ForgettingDeleted >= vacuumThreshold {
		if err := c.db.Vacuum(ctx); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("consolidate: vacuum: %w", err))
		}
	}

	return report, nil
}

// vacuumThreshold is the number of merged+deleted rows past which a run
// pays VACUUM's full-file-rewrite cost to reclaim freed space.
const vacuumThreshold = 50

// findClusters performs a brute-force pairwise cosine scan over active
// entries and unions rows whose similarity is >= threshold into clusters
// no larger than maxSize, grounded on the worker-pool fan-out pattern
// below for the classification step that follows.
func (c *Consolidator) findClusters(ctx context.Context, threshold float64, maxSize int) ([][]*types.Entry, error) {
	scored, err := c.db.NearestNeighbors(ctx, nil, 1<<30, false)
	if err != nil {
		return nil, err
	}
	entries := make([]*types.Entry, len(scored))
	for i, s := range scored {
		entries[i] = s.Entry
	}

	uf := newUnionFind(len(entries))
	for i := 0; i < len(entries); i++ {
		if len(entries[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(entries); j++ {
			if len(entries[j].Embedding) == 0 {
				continue
			}
			if !sameProject(entries[i], entries[j]) {
				continue
			}
			if cosine(entries[i].Embedding, entries[j].Embedding) >= threshold {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]*types.Entry)
	for i, e := range entries {
		root := uf.find(i)
		groups[root] = append(groups[root], e)
	}

	var clusters [][]*types.Entry
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		sort.Slice(g, func(i, j int) bool { return g[i].CreatedAt.Before(g[j].CreatedAt) })
		for len(g) > maxSize {
			clusters = append(clusters, g[:maxSize])
			g = g[maxSize:]
		}
		if len(g) >= 2 {
			clusters = append(clusters, g)
		}
	}
	return clusters, nil
}

// classifyAndMergeClusters runs one batched LLM classification per
// cluster concurrently, grounded on the worker-pool idiom: a buffered
// work channel, a fixed pool of goroutines draining it, and a result
// channel collected after wg.Wait().
func (c *Consolidator) classifyAndMergeClusters(ctx context.Context, clusters [][]*types.Entry) (int, []error) {
	if len(clusters) == 0 {
		return 0, nil
	}

	workCh := make(chan []*types.Entry, len(clusters))
	type clusterResult struct {
		merged int
		err    error
	}
	resultCh := make(chan clusterResult, len(clusters))

	var wg sync.WaitGroup
	concurrency := c.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cluster := range workCh {
				n, err := c.mergeCluster(ctx, cluster)
				resultCh <- clusterResult{merged: n, err: err}
			}
		}()
	}
	for _, cl := range clusters {
		workCh <- cl
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var merged int
	var errs []error
	for r := range resultCh {
		merged += r.merged
		if r.err != nil {
			errs = append(errs, r.err)
		}
	}
	return merged, errs
}

// mergeCluster classifies the cluster's oldest member as canonical and
// every other member against it, merging into the canonical entry each
// member the LLM labels supersedes or elaborates with confidence >= 0.85.
func (c *Consolidator) mergeCluster(ctx context.Context, cluster []*types.Entry) (int, error) {
	if c.llm == nil || len(cluster) < 2 {
		return 0, nil
	}
	canonical := cluster[0]
	merged := 0
	for _, member := range cluster[1:] {
		if !sameProject(canonical, member) {
			// Belt-and-suspenders: findClusters already excludes
			// cross-project pairs from union, but a transitive chain
			// bridged through an unscoped (nil-project) member could
			// still place two differently-scoped entries in one
			// cluster. Never let the merge itself cross that boundary.
			continue
		}
		cls, err := c.llm.ClassifyConflict(ctx, canonical.Content, member.Content)
		if err != nil {
			continue
		}
		if cls.Relation != llm.RelationSupersedes && cls.Relation != llm.RelationElaborates {
			continue
		}
		if cls.Confidence < 0.85 {
			continue
		}
		now := time.Now().UTC()
		err = c.db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
			if err := sqlite.Supersede(ctx, conn, member.ID, canonical.ID, now); err != nil {
				return err
			}
			return sqlite.InsertRelation(ctx, conn, types.Relation{
				SourceID: canonical.ID, TargetID: member.ID, RelationType: types.RelationSupersedes, CreatedAt: now,
			})
		})
		if err == nil {
			merged++
		}
	}
	return merged, nil
}

// forgettingCandidates returns active entries whose forgetting_score is at
// or above the configured threshold and whose subject and content contain
// no protected pattern. It returns nil unless forgetting is enabled or
// cfg.Forget is set.
func (c *Consolidator) forgettingCandidates(ctx context.Context) ([]*types.Entry, error) {
	if !c.cfg.Forgetting.Enabled && !c.cfg.Forget {
		return nil, nil
	}
	entries, err := c.db.ActiveSince(ctx, time.Unix(0, 0).UTC(), 1<<20)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var out []*types.Entry
	for _, e := range entries {
		if isProtected(e, c.cfg.Forgetting.Protect) {
			continue
		}
		if forgettingScore(e, now, c.cfg.Forgetting.MaxAgeDays) >= c.cfg.Forgetting.ScoreThreshold {
			out = append(out, e)
		}
	}
	return out, nil
}

func isProtected(e *types.Entry, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(strings.ToLower(e.Subject), strings.ToLower(p)) ||
			strings.Contains(strings.ToLower(e.Content), strings.ToLower(p)) {
			return true
		}
	}
	return false
}
