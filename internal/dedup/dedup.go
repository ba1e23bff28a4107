// Package dedup implements the online dedup classifier (component D): a
// pure decision function consulted once per candidate entry before it is
// written.
package dedup

import (
	"context"
	"strings"
	"time"

	"github.com/agenr/memory/internal/types"
)

// Action is the decision produced by Classify.
type Action int

const (
	ActionInsert Action = iota
	ActionSkip
	ActionReinforce
	ActionRelate
	ActionClassifyWithLLM
)

// Decision carries the action plus whatever existing-entry context the
// caller needs to act on it.
type Decision struct {
	Action       Action
	ExistingID   string
	Relation     types.RelationType
	SkipReason   string
	TopCandidate string // existing id passed to the conflict resolver when Action == ActionClassifyWithLLM
}

// Thresholds are the configurable similarity bands from 4.D/4.E.
type Thresholds struct {
	NearExact        float64 // S > this -> skip
	ReinforceLow     float64 // band floor for reinforce/relate
	ReinforceHigh    float64 // band ceiling (== NearExact)
	ConflictLow      float64 // band floor for LLM classification
	RecencyGuard     time.Duration
	LLMEnabled       bool
}

// DefaultThresholds matches the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NearExact:     0.98,
		ReinforceLow:  0.92,
		ReinforceHigh: 0.98,
		ConflictLow:   0.80,
		RecencyGuard:  24 * time.Hour,
		LLMEnabled:    false,
	}
}

// NeighborEntry is a nearest-neighbor match with its similarity to the
// candidate.
type NeighborEntry struct {
	Entry  *types.Entry
	Cosine float64
}

// Reader is the read surface Classify needs from durable storage.
type Reader interface {
	GetEntryByContentHash(ctx context.Context, hash string) (*types.Entry, error)
	GetActiveByCanonicalKey(ctx context.Context, canonicalKey string) (*types.Entry, error)
	FindActiveBySubjectTypeSource(ctx context.Context, subject string, t types.EntryType, sourceFile *string) (*types.Entry, error)
	NearestNeighbors(ctx context.Context, query []float32, k int, includeInactive bool) ([]NeighborEntry, error)
}

// completionPositive and completionNegation implement the canonical-key
// event->todo auto-supersede completion check (4.D).
var completionPositive = []string{"done", "fixed", "completed", "resolved", "shipped", "merged"}
var completionNegation = []string{"not", "never", "no longer", "isn't"}

// looksCompleted reports whether text contains a positive completion
// token not immediately preceded (within a small window) by a negation.
func looksCompleted(text string) bool {
	lower := strings.ToLower(text)
	words := strings.Fields(lower)
	for i, w := range words {
		w = strings.Trim(w, ".,!?;:")
		for _, pos := range completionPositive {
			if w != pos {
				continue
			}
			windowStart := i - 4
			if windowStart < 0 {
				windowStart = 0
			}
			window := strings.Join(words[windowStart:i], " ")
			negated := false
			for _, neg := range completionNegation {
				if strings.Contains(window, neg) {
					negated = true
					break
				}
			}
			if !negated {
				return true
			}
		}
	}
	return false
}

// BatchKey is the within-batch dedup collapsing key (4.D.5).
func BatchKey(e *types.Entry) string {
	sourceFile := ""
	if e.SourceFile != nil {
		sourceFile = *e.SourceFile
	}
	return e.NormalizedSubject() + "\x00" + string(e.Type) + "\x00" + sourceFile
}

// CollapseBatch applies the within-batch dedup step: entries sharing
// (normalized_subject, type, source_file) collapse to the first; it
// returns the survivors in original order and the count skipped.
func CollapseBatch(entries []*types.Entry) (survivors []*types.Entry, skipped int) {
	seen := make(map[string]struct{}, len(entries))
	survivors = make([]*types.Entry, 0, len(entries))
	for _, e := range entries {
		key := BatchKey(e)
		if _, dup := seen[key]; dup {
			skipped++
			continue
		}
		seen[key] = struct{}{}
		survivors = append(survivors, e)
	}
	return survivors, skipped
}

// sameSubjectFuzzy reports whether two subjects are equal after
// lowercasing and trimming, or share at least one exact attribute-style
// token (types.AttributeTokens). Unlike the subject index's fuzzy lookup,
// it allows no edit distance and does not compare entities.
func sameSubjectFuzzy(a, b string) bool {
	na, nb := strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if na == nb {
		return true
	}
	ta, tb := types.AttributeTokens(na), types.AttributeTokens(nb)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}
	for _, t := range tb {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// Classify runs the full 4.D algorithm for one candidate entry against
// durable storage, given its resolved embedding. now is injected for
// testability.
func Classify(ctx context.Context, store Reader, candidate *types.Entry, embedding []float32, th Thresholds, now time.Time) (Decision, error) {
	// 1. Content-hash guard.
	if candidate.ContentHash != "" {
		existing, err := store.GetEntryByContentHash(ctx, candidate.ContentHash)
		if err != nil {
			return Decision{}, err
		}
		if existing != nil {
			return Decision{Action: ActionSkip, SkipReason: "idempotent", ExistingID: existing.ID}, nil
		}
	}

	// 2. Canonical key shortcut.
	if candidate.CanonicalKey != nil && *candidate.CanonicalKey != "" {
		existing, err := store.GetActiveByCanonicalKey(ctx, *candidate.CanonicalKey)
		if err != nil {
			return Decision{}, err
		}
		if existing != nil {
			if candidate.Type == types.TypeEvent && existing.Type == types.TypeTodo && looksCompleted(candidate.Content) {
				return Decision{Action: ActionRelate, Relation: types.RelationSupersedes, ExistingID: existing.ID}, nil
			}
			if candidate.Type == existing.Type {
				return Decision{Action: ActionReinforce, ExistingID: existing.ID}, nil
			}
			return Decision{Action: ActionRelate, Relation: types.RelationRelated, ExistingID: existing.ID}, nil
		}
	}

	// 6. Source-file recency guard is folded in here: it only applies when
	// a same (subject, type, source_file) active entry exists and is
	// recent, and takes priority over the generic similarity bands since
	// it targets the exact same origin.
	if candidate.SourceFile != nil {
		guard, err := store.FindActiveBySubjectTypeSource(ctx, candidate.Subject, candidate.Type, candidate.SourceFile)
		if err != nil {
			return Decision{}, err
		}
		if guard != nil && now.Sub(guard.CreatedAt) < th.RecencyGuard {
			return Decision{Action: ActionReinforce, ExistingID: guard.ID}, nil
		}
	}

	// 3. Nearest neighbor.
	k := 1
	if th.LLMEnabled {
		k = 10
	}
	neighbors, err := store.NearestNeighbors(ctx, embedding, k, false)
	if err != nil {
		return Decision{}, err
	}
	if len(neighbors) == 0 {
		return Decision{Action: ActionInsert}, nil
	}

	top := neighbors[0]
	s := top.Cosine
	sameSubject := sameSubjectFuzzy(candidate.Subject, top.Entry.Subject)
	sameType := candidate.Type == top.Entry.Type

	switch {
	case s > th.NearExact:
		return Decision{Action: ActionSkip, SkipReason: "near-exact semantic duplicate", ExistingID: top.Entry.ID}, nil
	case s >= th.ReinforceLow && s <= th.ReinforceHigh && sameSubject && sameType:
		return Decision{Action: ActionReinforce, ExistingID: top.Entry.ID}, nil
	case s >= th.ReinforceLow && s <= th.ReinforceHigh && sameSubject && !sameType:
		return Decision{Action: ActionRelate, Relation: types.RelationRelated, ExistingID: top.Entry.ID}, nil
	case s >= th.ConflictLow && s < th.ReinforceLow && sameSubject && th.LLMEnabled:
		return Decision{Action: ActionClassifyWithLLM, TopCandidate: top.Entry.ID}, nil
	default:
		return Decision{Action: ActionInsert}, nil
	}
}
