// Package conflict implements the LLM-backed conflict resolver (component
// E): given a candidate entry in the ambiguous similarity band, it builds
// a candidate set of existing entries, classifies each against the
// candidate, and applies the action policy from 4.E.
package conflict

import (
	"context"
	"sort"
	"time"

	"github.com/agenr/memory/internal/llm"
	"github.com/agenr/memory/internal/types"
)

// Resolution is the action policy's outcome for one (existing, candidate)
// pair.
type Resolution int

const (
	ResolutionCoexist Resolution = iota
	ResolutionAutoSupersede
	ResolutionFlag
)

// Outcome bundles the resolution with the classification that produced it,
// for conflict_log persistence.
type Outcome struct {
	ExistingID  string
	Resolution  Resolution
	Relation    llm.ConflictRelation
	Confidence  float64
	Explanation string
}

// SubjectIndex is the read surface used to build the candidate set.
type SubjectIndex interface {
	Lookup(ctx context.Context, entity, attribute string) ([]string, error)
	FuzzyLookup(ctx context.Context, entity, attribute string) ([]string, error)
	CrossEntityLookup(ctx context.Context, attribute string) ([]string, error)
}

// Store is the read surface used to materialize candidate ids and run
// vector top-K.
type Store interface {
	GetEntry(ctx context.Context, id string) (*types.Entry, error)
	NearestNeighborIDs(ctx context.Context, query []float32, k int) ([]string, error)
}

// maxSubjectIndexCandidates caps the subject-index contribution to the
// candidate set (4.E.1); candidates beyond the cap are dropped by
// created_at DESC.
const maxSubjectIndexCandidates = 8

// vectorTopK is the size of the always-executed vector search leg.
const vectorTopK = 5

// BuildCandidates unions subject-index lookups (fuzzy + cross-entity) for
// candidate's subject_key with a vector top-K search, deduplicated.
func BuildCandidates(ctx context.Context, idx SubjectIndex, store Store, candidate *types.Entry, embedding []float32) ([]*types.Entry, error) {
	seen := make(map[string]struct{})
	var fromIndex []*types.Entry

	addIDs := func(ids []string) error {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			e, err := store.GetEntry(ctx, id)
			if err != nil {
				return err
			}
			if e != nil {
				fromIndex = append(fromIndex, e)
			}
		}
		return nil
	}

	if candidate.SubjectKey != nil {
		if parsed, ok := types.ParseSubjectKey(*candidate.SubjectKey); ok {
			exact, err := idx.Lookup(ctx, parsed.Entity, parsed.Attribute)
			if err != nil {
				return nil, err
			}
			if err := addIDs(exact); err != nil {
				return nil, err
			}
			fuzzy, err := idx.FuzzyLookup(ctx, parsed.Entity, parsed.Attribute)
			if err != nil {
				return nil, err
			}
			if err := addIDs(fuzzy); err != nil {
				return nil, err
			}
			cross, err := idx.CrossEntityLookup(ctx, parsed.Attribute)
			if err != nil {
				return nil, err
			}
			if err := addIDs(cross); err != nil {
				return nil, err
			}
		}
	}

	if len(fromIndex) > maxSubjectIndexCandidates {
		sort.Slice(fromIndex, func(i, j int) bool { return fromIndex[i].CreatedAt.After(fromIndex[j].CreatedAt) })
		fromIndex = fromIndex[:maxSubjectIndexCandidates]
	}

	// Vector search always runs, even when the subject-index leg is full,
	// so recent recontextualizations still surface.
	vecIDs, err := store.NearestNeighborIDs(ctx, embedding, vectorTopK)
	if err != nil {
		return nil, err
	}
	out := fromIndex
	for _, id := range vecIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		e, err := store.GetEntry(ctx, id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// Resolve classifies candidate against one existing entry and applies the
// action policy (4.E.3). An LLM error degrades to an unrelated/coexist
// outcome rather than failing the insert.
func Resolve(ctx context.Context, client llm.Client, existing, candidate *types.Entry) Outcome {
	cls, err := client.ClassifyConflict(ctx, existing.Content, candidate.Content)
	if err != nil {
		return Outcome{ExistingID: existing.ID, Resolution: ResolutionCoexist, Relation: llm.RelationUnrelated, Confidence: 0}
	}

	o := Outcome{
		ExistingID:  existing.ID,
		Relation:    cls.Relation,
		Confidence:  cls.Confidence,
		Explanation: cls.Explanation,
	}

	switch {
	case cls.Relation == llm.RelationSupersedes && cls.Confidence > 0.85 &&
		(existing.Type == types.TypeFact || existing.Type == types.TypePreference) &&
		candidate.Importance >= existing.Importance:
		o.Resolution = ResolutionAutoSupersede
	case cls.Relation == llm.RelationSupersedes && cls.Confidence > 0.85:
		o.Resolution = ResolutionFlag
	case existing.Type == types.TypeEvent:
		o.Resolution = ResolutionCoexist
		o.Explanation = "events are immutable"
	case cls.Relation == llm.RelationContradicts:
		o.Resolution = ResolutionFlag
	case cls.Relation == llm.RelationRelated && cls.Confidence <= 0.75:
		o.Resolution = ResolutionFlag
	case existing.Type == types.TypeDecision || existing.Type == types.TypeLesson:
		o.Resolution = ResolutionFlag
	default:
		o.Resolution = ResolutionCoexist
	}
	return o
}

// LogEntry builds the conflict_log row for one resolved outcome.
func LogEntry(id string, candidateID string, o Outcome, now time.Time) types.ConflictLogEntry {
	res := types.ResolutionCoexist
	switch o.Resolution {
	case ResolutionAutoSupersede:
		res = types.ResolutionAutoSuperseded
	case ResolutionFlag:
		res = types.ResolutionPending
	}
	return types.ConflictLogEntry{
		ID:         id,
		EntryA:     o.ExistingID,
		EntryB:     candidateID,
		Relation:   types.RelationType(o.Relation),
		Confidence: o.Confidence,
		Resolution: res,
		CreatedAt:  now,
	}
}
