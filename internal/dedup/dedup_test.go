package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/agenr/memory/internal/types"
)

type fakeReader struct {
	byHash        map[string]*types.Entry
	byCanonical   map[string]*types.Entry
	bySubjectType *types.Entry
	neighbors     []NeighborEntry
}

func (f *fakeReader) GetEntryByContentHash(ctx context.Context, hash string) (*types.Entry, error) {
	return f.byHash[hash], nil
}

func (f *fakeReader) GetActiveByCanonicalKey(ctx context.Context, canonicalKey string) (*types.Entry, error) {
	return f.byCanonical[canonicalKey], nil
}

func (f *fakeReader) FindActiveBySubjectTypeSource(ctx context.Context, subject string, t types.EntryType, sourceFile *string) (*types.Entry, error) {
	return f.bySubjectType, nil
}

func (f *fakeReader) NearestNeighbors(ctx context.Context, query []float32, k int, includeInactive bool) ([]NeighborEntry, error) {
	return f.neighbors, nil
}

func TestContentHashGuardSkips(t *testing.T) {
	existing := &types.Entry{ID: "e1"}
	r := &fakeReader{byHash: map[string]*types.Entry{"abc": existing}}
	candidate := &types.Entry{ContentHash: "abc", Subject: "x", Type: types.TypeFact}

	d, err := Classify(context.Background(), r, candidate, nil, DefaultThresholds(), time.Now())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Action != ActionSkip || d.SkipReason != "idempotent" || d.ExistingID != "e1" {
		t.Fatalf("expected idempotent skip of e1, got %+v", d)
	}
}

func TestCanonicalKeySameTypeReinforces(t *testing.T) {
	key := "preferred-package-manager"
	existing := &types.Entry{ID: "e1", Type: types.TypeFact}
	r := &fakeReader{byCanonical: map[string]*types.Entry{key: existing}}
	candidate := &types.Entry{CanonicalKey: &key, Type: types.TypeFact, Subject: "pm"}

	d, err := Classify(context.Background(), r, candidate, nil, DefaultThresholds(), time.Now())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Action != ActionReinforce || d.ExistingID != "e1" {
		t.Fatalf("expected reinforce of e1, got %+v", d)
	}
}

func TestCanonicalKeyDifferentTypeRelates(t *testing.T) {
	key := "preferred-package-manager"
	existing := &types.Entry{ID: "e1", Type: types.TypeDecision}
	r := &fakeReader{byCanonical: map[string]*types.Entry{key: existing}}
	candidate := &types.Entry{CanonicalKey: &key, Type: types.TypeFact, Subject: "pm"}

	d, err := Classify(context.Background(), r, candidate, nil, DefaultThresholds(), time.Now())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Action != ActionRelate || d.Relation != types.RelationRelated || d.ExistingID != "e1" {
		t.Fatalf("expected related insert of e1, got %+v", d)
	}
}

func TestCanonicalKeyEventSupersedesCompletedTodo(t *testing.T) {
	key := "ticket-42"
	existing := &types.Entry{ID: "todo1", Type: types.TypeTodo}
	r := &fakeReader{byCanonical: map[string]*types.Entry{key: existing}}
	candidate := &types.Entry{CanonicalKey: &key, Type: types.TypeEvent, Subject: "ticket 42", Content: "shipped the fix today"}

	d, err := Classify(context.Background(), r, candidate, nil, DefaultThresholds(), time.Now())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Action != ActionRelate || d.Relation != types.RelationSupersedes || d.ExistingID != "todo1" {
		t.Fatalf("expected supersede of todo1, got %+v", d)
	}
}

func TestCanonicalKeyEventNegatedCompletionDoesNotSupersede(t *testing.T) {
	key := "ticket-42"
	existing := &types.Entry{ID: "todo1", Type: types.TypeTodo}
	r := &fakeReader{byCanonical: map[string]*types.Entry{key: existing}}
	candidate := &types.Entry{CanonicalKey: &key, Type: types.TypeEvent, Subject: "ticket 42", Content: "this is not fixed yet"}

	d, err := Classify(context.Background(), r, candidate, nil, DefaultThresholds(), time.Now())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	// Same type? event != todo, so falls through to the generic relate path.
	if d.Action != ActionRelate || d.Relation != types.RelationRelated {
		t.Fatalf("expected negated completion to NOT auto-supersede, got %+v", d)
	}
}

func TestRecencyGuardReinforcesInsteadOfInsert(t *testing.T) {
	now := time.Now()
	source := "/tmp/s.jsonl"
	existing := &types.Entry{ID: "old1", CreatedAt: now.Add(-1 * time.Hour), Subject: "bar", Type: types.TypeFact}
	r := &fakeReader{bySubjectType: existing}
	candidate := &types.Entry{Subject: "bar", Type: types.TypeFact, SourceFile: &source}

	d, err := Classify(context.Background(), r, candidate, nil, DefaultThresholds(), now)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Action != ActionReinforce || d.ExistingID != "old1" {
		t.Fatalf("expected recency-guard reinforce of old1, got %+v", d)
	}
}

func TestRecencyGuardExpiredFallsThroughToInsert(t *testing.T) {
	now := time.Now()
	source := "/tmp/s.jsonl"
	existing := &types.Entry{ID: "old1", CreatedAt: now.Add(-48 * time.Hour), Subject: "bar", Type: types.TypeFact}
	r := &fakeReader{bySubjectType: existing}
	candidate := &types.Entry{Subject: "bar", Type: types.TypeFact, SourceFile: &source}

	d, err := Classify(context.Background(), r, candidate, nil, DefaultThresholds(), now)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Action != ActionInsert {
		t.Fatalf("expected plain insert once recency guard expired, got %+v", d)
	}
}

func TestSimilarityBands(t *testing.T) {
	th := DefaultThresholds()
	same := &types.Entry{ID: "match", Subject: "alex weight", Type: types.TypeFact}
	diffType := &types.Entry{ID: "match", Subject: "alex weight", Type: types.TypeDecision}

	cases := []struct {
		name   string
		cosine float64
		match  *types.Entry
		llm    bool
		want   Action
	}{
		{"near-exact skip", 0.999, same, false, ActionSkip},
		{"reinforce band same subject+type", 0.94, same, false, ActionReinforce},
		{"reinforce band same subject diff type", 0.94, diffType, false, ActionRelate},
		{"conflict band with llm enabled", 0.89, same, true, ActionClassifyWithLLM},
		{"conflict band without llm falls to insert", 0.89, same, false, ActionInsert},
		{"below bands inserts", 0.5, same, false, ActionInsert},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			thresholds := th
			thresholds.LLMEnabled = tc.llm
			r := &fakeReader{neighbors: []NeighborEntry{{Entry: tc.match, Cosine: tc.cosine}}}
			candidate := &types.Entry{Subject: "alex weight", Type: types.TypeFact}

			d, err := Classify(context.Background(), r, candidate, []float32{1, 0}, thresholds, time.Now())
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if d.Action != tc.want {
				t.Fatalf("expected action %v, got %+v", tc.want, d)
			}
		})
	}
}

func TestNoNeighborsInserts(t *testing.T) {
	r := &fakeReader{}
	candidate := &types.Entry{Subject: "new", Type: types.TypeFact}

	d, err := Classify(context.Background(), r, candidate, []float32{1, 0}, DefaultThresholds(), time.Now())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Action != ActionInsert {
		t.Fatalf("expected insert with no neighbors, got %+v", d)
	}
}

func TestCollapseBatchWithinBatchDedup(t *testing.T) {
	source := "/tmp/release.jsonl"
	a := &types.Entry{Subject: "Version 0.7.1 release", Type: types.TypeEvent, SourceFile: &source}
	b := &types.Entry{Subject: "version 0.7.1 release", Type: types.TypeEvent, SourceFile: &source}
	c := &types.Entry{Subject: "something else", Type: types.TypeEvent, SourceFile: &source}

	survivors, skipped := CollapseBatch([]*types.Entry{a, b, c})
	if skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", skipped)
	}
	if len(survivors) != 2 || survivors[0] != a || survivors[1] != c {
		t.Fatalf("expected [a c] to survive in order, got %v", survivors)
	}
}
