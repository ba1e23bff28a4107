package subjectindex

import (
	"context"
	"sort"
	"testing"
)

type fakeStore struct {
	keys map[string]string
	hits int
}

func (f *fakeStore) ActiveSubjectKeys(ctx context.Context) (map[string]string, error) {
	f.hits++
	out := make(map[string]string, len(f.keys))
	for k, v := range f.keys {
		out[k] = v
	}
	return out, nil
}

func TestLazyRebuildOnFirstUse(t *testing.T) {
	store := &fakeStore{keys: map[string]string{
		"e1": "alex/weight",
		"e2": "alex/email-address",
	}}
	idx := New()
	ctx := context.Background()

	ids, err := idx.Lookup(ctx, store, "alex", "weight")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(ids) != 1 || ids[0] != "e1" {
		t.Fatalf("expected [e1], got %v", ids)
	}
	if store.hits != 1 {
		t.Fatalf("expected exactly one rebuild scan, got %d", store.hits)
	}

	// A second lookup must not trigger another rebuild.
	if _, err := idx.Lookup(ctx, store, "alex", "email-address"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if store.hits != 1 {
		t.Fatalf("expected still one rebuild scan, got %d", store.hits)
	}
}

func TestAddAndRemove(t *testing.T) {
	idx := New()
	idx.Add("e1", "alex/weight")
	idx.Add("e2", "alex/weight")

	ctx := context.Background()
	store := &fakeStore{}
	ids, err := idx.Lookup(ctx, store, "alex", "weight")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "e1" || ids[1] != "e2" {
		t.Fatalf("expected [e1 e2], got %v", ids)
	}

	idx.Remove("e1")
	ids, err = idx.Lookup(ctx, store, "alex", "weight")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(ids) != 1 || ids[0] != "e2" {
		t.Fatalf("expected [e2] after remove, got %v", ids)
	}

	// Removing an id already removed (e.g. double supersede) is a no-op.
	idx.Remove("e1")
	ids, _ = idx.Lookup(ctx, store, "alex", "weight")
	if len(ids) != 1 {
		t.Fatalf("expected no change on double remove, got %v", ids)
	}
}

func TestCrossEntityLookup(t *testing.T) {
	idx := New()
	idx.Add("e1", "alex/weight")
	idx.Add("e2", "sam/weight")
	idx.Add("e3", "sam/email")

	ctx := context.Background()
	store := &fakeStore{}
	ids, err := idx.CrossEntityLookup(ctx, store, "weight")
	if err != nil {
		t.Fatalf("CrossEntityLookup: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "e1" || ids[1] != "e2" {
		t.Fatalf("expected [e1 e2], got %v", ids)
	}
}

func TestFuzzyLookupTokenOverlapAfterNoiseStrip(t *testing.T) {
	idx := New()
	idx.Add("e1", "alex/email-address")
	idx.Add("e2", "alex/ownership-change") // noise tokens only, no surviving tokens
	idx.Add("e3", "sam/email-address")     // different entity, must not match

	ctx := context.Background()
	store := &fakeStore{}
	ids, err := idx.FuzzyLookup(ctx, store, "alex", "address")
	if err != nil {
		t.Fatalf("FuzzyLookup: %v", err)
	}
	if len(ids) != 1 || ids[0] != "e1" {
		t.Fatalf("expected [e1], got %v", ids)
	}
}

func TestFuzzyLookupTypoWithinEditDistance(t *testing.T) {
	idx := New()
	idx.Add("e1", "alex/ownership") // tokens after noise-strip: []

	ctx := context.Background()
	store := &fakeStore{}
	// "ownershp" (typo) has no noise tokens removed and is within distance
	// 1 of "ownership", but e1's own token set is empty after stripping,
	// so it must NOT match - empty token sets never match anything.
	ids, err := idx.FuzzyLookup(ctx, store, "alex", "ownershp")
	if err != nil {
		t.Fatalf("FuzzyLookup: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no match against an empty noise-stripped token set, got %v", ids)
	}
}

func TestResetForcesRebuild(t *testing.T) {
	store := &fakeStore{keys: map[string]string{"e1": "alex/weight"}}
	idx := New()
	ctx := context.Background()

	if _, err := idx.Lookup(ctx, store, "alex", "weight"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if store.hits != 1 {
		t.Fatalf("expected one rebuild, got %d", store.hits)
	}

	idx.Reset()
	store.keys["e2"] = "sam/weight"

	ids, err := idx.Lookup(ctx, store, "sam", "weight")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if store.hits != 2 {
		t.Fatalf("expected rebuild after Reset, got %d hits", store.hits)
	}
	if len(ids) != 1 || ids[0] != "e2" {
		t.Fatalf("expected [e2], got %v", ids)
	}
}

func TestLegacySubjectKeyFormParses(t *testing.T) {
	store := &fakeStore{keys: map[string]string{
		"e1": "person:alex|attr:weight",
	}}
	idx := New()
	ctx := context.Background()

	ids, err := idx.Lookup(ctx, store, "alex", "weight")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(ids) != 1 || ids[0] != "e1" {
		t.Fatalf("expected legacy key to normalize to entity/attribute lookup, got %v", ids)
	}
}

func TestUnparsableKeySkipped(t *testing.T) {
	store := &fakeStore{keys: map[string]string{
		"e1": "not-a-valid-key",
	}}
	idx := New()
	ctx := context.Background()

	ids, err := idx.CrossEntityLookup(ctx, store, "anything")
	if err != nil {
		t.Fatalf("CrossEntityLookup: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no results for unparsable key, got %v", ids)
	}
}
