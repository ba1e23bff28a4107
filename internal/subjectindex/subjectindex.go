// Package subjectindex maintains an in-memory multimap from subject_key to
// active entry IDs (component C), used to find candidate conflicts and
// supersession targets without a full table scan.
package subjectindex

import (
	"context"
	"sort"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/agenr/memory/internal/types"
)

// Store is the minimal read surface the index needs to lazily rebuild
// itself from durable storage.
type Store interface {
	ActiveSubjectKeys(ctx context.Context) (map[string]string, error) // entryID -> subject_key
}

// Index is a process-local cache; it is rebuilt from Store on first use
// and after any bulk/destructive operation invalidates it (Reset).
type Index struct {
	mu      sync.RWMutex
	byKey   map[string]map[string]struct{} // canonical subject_key -> set of entry IDs
	entryOf map[string]string              // entry ID -> canonical subject_key, for remove()
	built   bool
}

// New returns an empty, not-yet-built index.
func New() *Index {
	return &Index{
		byKey:   make(map[string]map[string]struct{}),
		entryOf: make(map[string]string),
	}
}

// ensureBuilt rebuilds the index from store on first use. Callers hold no
// lock when calling this; it takes its own.
func (idx *Index) ensureBuilt(ctx context.Context, store Store) error {
	idx.mu.RLock()
	built := idx.built
	idx.mu.RUnlock()
	if built {
		return nil
	}

	keys, err := store.ActiveSubjectKeys(ctx)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.built {
		return nil
	}
	for entryID, key := range keys {
		parsed, ok := types.ParseSubjectKey(key)
		if !ok {
			continue
		}
		canon := parsed.Canonical()
		if idx.byKey[canon] == nil {
			idx.byKey[canon] = make(map[string]struct{})
		}
		idx.byKey[canon][entryID] = struct{}{}
		idx.entryOf[entryID] = canon
	}
	idx.built = true
	return nil
}

// Reset discards all cached state; the next Lookup/Add rebuilds from
// store. Called after consolidation, import, or a reset of the database.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byKey = make(map[string]map[string]struct{})
	idx.entryOf = make(map[string]string)
	idx.built = false
}

// Add registers entryID under subjectKey (no-op if subjectKey doesn't
// parse).
func (idx *Index) Add(entryID, subjectKey string) {
	parsed, ok := types.ParseSubjectKey(subjectKey)
	if !ok {
		return
	}
	canon := parsed.Canonical()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.byKey[canon] == nil {
		idx.byKey[canon] = make(map[string]struct{})
	}
	idx.byKey[canon][entryID] = struct{}{}
	idx.entryOf[entryID] = canon
}

// Remove drops entryID from the index, e.g. after it is superseded or
// retired.
func (idx *Index) Remove(entryID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	canon, ok := idx.entryOf[entryID]
	if !ok {
		return
	}
	delete(idx.byKey[canon], entryID)
	if len(idx.byKey[canon]) == 0 {
		delete(idx.byKey, canon)
	}
	delete(idx.entryOf, entryID)
}

// Lookup returns active entry IDs whose subject_key parses to exactly
// entity/attribute.
func (idx *Index) Lookup(ctx context.Context, store Store, entity, attribute string) ([]string, error) {
	if err := idx.ensureBuilt(ctx, store); err != nil {
		return nil, err
	}
	canon := types.ParsedSubjectKey{Entity: entity, Attribute: attribute}.Canonical()

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set := idx.byKey[canon]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// CrossEntityLookup returns active entry IDs for any entity sharing the
// given attribute (used when a candidate's entity itself is unresolved,
// e.g. pronoun-referenced subjects upstream of extraction).
func (idx *Index) CrossEntityLookup(ctx context.Context, store Store, attribute string) ([]string, error) {
	if err := idx.ensureBuilt(ctx, store); err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []string
	for canon, set := range idx.byKey {
		parsed, ok := types.ParseSubjectKey(canon)
		if !ok || parsed.Attribute != attribute {
			continue
		}
		for id := range set {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// maxTokenDistance bounds the Levenshtein distance allowed between a pair
// of attribute tokens for them to be considered a fuzzy match (
// 4.C): short token typos ("ownershp" vs "ownership") should match, but
// unrelated short words should not.
const maxTokenDistance = 1

// FuzzyLookup returns active entry IDs for the same entity whose
// attribute's token set overlaps attribute's token set within
// maxTokenDistance per token, after noise-token stripping. Used to catch
// near-duplicate subject keys like "email-address" vs "email_addr".
func (idx *Index) FuzzyLookup(ctx context.Context, store Store, entity, attribute string) ([]string, error) {
	if err := idx.ensureBuilt(ctx, store); err != nil {
		return nil, err
	}
	targetTokens := types.AttributeTokens(attribute)
	if len(targetTokens) == 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []string
	seen := make(map[string]struct{})
	for canon, set := range idx.byKey {
		parsed, ok := types.ParseSubjectKey(canon)
		if !ok || parsed.Entity != entity {
			continue
		}
		candTokens := types.AttributeTokens(parsed.Attribute)
		if !tokensOverlap(targetTokens, candTokens) {
			continue
		}
		for id := range set {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// tokensOverlap reports whether any token in a fuzzy-matches any token in
// b (exact match, or within maxTokenDistance edits).
func tokensOverlap(a, b []string) bool {
	for _, ta := range a {
		for _, tb := range b {
			if ta == tb {
				return true
			}
			if levenshtein.ComputeDistance(ta, tb) <= maxTokenDistance {
				return true
			}
		}
	}
	return false
}
