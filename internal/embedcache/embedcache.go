// Package embedcache implements the in-process embedding cache (component
// B): a batch resolver that avoids re-embedding identical text within and
// across calls.
package embedcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/agenr/memory/internal/types"
)

// EmbedFunc is the out-of-scope embedding provider contract: given a batch
// of texts, return one unit-norm vector per text, in order.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// ErrShapeMismatch is returned when the provider's result count doesn't
// match the request count.
type ErrShapeMismatch struct {
	Requested, Got int
}

func (e *ErrShapeMismatch) Error() string {
	return fmt.Sprintf("embedcache: embedding provider returned %d vectors for %d texts", e.Got, e.Requested)
}

// Cache maps canonical embed text to its vector. Safe for concurrent use;
// assignments are idempotent so callers racing to resolve the same text
// never corrupt the cache, only do some redundant work.
type Cache struct {
	mu sync.Mutex
	m  map[string][]float32
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{m: make(map[string][]float32)}
}

// Resolve computes the embed text for each entry, embeds only the texts
// not already cached, and returns one vector per input entry in the same
// order as entries.
func (c *Cache) Resolve(ctx context.Context, entries []*types.Entry, embed EmbedFunc) ([][]float32, error) {
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.EmbedText()
	}

	c.mu.Lock()
	var missing []string
	seen := make(map[string]struct{})
	for _, t := range texts {
		if _, ok := c.m[t]; ok {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		missing = append(missing, t)
	}
	c.mu.Unlock()

	if len(missing) > 0 {
		vectors, err := embed(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("embedcache: embed batch: %w", err)
		}
		if len(vectors) != len(missing) {
			return nil, &ErrShapeMismatch{Requested: len(missing), Got: len(vectors)}
		}
		c.mu.Lock()
		for i, t := range missing {
			c.m[t] = vectors[i]
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = c.m[t]
	}
	return out, nil
}

// Len reports the number of distinct cached texts, for diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Clear discards all cached vectors; the cache is process-scoped and may
// be discarded freely and recomputed on demand.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string][]float32)
}
