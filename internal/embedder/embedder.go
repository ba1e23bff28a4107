// Package embedder provides a default embedcache.EmbedFunc implementation
// for environments with no real embedding model wired up. Nothing in the
// pack pulls in a third-party embeddings SDK, so the hash embedder stands
// in: a deterministic, unit-norm vector derived from each text's SHA-256
// digest, stable across runs and good enough to exercise the vector index
// and recall scoring end to end without a network call.
package embedder

import (
	"context"
	"crypto/sha256"
	"math"

	"github.com/agenr/memory/internal/embedcache"
)

const dimensions = 256

// Hash returns an embedcache.EmbedFunc that hashes each text into a
// deterministic unit-norm vector. It never errors and never calls out to
// a network, so it's always available as a fallback.
func Hash() embedcache.EmbedFunc {
	return func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			out[i] = hashVector(t)
		}
		return out, nil
	}
}

func hashVector(text string) []float32 {
	v := make([]float32, dimensions)
	seed := []byte(text)
	block := sha256.Sum256(seed)
	for i := 0; i < dimensions; i++ {
		if i > 0 && i%len(block) == 0 {
			block = sha256.Sum256(block[:])
		}
		b := block[i%len(block)]
		v[i] = float32(b)/127.5 - 1.0
	}
	normalize(v)
	return v
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
}
