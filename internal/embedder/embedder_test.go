package embedder

import (
	"context"
	"math"
	"testing"
)

func TestHashIsDeterministic(t *testing.T) {
	fn := Hash()
	a, err := fn(context.Background(), []string{"hello world"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := fn(context.Background(), []string{"hello world"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a[0]) != len(b[0]) {
		t.Fatalf("expected consistent dimensionality, got %d vs %d", len(a[0]), len(b[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("expected identical text to hash to identical vectors at index %d: %v vs %v", i, a[0][i], b[0][i])
		}
	}
}

func TestHashDifferentTextsDiffer(t *testing.T) {
	fn := Hash()
	out, err := fn(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	same := true
	for i := range out[0] {
		if out[0][i] != out[1][i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected different texts to produce different vectors")
	}
}

func TestHashProducesUnitNormVectors(t *testing.T) {
	fn := Hash()
	out, err := fn(context.Background(), []string{"some text to embed"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	var sumSq float64
	for _, x := range out[0] {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 1e-4 {
		t.Fatalf("expected a unit-norm vector, got norm %v", norm)
	}
}

func TestHashHandlesEmptyInput(t *testing.T) {
	fn := Hash()
	out, err := fn(context.Background(), nil)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no vectors for no input, got %d", len(out))
	}
}

func TestHashPreservesOrderAndCount(t *testing.T) {
	fn := Hash()
	out, err := fn(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(out))
	}
}
