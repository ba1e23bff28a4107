package consolidate

import (
	"math"
	"testing"
	"time"

	"github.com/agenr/memory/internal/types"
)

func approxEq(a, b, eps float64) bool { return math.Abs(a-b) < eps }

func TestCosineIdenticalVectors(t *testing.T) {
	v := []float32{0.6, 0.8}
	if !approxEq(cosine(v, v), 1.0, 1e-9) {
		t.Fatalf("expected identical vectors to have cosine 1, got %v", cosine(v, v))
	}
}

func TestCosineOrthogonalVectors(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if !approxEq(cosine(a, b), 0, 1e-9) {
		t.Fatalf("expected orthogonal vectors to have cosine 0, got %v", cosine(a, b))
	}
}

func TestCosineMismatchedLengthIsZero(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0}
	if cosine(a, b) != 0 {
		t.Fatalf("expected mismatched-length vectors to return 0")
	}
}

func TestCosineEmptyIsZero(t *testing.T) {
	if cosine(nil, []float32{1}) != 0 {
		t.Fatalf("expected empty vector to return 0")
	}
}

func TestUnionFindGroupsTransitively(t *testing.T) {
	uf := newUnionFind(4)
	uf.union(0, 1)
	uf.union(1, 2)
	if uf.find(0) != uf.find(2) {
		t.Fatal("expected 0 and 2 to be in the same set after transitive union")
	}
	if uf.find(0) == uf.find(3) {
		t.Fatal("expected 3 to remain its own set")
	}
}

func TestForgettingScoreHighForOldUnimportantUnrecalled(t *testing.T) {
	now := time.Now()
	e := &types.Entry{CreatedAt: now.Add(-400 * 24 * time.Hour), Importance: 1, RecallCount: 0}
	score := forgettingScore(e, now, 180)
	if score < 0.7 {
		t.Fatalf("expected a high forgetting score for old/unimportant/never-recalled, got %v", score)
	}
}

func TestForgettingScoreLowForFreshImportantRecalled(t *testing.T) {
	now := time.Now()
	last := now.Add(-time.Hour)
	e := &types.Entry{CreatedAt: now.Add(-1 * time.Hour), Importance: 10, RecallCount: 20, LastRecalledAt: &last}
	score := forgettingScore(e, now, 180)
	if score > 0.3 {
		t.Fatalf("expected a low forgetting score for fresh/important/recently-recalled, got %v", score)
	}
}

func TestForgettingScoreBounded(t *testing.T) {
	now := time.Now()
	e := &types.Entry{CreatedAt: now.Add(-100000 * 24 * time.Hour), Importance: 0, RecallCount: 0}
	score := forgettingScore(e, now, 180)
	if score < 0 || score > 1 {
		t.Fatalf("expected score within [0,1], got %v", score)
	}
}

func TestIsProtectedMatchesSubjectOrContentCaseInsensitively(t *testing.T) {
	e := &types.Entry{Subject: "API Key rotation", Content: "rotate the prod key"}
	if !isProtected(e, []string{"api key"}) {
		t.Fatal("expected subject substring match to protect the entry")
	}
	if !isProtected(e, []string{"PROD"}) {
		t.Fatal("expected content substring match to protect the entry")
	}
	if isProtected(e, []string{"unrelated"}) {
		t.Fatal("expected no match for an unrelated pattern")
	}
	if isProtected(e, []string{""}) {
		t.Fatal("expected empty patterns to be ignored")
	}
}
