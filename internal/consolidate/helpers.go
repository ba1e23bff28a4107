package consolidate

import (
	"math"
	"time"

	"github.com/agenr/memory/internal/types"
)

// unionFind is a plain disjoint-set structure used to group pairwise
// similarity edges into clusters during findClusters.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}

// sameProject reports whether a and b are compatible for clustering or
// merging: true unless both have a non-null Project and the values
// differ. A nil Project is treated as unscoped and compatible with
// anything, per spec invariant 8 ("no cross-project merges" only
// constrains pairs where both sides name a project).
func sameProject(a, b *types.Entry) bool {
	if a.Project == nil || b.Project == nil {
		return true
	}
	return *a.Project == *b.Project
}

// cosine computes cosine similarity between two embedding vectors,
// returning 0 for empty or mismatched-length inputs.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// forgettingScore rises with age, low importance, low recall_count, and
// the absence of a recent confirmation (recall), per the documented
// forgetting heuristic. It is bounded to [0, 1].
func forgettingScore(e *types.Entry, now time.Time, maxAgeDays int) float64 {
	if maxAgeDays <= 0 {
		maxAgeDays = 180
	}
	ageDays := now.Sub(e.CreatedAt).Hours() / 24
	ageFactor := ageDays / float64(maxAgeDays)
	if ageFactor > 1 {
		ageFactor = 1
	}
	if ageFactor < 0 {
		ageFactor = 0
	}

	importanceFactor := 1 - float64(e.Importance)/10
	if importanceFactor < 0 {
		importanceFactor = 0
	}

	recallFactor := 1 / (1 + float64(e.RecallCount))

	recencyFactor := 1.0
	if e.LastRecalledAt != nil {
		daysSinceRecall := now.Sub(*e.LastRecalledAt).Hours() / 24
		recencyFactor = daysSinceRecall / float64(maxAgeDays)
		if recencyFactor > 1 {
			recencyFactor = 1
		}
		if recencyFactor < 0 {
			recencyFactor = 0
		}
	}

	score := 0.35*ageFactor + 0.25*importanceFactor + 0.2*recallFactor + 0.2*recencyFactor
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
