package recall

import (
	"math"
	"time"

	"github.com/agenr/memory/internal/types"
)

// ScoreConfig carries the tunables from 4.G.2; defaults match the
// documented values.
type ScoreConfig struct {
	HalfLifeFreshnessDays float64
	RecallCalibrationK    int // K in base = log1p(recall_count)/log1p(K); 16 puts recall_count=10 at base ~= 0.85
}

func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		HalfLifeFreshnessDays: 14,
		RecallCalibrationK:    16,
	}
}

// ScoreBreakdown exposes every weighted factor alongside the total, for
// RecallResult.Scores.
type ScoreBreakdown struct {
	Similarity      float64
	ImportanceNorm  float64
	Freshness       float64
	MemoryStrength  float64
	TodoStaleness   float64
	Total           float64
}

// weights apply to each normalized factor before summing; they are
// additive, not a convex combination, so Total can exceed 1.
var weights = struct {
	Similarity, Importance, Freshness, MemoryStrength, TodoStaleness float64
}{
	Similarity:     0.5,
	Importance:     0.2,
	Freshness:      0.2,
	MemoryStrength: 0.15,
	TodoStaleness:  0.1,
}

// Score computes a candidate's recall score. cosine is 0 when the query
// has no text (4.G.2 no-query-text case). noBoost collapses the score to
// raw similarity, per the no_boost query flag.
func Score(e *types.Entry, cosine float64, cfg ScoreConfig, now time.Time, noBoost bool) ScoreBreakdown {
	if noBoost {
		return ScoreBreakdown{Similarity: cosine, Total: cosine}
	}

	ageDays := now.Sub(e.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}

	importanceNorm := float64(e.Importance) / 10

	freshness := math.Exp(-ageDays / cfg.HalfLifeFreshnessDays)
	if e.Importance >= 6 {
		freshness += 0.05
	}
	if freshness > 1 {
		freshness = 1
	}

	memStrength := memoryStrength(e, cfg, now)

	var todoStaleness float64
	if e.Type == types.TypeTodo {
		decay := math.Pow(0.5, ageDays/7)
		floor := 0.10
		if e.Importance >= 8 {
			floor = 0.40
		}
		if decay < floor {
			decay = floor
		}
		todoStaleness = decay
	}

	b := ScoreBreakdown{
		Similarity:     cosine,
		ImportanceNorm: importanceNorm,
		Freshness:      freshness,
		MemoryStrength: memStrength,
		TodoStaleness:  todoStaleness,
	}
	b.Total = weights.Similarity*cosine + weights.Importance*importanceNorm +
		weights.Freshness*freshness + weights.MemoryStrength*memStrength +
		weights.TodoStaleness*todoStaleness
	return b
}

// memoryStrength computes base*spacing_factor, clamped to [0,1].
func memoryStrength(e *types.Entry, cfg ScoreConfig, now time.Time) float64 {
	k := float64(cfg.RecallCalibrationK)
	base := math.Log1p(float64(e.RecallCount)) / math.Log1p(k)
	if base > 1 {
		base = 1
	}

	spacing := spacingFactor(e, now)
	ms := base * spacing
	if ms < 0 {
		ms = 0
	}
	if ms > 1 {
		ms = 1
	}
	return ms
}

// spacingFactor rewards proven long gaps between recalls, mapped from the
// median gap (clipped) into [1.0, 1.3]. With fewer than two real
// intervals, gaps are imputed from created_at/last_recalled_at so a
// freshly-recalled entry (including recall_count==1) still lands its
// last stamp exactly on last_recalled_at.
func spacingFactor(e *types.Entry, now time.Time) float64 {
	intervals := e.RecallIntervals
	if len(intervals) < 2 {
		imputed := imputeIntervals(e, now)
		if len(imputed) >= 2 {
			intervals = imputed
		} else {
			return 1.0
		}
	}

	gaps := make([]float64, 0, len(intervals)-1)
	for i := 1; i < len(intervals); i++ {
		gapDays := float64(intervals[i]-intervals[i-1]) / 86400
		if gapDays < 0 {
			continue
		}
		gaps = append(gaps, gapDays)
	}
	if len(gaps) == 0 {
		return 1.0
	}

	median := medianOf(gaps)
	const maxGapDays = 30.0
	if median > maxGapDays {
		median = maxGapDays
	}
	// Map [0, maxGapDays] -> [1.0, 1.3].
	return 1.0 + 0.3*(median/maxGapDays)
}

// imputeIntervals reconstructs a plausible recall_intervals series from
// created_at/last_recalled_at when the stored series is missing or
// legacy-short, landing the last stamp exactly on last_recalled_at.
func imputeIntervals(e *types.Entry, now time.Time) []int64 {
	if e.LastRecalledAt == nil {
		return nil
	}
	created := e.CreatedAt.Unix()
	last := e.LastRecalledAt.Unix()
	if last <= created {
		return nil
	}
	if e.RecallCount <= 1 {
		return []int64{created, last}
	}
	out := make([]int64, 0, e.RecallCount+1)
	out = append(out, created)
	step := (last - created) / int64(e.RecallCount)
	for i := 1; i < e.RecallCount; i++ {
		out = append(out, created+step*int64(i))
	}
	out = append(out, last)
	return out
}

func medianOf(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
