package recall

import (
	"sort"
	"strings"

	"github.com/agenr/memory/internal/types"
)

// category is a session-start partition (4.G.3).
type category int

const (
	categoryCore category = iota
	categoryActive
	categoryPreferences
	categoryRecent
)

func classify(e *types.Entry) category {
	switch {
	case e.Expiry == types.ExpiryCore:
		return categoryCore
	case e.Type == types.TypeTodo && e.Expiry != types.ExpirySessionOnly:
		return categoryActive
	case e.Type == types.TypePreference || e.Type == types.TypeDecision:
		return categoryPreferences
	default:
		return categoryRecent
	}
}

// estimateTokens costs a result at 1.3x its word count over type+subject+
// content+flags+tags, per the documented budget formula.
func estimateTokens(e *types.Entry) int {
	words := len(strings.Fields(string(e.Type))) +
		len(strings.Fields(e.Subject)) +
		len(strings.Fields(e.Content)) +
		len(e.Tags) + 2 // +2 for flags (expiry/scope markers)
	for _, t := range e.Tags {
		words += len(strings.Fields(t))
	}
	return int(1.3 * float64(words))
}

// categorizeAndBudget partitions results into core/active/preferences/
// recent and, when budget is set, fills each non-core section greedily
// in score order up to its token allocation, spilling leftover budget
// into an overflow pool consumed by the remaining highest-scored
// candidates across sections. Core is always included in full and is
// not budget-constrained.
func categorizeAndBudget(results []Result, budget *int) []Result {
	var core, active, preferences, recent []Result
	for _, r := range results {
		switch classify(r.Entry) {
		case categoryCore:
			core = append(core, r)
		case categoryActive:
			active = append(active, r)
		case categoryPreferences:
			preferences = append(preferences, r)
		default:
			recent = append(recent, r)
		}
	}

	if budget == nil {
		out := append([]Result{}, core...)
		out = append(out, active...)
		out = append(out, preferences...)
		out = append(out, recent...)
		return out
	}

	b := *budget
	activeBudget := int(0.3 * float64(b))
	prefBudget := int(0.3 * float64(b))
	recentBudget := b - activeBudget - prefBudget

	activeFilled, activeLeft := fillSection(active, activeBudget)
	prefFilled, prefLeft := fillSection(preferences, prefBudget)

	overflow := activeLeft + prefLeft
	recentFilled, recentLeft := fillSection(recent, recentBudget+overflow)
	overflow = recentLeft

	// Spend any remaining overflow across whatever's left in active/
	// preferences, highest score first.
	var leftoverActive, leftoverPreferences []Result
	usedActive := map[string]struct{}{}
	for _, r := range activeFilled {
		usedActive[r.Entry.ID] = struct{}{}
	}
	for _, r := range active {
		if _, used := usedActive[r.Entry.ID]; !used {
			leftoverActive = append(leftoverActive, r)
		}
	}
	usedPref := map[string]struct{}{}
	for _, r := range prefFilled {
		usedPref[r.Entry.ID] = struct{}{}
	}
	for _, r := range preferences {
		if _, used := usedPref[r.Entry.ID]; !used {
			leftoverPreferences = append(leftoverPreferences, r)
		}
	}
	remainder := append([]Result{}, leftoverActive...)
	remainder = append(remainder, leftoverPreferences...)
	sort.SliceStable(remainder, func(i, j int) bool { return remainder[i].Score > remainder[j].Score })
	extra, _ := fillSection(remainder, overflow)

	out := append([]Result{}, core...)
	out = append(out, activeFilled...)
	out = append(out, prefFilled...)
	out = append(out, recentFilled...)
	out = append(out, extra...)
	return out
}

// fillSection greedily adds results (already assumed sorted by score
// descending from the caller's overall sort) until their estimated token
// cost would exceed tokenBudget, returning the fitted subset and the
// unspent budget.
func fillSection(results []Result, tokenBudget int) ([]Result, int) {
	if tokenBudget <= 0 {
		return nil, max0(tokenBudget)
	}
	var out []Result
	remaining := tokenBudget
	for _, r := range results {
		cost := estimateTokens(r.Entry)
		if cost > remaining {
			continue
		}
		out = append(out, r)
		remaining -= cost
	}
	return out, remaining
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
