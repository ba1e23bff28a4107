package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/agenr/memory"
)

var (
	recallLimit      int
	recallSince      string
	recallMinImportance int
	recallTypes      []string
	recallTags       []string
)

var recallCmd = &cobra.Command{
	Use:     "recall [query text]",
	GroupID: "data",
	Short:   "Search stored entries by text, tags, type, or recency",
	Long: `Recall runs a scored search over stored entries: candidate generation
(FTS and vector similarity), importance/recency/tag filtering, then the
documented score (cosine + recency + reinforcement) ranks the results.

Examples:
  agenr recall "database migration plan"
  agenr recall --since "3 days ago" --type decision
  agenr recall --tags billing --min-importance 7`,
	RunE: runRecall,
}

func init() {
	recallCmd.Flags().IntVar(&recallLimit, "limit", 10, "maximum results to return")
	recallCmd.Flags().StringVar(&recallSince, "since", "", `natural-language time filter, e.g. "3 days ago"`)
	recallCmd.Flags().IntVar(&recallMinImportance, "min-importance", 0, "minimum importance (1-10)")
	recallCmd.Flags().StringSliceVar(&recallTypes, "type", nil, "filter by entry type (repeatable)")
	recallCmd.Flags().StringSliceVar(&recallTags, "tags", nil, "filter by tag (repeatable)")
	rootCmd.AddCommand(recallCmd)
}

func runRecall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	query := memory.RecallQuery{
		Text:          strings.Join(args, " "),
		Limit:         recallLimit,
		MinImportance: recallMinImportance,
		Tags:          recallTags,
	}
	for _, t := range recallTypes {
		query.Types = append(query.Types, memory.EntryType(t))
	}
	if recallSince != "" {
		since, err := parseSince(recallSince)
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		query.Since = &since
	}

	results, err := eng.Recall.Recall(ctx, query, eng.Embed)
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(results)
	}
	renderRecallResults(cmd, results)
	return nil
}

// parseSince resolves a natural-language recency expression (e.g. "3 days
// ago", "yesterday") against the current time.
func parseSince(text string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, time.Now())
	if err != nil {
		return time.Time{}, err
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not parse time expression %q", text)
	}
	return r.Time, nil
}

var (
	recallSubjectStyle = lipgloss.NewStyle().Bold(true)
	recallMetaStyle    = lipgloss.NewStyle().Faint(true)
)

func renderRecallResults(cmd *cobra.Command, results []memory.RecallResult) {
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "no matching entries")
		return
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. %s %s\n", i+1, recallSubjectStyle.Render(r.Entry.Subject), recallMetaStyle.Render(fmt.Sprintf("(%s, score %.2f)", r.Entry.Type, r.Score)))
		fmt.Fprintf(out, "   %s\n", r.Entry.Content)
		if len(r.Entry.Tags) > 0 {
			fmt.Fprintf(out, "   %s\n", recallMetaStyle.Render("tags: "+strings.Join(r.Entry.Tags, ", ")))
		}
	}
}
