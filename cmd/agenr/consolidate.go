package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agenr/memory/internal/consolidate"
)

var consolidateCmd = &cobra.Command{
	Use:     "consolidate",
	GroupID: "ops",
	Short:   "Cluster and merge near-duplicate entries",
	Long: `consolidate runs an offline maintenance pass: entries within cosine
distance of each other are clustered and merged via LLM classification
(when an LLM client is configured). When anything was merged the WAL is
checkpointed, and once 50 or more rows were merged the database is also
vacuumed.

The engine runs the consolidator with its default configuration, in which
the forgetting pass is off, so this command retires no entries. A run
keeps no progress file; an interrupted run starts over from the beginning.`,
	RunE: runConsolidate,
}

func init() {
	rootCmd.AddCommand(consolidateCmd)
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	// Consolidation is exclusive: it runs on the write queue's single
	// consumer goroutine so no ingest write can interleave with its
	// cluster merges or forgetting-pass deletes.
	var report consolidate.Report
	err = eng.Writer.RunExclusive(ctx, func(ctx context.Context) error {
		var runErr error
		report, runErr = eng.Consolidate.Run(ctx)
		return runErr
	})
	if err != nil {
		return fmt.Errorf("consolidate: %w", err)
	}

	if jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "consolidate: %+v\n", report)
	return nil
}
