// Command agenr is the operational shell around the memory engine: a
// thin CLI for manual ingestion, recall, consolidation, and database
// maintenance. The engine itself (everything under internal/) has no
// dependency on this package; agenr only wires library calls to flags
// and renders their results.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "agenr",
	Short:         "Local-first memory engine for AI agents",
	Long:          "agenr stores, recalls, and consolidates durable memory for AI coding agents.\nIt reads and writes a single SQLite database under ~/.agenr (or $AGENR_HOME).",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// jsonOutput is bound to the global --json flag; command implementations
// check it to switch between human-rendered and machine-readable output.
var jsonOutput bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON instead of formatted text")
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Data commands:"},
		&cobra.Group{ID: "ops", Title: "Operational commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agenr:", err)
		os.Exit(1)
	}
}
