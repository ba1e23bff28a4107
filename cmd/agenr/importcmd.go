package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agenr/memory/internal/exportimport"
)

var importCmd = &cobra.Command{
	Use:     "import <input-file>",
	GroupID: "data",
	Short:   "Restore entries and relations from a JSON export document",
	Long: `import restores a document produced by "agenr export --format json"
into the database: every entry is re-inserted with its original id and
lifecycle state, then every relation is re-created. Embeddings are not
part of the document: imported entries are stored without one, and
neither this command nor consolidate computes it, so vector search does
not find them.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("import: read %s: %w", args[0], err)
	}
	doc, err := exportimport.ParseJSON(data)
	if err != nil {
		return fmt.Errorf("import: decode %s: %w", args[0], err)
	}

	ctx := cmd.Context()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	n, err := eng.Import(ctx, doc)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries, %d relations from %s\n", n, len(doc.Relations), args[0])
	return nil
}
