package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenr/memory/internal/exportimport"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:     "export <output-file>",
	GroupID: "data",
	Short:   "Dump the full database as a JSON or YAML document",
	Long: `export writes every entry and relation to a single document, in
creation order, preserving ids, tags, lifecycle state, and counters.
Embeddings are not exported, and import does not recompute them.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", `output format: "json" or "yaml"`)
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	doc, err := eng.Export(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	var data []byte
	switch exportFormat {
	case "json":
		data, err = exportimport.ExportJSON(doc)
	case "yaml":
		data, err = exportimport.ExportYAML(doc)
	default:
		return fmt.Errorf("unsupported --format %q (want json or yaml)", exportFormat)
	}
	if err != nil {
		return fmt.Errorf("export: encode: %w", err)
	}

	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d entries, %d relations to %s\n", len(doc.Entries), len(doc.Relations), args[0])
	return nil
}
