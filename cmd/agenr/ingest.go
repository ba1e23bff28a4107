package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agenr/memory/internal/extract"
	"github.com/agenr/memory/internal/store"
)

var ingestDryRun bool

var ingestOnceCmd = &cobra.Command{
	Use:     "ingest-once <transcript.jsonl>",
	GroupID: "data",
	Short:   "Extract and store memory entries from a transcript file once",
	Long: `ingest-once reads a transcript file (one JSON object per line, each
with "role" and "content" fields), runs it through the extraction
scheduler, and stores the resulting entries through the dedup/conflict
pipeline.

For continuous ingestion of a growing transcript, use "agenr watch"
instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestOnce,
}

func init() {
	ingestOnceCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "classify but do not write")
	rootCmd.AddCommand(ingestOnceCmd)
}

func runIngestOnce(cmd *cobra.Command, args []string) error {
	path := args[0]
	messages, err := readTranscript(path)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	ctx := cmd.Context()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	extracted, err := eng.Extract.Extract(ctx, messages)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	entries := extract.ToEntries(extracted, &path)

	// --dry-run never commits, so it bypasses the write queue entirely
	// rather than occupying the single writer goroutine with a rollback.
	var result store.Result
	if ingestDryRun {
		result, err = eng.Store.StoreEntries(ctx, entries, store.Options{
			DryRun:     true,
			LLMEnabled: eng.LLM != nil,
		}, eng.Embed)
	} else {
		result, err = eng.Writer.Push(ctx, path, entries)
	}
	if err != nil {
		return fmt.Errorf("store entries: %w", err)
	}

	if jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "extracted %d entries: %d added, %d updated, %d skipped, %d relations created (%dms)\n",
		result.TotalEntries, result.Added, result.Updated, result.Skipped, result.RelationsCreated, result.DurationMS)
	return nil
}

// readTranscript parses a JSONL file of {"role": ..., "content": ...}
// records into extraction messages.
func readTranscript(path string) ([]extract.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var messages []extract.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m extract.Message
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("decode line: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, scanner.Err()
}
