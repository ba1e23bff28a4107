package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agenr/memory"
	"github.com/agenr/memory/internal/extract"
	"github.com/agenr/memory/internal/watcher"
)

var (
	watchFile    string
	watchDir     string
	watchPattern string
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "ops",
	Short:   "Continuously ingest a growing transcript file or session directory",
	Long: `watch runs the incremental transcript reader: it tails --file (or the
most recently modified file matching --pattern under --dir), extracts and
stores new entries as they appear, and checkpoints its read position so a
restart resumes where it left off.

Exactly one of --file or --dir is required.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchFile, "file", "", "single transcript file to tail")
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "session directory to watch (most recently modified file wins)")
	watchCmd.Flags().StringVar(&watchPattern, "pattern", "*.jsonl", "glob pattern for --dir mode")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if (watchFile == "") == (watchDir == "") {
		return fmt.Errorf("exactly one of --file or --dir must be set")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	stateDir := filepath.Join(eng.Config.Home(), "watch")
	cfg := watcher.DefaultConfig()
	cfg.StateDir = stateDir
	cfg.File = watchFile
	cfg.Dir = watchDir
	if watchDir != "" {
		cfg.Selector = watcher.MostRecentSelector{Pattern: watchPattern}
	}

	var w *watcher.Watcher
	w = watcher.New(cfg, eng.DB, eng.Log, handleTranscriptChunk(eng, func(n int) { w.RecordEntriesStored(n) }))
	w.OnSessionSwitch(func(previousActive string) { eng.Writer.Cancel(previousActive) })
	fmt.Fprintf(cmd.OutOrStdout(), "watching %s (state at %s)\n", firstNonEmpty(watchFile, watchDir), stateDir)
	return w.Run(ctx)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// handleTranscriptChunk adapts the watcher's raw-bytes callback to the
// extraction scheduler and store pipeline: newly read bytes are parsed as
// JSONL transcript turns, extracted, and stored.
func handleTranscriptChunk(eng *memory.Engine, recordStored func(int)) watcher.ChunkHandler {
	return func(ctx context.Context, path string, data []byte) error {
		messages, err := parseTranscriptBytes(data)
		if err != nil {
			return fmt.Errorf("watch: parse %s: %w", path, err)
		}
		if len(messages) == 0 {
			return nil
		}

		extracted, err := eng.Extract.Extract(ctx, messages)
		if err != nil {
			return fmt.Errorf("watch: extract %s: %w", path, err)
		}

		entries := extract.ToEntries(extracted, &path)
		result, err := eng.Writer.Push(ctx, path, entries)
		if err != nil {
			return fmt.Errorf("watch: store %s: %w", path, err)
		}
		recordStored(result.TotalEntries)
		return nil
	}
}

// parseTranscriptBytes parses a chunk of newly read transcript bytes as
// JSONL turns ({"role": ..., "content": ...} per line).
func parseTranscriptBytes(data []byte) ([]extract.Message, error) {
	var messages []extract.Message
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var m extract.Message
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, scanner.Err()
}
