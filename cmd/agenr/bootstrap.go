package main

import (
	"context"
	"os"

	"golang.org/x/term"

	"github.com/agenr/memory"
	"github.com/agenr/memory/internal/audit"
	"github.com/agenr/memory/internal/config"
	"github.com/agenr/memory/internal/debug"
	"github.com/agenr/memory/internal/embedder"
	"github.com/agenr/memory/internal/llm"
)

// openEngine loads configuration, builds a logger and (if ANTHROPIC_API_KEY
// is set) a real LLM client, and opens the engine against the resolved
// database path. Every data command starts here.
func openEngine(ctx context.Context) (*memory.Engine, error) {
	log := debug.New(debug.Config{Pretty: isInteractive()})

	var client llm.Client
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		home, err := config.ResolveHome()
		if err != nil {
			return nil, err
		}
		auditLog, err := audit.Open(home)
		if err != nil {
			return nil, err
		}
		anthropicClient, err := llm.New("", log, auditLog)
		if err != nil {
			return nil, err
		}
		client = anthropicClient
	}

	return memory.Open(ctx, log, client, embedder.Hash())
}

// isInteractive reports whether stdout is a terminal, used to choose
// between pretty console logging and JSON, and between styled and plain
// command output.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
