// Package audit provides an append-only JSONL log of LLM calls and access
// events, written under the engine's home directory.
package audit

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the audit log file name stored under the engine home.
const FileName = "mcp-access.log"

const idPrefix = "aud-"

// Entry is a generic append-only audit event, flexible enough to cover
// both LLM calls and access events via Kind plus typed fields.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	Actor   string `json:"actor,omitempty"`
	EntryID string `json:"entry_id,omitempty"`

	// LLM call
	Model    string `json:"model,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`

	// Access event (e.g. a recall query)
	Query string `json:"query,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Log appends entries to a single JSONL file.
type Log struct {
	path string
}

// Open ensures dir/FileName exists and returns a Log writing to it.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	p := filepath.Join(dir, FileName)
	if _, err := os.Stat(p); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("audit: stat log: %w", err)
		}
		//nolint:gosec // JSONL access log is expected to be user-readable.
		if err := os.WriteFile(p, []byte{}, 0644); err != nil {
			return nil, fmt.Errorf("audit: create log: %w", err)
		}
	}
	return &Log{path: p}, nil
}

// Append writes e as a single JSON line, assigning ID/CreatedAt if unset.
// Best-effort by convention: callers should never fail their primary
// operation because audit logging failed.
func (l *Log) Append(e *Entry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("audit: nil entry")
	}
	if e.Kind == "" {
		return "", fmt.Errorf("audit: kind is required")
	}
	if e.ID == "" {
		id, err := newID()
		if err != nil {
			return "", err
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	} else {
		e.CreatedAt = e.CreatedAt.UTC()
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644) //nolint:gosec // intended permissions
	if err != nil {
		return "", fmt.Errorf("audit: open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return "", fmt.Errorf("audit: write entry: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("audit: flush: %w", err)
	}
	return e.ID, nil
}

func newID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("audit: generate id: %w", err)
	}
	return idPrefix + hex.EncodeToString(b[:]), nil
}
