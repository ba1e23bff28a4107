// Package retirement persists retire decisions that must survive
// re-ingest: a retirements.json ledger keyed by (subject, type,
// content_hash), written atomically via internal/fsatomic the same way
// the watcher persists watch-state.json.
package retirement

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agenr/memory/internal/fsatomic"
	"github.com/agenr/memory/internal/types"
)

// FileName is the ledger's file name stored under the engine home.
const FileName = "retirements.json"

// Record is one retired (subject, type, content_hash) tuple.
type Record struct {
	Reason    string    `json:"reason"`
	RetiredAt time.Time `json:"retired_at"`
}

// document is the on-disk shape of retirements.json.
type document struct {
	Records map[string]Record `json:"records"`
}

// Ledger is a file-backed map from a retirement key to the reason and
// time an entry matching that key was retired. Safe for concurrent use.
type Ledger struct {
	path string

	mu      sync.Mutex
	records map[string]Record
}

// Key builds the composite lookup key invariant 9 is keyed on: an entry
// re-ingested with the same subject, type, and content hash as a
// previously retired entry must inherit the retired flag.
func Key(subject string, t types.EntryType, contentHash string) string {
	return subject + "\x00" + string(t) + "\x00" + contentHash
}

// Open ensures dir exists and loads dir/FileName if present; a missing
// file starts an empty ledger, matching fsatomic.ReadJSON's documented
// missing-file contract.
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("retirement: create dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	l := &Ledger{path: path, records: make(map[string]Record)}
	var doc document
	if err := fsatomic.ReadJSON(path, &doc); err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, err
	}
	if doc.Records != nil {
		l.records = doc.Records
	}
	return l, nil
}

// Lookup reports the retirement recorded for key, if any.
func (l *Ledger) Lookup(key string) (Record, bool) {
	if l == nil {
		return Record{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	return rec, ok
}

// Record appends (or overwrites) key's retirement and persists the
// ledger atomically.
func (l *Ledger) Record(key, reason string, at time.Time) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[key] = Record{Reason: reason, RetiredAt: at}
	return fsatomic.WriteJSON(l.path, document{Records: l.records}, 0o644)
}
