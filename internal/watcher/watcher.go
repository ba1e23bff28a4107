// Package watcher implements the crash-safe incremental transcript reader
// (component J): byte-offset tracking, directory-mode session-switch
// detection, WAL checkpoint gating, heartbeats, and single-writer PID
// enforcement.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agenr/memory/internal/debug"
	"github.com/agenr/memory/internal/fsatomic"
	"github.com/agenr/memory/internal/lockfile"
	"github.com/agenr/memory/internal/pidfile"
	"github.com/agenr/memory/internal/storage/sqlite"
)

// ErrAlreadyRunning is returned by Run when a live watcher.pid already
// claims this state directory.
var ErrAlreadyRunning = errors.New("watcher: already running")

// ChunkHandler receives newly read bytes from path for parsing/extraction.
type ChunkHandler func(ctx context.Context, path string, data []byte) error

// SessionSwitchHandler is called with the previously active file path when
// directory mode detects a session switch, so the caller can cancel any
// not-yet-dispatched write-queue items still keyed to the old file.
type SessionSwitchHandler func(previousActive string)

// ActiveFileSelector picks the "active" transcript in directory mode. The
// concrete session-layout pattern (naming convention, directory nesting)
// is proprietary to each agent harness, so it's pluggable rather than
// baked in.
type ActiveFileSelector interface {
	SelectActive(dir string) (path string, err error)
}

// MostRecentSelector selects the most recently modified file matching
// Pattern (a filepath.Match glob) directly under Dir.
type MostRecentSelector struct {
	Pattern string
}

func (s MostRecentSelector) SelectActive(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("watcher: read dir %s: %w", dir, err)
	}
	pattern := s.Pattern
	if pattern == "" {
		pattern = "*"
	}
	var best string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(bestMod) {
			bestMod = info.ModTime()
			best = filepath.Join(dir, e.Name())
		}
	}
	if best == "" {
		return "", os.ErrNotExist
	}
	return best, nil
}

// Config controls one Watcher instance.
type Config struct {
	StateDir              string // holds watch-state.json, watcher.pid, watcher.health.json
	File                  string // single-file mode
	Dir                   string // directory mode
	Selector              ActiveFileSelector
	PollInterval          time.Duration
	WALCheckpointInterval time.Duration
}

func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second, WALCheckpointInterval: 30 * time.Second}
}

// FileState is the per-file cursor persisted in watch-state.json.
type FileState struct {
	ByteOffset int64     `json:"byte_offset"`
	LastRunAt  time.Time `json:"last_run_at"`
}

// State is the full persisted watch-state.json document.
type State struct {
	Files           map[string]*FileState `json:"files"`
	SessionsWatched int                   `json:"sessions_watched"`
	EntriesStored   int                   `json:"entries_stored"`
}

func newState() *State {
	return &State{Files: make(map[string]*FileState)}
}

// Watcher runs one watch cycle loop against either a single file or a
// session directory.
type Watcher struct {
	cfg         Config
	db          *sqlite.DB
	log         *debug.Logger
	handleChunk ChunkHandler
	onSwitch    SessionSwitchHandler
	lock        *lockfile.Lock

	state          *State
	currentActive  string
	lastCheckpoint time.Time
	startedAt      time.Time
}

// New constructs a Watcher. It does not touch the filesystem or acquire
// the PID lock until Run is called.
func New(cfg Config, db *sqlite.DB, log *debug.Logger, handleChunk ChunkHandler) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.WALCheckpointInterval <= 0 {
		cfg.WALCheckpointInterval = 30 * time.Second
	}
	if log == nil {
		log = debug.NewNop()
	}
	return &Watcher{
		cfg:         cfg,
		db:          db,
		log:         log,
		handleChunk: handleChunk,
		lock:        lockfile.New(filepath.Join(cfg.StateDir, "watcher.pid.lock")),
	}
}

// OnSessionSwitch registers fn to run whenever directory mode detects the
// active file has changed, before the new file is read.
func (w *Watcher) OnSessionSwitch(fn SessionSwitchHandler) {
	w.onSwitch = fn
}

func (w *Watcher) statePath() string {
	return filepath.Join(w.cfg.StateDir, "watch-state.json")
}

// Run acquires the single-writer lock, writes watcher.pid, then loops
// until ctx is cancelled: each cycle reads new bytes from the active
// file(s), hands them to handleChunk, persists the advanced byte offset
// atomically, and checkpoints the WAL on the configured interval. A final
// checkpoint always runs on exit, lock and PID released afterward.
func (w *Watcher) Run(ctx context.Context) error {
	running, err := pidfile.IsRunning(w.cfg.StateDir)
	if err != nil {
		return fmt.Errorf("watcher: check running: %w", err)
	}
	if running {
		return ErrAlreadyRunning
	}
	ok, err := w.lock.TryLock()
	if err != nil {
		return fmt.Errorf("watcher: acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer w.lock.Unlock()

	if err := os.MkdirAll(w.cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("watcher: create state dir: %w", err)
	}
	if err := pidfile.WritePID(w.cfg.StateDir); err != nil {
		return fmt.Errorf("watcher: write pid: %w", err)
	}
	defer pidfile.RemovePID(w.cfg.StateDir)

	w.state = newState()
	if err := fsatomic.ReadJSON(w.statePath(), w.state); err != nil && !os.IsNotExist(err) {
		w.log.Warnf("watch-state.json unreadable, starting fresh: %v", err)
		w.state = newState()
	}
	if w.state.Files == nil {
		w.state.Files = make(map[string]*FileState)
	}

	w.startedAt = time.Now().UTC()
	if err := pidfile.WriteHeartbeat(w.cfg.StateDir, pidfile.Health{
		Pid: os.Getpid(), StartedAt: w.startedAt,
		SessionsWatched: w.state.SessionsWatched, EntriesStored: w.state.EntriesStored,
	}); err != nil {
		w.log.Warnf("initial heartbeat write failed: %v", err)
	}

	var fsw *fsnotify.Watcher
	if w.cfg.Dir != "" {
		fsw, err = fsnotify.NewWatcher()
		if err == nil {
			if werr := fsw.Add(w.cfg.Dir); werr != nil {
				w.log.Warnf("fsnotify add %s failed, falling back to polling: %v", w.cfg.Dir, werr)
			}
			defer fsw.Close()
		} else {
			w.log.Warnf("fsnotify unavailable, falling back to polling: %v", err)
		}
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.cycle(ctx); err != nil {
			w.log.Warnf("watch cycle error: %v", err)
		}

		var fsEvents <-chan fsnotify.Event
		if fsw != nil {
			fsEvents = fsw.Events
		}
		select {
		case <-ctx.Done():
			w.finalCheckpoint()
			return nil
		case <-ticker.C:
		case <-fsEvents:
		}
	}
}

func (w *Watcher) finalCheckpoint() {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.db.Checkpoint(ctx); err != nil {
		w.log.Warnf("final wal checkpoint failed: %v", err)
	}
}

// cycle runs one read pass over the active file(s), persists state, and
// checkpoints the WAL when the interval has elapsed.
func (w *Watcher) cycle(ctx context.Context) error {
	active := w.cfg.File
	if w.cfg.Dir != "" {
		selector := w.cfg.Selector
		if selector == nil {
			selector = MostRecentSelector{}
		}
		picked, err := selector.SelectActive(w.cfg.Dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("select active file: %w", err)
		}
		active = picked
	}
	if active == "" {
		return nil
	}
	if w.currentActive != "" && w.currentActive != active {
		w.state.SessionsWatched++
		if w.onSwitch != nil {
			w.onSwitch(w.currentActive)
		}
	}
	w.currentActive = active

	if err := w.readNewBytes(ctx, active); err != nil {
		return err
	}

	if err := fsatomic.WriteJSON(w.statePath(), w.state, 0o644); err != nil {
		w.log.Warnf("persist watch-state.json failed: %v", err)
	}
	if err := pidfile.WriteHeartbeat(w.cfg.StateDir, pidfile.Health{
		Pid: os.Getpid(), StartedAt: w.startedAt,
		SessionsWatched: w.state.SessionsWatched, EntriesStored: w.state.EntriesStored,
	}); err != nil {
		w.log.Warnf("heartbeat write failed: %v", err)
	}

	if w.db != nil && time.Since(w.lastCheckpoint) >= w.cfg.WALCheckpointInterval {
		if err := w.db.Checkpoint(ctx); err != nil {
			w.log.Warnf("wal checkpoint failed: %v", err)
		}
		w.lastCheckpoint = time.Now()
	}
	return nil
}

// readNewBytes opens path, seeks to the persisted byte offset, reads
// whatever is available, and advances the offset by bytes actually read
// (never by bytes requested), so partial reads during concurrent file
// growth never cause duplicate ingestion.
func (w *Watcher) readNewBytes(ctx context.Context, path string) error {
	fs, ok := w.state.Files[path]
	if !ok {
		fs = &FileState{}
		w.state.Files[path] = fs
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() < fs.ByteOffset {
		// File was truncated or replaced; restart from the beginning.
		fs.ByteOffset = 0
	}
	if info.Size() == fs.ByteOffset {
		return nil
	}

	if _, err := f.Seek(fs.ByteOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", path, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	if w.handleChunk != nil {
		if err := w.handleChunk(ctx, path, data); err != nil {
			return fmt.Errorf("handle chunk for %s: %w", path, err)
		}
	}

	fs.ByteOffset += int64(len(data))
	fs.LastRunAt = time.Now().UTC()
	return nil
}

// sortedFileKeys returns the tracked file paths in deterministic order,
// used by callers that want stable iteration for logging/diagnostics.
func (w *Watcher) sortedFileKeys() []string {
	keys := make([]string, 0, len(w.state.Files))
	for k := range w.state.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RecordEntriesStored adds n to the heartbeat's entries_stored counter;
// handleChunk implementations call this after a successful store.
func (w *Watcher) RecordEntriesStored(n int) {
	w.state.EntriesStored += n
}

// TrackedFiles reports the byte offset reached for every file the watcher
// has read from, in deterministic path order (for `agenr doctor`).
func (w *Watcher) TrackedFiles() map[string]int64 {
	out := make(map[string]int64, len(w.state.Files))
	for _, k := range w.sortedFileKeys() {
		out[k] = w.state.Files[k].ByteOffset
	}
	return out
}
