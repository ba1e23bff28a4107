// Package pidfile manages the watcher's watcher.pid and watcher.health.json
// files: single-writer PID enforcement with stale-PID detection, and a
// heartbeat record consumers can use to detect a stalled watcher.
package pidfile

import (
	"os"
	"path/filepath"
	"time"

	"github.com/agenr/memory/internal/fsatomic"
)

// PID is the persisted shape of watcher.pid.
type PID struct {
	Pid       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Health is the persisted shape of watcher.health.json.
type Health struct {
	Pid             int       `json:"pid"`
	StartedAt       time.Time `json:"started_at"`
	LastHeartbeat   time.Time `json:"last_heartbeat"`
	SessionsWatched int       `json:"sessions_watched"`
	EntriesStored   int       `json:"entries_stored"`
}

// StalledAfter is the heartbeat age past which a watcher is considered
// stalled.
const StalledAfter = 5 * time.Minute

// WritePID atomically writes watcher.pid for the current process.
func WritePID(dir string) error {
	p := PID{Pid: os.Getpid(), StartedAt: time.Now().UTC()}
	return fsatomic.WriteJSON(filepath.Join(dir, "watcher.pid"), p, 0o644)
}

// ReadPID reads watcher.pid. A missing file returns ok=false, nil error.
func ReadPID(dir string) (p PID, ok bool, err error) {
	err = fsatomic.ReadJSON(filepath.Join(dir, "watcher.pid"), &p)
	if err != nil {
		if os.IsNotExist(err) {
			return PID{}, false, nil
		}
		return PID{}, false, err
	}
	return p, true, nil
}

// RemovePID removes watcher.pid on clean shutdown.
func RemovePID(dir string) error {
	err := os.Remove(filepath.Join(dir, "watcher.pid"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsRunning reports whether a watcher.pid exists and names a live process.
// A stale PID file (process no longer alive) is treated as "not running"
// so a crashed watcher never wedges future ingest attempts.
func IsRunning(dir string) (bool, error) {
	p, ok, err := ReadPID(dir)
	if err != nil || !ok {
		return false, err
	}
	return processAlive(p.Pid), nil
}

// WriteHeartbeat atomically updates watcher.health.json.
func WriteHeartbeat(dir string, h Health) error {
	h.LastHeartbeat = time.Now().UTC()
	return fsatomic.WriteJSON(filepath.Join(dir, "watcher.health.json"), h, 0o644)
}

// ReadHeartbeat reads watcher.health.json.
func ReadHeartbeat(dir string) (Health, bool, error) {
	var h Health
	err := fsatomic.ReadJSON(filepath.Join(dir, "watcher.health.json"), &h)
	if err != nil {
		if os.IsNotExist(err) {
			return Health{}, false, nil
		}
		return Health{}, false, err
	}
	return h, true, nil
}

// Stalled reports whether h's heartbeat is older than StalledAfter.
func (h Health) Stalled(now time.Time) bool {
	return now.Sub(h.LastHeartbeat) > StalledAfter
}
