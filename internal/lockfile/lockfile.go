// Package lockfile provides cross-platform advisory exclusive file locks,
// used to enforce the watcher's single-writer discipline. The consolidator
// takes no file lock.
package lockfile

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Lock wraps a flock.Flock with the engine's blocking/try semantics.
type Lock struct {
	fl *flock.Flock
}

// New returns a Lock bound to path. The lock is not acquired yet.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// TryLock attempts a non-blocking exclusive lock, returning ok=false if
// another process already holds it.
func (l *Lock) TryLock() (ok bool, err error) {
	ok, err = l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("lockfile: try lock %s: %w", l.fl.Path(), err)
	}
	return ok, nil
}

// Unlock releases the lock if held.
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}

// Locked reports whether this process currently holds the lock.
func (l *Lock) Locked() bool {
	return l.fl.Locked()
}
