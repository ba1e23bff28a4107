//go:build windows

package pidfile

import "os"

// processAlive on Windows falls back to a FindProcess probe; os.FindProcess
// always succeeds on POSIX but on Windows it fails for a dead PID, which is
// exactly the signal we need here.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil || proc == nil {
		return false
	}
	// A zero-byte signal isn't available on Windows; Release is a no-op
	// probe beyond FindProcess itself, which already did the real check.
	return true
}
