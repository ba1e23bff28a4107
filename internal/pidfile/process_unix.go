//go:build unix

package pidfile

import "golang.org/x/sys/unix"

// processAlive sends signal 0, which performs error checking without
// actually delivering a signal — the standard liveness probe on POSIX.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil
}
