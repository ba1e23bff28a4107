package pidfile

import (
	"os"
	"testing"
	"time"
)

func TestWritePIDThenReadPIDRoundTrips(t *testing.T) {
	dir := t.TempDir()
	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	p, ok, err := ReadPID(dir)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if !ok {
		t.Fatal("expected a PID file to be found")
	}
	if p.Pid != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), p.Pid)
	}
}

func TestReadPIDMissingIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := ReadPID(dir)
	if err != nil {
		t.Fatalf("expected no error for a missing pid file, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing pid file")
	}
}

func TestRemovePIDIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if err := RemovePID(dir); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if err := RemovePID(dir); err != nil {
		t.Fatalf("expected a second RemovePID on an absent file to be a no-op, got %v", err)
	}
}

func TestIsRunningTrueForCurrentProcess(t *testing.T) {
	dir := t.TempDir()
	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	running, err := IsRunning(dir)
	if err != nil {
		t.Fatalf("IsRunning: %v", err)
	}
	if !running {
		t.Fatal("expected the current process's own pid to be reported as running")
	}
}

func TestIsRunningFalseWhenNoPIDFile(t *testing.T) {
	dir := t.TempDir()
	running, err := IsRunning(dir)
	if err != nil {
		t.Fatalf("IsRunning: %v", err)
	}
	if running {
		t.Fatal("expected no pid file to mean not running")
	}
}

func TestHeartbeatRoundTripAndStalled(t *testing.T) {
	dir := t.TempDir()
	h := Health{Pid: os.Getpid(), SessionsWatched: 2, EntriesStored: 10}
	if err := WriteHeartbeat(dir, h); err != nil {
		t.Fatalf("WriteHeartbeat: %v", err)
	}
	got, ok, err := ReadHeartbeat(dir)
	if err != nil {
		t.Fatalf("ReadHeartbeat: %v", err)
	}
	if !ok {
		t.Fatal("expected a heartbeat file to be found")
	}
	if got.SessionsWatched != 2 || got.EntriesStored != 10 {
		t.Fatalf("unexpected heartbeat contents: %+v", got)
	}
	if got.Stalled(time.Now().UTC()) {
		t.Fatal("expected a just-written heartbeat to not be stalled")
	}
	if !got.Stalled(time.Now().UTC().Add(StalledAfter + time.Minute)) {
		t.Fatal("expected a heartbeat older than StalledAfter to be stalled")
	}
}
