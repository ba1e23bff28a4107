package debug

import (
	"testing"
)

func TestNewNopDoesNotPanic(t *testing.T) {
	l := NewNop()
	l.Debugf("x %d", 1)
	l.Infof("x %d", 1)
	l.Warnf("x %d", 1)
	l.Errorf("x %d", 1)
}

func TestWithAddsComponentWithoutMutatingParent(t *testing.T) {
	l := NewNop()
	child := l.With("watcher")
	if child == l {
		t.Fatal("expected With to return a distinct logger")
	}
	child.Infof("hello")
}

func TestWarnOnceToleratesRepeatedCalls(t *testing.T) {
	l := NewNop()
	n := 0
	for i := 0; i < 5; i++ {
		l.WarnOnce("corrupt-index", "warned %d", i)
		n++
	}
	// WarnOnce itself doesn't expose a call counter, but it must not panic
	// across repeated calls with the same key, and a distinct key must be
	// independently gated.
	l.WarnOnce("other-key", "separate warning")
	if n != 5 {
		t.Fatalf("expected the loop to run 5 times, got %d", n)
	}
}
