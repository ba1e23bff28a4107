package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// beginImmediateWithRetry issues BEGIN IMMEDIATE on conn, retrying up to
// maxAttempts times with linear backoff when SQLite reports the database
// is busy. BEGIN IMMEDIATE acquires the write lock up front rather than on
// the first write statement, which is what lets concurrent readers and the
// single writer coexist without upgrade deadlocks.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, maxAttempts int, backoff time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusyErr(err) {
			return err
		}
	}
	return fmt.Errorf("sqlite: begin immediate: exhausted retries: %w", lastErr)
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

// WithImmediateTx runs fn inside a BEGIN IMMEDIATE transaction on a
// dedicated connection, committing on a nil return and rolling back
// otherwise (including on panic, which is re-raised after rollback). This
// is the phased-transaction shape the store pipeline (component F) uses
// for every batch.
func (db *DB) WithImmediateTx(ctx context.Context, fn func(conn *sql.Conn) error) (err error) {
	conn, connErr := db.sqlDB.Conn(ctx)
	if connErr != nil {
		return fmt.Errorf("sqlite: acquire connection: %w", connErr)
	}
	defer conn.Close()

	if beginErr := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); beginErr != nil {
		return fmt.Errorf("sqlite: begin immediate: %w", beginErr)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	fnErr := fn(conn)
	if fnErr != nil {
		if IsRollbackRequested(fnErr) {
			return nil
		}
		return fnErr
	}

	if _, commitErr := conn.ExecContext(ctx, "COMMIT"); commitErr != nil {
		return fmt.Errorf("sqlite: commit: %w", commitErr)
	}
	committed = true
	return nil
}

// errRollbackRequested lets callers of WithImmediateTx force a rollback
// (dry_run) without that being treated as a real failure by the caller's
// own error handling.
var errRollbackRequested = errors.New("sqlite: rollback requested")

// ErrRollbackRequested is returned by fn passed to WithImmediateTx to roll
// back without propagating a real error to the caller; WithImmediateTx
// itself still returns nil in that case, letting callers inspect their own
// accumulated result instead.
func ErrRollbackRequested() error { return errRollbackRequested }

// IsRollbackRequested reports whether err is the dry-run rollback sentinel.
func IsRollbackRequested(err error) bool { return errors.Is(err, errRollbackRequested) }
