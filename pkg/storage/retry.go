package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// maxTransientRetries is the retry budget for deadlocks/serialization
// failures before a write gives up and surfaces over-capacity (spec.md §7).
const maxTransientRetries = 3

// isTransient reports whether err looks like a retryable contention error
// rather than a real failure. Matched on driver-agnostic substrings since
// the three dialects (SQLite busy, Postgres serialization_failure, MySQL
// deadlock) each report this differently and we'd rather over-match a
// transient condition than under-match one.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"database is locked",
		"busy",
		"deadlock",
		"serialization failure",
		"could not serialize access",
		"lock wait timeout",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// withRetry runs op, retrying up to maxTransientRetries times with
// exponential backoff if op's error looks transient. op is expected to
// manage its own transaction lifecycle (begin/commit/rollback) on each
// attempt, since a failed transaction cannot be replayed.
func withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	backoff := 5 * time.Millisecond
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		var sErr *Error
		if errors.As(lastErr, &sErr) {
			// Already classified (validation, not-found, etc): don't retry.
			return lastErr
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == maxTransientRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return Wrap(lastErr, "transaction failed after retries").withKind(KindOverCapacity)
}

func (e *Error) withKind(k Kind) *Error {
	e.Kind = k
	return e
}

// rollback is a small helper that swallows sql.ErrTxDone, which happens
// when the transaction already committed before the deferred rollback runs.
func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		_ = err // logged by caller's component logger, not here
	}
}
