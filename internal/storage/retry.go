package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Write contention shows up when a concurrent finalize and a batch recompute
// touch the same session's rows. The advisory session lock serializes the
// common case, but lock-free writers (outcome ingestion, operator edits) can
// still conflict, so contended writes retry a few times before giving up.
const (
	writeAttempts  = 4
	writeBaseDelay = 25 * time.Millisecond
)

// transientWriteError reports whether err is a Postgres conflict worth
// retrying: serialization_failure (40001) or deadlock_detected (40P01).
func transientWriteError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// retryWrite runs write, retrying transient conflicts with jittered
// exponential backoff. Non-transient errors and context cancellation return
// immediately; the last conflict error is returned once attempts run out.
func (db *DB) retryWrite(ctx context.Context, write func() error) error {
	delay := writeBaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = write()
		if err == nil || !transientWriteError(err) || attempt == writeAttempts {
			return err
		}
		db.logger.Debug("storage: retrying contended write",
			"attempt", attempt, "error", err)
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}
