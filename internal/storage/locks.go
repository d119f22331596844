package storage

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// AcquireSessionLock takes a Postgres advisory lock keyed by the session id,
// blocking until any other holder (on any service instance sharing this
// database) releases it. The in-process lock map in the finalize service is
// the fast path; this extends the at-most-once-per-session guarantee across
// instances.
//
// The returned release function must be called on every exit path. It is safe
// to call exactly once; the lock is also released if the connection drops.
func (db *DB) AcquireSessionLock(ctx context.Context, sessionID uuid.UUID) (release func(), err error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: acquire lock conn: %w", err)
	}

	key := sessionLockKey(sessionID)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("storage: advisory lock: %w", err)
	}

	release = func() {
		// Unlock on a background context: release must succeed even when the
		// request context is already canceled.
		if _, err := conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, key); err != nil {
			db.logger.Warn("storage: advisory unlock failed", "session_id", sessionID, "error", err)
		}
		conn.Release()
	}
	return release, nil
}

// sessionLockKey folds a session uuid into the bigint advisory-lock keyspace.
func sessionLockKey(id uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(id[:8])) //nolint:gosec // wraparound is fine for a lock key
}
