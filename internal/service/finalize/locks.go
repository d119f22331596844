package finalize

import (
	"sync"

	"github.com/google/uuid"
)

// sessionLocks serializes finalize runs per session within this process.
// Entries are reference counted and removed when the last holder releases, so
// the map stays proportional to in-flight sessions, not total sessions.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// acquire blocks until the caller holds the lock for id and returns the
// release function. The release function must be called exactly once.
func (l *sessionLocks) acquire(id uuid.UUID) func() {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[uuid.UUID]*lockEntry)
	}
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
