package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	sweepInterval = time.Minute
	idleEviction  = 10 * time.Minute
)

// tokenBucket tracks the remaining allowance for one key. Refill happens
// lazily on access, so idle keys cost nothing until the sweeper removes them.
type tokenBucket struct {
	remaining float64
	touched   time.Time
}

func (b *tokenBucket) refill(now time.Time, rate, burst float64) {
	b.remaining = min(burst, b.remaining+now.Sub(b.touched).Seconds()*rate)
	b.touched = now
}

// MemoryLimiter is a per-key token bucket held in process memory. It covers
// the single-instance deployment this service ships as; a shared-store
// implementation can replace it behind the Limiter interface.
type MemoryLimiter struct {
	rate  float64 // sustained tokens per second
	burst float64 // bucket capacity

	mu   sync.Mutex
	seen map[string]*tokenBucket

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryLimiter creates a limiter allowing rate requests per second per
// key with bursts up to burst. A background sweeper evicts keys idle for
// more than ten minutes; Close stops it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:  rate,
		burst: float64(burst),
		seen:  make(map[string]*tokenBucket),
		stop:  make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow takes one token from key's bucket, reporting whether one was left.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.seen[key]
	if !ok {
		// A key's first request starts from a full bucket.
		m.seen[key] = &tokenBucket{remaining: m.burst - 1, touched: now}
		return true, nil
	}
	b.refill(now, m.rate, m.burst)
	if b.remaining < 1 {
		return false, nil
	}
	b.remaining--
	return true, nil
}

// Close stops the sweeper. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryLimiter) sweep() {
	tick := time.NewTicker(sweepInterval)
	defer tick.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-tick.C:
			m.mu.Lock()
			for key, b := range m.seen {
				if now.Sub(b.touched) > idleEviction {
					delete(m.seen, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
