package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterBurstThenBlock(t *testing.T) {
	m := NewMemoryLimiter(1, 3)
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst must pass", i)
	}
	ok, err := m.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted, request must be limited")
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer m.Close()
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "a")
	assert.False(t, ok)

	ok, _ = m.Allow(ctx, "b")
	assert.True(t, ok, "a's exhaustion must not affect b")
}

func TestMemoryLimiterRefills(t *testing.T) {
	m := NewMemoryLimiter(100, 1) // 100 tokens/s: refills within 10ms
	defer m.Close()
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "k")
	require.True(t, ok)
	ok, _ = m.Allow(ctx, "k")
	require.False(t, ok)

	time.Sleep(20 * time.Millisecond)
	ok, _ = m.Allow(ctx, "k")
	assert.True(t, ok, "bucket must refill over time")
}

func TestMemoryLimiterRefillCapsAtBurst(t *testing.T) {
	m := NewMemoryLimiter(0.001, 2)
	defer m.Close()
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "k")
	require.True(t, ok)

	// An hour idle at 0.001 tokens/s would add 3.6 tokens; the bucket must
	// refill to capacity, never beyond it.
	m.mu.Lock()
	m.seen["k"].touched = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	ok, _ = m.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "k")
	assert.False(t, ok, "refill must cap at burst")
}

func TestMiddlewareLimitsPerIP(t *testing.T) {
	m := NewMemoryLimiter(0.001, 2)
	defer m.Close()

	calls := 0
	h := Middleware(m, IPKeyFunc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1111"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:2222"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:3333"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1111"), "other clients unaffected")
	assert.Equal(t, 3, calls)
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	h := Middleware(nil, IPKeyFunc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:4312"
	assert.Equal(t, "192.0.2.7", IPKeyFunc(r))
}
