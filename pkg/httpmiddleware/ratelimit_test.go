package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Allow(t *testing.T) {
	l := NewLimiter(RateLimitConfig{Max: 3, Window: time.Minute})
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		_, _, ok := l.Allow("client", now)
		require.True(t, ok, "request %d should pass", i+1)
	}
	_, _, ok := l.Allow("client", now)
	assert.False(t, ok, "fourth request in the window is rejected")

	// A different key has its own allowance.
	_, _, ok = l.Allow("other", now)
	assert.True(t, ok)
}

func TestLimiter_SlidingWindowWeighsPreviousWindow(t *testing.T) {
	l := NewLimiter(RateLimitConfig{Max: 10, Window: time.Minute})
	start := time.Unix(1_700_000_000, 0).Truncate(time.Minute)

	// Fill the first window completely.
	for i := 0; i < 10; i++ {
		_, _, ok := l.Allow("c", start)
		require.True(t, ok)
	}

	// Just into the next window the previous one still weighs almost
	// fully, leaving room for only one more request.
	_, _, ok := l.Allow("c", start.Add(time.Minute+time.Second))
	assert.True(t, ok)
	_, _, ok = l.Allow("c", start.Add(time.Minute+time.Second))
	assert.False(t, ok)

	// Near the end of the next window most of the weight has decayed.
	_, _, ok = l.Allow("c", start.Add(2*time.Minute-time.Second))
	assert.True(t, ok)
}

func TestLimiter_Evict(t *testing.T) {
	l := NewLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Unix(1_700_000_000, 0)

	l.Allow("stale", now)
	l.Allow("fresh", now.Add(3*time.Minute))
	l.evict(now.Add(3 * time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.counters, "stale")
	assert.Contains(t, l.counters, "fresh")
}

func TestRateLimit_Middleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := Wrap(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		RateLimit(ctx, RateLimitConfig{Max: 2, Window: time.Minute}),
	)

	do := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := do()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	do()
	rec = do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, rec.Body.String())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, "198.51.100.7", clientIP(req))
}
