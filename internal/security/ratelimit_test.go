package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, rpm, burst int) *ClientLimiter {
	t.Helper()
	cl := NewClientLimiter(ClientRateConfig{
		Enabled:           true,
		RequestsPerMinute: rpm,
		BurstSize:         burst,
	}, quietLogger())
	t.Cleanup(cl.Close)
	return cl
}

func TestClientLimiterAllowsWithinBurst(t *testing.T) {
	cl := newTestLimiter(t, 60, 3)

	for i := 0; i < 3; i++ {
		allowed, _, _ := cl.Allow("client-a")
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}
	allowed, remaining, retryAfter := cl.Allow("client-a")
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestClientLimiterKeysAreIndependent(t *testing.T) {
	cl := newTestLimiter(t, 60, 1)

	allowed, _, _ := cl.Allow("client-a")
	require.True(t, allowed)
	allowed, _, _ = cl.Allow("client-a")
	require.False(t, allowed)

	allowed, _, _ = cl.Allow("client-b")
	assert.True(t, allowed, "another client must not be affected")
}

func TestClientLimiterRefillsOverTime(t *testing.T) {
	cl := newTestLimiter(t, 60, 1)
	base := time.Now()
	cl.now = func() time.Time { return base }

	allowed, _, _ := cl.Allow("client-a")
	require.True(t, allowed)
	allowed, _, _ = cl.Allow("client-a")
	require.False(t, allowed)

	// One token per second at 60 rpm.
	cl.now = func() time.Time { return base.Add(time.Second) }
	allowed, _, _ = cl.Allow("client-a")
	assert.True(t, allowed)
}

func TestClientLimiterDisabled(t *testing.T) {
	cl := NewClientLimiter(ClientRateConfig{Enabled: false}, quietLogger())
	defer cl.Close()
	for i := 0; i < 100; i++ {
		allowed, _, _ := cl.Allow("anyone")
		require.True(t, allowed)
	}
}

func TestClientLimiterMiddleware(t *testing.T) {
	cl := newTestLimiter(t, 60, 1)
	handler := cl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/route", nil)
	req.RemoteAddr = "10.1.2.3:1000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Health stays reachable under throttling.
	health := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	health.RemoteAddr = "10.1.2.3:1000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, health)
	assert.Equal(t, http.StatusOK, rec.Code)
}
