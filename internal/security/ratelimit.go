package security

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/types"
)

// ClientRateConfig throttles individual callers. This is abuse protection
// for the front door; provider-side budgets live in the limits package.
type ClientRateConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// ClientLimiter is a token-bucket limiter keyed by caller identity (or IP
// when unauthenticated).
type ClientLimiter struct {
	cfg    ClientRateConfig
	logger *logrus.Logger

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewClientLimiter creates a limiter and starts its idle-bucket sweeper.
func NewClientLimiter(cfg ClientRateConfig, logger *logrus.Logger) *ClientLimiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.RequestsPerMinute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	cl := &ClientLimiter{
		cfg:     cfg,
		logger:  logger,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	if cfg.Enabled {
		go cl.sweep()
	}
	return cl
}

// Allow consumes one token for the key. The second return is the number of
// tokens remaining, the third how long to wait when denied.
func (cl *ClientLimiter) Allow(key string) (bool, int, time.Duration) {
	if !cl.cfg.Enabled || cl.cfg.RequestsPerMinute <= 0 {
		return true, cl.cfg.RequestsPerMinute, 0
	}

	now := cl.now()
	cl.mu.Lock()
	defer cl.mu.Unlock()

	b, ok := cl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(cl.cfg.BurstSize), lastRefill: now}
		cl.buckets[key] = b
	}

	refill := now.Sub(b.lastRefill).Minutes() * float64(cl.cfg.RequestsPerMinute)
	if refill > 0 {
		b.tokens += refill
		if b.tokens > float64(cl.cfg.BurstSize) {
			b.tokens = float64(cl.cfg.BurstSize)
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}

	retryAfter := time.Duration(float64(time.Minute) / float64(cl.cfg.RequestsPerMinute))
	return false, 0, retryAfter
}

// Middleware rejects callers that exceed their per-minute budget with a 429
// and a Retry-After header.
func (cl *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cl.cfg.Enabled || exemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := clientKey(r)
		allowed, _, retryAfter := cl.Allow(key)
		if !allowed {
			cl.logger.WithFields(logrus.Fields{
				"client":      key,
				"retry_after": retryAfter,
			}).Warn("client rate limit exceeded")

			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+1)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			re := types.NewRouteError(types.ErrRateLimit, "", "too many requests")
			re.RetryAfterMs = retryAfter.Milliseconds()
			_ = json.NewEncoder(w).Encode(types.ErrorResponse{Success: false, Error: re})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Close stops the sweeper.
func (cl *ClientLimiter) Close() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

// sweep drops buckets idle long enough to be full again.
func (cl *ClientLimiter) sweep() {
	ticker := time.NewTicker(cl.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cl.stop:
			return
		case <-ticker.C:
			cutoff := cl.now().Add(-cl.cfg.CleanupInterval)
			cl.mu.Lock()
			for key, b := range cl.buckets {
				if b.lastRefill.Before(cutoff) {
					delete(cl.buckets, key)
				}
			}
			cl.mu.Unlock()
		}
	}
}

// clientKey prefers the authenticated identity, falling back to source IP.
func clientKey(r *http.Request) string {
	if id, ok := IdentityFrom(r.Context()); ok {
		return id.UserID
	}
	return ClientIP(r)
}
