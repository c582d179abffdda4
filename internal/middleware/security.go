// Package middleware composes the HTTP middleware chain for the routing
// service.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/security"
)

// SecurityConfig gathers the front-door protections.
type SecurityConfig struct {
	Auth           security.AuthConfig       `yaml:"auth"`
	ClientRate     security.ClientRateConfig `yaml:"client_rate_limit"`
	Hygiene        security.HygieneConfig    `yaml:"request_hygiene"`
	AllowedOrigins []string                  `yaml:"allowed_origins"`
}

// Chain bundles the assembled middleware stack.
type Chain struct {
	cfg     SecurityConfig
	auth    *security.Authenticator
	limiter *security.ClientLimiter
	hygiene *security.Hygiene
	logger  *logrus.Logger
}

// NewChain builds the middleware stack from config.
func NewChain(cfg SecurityConfig, logger *logrus.Logger) *Chain {
	return &Chain{
		cfg:     cfg,
		auth:    security.NewAuthenticator(cfg.Auth, logger),
		limiter: security.NewClientLimiter(cfg.ClientRate, logger),
		hygiene: security.NewHygiene(cfg.Hygiene, logger),
		logger:  logger,
	}
}

// Wrap applies the full stack, outermost first: logging, security headers,
// CORS, hygiene, auth, then per-client rate limiting.
func (c *Chain) Wrap(handler http.Handler) http.Handler {
	h := c.limiter.Middleware(handler)
	h = c.auth.Middleware(h)
	h = c.hygiene.Middleware(h)
	h = c.cors(h)
	h = securityHeaders(h)
	h = c.requestLog(h)
	return h
}

// Close releases background resources held by the stack.
func (c *Chain) Close() {
	c.limiter.Close()
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func (c *Chain) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && c.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, X-API-Key, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Chain) originAllowed(origin string) bool {
	for _, allowed := range c.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (c *Chain) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		c.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_ip":   security.ClientIP(r),
		}).Info("request handled")
	})
}
