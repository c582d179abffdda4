package security

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/types"
)

// HygieneConfig bounds raw request shape before any JSON decoding happens.
type HygieneConfig struct {
	Enabled      bool  `yaml:"enabled"`
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// Hygiene enforces transport-level request sanity: body size caps and
// content-type checks. Semantic validation of the decoded request lives on
// types.LLMRequest.Validate.
type Hygiene struct {
	cfg    HygieneConfig
	logger *logrus.Logger
}

// NewHygiene creates the request hygiene filter.
func NewHygiene(cfg HygieneConfig, logger *logrus.Logger) *Hygiene {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20 // 1 MiB
	}
	return &Hygiene{cfg: cfg, logger: logger}
}

// Middleware rejects oversized bodies and non-JSON payloads on mutating
// methods before handlers touch them.
func (h *Hygiene) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.cfg.Enabled || exemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				h.reject(w, http.StatusUnsupportedMediaType, "content type must be application/json")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Hygiene) reject(w http.ResponseWriter, status int, message string) {
	h.logger.WithField("status", status).Warn("request rejected: " + message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	re := types.NewRouteError(types.ErrInvalidRequest, "", message)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Success: false, Error: re})
}
