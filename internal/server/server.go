// Package server exposes the routing engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/middleware"
	"github.com/voyago/llm-router/internal/types"
)

// RoutingService is the engine surface the server needs. Narrowed to an
// interface so handler tests run against a stub.
type RoutingService interface {
	Route(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, *types.RouteError)
	Statuses(ctx context.Context) []types.ProviderStatus
	DailySpend(ctx context.Context) float64
	GlobalRateStatus(ctx context.Context) (limit int, remaining int64, reset time.Time)
}

// Config holds HTTP server settings.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Server is the HTTP front end.
type Server struct {
	cfg     Config
	engine  RoutingService
	chain   *middleware.Chain
	openapi *middleware.OpenAPIValidator
	logger  *logrus.Logger
	http    *http.Server
}

// New assembles the server and its routes.
func New(cfg Config, engine RoutingService, chain *middleware.Chain, openapi *middleware.OpenAPIValidator, logger *logrus.Logger) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 120 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}

	s := &Server{cfg: cfg, engine: engine, chain: chain, openapi: openapi, logger: logger}

	handler := http.Handler(s.Routes())
	if openapi != nil {
		handler = openapi.Middleware(handler)
	}
	if chain != nil {
		handler = chain.Wrap(handler)
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the fully wrapped handler the listener serves.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Routes builds the bare route table without middleware, for tests.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/route", s.handleRoute).Methods(http.MethodPost)
	r.HandleFunc("/v1/providers/status", s.handleProviderStatus).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	s.logger.WithField("addr", s.cfg.ListenAddr).Info("http server listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if s.chain != nil {
		s.chain.Close()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	s.writeRateHeaders(w, r)

	var req types.LLMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		re := types.NewRouteError(types.ErrInvalidRequest, "", "request body is not valid JSON")
		re.Details = err.Error()
		s.writeError(w, re)
		return
	}

	resp, routeErr := s.engine.Route(r.Context(), &req)
	if routeErr != nil {
		s.writeError(w, routeErr)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	s.writeRateHeaders(w, r)
	statuses := s.engine.Statuses(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers":       statuses,
		"daily_spend_usd": s.engine.DailySpend(r.Context()),
		"timestamp":       time.Now().UTC(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeRateHeaders stamps the global window state on every response,
// regardless of outcome.
func (s *Server) writeRateHeaders(w http.ResponseWriter, r *http.Request) {
	limit, remaining, reset := s.engine.GlobalRateStatus(r.Context())
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, re *types.RouteError) {
	status := statusOf(re.Code)
	if re.RetryAfterMs > 0 {
		seconds := (re.RetryAfterMs + 999) / 1000
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}
	s.writeJSON(w, status, types.ErrorResponse{Success: false, Error: re})
}

// statusOf maps the error taxonomy to HTTP statuses.
func statusOf(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrAuthFailure:
		return http.StatusUnauthorized
	case types.ErrRateLimit, types.ErrRateLimitExceeded:
		return http.StatusTooManyRequests
	case types.ErrCostLimitExceeded:
		return http.StatusForbidden
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrProviderUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
