package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyago/llm-router/internal/types"
)

// stubService scripts the engine surface for handler tests.
type stubService struct {
	resp     *types.LLMResponse
	routeErr *types.RouteError
	statuses []types.ProviderStatus
}

func (s *stubService) Route(_ context.Context, _ *types.LLMRequest) (*types.LLMResponse, *types.RouteError) {
	return s.resp, s.routeErr
}

func (s *stubService) Statuses(_ context.Context) []types.ProviderStatus { return s.statuses }

func (s *stubService) DailySpend(_ context.Context) float64 { return 1.25 }

func (s *stubService) GlobalRateStatus(_ context.Context) (int, int64, time.Time) {
	return 120, 119, time.Date(2026, 8, 25, 12, 1, 0, 0, time.UTC)
}

func newTestServer(svc *stubService) *Server {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(Config{}, svc, nil, nil, logger)
}

func postRoute(t *testing.T, srv *Server, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/route", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHandleRouteSuccess(t *testing.T) {
	svc := &stubService{
		resp: &types.LLMResponse{
			Response: "three days in paris",
			Metadata: types.ResponseMetadata{ProviderUsed: "cerebras", RequestID: "req-9"},
		},
	}
	rec := postRoute(t, newTestServer(svc), types.LLMRequest{Query: "Plan a trip"})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp types.LLMResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "three days in paris", resp.Response)
	assert.Equal(t, "cerebras", resp.Metadata.ProviderUsed)
}

func TestHandleRouteInvalidJSON(t *testing.T) {
	srv := newTestServer(&stubService{})
	req := httptest.NewRequest(http.MethodPost, "/v1/route", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var er types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
	assert.False(t, er.Success)
	assert.Equal(t, types.ErrInvalidRequest, er.Error.Code)
}

func TestHandleRouteErrorMapping(t *testing.T) {
	cases := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrRateLimit, http.StatusTooManyRequests},
		{types.ErrRateLimitExceeded, http.StatusTooManyRequests},
		{types.ErrCostLimitExceeded, http.StatusForbidden},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{types.ErrProviderError, http.StatusBadGateway},
		{types.ErrAuthFailure, http.StatusUnauthorized},
		{types.ErrUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			svc := &stubService{routeErr: types.NewRouteError(tc.code, "req-1", "nope")}
			rec := postRoute(t, newTestServer(svc), types.LLMRequest{Query: "q"})
			assert.Equal(t, tc.status, rec.Code)

			var er types.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
			assert.Equal(t, tc.code, er.Error.Code)
			assert.Equal(t, "req-1", er.Error.RequestID)
			assert.False(t, er.Error.Timestamp.IsZero())
		})
	}
}

func TestHandleRouteRetryAfterHeader(t *testing.T) {
	re := types.NewRouteError(types.ErrRateLimitExceeded, "req-2", "slow down")
	re.RetryAfterMs = 1500
	rec := postRoute(t, newTestServer(&stubService{routeErr: re}), types.LLMRequest{Query: "q"})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestRateLimitHeadersOnEveryResponse(t *testing.T) {
	check := func(rec *httptest.ResponseRecorder) {
		t.Helper()
		assert.Equal(t, "120", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "119", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	}

	// Success.
	svc := &stubService{resp: &types.LLMResponse{Response: "ok"}}
	check(postRoute(t, newTestServer(svc), types.LLMRequest{Query: "q"}))

	// Failure.
	svc = &stubService{routeErr: types.NewRouteError(types.ErrProviderUnavailable, "", "down")}
	check(postRoute(t, newTestServer(svc), types.LLMRequest{Query: "q"}))

	// Status endpoint.
	srv := newTestServer(&stubService{})
	req := httptest.NewRequest(http.MethodGet, "/v1/providers/status", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	check(rec)
}

func TestHandleProviderStatus(t *testing.T) {
	svc := &stubService{statuses: []types.ProviderStatus{
		{Provider: "cerebras", IsAvailable: true, HasCapacity: true},
		{Provider: "groq", IsAvailable: false},
	}}
	srv := newTestServer(svc)
	req := httptest.NewRequest(http.MethodGet, "/v1/providers/status", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Providers     []types.ProviderStatus `json:"providers"`
		DailySpendUSD float64                `json:"daily_spend_usd"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Providers, 2)
	assert.Equal(t, 1.25, body.DailySpendUSD)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&stubService{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
