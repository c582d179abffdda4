package server_test

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

	"github.com/voyago/llm-router/internal/classify"
	"github.com/voyago/llm-router/internal/health"
	"github.com/voyago/llm-router/internal/limits"
	"github.com/voyago/llm-router/internal/middleware"
	"github.com/voyago/llm-router/internal/providers"
	"github.com/voyago/llm-router/internal/routing"
	"github.com/voyago/llm-router/internal/security"
	"github.com/voyago/llm-router/internal/server"
	"github.com/voyago/llm-router/internal/types"
)

const testAPIKey = "sk-integration-test-key"

// scriptedAdapter fails with err when set, otherwise succeeds.
type scriptedAdapter struct {
	name string
	err  error
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) Invoke(_ context.Context, _ *types.LLMRequest) (*providers.Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &providers.Result{Text: "served by " + a.name, Model: a.name + "-model", InputTokens: 15, OutputTokens: 25}, nil
}

func (a *scriptedAdapter) IsAvailable(_ context.Context) bool { return true }

func (a *scriptedAdapter) Capacity() int { return 10 }

type stack struct {
	srv      *httptest.Server
	adapters map[string]*scriptedAdapter
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	registry := health.NewRegistry([]health.ProviderSpec{
		{Name: "cerebras", Keys: []health.KeySpec{{ID: "c1", Secret: "sk", Type: "primary"}}},
		{Name: "groq", Keys: []health.KeySpec{{ID: "g1", Secret: "sk", Type: "primary"}}},
		{Name: "gemini", Keys: []health.KeySpec{{ID: "m1", Secret: "sk", Type: "primary"}}},
	})

	store := limits.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	guard := limits.NewGuard(store, limits.GlobalLimits{}, nil, logger)
	registry.SetCapacityFunc(func(provider string) bool {
		return guard.HasCapacity(context.Background(), provider)
	})

	fakes := map[string]*scriptedAdapter{
		"cerebras": {name: "cerebras"},
		"groq":     {name: "groq"},
		"gemini":   {name: "gemini"},
	}
	adapters := make(map[string]providers.Adapter, len(fakes))
	for name, a := range fakes {
		adapters[name] = a
	}

	selector := routing.NewSelector(routing.SelectorConfig{
		Chains: map[types.ComplexityLevel][]string{
			types.ComplexityLow:    {"cerebras", "groq", "gemini"},
			types.ComplexityMedium: {"groq", "gemini", "cerebras"},
			types.ComplexityHigh:   {"gemini", "groq", "cerebras"},
		},
	}, registry)

	engine := routing.NewEngine(
		routing.EngineConfig{BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond},
		classify.New(classify.DefaultThresholds()),
		selector, registry, guard, adapters, nil, logger,
	)

	chain := middleware.NewChain(middleware.SecurityConfig{
		Auth:    security.AuthConfig{Enabled: true, APIKeys: []string{testAPIKey}},
		Hygiene: security.HygieneConfig{Enabled: true},
	}, logger)

	openapi, err := middleware.NewOpenAPIValidator(middleware.OpenAPIConfig{
		Enabled:  true,
		SpecPath: "../../docs/openapi.yaml",
	}, logger)
	require.NoError(t, err)

	s := server.New(server.Config{}, engine, chain, openapi, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &stack{srv: ts, adapters: fakes}
}

func (st *stack) route(t *testing.T, body string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, st.srv.URL+"/v1/route", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestEndToEndSuccess(t *testing.T) {
	st := newStack(t)

	resp, body := st.route(t, `{"query": "Plan a weekend trip to Lisbon", "metadata": {"complexity_hint": "low", "request_id": "req-e2e-1"}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out types.LLMResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "served by cerebras", out.Response)
	assert.Equal(t, "cerebras", out.Metadata.ProviderUsed)
	assert.Equal(t, "req-e2e-1", out.Metadata.RequestID)
	assert.False(t, out.Metadata.FallbackOccurred)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 40, out.Usage.TotalTokens)
	assert.Nil(t, out.Debug, "debug block requires the debug flag")

	// Middleware and rate-header plumbing on the same response.
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))
}

func TestEndToEndFallback(t *testing.T) {
	st := newStack(t)
	st.adapters["cerebras"].err = providers.NewError(types.KindTimeout, "cerebras", "deadline", nil)

	resp, body := st.route(t, `{"query": "Plan a weekend trip to Lisbon", "metadata": {"complexity_hint": "low"}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out types.LLMResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "groq", out.Metadata.ProviderUsed)
	assert.True(t, out.Metadata.FallbackOccurred)
	assert.Equal(t, "cerebras", out.Metadata.OriginalProviderFailed)
}

func TestEndToEndChainExhausted(t *testing.T) {
	st := newStack(t)
	for _, a := range st.adapters {
		a.err = providers.NewError(types.KindServerError, a.name, "down", nil)
	}

	resp, body := st.route(t, `{"query": "Plan a weekend trip to Lisbon", "metadata": {"complexity_hint": "low"}}`, nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var out types.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.False(t, out.Success)
	require.NotNil(t, out.Error)
	assert.Equal(t, types.ErrProviderUnavailable, out.Error.Code)
	assert.Len(t, out.Error.AttemptedChain, 3)
}

func TestEndToEndRejectsSchemaViolation(t *testing.T) {
	st := newStack(t)

	// Empty query fails the document's minLength before the handler runs.
	resp, body := st.route(t, `{"query": ""}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out types.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotNil(t, out.Error)
	assert.Equal(t, types.ErrInvalidRequest, out.Error.Code)
}

func TestEndToEndRequiresAuth(t *testing.T) {
	st := newStack(t)

	req, err := http.NewRequest(http.MethodPost, st.srv.URL+"/v1/route",
		bytes.NewBufferString(`{"query": "hello"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEndToEndRejectsWrongContentType(t *testing.T) {
	st := newStack(t)

	req, err := http.NewRequest(http.MethodPost, st.srv.URL+"/v1/route",
		bytes.NewBufferString(`{"query": "hello"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("X-API-Key", testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestEndToEndProviderStatus(t *testing.T) {
	st := newStack(t)
	st.route(t, `{"query": "warm up", "metadata": {"complexity_hint": "low"}}`, nil)

	req, err := http.NewRequest(http.MethodGet, st.srv.URL+"/v1/providers/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Providers     []types.ProviderStatus `json:"providers"`
		DailySpendUSD float64                `json:"daily_spend_usd"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.Providers, 3)
	for _, p := range out.Providers {
		assert.True(t, p.IsAvailable, "provider %s should be up", p.Provider)
	}
}

func TestEndToEndHealthBypassesAuth(t *testing.T) {
	st := newStack(t)

	resp, err := http.Get(st.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
