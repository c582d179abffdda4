// Package routing orchestrates complexity classification, provider
// selection, rate/cost reservation, and failover across the fallback chain.
package routing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/classify"
	"github.com/voyago/llm-router/internal/health"
	"github.com/voyago/llm-router/internal/limits"
	"github.com/voyago/llm-router/internal/providers"
	"github.com/voyago/llm-router/internal/types"
)

// EngineConfig is the static policy the engine runs under.
type EngineConfig struct {
	// BackoffBase scales the inter-attempt delay: attempt n waits
	// BackoffBase * n before invoking the next candidate.
	BackoffBase time.Duration

	// BackoffMax caps the inter-attempt delay.
	BackoffMax time.Duration

	// Costs prices provider usage for reservations and the daily ledger.
	Costs CostTable

	// EstimatedOutputTokens is the assumed completion size for reservations
	// when the request does not cap max_tokens.
	EstimatedOutputTokens int
}

// Engine routes one request through classify -> select -> reserve -> invoke,
// advancing the fallback chain on failure. One engine is shared by all
// concurrent requests; all mutable state lives in the registry and guard.
type Engine struct {
	cfg        EngineConfig
	classifier *classify.Classifier
	selector   *Selector
	registry   *health.Registry
	guard      *limits.Guard
	adapters   map[string]providers.Adapter
	sink       Sink
	logger     *logrus.Logger

	// sleep is swapped out in tests so backoff needs no real time.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine wires the engine. A nil sink discards events.
func NewEngine(
	cfg EngineConfig,
	classifier *classify.Classifier,
	selector *Selector,
	registry *health.Registry,
	guard *limits.Guard,
	adapters map[string]providers.Adapter,
	sink Sink,
	logger *logrus.Logger,
) *Engine {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 3 * time.Second
	}
	if cfg.EstimatedOutputTokens <= 0 {
		cfg.EstimatedOutputTokens = 512
	}
	if sink == nil {
		sink = MultiSink{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		selector:   selector,
		registry:   registry,
		guard:      guard,
		adapters:   adapters,
		sink:       sink,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// backoffDelay is the inter-attempt delay policy: linear in the attempt
// number, capped. Attempt numbering starts at 1 for the first retry.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := base * time.Duration(attempt)
	if d > max {
		return max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Route serves one request. On success the response metadata records which
// provider served it and whether a fallback occurred; on failure the caller
// gets a structured *types.RouteError, never a raw provider error.
func (e *Engine) Route(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, *types.RouteError) {
	start := time.Now()
	requestID := requestIDOf(req)

	if err := req.Validate(); err != nil {
		re := types.NewRouteError(types.ErrInvalidRequest, requestID, "request failed validation")
		re.Details = err.Error()
		return nil, re
	}

	analysis := e.classifier.Classify(req.Query, hintsOf(req))
	e.sink.Emit(Event{
		Type:       EventClassified,
		RequestID:  requestID,
		Complexity: analysis.Level,
		Score:      analysis.Score,
	})

	decision := e.selector.SelectChain(analysis, preferenceOf(req))
	e.sink.Emit(Event{
		Type:       EventChainSelected,
		RequestID:  requestID,
		Complexity: analysis.Level,
		Chain:      decision.FallbackChain,
	})

	if len(decision.FallbackChain) == 0 {
		e.sink.Emit(Event{Type: EventExhausted, RequestID: requestID, Err: "no eligible providers"})
		re := types.NewRouteError(types.ErrProviderUnavailable, requestID,
			"no providers are currently available")
		re.Details = "every configured provider was unavailable or out of capacity at selection time"
		return nil, re
	}

	estInput := int64(analysis.TokenEstimate)
	estOutput := int64(e.cfg.EstimatedOutputTokens)
	if o := req.Options; o != nil && o.MaxTokens > 0 && int64(o.MaxTokens) < estOutput {
		estOutput = int64(o.MaxTokens)
	}
	estTokens := estInput + estOutput

	var (
		attempted []string
		lastErr   error
		attempt   int
	)

	for _, provider := range decision.FallbackChain {
		if attempt > 0 {
			if err := e.sleep(ctx, backoffDelay(e.cfg.BackoffBase, e.cfg.BackoffMax, attempt)); err != nil {
				return nil, e.cancelled(requestID, attempted, err)
			}
		}

		adapter, ok := e.adapters[provider]
		if !ok {
			e.logger.WithField("provider", provider).Warn("selected provider has no adapter")
			continue
		}

		estCost := e.cfg.Costs.Estimate(provider, estInput, estOutput)
		verdict, reservation := e.guard.CheckAndReserve(ctx, provider, estTokens, estCost)
		if !verdict.Allowed {
			e.sink.Emit(Event{
				Type:      EventRateDenied,
				RequestID: requestID,
				Provider:  provider,
			})
			if verdict.Scope == limits.ScopeGlobal {
				return nil, e.globalDenial(requestID, verdict)
			}
			// A per-provider ceiling behaves like any provider failure:
			// advance the chain. The provider was never invoked, so its
			// health record is not touched.
			attempt++
			continue
		}

		attempt++
		attempted = append(attempted, provider)
		e.sink.Emit(Event{
			Type:      EventAttempt,
			RequestID: requestID,
			Provider:  provider,
			Attempt:   attempt,
		})

		callStart := time.Now()
		result, err := adapter.Invoke(ctx, req)
		latencyMs := time.Since(callStart).Milliseconds()

		if err != nil {
			reservation.Release(ctx)
			kind := providers.KindOf(err)
			e.registry.RecordOutcome(provider, health.Outcome{
				Success:   false,
				LatencyMs: latencyMs,
				ErrorKind: kind,
			})
			e.sink.Emit(Event{
				Type:      EventOutcome,
				RequestID: requestID,
				Provider:  provider,
				Attempt:   attempt,
				LatencyMs: latencyMs,
				ErrorKind: kind,
				Err:       err.Error(),
			})
			lastErr = err
			if ctx.Err() != nil {
				return nil, e.cancelled(requestID, attempted, ctx.Err())
			}
			e.sink.Emit(Event{Type: EventFallback, RequestID: requestID, Provider: provider})
			continue
		}

		totalTokens := int64(result.InputTokens + result.OutputTokens)
		actualCost := e.cfg.Costs.Estimate(provider, int64(result.InputTokens), int64(result.OutputTokens))
		reservation.Commit(ctx, totalTokens, actualCost)
		e.registry.RecordOutcome(provider, health.Outcome{
			Success:   true,
			LatencyMs: latencyMs,
			Tokens:    totalTokens,
		})
		e.sink.Emit(Event{
			Type:      EventOutcome,
			RequestID: requestID,
			Provider:  provider,
			Attempt:   attempt,
			LatencyMs: latencyMs,
			Success:   true,
		})

		return e.buildResponse(req, requestID, provider, decision, analysis, result, actualCost, attempted, start), nil
	}

	e.sink.Emit(Event{
		Type:      EventExhausted,
		RequestID: requestID,
		Chain:     attempted,
		Err:       errMessage(lastErr),
	})
	re := types.NewRouteError(types.ErrProviderUnavailable, requestID,
		"all providers in the fallback chain failed")
	re.Details = errMessage(lastErr)
	re.AttemptedChain = attempted
	if len(attempted) > 0 {
		re.Provider = attempted[len(attempted)-1]
	}
	return nil, re.WithCause(lastErr)
}

func (e *Engine) buildResponse(
	req *types.LLMRequest,
	requestID, provider string,
	decision *types.RoutingDecision,
	analysis types.ComplexityAnalysis,
	result *providers.Result,
	costUSD float64,
	attempted []string,
	start time.Time,
) *types.LLMResponse {
	resp := &types.LLMResponse{
		Response: result.Text,
		Metadata: types.ResponseMetadata{
			ProviderUsed:       provider,
			ComplexityDetected: analysis.Level,
			RoutingDecision:    decision,
			LatencyMs:          time.Since(start).Milliseconds(),
			RequestID:          requestID,
			Timestamp:          time.Now().UTC(),
		},
		Usage: &types.Usage{
			InputTokens:      result.InputTokens,
			OutputTokens:     result.OutputTokens,
			TotalTokens:      result.InputTokens + result.OutputTokens,
			EstimatedCostUSD: costUSD,
		},
	}
	if provider != decision.FallbackChain[0] {
		resp.Metadata.FallbackOccurred = true
		resp.Metadata.OriginalProviderFailed = decision.FallbackChain[0]
	}
	if req.Metadata != nil && req.Metadata.Debug {
		resp.Debug = &types.DebugInfo{
			ComplexityAnalysis: &analysis,
			ProviderSelection:  &types.SelectionDebug{Candidates: decision.CandidateProviders},
			AttemptedChain:     attempted,
		}
	}
	return resp
}

func (e *Engine) globalDenial(requestID string, d limits.Decision) *types.RouteError {
	code := types.ErrRateLimitExceeded
	msg := "global rate limit exceeded"
	if d.Reason == limits.ReasonCostLimit {
		code = types.ErrCostLimitExceeded
		msg = "daily cost budget exceeded"
	}
	re := types.NewRouteError(code, requestID, msg)
	re.RetryAfterMs = d.RetryAfter.Milliseconds()
	return re
}

func (e *Engine) cancelled(requestID string, attempted []string, cause error) *types.RouteError {
	re := types.NewRouteError(types.ErrTimeout, requestID, "request cancelled or timed out")
	re.AttemptedChain = attempted
	return re.WithCause(cause)
}

// Statuses externalizes per-provider health and rate-limit state for the
// operator status endpoint. It is derived entirely from the registry and the
// guard; nothing here keeps its own bookkeeping.
func (e *Engine) Statuses(ctx context.Context) []types.ProviderStatus {
	out := make([]types.ProviderStatus, 0, len(e.registry.Providers()))
	for _, name := range e.registry.Providers() {
		rec, _ := e.registry.Get(name)
		out = append(out, types.ProviderStatus{
			Provider:    name,
			IsAvailable: rec.Available,
			HasCapacity: e.guard.HasCapacity(ctx, name),
			Metrics: types.ProviderMetrics{
				LatencyMsAvg:        rec.LatencyMsAvg,
				ErrorRate:           rec.ErrorRate,
				ConsecutiveFailures: rec.ConsecutiveFailures,
				TotalRequests:       rec.TotalRequests,
				TotalFailures:       rec.TotalFailures,
			},
			RateLimits:      e.guard.Status(ctx, name),
			LastHealthCheck: rec.LastChecked,
			NextQuotaReset:  e.registry.NextQuotaReset(name),
			Keys:            e.registry.KeyStatuses(name),
		})
	}
	return out
}

// DailySpend reports today's accumulated spend across all providers.
func (e *Engine) DailySpend(ctx context.Context) float64 {
	return e.guard.DailySpend(ctx, "total")
}

// GlobalRateStatus reports the global per-minute window for response headers.
func (e *Engine) GlobalRateStatus(ctx context.Context) (limit int, remaining int64, reset time.Time) {
	return e.guard.GlobalStatus(ctx)
}

func requestIDOf(req *types.LLMRequest) string {
	if req.Metadata != nil && req.Metadata.RequestID != "" {
		return req.Metadata.RequestID
	}
	return uuid.NewString()
}

func hintsOf(req *types.LLMRequest) *classify.Hints {
	if req.Metadata == nil || req.Metadata.ComplexityHint == "" {
		return nil
	}
	return &classify.Hints{ComplexityHint: req.Metadata.ComplexityHint}
}

func preferenceOf(req *types.LLMRequest) types.Preference {
	if req.Metadata == nil {
		return ""
	}
	return req.Metadata.UserPreference
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
