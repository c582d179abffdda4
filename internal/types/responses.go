package types

import (
	"time"
)

// LLMResponse is the abstract response returned to callers on success,
// including when a fallback provider served the request.
type LLMResponse struct {
	Response string           `json:"response"`
	Metadata ResponseMetadata `json:"metadata"`
	Usage    *Usage           `json:"usage,omitempty"`
	Debug    *DebugInfo       `json:"debug,omitempty"`
}

// ResponseMetadata describes how the request was served. RoutingDecision is
// always populated; the request's debug flag only controls whether the Debug
// block is exposed, not whether the decision was computed.
type ResponseMetadata struct {
	ProviderUsed           string           `json:"provider_used"`
	ComplexityDetected     ComplexityLevel  `json:"complexity_detected"`
	RoutingDecision        *RoutingDecision `json:"routing_decision,omitempty"`
	LatencyMs              int64            `json:"latency_ms"`
	RequestID              string           `json:"request_id"`
	Timestamp              time.Time        `json:"timestamp"`
	FallbackOccurred       bool             `json:"fallback_occurred,omitempty"`
	OriginalProviderFailed string           `json:"original_provider_failed,omitempty"`
}

// Usage is token and cost accounting for a completed call.
type Usage struct {
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// DebugInfo is exposed only when the request set metadata.debug. The
// candidate list always covers every configured provider, not just the
// attempted ones.
type DebugInfo struct {
	ComplexityAnalysis *ComplexityAnalysis `json:"complexity_analysis,omitempty"`
	ProviderSelection  *SelectionDebug     `json:"provider_selection,omitempty"`
	AttemptedChain     []string            `json:"attempted_chain,omitempty"`
}

// SelectionDebug is the full candidate evaluation behind a routing decision.
type SelectionDebug struct {
	Candidates []CandidateEvaluation `json:"candidates"`
}

// RoutingDecision records why a provider was chosen. Write-once per request.
type RoutingDecision struct {
	SelectedProvider   string                `json:"selected_provider"`
	Reasoning          []string              `json:"reasoning"`
	CandidateProviders []CandidateEvaluation `json:"candidate_providers"`
	ComplexityScore    float64               `json:"complexity_score"`
	FallbackChain      []string              `json:"fallback_chain"`
}

// CandidateEvaluation is the scored view of one configured provider at
// selection time.
type CandidateEvaluation struct {
	Provider           string  `json:"provider"`
	Score              float64 `json:"score"`
	Available          bool    `json:"available"`
	HasCapacity        bool    `json:"has_capacity"`
	EstimatedLatencyMs int64   `json:"estimated_latency_ms"`
	EstimatedCostUSD   float64 `json:"estimated_cost_usd"`
}
