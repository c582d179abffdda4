package types

import (
	"time"
)

// ProviderStatus is the operator-facing view of one provider, derived from
// the health registry and the rate/cost guard. It carries no bookkeeping of
// its own.
type ProviderStatus struct {
	Provider        string             `json:"provider"`
	IsAvailable     bool               `json:"is_available"`
	HasCapacity     bool               `json:"has_capacity"`
	Metrics         ProviderMetrics    `json:"metrics"`
	RateLimits      RateLimitStatus    `json:"rate_limits"`
	LastHealthCheck time.Time          `json:"last_health_check"`
	NextQuotaReset  time.Time          `json:"next_quota_reset"`
	Keys            []APIKeyStatus     `json:"keys,omitempty"`
}

// ProviderMetrics is the rolling health summary for one provider.
type ProviderMetrics struct {
	LatencyMsAvg        float64 `json:"latency_ms_avg"`
	ErrorRate           float64 `json:"error_rate"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	TotalRequests       int64   `json:"total_requests"`
	TotalFailures       int64   `json:"total_failures"`
}

// RateLimitStatus is the externalized window state for one provider.
type RateLimitStatus struct {
	RequestsPerMinute int       `json:"requests_per_minute"`
	RequestsUsed      int64     `json:"requests_used"`
	RequestsRemaining int64     `json:"requests_remaining"`
	TokensPerMinute   int       `json:"tokens_per_minute"`
	TokensUsed        int64     `json:"tokens_used"`
	TokensRemaining   int64     `json:"tokens_remaining"`
	WindowResetAt     time.Time `json:"window_reset_at"`
}

// APIKeyStatus is the redacted view of one configured key.
type APIKeyStatus struct {
	KeyID          string    `json:"key_id"`
	Type           string    `json:"type"`
	Active         bool      `json:"active"`
	QuotaUsed      int64     `json:"quota_used"`
	QuotaLimit     int64     `json:"quota_limit"`
	QuotaResetTime time.Time `json:"quota_reset_time"`
	ErrorCount     int64     `json:"error_count"`
	SuccessRate    float64   `json:"success_rate"`
}
