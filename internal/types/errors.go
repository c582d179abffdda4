package types

import (
	"fmt"
	"time"
)

// ErrorCode is the stable, caller-visible error taxonomy.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrRateLimit           ErrorCode = "RATE_LIMIT"
	ErrRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCostLimitExceeded   ErrorCode = "COST_LIMIT_EXCEEDED"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrProviderError       ErrorCode = "PROVIDER_ERROR"
	ErrAuthFailure         ErrorCode = "AUTH_FAILURE"
	ErrUnknown             ErrorCode = "UNKNOWN"
)

// ErrorKind classifies a single adapter failure so the engine's retry policy
// can treat providers uniformly. Adapters must map every provider-specific
// error into one of these.
type ErrorKind string

const (
	KindTimeout        ErrorKind = "TIMEOUT"
	KindRateLimit      ErrorKind = "RATE_LIMIT"
	KindAuthFailure    ErrorKind = "AUTH_FAILURE"
	KindServerError    ErrorKind = "SERVER_ERROR"
	KindInvalidRequest ErrorKind = "INVALID_REQUEST"
	KindUnknown        ErrorKind = "UNKNOWN"
)

// RouteError is the structured terminal error surfaced to callers. Callers
// never see a raw stack trace; they always get a code, a request ID, and a
// timestamp for log correlation.
type RouteError struct {
	Code           ErrorCode `json:"code"`
	Message        string    `json:"message"`
	Details        string    `json:"details,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	RetryAfterMs   int64     `json:"retry_after_ms,omitempty"`
	AttemptedChain []string  `json:"attempted_chain,omitempty"`

	cause error
}

func (e *RouteError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s (provider %s): %s", e.Code, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *RouteError) Unwrap() error { return e.cause }

// WithCause attaches the underlying error without exposing it in JSON.
func (e *RouteError) WithCause(err error) *RouteError {
	e.cause = err
	return e
}

// NewRouteError builds a RouteError stamped with the current time.
func NewRouteError(code ErrorCode, requestID, message string) *RouteError {
	return &RouteError{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}

// ErrorResponse is the wire shape for failures.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   *RouteError `json:"error"`
}
