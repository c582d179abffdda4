// Package providers defines the adapter boundary between the routing engine
// and external LLM backends.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/voyago/llm-router/internal/types"
)

// Result is the normalized successful response from any provider.
type Result struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Adapter is the contract every provider integration satisfies. Invoke must
// honor ctx cancellation and return an *Error so the engine's retry policy
// can treat all providers uniformly.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, req *types.LLMRequest) (*Result, error)
	IsAvailable(ctx context.Context) bool
	Capacity() int
}

// KeySource supplies the currently active API key for a provider. The health
// registry implements this; rotation happens there, not in adapters.
type KeySource interface {
	ActiveKey(provider string) (id, secret string, ok bool)
}

// Error is a provider failure normalized to the engine's error taxonomy.
type Error struct {
	Kind     types.ErrorKind
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified provider error.
func NewError(kind types.ErrorKind, provider, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Err: cause}
}

// KindOf extracts the error kind from any error an adapter returned.
// Unclassified errors come back as UNKNOWN.
func KindOf(err error) types.ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return types.KindTimeout
	}
	return types.KindUnknown
}

// KindFromStatus maps an HTTP status code to an error kind. Shared by all
// HTTP-based adapters.
func KindFromStatus(status int) types.ErrorKind {
	switch {
	case status == 401 || status == 403:
		return types.KindAuthFailure
	case status == 429:
		return types.KindRateLimit
	case status == 408:
		return types.KindTimeout
	case status >= 400 && status < 500:
		return types.KindInvalidRequest
	case status >= 500:
		return types.KindServerError
	default:
		return types.KindUnknown
	}
}
