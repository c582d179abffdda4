package types

import (
	"fmt"
	"strings"
	"time"
)

// Query bounds enforced before any routing work happens.
const (
	MinQueryLength = 1
	MaxQueryLength = 8000
)

// LLMRequest is the abstract request the routing engine consumes. It carries
// no provider-specific fields; adapters translate it to the wire format of
// whichever provider ends up serving it.
type LLMRequest struct {
	Query    string           `json:"query"`
	Options  *RequestOptions  `json:"options,omitempty"`
	Metadata *RequestMetadata `json:"metadata,omitempty"`
}

// RequestOptions are generation parameters passed through to the provider.
type RequestOptions struct {
	MaxTokens        int      `json:"max_tokens,omitempty"`
	Temperature      *float32 `json:"temperature,omitempty"`
	TopP             *float32 `json:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	Stream           bool     `json:"stream,omitempty"`
	StopSequences    []string `json:"stop_sequences,omitempty"`
	PresencePenalty  *float32 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty"`
}

// RequestMetadata carries caller context and routing hints.
type RequestMetadata struct {
	SessionID      string          `json:"session_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	ComplexityHint ComplexityLevel `json:"complexity_hint,omitempty"`
	UserPreference Preference      `json:"user_preference,omitempty"`
	TrackCosts     bool            `json:"track_costs,omitempty"`
	Debug          bool            `json:"debug,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp,omitempty"`
}

// Preference biases provider ranking within the complexity-filtered set.
type Preference string

const (
	PreferSpeed   Preference = "speed"
	PreferQuality Preference = "quality"
	PreferCost    Preference = "cost"
)

// Validate checks the caller contract. A violation here is an
// INVALID_REQUEST; nothing downstream (classifier included) runs on an
// invalid request.
func (r *LLMRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("query must not be empty or whitespace-only")
	}
	if len(r.Query) > MaxQueryLength {
		return fmt.Errorf("query exceeds %d characters", MaxQueryLength)
	}
	if o := r.Options; o != nil {
		if o.MaxTokens < 0 {
			return fmt.Errorf("max_tokens must not be negative")
		}
		if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > 2) {
			return fmt.Errorf("temperature must be in [0, 2]")
		}
		if o.TopP != nil && (*o.TopP < 0 || *o.TopP > 1) {
			return fmt.Errorf("top_p must be in [0, 1]")
		}
	}
	if m := r.Metadata; m != nil {
		if m.ComplexityHint != "" && !m.ComplexityHint.Valid() {
			return fmt.Errorf("complexity_hint must be one of low, medium, high")
		}
		switch m.UserPreference {
		case "", PreferSpeed, PreferQuality, PreferCost:
		default:
			return fmt.Errorf("user_preference must be one of speed, quality, cost")
		}
	}
	return nil
}
