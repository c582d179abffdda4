package routing

import (
	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/types"
)

// EventType identifies one routing state transition.
type EventType string

const (
	EventClassified    EventType = "classified"
	EventChainSelected EventType = "chain_selected"
	EventAttempt       EventType = "attempt"
	EventOutcome       EventType = "outcome"
	EventFallback      EventType = "fallback"
	EventRateDenied    EventType = "rate_denied"
	EventExhausted     EventType = "exhausted"
)

// Event is one structured routing observation. Every state transition emits
// one, so any sink (logs, metrics) sees the same stream without the engine
// knowing about output formats.
type Event struct {
	Type       EventType
	RequestID  string
	Provider   string
	Attempt    int
	Complexity types.ComplexityLevel
	Score      float64
	Chain      []string
	LatencyMs  int64
	ErrorKind  types.ErrorKind
	Err        string
	Success    bool
}

// Sink consumes routing events. Implementations must not block: Emit is
// called on the request path.
type Sink interface {
	Emit(Event)
}

// LogSink writes events as structured log lines.
type LogSink struct {
	Logger *logrus.Logger
}

// Emit implements Sink.
func (s *LogSink) Emit(e Event) {
	fields := logrus.Fields{
		"event":      string(e.Type),
		"request_id": e.RequestID,
	}
	if e.Provider != "" {
		fields["provider"] = e.Provider
	}
	if e.Attempt > 0 {
		fields["attempt"] = e.Attempt
	}
	if e.Complexity != "" {
		fields["complexity"] = string(e.Complexity)
	}
	if len(e.Chain) > 0 {
		fields["chain"] = e.Chain
	}
	if e.LatencyMs > 0 {
		fields["latency_ms"] = e.LatencyMs
	}
	if e.ErrorKind != "" {
		fields["error_kind"] = string(e.ErrorKind)
	}

	entry := s.Logger.WithFields(fields)
	switch e.Type {
	case EventOutcome:
		if e.Success {
			entry.Info("provider call succeeded")
		} else {
			entry.WithField("error", e.Err).Warn("provider call failed")
		}
	case EventRateDenied:
		entry.Warn("attempt denied by rate/cost guard")
	case EventExhausted:
		entry.WithField("error", e.Err).Error("fallback chain exhausted")
	case EventFallback:
		entry.Info("advancing fallback chain")
	default:
		entry.Debug("routing state transition")
	}
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
