// Package metrics exposes Prometheus instrumentation for the routing engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/voyago/llm-router/internal/routing"
)

// Metrics holds the routing collectors. Register once per process.
type Metrics struct {
	attempts      *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	fallbacks     prometheus.Counter
	rateDenials   *prometheus.CounterVec
	exhausted     prometheus.Counter
	latency       *prometheus.HistogramVec
	complexity    *prometheus.CounterVec
	dailySpendUSD prometheus.Gauge
	availability  *prometheus.GaugeVec
}

// New registers the routing collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "provider_attempts_total",
			Help:      "Provider invocations attempted, by provider.",
		}, []string{"provider"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "provider_outcomes_total",
			Help:      "Provider call outcomes, by provider and result.",
		}, []string{"provider", "outcome"}),
		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "fallbacks_total",
			Help:      "Times the engine advanced past a failed provider.",
		}),
		rateDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "rate_denials_total",
			Help:      "Attempts denied by the rate/cost guard, by provider.",
		}, []string{"provider"}),
		exhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "chains_exhausted_total",
			Help:      "Requests that failed every provider in the chain.",
		}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmrouter",
			Name:      "provider_latency_seconds",
			Help:      "Provider call latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		complexity: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "classified_total",
			Help:      "Requests classified, by complexity level.",
		}, []string{"level"}),
		dailySpendUSD: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmrouter",
			Name:      "daily_spend_usd",
			Help:      "Accumulated spend for the current UTC day.",
		}),
		availability: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "llmrouter",
			Name:      "provider_available",
			Help:      "Whether the provider is currently considered available.",
		}, []string{"provider"}),
	}
}

// Emit implements routing.Sink, mapping routing events onto collectors.
func (m *Metrics) Emit(e routing.Event) {
	switch e.Type {
	case routing.EventClassified:
		m.complexity.WithLabelValues(string(e.Complexity)).Inc()
	case routing.EventAttempt:
		m.attempts.WithLabelValues(e.Provider).Inc()
	case routing.EventOutcome:
		outcome := "success"
		if !e.Success {
			outcome = "failure"
		}
		m.outcomes.WithLabelValues(e.Provider, outcome).Inc()
		m.latency.WithLabelValues(e.Provider).Observe(float64(e.LatencyMs) / 1000)
	case routing.EventFallback:
		m.fallbacks.Inc()
	case routing.EventRateDenied:
		m.rateDenials.WithLabelValues(e.Provider).Inc()
	case routing.EventExhausted:
		m.exhausted.Inc()
	}
}

// SetDailySpend updates the spend gauge; called from the status path.
func (m *Metrics) SetDailySpend(usd float64) {
	m.dailySpendUSD.Set(usd)
}

// SetAvailability updates the per-provider availability gauge.
func (m *Metrics) SetAvailability(provider string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	m.availability.WithLabelValues(provider).Set(v)
}
