package routing

import (
	"reflect"
	"testing"

	"github.com/voyago/llm-router/internal/health"
	"github.com/voyago/llm-router/internal/types"
)

// fakeHealth is a fixed health snapshot for selector tests.
type fakeHealth struct {
	order    []string
	records  map[string]health.Record
	capacity map[string]bool
}

func (f *fakeHealth) Snapshot() map[string]health.Record {
	out := make(map[string]health.Record, len(f.records))
	for k, v := range f.records {
		out[k] = v
	}
	return out
}

func (f *fakeHealth) Providers() []string { return f.order }

func (f *fakeHealth) HasCapacity(provider string) bool {
	if f.capacity == nil {
		return true
	}
	allowed, ok := f.capacity[provider]
	return !ok || allowed
}

func defaultChains() map[types.ComplexityLevel][]string {
	return map[types.ComplexityLevel][]string{
		types.ComplexityLow:    {"cerebras", "groq", "gemini"},
		types.ComplexityMedium: {"groq", "gemini", "cerebras"},
		types.ComplexityHigh:   {"gemini", "groq", "cerebras"},
	}
}

func healthyView() *fakeHealth {
	return &fakeHealth{
		order: []string{"cerebras", "groq", "gemini"},
		records: map[string]health.Record{
			"cerebras": {Provider: "cerebras", Available: true, LatencyMsAvg: 150},
			"groq":     {Provider: "groq", Available: true, LatencyMsAvg: 400},
			"gemini":   {Provider: "gemini", Available: true, LatencyMsAvg: 900},
		},
	}
}

func analysisFor(level types.ComplexityLevel) types.ComplexityAnalysis {
	return types.ComplexityAnalysis{Level: level, Score: 0.5, TokenEstimate: 100}
}

func TestSelectChainFollowsComplexityTable(t *testing.T) {
	s := NewSelector(SelectorConfig{Chains: defaultChains()}, healthyView())

	cases := []struct {
		level types.ComplexityLevel
		want  []string
	}{
		{types.ComplexityLow, []string{"cerebras", "groq", "gemini"}},
		{types.ComplexityMedium, []string{"groq", "gemini", "cerebras"}},
		{types.ComplexityHigh, []string{"gemini", "groq", "cerebras"}},
	}
	for _, tc := range cases {
		d := s.SelectChain(analysisFor(tc.level), "")
		if !reflect.DeepEqual(d.FallbackChain, tc.want) {
			t.Errorf("chain for %s = %v, want %v", tc.level, d.FallbackChain, tc.want)
		}
		if d.SelectedProvider != tc.want[0] {
			t.Errorf("selected for %s = %s, want %s", tc.level, d.SelectedProvider, tc.want[0])
		}
	}
}

func TestSelectChainDeterministic(t *testing.T) {
	s := NewSelector(SelectorConfig{Chains: defaultChains()}, healthyView())
	first := s.SelectChain(analysisFor(types.ComplexityMedium), "")
	for i := 0; i < 10; i++ {
		again := s.SelectChain(analysisFor(types.ComplexityMedium), "")
		if !reflect.DeepEqual(first.FallbackChain, again.FallbackChain) {
			t.Fatalf("chain not deterministic: %v vs %v", first.FallbackChain, again.FallbackChain)
		}
	}
}

func TestSelectChainFiltersUnavailable(t *testing.T) {
	view := healthyView()
	rec := view.records["groq"]
	rec.Available = false
	view.records["groq"] = rec

	s := NewSelector(SelectorConfig{Chains: defaultChains()}, view)
	d := s.SelectChain(analysisFor(types.ComplexityMedium), "")

	want := []string{"gemini", "cerebras"}
	if !reflect.DeepEqual(d.FallbackChain, want) {
		t.Errorf("chain = %v, want %v", d.FallbackChain, want)
	}
}

func TestSelectChainFiltersNoCapacity(t *testing.T) {
	view := healthyView()
	view.capacity = map[string]bool{"cerebras": false}

	s := NewSelector(SelectorConfig{Chains: defaultChains()}, view)
	d := s.SelectChain(analysisFor(types.ComplexityLow), "")

	want := []string{"groq", "gemini"}
	if !reflect.DeepEqual(d.FallbackChain, want) {
		t.Errorf("chain = %v, want %v", d.FallbackChain, want)
	}
}

func TestSelectChainEmptyWhenAllFiltered(t *testing.T) {
	view := healthyView()
	for name, rec := range view.records {
		rec.Available = false
		view.records[name] = rec
	}

	s := NewSelector(SelectorConfig{Chains: defaultChains()}, view)
	d := s.SelectChain(analysisFor(types.ComplexityLow), "")

	if len(d.FallbackChain) != 0 {
		t.Errorf("expected empty chain, got %v", d.FallbackChain)
	}
	if d.SelectedProvider != "" {
		t.Errorf("expected no selected provider, got %s", d.SelectedProvider)
	}
}

func TestSelectChainSpeedPreference(t *testing.T) {
	// For high complexity the base chain starts with the slowest provider;
	// a speed preference promotes the fastest one.
	s := NewSelector(SelectorConfig{Chains: defaultChains()}, healthyView())
	d := s.SelectChain(analysisFor(types.ComplexityHigh), types.PreferSpeed)

	want := []string{"cerebras", "groq", "gemini"}
	if !reflect.DeepEqual(d.FallbackChain, want) {
		t.Errorf("speed-preferred chain = %v, want %v", d.FallbackChain, want)
	}
}

func TestSelectChainCostPreference(t *testing.T) {
	costs := CostTable{
		"cerebras": {InputUSDPer1K: 0.6, OutputUSDPer1K: 0.6},
		"groq":     {InputUSDPer1K: 0.1, OutputUSDPer1K: 0.1},
		"gemini":   {InputUSDPer1K: 0.3, OutputUSDPer1K: 0.3},
	}
	s := NewSelector(SelectorConfig{Chains: defaultChains(), Costs: costs}, healthyView())
	d := s.SelectChain(analysisFor(types.ComplexityLow), types.PreferCost)

	want := []string{"groq", "gemini", "cerebras"}
	if !reflect.DeepEqual(d.FallbackChain, want) {
		t.Errorf("cost-preferred chain = %v, want %v", d.FallbackChain, want)
	}
}

func TestSelectChainQualityPreference(t *testing.T) {
	// Quality ranks by the high-complexity ordering even for a low query.
	s := NewSelector(SelectorConfig{Chains: defaultChains()}, healthyView())
	d := s.SelectChain(analysisFor(types.ComplexityLow), types.PreferQuality)

	want := []string{"gemini", "groq", "cerebras"}
	if !reflect.DeepEqual(d.FallbackChain, want) {
		t.Errorf("quality-preferred chain = %v, want %v", d.FallbackChain, want)
	}
}

func TestSelectChainTieBreakFallsBackToBaseOrder(t *testing.T) {
	// With no price sheet every candidate ties on cost, so the cost
	// preference degrades to the base chain ordering.
	s := NewSelector(SelectorConfig{Chains: defaultChains()}, healthyView())
	d := s.SelectChain(analysisFor(types.ComplexityMedium), types.PreferCost)

	want := []string{"groq", "gemini", "cerebras"}
	if !reflect.DeepEqual(d.FallbackChain, want) {
		t.Errorf("chain = %v, want %v", d.FallbackChain, want)
	}
}

func TestSelectChainCandidatesCoverAllProviders(t *testing.T) {
	view := healthyView()
	rec := view.records["gemini"]
	rec.Available = false
	view.records["gemini"] = rec

	s := NewSelector(SelectorConfig{Chains: defaultChains()}, view)
	d := s.SelectChain(analysisFor(types.ComplexityLow), "")

	if len(d.CandidateProviders) != 3 {
		t.Fatalf("candidate list should cover all configured providers, got %d", len(d.CandidateProviders))
	}
	byName := make(map[string]types.CandidateEvaluation)
	for _, c := range d.CandidateProviders {
		byName[c.Provider] = c
	}
	if byName["gemini"].Available {
		t.Error("gemini should be marked unavailable in the candidate list")
	}
	if byName["gemini"].Score != 0 {
		t.Errorf("filtered candidates score 0, got %.2f", byName["gemini"].Score)
	}
	if byName["cerebras"].Score != 1 {
		t.Errorf("chain head scores 1.0, got %.2f", byName["cerebras"].Score)
	}
}
