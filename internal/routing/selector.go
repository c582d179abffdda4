package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/voyago/llm-router/internal/health"
	"github.com/voyago/llm-router/internal/types"
)

// HealthView is the read side of the health registry the selector consults.
type HealthView interface {
	Snapshot() map[string]health.Record
	Providers() []string
	HasCapacity(provider string) bool
}

// ProviderCost is the per-token price sheet for one provider.
type ProviderCost struct {
	InputUSDPer1K  float64 `yaml:"input_usd_per_1k"`
	OutputUSDPer1K float64 `yaml:"output_usd_per_1k"`
}

// CostTable maps provider name to prices. Missing providers cost zero, which
// keeps free-tier providers from tripping the budget guard.
type CostTable map[string]ProviderCost

// Estimate prices a call from token counts.
func (t CostTable) Estimate(provider string, inputTokens, outputTokens int64) float64 {
	c, ok := t[provider]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*c.InputUSDPer1K + float64(outputTokens)/1000*c.OutputUSDPer1K
}

// SelectorConfig is the static routing policy table.
type SelectorConfig struct {
	// Chains is the preferred provider ordering per complexity level.
	Chains map[types.ComplexityLevel][]string

	// Costs prices candidate estimates.
	Costs CostTable

	// EstimatedOutputTokens is the assumed completion size for pre-flight
	// cost estimates when the request does not cap max_tokens.
	EstimatedOutputTokens int
}

// Selector turns a complexity analysis plus the current health snapshot into
// a deterministic fallback chain. Identical inputs always produce identical
// chains.
type Selector struct {
	cfg    SelectorConfig
	health HealthView
}

// NewSelector creates a selector over the given policy and health view.
func NewSelector(cfg SelectorConfig, hv HealthView) *Selector {
	if cfg.EstimatedOutputTokens <= 0 {
		cfg.EstimatedOutputTokens = 512
	}
	return &Selector{cfg: cfg, health: hv}
}

type candidate struct {
	name      string
	basePos   int
	qualPos   int
	latencyMs float64
	errorRate float64
	available bool
	capacity  bool
	estCost   float64
}

// SelectChain evaluates every configured provider and produces the ordered
// fallback chain for this request. The returned decision always carries the
// full candidate list, whether or not the caller asked for debug output.
//
// When every provider is filtered out the chain comes back empty and the
// engine fails fast rather than attempting a provider known to be down.
func (s *Selector) SelectChain(analysis types.ComplexityAnalysis, pref types.Preference) *types.RoutingDecision {
	snapshot := s.health.Snapshot()
	base := s.baseChain(analysis.Level)
	quality := s.baseChain(types.ComplexityHigh)

	var reasoning []string
	reasoning = append(reasoning, fmt.Sprintf(
		"complexity %s (score %.2f) -> base chain [%s]",
		analysis.Level, analysis.Score, strings.Join(base, ", ")))

	estInput := int64(analysis.TokenEstimate)
	estOutput := int64(s.cfg.EstimatedOutputTokens)

	all := make([]candidate, 0, len(snapshot))
	for i, name := range s.health.Providers() {
		rec := snapshot[name]
		c := candidate{
			name:      name,
			basePos:   chainPos(base, name, i+len(base)),
			qualPos:   chainPos(quality, name, i+len(quality)),
			latencyMs: rec.LatencyMsAvg,
			errorRate: rec.ErrorRate,
			available: rec.Available,
			capacity:  s.health.HasCapacity(name),
			estCost:   s.cfg.Costs.Estimate(name, estInput, estOutput),
		}
		all = append(all, c)
		if !c.available {
			reasoning = append(reasoning, fmt.Sprintf("%s excluded: unavailable", name))
		} else if !c.capacity {
			reasoning = append(reasoning, fmt.Sprintf("%s excluded: no remaining capacity", name))
		}
	}

	eligible := make([]candidate, 0, len(all))
	for _, c := range all {
		if c.available && c.capacity {
			eligible = append(eligible, c)
		}
	}

	rankCandidates(eligible, pref)
	if pref != "" && len(eligible) > 1 {
		reasoning = append(reasoning, fmt.Sprintf("preference %q re-ranked eligible providers", pref))
	}

	chain := make([]string, 0, len(eligible))
	for _, c := range eligible {
		chain = append(chain, c.name)
	}

	if len(chain) == 0 {
		reasoning = append(reasoning, "no eligible providers; failing fast without an attempt")
	} else {
		reasoning = append(reasoning, fmt.Sprintf("selected %s", chain[0]))
	}

	decision := &types.RoutingDecision{
		Reasoning:       reasoning,
		ComplexityScore: analysis.Score,
		FallbackChain:   chain,
	}
	if len(chain) > 0 {
		decision.SelectedProvider = chain[0]
	}
	decision.CandidateProviders = evaluations(all, chain)
	return decision
}

// baseChain returns the configured ordering for a level, falling back to
// registration order when the policy table has no entry.
func (s *Selector) baseChain(level types.ComplexityLevel) []string {
	if chain, ok := s.cfg.Chains[level]; ok && len(chain) > 0 {
		return chain
	}
	return s.health.Providers()
}

// rankCandidates orders eligible candidates in place. The primary key depends
// on the preference; ties always break by latency, then error rate, then the
// base-chain position, so identical snapshots produce identical chains.
func rankCandidates(cs []candidate, pref types.Preference) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		switch pref {
		case types.PreferSpeed:
			if a.latencyMs != b.latencyMs {
				return a.latencyMs < b.latencyMs
			}
		case types.PreferCost:
			if a.estCost != b.estCost {
				return a.estCost < b.estCost
			}
		case types.PreferQuality:
			if a.qualPos != b.qualPos {
				return a.qualPos < b.qualPos
			}
		}
		if a.basePos != b.basePos {
			return a.basePos < b.basePos
		}
		if a.latencyMs != b.latencyMs {
			return a.latencyMs < b.latencyMs
		}
		if a.errorRate != b.errorRate {
			return a.errorRate < b.errorRate
		}
		return false
	})
}

// evaluations builds the full candidate list for observability. Scores are
// rank-based: the chain head gets 1.0, each later position steps down, and
// filtered-out providers score zero.
func evaluations(all []candidate, chain []string) []types.CandidateEvaluation {
	rank := make(map[string]int, len(chain))
	for i, name := range chain {
		rank[name] = i
	}
	out := make([]types.CandidateEvaluation, 0, len(all))
	for _, c := range all {
		score := 0.0
		if r, ok := rank[c.name]; ok {
			score = 1 - float64(r)/float64(len(chain))
		}
		out = append(out, types.CandidateEvaluation{
			Provider:           c.name,
			Score:              score,
			Available:          c.available,
			HasCapacity:        c.capacity,
			EstimatedLatencyMs: int64(c.latencyMs),
			EstimatedCostUSD:   c.estCost,
		})
	}
	return out
}

func chainPos(chain []string, name string, fallback int) int {
	for i, n := range chain {
		if n == name {
			return i
		}
	}
	return fallback
}
