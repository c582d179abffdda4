// Package classify scores query complexity for routing decisions.
package classify

import (
	"fmt"
	"strings"

	"github.com/voyago/llm-router/internal/types"
)

// Thresholds map a bounded score in [0,1] to a complexity level.
// These are tunable policy, not hard-coded behavior.
type Thresholds struct {
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

// DefaultThresholds match the reference routing policy.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 0.3, High: 0.7}
}

// Hints are optional caller-supplied classification inputs.
type Hints struct {
	ComplexityHint types.ComplexityLevel
	Context        string
}

// Classifier is a pure, deterministic complexity scorer. It performs no I/O
// and never fails: degenerate inputs get the most conservative classification
// with an annotated reasoning string.
type Classifier struct {
	thresholds Thresholds
}

// New creates a classifier. Zero-valued thresholds fall back to defaults.
func New(t Thresholds) *Classifier {
	if t.Medium <= 0 || t.High <= 0 || t.High <= t.Medium {
		t = DefaultThresholds()
	}
	return &Classifier{thresholds: t}
}

// Queries past this length are scored high without further analysis.
const longQueryChars = 6000

// factorSpec is one weighted signal. Keyword order is fixed so repeated
// classification of the same query is byte-identical.
type factorSpec struct {
	name     string
	weight   float64
	keywords []string
}

var factorSpecs = []factorSpec{
	{
		name:   "multi_step",
		weight: 0.20,
		keywords: []string{
			"step", "then", "after that", "first", "finally", "followed by",
			"day-by-day", "day by day", "itinerary", "schedule", "plan out",
		},
	},
	{
		name:   "analytical",
		weight: 0.20,
		keywords: []string{
			"compare", "versus", " vs ", "analyze", "analyse", "optimize",
			"optimise", "evaluate", "trade-off", "tradeoff", "recommend", "rank",
		},
	},
	{
		name:   "multi_destination",
		weight: 0.15,
		keywords: []string{
			"multi-city", "multiple cities", "multiple destinations", "stopover",
			"layover", "road trip", "several countries", "city-hopping",
			"island hopping",
		},
	},
	{
		name:   "traveler_group",
		weight: 0.10,
		keywords: []string{
			"family", "kids", "children", "group of", "travelers", "travellers",
			"friends", "toddler", "elderly", "couple",
		},
	},
	{
		name:   "budget_constraint",
		weight: 0.10,
		keywords: []string{
			"budget", "cheap", "affordable", "under $", "cost", "save money",
			"splurge", "spending limit",
		},
	},
}

// Classify scores a query and maps it to a level. A caller-supplied
// complexity hint wins outright and bypasses scoring entirely.
func (c *Classifier) Classify(query string, hints *Hints) types.ComplexityAnalysis {
	if hints != nil && hints.ComplexityHint != "" && hints.ComplexityHint.Valid() {
		return types.ComplexityAnalysis{
			Level:            hints.ComplexityHint,
			Score:            hintScore(hints.ComplexityHint),
			DetectedPatterns: []string{"hint_override"},
			Reasoning: fmt.Sprintf(
				"caller-supplied complexity hint %q overrides heuristic scoring",
				hints.ComplexityHint),
			TokenEstimate: estimateTokens(query),
			Factors:       nil,
		}
	}

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return types.ComplexityAnalysis{
			Level:         types.ComplexityLow,
			Score:         0,
			Reasoning:     "empty query; defaulting to the most conservative classification",
			TokenEstimate: 0,
		}
	}
	if len(query) > longQueryChars {
		return types.ComplexityAnalysis{
			Level:            types.ComplexityHigh,
			Score:            1,
			DetectedPatterns: []string{"long_query"},
			Reasoning: fmt.Sprintf(
				"query length %d exceeds %d characters; classified high without factor analysis",
				len(query), longQueryChars),
			TokenEstimate: estimateTokens(query),
		}
	}

	lower := strings.ToLower(query)

	var (
		score    float64
		factors  []types.ComplexityFactor
		patterns []string
		reasons  []string
	)

	lengthValue, lengthDesc := lengthBracket(len(trimmed))
	const lengthWeight = 0.25
	score += lengthWeight * lengthValue
	factors = append(factors, types.ComplexityFactor{
		Type:        "query_length",
		Weight:      lengthWeight,
		Value:       lengthValue,
		Description: lengthDesc,
	})

	for _, spec := range factorSpecs {
		hits := matchKeywords(lower, spec.keywords)
		value := float64(len(hits)) / 3
		if value > 1 {
			value = 1
		}
		factors = append(factors, types.ComplexityFactor{
			Type:        spec.name,
			Weight:      spec.weight,
			Value:       value,
			Description: factorDescription(spec.name, hits),
		})
		if len(hits) > 0 {
			score += spec.weight * value
			patterns = append(patterns, spec.name)
			reasons = append(reasons, fmt.Sprintf("%s signals: %s", spec.name, strings.Join(hits, ", ")))
		}
	}

	if score > 1 {
		score = 1
	}

	level := types.ComplexityLow
	switch {
	case score >= c.thresholds.High:
		level = types.ComplexityHigh
	case score >= c.thresholds.Medium:
		level = types.ComplexityMedium
	}

	reasoning := fmt.Sprintf("score %.2f from %d factors -> %s", score, len(factors), level)
	if len(reasons) > 0 {
		reasoning += " (" + strings.Join(reasons, "; ") + ")"
	}

	return types.ComplexityAnalysis{
		Level:            level,
		Score:            score,
		DetectedPatterns: patterns,
		Reasoning:        reasoning,
		TokenEstimate:    estimateTokens(query),
		Factors:          factors,
	}
}

func lengthBracket(n int) (float64, string) {
	switch {
	case n < 80:
		return 0.1, fmt.Sprintf("short query (%d chars)", n)
	case n < 300:
		return 0.4, fmt.Sprintf("medium-length query (%d chars)", n)
	case n < 1200:
		return 0.7, fmt.Sprintf("long query (%d chars)", n)
	default:
		return 1.0, fmt.Sprintf("very long query (%d chars)", n)
	}
}

func matchKeywords(lower string, keywords []string) []string {
	var hits []string
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits = append(hits, strings.TrimSpace(kw))
		}
	}
	return hits
}

func factorDescription(name string, hits []string) string {
	if len(hits) == 0 {
		return "no " + name + " markers"
	}
	return fmt.Sprintf("%d %s marker(s)", len(hits), name)
}

// hintScore is the representative score reported when a hint bypasses
// scoring, placed safely inside the corresponding band.
func hintScore(level types.ComplexityLevel) float64 {
	switch level {
	case types.ComplexityHigh:
		return 0.85
	case types.ComplexityMedium:
		return 0.5
	default:
		return 0.15
	}
}

// estimateTokens uses the usual ~4 chars/token approximation.
func estimateTokens(query string) int {
	return (len(query) + 3) / 4
}
