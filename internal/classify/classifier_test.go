package classify

import (
	"strings"
	"testing"

	"github.com/voyago/llm-router/internal/types"
)

func TestClassifyDeterministic(t *testing.T) {
	c := New(DefaultThresholds())
	queries := []string{
		"Plan a 3-day weekend trip to Paris",
		"Compare flights versus trains for a family of four on a budget, then plan a day-by-day itinerary",
		"hi",
	}
	for _, q := range queries {
		first := c.Classify(q, nil)
		second := c.Classify(q, nil)
		if first.Level != second.Level || first.Score != second.Score {
			t.Errorf("classification of %q not deterministic: (%s %.3f) vs (%s %.3f)",
				q, first.Level, first.Score, second.Level, second.Score)
		}
	}
}

func TestClassifyHintOverride(t *testing.T) {
	c := New(DefaultThresholds())
	// A query whose heuristics would score high.
	query := "Compare and optimize a multi-city itinerary for a family with kids on a budget, step by step"

	for _, hint := range []types.ComplexityLevel{types.ComplexityLow, types.ComplexityMedium, types.ComplexityHigh} {
		analysis := c.Classify(query, &Hints{ComplexityHint: hint})
		if analysis.Level != hint {
			t.Errorf("hint %s did not win: got %s", hint, analysis.Level)
		}
		if len(analysis.DetectedPatterns) != 1 || analysis.DetectedPatterns[0] != "hint_override" {
			t.Errorf("hint override not recorded in patterns: %v", analysis.DetectedPatterns)
		}
	}
}

func TestClassifyEmptyQuery(t *testing.T) {
	c := New(DefaultThresholds())
	analysis := c.Classify("", nil)
	if analysis.Level != types.ComplexityLow {
		t.Errorf("empty query should classify low, got %s", analysis.Level)
	}
	if analysis.Score != 0 {
		t.Errorf("empty query score should be 0, got %.3f", analysis.Score)
	}
}

func TestClassifyVeryLongQuery(t *testing.T) {
	c := New(DefaultThresholds())
	analysis := c.Classify(strings.Repeat("tell me about rome ", 400), nil)
	if analysis.Level != types.ComplexityHigh {
		t.Errorf("very long query should classify high, got %s", analysis.Level)
	}
	if analysis.Score != 1 {
		t.Errorf("very long query score should be 1, got %.3f", analysis.Score)
	}
}

func TestClassifyLevels(t *testing.T) {
	c := New(DefaultThresholds())

	cases := []struct {
		name  string
		query string
		want  types.ComplexityLevel
	}{
		{
			name:  "simple short query",
			query: "Best pizza in Naples?",
			want:  types.ComplexityLow,
		},
		{
			name: "analytical multi-step query",
			query: "First compare hotels in Rome versus Florence for a family with kids, " +
				"then plan a cheap day-by-day multi-city itinerary on a budget and recommend where to splurge",
			want: types.ComplexityHigh,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.query, nil)
			if got.Level != tc.want {
				t.Errorf("got %s (score %.3f, reasoning %q), want %s",
					got.Level, got.Score, got.Reasoning, tc.want)
			}
		})
	}
}

func TestClassifyFactorsOrdered(t *testing.T) {
	c := New(DefaultThresholds())
	analysis := c.Classify("Plan a multi-city road trip for friends on a budget", nil)

	if len(analysis.Factors) == 0 {
		t.Fatal("expected factor breakdown")
	}
	if analysis.Factors[0].Type != "query_length" {
		t.Errorf("first factor should be query_length, got %s", analysis.Factors[0].Type)
	}
	// Factor order is fixed so repeated runs produce identical output.
	second := c.Classify("Plan a multi-city road trip for friends on a budget", nil)
	for i := range analysis.Factors {
		if analysis.Factors[i].Type != second.Factors[i].Type {
			t.Errorf("factor order unstable at %d: %s vs %s",
				i, analysis.Factors[i].Type, second.Factors[i].Type)
		}
	}
}

func TestClassifyScoreBounded(t *testing.T) {
	c := New(DefaultThresholds())
	// Every factor fires.
	query := "First compare then optimize a multi-city stopover itinerary for a family " +
		"of travellers with kids and elderly on a budget, cheap but recommend where to splurge, " +
		"step by step, day by day, analyze trade-offs versus alternatives"
	analysis := c.Classify(query, nil)
	if analysis.Score < 0 || analysis.Score > 1 {
		t.Errorf("score out of bounds: %.3f", analysis.Score)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens("abcd"); got != 1 {
		t.Errorf("estimateTokens(4 chars) = %d, want 1", got)
	}
	if got := estimateTokens("abcde"); got != 2 {
		t.Errorf("estimateTokens(5 chars) = %d, want 2", got)
	}
}
