package types

// ComplexityLevel is the coarse classification of how demanding a query is.
type ComplexityLevel string

const (
	ComplexityLow    ComplexityLevel = "low"
	ComplexityMedium ComplexityLevel = "medium"
	ComplexityHigh   ComplexityLevel = "high"
)

// Valid reports whether the level is one of the three known values.
func (l ComplexityLevel) Valid() bool {
	switch l {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	}
	return false
}

// ComplexityFactor is one weighted signal that contributed to the score.
type ComplexityFactor struct {
	Type        string  `json:"type"`
	Weight      float64 `json:"weight"`
	Value       float64 `json:"value"`
	Description string  `json:"description"`
}

// ComplexityAnalysis is the immutable classification result attached to a
// request. It is created once, never mutated, and surfaces in debug output.
type ComplexityAnalysis struct {
	Level            ComplexityLevel    `json:"level"`
	Score            float64            `json:"score"`
	DetectedPatterns []string           `json:"detected_patterns"`
	Reasoning        string             `json:"reasoning"`
	TokenEstimate    int                `json:"token_estimate"`
	Factors          []ComplexityFactor `json:"factors"`
}
