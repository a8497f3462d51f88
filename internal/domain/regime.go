package domain

import "strings"

// Regime is the classified market condition.
type Regime string

// Regimes
const (
	RegimeBull     Regime = "BULL"
	RegimeBear     Regime = "BEAR"
	RegimeSideways Regime = "SIDEWAYS"
)

// ParseRegime parses a regime name case-insensitively.
func ParseRegime(s string) (Regime, bool) {
	switch Regime(strings.ToUpper(strings.TrimSpace(s))) {
	case RegimeBull:
		return RegimeBull, true
	case RegimeBear:
		return RegimeBear, true
	case RegimeSideways:
		return RegimeSideways, true
	}
	return "", false
}

// RegimeState is the detailed outcome of a regime detection.
// Computed once per run and never mutated afterward.
type RegimeState struct {
	Regime            Regime             `json:"regime"`
	Confidence        float64            `json:"confidence"` // [0, 1]
	Scores            map[string]float64 `json:"scores"`     // factor -> [-1, 1]
	Weights           map[string]float64 `json:"weights"`    // factor -> effective weight, sums to 1
	Total             float64            `json:"total"`
	CapitalAllocation float64            `json:"capital_allocation"` // [0, 1]
	Description       string             `json:"description"`
}
