package router

import (
	"math"

	"regime-backtest-lab/internal/domain"
)

// Adaptive target bounds.
const (
	adaptiveTargetATRMult = 3.0
	adaptiveTargetMin     = 0.03
	adaptiveTargetMax     = 0.20
)

// Adjuster fine-tunes routed parameters to an instrument's volatility.
// The engine applies it once per entry with the entry bar's ATR and close.
type Adjuster struct{}

// Adjust returns params with the target profit rescaled to
// 3*ATR/close, clamped to [3%, 20%], when AdaptiveTarget is set and both
// inputs are positive. Otherwise params are returned unchanged.
func (Adjuster) Adjust(params domain.StrategyParams, atr, close float64) domain.StrategyParams {
	if !params.AdaptiveTarget || !(atr > 0) || !(close > 0) {
		return params
	}
	target := adaptiveTargetATRMult * atr / close
	target = math.Max(adaptiveTargetMin, math.Min(adaptiveTargetMax, target))
	params.TargetProfitPct = math.Round(target*10000) / 10000
	return params
}
