package domain

import "errors"

// StrategyParams holds the tunable parameters shared by generators and the engine.
// All ratios are fractions (0.07 = 7%).
type StrategyParams struct {
	// Exit thresholds
	TargetProfitPct float64 `yaml:"target_profit_pct" json:"target_profit_pct"` // trailing exit arms once reached
	StopLossPct     float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`         // negative, e.g. -0.05
	TrailingStopPct float64 `yaml:"trailing_stop_pct" json:"trailing_stop_pct"` // positive, drawdown from peak
	UseATRStops     bool    `yaml:"use_atr_stops" json:"use_atr_stops"`
	ATRStopMult     float64 `yaml:"atr_stop_mult" json:"atr_stop_mult"`
	ATRTrailingMult float64 `yaml:"atr_trailing_mult" json:"atr_trailing_mult"`
	MinHoldDays     int     `yaml:"min_hold_days" json:"min_hold_days"` // bars before signal exits apply

	// Generator thresholds
	JMASlopeMin    float64 `yaml:"jma_slope_min" json:"jma_slope_min"`
	RSIOverbought  float64 `yaml:"rsi_overbought" json:"rsi_overbought"`
	RSIOversold    float64 `yaml:"rsi_oversold" json:"rsi_oversold"`
	SidewaysFilter bool    `yaml:"sideways_filter" json:"sideways_filter"`

	// Sizing
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct" json:"risk_per_trade_pct"` // 0 disables ATR risk sizing
	AdaptiveTarget  bool    `yaml:"adaptive_target" json:"adaptive_target"`
}

// DefaultStrategyParams returns the engine defaults.
func DefaultStrategyParams() StrategyParams {
	return StrategyParams{
		TargetProfitPct: 0.07,
		StopLossPct:     -0.05,
		TrailingStopPct: 0.05,
		UseATRStops:     true,
		ATRStopMult:     2.0,
		ATRTrailingMult: 2.5,
		MinHoldDays:     2,
		JMASlopeMin:     0.0,
		RSIOverbought:   80,
		RSIOversold:     30,
		SidewaysFilter:  true,
	}
}

// Parameter validation errors
var (
	ErrInvalidTargetProfit = errors.New("target_profit_pct must be > 0")
	ErrInvalidStopLoss     = errors.New("stop_loss_pct must be < 0")
	ErrInvalidTrailingStop = errors.New("trailing_stop_pct must be > 0")
	ErrInvalidATRMult      = errors.New("atr multipliers must be > 0 when ATR stops are enabled")
	ErrInvalidMinHold      = errors.New("min_hold_days must be >= 0")
	ErrInvalidRSIBounds    = errors.New("rsi_oversold must be below rsi_overbought")
	ErrInvalidRiskPerTrade = errors.New("risk_per_trade_pct must be in [0, 1]")
)

// Validate checks parameter bounds.
func (p StrategyParams) Validate() error {
	if p.TargetProfitPct <= 0 {
		return ErrInvalidTargetProfit
	}
	if p.StopLossPct >= 0 {
		return ErrInvalidStopLoss
	}
	if p.TrailingStopPct <= 0 {
		return ErrInvalidTrailingStop
	}
	if p.UseATRStops && (p.ATRStopMult <= 0 || p.ATRTrailingMult <= 0) {
		return ErrInvalidATRMult
	}
	if p.MinHoldDays < 0 {
		return ErrInvalidMinHold
	}
	if p.RSIOversold >= p.RSIOverbought {
		return ErrInvalidRSIBounds
	}
	if p.RiskPerTradePct < 0 || p.RiskPerTradePct > 1 {
		return ErrInvalidRiskPerTrade
	}
	return nil
}

// ParamOverrides is a sparse set of StrategyParams fields.
// A nil field leaves the base value untouched.
type ParamOverrides struct {
	TargetProfitPct *float64 `yaml:"target_profit_pct,omitempty" json:"target_profit_pct,omitempty"`
	StopLossPct     *float64 `yaml:"stop_loss_pct,omitempty" json:"stop_loss_pct,omitempty"`
	TrailingStopPct *float64 `yaml:"trailing_stop_pct,omitempty" json:"trailing_stop_pct,omitempty"`
	UseATRStops     *bool    `yaml:"use_atr_stops,omitempty" json:"use_atr_stops,omitempty"`
	ATRStopMult     *float64 `yaml:"atr_stop_mult,omitempty" json:"atr_stop_mult,omitempty"`
	ATRTrailingMult *float64 `yaml:"atr_trailing_mult,omitempty" json:"atr_trailing_mult,omitempty"`
	MinHoldDays     *int     `yaml:"min_hold_days,omitempty" json:"min_hold_days,omitempty"`
	JMASlopeMin     *float64 `yaml:"jma_slope_min,omitempty" json:"jma_slope_min,omitempty"`
	RSIOverbought   *float64 `yaml:"rsi_overbought,omitempty" json:"rsi_overbought,omitempty"`
	RSIOversold     *float64 `yaml:"rsi_oversold,omitempty" json:"rsi_oversold,omitempty"`
	SidewaysFilter  *bool    `yaml:"sideways_filter,omitempty" json:"sideways_filter,omitempty"`
	RiskPerTradePct *float64 `yaml:"risk_per_trade_pct,omitempty" json:"risk_per_trade_pct,omitempty"`
	AdaptiveTarget  *bool    `yaml:"adaptive_target,omitempty" json:"adaptive_target,omitempty"`
}

// Apply returns base with every non-nil override field replacing the base value.
func (o ParamOverrides) Apply(base StrategyParams) StrategyParams {
	out := base
	setFloat(&out.TargetProfitPct, o.TargetProfitPct)
	setFloat(&out.StopLossPct, o.StopLossPct)
	setFloat(&out.TrailingStopPct, o.TrailingStopPct)
	setBool(&out.UseATRStops, o.UseATRStops)
	setFloat(&out.ATRStopMult, o.ATRStopMult)
	setFloat(&out.ATRTrailingMult, o.ATRTrailingMult)
	if o.MinHoldDays != nil {
		out.MinHoldDays = *o.MinHoldDays
	}
	setFloat(&out.JMASlopeMin, o.JMASlopeMin)
	setFloat(&out.RSIOverbought, o.RSIOverbought)
	setFloat(&out.RSIOversold, o.RSIOversold)
	setBool(&out.SidewaysFilter, o.SidewaysFilter)
	setFloat(&out.RiskPerTradePct, o.RiskPerTradePct)
	setBool(&out.AdaptiveTarget, o.AdaptiveTarget)
	return out
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
