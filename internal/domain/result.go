package domain

import "time"

// EquityPoint is the mark-to-market account value at one bar.
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// PerformanceMetrics summarizes a run's trades and equity curve.
type PerformanceMetrics struct {
	TotalTrades int `json:"total_trades"`
	Wins        int `json:"wins"`
	Losses      int `json:"losses"`

	TotalReturn    float64 `json:"total_return"`     // compounded per-trade return
	WinRate        float64 `json:"win_rate"`         // wins / total_trades
	MaxDrawdown    float64 `json:"max_drawdown"`     // worst peak-to-trough of equity, <= 0
	SharpeRatio    float64 `json:"sharpe_ratio"`     // annualized over trade returns
	AvgHoldingBars float64 `json:"avg_holding_bars"` // mean bars held

	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	FinalCapital         float64 `json:"final_capital"`
}

// BacktestResult is the full output of one instrument run.
type BacktestResult struct {
	RunID            string         `json:"run_id"`
	Instrument       string         `json:"instrument"`
	Start            time.Time      `json:"start"`
	End              time.Time      `json:"end"`
	InitialCapital   float64        `json:"initial_capital"`
	EffectiveCapital float64        `json:"effective_capital"` // initial * regime allocation
	Generator        string         `json:"generator"`
	Params           StrategyParams `json:"params"`
	Regime           *RegimeState   `json:"regime,omitempty"`

	Trades  []TradeRecord      `json:"trades"`
	Equity  []EquityPoint      `json:"equity"`
	Signals []Signal           `json:"signals"`
	Metrics PerformanceMetrics `json:"metrics"`

	RiskRejections int       `json:"risk_rejections"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary flattens the result into a persistable row.
func (r *BacktestResult) Summary() *RunSummary {
	s := &RunSummary{
		RunID:            r.RunID,
		Instrument:       r.Instrument,
		Start:            r.Start,
		End:              r.End,
		Generator:        r.Generator,
		InitialCapital:   r.InitialCapital,
		EffectiveCapital: r.EffectiveCapital,
		Bars:             len(r.Equity),
		Metrics:          r.Metrics,
		RiskRejections:   r.RiskRejections,
		CreatedAt:        r.CreatedAt,
	}
	if r.Regime != nil {
		s.Regime = r.Regime.Regime
		s.RegimeConfidence = r.Regime.Confidence
	}
	return s
}

// RunSummary is one row of the backtest_runs table.
type RunSummary struct {
	RunID            string             `json:"run_id"`
	Instrument       string             `json:"instrument"`
	Start            time.Time          `json:"start"`
	End              time.Time          `json:"end"`
	Generator        string             `json:"generator"`
	Regime           Regime             `json:"regime,omitempty"`
	RegimeConfidence float64            `json:"regime_confidence"`
	InitialCapital   float64            `json:"initial_capital"`
	EffectiveCapital float64            `json:"effective_capital"`
	Bars             int                `json:"bars"`
	Metrics          PerformanceMetrics `json:"metrics"`
	RiskRejections   int                `json:"risk_rejections"`
	CreatedAt        time.Time          `json:"created_at"`
}
