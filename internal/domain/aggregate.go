package domain

// StrategyAggregate summarizes many runs of one generator under one regime.
// Corresponds to the strategy_aggregates table.
type StrategyAggregate struct {
	Generator string `json:"generator"`
	Regime    Regime `json:"regime"` // empty when the run had no regime detection

	Runs        int     `json:"runs"`
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"` // pooled wins / pooled trades

	// Distribution of per-run total return
	ReturnMean   float64 `json:"return_mean"`
	ReturnMedian float64 `json:"return_median"`
	ReturnP10    float64 `json:"return_p10"`
	ReturnP25    float64 `json:"return_p25"`
	ReturnP75    float64 `json:"return_p75"`
	ReturnP90    float64 `json:"return_p90"`
	ReturnMin    float64 `json:"return_min"`
	ReturnMax    float64 `json:"return_max"`
	ReturnStddev float64 `json:"return_stddev"`

	WorstDrawdown        float64 `json:"worst_drawdown"` // most negative run drawdown
	MeanSharpe           float64 `json:"mean_sharpe"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
}
