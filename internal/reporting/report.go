package reporting

import (
	"time"

	"regime-backtest-lab/internal/domain"
)

// Report is the batch backtest report.
type Report struct {
	// Metadata
	GeneratedAt     time.Time
	InstrumentCount int
	GeneratorCount  int
	DataVersion     string // short content hash, set by the report pipeline

	DataSummary DataSummary

	// Per-run rows (sorted by instrument, created_at, run_id)
	Runs []RunRow

	// Aggregates (sorted by generator, regime)
	StrategyMetrics []StrategyMetricRow

	// Regime breakdown in BULL, BEAR, SIDEWAYS order, then runs without detection
	Regimes []RegimeRow

	// Exit reasons (sorted by count DESC, reason ASC)
	ExitReasons []ExitReasonRow
}

// DataSummary describes what the report covers.
type DataSummary struct {
	TotalRuns      int
	TotalTrades    int
	RiskRejections int
	DateRangeStart time.Time // earliest run start
	DateRangeEnd   time.Time // latest run end
}

// RunRow is one backtest run.
type RunRow struct {
	RunID            string
	Instrument       string
	Generator        string
	Regime           domain.Regime
	EffectiveCapital float64
	TotalTrades      int
	WinRate          float64
	TotalReturn      float64
	MaxDrawdown      float64
	SharpeRatio      float64
	FinalCapital     float64
}

// StrategyMetricRow is one (generator, regime) aggregate.
type StrategyMetricRow struct {
	Generator            string
	Regime               domain.Regime
	Runs                 int
	TotalTrades          int
	WinRate              float64
	ReturnMean           float64
	ReturnMedian         float64
	ReturnP10            float64
	ReturnP90            float64
	WorstDrawdown        float64
	MeanSharpe           float64
	MaxConsecutiveLosses int
}

// RegimeRow summarizes the runs routed under one regime.
type RegimeRow struct {
	Regime         domain.Regime
	Runs           int
	MeanConfidence float64
	MeanReturn     float64
}

// ExitReasonRow counts closed trades by exit reason.
type ExitReasonRow struct {
	Reason     domain.ExitReason
	Count      int
	MeanPnLPct float64
}
