package domain

import "time"

// TradeRecord is the permanent record of a closed position.
// Corresponds to the trade_records table.
type TradeRecord struct {
	TradeID    string `json:"trade_id"` // deterministic hash
	RunID      string `json:"run_id"`   // backtest run that produced it
	Instrument string `json:"instrument"`

	// Entry
	EntryDate  time.Time `json:"entry_date"`
	EntryPrice float64   `json:"entry_price"`
	Shares     int64     `json:"shares"`

	// Exit
	ExitDate   time.Time  `json:"exit_date"`
	ExitPrice  float64    `json:"exit_price"`
	ExitReason ExitReason `json:"exit_reason"`
	ExitDetail string     `json:"exit_detail,omitempty"` // e.g. "STOP_LOSS(-6.0%)"

	// Outcome
	PnL         float64 `json:"pnl"`     // absolute, in capital units
	PnLPct      float64 `json:"pnl_pct"` // fraction of entry value
	HoldingBars int     `json:"holding_bars"`
}

// IsWin reports whether the trade closed with a positive return.
func (t *TradeRecord) IsWin() bool {
	return t.PnLPct > 0
}

// ExitReason is the tag recorded on a closed trade.
type ExitReason string

// Exit reason codes
const (
	ExitReasonStopLoss     ExitReason = "STOP_LOSS"
	ExitReasonTrailing     ExitReason = "TRAILING"
	ExitReasonTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitReasonTrailingStop ExitReason = "TRAILING_STOP"
	ExitReasonStagnant     ExitReason = "STAGNANT"
	ExitReasonPeriodEnd    ExitReason = "PERIOD_END"
)

// ExitReasonFromSignal tags a signal-driven exit with the signal's reason.
func ExitReasonFromSignal(r SignalReason) ExitReason {
	return ExitReason(r)
}

// Position is an open long position owned by one simulation run.
type Position struct {
	EntryPrice float64
	EntryIndex int
	EntryDate  time.Time
	Shares     int64
	PeakPrice  float64 // never decreases while open

	// TargetProfitPct is fixed at entry; adaptive targets use the entry bar only.
	TargetProfitPct float64
}

// UpdatePeak raises the peak to price when price is higher.
func (p *Position) UpdatePeak(price float64) {
	if price > p.PeakPrice {
		p.PeakPrice = price
	}
}

// PnLPct returns the unrealized return at price.
func (p *Position) PnLPct(price float64) float64 {
	return (price - p.EntryPrice) / p.EntryPrice
}
