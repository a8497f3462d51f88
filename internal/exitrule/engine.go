package exitrule

import (
	"fmt"

	"regime-backtest-lab/internal/domain"
)

// Input is the position snapshot a policy is checked against.
type Input struct {
	EntryPrice     float64
	CurrentPrice   float64
	PeakPrice      float64 // highest price since entry
	BarsHeld       int
	RecentRangePct float64 // (max high - min low) / entry over the recent window
}

// Decision is the outcome of a check.
type Decision struct {
	Exit   bool
	Reason domain.ExitReason
	Detail string
}

// Engine evaluates a Policy in fixed precedence:
// stop loss, take profit, trailing stop, stagnant close.
type Engine struct {
	policy Policy
}

// NewEngine creates an Engine for the given policy.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the configured policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Check returns the first rule that fires, or a zero Decision.
func (e *Engine) Check(in Input) Decision {
	if in.EntryPrice <= 0 {
		return Decision{}
	}
	p := e.policy
	pnl := (in.CurrentPrice - in.EntryPrice) / in.EntryPrice

	// 1. Stop loss
	if p.StopLoss.Enabled && pnl <= p.StopLoss.Pct {
		return Decision{
			Exit:   true,
			Reason: domain.ExitReasonStopLoss,
			Detail: fmt.Sprintf("pnl %.2f%% <= %.2f%%", pnl*100, p.StopLoss.Pct*100),
		}
	}

	// 2. Take profit
	if p.TakeProfit.Enabled && pnl >= p.TakeProfit.Pct {
		return Decision{
			Exit:   true,
			Reason: domain.ExitReasonTakeProfit,
			Detail: fmt.Sprintf("pnl %.2f%% >= %.2f%%", pnl*100, p.TakeProfit.Pct*100),
		}
	}

	// 3. Trailing stop, armed once the peak return reaches the activation level
	if p.Trailing.Enabled && in.PeakPrice > 0 {
		peakPnL := (in.PeakPrice - in.EntryPrice) / in.EntryPrice
		if peakPnL >= p.Trailing.ActivateAfterPct {
			drawdown := (in.PeakPrice - in.CurrentPrice) / in.PeakPrice
			if drawdown >= p.Trailing.Pct {
				return Decision{
					Exit:   true,
					Reason: domain.ExitReasonTrailingStop,
					Detail: fmt.Sprintf("drawdown from peak %.2f%% >= %.2f%%", drawdown*100, p.Trailing.Pct*100),
				}
			}
		}
	}

	// 4. Stagnant close
	if p.Stagnant.Enabled && in.BarsHeld >= p.Stagnant.Bars && in.RecentRangePct < p.Stagnant.MinMovePct {
		return Decision{
			Exit:   true,
			Reason: domain.ExitReasonStagnant,
			Detail: fmt.Sprintf("%d bars, range %.2f%% < %.2f%%", in.BarsHeld, in.RecentRangePct*100, p.Stagnant.MinMovePct*100),
		}
	}

	return Decision{}
}

// CheckExit is the two-value form of Check.
func (e *Engine) CheckExit(in Input) (bool, domain.ExitReason) {
	d := e.Check(in)
	return d.Exit, d.Reason
}
