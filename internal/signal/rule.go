package signal

import (
	"regime-backtest-lab/internal/condition"
	"regime-backtest-lab/internal/domain"
)

// RuleBased emits signals from declarative buy and sell condition documents.
type RuleBased struct {
	ev   *condition.Evaluator
	buy  *condition.Document
	sell *condition.Document
}

// NewRuleBased creates a RuleBased generator. A nil sell document never
// emits SELL; exits are then left to the engine's stop and exit rules.
func NewRuleBased(ev *condition.Evaluator, buy, sell *condition.Document) *RuleBased {
	if ev == nil {
		ev = condition.NewEvaluator(nil)
	}
	return &RuleBased{ev: ev, buy: buy, sell: sell}
}

// Name implements Generator.
func (g *RuleBased) Name() string { return TypeRuleBased }

// Generate implements Generator. A bar matching both documents is a BUY.
func (g *RuleBased) Generate(s *domain.Series, _ domain.StrategyParams) []domain.Signal {
	n := s.Len()
	if n == 0 {
		return nil
	}

	buy := make([]bool, n)
	if g.buy != nil {
		buy = g.ev.Evaluate(s, g.buy)
	}
	sell := make([]bool, n)
	if g.sell != nil {
		sell = g.ev.Evaluate(s, g.sell)
	}

	var out []domain.Signal
	for i, b := range s.Bars {
		var sig domain.Signal
		switch {
		case buy[i]:
			sig = domain.Signal{Direction: domain.DirectionBuy, Reason: domain.ReasonRuleBuy}
		case sell[i]:
			sig = domain.Signal{Direction: domain.DirectionSell, Reason: domain.ReasonRuleSell}
		default:
			continue
		}
		sig.Instrument = s.Instrument
		sig.Date = b.Date
		sig.Price = b.Close
		sig.Strength = 1.0
		out = append(out, sig)
	}
	return out
}
