package simulation

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/exitrule"
	"regime-backtest-lab/internal/idhash"
	"regime-backtest-lab/internal/observability"
	"regime-backtest-lab/internal/risk"
	"regime-backtest-lab/internal/router"
)

// EngineOptions contains the optional collaborators of an Engine.
type EngineOptions struct {
	Exit    *exitrule.Engine // checked after the built-in stops
	Gate    *risk.Gate       // entries are refused while it rejects
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Engine runs the per-instrument FLAT/LONG position state machine.
// An Engine holds no per-run state; the Gate it references does.
type Engine struct {
	exit    *exitrule.Engine
	gate    *risk.Gate
	adjust  router.Adjuster
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		exit:    opts.Exit,
		gate:    opts.Gate,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// WithGate returns a copy of the engine that consults g instead of its own
// gate. A nil g disables gating.
func (e *Engine) WithGate(g *risk.Gate) *Engine {
	out := *e
	out.gate = g
	return &out
}

// Simulation is the outcome of one engine pass over a series.
type Simulation struct {
	Trades         []domain.TradeRecord
	Equity         []domain.EquityPoint // one point per bar
	Rejected       []domain.Signal      // HOLD RISK_REJECTED audit signals
	RiskRejections int
	FinalCash      float64
}

// Run simulates a long-only account over s. At most one signal applies per
// bar; when several share a date the last one wins. A position still open on
// the final bar is liquidated at its close as PERIOD_END, so the last equity
// point equals the final cash.
func (e *Engine) Run(runID string, s *domain.Series, signals []domain.Signal, params domain.StrategyParams, capital float64) *Simulation {
	bySession := make(map[string]domain.Signal, len(signals))
	for _, sig := range signals {
		bySession[sessionKey(sig.Date)] = sig
	}

	calendar := e.gate != nil &&
		e.gate.Config().Mode == risk.ModeBacktest &&
		e.gate.Config().ResetPolicy == risk.ResetCalendar

	sim := &Simulation{Equity: make([]domain.EquityPoint, 0, s.Len())}
	cash := decimal.NewFromFloat(capital)
	var pos *domain.Position

	for i, bar := range s.Bars {
		if calendar {
			e.gate.Rollover(bar.Date)
		}
		sig, hasSig := bySession[sessionKey(bar.Date)]
		exited := false

		if pos != nil {
			if reason, detail, ok := e.exitCheck(pos, s, i, sig, hasSig, params); ok {
				trade := e.closePosition(runID, s.Instrument, pos, i, bar, reason, detail)
				cash = cash.Add(decimal.NewFromFloat(bar.Close).Mul(decimal.NewFromInt(pos.Shares)))
				sim.Trades = append(sim.Trades, trade)
				pos = nil
				exited = true
			}
		}

		// No re-entry on the bar of an exit.
		if pos == nil && !exited && hasSig && sig.IsBuy() {
			var rejected *domain.Signal
			pos, rejected = e.openPosition(s.Instrument, i, bar, cash, params)
			if rejected != nil {
				sim.Rejected = append(sim.Rejected, *rejected)
				sim.RiskRejections++
			}
			if pos != nil {
				cash = cash.Sub(decimal.NewFromFloat(pos.EntryPrice).Mul(decimal.NewFromInt(pos.Shares)))
			}
		}

		value := cash
		if pos != nil {
			value = value.Add(decimal.NewFromFloat(bar.Close).Mul(decimal.NewFromInt(pos.Shares)))
		}
		sim.Equity = append(sim.Equity, domain.EquityPoint{Date: bar.Date, Value: value.InexactFloat64()})
	}

	if pos != nil {
		last := s.Len() - 1
		bar := s.Bars[last]
		pnl := pos.PnLPct(bar.Close)
		trade := e.closePosition(runID, s.Instrument, pos, last, bar, domain.ExitReasonPeriodEnd, pctDetail(domain.ExitReasonPeriodEnd, pnl))
		cash = cash.Add(decimal.NewFromFloat(bar.Close).Mul(decimal.NewFromInt(pos.Shares)))
		sim.Trades = append(sim.Trades, trade)
		sim.Equity[last].Value = cash.InexactFloat64()
	}

	sim.FinalCash = cash.InexactFloat64()
	return sim
}

// exitCheck applies, in order: stop loss, trailing exit once the target is
// met, the configured exit rules, then a SELL signal once min_hold_days
// have passed and its reason's policy agrees.
func (e *Engine) exitCheck(pos *domain.Position, s *domain.Series, i int, sig domain.Signal, hasSig bool, p domain.StrategyParams) (domain.ExitReason, string, bool) {
	p.TargetProfitPct = pos.TargetProfitPct
	bar := s.Bars[i]
	price := bar.Close
	pnl := pos.PnLPct(price)
	pos.UpdatePeak(price)
	drawdown := (price - pos.PeakPrice) / pos.PeakPrice

	stop, trail := p.StopLossPct, -p.TrailingStopPct
	if atr := bar.Indicator(domain.ColumnATR); p.UseATRStops && atr > 0 {
		stop = -p.ATRStopMult * atr / pos.EntryPrice
		trail = -p.ATRTrailingMult * atr / pos.PeakPrice
	}

	if pnl <= stop {
		return domain.ExitReasonStopLoss, pctDetail(domain.ExitReasonStopLoss, pnl), true
	}
	if pnl >= p.TargetProfitPct && drawdown <= trail {
		return domain.ExitReasonTrailing, pctDetail(domain.ExitReasonTrailing, pnl), true
	}

	held := i - pos.EntryIndex
	if e.exit != nil {
		d := e.exit.Check(exitrule.Input{
			EntryPrice:     pos.EntryPrice,
			CurrentPrice:   price,
			PeakPrice:      pos.PeakPrice,
			BarsHeld:       held,
			RecentRangePct: recentRange(s, i, min(held, e.exit.Policy().Stagnant.Bars), pos.EntryPrice),
		})
		if d.Exit {
			return d.Reason, d.Detail, true
		}
	}

	if hasSig && sig.IsSell() && held >= p.MinHoldDays {
		if sellPolicyFor(sig.Reason)(pnl, p, bar) {
			reason := domain.ExitReasonFromSignal(sig.Reason)
			return reason, pctDetail(reason, pnl), true
		}
	}
	return "", "", false
}

// openPosition sizes and gates a BUY. It returns a nil position when the
// order cannot be placed, plus an audit signal when the gate refused it.
func (e *Engine) openPosition(instrument string, i int, bar domain.Bar, cash decimal.Decimal, p domain.StrategyParams) (*domain.Position, *domain.Signal) {
	price := bar.Close
	available := cash.InexactFloat64()
	if !(price > 0) || available < price {
		return nil, nil
	}

	shares := int64(math.Floor(available / price))
	if atr := bar.Indicator(domain.ColumnATR); p.RiskPerTradePct > 0 && atr > 0 {
		var sized int64
		if e.gate != nil {
			sized = e.gate.CalcPositionSize(available, price, atr, p.RiskPerTradePct, p.ATRStopMult)
		} else {
			sized = risk.CalcPositionSize(available, price, atr, p.RiskPerTradePct, p.ATRStopMult, 0)
		}
		if sized > 0 && sized < shares {
			shares = sized
		}
	}
	if e.gate != nil {
		if limit := e.gate.Config().MaxPerInstrument; limit > 0 && limit < 1 {
			if capped := int64(math.Floor(available * limit / price)); capped < shares {
				shares = capped
			}
		}
	}
	if shares <= 0 {
		return nil, nil
	}

	if e.gate != nil {
		sector := bar.Labels[domain.LabelSector]
		share := float64(shares) * price / available
		d := e.gate.Check(risk.OrderIntent{Instrument: instrument, Sector: sector, CapitalShare: share})
		if !d.Allowed {
			e.metrics.RecordRiskRejection(string(d.Reason))
			e.logger.Debug("entry refused",
				zap.String("instrument", instrument),
				zap.Time("date", bar.Date),
				zap.String("reason", string(d.Reason)),
			)
			return nil, &domain.Signal{
				Direction:  domain.DirectionHold,
				Instrument: instrument,
				Date:       bar.Date,
				Price:      price,
				Reason:     domain.ReasonRiskRejected,
				Detail:     string(d.Reason),
			}
		}
		e.gate.OnPositionOpened(instrument, sector, share)
	}

	e.logger.Debug("position opened",
		zap.String("instrument", instrument),
		zap.Time("date", bar.Date),
		zap.Float64("price", price),
		zap.Int64("shares", shares),
	)
	return &domain.Position{
		EntryPrice:      price,
		EntryIndex:      i,
		EntryDate:       bar.Date,
		Shares:          shares,
		PeakPrice:       price,
		TargetProfitPct: e.adjust.Adjust(p, bar.Indicator(domain.ColumnATR), price).TargetProfitPct,
	}, nil
}

func (e *Engine) closePosition(runID, instrument string, pos *domain.Position, i int, bar domain.Bar, reason domain.ExitReason, detail string) domain.TradeRecord {
	trade := domain.TradeRecord{
		TradeID:     idhash.ComputeTradeID(runID, instrument, pos.EntryDate, pos.EntryIndex),
		RunID:       runID,
		Instrument:  instrument,
		EntryDate:   pos.EntryDate,
		EntryPrice:  pos.EntryPrice,
		Shares:      pos.Shares,
		ExitDate:    bar.Date,
		ExitPrice:   bar.Close,
		ExitReason:  reason,
		ExitDetail:  detail,
		PnL:         (bar.Close - pos.EntryPrice) * float64(pos.Shares),
		PnLPct:      pos.PnLPct(bar.Close),
		HoldingBars: i - pos.EntryIndex,
	}
	if e.gate != nil {
		e.gate.OnTradeClosed(&trade)
	}
	e.metrics.RecordTrade(string(reason))
	e.logger.Debug("position closed",
		zap.String("instrument", instrument),
		zap.Time("date", bar.Date),
		zap.String("reason", string(reason)),
		zap.Float64("pnl_pct", trade.PnLPct),
	)
	return trade
}

// sellPolicy decides whether a SELL signal closes the open position.
type sellPolicy func(pnl float64, p domain.StrategyParams, bar domain.Bar) bool

// sellPolicyFor maps every signal reason to its exit policy.
// Non-SELL reasons never close a position.
func sellPolicyFor(r domain.SignalReason) sellPolicy {
	switch r {
	case domain.ReasonSTReversal,
		domain.ReasonInverseSell,
		domain.ReasonSwingSell,
		domain.ReasonRuleSell:
		return exitAlways
	case domain.ReasonJMATurnDown:
		return exitOnTargetOrTrendLoss
	case domain.ReasonRSIOverbought,
		domain.ReasonSwingSellOverbought:
		return exitOnHalfTarget
	case domain.ReasonSTUpJMATurnUp,
		domain.ReasonSTTurnUpJMAUp,
		domain.ReasonInverseBuy,
		domain.ReasonSwingBuy,
		domain.ReasonRuleBuy,
		domain.ReasonSidewaysFilter,
		domain.ReasonRiskRejected:
		return exitNever
	default:
		return exitNever
	}
}

func exitAlways(float64, domain.StrategyParams, domain.Bar) bool { return true }

func exitNever(float64, domain.StrategyParams, domain.Bar) bool { return false }

// exitOnTargetOrTrendLoss exits a secondary-trend turn once the target is
// met, or when the primary trend is no longer up. A missing trend value
// counts as not up.
func exitOnTargetOrTrendLoss(pnl float64, p domain.StrategyParams, bar domain.Bar) bool {
	return pnl >= p.TargetProfitPct || bar.Indicator(domain.ColumnSTDir) != 1
}

func exitOnHalfTarget(pnl float64, p domain.StrategyParams, _ domain.Bar) bool {
	return pnl >= p.TargetProfitPct*0.5
}

// recentRange is (max high - min low) / entry over bars i-window..i,
// which is window+1 bars.
func recentRange(s *domain.Series, i, window int, entry float64) float64 {
	if window <= 0 || entry <= 0 {
		return math.Inf(1)
	}
	from := max(i-window, 0)
	hi, lo := math.Inf(-1), math.Inf(1)
	for _, b := range s.Bars[from : i+1] {
		hi = math.Max(hi, b.High)
		lo = math.Min(lo, b.Low)
	}
	return (hi - lo) / entry
}

func pctDetail(reason domain.ExitReason, pnl float64) string {
	return fmt.Sprintf("%s(%.1f%%)", reason, pnl*100)
}

func sessionKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
