package signal

import (
	"fmt"
	"math"

	"regime-backtest-lab/internal/domain"
)

// Sideways filter parameters.
const (
	sidewaysLookback    = 20
	sidewaysATRRatio    = 0.7
	sidewaysSlopeWindow = 10
	sidewaysMinFlips    = 3
	sidewaysRangePct    = 0.02
	sidewaysMinVotes    = 2
)

// TrendFollowing is the bull-market generator: enter when the SuperTrend is
// up and the JMA turns up, exit on trend reversal or weakness.
type TrendFollowing struct{}

// NewTrendFollowing creates a TrendFollowing generator.
func NewTrendFollowing() *TrendFollowing {
	return &TrendFollowing{}
}

// Name implements Generator.
func (g *TrendFollowing) Name() string { return TypeTrendFollowing }

// Generate implements Generator.
func (g *TrendFollowing) Generate(s *domain.Series, p domain.StrategyParams) []domain.Signal {
	f, ok := newFrame(s, domain.ColumnClose, domain.ColumnSTDir, domain.ColumnJMA, domain.ColumnJMASlope)
	if !ok {
		return nil
	}

	var out []domain.Signal
	for i := 2; i < f.len(); i++ {
		curST, prevST := f.stDir[i], f.stDir[i-1]
		if isNaN(curST) {
			continue
		}
		curJMA, prevJMA := f.jmaDir[i], f.jmaDir[i-1]
		slope := f.slope[i]
		rsi := f.rsi[i]

		var (
			buy      bool
			reason   domain.SignalReason
			strength float64
		)
		switch {
		case curST == 1 && curJMA == 1 && prevJMA <= 0:
			buy, reason, strength = true, domain.ReasonSTUpJMATurnUp, 0.7
		case curST == 1 && prevST != 1 && curJMA == 1:
			buy, reason, strength = true, domain.ReasonSTTurnUpJMAUp, 0.8
		}

		if buy && p.JMASlopeMin > 0 && (isNaN(slope) || slope < p.JMASlopeMin) {
			buy = false
		}

		oversold := false
		if buy && !isNaN(rsi) && rsi <= p.RSIOversold {
			strength = math.Min(strength+0.2, 1.0)
			oversold = true
		}

		if buy && p.SidewaysFilter && f.sideways(i) {
			out = append(out, f.signal(s.Instrument, i, domain.DirectionHold, domain.ReasonSidewaysFilter, 0,
				fmt.Sprintf("suppressed %s", reason)))
			continue
		}

		if buy {
			detail := fmt.Sprintf("slope=%.2f strength=%.1f", slope, strength)
			if oversold {
				detail += " rsi_oversold"
			}
			out = append(out, f.signal(s.Instrument, i, domain.DirectionBuy, reason, strength, detail))
			continue
		}

		switch {
		case curST == -1 && prevST == 1:
			out = append(out, f.signal(s.Instrument, i, domain.DirectionSell, domain.ReasonSTReversal, 1.0, ""))
		case curJMA == -1 && prevJMA >= 0 && curST == 1:
			out = append(out, f.signal(s.Instrument, i, domain.DirectionSell, domain.ReasonJMATurnDown, 0.5, ""))
		case !isNaN(rsi) && rsi >= p.RSIOverbought && curJMA <= 0:
			out = append(out, f.signal(s.Instrument, i, domain.DirectionSell, domain.ReasonRSIOverbought, 0.6,
				fmt.Sprintf("rsi=%.0f", rsi)))
		}
	}
	return out
}

// sideways reports whether bar i looks trendless, using only bars up to i.
// Two of three votes are needed: a contracting ATR, an oscillating JMA
// slope and a narrow average bar range.
func (f *frame) sideways(i int) bool {
	if i < sidewaysLookback {
		return false
	}
	votes := 0

	if f.atr != nil {
		now := f.atr[i]
		avg, ok := nanMean(f.atr[i-sidewaysLookback : i])
		if ok && avg > 0 && !isNaN(now) && now < avg*sidewaysATRRatio {
			votes++
		}
	}

	window := f.slope[max(0, i-sidewaysSlopeWindow) : i+1]
	if len(window) >= 5 {
		flips := 0
		for j := 1; j < len(window); j++ {
			if (window[j] > 0) != (window[j-1] > 0) {
				flips++
			}
		}
		if flips >= sidewaysMinFlips {
			votes++
		}
	}

	if f.high != nil && f.low != nil {
		lo := max(0, i-sidewaysLookback)
		if n := i + 1 - lo; n >= 10 {
			avgClose, _ := nanMean(f.close[lo : i+1])
			if avgClose > 0 {
				sum := 0.0
				for j := lo; j <= i; j++ {
					sum += (f.high[j] - f.low[j]) / avgClose
				}
				if sum/float64(n) < sidewaysRangePct {
					votes++
				}
			}
		}
	}

	return votes >= sidewaysMinVotes
}

// nanMean averages the non-NaN values.
func nanMean(xs []float64) (float64, bool) {
	sum, n := 0.0, 0
	for _, x := range xs {
		if !isNaN(x) {
			sum += x
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
