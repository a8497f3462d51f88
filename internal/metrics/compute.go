// Package metrics computes performance statistics for backtest runs.
package metrics

import (
	"math"
	"sort"

	"regime-backtest-lab/internal/domain"
)

// tradingDaysPerYear annualizes the Sharpe ratio.
const tradingDaysPerYear = 252

// Compute calculates run metrics from closed trades (in close order) and the
// equity curve. Trades with pnl_pct > 0 are wins; everything else is a loss.
func Compute(trades []domain.TradeRecord, equity []domain.EquityPoint, initialCapital float64) domain.PerformanceMetrics {
	m := domain.PerformanceMetrics{
		TotalTrades:  len(trades),
		FinalCapital: initialCapital,
		MaxDrawdown:  computeMaxDrawdown(equity),
	}
	if len(trades) == 0 {
		return m
	}

	returns := make([]float64, len(trades))
	product := 1.0
	holding := 0
	for i := range trades {
		returns[i] = trades[i].PnLPct
		product *= 1 + trades[i].PnLPct
		holding += trades[i].HoldingBars
		if trades[i].IsWin() {
			m.Wins++
		}
	}
	m.Losses = m.TotalTrades - m.Wins

	m.TotalReturn = product - 1
	m.FinalCapital = initialCapital * product
	m.WinRate = computeWinRate(m.Wins, m.TotalTrades)
	m.AvgHoldingBars = float64(holding) / float64(len(trades))
	m.SharpeRatio = computeSharpe(returns)
	m.MaxConsecutiveLosses = computeMaxConsecutiveLosses(returns)
	return m
}

// computeWinRate calculates win rate as wins / total.
func computeWinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

// computeMean calculates arithmetic mean.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computePopulationStddev calculates standard deviation with an n denominator.
func computePopulationStddev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// computeSharpe annualizes mean/stddev of per-trade returns.
// Zero for fewer than two trades or zero dispersion.
func computeSharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := computeMean(returns)
	std := computePopulationStddev(returns, mean)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC.
// p is percentile (0.10 = 10th percentile).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeMaxDrawdown returns the worst (value-peak)/peak of the equity curve.
// The result is <= 0.
func computeMaxDrawdown(equity []domain.EquityPoint) float64 {
	peak := 0.0
	maxDrawdown := 0.0
	for _, p := range equity {
		if p.Value > peak {
			peak = p.Value
		}
		if peak <= 0 {
			continue
		}
		if dd := (p.Value - peak) / peak; dd < maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// computeMaxConsecutiveLosses finds longest streak of return <= 0.
// Returns must be in chronological order.
func computeMaxConsecutiveLosses(returns []float64) int {
	maxStreak := 0
	currentStreak := 0

	for _, r := range returns {
		if r <= 0 {
			currentStreak++
			if currentStreak > maxStreak {
				maxStreak = currentStreak
			}
		} else {
			currentStreak = 0
		}
	}
	return maxStreak
}

// sortedCopy returns values sorted ASC without touching the input.
func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}
