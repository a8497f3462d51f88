package indicator

import (
	"context"
	"fmt"
	"math"

	"regime-backtest-lab/internal/domain"
)

// MovingAverage adds simple moving averages of the close as ma<N> columns.
// Values are NaN until N bars are available.
type MovingAverage struct {
	Windows []int
}

// Name implements Provider.
func (m MovingAverage) Name() string { return "moving_average" }

// Compute implements Provider.
func (m MovingAverage) Compute(_ context.Context, s *domain.Series, _ domain.StrategyParams) (*domain.Series, error) {
	closes := s.Closes()
	cols := make(map[string][]float64, len(m.Windows))
	for _, w := range m.Windows {
		if w <= 0 {
			return nil, fmt.Errorf("moving average window must be positive, got %d", w)
		}
		cols[ColumnMA(w)] = rollingMean(closes, w)
	}
	return withColumns(s, cols), nil
}

// ColumnMA names the moving average column for a window.
func ColumnMA(window int) string {
	return fmt.Sprintf("ma%d", window)
}

func rollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i+1 < window {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(window)
	}
	return out
}

// withColumns returns a copy of s with the given per-bar columns merged in.
func withColumns(s *domain.Series, cols map[string][]float64) *domain.Series {
	out := &domain.Series{Instrument: s.Instrument, Bars: make([]domain.Bar, s.Len())}
	for i, b := range s.Bars {
		values := make(map[string]float64, len(cols))
		for name, col := range cols {
			values[name] = col[i]
		}
		out.Bars[i] = b.WithIndicators(values)
	}
	return out
}

var _ Provider = MovingAverage{}
