package indicator

import (
	"context"
	"math"

	"regime-backtest-lab/internal/domain"
)

// Derived feature columns
const (
	ColumnPriceDelta  = "price_delta"
	ColumnReturn      = "return_1d"
	ColumnReturnAccel = "return_accel"
	ColumnVolumeRatio = "volume_ratio"
)

const volumeRatioWindow = 20

// Derived computes bar-to-bar features from OHLCV:
//   - price_delta = close[t] - close[t-1], NaN on the first bar
//   - return_1d = price_delta / close[t-1], NaN on the first bar
//   - return_accel = return_1d[t] - return_1d[t-1], NaN on the first two bars
//   - volume_ratio = volume[t] / mean(volume[t-20..t-1]), NaN until 20 prior bars
type Derived struct{}

// Name implements Provider.
func (Derived) Name() string { return "derived" }

// Compute implements Provider.
func (Derived) Compute(_ context.Context, s *domain.Series, _ domain.StrategyParams) (*domain.Series, error) {
	n := s.Len()
	delta := nanSlice(n)
	ret := nanSlice(n)
	accel := nanSlice(n)
	volRatio := nanSlice(n)

	volSum := 0.0
	for i, b := range s.Bars {
		if i > 0 {
			prev := s.Bars[i-1].Close
			delta[i] = b.Close - prev
			if prev != 0 {
				ret[i] = delta[i] / prev
			}
			if i > 1 {
				accel[i] = ret[i] - ret[i-1]
			}
		}

		if i >= volumeRatioWindow {
			if mean := volSum / volumeRatioWindow; mean > 0 {
				volRatio[i] = b.Volume / mean
			}
			volSum -= s.Bars[i-volumeRatioWindow].Volume
		}
		volSum += b.Volume
	}

	return withColumns(s, map[string][]float64{
		ColumnPriceDelta:  delta,
		ColumnReturn:      ret,
		ColumnReturnAccel: accel,
		ColumnVolumeRatio: volRatio,
	}), nil
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

var _ Provider = Derived{}
