package indicator

import (
	"context"
	"fmt"
	"math"
	"time"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/lookup"
)

// Momentum relative-strength columns. Returns are in percent.
const (
	ColumnMomentumReturn   = "momentum.return_20d"
	ColumnIndexReturn      = "momentum.kospi_return_20d"
	ColumnVsIndexRatio     = "momentum.vs_kospi_ratio"
	ColumnRelativeStrength = "momentum.relative_strength"
)

const defaultMomentumLookback = 20

// ratioCeiling stands in for the ratio when the index barely moved
// and the instrument rose.
const (
	ratioCeiling   = 999
	flatIndexAbove = 0.01
)

// IndexSource loads benchmark index bars.
type IndexSource interface {
	FetchIndexCandles(ctx context.Context, indexID string, start, end time.Time) (*domain.Series, error)
}

// Momentum compares an instrument's return over Lookback bars with the
// index return over the same window, ending on the same session. Each bar
// only reads bars at or before its own date.
//
// ratio = return/index_return, or 999 when |index_return| <= 0.01 and the
// return is positive (0 otherwise). relative_strength = return - index_return.
// Instrument columns are NaN until Lookback prior bars exist; an index
// without enough history counts as a 0% return.
type Momentum struct {
	Source   IndexSource
	IndexID  string
	Lookback int // defaults to 20
}

// NewMomentum creates a Momentum provider over the given index.
func NewMomentum(src IndexSource, indexID string, lookback int) *Momentum {
	if lookback <= 0 {
		lookback = defaultMomentumLookback
	}
	return &Momentum{Source: src, IndexID: indexID, Lookback: lookback}
}

// Name implements Provider.
func (m *Momentum) Name() string { return "momentum" }

// Compute implements Provider.
func (m *Momentum) Compute(ctx context.Context, s *domain.Series, _ domain.StrategyParams) (*domain.Series, error) {
	if s.Len() == 0 {
		return s, nil
	}
	lookback := m.Lookback
	if lookback <= 0 {
		lookback = defaultMomentumLookback
	}

	// Calendar padding so the first bar has a full index window.
	first, last := s.Bars[0].Date, s.Bars[s.Len()-1].Date
	index, err := m.Source.FetchIndexCandles(ctx, m.IndexID, first.AddDate(0, 0, -(2*lookback+10)), last)
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", m.IndexID, err)
	}
	var indexBars []domain.Bar
	if index != nil {
		indexBars = index.Bars
	}

	n := s.Len()
	ret, idxRet, ratio, rs := nanSlice(n), nanSlice(n), nanSlice(n), nanSlice(n)
	for i, b := range s.Bars {
		if i < lookback || !(s.Bars[i-lookback].Close > 0) {
			continue
		}
		r := pctChange(s.Bars[i-lookback].Close, b.Close)
		k := indexWindowReturn(indexBars, lookup.IndexAt(b.Date, indexBars), lookback)

		ret[i] = r
		idxRet[i] = k
		rs[i] = round2(r - k)
		switch {
		case math.Abs(k) > flatIndexAbove:
			ratio[i] = round2(r / k)
		case r > 0:
			ratio[i] = ratioCeiling
		default:
			ratio[i] = 0
		}
	}

	return withColumns(s, map[string][]float64{
		ColumnMomentumReturn:   ret,
		ColumnIndexReturn:      idxRet,
		ColumnVsIndexRatio:     ratio,
		ColumnRelativeStrength: rs,
	}), nil
}

// indexWindowReturn is the percent return over lookback bars ending at j,
// or 0 without enough history.
func indexWindowReturn(bars []domain.Bar, j, lookback int) float64 {
	if j < lookback || !(bars[j-lookback].Close > 0) {
		return 0
	}
	return pctChange(bars[j-lookback].Close, bars[j].Close)
}

func pctChange(from, to float64) float64 {
	return round2((to/from - 1) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var _ Provider = (*Momentum)(nil)
