package indicator

import (
	"context"
	"fmt"
	"math"
	"time"

	"regime-backtest-lab/internal/domain"
)

// Market sensitivity columns.
const (
	ColumnBeta        = "market.beta"
	ColumnCorrelation = "market.correlation"
)

const (
	defaultBetaWindow = 60
	minBetaSamples    = 20
)

// BetaCorrelation adds the rolling beta and Pearson correlation of the
// instrument's daily returns against the index's daily returns. Returns are
// paired by session date over the last Window bars; with fewer than 20 pairs,
// or a flat index, both columns are NaN.
type BetaCorrelation struct {
	Source  IndexSource
	IndexID string
	Window  int // defaults to 60
}

// NewBetaCorrelation creates a BetaCorrelation provider over the given index.
func NewBetaCorrelation(src IndexSource, indexID string, window int) *BetaCorrelation {
	if window <= 0 {
		window = defaultBetaWindow
	}
	return &BetaCorrelation{Source: src, IndexID: indexID, Window: window}
}

// Name implements Provider.
func (b *BetaCorrelation) Name() string { return "beta_correlation" }

// Compute implements Provider.
func (b *BetaCorrelation) Compute(ctx context.Context, s *domain.Series, _ domain.StrategyParams) (*domain.Series, error) {
	if s.Len() == 0 {
		return s, nil
	}
	window := b.Window
	if window <= 0 {
		window = defaultBetaWindow
	}

	first, last := s.Bars[0].Date, s.Bars[s.Len()-1].Date
	index, err := b.Source.FetchIndexCandles(ctx, b.IndexID, first.AddDate(0, 0, -7), last)
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", b.IndexID, err)
	}
	marketReturn := make(map[string]float64)
	if index != nil {
		for j := 1; j < index.Len(); j++ {
			if prev := index.Bars[j-1].Close; prev > 0 {
				marketReturn[dateKey(index.Bars[j].Date)] = index.Bars[j].Close/prev - 1
			}
		}
	}

	n := s.Len()
	beta, corr := nanSlice(n), nanSlice(n)
	xs := make([]float64, 0, window)
	ys := make([]float64, 0, window)
	for i := range s.Bars {
		xs, ys = xs[:0], ys[:0]
		for k := max(i-window+1, 1); k <= i; k++ {
			prev := s.Bars[k-1].Close
			m, ok := marketReturn[dateKey(s.Bars[k].Date)]
			if !ok || !(prev > 0) {
				continue
			}
			xs = append(xs, s.Bars[k].Close/prev-1)
			ys = append(ys, m)
		}
		if len(xs) < minBetaSamples {
			continue
		}
		beta[i], corr[i] = betaCorr(xs, ys)
	}

	return withColumns(s, map[string][]float64{
		ColumnBeta:        beta,
		ColumnCorrelation: corr,
	}), nil
}

// betaCorr returns cov(x,m)/var(m) and the Pearson correlation of x and m.
func betaCorr(x, m []float64) (float64, float64) {
	n := float64(len(x))
	var mx, mm float64
	for i := range x {
		mx += x[i]
		mm += m[i]
	}
	mx /= n
	mm /= n

	var cov, vx, vm float64
	for i := range x {
		dx, dm := x[i]-mx, m[i]-mm
		cov += dx * dm
		vx += dx * dx
		vm += dm * dm
	}
	if vm == 0 {
		return math.NaN(), math.NaN()
	}
	beta := cov / vm
	if vx == 0 {
		return beta, math.NaN()
	}
	return beta, cov / math.Sqrt(vx*vm)
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

var _ Provider = (*BetaCorrelation)(nil)
