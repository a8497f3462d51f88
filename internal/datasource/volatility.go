package datasource

import (
	"context"
	"fmt"
	"time"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/lookup"
)

// IndexFetcher loads index bars.
type IndexFetcher interface {
	FetchIndexCandles(ctx context.Context, indexID string, start, end time.Time) (*domain.Series, error)
}

// IndexVolatility reports the latest close of a volatility index
// (VKOSPI, VIX, ...) as its level.
type IndexVolatility struct {
	src     IndexFetcher
	indexID string
}

// NewIndexVolatility creates an IndexVolatility over src.
func NewIndexVolatility(src IndexFetcher, indexID string) *IndexVolatility {
	return &IndexVolatility{src: src, indexID: indexID}
}

// Level returns the last valid close in [start, end].
func (v *IndexVolatility) Level(ctx context.Context, start, end time.Time) (float64, error) {
	s, err := v.src.FetchIndexCandles(ctx, v.indexID, start, end)
	if err != nil {
		return 0, err
	}
	level, err := lookup.CloseAt(end, s.Bars)
	if err != nil {
		return 0, fmt.Errorf("volatility index %s: %w", v.indexID, ErrNoBars)
	}
	return level, nil
}
