// Package datasource serves bar series to the simulation runner.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

// ErrNoBars is returned by IndexVolatility when the index has no bars in range.
var ErrNoBars = errors.New("no bars in range")

// StoreSource reads instrument and index bars from a BarStore.
// Index series are stored under their index id like any instrument.
type StoreSource struct {
	bars storage.BarStore
}

// NewStoreSource creates a StoreSource.
func NewStoreSource(bars storage.BarStore) *StoreSource {
	return &StoreSource{bars: bars}
}

// FetchCandles returns the bars of instrument within [start, end].
// An empty range yields an empty series, not an error.
func (s *StoreSource) FetchCandles(ctx context.Context, instrument string, start, end time.Time) (*domain.Series, error) {
	bars, err := s.bars.GetByTimeRange(ctx, instrument, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", instrument, err)
	}
	return &domain.Series{Instrument: instrument, Bars: bars}, nil
}

// FetchIndexCandles returns the bars of a market index within [start, end].
func (s *StoreSource) FetchIndexCandles(ctx context.Context, indexID string, start, end time.Time) (*domain.Series, error) {
	return s.FetchCandles(ctx, indexID, start, end)
}
