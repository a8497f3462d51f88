package indicator

import (
	"context"
	"fmt"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

// StoreProvider joins precomputed indicator columns from an IndicatorStore
// onto bars by session date. Bars without a stored value keep NaN.
type StoreProvider struct {
	store storage.IndicatorStore
}

// NewStoreProvider creates a StoreProvider.
func NewStoreProvider(store storage.IndicatorStore) *StoreProvider {
	return &StoreProvider{store: store}
}

// Name implements Provider.
func (p *StoreProvider) Name() string { return "store" }

// Compute implements Provider.
func (p *StoreProvider) Compute(ctx context.Context, s *domain.Series, _ domain.StrategyParams) (*domain.Series, error) {
	if s.Len() == 0 {
		return s, nil
	}
	start, end := s.Bars[0].Date, s.Bars[s.Len()-1].Date
	points, err := p.store.GetByTimeRange(ctx, s.Instrument, start, end)
	if err != nil {
		return nil, fmt.Errorf("load indicators for %s: %w", s.Instrument, err)
	}

	byDate := make(map[string]map[string]float64)
	for _, pt := range points {
		k := dateKey(pt.Date)
		if byDate[k] == nil {
			byDate[k] = make(map[string]float64)
		}
		byDate[k][pt.Name] = pt.Value
	}

	out := &domain.Series{Instrument: s.Instrument, Bars: make([]domain.Bar, s.Len())}
	for i, b := range s.Bars {
		out.Bars[i] = b.WithIndicators(byDate[dateKey(b.Date)])
	}
	return out, nil
}

var _ Provider = (*StoreProvider)(nil)
