package memory

import (
	"context"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

// StrategyAggregateStore keeps one aggregate per (generator, regime).
type StrategyAggregateStore struct {
	t *table[domain.StrategyAggregate]
}

func NewStrategyAggregateStore() *StrategyAggregateStore {
	return &StrategyAggregateStore{
		t: newTable(func(a *domain.StrategyAggregate) string {
			if a.Generator == "" {
				return ""
			}
			return aggregateKey(a.Generator, a.Regime)
		}),
	}
}

func aggregateKey(generator string, regime domain.Regime) string {
	return generator + "\x00" + string(regime)
}

func (s *StrategyAggregateStore) Insert(_ context.Context, a *domain.StrategyAggregate) error {
	return s.t.insert([]*domain.StrategyAggregate{a})
}

func (s *StrategyAggregateStore) InsertBulk(_ context.Context, aggregates []*domain.StrategyAggregate) error {
	return s.t.insert(aggregates)
}

func (s *StrategyAggregateStore) GetByKey(_ context.Context, generator string, regime domain.Regime) (*domain.StrategyAggregate, error) {
	return s.t.get(aggregateKey(generator, regime))
}

// GetAll orders by generator, then regime.
func (s *StrategyAggregateStore) GetAll(_ context.Context) ([]*domain.StrategyAggregate, error) {
	return s.t.selectSorted(nil, func(a, b *domain.StrategyAggregate) bool {
		if a.Generator != b.Generator {
			return a.Generator < b.Generator
		}
		return a.Regime < b.Regime
	}), nil
}

var _ storage.StrategyAggregateStore = (*StrategyAggregateStore)(nil)
