package metrics

import (
	"context"
	"errors"
	"sort"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

// ErrNoRuns is returned when no run summaries are available for aggregation.
var ErrNoRuns = errors.New("no runs available for aggregation")

// Aggregator computes strategy aggregates from stored run summaries.
type Aggregator struct {
	runStore storage.RunStore
	aggStore storage.StrategyAggregateStore
}

// NewAggregator creates a new metrics aggregator. aggStore may be nil when
// aggregates are only reported, never persisted.
func NewAggregator(runStore storage.RunStore, aggStore storage.StrategyAggregateStore) *Aggregator {
	return &Aggregator{runStore: runStore, aggStore: aggStore}
}

// ComputeAggregates loads every stored run and groups it by (generator, regime).
// Returns ErrNoRuns if the store is empty.
func (a *Aggregator) ComputeAggregates(ctx context.Context) ([]*domain.StrategyAggregate, error) {
	runs, err := a.runStore.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	return Aggregate(runs), nil
}

// ComputeAndStore computes and persists aggregates.
// Returns storage.ErrDuplicateKey if an aggregate already exists (append-only).
func (a *Aggregator) ComputeAndStore(ctx context.Context) ([]*domain.StrategyAggregate, error) {
	aggs, err := a.ComputeAggregates(ctx)
	if err != nil {
		return nil, err
	}
	if a.aggStore != nil {
		if err := a.aggStore.InsertBulk(ctx, aggs); err != nil {
			return nil, err
		}
	}
	return aggs, nil
}

type aggregateKey struct {
	generator string
	regime    domain.Regime
}

// Aggregate groups run summaries by (generator, regime). Groups are returned
// sorted by generator, then regime.
func Aggregate(runs []*domain.RunSummary) []*domain.StrategyAggregate {
	groups := make(map[aggregateKey][]*domain.RunSummary)
	for _, r := range runs {
		k := aggregateKey{generator: r.Generator, regime: r.Regime}
		groups[k] = append(groups[k], r)
	}

	keys := make([]aggregateKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].generator != keys[j].generator {
			return keys[i].generator < keys[j].generator
		}
		return keys[i].regime < keys[j].regime
	})

	out := make([]*domain.StrategyAggregate, 0, len(keys))
	for _, k := range keys {
		out = append(out, computeFromRuns(k, groups[k]))
	}
	return out
}

// computeFromRuns calculates one aggregate. Runs are ordered by CreatedAt ASC,
// RunID ASC before any order-dependent figure is taken.
func computeFromRuns(k aggregateKey, runs []*domain.RunSummary) *domain.StrategyAggregate {
	sorted := make([]*domain.RunSummary, len(runs))
	copy(sorted, runs)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].RunID < sorted[j].RunID
	})

	agg := &domain.StrategyAggregate{Generator: k.generator, Regime: k.regime, Runs: len(sorted)}
	returns := make([]float64, len(sorted))
	sharpes := make([]float64, len(sorted))
	for i, r := range sorted {
		m := r.Metrics
		agg.TotalTrades += m.TotalTrades
		agg.Wins += m.Wins
		agg.Losses += m.Losses
		if m.MaxDrawdown < agg.WorstDrawdown {
			agg.WorstDrawdown = m.MaxDrawdown
		}
		if m.MaxConsecutiveLosses > agg.MaxConsecutiveLosses {
			agg.MaxConsecutiveLosses = m.MaxConsecutiveLosses
		}
		returns[i] = m.TotalReturn
		sharpes[i] = m.SharpeRatio
	}
	agg.WinRate = computeWinRate(agg.Wins, agg.TotalTrades)

	ordered := sortedCopy(returns)
	agg.ReturnMean = computeMean(returns)
	agg.ReturnMedian = computePercentile(ordered, 0.50)
	agg.ReturnP10 = computePercentile(ordered, 0.10)
	agg.ReturnP25 = computePercentile(ordered, 0.25)
	agg.ReturnP75 = computePercentile(ordered, 0.75)
	agg.ReturnP90 = computePercentile(ordered, 0.90)
	agg.ReturnMin = ordered[0]
	agg.ReturnMax = ordered[len(ordered)-1]
	agg.ReturnStddev = computePopulationStddev(returns, agg.ReturnMean)
	agg.MeanSharpe = computeMean(sharpes)
	return agg
}
