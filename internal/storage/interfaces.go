package storage

import (
	"context"
	"time"

	"regime-backtest-lab/internal/domain"
)

// BarStore provides access to daily_bars storage.
type BarStore interface {
	// InsertBulk adds bars for one instrument atomically.
	// Fails entire batch on duplicate (instrument, date).
	InsertBulk(ctx context.Context, instrument string, bars []domain.Bar) error

	// GetByTimeRange retrieves bars for an instrument within [start, end] (inclusive), ordered by date ASC.
	GetByTimeRange(ctx context.Context, instrument string, start, end time.Time) ([]domain.Bar, error)

	// Instruments lists every instrument with at least one bar, sorted ASC.
	Instruments(ctx context.Context) ([]string, error)
}

// IndicatorStore provides access to indicator_values storage.
type IndicatorStore interface {
	// InsertBulk adds multiple points. Fails entire batch on duplicate (instrument, date, name).
	InsertBulk(ctx context.Context, points []*domain.IndicatorPoint) error

	// GetByTimeRange retrieves points for an instrument within [start, end] (inclusive),
	// ordered by date ASC, name ASC.
	GetByTimeRange(ctx context.Context, instrument string, start, end time.Time) ([]*domain.IndicatorPoint, error)
}

// TradeRecordStore provides access to trade_records storage.
type TradeRecordStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
	Insert(ctx context.Context, t *domain.TradeRecord) error

	// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, trades []*domain.TradeRecord) error

	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error)

	// GetByRunID retrieves all trades of a run, ordered by entry_date ASC.
	GetByRunID(ctx context.Context, runID string) ([]*domain.TradeRecord, error)

	// GetByInstrument retrieves all trades for an instrument across runs.
	GetByInstrument(ctx context.Context, instrument string) ([]*domain.TradeRecord, error)
}

// RunStore provides access to backtest_runs storage.
type RunStore interface {
	// Insert adds a run summary. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.RunSummary) error

	// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.RunSummary, error)

	// GetAll retrieves all runs, ordered by created_at ASC, run_id ASC.
	GetAll(ctx context.Context) ([]*domain.RunSummary, error)
}

// StrategyAggregateStore provides access to strategy_aggregates storage.
type StrategyAggregateStore interface {
	// Insert adds a new aggregate. Returns ErrDuplicateKey if key exists.
	Insert(ctx context.Context, a *domain.StrategyAggregate) error

	// InsertBulk adds multiple aggregates atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, aggregates []*domain.StrategyAggregate) error

	// GetByKey retrieves an aggregate by its composite key.
	GetByKey(ctx context.Context, generator string, regime domain.Regime) (*domain.StrategyAggregate, error)

	// GetAll retrieves all aggregates.
	GetAll(ctx context.Context) ([]*domain.StrategyAggregate, error)
}
