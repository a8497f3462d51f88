package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"regime-backtest-lab/internal/config"
	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/observability"
	"regime-backtest-lab/internal/storage"
	chstore "regime-backtest-lab/internal/storage/clickhouse"
	"regime-backtest-lab/internal/storage/memory"
	"regime-backtest-lab/internal/storage/migrations"
	pgstore "regime-backtest-lab/internal/storage/postgres"
)

// Stores groups every persistence interface the service uses.
type Stores struct {
	Bars       storage.BarStore
	Indicators storage.IndicatorStore
	Trades     storage.TradeRecordStore
	Runs       storage.RunStore
	Aggregates storage.StrategyAggregateStore
}

// MemoryStores returns empty in-memory stores.
func MemoryStores() Stores {
	return Stores{
		Bars:       memory.NewBarStore(),
		Indicators: memory.NewIndicatorStore(),
		Trades:     memory.NewTradeRecordStore(),
		Runs:       memory.NewRunStore(),
		Aggregates: memory.NewStrategyAggregateStore(),
	}
}

// OpenStores connects the configured backend. The sql backend keeps runs and
// trades in Postgres and bars, indicators and aggregates in ClickHouse.
// The returned func closes every connection.
func OpenStores(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Stores, func(), error) {
	if cfg.Backend != config.BackendSQL {
		return MemoryStores(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return Stores{}, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if cfg.Migrate {
		applied, err := migrations.ApplyPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return Stores{}, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("postgres migrations applied", zap.Strings("files", applied))

		if err := chstore.EnsureDatabase(ctx, cfg.ClickHouseDSN); err != nil {
			pool.Close()
			return Stores{}, nil, fmt.Errorf("ensure clickhouse database: %w", err)
		}
	}

	chConn, err := chstore.NewConn(ctx, cfg.ClickHouseDSN)
	if err != nil {
		pool.Close()
		return Stores{}, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	if cfg.Migrate {
		applied, err := migrations.ApplyClickhouse(ctx, chConn)
		if err != nil {
			chConn.Close()
			pool.Close()
			return Stores{}, nil, fmt.Errorf("migrate clickhouse: %w", err)
		}
		logger.Info("clickhouse migrations applied", zap.Strings("files", applied))
	}
	logger.Info("connected to sql backend", zap.Bool("migrated", cfg.Migrate))

	stores := Stores{
		// Postgres: transactional run output
		Trades: pgstore.NewTradeRecordStore(pool),
		Runs:   pgstore.NewRunStore(pool),

		// ClickHouse: market data and analytics
		Bars:       chstore.NewBarStore(chConn),
		Indicators: chstore.NewIndicatorStore(chConn),
		Aggregates: chstore.NewStrategyAggregateStore(chConn),
	}
	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// Instrument wraps the run and trade stores with query metrics.
// A nil m returns s unchanged.
func (s Stores) Instrument(m *observability.Metrics) Stores {
	if m == nil {
		return s
	}
	if s.Runs != nil {
		s.Runs = &timedRunStore{next: s.Runs, m: m}
	}
	if s.Trades != nil {
		s.Trades = &timedTradeStore{next: s.Trades, m: m}
	}
	return s
}

// timedRunStore and timedTradeStore record one query observation per call.
// ErrNotFound lookups are not counted as errors.
type timedRunStore struct {
	next storage.RunStore
	m    *observability.Metrics
}

var _ storage.RunStore = (*timedRunStore)(nil)

func (t *timedRunStore) Insert(ctx context.Context, r *domain.RunSummary) error {
	began := time.Now()
	err := t.next.Insert(ctx, r)
	t.m.RecordDBQuery("backtest_runs", "insert", time.Since(began).Seconds(), err)
	return err
}

func (t *timedRunStore) GetByID(ctx context.Context, runID string) (*domain.RunSummary, error) {
	began := time.Now()
	r, err := t.next.GetByID(ctx, runID)
	t.m.RecordDBQuery("backtest_runs", "get_by_id", time.Since(began).Seconds(), ignoreNotFound(err))
	return r, err
}

func (t *timedRunStore) GetAll(ctx context.Context) ([]*domain.RunSummary, error) {
	began := time.Now()
	r, err := t.next.GetAll(ctx)
	t.m.RecordDBQuery("backtest_runs", "get_all", time.Since(began).Seconds(), err)
	return r, err
}

type timedTradeStore struct {
	next storage.TradeRecordStore
	m    *observability.Metrics
}

var _ storage.TradeRecordStore = (*timedTradeStore)(nil)

func (t *timedTradeStore) Insert(ctx context.Context, tr *domain.TradeRecord) error {
	began := time.Now()
	err := t.next.Insert(ctx, tr)
	t.m.RecordDBQuery("trade_records", "insert", time.Since(began).Seconds(), err)
	return err
}

func (t *timedTradeStore) InsertBulk(ctx context.Context, trades []*domain.TradeRecord) error {
	began := time.Now()
	err := t.next.InsertBulk(ctx, trades)
	t.m.RecordDBQuery("trade_records", "insert_bulk", time.Since(began).Seconds(), err)
	return err
}

func (t *timedTradeStore) GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error) {
	began := time.Now()
	tr, err := t.next.GetByID(ctx, tradeID)
	t.m.RecordDBQuery("trade_records", "get_by_id", time.Since(began).Seconds(), ignoreNotFound(err))
	return tr, err
}

func (t *timedTradeStore) GetByRunID(ctx context.Context, runID string) ([]*domain.TradeRecord, error) {
	began := time.Now()
	trades, err := t.next.GetByRunID(ctx, runID)
	t.m.RecordDBQuery("trade_records", "get_by_run", time.Since(began).Seconds(), err)
	return trades, err
}

func (t *timedTradeStore) GetByInstrument(ctx context.Context, instrument string) ([]*domain.TradeRecord, error) {
	began := time.Now()
	trades, err := t.next.GetByInstrument(ctx, instrument)
	t.m.RecordDBQuery("trade_records", "get_by_instrument", time.Since(began).Seconds(), err)
	return trades, err
}

func ignoreNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
