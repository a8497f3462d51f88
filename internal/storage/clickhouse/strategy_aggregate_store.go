package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

// StrategyAggregateStore implements storage.StrategyAggregateStore using ClickHouse.
type StrategyAggregateStore struct {
	conn *Conn
}

// NewStrategyAggregateStore creates a new StrategyAggregateStore.
func NewStrategyAggregateStore(conn *Conn) *StrategyAggregateStore {
	return &StrategyAggregateStore{conn: conn}
}

// Compile-time interface check.
var _ storage.StrategyAggregateStore = (*StrategyAggregateStore)(nil)

const aggregateColumns = `
	generator, regime,
	runs, total_trades, wins, losses, win_rate,
	return_mean, return_median, return_p10, return_p25, return_p75, return_p90,
	return_min, return_max, return_stddev,
	worst_drawdown, mean_sharpe, max_consecutive_losses
`

// Insert adds a new aggregate. Returns ErrDuplicateKey if key exists.
func (s *StrategyAggregateStore) Insert(ctx context.Context, a *domain.StrategyAggregate) error {
	return s.InsertBulk(ctx, []*domain.StrategyAggregate{a})
}

// InsertBulk adds multiple aggregates atomically. Fails entire batch on any duplicate.
func (s *StrategyAggregateStore) InsertBulk(ctx context.Context, aggregates []*domain.StrategyAggregate) error {
	if len(aggregates) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[string]struct{})
	for _, a := range aggregates {
		if a == nil || a.Generator == "" {
			return storage.ErrInvalidInput
		}
		key := a.Generator + "|" + string(a.Regime)
		if _, exists := seen[key]; exists {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, a := range aggregates {
		n, err := s.conn.count(ctx, `
			SELECT count(*) FROM strategy_aggregates FINAL
			WHERE generator = ? AND regime = ?
		`, a.Generator, string(a.Regime))
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if n > 0 {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO strategy_aggregates (`+aggregateColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, a := range aggregates {
		err = batch.Append(
			a.Generator, string(a.Regime),
			int32(a.Runs), int32(a.TotalTrades), int32(a.Wins), int32(a.Losses), a.WinRate,
			a.ReturnMean, a.ReturnMedian, a.ReturnP10, a.ReturnP25, a.ReturnP75, a.ReturnP90,
			a.ReturnMin, a.ReturnMax, a.ReturnStddev,
			a.WorstDrawdown, a.MeanSharpe, int32(a.MaxConsecutiveLosses),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByKey retrieves an aggregate by its composite key.
func (s *StrategyAggregateStore) GetByKey(ctx context.Context, generator string, regime domain.Regime) (*domain.StrategyAggregate, error) {
	query := `SELECT ` + aggregateColumns + `
		FROM strategy_aggregates FINAL
		WHERE generator = ? AND regime = ?
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, generator, string(regime))
	if err != nil {
		return nil, fmt.Errorf("query by key: %w", err)
	}
	defer rows.Close()

	aggs, err := scanStrategyAggregates(rows)
	if err != nil {
		return nil, err
	}
	if len(aggs) == 0 {
		return nil, storage.ErrNotFound
	}
	return aggs[0], nil
}

// GetAll retrieves all aggregates ordered by generator, regime.
func (s *StrategyAggregateStore) GetAll(ctx context.Context) ([]*domain.StrategyAggregate, error) {
	query := `SELECT ` + aggregateColumns + `
		FROM strategy_aggregates FINAL
		ORDER BY generator ASC, regime ASC
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()

	return scanStrategyAggregates(rows)
}

// scanStrategyAggregates scans multiple rows into a slice.
func scanStrategyAggregates(rows driver.Rows) ([]*domain.StrategyAggregate, error) {
	var aggregates []*domain.StrategyAggregate

	for rows.Next() {
		var a domain.StrategyAggregate
		var regime string
		var runs, trades, wins, losses, maxLosses int32
		err := rows.Scan(
			&a.Generator, &regime,
			&runs, &trades, &wins, &losses, &a.WinRate,
			&a.ReturnMean, &a.ReturnMedian, &a.ReturnP10, &a.ReturnP25, &a.ReturnP75, &a.ReturnP90,
			&a.ReturnMin, &a.ReturnMax, &a.ReturnStddev,
			&a.WorstDrawdown, &a.MeanSharpe, &maxLosses,
		)
		if err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		a.Regime = domain.Regime(regime)
		a.Runs = int(runs)
		a.TotalTrades = int(trades)
		a.Wins = int(wins)
		a.Losses = int(losses)
		a.MaxConsecutiveLosses = int(maxLosses)
		aggregates = append(aggregates, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate rows: %w", err)
	}

	return aggregates, nil
}
