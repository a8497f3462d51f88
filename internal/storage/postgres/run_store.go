package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

var _ storage.RunStore = (*RunStore)(nil)

const selectRunSQL = `
	SELECT
		run_id, instrument, start_date, end_date, generator,
		regime, regime_confidence, initial_capital, effective_capital, bars,
		total_trades, wins, losses, total_return, win_rate,
		max_drawdown, sharpe_ratio, avg_holding_bars, max_consecutive_losses, final_capital,
		risk_rejections, created_at
	FROM backtest_runs
`

// Insert adds a run summary. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.RunSummary) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO backtest_runs (
			run_id, instrument, start_date, end_date, generator,
			regime, regime_confidence, initial_capital, effective_capital, bars,
			total_trades, wins, losses, total_return, win_rate,
			max_drawdown, sharpe_ratio, avg_holding_bars, max_consecutive_losses, final_capital,
			risk_rejections, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22
		)
	`
	m := r.Metrics
	_, err := s.pool.Exec(ctx, query,
		r.RunID, r.Instrument, r.Start, r.End, r.Generator,
		string(r.Regime), r.RegimeConfidence, r.InitialCapital, r.EffectiveCapital, r.Bars,
		m.TotalTrades, m.Wins, m.Losses, m.TotalReturn, m.WinRate,
		m.MaxDrawdown, m.SharpeRatio, m.AvgHoldingBars, m.MaxConsecutiveLosses, m.FinalCapital,
		r.RiskRejections, r.CreatedAt,
	)
	return mapError("insert backtest run", err)
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.RunSummary, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, selectRunSQL+` WHERE run_id = $1`, runID))
	if err != nil {
		return nil, mapError("get backtest run by id", err)
	}
	return r, nil
}

// GetAll retrieves all runs, ordered by created_at ASC, run_id ASC.
func (s *RunStore) GetAll(ctx context.Context) ([]*domain.RunSummary, error) {
	rows, err := s.pool.Query(ctx, selectRunSQL+` ORDER BY created_at ASC, run_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backtest run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backtest runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*domain.RunSummary, error) {
	var r domain.RunSummary
	var regime string
	m := &r.Metrics
	err := row.Scan(
		&r.RunID, &r.Instrument, &r.Start, &r.End, &r.Generator,
		&regime, &r.RegimeConfidence, &r.InitialCapital, &r.EffectiveCapital, &r.Bars,
		&m.TotalTrades, &m.Wins, &m.Losses, &m.TotalReturn, &m.WinRate,
		&m.MaxDrawdown, &m.SharpeRatio, &m.AvgHoldingBars, &m.MaxConsecutiveLosses, &m.FinalCapital,
		&r.RiskRejections, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Regime = domain.Regime(regime)
	r.Start = r.Start.UTC()
	r.End = r.End.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}
