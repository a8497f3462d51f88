package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

// TradeRecordStore implements storage.TradeRecordStore using PostgreSQL.
type TradeRecordStore struct {
	pool *Pool
}

// NewTradeRecordStore creates a new TradeRecordStore.
func NewTradeRecordStore(pool *Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)

const insertTradeRecordSQL = `
	INSERT INTO trade_records (
		trade_id, run_id, instrument,
		entry_date, entry_price, shares,
		exit_date, exit_price, exit_reason, exit_detail,
		pnl, pnl_pct, holding_bars
	) VALUES (
		$1, $2, $3,
		$4, $5, $6,
		$7, $8, $9, $10,
		$11, $12, $13
	)
`

const selectTradeRecordSQL = `
	SELECT
		trade_id, run_id, instrument,
		entry_date, entry_price, shares,
		exit_date, exit_price, exit_reason, exit_detail,
		pnl, pnl_pct, holding_bars
	FROM trade_records
`

func tradeRecordArgs(t *domain.TradeRecord) []any {
	return []any{
		t.TradeID, t.RunID, t.Instrument,
		t.EntryDate, t.EntryPrice, t.Shares,
		t.ExitDate, t.ExitPrice, string(t.ExitReason), t.ExitDetail,
		t.PnL, t.PnLPct, t.HoldingBars,
	}
}

// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeRecordStore) Insert(ctx context.Context, t *domain.TradeRecord) error {
	if t == nil || t.TradeID == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, insertTradeRecordSQL, tradeRecordArgs(t)...)
	return mapError("insert trade record", err)
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeRecordStore) InsertBulk(ctx context.Context, trades []*domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		if t == nil || t.TradeID == "" {
			return storage.ErrInvalidInput
		}
		batch.Queue(insertTradeRecordSQL, tradeRecordArgs(t)...)
	}

	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range trades {
			if _, err := results.Exec(); err != nil {
				return mapError("insert trade record in bulk", err)
			}
		}
		return results.Close()
	})
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error) {
	row := s.pool.QueryRow(ctx, selectTradeRecordSQL+` WHERE trade_id = $1`, tradeID)
	t, err := scanTradeRecord(row)
	if err != nil {
		return nil, mapError("get trade record by id", err)
	}
	return t, nil
}

// GetByRunID retrieves all trades of a run, ordered by entry_date ASC.
func (s *TradeRecordStore) GetByRunID(ctx context.Context, runID string) ([]*domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, selectTradeRecordSQL+` WHERE run_id = $1 ORDER BY entry_date ASC, trade_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query trade records by run: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

// GetByInstrument retrieves all trades for an instrument across runs.
func (s *TradeRecordStore) GetByInstrument(ctx context.Context, instrument string) ([]*domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, selectTradeRecordSQL+` WHERE instrument = $1 ORDER BY entry_date ASC, trade_id ASC`, instrument)
	if err != nil {
		return nil, fmt.Errorf("query trade records by instrument: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

func scanTradeRecord(row pgx.Row) (*domain.TradeRecord, error) {
	var t domain.TradeRecord
	var reason string
	err := row.Scan(
		&t.TradeID, &t.RunID, &t.Instrument,
		&t.EntryDate, &t.EntryPrice, &t.Shares,
		&t.ExitDate, &t.ExitPrice, &reason, &t.ExitDetail,
		&t.PnL, &t.PnLPct, &t.HoldingBars,
	)
	if err != nil {
		return nil, err
	}
	t.ExitReason = domain.ExitReason(reason)
	t.EntryDate = t.EntryDate.UTC()
	t.ExitDate = t.ExitDate.UTC()
	return &t, nil
}

func scanTradeRecords(rows pgx.Rows) ([]*domain.TradeRecord, error) {
	var trades []*domain.TradeRecord
	for rows.Next() {
		t, err := scanTradeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade record: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade records: %w", err)
	}
	return trades, nil
}
