package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

var day0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func createTestTradeRecord(tradeID, runID, instrument string, entryOffset int) *domain.TradeRecord {
	entry := day0.AddDate(0, 0, entryOffset)
	return &domain.TradeRecord{
		TradeID:     tradeID,
		RunID:       runID,
		Instrument:  instrument,
		EntryDate:   entry,
		EntryPrice:  100,
		Shares:      40,
		ExitDate:    entry.AddDate(0, 0, 3),
		ExitPrice:   94,
		ExitReason:  domain.ExitReasonStopLoss,
		ExitDetail:  "STOP_LOSS(-6.0%)",
		PnL:         -240,
		PnLPct:      -0.06,
		HoldingBars: 3,
	}
}

func TestTradeRecordStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeRecordStore(pool)

	trade := createTestTradeRecord("trade-001", "run-1", "005930", 0)
	require.NoError(t, store.Insert(ctx, trade))

	retrieved, err := store.GetByID(ctx, "trade-001")
	require.NoError(t, err)

	assert.Equal(t, trade.TradeID, retrieved.TradeID)
	assert.Equal(t, trade.RunID, retrieved.RunID)
	assert.Equal(t, trade.Instrument, retrieved.Instrument)
	assert.True(t, trade.EntryDate.Equal(retrieved.EntryDate))
	assert.True(t, trade.ExitDate.Equal(retrieved.ExitDate))
	assert.InDelta(t, trade.EntryPrice, retrieved.EntryPrice, 0.0001)
	assert.InDelta(t, trade.ExitPrice, retrieved.ExitPrice, 0.0001)
	assert.Equal(t, trade.Shares, retrieved.Shares)
	assert.Equal(t, trade.ExitReason, retrieved.ExitReason)
	assert.Equal(t, trade.ExitDetail, retrieved.ExitDetail)
	assert.InDelta(t, trade.PnL, retrieved.PnL, 0.0001)
	assert.InDelta(t, trade.PnLPct, retrieved.PnLPct, 0.0001)
	assert.Equal(t, trade.HoldingBars, retrieved.HoldingBars)
}

func TestTradeRecordStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeRecordStore(pool)

	trade := createTestTradeRecord("trade-dup", "run-1", "005930", 0)
	require.NoError(t, store.Insert(ctx, trade))

	err := store.Insert(ctx, trade)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestTradeRecordStore_GetByID_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewTradeRecordStore(pool).GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTradeRecordStore_InsertBulk(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeRecordStore(pool)

	trades := []*domain.TradeRecord{
		createTestTradeRecord("bulk-2", "run-1", "005930", 5),
		createTestTradeRecord("bulk-1", "run-1", "005930", 1),
		createTestTradeRecord("bulk-3", "run-2", "000660", 2),
	}
	require.NoError(t, store.InsertBulk(ctx, trades))

	byRun, err := store.GetByRunID(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, byRun, 2)
	assert.Equal(t, "bulk-1", byRun[0].TradeID, "ordered by entry_date")
	assert.Equal(t, "bulk-2", byRun[1].TradeID)

	byInstrument, err := store.GetByInstrument(ctx, "000660")
	require.NoError(t, err)
	require.Len(t, byInstrument, 1)
	assert.Equal(t, "run-2", byInstrument[0].RunID)
}

func TestTradeRecordStore_InsertBulk_Atomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeRecordStore(pool)

	require.NoError(t, store.Insert(ctx, createTestTradeRecord("existing", "run-1", "005930", 0)))

	err := store.InsertBulk(ctx, []*domain.TradeRecord{
		createTestTradeRecord("fresh", "run-9", "005930", 1),
		createTestTradeRecord("existing", "run-9", "005930", 2),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Nothing from the failed batch is visible
	got, err := store.GetByRunID(ctx, "run-9")
	require.NoError(t, err)
	assert.Empty(t, got)
}
