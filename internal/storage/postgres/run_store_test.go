package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
	"regime-backtest-lab/internal/storage/migrations"
)

func createTestRun(runID string, createdAt time.Time) *domain.RunSummary {
	return &domain.RunSummary{
		RunID:            runID,
		Instrument:       "005930",
		Start:            day0,
		End:              day0.AddDate(0, 6, 0),
		Generator:        "trend_following",
		Regime:           domain.RegimeBull,
		RegimeConfidence: 0.75,
		InitialCapital:   10_000_000,
		EffectiveCapital: 10_000_000,
		Bars:             120,
		Metrics: domain.PerformanceMetrics{
			TotalTrades:          4,
			Wins:                 3,
			Losses:               1,
			TotalReturn:          0.12,
			WinRate:              0.75,
			MaxDrawdown:          -0.04,
			SharpeRatio:          1.3,
			AvgHoldingBars:       7.5,
			MaxConsecutiveLosses: 1,
			FinalCapital:         11_200_000,
		},
		RiskRejections: 2,
		CreatedAt:      createdAt,
	}
}

func TestRunStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunStore(pool)

	run := createTestRun("run-1", day0.Add(time.Hour))
	require.NoError(t, store.Insert(ctx, run))

	got, err := store.GetByID(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, run.Instrument, got.Instrument)
	assert.Equal(t, run.Generator, got.Generator)
	assert.Equal(t, run.Regime, got.Regime)
	assert.InDelta(t, run.RegimeConfidence, got.RegimeConfidence, 1e-9)
	assert.Equal(t, run.Bars, got.Bars)
	assert.Equal(t, run.Metrics, got.Metrics)
	assert.Equal(t, run.RiskRejections, got.RiskRejections)
	assert.True(t, run.Start.Equal(got.Start))
	assert.True(t, run.CreatedAt.Equal(got.CreatedAt))

	assert.ErrorIs(t, store.Insert(ctx, run), storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunStore_GetAllOrdered(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunStore(pool)

	require.NoError(t, store.Insert(ctx, createTestRun("run-b", day0.Add(2*time.Hour))))
	require.NoError(t, store.Insert(ctx, createTestRun("run-c", day0.Add(time.Hour))))
	require.NoError(t, store.Insert(ctx, createTestRun("run-a", day0.Add(2*time.Hour))))

	runs, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-c", runs[0].RunID)
	assert.Equal(t, "run-a", runs[1].RunID)
	assert.Equal(t, "run-b", runs[2].RunID)
}

func TestMigrations_ReapplyIsNoop(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	applied, err := migrations.ApplyPostgres(context.Background(), pool)
	require.NoError(t, err)
	assert.Empty(t, applied, "already-recorded migrations must not run again")
}
