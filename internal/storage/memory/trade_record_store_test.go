package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestTradeRecordStore_InsertAndGet(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	trade := &domain.TradeRecord{
		TradeID:    "trade1",
		RunID:      "run1",
		Instrument: "005930",
		EntryDate:  day(1),
		PnLPct:     0.05,
		ExitReason: domain.ExitReasonTrailing,
	}

	if err := store.Insert(ctx, trade); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "trade1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.PnLPct != 0.05 || got.ExitReason != domain.ExitReasonTrailing {
		t.Errorf("unexpected trade: %+v", got)
	}

	// Returned records are copies.
	got.PnLPct = 1
	again, _ := store.GetByID(ctx, "trade1")
	if again.PnLPct != 0.05 {
		t.Error("store returned a shared pointer")
	}
}

func TestTradeRecordStore_DuplicateKey(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	trade := &domain.TradeRecord{TradeID: "trade1", RunID: "run1"}
	if err := store.Insert(ctx, trade); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	if err := store.Insert(ctx, trade); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestTradeRecordStore_NotFound(t *testing.T) {
	store := NewTradeRecordStore()

	_, err := store.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTradeRecordStore_InsertBulk(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	trades := []*domain.TradeRecord{
		{TradeID: "t3", RunID: "r1", Instrument: "A", EntryDate: day(3)},
		{TradeID: "t1", RunID: "r1", Instrument: "A", EntryDate: day(1)},
		{TradeID: "t2", RunID: "r2", Instrument: "B", EntryDate: day(2)},
	}
	if err := store.InsertBulk(ctx, trades); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	byRun, err := store.GetByRunID(ctx, "r1")
	if err != nil {
		t.Fatalf("GetByRunID failed: %v", err)
	}
	if len(byRun) != 2 || byRun[0].TradeID != "t1" || byRun[1].TradeID != "t3" {
		t.Errorf("expected t1, t3 in entry order, got %+v", byRun)
	}

	byInst, err := store.GetByInstrument(ctx, "B")
	if err != nil {
		t.Fatalf("GetByInstrument failed: %v", err)
	}
	if len(byInst) != 1 || byInst[0].TradeID != "t2" {
		t.Errorf("expected t2, got %+v", byInst)
	}
}

func TestTradeRecordStore_InsertBulkAtomic(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.TradeRecord{TradeID: "t1"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Batch with one existing key fails and inserts nothing.
	err := store.InsertBulk(ctx, []*domain.TradeRecord{{TradeID: "t2"}, {TradeID: "t1"}})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}
	if _, err := store.GetByID(ctx, "t2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("partial batch was inserted")
	}

	// Intra-batch duplicate
	err = store.InsertBulk(ctx, []*domain.TradeRecord{{TradeID: "t5"}, {TradeID: "t5"}})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}

	if err := store.InsertBulk(ctx, []*domain.TradeRecord{{TradeID: ""}}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestRunStore(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	runs := []*domain.RunSummary{
		{RunID: "b", Instrument: "A", CreatedAt: day(1)},
		{RunID: "a", Instrument: "B", CreatedAt: day(1)},
		{RunID: "c", Instrument: "C", CreatedAt: day(0)},
	}
	for _, r := range runs {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	if err := store.Insert(ctx, runs[0]); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	all, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	var ids []string
	for _, r := range all {
		ids = append(ids, r.RunID)
	}
	if len(ids) != 3 || ids[0] != "c" || ids[1] != "a" || ids[2] != "b" {
		t.Errorf("expected order c, a, b, got %v", ids)
	}
}
