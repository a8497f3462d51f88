package memory

import (
	"context"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

// TradeRecordStore keeps closed trades in memory, keyed by trade id.
type TradeRecordStore struct {
	t *table[domain.TradeRecord]
}

func NewTradeRecordStore() *TradeRecordStore {
	return &TradeRecordStore{
		t: newTable(func(tr *domain.TradeRecord) string { return tr.TradeID }),
	}
}

func (s *TradeRecordStore) Insert(_ context.Context, tr *domain.TradeRecord) error {
	return s.t.insert([]*domain.TradeRecord{tr})
}

func (s *TradeRecordStore) InsertBulk(_ context.Context, trades []*domain.TradeRecord) error {
	return s.t.insert(trades)
}

func (s *TradeRecordStore) GetByID(_ context.Context, tradeID string) (*domain.TradeRecord, error) {
	return s.t.get(tradeID)
}

// GetByRunID returns the run's trades by entry date, then trade id.
func (s *TradeRecordStore) GetByRunID(_ context.Context, runID string) ([]*domain.TradeRecord, error) {
	return s.t.selectSorted(func(tr *domain.TradeRecord) bool { return tr.RunID == runID }, byEntry), nil
}

// GetByInstrument returns every run's trades for one instrument, same order as GetByRunID.
func (s *TradeRecordStore) GetByInstrument(_ context.Context, instrument string) ([]*domain.TradeRecord, error) {
	return s.t.selectSorted(func(tr *domain.TradeRecord) bool { return tr.Instrument == instrument }, byEntry), nil
}

func byEntry(a, b *domain.TradeRecord) bool {
	if a.EntryDate.Equal(b.EntryDate) {
		return a.TradeID < b.TradeID
	}
	return a.EntryDate.Before(b.EntryDate)
}

var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)
