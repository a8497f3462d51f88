package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

// BarStore is an in-memory implementation of storage.BarStore.
type BarStore struct {
	mu   sync.RWMutex
	data map[string]map[string]domain.Bar // instrument -> date key -> bar
}

// NewBarStore creates a new in-memory bar store.
func NewBarStore() *BarStore {
	return &BarStore{
		data: make(map[string]map[string]domain.Bar),
	}
}

// dateKey generates a unique key for a session date.
func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// InsertBulk adds bars for one instrument. Fails entire batch on duplicate.
func (s *BarStore) InsertBulk(_ context.Context, instrument string, bars []domain.Bar) error {
	if instrument == "" {
		return storage.ErrInvalidInput
	}
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.data[instrument]

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(bars))

	// First pass: check for duplicates (existing + intra-batch)
	for _, b := range bars {
		if b.Date.IsZero() {
			return storage.ErrInvalidInput
		}
		key := dateKey(b.Date)
		if _, exists := existing[key]; exists {
			return fmt.Errorf("%w: %s %s", storage.ErrDuplicateKey, instrument, key)
		}
		if _, exists := batchKeys[key]; exists {
			return fmt.Errorf("%w: %s %s", storage.ErrDuplicateKey, instrument, key)
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	if existing == nil {
		existing = make(map[string]domain.Bar, len(bars))
		s.data[instrument] = existing
	}
	for _, b := range bars {
		existing[dateKey(b.Date)] = b.WithIndicators(nil)
	}

	return nil
}

// GetByTimeRange retrieves bars within [start, end] (inclusive), ordered by date ASC.
func (s *BarStore) GetByTimeRange(_ context.Context, instrument string, start, end time.Time) ([]domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Bar
	for _, b := range s.data[instrument] {
		if b.Date.Before(start) || b.Date.After(end) {
			continue
		}
		result = append(result, b.WithIndicators(nil))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})

	return result, nil
}

// Instruments lists every stored instrument, sorted ASC.
func (s *BarStore) Instruments(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.data))
	for inst := range s.data {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out, nil
}

var _ storage.BarStore = (*BarStore)(nil)
