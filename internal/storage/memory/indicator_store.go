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

// IndicatorStore is an in-memory implementation of storage.IndicatorStore.
type IndicatorStore struct {
	mu   sync.RWMutex
	data map[string]*domain.IndicatorPoint // keyed by (instrument, date, name)
}

// NewIndicatorStore creates a new in-memory indicator store.
func NewIndicatorStore() *IndicatorStore {
	return &IndicatorStore{
		data: make(map[string]*domain.IndicatorPoint),
	}
}

// indicatorKey generates a unique key for an indicator point.
func indicatorKey(p *domain.IndicatorPoint) string {
	return fmt.Sprintf("%s|%s|%s", p.Instrument, dateKey(p.Date), p.Name)
}

// InsertBulk adds multiple points. Fails entire batch on duplicate.
func (s *IndicatorStore) InsertBulk(_ context.Context, points []*domain.IndicatorPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(points))

	for _, p := range points {
		if p == nil || p.Instrument == "" || p.Name == "" {
			return storage.ErrInvalidInput
		}
		key := indicatorKey(p)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, p := range points {
		pointCopy := *p
		s.data[indicatorKey(p)] = &pointCopy
	}

	return nil
}

// GetByTimeRange retrieves points within [start, end] (inclusive), ordered by date, name.
func (s *IndicatorStore) GetByTimeRange(_ context.Context, instrument string, start, end time.Time) ([]*domain.IndicatorPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.IndicatorPoint
	for _, p := range s.data {
		if p.Instrument == instrument && !p.Date.Before(start) && !p.Date.After(end) {
			pointCopy := *p
			result = append(result, &pointCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].Name < result[j].Name
	})

	return result, nil
}

var _ storage.IndicatorStore = (*IndicatorStore)(nil)
