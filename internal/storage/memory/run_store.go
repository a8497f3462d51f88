package memory

import (
	"context"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

// RunStore keeps run summaries in memory, keyed by run id.
type RunStore struct {
	t *table[domain.RunSummary]
}

func NewRunStore() *RunStore {
	return &RunStore{
		t: newTable(func(r *domain.RunSummary) string { return r.RunID }),
	}
}

func (s *RunStore) Insert(_ context.Context, r *domain.RunSummary) error {
	return s.t.insert([]*domain.RunSummary{r})
}

func (s *RunStore) GetByID(_ context.Context, runID string) (*domain.RunSummary, error) {
	return s.t.get(runID)
}

// GetAll returns runs oldest first; ties break on run id.
func (s *RunStore) GetAll(_ context.Context) ([]*domain.RunSummary, error) {
	return s.t.selectSorted(nil, func(a, b *domain.RunSummary) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.RunID < b.RunID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}), nil
}

var _ storage.RunStore = (*RunStore)(nil)
