package memory

import (
	"sort"
	"sync"

	"regime-backtest-lab/internal/storage"
)

// table is an append-only keyed set of values guarded by a RWMutex.
// Values are copied in and out so callers never share memory with the store.
type table[V any] struct {
	mu   sync.RWMutex
	rows map[string]V
	key  func(*V) string // empty key means invalid input
}

func newTable[V any](key func(*V) string) *table[V] {
	return &table[V]{rows: make(map[string]V), key: key}
}

// insert stores every row or none. A row whose key exists, or repeats
// within the batch, rejects the whole batch with ErrDuplicateKey.
func (t *table[V]) insert(batch []*V) error {
	if len(batch) == 0 {
		return nil
	}

	keys := make([]string, len(batch))
	seen := make(map[string]bool, len(batch))
	for i, v := range batch {
		if v == nil {
			return storage.ErrInvalidInput
		}
		k := t.key(v)
		if k == "" {
			return storage.ErrInvalidInput
		}
		if seen[k] {
			return storage.ErrDuplicateKey
		}
		seen[k] = true
		keys[i] = k
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range keys {
		if _, ok := t.rows[k]; ok {
			return storage.ErrDuplicateKey
		}
	}
	for i, v := range batch {
		t.rows[keys[i]] = *v
	}
	return nil
}

func (t *table[V]) get(k string) (*V, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[k]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v, nil
}

// selectSorted returns copies of the rows accepted by keep, ordered by less.
// A nil keep selects everything.
func (t *table[V]) selectSorted(keep func(*V) bool, less func(a, b *V) bool) []*V {
	t.mu.RLock()
	out := make([]*V, 0, len(t.rows))
	for _, v := range t.rows {
		if keep != nil && !keep(&v) {
			continue
		}
		out = append(out, &v)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
