package clickhouse

import (
	"context"
	"fmt"
	"time"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

// IndicatorStore implements storage.IndicatorStore using ClickHouse.
type IndicatorStore struct {
	conn *Conn
}

// NewIndicatorStore creates a new IndicatorStore.
func NewIndicatorStore(conn *Conn) *IndicatorStore {
	return &IndicatorStore{conn: conn}
}

var _ storage.IndicatorStore = (*IndicatorStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate (instrument, date, name).
func (s *IndicatorStore) InsertBulk(ctx context.Context, points []*domain.IndicatorPoint) error {
	if len(points) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.Instrument == "" || p.Name == "" {
			return storage.ErrInvalidInput
		}
		k := p.Instrument + "|" + dayKey(p.Date) + "|" + p.Name
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, p := range points {
		n, err := s.conn.count(ctx, `
			SELECT count(*) FROM indicator_values FINAL
			WHERE instrument = ? AND date = ? AND name = ?
		`, p.Instrument, p.Date, p.Name)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if n > 0 {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO indicator_values (instrument, date, name, value)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, p := range points {
		if err := batch.Append(p.Instrument, p.Date, p.Name, p.Value); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves points for an instrument within [start, end] (inclusive),
// ordered by date ASC, name ASC.
func (s *IndicatorStore) GetByTimeRange(ctx context.Context, instrument string, start, end time.Time) ([]*domain.IndicatorPoint, error) {
	query := `
		SELECT instrument, date, name, value
		FROM indicator_values FINAL
		WHERE instrument = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, name ASC
	`

	rows, err := s.conn.Query(ctx, query, instrument, start, end)
	if err != nil {
		return nil, fmt.Errorf("query indicators by time range: %w", err)
	}
	defer rows.Close()

	var points []*domain.IndicatorPoint
	for rows.Next() {
		var p domain.IndicatorPoint
		if err := rows.Scan(&p.Instrument, &p.Date, &p.Name, &p.Value); err != nil {
			return nil, fmt.Errorf("scan indicator row: %w", err)
		}
		p.Date = p.Date.UTC()
		points = append(points, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indicator rows: %w", err)
	}
	return points, nil
}
