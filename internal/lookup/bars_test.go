package lookup

import (
	"math"
	"testing"
	"time"

	"regime-backtest-lab/internal/domain"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bar(day int, close float64) domain.Bar {
	return domain.Bar{Date: day0.AddDate(0, 0, day), Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func TestIndexAt(t *testing.T) {
	bars := []domain.Bar{bar(0, 1), bar(2, 2), bar(4, 3)}

	tests := []struct {
		name   string
		target time.Time
		want   int
	}{
		{"before first", day0.AddDate(0, 0, -1), -1},
		{"exact first", day0, 0},
		{"between", day0.AddDate(0, 0, 3), 1},
		{"exact last", day0.AddDate(0, 0, 4), 2},
		{"after last", day0.AddDate(0, 0, 10), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IndexAt(tt.target, bars); got != tt.want {
				t.Errorf("IndexAt = %d, want %d", got, tt.want)
			}
		})
	}

	if got := IndexAt(day0, nil); got != -1 {
		t.Errorf("IndexAt on empty slice = %d, want -1", got)
	}
}

func TestCloseAt_EmptySlice(t *testing.T) {
	if _, err := CloseAt(day0, nil); err != ErrNoPriceData {
		t.Errorf("expected ErrNoPriceData, got %v", err)
	}
}

func TestCloseAt_BeforeTarget(t *testing.T) {
	bars := []domain.Bar{bar(0, 1), bar(2, 2), bar(4, 3)}

	// Day 3 resolves to the bar on day 2
	price, err := CloseAt(day0.AddDate(0, 0, 3), bars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 2.0 {
		t.Errorf("expected 2.0, got %f", price)
	}
}

func TestCloseAt_BeforeFirst(t *testing.T) {
	bars := []domain.Bar{bar(1, 1)}

	if _, err := CloseAt(day0, bars); err != ErrNoPriceData {
		t.Errorf("expected ErrNoPriceData, got %v", err)
	}
}

func TestCloseAt_SkipsInvalidBars(t *testing.T) {
	bad := bar(2, 2)
	bad.Close = math.NaN()
	bars := []domain.Bar{bar(0, 1), bad}

	price, err := CloseAt(day0.AddDate(0, 0, 5), bars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 1.0 {
		t.Errorf("expected fallback to 1.0, got %f", price)
	}
}
