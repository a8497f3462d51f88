// Package lookup finds bars by date in date-ordered slices.
package lookup

import (
	"errors"
	"sort"
	"time"

	"regime-backtest-lab/internal/domain"
)

// Errors returned by lookup functions.
var (
	ErrNoPriceData = errors.New("no price data available")
)

// IndexAt returns the index of the last bar dated at or before target,
// or -1 when every bar is later. bars must be sorted by date.
func IndexAt(target time.Time, bars []domain.Bar) int {
	// First bar strictly after target
	i := sort.Search(len(bars), func(i int) bool {
		return bars[i].Date.After(target)
	})
	return i - 1
}

// CloseAt returns the close of the last bar at or before target that has
// valid OHLC prices. Bars with invalid prices are skipped.
// Returns ErrNoPriceData if no such bar exists.
func CloseAt(target time.Time, bars []domain.Bar) (float64, error) {
	for i := IndexAt(target, bars); i >= 0; i-- {
		if bars[i].HasValidPrices() {
			return bars[i].Close, nil
		}
	}
	return 0, ErrNoPriceData
}
