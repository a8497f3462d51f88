// Package screen filters and ranks a universe of instruments with a
// condition document.
package screen

import (
	"math"
	"sort"
	"time"

	"regime-backtest-lab/internal/condition"
	"regime-backtest-lab/internal/domain"
)

// RankBy orders screen matches by a column of their latest bar.
// An empty Column keeps the universe order.
type RankBy struct {
	Column     string `yaml:"column" json:"column"`
	Descending bool   `yaml:"descending" json:"descending"`
}

// Match is an instrument that passed the screen.
type Match struct {
	Instrument string    `json:"instrument"`
	Date       time.Time `json:"date"`
	Rank       float64   `json:"rank"` // NaN when unranked or the column is missing
}

// Screener evaluates condition documents over a universe.
type Screener struct {
	ev *condition.Evaluator
}

// New creates a Screener.
func New(ev *condition.Evaluator) *Screener {
	return &Screener{ev: ev}
}

// Screen evaluates doc over each instrument's recent history and keeps the
// instruments whose latest bar satisfies it. Matches are ranked by rank
// (missing values last) and truncated to topN when topN > 0.
// A nil document matches nothing.
func (s *Screener) Screen(universe []*domain.Series, doc *condition.Document, rank RankBy, topN int) []Match {
	if doc == nil {
		return nil
	}

	var out []Match
	for _, series := range universe {
		n := series.Len()
		if n == 0 {
			continue
		}
		if mask := s.ev.Evaluate(series, doc); !mask[n-1] {
			continue
		}
		last := series.Bars[n-1]
		out = append(out, Match{Instrument: series.Instrument, Date: last.Date, Rank: rankValue(series, rank.Column)})
	}

	if rank.Column != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].Rank, out[j].Rank
			switch {
			case math.IsNaN(a):
				return false
			case math.IsNaN(b):
				return true
			case rank.Descending:
				return a > b
			default:
				return a < b
			}
		})
	}

	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

func rankValue(s *domain.Series, column string) float64 {
	if column == "" {
		return math.NaN()
	}
	col, ok := s.Column(column)
	if !ok || col.IsLabel() {
		return math.NaN()
	}
	return col.Floats[len(col.Floats)-1]
}
