// Package signal turns indicator-enriched bar series into directional signals.
package signal

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"regime-backtest-lab/internal/condition"
	"regime-backtest-lab/internal/domain"
)

// Generator emits at most one signal per bar for one instrument.
type Generator interface {
	// Name identifies the generator in results and logs.
	Name() string

	// Generate scans the series with the given parameters.
	// Bars whose required columns are missing produce no signal.
	Generate(series *domain.Series, params domain.StrategyParams) []domain.Signal
}

// Generator types accepted by FromConfig.
const (
	TypeTrendFollowing = "trend_following"
	TypeInverse        = "inverse"
	TypeSwing          = "swing"
	TypeRuleBased      = "rule_based"
)

// Factory errors
var (
	ErrUnknownGenerator = errors.New("unknown generator type")
	ErrMissingBuyRules  = errors.New("rule_based generator requires buy_rules")
)

// Config selects and configures a generator.
type Config struct {
	Type      string
	BuyRules  *condition.Document // rule_based only
	SellRules *condition.Document // rule_based only, optional
}

// FromConfig creates a Generator. The evaluator is used by rule-based
// generators and may be nil for the others.
func FromConfig(cfg Config, ev *condition.Evaluator) (Generator, error) {
	switch normalizeType(cfg.Type) {
	case TypeTrendFollowing:
		return NewTrendFollowing(), nil
	case TypeInverse:
		return NewInverse(), nil
	case TypeSwing:
		return NewSwing(), nil
	case TypeRuleBased:
		if cfg.BuyRules == nil {
			return nil, ErrMissingBuyRules
		}
		return NewRuleBased(ev, cfg.BuyRules, cfg.SellRules), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenerator, cfg.Type)
	}
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch t {
	case "stjma", "trend":
		return TypeTrendFollowing
	case "bear_inverse":
		return TypeInverse
	case "sideways_swing":
		return TypeSwing
	}
	return t
}

// frame is the column view shared by the hand-written generators.
type frame struct {
	bars   []domain.Bar
	close  []float64
	high   []float64
	low    []float64
	stDir  []float64
	slope  []float64
	rsi    []float64
	atr    []float64 // nil when the column is absent
	jmaDir []int     // sign of slope, 0 for NaN
}

// newFrame extracts the columns a generator needs. It returns false when
// any required column is absent from the series.
func newFrame(s *domain.Series, required ...string) (*frame, bool) {
	if s.Len() == 0 {
		return nil, false
	}
	f := &frame{bars: s.Bars}

	get := func(name string) ([]float64, bool) {
		c, ok := s.Column(name)
		if !ok || c.IsLabel() {
			return nil, false
		}
		return c.Floats, true
	}

	for _, name := range required {
		if _, ok := get(name); !ok {
			return nil, false
		}
	}

	f.close, _ = get(domain.ColumnClose)
	f.high, _ = get(domain.ColumnHigh)
	f.low, _ = get(domain.ColumnLow)
	f.stDir, _ = get(domain.ColumnSTDir)
	f.slope, _ = get(domain.ColumnJMASlope)
	f.atr, _ = get(domain.ColumnATR)

	if rsi, ok := get(domain.ColumnRSI); ok {
		f.rsi = rsi
	} else {
		// neutral RSI when no oscillator was computed
		f.rsi = make([]float64, s.Len())
		for i := range f.rsi {
			f.rsi[i] = 50
		}
	}

	f.jmaDir = make([]int, s.Len())
	for i, v := range f.slope {
		switch {
		case v > 0:
			f.jmaDir[i] = 1
		case v < 0:
			f.jmaDir[i] = -1
		}
	}
	return f, true
}

func (f *frame) len() int { return len(f.close) }

func (f *frame) signal(instrument string, i int, dir domain.Direction, reason domain.SignalReason, strength float64, detail string) domain.Signal {
	return domain.Signal{
		Direction:  dir,
		Instrument: instrument,
		Date:       f.bars[i].Date,
		Price:      f.close[i],
		Reason:     reason,
		Detail:     detail,
		Strength:   strength,
	}
}

func isNaN(v float64) bool { return math.IsNaN(v) }
