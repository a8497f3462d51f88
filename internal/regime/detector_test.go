package regime

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"regime-backtest-lab/internal/domain"
)

type fixedVolatility struct {
	level float64
	err   error
	calls int
}

func (f *fixedVolatility) Level(context.Context, time.Time, time.Time) (float64, error) {
	f.calls++
	return f.level, f.err
}

// trendingIndex builds n bars with closes moving by step per bar and the
// given trend columns on every bar.
func trendingIndex(n int, start, step, stDir, slope float64) *domain.Series {
	s := &domain.Series{Instrument: "KOSPI"}
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		c := start + step*float64(i)
		s.Bars = append(s.Bars, domain.Bar{
			Date: day.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1,
			Indicators: map[string]float64{domain.ColumnSTDir: stDir, domain.ColumnJMASlope: slope},
		})
	}
	return s
}

func weightSum(w map[string]float64) float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum
}

func TestDetectDetailed_WeightsAlwaysSumToOne(t *testing.T) {
	index := trendingIndex(80, 100, 1, 1, 0.5)
	ctx := context.Background()

	tests := []struct {
		name    string
		vol     VolatilitySource
		factors int
	}{
		{"no source", nil, 3},
		{"source present", &fixedVolatility{level: 18}, 4},
		{"source failing", &fixedVolatility{err: errors.New("no data")}, 3},
		{"source NaN", &fixedVolatility{level: math.NaN()}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(Options{Volatility: tt.vol})
			state := d.DetectDetailed(ctx, index)

			if len(state.Weights) != tt.factors {
				t.Fatalf("expected %d factors, got %d (%v)", tt.factors, len(state.Weights), state.Weights)
			}
			if got := weightSum(state.Weights); math.Abs(got-1) > 1e-9 {
				t.Errorf("weights sum to %v", got)
			}

			want := 0.0
			for k, w := range state.Weights {
				want += state.Scores[k] * w
			}
			if math.Abs(state.Total-want) > 1e-12 {
				t.Errorf("total %v not the weighted sum %v", state.Total, want)
			}
		})
	}
}

func TestDetectDetailed_RenormalizedWeights(t *testing.T) {
	state := NewDetector(Options{}).DetectDetailed(context.Background(), trendingIndex(80, 100, 1, 1, 0.5))

	if got := state.Weights[FactorTrend]; math.Abs(got-0.35/0.65) > 1e-12 {
		t.Errorf("trend weight %v, want %v", got, 0.35/0.65)
	}
	if _, ok := state.Weights[FactorVolatility]; ok {
		t.Error("volatility weight present without a source")
	}
}

func TestDetectDetailed_Bull(t *testing.T) {
	vol := &fixedVolatility{level: 12}
	state := NewDetector(Options{Volatility: vol}).DetectDetailed(context.Background(), trendingIndex(80, 100, 1, 1, 0.5))

	if state.Regime != domain.RegimeBull {
		t.Fatalf("expected BULL, got %s (%s)", state.Regime, state.Description)
	}
	if state.Scores[FactorTrend] != 1 || state.Scores[FactorMATrend] != 1 || state.Scores[FactorMomentum] != 0.8 {
		t.Errorf("unexpected scores: %v", state.Scores)
	}
	if state.Scores[FactorVolatility] != 0.5 {
		t.Errorf("expected low-volatility score 0.5, got %v", state.Scores[FactorVolatility])
	}
	if state.CapitalAllocation != 1.0 {
		t.Errorf("expected full allocation, got %v", state.CapitalAllocation)
	}
	if state.Confidence <= 0 || state.Confidence > 1 {
		t.Errorf("confidence out of range: %v", state.Confidence)
	}
	if vol.calls != 1 {
		t.Errorf("expected one volatility lookup, got %d", vol.calls)
	}
}

func TestDetect_BearAndSideways(t *testing.T) {
	d := NewDetector(Options{})
	ctx := context.Background()

	if got := d.Detect(ctx, trendingIndex(80, 200, -1, -1, -0.5)); got != domain.RegimeBear {
		t.Errorf("expected BEAR, got %s", got)
	}

	// Flat index with no trend columns scores zero everywhere.
	flat := trendingIndex(80, 100, 0, 0, 0)
	state := d.DetectDetailed(ctx, flat)
	if state.Regime != domain.RegimeSideways {
		t.Errorf("expected SIDEWAYS, got %s", state.Regime)
	}
	if state.CapitalAllocation != 0.4 {
		t.Errorf("expected sideways allocation 0.4, got %v", state.CapitalAllocation)
	}
}

func TestDetectDetailed_ThresholdIsStrict(t *testing.T) {
	d := NewDetector(Options{})
	if got := d.classify(0.25); got != domain.RegimeSideways {
		t.Errorf("total equal to threshold should be SIDEWAYS, got %s", got)
	}
	if got := d.classify(-0.25); got != domain.RegimeSideways {
		t.Errorf("total equal to -threshold should be SIDEWAYS, got %s", got)
	}
}

func TestDetectDetailed_FallbackOnShortHistory(t *testing.T) {
	d := NewDetector(Options{})
	for _, s := range []*domain.Series{nil, trendingIndex(5, 100, 1, 1, 1)} {
		state := d.DetectDetailed(context.Background(), s)
		if state.Regime != domain.RegimeSideways || state.Confidence != 0 {
			t.Errorf("expected SIDEWAYS fallback, got %+v", state)
		}
		if state.CapitalAllocation != DefaultConfig().Allocation.Sideways {
			t.Errorf("expected sideways allocation, got %v", state.CapitalAllocation)
		}
		if state.Description == "" {
			t.Error("fallback must carry a descriptive tag")
		}
	}
}

type panickingVolatility struct{}

func (panickingVolatility) Level(context.Context, time.Time, time.Time) (float64, error) {
	panic("boom")
}

func TestDetectDetailed_FallbackOnPanic(t *testing.T) {
	d := NewDetector(Options{Volatility: panickingVolatility{}})
	state := d.DetectDetailed(context.Background(), trendingIndex(80, 100, 1, 1, 1))
	if state.Regime != domain.RegimeSideways || state.Confidence != 0 {
		t.Errorf("expected fallback, got %+v", state)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default invalid: %v", err)
	}
	c := DefaultConfig()
	c.Threshold = 0
	if !errors.Is(c.Validate(), ErrInvalidThreshold) {
		t.Errorf("expected ErrInvalidThreshold")
	}
	c = DefaultConfig()
	c.Weights.Momentum = -1
	if !errors.Is(c.Validate(), ErrInvalidWeights) {
		t.Errorf("expected ErrInvalidWeights")
	}
}
