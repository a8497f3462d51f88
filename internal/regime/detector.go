// Package regime classifies an index series as BULL, BEAR or SIDEWAYS.
package regime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"regime-backtest-lab/internal/domain"
)

// Factor names, used as keys of RegimeState.Scores and Weights.
const (
	FactorTrend      = "trend"
	FactorMATrend    = "ma_trend"
	FactorVolatility = "volatility"
	FactorMomentum   = "momentum"
)

// Config errors
var (
	ErrInvalidThreshold  = errors.New("regime threshold must be in (0, 1)")
	ErrInvalidWeights    = errors.New("regime weights must be non-negative with a positive sum")
	ErrInvalidAllocation = errors.New("regime allocations must be in [0, 1]")
	ErrInvalidMinBars    = errors.New("regime lookbacks must be positive with ma_short <= ma_long")
)

// Weights are the nominal factor weights. Only participating factors are
// used and their weights are renormalized to sum to 1.
type Weights struct {
	Trend      float64 `yaml:"trend" json:"trend"`
	MATrend    float64 `yaml:"ma_trend" json:"ma_trend"`
	Volatility float64 `yaml:"volatility" json:"volatility"`
	Momentum   float64 `yaml:"momentum" json:"momentum"`
}

// Allocation is the capital fraction deployed per regime.
type Allocation struct {
	Bull     float64 `yaml:"bull" json:"bull"`
	Sideways float64 `yaml:"sideways" json:"sideways"`
	Bear     float64 `yaml:"bear" json:"bear"`
}

// For returns the allocation of r.
func (a Allocation) For(r domain.Regime) float64 {
	switch r {
	case domain.RegimeBull:
		return a.Bull
	case domain.RegimeBear:
		return a.Bear
	default:
		return a.Sideways
	}
}

// Config holds the detector parameters.
type Config struct {
	Threshold      float64    `yaml:"threshold" json:"threshold"`
	MinBars        int        `yaml:"min_bars" json:"min_bars"`
	MAShort        int        `yaml:"ma_short" json:"ma_short"`
	MALong         int        `yaml:"ma_long" json:"ma_long"`
	MomentumBars   int        `yaml:"momentum_bars" json:"momentum_bars"`
	MomentumBand   float64    `yaml:"momentum_band" json:"momentum_band"`
	VolatilityDays int        `yaml:"volatility_days" json:"volatility_days"` // lookback for the volatility index
	Weights        Weights    `yaml:"weights" json:"weights"`
	Allocation     Allocation `yaml:"allocation" json:"allocation"`
}

// DefaultConfig returns the default detector parameters.
func DefaultConfig() Config {
	return Config{
		Threshold:      0.25,
		MinBars:        20,
		MAShort:        20,
		MALong:         60,
		MomentumBars:   20,
		MomentumBand:   0.03,
		VolatilityDays: 30,
		Weights:        Weights{Trend: 0.35, MATrend: 0.20, Volatility: 0.20, Momentum: 0.10},
		Allocation:     Allocation{Bull: 1.0, Sideways: 0.4, Bear: 0.1},
	}
}

// Validate checks the parameters.
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return ErrInvalidThreshold
	}
	if c.MinBars <= 0 || c.MAShort <= 0 || c.MALong < c.MAShort || c.MomentumBars <= 0 {
		return ErrInvalidMinBars
	}
	w := c.Weights
	if w.Trend < 0 || w.MATrend < 0 || w.Volatility < 0 || w.Momentum < 0 ||
		w.Trend+w.MATrend+w.Momentum <= 0 {
		return ErrInvalidWeights
	}
	for _, v := range []float64{c.Allocation.Bull, c.Allocation.Sideways, c.Allocation.Bear} {
		if v < 0 || v > 1 {
			return ErrInvalidAllocation
		}
	}
	return nil
}

// VolatilitySource supplies the latest level of a volatility index.
// Any error means the factor is unavailable for this detection.
type VolatilitySource interface {
	Level(ctx context.Context, start, end time.Time) (float64, error)
}

// Options configures a Detector.
type Options struct {
	Config     Config
	Volatility VolatilitySource // optional
	Logger     *zap.Logger
}

// Detector scores an index series on weighted factors.
type Detector struct {
	cfg    Config
	vol    VolatilitySource
	logger *zap.Logger
}

// NewDetector creates a Detector. A zero Config is replaced by DefaultConfig.
func NewDetector(opts Options) *Detector {
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{cfg: cfg, vol: opts.Volatility, logger: logger}
}

// Detect returns the regime of the index series.
func (d *Detector) Detect(ctx context.Context, index *domain.Series) domain.Regime {
	return d.DetectDetailed(ctx, index).Regime
}

// DetectDetailed scores the index series. It never fails: insufficient
// history or an internal panic yields the SIDEWAYS fallback state.
func (d *Detector) DetectDetailed(ctx context.Context, index *domain.Series) (state domain.RegimeState) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("regime detection panicked", zap.Any("panic", r))
			state = d.fallback(fmt.Sprintf("detection failed: %v", r))
		}
	}()

	if index.Len() < d.cfg.MinBars {
		return d.fallback(fmt.Sprintf("insufficient history: %d bars < %d", index.Len(), d.cfg.MinBars))
	}

	scores := map[string]float64{
		FactorTrend:    d.scoreTrend(index),
		FactorMATrend:  d.scoreMATrend(index),
		FactorMomentum: d.scoreMomentum(index),
	}
	nominal := map[string]float64{
		FactorTrend:    d.cfg.Weights.Trend,
		FactorMATrend:  d.cfg.Weights.MATrend,
		FactorMomentum: d.cfg.Weights.Momentum,
	}
	if v, ok := d.scoreVolatility(ctx, index); ok {
		scores[FactorVolatility] = v
		nominal[FactorVolatility] = d.cfg.Weights.Volatility
	}

	weights := Normalize(nominal)
	total := 0.0
	for k, w := range weights {
		total += scores[k] * w
	}

	r := d.classify(total)
	state = domain.RegimeState{
		Regime:            r,
		Confidence:        math.Min(math.Abs(total), 1),
		Scores:            scores,
		Weights:           weights,
		Total:             total,
		CapitalAllocation: d.cfg.Allocation.For(r),
		Description:       describe(total, scores),
	}

	d.logger.Info("regime detected",
		zap.String("instrument", index.Instrument),
		zap.String("regime", string(r)),
		zap.Float64("confidence", state.Confidence),
		zap.String("scores", state.Description),
	)
	return state
}

// Normalize rescales weights so they sum to 1. Zero-sum input returns
// an empty map.
func Normalize(nominal map[string]float64) map[string]float64 {
	sum := 0.0
	for _, w := range nominal {
		sum += w
	}
	out := make(map[string]float64, len(nominal))
	if sum <= 0 {
		return out
	}
	for k, w := range nominal {
		out[k] = w / sum
	}
	return out
}

func (d *Detector) classify(total float64) domain.Regime {
	switch {
	case total > d.cfg.Threshold:
		return domain.RegimeBull
	case total < -d.cfg.Threshold:
		return domain.RegimeBear
	default:
		return domain.RegimeSideways
	}
}

func (d *Detector) fallback(tag string) domain.RegimeState {
	d.logger.Warn("regime fallback", zap.String("reason", tag))
	return domain.RegimeState{
		Regime:            domain.RegimeSideways,
		Confidence:        0,
		Scores:            map[string]float64{},
		Weights:           map[string]float64{},
		CapitalAllocation: d.cfg.Allocation.Sideways,
		Description:       "fallback: " + tag,
	}
}

// scoreTrend: +1 when the last bar is in an up trend with a rising JMA,
// -1 for the mirror case.
func (d *Detector) scoreTrend(index *domain.Series) float64 {
	last := index.Bars[index.Len()-1]
	dir := last.Indicator(domain.ColumnSTDir)
	slope := last.Indicator(domain.ColumnJMASlope)
	if math.IsNaN(dir) || math.IsNaN(slope) {
		return 0
	}
	switch {
	case dir == 1 && slope > 0:
		return 1
	case dir == -1 && slope < 0:
		return -1
	}
	return 0
}

// scoreMATrend: +1 for close > short MA > long MA, -1 for the reverse.
func (d *Detector) scoreMATrend(index *domain.Series) float64 {
	closes := index.Closes()
	if len(closes) < d.cfg.MALong {
		return 0
	}
	short := mean(closes[len(closes)-d.cfg.MAShort:])
	long := mean(closes[len(closes)-d.cfg.MALong:])
	cur := closes[len(closes)-1]
	switch {
	case cur > short && short > long:
		return 1
	case cur < short && short < long:
		return -1
	}
	return 0
}

func (d *Detector) scoreMomentum(index *domain.Series) float64 {
	closes := index.Closes()
	n := d.cfg.MomentumBars
	if len(closes) < n || closes[len(closes)-n] <= 0 {
		return 0
	}
	ret := closes[len(closes)-1]/closes[len(closes)-n] - 1
	switch {
	case ret > d.cfg.MomentumBand:
		return 0.8
	case ret < -d.cfg.MomentumBand:
		return -0.8
	}
	return 0
}

// scoreVolatility maps the volatility index level to a score. The factor
// is absent when no source is configured or the source fails.
func (d *Detector) scoreVolatility(ctx context.Context, index *domain.Series) (float64, bool) {
	if d.vol == nil || d.cfg.Weights.Volatility <= 0 {
		return 0, false
	}
	end := index.Bars[index.Len()-1].Date
	start := end.AddDate(0, 0, -d.cfg.VolatilityDays)

	level, err := d.vol.Level(ctx, start, end)
	if err != nil || math.IsNaN(level) {
		d.logger.Debug("volatility factor unavailable", zap.Error(err))
		return 0, false
	}
	switch {
	case level < 15:
		return 0.5, true
	case level > 25:
		return -0.8, true
	case level > 20:
		return -0.3, true
	}
	return 0, true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func describe(total float64, scores map[string]float64) string {
	names := make([]string, 0, len(scores))
	for k := range scores {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%+.2f", k, scores[k])
	}
	return fmt.Sprintf("total=%+.2f | %s", total, strings.Join(parts, ", "))
}
