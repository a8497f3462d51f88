package simulation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/eventbus"
	"regime-backtest-lab/internal/observability"
	"regime-backtest-lab/internal/regime"
	"regime-backtest-lab/internal/risk"
	"regime-backtest-lab/internal/router"
	"regime-backtest-lab/internal/storage/memory"
)

type fakeSource struct {
	series   map[string]*domain.Series
	errs     map[string]error
	index    *domain.Series
	indexErr error
}

func (f *fakeSource) FetchCandles(_ context.Context, instrument string, _, _ time.Time) (*domain.Series, error) {
	if err := f.errs[instrument]; err != nil {
		return nil, err
	}
	if s, ok := f.series[instrument]; ok {
		return s, nil
	}
	return &domain.Series{Instrument: instrument}, nil
}

func (f *fakeSource) FetchIndexCandles(context.Context, string, time.Time, time.Time) (*domain.Series, error) {
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	return f.index, nil
}

// firstBarBuyer buys on the first bar and never sells.
type firstBarBuyer struct{ panics bool }

func (g firstBarBuyer) Name() string { return "first_bar" }

func (g firstBarBuyer) Generate(s *domain.Series, _ domain.StrategyParams) []domain.Signal {
	if g.panics {
		panic("generator bug")
	}
	if s.Len() == 0 {
		return nil
	}
	b := s.Bars[0]
	return []domain.Signal{{
		Direction: domain.DirectionBuy, Instrument: s.Instrument, Date: b.Date,
		Price: b.Close, Reason: domain.ReasonRuleBuy, Strength: 1,
	}}
}

func namedSeries(instrument string, closes ...float64) *domain.Series {
	s := makeSeries(closes...)
	s.Instrument = instrument
	return s
}

func defaultRouter(g firstBarBuyer) *router.Router {
	r := router.New()
	r.SetDefault(g)
	return r
}

func newTestRunner(src DataSource, rt *router.Router, mutate func(*RunnerOptions)) *Runner {
	opts := RunnerOptions{
		Data:     src,
		Router:   rt,
		Params:   staticParams(),
		Clock:    func() time.Time { return t0 },
		NewRunID: func() string { return "run-1" },
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewRunner(opts)
}

func TestRunner_StopLossScenario(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{series: map[string]*domain.Series{"005930": namedSeries("005930", 100, 96, 94, 95)}}
	trades := memory.NewTradeRecordStore()
	runs := memory.NewRunStore()
	bus := eventbus.New(eventbus.Options{})

	var published *domain.RunSummary
	bus.Subscribe(eventbus.TopicRunCompleted, func(_ context.Context, e eventbus.Event) error {
		published, _ = e.Payload.(*domain.RunSummary)
		return nil
	})

	r := newTestRunner(src, defaultRouter(firstBarBuyer{}), func(o *RunnerOptions) {
		o.TradeStore = trades
		o.RunStore = runs
		o.Bus = bus
	})

	res, err := r.Run(ctx, "005930", t0, t0.AddDate(0, 0, 3), 10000)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.ExitReason != domain.ExitReasonStopLoss || math.Abs(tr.PnLPct-(-0.06)) > 1e-9 {
		t.Errorf("expected STOP_LOSS at -6%%, got %s %f", tr.ExitReason, tr.PnLPct)
	}
	if len(res.Equity) != 4 {
		t.Errorf("expected 4 equity points, got %d", len(res.Equity))
	}
	if res.Equity[3].Value != 9400 {
		t.Errorf("expected flat equity 9400 after the exit, got %v", res.Equity[3].Value)
	}
	if res.Regime != nil || res.EffectiveCapital != 10000 || res.Generator != "first_bar" {
		t.Errorf("unexpected routing: regime=%v capital=%v generator=%s", res.Regime, res.EffectiveCapital, res.Generator)
	}
	if res.Metrics.TotalTrades != 1 || math.Abs(res.Metrics.FinalCapital-9400) > 1e-6 {
		t.Errorf("unexpected metrics: %+v", res.Metrics)
	}

	stored, err := trades.GetByRunID(ctx, "run-1")
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected 1 stored trade, got %d (%v)", len(stored), err)
	}
	if _, err := runs.GetByID(ctx, "run-1"); err != nil {
		t.Errorf("run summary not stored: %v", err)
	}
	if published == nil || published.RunID != "run-1" || published.Metrics.TotalTrades != 1 {
		t.Errorf("unexpected run_completed payload: %+v", published)
	}
}

func TestRunner_RegimeAllocation(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
	}{
		{"short index history", &fakeSource{index: namedSeries("KOSPI", 1, 2, 3)}},
		{"index unavailable", &fakeSource{indexErr: errors.New("index feed down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.src.series = map[string]*domain.Series{"005930": namedSeries("005930", 100, 101, 102)}

			rt := router.New()
			rt.Register(domain.RegimeSideways, firstBarBuyer{}, domain.ParamOverrides{})
			r := newTestRunner(tt.src, rt, func(o *RunnerOptions) {
				o.Detector = regime.NewDetector(regime.Options{})
				o.IndexID = "KOSPI"
			})

			res, err := r.Run(context.Background(), "005930", t0, t0.AddDate(0, 0, 2), 10000)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Regime == nil || res.Regime.Regime != domain.RegimeSideways || res.Regime.Confidence != 0 {
				t.Fatalf("expected SIDEWAYS fallback, got %+v", res.Regime)
			}
			if res.EffectiveCapital != 4000 {
				t.Errorf("expected effective capital 4000, got %v", res.EffectiveCapital)
			}
			if len(res.Trades) != 1 || res.Trades[0].Shares != 40 || res.Trades[0].ExitReason != domain.ExitReasonPeriodEnd {
				t.Errorf("unexpected trades: %+v", res.Trades)
			}
		})
	}
}

func TestRunner_DropsInvalidBars(t *testing.T) {
	s := namedSeries("005930", 100, 1, 96, 94)
	nan := math.NaN()
	s.Bars[1].Open, s.Bars[1].High, s.Bars[1].Low, s.Bars[1].Close = nan, nan, nan, nan

	r := newTestRunner(&fakeSource{series: map[string]*domain.Series{"005930": s}}, defaultRouter(firstBarBuyer{}), nil)
	res, err := r.Run(context.Background(), "005930", t0, t0.AddDate(0, 0, 3), 10000)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Equity) != 3 {
		t.Errorf("expected 3 equity points, got %d", len(res.Equity))
	}
	if len(res.Trades) != 1 || res.Trades[0].ExitReason != domain.ExitReasonStopLoss {
		t.Errorf("unexpected trades: %+v", res.Trades)
	}
}

func TestRunner_Errors(t *testing.T) {
	allInvalid := namedSeries("BAD", 0, 0)

	tests := []struct {
		name        string
		instrument  string
		capital     float64
		router      *router.Router
		wantKind    error
		wantCause   error
		recoverable bool
	}{
		{"fetch failure", "ERR", 10000, defaultRouter(firstBarBuyer{}), ErrData, nil, true},
		{"no bars", "EMPTY", 10000, defaultRouter(firstBarBuyer{}), ErrData, ErrNoBars, true},
		{"no valid bars", "BAD", 10000, defaultRouter(firstBarBuyer{}), ErrData, ErrNoValidBars, true},
		{"no generator", "005930", 10000, router.New(), ErrConfiguration, router.ErrNoGenerator, false},
		{"bad capital", "005930", 0, defaultRouter(firstBarBuyer{}), ErrConfiguration, ErrInvalidCapital, false},
		{"generator panic", "005930", 10000, defaultRouter(firstBarBuyer{panics: true}), ErrUnexpected, nil, true},
	}

	src := &fakeSource{
		series: map[string]*domain.Series{"005930": namedSeries("005930", 100, 101), "BAD": allInvalid},
		errs:   map[string]error{"ERR": errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			m := observability.NewMetrics("test", reg)
			r := newTestRunner(src, tt.router, func(o *RunnerOptions) { o.Metrics = m })

			res, err := r.Run(context.Background(), tt.instrument, t0, t0.AddDate(0, 0, 3), tt.capital)
			if res != nil {
				t.Errorf("expected no result, got %+v", res)
			}
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("expected %v, got %v", tt.wantKind, err)
			}
			if tt.wantCause != nil && !errors.Is(err, tt.wantCause) {
				t.Errorf("expected cause %v, got %v", tt.wantCause, err)
			}
			if IsRecoverable(err) != tt.recoverable {
				t.Errorf("IsRecoverable = %v, want %v", IsRecoverable(err), tt.recoverable)
			}

			var re *RunError
			if !errors.As(err, &re) || re.Instrument != tt.instrument {
				t.Errorf("expected *RunError for %s, got %v", tt.instrument, err)
			}
			if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues(observability.StatusFailed)); got != 1 {
				t.Errorf("expected 1 failed run recorded, got %v", got)
			}
		})
	}
}

func TestRunner_RunBatch(t *testing.T) {
	src := &fakeSource{
		series: map[string]*domain.Series{
			"A": namedSeries("A", 100, 101),
			"C": namedSeries("C", 100, 99),
		},
		errs: map[string]error{"B": errors.New("timeout")},
	}
	ids := []string{"run-a", "run-c"}
	next := 0
	r := newTestRunner(src, defaultRouter(firstBarBuyer{}), func(o *RunnerOptions) {
		o.NewRunID = func() string { id := ids[next]; next++; return id }
	})

	results, err := r.RunBatch(context.Background(), []string{"A", "B", "C"}, t0, t0.AddDate(0, 0, 1), 10000)
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if len(results) != 2 || results[0].Instrument != "A" || results[1].Instrument != "C" {
		t.Fatalf("expected results for A and C, got %d", len(results))
	}
	if results[1].RunID != "run-c" {
		t.Errorf("unexpected run id %s", results[1].RunID)
	}
}

func TestRunner_RunBatchAbortsOnConfiguration(t *testing.T) {
	src := &fakeSource{series: map[string]*domain.Series{"A": namedSeries("A", 100)}}
	r := newTestRunner(src, router.New(), nil)

	results, err := r.RunBatch(context.Background(), []string{"A", "B"}, t0, t0, 10000)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestRunner_RunBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{series: map[string]*domain.Series{"A": namedSeries("A", 100)}}
	results, err := newTestRunner(src, defaultRouter(firstBarBuyer{}), nil).
		RunBatch(ctx, []string{"A"}, t0, t0, 10000)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func streakGate() func() *risk.Gate {
	cfg := risk.DefaultConfig()
	cfg.MaxConsecutiveLosses = 1
	return func() *risk.Gate { return risk.NewGate(risk.Options{Config: cfg}) }
}

func TestRunner_SeparateRunsDoNotShareGate(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{series: map[string]*domain.Series{
		"LOSER":  namedSeries("LOSER", 100, 90, 90),
		"RISING": namedSeries("RISING", 100, 101, 102),
	}}
	r := newTestRunner(src, defaultRouter(firstBarBuyer{}), func(o *RunnerOptions) {
		o.NewGate = streakGate()
	})

	lost, err := r.Run(ctx, "LOSER", t0, t0.AddDate(0, 0, 2), 10000)
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if len(lost.Trades) != 1 || lost.Trades[0].PnLPct >= 0 {
		t.Fatalf("expected one losing trade, got %+v", lost.Trades)
	}

	res, err := r.Run(ctx, "RISING", t0, t0.AddDate(0, 0, 2), 10000)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if res.RiskRejections != 0 {
		t.Errorf("second run inherited the breaker: %d rejections", res.RiskRejections)
	}
	if len(res.Trades) != 1 {
		t.Errorf("expected the second run to trade, got %d trades", len(res.Trades))
	}
}

func TestRunner_RunBatchSharesGate(t *testing.T) {
	src := &fakeSource{series: map[string]*domain.Series{
		"A": namedSeries("A", 100, 90, 90),
		"B": namedSeries("B", 100, 101, 102),
	}}
	var built int
	newGate := streakGate()
	r := newTestRunner(src, defaultRouter(firstBarBuyer{}), func(o *RunnerOptions) {
		o.NewGate = func() *risk.Gate {
			built++
			return newGate()
		}
	})

	results, err := r.RunBatch(context.Background(), []string{"A", "B"}, t0, t0.AddDate(0, 0, 2), 10000)
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if built != 1 {
		t.Errorf("expected one gate per batch, built %d", built)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[1].RiskRejections != 1 || len(results[1].Trades) != 0 {
		t.Errorf("expected B to be refused after A's loss, got %d rejections and %d trades",
			results[1].RiskRejections, len(results[1].Trades))
	}
}
