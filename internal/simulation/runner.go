package simulation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/eventbus"
	"regime-backtest-lab/internal/indicator"
	"regime-backtest-lab/internal/metrics"
	"regime-backtest-lab/internal/observability"
	"regime-backtest-lab/internal/regime"
	"regime-backtest-lab/internal/risk"
	"regime-backtest-lab/internal/router"
	"regime-backtest-lab/internal/storage"
)

// Runner errors
var (
	ErrNoBars         = errors.New("no bars in range")
	ErrNoValidBars    = errors.New("no bars with valid OHLC prices")
	ErrInvalidCapital = errors.New("initial capital must be positive")
)

// DataSource supplies historical bars. Fetches complete before a run's
// bar loop starts.
type DataSource interface {
	FetchCandles(ctx context.Context, instrument string, start, end time.Time) (*domain.Series, error)
	FetchIndexCandles(ctx context.Context, indexID string, start, end time.Time) (*domain.Series, error)
}

// RunnerOptions contains configuration for creating a Runner.
// Data and Router are required; everything else is optional.
type RunnerOptions struct {
	Data     DataSource
	Router   *router.Router
	Params   domain.StrategyParams // base parameters before route overrides
	Engine   *Engine               // defaults to an engine without exit rules or gate
	Detector *regime.Detector      // nil routes every run to the default generator with full capital
	IndexID  string                // index series fed to the detector

	Indicators *indicator.Chain

	// NewGate builds the risk gate for one Run or one RunBatch call. Runs in
	// a batch share its gate; separate calls never do. Nil keeps the
	// engine's own gate.
	NewGate func() *risk.Gate

	TradeStore storage.TradeRecordStore
	RunStore   storage.RunStore
	Bus        *eventbus.Bus

	Metrics  *observability.Metrics
	Logger   *zap.Logger
	Clock    func() time.Time
	NewRunID func() string
}

// Runner executes backtests for instruments.
type Runner struct {
	data       DataSource
	router     *router.Router
	params     domain.StrategyParams
	engine     *Engine
	detector   *regime.Detector
	indexID    string
	indicators *indicator.Chain
	newGate    func() *risk.Gate
	tradeStore storage.TradeRecordStore
	runStore   storage.RunStore
	bus        *eventbus.Bus
	metrics    *observability.Metrics
	logger     *zap.Logger
	clock      func() time.Time
	newRunID   func() string
}

// NewRunner creates a backtest runner.
func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{
		data:       opts.Data,
		router:     opts.Router,
		params:     opts.Params,
		engine:     opts.Engine,
		detector:   opts.Detector,
		indexID:    opts.IndexID,
		indicators: opts.Indicators,
		newGate:    opts.NewGate,
		tradeStore: opts.TradeStore,
		runStore:   opts.RunStore,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		clock:      opts.Clock,
		newRunID:   opts.NewRunID,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.engine == nil {
		r.engine = NewEngine(EngineOptions{Logger: r.logger, Metrics: r.metrics})
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.newRunID == nil {
		r.newRunID = func() string { return uuid.NewString() }
	}
	return r
}

// Run backtests one instrument over [start, end].
// Steps:
//  1. Fetch bars, dropping rows with invalid OHLC prices
//  2. Detect the regime on the index series and route to a generator
//  3. Scale capital by the regime allocation
//  4. Enrich bars through the indicator chain
//  5. Generate signals and simulate; adaptive targets are set per entry
//  6. Compute metrics
//  7. Persist trades and the run summary
//  8. Publish run_completed
//
// Every failure is a *RunError. Only ErrConfiguration failures are not
// recoverable (see IsRecoverable).
func (r *Runner) Run(ctx context.Context, instrument string, start, end time.Time, capital float64) (*domain.BacktestResult, error) {
	return r.run(ctx, r.sessionEngine(), instrument, start, end, capital)
}

// sessionEngine returns the engine for one Run or RunBatch call.
func (r *Runner) sessionEngine() *Engine {
	if r.newGate == nil {
		return r.engine
	}
	return r.engine.WithGate(r.newGate())
}

func (r *Runner) run(ctx context.Context, engine *Engine, instrument string, start, end time.Time, capital float64) (result *domain.BacktestResult, err error) {
	began := r.clock()
	log := r.logger.With(zap.String("instrument", instrument))

	defer func() {
		if p := recover(); p != nil {
			log.Error("run panicked", zap.Any("panic", p), zap.Stack("stack"))
			result, err = nil, unexpectedError(instrument, fmt.Errorf("panic: %v", p))
		}
		finished := r.clock()
		status := observability.StatusSuccess
		if err != nil {
			status = observability.StatusFailed
			log.Warn("run failed", zap.Error(err))
		}
		r.metrics.RecordRun(status, finished.Sub(began).Seconds(), finished.Unix())
	}()

	if !(capital > 0) {
		return nil, configError(instrument, ErrInvalidCapital)
	}

	// 1. Fetch bars
	series, err := r.fetch(ctx, instrument, start, end)
	if err != nil {
		return nil, err
	}

	// 2. Detect regime and route
	state := r.detectRegime(ctx, start, end)
	var key domain.Regime
	allocation := 1.0
	if state != nil {
		key = state.Regime
		allocation = state.CapitalAllocation
		r.metrics.RecordRegime(string(state.Regime))
	}
	sel, err := r.router.Select(key, r.params)
	if err != nil {
		return nil, configError(instrument, err)
	}

	// 3. Effective capital
	effective := capital * allocation

	// 4. Enrich
	if r.indicators != nil {
		var failed []string
		series, failed = r.indicators.Apply(ctx, series, sel.Params)
		if len(failed) > 0 {
			log.Warn("continuing without failed indicator providers", zap.Strings("providers", failed))
		}
	}
	params := sel.Params
	if err := params.Validate(); err != nil {
		return nil, configError(instrument, fmt.Errorf("%s params: %w", sel.Generator.Name(), err))
	}

	// 5. Generate and simulate
	runID := r.newRunID()
	signals := sel.Generator.Generate(series, params)
	sim := engine.Run(runID, series, signals, params, effective)

	// 6. Metrics
	result = &domain.BacktestResult{
		RunID:            runID,
		Instrument:       instrument,
		Start:            start,
		End:              end,
		InitialCapital:   capital,
		EffectiveCapital: effective,
		Generator:        sel.Generator.Name(),
		Params:           params,
		Regime:           state,
		Trades:           sim.Trades,
		Equity:           sim.Equity,
		Signals:          mergeSignals(signals, sim.Rejected),
		Metrics:          metrics.Compute(sim.Trades, sim.Equity, effective),
		RiskRejections:   sim.RiskRejections,
		CreatedAt:        r.clock().UTC(),
	}

	// 7. Persist
	if err := r.persist(ctx, result); err != nil {
		return nil, unexpectedError(instrument, err)
	}

	// 8. Publish
	if r.bus != nil {
		r.bus.Publish(ctx, eventbus.Event{Topic: eventbus.TopicRunCompleted, Payload: result.Summary()})
	}

	log.Info("run completed",
		zap.String("run_id", runID),
		zap.String("generator", result.Generator),
		zap.String("regime", string(key)),
		zap.Int("bars", series.Len()),
		zap.Int("trades", result.Metrics.TotalTrades),
		zap.Float64("total_return", result.Metrics.TotalReturn),
	)
	return result, nil
}

// RunBatch runs instruments sequentially through one risk gate. Recoverable failures are logged
// and the instrument is omitted; a configuration failure aborts the batch
// and is returned with the results gathered so far. Cancellation is
// checked between instruments.
func (r *Runner) RunBatch(ctx context.Context, instruments []string, start, end time.Time, capital float64) ([]*domain.BacktestResult, error) {
	engine := r.sessionEngine()
	results := make([]*domain.BacktestResult, 0, len(instruments))
	for _, inst := range instruments {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.run(ctx, engine, inst, start, end, capital)
		if err != nil {
			if IsRecoverable(err) {
				r.logger.Info("skipping instrument", zap.String("instrument", inst), zap.Error(err))
				continue
			}
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) fetch(ctx context.Context, instrument string, start, end time.Time) (*domain.Series, error) {
	raw, err := r.data.FetchCandles(ctx, instrument, start, end)
	if err != nil {
		return nil, dataError(instrument, err)
	}
	if raw.Len() == 0 {
		return nil, dataError(instrument, ErrNoBars)
	}

	series := &domain.Series{Instrument: instrument, Bars: make([]domain.Bar, 0, raw.Len())}
	for _, b := range raw.Bars {
		if b.HasValidPrices() {
			series.Bars = append(series.Bars, b)
		}
	}
	if series.Len() == 0 {
		return nil, dataError(instrument, ErrNoValidBars)
	}
	if dropped := raw.Len() - series.Len(); dropped > 0 {
		r.logger.Warn("dropped bars with invalid prices",
			zap.String("instrument", instrument),
			zap.Int("dropped", dropped),
		)
	}
	return series, nil
}

// detectRegime returns nil when no detector is configured. An index that
// cannot be fetched is scored as empty, which yields the detector's
// SIDEWAYS fallback.
func (r *Runner) detectRegime(ctx context.Context, start, end time.Time) *domain.RegimeState {
	if r.detector == nil {
		return nil
	}
	index, err := r.data.FetchIndexCandles(ctx, r.indexID, start, end)
	if err != nil || index == nil {
		r.logger.Warn("index unavailable for regime detection", zap.String("index", r.indexID), zap.Error(err))
		index = &domain.Series{Instrument: r.indexID}
	}
	if r.indicators != nil && index.Len() > 0 {
		index, _ = r.indicators.Apply(ctx, index, r.params)
	}
	state := r.detector.DetectDetailed(ctx, index)
	return &state
}

func (r *Runner) persist(ctx context.Context, res *domain.BacktestResult) error {
	if r.tradeStore != nil && len(res.Trades) > 0 {
		trades := make([]*domain.TradeRecord, len(res.Trades))
		for i := range res.Trades {
			trades[i] = &res.Trades[i]
		}
		if err := r.tradeStore.InsertBulk(ctx, trades); err != nil {
			return fmt.Errorf("store trades: %w", err)
		}
	}
	if r.runStore != nil {
		if err := r.runStore.Insert(ctx, res.Summary()); err != nil {
			return fmt.Errorf("store run summary: %w", err)
		}
	}
	return nil
}

// mergeSignals returns generated and audit signals ordered by date, with
// generated signals first on a shared date.
func mergeSignals(generated, audit []domain.Signal) []domain.Signal {
	out := make([]domain.Signal, 0, len(generated)+len(audit))
	out = append(out, generated...)
	out = append(out, audit...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}
