// Package app builds the backtest service from a validated configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"regime-backtest-lab/internal/condition"
	"regime-backtest-lab/internal/config"
	"regime-backtest-lab/internal/datasource"
	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/eventbus"
	"regime-backtest-lab/internal/exitrule"
	"regime-backtest-lab/internal/indicator"
	"regime-backtest-lab/internal/metrics"
	"regime-backtest-lab/internal/observability"
	"regime-backtest-lab/internal/regime"
	"regime-backtest-lab/internal/risk"
	"regime-backtest-lab/internal/screen"
	"regime-backtest-lab/internal/simulation"
)

// Options configures New. Config is required.
type Options struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry // defaults to a fresh registry
	Clock    func() time.Time
	NewRunID func() string

	// Stores overrides the configured backend. Used by tests and cmd/seed.
	Stores *Stores
}

// App holds the wired components. Fields are read-only after New.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Bus      *eventbus.Bus
	Stores   Stores

	Source     *datasource.StoreSource
	Evaluator  *condition.Evaluator
	NewGate    func() *risk.Gate // nil when risk is disabled; one gate per run call
	Runner     *simulation.Runner
	Aggregator *metrics.Aggregator
	Screener   *screen.Screener

	chain       *indicator.Chain
	closeStores func()
}

// New wires the service.
// Steps:
//  1. Open stores for the configured backend (or use opts.Stores)
//  2. Create the metrics registry and the event bus
//  3. Build the indicator chain, detector, exit engine and risk gate
//  4. Build the router and the runner
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("app: config is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := observability.NewMetrics("", reg)

	// 1. Stores
	var stores Stores
	closeStores := func() {}
	if opts.Stores != nil {
		stores = *opts.Stores
	} else {
		var err error
		stores, closeStores, err = OpenStores(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, err
		}
	}
	stores = stores.Instrument(m)

	// 2. Bus
	bus := eventbus.New(eventbus.Options{Logger: logger, Metrics: m, Clock: opts.Clock})

	// 3. Components
	ev := condition.NewEvaluator(logger.Named("condition"))
	src := datasource.NewStoreSource(stores.Bars)
	chain := indicator.NewChain(indicator.ChainOptions{
		Providers: providers(cfg, stores, src),
		Logger:    logger.Named("indicator"),
		Metrics:   m,
	})

	var detector *regime.Detector
	if cfg.Regime.Enabled {
		var vol regime.VolatilitySource
		if cfg.Engine.VolatilityIndexID != "" {
			vol = datasource.NewIndexVolatility(src, cfg.Engine.VolatilityIndexID)
		}
		detector = regime.NewDetector(regime.Options{
			Config:     cfg.Regime.Config,
			Volatility: vol,
			Logger:     logger.Named("regime"),
		})
	}

	policy, err := cfg.ExitPolicy()
	if err != nil {
		closeStores()
		return nil, fmt.Errorf("exit policy: %w", err)
	}

	var newGate func() *risk.Gate
	if cfg.Risk.Enabled {
		riskLogger := logger.Named("risk")
		newGate = func() *risk.Gate {
			return risk.NewGate(risk.Options{
				Config: cfg.Risk.Config,
				Clock:  opts.Clock,
				Logger: riskLogger,
				OnTrip: func(reason risk.RejectReason) {
					m.RecordBreakerTrip(string(reason))
					bus.Publish(context.Background(), eventbus.Event{
						Topic:   eventbus.TopicBreakerTripped,
						Payload: map[string]string{"reason": string(reason)},
					})
				},
			})
		}
	}

	engine := simulation.NewEngine(simulation.EngineOptions{
		Exit:    exitrule.NewEngine(policy),
		Logger:  logger.Named("engine"),
		Metrics: m,
	})

	// 4. Router and runner
	rt, err := cfg.Router(ev)
	if err != nil {
		closeStores()
		return nil, fmt.Errorf("router: %w", err)
	}

	runner := simulation.NewRunner(simulation.RunnerOptions{
		Data:       src,
		Router:     rt,
		Params:     cfg.Params,
		Engine:     engine,
		Detector:   detector,
		IndexID:    cfg.Engine.IndexID,
		Indicators: chain,
		NewGate:    newGate,
		TradeStore: stores.Trades,
		RunStore:   stores.Runs,
		Bus:        bus,
		Metrics:    m,
		Logger:     logger.Named("runner"),
		Clock:      opts.Clock,
		NewRunID:   opts.NewRunID,
	})

	logger.Info("app initialized",
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("regime", cfg.Regime.Enabled),
		zap.Bool("risk", cfg.Risk.Enabled),
		zap.Int("indicator_providers", chain.Len()),
	)

	return &App{
		Config:      cfg,
		Logger:      logger,
		Registry:    reg,
		Metrics:     m,
		Bus:         bus,
		Stores:      stores,
		Source:      src,
		Evaluator:   ev,
		NewGate:     newGate,
		Runner:      runner,
		Aggregator:  metrics.NewAggregator(stores.Runs, stores.Aggregates),
		Screener:    screen.New(ev),
		chain:       chain,
		closeStores: closeStores,
	}, nil
}

// Close releases store connections and drops bus subscriptions.
func (a *App) Close() {
	a.Bus.Clear()
	a.closeStores()
}

// Screen loads the bars of instruments over [start, end], enriches them
// through the indicator chain and screens them with doc. Instruments without
// bars are skipped. An empty instrument list screens every stored instrument.
func (a *App) Screen(ctx context.Context, instruments []string, start, end time.Time, doc *condition.Document, rank screen.RankBy, topN int) ([]screen.Match, error) {
	if len(instruments) == 0 {
		all, err := a.Stores.Bars.Instruments(ctx)
		if err != nil {
			return nil, fmt.Errorf("list instruments: %w", err)
		}
		instruments = all
	}

	universe := make([]*domain.Series, 0, len(instruments))
	for _, inst := range instruments {
		s, err := a.Source.FetchCandles(ctx, inst, start, end)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", inst, err)
		}
		if s.Len() == 0 {
			continue
		}
		if a.chain != nil {
			s, _ = a.chain.Apply(ctx, s, a.Config.Params)
		}
		universe = append(universe, s)
	}
	return a.Screener.Screen(universe, doc, rank, topN), nil
}

func providers(cfg *config.Config, stores Stores, index indicator.IndexSource) []indicator.Provider {
	ind := cfg.Indicators
	var out []indicator.Provider
	if ind.Store && stores.Indicators != nil {
		out = append(out, indicator.NewStoreProvider(stores.Indicators))
	}
	if ind.Derived {
		out = append(out, indicator.Derived{})
	}
	if len(ind.MovingAverages) > 0 {
		out = append(out, indicator.MovingAverage{Windows: ind.MovingAverages})
	}
	if len(ind.Sectors) > 0 {
		out = append(out, indicator.Sector{Mapping: ind.Sectors})
	}
	if ind.Momentum {
		out = append(out, indicator.NewMomentum(index, cfg.Engine.IndexID, ind.MomentumLookback))
	}
	if ind.Beta {
		out = append(out, indicator.NewBetaCorrelation(index, cfg.Engine.IndexID, ind.BetaWindow))
	}
	return out
}
