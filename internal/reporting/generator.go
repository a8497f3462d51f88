package reporting

import (
	"context"
	"sort"
	"time"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

// Generator produces reports from stored data.
type Generator struct {
	runStore         storage.RunStore
	tradeRecordStore storage.TradeRecordStore
	aggregateStore   storage.StrategyAggregateStore
	now              func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(
	runStore storage.RunStore,
	tradeStore storage.TradeRecordStore,
	aggStore storage.StrategyAggregateStore,
) *Generator {
	return &Generator{
		runStore:         runStore,
		tradeRecordStore: tradeStore,
		aggregateStore:   aggStore,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces a report over every stored run.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	runs, err := g.runStore.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	aggs, err := g.aggregateStore.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	// Trades are loaded per run so the report only covers persisted runs
	var trades []*domain.TradeRecord
	for _, run := range runs {
		runTrades, err := g.tradeRecordStore.GetByRunID(ctx, run.RunID)
		if err != nil {
			return nil, err
		}
		trades = append(trades, runTrades...)
	}

	instruments := make(map[string]struct{})
	generators := make(map[string]struct{})
	for _, run := range runs {
		instruments[run.Instrument] = struct{}{}
		generators[run.Generator] = struct{}{}
	}

	return &Report{
		GeneratedAt:     g.now(),
		InstrumentCount: len(instruments),
		GeneratorCount:  len(generators),
		DataSummary:     summarize(runs, len(trades)),
		Runs:            runRows(runs),
		StrategyMetrics: strategyMetricRows(aggs),
		Regimes:         regimeRows(runs),
		ExitReasons:     exitReasonRows(trades),
	}, nil
}

func summarize(runs []*domain.RunSummary, totalTrades int) DataSummary {
	s := DataSummary{TotalRuns: len(runs), TotalTrades: totalTrades}
	for _, run := range runs {
		s.RiskRejections += run.RiskRejections
		if s.DateRangeStart.IsZero() || run.Start.Before(s.DateRangeStart) {
			s.DateRangeStart = run.Start
		}
		if run.End.After(s.DateRangeEnd) {
			s.DateRangeEnd = run.End
		}
	}
	return s
}

func runRows(runs []*domain.RunSummary) []RunRow {
	sorted := make([]*domain.RunSummary, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Instrument != sorted[j].Instrument {
			return sorted[i].Instrument < sorted[j].Instrument
		}
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].RunID < sorted[j].RunID
	})

	rows := make([]RunRow, len(sorted))
	for i, run := range sorted {
		rows[i] = RunRow{
			RunID:            run.RunID,
			Instrument:       run.Instrument,
			Generator:        run.Generator,
			Regime:           run.Regime,
			EffectiveCapital: run.EffectiveCapital,
			TotalTrades:      run.Metrics.TotalTrades,
			WinRate:          run.Metrics.WinRate,
			TotalReturn:      run.Metrics.TotalReturn,
			MaxDrawdown:      run.Metrics.MaxDrawdown,
			SharpeRatio:      run.Metrics.SharpeRatio,
			FinalCapital:     run.Metrics.FinalCapital,
		}
	}
	return rows
}

func strategyMetricRows(aggs []*domain.StrategyAggregate) []StrategyMetricRow {
	rows := make([]StrategyMetricRow, len(aggs))
	for i, agg := range aggs {
		rows[i] = StrategyMetricRow{
			Generator:            agg.Generator,
			Regime:               agg.Regime,
			Runs:                 agg.Runs,
			TotalTrades:          agg.TotalTrades,
			WinRate:              agg.WinRate,
			ReturnMean:           agg.ReturnMean,
			ReturnMedian:         agg.ReturnMedian,
			ReturnP10:            agg.ReturnP10,
			ReturnP90:            agg.ReturnP90,
			WorstDrawdown:        agg.WorstDrawdown,
			MeanSharpe:           agg.MeanSharpe,
			MaxConsecutiveLosses: agg.MaxConsecutiveLosses,
		}
	}

	// Sort by (generator, regime)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Generator != rows[j].Generator {
			return rows[i].Generator < rows[j].Generator
		}
		return rows[i].Regime < rows[j].Regime
	})
	return rows
}

// regimeOrder ranks regimes for display. Runs without detection sort last.
func regimeOrder(r domain.Regime) int {
	switch r {
	case domain.RegimeBull:
		return 0
	case domain.RegimeBear:
		return 1
	case domain.RegimeSideways:
		return 2
	default:
		return 3
	}
}

func regimeRows(runs []*domain.RunSummary) []RegimeRow {
	type acc struct {
		runs       int
		confidence float64
		ret        float64
	}
	groups := make(map[domain.Regime]*acc)
	for _, run := range runs {
		a := groups[run.Regime]
		if a == nil {
			a = &acc{}
			groups[run.Regime] = a
		}
		a.runs++
		a.confidence += run.RegimeConfidence
		a.ret += run.Metrics.TotalReturn
	}

	rows := make([]RegimeRow, 0, len(groups))
	for reg, a := range groups {
		rows = append(rows, RegimeRow{
			Regime:         reg,
			Runs:           a.runs,
			MeanConfidence: a.confidence / float64(a.runs),
			MeanReturn:     a.ret / float64(a.runs),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		oi, oj := regimeOrder(rows[i].Regime), regimeOrder(rows[j].Regime)
		if oi != oj {
			return oi < oj
		}
		return rows[i].Regime < rows[j].Regime
	})
	return rows
}

func exitReasonRows(trades []*domain.TradeRecord) []ExitReasonRow {
	counts := make(map[domain.ExitReason]int)
	pnl := make(map[domain.ExitReason]float64)
	for _, t := range trades {
		counts[t.ExitReason]++
		pnl[t.ExitReason] += t.PnLPct
	}

	rows := make([]ExitReasonRow, 0, len(counts))
	for reason, n := range counts {
		rows = append(rows, ExitReasonRow{
			Reason:     reason,
			Count:      n,
			MeanPnLPct: pnl[reason] / float64(n),
		})
	}

	// Sort by count DESC, reason ASC
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Reason < rows[j].Reason
	})
	return rows
}
