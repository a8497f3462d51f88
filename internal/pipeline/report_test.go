package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage/memory"
)

var fixedTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func seedRuns(t *testing.T, runStore *memory.RunStore, tradeStore *memory.TradeRecordStore) {
	t.Helper()
	ctx := context.Background()
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	runs := []*domain.RunSummary{
		{RunID: "r1", Instrument: "AAA", Generator: "trend_following", Regime: domain.RegimeBull, Start: d, End: d.AddDate(0, 1, 0), CreatedAt: d,
			Metrics: domain.PerformanceMetrics{TotalTrades: 1, Wins: 1, TotalReturn: 0.05, FinalCapital: 1_050_000}},
		{RunID: "r2", Instrument: "BBB", Generator: "swing", Regime: domain.RegimeSideways, Start: d, End: d.AddDate(0, 1, 0), CreatedAt: d,
			Metrics: domain.PerformanceMetrics{TotalTrades: 1, Losses: 1, TotalReturn: -0.02, FinalCapital: 392_000}},
	}
	for _, r := range runs {
		if err := runStore.Insert(ctx, r); err != nil {
			t.Fatalf("insert run: %v", err)
		}
	}
	trades := []*domain.TradeRecord{
		{TradeID: "t1", RunID: "r1", Instrument: "AAA", EntryDate: d, ExitDate: d.AddDate(0, 0, 5), ExitReason: domain.ExitReasonTakeProfit, PnLPct: 0.05},
		{TradeID: "t2", RunID: "r2", Instrument: "BBB", EntryDate: d, ExitDate: d.AddDate(0, 0, 3), ExitReason: domain.ExitReasonStopLoss, PnLPct: -0.02},
	}
	if err := tradeStore.InsertBulk(ctx, trades); err != nil {
		t.Fatalf("insert trades: %v", err)
	}
}

func TestReportPipeline_Run(t *testing.T) {
	dir := t.TempDir()
	runStore := memory.NewRunStore()
	tradeStore := memory.NewTradeRecordStore()
	aggStore := memory.NewStrategyAggregateStore()
	seedRuns(t, runStore, tradeStore)

	p := NewReportPipeline(runStore, tradeStore, aggStore, dir).WithClock(func() time.Time { return fixedTime })
	written, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("expected 3 files, got %d", len(written))
	}

	for _, f := range []string{ReportFile, StrategyMetricsFile, RunsFile} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("missing %s: %v", f, err)
		}
	}

	md, _ := os.ReadFile(filepath.Join(dir, ReportFile))
	if !strings.Contains(string(md), "Data version: ") {
		t.Error("report should carry a data version")
	}
	if !strings.Contains(string(md), "2024-06-01T12:00:00Z") {
		t.Error("report should use the injected clock")
	}

	aggs, err := aggStore.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(aggs) != 2 {
		t.Errorf("expected 2 stored aggregates, got %d", len(aggs))
	}

	runsCSV, _ := os.ReadFile(filepath.Join(dir, RunsFile))
	if lines := strings.Count(string(runsCSV), "\n"); lines != 3 {
		t.Errorf("runs.csv: expected header + 2 rows, got %d lines", lines)
	}
}

func TestReportPipeline_RerunKeepsStoredAggregates(t *testing.T) {
	dir := t.TempDir()
	runStore := memory.NewRunStore()
	tradeStore := memory.NewTradeRecordStore()
	aggStore := memory.NewStrategyAggregateStore()
	seedRuns(t, runStore, tradeStore)

	p := NewReportPipeline(runStore, tradeStore, aggStore, dir).WithClock(func() time.Time { return fixedTime })
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("second run should tolerate stored aggregates: %v", err)
	}
}

func TestReportPipeline_Empty(t *testing.T) {
	dir := t.TempDir()
	p := NewReportPipeline(memory.NewRunStore(), memory.NewTradeRecordStore(), memory.NewStrategyAggregateStore(), dir)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("empty stores should still produce a report: %v", err)
	}
	md, _ := os.ReadFile(filepath.Join(dir, ReportFile))
	if !strings.Contains(string(md), "No runs available.") {
		t.Error("expected empty runs section")
	}
}

func TestDataVersion_IgnoresGenerationTime(t *testing.T) {
	runStore := memory.NewRunStore()
	tradeStore := memory.NewTradeRecordStore()
	seedRuns(t, runStore, tradeStore)

	gen := func(at time.Time) string {
		p := NewReportPipeline(runStore, tradeStore, memory.NewStrategyAggregateStore(), t.TempDir()).WithClock(func() time.Time { return at })
		r, err := p.reportGen.Generate(context.Background())
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		return DataVersion(r)
	}

	a := gen(fixedTime)
	b := gen(fixedTime.Add(48 * time.Hour))
	if a != b {
		t.Errorf("data version changed with clock: %s vs %s", a, b)
	}
	if len(a) != 12 {
		t.Errorf("expected 12-char version, got %q", a)
	}
}
