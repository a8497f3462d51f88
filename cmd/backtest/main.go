package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"regime-backtest-lab/internal/app"
	"regime-backtest-lab/internal/config"
	"regime-backtest-lab/internal/datasource"
	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/logging"
	"regime-backtest-lab/internal/pipeline"
)

const dateLayout = "2006-01-02"

func main() {
	// Parse flags
	configPath := flag.String("config", "", "YAML config file (defaults to ./configs/backtest.yaml or ./config.yaml)")
	instruments := flag.String("instruments", "", "Comma-separated instrument codes (required)")
	start := flag.String("start", "", "Start date YYYY-MM-DD (required)")
	end := flag.String("end", "", "End date YYYY-MM-DD (required)")
	capital := flag.Float64("capital", 0, "Initial capital per instrument (defaults to engine.initial_capital)")
	dataDir := flag.String("data-dir", "", "Directory of <instrument>.csv files to load before running")
	reportDir := flag.String("report-dir", "", "Write REPORT.md and CSV tables into this directory")
	outputJSON := flag.Bool("json", false, "Output run summaries as JSON")
	flag.Parse()

	// Validate required flags
	if *instruments == "" || *start == "" || *end == "" {
		fmt.Fprintln(os.Stderr, "Error: --instruments, --start and --end are required")
		flag.Usage()
		os.Exit(2)
	}
	startDate, err := time.Parse(dateLayout, *start)
	if err != nil {
		fatalf("invalid --start: %v", err)
	}
	endDate, err := time.Parse(dateLayout, *end)
	if err != nil {
		fatalf("invalid --end: %v", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, app.Options{Config: cfg, Logger: logger})
	if err != nil {
		logger.Fatal("initialize app", zap.Error(err))
	}
	defer a.Close()

	if *dataDir != "" {
		loaded, err := datasource.SeedDir(ctx, *dataDir, a.Stores.Bars, a.Stores.Indicators)
		if err != nil {
			logger.Fatal("load data dir", zap.String("dir", *dataDir), zap.Error(err))
		}
		logger.Info("loaded bars", zap.Int("instruments", len(loaded)))
	}

	initial := *capital
	if initial == 0 {
		initial = cfg.Engine.InitialCapital
	}

	results, err := a.Runner.RunBatch(ctx, splitList(*instruments), startDate, endDate, initial)
	if err != nil {
		logger.Error("batch aborted", zap.Error(err), zap.Int("completed", len(results)))
	}

	if *outputJSON {
		summaries := make([]*domain.RunSummary, len(results))
		for i, r := range results {
			summaries[i] = r.Summary()
		}
		output, _ := json.MarshalIndent(summaries, "", "  ")
		fmt.Println(string(output))
	} else {
		printResults(results)
	}

	if *reportDir != "" {
		files, rerr := pipeline.NewReportPipeline(a.Stores.Runs, a.Stores.Trades, a.Stores.Aggregates, *reportDir).
			WithLogger(logger).
			Run(ctx)
		if rerr != nil {
			logger.Fatal("write report", zap.Error(rerr))
		}
		for _, f := range files {
			fmt.Printf("  - %s\n", f)
		}
	}

	if err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.Load(path)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// printResults outputs a human-readable summary per run.
func printResults(results []*domain.BacktestResult) {
	fmt.Println()
	fmt.Println("=== Backtest Results ===")
	for _, r := range results {
		fmt.Println()
		fmt.Printf("Instrument:         %s\n", r.Instrument)
		fmt.Printf("Run ID:             %s\n", r.RunID)
		fmt.Printf("Generator:          %s\n", r.Generator)
		if r.Regime != nil {
			fmt.Printf("Regime:             %s (confidence %.2f, allocation %.0f%%)\n",
				r.Regime.Regime, r.Regime.Confidence, r.Regime.CapitalAllocation*100)
		}
		fmt.Printf("Capital:            %.0f -> %.0f\n", r.EffectiveCapital, r.Metrics.FinalCapital)
		fmt.Printf("Trades:             %d (win rate %.1f%%)\n", r.Metrics.TotalTrades, r.Metrics.WinRate*100)
		fmt.Printf("Total Return:       %.2f%%\n", r.Metrics.TotalReturn*100)
		fmt.Printf("Max Drawdown:       %.2f%%\n", r.Metrics.MaxDrawdown*100)
		fmt.Printf("Sharpe:             %.2f\n", r.Metrics.SharpeRatio)
		if r.RiskRejections > 0 {
			fmt.Printf("Risk Rejections:    %d\n", r.RiskRejections)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
