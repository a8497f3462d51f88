// Package main regenerates the batch report from stored runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"regime-backtest-lab/internal/app"
	"regime-backtest-lab/internal/config"
	"regime-backtest-lab/internal/logging"
	"regime-backtest-lab/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults to ./configs/backtest.yaml or ./config.yaml)")
	outputDir := flag.String("output-dir", "reports", "Output directory for generated files")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Storage.Backend == config.BackendMemory {
		fmt.Fprintln(os.Stderr, "Error: the memory backend has no stored runs; use cmd/backtest --report-dir instead")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	stores, closeStores, err := app.OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("open stores", zap.Error(err))
	}
	defer closeStores()

	files, err := pipeline.NewReportPipeline(stores.Runs, stores.Trades, stores.Aggregates, *outputDir).
		WithLogger(logger).
		Run(ctx)
	if err != nil {
		logger.Fatal("generate report", zap.Error(err))
	}

	fmt.Println("Report generated successfully:")
	for _, f := range files {
		fmt.Printf("  - %s\n", f)
	}
}
