// Package main loads OHLCV and indicator CSV files into the configured
// bar and indicator stores.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"regime-backtest-lab/internal/app"
	"regime-backtest-lab/internal/config"
	"regime-backtest-lab/internal/datasource"
	"regime-backtest-lab/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults to ./configs/backtest.yaml or ./config.yaml)")
	dataDir := flag.String("data-dir", "", "Directory of <instrument>.csv files (required)")
	flag.Parse()

	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "Error: --data-dir is required")
		os.Exit(2)
	}

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
		fmt.Fprintln(os.Stderr, "Warning: memory backend selected, loaded data is discarded on exit")
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

	loaded, err := datasource.SeedDir(ctx, *dataDir, stores.Bars, stores.Indicators)
	if err != nil {
		logger.Fatal("seed", zap.String("dir", *dataDir), zap.Error(err))
	}

	names := make([]string, 0, len(loaded))
	for name := range loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-12s %6d bars\n", name, loaded[name])
	}
	fmt.Printf("Seeded %d instruments from %s\n", len(names), *dataDir)
}
