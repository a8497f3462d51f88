// Package main runs the backtest HTTP service:
// - POST /api/v1/backtests, /api/v1/backtests/batch, /api/v1/screen
// - GET /api/v1/runs/:id, /api/v1/runs/:id/trades
// - GET /api/v1/stream (websocket run events), /health, /metrics
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"regime-backtest-lab/internal/api"
	"regime-backtest-lab/internal/app"
	"regime-backtest-lab/internal/config"
	"regime-backtest-lab/internal/datasource"
	"regime-backtest-lab/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults to ./configs/backtest.yaml or ./config.yaml)")
	addr := flag.String("addr", "", "Listen address (overrides server.addr)")
	dataDir := flag.String("data-dir", "", "Directory of <instrument>.csv files to load at startup")
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
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

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

	gin.SetMode(gin.ReleaseMode)
	srv := api.New(api.Options{App: a, Logger: logger})

	logger.Info("starting server",
		zap.String("addr", cfg.Server.Addr),
		zap.String("backend", cfg.Storage.Backend),
	)
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
