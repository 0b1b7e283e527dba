package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"swapwatch/internal/amount"
	"swapwatch/internal/config"
	"swapwatch/internal/discovery"
	"swapwatch/internal/domain"
	"swapwatch/internal/ingestion"
	"swapwatch/internal/logging"
	"swapwatch/internal/observability"
	"swapwatch/internal/solana"
)

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console,
		NoColor: cfg.Log.NoColor,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLog()

	logger.Info("starting swapwatch",
		zap.String("version", version),
		zap.String("asset", cfg.Asset),
		zap.String("program", cfg.Filter.ProgramID),
		zap.String("strategy", cfg.Amount.Strategy),
		zap.String("rpc", cfg.RPC.HTTPURL),
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg, observability.DefaultNamespace)
	srv := startMetricsServer(cfg.App.MetricsAddr, reg, logger.Named("metrics"))

	sinks, closeSinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()
	logSinkSummaries(ctx, sinks.fanout, cfg.Asset, "sink contents at startup", logger)

	monitor, err := buildMonitor(ctx, cfg, sinks, metrics, logger)
	if err != nil {
		return err
	}

	runErr := monitor.Run(ctx)
	if runErr != nil {
		logger.Error("monitor stopped", zap.Error(runErr))
	}
	stop()
	logger.Info("shutting down", zap.Duration("timeout", cfg.App.ShutdownTimeout))

	// A second signal during drain forces exit.
	forced := make(chan os.Signal, 1)
	signal.Notify(forced, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forced)
	go func() {
		if _, ok := <-forced; ok {
			logger.Warn("second signal, exiting immediately")
			_ = closeLog()
			os.Exit(1)
		}
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	shutdownErr := monitor.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		logger.Warn("shutdown incomplete", zap.Error(shutdownErr))
	}
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	logSinkSummaries(shutdownCtx, sinks.fanout, cfg.Asset, "sink contents at shutdown", logger)

	snap := monitor.Aggregator().Snapshot()
	logger.Info("final total",
		zap.Float64("total", snap.Total),
		zap.Int64("count", snap.Count),
	)
	return runErr
}

func buildMonitor(ctx context.Context, cfg *config.Config, sinks sinkSet, metrics *observability.Metrics, logger *zap.Logger) (*ingestion.Monitor, error) {
	feed, err := solana.NewWSClient(ctx, cfg.RPC.WSURL, nil, logger.Named("ws"))
	if err != nil {
		return nil, fmt.Errorf("connect websocket: %w", err)
	}

	fetcher := solana.NewRPCFetcher(cfg.RPC.HTTPURL,
		solana.WithFetchTimeout(cfg.RPC.FetchTimeout),
		solana.WithCommitment(cfg.RPC.Commitment),
		solana.WithBreaker(cfg.RPC.BreakerFailures, cfg.RPC.BreakerCooldown),
		solana.WithFetcherLogger(logger.Named("fetcher")),
	)

	extractor, err := amount.NewExtractor(amount.ExtractorOptions{
		ProgramID:     cfg.Filter.ProgramID,
		Strategy:      domain.Strategy(cfg.Amount.Strategy),
		ScalingFactor: cfg.Amount.ScalingFactor,
		Mint:          cfg.Amount.Mint,
	})
	if err != nil {
		feed.Close()
		return nil, err
	}

	validator := amount.NewValidator(cfg.ValidatorConfig())
	vc := validator.Config()
	logger.Info("validator configured",
		zap.Float64("max_amount", vc.MaxAmount),
		zap.Float64("epsilon", vc.Epsilon),
		zap.Float64("step", vc.Step),
	)

	opts := ingestion.MonitorOptions{
		Asset:      cfg.Asset,
		Commitment: cfg.RPC.Commitment,
		Feed:       feed,
		Fetcher:    fetcher,
		Filter: discovery.NewSwapFilter(discovery.FilterOptions{
			ProgramID: cfg.Filter.ProgramID,
			Mode:      discovery.MarkerMode(cfg.Filter.MarkerMode),
			Logger:    logger.Named("filter"),
		}),
		Extractor:      extractor,
		Validator:      validator,
		Sinks:          sinks.fanout,
		FetchLimits:    cfg.FetchLimits(),
		DispatchLimits: cfg.DispatchLimits(),
		NominalCost:    cfg.Limits.NominalCost,
		DedupCapacity:  cfg.Dedup.Capacity,
		StatusInterval: cfg.App.StatusInterval,
		Metrics:        metrics,
		Logger:         logger,
	}
	if inbound, ok := cfg.InboundLimits(); ok {
		opts.InboundLimits = &inbound
	}

	monitor, err := ingestion.NewMonitor(opts)
	if err != nil {
		feed.Close()
		return nil, err
	}
	return monitor, nil
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.HandlerFor(reg))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
