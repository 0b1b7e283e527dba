package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"swapwatch/internal/config"
	"swapwatch/internal/storage"
	chstore "swapwatch/internal/storage/clickhouse"
	"swapwatch/internal/storage/migrations"
	pgstore "swapwatch/internal/storage/postgres"
)

type sinkSet struct {
	fanout *storage.Fanout
}

// openSinks connects and migrates every configured swap sink.
func openSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) (sinkSet, func(), error) {
	set := sinkSet{fanout: storage.NewFanout()}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		pool, err := pgstore.NewPool(ctx, dsn)
		if err != nil {
			closeAll()
			return sinkSet{}, nil, err
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			closeAll()
			return sinkSet{}, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		set.fanout.Add("postgres", pgstore.NewSwapStore(pool))
		logger.Info("postgres sink enabled")
	}

	if dsn := cfg.Storage.ClickhouseDSN; dsn != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
		if err != nil {
			closeAll()
			return sinkSet{}, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		set.fanout.Add("clickhouse", chstore.NewSwapStore(conn))
		logger.Info("clickhouse sink enabled")
	}

	return set, closeAll, nil
}

// logSinkSummaries logs what each sink holds for asset. Rows written by
// earlier runs show up here; the in-memory total always starts at zero.
func logSinkSummaries(ctx context.Context, fanout *storage.Fanout, asset, msg string, logger *zap.Logger) {
	if fanout == nil {
		return
	}
	for _, s := range fanout.Summaries(ctx, asset) {
		if s.Err != nil {
			logger.Warn(msg, zap.String("sink", s.Name), zap.Error(s.Err))
			continue
		}
		logger.Info(msg,
			zap.String("sink", s.Name),
			zap.Int64("stored_count", s.Count),
			zap.Float64("stored_total", s.Total),
		)
	}
}
