package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nunalabs/astro-swap-sub000/internal/config"
	"github.com/nunalabs/astro-swap-sub000/internal/database"
	"github.com/nunalabs/astro-swap-sub000/internal/metrics"
	"github.com/nunalabs/astro-swap-sub000/internal/modules/astroswap"
	"github.com/nunalabs/astro-swap-sub000/internal/modules/core"
	"github.com/nunalabs/astro-swap-sub000/internal/prices"
	"github.com/nunalabs/astro-swap-sub000/internal/realtime"
	"github.com/nunalabs/astro-swap-sub000/internal/rpc"
	indexsync "github.com/nunalabs/astro-swap-sub000/internal/sync"
	"github.com/nunalabs/astro-swap-sub000/internal/tokens"
)

// app holds the components shared by the run and once commands.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	db         *database.Database
	client     *rpc.Client
	aggregator *prices.Aggregator
	metrics    *metrics.Metrics
	publisher  *realtime.Publisher
	engine     *indexsync.Engine
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if _, err := database.RunMigrations(ctx, cfg.Database.ConnectionString(), logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	registry := tokens.NewRegistry(cfg.Prices.DefaultDecimals, logger)
	if cfg.Tokens.RegistryFile != "" {
		if err := registry.LoadFile(cfg.Tokens.RegistryFile); err != nil {
			db.Close()
			return nil, fmt.Errorf("load token registry: %w", err)
		}
	}

	intervals, err := prices.ParseIntervals(cfg.Prices.Intervals)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("parse price intervals: %w", err)
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		client:     rpc.NewClient(cfg.Chain.RPCEndpoint, cfg.Chain.RequestTimeout, cfg.Chain.MaxConcurrent, logger),
		aggregator: prices.NewAggregator(intervals, logger),
		metrics:    metrics.New(nil),
	}

	var notifier indexsync.Notifier
	if cfg.Realtime.Enabled {
		a.publisher = realtime.NewPublisher(realtime.Config{
			Addr:          cfg.Realtime.Addr,
			Key:           cfg.Realtime.Key,
			FlushInterval: cfg.Realtime.FlushInterval,
		}, db, a.metrics, logger)
		notifier = a.publisher
	}

	module := astroswap.New(a.aggregator, registry, logger)
	a.engine = indexsync.NewEngine(engineConfig(cfg), db, a.client, core.NewDecoder(logger), module, notifier, a.metrics, logger)
	return a, nil
}

func engineConfig(cfg *config.Config) indexsync.Config {
	return indexsync.Config{
		FactoryAddress:  cfg.Chain.FactoryAddress,
		StartLedger:     cfg.Chain.StartLedger,
		PollingInterval: cfg.Sync.PollingInterval,
		RetryDelay:      cfg.Sync.RetryDelay,
		FetchLimit:      cfg.Sync.FetchLimit,
		Retry: indexsync.RetryConfig{
			Base:     cfg.Sync.BackoffBase,
			Cap:      cfg.Sync.BackoffCap,
			Attempts: cfg.Sync.BackoffAttempts,
		},
		PairWorkers:   cfg.Sync.PairWorkers,
		SkipMalformed: cfg.Sync.SkipMalformed,
	}
}

// close stops the engine before flushing the publisher so the last
// committed pairs are still published.
func (a *app) close() {
	a.engine.Stop()
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to flush realtime publisher")
		}
	}
	a.db.Close()
	a.logger.Info().Msg("Indexer stopped")
}
