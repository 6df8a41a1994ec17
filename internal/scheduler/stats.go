// Package scheduler runs periodic maintenance jobs next to the sync loops.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/nunalabs/astro-swap-sub000/internal/database"
	"github.com/nunalabs/astro-swap-sub000/internal/metrics"
	"github.com/nunalabs/astro-swap-sub000/internal/prices"
)

// StatsScheduler recounts the protocol stats row on a fixed interval.
// The sync engine recounts after each new pair; this job picks up swap
// and user counts in between.
type StatsScheduler struct {
	store      database.Store
	aggregator *prices.Aggregator
	interval   time.Duration
	scheduler  gocron.Scheduler
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewStatsScheduler(store database.Store, aggregator *prices.Aggregator, interval time.Duration, m *metrics.Metrics, logger zerolog.Logger) (*StatsScheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &StatsScheduler{
		store:      store,
		aggregator: aggregator,
		interval:   interval,
		scheduler:  s,
		metrics:    m,
		logger:     logger.With().Str("component", "stats-scheduler").Logger(),
	}, nil
}

func (s *StatsScheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.recount, ctx),
		gocron.WithName("recount-protocol-stats"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}

	s.logger.Info().Dur("interval", s.interval).Msg("Stats scheduler started")
	s.scheduler.Start()
	return nil
}

func (s *StatsScheduler) Stop() {
	s.logger.Info().Msg("Stopping stats scheduler")
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down scheduler")
	}
}

func (s *StatsScheduler) recount(ctx context.Context) {
	if _, err := Recount(ctx, s.store, s.aggregator); err != nil {
		s.logger.Error().Err(err).Msg("Failed to recount protocol stats")
		return
	}
	s.metrics.StatsRecounts.WithLabelValues("periodic").Inc()
}

// Recount recomputes the stats row in its own transaction.
func Recount(ctx context.Context, store database.Store, aggregator *prices.Aggregator) (*database.ProtocolStats, error) {
	var stats *database.ProtocolStats
	err := store.WithTx(ctx, func(tx database.Tx) error {
		var err error
		stats, err = aggregator.RecountStats(ctx, tx)
		return err
	})
	return stats, err
}
