package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nunalabs/astro-swap-sub000/internal/api"
	"github.com/nunalabs/astro-swap-sub000/internal/database"
	"github.com/nunalabs/astro-swap-sub000/internal/prices"
	"github.com/nunalabs/astro-swap-sub000/internal/scheduler"
)

func RunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the sync loops and the health server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := scheduler.NewStatsScheduler(a.db, a.aggregator, cfg.Stats.RecountInterval, a.metrics, logger)
			if err != nil {
				return fmt.Errorf("create stats scheduler: %w", err)
			}
			if err := stats.Start(ctx); err != nil {
				return fmt.Errorf("start stats scheduler: %w", err)
			}
			defer stats.Stop()

			health := api.NewHealthServer(a.db, a.client, a.engine, a.metrics.Handler(), logger,
				fmt.Sprintf(":%d", cfg.Server.MetricsPort))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return health.Start(gctx)
			})
			g.Go(func() error {
				a.engine.Start(gctx)
				<-gctx.Done()
				logger.Info().Msg("Received shutdown signal")
				return nil
			})
			return g.Wait()
		},
	}
	return cmd
}

func OnceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "once",
		Short: "run a single factory and pair sync cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.engine.RunOnce(ctx); err != nil {
				return fmt.Errorf("sync cycle: %w", err)
			}
			for addr, st := range a.engine.Status() {
				logger.Info().
					Str("contract", addr).
					Str("type", string(st.Type)).
					Uint32("ledger", st.Ledger).
					Uint64("processed", st.Processed).
					Msg("Contract synced")
			}
			return nil
		},
	}
	return cmd
}

func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applied, err := database.RunMigrations(cmd.Context(), cfg.Database.ConnectionString(), logger)
			if err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			logger.Info().Strs("applied", applied).Msg("Migrations complete")
			return nil
		},
	}
	return cmd
}

func RecountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recount",
		Short: "recompute protocol statistics from indexed rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			db, err := database.New(cmd.Context(), &cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer db.Close()

			stats, err := scheduler.Recount(cmd.Context(), db, prices.NewAggregator(nil, logger))
			if err != nil {
				return fmt.Errorf("recount: %w", err)
			}
			logger.Info().
				Int64("total_pairs", stats.TotalPairs).
				Int64("total_swaps", stats.TotalSwaps).
				Int64("total_users", stats.TotalUsers).
				Msg("Protocol stats recounted")
			return nil
		},
	}
	return cmd
}
