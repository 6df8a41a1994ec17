package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nunalabs/astro-swap-sub000/internal/config"
)

const version = "0.1.0"

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "astroswap-indexer",
		Short:   "AstroSwap event indexer",
		Version: version,
	}
	cmd.PersistentFlags().StringP("config", "c", "config.yaml", "path to configuration file")
	cmd.AddCommand(RunCmd())
	cmd.AddCommand(OnceCmd())
	cmd.AddCommand(MigrateCmd())
	cmd.AddCommand(RecountCmd())
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := setupLogger(cfg.Logging)
	logger.Info().
		Str("version", version).
		Str("config", path).
		Str("command", cmd.Name()).
		Msg("Starting AstroSwap indexer")
	return cfg, logger, nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
		}
		return zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Caller().Logger()
}
