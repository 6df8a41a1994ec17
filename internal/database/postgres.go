package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/nunalabs/astro-swap-sub000/internal/config"
)

type Database struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var _ Store = (*Database)(nil)

func New(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = cfg.MaxConnections
	}
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Uint16("port", poolConfig.ConnConfig.Port).
		Str("database", poolConfig.ConnConfig.Database).
		Msg("Connected to database")

	return &Database{
		pool:   pool,
		logger: logger.With().Str("component", "database").Logger(),
	}, nil
}

func (db *Database) Close() {
	db.pool.Close()
	db.logger.Info().Msg("Database connection closed")
}

func (db *Database) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *Database) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Transaction executes a function within a database transaction
func (db *Database) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			db.logger.Error().Err(rbErr).Msg("Failed to rollback transaction")
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (db *Database) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return db.Transaction(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (db *Database) ListPairs(ctx context.Context) ([]Pair, error) {
	rows, err := db.pool.Query(ctx, selectPairSQL+` ORDER BY created_ledger, address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pairs: %w", err)
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, *p)
	}
	return pairs, rows.Err()
}

// GetPairs returns the pairs among addresses that exist, in any order.
func (db *Database) GetPairs(ctx context.Context, addresses []string) ([]Pair, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx, selectPairSQL+` WHERE address = ANY($1)`, addresses)
	if err != nil {
		return nil, fmt.Errorf("failed to get pairs: %w", err)
	}
	defer rows.Close()

	pairs := make([]Pair, 0, len(addresses))
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, *p)
	}
	return pairs, rows.Err()
}

func (db *Database) ListSyncStatuses(ctx context.Context) ([]SyncStatus, error) {
	rows, err := db.pool.Query(ctx, selectSyncStatusSQL+` ORDER BY contract_type, contract_address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync status: %w", err)
	}
	defer rows.Close()

	var statuses []SyncStatus
	for rows.Next() {
		s, err := scanSyncStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *s)
	}
	return statuses, rows.Err()
}

func (db *Database) GetProtocolStats(ctx context.Context) (*ProtocolStats, error) {
	var stats ProtocolStats
	err := db.pool.QueryRow(ctx, `
		SELECT total_pairs, total_swaps, total_users, updated_at
		FROM protocol_stats WHERE id = 1
	`).Scan(&stats.TotalPairs, &stats.TotalSwaps, &stats.TotalUsers, &stats.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get protocol stats: %w", err)
	}
	return &stats, nil
}

// translatePgError maps constraint violations onto the store's sentinel errors.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: %s", ErrPairNotFound, pgErr.Detail)
	case "23514": // check_violation
		if pgErr.ConstraintName == "positions_lp_balance_check" {
			return fmt.Errorf("%w: %s", ErrPositionUnderflow, pgErr.Detail)
		}
	}
	return err
}
