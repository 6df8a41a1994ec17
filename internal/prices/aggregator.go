// Package prices derives price history and protocol statistics from pair
// reserve updates.
package prices

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/nunalabs/astro-swap-sub000/internal/database"
)

// ComputePrices returns the price of token0 in token1 and the inverse,
// scaling each reserve by its token decimals. A zero or negative reserve
// yields (0, 0).
func ComputePrices(reserve0, reserve1 *big.Int, decimals0, decimals1 uint32) (price0, price1 float64) {
	if reserve0 == nil || reserve1 == nil || reserve0.Sign() <= 0 || reserve1.Sign() <= 0 {
		return 0, 0
	}

	r0 := scaled(reserve0, decimals0)
	r1 := scaled(reserve1, decimals1)

	price0, _ = new(big.Rat).Quo(r1, r0).Float64()
	price1, _ = new(big.Rat).Quo(r0, r1).Float64()
	return price0, price1
}

func scaled(x *big.Int, decimals uint32) *big.Rat {
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(x, denom)
}

// Aggregator writes price history rows and recounts protocol stats. It
// runs inside the caller's transaction.
type Aggregator struct {
	intervals []Interval
	logger    zerolog.Logger
}

func NewAggregator(intervals []Interval, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		intervals: intervals,
		logger:    logger.With().Str("component", "aggregator").Logger(),
	}
}

// UpdatePrice upserts one row per interval for the bucket containing ts.
// The latest observation in a bucket overwrites earlier ones.
func (a *Aggregator) UpdatePrice(ctx context.Context, tx database.Tx, pair string, reserve0, reserve1 *big.Int, decimals0, decimals1 uint32, ts time.Time, ledger uint32) error {
	if len(a.intervals) == 0 {
		return nil
	}

	price0, price1 := ComputePrices(reserve0, reserve1, decimals0, decimals1)

	rows := make([]database.PriceHistory, 0, len(a.intervals))
	for _, iv := range a.intervals {
		rows = append(rows, database.PriceHistory{
			PairAddress: pair,
			Bucket:      iv.Bucket(ts),
			Interval:    iv.Label,
			Price0:      price0,
			Price1:      price1,
			Reserve0:    reserve0,
			Reserve1:    reserve1,
			Ledger:      ledger,
		})
	}

	if err := tx.UpsertPriceHistory(ctx, rows); err != nil {
		return fmt.Errorf("failed to upsert price history for %s: %w", pair, err)
	}

	a.logger.Debug().
		Str("pair", pair).
		Float64("price0", price0).
		Float64("price1", price1).
		Uint32("ledger", ledger).
		Msg("Updated price history")
	return nil
}

// RecountStats recomputes the protocol stats row from the base tables.
func (a *Aggregator) RecountStats(ctx context.Context, tx database.Tx) (*database.ProtocolStats, error) {
	stats, err := tx.RecountProtocolStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recount protocol stats: %w", err)
	}
	a.logger.Debug().
		Int64("pairs", stats.TotalPairs).
		Int64("swaps", stats.TotalSwaps).
		Int64("users", stats.TotalUsers).
		Msg("Recounted protocol stats")
	return stats, nil
}
