// Package astroswap applies decoded factory and pair events to the store.
package astroswap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nunalabs/astro-swap-sub000/internal/database"
	"github.com/nunalabs/astro-swap-sub000/internal/modules/core"
	"github.com/nunalabs/astro-swap-sub000/internal/prices"
)

// TokenDecimals resolves the decimals of a token contract.
type TokenDecimals interface {
	Decimals(address string) uint32
}

// Module implements core.Module for the AstroSwap factory and its pairs.
// All writes go through the transaction passed to Handle.
type Module struct {
	aggregator *prices.Aggregator
	tokens     TokenDecimals
	logger     zerolog.Logger
}

var _ core.Module = (*Module)(nil)

func New(aggregator *prices.Aggregator, tokens TokenDecimals, logger zerolog.Logger) *Module {
	return &Module{
		aggregator: aggregator,
		tokens:     tokens,
		logger:     logger.With().Str("component", "astroswap").Logger(),
	}
}

func (m *Module) Name() string {
	return "astroswap"
}

// Handle applies one event. Replaying an event already applied leaves the
// store unchanged.
func (m *Module) Handle(ctx context.Context, tx database.Tx, event core.Event) error {
	var err error
	switch ev := event.(type) {
	case *core.PairCreated:
		err = m.handlePairCreated(ctx, tx, ev)
	case *core.Swap:
		err = m.handleSwap(ctx, tx, ev)
	case *core.Deposit:
		err = m.handleLiquidity(ctx, tx, ev.EventMeta, database.LiquidityDeposit, ev.Sender, ev.Amount0, ev.Amount1, ev.Liquidity)
	case *core.Withdraw:
		err = m.handleLiquidity(ctx, tx, ev.EventMeta, database.LiquidityWithdraw, ev.Sender, ev.Amount0, ev.Amount1, ev.Liquidity)
	case *core.Sync:
		err = m.handleSync(ctx, tx, ev)
	default:
		return fmt.Errorf("unsupported event %T", event)
	}
	if err != nil {
		return fmt.Errorf("%s handler: %w", event.Type(), err)
	}
	return nil
}
