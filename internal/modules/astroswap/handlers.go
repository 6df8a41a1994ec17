package astroswap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/nunalabs/astro-swap-sub000/internal/database"
	"github.com/nunalabs/astro-swap-sub000/internal/modules/core"
)

// handlePairCreated registers the pair and starts its cursor at the
// creation ledger, so liquidity added in the creating transaction is seen.
func (m *Module) handlePairCreated(ctx context.Context, tx database.Tx, ev *core.PairCreated) error {
	pair := &database.Pair{
		Address:       ev.Pair,
		Token0:        ev.Token0,
		Token1:        ev.Token1,
		Decimals0:     m.tokens.Decimals(ev.Token0),
		Decimals1:     m.tokens.Decimals(ev.Token1),
		Reserve0:      new(big.Int),
		Reserve1:      new(big.Int),
		TotalSupply:   new(big.Int),
		PairIndex:     ev.PairIndex,
		CreatedLedger: ev.Ledger,
		CreatedTxHash: ev.TxHash,
	}

	inserted, err := tx.InsertPair(ctx, pair)
	if err != nil {
		return fmt.Errorf("failed to insert pair: %w", err)
	}
	if err := tx.SeedSyncStatus(ctx, ev.Pair, database.ContractTypePair, ev.Ledger); err != nil {
		return fmt.Errorf("failed to seed pair cursor: %w", err)
	}
	if _, err := m.aggregator.RecountStats(ctx, tx); err != nil {
		return err
	}

	if inserted {
		m.logger.Info().
			Str("pair", ev.Pair).
			Str("token0", ev.Token0).
			Str("token1", ev.Token1).
			Uint32("pair_index", ev.PairIndex).
			Uint32("ledger", ev.Ledger).
			Msg("Pair created")
	}
	return nil
}

func (m *Module) handleSwap(ctx context.Context, tx database.Tx, ev *core.Swap) error {
	pair, err := tx.GetPair(ctx, ev.Contract)
	if err != nil {
		return err
	}

	a0in, a1in, a0out, a1out, err := ev.Orient(pair.Token0, pair.Token1)
	if err != nil {
		return err
	}

	inserted, err := tx.InsertSwap(ctx, &database.Swap{
		PairAddress: pair.Address,
		TxHash:      ev.TxHash,
		EventIndex:  ev.EventIndex,
		Sender:      ev.Sender,
		Recipient:   ev.To,
		Amount0In:   a0in,
		Amount1In:   a1in,
		Amount0Out:  a0out,
		Amount1Out:  a1out,
		Ledger:      ev.Ledger,
		Timestamp:   ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert swap: %w", err)
	}

	if !inserted {
		m.logger.Debug().Str("tx_hash", ev.TxHash).Uint32("event_index", ev.EventIndex).Msg("Swap already recorded")
	}
	return nil
}

// handleLiquidity records a deposit or withdrawal. The position and supply
// deltas are applied only when the event row is new, which keeps replays
// from double counting.
func (m *Module) handleLiquidity(ctx context.Context, tx database.Tx, meta core.EventMeta, kind database.LiquidityKind, sender string, amount0, amount1, liquidity *big.Int) error {
	inserted, err := tx.InsertLiquidityEvent(ctx, &database.LiquidityEvent{
		PairAddress: meta.Contract,
		TxHash:      meta.TxHash,
		EventIndex:  meta.EventIndex,
		Sender:      sender,
		Kind:        kind,
		Amount0:     amount0,
		Amount1:     amount1,
		Liquidity:   liquidity,
		Ledger:      meta.Ledger,
		Timestamp:   meta.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert liquidity event: %w", err)
	}
	if !inserted {
		m.logger.Debug().Str("tx_hash", meta.TxHash).Uint32("event_index", meta.EventIndex).Msg("Liquidity event already recorded")
		return nil
	}

	delta := new(big.Int).Set(liquidity)
	if kind == database.LiquidityWithdraw {
		delta.Neg(delta)
	}

	pos, err := tx.ApplyPositionDelta(ctx, sender, meta.Contract, delta, meta.Timestamp)
	if err != nil {
		return err
	}
	if err := tx.AdjustPairSupply(ctx, meta.Contract, delta); err != nil {
		return fmt.Errorf("failed to adjust total supply: %w", err)
	}

	m.logger.Debug().
		Str("pair", meta.Contract).
		Str("user", sender).
		Str("kind", string(kind)).
		Str("delta", delta.String()).
		Str("balance", pos.LPBalance.String()).
		Msg("Applied liquidity event")
	return nil
}

func (m *Module) handleSync(ctx context.Context, tx database.Tx, ev *core.Sync) error {
	pair, err := tx.GetPair(ctx, ev.Contract)
	if err != nil {
		return err
	}
	if err := tx.UpdatePairReserves(ctx, pair.Address, ev.Reserve0, ev.Reserve1, ev.Ledger); err != nil {
		return fmt.Errorf("failed to update reserves: %w", err)
	}
	return m.aggregator.UpdatePrice(ctx, tx, pair.Address, ev.Reserve0, ev.Reserve1,
		pair.Decimals0, pair.Decimals1, ev.Timestamp, ev.Ledger)
}
