package database

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
)

const selectSyncStatusSQL = `
	SELECT contract_address, contract_type, last_ledger, last_event_id,
	       last_tx_hash, last_event_time, created_at, updated_at
	FROM sync_status`

const selectPairSQL = `
	SELECT address, token0, token1, decimals0, decimals1,
	       reserve0::text, reserve1::text, total_supply::text,
	       last_sync_ledger, pair_index, created_ledger, created_tx_hash,
	       created_at, updated_at
	FROM pairs`

type pgTx struct {
	tx pgx.Tx
}

var _ Tx = (*pgTx)(nil)

func scanSyncStatus(row pgx.Row) (*SyncStatus, error) {
	var s SyncStatus
	var contractType string
	if err := row.Scan(
		&s.ContractAddress, &contractType, &s.LastLedger, &s.LastEventID,
		&s.LastTxHash, &s.LastEventTime, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.ContractType = ContractType(contractType)
	return &s, nil
}

func scanPair(row pgx.Row) (*Pair, error) {
	var p Pair
	var reserve0, reserve1, supply string
	if err := row.Scan(
		&p.Address, &p.Token0, &p.Token1, &p.Decimals0, &p.Decimals1,
		&reserve0, &reserve1, &supply,
		&p.LastSyncLedger, &p.PairIndex, &p.CreatedLedger, &p.CreatedTxHash,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if p.Reserve0, err = NumericToBigInt(reserve0); err != nil {
		return nil, err
	}
	if p.Reserve1, err = NumericToBigInt(reserve1); err != nil {
		return nil, err
	}
	if p.TotalSupply, err = NumericToBigInt(supply); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) GetOrCreateSyncStatus(ctx context.Context, address string, contractType ContractType) (*SyncStatus, error) {
	if err := t.SeedSyncStatus(ctx, address, contractType, 0); err != nil {
		return nil, err
	}

	s, err := scanSyncStatus(t.tx.QueryRow(ctx, selectSyncStatusSQL+` WHERE contract_address = $1`, address))
	if err != nil {
		return nil, fmt.Errorf("failed to load sync status for %s: %w", address, err)
	}
	return s, nil
}

func (t *pgTx) SeedSyncStatus(ctx context.Context, address string, contractType ContractType, ledger uint32) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sync_status (contract_address, contract_type, last_ledger)
		VALUES ($1, $2, $3)
		ON CONFLICT (contract_address) DO NOTHING
	`, address, string(contractType), ledger)
	if err != nil {
		return fmt.Errorf("failed to seed sync status for %s: %w", address, err)
	}
	return nil
}

func (t *pgTx) AdvanceSyncStatus(ctx context.Context, address string, c Cursor) error {
	var eventTime *time.Time
	if !c.EventTime.IsZero() {
		ts := c.EventTime.UTC()
		eventTime = &ts
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE sync_status
		SET last_ledger = $2,
		    last_event_id = $3,
		    last_tx_hash = $4,
		    last_event_time = COALESCE($5, last_event_time),
		    updated_at = NOW()
		WHERE contract_address = $1
		  AND (last_ledger < $2
		       OR (last_ledger = $2 AND (
		           length($3::text) > length(last_event_id)
		           OR (length($3::text) = length(last_event_id) AND $3::text COLLATE "C" > last_event_id COLLATE "C"))))
	`, address, c.Ledger, c.EventID, c.TxHash, eventTime)
	if err != nil {
		return fmt.Errorf("failed to advance sync status for %s: %w", address, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sync_status WHERE contract_address = $1)`, address,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check sync status for %s: %w", address, err)
	}
	if !exists {
		return fmt.Errorf("sync status for %s: %w", address, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertPair(ctx context.Context, p *Pair) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO pairs (
			address, token0, token1, decimals0, decimals1,
			reserve0, reserve1, total_supply, last_sync_ledger,
			pair_index, created_ledger, created_tx_hash
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11, $12)
		ON CONFLICT (address) DO NOTHING
	`,
		p.Address, p.Token0, p.Token1, p.Decimals0, p.Decimals1,
		BigIntToNumeric(p.Reserve0), BigIntToNumeric(p.Reserve1), BigIntToNumeric(p.TotalSupply),
		p.LastSyncLedger, p.PairIndex, p.CreatedLedger, p.CreatedTxHash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert pair %s: %w", p.Address, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) GetPair(ctx context.Context, address string) (*Pair, error) {
	p, err := scanPair(t.tx.QueryRow(ctx, selectPairSQL+` WHERE address = $1`, address))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrPairNotFound, address)
		}
		return nil, fmt.Errorf("failed to get pair %s: %w", address, err)
	}
	return p, nil
}

func (t *pgTx) UpdatePairReserves(ctx context.Context, address string, reserve0, reserve1 *big.Int, ledger uint32) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE pairs
		SET reserve0 = $2::numeric,
		    reserve1 = $3::numeric,
		    last_sync_ledger = $4,
		    updated_at = NOW()
		WHERE address = $1
	`, address, BigIntToNumeric(reserve0), BigIntToNumeric(reserve1), ledger)
	if err != nil {
		return fmt.Errorf("failed to update reserves for %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrPairNotFound, address)
	}
	return nil
}

func (t *pgTx) AdjustPairSupply(ctx context.Context, address string, delta *big.Int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE pairs
		SET total_supply = total_supply + $2::numeric,
		    updated_at = NOW()
		WHERE address = $1
	`, address, BigIntToNumeric(delta))
	if err != nil {
		return fmt.Errorf("failed to adjust supply for %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrPairNotFound, address)
	}
	return nil
}

func (t *pgTx) InsertSwap(ctx context.Context, s *Swap) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO swaps (
			id, pair_address, tx_hash, event_index, sender, recipient,
			amount0_in, amount1_in, amount0_out, amount1_out, ledger, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11, $12)
		ON CONFLICT DO NOTHING
	`,
		EventRowID(s.TxHash, s.EventIndex), s.PairAddress, s.TxHash, s.EventIndex, s.Sender, s.Recipient,
		BigIntToNumeric(s.Amount0In), BigIntToNumeric(s.Amount1In),
		BigIntToNumeric(s.Amount0Out), BigIntToNumeric(s.Amount1Out),
		s.Ledger, s.Timestamp.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert swap %s: %w", s.TxHash, translatePgError(err))
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertLiquidityEvent(ctx context.Context, e *LiquidityEvent) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO liquidity_events (
			id, pair_address, tx_hash, event_index, sender, kind,
			amount0, amount1, liquidity, ledger, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10, $11)
		ON CONFLICT DO NOTHING
	`,
		EventRowID(e.TxHash, e.EventIndex), e.PairAddress, e.TxHash, e.EventIndex, e.Sender, string(e.Kind),
		BigIntToNumeric(e.Amount0), BigIntToNumeric(e.Amount1), BigIntToNumeric(e.Liquidity),
		e.Ledger, e.Timestamp.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert liquidity event %s: %w", e.TxHash, translatePgError(err))
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ApplyPositionDelta(ctx context.Context, user, pair string, delta *big.Int, at time.Time) (*Position, error) {
	pos := Position{UserAddress: user, PairAddress: pair}
	var balance string
	err := t.tx.QueryRow(ctx, `
		SELECT lp_balance::text, first_deposit_at, updated_at
		FROM positions
		WHERE user_address = $1 AND pair_address = $2
		FOR UPDATE
	`, user, pair).Scan(&balance, &pos.FirstDepositAt, &pos.UpdatedAt)

	exists := true
	switch {
	case err == pgx.ErrNoRows:
		exists = false
		pos.LPBalance = new(big.Int)
		pos.FirstDepositAt = at.UTC()
	case err != nil:
		return nil, fmt.Errorf("failed to load position %s/%s: %w", user, pair, err)
	default:
		if pos.LPBalance, err = NumericToBigInt(balance); err != nil {
			return nil, err
		}
	}

	next := new(big.Int).Add(pos.LPBalance, delta)
	if next.Sign() < 0 {
		return nil, fmt.Errorf("%w: user %s pair %s balance %s delta %s",
			ErrPositionUnderflow, user, pair, pos.LPBalance, delta)
	}
	pos.LPBalance = next
	pos.UpdatedAt = at.UTC()

	if exists {
		_, err = t.tx.Exec(ctx, `
			UPDATE positions
			SET lp_balance = $3::numeric, updated_at = $4
			WHERE user_address = $1 AND pair_address = $2
		`, user, pair, BigIntToNumeric(next), pos.UpdatedAt)
	} else {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO positions (user_address, pair_address, lp_balance, first_deposit_at, updated_at)
			VALUES ($1, $2, $3::numeric, $4, $5)
		`, user, pair, BigIntToNumeric(next), pos.FirstDepositAt, pos.UpdatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write position %s/%s: %w", user, pair, translatePgError(err))
	}
	return &pos, nil
}

func (t *pgTx) UpsertPriceHistory(ctx context.Context, rows []PriceHistory) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO price_history (
				pair_address, bucket, bucket_interval, price0, price1, reserve0, reserve1, ledger
			) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8)
			ON CONFLICT (pair_address, bucket, bucket_interval) DO UPDATE SET
				price0 = EXCLUDED.price0,
				price1 = EXCLUDED.price1,
				reserve0 = EXCLUDED.reserve0,
				reserve1 = EXCLUDED.reserve1,
				ledger = EXCLUDED.ledger
		`, r.PairAddress, r.Bucket.UTC(), r.Interval, r.Price0, r.Price1,
			BigIntToNumeric(r.Reserve0), BigIntToNumeric(r.Reserve1), r.Ledger)
	}

	br := t.tx.SendBatch(ctx, batch)
	for _, r := range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to upsert price history %s/%s: %w", r.PairAddress, r.Interval, translatePgError(err))
		}
	}
	return br.Close()
}

func (t *pgTx) RecountProtocolStats(ctx context.Context) (*ProtocolStats, error) {
	var stats ProtocolStats
	err := t.tx.QueryRow(ctx, `
		INSERT INTO protocol_stats (id, total_pairs, total_swaps, total_users, updated_at)
		SELECT 1,
		       (SELECT COUNT(*) FROM pairs),
		       (SELECT COUNT(*) FROM swaps),
		       (SELECT COUNT(DISTINCT sender) FROM liquidity_events WHERE kind = 'DEPOSIT'),
		       NOW()
		ON CONFLICT (id) DO UPDATE SET
			total_pairs = EXCLUDED.total_pairs,
			total_swaps = EXCLUDED.total_swaps,
			total_users = EXCLUDED.total_users,
			updated_at = EXCLUDED.updated_at
		RETURNING total_pairs, total_swaps, total_users, updated_at
	`).Scan(&stats.TotalPairs, &stats.TotalSwaps, &stats.TotalUsers, &stats.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to recount protocol stats: %w", err)
	}
	return &stats, nil
}
