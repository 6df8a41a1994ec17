package database

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrPairNotFound is returned when an event references a pair that was
	// never created by the factory.
	ErrPairNotFound = errors.New("pair not found")

	// ErrPositionUnderflow signals that a withdrawal exceeds the recorded LP
	// balance, which means a prior event was missed or duplicated.
	ErrPositionUnderflow = errors.New("position balance would go negative")
)

// Store is the relational model written by the sync engine. Every state
// transition runs inside WithTx so the handler mutation and the cursor
// advance commit together.
type Store interface {
	// WithTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// ListPairs returns all known pairs ordered by creation ledger.
	ListPairs(ctx context.Context) ([]Pair, error)

	// GetPairs returns the existing pairs among addresses.
	GetPairs(ctx context.Context, addresses []string) ([]Pair, error)

	// ListSyncStatuses returns every cursor row.
	ListSyncStatuses(ctx context.Context) ([]SyncStatus, error)

	// GetProtocolStats returns the singleton stats row.
	GetProtocolStats(ctx context.Context) (*ProtocolStats, error)

	Ping(ctx context.Context) error
}

// Tx is the set of operations available inside a store transaction.
type Tx interface {
	// GetOrCreateSyncStatus returns the cursor for address, creating it at
	// ledger 0 when absent.
	GetOrCreateSyncStatus(ctx context.Context, address string, contractType ContractType) (*SyncStatus, error)

	// SeedSyncStatus creates the cursor for address at ledger when absent.
	// An existing cursor is left untouched.
	SeedSyncStatus(ctx context.Context, address string, contractType ContractType, ledger uint32) error

	// AdvanceSyncStatus moves the cursor forward to c. A position at or
	// behind the stored one is ignored, so a cursor never rewinds.
	// Returns ErrNotFound if the cursor row does not exist.
	AdvanceSyncStatus(ctx context.Context, address string, c Cursor) error

	// InsertPair creates the pair row. Returns false if it already existed.
	InsertPair(ctx context.Context, p *Pair) (bool, error)

	// GetPair returns ErrPairNotFound if the pair does not exist.
	GetPair(ctx context.Context, address string) (*Pair, error)

	// UpdatePairReserves overwrites the reserves and the last sync ledger.
	UpdatePairReserves(ctx context.Context, address string, reserve0, reserve1 *big.Int, ledger uint32) error

	// AdjustPairSupply adds delta (which may be negative) to the pair's LP supply.
	AdjustPairSupply(ctx context.Context, address string, delta *big.Int) error

	// InsertSwap appends a swap. Returns false if (tx_hash, event_index)
	// was already recorded.
	InsertSwap(ctx context.Context, s *Swap) (bool, error)

	// InsertLiquidityEvent appends a liquidity event. Returns false if
	// (tx_hash, event_index) was already recorded.
	InsertLiquidityEvent(ctx context.Context, e *LiquidityEvent) (bool, error)

	// ApplyPositionDelta adds delta to the (user, pair) balance, creating the
	// position stamped with at when absent. Returns ErrPositionUnderflow if
	// the result would be negative; the balance is left unchanged then.
	ApplyPositionDelta(ctx context.Context, user, pair string, delta *big.Int, at time.Time) (*Position, error)

	// UpsertPriceHistory creates or overwrites rows keyed by
	// (pair, bucket, interval).
	UpsertPriceHistory(ctx context.Context, rows []PriceHistory) error

	// RecountProtocolStats recomputes the stats row from the base tables.
	RecountProtocolStats(ctx context.Context) (*ProtocolStats, error)
}
