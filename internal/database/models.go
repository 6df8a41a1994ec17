package database

import (
	"fmt"
	"math/big"
	"time"
)

// ContractType distinguishes the factory cursor from pair cursors.
type ContractType string

const (
	ContractTypeFactory ContractType = "factory"
	ContractTypePair    ContractType = "pair"
)

// LiquidityKind is the direction of a liquidity event.
type LiquidityKind string

const (
	LiquidityDeposit  LiquidityKind = "DEPOSIT"
	LiquidityWithdraw LiquidityKind = "WITHDRAW"
)

// Cursor is a position in a contract's event stream. Events are ordered by
// ledger and then by their RPC event id within the ledger.
type Cursor struct {
	Ledger    uint32
	EventID   string
	TxHash    string
	EventTime time.Time
}

// Covers reports whether the event at (ledger, eventID) has already been
// processed by a contract whose cursor is c.
func (c Cursor) Covers(ledger uint32, eventID string) bool {
	if ledger != c.Ledger {
		return ledger < c.Ledger
	}
	if c.EventID == "" || eventID == "" {
		return false
	}
	return compareEventID(eventID, c.EventID) <= 0
}

// compareEventID orders RPC event ids. Ids are zero padded, but shorter ids
// from older nodes still sort by length first.
func compareEventID(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SyncStatus is the durable per-contract cursor
type SyncStatus struct {
	ContractAddress string       `db:"contract_address"`
	ContractType    ContractType `db:"contract_type"`
	LastLedger      uint32       `db:"last_ledger"`
	LastEventID     string       `db:"last_event_id"`
	LastTxHash      string       `db:"last_tx_hash"`
	LastEventTime   *time.Time   `db:"last_event_time"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

// Cursor returns the stream position stored in the status row.
func (s *SyncStatus) Cursor() Cursor {
	c := Cursor{Ledger: s.LastLedger, EventID: s.LastEventID, TxHash: s.LastTxHash}
	if s.LastEventTime != nil {
		c.EventTime = *s.LastEventTime
	}
	return c
}

// Pair is a trading pair created by the factory
type Pair struct {
	Address        string    `db:"address"`
	Token0         string    `db:"token0"`
	Token1         string    `db:"token1"`
	Decimals0      uint32    `db:"decimals0"`
	Decimals1      uint32    `db:"decimals1"`
	Reserve0       *big.Int  `db:"reserve0"`
	Reserve1       *big.Int  `db:"reserve1"`
	TotalSupply    *big.Int  `db:"total_supply"`
	LastSyncLedger uint32    `db:"last_sync_ledger"`
	PairIndex      uint32    `db:"pair_index"`
	CreatedLedger  uint32    `db:"created_ledger"`
	CreatedTxHash  string    `db:"created_tx_hash"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Swap is one trade on a pair. ID is "<tx_hash>-<event_index>".
type Swap struct {
	ID          string    `db:"id"`
	PairAddress string    `db:"pair_address"`
	TxHash      string    `db:"tx_hash"`
	EventIndex  uint32    `db:"event_index"`
	Sender      string    `db:"sender"`
	Recipient   string    `db:"recipient"`
	Amount0In   *big.Int  `db:"amount0_in"`
	Amount1In   *big.Int  `db:"amount1_in"`
	Amount0Out  *big.Int  `db:"amount0_out"`
	Amount1Out  *big.Int  `db:"amount1_out"`
	Ledger      uint32    `db:"ledger"`
	Timestamp   time.Time `db:"timestamp"`
}

// LiquidityEvent records a deposit or withdrawal of liquidity
type LiquidityEvent struct {
	ID          string        `db:"id"`
	PairAddress string        `db:"pair_address"`
	TxHash      string        `db:"tx_hash"`
	EventIndex  uint32        `db:"event_index"`
	Sender      string        `db:"sender"`
	Kind        LiquidityKind `db:"kind"`
	Amount0     *big.Int      `db:"amount0"`
	Amount1     *big.Int      `db:"amount1"`
	Liquidity   *big.Int      `db:"liquidity"`
	Ledger      uint32        `db:"ledger"`
	Timestamp   time.Time     `db:"timestamp"`
}

// Position is a user's LP share balance in one pair
type Position struct {
	UserAddress    string    `db:"user_address"`
	PairAddress    string    `db:"pair_address"`
	LPBalance      *big.Int  `db:"lp_balance"`
	FirstDepositAt time.Time `db:"first_deposit_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// PriceHistory is the last observed price inside one interval bucket
type PriceHistory struct {
	PairAddress string    `db:"pair_address"`
	Bucket      time.Time `db:"bucket"`
	Interval    string    `db:"bucket_interval"`
	Price0      float64   `db:"price0"`
	Price1      float64   `db:"price1"`
	Reserve0    *big.Int  `db:"reserve0"`
	Reserve1    *big.Int  `db:"reserve1"`
	Ledger      uint32    `db:"ledger"`
}

// ProtocolStats is the singleton roll-up row
type ProtocolStats struct {
	TotalPairs int64     `db:"total_pairs" json:"total_pairs"`
	TotalSwaps int64     `db:"total_swaps" json:"total_swaps"`
	TotalUsers int64     `db:"total_users" json:"total_users"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// EventRowID builds the primary key shared by swaps and liquidity events.
func EventRowID(txHash string, eventIndex uint32) string {
	return fmt.Sprintf("%s-%d", txHash, eventIndex)
}

// Helper functions for conversions

// BigIntToNumeric renders v for a NUMERIC column. nil maps to "0".
func BigIntToNumeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NumericToBigInt parses a NUMERIC column read back as text.
func NumericToBigInt(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}
