package core

import (
	"fmt"
	"math/big"
	"time"
)

// EventType names a recognized domain event.
type EventType string

const (
	EventPairCreated EventType = "pair_created"
	EventSwap        EventType = "swap"
	EventDeposit     EventType = "deposit"
	EventWithdraw    EventType = "withdraw"
	EventSync        EventType = "sync"
)

// EventMeta is the ledger context shared by every decoded event.
type EventMeta struct {
	Contract   string
	ID         string
	TxHash     string
	EventIndex uint32
	Ledger     uint32
	Timestamp  time.Time
}

func (m EventMeta) Meta() EventMeta { return m }

// Event is the closed set of decoded events. The unexported marker keeps
// the set limited to the variants in this file, so a type switch over
// *PairCreated, *Swap, *Deposit, *Withdraw and *Sync is exhaustive.
type Event interface {
	Type() EventType
	Meta() EventMeta
	sealed()
}

type PairCreated struct {
	EventMeta
	Token0    string
	Token1    string
	Pair      string
	PairIndex uint32
}

// Swap carries either the four directional amounts or, for contracts that
// report a trade as token_in/token_out, the token form. Orient converts the
// latter onto a pair's token order.
type Swap struct {
	EventMeta
	Sender     string
	To         string
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int

	TokenIn   string
	TokenOut  string
	AmountIn  *big.Int
	AmountOut *big.Int
}

type Deposit struct {
	EventMeta
	Sender    string
	Amount0   *big.Int
	Amount1   *big.Int
	Liquidity *big.Int
}

type Withdraw struct {
	EventMeta
	Sender    string
	Amount0   *big.Int
	Amount1   *big.Int
	Liquidity *big.Int
}

type Sync struct {
	EventMeta
	Reserve0 *big.Int
	Reserve1 *big.Int
}

func (*PairCreated) Type() EventType { return EventPairCreated }
func (*Swap) Type() EventType        { return EventSwap }
func (*Deposit) Type() EventType     { return EventDeposit }
func (*Withdraw) Type() EventType    { return EventWithdraw }
func (*Sync) Type() EventType        { return EventSync }

func (*PairCreated) sealed() {}
func (*Swap) sealed()        {}
func (*Deposit) sealed()     {}
func (*Withdraw) sealed()    {}
func (*Sync) sealed()        {}

// Directional reports whether the swap already carries per-token amounts.
func (s *Swap) Directional() bool {
	return s.TokenIn == ""
}

// Orient returns the four directional amounts for a pair whose tokens are
// (token0, token1).
func (s *Swap) Orient(token0, token1 string) (amount0In, amount1In, amount0Out, amount1Out *big.Int, err error) {
	if s.Directional() {
		return orZero(s.Amount0In), orZero(s.Amount1In), orZero(s.Amount0Out), orZero(s.Amount1Out), nil
	}

	zero := new(big.Int)
	switch {
	case s.TokenIn == token0 && s.TokenOut == token1:
		return orZero(s.AmountIn), zero, zero, orZero(s.AmountOut), nil
	case s.TokenIn == token1 && s.TokenOut == token0:
		return zero, orZero(s.AmountIn), orZero(s.AmountOut), zero, nil
	}
	return nil, nil, nil, nil, fmt.Errorf("swap tokens %s -> %s do not match pair tokens %s/%s",
		s.TokenIn, s.TokenOut, token0, token1)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
