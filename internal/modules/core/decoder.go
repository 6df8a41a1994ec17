package core

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nunalabs/astro-swap-sub000/internal/rpc"
)

// Decoder turns raw RPC events into typed domain events. Events are
// identified by the symbol in their first topic.
type Decoder struct {
	logger zerolog.Logger
}

func NewDecoder(logger zerolog.Logger) *Decoder {
	return &Decoder{logger: logger.With().Str("component", "decoder").Logger()}
}

// Decode returns ErrUnknownEvent for topics outside the vocabulary and
// ErrMalformedEvent for recognized topics with an undecodable payload.
func (d *Decoder) Decode(contract string, raw *rpc.Event) (Event, error) {
	if len(raw.Topics) == 0 {
		return nil, ErrUnknownEvent{}
	}

	first, err := parseScVal(raw.Topics[0])
	if err != nil {
		return nil, ErrUnknownEvent{Topic: string(raw.Topics[0])}
	}
	name, ok := first.symbol()
	if !ok {
		return nil, ErrUnknownEvent{Topic: string(raw.Topics[0])}
	}
	name = strings.ToLower(name)

	var eventType EventType
	switch name {
	case "pair_created":
		eventType = EventPairCreated
	case "swap":
		eventType = EventSwap
	case "deposit", "mint":
		eventType = EventDeposit
	case "withdraw", "burn":
		eventType = EventWithdraw
	case "sync":
		eventType = EventSync
	default:
		return nil, ErrUnknownEvent{Topic: name}
	}

	p, err := newPayload(eventType, raw)
	if err != nil {
		return nil, err
	}

	// LP token supply events share the mint/burn topics but publish a bare
	// amount or an (address, amount) pair. The matching deposit/withdraw
	// already carries the share delta.
	if name == "mint" || name == "burn" {
		if p.fields == nil && len(p.items) < 4 {
			return nil, ErrUnknownEvent{Topic: name}
		}
		if p.fields != nil && !p.has("shares_minted", "shares_burned", "liquidity", "shares") {
			return nil, ErrUnknownEvent{Topic: name}
		}
	}

	meta, err := eventMeta(eventType, contract, raw)
	if err != nil {
		return nil, err
	}

	var event Event
	switch eventType {
	case EventPairCreated:
		event, err = decodePairCreated(meta, p)
	case EventSwap:
		event, err = decodeSwap(meta, p)
	case EventDeposit:
		event, err = decodeDeposit(meta, p)
	case EventWithdraw:
		event, err = decodeWithdraw(meta, p)
	case EventSync:
		event, err = decodeSync(meta, p)
	}
	if err != nil {
		return nil, err
	}

	d.logger.Debug().
		Str("contract", contract).
		Str("event_type", string(eventType)).
		Str("tx_hash", raw.TxHash).
		Uint32("ledger", raw.Ledger).
		Msg("Decoded event")

	return event, nil
}

func eventMeta(eventType EventType, contract string, raw *rpc.Event) (EventMeta, error) {
	ts, err := raw.ClosedAt()
	if err != nil {
		return EventMeta{}, ErrMalformedEvent{Event: eventType, Reason: "ledger close time", Err: err}
	}
	index, err := raw.Index()
	if err != nil {
		return EventMeta{}, ErrMalformedEvent{Event: eventType, Reason: "event id", Err: err}
	}
	if raw.TxHash == "" {
		return EventMeta{}, malformed(eventType, "missing transaction hash")
	}
	return EventMeta{
		Contract:   contract,
		ID:         raw.ID,
		TxHash:     raw.TxHash,
		EventIndex: index,
		Ledger:     raw.Ledger,
		Timestamp:  ts,
	}, nil
}

// payload gives uniform access to the three shapes an event body can take:
// a symbol-keyed map, a positional vector, or a single scalar.
type payload struct {
	event  EventType
	fields map[string]scVal
	items  []scVal
	scalar *scVal
	topics []scVal
}

func newPayload(eventType EventType, raw *rpc.Event) (payload, error) {
	p := payload{event: eventType}

	for _, t := range raw.Topics[1:] {
		v, err := parseScVal(t)
		if err != nil {
			return p, ErrMalformedEvent{Event: eventType, Reason: "topic", Err: err}
		}
		p.topics = append(p.topics, v)
	}

	body, err := parseScVal(raw.Value)
	if err != nil {
		return p, ErrMalformedEvent{Event: eventType, Reason: "value", Err: err}
	}
	if fields, ok := body.fields(); ok {
		p.fields = fields
		return p, nil
	}
	if items, ok := body.vec(); ok {
		p.items = items
		return p, nil
	}
	p.scalar = &body
	return p, nil
}

func (p payload) lookup(pos int, names ...string) (scVal, bool) {
	if p.fields != nil {
		for _, name := range names {
			if v, ok := p.fields[name]; ok {
				return v, true
			}
		}
		return scVal{}, false
	}
	if pos >= 0 && pos < len(p.items) {
		return p.items[pos], true
	}
	return scVal{}, false
}

func (p payload) has(names ...string) bool {
	_, ok := p.lookup(-1, names...)
	return ok
}

func (p payload) address(pos int, names ...string) (string, error) {
	v, ok := p.lookup(pos, names...)
	if !ok {
		return "", malformed(p.event, "missing "+names[0])
	}
	addr, ok := v.address()
	if !ok {
		return "", malformed(p.event, names[0]+" is not an address")
	}
	return addr, nil
}

// sender falls back to the first address topic, where pair contracts that
// index the caller put it.
func (p payload) sender(pos int, names ...string) (string, error) {
	if v, ok := p.lookup(pos, names...); ok {
		if addr, ok := v.address(); ok {
			return addr, nil
		}
		return "", malformed(p.event, names[0]+" is not an address")
	}
	for _, t := range p.topics {
		if addr, ok := t.address(); ok {
			return addr, nil
		}
	}
	return "", malformed(p.event, "missing "+names[0])
}

func (p payload) amount(pos int, names ...string) (*big.Int, error) {
	v, ok := p.lookup(pos, names...)
	if !ok {
		return nil, malformed(p.event, "missing "+names[0])
	}
	n, ok := v.integer()
	if !ok {
		return nil, malformed(p.event, names[0]+" is not an integer")
	}
	if n.Sign() < 0 {
		return nil, malformed(p.event, fmt.Sprintf("%s is negative: %s", names[0], n))
	}
	return n, nil
}

func (p payload) requireShape(vecLens ...int) error {
	if p.fields != nil {
		return nil
	}
	if p.items == nil {
		return malformed(p.event, "payload is neither a map nor a vector")
	}
	for _, n := range vecLens {
		if len(p.items) == n {
			return nil
		}
	}
	return malformed(p.event, fmt.Sprintf("unexpected vector length %d", len(p.items)))
}

func decodePairCreated(meta EventMeta, p payload) (Event, error) {
	if err := p.requireShape(3, 4); err != nil {
		return nil, err
	}
	ev := &PairCreated{EventMeta: meta}
	var err error
	if ev.Token0, err = p.address(0, "token_a", "token0", "token_0"); err != nil {
		return nil, err
	}
	if ev.Token1, err = p.address(1, "token_b", "token1", "token_1"); err != nil {
		return nil, err
	}
	if ev.Pair, err = p.address(2, "pair", "pair_address"); err != nil {
		return nil, err
	}
	if v, ok := p.lookup(3, "pair_count", "pair_index"); ok {
		n, ok := v.integer()
		if !ok || !n.IsUint64() || n.Uint64() > uint64(^uint32(0)) {
			return nil, malformed(EventPairCreated, "pair_count is not a u32")
		}
		ev.PairIndex = uint32(n.Uint64())
	}
	if ev.Token0 == ev.Token1 {
		return nil, malformed(EventPairCreated, "identical tokens")
	}
	return ev, nil
}

func decodeSwap(meta EventMeta, p payload) (Event, error) {
	if err := p.requireShape(5, 6); err != nil {
		return nil, err
	}
	ev := &Swap{EventMeta: meta}
	var err error

	tokenForm := len(p.items) == 5 || (p.fields != nil && p.has("token_in"))
	if tokenForm {
		if ev.Sender, err = p.sender(0, "user", "sender"); err != nil {
			return nil, err
		}
		if ev.TokenIn, err = p.address(1, "token_in"); err != nil {
			return nil, err
		}
		if ev.TokenOut, err = p.address(2, "token_out"); err != nil {
			return nil, err
		}
		if ev.AmountIn, err = p.amount(3, "amount_in"); err != nil {
			return nil, err
		}
		if ev.AmountOut, err = p.amount(4, "amount_out"); err != nil {
			return nil, err
		}
		ev.To = ev.Sender
		if p.has("to", "recipient") {
			if ev.To, err = p.address(-1, "to", "recipient"); err != nil {
				return nil, err
			}
		}
		return ev, nil
	}

	if ev.Sender, err = p.sender(0, "sender", "user"); err != nil {
		return nil, err
	}
	ev.To = ev.Sender
	if p.fields == nil || p.has("to", "recipient") {
		if ev.To, err = p.address(1, "to", "recipient"); err != nil {
			return nil, err
		}
	}
	if ev.Amount0In, err = p.amount(2, "amount0_in", "amount_0_in"); err != nil {
		return nil, err
	}
	if ev.Amount1In, err = p.amount(3, "amount1_in", "amount_1_in"); err != nil {
		return nil, err
	}
	if ev.Amount0Out, err = p.amount(4, "amount0_out", "amount_0_out"); err != nil {
		return nil, err
	}
	if ev.Amount1Out, err = p.amount(5, "amount1_out", "amount_1_out"); err != nil {
		return nil, err
	}
	return ev, nil
}

// liquidityFields decodes the fields shared by deposits and withdrawals. In
// the five-element vector form the share amount sits at sharesPos.
func liquidityFields(p payload, sharesPos int, shareNames ...string) (sender string, amount0, amount1, shares *big.Int, err error) {
	if err = p.requireShape(4, 5); err != nil {
		return
	}

	senderPos, a0Pos, a1Pos, liqPos := 0, 1, 2, 3
	if len(p.items) == 5 {
		// (user, pair, ...) with shares either before or after the amounts
		a0Pos, a1Pos, liqPos = 2, 3, sharesPos
		if sharesPos == 2 {
			a0Pos, a1Pos = 3, 4
		}
	}

	if sender, err = p.sender(senderPos, "user", "sender", "provider"); err != nil {
		return
	}
	if amount0, err = p.amount(a0Pos, "amount_a", "amount0", "amount_0"); err != nil {
		return
	}
	if amount1, err = p.amount(a1Pos, "amount_b", "amount1", "amount_1"); err != nil {
		return
	}
	shares, err = p.amount(liqPos, shareNames...)
	return
}

func decodeDeposit(meta EventMeta, p payload) (Event, error) {
	sender, a0, a1, shares, err := liquidityFields(p, 4, "shares_minted", "liquidity", "shares")
	if err != nil {
		return nil, err
	}
	return &Deposit{EventMeta: meta, Sender: sender, Amount0: a0, Amount1: a1, Liquidity: shares}, nil
}

func decodeWithdraw(meta EventMeta, p payload) (Event, error) {
	sender, a0, a1, shares, err := liquidityFields(p, 2, "shares_burned", "liquidity", "shares")
	if err != nil {
		return nil, err
	}
	return &Withdraw{EventMeta: meta, Sender: sender, Amount0: a0, Amount1: a1, Liquidity: shares}, nil
}

func decodeSync(meta EventMeta, p payload) (Event, error) {
	if err := p.requireShape(2); err != nil {
		return nil, err
	}
	r0, err := p.amount(0, "reserve0", "reserve_0", "reserve_a")
	if err != nil {
		return nil, err
	}
	r1, err := p.amount(1, "reserve1", "reserve_1", "reserve_b")
	if err != nil {
		return nil, err
	}
	return &Sync{EventMeta: meta, Reserve0: r0, Reserve1: r1}, nil
}
