// Package memory provides an in-memory database.Store for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/nunalabs/astro-swap-sub000/internal/database"
)

type positionKey struct {
	user string
	pair string
}

type priceKey struct {
	pair     string
	bucket   int64
	interval string
}

type state struct {
	statuses  map[string]database.SyncStatus
	pairs     map[string]database.Pair
	swaps     map[string]database.Swap
	liquidity map[string]database.LiquidityEvent
	positions map[positionKey]database.Position
	prices    map[priceKey]database.PriceHistory
	stats     database.ProtocolStats
}

func newState() *state {
	return &state{
		statuses:  make(map[string]database.SyncStatus),
		pairs:     make(map[string]database.Pair),
		swaps:     make(map[string]database.Swap),
		liquidity: make(map[string]database.LiquidityEvent),
		positions: make(map[positionKey]database.Position),
		prices:    make(map[priceKey]database.PriceHistory),
	}
}

// clone copies the maps. Stored values never share *big.Int pointers with
// callers, so a shallow copy of each value is enough.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.statuses {
		c.statuses[k] = v
	}
	for k, v := range s.pairs {
		c.pairs[k] = v
	}
	for k, v := range s.swaps {
		c.swaps[k] = v
	}
	for k, v := range s.liquidity {
		c.liquidity[k] = v
	}
	for k, v := range s.positions {
		c.positions[k] = v
	}
	for k, v := range s.prices {
		c.prices[k] = v
	}
	c.stats = s.stats
	return c
}

// Store is an in-memory implementation of database.Store. Transactions are
// serialized and applied to a copy of the state that replaces the committed
// state only when the callback succeeds.
type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

var _ database.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx database.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&memTx{state: working, now: s.now}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Store) ListPairs(_ context.Context) ([]database.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs := make([]database.Pair, 0, len(s.state.pairs))
	for _, p := range s.state.pairs {
		pairs = append(pairs, copyPair(p))
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].CreatedLedger != pairs[j].CreatedLedger {
			return pairs[i].CreatedLedger < pairs[j].CreatedLedger
		}
		return pairs[i].Address < pairs[j].Address
	})
	return pairs, nil
}

func (s *Store) GetPairs(_ context.Context, addresses []string) ([]database.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pairs []database.Pair
	for _, addr := range addresses {
		if p, ok := s.state.pairs[addr]; ok {
			pairs = append(pairs, copyPair(p))
		}
	}
	return pairs, nil
}

func (s *Store) ListSyncStatuses(_ context.Context) ([]database.SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]database.SyncStatus, 0, len(s.state.statuses))
	for _, st := range s.state.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContractType != out[j].ContractType {
			return out[i].ContractType < out[j].ContractType
		}
		return out[i].ContractAddress < out[j].ContractAddress
	})
	return out, nil
}

func (s *Store) GetProtocolStats(_ context.Context) (*database.ProtocolStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := s.state.stats
	return &stats, nil
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

// SyncStatus returns the cursor row for address.
func (s *Store) SyncStatus(address string) (database.SyncStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.state.statuses[address]
	return st, ok
}

func (s *Store) Pair(address string) (database.Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.pairs[address]
	return copyPair(p), ok
}

// Swaps returns the swaps of a pair ordered by ledger and event index.
func (s *Store) Swaps(pair string) []database.Swap {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []database.Swap
	for _, sw := range s.state.swaps {
		if sw.PairAddress == pair {
			out = append(out, sw)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ledger != out[j].Ledger {
			return out[i].Ledger < out[j].Ledger
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) LiquidityEvents(pair string) []database.LiquidityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []database.LiquidityEvent
	for _, e := range s.state.liquidity {
		if e.PairAddress == pair {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ledger != out[j].Ledger {
			return out[i].Ledger < out[j].Ledger
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Position(user, pair string) (database.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.positions[positionKey{user: user, pair: pair}]
	if ok {
		p.LPBalance = new(big.Int).Set(p.LPBalance)
	}
	return p, ok
}

// PriceHistory returns the rows of a pair ordered by interval and bucket.
func (s *Store) PriceHistory(pair string) []database.PriceHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []database.PriceHistory
	for _, r := range s.state.prices {
		if r.PairAddress == pair {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Interval != out[j].Interval {
			return out[i].Interval < out[j].Interval
		}
		return out[i].Bucket.Before(out[j].Bucket)
	})
	return out
}

type memTx struct {
	state *state
	now   func() time.Time
}

func (t *memTx) GetOrCreateSyncStatus(ctx context.Context, address string, contractType database.ContractType) (*database.SyncStatus, error) {
	if err := t.SeedSyncStatus(ctx, address, contractType, 0); err != nil {
		return nil, err
	}
	st := t.state.statuses[address]
	return &st, nil
}

func (t *memTx) SeedSyncStatus(_ context.Context, address string, contractType database.ContractType, ledger uint32) error {
	if _, ok := t.state.statuses[address]; ok {
		return nil
	}
	now := t.now().UTC()
	t.state.statuses[address] = database.SyncStatus{
		ContractAddress: address,
		ContractType:    contractType,
		LastLedger:      ledger,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return nil
}

func (t *memTx) AdvanceSyncStatus(_ context.Context, address string, c database.Cursor) error {
	st, ok := t.state.statuses[address]
	if !ok {
		return fmt.Errorf("sync status for %s: %w", address, database.ErrNotFound)
	}
	if st.Cursor().Covers(c.Ledger, c.EventID) || (c.Ledger == st.LastLedger && c.EventID == "") {
		return nil
	}
	st.LastLedger = c.Ledger
	st.LastEventID = c.EventID
	st.LastTxHash = c.TxHash
	if !c.EventTime.IsZero() {
		ts := c.EventTime.UTC()
		st.LastEventTime = &ts
	}
	st.UpdatedAt = t.now().UTC()
	t.state.statuses[address] = st
	return nil
}

func (t *memTx) InsertPair(_ context.Context, p *database.Pair) (bool, error) {
	if _, ok := t.state.pairs[p.Address]; ok {
		return false, nil
	}
	row := copyPair(*p)
	now := t.now().UTC()
	row.CreatedAt, row.UpdatedAt = now, now
	t.state.pairs[p.Address] = row
	return true, nil
}

func (t *memTx) GetPair(_ context.Context, address string) (*database.Pair, error) {
	p, ok := t.state.pairs[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", database.ErrPairNotFound, address)
	}
	out := copyPair(p)
	return &out, nil
}

func (t *memTx) UpdatePairReserves(_ context.Context, address string, reserve0, reserve1 *big.Int, ledger uint32) error {
	p, ok := t.state.pairs[address]
	if !ok {
		return fmt.Errorf("%w: %s", database.ErrPairNotFound, address)
	}
	p.Reserve0 = copyInt(reserve0)
	p.Reserve1 = copyInt(reserve1)
	p.LastSyncLedger = ledger
	p.UpdatedAt = t.now().UTC()
	t.state.pairs[address] = p
	return nil
}

func (t *memTx) AdjustPairSupply(_ context.Context, address string, delta *big.Int) error {
	p, ok := t.state.pairs[address]
	if !ok {
		return fmt.Errorf("%w: %s", database.ErrPairNotFound, address)
	}
	p.TotalSupply = new(big.Int).Add(copyInt(p.TotalSupply), delta)
	p.UpdatedAt = t.now().UTC()
	t.state.pairs[address] = p
	return nil
}

func (t *memTx) InsertSwap(_ context.Context, s *database.Swap) (bool, error) {
	if _, ok := t.state.pairs[s.PairAddress]; !ok {
		return false, fmt.Errorf("%w: %s", database.ErrPairNotFound, s.PairAddress)
	}
	id := database.EventRowID(s.TxHash, s.EventIndex)
	if _, ok := t.state.swaps[id]; ok {
		return false, nil
	}
	row := *s
	row.ID = id
	row.Amount0In = copyInt(s.Amount0In)
	row.Amount1In = copyInt(s.Amount1In)
	row.Amount0Out = copyInt(s.Amount0Out)
	row.Amount1Out = copyInt(s.Amount1Out)
	row.Timestamp = s.Timestamp.UTC()
	t.state.swaps[id] = row
	return true, nil
}

func (t *memTx) InsertLiquidityEvent(_ context.Context, e *database.LiquidityEvent) (bool, error) {
	if _, ok := t.state.pairs[e.PairAddress]; !ok {
		return false, fmt.Errorf("%w: %s", database.ErrPairNotFound, e.PairAddress)
	}
	id := database.EventRowID(e.TxHash, e.EventIndex)
	if _, ok := t.state.liquidity[id]; ok {
		return false, nil
	}
	row := *e
	row.ID = id
	row.Amount0 = copyInt(e.Amount0)
	row.Amount1 = copyInt(e.Amount1)
	row.Liquidity = copyInt(e.Liquidity)
	row.Timestamp = e.Timestamp.UTC()
	t.state.liquidity[id] = row
	return true, nil
}

func (t *memTx) ApplyPositionDelta(_ context.Context, user, pair string, delta *big.Int, at time.Time) (*database.Position, error) {
	key := positionKey{user: user, pair: pair}
	pos, ok := t.state.positions[key]
	if !ok {
		pos = database.Position{
			UserAddress:    user,
			PairAddress:    pair,
			LPBalance:      new(big.Int),
			FirstDepositAt: at.UTC(),
		}
	}

	next := new(big.Int).Add(pos.LPBalance, delta)
	if next.Sign() < 0 {
		return nil, fmt.Errorf("%w: user %s pair %s balance %s delta %s",
			database.ErrPositionUnderflow, user, pair, pos.LPBalance, delta)
	}
	pos.LPBalance = next
	pos.UpdatedAt = at.UTC()
	t.state.positions[key] = pos

	out := pos
	out.LPBalance = new(big.Int).Set(next)
	return &out, nil
}

func (t *memTx) UpsertPriceHistory(_ context.Context, rows []database.PriceHistory) error {
	for _, r := range rows {
		if _, ok := t.state.pairs[r.PairAddress]; !ok {
			return fmt.Errorf("%w: %s", database.ErrPairNotFound, r.PairAddress)
		}
		row := r
		row.Bucket = r.Bucket.UTC()
		row.Reserve0 = copyInt(r.Reserve0)
		row.Reserve1 = copyInt(r.Reserve1)
		t.state.prices[priceKey{pair: r.PairAddress, bucket: row.Bucket.UnixNano(), interval: r.Interval}] = row
	}
	return nil
}

func (t *memTx) RecountProtocolStats(_ context.Context) (*database.ProtocolStats, error) {
	users := make(map[string]struct{})
	for _, e := range t.state.liquidity {
		if e.Kind == database.LiquidityDeposit {
			users[e.Sender] = struct{}{}
		}
	}
	t.state.stats = database.ProtocolStats{
		TotalPairs: int64(len(t.state.pairs)),
		TotalSwaps: int64(len(t.state.swaps)),
		TotalUsers: int64(len(users)),
		UpdatedAt:  t.now().UTC(),
	}
	stats := t.state.stats
	return &stats, nil
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func copyPair(p database.Pair) database.Pair {
	p.Reserve0 = copyInt(p.Reserve0)
	p.Reserve1 = copyInt(p.Reserve1)
	p.TotalSupply = copyInt(p.TotalSupply)
	return p
}
