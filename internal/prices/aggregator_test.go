package prices

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunalabs/astro-swap-sub000/internal/database"
	"github.com/nunalabs/astro-swap-sub000/internal/database/memory"
)

func TestComputePrices(t *testing.T) {
	tests := []struct {
		name           string
		r0, r1         int64
		d0, d1         uint32
		price0, price1 float64
	}{
		{"equal decimals", 100, 200, 7, 7, 2.0, 0.5},
		{"mixed decimals", 10_0000000, 2_000_000, 7, 6, 0.2, 5.0},
		{"zero reserve0", 0, 200, 7, 7, 0, 0},
		{"zero reserve1", 100, 0, 7, 7, 0, 0},
		{"negative reserve", -5, 200, 7, 7, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p0, p1 := ComputePrices(big.NewInt(tt.r0), big.NewInt(tt.r1), tt.d0, tt.d1)
			assert.InDelta(t, tt.price0, p0, 1e-12)
			assert.InDelta(t, tt.price1, p1, 1e-12)
		})
	}
}

func TestComputePricesSymmetry(t *testing.T) {
	r0, _ := new(big.Int).SetString("123456789012345678901234567", 10)
	r1, _ := new(big.Int).SetString("987654321098765", 10)

	p0, p1 := ComputePrices(r0, r1, 18, 6)
	require.NotZero(t, p0)
	assert.InEpsilon(t, 1.0, p0*p1, 1e-12)

	q0, q1 := ComputePrices(r1, r0, 6, 18)
	assert.InEpsilon(t, p0, q1, 1e-12)
	assert.InEpsilon(t, p1, q0, 1e-12)
}

func TestComputePricesNil(t *testing.T) {
	p0, p1 := ComputePrices(nil, big.NewInt(1), 7, 7)
	assert.Zero(t, p0)
	assert.Zero(t, p1)
}

func seedPair(t *testing.T, store *memory.Store, addr string) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx database.Tx) error {
		_, err := tx.InsertPair(context.Background(), &database.Pair{
			Address: addr, Token0: "CA", Token1: "CB", Decimals0: 7, Decimals1: 7,
		})
		return err
	})
	require.NoError(t, err)
}

func TestAggregatorUpdatePriceLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedPair(t, store, "CPAIR")

	ivs, err := ParseIntervals(DefaultIntervals)
	require.NoError(t, err)
	agg := NewAggregator(ivs, zerolog.Nop())

	first := time.Date(2025, 6, 1, 10, 30, 5, 0, time.UTC)
	second := first.Add(20 * time.Second)

	require.NoError(t, store.WithTx(ctx, func(tx database.Tx) error {
		return agg.UpdatePrice(ctx, tx, "CPAIR", big.NewInt(100), big.NewInt(200), 7, 7, first, 10)
	}))
	require.NoError(t, store.WithTx(ctx, func(tx database.Tx) error {
		return agg.UpdatePrice(ctx, tx, "CPAIR", big.NewInt(100), big.NewInt(400), 7, 7, second, 11)
	}))

	rows := store.PriceHistory("CPAIR")
	require.Len(t, rows, 4)
	for _, r := range rows {
		assert.InDelta(t, 4.0, r.Price0, 1e-12, r.Interval)
		assert.InDelta(t, 0.25, r.Price1, 1e-12, r.Interval)
		assert.Equal(t, uint32(11), r.Ledger)
	}

	// next minute opens a fresh 1m bucket but still lands in the same 5m/1h/1d rows
	require.NoError(t, store.WithTx(ctx, func(tx database.Tx) error {
		return agg.UpdatePrice(ctx, tx, "CPAIR", big.NewInt(100), big.NewInt(100), 7, 7, first.Add(time.Minute), 12)
	}))
	assert.Len(t, store.PriceHistory("CPAIR"), 5)
}

func TestAggregatorUnknownPair(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	agg := NewAggregator([]Interval{{Label: "1h", Duration: time.Hour}}, zerolog.Nop())

	err := store.WithTx(ctx, func(tx database.Tx) error {
		return agg.UpdatePrice(ctx, tx, "CNOPE", big.NewInt(1), big.NewInt(1), 7, 7, time.Now(), 1)
	})
	require.ErrorIs(t, err, database.ErrPairNotFound)
}
