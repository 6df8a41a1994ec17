package core

import (
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunalabs/astro-swap-sub000/internal/rpc"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func rawEvent(value string, topics ...string) *rpc.Event {
	ev := &rpc.Event{
		Type:           "contract",
		Ledger:         1000,
		LedgerClosedAt: "2025-06-01T10:30:15Z",
		ContractID:     "CPAIR",
		ID:             "0000004294967296000-0000000003",
		TxHash:         "deadbeef",
		Value:          jsoniter.RawMessage(value),
	}
	for _, t := range topics {
		ev.Topics = append(ev.Topics, jsoniter.RawMessage(t))
	}
	return ev
}

func mapValue(entries ...string) string {
	out := `{"map":[`
	for i := 0; i+1 < len(entries); i += 2 {
		if i > 0 {
			out += ","
		}
		out += `{"key":{"symbol":"` + entries[i] + `"},"val":` + entries[i+1] + `}`
	}
	return out + `]}`
}

func addr(a string) string   { return `{"address":"` + a + `"}` }
func i128(v string) string   { return `{"i128":"` + v + `"}` }
func symbol(s string) string { return `{"symbol":"` + s + `"}` }

func TestDecodePairCreated(t *testing.T) {
	d := NewDecoder(testLogger())
	raw := rawEvent(mapValue(
		"token_a", addr("CTOKENA"),
		"token_b", addr("CTOKENB"),
		"pair", addr("CPAIRX"),
		"pair_count", `{"u32":4}`,
	), symbol("pair_created"))

	ev, err := d.Decode("CFACTORY", raw)
	require.NoError(t, err)

	pc, ok := ev.(*PairCreated)
	require.True(t, ok)
	assert.Equal(t, EventPairCreated, pc.Type())
	assert.Equal(t, "CTOKENA", pc.Token0)
	assert.Equal(t, "CTOKENB", pc.Token1)
	assert.Equal(t, "CPAIRX", pc.Pair)
	assert.Equal(t, uint32(4), pc.PairIndex)

	meta := pc.Meta()
	assert.Equal(t, "CFACTORY", meta.Contract)
	assert.Equal(t, uint32(1000), meta.Ledger)
	assert.Equal(t, uint32(3), meta.EventIndex)
	assert.Equal(t, "deadbeef", meta.TxHash)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 30, 15, 0, time.UTC), meta.Timestamp)
}

func TestDecodeSwapForms(t *testing.T) {
	d := NewDecoder(testLogger())

	t.Run("directional map", func(t *testing.T) {
		ev, err := d.Decode("CPAIR", rawEvent(mapValue(
			"sender", addr("GUSER"),
			"to", addr("GDEST"),
			"amount0_in", i128("10"),
			"amount1_in", i128("0"),
			"amount0_out", i128("0"),
			"amount1_out", i128("19"),
		), symbol("swap")))
		require.NoError(t, err)
		sw := ev.(*Swap)
		assert.True(t, sw.Directional())
		assert.Equal(t, "GUSER", sw.Sender)
		assert.Equal(t, "GDEST", sw.To)
		assert.Equal(t, "19", sw.Amount1Out.String())
	})

	t.Run("token form oriented onto pair", func(t *testing.T) {
		ev, err := d.Decode("CPAIR", rawEvent(mapValue(
			"user", addr("GUSER"),
			"token_in", addr("CTOKENB"),
			"token_out", addr("CTOKENA"),
			"amount_in", i128("40"),
			"amount_out", i128("19"),
		), symbol("swap")))
		require.NoError(t, err)
		sw := ev.(*Swap)
		assert.False(t, sw.Directional())
		assert.Equal(t, "GUSER", sw.To)

		a0in, a1in, a0out, a1out, err := sw.Orient("CTOKENA", "CTOKENB")
		require.NoError(t, err)
		assert.Equal(t, "0", a0in.String())
		assert.Equal(t, "40", a1in.String())
		assert.Equal(t, "19", a0out.String())
		assert.Equal(t, "0", a1out.String())

		_, _, _, _, err = sw.Orient("CTOKENA", "CTOKENC")
		require.Error(t, err)
	})

	t.Run("positional vector", func(t *testing.T) {
		ev, err := d.Decode("CPAIR", rawEvent(
			`{"vec":[`+addr("GUSER")+`,`+addr("GDEST")+`,{"i128":"5"},{"i128":"0"},{"i128":"0"},{"i128":"9"}]}`,
			symbol("swap")))
		require.NoError(t, err)
		sw := ev.(*Swap)
		assert.Equal(t, "GDEST", sw.To)
		assert.Equal(t, "5", sw.Amount0In.String())
	})

	t.Run("sender from topic", func(t *testing.T) {
		ev, err := d.Decode("CPAIR", rawEvent(mapValue(
			"amount0_in", i128("1"),
			"amount1_in", i128("0"),
			"amount0_out", i128("0"),
			"amount1_out", i128("2"),
		), symbol("swap"), addr("GTOPIC")))
		require.NoError(t, err)
		sw := ev.(*Swap)
		assert.Equal(t, "GTOPIC", sw.Sender)
		assert.Equal(t, "GTOPIC", sw.To)
	})
}

func TestDecodeLiquidity(t *testing.T) {
	d := NewDecoder(testLogger())

	ev, err := d.Decode("CPAIR", rawEvent(mapValue(
		"user", addr("GUSER"),
		"pair", addr("CPAIR"),
		"amount_a", i128("100"),
		"amount_b", i128("200"),
		"shares_minted", i128("141"),
	), symbol("deposit")))
	require.NoError(t, err)
	dep := ev.(*Deposit)
	assert.Equal(t, EventDeposit, dep.Type())
	assert.Equal(t, "GUSER", dep.Sender)
	assert.Equal(t, "141", dep.Liquidity.String())

	// withdraw vectors put the burned shares before the amounts
	ev, err = d.Decode("CPAIR", rawEvent(
		`{"vec":[`+addr("GUSER")+`,`+addr("CPAIR")+`,{"i128":"70"},{"i128":"50"},{"i128":"99"}]}`,
		symbol("withdraw")))
	require.NoError(t, err)
	wd := ev.(*Withdraw)
	assert.Equal(t, "70", wd.Liquidity.String())
	assert.Equal(t, "50", wd.Amount0.String())
	assert.Equal(t, "99", wd.Amount1.String())

	ev, err = d.Decode("CPAIR", rawEvent(mapValue(
		"sender", addr("GUSER"),
		"amount0", i128("1"),
		"amount1", i128("2"),
		"liquidity", i128("3"),
	), symbol("burn")))
	require.NoError(t, err)
	assert.Equal(t, EventWithdraw, ev.Type())
}

func TestDecodeSync(t *testing.T) {
	d := NewDecoder(testLogger())

	ev, err := d.Decode("CPAIR", rawEvent(mapValue(
		"reserve0", `{"i128":{"hi":0,"lo":100}}`,
		"reserve1", `{"i128":200}`,
	), symbol("sync")))
	require.NoError(t, err)
	s := ev.(*Sync)
	assert.Equal(t, "100", s.Reserve0.String())
	assert.Equal(t, "200", s.Reserve1.String())

	big := `{"i128":{"hi":1,"lo":"5"}}`
	ev, err = d.Decode("CPAIR", rawEvent(`{"vec":[`+big+`,{"i128":"7"}]}`, symbol("sync")))
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551621", ev.(*Sync).Reserve0.String())
}

func TestDecodeSkipsUnknown(t *testing.T) {
	d := NewDecoder(testLogger())

	tests := []struct {
		name  string
		event *rpc.Event
	}{
		{"transfer", rawEvent(i128("10"), symbol("transfer"), addr("GA"), addr("GB"))},
		{"approve", rawEvent(`{"vec":[{"i128":"10"},{"u32":100}]}`, symbol("approve"))},
		{"lp token mint", rawEvent(`{"vec":[`+addr("GUSER")+`,{"i128":"10"}]}`, symbol("mint"))},
		{"lp token burn amount only", rawEvent(i128("10"), symbol("burn"), addr("GUSER"))},
		{"lp token mint map", rawEvent(mapValue("amount", i128("10")), symbol("mint"))},
		{"no topics", rawEvent(i128("1"))},
		{"non-symbol topic", rawEvent(i128("1"), `{"u32":1}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode("CPAIR", tt.event)
			require.Error(t, err)
			assert.True(t, IsUnknownEvent(err), "expected unknown, got %v", err)
			assert.False(t, IsMalformedEvent(err))
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	d := NewDecoder(testLogger())

	badTime := rawEvent(mapValue("reserve0", i128("1"), "reserve1", i128("2")), symbol("sync"))
	badTime.LedgerClosedAt = "yesterday"

	badID := rawEvent(mapValue("reserve0", i128("1"), "reserve1", i128("2")), symbol("sync"))
	badID.ID = "nonsense"

	tests := []struct {
		name  string
		event *rpc.Event
	}{
		{"sync missing reserve", rawEvent(mapValue("reserve0", i128("1")), symbol("sync"))},
		{"sync wrong type", rawEvent(mapValue("reserve0", addr("GA"), "reserve1", i128("2")), symbol("sync"))},
		{"sync negative", rawEvent(mapValue("reserve0", i128("-1"), "reserve1", i128("2")), symbol("sync"))},
		{"swap vector length", rawEvent(`{"vec":[`+addr("GA")+`]}`, symbol("swap"))},
		{"deposit scalar", rawEvent(i128("5"), symbol("deposit"))},
		{"pair created same tokens", rawEvent(mapValue("token_a", addr("CA"), "token_b", addr("CA"), "pair", addr("CP")), symbol("pair_created"))},
		{"value not json", rawEvent(`{not json`, symbol("sync"))},
		{"bad close time", badTime},
		{"bad event id", badID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode("CPAIR", tt.event)
			require.Error(t, err)
			assert.True(t, IsMalformedEvent(err), "expected malformed, got %v", err)
			assert.False(t, IsUnknownEvent(err))
		})
	}
}
