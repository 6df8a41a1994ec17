package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunalabs/astro-swap-sub000/internal/database"
	"github.com/nunalabs/astro-swap-sub000/internal/database/memory"
	"github.com/nunalabs/astro-swap-sub000/internal/metrics"
	"github.com/nunalabs/astro-swap-sub000/internal/rpc"
	"github.com/nunalabs/astro-swap-sub000/internal/sync"
)

type fakeChain struct {
	health *rpc.Health
	err    error
}

func (f fakeChain) GetHealth(context.Context) (*rpc.Health, error) {
	return f.health, f.err
}

type fakeEngine map[string]sync.ContractStatus

func (f fakeEngine) Status() map[string]sync.ContractStatus { return f }

func seedCursor(t *testing.T, store *memory.Store, addr string, ledger uint32) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(tx database.Tx) error {
		return tx.SeedSyncStatus(ctx, addr, database.ContractTypePair, ledger)
	}))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	store := memory.New()
	chain := fakeChain{health: &rpc.Health{Status: "healthy", LatestLedger: 1000, OldestLedger: 10}}
	engine := fakeEngine{"CPAIR": {Address: "CPAIR", Ledger: 990, LatestLedger: 995}}
	srv := NewHealthServer(store, chain, engine, metrics.New(nil).Handler(), zerolog.Nop(), ":0").Handler()

	rec := get(t, srv, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data HealthStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Data.Status)
	assert.Equal(t, uint32(5), body.Data.FetchLag)
	assert.Equal(t, uint32(1000), body.Data.RPC.LatestLedger)

	assert.Equal(t, http.StatusOK, get(t, srv, "/ready").Code)
	assert.Equal(t, "alive", get(t, srv, "/live").Body.String())
	assert.Equal(t, http.StatusOK, get(t, srv, "/metrics").Code)
}

func TestHealthDegradedAndUnhealthy(t *testing.T) {
	store := memory.New()

	stale := fakeEngine{"CPAIR": {Address: "CPAIR", LatestLedger: 100}}
	chain := fakeChain{health: &rpc.Health{Status: "healthy", LatestLedger: 1000}}
	srv := NewHealthServer(store, chain, stale, nil, zerolog.Nop(), ":0").Handler()

	rec := get(t, srv, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)

	down := NewHealthServer(store, fakeChain{err: errors.New("dial tcp: refused")}, nil, nil, zerolog.Nop(), ":0").Handler()
	rec = get(t, down, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
	assert.Equal(t, http.StatusServiceUnavailable, get(t, down, "/ready").Code)
	assert.Equal(t, http.StatusNotFound, get(t, down, "/metrics").Code)
}

func TestStatusEndpoint(t *testing.T) {
	store := memory.New()
	seedCursor(t, store, "CPAIRA", 900)
	seedCursor(t, store, "CPAIRB", 950)

	cycle := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	engine := fakeEngine{"CPAIRA": {Address: "CPAIRA", Ledger: 900, LastCycle: cycle, LastError: "boom", Processed: 3}}
	chain := fakeChain{health: &rpc.Health{Status: "healthy", LatestLedger: 1000}}
	srv := NewHealthServer(store, chain, engine, nil, zerolog.Nop(), ":0").Handler()

	rec := get(t, srv, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data StatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint32(1000), body.Data.LatestLedger)
	require.Len(t, body.Data.Contracts, 2)

	a := body.Data.Contracts[0]
	assert.Equal(t, "CPAIRA", a.Address)
	assert.Equal(t, uint32(100), a.Lag)
	assert.Equal(t, "boom", a.LastError)
	assert.Equal(t, uint64(3), a.Processed)
	require.NotNil(t, a.LastCycle)

	b := body.Data.Contracts[1]
	assert.Equal(t, uint32(50), b.Lag)
	assert.Nil(t, b.LastCycle)
	require.NotNil(t, body.Data.Stats)
}

func TestLagOf(t *testing.T) {
	assert.Equal(t, uint32(10), lagOf(100, 90, 0))
	assert.Equal(t, uint32(5), lagOf(0, 90, 95))
	assert.Zero(t, lagOf(80, 90, 0))
	assert.Zero(t, lagOf(0, 90, 0))
}
