// Package api serves the operator endpoints: health probes, the sync
// status snapshot and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nunalabs/astro-swap-sub000/internal/database"
	"github.com/nunalabs/astro-swap-sub000/internal/rpc"
	"github.com/nunalabs/astro-swap-sub000/internal/sync"
)

// ChainHealth reports the RPC node's view of the chain.
type ChainHealth interface {
	GetHealth(ctx context.Context) (*rpc.Health, error)
}

// SyncStatus is the engine's live progress snapshot.
type SyncStatus interface {
	Status() map[string]sync.ContractStatus
}

// maxFetchLag is how many ledgers the last successful fetch of a contract
// may trail the node before the service reports itself degraded. Cursor
// lag is not used: cursors of quiet pairs only move when they emit.
const maxFetchLag = 120

type HealthServer struct {
	store   database.Store
	chain   ChainHealth
	engine  SyncStatus
	metrics http.Handler
	logger  zerolog.Logger
	addr    string
}

type HealthStatus struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Database  DatabaseStatus `json:"database"`
	RPC       RPCStatus      `json:"rpc"`
	FetchLag  uint32         `json:"fetch_lag"`
}

type DatabaseStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type RPCStatus struct {
	Connected    bool   `json:"connected"`
	Status       string `json:"status,omitempty"`
	LatestLedger uint32 `json:"latest_ledger"`
	OldestLedger uint32 `json:"oldest_ledger"`
	Error        string `json:"error,omitempty"`
}

// CursorStatus joins the durable cursor with the engine's live view.
type CursorStatus struct {
	Address       string                `json:"address"`
	Type          database.ContractType `json:"type"`
	LastLedger    uint32                `json:"last_ledger"`
	LastEventID   string                `json:"last_event_id,omitempty"`
	LastEventTime *time.Time            `json:"last_event_time,omitempty"`
	Lag           uint32                `json:"lag"`
	LastCycle     *time.Time            `json:"last_cycle,omitempty"`
	LastError     string                `json:"last_error,omitempty"`
	Processed     uint64                `json:"processed"`
}

type StatusResponse struct {
	LatestLedger uint32                  `json:"latest_ledger"`
	Contracts    []CursorStatus          `json:"contracts"`
	Stats        *database.ProtocolStats `json:"stats,omitempty"`
}

func NewHealthServer(store database.Store, chain ChainHealth, engine SyncStatus, metrics http.Handler, logger zerolog.Logger, addr string) *HealthServer {
	return &HealthServer{
		store:   store,
		chain:   chain,
		engine:  engine,
		metrics: metrics,
		logger:  logger.With().Str("component", "health").Logger(),
		addr:    addr,
	}
}

func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.HandleFunc("/live", h.handleLive)
	mux.HandleFunc("/status", h.handleStatus)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics)
	}
	return h.logMiddleware(mux)
}

// Start serves until ctx is cancelled.
func (h *HealthServer) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	h.logger.Info().Str("addr", h.addr).Msg("Starting health server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *HealthServer) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("latency", time.Since(start)).
			Msg("http")
	})
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.getHealthStatus(ctx)

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	JSON(w, httpStatus, status)
}

func (h *HealthServer) getHealthStatus(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Timestamp: time.Now().UTC(),
		Status:    "healthy",
	}

	status.Database = h.checkDatabase(ctx)
	status.RPC = h.checkRPC(ctx)
	if !status.Database.Connected || !status.RPC.Connected {
		status.Status = "unhealthy"
		return status
	}

	if h.engine != nil {
		for _, c := range h.engine.Status() {
			if c.LatestLedger == 0 {
				continue
			}
			if lag := lagOf(status.RPC.LatestLedger, c.LatestLedger, 0); lag > status.FetchLag {
				status.FetchLag = lag
			}
		}
		if status.FetchLag > maxFetchLag {
			status.Status = "degraded"
		}
	}
	return status
}

func (h *HealthServer) checkDatabase(ctx context.Context) DatabaseStatus {
	status := DatabaseStatus{Connected: true}
	if err := h.store.Ping(ctx); err != nil {
		status.Connected = false
		status.Error = err.Error()
	}
	return status
}

func (h *HealthServer) checkRPC(ctx context.Context) RPCStatus {
	status := RPCStatus{Connected: true}
	health, err := h.chain.GetHealth(ctx)
	if err != nil {
		status.Connected = false
		status.Error = err.Error()
		return status
	}
	status.Status = health.Status
	status.LatestLedger = health.LatestLedger
	status.OldestLedger = health.OldestLedger
	if health.Status != "" && health.Status != "healthy" {
		status.Connected = false
		status.Error = "node reports " + health.Status
	}
	return status
}

func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbOk := h.store.Ping(ctx) == nil
	rpcOk := h.checkRPC(ctx).Connected

	if dbOk && rpcOk {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (h *HealthServer) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cursors, err := h.store.ListSyncStatuses(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sync status")
		Error(w, http.StatusServiceUnavailable, "failed to load sync status")
		return
	}

	var live map[string]sync.ContractStatus
	if h.engine != nil {
		live = h.engine.Status()
	}

	resp := StatusResponse{Contracts: make([]CursorStatus, 0, len(cursors))}
	if health, err := h.chain.GetHealth(ctx); err == nil {
		resp.LatestLedger = health.LatestLedger
	}

	for _, c := range cursors {
		cs := CursorStatus{
			Address:       c.ContractAddress,
			Type:          c.ContractType,
			LastLedger:    c.LastLedger,
			LastEventID:   c.LastEventID,
			LastEventTime: c.LastEventTime,
		}
		var reported uint32
		if l, ok := live[c.ContractAddress]; ok {
			cycle := l.LastCycle
			cs.LastCycle = &cycle
			cs.LastError = l.LastError
			cs.Processed = l.Processed
			reported = l.LatestLedger
		}
		cs.Lag = lagOf(resp.LatestLedger, c.LastLedger, reported)
		resp.Contracts = append(resp.Contracts, cs)
	}

	if stats, err := h.store.GetProtocolStats(ctx); err == nil {
		resp.Stats = stats
	}

	JSON(w, http.StatusOK, resp)
}

// lagOf measures how far ledger trails the chain head, preferring the
// node's current head over the one seen by the last fetch.
func lagOf(head, ledger, reported uint32) uint32 {
	if head == 0 {
		head = reported
	}
	if head <= ledger {
		return 0
	}
	return head - ledger
}
