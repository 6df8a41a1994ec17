// Package sync runs the factory and pair polling loops that move events
// from the RPC node into the store.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"

	"github.com/nunalabs/astro-swap-sub000/internal/database"
	"github.com/nunalabs/astro-swap-sub000/internal/metrics"
	"github.com/nunalabs/astro-swap-sub000/internal/modules/core"
	"github.com/nunalabs/astro-swap-sub000/internal/rpc"
)

type Config struct {
	FactoryAddress  string
	StartLedger     uint32
	PollingInterval time.Duration
	RetryDelay      time.Duration
	FetchLimit      int
	Retry           RetryConfig
	PairWorkers     int
	SkipMalformed   bool
}

// Notifier is told about contracts whose state changed in a committed
// transaction.
type Notifier interface {
	PairUpdated(pair string)
}

// ContractStatus is the in-memory progress of one contract, served by
// the status endpoint.
type ContractStatus struct {
	Address      string                `json:"address"`
	Type         database.ContractType `json:"type"`
	Ledger       uint32                `json:"ledger"`
	EventID      string                `json:"event_id,omitempty"`
	LatestLedger uint32                `json:"latest_ledger"`
	LastCycle    time.Time             `json:"last_cycle"`
	LastError    string                `json:"last_error,omitempty"`
	Processed    uint64                `json:"processed"`
}

// Engine owns the two sync loops. A single event is applied together with
// its cursor advance in one store transaction.
type Engine struct {
	cfg      Config
	store    database.Store
	fetcher  *Fetcher
	decoder  *core.Decoder
	module   core.Module
	notifier Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	pool   pond.Pool
	status *xsync.Map[string, ContractStatus]

	stopped  atomic.Bool
	stopOnce gosync.Once
	mu       gosync.Mutex
	cancel   context.CancelFunc
	wg       gosync.WaitGroup
}

func NewEngine(cfg Config, store database.Store, source EventSource, decoder *core.Decoder, module core.Module, notifier Notifier, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.PairWorkers <= 0 {
		cfg.PairWorkers = 1
	}

	e := &Engine{
		cfg:      cfg,
		store:    store,
		decoder:  decoder,
		module:   module,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "sync").Logger(),
		pool:     pond.NewPool(cfg.PairWorkers),
		status:   xsync.NewMap[string, ContractStatus](),
	}
	e.fetcher = NewFetcher(source, cfg.Retry, cfg.FetchLimit, e.stopped.Load, m, logger)
	return e
}

// Start launches the factory and pair loops. They run until Stop is called
// or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.logger.Info().
		Str("factory", e.cfg.FactoryAddress).
		Dur("polling_interval", e.cfg.PollingInterval).
		Int("pair_workers", e.cfg.PairWorkers).
		Msg("Starting sync engine")

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.runLoop(ctx, "factory", e.factoryCycle)
	}()
	go func() {
		defer e.wg.Done()
		e.runLoop(ctx, "pairs", e.pairCycle)
	}()
}

// Stop signals both loops and waits for in-flight cycles to settle. The
// event being applied when Stop is called still commits.
func (e *Engine) Stop() {
	e.stopped.Store(true)

	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	e.wg.Wait()
	e.stopOnce.Do(func() {
		e.pool.StopAndWait()
		e.logger.Info().Msg("Sync engine stopped")
	})
}

// RunOnce runs one factory cycle followed by one pair cycle.
func (e *Engine) RunOnce(ctx context.Context) error {
	factoryErr := e.factoryCycle(ctx)
	pairErr := e.pairCycle(ctx)
	return errors.Join(factoryErr, pairErr)
}

// Status returns a snapshot of every contract seen by the loops.
func (e *Engine) Status() map[string]ContractStatus {
	out := make(map[string]ContractStatus, e.status.Size())
	e.status.Range(func(key string, value ContractStatus) bool {
		out[key] = value
		return true
	})
	return out
}

func (e *Engine) runLoop(ctx context.Context, name string, cycle func(context.Context) error) {
	logger := e.logger.With().Str("loop", name).Logger()
	for {
		if e.stopped.Load() {
			return
		}

		start := time.Now()
		err := cycle(ctx)
		e.metrics.CycleDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		wait := e.sleepAfter(err)
		if err != nil && !errors.Is(err, ErrStopped) {
			logger.Error().Err(err).Dur("sleep", wait).Msg("Sync cycle failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// sleepAfter picks the delay before the next cycle: the polling interval
// after success, the retry delay after a transient fetch error and twice
// the polling interval after anything else.
func (e *Engine) sleepAfter(err error) time.Duration {
	switch {
	case err == nil:
		return e.cfg.PollingInterval
	case isRetryableFetch(err):
		return e.cfg.RetryDelay
	default:
		return 2 * e.cfg.PollingInterval
	}
}

// fetchError marks an error raised by the fetcher, as opposed to the store
// or a handler.
type fetchError struct{ err error }

func (e fetchError) Error() string { return e.err.Error() }
func (e fetchError) Unwrap() error { return e.err }

func isRetryableFetch(err error) bool {
	var fe fetchError
	return errors.As(err, &fe) && rpc.IsRetryable(fe.err)
}

func (e *Engine) factoryCycle(ctx context.Context) error {
	if e.cfg.FactoryAddress == "" {
		return nil
	}
	if e.cfg.StartLedger > 0 {
		storeCtx := context.WithoutCancel(ctx)
		err := e.store.WithTx(storeCtx, func(tx database.Tx) error {
			return tx.SeedSyncStatus(storeCtx, e.cfg.FactoryAddress, database.ContractTypeFactory, e.cfg.StartLedger)
		})
		if err != nil {
			return fmt.Errorf("seed factory cursor: %w", err)
		}
	}
	return e.syncContract(ctx, e.cfg.FactoryAddress, database.ContractTypeFactory)
}

// pairCycle processes every known pair on the worker pool. Events of one
// pair stay sequential because each pair is a single task.
func (e *Engine) pairCycle(ctx context.Context) error {
	pairs, err := e.store.ListPairs(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("list pairs: %w", err)
	}
	e.metrics.ActiveContracts.Set(float64(len(pairs)))
	if len(pairs) == 0 {
		return nil
	}

	var (
		mu   gosync.Mutex
		errs []error
	)
	group := e.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, p := range pairs {
		address := p.Address
		group.Submit(func() {
			if groupCtx.Err() != nil || e.stopped.Load() {
				return
			}
			if err := e.syncContract(ctx, address, database.ContractTypePair); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	// every failure was transient: report one so the loop uses the retry delay
	for _, err := range errs {
		if !isRetryableFetch(err) {
			return errors.Join(errs...)
		}
	}
	return errs[0]
}

// syncContract fetches one page for address and applies its events in
// order. It stops at the first event that cannot be applied, leaving the
// cursor in front of it.
func (e *Engine) syncContract(ctx context.Context, address string, contractType database.ContractType) (err error) {
	storeCtx := context.WithoutCancel(ctx)
	logger := e.logger.With().Str("contract", address).Str("contract_type", string(contractType)).Logger()

	var processed uint64
	var latest uint32
	var cursor database.Cursor
	defer func() {
		e.recordStatus(address, contractType, cursor, latest, processed, err)
	}()

	var st *database.SyncStatus
	err = e.store.WithTx(storeCtx, func(tx database.Tx) error {
		var err error
		st, err = tx.GetOrCreateSyncStatus(storeCtx, address, contractType)
		return err
	})
	if err != nil {
		return fmt.Errorf("load cursor for %s: %w", address, err)
	}
	cursor = st.Cursor()

	page, err := e.fetcher.Fetch(ctx, address, cursor)
	if err != nil {
		if errors.Is(err, ErrStopped) {
			return err
		}
		return fetchError{err: err}
	}
	latest = page.LatestLedger

	for i := range page.Events {
		if e.stopped.Load() {
			return nil
		}
		raw := &page.Events[i]
		if cursor.Covers(raw.Ledger, raw.ID) {
			continue
		}

		next := database.Cursor{Ledger: raw.Ledger, EventID: raw.ID, TxHash: raw.TxHash}
		if ts, err := raw.ClosedAt(); err == nil {
			next.EventTime = ts
		}
		eventLogger := logger.With().Str("tx_hash", raw.TxHash).Uint32("ledger", raw.Ledger).Str("event_id", raw.ID).Logger()

		event, decodeErr := e.decoder.Decode(address, raw)
		switch {
		case decodeErr == nil:
		case core.IsUnknownEvent(decodeErr):
			eventLogger.Debug().Err(decodeErr).Msg("Skipping unrecognized event")
			e.metrics.EventsSkipped.WithLabelValues("unknown").Inc()
			if err := e.advance(storeCtx, address, next); err != nil {
				return err
			}
			cursor = next
			continue
		case core.IsMalformedEvent(decodeErr):
			eventLogger.Error().Err(decodeErr).Msg("Malformed event")
			e.metrics.HandlerErrors.WithLabelValues(string(contractType), "malformed").Inc()
			if !e.cfg.SkipMalformed {
				return fmt.Errorf("contract %s ledger %d: %w", address, raw.Ledger, decodeErr)
			}
			e.metrics.EventsSkipped.WithLabelValues("malformed").Inc()
			if err := e.advance(storeCtx, address, next); err != nil {
				return err
			}
			cursor = next
			continue
		default:
			return decodeErr
		}

		err = e.store.WithTx(storeCtx, func(tx database.Tx) error {
			if err := e.module.Handle(storeCtx, tx, event); err != nil {
				return err
			}
			return tx.AdvanceSyncStatus(storeCtx, address, next)
		})
		if err != nil {
			eventLogger.Error().Err(err).Str("event_type", string(event.Type())).Msg("Failed to apply event")
			e.metrics.HandlerErrors.WithLabelValues(string(contractType), "handler").Inc()
			return fmt.Errorf("apply %s event %s in tx %s at ledger %d: %w", event.Type(), raw.ID, raw.TxHash, raw.Ledger, err)
		}

		cursor = next
		processed++
		e.metrics.EventsProcessed.WithLabelValues(string(contractType), string(event.Type())).Inc()
		e.notify(event)
	}

	if processed > 0 {
		logger.Info().
			Uint64("events", processed).
			Uint32("ledger", cursor.Ledger).
			Uint32("latest_ledger", latest).
			Msg("Synced contract")
	}
	return nil
}

func (e *Engine) advance(ctx context.Context, address string, next database.Cursor) error {
	err := e.store.WithTx(ctx, func(tx database.Tx) error {
		return tx.AdvanceSyncStatus(ctx, address, next)
	})
	if err != nil {
		return fmt.Errorf("advance cursor for %s: %w", address, err)
	}
	return nil
}

func (e *Engine) notify(event core.Event) {
	if e.notifier == nil {
		return
	}
	switch ev := event.(type) {
	case *core.PairCreated:
		e.notifier.PairUpdated(ev.Pair)
	case *core.Sync, *core.Swap, *core.Deposit, *core.Withdraw:
		e.notifier.PairUpdated(ev.Meta().Contract)
	}
}

func (e *Engine) recordStatus(address string, contractType database.ContractType, cursor database.Cursor, latest uint32, processed uint64, err error) {
	e.status.Compute(address, func(old ContractStatus, loaded bool) (ContractStatus, xsync.ComputeOp) {
		if !loaded {
			old = ContractStatus{Address: address, Type: contractType}
		}
		if cursor.Ledger > 0 || cursor.EventID != "" {
			old.Ledger = cursor.Ledger
			old.EventID = cursor.EventID
		}
		if latest > 0 {
			old.LatestLedger = latest
		}
		old.LastCycle = time.Now().UTC()
		old.Processed += processed
		old.LastError = ""
		if err != nil && !errors.Is(err, ErrStopped) {
			old.LastError = err.Error()
		}
		return old, xsync.UpdateOp
	})
	e.metrics.CursorLedger.WithLabelValues(string(contractType), address).Set(float64(cursor.Ledger))
}
