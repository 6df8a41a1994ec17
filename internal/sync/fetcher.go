package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/nunalabs/astro-swap-sub000/internal/database"
	"github.com/nunalabs/astro-swap-sub000/internal/metrics"
	"github.com/nunalabs/astro-swap-sub000/internal/rpc"
)

// ErrStopped is returned by Fetch when the engine stops between attempts.
var ErrStopped = errors.New("sync engine stopped")

// EventSource is the subset of the RPC client used by the sync loops.
type EventSource interface {
	GetEvents(ctx context.Context, req rpc.EventsRequest) (*rpc.EventsPage, error)
	GetHealth(ctx context.Context) (*rpc.Health, error)
}

type RetryConfig struct {
	Base     time.Duration
	Cap      time.Duration
	Attempts int
}

// Fetcher reads event pages with exponential backoff on transient errors.
type Fetcher struct {
	source  EventSource
	retry   RetryConfig
	limit   int
	stopped func() bool
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewFetcher(source EventSource, retry RetryConfig, limit int, stopped func() bool, m *metrics.Metrics, logger zerolog.Logger) *Fetcher {
	if retry.Attempts <= 0 {
		retry.Attempts = 1
	}
	if limit <= 0 {
		limit = 100
	}
	if stopped == nil {
		stopped = func() bool { return false }
	}
	return &Fetcher{
		source:  source,
		retry:   retry,
		limit:   limit,
		stopped: stopped,
		metrics: m,
		logger:  logger.With().Str("component", "fetcher").Logger(),
	}
}

func (f *Fetcher) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.retry.Base
	b.Multiplier = 2
	b.MaxInterval = f.retry.Cap
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.retry.Attempts-1)), ctx)
}

// Fetch returns the next page of events for contract after cursor. A
// cursor holding an event id resumes right after that event while its
// ledger is still retained; otherwise the page starts at the cursor ledger,
// inclusive, clamped to the oldest ledger the node retains.
//
// Requests run detached from ctx cancellation so a stop lets the in-flight
// call finish; ctx still interrupts the wait between attempts.
func (f *Fetcher) Fetch(ctx context.Context, contract string, cursor database.Cursor) (*rpc.EventsPage, error) {
	callCtx := context.WithoutCancel(ctx)
	start := time.Now()
	attempt := 0

	op := func() (*rpc.EventsPage, error) {
		if f.stopped() {
			return nil, backoff.Permanent(ErrStopped)
		}
		attempt++

		req, err := f.request(callCtx, contract, cursor)
		if err != nil {
			return nil, f.classify(err)
		}

		page, err := f.source.GetEvents(callCtx, req)
		if err != nil {
			return nil, f.classify(err)
		}
		return page, nil
	}

	notify := func(err error, wait time.Duration) {
		f.metrics.FetchRetries.Inc()
		f.logger.Warn().
			Err(err).
			Str("contract", contract).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Fetch failed, retrying")
	}

	page, err := backoff.RetryNotifyWithData(op, f.backOff(ctx), notify)
	f.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrStopped) {
			return nil, err
		}
		retryable := rpc.IsRetryable(err)
		f.metrics.FetchFailures.WithLabelValues(fmt.Sprint(retryable)).Inc()
		return nil, fmt.Errorf("fetch events for %s after %d attempts: %w", contract, attempt, err)
	}

	f.metrics.LatestLedger.Set(float64(page.LatestLedger))
	return page, nil
}

func (f *Fetcher) classify(err error) error {
	if rpc.IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

// request builds the getEvents parameters for cursor. An event id whose
// ledger fell out of the node's retention window is no longer a valid
// pagination cursor, so the request restarts at the oldest ledger instead.
func (f *Fetcher) request(ctx context.Context, contract string, cursor database.Cursor) (rpc.EventsRequest, error) {
	req := rpc.EventsRequest{ContractID: contract, Limit: f.limit}

	health, err := f.source.GetHealth(ctx)
	if err != nil {
		return req, fmt.Errorf("get health: %w", err)
	}

	if cursor.Ledger >= health.OldestLedger {
		if cursor.EventID != "" {
			req.Cursor = cursor.EventID
		} else {
			req.StartLedger = cursor.Ledger
		}
		return req, nil
	}

	if cursor.Ledger > 0 {
		f.logger.Warn().
			Str("contract", contract).
			Uint32("ledger", cursor.Ledger).
			Str("event_id", cursor.EventID).
			Uint32("oldest_ledger", health.OldestLedger).
			Msg("Cursor is older than the node retention window")
	}
	req.StartLedger = health.OldestLedger
	return req, nil
}
