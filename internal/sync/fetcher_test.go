package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunalabs/astro-swap-sub000/internal/database"
	"github.com/nunalabs/astro-swap-sub000/internal/metrics"
	"github.com/nunalabs/astro-swap-sub000/internal/rpc"
)

func newTestFetcher(source EventSource, stopped func() bool) *Fetcher {
	retry := RetryConfig{Base: time.Millisecond, Cap: 2 * time.Millisecond, Attempts: 3}
	return NewFetcher(source, retry, 10, stopped, metrics.New(nil), zerolog.Nop())
}

func TestFetcherRetriesTransientErrors(t *testing.T) {
	src := newFakeSource()
	src.add(syncEvent(pairA, 10, 0, "1", "2"))
	src.errs[pairA] = []error{&rpc.HTTPError{StatusCode: 503}, &rpc.HTTPError{StatusCode: 429}}

	page, err := newTestFetcher(src, nil).Fetch(context.Background(), pairA, database.Cursor{Ledger: 5})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Len(t, src.requestsFor(pairA), 3)
}

func TestFetcherGivesUpAfterAttempts(t *testing.T) {
	src := newFakeSource()
	src.failAlways[pairA] = &rpc.HTTPError{StatusCode: 502}

	_, err := newTestFetcher(src, nil).Fetch(context.Background(), pairA, database.Cursor{Ledger: 5})
	require.Error(t, err)
	assert.True(t, rpc.IsRetryable(err))
	assert.Len(t, src.requestsFor(pairA), 3)
}

func TestFetcherDoesNotRetryPermanentErrors(t *testing.T) {
	src := newFakeSource()
	src.failAlways[pairA] = &rpc.Error{Code: -32600, Message: "startLedger must be positive"}

	_, err := newTestFetcher(src, nil).Fetch(context.Background(), pairA, database.Cursor{Ledger: 5})
	require.Error(t, err)
	assert.False(t, rpc.IsRetryable(err))

	var rpcErr *rpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Len(t, src.requestsFor(pairA), 1)
}

func TestFetcherStopFlag(t *testing.T) {
	src := newFakeSource()
	_, err := newTestFetcher(src, func() bool { return true }).Fetch(context.Background(), pairA, database.Cursor{})
	require.ErrorIs(t, err, ErrStopped)
	assert.Empty(t, src.requestsFor(pairA))
}

func TestFetcherCancelledWhileWaiting(t *testing.T) {
	src := newFakeSource()
	src.failAlways[pairA] = &rpc.HTTPError{StatusCode: 503}

	f := NewFetcher(src, RetryConfig{Base: time.Hour, Cap: time.Hour, Attempts: 3}, 10, nil, metrics.New(nil), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := f.Fetch(ctx, pairA, database.Cursor{Ledger: 5})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestFetcherRequestShape(t *testing.T) {
	src := newFakeSource()
	src.oldest = 50
	f := newTestFetcher(src, nil)
	ctx := context.Background()

	_, err := f.Fetch(ctx, pairA, database.Cursor{})
	require.NoError(t, err)
	_, err = f.Fetch(ctx, pairA, database.Cursor{Ledger: 80})
	require.NoError(t, err)
	_, err = f.Fetch(ctx, pairA, database.Cursor{Ledger: 80, EventID: eventID(80, 2)})
	require.NoError(t, err)

	reqs := src.requestsFor(pairA)
	require.Len(t, reqs, 3)
	assert.Equal(t, uint32(50), reqs[0].StartLedger, "ledger 0 starts at the oldest retained ledger")
	assert.Equal(t, uint32(80), reqs[1].StartLedger)
	assert.Empty(t, reqs[1].Cursor)
	assert.Equal(t, eventID(80, 2), reqs[2].Cursor)
	assert.Equal(t, 10, reqs[2].Limit)
}

func TestFetcherRestartsPrunedCursorAtOldestLedger(t *testing.T) {
	src := newFakeSource()
	src.oldest = 500
	src.add(syncEvent(pairA, 600, 0, "1", "2"))

	page, err := newTestFetcher(src, nil).Fetch(context.Background(), pairA,
		database.Cursor{Ledger: 5, EventID: eventID(5, 0)})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)

	reqs := src.requestsFor(pairA)
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Cursor)
	assert.Equal(t, uint32(500), reqs[0].StartLedger)
}
