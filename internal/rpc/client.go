package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPError is a non-2xx answer from the RPC endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("rpc http status %d: %s", e.StatusCode, e.Body)
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsRetryable reports whether err belongs to the transient class: network
// failures, timeouts, HTTP 5xx and HTTP 429.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}

	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Message)
		return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Client is a JSON-RPC client for a Stellar RPC node. Calls are bounded by
// a per-request timeout and a limit on concurrent requests.
type Client struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
	sem        *semaphore.Weighted
	nextID     atomic.Uint64
	logger     zerolog.Logger
}

func NewClient(endpoint string, timeout time.Duration, maxConcurrent int64, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout: timeout,
		sem:     semaphore.NewWeighted(maxConcurrent),
		logger:  logger.With().Str("component", "rpc").Logger(),
	}
}

// GetEvents fetches one page of events emitted by req.ContractID.
func (c *Client) GetEvents(ctx context.Context, req EventsRequest) (*EventsPage, error) {
	params := getEventsParams{
		Filters: []eventFilter{{
			Type:        "contract",
			ContractIDs: []string{req.ContractID},
		}},
		Pagination: &pagination{Limit: req.Limit},
		XDRFormat:  "json",
	}
	if req.Cursor != "" {
		params.Pagination.Cursor = req.Cursor
	} else {
		params.StartLedger = req.StartLedger
	}

	var page EventsPage
	if err := c.call(ctx, "getEvents", params, &page); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("contract", req.ContractID).
		Uint32("start_ledger", req.StartLedger).
		Str("cursor", req.Cursor).
		Int("events", len(page.Events)).
		Uint32("latest_ledger", page.LatestLedger).
		Msg("Fetched events")

	return &page, nil
}

func (c *Client) GetHealth(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.call(ctx, "getHealth", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer c.sem.Release(1)

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return fmt.Errorf("%s: %w", method, &HTTPError{StatusCode: resp.StatusCode, Body: snippet})
	}

	var rpcResp response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}
