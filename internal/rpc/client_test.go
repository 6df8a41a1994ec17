package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventsResult = `{
  "jsonrpc": "2.0",
  "id": 1,
  "result": {
    "latestLedger": 1200,
    "oldestLedger": 100,
    "cursor": "0000004294967296000-0000000001",
    "events": [{
      "type": "contract",
      "ledger": 1000,
      "ledgerClosedAt": "2025-06-01T10:30:15Z",
      "contractId": "CPAIR",
      "id": "0000004294967296000-0000000001",
      "inSuccessfulContractCall": true,
      "txHash": "abcd",
      "topicJson": [{"symbol": "sync"}],
      "valueJson": {"map": [
        {"key": {"symbol": "reserve0"}, "val": {"i128": "100"}},
        {"key": {"symbol": "reserve1"}, "val": {"i128": "200"}}
      ]}
    }]
  }
}`

func TestGetEvents(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, eventsResult)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, 2, zerolog.Nop())
	page, err := client.GetEvents(context.Background(), EventsRequest{ContractID: "CPAIR", StartLedger: 900, Limit: 50})
	require.NoError(t, err)

	assert.Equal(t, "getEvents", captured["method"])
	params := captured["params"].(map[string]any)
	assert.Equal(t, float64(900), params["startLedger"])
	assert.Equal(t, "json", params["xdrFormat"])
	filters := params["filters"].([]any)
	require.Len(t, filters, 1)
	assert.Equal(t, []any{"CPAIR"}, filters[0].(map[string]any)["contractIds"])
	assert.Equal(t, float64(50), params["pagination"].(map[string]any)["limit"])

	require.Len(t, page.Events, 1)
	ev := page.Events[0]
	assert.Equal(t, uint32(1000), ev.Ledger)
	assert.Equal(t, "abcd", ev.TxHash)
	require.Len(t, ev.Topics, 1)
	assert.JSONEq(t, `{"symbol":"sync"}`, string(ev.Topics[0]))

	idx, err := ev.Index()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), idx)

	closed, err := ev.ClosedAt()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 30, 15, 0, time.UTC), closed)
}

func TestGetEventsWithCursorOmitsStartLedger(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"events":[],"latestLedger":5}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, 1, zerolog.Nop())
	_, err := client.GetEvents(context.Background(), EventsRequest{ContractID: "C", StartLedger: 7, Cursor: "0001-0002", Limit: 10})
	require.NoError(t, err)

	params := captured["params"].(map[string]any)
	_, hasStart := params["startLedger"]
	assert.False(t, hasStart)
	assert.Equal(t, "0001-0002", params["pagination"].(map[string]any)["cursor"])
}

func TestCallErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"server error", http.StatusBadGateway, "bad gateway", true},
		{"rate limited", http.StatusTooManyRequests, "slow down", true},
		{"bad request", http.StatusBadRequest, "nope", false},
		{"json-rpc invalid params", http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"startLedger must be positive"}}`, false},
		{"json-rpc rate limit", http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"Rate limit exceeded"}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client := NewClient(server.URL, time.Second, 1, zerolog.Nop())
			_, err := client.GetEvents(context.Background(), EventsRequest{ContractID: "C", StartLedger: 1, Limit: 1})
			require.Error(t, err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("decode failure")))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.True(t, IsRetryable(&net.OpError{Op: "dial", Err: errors.New("connection refused")}))
	assert.True(t, IsRetryable(io.ErrUnexpectedEOF))
}

func TestConnectionRefusedIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, time.Second, 1, zerolog.Nop())
	_, err := client.GetHealth(context.Background())
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}
