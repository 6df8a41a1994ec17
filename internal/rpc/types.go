package rpc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Event is one contract event as returned by getEvents with xdrFormat=json.
type Event struct {
	Type                     string                `json:"type"`
	Ledger                   uint32                `json:"ledger"`
	LedgerClosedAt           string                `json:"ledgerClosedAt"`
	ContractID               string                `json:"contractId"`
	ID                       string                `json:"id"`
	InSuccessfulContractCall bool                  `json:"inSuccessfulContractCall"`
	TxHash                   string                `json:"txHash"`
	Topics                   []jsoniter.RawMessage `json:"topicJson"`
	Value                    jsoniter.RawMessage   `json:"valueJson"`
}

// ClosedAt parses the ledger close time.
func (e *Event) ClosedAt() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, e.LedgerClosedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ledgerClosedAt %q: %w", e.LedgerClosedAt, err)
	}
	return ts.UTC(), nil
}

// Index returns the position of the event within its transaction, taken
// from the "<toid>-<index>" event id.
func (e *Event) Index() (uint32, error) {
	sep := strings.LastIndexByte(e.ID, '-')
	if sep < 0 || sep == len(e.ID)-1 {
		return 0, fmt.Errorf("invalid event id %q", e.ID)
	}
	idx, err := strconv.ParseUint(e.ID[sep+1:], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid event id %q: %w", e.ID, err)
	}
	return uint32(idx), nil
}

// EventsRequest selects a page of events for one contract. When Cursor is
// set the page starts after that event id and StartLedger is ignored.
type EventsRequest struct {
	ContractID  string
	StartLedger uint32
	Cursor      string
	Limit       int
}

type EventsPage struct {
	Events       []Event `json:"events"`
	LatestLedger uint32  `json:"latestLedger"`
	OldestLedger uint32  `json:"oldestLedger"`
	Cursor       string  `json:"cursor"`
}

type Health struct {
	Status                string `json:"status"`
	LatestLedger          uint32 `json:"latestLedger"`
	OldestLedger          uint32 `json:"oldestLedger"`
	LedgerRetentionWindow uint32 `json:"ledgerRetentionWindow"`
}

type eventFilter struct {
	Type        string   `json:"type"`
	ContractIDs []string `json:"contractIds"`
}

type pagination struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type getEventsParams struct {
	StartLedger uint32        `json:"startLedger,omitempty"`
	Filters     []eventFilter `json:"filters"`
	Pagination  *pagination   `json:"pagination,omitempty"`
	XDRFormat   string        `json:"xdrFormat"`
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      uint64              `json:"id"`
	Result  jsoniter.RawMessage `json:"result"`
	Error   *Error              `json:"error"`
}
