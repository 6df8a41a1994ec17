package core

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// scVal is one Soroban value in the JSON rendering produced by xdrFormat=json:
// a single-key object such as {"symbol":"swap"} or {"i128":"100"}, or a bare
// string for unit variants such as "void".
type scVal struct {
	kind string
	raw  jsoniter.RawMessage
}

func parseScVal(data []byte) (scVal, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return scVal{}, errors.New("empty value")
	}

	if data[0] == '"' {
		var unit string
		if err := json.Unmarshal(data, &unit); err != nil {
			return scVal{}, err
		}
		return scVal{kind: unit}, nil
	}

	var obj map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return scVal{}, err
	}
	if len(obj) != 1 {
		return scVal{}, fmt.Errorf("expected a single-key value, got %d keys", len(obj))
	}
	for kind, raw := range obj {
		return scVal{kind: kind, raw: raw}, nil
	}
	return scVal{}, errors.New("unreachable")
}

func (v scVal) text() (string, bool) {
	var s string
	if err := json.Unmarshal(v.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (v scVal) symbol() (string, bool) {
	if v.kind != "symbol" && v.kind != "string" {
		return "", false
	}
	return v.text()
}

func (v scVal) address() (string, bool) {
	if v.kind != "address" {
		return "", false
	}
	s, ok := v.text()
	return s, ok && s != ""
}

// integer decodes any of the integer variants. 128-bit values are accepted
// as decimal strings, JSON numbers or {"hi","lo"} parts.
func (v scVal) integer() (*big.Int, bool) {
	switch v.kind {
	case "u32", "i32", "u64", "i64", "timepoint", "duration", "u256", "i256":
		return parseJSONInt(v.raw)
	case "i128", "u128":
		if n, ok := parseJSONInt(v.raw); ok {
			return n, true
		}
		return parseInt128Parts(v.raw, v.kind == "i128")
	}
	return nil, false
}

func (v scVal) vec() ([]scVal, bool) {
	if v.kind != "vec" {
		return nil, false
	}
	var items []jsoniter.RawMessage
	if err := json.Unmarshal(v.raw, &items); err != nil {
		return nil, false
	}
	out := make([]scVal, 0, len(items))
	for _, item := range items {
		parsed, err := parseScVal(item)
		if err != nil {
			return nil, false
		}
		out = append(out, parsed)
	}
	return out, true
}

// fields decodes a map whose keys are symbols, which is how contract events
// publish struct payloads.
func (v scVal) fields() (map[string]scVal, bool) {
	if v.kind != "map" {
		return nil, false
	}
	var entries []struct {
		Key jsoniter.RawMessage `json:"key"`
		Val jsoniter.RawMessage `json:"val"`
	}
	if err := json.Unmarshal(v.raw, &entries); err != nil {
		return nil, false
	}
	out := make(map[string]scVal, len(entries))
	for _, e := range entries {
		key, err := parseScVal(e.Key)
		if err != nil {
			return nil, false
		}
		name, ok := key.symbol()
		if !ok {
			return nil, false
		}
		val, err := parseScVal(e.Val)
		if err != nil {
			return nil, false
		}
		out[strings.ToLower(name)] = val
	}
	return out, true
}

func parseJSONInt(raw jsoniter.RawMessage) (*big.Int, bool) {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false
		}
	}
	n, ok := new(big.Int).SetString(s, 10)
	return n, ok
}

func parseInt128Parts(raw jsoniter.RawMessage, signed bool) (*big.Int, bool) {
	var parts struct {
		Hi jsoniter.RawMessage `json:"hi"`
		Lo jsoniter.RawMessage `json:"lo"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil || parts.Hi == nil || parts.Lo == nil {
		return nil, false
	}
	hi, ok := parseJSONInt(parts.Hi)
	if !ok {
		return nil, false
	}
	lo, ok := parseJSONInt(parts.Lo)
	if !ok || lo.Sign() < 0 {
		return nil, false
	}
	if !signed && hi.Sign() < 0 {
		return nil, false
	}
	n := new(big.Int).Lsh(hi, 64)
	return n.Add(n, lo), true
}
