package database

import (
	"math/big"
	"testing"
)

func TestBigIntToNumeric(t *testing.T) {
	tests := []struct {
		name  string
		value *big.Int
		want  string
	}{
		{name: "nil value", value: nil, want: "0"},
		{name: "zero value", value: big.NewInt(0), want: "0"},
		{name: "negative value", value: big.NewInt(-42), want: "-42"},
		{
			name:  "i128 max",
			value: new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1)),
			want:  "170141183460469231731687303715884105727",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BigIntToNumeric(tt.value); got != tt.want {
				t.Errorf("BigIntToNumeric() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNumericToBigInt(t *testing.T) {
	v, err := NumericToBigInt("123456789012345678901234567890")
	if err != nil {
		t.Fatalf("NumericToBigInt() error = %v", err)
	}
	if v.String() != "123456789012345678901234567890" {
		t.Errorf("NumericToBigInt() = %v", v)
	}

	if _, err := NumericToBigInt("12.5"); err == nil {
		t.Errorf("NumericToBigInt() expected error for fractional value")
	}
}

func TestCursorCovers(t *testing.T) {
	cursor := Cursor{Ledger: 100, EventID: "0000000429496729600-0000000002"}

	tests := []struct {
		name    string
		ledger  uint32
		eventID string
		want    bool
	}{
		{"earlier ledger", 99, "0000000425201762304-0000000009", true},
		{"later ledger", 101, "0000000433791696896-0000000000", false},
		{"same event", 100, "0000000429496729600-0000000002", true},
		{"earlier event in ledger", 100, "0000000429496729600-0000000001", true},
		{"later event in ledger", 100, "0000000429496729600-0000000003", false},
		{"missing id", 100, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cursor.Covers(tt.ledger, tt.eventID); got != tt.want {
				t.Errorf("Covers(%d, %q) = %v, want %v", tt.ledger, tt.eventID, got, tt.want)
			}
		})
	}

	seeded := Cursor{Ledger: 100}
	if seeded.Covers(100, "0000000429496729600-0000000000") {
		t.Errorf("seeded cursor must not cover events in its own ledger")
	}
}

func TestEventRowID(t *testing.T) {
	if got := EventRowID("abc", 3); got != "abc-3" {
		t.Errorf("EventRowID() = %v, want abc-3", got)
	}
}
