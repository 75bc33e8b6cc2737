package domain

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain decimal", input: "0.5", want: "0.5"},
		{name: "integer", input: "3", want: "3"},
		{name: "zero", input: "0", want: "0"},
		{name: "surrounding whitespace", input: "  1.25  ", want: "1.25"},
		{name: "full minor-unit precision", input: "0.000000000000000001", want: "0.000000000000000001"},
		{name: "empty string", input: "", wantErr: true},
		{name: "negative value", input: "-1", wantErr: true},
		{name: "not a number", input: "abc", wantErr: true},
		{name: "sub minor-unit precision", input: "0.0000000000000000001", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("expected ErrInvalidAmount, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got.String())
			}
		})
	}
}

func TestAmountMinorUnitsRoundTrip(t *testing.T) {
	a := MustParseAmount("1.5")

	units := a.MinorUnits()
	if units.String() != "1500000000000000000" {
		t.Fatalf("expected 1500000000000000000 minor units, got %s", units.String())
	}

	back, err := AmountFromMinorUnits(units)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.Cmp(a) != 0 {
		t.Fatalf("expected round trip to preserve value, got %s", back.String())
	}
}

func TestAmountFromMinorUnitsRejectsNegative(t *testing.T) {
	if _, err := AmountFromMinorUnits(big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := AmountFromMinorUnits(nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
}

func TestAmountSubUnderflow(t *testing.T) {
	small := MustParseAmount("0.1")
	large := MustParseAmount("0.2")

	if _, err := small.Sub(large); !errors.Is(err, ErrAmountUnderflow) {
		t.Fatalf("expected ErrAmountUnderflow, got %v", err)
	}

	got, err := large.Sub(small)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != "0.1" {
		t.Fatalf("expected 0.1, got %s", got.String())
	}
}

func TestAmountMulRateFloors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "five percent of 0.5", input: "0.5", want: "0.025"},
		{name: "five percent of 1", input: "1", want: "0.05"},
		{name: "floors at the minor unit", input: "0.000000000000000019", want: "0"},
		{name: "zero", input: "0", want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MustParseAmount(tt.input).MulRate(5, 100)
			if got.String() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got.String())
			}
		})
	}
}

func TestAmountJSON(t *testing.T) {
	a := MustParseAmount("0.475")

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `"0.475"` {
		t.Fatalf("expected quoted decimal string, got %s", data)
	}

	var back Amount
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.Cmp(a) != 0 {
		t.Fatalf("expected %s after round trip, got %s", a.String(), back.String())
	}

	var rejected Amount
	if err := json.Unmarshal([]byte(`"-1"`), &rejected); err == nil {
		t.Fatal("expected negative amount to be rejected")
	}
}
