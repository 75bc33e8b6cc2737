/**
 * @description
 * This file defines the Amount value type used for every balance and monetary
 * quantity in the pool-service. Amounts are fixed-point decimals with 18
 * fractional digits, matching the smallest transferable unit of the settlement
 * chain's native currency, so that conversions to and from the chain's integer
 * minor-unit representation are always exact.
 *
 * @dependencies
 * - math/big: Exact integer arithmetic for minor-unit conversion.
 * - github.com/shopspring/decimal: Arbitrary-precision fixed-point decimals.
 */

package domain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitDigits is the number of fractional digits carried by every Amount.
// It matches the chain's smallest transferable unit (wei-style, 1e-18).
const MinorUnitDigits = 18

var (
	// ErrInvalidAmount indicates a value that could not be parsed as a
	// non-negative decimal with at most MinorUnitDigits fractional digits.
	ErrInvalidAmount = errors.New("invalid monetary amount")

	// ErrAmountUnderflow indicates a subtraction whose result would be negative.
	ErrAmountUnderflow = errors.New("monetary amount underflow")

	minorUnitScale = decimal.New(1, MinorUnitDigits)
)

// Amount is a non-negative fixed-point decimal quantity of the chain's native
// currency. The zero value is zero currency units and is ready to use.
type Amount struct {
	d decimal.Decimal
}

// ZeroAmount returns an Amount of zero.
func ZeroAmount() Amount {
	return Amount{}
}

// ParseAmount parses a decimal string (e.g. "0.5") into an Amount. Negative
// values, malformed strings, and values with sub-minor-unit precision are
// rejected with ErrInvalidAmount.
func ParseAmount(value string) (Amount, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Amount{}, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}

	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("%w: negative value %q", ErrInvalidAmount, value)
	}
	if d.Exponent() < -MinorUnitDigits {
		// Anything finer than the minor unit cannot be settled on chain.
		if !d.Equal(d.Truncate(MinorUnitDigits)) {
			return Amount{}, fmt.Errorf("%w: %q exceeds %d decimal places", ErrInvalidAmount, value, MinorUnitDigits)
		}
	}

	return Amount{d: d.Truncate(MinorUnitDigits)}, nil
}

// MustParseAmount is ParseAmount for compile-time-known literals; it panics on
// malformed input and is intended for constants and tests only.
func MustParseAmount(value string) Amount {
	a, err := ParseAmount(value)
	if err != nil {
		panic(err)
	}
	return a
}

// AmountFromMinorUnits converts an integer count of minor units (wei-style)
// into an Amount. Negative counts are rejected with ErrInvalidAmount.
func AmountFromMinorUnits(units *big.Int) (Amount, error) {
	if units == nil {
		return Amount{}, fmt.Errorf("%w: nil minor units", ErrInvalidAmount)
	}
	if units.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: negative minor units %s", ErrInvalidAmount, units.String())
	}
	return Amount{d: decimal.NewFromBigInt(units, -MinorUnitDigits)}, nil
}

// MinorUnits returns the exact integer number of minor units this Amount
// represents. By construction every Amount is an integer multiple of the minor
// unit, so the conversion never loses precision.
func (a Amount) MinorUnits() *big.Int {
	return a.d.Mul(minorUnitScale).BigInt()
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{d: a.d.Add(b.d)}
}

// Sub returns a - b, failing with ErrAmountUnderflow if the result would be
// negative.
func (a Amount) Sub(b Amount) (Amount, error) {
	result := a.d.Sub(b.d)
	if result.IsNegative() {
		return Amount{}, fmt.Errorf("%w: %s - %s", ErrAmountUnderflow, a.String(), b.String())
	}
	return Amount{d: result}, nil
}

// MulRate multiplies the amount by a rational rate expressed as numerator over
// denominator (e.g. 5/100 for a 5% fee), rounding the result down to the minor
// unit. The computation is carried out on integer minor units so the floor is
// exact.
func (a Amount) MulRate(numerator, denominator int64) Amount {
	if denominator == 0 {
		return Amount{}
	}
	units := a.MinorUnits()
	units.Mul(units, big.NewInt(numerator))
	units.Quo(units, big.NewInt(denominator))
	scaled, _ := AmountFromMinorUnits(units)
	return scaled
}

// Cmp compares two amounts, returning -1, 0, or 1.
func (a Amount) Cmp(b Amount) int {
	return a.d.Cmp(b.d)
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.d.IsZero()
}

// String renders the amount as a plain decimal string without trailing zeros,
// the form used at every service boundary.
func (a Amount) String() string {
	return a.d.String()
}

// MarshalJSON encodes the amount as a JSON string to avoid any float precision
// loss at the API boundary.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON decodes a JSON string into an Amount using ParseAmount rules.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
