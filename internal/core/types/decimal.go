// Package types provides common type aliases and utilities.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Quantity is a signed count of stock units.
// Batches hold whole units; signed values are used for ledger deltas.
type Quantity int64

func (q Quantity) Int64() int64 { return int64(q) }

func (q Quantity) IsZero() bool { return q == 0 }

func (q Quantity) IsPositive() bool { return q > 0 }

func (q Quantity) IsNegative() bool { return q < 0 }

func (q Quantity) Neg() Quantity { return -q }

func (q Quantity) Abs() Quantity {
	if q < 0 {
		return -q
	}
	return q
}

// MinQuantity returns the smaller of a and b.
func MinQuantity(a, b Quantity) Quantity {
	if a < b {
		return a
	}
	return b
}

func (q Quantity) String() string { return strconv.FormatInt(int64(q), 10) }

// UnmarshalJSON accepts either a JSON number or a numeric string.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parse quantity: expected whole units: %w", err)
	}
	*q = Quantity(v)
	return nil
}

// MinorUnits represents a monetary value in minor currency units (cents).
// Storage: int64 - sufficient for ±922 trillion minor units.
// Example: 4.00 USD → 400
type MinorUnits int64

// CurrencyDecimals is the number of fractional digits of the accounting currency.
const CurrencyDecimals int32 = 2

// NewMinorUnitsFromString parses a major-unit amount ("4.00", "12.5") into minor units.
// Amounts with more fractional digits than the currency allows are rejected.
func NewMinorUnitsFromString(s string) (MinorUnits, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse amount: %w", err)
	}
	scaled := d.Shift(CurrencyDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", s, CurrencyDecimals)
	}
	return MinorUnits(scaled.IntPart()), nil
}

// Decimal returns the amount in major units.
func (m MinorUnits) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -CurrencyDecimals)
}

// String renders the amount in major units with fixed currency decimals.
func (m MinorUnits) String() string {
	return m.Decimal().StringFixed(CurrencyDecimals)
}

// Mul returns the amount multiplied by a quantity.
func (m MinorUnits) Mul(q Quantity) MinorUnits { return m * MinorUnits(q) }

func (m MinorUnits) IsZero() bool     { return m == 0 }
func (m MinorUnits) IsPositive() bool { return m > 0 }
func (m MinorUnits) IsNegative() bool { return m < 0 }
func (m MinorUnits) Neg() MinorUnits  { return -m }
func (m MinorUnits) Abs() MinorUnits {
	if m < 0 {
		return -m
	}
	return m
}

// PercentScale is the number of decimal places kept for percentages.
const PercentScale int32 = 2

// PercentOf returns part / whole * 100 rounded half-up to PercentScale places.
// A non-positive whole yields zero.
func PercentOf(part, whole MinorUnits) decimal.Decimal {
	if whole <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(whole)), PercentScale)
}
