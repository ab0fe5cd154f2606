package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Precision of every monetary value in the system, matching the
// numeric(12,2) wallet and transaction columns.
const (
	MaxDigits     = 12
	DecimalPlaces = 2
)

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses an amount off the wire. Amounts travel as decimal
// strings, never floats. Rejects malformed input, non-positive values,
// sub-cent precision and values wider than the ledger columns.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return ValidateAmount(d)
}

// ValidateAmount enforces the amount precondition shared by credit, debit
// and transfer: amount > 0, at most 2 fractional digits, at most 12 digits
// in total.
func ValidateAmount(d decimal.Decimal) (decimal.Decimal, error) {
	if d.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.Exponent() < -DecimalPlaces {
		// Sub-cent precision is rejected, not rounded.
		return decimal.Zero, ErrInvalidAmount
	}
	if d.Truncate(0).NumDigits() > MaxDigits-DecimalPlaces {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders a balance or amount for the wire with exactly two
// fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(DecimalPlaces)
}
