// Package units converts between human-entered decimal strings and exact
// integer base-unit amounts.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// LamportsExponent is the number of decimal places of native SOL.
const LamportsExponent uint8 = 9

// ErrInvalidAmount is returned for any input that cannot be turned into a
// positive base-unit amount without loss.
var ErrInvalidAmount = errors.New("invalid amount")

// Plain decimal notation only: no sign, no exponent, at least one digit.
var plainDecimal = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)$`)

// Amount is a non-negative integer count of base units together with the
// exponent that was used to derive it.
type Amount struct {
	Units    uint64
	Exponent uint8
}

// NewAmount wraps a raw base-unit count.
func NewAmount(units uint64, exponent uint8) Amount {
	return Amount{Units: units, Exponent: exponent}
}

// Lamports wraps a native SOL base-unit count.
func Lamports(units uint64) Amount {
	return Amount{Units: units, Exponent: LamportsExponent}
}

// ToBaseUnits parses s and scales it by 10^exponent using exact decimal
// arithmetic. Zero, negative, non-numeric, overflowing and over-precise input
// is rejected rather than rounded.
func ToBaseUnits(s string, exponent uint8) (Amount, error) {
	d, err := parse(s)
	if err != nil {
		return Amount{}, err
	}
	if d.Sign() <= 0 {
		return Amount{}, fmt.Errorf("%w: %q must be greater than zero", ErrInvalidAmount, s)
	}

	scaled := d.Shift(int32(exponent))
	if !scaled.IsInteger() {
		return Amount{}, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, exponent)
	}

	n := scaled.BigInt()
	if !n.IsUint64() {
		return Amount{}, fmt.Errorf("%w: %q is too large", ErrInvalidAmount, s)
	}

	return Amount{Units: n.Uint64(), Exponent: exponent}, nil
}

// FromBaseUnits renders an amount in canonical decimal form: no leading
// zeros, no trailing fractional zeros and no dangling decimal point.
func FromBaseUnits(a Amount) string {
	return a.Decimal().String()
}

// Canonical returns the canonical form of a decimal string, the form
// FromBaseUnits produces for the same value.
func Canonical(s string) (string, error) {
	d, err := parse(s)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// Decimal returns the display value as an exact decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(a.Units), -int32(a.Exponent))
}

// String implements fmt.Stringer with the display value.
func (a Amount) String() string {
	return FromBaseUnits(a)
}

// IsZero reports whether the amount holds no base units.
func (a Amount) IsZero() bool {
	return a.Units == 0
}

func parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if !plainDecimal.MatchString(s) {
		return decimal.Decimal{}, fmt.Errorf("%w: %q is not a plain decimal number", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return d, nil
}
