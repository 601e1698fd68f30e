// Package money implements FluxPay's fixed-precision currency value object, as
// used throughout the order, payment and refund domains.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// decimalPlaces is the number of fractional digits each supported currency
// settles at. Most currencies use minor units of 1/100; a few (yen family) have
// no minor unit at all and a few (dinar family) use three.
var decimalPlaces = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
}

func scaleFor(currency string) int32 {
	if places, ok := decimalPlaces[currency]; ok {
		return places
	}
	return 2
}

// Money is an amount in a specific currency, always held rescaled to that
// currency's canonical number of decimal places.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// Zero returns a zero-value Money in the given currency.
func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// New builds a Money from a decimal string, rounding half-up to the
// currency's canonical scale. Negative amounts are rejected: Money never
// represents a negative quantity.
func New(amount string, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("money: invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return Money{}, fmt.Errorf("money: negative amount %q is not allowed", amount)
	}
	return FromDecimal(d, currency), nil
}

// FromDecimal builds a Money from an already-parsed non-negative
// decimal.Decimal, rescaling it to the currency's canonical places. Callers
// that cannot guarantee a non-negative input should go through New instead.
func FromDecimal(d decimal.Decimal, currency string) Money {
	return Money{
		amount:   d.Round(scaleFor(currency)),
		currency: currency,
	}
}

// FromMinorUnits builds a Money from a non-negative integer count of minor
// units (e.g. cents), such as a value received from an external gateway.
func FromMinorUnits(minorUnits int64, currency string) Money {
	scale := scaleFor(currency)
	d := decimal.New(minorUnits, -scale)
	if d.IsNegative() {
		d = decimal.Zero
	}
	return Money{amount: d, currency: currency}
}

// Currency returns the ISO 4217 currency code.
func (m Money) Currency() string { return m.currency }

// String renders the amount fixed to the currency's canonical scale.
func (m Money) String() string {
	return m.amount.StringFixed(scaleFor(m.currency))
}

// Decimal exposes the underlying decimal value, e.g. for persistence.
func (m Money) Decimal() decimal.Decimal { return m.amount }

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsNegative reports whether the amount is less than zero.
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// sameCurrency errors out any arithmetic across mismatched currencies —
// FluxPay never does currency conversion.
func sameCurrency(a, b Money) error {
	if a.currency != b.currency {
		return fmt.Errorf("money: currency mismatch %s vs %s", a.currency, b.currency)
	}
	return nil
}

// Add returns a + b. Both operands must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if err := sameCurrency(m, other); err != nil {
		return Money{}, err
	}
	return FromDecimal(m.amount.Add(other.amount), m.currency), nil
}

// Sub returns m - other. Both operands must share a currency; the result
// must not be negative.
func (m Money) Sub(other Money) (Money, error) {
	if err := sameCurrency(m, other); err != nil {
		return Money{}, err
	}
	result := m.amount.Sub(other.amount)
	if result.IsNegative() {
		return Money{}, fmt.Errorf("money: subtraction would produce a negative amount (%s - %s)", m.String(), other.String())
	}
	return FromDecimal(result, m.currency), nil
}

// MulInt returns m × n for a non-negative integer multiplier n, e.g. a line
// item's unit price times its quantity.
func (m Money) MulInt(n int) (Money, error) {
	if n < 0 {
		return Money{}, fmt.Errorf("money: negative multiplier %d is not allowed", n)
	}
	return FromDecimal(m.amount.Mul(decimal.NewFromInt(int64(n))), m.currency), nil
}

// Mul returns m × factor for a non-negative decimal factor.
func (m Money) Mul(factor decimal.Decimal) (Money, error) {
	if factor.IsNegative() {
		return Money{}, fmt.Errorf("money: negative factor %s is not allowed", factor.String())
	}
	return FromDecimal(m.amount.Mul(factor), m.currency), nil
}

// Cmp compares m and other, returning -1, 0 or 1. Both operands must share a
// currency.
func (m Money) Cmp(other Money) (int, error) {
	if err := sameCurrency(m, other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

// GreaterThan reports whether m > other.
func (m Money) GreaterThan(other Money) (bool, error) {
	c, err := m.Cmp(other)
	return c > 0, err
}

// Equal reports whether m == other (same currency and amount).
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// jsonMoney is Money's wire representation — its own fields are unexported
// so arithmetic invariants can't be bypassed by direct field assignment.
type jsonMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON renders m for persistence and saga context round-tripping.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonMoney{Amount: m.amount.StringFixed(scaleFor(m.currency)), Currency: m.currency})
}

// UnmarshalJSON restores m from its wire representation.
func (m *Money) UnmarshalJSON(b []byte) error {
	var wire jsonMoney
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	d, err := decimal.NewFromString(wire.Amount)
	if err != nil {
		return fmt.Errorf("money: invalid amount %q: %w", wire.Amount, err)
	}
	m.amount = d
	m.currency = wire.Currency
	return nil
}
