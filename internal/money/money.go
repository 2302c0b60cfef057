// Package money provides the exact fixed-point amount type used for every
// monetary value in the billing ledger.
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits persisted and displayed.
const Scale = 2

// Bounds applied before any arithmetic touches an untrusted amount. An
// exponent outside [MinExponent, MaxExponent] makes rescaling cost grow with
// the exponent, so such values are refused rather than normalised.
const (
	MinExponent = -(Scale + 6)
	MaxExponent = 12
	maxLength   = 64
)

// ErrInvalidAmount indicates a value that cannot be parsed as a decimal amount.
var ErrInvalidAmount = errors.New("money: invalid amount")

// MaxAmount is the largest magnitude a NUMERIC(12,2) column stores.
var MaxAmount = New(999999999999, -Scale)

// Money is an exact decimal amount. The zero value is 0.
type Money struct {
	d decimal.Decimal
}

// Zero returns a zero amount.
func Zero() Money { return Money{} }

// New builds an amount from an unscaled integer and an exponent, e.g. New(50000, -2) = 500.00.
func New(value int64, exp int32) Money {
	return Money{d: decimal.New(value, exp)}
}

// FromInt builds a whole amount.
func FromInt(v int64) Money {
	return Money{d: decimal.NewFromInt(v)}
}

// FromDecimal wraps a decimal value.
func FromDecimal(d decimal.Decimal) Money {
	return Money{d: d}
}

// Parse reads a decimal string such as "500", "500.00" or "-12.5".
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if len(s) > maxLength {
		return Money{}, fmt.Errorf("%w: %d characters", ErrInvalidAmount, len(s))
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if exp := d.Exponent(); exp < MinExponent || exp > MaxExponent {
		return Money{}, fmt.Errorf("%w: exponent %d out of range", ErrInvalidAmount, exp)
	}
	return Money{d: d}, nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal exposes the underlying decimal value.
func (m Money) Decimal() decimal.Decimal { return m.d }

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }

// Sub returns m - o.
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }

// Div divides by a count. Only used for display-level averages.
func (m Money) Div(n int64) Money {
	if n == 0 {
		return Money{}
	}
	return Money{d: m.d.Div(decimal.NewFromInt(n))}
}

// Cmp compares m and o: -1, 0 or +1.
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

// Equal reports numeric equality (500 equals 500.00).
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

// GreaterThan reports m > o.
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }

// LessThan reports m < o.
func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }

// IsZero reports m == 0.
func (m Money) IsZero() bool { return m.d.IsZero() }

// IsPositive reports m > 0.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// IsNegative reports m < 0.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// HasValidScale reports whether the amount fits in Scale fractional digits
// without rounding. Amounts with an exponent below MinExponent never do.
func (m Money) HasValidScale() bool {
	exp := m.d.Exponent()
	if exp >= -Scale {
		return true
	}
	if exp < MinExponent {
		return false
	}
	return m.d.Equal(m.d.Truncate(Scale))
}

// InRange reports whether the amount can be compared and stored cheaply:
// its exponent lies within [MinExponent, MaxExponent] and its magnitude is at
// most MaxAmount.
func (m Money) InRange() bool {
	exp := m.d.Exponent()
	if exp < MinExponent || exp > MaxExponent {
		return false
	}
	return m.d.Abs().LessThanOrEqual(MaxAmount.d)
}

// Max returns the larger of m and o.
func Max(m, o Money) Money {
	if m.LessThan(o) {
		return o
	}
	return m
}

// Min returns the smaller of m and o.
func Min(m, o Money) Money {
	if m.GreaterThan(o) {
		return o
	}
	return m
}

// Sum adds a list of amounts exactly.
func Sum(values ...Money) Money {
	total := Zero()
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// String formats the amount for display with two decimal places.
func (m Money) String() string { return m.d.StringFixed(Scale) }

// Exact returns the unrounded decimal representation.
func (m Money) Exact() string { return m.d.String() }

// MarshalJSON emits a quoted fixed-point string ("500.00").
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts quoted strings and bare JSON numbers. Bare numbers are
// parsed from their literal text, never through float64.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*m = Money{}
		return nil
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (m Money) MarshalText() ([]byte, error) { return []byte(m.Exact()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Money) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (m *Money) Scan(src any) error {
	if src == nil {
		*m = Money{}
		return nil
	}
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	*m = Money{d: d}
	return nil
}

// Value implements driver.Valuer; amounts are sent as exact decimal text.
func (m Money) Value() (driver.Value, error) {
	return m.d.String(), nil
}
