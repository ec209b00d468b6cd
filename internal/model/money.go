package model

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Cents is an exact cash amount in hundredths of the account currency.
// Ledger arithmetic stays in integers; decimal is only used at the edges.
type Cents int64

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// CentsFromDecimal converts a dollar amount to cents. It rejects values
// with more than two decimal places rather than rounding them away, and
// values outside the int64 range.
func CentsFromDecimal(d decimal.Decimal) (Cents, error) {
	scaled := d.Mul(hundred)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than 2 decimal places", ErrInvalidAmount, d)
	}
	if scaled.GreaterThan(maxCents) || scaled.LessThan(minCents) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, d)
	}
	return Cents(scaled.IntPart()), nil
}

// ParseCents parses a dollar string such as "50" or "12.34".
func ParseCents(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return CentsFromDecimal(d)
}

// MustCents is ParseCents for literals known to be valid.
func MustCents(s string) Cents {
	c, err := ParseCents(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Dollars returns c as an exact decimal dollar amount.
func (c Cents) Dollars() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Dollars().StringFixed(2)
}

// MarshalJSON encodes cents as a fixed two-decimal dollar string.
func (c Cents) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts both the dollar string form and a bare JSON number
// of dollars.
func (c *Cents) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	v, err := CentsFromDecimal(d)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Bps returns c × bps / 10000, rounded half away from zero.
func (c Cents) Bps(bps int) Cents {
	if bps == 0 || c == 0 {
		return 0
	}
	v := c.Dollars().Mul(decimal.NewFromInt(int64(bps))).Div(decimal.NewFromInt(10000))
	return Cents(v.Mul(hundred).Round(0).IntPart())
}
