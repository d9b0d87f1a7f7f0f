package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxAmount is the largest value a DECIMAL(12,2) column holds.
var MaxAmount = decimal.RequireFromString("9999999999.99")

// Amount is a currency value stored as DECIMAL(12,2).
type Amount struct {
	decimal.Decimal
}

func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d.Round(2)}
}

// ParseAmount parses a positive amount with at most two decimal places,
// no larger than MaxAmount.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	if !d.IsPositive() {
		return Amount{}, fmt.Errorf("amount must be positive")
	}
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		return Amount{}, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	if d.GreaterThan(MaxAmount) {
		return Amount{}, fmt.Errorf("amount %q exceeds %s", s, MaxAmount.StringFixed(2))
	}
	return NewAmount(d), nil
}

func (a *Amount) Scan(value interface{}) error {
	if value == nil {
		a.Decimal = decimal.Zero
		return nil
	}
	return a.Decimal.Scan(value)
}

func (a Amount) Value() (driver.Value, error) {
	return a.Decimal.StringFixed(2), nil
}

// MarshalJSON renders amounts as JSON numbers with two decimals.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.StringFixed(2)), nil
}
