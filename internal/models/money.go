package models

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a currency amount. It is stored remotely as a JSON number.
type Money struct {
	decimal.Decimal
}

// NewMoney parses an amount such as "150.00" or "150,00".
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", "."))
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Money{d.Round(2)}, nil
}

// MoneyFromFloat converts a float amount, rounding to cents.
func MoneyFromFloat(f float64) Money {
	return Money{decimal.NewFromFloat(f).Round(2)}
}

// Add returns m+o.
func (m Money) Add(o Money) Money {
	return Money{m.Decimal.Add(o.Decimal)}
}

// MarshalJSON writes a bare number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.StringFixed(2)), nil
}

// UnmarshalJSON accepts a number, a quoted number or null.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		m.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("decode amount: %w", err)
	}
	m.Decimal = d
	return nil
}
