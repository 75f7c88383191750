// Package core provides the domain model shared by every layer.
//
// This file contains the Money type. Amounts are exact decimals; they are
// written to the wire as bare JSON numbers because that is what the
// service stores and returns.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an exact, non-float monetary amount.
type Money struct {
	d decimal.Decimal
}

// NewMoney wraps a decimal value.
func NewMoney(d decimal.Decimal) Money {
	return Money{d: d}
}

// MoneyFromInt is mostly useful in tests and seed data.
func MoneyFromInt(units int64) Money {
	return Money{d: decimal.NewFromInt(units)}
}

// MoneyFromFloat converts a float coming from a loosely typed source.
func MoneyFromFloat(f float64) Money {
	return Money{d: decimal.NewFromFloat(f)}
}

// ParseAmount converts user input to Money.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators.
// Signs, exponents and non-positive values are rejected.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,34") -> 12.34, nil
//	ParseAmount("-1")    -> error
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.ContainsAny(s, "+-eE") {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return Money{}, ErrInvalidAmount
	}
	return Money{d: d}, nil
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) IsPositive() bool { return m.d.IsPositive() }

func (m Money) IsZero() bool { return m.d.IsZero() }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }

func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }

func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

func (m Money) String() string { return m.d.String() }

// StringFixed formats with two decimals for display.
func (m Money) StringFixed() string { return m.d.StringFixed(2) }

// Float64 returns the amount for display purposes only.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

// MarshalJSON writes the amount as a JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.d.String()), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted decimals.
func (m *Money) UnmarshalJSON(data []byte) error {
	return m.d.UnmarshalJSON(data)
}

// Sum adds up the amounts of all expenses.
func Sum(expenses []Expense) Money {
	total := Money{}
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total
}
