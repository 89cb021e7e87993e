// Package core provides money parsing and handling utilities.
//
// Amounts are held as integer minor units (two decimal places) and only
// converted to decimals at the edges.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of decimal places held in a Money value.
const MinorUnitExponent = 2

type Money struct {
	Minor int64
}

// ParseAmount converts a positive decimal string to minor units.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and rounds
// half-up on the third decimal place.
//
//	ParseAmount("12.34")  -> 1234
//	ParseAmount("12,345") -> 1235
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal rounds d to minor units. Zero and negative values are rejected.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	minor := d.Round(MinorUnitExponent).Shift(MinorUnitExponent)
	if !minor.IsPositive() || minor.GreaterThan(decimal.NewFromInt(maxMinor)) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Minor: minor.IntPart()}, nil
}

const maxMinor = 1<<62 - 1

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Minor, -MinorUnitExponent)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(MinorUnitExponent)
}

func (m Money) Neg() Money {
	return Money{Minor: -m.Minor}
}

func (m Money) Add(o Money) Money {
	return Money{Minor: m.Minor + o.Minor}
}

func (m Money) IsZero() bool {
	return m.Minor == 0
}
