package core

import (
	"fmt"
	"time"
)

// Balances maps user -> currency -> net signed amount.
type Balances map[string]map[string]Money

func (b Balances) add(user, currency string, m Money) {
	if m.IsZero() {
		return
	}
	inner, ok := b[user]
	if !ok {
		inner = make(map[string]Money)
		b[user] = inner
	}
	inner[currency] = inner[currency].Add(m)
}

// Add accumulates m into the user's bucket for currency.
func (b Balances) Add(user, currency string, m Money) {
	b.add(user, currency, m)
}

// Prune drops zero buckets and users left without any.
func (b Balances) Prune() Balances {
	for user, inner := range b {
		for cur, m := range inner {
			if m.IsZero() {
				delete(inner, cur)
			}
		}
		if len(inner) == 0 {
			delete(b, user)
		}
	}
	return b
}

// ColumnTotals sums every user's balance per currency.
func (b Balances) ColumnTotals() map[string]Money {
	out := make(map[string]Money)
	for _, inner := range b {
		for cur, m := range inner {
			out[cur] = out[cur].Add(m)
		}
	}
	return out
}

// Debt is one directed obligation: From owes To.
type Debt struct {
	From     string
	To       string
	Currency string
	Amount   Money
}

// Month is a calendar month.
type Month struct {
	Year  int
	Month time.Month
}

func MonthOf(t time.Time) Month {
	t = t.UTC()
	return Month{Year: t.Year(), Month: t.Month()}
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// AddMonths shifts the month by n (may be negative).
func (m Month) AddMonths(n int) Month {
	idx := m.Year*12 + int(m.Month) - 1 + n
	return Month{Year: idx / 12, Month: time.Month(idx%12 + 1)}
}

func (m Month) Before(o Month) bool {
	return m.Year < o.Year || (m.Year == o.Year && m.Month < o.Month)
}

// MonthlyTotal is one row of a single-currency monthly series.
type MonthlyTotal struct {
	Month Month
	Total Money
}

type CurrencyAmount struct {
	Currency string
	Amount   Money
}

type MonthAmounts struct {
	Month   Month
	Amounts []CurrencyAmount
}

// MonthlyReport is the multi-currency monthly budget view.
type MonthlyReport struct {
	Months              []MonthAmounts
	AvailableCurrencies []string
	DefaultCurrency     string
	AverageMonthlySpend []CurrencyAmount
	From                Month
	To                  Month
}
