package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"splitledger/internal/core"
)

type BudgetRange string

const (
	Range6M  BudgetRange = "6M"
	Range1Y  BudgetRange = "1Y"
	Range2Y  BudgetRange = "2Y"
	RangeAll BudgetRange = "All"
)

// ParseBudgetRange accepts the range names case-insensitively. An empty
// string selects 6M.
func ParseBudgetRange(s string) (BudgetRange, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "6M":
		return Range6M, nil
	case "1Y":
		return Range1Y, nil
	case "2Y":
		return Range2Y, nil
	case "ALL":
		return RangeAll, nil
	}
	return "", fmt.Errorf("invalid range %q: must be one of 6M, 1Y, 2Y, All", s)
}

// months returns the window length, or 0 for All.
func (r BudgetRange) months() int {
	switch r {
	case Range1Y:
		return 12
	case Range2Y:
		return 24
	case RangeAll:
		return 0
	default:
		return 6
	}
}

// budgetEntries keeps live budget entries, optionally for one currency.
func budgetEntries(entries []core.LedgerEntry, currency string) []core.LedgerEntry {
	out := make([]core.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsLive() || !e.IsBudgetEntry() {
			continue
		}
		if currency != "" && e.Currency != currency {
			continue
		}
		out = append(out, e)
	}
	return out
}

// FilterBudget keeps the entries of one budget.
func FilterBudget(entries []core.LedgerEntry, budgetID string) []core.LedgerEntry {
	out := make([]core.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if e.BudgetID == budgetID {
			out = append(out, e)
		}
	}
	return out
}

// monthWindow resolves the range against now. For All the window starts at
// the oldest entry, or at now's month when there is none.
func monthWindow(entries []core.LedgerEntry, r BudgetRange, now time.Time) (from, to core.Month) {
	to = core.MonthOf(now)
	if n := r.months(); n > 0 {
		return to.AddMonths(-(n - 1)), to
	}
	from = to
	for _, e := range entries {
		if m := core.MonthOf(e.AddedTime); m.Before(from) {
			from = m
		}
	}
	return from, to
}

// monthlySeries sums signed amounts per month over [from, to], zero filling
// months without entries.
func monthlySeries(entries []core.LedgerEntry, from, to core.Month) []core.MonthlyTotal {
	sums := make(map[core.Month]int64)
	for _, e := range entries {
		sums[core.MonthOf(e.AddedTime)] += e.SignedAmount().Minor
	}
	var out []core.MonthlyTotal
	for m := from; !to.Before(m); m = m.AddMonths(1) {
		out = append(out, core.MonthlyTotal{Month: m, Total: core.Money{Minor: sums[m]}})
	}
	return out
}

// ComputeMonthly returns one row per calendar month in the range ending at
// now's month, oldest first, including months without entries.
func ComputeMonthly(entries []core.LedgerEntry, currency string, r BudgetRange, now time.Time) []core.MonthlyTotal {
	live := budgetEntries(entries, currency)
	from, to := monthWindow(live, r, now)
	return monthlySeries(live, from, to)
}

// ComputeTotal sums the signed amounts of all live budget entries in currency.
func ComputeTotal(entries []core.LedgerEntry, currency string) core.Money {
	var total int64
	for _, e := range budgetEntries(entries, currency) {
		total += e.SignedAmount().Minor
	}
	return core.Money{Minor: total}
}

// BuildMonthlyReport computes the monthly series for every currency present
// over one shared window, with the average monthly spend (debits only) per
// currency.
func BuildMonthlyReport(entries []core.LedgerEntry, r BudgetRange, now time.Time, defaultCurrency string) core.MonthlyReport {
	live := budgetEntries(entries, "")
	from, to := monthWindow(live, r, now)

	byCurrency := make(map[string][]core.LedgerEntry)
	for _, e := range live {
		byCurrency[e.Currency] = append(byCurrency[e.Currency], e)
	}
	currencies := make([]string, 0, len(byCurrency))
	for c := range byCurrency {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	report := core.MonthlyReport{
		AvailableCurrencies: currencies,
		DefaultCurrency:     defaultCurrency,
		From:                from,
		To:                  to,
	}
	if _, ok := byCurrency[defaultCurrency]; !ok && len(currencies) > 0 {
		report.DefaultCurrency = currencies[0]
	}

	for m := from; !to.Before(m); m = m.AddMonths(1) {
		report.Months = append(report.Months, core.MonthAmounts{Month: m})
	}
	for _, c := range currencies {
		series := monthlySeries(byCurrency[c], from, to)
		for i, row := range series {
			report.Months[i].Amounts = append(report.Months[i].Amounts, core.CurrencyAmount{Currency: c, Amount: row.Total})
		}

		var spend int64
		for _, e := range byCurrency[c] {
			if e.Sign == core.Debit && !core.MonthOf(e.AddedTime).Before(from) && !to.Before(core.MonthOf(e.AddedTime)) {
				spend += e.Amount.Minor
			}
		}
		report.AverageMonthlySpend = append(report.AverageMonthlySpend, core.CurrencyAmount{
			Currency: c,
			Amount:   core.Money{Minor: spend / int64(len(series))},
		})
	}
	return report
}
