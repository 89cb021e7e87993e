package services

import (
	"sort"

	"github.com/shopspring/decimal"

	"splitledger/internal/core"
)

// entryNets returns each participant's net position in a live expense entry.
// Positive means the group owes the participant. A credit entry (a refund)
// reverses the positions.
func entryNets(e core.LedgerEntry) map[string]int64 {
	nets := make(map[string]int64, len(e.Participants))
	for _, p := range e.Participants {
		net := p.Paid.Minor - p.Owed.Minor
		if e.Sign == core.Credit {
			net = -net
		}
		nets[p.UserID] += net
	}
	return nets
}

// expenseEntries keeps live group expenses and checks their shares. Any
// inconsistent entry aborts the whole computation.
func expenseEntries(entries []core.LedgerEntry) ([]core.LedgerEntry, error) {
	out := make([]core.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsLive() || e.IsBudgetEntry() {
			continue
		}
		if err := e.CheckShares(); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ComputeBalances derives every user's net position per currency from the
// live expense entries. Per currency, the balances of all users sum to zero.
func ComputeBalances(entries []core.LedgerEntry) (core.Balances, error) {
	live, err := expenseEntries(entries)
	if err != nil {
		return nil, err
	}
	balances := make(core.Balances)
	for _, e := range live {
		for user, net := range entryNets(e) {
			balances.Add(user, e.Currency, core.Money{Minor: net})
		}
	}
	return balances.Prune(), nil
}

// ComputeDebts resolves each live entry into directed debts: every debtor's
// shortfall is spread over the entry's creditors in proportion to what they
// are owed. Debts between the same pair and currency are netted.
func ComputeDebts(entries []core.LedgerEntry) ([]core.Debt, error) {
	live, err := expenseEntries(entries)
	if err != nil {
		return nil, err
	}

	type pairKey struct{ from, to, currency string }
	totals := make(map[pairKey]int64)

	for _, e := range live {
		nets := entryNets(e)
		var creditors, debtors []string
		for user, net := range nets {
			switch {
			case net > 0:
				creditors = append(creditors, user)
			case net < 0:
				debtors = append(debtors, user)
			}
		}
		if len(creditors) == 0 {
			continue
		}
		sort.Strings(creditors)
		sort.Strings(debtors)

		weights := make([]decimal.Decimal, len(creditors))
		for i, c := range creditors {
			weights[i] = decimal.NewFromInt(nets[c])
		}
		for _, d := range debtors {
			parts, err := core.Allocate(-nets[d], weights)
			if err != nil {
				return nil, err
			}
			for i, c := range creditors {
				if parts[i] == 0 {
					continue
				}
				// Keep one direction per pair so opposite debts cancel.
				if d < c {
					totals[pairKey{d, c, e.Currency}] += parts[i]
				} else {
					totals[pairKey{c, d, e.Currency}] -= parts[i]
				}
			}
		}
	}

	debts := make([]core.Debt, 0, len(totals))
	for k, v := range totals {
		switch {
		case v > 0:
			debts = append(debts, core.Debt{From: k.from, To: k.to, Currency: k.currency, Amount: core.Money{Minor: v}})
		case v < 0:
			debts = append(debts, core.Debt{From: k.to, To: k.from, Currency: k.currency, Amount: core.Money{Minor: -v}})
		}
	}
	sort.Slice(debts, func(i, j int) bool {
		a, b := debts[i], debts[j]
		if a.Currency != b.Currency {
			return a.Currency < b.Currency
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	return debts, nil
}

// BalancesFor returns the balances seen from viewer: for every other user,
// a positive amount is what they owe the viewer and a negative amount is
// what the viewer owes them.
func BalancesFor(entries []core.LedgerEntry, viewer string) (core.Balances, error) {
	debts, err := ComputeDebts(entries)
	if err != nil {
		return nil, err
	}
	out := make(core.Balances)
	for _, d := range debts {
		switch viewer {
		case d.To:
			out.Add(d.From, d.Currency, d.Amount)
		case d.From:
			out.Add(d.To, d.Currency, d.Amount.Neg())
		}
	}
	return out.Prune(), nil
}
