package core

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Allocate splits total minor units across weights using the largest
// remainder method. The parts always sum to total; ties on the remainder go
// to the lower index.
func Allocate(total int64, weights []decimal.Decimal) ([]int64, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("allocate: no weights")
	}
	sum := decimal.Zero
	for _, w := range weights {
		if w.IsNegative() {
			return nil, fmt.Errorf("allocate: negative weight %s", w)
		}
		sum = sum.Add(w)
	}
	if !sum.IsPositive() {
		return nil, fmt.Errorf("allocate: weights sum to zero")
	}

	parts := make([]int64, len(weights))
	rems := make([]decimal.Decimal, len(weights))
	t := decimal.NewFromInt(total)
	var assigned int64
	for i, w := range weights {
		exact := t.Mul(w).Div(sum)
		floor := exact.Floor()
		parts[i] = floor.IntPart()
		rems[i] = exact.Sub(floor)
		assigned += parts[i]
	}

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rems[order[a]].GreaterThan(rems[order[b]])
	})
	for k := int64(0); assigned < total; k++ {
		parts[order[int(k)%len(order)]]++
		assigned++
	}
	return parts, nil
}

// SplitByPercent divides amount between users according to percentages that
// must add up to exactly 100. The result is ordered by user id.
func SplitByPercent(amount Money, pct map[string]decimal.Decimal) ([]UserAmount, error) {
	if len(pct) == 0 {
		return nil, invalidEntry("splitPctShares", "is required")
	}
	users := make([]string, 0, len(pct))
	total := decimal.Zero
	for u, p := range pct {
		if u == "" {
			return nil, invalidEntry("splitPctShares", "empty user id")
		}
		if !p.IsPositive() {
			return nil, invalidEntry("splitPctShares", fmt.Sprintf("share for %s must be positive", u))
		}
		users = append(users, u)
		total = total.Add(p)
	}
	if !total.Equal(hundred) {
		return nil, invalidEntry("splitPctShares", fmt.Sprintf("must add up to 100, got %s", total))
	}
	sort.Strings(users)

	weights := make([]decimal.Decimal, len(users))
	for i, u := range users {
		weights[i] = pct[u]
	}
	parts, err := Allocate(amount.Minor, weights)
	if err != nil {
		return nil, err
	}
	out := make([]UserAmount, len(users))
	for i, u := range users {
		out[i] = UserAmount{UserID: u, Amount: Money{Minor: parts[i]}}
	}
	return out, nil
}

// ExpenseShares builds the participant list of an expense paid in full by
// paidBy and split by percentage.
func ExpenseShares(amount Money, paidBy string, pct map[string]decimal.Decimal) ([]Share, error) {
	if paidBy == "" {
		return nil, invalidEntry("paidByUserId", "is required")
	}
	owed, err := SplitByPercent(amount, pct)
	if err != nil {
		return nil, err
	}
	shares := make([]Share, 0, len(owed)+1)
	payerListed := false
	for _, o := range owed {
		s := Share{UserID: o.UserID, Owed: o.Amount}
		if o.UserID == paidBy {
			s.Paid = amount
			payerListed = true
		}
		shares = append(shares, s)
	}
	if !payerListed {
		shares = append(shares, Share{UserID: paidBy, Paid: amount})
		sort.Slice(shares, func(i, j int) bool { return shares[i].UserID < shares[j].UserID })
	}
	return shares, nil
}

type UserAmount struct {
	UserID string
	Amount Money
}
