package http

import (
	"encoding/json"
	"sort"
	"time"

	"splitledger/internal/core"
	"splitledger/internal/services"
)

// Request bodies.
type (
	shareRequest struct {
		UserID string      `json:"userId"`
		Paid   json.Number `json:"paid"`
		Owed   json.Number `json:"owed"`
	}

	expenseRequest struct {
		Amount         json.Number            `json:"amount"`
		Currency       string                 `json:"currency"`
		Description    string                 `json:"description"`
		Sign           string                 `json:"sign"`
		AddedTime      string                 `json:"addedTime"`
		PaidByUserID   string                 `json:"paidByUserId"`
		SplitPctShares map[string]json.Number `json:"splitPctShares"`
		Shares         []shareRequest         `json:"shares"`
		CreatedBy      string                 `json:"createdBy"`
	}

	budgetEntryRequest struct {
		Amount      json.Number `json:"amount"`
		Currency    string      `json:"currency"`
		Description string      `json:"description"`
		Type        string      `json:"type"`
		AddedTime   string      `json:"addedTime"`
		CreatedBy   string      `json:"createdBy"`
	}

	budgetRequest struct {
		Name string `json:"name"`
	}

	createActionRequest struct {
		ActionType string          `json:"actionType"`
		ActionData json.RawMessage `json:"actionData"`
		Frequency  string          `json:"frequency"`
		StartDate  string          `json:"startDate"`
		IsActive   *bool           `json:"isActive"`
		CreatedBy  string          `json:"createdBy"`
	}

	updateActionRequest struct {
		IsActive          *bool           `json:"isActive"`
		Frequency         *string         `json:"frequency"`
		StartDate         *string         `json:"startDate"`
		ActionData        json.RawMessage `json:"actionData"`
		NextExecutionDate *string         `json:"nextExecutionDate"`
		SkipNext          bool            `json:"skipNext"`
	}
)

// Response bodies.
type (
	shareView struct {
		UserID string      `json:"userId"`
		Paid   json.Number `json:"paid"`
		Owed   json.Number `json:"owed"`
	}

	entryView struct {
		ID           string      `json:"id"`
		GroupID      string      `json:"groupId"`
		BudgetID     string      `json:"budgetId,omitempty"`
		AddedTime    time.Time   `json:"addedTime"`
		Deleted      *time.Time  `json:"deleted,omitempty"`
		Amount       json.Number `json:"amount"`
		Sign         core.Sign   `json:"sign"`
		Currency     string      `json:"currency"`
		Description  string      `json:"description"`
		Participants []shareView `json:"participants"`
		CreatedBy    string      `json:"createdBy,omitempty"`
	}

	budgetView struct {
		ID        string    `json:"id"`
		GroupID   string    `json:"groupId"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"createdAt"`
	}

	debtView struct {
		From     string      `json:"from"`
		To       string      `json:"to"`
		Currency string      `json:"currency"`
		Amount   json.Number `json:"amount"`
	}

	monthlyTotalView struct {
		Month       string      `json:"month"`
		TotalAmount json.Number `json:"totalAmount"`
	}

	currencyAmountView struct {
		Currency string      `json:"currency"`
		Amount   json.Number `json:"amount"`
	}

	monthAmountsView struct {
		Month   string               `json:"month"`
		Amounts []currencyAmountView `json:"amounts"`
	}

	periodView struct {
		From string `json:"from"`
		To   string `json:"to"`
	}

	monthlyReportView struct {
		Months              []monthAmountsView   `json:"months"`
		AvailableCurrencies []string             `json:"availableCurrencies"`
		DefaultCurrency     string               `json:"defaultCurrency"`
		AverageMonthlySpend []currencyAmountView `json:"averageMonthlySpend"`
		PeriodAnalyzed      periodView           `json:"periodAnalyzed"`
	}

	actionView struct {
		ID                string          `json:"id"`
		GroupID           string          `json:"groupId"`
		CreatedBy         string          `json:"createdBy"`
		ActionType        core.ActionType `json:"actionType"`
		ActionData        json.RawMessage `json:"actionData"`
		Frequency         core.Frequency  `json:"frequency"`
		StartDate         string          `json:"startDate"`
		IsActive          bool            `json:"isActive"`
		NextExecutionDate string          `json:"nextExecutionDate"`
		LastExecutedAt    *time.Time      `json:"lastExecutedAt,omitempty"`
		CreatedAt         time.Time       `json:"createdAt"`
		UpdatedAt         time.Time       `json:"updatedAt"`
		DeletedAt         *time.Time      `json:"deletedAt,omitempty"`
		Version           int64           `json:"version"`
	}

	entryPageView struct {
		Entries    []entryView `json:"entries"`
		NextCursor string      `json:"nextCursor,omitempty"`
	}

	actionPageView struct {
		Actions    []actionView `json:"actions"`
		NextCursor string       `json:"nextCursor,omitempty"`
	}

	historyView struct {
		ID                  string               `json:"id"`
		ScheduledActionID   string               `json:"scheduledActionId"`
		DueDate             string               `json:"dueDate"`
		ExecutedAt          time.Time            `json:"executedAt"`
		Status              core.ExecutionStatus `json:"status"`
		ResultEntryID       string               `json:"resultEntryId,omitempty"`
		ErrorMessage        string               `json:"errorMessage,omitempty"`
		ExecutionDurationMs int64                `json:"executionDurationMs"`
	}

	historyPageView struct {
		Records    []historyView `json:"records"`
		NextCursor string        `json:"nextCursor,omitempty"`
	}
)

// amount renders minor units as a JSON number with two decimals.
func amount(m core.Money) json.Number {
	return json.Number(m.String())
}

func toEntryView(e core.LedgerEntry) entryView {
	v := entryView{
		ID:           e.ID,
		GroupID:      e.GroupID,
		BudgetID:     e.BudgetID,
		AddedTime:    e.AddedTime,
		Deleted:      e.Deleted,
		Amount:       amount(e.Amount),
		Sign:         e.Sign,
		Currency:     e.Currency,
		Description:  e.Description,
		Participants: make([]shareView, 0, len(e.Participants)),
		CreatedBy:    e.CreatedBy,
	}
	for _, p := range e.Participants {
		v.Participants = append(v.Participants, shareView{UserID: p.UserID, Paid: amount(p.Paid), Owed: amount(p.Owed)})
	}
	return v
}

func toBudgetView(b core.Budget) budgetView {
	return budgetView{ID: b.ID, GroupID: b.GroupID, Name: b.Name, CreatedAt: b.CreatedAt}
}

// toBalancesView renders user -> currency -> signed amount.
func toBalancesView(b core.Balances) map[string]map[string]json.Number {
	out := make(map[string]map[string]json.Number, len(b))
	for user, byCurrency := range b {
		row := make(map[string]json.Number, len(byCurrency))
		for cur, m := range byCurrency {
			row[cur] = amount(m)
		}
		out[user] = row
	}
	return out
}

func toDebtViews(debts []core.Debt) []debtView {
	out := make([]debtView, 0, len(debts))
	for _, d := range debts {
		out = append(out, debtView{From: d.From, To: d.To, Currency: d.Currency, Amount: amount(d.Amount)})
	}
	return out
}

func toMonthlyTotalViews(series []core.MonthlyTotal) []monthlyTotalView {
	out := make([]monthlyTotalView, 0, len(series))
	for _, m := range series {
		out = append(out, monthlyTotalView{Month: m.Month.String(), TotalAmount: amount(m.Total)})
	}
	return out
}

func toCurrencyAmountViews(in []core.CurrencyAmount) []currencyAmountView {
	out := make([]currencyAmountView, 0, len(in))
	for _, c := range in {
		out = append(out, currencyAmountView{Currency: c.Currency, Amount: amount(c.Amount)})
	}
	return out
}

func toMonthlyReportView(r core.MonthlyReport) monthlyReportView {
	v := monthlyReportView{
		Months:              make([]monthAmountsView, 0, len(r.Months)),
		AvailableCurrencies: append([]string{}, r.AvailableCurrencies...),
		DefaultCurrency:     r.DefaultCurrency,
		AverageMonthlySpend: toCurrencyAmountViews(r.AverageMonthlySpend),
		PeriodAnalyzed:      periodView{From: r.From.String(), To: r.To.String()},
	}
	sort.Strings(v.AvailableCurrencies)
	for _, m := range r.Months {
		v.Months = append(v.Months, monthAmountsView{Month: m.Month.String(), Amounts: toCurrencyAmountViews(m.Amounts)})
	}
	return v
}

func toActionView(a core.ScheduledAction) (actionView, error) {
	data, err := core.EncodeActionData(a.Data)
	if err != nil {
		return actionView{}, err
	}
	return actionView{
		ID:                a.ID,
		GroupID:           a.GroupID,
		CreatedBy:         a.CreatedBy,
		ActionType:        a.ActionType(),
		ActionData:        data,
		Frequency:         a.Frequency,
		StartDate:         a.StartDate.String(),
		IsActive:          a.IsActive,
		NextExecutionDate: a.NextExecutionDate.String(),
		LastExecutedAt:    a.LastExecutedAt,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
		DeletedAt:         a.DeletedAt,
		Version:           a.Version,
	}, nil
}

func toEntryPageView(p services.EntryPage) entryPageView {
	v := entryPageView{Entries: make([]entryView, 0, len(p.Entries)), NextCursor: p.NextCursor}
	for _, e := range p.Entries {
		v.Entries = append(v.Entries, toEntryView(e))
	}
	return v
}

func toActionPageView(p services.ActionPage) (actionPageView, error) {
	v := actionPageView{Actions: make([]actionView, 0, len(p.Actions)), NextCursor: p.NextCursor}
	for _, a := range p.Actions {
		av, err := toActionView(a)
		if err != nil {
			return actionPageView{}, err
		}
		v.Actions = append(v.Actions, av)
	}
	return v, nil
}

func toHistoryView(h core.HistoryRecord) historyView {
	return historyView{
		ID:                  h.ID,
		ScheduledActionID:   h.ScheduledActionID,
		DueDate:             h.DueDate.String(),
		ExecutedAt:          h.ExecutedAt,
		Status:              h.Status,
		ResultEntryID:       h.LedgerEntryID,
		ErrorMessage:        h.ErrorMessage,
		ExecutionDurationMs: h.DurationMs,
	}
}

func toHistoryPageView(p services.HistoryPage) historyPageView {
	v := historyPageView{Records: make([]historyView, 0, len(p.Records)), NextCursor: p.NextCursor}
	for _, h := range p.Records {
		v.Records = append(v.Records, toHistoryView(h))
	}
	return v
}
