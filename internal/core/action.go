package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ActionData is the payload of a scheduled action. The concrete type is
// selected by ActionType; only the types in this package implement it.
type ActionData interface {
	ActionType() ActionType
	Validate() error
	// Materialize builds the ledger entry produced for one due date.
	Materialize(actionID, groupID, createdBy string, due Date) (LedgerEntry, error)
	isActionData()
}

// ExpenseAction adds a group expense paid by one user and split by percentage.
type ExpenseAction struct {
	Amount      Money
	Currency    string
	Description string
	PaidBy      string
	SplitPct    map[string]decimal.Decimal
}

// BudgetAction adds a credit or debit to a budget.
type BudgetAction struct {
	BudgetID    string
	Amount      Money
	Currency    string
	Description string
	Type        Sign
}

func (ExpenseAction) ActionType() ActionType { return AddExpense }
func (BudgetAction) ActionType() ActionType  { return AddBudget }
func (ExpenseAction) isActionData()          {}
func (BudgetAction) isActionData()           {}

func (a ExpenseAction) Validate() error {
	if err := a.Amount.Validate(); err != nil {
		return invalidAction("actionData.amount", "must be positive")
	}
	if err := validatePayloadText(a.Currency, a.Description); err != nil {
		return err
	}
	if strings.TrimSpace(a.PaidBy) == "" {
		return invalidAction("actionData.paidByUserId", "is required")
	}
	if _, err := SplitByPercent(a.Amount, a.SplitPct); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return invalidAction("actionData."+ve.Field, ve.Reason)
		}
		return invalidAction("actionData.splitPctShares", err.Error())
	}
	return nil
}

func (a BudgetAction) Validate() error {
	if strings.TrimSpace(a.BudgetID) == "" {
		return invalidAction("actionData.budgetId", "is required")
	}
	if err := a.Amount.Validate(); err != nil {
		return invalidAction("actionData.amount", "must be positive")
	}
	if !a.Type.Valid() {
		return invalidAction("actionData.type", fmt.Sprintf("must be Credit or Debit, got %q", a.Type))
	}
	return validatePayloadText(a.Currency, a.Description)
}

func validatePayloadText(currency, description string) error {
	if strings.TrimSpace(currency) == "" {
		return invalidAction("actionData.currency", "is required")
	}
	if strings.TrimSpace(description) == "" {
		return invalidAction("actionData.description", "is required")
	}
	if len(description) > maxDescriptionLen {
		return invalidAction("actionData.description", "too long (max 200 characters)")
	}
	return nil
}

// MaterializedEntryID is the deterministic id of the entry an action
// produces for a due date.
func MaterializedEntryID(t ActionType, actionID string, due Date) string {
	prefix := "tx"
	if t == AddBudget {
		prefix = "bg"
	}
	return fmt.Sprintf("%s_%s_%s", prefix, actionID, due)
}

func (a ExpenseAction) Materialize(actionID, groupID, createdBy string, due Date) (LedgerEntry, error) {
	shares, err := ExpenseShares(a.Amount, a.PaidBy, a.SplitPct)
	if err != nil {
		return LedgerEntry{}, err
	}
	e := LedgerEntry{
		ID:           MaterializedEntryID(AddExpense, actionID, due),
		GroupID:      groupID,
		AddedTime:    due.Time,
		Amount:       a.Amount,
		Sign:         Debit,
		Currency:     a.Currency,
		Description:  a.Description,
		Participants: shares,
		CreatedBy:    createdBy,
	}
	return e, e.Validate()
}

func (a BudgetAction) Materialize(actionID, groupID, createdBy string, due Date) (LedgerEntry, error) {
	e := LedgerEntry{
		ID:          MaterializedEntryID(AddBudget, actionID, due),
		GroupID:     groupID,
		BudgetID:    a.BudgetID,
		AddedTime:   due.Time,
		Amount:      a.Amount,
		Sign:        a.Type,
		Currency:    a.Currency,
		Description: a.Description,
		CreatedBy:   createdBy,
	}
	return e, e.Validate()
}

type expenseActionJSON struct {
	Amount         json.Number            `json:"amount"`
	Description    string                 `json:"description"`
	Currency       string                 `json:"currency"`
	PaidByUserID   string                 `json:"paidByUserId"`
	SplitPctShares map[string]json.Number `json:"splitPctShares"`
}

type budgetActionJSON struct {
	BudgetID    string      `json:"budgetId"`
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
	Currency    string      `json:"currency"`
	Type        string      `json:"type"`
}

// EncodeActionData renders the payload in its JSON wire form.
func EncodeActionData(d ActionData) (json.RawMessage, error) {
	switch a := d.(type) {
	case ExpenseAction:
		pct := make(map[string]json.Number, len(a.SplitPct))
		for u, p := range a.SplitPct {
			pct[u] = json.Number(p.String())
		}
		return json.Marshal(expenseActionJSON{
			Amount:         json.Number(a.Amount.String()),
			Description:    a.Description,
			Currency:       a.Currency,
			PaidByUserID:   a.PaidBy,
			SplitPctShares: pct,
		})
	case BudgetAction:
		return json.Marshal(budgetActionJSON{
			BudgetID:    a.BudgetID,
			Amount:      json.Number(a.Amount.String()),
			Description: a.Description,
			Currency:    a.Currency,
			Type:        string(a.Type),
		})
	default:
		return nil, fmt.Errorf("encode action data: unsupported type %T", d)
	}
}

// DecodeActionData parses a JSON payload for the given action type. Shape
// errors are reported as ErrInvalidActionDefinition.
func DecodeActionData(t ActionType, raw []byte) (ActionData, error) {
	if len(raw) == 0 {
		return nil, invalidAction("actionData", "is required")
	}
	switch t {
	case AddExpense:
		var w expenseActionJSON
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, invalidAction("actionData", err.Error())
		}
		amount, err := parseWireAmount(w.Amount)
		if err != nil {
			return nil, err
		}
		pct := make(map[string]decimal.Decimal, len(w.SplitPctShares))
		for u, p := range w.SplitPctShares {
			d, err := decimal.NewFromString(string(p))
			if err != nil {
				return nil, invalidAction("actionData.splitPctShares", fmt.Sprintf("invalid percentage for %s", u))
			}
			pct[u] = d
		}
		return ExpenseAction{
			Amount:      amount,
			Currency:    strings.TrimSpace(w.Currency),
			Description: strings.TrimSpace(w.Description),
			PaidBy:      strings.TrimSpace(w.PaidByUserID),
			SplitPct:    pct,
		}, nil
	case AddBudget:
		var w budgetActionJSON
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, invalidAction("actionData", err.Error())
		}
		amount, err := parseWireAmount(w.Amount)
		if err != nil {
			return nil, err
		}
		sign, err := ParseSign(w.Type)
		if err != nil {
			return nil, invalidAction("actionData.type", err.Error())
		}
		return BudgetAction{
			BudgetID:    strings.TrimSpace(w.BudgetID),
			Amount:      amount,
			Currency:    strings.TrimSpace(w.Currency),
			Description: strings.TrimSpace(w.Description),
			Type:        sign,
		}, nil
	default:
		return nil, invalidAction("actionType", fmt.Sprintf("must be add_expense or add_budget, got %q", t))
	}
}

func parseWireAmount(n json.Number) (Money, error) {
	if n == "" {
		return Money{}, invalidAction("actionData.amount", "is required")
	}
	m, err := ParseAmount(string(n))
	if err != nil {
		return Money{}, invalidAction("actionData.amount", "must be a positive number")
	}
	return m, nil
}

// ExecutionAlert describes a failed execution for operational alerting.
type ExecutionAlert struct {
	ActionID   string
	GroupID    string
	ActionType ActionType
	DueDate    Date
	ExecutedAt time.Time
	Err        string
}
