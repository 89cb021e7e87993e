package sheets

import (
	"context"
	"strings"
	"time"

	"splitledger/internal/events"
)

// AuditRow is one line of the ledger audit mirror.
type AuditRow struct {
	EventID     string
	Kind        events.Kind
	OccurredAt  time.Time
	GroupID     string
	EntryID     string
	BudgetID    string
	Sign        string
	Amount      string
	Currency    string
	Description string
	ActionID    string
	DueDate     string
	Error       string
}

// Ports for outbound adapters.
type (
	AuditWriter interface {
		// AppendAudit appends the row unless a row with the same event id
		// was already written. It returns a reference to the stored row.
		AppendAudit(ctx context.Context, r AuditRow) (rowRef string, err error)
	}
)

// RowFromEvent flattens a ledger or scheduler event into an audit row.
func RowFromEvent(e events.Event) AuditRow {
	r := AuditRow{
		EventID:    e.ID,
		Kind:       e.Kind,
		OccurredAt: e.OccurredAt.UTC(),
		GroupID:    e.GroupID,
	}
	if p := e.Entry; p != nil {
		r.EntryID = p.ID
		r.BudgetID = p.BudgetID
		r.Sign = p.Sign
		r.Amount = p.Amount
		r.Currency = p.Currency
		r.Description = p.Description
	}
	if x := e.Execution; x != nil {
		r.ActionID = x.ActionID
		r.DueDate = x.DueDate
		r.Error = x.Error
		if r.EntryID == "" {
			r.EntryID = x.LedgerEntryID
		}
	}
	return r
}

// Values renders the row in sheet column order.
func (r AuditRow) Values() []any {
	return []any{
		r.EventID,
		string(r.Kind),
		r.OccurredAt.Format(time.RFC3339),
		r.GroupID,
		r.EntryID,
		r.BudgetID,
		r.Sign,
		r.Amount,
		r.Currency,
		strings.TrimSpace(r.Description),
		r.ActionID,
		r.DueDate,
		r.Error,
	}
}

// Header is the first row of every audit sheet.
var Header = []any{
	"Event", "Kind", "Occurred at", "Group", "Entry", "Budget", "Sign",
	"Amount", "Currency", "Description", "Action", "Due date", "Error",
}
