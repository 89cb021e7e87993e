package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

const (
	AddExpense ActionType = "add_expense"
	AddBudget  ActionType = "add_budget"
)

const (
	Debit  Sign = "debit"
	Credit Sign = "credit"
)

const (
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusFailed    ExecutionStatus = "failed"
)

const dateLayout = "2006-01-02"

const maxDescriptionLen = 200

type (
	Frequency       string
	ActionType      string
	Sign            string
	ExecutionStatus string

	// Date is a calendar day at midnight UTC.
	Date struct {
		time.Time
	}

	// Share is one participant's position in an expense entry: what they
	// paid towards it and what part of it they consume.
	Share struct {
		UserID string
		Paid   Money
		Owed   Money
	}

	LedgerEntry struct {
		Seq          int64 // assigned by the store on append
		ID           string
		GroupID      string
		BudgetID     string // empty for group expenses
		AddedTime    time.Time
		Deleted      *time.Time
		Amount       Money // magnitude, always positive
		Sign         Sign
		Currency     string
		Description  string
		Participants []Share
		CreatedBy    string
	}

	Budget struct {
		ID        string
		GroupID   string
		Name      string
		CreatedAt time.Time
	}

	ScheduledAction struct {
		Seq               int64
		ID                string
		GroupID           string
		CreatedBy         string
		Data              ActionData
		Frequency         Frequency
		StartDate         Date
		IsActive          bool
		NextExecutionDate Date
		LastExecutedAt    *time.Time
		CreatedAt         time.Time
		UpdatedAt         time.Time
		DeletedAt         *time.Time
		Version           int64
	}

	// HistoryRecord is one immutable row of a scheduled action's execution log.
	HistoryRecord struct {
		Seq               int64
		ID                string
		ScheduledActionID string
		DueDate           Date
		ExecutedAt        time.Time
		Status            ExecutionStatus
		LedgerEntryID     string
		ErrorMessage      string
		DurationMs        int64
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the UTC calendar day containing t.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a strict YYYY-MM-DD calendar date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

func (t ActionType) Valid() bool {
	switch t {
	case AddExpense, AddBudget:
		return true
	}
	return false
}

func (s Sign) Valid() bool {
	return s == Debit || s == Credit
}

func (s ExecutionStatus) Valid() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ParseSign accepts the sign names case-insensitively ("Credit", "debit").
func ParseSign(s string) (Sign, error) {
	sign := Sign(strings.ToLower(strings.TrimSpace(s)))
	if !sign.Valid() {
		return "", fmt.Errorf("invalid sign %q", s)
	}
	return sign, nil
}

// IsLive reports whether the entry still counts towards balances and budgets.
func (e LedgerEntry) IsLive() bool {
	return e.Deleted == nil
}

func (e LedgerEntry) IsBudgetEntry() bool {
	return e.BudgetID != ""
}

// SignedAmount returns the amount with credits positive and debits negative.
func (e LedgerEntry) SignedAmount() Money {
	if e.Sign == Credit {
		return e.Amount
	}
	return e.Amount.Neg()
}

// CheckShares verifies that paid and owed shares each add up to the entry
// total. Budget entries carry no participants.
func (e LedgerEntry) CheckShares() error {
	if e.IsBudgetEntry() {
		if len(e.Participants) > 0 {
			return &InconsistentEntryError{EntryID: e.ID, Currency: e.Currency, Reason: "budget entry has participants"}
		}
		return nil
	}
	if len(e.Participants) == 0 {
		return &InconsistentEntryError{EntryID: e.ID, Currency: e.Currency, Reason: "no participants"}
	}
	var paid, owed int64
	seen := make(map[string]struct{}, len(e.Participants))
	for _, p := range e.Participants {
		if p.Paid.Minor < 0 || p.Owed.Minor < 0 {
			return &InconsistentEntryError{EntryID: e.ID, Currency: e.Currency, Reason: "negative share for " + p.UserID}
		}
		if _, dup := seen[p.UserID]; dup {
			return &InconsistentEntryError{EntryID: e.ID, Currency: e.Currency, Reason: "duplicate participant " + p.UserID}
		}
		seen[p.UserID] = struct{}{}
		paid += p.Paid.Minor
		owed += p.Owed.Minor
	}
	if paid != e.Amount.Minor || owed != e.Amount.Minor {
		return &InconsistentEntryError{
			EntryID:  e.ID,
			Currency: e.Currency,
			Total:    e.Amount,
			Paid:     Money{Minor: paid},
			Owed:     Money{Minor: owed},
		}
	}
	return nil
}

// Validate checks an entry before it is written.
func (e LedgerEntry) Validate() error {
	if strings.TrimSpace(e.GroupID) == "" {
		return invalidEntry("groupId", "is required")
	}
	if err := e.Amount.Validate(); err != nil {
		return invalidEntry("amount", "must be positive")
	}
	if !e.Sign.Valid() {
		return invalidEntry("sign", fmt.Sprintf("unknown sign %q", e.Sign))
	}
	if strings.TrimSpace(e.Currency) == "" {
		return invalidEntry("currency", "is required")
	}
	if len(strings.TrimSpace(e.Description)) == 0 {
		return invalidEntry("description", ErrEmptyDescription.Error())
	}
	if len(e.Description) > maxDescriptionLen {
		return invalidEntry("description", "too long (max 200 characters)")
	}
	return e.CheckShares()
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.GroupID) == "" {
		return invalidEntry("groupId", "is required")
	}
	if len(b.Name) > maxDescriptionLen {
		return invalidEntry("name", "too long (max 200 characters)")
	}
	return nil
}

// ActionType returns the kind of the action's payload.
func (a ScheduledAction) ActionType() ActionType {
	if a.Data == nil {
		return ""
	}
	return a.Data.ActionType()
}

func (a ScheduledAction) IsDeleted() bool {
	return a.DeletedAt != nil
}

// IsDue reports whether the action should execute at the given day.
func (a ScheduledAction) IsDue(today Date) bool {
	return a.IsActive && !a.IsDeleted() && !a.NextExecutionDate.After(today)
}

// Validate checks the definition fields that callers may set.
func (a ScheduledAction) Validate() error {
	if strings.TrimSpace(a.GroupID) == "" {
		return invalidAction("groupId", "is required")
	}
	if !a.Frequency.Valid() {
		return invalidAction("frequency", fmt.Sprintf("must be one of daily, weekly, monthly, got %q", a.Frequency))
	}
	if a.StartDate.IsZero() {
		return invalidAction("startDate", "is required")
	}
	if a.Data == nil {
		return invalidAction("actionData", "is required")
	}
	if err := a.Data.Validate(); err != nil {
		return err
	}
	return nil
}

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
)

func (m Money) Validate() error {
	if m.Minor <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
