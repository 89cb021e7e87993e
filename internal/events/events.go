// Package events defines the messages the ledger emits after a write has
// been committed, and the port used to publish them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"splitledger/internal/core"
)

type Kind string

const (
	EntryCreated       Kind = "ledger.entry.created"
	EntryDeleted       Kind = "ledger.entry.deleted"
	ExecutionSucceeded Kind = "scheduler.execution.succeeded"
	ExecutionFailed    Kind = "scheduler.execution.failed"
)

// Publisher delivers events to a broker. Publishing happens after the write
// it describes has committed; a failed publish never undoes that write.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Event is the wire message. Exactly one of Entry or Execution is set.
type Event struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	GroupID    string          `json:"groupId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Entry      *EntryPayload   `json:"entry,omitempty"`
	Execution  *ExecutionEvent `json:"execution,omitempty"`
}

type EntryPayload struct {
	ID           string         `json:"id"`
	BudgetID     string         `json:"budgetId,omitempty"`
	AddedTime    time.Time      `json:"addedTime"`
	Amount       string         `json:"amount"`
	Sign         string         `json:"sign"`
	Currency     string         `json:"currency"`
	Description  string         `json:"description"`
	Participants []SharePayload `json:"participants,omitempty"`
	CreatedBy    string         `json:"createdBy,omitempty"`
}

type SharePayload struct {
	UserID string `json:"userId"`
	Paid   string `json:"paid"`
	Owed   string `json:"owed"`
}

type ExecutionEvent struct {
	ActionID      string `json:"actionId"`
	ActionType    string `json:"actionType"`
	DueDate       string `json:"dueDate"`
	LedgerEntryID string `json:"ledgerEntryId,omitempty"`
	Error         string `json:"error,omitempty"`
}

func newEvent(kind Kind, groupID string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		GroupID:    groupID,
		OccurredAt: at.UTC(),
	}
}

func entryPayload(e core.LedgerEntry) *EntryPayload {
	p := &EntryPayload{
		ID:          e.ID,
		BudgetID:    e.BudgetID,
		AddedTime:   e.AddedTime.UTC(),
		Amount:      e.Amount.String(),
		Sign:        string(e.Sign),
		Currency:    e.Currency,
		Description: e.Description,
		CreatedBy:   e.CreatedBy,
	}
	for _, s := range e.Participants {
		p.Participants = append(p.Participants, SharePayload{
			UserID: s.UserID,
			Paid:   s.Paid.String(),
			Owed:   s.Owed.String(),
		})
	}
	return p
}

func NewEntryCreated(e core.LedgerEntry, at time.Time) Event {
	ev := newEvent(EntryCreated, e.GroupID, at)
	ev.Entry = entryPayload(e)
	return ev
}

func NewEntryDeleted(e core.LedgerEntry, at time.Time) Event {
	ev := newEvent(EntryDeleted, e.GroupID, at)
	ev.Entry = entryPayload(e)
	return ev
}

func NewExecutionSucceeded(a core.ScheduledAction, due core.Date, entryID string, at time.Time) Event {
	ev := newEvent(ExecutionSucceeded, a.GroupID, at)
	ev.Execution = &ExecutionEvent{
		ActionID:      a.ID,
		ActionType:    string(a.ActionType()),
		DueDate:       due.String(),
		LedgerEntryID: entryID,
	}
	return ev
}

func NewExecutionFailed(alert core.ExecutionAlert) Event {
	ev := newEvent(ExecutionFailed, alert.GroupID, alert.ExecutedAt)
	ev.Execution = &ExecutionEvent{
		ActionID:   alert.ActionID,
		ActionType: string(alert.ActionType),
		DueDate:    alert.DueDate.String(),
		Error:      alert.Err,
	}
	return ev
}

// Key is the partition key: events of one group stay ordered.
func (e Event) Key() string {
	return e.GroupID
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func FromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Kind == "" {
		return nil, fmt.Errorf("event without kind")
	}
	return &e, nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish %s: %v", e.Kind, errs)
	}
	return nil
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close publishers: %v", errs)
	}
	return nil
}
