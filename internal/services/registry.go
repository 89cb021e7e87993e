package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"splitledger/internal/core"
	applog "splitledger/internal/log"
	"splitledger/internal/storage"
	"splitledger/internal/storage/cursor"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 100
	maxUpdateAttempts = 3
)

// ActionRepository is the storage the registry needs. Budgets are read to
// check that budget actions point at a budget of the same group.
type ActionRepository interface {
	storage.ActionStore
	GetBudget(ctx context.Context, id string) (core.Budget, error)
}

// CreateActionInput carries the raw request fields; the registry owns their
// validation.
type CreateActionInput struct {
	GroupID    string
	CreatedBy  string
	ActionType core.ActionType
	ActionData json.RawMessage
	Frequency  string
	StartDate  string
	IsActive   *bool // defaults to true
}

// UpdateActionInput changes only the fields that are set.
type UpdateActionInput struct {
	IsActive          *bool
	Frequency         *string
	StartDate         *string
	ActionData        json.RawMessage
	NextExecutionDate *string
	SkipNext          bool
}

// ActionPage is one page of a group's actions, newest first.
type ActionPage struct {
	Actions    []core.ScheduledAction
	NextCursor string
}

type Registry struct {
	store ActionRepository
	now   func() time.Time
	newID func() string
}

func NewRegistry(store ActionRepository) *Registry {
	return &Registry{store: store, now: time.Now, newID: uuid.NewString}
}

// WithClock replaces the wall clock used to resolve "today".
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func parseFrequency(s string) (core.Frequency, error) {
	f := core.Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", core.InvalidAction("frequency", fmt.Sprintf("must be one of daily, weekly, monthly, got %q", s))
	}
	return f, nil
}

func parseStartDate(s string) (core.Date, error) {
	d, err := core.ParseDate(s)
	if err != nil {
		return core.Date{}, core.InvalidAction("startDate", "must be a YYYY-MM-DD calendar date")
	}
	return d, nil
}

func (r *Registry) checkBudget(ctx context.Context, groupID string, data core.ActionData) error {
	ba, ok := data.(core.BudgetAction)
	if !ok {
		return nil
	}
	b, err := r.store.GetBudget(ctx, ba.BudgetID)
	if errors.Is(err, core.ErrNotFound) {
		return core.InvalidAction("actionData.budgetId", fmt.Sprintf("unknown budget %q", ba.BudgetID))
	}
	if err != nil {
		return err
	}
	if b.GroupID != groupID {
		return core.InvalidAction("actionData.budgetId", "budget belongs to another group")
	}
	return nil
}

// Create validates and stores a new action. The first execution is the
// first occurrence on or after today; earlier occurrences are not
// backfilled.
func (r *Registry) Create(ctx context.Context, in CreateActionInput) (core.ScheduledAction, error) {
	if !in.ActionType.Valid() {
		return core.ScheduledAction{}, core.InvalidAction("actionType", fmt.Sprintf("must be add_expense or add_budget, got %q", in.ActionType))
	}
	freq, err := parseFrequency(in.Frequency)
	if err != nil {
		return core.ScheduledAction{}, err
	}
	start, err := parseStartDate(in.StartDate)
	if err != nil {
		return core.ScheduledAction{}, err
	}
	data, err := core.DecodeActionData(in.ActionType, in.ActionData)
	if err != nil {
		return core.ScheduledAction{}, err
	}

	now := r.now().UTC()
	next, err := FirstOccurrenceFrom(start, freq, core.DateOf(now))
	if err != nil {
		return core.ScheduledAction{}, err
	}

	a := core.ScheduledAction{
		ID:                r.newID(),
		GroupID:           strings.TrimSpace(in.GroupID),
		CreatedBy:         in.CreatedBy,
		Data:              data,
		Frequency:         freq,
		StartDate:         start,
		IsActive:          in.IsActive == nil || *in.IsActive,
		NextExecutionDate: next,
		CreatedAt:         now,
		UpdatedAt:         now,
		Version:           1,
	}
	if err := a.Validate(); err != nil {
		return core.ScheduledAction{}, err
	}
	if err := r.checkBudget(ctx, a.GroupID, data); err != nil {
		return core.ScheduledAction{}, err
	}
	if err := r.store.CreateAction(ctx, a); err != nil {
		return core.ScheduledAction{}, fmt.Errorf("create scheduled action: %w", err)
	}
	return r.store.GetAction(ctx, a.ID)
}

// Get returns the action, including deleted ones.
func (r *Registry) Get(ctx context.Context, id string) (core.ScheduledAction, error) {
	return r.store.GetAction(ctx, id)
}

// List pages through the group's live actions, newest first.
func (r *Registry) List(ctx context.Context, groupID, pageToken string, limit int) (ActionPage, error) {
	limit = clampPageSize(limit)
	q := storage.ActionQuery{GroupID: groupID, Limit: limit + 1}
	if pageToken != "" {
		c, err := cursor.Decode(pageToken)
		if err != nil {
			return ActionPage{}, fmt.Errorf("%w: %v", core.ErrInvalidPageCursor, err)
		}
		if err := cursor.ValidateFilter(c, cursor.DirectionBackward, groupID); err != nil {
			return ActionPage{}, fmt.Errorf("%w: %v", core.ErrInvalidPageCursor, err)
		}
		q.BeforeSeq = c.Seq
	}

	actions, err := r.store.ListActions(ctx, q)
	if err != nil {
		return ActionPage{}, err
	}
	page := ActionPage{Actions: actions}
	if len(actions) > limit {
		page.Actions = actions[:limit]
		token, err := cursor.Encode(cursor.NewNextPageCursor(page.Actions[limit-1].Seq, true, groupID))
		if err != nil {
			return ActionPage{}, err
		}
		page.NextCursor = token
	}
	return page, nil
}

func clampPageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}

// Update applies a partial update with an optimistic version check, retrying
// when a concurrent writer got there first.
func (r *Registry) Update(ctx context.Context, id string, in UpdateActionInput) (core.ScheduledAction, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, err := r.store.GetAction(ctx, id)
		if err != nil {
			return core.ScheduledAction{}, err
		}
		if cur.IsDeleted() {
			return core.ScheduledAction{}, fmt.Errorf("scheduled action %s: %w", id, core.ErrAlreadyDeleted)
		}

		next, err := r.apply(ctx, cur, in)
		if err != nil {
			return core.ScheduledAction{}, err
		}

		err = r.store.UpdateAction(ctx, next, cur.Version)
		if errors.Is(err, core.ErrConcurrentUpdate) {
			slog.DebugContext(ctx, "Scheduled action changed concurrently, retrying update",
				applog.FieldActionID, id,
				"attempt", attempt+1)
			continue
		}
		if err != nil {
			return core.ScheduledAction{}, err
		}
		return r.store.GetAction(ctx, id)
	}
	return core.ScheduledAction{}, fmt.Errorf("update scheduled action %s: %w", id, core.ErrConcurrentUpdate)
}

func (r *Registry) apply(ctx context.Context, cur core.ScheduledAction, in UpdateActionInput) (core.ScheduledAction, error) {
	a := cur
	today := core.DateOf(r.now())
	recompute := false

	if in.Frequency != nil {
		f, err := parseFrequency(*in.Frequency)
		if err != nil {
			return a, err
		}
		recompute = recompute || f != a.Frequency
		a.Frequency = f
	}
	if in.StartDate != nil {
		d, err := parseStartDate(*in.StartDate)
		if err != nil {
			return a, err
		}
		recompute = recompute || !d.Equal(a.StartDate)
		a.StartDate = d
	}
	if len(in.ActionData) > 0 {
		data, err := core.DecodeActionData(a.ActionType(), in.ActionData)
		if err != nil {
			return a, err
		}
		if err := r.checkBudget(ctx, a.GroupID, data); err != nil {
			return a, err
		}
		a.Data = data
	}
	if in.IsActive != nil {
		// Re-activation resumes from today, or after the last executed
		// occurrence; the disabled window is skipped.
		recompute = recompute || (*in.IsActive && !a.IsActive)
		a.IsActive = *in.IsActive
	}

	var earliest core.Date
	if recompute || in.NextExecutionDate != nil {
		var err error
		if earliest, err = r.earliestNext(ctx, a.ID, today); err != nil {
			return a, err
		}
	}
	if recompute {
		next, err := FirstOccurrenceFrom(a.StartDate, a.Frequency, earliest)
		if err != nil {
			return a, err
		}
		a.NextExecutionDate = next
	}
	if in.NextExecutionDate != nil {
		d, err := core.ParseDate(*in.NextExecutionDate)
		if err != nil {
			return a, core.InvalidAction("nextExecutionDate", "must be a YYYY-MM-DD calendar date")
		}
		if d.Before(today) {
			return a, core.InvalidAction("nextExecutionDate", "must not be in the past")
		}
		if d.Before(earliest) {
			return a, core.InvalidAction("nextExecutionDate", "must be after the last executed occurrence")
		}
		ok, err := IsOccurrence(a.StartDate, a.Frequency, d)
		if err != nil {
			return a, err
		}
		if !ok {
			return a, core.InvalidAction("nextExecutionDate", "is not an occurrence of the schedule")
		}
		a.NextExecutionDate = d
	}
	if in.SkipNext {
		next, err := NextOccurrenceAfter(a.StartDate, a.Frequency, a.NextExecutionDate)
		if err != nil {
			return a, err
		}
		a.NextExecutionDate = next
	}

	a.UpdatedAt = r.now().UTC()
	if err := a.Validate(); err != nil {
		return a, err
	}
	return a, nil
}

// earliestNext is the first date a recomputed schedule may land on: today,
// or the day after the last executed occurrence when that is later.
func (r *Registry) earliestNext(ctx context.Context, actionID string, today core.Date) (core.Date, error) {
	last, ok, err := r.store.LastSucceededDueDate(ctx, actionID)
	if err != nil {
		return core.Date{}, err
	}
	if ok && !last.Before(today) {
		return last.AddDays(1), nil
	}
	return today, nil
}

// Delete soft-deletes the action. Its history stays readable.
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.store.DeleteAction(ctx, id, r.now().UTC())
}
