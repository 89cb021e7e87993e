package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"splitledger/internal/core"
	"splitledger/internal/events"
	applog "splitledger/internal/log"
	"splitledger/internal/notify"
	"splitledger/internal/storage"
)

// ExecutorConfig bounds one sweep.
type ExecutorConfig struct {
	// Concurrency is the number of actions executed in parallel.
	Concurrency int
	// BatchSize is the maximum number of due actions loaded per sweep.
	BatchSize int
	// MaxCatchUp caps how many missed occurrences of one action a single
	// sweep executes.
	MaxCatchUp int
	// Timeout bounds a single execution step.
	Timeout time.Duration
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Concurrency: 4,
		BatchSize:   100,
		MaxCatchUp:  31,
		Timeout:     10 * time.Second,
	}
}

// EntryObserver is told about every entry the executor commits.
type EntryObserver interface {
	EntryCommitted(ctx context.Context, e core.LedgerEntry)
}

// Outcome of one execution attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped" // claim lost to another executor
	// OutcomeAlreadyExecuted means the occurrence had run before; the
	// action was advanced without writing anything.
	OutcomeAlreadyExecuted Outcome = "already_executed"
)

// SweepResult counts what one sweep did.
type SweepResult struct {
	Due             int
	Succeeded       int
	Failed          int
	Skipped         int
	AlreadyExecuted int
}

// Executor runs due scheduled actions. Every run claims its due date with a
// compare-and-swap on the action's next execution date, so overlapping
// sweeps execute each occurrence at most once.
type Executor struct {
	store     storage.ActionStore
	alerter   notify.Alerter
	observer  EntryObserver
	publisher events.Publisher
	cfg       ExecutorConfig
	newID     func() string
}

func NewExecutor(store storage.ActionStore, alerter notify.Alerter, cfg ExecutorConfig) *Executor {
	def := DefaultExecutorConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxCatchUp <= 0 {
		cfg.MaxCatchUp = def.MaxCatchUp
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if alerter == nil {
		alerter = notify.LogAlerter{}
	}
	return &Executor{
		store:     store,
		alerter:   alerter,
		publisher: events.Nop{},
		cfg:       cfg,
		newID:     uuid.NewString,
	}
}

// WithObserver registers the collaborator told about committed entries.
func (x *Executor) WithObserver(o EntryObserver) *Executor {
	x.observer = o
	return x
}

// WithPublisher announces successful executions on the event bus.
func (x *Executor) WithPublisher(p events.Publisher) *Executor {
	x.publisher = p
	return x
}

// Sweep executes every action due at now. Failures are recorded in history
// and alerted; they do not abort the sweep.
func (x *Executor) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	today := core.DateOf(now)
	due, err := x.store.ListDueActions(ctx, today, x.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list due actions: %w", err)
	}

	var (
		mu  sync.Mutex
		res = SweepResult{Due: len(due)}
	)
	g := new(errgroup.Group)
	g.SetLimit(x.cfg.Concurrency)

	for _, a := range due {
		if ctx.Err() != nil {
			break
		}
		a := a
		g.Go(func() error {
			outcomes := x.catchUp(ctx, a, today, now)
			mu.Lock()
			defer mu.Unlock()
			for _, o := range outcomes {
				switch o {
				case OutcomeSucceeded:
					res.Succeeded++
				case OutcomeFailed:
					res.Failed++
				case OutcomeSkipped:
					res.Skipped++
				case OutcomeAlreadyExecuted:
					res.AlreadyExecuted++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.InfoContext(ctx, "Scheduler sweep complete",
		applog.FieldOperation, applog.OpSweep,
		"date", today.String(),
		"due", res.Due,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"already_executed", res.AlreadyExecuted)

	return res, ctx.Err()
}

// catchUp executes consecutive missed occurrences of a until it is no longer
// due, an attempt fails or loses its claim, or the per-sweep cap is reached.
func (x *Executor) catchUp(ctx context.Context, a core.ScheduledAction, today core.Date, now time.Time) []Outcome {
	var outcomes []Outcome
	for i := 0; i < x.cfg.MaxCatchUp && a.IsDue(today); i++ {
		if ctx.Err() != nil {
			break
		}
		_, outcome, next := x.execute(ctx, a, now)
		outcomes = append(outcomes, outcome)
		if outcome != OutcomeSucceeded && outcome != OutcomeAlreadyExecuted {
			break
		}
		// The claim bumped the version by one.
		a.NextExecutionDate = next
		a.Version++
	}
	return outcomes
}

// RunNow executes the action's pending occurrence immediately, even when it
// lies in the future.
func (x *Executor) RunNow(ctx context.Context, actionID string, now time.Time) (core.HistoryRecord, error) {
	a, err := x.store.GetAction(ctx, actionID)
	if err != nil {
		return core.HistoryRecord{}, err
	}
	if a.IsDeleted() {
		return core.HistoryRecord{}, fmt.Errorf("scheduled action %s: %w", actionID, core.ErrAlreadyDeleted)
	}
	if !a.IsActive {
		return core.HistoryRecord{}, core.InvalidAction("isActive", "action is disabled")
	}

	h, outcome, _ := x.execute(ctx, a, now)
	switch outcome {
	case OutcomeSkipped:
		return core.HistoryRecord{}, fmt.Errorf("scheduled action %s due %s: %w", actionID, a.NextExecutionDate, core.ErrConcurrentClaimLost)
	case OutcomeAlreadyExecuted:
		return core.HistoryRecord{}, fmt.Errorf("scheduled action %s due %s: %w", actionID, a.NextExecutionDate, core.ErrOccurrenceExecuted)
	}
	return h, nil
}

// execute runs one occurrence: materialize, then claim and commit in one
// store transaction. It returns the history row written and the new next
// execution date on success.
func (x *Executor) execute(ctx context.Context, a core.ScheduledAction, now time.Time) (core.HistoryRecord, Outcome, core.Date) {
	started := time.Now()
	due := a.NextExecutionDate

	h := core.HistoryRecord{
		ID:                x.newID(),
		ScheduledActionID: a.ID,
		DueDate:           due,
		ExecutedAt:        now.UTC(),
	}

	entry, err := a.Data.Materialize(a.ID, a.GroupID, a.CreatedBy, due)
	if err != nil {
		rec, outcome := x.fail(ctx, a, h, started, err)
		return rec, outcome, due
	}
	next, err := NextOccurrenceAfter(a.StartDate, a.Frequency, due)
	if err != nil {
		rec, outcome := x.fail(ctx, a, h, started, err)
		return rec, outcome, due
	}

	h.Status = core.StatusSucceeded
	h.LedgerEntryID = entry.ID
	h.DurationMs = time.Since(started).Milliseconds()

	execCtx, cancel := context.WithTimeout(ctx, x.cfg.Timeout)
	err = x.store.CommitExecution(execCtx, storage.Execution{
		ActionID:   a.ID,
		DueDate:    due,
		NextDate:   next,
		ExecutedAt: h.ExecutedAt,
		Entry:      entry,
		History:    h,
	})
	cancel()

	switch {
	case errors.Is(err, core.ErrConcurrentClaimLost):
		slog.DebugContext(ctx, "Scheduled action already claimed",
			applog.FieldActionID, a.ID,
			applog.FieldDueDate, due.String())
		return core.HistoryRecord{}, OutcomeSkipped, due
	case errors.Is(err, core.ErrOccurrenceExecuted):
		return core.HistoryRecord{}, OutcomeAlreadyExecuted, next
	case err != nil:
		h.Status = ""
		h.LedgerEntryID = ""
		rec, outcome := x.fail(ctx, a, h, started, err)
		return rec, outcome, due
	}

	slog.InfoContext(ctx, "Scheduled action executed",
		applog.FieldOperation, applog.OpExecute,
		applog.FieldActionID, a.ID,
		applog.FieldGroupID, a.GroupID,
		"action_type", a.ActionType(),
		applog.FieldDueDate, due.String(),
		"next_execution_date", next.String(),
		applog.FieldEntryID, entry.ID,
		applog.FieldDuration, h.DurationMs)

	if x.observer != nil {
		x.observer.EntryCommitted(ctx, entry)
	}
	if err := x.publisher.Publish(ctx, events.NewExecutionSucceeded(a, due, entry.ID, now)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish execution event", applog.FieldActionID, a.ID, applog.FieldError, err)
	}
	return h, OutcomeSucceeded, next
}

// fail appends a failed history row, leaving the next execution date as it
// was, and raises an alert. The row is written even when ctx is done. The
// write is conditional on the version a was loaded at, so an overlapping
// sweep failing the same occurrence records and alerts it only once.
func (x *Executor) fail(ctx context.Context, a core.ScheduledAction, h core.HistoryRecord, started time.Time, cause error) (core.HistoryRecord, Outcome) {
	err := fmt.Errorf("%w: %v", core.ErrExecutionFailure, cause)
	h.Status = core.StatusFailed
	h.ErrorMessage = err.Error()
	h.DurationMs = time.Since(started).Milliseconds()

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.cfg.Timeout)
	defer cancel()
	rerr := x.store.RecordFailure(recordCtx, h, a.Version)
	switch {
	case errors.Is(rerr, core.ErrConcurrentClaimLost):
		slog.DebugContext(ctx, "Execution failure already handled by another executor",
			applog.FieldActionID, a.ID,
			applog.FieldDueDate, h.DueDate.String())
		return core.HistoryRecord{}, OutcomeSkipped
	case rerr != nil:
		slog.ErrorContext(ctx, "Failed to record execution failure",
			applog.FieldActionID, a.ID,
			applog.FieldDueDate, h.DueDate.String(),
			applog.FieldError, rerr)
	}

	alert := core.ExecutionAlert{
		ActionID:   a.ID,
		GroupID:    a.GroupID,
		ActionType: a.ActionType(),
		DueDate:    h.DueDate,
		ExecutedAt: h.ExecutedAt,
		Err:        h.ErrorMessage,
	}
	if aerr := x.alerter.Alert(recordCtx, alert); aerr != nil {
		slog.ErrorContext(ctx, "Failed to raise execution alert", applog.FieldActionID, a.ID, applog.FieldError, aerr)
	}
	return h, OutcomeFailed
}
