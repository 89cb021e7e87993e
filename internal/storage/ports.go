package storage

import (
	"context"
	"time"

	"splitledger/internal/core"
)

// Ports implemented by every storage backend. All writes are single atomic
// conditional statements or transactions; none of them read-then-write.
type (
	LedgerStore interface {
		// Append writes the entry and returns its id.
		Append(ctx context.Context, e core.LedgerEntry) (string, error)
		// SoftDelete tombstones a live entry. It returns core.ErrNotFound for
		// unknown ids and core.ErrAlreadyDeleted for tombstoned ones.
		SoftDelete(ctx context.Context, id string, deletedAt time.Time) (core.LedgerEntry, error)
		GetEntry(ctx context.Context, id string) (core.LedgerEntry, error)
		// QueryLive returns the group's entries that are not deleted.
		QueryLive(ctx context.Context, groupID string) ([]core.LedgerEntry, error)
		// QueryLiveBudget returns the budget's entries that are not deleted.
		QueryLiveBudget(ctx context.Context, budgetID string) ([]core.LedgerEntry, error)
		// ListEntries pages through a group's live expense entries or a
		// budget's live entries, newest first.
		ListEntries(ctx context.Context, q EntryQuery) ([]core.LedgerEntry, error)
	}

	BudgetStore interface {
		CreateBudget(ctx context.Context, b core.Budget) error
		GetBudget(ctx context.Context, id string) (core.Budget, error)
		ListBudgets(ctx context.Context, groupID string) ([]core.Budget, error)
	}

	ActionStore interface {
		CreateAction(ctx context.Context, a core.ScheduledAction) error
		// GetAction returns the action including deleted ones.
		GetAction(ctx context.Context, id string) (core.ScheduledAction, error)
		// ListActions returns non-deleted actions of a group, newest first.
		ListActions(ctx context.Context, q ActionQuery) ([]core.ScheduledAction, error)
		// UpdateAction overwrites the mutable fields when the stored version
		// still equals expectedVersion, and bumps the version.
		UpdateAction(ctx context.Context, a core.ScheduledAction, expectedVersion int64) error
		// DeleteAction marks the action deleted and inactive.
		DeleteAction(ctx context.Context, id string, deletedAt time.Time) error
		// ListDueActions returns active actions whose next execution date is
		// on or before today, oldest due first.
		ListDueActions(ctx context.Context, today core.Date, limit int) ([]core.ScheduledAction, error)
		// CommitExecution claims the due date and records its outcome in one
		// transaction. It returns core.ErrConcurrentClaimLost when the action's
		// next execution date no longer equals x.DueDate. When the occurrence
		// already has a ledger entry or a succeeded history row, the claim is
		// kept, nothing else is written and core.ErrOccurrenceExecuted is
		// returned.
		CommitExecution(ctx context.Context, x Execution) error
		// RecordFailure appends a history row and bumps the action version,
		// provided the version still equals expectedVersion. Otherwise it
		// returns core.ErrConcurrentClaimLost and writes nothing.
		RecordFailure(ctx context.Context, h core.HistoryRecord, expectedVersion int64) error
		// LastSucceededDueDate returns the latest due date with a succeeded
		// execution. ok is false when the action never succeeded.
		LastSucceededDueDate(ctx context.Context, actionID string) (d core.Date, ok bool, err error)
	}

	HistoryStore interface {
		ListHistory(ctx context.Context, q HistoryQuery) ([]core.HistoryRecord, error)
	}

	// Store bundles every port of one backend.
	Store interface {
		LedgerStore
		BudgetStore
		ActionStore
		HistoryStore
		Close() error
	}
)

// Execution is the outcome of one successful run of a scheduled action.
type Execution struct {
	ActionID   string
	DueDate    core.Date // expected current next_execution_date
	NextDate   core.Date
	ExecutedAt time.Time
	Entry      core.LedgerEntry
	History    core.HistoryRecord
}

// EntryQuery pages through live entries by descending sequence. Exactly one
// of GroupID and BudgetID is set; a group query leaves out budget entries.
type EntryQuery struct {
	GroupID   string
	BudgetID  string
	BeforeSeq int64 // 0 starts from the newest
	Limit     int
}

// ActionQuery pages through a group's actions by descending sequence.
type ActionQuery struct {
	GroupID   string
	BeforeSeq int64 // 0 starts from the newest
	Limit     int
}

// HistoryQuery pages through an action's history by ascending sequence.
type HistoryQuery struct {
	ActionID string
	AfterSeq int64
	Status   core.ExecutionStatus // empty for all
	Limit    int
}
