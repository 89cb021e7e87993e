package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"splitledger/internal/core"
	applog "splitledger/internal/log"
)

var _ Store = (*SQLiteRepository)(nil)

func (r *SQLiteRepository) CreateAction(ctx context.Context, a core.ScheduledAction) error {
	data, err := core.EncodeActionData(a.Data)
	if err != nil {
		return err
	}
	err = r.queries.CreateScheduledAction(ctx, ScheduledActionRow{
		ID:                a.ID,
		GroupID:           a.GroupID,
		CreatedBy:         a.CreatedBy,
		ActionType:        string(a.ActionType()),
		ActionData:        string(data),
		Frequency:         string(a.Frequency),
		StartDate:         a.StartDate.String(),
		IsActive:          a.IsActive,
		NextExecutionDate: a.NextExecutionDate.String(),
		CreatedAt:         formatTime(a.CreatedAt),
		UpdatedAt:         formatTime(a.UpdatedAt),
	})
	if isConstraintViolation(err) {
		return fmt.Errorf("create scheduled action %s: %w", a.ID, core.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create scheduled action: %w", err)
	}

	slog.InfoContext(ctx, "Scheduled action saved to SQLite",
		applog.FieldActionID, a.ID,
		applog.FieldGroupID, a.GroupID,
		"action_type", a.ActionType(),
		"frequency", a.Frequency,
		"next_execution_date", a.NextExecutionDate.String())
	return nil
}

func (r *SQLiteRepository) GetAction(ctx context.Context, id string) (core.ScheduledAction, error) {
	row, err := r.queries.GetScheduledAction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ScheduledAction{}, fmt.Errorf("scheduled action %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.ScheduledAction{}, fmt.Errorf("get scheduled action: %w", err)
	}
	return toScheduledAction(row)
}

func (r *SQLiteRepository) ListActions(ctx context.Context, q ActionQuery) ([]core.ScheduledAction, error) {
	rows, err := r.queries.ListScheduledActionsByGroup(ctx, ListScheduledActionsParams{
		GroupID:   q.GroupID,
		BeforeSeq: q.BeforeSeq,
		Limit:     sqlLimit(q.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list scheduled actions: %w", err)
	}
	return toScheduledActions(rows)
}

func (r *SQLiteRepository) UpdateAction(ctx context.Context, a core.ScheduledAction, expectedVersion int64) error {
	data, err := core.EncodeActionData(a.Data)
	if err != nil {
		return err
	}
	n, err := r.queries.UpdateScheduledAction(ctx, UpdateScheduledActionParams{
		ActionData:        string(data),
		Frequency:         string(a.Frequency),
		StartDate:         a.StartDate.String(),
		IsActive:          a.IsActive,
		NextExecutionDate: a.NextExecutionDate.String(),
		UpdatedAt:         formatTime(a.UpdatedAt),
		ID:                a.ID,
		ExpectedVersion:   expectedVersion,
	})
	if err != nil {
		return fmt.Errorf("update scheduled action: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("scheduled action %s at version %d: %w", a.ID, expectedVersion, core.ErrConcurrentUpdate)
	}
	return nil
}

func (r *SQLiteRepository) DeleteAction(ctx context.Context, id string, deletedAt time.Time) error {
	n, err := r.queries.SoftDeleteScheduledAction(ctx, formatTime(deletedAt), id)
	if err != nil {
		return fmt.Errorf("delete scheduled action: %w", err)
	}
	if n == 0 {
		if _, err := r.GetAction(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("scheduled action %s: %w", id, core.ErrAlreadyDeleted)
	}
	slog.InfoContext(ctx, "Scheduled action deleted", applog.FieldActionID, id)
	return nil
}

func (r *SQLiteRepository) ListDueActions(ctx context.Context, today core.Date, limit int) ([]core.ScheduledAction, error) {
	rows, err := r.queries.ListDueScheduledActions(ctx, today.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due scheduled actions: %w", err)
	}
	return toScheduledActions(rows)
}

// CommitExecution claims x.DueDate, writes the entry and appends the
// succeeded history row. Nothing is written when the claim is lost. An
// occurrence that already ran keeps the claim so the action moves on.
func (r *SQLiteRepository) CommitExecution(ctx context.Context, x Execution) error {
	executed := false
	err := r.inTx(ctx, func(q *Queries) error {
		n, err := q.ClaimScheduledAction(ctx, ClaimScheduledActionParams{
			NextExecutionDate: x.NextDate.String(),
			LastExecutedAt:    formatTime(x.ExecutedAt),
			ID:                x.ActionID,
			ExpectedDate:      x.DueDate.String(),
		})
		if err != nil {
			return fmt.Errorf("claim scheduled action: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("scheduled action %s due %s: %w", x.ActionID, x.DueDate, core.ErrConcurrentClaimLost)
		}

		executed, err = occurrenceExecuted(ctx, q, x)
		if err != nil || executed {
			return err
		}
		if err := insertEntry(ctx, q, x.Entry); err != nil {
			return err
		}
		return insertHistory(ctx, q, x.History)
	})
	if err != nil {
		return err
	}
	if executed {
		slog.WarnContext(ctx, "Scheduled occurrence already executed, advancing",
			applog.FieldActionID, x.ActionID,
			applog.FieldDueDate, x.DueDate.String(),
			"next_execution_date", x.NextDate.String(),
			applog.FieldEntryID, x.Entry.ID)
		return fmt.Errorf("scheduled action %s due %s: %w", x.ActionID, x.DueDate, core.ErrOccurrenceExecuted)
	}

	slog.InfoContext(ctx, "Scheduled action execution committed",
		applog.FieldActionID, x.ActionID,
		applog.FieldDueDate, x.DueDate.String(),
		"next_execution_date", x.NextDate.String(),
		applog.FieldEntryID, x.Entry.ID)
	return nil
}

// occurrenceExecuted reports whether the occurrence already left a trace: its
// deterministic entry, even deleted, or a succeeded history row.
func occurrenceExecuted(ctx context.Context, q *Queries, x Execution) (bool, error) {
	exists, err := q.LedgerEntryExists(ctx, x.Entry.ID)
	if err != nil {
		return false, fmt.Errorf("check ledger entry: %w", err)
	}
	if exists {
		return true, nil
	}
	done, err := q.SucceededExecutionExists(ctx, x.ActionID, x.DueDate.String())
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return done, nil
}

func (r *SQLiteRepository) RecordFailure(ctx context.Context, h core.HistoryRecord, expectedVersion int64) error {
	err := r.inTx(ctx, func(q *Queries) error {
		n, err := q.BumpScheduledActionVersion(ctx, h.ScheduledActionID, expectedVersion)
		if err != nil {
			return fmt.Errorf("bump scheduled action version: %w", err)
		}
		if n == 0 {
			if _, err := q.GetScheduledAction(ctx, h.ScheduledActionID); errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("scheduled action %s: %w", h.ScheduledActionID, core.ErrNotFound)
			}
			return fmt.Errorf("scheduled action %s at version %d: %w", h.ScheduledActionID, expectedVersion, core.ErrConcurrentClaimLost)
		}
		return insertHistory(ctx, q, h)
	})
	if err != nil {
		return err
	}
	slog.WarnContext(ctx, "Scheduled action failure recorded",
		applog.FieldActionID, h.ScheduledActionID,
		applog.FieldDueDate, h.DueDate.String(),
		applog.FieldError, h.ErrorMessage)
	return nil
}

func (r *SQLiteRepository) LastSucceededDueDate(ctx context.Context, actionID string) (core.Date, bool, error) {
	s, err := r.queries.LastSucceededDueDate(ctx, actionID)
	if err != nil {
		return core.Date{}, false, fmt.Errorf("last succeeded due date: %w", err)
	}
	if !s.Valid {
		return core.Date{}, false, nil
	}
	d, err := core.ParseDate(s.String)
	if err != nil {
		return core.Date{}, false, fmt.Errorf("scheduled action %s history: %w", actionID, err)
	}
	return d, true, nil
}

func insertHistory(ctx context.Context, q *Queries, h core.HistoryRecord) error {
	err := q.CreateHistory(ctx, HistoryRow{
		ID:                h.ID,
		ScheduledActionID: h.ScheduledActionID,
		DueDate:           h.DueDate.String(),
		ExecutedAt:        formatTime(h.ExecutedAt),
		Status:            string(h.Status),
		LedgerEntryID:     nullString(h.LedgerEntryID),
		ErrorMessage:      h.ErrorMessage,
		DurationMs:        h.DurationMs,
	})
	if err != nil {
		return fmt.Errorf("create history record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListHistory(ctx context.Context, q HistoryQuery) ([]core.HistoryRecord, error) {
	rows, err := r.queries.ListHistory(ctx, ListHistoryParams{
		ScheduledActionID: q.ActionID,
		AfterSeq:          q.AfterSeq,
		Status:            string(q.Status),
		Limit:             sqlLimit(q.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	records := make([]core.HistoryRecord, 0, len(rows))
	for _, row := range rows {
		h, err := toHistoryRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, h)
	}
	return records, nil
}

func toScheduledActions(rows []ScheduledActionRow) ([]core.ScheduledAction, error) {
	out := make([]core.ScheduledAction, 0, len(rows))
	for _, row := range rows {
		a, err := toScheduledAction(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func toScheduledAction(row ScheduledActionRow) (core.ScheduledAction, error) {
	data, err := core.DecodeActionData(core.ActionType(row.ActionType), []byte(row.ActionData))
	if err != nil {
		return core.ScheduledAction{}, fmt.Errorf("scheduled action %s data: %w", row.ID, err)
	}
	start, err := core.ParseDate(row.StartDate)
	if err != nil {
		return core.ScheduledAction{}, fmt.Errorf("scheduled action %s: %w", row.ID, err)
	}
	next, err := core.ParseDate(row.NextExecutionDate)
	if err != nil {
		return core.ScheduledAction{}, fmt.Errorf("scheduled action %s: %w", row.ID, err)
	}
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return core.ScheduledAction{}, fmt.Errorf("scheduled action %s created_at: %w", row.ID, err)
	}
	updated, err := parseTime(row.UpdatedAt)
	if err != nil {
		return core.ScheduledAction{}, fmt.Errorf("scheduled action %s updated_at: %w", row.ID, err)
	}
	lastExecuted, err := parseNullTime(row.LastExecutedAt)
	if err != nil {
		return core.ScheduledAction{}, fmt.Errorf("scheduled action %s last_executed_at: %w", row.ID, err)
	}
	deleted, err := parseNullTime(row.DeletedAt)
	if err != nil {
		return core.ScheduledAction{}, fmt.Errorf("scheduled action %s deleted_at: %w", row.ID, err)
	}
	return core.ScheduledAction{
		Seq:               row.Seq,
		ID:                row.ID,
		GroupID:           row.GroupID,
		CreatedBy:         row.CreatedBy,
		Data:              data,
		Frequency:         core.Frequency(row.Frequency),
		StartDate:         start,
		IsActive:          row.IsActive,
		NextExecutionDate: next,
		LastExecutedAt:    lastExecuted,
		CreatedAt:         created,
		UpdatedAt:         updated,
		DeletedAt:         deleted,
		Version:           row.Version,
	}, nil
}

func toHistoryRecord(row HistoryRow) (core.HistoryRecord, error) {
	due, err := core.ParseDate(row.DueDate)
	if err != nil {
		return core.HistoryRecord{}, fmt.Errorf("history %s: %w", row.ID, err)
	}
	executed, err := parseTime(row.ExecutedAt)
	if err != nil {
		return core.HistoryRecord{}, fmt.Errorf("history %s executed_at: %w", row.ID, err)
	}
	return core.HistoryRecord{
		Seq:               row.Seq,
		ID:                row.ID,
		ScheduledActionID: row.ScheduledActionID,
		DueDate:           due,
		ExecutedAt:        executed,
		Status:            core.ExecutionStatus(row.Status),
		LedgerEntryID:     row.LedgerEntryID.String,
		ErrorMessage:      row.ErrorMessage,
		DurationMs:        row.DurationMs,
	}, nil
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
