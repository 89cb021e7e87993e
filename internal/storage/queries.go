package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type LedgerEntryRow struct {
	Seq         int64
	ID          string
	GroupID     string
	BudgetID    sql.NullString
	AddedTime   string
	DeletedAt   sql.NullString
	AmountMinor int64
	Sign        string
	Currency    string
	Description string
	CreatedBy   string
}

type ParticipantRow struct {
	EntryID   string
	Position  int64
	UserID    string
	PaidMinor int64
	OwedMinor int64
}

type BudgetRow struct {
	ID        string
	GroupID   string
	Name      string
	CreatedAt string
}

type ScheduledActionRow struct {
	Seq               int64
	ID                string
	GroupID           string
	CreatedBy         string
	ActionType        string
	ActionData        string
	Frequency         string
	StartDate         string
	IsActive          bool
	NextExecutionDate string
	LastExecutedAt    sql.NullString
	CreatedAt         string
	UpdatedAt         string
	DeletedAt         sql.NullString
	Version           int64
}

type HistoryRow struct {
	Seq               int64
	ID                string
	ScheduledActionID string
	DueDate           string
	ExecutedAt        string
	Status            string
	LedgerEntryID     sql.NullString
	ErrorMessage      string
	DurationMs        int64
}

const createLedgerEntry = `
INSERT INTO ledger_entries (id, group_id, budget_id, added_time, amount_minor, sign, currency, description, created_by)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

type CreateLedgerEntryParams struct {
	ID          string
	GroupID     string
	BudgetID    sql.NullString
	AddedTime   string
	AmountMinor int64
	Sign        string
	Currency    string
	Description string
	CreatedBy   string
}

func (q *Queries) CreateLedgerEntry(ctx context.Context, arg CreateLedgerEntryParams) error {
	_, err := q.db.ExecContext(ctx, createLedgerEntry,
		arg.ID, arg.GroupID, arg.BudgetID, arg.AddedTime, arg.AmountMinor,
		arg.Sign, arg.Currency, arg.Description, arg.CreatedBy)
	return err
}

const createParticipant = `
INSERT INTO entry_participants (entry_id, position, user_id, paid_minor, owed_minor)
VALUES (?, ?, ?, ?, ?)`

func (q *Queries) CreateParticipant(ctx context.Context, arg ParticipantRow) error {
	_, err := q.db.ExecContext(ctx, createParticipant, arg.EntryID, arg.Position, arg.UserID, arg.PaidMinor, arg.OwedMinor)
	return err
}

const softDeleteLedgerEntry = `
UPDATE ledger_entries SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`

// SoftDeleteLedgerEntry returns the number of rows tombstoned (0 or 1).
func (q *Queries) SoftDeleteLedgerEntry(ctx context.Context, deletedAt, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, softDeleteLedgerEntry, deletedAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const ledgerEntryColumns = `seq, id, group_id, budget_id, added_time, deleted_at, amount_minor, sign, currency, description, created_by`

func scanLedgerEntry(s interface{ Scan(...interface{}) error }) (LedgerEntryRow, error) {
	var i LedgerEntryRow
	err := s.Scan(&i.Seq, &i.ID, &i.GroupID, &i.BudgetID, &i.AddedTime, &i.DeletedAt,
		&i.AmountMinor, &i.Sign, &i.Currency, &i.Description, &i.CreatedBy)
	return i, err
}

const getLedgerEntry = `SELECT ` + ledgerEntryColumns + ` FROM ledger_entries WHERE id = ?`

func (q *Queries) GetLedgerEntry(ctx context.Context, id string) (LedgerEntryRow, error) {
	return scanLedgerEntry(q.db.QueryRowContext(ctx, getLedgerEntry, id))
}

const listLiveEntriesByGroup = `SELECT ` + ledgerEntryColumns + `
FROM ledger_entries WHERE group_id = ? AND deleted_at IS NULL ORDER BY seq`

func (q *Queries) ListLiveEntriesByGroup(ctx context.Context, groupID string) ([]LedgerEntryRow, error) {
	return q.listLedgerEntries(ctx, listLiveEntriesByGroup, groupID)
}

const listLiveEntriesByBudget = `SELECT ` + ledgerEntryColumns + `
FROM ledger_entries WHERE budget_id = ? AND deleted_at IS NULL ORDER BY seq`

func (q *Queries) ListLiveEntriesByBudget(ctx context.Context, budgetID string) ([]LedgerEntryRow, error) {
	return q.listLedgerEntries(ctx, listLiveEntriesByBudget, budgetID)
}

func (q *Queries) listLedgerEntries(ctx context.Context, query string, arg string) ([]LedgerEntryRow, error) {
	rows, err := q.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LedgerEntryRow
	for rows.Next() {
		i, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listParticipantsByGroup = `
SELECT p.entry_id, p.position, p.user_id, p.paid_minor, p.owed_minor
FROM entry_participants p JOIN ledger_entries e ON e.id = p.entry_id
WHERE e.group_id = ? AND e.deleted_at IS NULL
ORDER BY p.entry_id, p.position`

func (q *Queries) ListParticipantsByGroup(ctx context.Context, groupID string) ([]ParticipantRow, error) {
	return q.listParticipants(ctx, listParticipantsByGroup, groupID)
}

const listParticipantsByEntry = `
SELECT entry_id, position, user_id, paid_minor, owed_minor
FROM entry_participants WHERE entry_id = ? ORDER BY position`

func (q *Queries) ListParticipantsByEntry(ctx context.Context, entryID string) ([]ParticipantRow, error) {
	return q.listParticipants(ctx, listParticipantsByEntry, entryID)
}

func (q *Queries) listParticipants(ctx context.Context, query string, arg string) ([]ParticipantRow, error) {
	rows, err := q.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ParticipantRow
	for rows.Next() {
		var i ParticipantRow
		if err := rows.Scan(&i.EntryID, &i.Position, &i.UserID, &i.PaidMinor, &i.OwedMinor); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createBudget = `INSERT INTO budgets (id, group_id, name, created_at) VALUES (?, ?, ?, ?)`

func (q *Queries) CreateBudget(ctx context.Context, arg BudgetRow) error {
	_, err := q.db.ExecContext(ctx, createBudget, arg.ID, arg.GroupID, arg.Name, arg.CreatedAt)
	return err
}

const getBudget = `SELECT id, group_id, name, created_at FROM budgets WHERE id = ?`

func (q *Queries) GetBudget(ctx context.Context, id string) (BudgetRow, error) {
	var i BudgetRow
	err := q.db.QueryRowContext(ctx, getBudget, id).Scan(&i.ID, &i.GroupID, &i.Name, &i.CreatedAt)
	return i, err
}

const listBudgetsByGroup = `SELECT id, group_id, name, created_at FROM budgets WHERE group_id = ? ORDER BY created_at, id`

func (q *Queries) ListBudgetsByGroup(ctx context.Context, groupID string) ([]BudgetRow, error) {
	rows, err := q.db.QueryContext(ctx, listBudgetsByGroup, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BudgetRow
	for rows.Next() {
		var i BudgetRow
		if err := rows.Scan(&i.ID, &i.GroupID, &i.Name, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const scheduledActionColumns = `seq, id, group_id, created_by, action_type, action_data, frequency, start_date,
is_active, next_execution_date, last_executed_at, created_at, updated_at, deleted_at, version`

func scanScheduledAction(s interface{ Scan(...interface{}) error }) (ScheduledActionRow, error) {
	var i ScheduledActionRow
	err := s.Scan(&i.Seq, &i.ID, &i.GroupID, &i.CreatedBy, &i.ActionType, &i.ActionData, &i.Frequency,
		&i.StartDate, &i.IsActive, &i.NextExecutionDate, &i.LastExecutedAt, &i.CreatedAt, &i.UpdatedAt,
		&i.DeletedAt, &i.Version)
	return i, err
}

const createScheduledAction = `
INSERT INTO scheduled_actions (id, group_id, created_by, action_type, action_data, frequency, start_date,
    is_active, next_execution_date, created_at, updated_at, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`

func (q *Queries) CreateScheduledAction(ctx context.Context, arg ScheduledActionRow) error {
	_, err := q.db.ExecContext(ctx, createScheduledAction,
		arg.ID, arg.GroupID, arg.CreatedBy, arg.ActionType, arg.ActionData, arg.Frequency, arg.StartDate,
		arg.IsActive, arg.NextExecutionDate, arg.CreatedAt, arg.UpdatedAt)
	return err
}

const getScheduledAction = `SELECT ` + scheduledActionColumns + ` FROM scheduled_actions WHERE id = ?`

func (q *Queries) GetScheduledAction(ctx context.Context, id string) (ScheduledActionRow, error) {
	return scanScheduledAction(q.db.QueryRowContext(ctx, getScheduledAction, id))
}

const listScheduledActionsByGroup = `SELECT ` + scheduledActionColumns + `
FROM scheduled_actions
WHERE group_id = ? AND deleted_at IS NULL AND (? = 0 OR seq < ?)
ORDER BY seq DESC
LIMIT ?`

type ListScheduledActionsParams struct {
	GroupID   string
	BeforeSeq int64
	Limit     int
}

func (q *Queries) ListScheduledActionsByGroup(ctx context.Context, arg ListScheduledActionsParams) ([]ScheduledActionRow, error) {
	return q.listScheduledActions(ctx, listScheduledActionsByGroup, arg.GroupID, arg.BeforeSeq, arg.BeforeSeq, arg.Limit)
}

const listDueScheduledActions = `SELECT ` + scheduledActionColumns + `
FROM scheduled_actions
WHERE is_active = 1 AND deleted_at IS NULL AND next_execution_date <= ?
ORDER BY next_execution_date, seq
LIMIT ?`

func (q *Queries) ListDueScheduledActions(ctx context.Context, today string, limit int) ([]ScheduledActionRow, error) {
	return q.listScheduledActions(ctx, listDueScheduledActions, today, limit)
}

func (q *Queries) listScheduledActions(ctx context.Context, query string, args ...interface{}) ([]ScheduledActionRow, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ScheduledActionRow
	for rows.Next() {
		i, err := scanScheduledAction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateScheduledAction = `
UPDATE scheduled_actions
SET action_data = ?, frequency = ?, start_date = ?, is_active = ?, next_execution_date = ?,
    updated_at = ?, version = version + 1
WHERE id = ? AND version = ? AND deleted_at IS NULL`

type UpdateScheduledActionParams struct {
	ActionData        string
	Frequency         string
	StartDate         string
	IsActive          bool
	NextExecutionDate string
	UpdatedAt         string
	ID                string
	ExpectedVersion   int64
}

func (q *Queries) UpdateScheduledAction(ctx context.Context, arg UpdateScheduledActionParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateScheduledAction,
		arg.ActionData, arg.Frequency, arg.StartDate, arg.IsActive, arg.NextExecutionDate,
		arg.UpdatedAt, arg.ID, arg.ExpectedVersion)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const softDeleteScheduledAction = `
UPDATE scheduled_actions
SET deleted_at = ?, updated_at = ?, is_active = 0, version = version + 1
WHERE id = ? AND deleted_at IS NULL`

func (q *Queries) SoftDeleteScheduledAction(ctx context.Context, deletedAt, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, softDeleteScheduledAction, deletedAt, deletedAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// The claim: only the executor that still sees the expected date moves it.
const claimScheduledAction = `
UPDATE scheduled_actions
SET next_execution_date = ?, last_executed_at = ?, updated_at = ?, version = version + 1
WHERE id = ? AND next_execution_date = ? AND is_active = 1 AND deleted_at IS NULL`

type ClaimScheduledActionParams struct {
	NextExecutionDate string
	LastExecutedAt    string
	ID                string
	ExpectedDate      string
}

func (q *Queries) ClaimScheduledAction(ctx context.Context, arg ClaimScheduledActionParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, claimScheduledAction,
		arg.NextExecutionDate, arg.LastExecutedAt, arg.LastExecutedAt, arg.ID, arg.ExpectedDate)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const createHistory = `
INSERT INTO scheduled_action_history (id, scheduled_action_id, due_date, executed_at, status, ledger_entry_id,
    error_message, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateHistory(ctx context.Context, arg HistoryRow) error {
	_, err := q.db.ExecContext(ctx, createHistory,
		arg.ID, arg.ScheduledActionID, arg.DueDate, arg.ExecutedAt, arg.Status, arg.LedgerEntryID,
		arg.ErrorMessage, arg.DurationMs)
	return err
}

const listHistory = `
SELECT seq, id, scheduled_action_id, due_date, executed_at, status, ledger_entry_id, error_message, duration_ms
FROM scheduled_action_history
WHERE scheduled_action_id = ? AND seq > ? AND (? = '' OR status = ?)
ORDER BY seq
LIMIT ?`

type ListHistoryParams struct {
	ScheduledActionID string
	AfterSeq          int64
	Status            string
	Limit             int
}

func (q *Queries) ListHistory(ctx context.Context, arg ListHistoryParams) ([]HistoryRow, error) {
	rows, err := q.db.QueryContext(ctx, listHistory,
		arg.ScheduledActionID, arg.AfterSeq, arg.Status, arg.Status, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []HistoryRow
	for rows.Next() {
		var i HistoryRow
		if err := rows.Scan(&i.Seq, &i.ID, &i.ScheduledActionID, &i.DueDate, &i.ExecutedAt, &i.Status,
			&i.LedgerEntryID, &i.ErrorMessage, &i.DurationMs); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const ledgerEntryExists = `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE id = ?)`

// LedgerEntryExists reports whether an entry with id was ever written,
// deleted or not.
func (q *Queries) LedgerEntryExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := q.db.QueryRowContext(ctx, ledgerEntryExists, id).Scan(&ok)
	return ok, err
}

const listLiveEntriesPage = `SELECT ` + ledgerEntryColumns + `
FROM ledger_entries
WHERE deleted_at IS NULL
  AND (? = '' OR (group_id = ? AND budget_id IS NULL))
  AND (? = '' OR budget_id = ?)
  AND (? = 0 OR seq < ?)
ORDER BY seq DESC
LIMIT ?`

type ListEntriesPageParams struct {
	GroupID   string
	BudgetID  string
	BeforeSeq int64
	Limit     int
}

func (q *Queries) ListLiveEntriesPage(ctx context.Context, arg ListEntriesPageParams) ([]LedgerEntryRow, error) {
	rows, err := q.db.QueryContext(ctx, listLiveEntriesPage,
		arg.GroupID, arg.GroupID, arg.BudgetID, arg.BudgetID, arg.BeforeSeq, arg.BeforeSeq, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LedgerEntryRow
	for rows.Next() {
		i, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const succeededExecutionExists = `
SELECT EXISTS (
    SELECT 1 FROM scheduled_action_history
    WHERE scheduled_action_id = ? AND due_date = ? AND status = 'succeeded')`

func (q *Queries) SucceededExecutionExists(ctx context.Context, actionID, dueDate string) (bool, error) {
	var ok bool
	err := q.db.QueryRowContext(ctx, succeededExecutionExists, actionID, dueDate).Scan(&ok)
	return ok, err
}

const lastSucceededDueDate = `
SELECT MAX(due_date) FROM scheduled_action_history
WHERE scheduled_action_id = ? AND status = 'succeeded'`

// LastSucceededDueDate is NULL when the action never succeeded.
func (q *Queries) LastSucceededDueDate(ctx context.Context, actionID string) (sql.NullString, error) {
	var d sql.NullString
	err := q.db.QueryRowContext(ctx, lastSucceededDueDate, actionID).Scan(&d)
	return d, err
}

const bumpScheduledActionVersion = `
UPDATE scheduled_actions SET version = version + 1 WHERE id = ? AND version = ?`

func (q *Queries) BumpScheduledActionVersion(ctx context.Context, id string, expectedVersion int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, bumpScheduledActionVersion, id, expectedVersion)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
