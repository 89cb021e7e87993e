package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"splitledger/internal/core"
	applog "splitledger/internal/log"
)

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

// DSN builds the connection string used for both the repository and its
// migrations. Writes take the database lock when the transaction begins.
func DSN(dbPath string) string {
	return "file:" + dbPath +
		"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// inTx runs fn in a transaction, rolling back on any error.
func (r *SQLiteRepository) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY
}

// Append writes the entry and its participants in one transaction.
func (r *SQLiteRepository) Append(ctx context.Context, e core.LedgerEntry) (string, error) {
	err := r.inTx(ctx, func(q *Queries) error {
		return insertEntry(ctx, q, e)
	})
	if err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "Ledger entry saved to SQLite",
		applog.FieldEntryID, e.ID,
		applog.FieldGroupID, e.GroupID,
		applog.FieldBudgetID, e.BudgetID,
		applog.FieldAmount, e.Amount.Minor,
		applog.FieldCurrency, e.Currency)

	return e.ID, nil
}

func insertEntry(ctx context.Context, q *Queries, e core.LedgerEntry) error {
	err := q.CreateLedgerEntry(ctx, CreateLedgerEntryParams{
		ID:          e.ID,
		GroupID:     e.GroupID,
		BudgetID:    nullString(e.BudgetID),
		AddedTime:   formatTime(e.AddedTime),
		AmountMinor: e.Amount.Minor,
		Sign:        string(e.Sign),
		Currency:    e.Currency,
		Description: e.Description,
		CreatedBy:   e.CreatedBy,
	})
	switch {
	case isConstraintViolation(err):
		return fmt.Errorf("create ledger entry %s: %w", e.ID, core.ErrAlreadyExists)
	case isForeignKeyViolation(err):
		return fmt.Errorf("create ledger entry %s: budget %s: %w", e.ID, e.BudgetID, core.ErrNotFound)
	case err != nil:
		return fmt.Errorf("create ledger entry: %w", err)
	}

	for i, p := range e.Participants {
		err := q.CreateParticipant(ctx, ParticipantRow{
			EntryID:   e.ID,
			Position:  int64(i),
			UserID:    p.UserID,
			PaidMinor: p.Paid.Minor,
			OwedMinor: p.Owed.Minor,
		})
		if err != nil {
			return fmt.Errorf("create participant %s: %w", p.UserID, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) SoftDelete(ctx context.Context, id string, deletedAt time.Time) (core.LedgerEntry, error) {
	var entry core.LedgerEntry
	err := r.inTx(ctx, func(q *Queries) error {
		n, err := q.SoftDeleteLedgerEntry(ctx, formatTime(deletedAt), id)
		if err != nil {
			return fmt.Errorf("soft delete ledger entry: %w", err)
		}
		entry, err = loadEntry(ctx, q, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("ledger entry %s: %w", id, core.ErrAlreadyDeleted)
		}
		return nil
	})
	if err != nil {
		return core.LedgerEntry{}, err
	}

	slog.InfoContext(ctx, "Ledger entry deleted", applog.FieldEntryID, id, applog.FieldGroupID, entry.GroupID)
	return entry, nil
}

func (r *SQLiteRepository) GetEntry(ctx context.Context, id string) (core.LedgerEntry, error) {
	return loadEntry(ctx, r.queries, id)
}

func loadEntry(ctx context.Context, q *Queries, id string) (core.LedgerEntry, error) {
	row, err := q.GetLedgerEntry(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerEntry{}, fmt.Errorf("ledger entry %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("get ledger entry: %w", err)
	}
	parts, err := q.ListParticipantsByEntry(ctx, id)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("list participants: %w", err)
	}
	return toLedgerEntry(row, parts)
}

func (r *SQLiteRepository) QueryLive(ctx context.Context, groupID string) ([]core.LedgerEntry, error) {
	rows, err := r.queries.ListLiveEntriesByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	parts, err := r.queries.ListParticipantsByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	byEntry := make(map[string][]ParticipantRow, len(rows))
	for _, p := range parts {
		byEntry[p.EntryID] = append(byEntry[p.EntryID], p)
	}

	entries := make([]core.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		e, err := toLedgerEntry(row, byEntry[row.ID])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *SQLiteRepository) QueryLiveBudget(ctx context.Context, budgetID string) ([]core.LedgerEntry, error) {
	rows, err := r.queries.ListLiveEntriesByBudget(ctx, budgetID)
	if err != nil {
		return nil, fmt.Errorf("list budget entries: %w", err)
	}
	entries := make([]core.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		e, err := toLedgerEntry(row, nil)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ListEntries returns one page of live entries, newest first.
func (r *SQLiteRepository) ListEntries(ctx context.Context, q EntryQuery) ([]core.LedgerEntry, error) {
	if q.GroupID == "" && q.BudgetID == "" {
		return nil, fmt.Errorf("list ledger entries: group or budget required")
	}
	rows, err := r.queries.ListLiveEntriesPage(ctx, ListEntriesPageParams{
		GroupID:   q.GroupID,
		BudgetID:  q.BudgetID,
		BeforeSeq: q.BeforeSeq,
		Limit:     sqlLimit(q.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	entries := make([]core.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		var parts []ParticipantRow
		if !row.BudgetID.Valid {
			parts, err = r.queries.ListParticipantsByEntry(ctx, row.ID)
			if err != nil {
				return nil, fmt.Errorf("list participants: %w", err)
			}
		}
		e, err := toLedgerEntry(row, parts)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *SQLiteRepository) CreateBudget(ctx context.Context, b core.Budget) error {
	err := r.queries.CreateBudget(ctx, BudgetRow{
		ID:        b.ID,
		GroupID:   b.GroupID,
		Name:      b.Name,
		CreatedAt: formatTime(b.CreatedAt),
	})
	if isConstraintViolation(err) {
		return fmt.Errorf("create budget %s: %w", b.ID, core.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create budget: %w", err)
	}
	slog.InfoContext(ctx, "Budget saved to SQLite", applog.FieldBudgetID, b.ID, applog.FieldGroupID, b.GroupID)
	return nil
}

func (r *SQLiteRepository) GetBudget(ctx context.Context, id string) (core.Budget, error) {
	row, err := r.queries.GetBudget(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	return toBudget(row)
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context, groupID string) ([]core.Budget, error) {
	rows, err := r.queries.ListBudgetsByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	budgets := make([]core.Budget, 0, len(rows))
	for _, row := range rows {
		b, err := toBudget(row)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	return budgets, nil
}

func toLedgerEntry(row LedgerEntryRow, parts []ParticipantRow) (core.LedgerEntry, error) {
	added, err := parseTime(row.AddedTime)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("ledger entry %s added_time: %w", row.ID, err)
	}
	deleted, err := parseNullTime(row.DeletedAt)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("ledger entry %s deleted_at: %w", row.ID, err)
	}
	e := core.LedgerEntry{
		Seq:         row.Seq,
		ID:          row.ID,
		GroupID:     row.GroupID,
		BudgetID:    row.BudgetID.String,
		AddedTime:   added,
		Deleted:     deleted,
		Amount:      core.Money{Minor: row.AmountMinor},
		Sign:        core.Sign(row.Sign),
		Currency:    row.Currency,
		Description: row.Description,
		CreatedBy:   row.CreatedBy,
	}
	for _, p := range parts {
		e.Participants = append(e.Participants, core.Share{
			UserID: p.UserID,
			Paid:   core.Money{Minor: p.PaidMinor},
			Owed:   core.Money{Minor: p.OwedMinor},
		})
	}
	return e, nil
}

func toBudget(row BudgetRow) (core.Budget, error) {
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return core.Budget{}, fmt.Errorf("budget %s created_at: %w", row.ID, err)
	}
	return core.Budget{ID: row.ID, GroupID: row.GroupID, Name: row.Name, CreatedAt: created}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
