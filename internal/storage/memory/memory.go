// Package memory is a process-local storage backend used for development
// and tests. It honours the same conditional-write rules as SQLite.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"splitledger/internal/core"
	"splitledger/internal/storage"
)

var _ storage.Store = (*Store)(nil)

type Store struct {
	mu sync.Mutex

	entrySeq int64
	entries  map[string]core.LedgerEntry

	budgets map[string]core.Budget

	actionSeq int64
	actions   map[string]core.ScheduledAction

	historySeq int64
	history    []core.HistoryRecord
}

func New() *Store {
	return &Store{
		entries: make(map[string]core.LedgerEntry),
		budgets: make(map[string]core.Budget),
		actions: make(map[string]core.ScheduledAction),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(context.Context) error { return nil }

func cloneEntry(e core.LedgerEntry) core.LedgerEntry {
	e.Participants = append([]core.Share(nil), e.Participants...)
	if e.Deleted != nil {
		d := *e.Deleted
		e.Deleted = &d
	}
	return e
}

// appendLocked mirrors the SQLite constraints: unique id, known budget.
func (s *Store) appendLocked(e core.LedgerEntry) error {
	if _, ok := s.entries[e.ID]; ok {
		return fmt.Errorf("create ledger entry %s: %w", e.ID, core.ErrAlreadyExists)
	}
	if e.BudgetID != "" {
		if _, ok := s.budgets[e.BudgetID]; !ok {
			return fmt.Errorf("create ledger entry %s: budget %s: %w", e.ID, e.BudgetID, core.ErrNotFound)
		}
	}
	s.entrySeq++
	e.Seq = s.entrySeq
	s.entries[e.ID] = cloneEntry(e)
	return nil
}

func (s *Store) Append(_ context.Context, e core.LedgerEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(e); err != nil {
		return "", err
	}
	return e.ID, nil
}

func (s *Store) SoftDelete(_ context.Context, id string, deletedAt time.Time) (core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return core.LedgerEntry{}, fmt.Errorf("ledger entry %s: %w", id, core.ErrNotFound)
	}
	if !e.IsLive() {
		return cloneEntry(e), fmt.Errorf("ledger entry %s: %w", id, core.ErrAlreadyDeleted)
	}
	d := deletedAt.UTC()
	e.Deleted = &d
	s.entries[id] = e
	return cloneEntry(e), nil
}

func (s *Store) GetEntry(_ context.Context, id string) (core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return core.LedgerEntry{}, fmt.Errorf("ledger entry %s: %w", id, core.ErrNotFound)
	}
	return cloneEntry(e), nil
}

func (s *Store) liveEntries(keep func(core.LedgerEntry) bool) []core.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.LedgerEntry
	for _, e := range s.entries {
		if e.IsLive() && keep(e) {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *Store) QueryLive(_ context.Context, groupID string) ([]core.LedgerEntry, error) {
	return s.liveEntries(func(e core.LedgerEntry) bool { return e.GroupID == groupID }), nil
}

func (s *Store) QueryLiveBudget(_ context.Context, budgetID string) ([]core.LedgerEntry, error) {
	return s.liveEntries(func(e core.LedgerEntry) bool { return e.BudgetID == budgetID }), nil
}

func (s *Store) ListEntries(_ context.Context, q storage.EntryQuery) ([]core.LedgerEntry, error) {
	if q.GroupID == "" && q.BudgetID == "" {
		return nil, fmt.Errorf("list ledger entries: group or budget required")
	}
	out := s.liveEntries(func(e core.LedgerEntry) bool {
		if q.GroupID != "" && (e.GroupID != q.GroupID || e.IsBudgetEntry()) {
			return false
		}
		if q.BudgetID != "" && e.BudgetID != q.BudgetID {
			return false
		}
		return q.BeforeSeq == 0 || e.Seq < q.BeforeSeq
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) CreateBudget(_ context.Context, b core.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.budgets[b.ID]; ok {
		return fmt.Errorf("create budget %s: %w", b.ID, core.ErrAlreadyExists)
	}
	s.budgets[b.ID] = b
	return nil
}

func (s *Store) GetBudget(_ context.Context, id string) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[id]
	if !ok {
		return core.Budget{}, fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	return b, nil
}

func (s *Store) ListBudgets(_ context.Context, groupID string) ([]core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Budget, 0)
	for _, b := range s.budgets {
		if b.GroupID == groupID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateAction(_ context.Context, a core.ScheduledAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[a.ID]; ok {
		return fmt.Errorf("create scheduled action %s: %w", a.ID, core.ErrAlreadyExists)
	}
	s.actionSeq++
	a.Seq = s.actionSeq
	a.Version = 1
	s.actions[a.ID] = a
	return nil
}

func (s *Store) GetAction(_ context.Context, id string) (core.ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return core.ScheduledAction{}, fmt.Errorf("scheduled action %s: %w", id, core.ErrNotFound)
	}
	return a, nil
}

func (s *Store) ListActions(_ context.Context, q storage.ActionQuery) ([]core.ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ScheduledAction
	for _, a := range s.actions {
		if a.GroupID != q.GroupID || a.IsDeleted() {
			continue
		}
		if q.BeforeSeq > 0 && a.Seq >= q.BeforeSeq {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) UpdateAction(_ context.Context, a core.ScheduledAction, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.actions[a.ID]
	if !ok || cur.IsDeleted() || cur.Version != expectedVersion {
		return fmt.Errorf("scheduled action %s at version %d: %w", a.ID, expectedVersion, core.ErrConcurrentUpdate)
	}
	cur.Data = a.Data
	cur.Frequency = a.Frequency
	cur.StartDate = a.StartDate
	cur.IsActive = a.IsActive
	cur.NextExecutionDate = a.NextExecutionDate
	cur.UpdatedAt = a.UpdatedAt
	cur.Version++
	s.actions[a.ID] = cur
	return nil
}

func (s *Store) DeleteAction(_ context.Context, id string, deletedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return fmt.Errorf("scheduled action %s: %w", id, core.ErrNotFound)
	}
	if a.IsDeleted() {
		return fmt.Errorf("scheduled action %s: %w", id, core.ErrAlreadyDeleted)
	}
	d := deletedAt.UTC()
	a.DeletedAt = &d
	a.UpdatedAt = d
	a.IsActive = false
	a.Version++
	s.actions[id] = a
	return nil
}

func (s *Store) ListDueActions(_ context.Context, today core.Date, limit int) ([]core.ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ScheduledAction
	for _, a := range s.actions {
		if a.IsDue(today) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextExecutionDate.Equal(out[j].NextExecutionDate) {
			return out[i].NextExecutionDate.Before(out[j].NextExecutionDate)
		}
		return out[i].Seq < out[j].Seq
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CommitExecution(_ context.Context, x storage.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[x.ActionID]
	if !ok || !a.IsActive || a.IsDeleted() || !a.NextExecutionDate.Equal(x.DueDate) {
		return fmt.Errorf("scheduled action %s due %s: %w", x.ActionID, x.DueDate, core.ErrConcurrentClaimLost)
	}

	executed := s.occurrenceExecutedLocked(x)
	if !executed {
		if err := s.appendLocked(x.Entry); err != nil {
			return err
		}
		s.appendHistoryLocked(x.History)
	}

	executedAt := x.ExecutedAt.UTC()
	a.NextExecutionDate = x.NextDate
	a.LastExecutedAt = &executedAt
	a.UpdatedAt = executedAt
	a.Version++
	s.actions[a.ID] = a

	if executed {
		return fmt.Errorf("scheduled action %s due %s: %w", x.ActionID, x.DueDate, core.ErrOccurrenceExecuted)
	}
	return nil
}

func (s *Store) occurrenceExecutedLocked(x storage.Execution) bool {
	if _, ok := s.entries[x.Entry.ID]; ok {
		return true
	}
	for _, h := range s.history {
		if h.ScheduledActionID == x.ActionID && h.Status == core.StatusSucceeded && h.DueDate.Equal(x.DueDate) {
			return true
		}
	}
	return false
}

func (s *Store) RecordFailure(_ context.Context, h core.HistoryRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[h.ScheduledActionID]
	if !ok {
		return fmt.Errorf("scheduled action %s: %w", h.ScheduledActionID, core.ErrNotFound)
	}
	if a.Version != expectedVersion {
		return fmt.Errorf("scheduled action %s at version %d: %w", h.ScheduledActionID, expectedVersion, core.ErrConcurrentClaimLost)
	}
	a.Version++
	s.actions[a.ID] = a
	s.appendHistoryLocked(h)
	return nil
}

func (s *Store) LastSucceededDueDate(_ context.Context, actionID string) (core.Date, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		last core.Date
		ok   bool
	)
	for _, h := range s.history {
		if h.ScheduledActionID != actionID || h.Status != core.StatusSucceeded {
			continue
		}
		if !ok || h.DueDate.After(last) {
			last, ok = h.DueDate, true
		}
	}
	return last, ok, nil
}

func (s *Store) appendHistoryLocked(h core.HistoryRecord) {
	s.historySeq++
	h.Seq = s.historySeq
	s.history = append(s.history, h)
}

func (s *Store) ListHistory(_ context.Context, q storage.HistoryQuery) ([]core.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.HistoryRecord, 0)
	for _, h := range s.history {
		if h.ScheduledActionID != q.ActionID || h.Seq <= q.AfterSeq {
			continue
		}
		if q.Status != "" && h.Status != q.Status {
			continue
		}
		out = append(out, h)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}
