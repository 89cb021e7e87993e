package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"splitledger/internal/core"
	"splitledger/internal/events"
	"splitledger/internal/storage"
	"splitledger/internal/storage/memory"
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []core.ExecutionAlert
}

func (r *recordingAlerter) Alert(_ context.Context, a core.ExecutionAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

func mustCreate(t *testing.T, r *Registry, in CreateActionInput) core.ScheduledAction {
	t.Helper()
	a, err := r.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return a
}

func history(t *testing.T, store storage.HistoryStore, actionID string) []core.HistoryRecord {
	t.Helper()
	hs, err := store.ListHistory(context.Background(), storage.HistoryQuery{ActionID: actionID})
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	return hs
}

func TestExecutor_WeeklyRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	a := mustCreate(t, newTestRegistry(store, day(2024, 1, 1)), createInput("weekly", "2024-01-01"))

	pub := &recordingPublisher{}
	x := NewExecutor(store, &recordingAlerter{}, ExecutorConfig{}).WithPublisher(pub)

	for _, now := range []time.Time{day(2024, 1, 1), day(2024, 1, 8), day(2024, 1, 15)} {
		res, err := x.Sweep(ctx, now)
		if err != nil {
			t.Fatalf("Sweep(%s): %v", now, err)
		}
		if res.Succeeded != 1 || res.Failed != 0 {
			t.Fatalf("Sweep(%s) = %+v, want one success", now, res)
		}
	}

	got, err := store.GetAction(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAction: %v", err)
	}
	if got.NextExecutionDate.String() != "2024-01-22" {
		t.Errorf("next = %s, want 2024-01-22", got.NextExecutionDate)
	}
	if got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(day(2024, 1, 15)) {
		t.Errorf("lastExecutedAt = %v, want %v", got.LastExecutedAt, day(2024, 1, 15))
	}

	hs := history(t, store, a.ID)
	if len(hs) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(hs))
	}
	for i, h := range hs {
		if h.Status != core.StatusSucceeded {
			t.Errorf("row %d status = %s", i, h.Status)
		}
		if i > 0 && !hs[i-1].ExecutedAt.Before(h.ExecutedAt) {
			t.Errorf("history not ascending at %d", i)
		}
		want := core.MaterializedEntryID(core.AddExpense, a.ID, h.DueDate)
		if h.LedgerEntryID != want {
			t.Errorf("row %d entry = %s, want %s", i, h.LedgerEntryID, want)
		}
	}

	entries, err := store.QueryLive(ctx, "g1")
	if err != nil {
		t.Fatalf("QueryLive: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("expected 3 materialized entries, got %d", len(entries))
	}
	if n := len(pub.kinds()); n != 3 {
		t.Errorf("expected 3 published events, got %d", n)
	}

	t.Run("not due sweep does nothing", func(t *testing.T) {
		res, err := x.Sweep(ctx, day(2024, 1, 21))
		if err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		if res.Due != 0 {
			t.Errorf("expected nothing due, got %+v", res)
		}
	})
}

func TestExecutor_CatchUp(t *testing.T) {
	tests := []struct {
		name       string
		maxCatchUp int
		wantRuns   int
		wantNext   string
	}{
		{"all missed days", 0, 5, "2024-01-06"},
		{"capped", 3, 3, "2024-01-04"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.New()
			a := mustCreate(t, newTestRegistry(store, day(2024, 1, 1)), createInput("daily", "2024-01-01"))

			x := NewExecutor(store, nil, ExecutorConfig{MaxCatchUp: tt.maxCatchUp})
			res, err := x.Sweep(ctx, day(2024, 1, 5))
			if err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if res.Succeeded != tt.wantRuns {
				t.Errorf("succeeded = %d, want %d", res.Succeeded, tt.wantRuns)
			}
			got, _ := store.GetAction(ctx, a.ID)
			if got.NextExecutionDate.String() != tt.wantNext {
				t.Errorf("next = %s, want %s", got.NextExecutionDate, tt.wantNext)
			}
		})
	}
}

func TestExecutor_FailureKeepsDueDate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	// Stored directly: the registry refuses actions for unknown budgets.
	a := core.ScheduledAction{
		ID:      "budget-action",
		GroupID: "g1",
		Data: core.BudgetAction{
			BudgetID:    "b1",
			Amount:      core.Money{Minor: 2500},
			Currency:    "EUR",
			Description: "Groceries",
			Type:        core.Credit,
		},
		Frequency:         core.Monthly,
		StartDate:         core.NewDate(2024, 1, 31),
		IsActive:          true,
		NextExecutionDate: core.NewDate(2024, 1, 31),
		CreatedAt:         day(2024, 1, 1),
		UpdatedAt:         day(2024, 1, 1),
		Version:           1,
	}
	if err := store.CreateAction(ctx, a); err != nil {
		t.Fatalf("CreateAction: %v", err)
	}

	alerter := &recordingAlerter{}
	x := NewExecutor(store, alerter, ExecutorConfig{})

	res, err := x.Sweep(ctx, day(2024, 1, 31))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Failed != 1 || res.Succeeded != 0 {
		t.Fatalf("Sweep = %+v, want one failure", res)
	}
	if alerter.count() != 1 {
		t.Errorf("expected 1 alert, got %d", alerter.count())
	}

	got, _ := store.GetAction(ctx, a.ID)
	if got.NextExecutionDate.String() != "2024-01-31" {
		t.Errorf("next moved to %s after failure", got.NextExecutionDate)
	}
	hs := history(t, store, a.ID)
	if len(hs) != 1 || hs[0].Status != core.StatusFailed || hs[0].ErrorMessage == "" {
		t.Fatalf("unexpected history %+v", hs)
	}
	if hs[0].LedgerEntryID != "" {
		t.Errorf("failed row references entry %s", hs[0].LedgerEntryID)
	}

	// Once the budget exists the retry succeeds and the schedule moves on,
	// clamping to the end of February.
	if err := store.CreateBudget(ctx, core.Budget{ID: "b1", GroupID: "g1", Name: "Food", CreatedAt: day(2024, 1, 1)}); err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}
	res, err = x.Sweep(ctx, day(2024, 2, 1))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("retry = %+v, want one success", res)
	}
	got, _ = store.GetAction(ctx, a.ID)
	if got.NextExecutionDate.String() != "2024-02-29" {
		t.Errorf("next = %s, want 2024-02-29", got.NextExecutionDate)
	}
	entries, _ := store.QueryLiveBudget(ctx, "b1")
	if len(entries) != 1 || entries[0].Sign != core.Credit {
		t.Errorf("unexpected budget entries %+v", entries)
	}
}

func TestExecutor_SkipsInactiveAndDeleted(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := newTestRegistry(store, day(2024, 1, 1))

	off := false
	in := createInput("daily", "2024-01-01")
	in.IsActive = &off
	mustCreate(t, r, in)

	deleted := mustCreate(t, r, createInput("daily", "2024-01-01"))
	if err := r.Delete(ctx, deleted.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	res, err := NewExecutor(store, nil, ExecutorConfig{}).Sweep(ctx, day(2024, 1, 3))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Due != 0 {
		t.Errorf("expected nothing due, got %+v", res)
	}
}

func TestExecutor_RunNow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := newTestRegistry(store, day(2024, 1, 1))
	a := mustCreate(t, r, createInput("monthly", "2024-03-15"))

	x := NewExecutor(store, nil, ExecutorConfig{})

	h, err := x.RunNow(ctx, a.ID, day(2024, 1, 2))
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if h.Status != core.StatusSucceeded || h.DueDate.String() != "2024-03-15" {
		t.Errorf("unexpected record %+v", h)
	}
	got, _ := store.GetAction(ctx, a.ID)
	if got.NextExecutionDate.String() != "2024-04-15" {
		t.Errorf("next = %s, want 2024-04-15", got.NextExecutionDate)
	}

	t.Run("disabled", func(t *testing.T) {
		off := false
		if _, err := r.Update(ctx, a.ID, UpdateActionInput{IsActive: &off}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		_, err := x.RunNow(ctx, a.ID, day(2024, 1, 2))
		if !errors.Is(err, core.ErrInvalidActionDefinition) {
			t.Errorf("expected ErrInvalidActionDefinition, got %v", err)
		}
	})

	t.Run("deleted", func(t *testing.T) {
		if err := r.Delete(ctx, a.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		_, err := x.RunNow(ctx, a.ID, day(2024, 1, 2))
		if !errors.Is(err, core.ErrAlreadyDeleted) {
			t.Errorf("expected ErrAlreadyDeleted, got %v", err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := x.RunNow(ctx, "missing", day(2024, 1, 2))
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestExecutor_ObserverSeesCommittedEntries(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mustCreate(t, newTestRegistry(store, day(2024, 1, 1)), createInput("daily", "2024-01-01"))

	pub := &recordingPublisher{}
	ledger := NewLedgerService(store, pub, "EUR")
	x := NewExecutor(store, nil, ExecutorConfig{}).WithObserver(ledger)

	if _, err := x.Sweep(ctx, day(2024, 1, 1)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	kinds := pub.kinds()
	if len(kinds) != 1 || kinds[0] != events.EntryCreated {
		t.Errorf("published %v, want one entry created", kinds)
	}

	balances, err := ledger.Balances(ctx, "g1")
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if balances["alice"]["EUR"].Minor != 5000 || balances["bob"]["EUR"].Minor != -5000 {
		t.Errorf("unexpected balances %v", balances)
	}
}

// Two schedulers sweeping the same SQLite database must execute each
// occurrence exactly once.
func TestExecutor_ConcurrentSweepsSQLite(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	defer repo.Close()

	r := NewRegistry(repo).WithClock(fixedClock(day(2024, 1, 1)))
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, mustCreate(t, r, createInput("daily", "2024-01-01")).ID)
	}

	const sweepers = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < sweepers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			x := NewExecutor(repo, nil, ExecutorConfig{Concurrency: 2})
			res, err := x.Sweep(ctx, day(2024, 1, 1))
			if err != nil {
				t.Errorf("Sweep: %v", err)
				return
			}
			mu.Lock()
			success += res.Succeeded
			mu.Unlock()
		}()
	}
	wg.Wait()

	if success != len(ids) {
		t.Errorf("succeeded %d times, want %d", success, len(ids))
	}
	for _, id := range ids {
		hs := history(t, repo, id)
		var ok int
		for _, h := range hs {
			if h.Status == core.StatusSucceeded {
				ok++
			}
		}
		if ok != 1 {
			t.Errorf("%s: %d succeeded rows, want 1", id, ok)
		}
		a, _ := repo.GetAction(ctx, id)
		if a.NextExecutionDate.String() != "2024-01-02" {
			t.Errorf("%s: next = %s, want 2024-01-02", id, a.NextExecutionDate)
		}
	}
}

// Re-enabling an action on the day it already ran must not reschedule the
// executed occurrence.
func TestExecutor_ReactivationSameDay(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := newTestRegistry(store, day(2024, 1, 1))
	a := mustCreate(t, r, createInput("daily", "2024-01-01"))
	x := NewExecutor(store, nil, ExecutorConfig{})

	if res, err := x.Sweep(ctx, day(2024, 1, 1)); err != nil || res.Succeeded != 1 {
		t.Fatalf("first sweep = %+v, %v", res, err)
	}

	off, on := false, true
	if _, err := r.Update(ctx, a.ID, UpdateActionInput{IsActive: &off}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, err := r.Update(ctx, a.ID, UpdateActionInput{IsActive: &on})
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if got.NextExecutionDate.String() != "2024-01-02" {
		t.Fatalf("next after re-enable = %s, want 2024-01-02", got.NextExecutionDate)
	}

	var total SweepResult
	for d := 1; d <= 4; d++ {
		res, err := x.Sweep(ctx, day(2024, 1, d))
		if err != nil {
			t.Fatalf("Sweep(%d): %v", d, err)
		}
		total.Succeeded += res.Succeeded
		total.Skipped += res.Skipped
		total.Failed += res.Failed
	}
	if total.Succeeded != 3 || total.Skipped != 0 || total.Failed != 0 {
		t.Errorf("sweeps = %+v, want 3 successes", total)
	}

	hs := history(t, store, a.ID)
	if len(hs) != 4 {
		t.Fatalf("expected 4 history rows, got %d", len(hs))
	}
	for i, h := range hs {
		if h.Status != core.StatusSucceeded || h.DueDate.String() != core.NewDate(2024, 1, 1+i).String() {
			t.Errorf("row %d = %s %s", i, h.DueDate, h.Status)
		}
	}
	got, _ = store.GetAction(ctx, a.ID)
	if got.NextExecutionDate.String() != "2024-01-05" {
		t.Errorf("next = %s, want 2024-01-05", got.NextExecutionDate)
	}
}

func TestExecutor_AlreadyExecutedAdvances(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	a := mustCreate(t, newTestRegistry(store, day(2024, 1, 1)), createInput("daily", "2024-01-01"))
	x := NewExecutor(store, nil, ExecutorConfig{})

	if _, err := x.Sweep(ctx, day(2024, 1, 2)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	// Rewind past both executed occurrences, bypassing the registry.
	cur, _ := store.GetAction(ctx, a.ID)
	cur.NextExecutionDate = core.NewDate(2024, 1, 1)
	if err := store.UpdateAction(ctx, cur, cur.Version); err != nil {
		t.Fatalf("UpdateAction: %v", err)
	}

	res, err := x.Sweep(ctx, day(2024, 1, 3))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.AlreadyExecuted != 2 || res.Succeeded != 1 || res.Skipped != 0 {
		t.Errorf("Sweep = %+v, want 2 already executed and 1 success", res)
	}
	got, _ := store.GetAction(ctx, a.ID)
	if got.NextExecutionDate.String() != "2024-01-04" {
		t.Errorf("next = %s, want 2024-01-04", got.NextExecutionDate)
	}
	if n := len(history(t, store, a.ID)); n != 3 {
		t.Errorf("expected 3 history rows, got %d", n)
	}

	t.Run("run now", func(t *testing.T) {
		cur, _ := store.GetAction(ctx, a.ID)
		cur.NextExecutionDate = core.NewDate(2024, 1, 3)
		if err := store.UpdateAction(ctx, cur, cur.Version); err != nil {
			t.Fatalf("UpdateAction: %v", err)
		}
		_, err := x.RunNow(ctx, a.ID, day(2024, 1, 3))
		if !errors.Is(err, core.ErrOccurrenceExecuted) {
			t.Errorf("expected ErrOccurrenceExecuted, got %v", err)
		}
		got, _ := store.GetAction(ctx, a.ID)
		if got.NextExecutionDate.String() != "2024-01-04" {
			t.Errorf("next = %s, want 2024-01-04", got.NextExecutionDate)
		}
	})
}

// snapshotDueStore hands every sweep the same due list, as two schedulers
// that loaded the action before either recorded its failure would see.
type snapshotDueStore struct {
	*memory.Store
	due []core.ScheduledAction
}

func (s *snapshotDueStore) ListDueActions(context.Context, core.Date, int) ([]core.ScheduledAction, error) {
	return s.due, nil
}

func TestExecutor_FailureRecordedOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	a := core.ScheduledAction{
		ID:      "budget-action",
		GroupID: "g1",
		Data: core.BudgetAction{
			BudgetID:    "b1",
			Amount:      core.Money{Minor: 2500},
			Currency:    "EUR",
			Description: "Groceries",
			Type:        core.Credit,
		},
		Frequency:         core.Monthly,
		StartDate:         core.NewDate(2024, 1, 31),
		IsActive:          true,
		NextExecutionDate: core.NewDate(2024, 1, 31),
		CreatedAt:         day(2024, 1, 1),
		UpdatedAt:         day(2024, 1, 1),
	}
	if err := store.CreateAction(ctx, a); err != nil {
		t.Fatalf("CreateAction: %v", err)
	}
	loaded, _ := store.GetAction(ctx, a.ID)

	alerter := &recordingAlerter{}
	stale := &snapshotDueStore{Store: store, due: []core.ScheduledAction{loaded}}
	x := NewExecutor(stale, alerter, ExecutorConfig{})

	tests := []struct {
		name       string
		wantFailed int
		wantSkip   int
	}{
		{"first sweep records", 1, 0},
		{"overlapping sweep backs off", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := x.Sweep(ctx, day(2024, 1, 31))
			if err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if res.Failed != tt.wantFailed || res.Skipped != tt.wantSkip {
				t.Errorf("Sweep = %+v, want failed=%d skipped=%d", res, tt.wantFailed, tt.wantSkip)
			}
		})
	}

	if alerter.count() != 1 {
		t.Errorf("expected 1 alert, got %d", alerter.count())
	}
	if n := len(history(t, store, a.ID)); n != 1 {
		t.Errorf("expected 1 failed row, got %d", n)
	}

	// A later sweep loading the current version retries and records again.
	res, err := NewExecutor(store, alerter, ExecutorConfig{}).Sweep(ctx, day(2024, 2, 1))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Failed != 1 || alerter.count() != 2 {
		t.Errorf("retry = %+v with %d alerts, want one more failure", res, alerter.count())
	}
}
