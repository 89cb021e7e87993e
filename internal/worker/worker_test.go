package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"splitledger/internal/core"
	"splitledger/internal/events"
	"splitledger/internal/services"
	"splitledger/internal/sheets"
	"splitledger/internal/sheets/memory"
)

type countingSweeper struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingSweeper) Sweep(context.Context, time.Time) (services.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return services.SweepResult{}, s.err
}

func (s *countingSweeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestScheduler_Lifecycle(t *testing.T) {
	ctx := context.Background()
	sw := &countingSweeper{}
	s := NewScheduler(sw, "@every 1h")

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sw.count() != 1 {
		t.Errorf("expected one sweep at startup, got %d", sw.count())
	}
	if !s.IsRunning() {
		t.Error("expected scheduler to be running")
	}
	if err := s.Start(ctx); err == nil {
		t.Error("expected error starting twice")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.IsRunning() {
		t.Error("expected scheduler to be stopped")
	}
	if err := s.Stop(stopCtx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestScheduler_InvalidSpec(t *testing.T) {
	sw := &countingSweeper{}
	s := NewScheduler(sw, "every now and then")
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	if sw.count() != 0 {
		t.Errorf("sweep ran despite invalid schedule")
	}
	if s.IsRunning() {
		t.Error("scheduler running after failed start")
	}
}

func TestScheduler_RunOnceSkipsCancelledContext(t *testing.T) {
	sw := &countingSweeper{err: errors.New("db locked")}
	s := NewScheduler(sw, "@every 1h")

	s.RunOnce(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.RunOnce(ctx)

	if sw.count() != 1 {
		t.Errorf("expected 1 sweep, got %d", sw.count())
	}
}

type failingWriter struct{}

func (failingWriter) AppendAudit(context.Context, sheets.AuditRow) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestMirrorWorker_HandleEvent(t *testing.T) {
	ctx := context.Background()
	sink := memory.New()
	w := NewMirrorWorker(sink)

	alert := core.ExecutionAlert{
		ActionID:   "a1",
		GroupID:    "g1",
		ActionType: core.AddBudget,
		DueDate:    core.NewDate(2024, 2, 29),
		ExecutedAt: time.Date(2024, 2, 29, 6, 0, 0, 0, time.UTC),
		Err:        "execution failure: budget b1: not found",
	}
	ev := events.NewExecutionFailed(alert)

	for i := 0; i < 2; i++ {
		if err := w.HandleEvent(ctx, &ev); err != nil {
			t.Fatalf("HandleEvent: %v", err)
		}
	}
	rows := sink.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 mirrored row, got %d", len(rows))
	}
	if rows[0].ActionID != "a1" || rows[0].DueDate != "2024-02-29" || rows[0].Error == "" {
		t.Errorf("unexpected row %+v", rows[0])
	}

	t.Run("writer failure requeues", func(t *testing.T) {
		err := NewMirrorWorker(failingWriter{}).HandleEvent(ctx, &ev)
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("nil event", func(t *testing.T) {
		if err := w.HandleEvent(ctx, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
