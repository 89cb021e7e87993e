package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	applog "splitledger/internal/log"
	"splitledger/internal/services"
)

// Sweeper runs one pass over the due scheduled actions.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (services.SweepResult, error)
}

// Scheduler triggers sweeps on a cron schedule. A sweep that is still
// running when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	sweeper  Sweeper
	schedule string
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	cancel  context.CancelFunc
}

func NewScheduler(sweeper Sweeper, schedule string) *Scheduler {
	return &Scheduler{sweeper: sweeper, schedule: schedule, now: time.Now}
}

// Start runs one sweep immediately, then schedules the rest. Returns an
// error if already running or if the cron expression is invalid.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule sweep %q: %w", s.schedule, err)
	}

	s.cron = c
	s.cancel = cancel
	s.running = true

	s.RunOnce(runCtx)
	c.Start()

	slog.InfoContext(ctx, "Scheduler started", "schedule", s.schedule)
	return nil
}

// RunOnce performs a single sweep and logs its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := s.now()
	res, err := s.sweeper.Sweep(ctx, started)
	if err != nil {
		slog.ErrorContext(ctx, "Scheduler sweep failed", applog.FieldError, err)
		return
	}
	if res.Failed > 0 {
		slog.WarnContext(ctx, "Scheduler sweep had failures",
			"failed", res.Failed,
			"succeeded", res.Succeeded,
			applog.FieldDuration, time.Since(started).Milliseconds())
	}
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	done := c.Stop()
	select {
	case <-done.Done():
		slog.InfoContext(ctx, "Scheduler stopped gracefully")
	case <-ctx.Done():
		cancel()
		slog.WarnContext(ctx, "Scheduler stop timed out")
		return ctx.Err()
	}
	cancel()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{applog.FieldError, err}, keysAndValues...)...)
}
