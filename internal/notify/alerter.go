// Package notify raises operational alerts when a scheduled action fails.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"splitledger/internal/core"
	"splitledger/internal/events"
	applog "splitledger/internal/log"
)

// Alerter is told about every failed execution. Alerts are best effort: an
// error is logged by the caller and never changes the execution outcome.
type Alerter interface {
	Alert(ctx context.Context, a core.ExecutionAlert) error
}

// LogAlerter writes the alert to the structured log.
type LogAlerter struct{}

func (LogAlerter) Alert(ctx context.Context, a core.ExecutionAlert) error {
	slog.ErrorContext(ctx, "Scheduled action execution failed",
		applog.FieldActionID, a.ActionID,
		applog.FieldGroupID, a.GroupID,
		"action_type", a.ActionType,
		applog.FieldDueDate, a.DueDate.String(),
		applog.FieldError, a.Err)
	return nil
}

// EventAlerter publishes the alert on the event bus.
type EventAlerter struct {
	Publisher events.Publisher
}

func (e EventAlerter) Alert(ctx context.Context, a core.ExecutionAlert) error {
	return e.Publisher.Publish(ctx, events.NewExecutionFailed(a))
}

// Multi forwards the alert to every alerter, even after one fails.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, a core.ExecutionAlert) error {
	var errs []error
	for _, al := range m {
		if err := al.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("alert %s: %v", a.ActionID, errs)
	}
	return nil
}
