package worker

import (
	"context"
	"fmt"
	"log/slog"

	"splitledger/internal/events"
	applog "splitledger/internal/log"
	"splitledger/internal/sheets"
)

// MirrorWorker copies ledger and scheduler events into an append-only audit
// sheet. It is fed by the AMQP consumer; returning an error requeues the
// message.
type MirrorWorker struct {
	writer sheets.AuditWriter
}

func NewMirrorWorker(writer sheets.AuditWriter) *MirrorWorker {
	return &MirrorWorker{writer: writer}
}

// HandleEvent processes a single event delivered from AMQP.
func (w *MirrorWorker) HandleEvent(ctx context.Context, ev *events.Event) error {
	if ev == nil {
		return nil
	}
	slog.InfoContext(ctx, "Processing ledger event",
		applog.FieldEventID, ev.ID,
		"kind", ev.Kind,
		applog.FieldGroupID, ev.GroupID)

	row := sheets.RowFromEvent(*ev)
	ref, err := w.writer.AppendAudit(ctx, row)
	if err != nil {
		return fmt.Errorf("append audit row: %w", err)
	}
	if ref == "" {
		slog.DebugContext(ctx, "Event already mirrored", applog.FieldEventID, ev.ID)
		return nil
	}

	slog.InfoContext(ctx, "Successfully mirrored event",
		applog.FieldOperation, applog.OpMirror,
		applog.FieldEventID, ev.ID,
		"kind", ev.Kind,
		applog.FieldSheetsRef, ref,
		applog.FieldEntryID, row.EntryID,
		applog.FieldActionID, row.ActionID)
	return nil
}
