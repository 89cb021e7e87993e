package services

import (
	"context"
	"fmt"
	"strings"

	"splitledger/internal/core"
	"splitledger/internal/storage"
	"splitledger/internal/storage/cursor"
)

// HistoryPage is one chronological page of an action's executions.
type HistoryPage struct {
	Records    []core.HistoryRecord
	NextCursor string
}

// HistoryReader pages through execution history by ascending sequence. The
// sequence is assigned at commit under SQLite's single-writer lock, so a
// row appended after a page was read always sorts after that page.
type HistoryReader struct {
	actions storage.ActionStore
	history storage.HistoryStore
}

func NewHistoryReader(actions storage.ActionStore, history storage.HistoryStore) *HistoryReader {
	return &HistoryReader{actions: actions, history: history}
}

func (h *HistoryReader) ListHistory(ctx context.Context, actionID, pageToken, status string, limit int) (HistoryPage, error) {
	if _, err := h.actions.GetAction(ctx, actionID); err != nil {
		return HistoryPage{}, err
	}

	st := core.ExecutionStatus(strings.ToLower(strings.TrimSpace(status)))
	if st != "" && !st.Valid() {
		return HistoryPage{}, core.InvalidEntry("status", fmt.Sprintf("must be succeeded or failed, got %q", status))
	}

	filter := actionID + "|" + string(st)
	limit = clampPageSize(limit)
	q := storage.HistoryQuery{ActionID: actionID, Status: st, Limit: limit + 1}
	if pageToken != "" {
		c, err := cursor.Decode(pageToken)
		if err != nil {
			return HistoryPage{}, fmt.Errorf("%w: %v", core.ErrInvalidPageCursor, err)
		}
		if err := cursor.ValidateFilter(c, cursor.DirectionForward, filter); err != nil {
			return HistoryPage{}, fmt.Errorf("%w: %v", core.ErrInvalidPageCursor, err)
		}
		q.AfterSeq = c.Seq
	}

	records, err := h.history.ListHistory(ctx, q)
	if err != nil {
		return HistoryPage{}, err
	}
	page := HistoryPage{Records: records}
	if len(records) > limit {
		page.Records = records[:limit]
		token, err := cursor.Encode(cursor.NewNextPageCursor(page.Records[limit-1].Seq, false, filter))
		if err != nil {
			return HistoryPage{}, err
		}
		page.NextCursor = token
	}
	return page, nil
}
