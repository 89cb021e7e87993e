package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"splitledger/internal/sheets"
)

// Store is an in-process audit sink used when no spreadsheet is configured.
type Store struct {
	mu   sync.Mutex
	rows []sheets.AuditRow
	ids  map[string]int
}

var _ sheets.AuditWriter = (*Store)(nil)

func New() *Store {
	return &Store{ids: make(map[string]int)}
}

// AppendAudit stores the row and returns a synthetic row reference.
func (s *Store) AppendAudit(_ context.Context, r sheets.AuditRow) (string, error) {
	if r.EventID == "" {
		return "", errors.New("audit row without event id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.ids[r.EventID]; ok {
		return fmt.Sprintf("mem:%d", n), nil
	}
	s.rows = append(s.rows, r)
	s.ids[r.EventID] = len(s.rows)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of the mirrored rows in append order.
func (s *Store) Rows() []sheets.AuditRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sheets.AuditRow(nil), s.rows...)
}
