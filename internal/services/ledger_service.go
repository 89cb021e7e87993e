package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"splitledger/internal/cache"
	"splitledger/internal/core"
	"splitledger/internal/events"
	applog "splitledger/internal/log"
	"splitledger/internal/storage"
	"splitledger/internal/storage/cursor"
)

// LedgerRepository is the part of the store the ledger service writes to.
type LedgerRepository interface {
	storage.LedgerStore
	storage.BudgetStore
}

// ExpenseInput describes a group expense. Either Shares is given, or PaidBy
// and SplitPct are used to derive the shares.
type ExpenseInput struct {
	Amount      core.Money
	Currency    string
	Description string
	Sign        core.Sign // defaults to debit
	AddedTime   time.Time // defaults to now
	PaidBy      string
	SplitPct    map[string]decimal.Decimal
	Shares      []core.Share
	CreatedBy   string
}

type BudgetEntryInput struct {
	Amount      core.Money
	Currency    string
	Description string
	Type        core.Sign
	AddedTime   time.Time
	CreatedBy   string
}

// EntryPage is one page of live entries, newest first.
type EntryPage struct {
	Entries    []core.LedgerEntry
	NextCursor string
}

// LedgerService orchestrates ledger writes against the store and the event
// bus, and serves balance and budget reads.
type LedgerService struct {
	store           LedgerRepository
	publisher       events.Publisher
	entries         *cache.LRUCache[[]core.LedgerEntry]
	now             func() time.Time
	newID           func() string
	defaultCurrency string
}

func NewLedgerService(store LedgerRepository, publisher events.Publisher, defaultCurrency string) *LedgerService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &LedgerService{
		store:           store,
		publisher:       publisher,
		now:             time.Now,
		newID:           uuid.NewString,
		defaultCurrency: defaultCurrency,
	}
}

// WithCache enables the read cache of live entries.
func (s *LedgerService) WithCache(c *cache.LRUCache[[]core.LedgerEntry]) *LedgerService {
	s.entries = c
	return s
}

// WithClock replaces the wall clock.
func (s *LedgerService) WithClock(now func() time.Time) *LedgerService {
	s.now = now
	return s
}

func (s *LedgerService) AddExpense(ctx context.Context, groupID string, in ExpenseInput) (core.LedgerEntry, error) {
	sign := in.Sign
	if sign == "" {
		sign = core.Debit
	}
	shares := in.Shares
	if len(shares) == 0 {
		if strings.TrimSpace(in.PaidBy) == "" {
			return core.LedgerEntry{}, core.InvalidEntry("paidByUserId", "is required without explicit shares")
		}
		var err error
		shares, err = core.ExpenseShares(in.Amount, in.PaidBy, in.SplitPct)
		if err != nil {
			return core.LedgerEntry{}, err
		}
	}

	e := core.LedgerEntry{
		ID:           s.newID(),
		GroupID:      groupID,
		AddedTime:    s.addedTime(in.AddedTime),
		Amount:       in.Amount,
		Sign:         sign,
		Currency:     strings.TrimSpace(in.Currency),
		Description:  strings.TrimSpace(in.Description),
		Participants: shares,
		CreatedBy:    in.CreatedBy,
	}
	return s.append(ctx, e)
}

func (s *LedgerService) AddBudgetEntry(ctx context.Context, budgetID string, in BudgetEntryInput) (core.LedgerEntry, error) {
	b, err := s.store.GetBudget(ctx, budgetID)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	e := core.LedgerEntry{
		ID:          s.newID(),
		GroupID:     b.GroupID,
		BudgetID:    b.ID,
		AddedTime:   s.addedTime(in.AddedTime),
		Amount:      in.Amount,
		Sign:        in.Type,
		Currency:    strings.TrimSpace(in.Currency),
		Description: strings.TrimSpace(in.Description),
		CreatedBy:   in.CreatedBy,
	}
	return s.append(ctx, e)
}

func (s *LedgerService) addedTime(t time.Time) time.Time {
	if t.IsZero() {
		return s.now().UTC()
	}
	return t.UTC()
}

func (s *LedgerService) append(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, error) {
	if err := e.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}
	if _, err := s.store.Append(ctx, e); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("save ledger entry: %w", err)
	}
	s.EntryCommitted(ctx, e)
	return e, nil
}

// EntryCommitted invalidates cached reads for the entry and announces it.
// Used for entries written outside the service, such as scheduled runs.
func (s *LedgerService) EntryCommitted(ctx context.Context, e core.LedgerEntry) {
	s.invalidate(e)
	s.publish(ctx, events.NewEntryCreated(e, s.now()))
}

func (s *LedgerService) DeleteEntry(ctx context.Context, id string) (core.LedgerEntry, error) {
	e, err := s.store.SoftDelete(ctx, id, s.now().UTC())
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("soft delete ledger entry: %w", err)
	}
	s.invalidate(e)
	s.publish(ctx, events.NewEntryDeleted(e, s.now()))
	return e, nil
}

func (s *LedgerService) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		// The write is committed; the event is lost, not the entry.
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			applog.FieldEventID, ev.ID,
			"kind", ev.Kind,
			applog.FieldError, err)
	}
}

func groupKey(groupID string) string   { return "group:" + groupID }
func budgetKey(budgetID string) string { return "budget:" + budgetID }

func (s *LedgerService) invalidate(e core.LedgerEntry) {
	if s.entries == nil {
		return
	}
	s.entries.Delete(groupKey(e.GroupID))
	if e.BudgetID != "" {
		s.entries.Delete(budgetKey(e.BudgetID))
	}
}

func (s *LedgerService) cached(key string, load func() ([]core.LedgerEntry, error)) ([]core.LedgerEntry, error) {
	if s.entries != nil {
		if v, ok := s.entries.Get(key); ok {
			return v, nil
		}
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	if s.entries != nil {
		s.entries.Set(key, v)
	}
	return v, nil
}

func (s *LedgerService) groupEntries(ctx context.Context, groupID string) ([]core.LedgerEntry, error) {
	return s.cached(groupKey(groupID), func() ([]core.LedgerEntry, error) {
		return s.store.QueryLive(ctx, groupID)
	})
}

func (s *LedgerService) budgetEntries(ctx context.Context, budgetID string) ([]core.LedgerEntry, error) {
	if _, err := s.store.GetBudget(ctx, budgetID); err != nil {
		return nil, err
	}
	return s.cached(budgetKey(budgetID), func() ([]core.LedgerEntry, error) {
		return s.store.QueryLiveBudget(ctx, budgetID)
	})
}

// Balances returns every user's net position per currency in the group.
func (s *LedgerService) Balances(ctx context.Context, groupID string) (core.Balances, error) {
	entries, err := s.groupEntries(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return ComputeBalances(entries)
}

// BalancesFor returns the group's balances relative to viewer.
func (s *LedgerService) BalancesFor(ctx context.Context, groupID, viewer string) (core.Balances, error) {
	entries, err := s.groupEntries(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return BalancesFor(entries, viewer)
}

func (s *LedgerService) Debts(ctx context.Context, groupID string) ([]core.Debt, error) {
	entries, err := s.groupEntries(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return ComputeDebts(entries)
}

// ListEntries pages through the group's live entries, newest first.
func (s *LedgerService) ListEntries(ctx context.Context, groupID, pageToken string, limit int) (EntryPage, error) {
	return s.listEntries(ctx, storage.EntryQuery{GroupID: groupID}, groupKey(groupID), pageToken, limit)
}

// ListBudgetEntries pages through the budget's live entries, newest first.
func (s *LedgerService) ListBudgetEntries(ctx context.Context, budgetID, pageToken string, limit int) (EntryPage, error) {
	if _, err := s.store.GetBudget(ctx, budgetID); err != nil {
		return EntryPage{}, err
	}
	return s.listEntries(ctx, storage.EntryQuery{BudgetID: budgetID}, budgetKey(budgetID), pageToken, limit)
}

func (s *LedgerService) listEntries(ctx context.Context, q storage.EntryQuery, filter, pageToken string, limit int) (EntryPage, error) {
	limit = clampPageSize(limit)
	q.Limit = limit + 1
	if pageToken != "" {
		c, err := cursor.Decode(pageToken)
		if err != nil {
			return EntryPage{}, fmt.Errorf("%w: %v", core.ErrInvalidPageCursor, err)
		}
		if err := cursor.ValidateFilter(c, cursor.DirectionBackward, filter); err != nil {
			return EntryPage{}, fmt.Errorf("%w: %v", core.ErrInvalidPageCursor, err)
		}
		q.BeforeSeq = c.Seq
	}

	entries, err := s.store.ListEntries(ctx, q)
	if err != nil {
		return EntryPage{}, err
	}
	page := EntryPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		token, err := cursor.Encode(cursor.NewNextPageCursor(page.Entries[limit-1].Seq, true, filter))
		if err != nil {
			return EntryPage{}, err
		}
		page.NextCursor = token
	}
	return page, nil
}

func (s *LedgerService) CreateBudget(ctx context.Context, groupID, name string) (core.Budget, error) {
	b := core.Budget{
		ID:        s.newID(),
		GroupID:   strings.TrimSpace(groupID),
		Name:      strings.TrimSpace(name),
		CreatedAt: s.now().UTC(),
	}
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	if err := s.store.CreateBudget(ctx, b); err != nil {
		return core.Budget{}, err
	}
	return b, nil
}

func (s *LedgerService) GetBudget(ctx context.Context, id string) (core.Budget, error) {
	return s.store.GetBudget(ctx, id)
}

func (s *LedgerService) ListBudgets(ctx context.Context, groupID string) ([]core.Budget, error) {
	return s.store.ListBudgets(ctx, groupID)
}

// BudgetMonthly returns the contiguous monthly series for one currency,
// resolved against now.
func (s *LedgerService) BudgetMonthly(ctx context.Context, budgetID, currency string, r BudgetRange, now time.Time) ([]core.MonthlyTotal, error) {
	entries, err := s.budgetEntries(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	return ComputeMonthly(entries, currency, r, now), nil
}

func (s *LedgerService) BudgetReport(ctx context.Context, budgetID string, r BudgetRange, now time.Time) (core.MonthlyReport, error) {
	entries, err := s.budgetEntries(ctx, budgetID)
	if err != nil {
		return core.MonthlyReport{}, err
	}
	return BuildMonthlyReport(entries, r, now, s.defaultCurrency), nil
}

func (s *LedgerService) BudgetTotal(ctx context.Context, budgetID, currency string) (core.Money, error) {
	if currency == "" {
		currency = s.defaultCurrency
	}
	entries, err := s.budgetEntries(ctx, budgetID)
	if err != nil {
		return core.Money{}, err
	}
	return ComputeTotal(entries, currency), nil
}

func (s *LedgerService) Close() error {
	var errs []error
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	if c, ok := s.store.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
