package core

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the ledger and scheduler. Callers match them with
// errors.Is; the concrete error may carry more detail.
var (
	ErrInconsistentEntry       = errors.New("inconsistent entry")
	ErrInvalidActionDefinition = errors.New("invalid action definition")
	ErrExecutionFailure        = errors.New("execution failure")
	ErrConcurrentClaimLost     = errors.New("concurrent claim lost")
	ErrOccurrenceExecuted      = errors.New("occurrence already executed")
	ErrNotFound                = errors.New("not found")

	ErrInvalidEntry      = errors.New("invalid entry")
	ErrAlreadyDeleted    = errors.New("already deleted")
	ErrConcurrentUpdate  = errors.New("concurrent update")
	ErrInvalidPageCursor = errors.New("invalid page cursor")
	ErrAlreadyExists     = errors.New("already exists")
)

// InconsistentEntryError reports an entry whose participant shares do not
// add up to its total.
type InconsistentEntryError struct {
	EntryID  string
	Currency string
	Total    Money
	Paid     Money
	Owed     Money
	Reason   string
}

func (e *InconsistentEntryError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: entry %s: %s", ErrInconsistentEntry, e.EntryID, e.Reason)
	}
	return fmt.Sprintf("%s: entry %s: total %s %s, paid shares %s, owed shares %s",
		ErrInconsistentEntry, e.EntryID, e.Total, e.Currency, e.Paid, e.Owed)
}

func (e *InconsistentEntryError) Unwrap() error { return ErrInconsistentEntry }

// ValidationError names the offending field of a rejected request.
type ValidationError struct {
	Kind   error
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Kind, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

func invalidAction(field, reason string) error {
	return &ValidationError{Kind: ErrInvalidActionDefinition, Field: field, Reason: reason}
}

func invalidEntry(field, reason string) error {
	return &ValidationError{Kind: ErrInvalidEntry, Field: field, Reason: reason}
}

// InvalidAction builds an ErrInvalidActionDefinition for the named field.
func InvalidAction(field, reason string) error {
	return invalidAction(field, reason)
}

// InvalidEntry builds an ErrInvalidEntry for the named field.
func InvalidEntry(field, reason string) error {
	return invalidEntry(field, reason)
}
