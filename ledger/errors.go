/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every structured error unwraps to a sentinel so callers can branch with
  errors.Is and still pull details out with errors.As.

ERROR CATEGORIES:
  1. Validation errors - collected, reported together (Problems)
  2. Stock errors - insufficient balance, pending exceeded
  3. State errors - locked documents, ledger integrity failures
  4. Store errors - missing rows, database failures

USAGE:
  err := engine.Create(ctx, doc)
  var short *ledger.InsufficientStockError
  if errors.As(err, &short) {
      fmt.Println(short.Available, short.Required)
  }

SEE ALSO:
  - validate.go: produces Problems
  - revision.go: produces LockedError and IntegrityError
  - api/handlers.go: maps errors to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks a recoverable input problem on a field or line.
	ErrValidation = errors.New("validation failed")

	// ErrNoItems is returned when a document has no surviving lines.
	ErrNoItems = errors.New("no items")

	// ErrOutOfPeriod is returned when a date falls outside the active period.
	ErrOutOfPeriod = errors.New("date outside active period")

	// ErrInsufficientStock is returned when a decrease exceeds the balance.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrPendingExceeded is returned when a return exceeds the pending quantity.
	ErrPendingExceeded = errors.New("return exceeds pending quantity")

	// ErrLockedForEditing is returned when a DeliveryOut already has returns.
	ErrLockedForEditing = errors.New("document locked for editing")

	// ErrIntegrity is returned when the ledger and the line history disagree.
	ErrIntegrity = errors.New("ledger integrity failure")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrNoActivePeriod is returned when no active period is configured.
	ErrNoActivePeriod = errors.New("no active period configured")

	// ErrInvalidPeriod is returned when a period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrReturnedOutOfRange is returned by stores when a returned-quantity
	// adjustment would leave [0, issued].
	ErrReturnedOutOfRange = errors.New("returned quantity out of range")

	// ErrDuplicate is returned when a unique name or reference is already used.
	ErrDuplicate = errors.New("already exists")

	// ErrUnknownKind is returned for a kind with no registered spec.
	ErrUnknownKind = errors.New("unknown document kind")

	// ErrLockBusy is returned by a Locker when a key stays held past its wait.
	ErrLockBusy = errors.New("stock key busy")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// HeaderField is the Line value of a FieldError that concerns the header.
const HeaderField = -1

// FieldError is a single validation problem on a header field or a line.
type FieldError struct {
	Field   string
	Line    int // index into the surviving lines, or HeaderField
	Message string
	Cause   error // optional finer sentinel (e.g. ErrNoItems)
}

func (e *FieldError) Error() string {
	if e.Line == HeaderField {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("line %d %s: %s", e.Line+1, e.Field, e.Message)
}

func (e *FieldError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrValidation, e.Cause}
	}
	return []error{ErrValidation}
}

// OutOfPeriodError reports a date outside the active period.
type OutOfPeriodError struct {
	Date  time.Time
	Start time.Time
	End   time.Time
}

func (e *OutOfPeriodError) Error() string {
	return fmt.Sprintf("date %s outside active period [%s, %s]",
		e.Date.Format(DateLayout), e.Start.Format(DateLayout), e.End.Format(DateLayout))
}

func (e *OutOfPeriodError) Unwrap() error {
	return ErrOutOfPeriod
}

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	Line      int
	Item      ItemID
	Warehouse WarehouseID
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s in %s: available %s, required %s",
		e.Item, e.Warehouse, e.Available, e.Required)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// PendingExceededError reports a return larger than what is still out.
type PendingExceededError struct {
	Line      int
	Source    LineID
	Pending   decimal.Decimal
	Requested decimal.Decimal
}

func (e *PendingExceededError) Error() string {
	return fmt.Sprintf("return of %s against line %s exceeds pending %s",
		e.Requested, e.Source, e.Pending)
}

func (e *PendingExceededError) Unwrap() error {
	return ErrPendingExceeded
}

// LockedError reports a DeliveryOut that already has returns recorded.
type LockedError struct {
	Document DocumentID
	Returns  int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("document %s has %d return line(s) recorded and cannot be changed",
		e.Document, e.Returns)
}

func (e *LockedError) Unwrap() error {
	return ErrLockedForEditing
}

// IntegrityError reports a divergence found while reversing a document.
// It indicates a bug, never bad input.
type IntegrityError struct {
	Document DocumentID
	Key      Key
	Source   LineID
	Detail   string
}

func (e *IntegrityError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("integrity failure reversing %s: line %s: %s", e.Document, e.Source, e.Detail)
	}
	return fmt.Sprintf("integrity failure reversing %s: %s: %s", e.Document, e.Key, e.Detail)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// =============================================================================
// PROBLEMS - collected validation-class errors
// =============================================================================

// Problems holds every validation-class error found in one pass.
// errors.Is and errors.As see each element.
type Problems []error

func (p Problems) Error() string {
	msgs := make([]string, len(p))
	for i, err := range p {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (p Problems) Unwrap() []error {
	return p
}

// Err returns nil for an empty set.
func (p Problems) Err() error {
	if len(p) == 0 {
		return nil
	}
	return p
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to input the caller can fix.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrOutOfPeriod) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrPendingExceeded) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrNoActivePeriod) ||
		errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrUnknownKind)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// NotFound wraps ErrNotFound with the kind and id of the missing record.
func NotFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
}
