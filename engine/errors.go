/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All error types in one place. The taxonomy mirrors what callers need to
  display or map to transport status codes:

    VALIDATION          malformed input (zero quantity, empty year, ...)
    NOT_FOUND           referenced textbook/branch/set/allocation absent
    INSUFFICIENT_STOCK  allocation would exceed availableStock; carries the
                        offending textbook id plus required/available
    CONFLICT            illegal state transition (over-returning a line,
                        deleting an allocation with recorded returns,
                        duplicate idempotency key)
    INTERNAL            persistence failure, surfaced as-is

PROPAGATION POLICY:
  Allocation, return, and deletion each commit as a single all-or-nothing
  unit. Any failure aborts the whole operation with no partial stock
  mutation. None of these errors are retried automatically: re-submitting a
  create would double-allocate stock.

USAGE:
  if errors.Is(err, engine.ErrInsufficientStock) { ... }

  var short *engine.InsufficientStockError
  if errors.As(err, &short) {
      fmt.Println(short.TextbookID, short.Required, short.Available)
  }
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is the base for all missing-record errors.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is returned when a reservation exceeds a
	// textbook's availableStock. No mutation occurs on failure.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientAvailableStock is returned when an administrative
	// totalStock reduction would make availableStock negative relative to
	// outstanding allocations.
	ErrInsufficientAvailableStock = errors.New("insufficient available stock for resize")

	// ErrConflict is the base for illegal state transitions.
	ErrConflict = errors.New("conflict")

	// ErrHasReturns is returned when deleting an allocation that already has
	// a recorded return. Deletion would corrupt the stock ledger.
	ErrHasReturns = fmt.Errorf("%w: distribution has returns", ErrConflict)

	// ErrOverReturn is returned when a return line's cumulative
	// returned+missing would exceed its distributed quantity. The whole
	// return request is rejected; the engine never clamps.
	ErrOverReturn = fmt.Errorf("%w: return exceeds distributed quantity", ErrConflict)

	// ErrDuplicateIdempotencyKey is returned when an allocation request
	// re-uses a key. Expected behavior for accidental double-submission.
	ErrDuplicateIdempotencyKey = fmt.Errorf("%w: duplicate idempotency key", ErrConflict)

	// ErrValidation is the base for malformed-input errors.
	ErrValidation = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError reports a missing referenced record.
type NotFoundError struct {
	Kind string // "textbook", "branch", "set", "teacher", "student", "distribution"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError reports a stock shortage with the numbers callers
// need for precise user messaging.
type InsufficientStockError struct {
	TextbookID TextbookID
	Required   int
	Available  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for textbook %s: required %d, available %d",
		e.TextbookID, e.Required, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// OverReturnError reports a return line whose cumulative quantities would
// exceed what was distributed.
type OverReturnError struct {
	TextbookID  TextbookID
	Distributed int
	Returned    int // cumulative after applying the rejected line
	Missing     int
}

func (e *OverReturnError) Error() string {
	return fmt.Sprintf("over-return for textbook %s: %d returned + %d missing exceeds %d distributed",
		e.TextbookID, e.Returned, e.Missing, e.Distributed)
}

func (e *OverReturnError) Unwrap() error { return ErrOverReturn }

// ValidationError reports malformed input on a specific field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether the error is an illegal state transition.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether the error is malformed input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsClientError reports whether the error is the caller's fault and safe to
// show to a user. Everything else is INTERNAL.
func IsClientError(err error) bool {
	return IsValidation(err) ||
		IsNotFound(err) ||
		IsConflict(err) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientAvailableStock)
}
