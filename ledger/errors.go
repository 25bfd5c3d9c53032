/*
errors.go - Error taxonomy shared by every component

PURPOSE:
  All error types in one place. Components return these directly; callers
  branch with errors.Is on the sentinels or errors.As on the structured
  types when they need the details (e.g. the available amount).

ERROR CATEGORIES:
  1. ValidationError             - bad input, never retryable
  2. InsufficientAvailableError  - payout larger than what is releasable
  3. DuplicateReceiptError       - receipt already issued (benign no-op)
  4. PersistenceError            - storage failure, propagated unmodified
  5. ReconciliationItemError     - any of the above, scoped to one batch item

USAGE:
  _, err := executor.Execute(ctx, id, amount, meta)
  var short *ledger.InsufficientAvailableError
  if errors.As(err, &short) {
      // retry with short.Available
  }

SEE ALSO:
  - commission/payout.go: raises InsufficientAvailableError
  - commission/reconcile.go: wraps item failures
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks input that can never succeed as given.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientAvailable is returned when a payout exceeds availability.
	ErrInsufficientAvailable = errors.New("insufficient available amount")

	// ErrDuplicateReceipt is returned by the store when a receipt already
	// exists for the payout. Callers treat it as "already done".
	ErrDuplicateReceipt = errors.New("receipt already exists for payout")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when inserting a record whose key is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConcurrentModification is returned when the optimistic version
	// check on an entitlement fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNothingAvailable is returned by ReleaseAvailable when there is
	// nothing to pay out.
	ErrNothingAvailable = errors.New("nothing available to release")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientAvailableError carries the amount that could have been paid.
type InsufficientAvailableError struct {
	EntitlementID EntitlementID
	Requested     decimal.Decimal
	Available     decimal.Decimal
}

func (e *InsufficientAvailableError) Error() string {
	return fmt.Sprintf("insufficient available amount for %s: requested %s, available %s",
		e.EntitlementID, e.Requested, e.Available)
}

func (e *InsufficientAvailableError) Unwrap() error { return ErrInsufficientAvailable }

// DuplicateReceiptError identifies the receipt that already exists.
type DuplicateReceiptError struct {
	PayoutID PayoutID
	Existing Receipt
}

func (e *DuplicateReceiptError) Error() string {
	return fmt.Sprintf("receipt %s already exists for payout %s", e.Existing.ID, e.PayoutID)
}

func (e *DuplicateReceiptError) Unwrap() error { return ErrDuplicateReceipt }

// PersistenceError wraps a storage failure with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err unless it is nil or already a domain error.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrDuplicateReceipt) || errors.Is(err, ErrConcurrentModification) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// ReconciliationItemError scopes a failure to one entitlement of a batch.
type ReconciliationItemError struct {
	EntitlementID EntitlementID
	Stage         string // "availability", "receipt", "payout"
	Err           error
}

func (e *ReconciliationItemError) Error() string {
	return fmt.Sprintf("reconcile %s (%s): %v", e.EntitlementID, e.Stage, e.Err)
}

func (e *ReconciliationItemError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientAvailable) ||
		errors.Is(err, ErrAlreadyExists)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
