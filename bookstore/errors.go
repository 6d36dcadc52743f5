/*
errors.go - Centralized error types for the bookstore engine

ERROR CATEGORIES:
  1. Lookup errors     - NotFound
  2. Validation errors - InvalidInput, InsufficientStock, InsufficientFunds
  3. Integrity errors  - Conflict, DuplicateKey
  4. Store errors      - ProcessingFailure (unexpected fault inside a write)

USAGE:
  Every structured error unwraps to its sentinel, so callers branch with
  errors.Is and read details with errors.As:

    var stock *bookstore.InsufficientStockError
    if errors.As(err, &stock) {
        fmt.Println(stock.Available)
    }
*/
package bookstore

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrConflict          = errors.New("conflict")

	// ErrDuplicateKey is returned by stores when a unique key (book code,
	// idempotency key) already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrProcessingFailure marks an unexpected fault during a compound write.
	// The write has been rolled back.
	ErrProcessingFailure = errors.New("processing failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the entity and key that did not resolve.
type NotFoundError struct {
	Entity string // "book", "transaction", "ledger entry"
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// InsufficientStockError is returned when a sale exceeds the quantity on hand.
type InsufficientStockError struct {
	BookCode  string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
		e.BookCode, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InsufficientFundsError is returned when a restock or expense exceeds the
// current cash balance.
type InsufficientFundsError struct {
	Available Money
	Required  Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, required %s",
		e.Available.StringFixed(2), e.Required.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ConflictError is returned when an operation is blocked by references.
type ConflictError struct {
	Entity string
	Key    string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.Key, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// DuplicateKeyError names the unique key that already exists.
type DuplicateKeyError struct {
	Entity string
	Key    string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// ProcessingError wraps an unexpected fault raised inside a unit of work.
type ProcessingError struct {
	Op  string
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() []error { return []error{ErrProcessingFailure, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error was caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrDuplicateKey)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrorKind is the stable, machine-readable classification of an error.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindInsufficientStock ErrorKind = "insufficient_stock"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindConflict          ErrorKind = "conflict"
	KindDuplicateKey      ErrorKind = "duplicate_key"
	KindProcessingFailure ErrorKind = "processing_failure"
)

// KindOf classifies err. Anything unrecognised is a processing failure.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrProcessingFailure):
		return KindProcessingFailure
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrDuplicateKey):
		return KindDuplicateKey
	}
	return KindProcessingFailure
}

// classify returns err unchanged when it is already a domain error and
// wraps anything else as a ProcessingError for op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || IsNotFound(err) || errors.Is(err, ErrProcessingFailure) {
		return err
	}
	return &ProcessingError{Op: op, Err: err}
}
