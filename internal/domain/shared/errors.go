// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// Storage errors
	ErrStorage  = errors.New("storage error")
	ErrConflict = errors.New("concurrent update conflict")

	// State errors
	ErrInvalidState = errors.New("invalid state")
	ErrExpired      = errors.New("expired")

	// Multiplier errors
	ErrMultiplierRejected = errors.New("multiplier activation rejected")

	// Migration errors
	ErrMigrationCategory = errors.New("category migration failed")
	ErrIntegrity         = errors.New("integrity violation")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "ledger", "multiplier", "migration"
	Op      string // Operation that failed, e.g., "Award", "Activate"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Ledger domain errors
var (
	ErrInvalidAmount       = NewDomainError("ledger", "Validate", ErrInvalidInput, "amount must be a non-zero integer")
	ErrInvalidSource       = NewDomainError("ledger", "Validate", ErrInvalidInput, "unknown source tag")
	ErrInvalidOperationID  = NewDomainError("ledger", "Validate", ErrInvalidID, "invalid operation ID")
	ErrTransactionNotFound = NewDomainError("ledger", "Find", ErrNotFound, "transaction not found")
	ErrStatsNotFound       = NewDomainError("ledger", "GetStats", ErrNotFound, "stats row not found")
	ErrRetryBudgetExceeded = NewDomainError("ledger", "Apply", ErrConflict, "concurrent-update retry budget exhausted")
)

// Multiplier domain errors
var (
	ErrMultiplierIneligible = NewDomainError("multiplier", "Activate", ErrMultiplierRejected, "streak too short for activation")
	ErrMultiplierActive     = NewDomainError("multiplier", "Activate", ErrMultiplierRejected, "a multiplier is already active")
	ErrMultiplierNotActive  = NewDomainError("multiplier", "Deactivate", ErrInvalidState, "no multiplier is active")
)

// Migration domain errors
var (
	ErrLegacyStoreUnavailable = NewDomainError("migration", "Read", ErrStorage, "legacy store is unavailable")
	ErrCountMismatch          = NewDomainError("migration", "Verify", ErrIntegrity, "legacy and target row counts differ")
	ErrOrphanRows             = NewDomainError("migration", "Verify", ErrIntegrity, "child rows reference missing parents")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsStorage checks if the error came from the persistence layer.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsConflict checks if the error is a concurrent-update conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsRetryable checks if the operation can be retried with the same
// idempotency key. Validation failures and multiplier rejections are final.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrConflict)
}
