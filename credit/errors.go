/*
errors.go - Centralized error types for the credit engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error the engine can return has a distinct, stable kind so the
  HTTP boundary can translate it without string matching.

ERROR CATEGORIES:
  1. Validation errors - rejected before any mutation commits
     (NotFoundError, InsufficientCreditError, OverpaymentError,
      ExceedsBalanceError)
  2. Store errors - transient conflicts, retried by retry.go
     (ErrTransactionConflict, TransactionConflictError on exhaustion)
  3. Deadline errors - caller deadline exceeded mid-retry (TimeoutError)
  4. Invariant violations - a bug, never retried, surfaced loudly
     (InvariantViolationError)

USAGE:
  Callers match with errors.Is / errors.As:

    var overpay *credit.OverpaymentError
    if errors.As(err, &overpay) {
        // overpay.Requested, overpay.Remaining
    }

SEE ALSO:
  - retry.go: Uses ErrTransactionConflict to decide retryability
  - statement.go: Emits InvariantViolationError on balance mismatch
*/
package credit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCustomerNotFound is returned when a referenced customer doesn't exist.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrCreditLineNotFound is returned when a referenced credit line doesn't exist.
	ErrCreditLineNotFound = errors.New("credit line not found")

	// ErrInsufficientCredit is returned when issuance exceeds available credit.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrOverpayment is returned when a single-line payment exceeds that
	// line's remaining balance. Never clamped silently.
	ErrOverpayment = errors.New("payment exceeds credit line remaining")

	// ErrExceedsBalance is returned when a bulk payment exceeds the
	// customer's total balance.
	ErrExceedsBalance = errors.New("payment exceeds customer balance")

	// ErrTransactionConflict is the transient conflict signal from the store
	// (serialization failure, lock timeout, "transaction became invalid").
	// Operations hitting it are retried by the retry coordinator.
	ErrTransactionConflict = errors.New("transient transaction conflict")

	// ErrInvariantViolation indicates a post-condition check failed.
	// This is a bug, not user error, and is never retried.
	ErrInvariantViolation = errors.New("balance invariant violated")

	// ErrInvalidAmount is returned when an operation receives a non-positive amount.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// =============================================================================
// STRUCTURED ERRORS - Carry enough detail to correct the input
// =============================================================================

// NotFoundError reports a missing customer or credit line.
type NotFoundError struct {
	Kind string // "customer" or "credit line"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	if e.Kind == "credit line" {
		return ErrCreditLineNotFound
	}
	return ErrCustomerNotFound
}

// InsufficientCreditError reports an availability shortfall at issuance.
type InsufficientCreditError struct {
	CustomerID CustomerID
	Requested  Money
	Available  Money
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit for customer %s: requested %s, available %s",
		e.CustomerID, e.Requested, e.Available)
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

// OverpaymentError reports a single-line payment larger than the line's
// remaining balance.
type OverpaymentError struct {
	CreditLineID CreditLineID
	Requested    Money
	Remaining    Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s exceeds remaining %s on credit line %s",
		e.Requested, e.Remaining, e.CreditLineID)
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// ExceedsBalanceError reports a bulk payment larger than the customer owes.
type ExceedsBalanceError struct {
	CustomerID CustomerID
	Requested  Money
	Balance    Money
}

func (e *ExceedsBalanceError) Error() string {
	return fmt.Sprintf("bulk payment of %s exceeds balance %s for customer %s",
		e.Requested, e.Balance, e.CustomerID)
}

func (e *ExceedsBalanceError) Unwrap() error { return ErrExceedsBalance }

// TransactionConflictError is returned after the retry budget is exhausted
// on a transient store conflict. The last underlying error is preserved.
type TransactionConflictError struct {
	Attempts int
	Last     error
}

func (e *TransactionConflictError) Error() string {
	return fmt.Sprintf("transaction conflict persisted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *TransactionConflictError) Unwrap() error { return ErrTransactionConflict }

// TimeoutError is returned when the caller's deadline expires before the
// retry loop completes. Distinct from conflict exhaustion so callers can
// tell "still contended" from "gave up".
type TimeoutError struct {
	Attempts int
	Cause    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("deadline exceeded after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// InvariantViolationError reports a detected inconsistency between the
// denormalized customer balance and the replayed ledger. Indicates a logic
// or data bug; callers should log it with the full entry dump.
type InvariantViolationError struct {
	CustomerID CustomerID
	Cached     Money // customer.CurrentBalance at read time
	Replayed   Money // final balance from ledger replay
	Detail     string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("balance invariant violated for customer %s: cached %s, replayed %s (%s)",
		e.CustomerID, e.Cached, e.Replayed, e.Detail)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrExceedsBalance) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrCreditLineNotFound)
}
