/*
store.go - Persistence interface for the ledger store

PURPOSE:
  Defines the interface between the domain logic and the database.
  The Store owns all four record kinds (Customer, CreditLine, Payment,
  LedgerEntry); the in-process components never cache cross-request state
  and re-read the authoritative rows inside their own transaction.

KEY INTERFACES:
  Store:    Row-level reads and writes for the four record kinds
  TxStore:  Store plus WithTx for atomic multi-row mutations

APPEND-ONLY CONTRACT:
  Payments and ledger entries have insert operations only. No Update or
  Delete methods exist for them; the interface shape enforces it.

CONFLICT SIGNAL:
  Implementations map their transient failure class (SQLite busy/locked,
  serialization failure, deadlock victim, optimistic-lock mismatch) to
  ErrTransactionConflict so the retry coordinator can absorb it.

MISSING ROWS:
  Get* methods return (nil, nil) for a missing row. Components translate
  that to *NotFoundError; stores never invent domain errors themselves.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - credit/store/memory.go: In-memory for testing

SEE ALSO:
  - manager.go, allocator.go: The only writers of customer balances
  - retry.go: Wraps WithTx calls in the bounded retry loop
*/
package credit

import (
	"context"
	"time"
)

// Store handles persistence of customers, credit lines, payments and
// ledger entries.
type Store interface {
	// GetCustomer returns the customer or (nil, nil) if missing.
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)

	// SaveCustomer upserts a customer row, including CurrentBalance.
	// Inside WithTx this is the per-customer serialization point.
	SaveCustomer(ctx context.Context, c Customer) error

	// ListCustomers returns all customers ordered by name.
	ListCustomers(ctx context.Context) ([]Customer, error)

	// GetCreditLine returns the line or (nil, nil) if missing.
	GetCreditLine(ctx context.Context, id CreditLineID) (*CreditLine, error)

	// InsertCreditLine persists a newly issued line.
	InsertCreditLine(ctx context.Context, cl CreditLine) error

	// UpdateCreditLine persists payment-applied changes to an existing line.
	// The only mutable fields are Paid, Remaining and Status.
	UpdateCreditLine(ctx context.Context, cl CreditLine) error

	// OpenCreditLines returns the customer's non-settled lines ordered by
	// CreatedAt ascending (oldest debt first).
	OpenCreditLines(ctx context.Context, customerID CustomerID) ([]CreditLine, error)

	// CreditLinesByCustomer returns all of a customer's lines, newest first.
	CreditLinesByCustomer(ctx context.Context, customerID CustomerID) ([]CreditLine, error)

	// InsertPayment persists a payment. Payments are immutable.
	InsertPayment(ctx context.Context, p Payment) error

	// AppendEntry persists a ledger entry and returns its store-assigned,
	// strictly increasing ID. Entries are never updated or deleted.
	AppendEntry(ctx context.Context, e LedgerEntry) (EntryID, error)

	// EntriesByCustomer returns the customer's ledger entries ordered by
	// (OccurredAt asc, ID asc). Nil bounds mean unbounded.
	EntriesByCustomer(ctx context.Context, customerID CustomerID, from, to *time.Time) ([]LedgerEntry, error)
}

// TxStore extends Store with atomic multi-row transactions.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional view of the store.
	// All writes inside fn commit together or not at all. A transient
	// commit conflict surfaces as ErrTransactionConflict.
	WithTx(ctx context.Context, fn func(Store) error) error
}
