/*
service.go - Facade wiring the credit engine around one store handle

PURPOSE:
  Bundles the manager, allocator and statement builder behind a single
  entry point so callers (HTTP handlers, sale processing, background
  checks) construct one Service per store instead of juggling components.

  The store handle is explicit - passed in at construction, no package
  globals - so tests can swap in the in-memory store.

SEE ALSO:
  - manager.go, allocator.go, statement.go: The actual logic
  - api/handlers.go: Primary consumer
*/
package credit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service is the engine's public surface.
type Service struct {
	Store      TxStore
	Manager    *Manager
	Allocator  *Allocator
	Statements *StatementBuilder
}

// NewService wires the components over one store handle, sharing one
// retrier so the retry budget is configured in a single place.
func NewService(store TxStore, retrier *Retrier) *Service {
	if retrier == nil {
		retrier = NewRetrier()
	}
	return &Service{
		Store:      store,
		Manager:    NewManager(store, retrier),
		Allocator:  NewAllocator(store, retrier),
		Statements: NewStatementBuilder(store),
	}
}

// CheckAvailability reports available credit and whether requested fits.
func (s *Service) CheckAvailability(ctx context.Context, customerID CustomerID, requested Money) (Availability, error) {
	return s.Manager.CheckAvailability(ctx, customerID, requested)
}

// IssueCredit opens a credit line for a sale's credit-financed portion.
func (s *Service) IssueCredit(ctx context.Context, customerID CustomerID, saleID SaleID, amount Money) (*CreditLine, error) {
	return s.Manager.IssueCredit(ctx, customerID, saleID, amount)
}

// ApplyPayment applies one payment to one credit line.
func (s *Service) ApplyPayment(ctx context.Context, customerID CustomerID, creditLineID CreditLineID, amount Money, method, notes string) (*Payment, error) {
	return s.Allocator.ApplyPayment(ctx, customerID, creditLineID, amount, method, notes)
}

// ApplyPaymentBulk distributes a lump payment oldest-line-first.
func (s *Service) ApplyPaymentBulk(ctx context.Context, customerID CustomerID, total Money, method string) (*BulkResult, error) {
	return s.Allocator.ApplyPaymentBulk(ctx, customerID, total, method)
}

// BuildStatement produces the replayable running-balance view.
func (s *Service) BuildStatement(ctx context.Context, customerID CustomerID, from, to *time.Time) (*Statement, error) {
	return s.Statements.BuildStatement(ctx, customerID, from, to)
}

// VerifyBalance checks the ledger-vs-cache invariant for one customer.
func (s *Service) VerifyBalance(ctx context.Context, customerID CustomerID) error {
	return s.Statements.VerifyBalance(ctx, customerID)
}

// CreateCustomer registers a customer with a credit limit and zero balance.
func (s *Service) CreateCustomer(ctx context.Context, name, phone string, creditLimit Money) (*Customer, error) {
	if creditLimit.IsNegative() {
		return nil, ErrInvalidAmount
	}
	c := Customer{
		ID:             CustomerID(uuid.NewString()),
		Name:           name,
		Phone:          phone,
		CreditLimit:    creditLimit,
		CurrentBalance: Zero(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.Store.SaveCustomer(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}
