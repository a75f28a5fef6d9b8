/*
manager.go - Credit line issuance and availability checks

PURPOSE:
  The Manager creates credit lines at sale time and answers "how much more
  credit can this customer take?". It is one of only two writers of
  Customer.CurrentBalance (the other is the allocator), and always writes
  it in the same transaction as the CreditLine insert and ledger entry.

ISSUANCE FLOW (one transaction):
  1. Re-read the customer (authoritative row, inside the transaction)
  2. Re-validate availability - the caller checked before starting its
     sale, but a concurrent issuance may have consumed the headroom
  3. Insert the CreditLine (open, remaining = amount)
  4. Append the issuance/debit ledger entry (reference "sale:<id>")
  5. Increment CurrentBalance

SALE EMBEDDING:
  Sale processing owns its own unit of work (stock decrement, sale record,
  receipt). IssueCreditTx takes the caller's transactional store view so a
  failed sale rolls back the credit issuance too. IssueCredit is the
  standalone variant that opens its own transaction and retries conflicts.

SEE ALSO:
  - allocator.go: The payment side of the balance invariant
  - retry.go: Conflict absorption for the standalone path
*/
package credit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Manager issues credit lines and checks availability.
type Manager struct {
	store   TxStore
	retrier *Retrier

	// now is overridable in tests.
	now func() time.Time
}

// NewManager creates a manager over the given store handle.
func NewManager(store TxStore, retrier *Retrier) *Manager {
	if retrier == nil {
		retrier = NewRetrier()
	}
	return &Manager{store: store, retrier: retrier, now: time.Now}
}

// Availability is the result of an availability check.
type Availability struct {
	CustomerID CustomerID
	Limit      Money
	Balance    Money
	Available  Money // max(0, Limit - Balance)
	Sufficient bool  // requested <= Available, at 2-decimal precision
}

// CheckAvailability answers whether a credit purchase of requested can go
// through. Pure read, no side effects; amounts are compared at
// currency-minor-unit precision so float noise can't produce false
// negatives.
func (m *Manager) CheckAvailability(ctx context.Context, customerID CustomerID, requested Money) (Availability, error) {
	customer, err := m.store.GetCustomer(ctx, customerID)
	if err != nil {
		return Availability{}, err
	}
	if customer == nil {
		return Availability{}, &NotFoundError{Kind: "customer", ID: string(customerID)}
	}

	available := customer.Available()
	return Availability{
		CustomerID: customerID,
		Limit:      customer.CreditLimit,
		Balance:    customer.CurrentBalance,
		Available:  available,
		Sufficient: !requested.GreaterThan(available),
	}, nil
}

// IssueCredit opens a credit line in its own transaction, retrying
// transient conflicts.
func (m *Manager) IssueCredit(ctx context.Context, customerID CustomerID, saleID SaleID, amount Money) (*CreditLine, error) {
	var issued *CreditLine
	err := m.retrier.Do(ctx, func(ctx context.Context) error {
		return m.store.WithTx(ctx, func(s Store) error {
			line, err := m.issueCredit(ctx, s, customerID, saleID, amount)
			if err != nil {
				return err
			}
			issued = line
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// IssueCreditTx opens a credit line against a caller-supplied transactional
// store view, so sale processing can include issuance in its own atomic
// unit of work. The caller owns commit, rollback and retries.
func (m *Manager) IssueCreditTx(ctx context.Context, tx Store, customerID CustomerID, saleID SaleID, amount Money) (*CreditLine, error) {
	return m.issueCredit(ctx, tx, customerID, saleID, amount)
}

func (m *Manager) issueCredit(ctx context.Context, s Store, customerID CustomerID, saleID SaleID, amount Money) (*CreditLine, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	customer, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, &NotFoundError{Kind: "customer", ID: string(customerID)}
	}

	// Re-validate inside the transaction to close the race window between
	// the caller's pre-check and now.
	available := customer.Available()
	if amount.GreaterThan(available) {
		return nil, &InsufficientCreditError{
			CustomerID: customerID,
			Requested:  amount,
			Available:  available,
		}
	}

	now := m.now().UTC()
	line := CreditLine{
		ID:         CreditLineID(uuid.NewString()),
		CustomerID: customerID,
		SaleID:     saleID,
		Original:   amount,
		Paid:       Zero(),
		Remaining:  amount,
		Status:     LineOpen,
		CreatedAt:  now,
	}

	if err := s.InsertCreditLine(ctx, line); err != nil {
		return nil, err
	}

	if _, err := s.AppendEntry(ctx, LedgerEntry{
		CustomerID:   customerID,
		CreditLineID: line.ID,
		Kind:         KindIssuance,
		Direction:    Debit,
		Amount:       amount,
		Description:  "credit sale",
		Reference:    "sale:" + string(saleID),
		OccurredAt:   now,
	}); err != nil {
		return nil, err
	}

	customer.CurrentBalance = customer.CurrentBalance.Add(amount)
	if err := s.SaveCustomer(ctx, *customer); err != nil {
		return nil, err
	}

	return &line, nil
}
