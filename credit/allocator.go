/*
allocator.go - Payment allocation across open credit lines

PURPOSE:
  Applies incoming payments to a customer's debt. Two paths:

  ApplyPayment:     one payment against one specific credit line
  ApplyPaymentBulk: one lump amount distributed across all non-settled
                    lines, oldest issuance first

  Both paths emit one Payment + one ledger entry per touched line, update
  the line's paid/remaining/status, and decrement the customer's running
  balance - all inside exactly one store transaction. Partial application
  (some lines updated, balance not, or vice versa) is never observable.

ALLOCATION ORDER:
  Oldest CreatedAt first. Earliest debt is paid down first, mirroring
  informal-credit practice and keeping customer communication simple.

OVERPAYMENT:
  A single-line payment larger than the line's remaining fails with
  OverpaymentError. A bulk payment larger than the customer's total balance
  fails with ExceedsBalanceError. Nothing is clamped silently.

REMAINDER:
  Given the ExceedsBalance precondition, a bulk allocation always applies
  the full amount. A non-zero remainder after walking every line means the
  denormalized balance disagrees with the lines - a data bug - and is
  reported as InvariantViolationError, never dropped.

SEE ALSO:
  - manager.go: The issuance side of the balance invariant
  - statement.go: Replays the entries these paths append
*/
package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Allocator applies payments to credit lines.
type Allocator struct {
	store   TxStore
	retrier *Retrier

	now func() time.Time
}

// NewAllocator creates an allocator over the given store handle.
func NewAllocator(store TxStore, retrier *Retrier) *Allocator {
	if retrier == nil {
		retrier = NewRetrier()
	}
	return &Allocator{store: store, retrier: retrier, now: time.Now}
}

// BulkResult reports how a lump payment was distributed.
type BulkResult struct {
	Payments  []Payment
	Applied   Money
	Unapplied Money // always zero when the precondition held
}

// ApplyPayment applies one payment to one credit line in a single
// transaction, retrying transient conflicts.
func (a *Allocator) ApplyPayment(ctx context.Context, customerID CustomerID, creditLineID CreditLineID, amount Money, method, notes string) (*Payment, error) {
	var applied *Payment
	err := a.retrier.Do(ctx, func(ctx context.Context) error {
		return a.store.WithTx(ctx, func(s Store) error {
			p, err := a.applyPayment(ctx, s, customerID, creditLineID, amount, method, notes)
			if err != nil {
				return err
			}
			applied = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func (a *Allocator) applyPayment(ctx context.Context, s Store, customerID CustomerID, creditLineID CreditLineID, amount Money, method, notes string) (*Payment, error) {
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

	line, err := s.GetCreditLine(ctx, creditLineID)
	if err != nil {
		return nil, err
	}
	if line == nil || line.CustomerID != customerID {
		// A line belonging to another customer is indistinguishable from a
		// missing one; don't leak its existence.
		return nil, &NotFoundError{Kind: "credit line", ID: string(creditLineID)}
	}

	if line.Status == LineSettled || amount.GreaterThan(line.Remaining) {
		return nil, &OverpaymentError{
			CreditLineID: creditLineID,
			Requested:    amount,
			Remaining:    line.Remaining,
		}
	}

	payment, err := a.payLine(ctx, s, line, amount, method, notes)
	if err != nil {
		return nil, err
	}

	customer.CurrentBalance = customer.CurrentBalance.Sub(amount).ClampZero()
	if err := s.SaveCustomer(ctx, *customer); err != nil {
		return nil, err
	}

	return payment, nil
}

// ApplyPaymentBulk distributes one lump payment across the customer's
// non-settled credit lines, oldest first, in a single transaction.
func (a *Allocator) ApplyPaymentBulk(ctx context.Context, customerID CustomerID, total Money, method string) (*BulkResult, error) {
	var result *BulkResult
	err := a.retrier.Do(ctx, func(ctx context.Context) error {
		return a.store.WithTx(ctx, func(s Store) error {
			r, err := a.applyBulk(ctx, s, customerID, total, method)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Allocator) applyBulk(ctx context.Context, s Store, customerID CustomerID, total Money, method string) (*BulkResult, error) {
	if !total.IsPositive() {
		return nil, ErrInvalidAmount
	}

	customer, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, &NotFoundError{Kind: "customer", ID: string(customerID)}
	}

	// Never accept a payment larger than what is owed.
	if total.GreaterThan(customer.CurrentBalance) {
		return nil, &ExceedsBalanceError{
			CustomerID: customerID,
			Requested:  total,
			Balance:    customer.CurrentBalance,
		}
	}

	lines, err := s.OpenCreditLines(ctx, customerID)
	if err != nil {
		return nil, err
	}

	result := &BulkResult{Applied: Zero(), Unapplied: total}
	remaining := total

	for i := range lines {
		if !remaining.IsPositive() {
			break
		}
		line := lines[i]

		portion := remaining.Min(line.Remaining)
		if !portion.IsPositive() {
			// A non-settled line with nothing remaining is corrupt data;
			// never let it produce a zero-amount payment or ledger entry.
			continue
		}
		payment, err := a.payLine(ctx, s, &line, portion, method, "")
		if err != nil {
			return nil, err
		}

		result.Payments = append(result.Payments, *payment)
		result.Applied = result.Applied.Add(portion)
		remaining = remaining.Sub(portion)
	}

	result.Unapplied = remaining

	// The precondition guaranteed total <= CurrentBalance, and the balance
	// is supposed to equal the sum of line remainders. Leftover here means
	// the two copies diverged.
	if !remaining.IsZero() {
		return nil, &InvariantViolationError{
			CustomerID: customerID,
			Cached:     customer.CurrentBalance,
			Replayed:   result.Applied,
			Detail:     fmt.Sprintf("bulk allocation left %s unapplied across %d open lines", remaining, len(lines)),
		}
	}

	customer.CurrentBalance = customer.CurrentBalance.Sub(total).ClampZero()
	if err := s.SaveCustomer(ctx, *customer); err != nil {
		return nil, err
	}

	return result, nil
}

// payLine records one payment against one line: Payment row, line update,
// payment/credit ledger entry. Caller validated the portion.
func (a *Allocator) payLine(ctx context.Context, s Store, line *CreditLine, amount Money, method, notes string) (*Payment, error) {
	now := a.now().UTC()

	payment := Payment{
		ID:           PaymentID(uuid.NewString()),
		CreditLineID: line.ID,
		CustomerID:   line.CustomerID,
		Amount:       amount,
		Method:       method,
		Notes:        notes,
		PaidAt:       now,
	}
	if err := s.InsertPayment(ctx, payment); err != nil {
		return nil, err
	}

	line.ApplyAmount(amount)
	if err := s.UpdateCreditLine(ctx, *line); err != nil {
		return nil, err
	}

	if _, err := s.AppendEntry(ctx, LedgerEntry{
		CustomerID:   line.CustomerID,
		CreditLineID: line.ID,
		Kind:         KindPayment,
		Direction:    Credit,
		Amount:       amount,
		Description:  "payment (" + method + ")",
		Reference:    "payment:" + string(payment.ID),
		OccurredAt:   now,
	}); err != nil {
		return nil, err
	}

	return &payment, nil
}
