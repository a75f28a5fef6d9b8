/*
Package credit provides the store-credit ("fiado") ledger and
payment-allocation engine.

PURPOSE:
  This package contains the core types and algorithms for tracking how much
  each customer owes on store credit: credit lines opened at sale time,
  payments applied against them, and the append-only ledger that records
  every balance-affecting event.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount at fixed 2-decimal precision
  - Customer: Identity plus credit limit and the denormalized running balance
  - CreditLine: The unpaid portion of one sale financed on credit
  - Payment: One payment event applied to exactly one credit line
  - LedgerEntry: An immutable, append-only record of one balance change

DESIGN PRINCIPLES:
  1. Immutability: Payments and ledger entries are never modified
  2. Precision: Uses decimal.Decimal to avoid floating-point errors;
     every Money is rounded to 2 decimals at creation, never after
     accumulating unrounded sums
  3. Type Safety: Strong typing for IDs prevents mixing customer/line IDs
  4. Auditability: Every ledger entry carries a reference back to the
     payment or sale that produced it

BALANCE INVARIANT:
  After any committed operation, for each customer:

    Customer.CurrentBalance == Σ CreditLine.Remaining (that customer's lines)
                            == fold of LedgerEntries (+debit, -credit)

  The first equality is maintained transactionally by manager.go and
  allocator.go; the second is verified by statement.go.

SEE ALSO:
  - store.go: Persistence interfaces for the four record kinds
  - manager.go: Credit line issuance and availability checks
  - allocator.go: Payment allocation across open credit lines
*/
package credit

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed 2-decimal monetary amount
// =============================================================================

// Money is a monetary amount at currency-minor-unit precision.
// Constructors round to 2 decimals; arithmetic on already-rounded values
// (add/sub of 2-decimal numbers) stays at 2 decimals, so no drift
// accumulates across allocations.
type Money struct {
	Value decimal.Decimal
}

// NewMoney creates a Money from a float, rounding half-up to 2 decimals.
// Rounding happens here, at the creation boundary, and nowhere else.
func NewMoney(v float64) Money {
	return Money{Value: decimal.NewFromFloat(v).Round(2)}
}

// NewMoneyFromInt creates a whole-unit Money.
func NewMoneyFromInt(v int) Money {
	return Money{Value: decimal.NewFromInt(int64(v))}
}

// MustParseMoney parses a decimal string, returning zero on failure.
func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return Money{Value: d.Round(2)}
}

// Zero is the zero monetary amount.
func Zero() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money        { return Money{Value: m.Value.Neg()} }

func (m Money) IsZero() bool     { return m.Value.IsZero() }
func (m Money) IsNegative() bool { return m.Value.IsNegative() }
func (m Money) IsPositive() bool { return m.Value.IsPositive() }

func (m Money) Equal(o Money) bool       { return m.Value.Equal(o.Value) }
func (m Money) LessThan(o Money) bool    { return m.Value.LessThan(o.Value) }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// ClampZero returns m, floored at zero.
func (m Money) ClampZero() Money {
	if m.IsNegative() {
		return Zero()
	}
	return m
}

// String renders with exactly 2 decimal places ("80.00").
func (m Money) String() string { return m.Value.StringFixed(2) }

// Float64 is for API serialization only; core arithmetic never uses it.
func (m Money) Float64() float64 {
	f, _ := m.Value.Float64()
	return f
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type CreditLineID string
type PaymentID string
type SaleID string

// EntryID is assigned by the store, strictly increasing. It is the tiebreak
// for same-timestamp ledger ordering.
type EntryID int64

// =============================================================================
// CUSTOMER
// =============================================================================

// Customer carries the credit limit and the denormalized running balance.
// CurrentBalance is a cache of the sum of this customer's open credit line
// remainders; it is mutated only inside the same transaction as the
// CreditLine/LedgerEntry writes it accompanies, and never goes below zero.
type Customer struct {
	ID             CustomerID
	Name           string
	Phone          string
	CreditLimit    Money
	CurrentBalance Money
	CreatedAt      time.Time
}

// Available returns how much more credit the customer can take,
// floored at zero.
func (c Customer) Available() Money {
	return c.CreditLimit.Sub(c.CurrentBalance).ClampZero()
}

// =============================================================================
// CREDIT LINE - Unpaid portion of one sale financed on credit
// =============================================================================

type LineStatus string

const (
	LineOpen    LineStatus = "open"    // No payment applied yet
	LinePartial LineStatus = "partial" // Some, not all, paid down
	LineSettled LineStatus = "settled" // Remaining reached zero
)

// CreditLine is created once at sale time and updated only by the payment
// allocator. It is never deleted; settled lines stay as historical record.
//
// INVARIANTS:
//   - Remaining = Original - Paid, clamped to >= 0
//   - Status is a pure function of Paid and Remaining (see StatusFor)
type CreditLine struct {
	ID         CreditLineID
	CustomerID CustomerID
	SaleID     SaleID
	Original   Money
	Paid       Money
	Remaining  Money
	Status     LineStatus
	CreatedAt  time.Time
}

// StatusFor computes the status implied by paid/remaining amounts.
// Settled iff remaining <= 0; partial iff some but not all paid; open
// otherwise.
func StatusFor(paid, remaining Money) LineStatus {
	switch {
	case !remaining.IsPositive():
		return LineSettled
	case paid.IsPositive():
		return LinePartial
	default:
		return LineOpen
	}
}

// ApplyAmount records amount as paid and recomputes remaining and status.
// Validation (no overpayment) happens in the allocator, not here.
func (cl *CreditLine) ApplyAmount(amount Money) {
	cl.Paid = cl.Paid.Add(amount)
	cl.Remaining = cl.Original.Sub(cl.Paid).ClampZero()
	cl.Status = StatusFor(cl.Paid, cl.Remaining)
}

// =============================================================================
// PAYMENT - One payment event applied to exactly one credit line
// =============================================================================

// Payment is immutable once created.
type Payment struct {
	ID           PaymentID
	CreditLineID CreditLineID
	CustomerID   CustomerID
	Amount       Money
	Method       string
	Notes        string
	PaidAt       time.Time
}

// =============================================================================
// LEDGER ENTRY - Append-only audit/statement record
// =============================================================================

type EntryKind string

const (
	KindIssuance   EntryKind = "issuance"   // Credit sale opened a line
	KindPayment    EntryKind = "payment"    // Payment applied to a line
	KindAdjustment EntryKind = "adjustment" // Manual correction
)

type Direction string

const (
	Debit  Direction = "debit"  // Customer owes more
	Credit Direction = "credit" // Customer owes less
)

// LedgerEntry records one balance-affecting event. Append-only: never
// updated or deleted. Replaying a customer's entries in (OccurredAt, ID)
// order and accumulating +Amount for debit / -Amount for credit reproduces
// CurrentBalance exactly.
//
// Reference is an opaque correlation id ("payment:<id>", "sale:<id>") used
// for audit only, never for control flow.
type LedgerEntry struct {
	ID           EntryID
	CustomerID   CustomerID
	CreditLineID CreditLineID // empty for adjustments not tied to a line
	Kind         EntryKind
	Direction    Direction
	Amount       Money // always > 0; Direction carries the sign
	Description  string
	Reference    string
	OccurredAt   time.Time
}

// Signed returns the entry's contribution to the running balance.
func (e LedgerEntry) Signed() Money {
	if e.Direction == Debit {
		return e.Amount
	}
	return e.Amount.Neg()
}
