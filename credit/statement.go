/*
statement.go - Ledger replay and running-balance statements

PURPOSE:
  Builds a customer's statement by replaying their ledger entries in
  (OccurredAt, ID) order and folding a running balance. Read-only,
  side-effect-free; safe to call concurrently with any write.

REPLAY CONTRACT:
  The fold accumulates +Amount for debits, -Amount for credits. Replaying
  the FULL history must land exactly on the customer's denormalized
  CurrentBalance; VerifyBalance checks that and reports a mismatch as an
  InvariantViolationError (a bug signal, useful as a background check).

LAZINESS:
  BuildStatement fetches the entries once. The running balances are folded
  on demand via Replay, which can be restarted any number of times and
  always yields identical output for the same Statement.

SEE ALSO:
  - types.go: LedgerEntry.Signed
  - api/checker.go: Periodic sweep built on VerifyBalance
*/
package credit

import (
	"context"
	"time"
)

// StatementLine pairs one ledger entry with the balance after it.
type StatementLine struct {
	Entry        LedgerEntry
	BalanceAfter Money
}

// Summary aggregates a statement's entries.
type Summary struct {
	DebitCount   int
	DebitTotal   Money
	CreditCount  int
	CreditTotal  Money
	LastDebitAt  *time.Time
	LastCreditAt *time.Time
	FinalBalance Money
}

// Statement is an ordered, replayable view over a customer's entries.
// The zero running balance starts before the first fetched entry, so a
// time-windowed statement shows balances relative to the window start.
type Statement struct {
	CustomerID CustomerID
	entries    []LedgerEntry
}

// Entries returns the fetched entries in replay order.
func (st *Statement) Entries() []LedgerEntry { return st.entries }

// Replay folds the running balance left to right, calling fn for each
// line. Returning false from fn stops the replay early. Replay never
// mutates the statement and may be called repeatedly.
func (st *Statement) Replay(fn func(StatementLine) bool) {
	balance := Zero()
	for _, e := range st.entries {
		balance = balance.Add(e.Signed())
		if !fn(StatementLine{Entry: e, BalanceAfter: balance}) {
			return
		}
	}
}

// Lines materializes the full replay.
func (st *Statement) Lines() []StatementLine {
	lines := make([]StatementLine, 0, len(st.entries))
	st.Replay(func(l StatementLine) bool {
		lines = append(lines, l)
		return true
	})
	return lines
}

// Summarize computes the statement's aggregates in one pass.
func (st *Statement) Summarize() Summary {
	s := Summary{DebitTotal: Zero(), CreditTotal: Zero(), FinalBalance: Zero()}
	st.Replay(func(l StatementLine) bool {
		occurred := l.Entry.OccurredAt
		switch l.Entry.Direction {
		case Debit:
			s.DebitCount++
			s.DebitTotal = s.DebitTotal.Add(l.Entry.Amount)
			s.LastDebitAt = &occurred
		case Credit:
			s.CreditCount++
			s.CreditTotal = s.CreditTotal.Add(l.Entry.Amount)
			s.LastCreditAt = &occurred
		}
		s.FinalBalance = l.BalanceAfter
		return true
	})
	return s
}

// =============================================================================
// STATEMENT BUILDER
// =============================================================================

// StatementBuilder produces statements from the ledger store.
type StatementBuilder struct {
	store Store
}

// NewStatementBuilder creates a builder over the given store handle.
func NewStatementBuilder(store Store) *StatementBuilder {
	return &StatementBuilder{store: store}
}

// BuildStatement fetches the customer's entries in (OccurredAt, ID) order,
// optionally bounded by [from, to]. Nil bounds mean unbounded.
func (b *StatementBuilder) BuildStatement(ctx context.Context, customerID CustomerID, from, to *time.Time) (*Statement, error) {
	customer, err := b.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, &NotFoundError{Kind: "customer", ID: string(customerID)}
	}

	entries, err := b.store.EntriesByCustomer(ctx, customerID, from, to)
	if err != nil {
		return nil, err
	}

	return &Statement{CustomerID: customerID, entries: entries}, nil
}

// VerifyBalance replays the customer's FULL ledger history and compares
// the final balance with the denormalized CurrentBalance. A mismatch is a
// detectable invariant violation - a bug, not user error.
//
// Reads outside a transaction are eventually-consistent snapshots, so a
// sweep racing a writer can report a transient mismatch; callers treat a
// violation as "inspect", not "auto-correct".
func (b *StatementBuilder) VerifyBalance(ctx context.Context, customerID CustomerID) error {
	customer, err := b.store.GetCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if customer == nil {
		return &NotFoundError{Kind: "customer", ID: string(customerID)}
	}

	entries, err := b.store.EntriesByCustomer(ctx, customerID, nil, nil)
	if err != nil {
		return err
	}

	replayed := Zero()
	for _, e := range entries {
		replayed = replayed.Add(e.Signed())
	}

	if !replayed.Equal(customer.CurrentBalance) {
		return &InvariantViolationError{
			CustomerID: customerID,
			Cached:     customer.CurrentBalance,
			Replayed:   replayed,
			Detail:     "ledger replay disagrees with denormalized balance",
		}
	}
	return nil
}
