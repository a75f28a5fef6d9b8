package credit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/credit-engine/credit"
	"github.com/warp/credit-engine/credit/store"
)

// seedEntry appends one raw ledger entry, for replay tests that need exact
// timestamps and directions.
func seedEntry(t *testing.T, mem *store.Memory, customerID string, kind credit.EntryKind, dir credit.Direction, amount float64, occurredAt time.Time) credit.EntryID {
	t.Helper()
	id, err := mem.AppendEntry(context.Background(), credit.LedgerEntry{
		CustomerID: credit.CustomerID(customerID),
		Kind:       kind,
		Direction:  dir,
		Amount:     credit.NewMoney(amount),
		OccurredAt: occurredAt,
	})
	require.NoError(t, err)
	return id
}

// =============================================================================
// REPLAY AND ORDERING TESTS
// =============================================================================

func TestBuildStatement_RunningBalances(t *testing.T) {
	// GIVEN: Debit 80, credit 50, credit 30, on consecutive days
	// WHEN: Building the statement
	// THEN: Running balances are 80, 30, 0 in chronological order

	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 0)
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	seedEntry(t, mem, "cust-1", credit.KindIssuance, credit.Debit, 80, base)
	seedEntry(t, mem, "cust-1", credit.KindPayment, credit.Credit, 50, base.AddDate(0, 0, 1))
	seedEntry(t, mem, "cust-1", credit.KindPayment, credit.Credit, 30, base.AddDate(0, 0, 2))

	statement, err := svc.BuildStatement(context.Background(), "cust-1", nil, nil)
	require.NoError(t, err)

	lines := statement.Lines()
	require.Len(t, lines, 3)
	assert.True(t, lines[0].BalanceAfter.Equal(credit.NewMoney(80)))
	assert.True(t, lines[1].BalanceAfter.Equal(credit.NewMoney(30)))
	assert.True(t, lines[2].BalanceAfter.IsZero())
}

func TestBuildStatement_SameTimestamp_OrderedByEntryID(t *testing.T) {
	// Entries sharing OccurredAt replay in insertion (ID) order, so the
	// running balance never dips through an order-dependent negative.

	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 0)
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	first := seedEntry(t, mem, "cust-1", credit.KindIssuance, credit.Debit, 40, at)
	second := seedEntry(t, mem, "cust-1", credit.KindPayment, credit.Credit, 40, at)
	require.Less(t, first, second)

	statement, err := svc.BuildStatement(context.Background(), "cust-1", nil, nil)
	require.NoError(t, err)

	lines := statement.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, first, lines[0].Entry.ID)
	assert.True(t, lines[0].BalanceAfter.Equal(credit.NewMoney(40)))
	assert.Equal(t, second, lines[1].Entry.ID)
	assert.True(t, lines[1].BalanceAfter.IsZero())
}

func TestBuildStatement_TimeWindow(t *testing.T) {
	// A bounded statement folds from zero at the window start, not from
	// the customer's all-time balance.

	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 500, 0)
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	seedEntry(t, mem, "cust-1", credit.KindIssuance, credit.Debit, 100, base)
	seedEntry(t, mem, "cust-1", credit.KindPayment, credit.Credit, 25, base.AddDate(0, 0, 5))
	seedEntry(t, mem, "cust-1", credit.KindIssuance, credit.Debit, 60, base.AddDate(0, 0, 10))

	from := base.AddDate(0, 0, 3)
	to := base.AddDate(0, 0, 7)
	statement, err := svc.BuildStatement(context.Background(), "cust-1", &from, &to)
	require.NoError(t, err)

	lines := statement.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, credit.KindPayment, lines[0].Entry.Kind)
	assert.True(t, lines[0].BalanceAfter.Equal(credit.NewMoney(25).Neg()),
		"window replay starts from zero, so a lone credit goes negative")
}

func TestStatement_ReplayIsRestartable(t *testing.T) {
	// Stopping a replay early and starting over yields the same lines.

	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 500, 0)
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i, amount := range []float64{10, 20, 30, 40} {
		seedEntry(t, mem, "cust-1", credit.KindIssuance, credit.Debit, amount, base.AddDate(0, 0, i))
	}

	statement, err := svc.BuildStatement(context.Background(), "cust-1", nil, nil)
	require.NoError(t, err)

	var partial []credit.StatementLine
	statement.Replay(func(l credit.StatementLine) bool {
		partial = append(partial, l)
		return len(partial) < 2
	})
	require.Len(t, partial, 2)

	full := statement.Lines()
	require.Len(t, full, 4)
	assert.Equal(t, partial[0], full[0])
	assert.Equal(t, partial[1], full[1])
	assert.True(t, full[3].BalanceAfter.Equal(credit.NewMoney(100)))

	again := statement.Lines()
	assert.Equal(t, full, again)
}

func TestBuildStatement_EmptyHistory(t *testing.T) {
	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 0)

	statement, err := svc.BuildStatement(context.Background(), "cust-1", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, statement.Lines())

	summary := statement.Summarize()
	assert.Zero(t, summary.DebitCount)
	assert.Zero(t, summary.CreditCount)
	assert.True(t, summary.FinalBalance.IsZero())
	assert.Nil(t, summary.LastDebitAt)
	assert.Nil(t, summary.LastCreditAt)
}

func TestBuildStatement_UnknownCustomer(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.BuildStatement(context.Background(), "ghost", nil, nil)
	assert.ErrorIs(t, err, credit.ErrCustomerNotFound)
}

// =============================================================================
// SUMMARY TESTS
// =============================================================================

func TestStatement_Summarize(t *testing.T) {
	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 500, 35)
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	seedEntry(t, mem, "cust-1", credit.KindIssuance, credit.Debit, 80, base)
	seedEntry(t, mem, "cust-1", credit.KindPayment, credit.Credit, 50, base.AddDate(0, 0, 1))
	seedEntry(t, mem, "cust-1", credit.KindIssuance, credit.Debit, 20, base.AddDate(0, 0, 2))
	seedEntry(t, mem, "cust-1", credit.KindPayment, credit.Credit, 15, base.AddDate(0, 0, 3))

	statement, err := svc.BuildStatement(context.Background(), "cust-1", nil, nil)
	require.NoError(t, err)

	summary := statement.Summarize()
	assert.Equal(t, 2, summary.DebitCount)
	assert.True(t, summary.DebitTotal.Equal(credit.NewMoney(100)))
	assert.Equal(t, 2, summary.CreditCount)
	assert.True(t, summary.CreditTotal.Equal(credit.NewMoney(65)))
	require.NotNil(t, summary.LastDebitAt)
	assert.Equal(t, base.AddDate(0, 0, 2), *summary.LastDebitAt)
	require.NotNil(t, summary.LastCreditAt)
	assert.Equal(t, base.AddDate(0, 0, 3), *summary.LastCreditAt)
	assert.True(t, summary.FinalBalance.Equal(credit.NewMoney(35)))
}

// =============================================================================
// BALANCE VERIFICATION TESTS
// =============================================================================

func TestVerifyBalance_Consistent(t *testing.T) {
	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 500, 30)
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	seedEntry(t, mem, "cust-1", credit.KindIssuance, credit.Debit, 80, base)
	seedEntry(t, mem, "cust-1", credit.KindPayment, credit.Credit, 50, base.AddDate(0, 0, 1))

	assert.NoError(t, svc.VerifyBalance(context.Background(), "cust-1"))
}

func TestVerifyBalance_Mismatch_ReportsBothValues(t *testing.T) {
	// GIVEN: Cached balance 40 but the ledger replays to 30
	// THEN: The violation carries both numbers for the operator

	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 500, 40)
	seedEntry(t, mem, "cust-1", credit.KindIssuance, credit.Debit, 30,
		time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))

	err := svc.VerifyBalance(context.Background(), "cust-1")

	var violation *credit.InvariantViolationError
	require.ErrorAs(t, err, &violation)
	assert.True(t, violation.Cached.Equal(credit.NewMoney(40)))
	assert.True(t, violation.Replayed.Equal(credit.NewMoney(30)))
	assert.ErrorIs(t, err, credit.ErrInvariantViolation)
}

func TestVerifyBalance_EmptyLedgerZeroBalance(t *testing.T) {
	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 0)

	assert.NoError(t, svc.VerifyBalance(context.Background(), "cust-1"))
}
