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

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*credit.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := credit.NewService(mem, &credit.Retrier{MaxAttempts: 3, BaseDelay: time.Millisecond})
	return svc, mem
}

func seedCustomer(t *testing.T, mem *store.Memory, id string, limit, balance float64) {
	t.Helper()
	err := mem.SaveCustomer(context.Background(), credit.Customer{
		ID:             credit.CustomerID(id),
		Name:           "Maria",
		CreditLimit:    credit.NewMoney(limit),
		CurrentBalance: credit.NewMoney(balance),
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
}

// seedLine inserts a credit line plus its issuance ledger entry with an
// explicit creation time, so allocation-order tests are deterministic.
func seedLine(t *testing.T, mem *store.Memory, id, customerID string, original, paid float64, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()

	o := credit.NewMoney(original)
	p := credit.NewMoney(paid)
	remaining := o.Sub(p).ClampZero()

	err := mem.InsertCreditLine(ctx, credit.CreditLine{
		ID:         credit.CreditLineID(id),
		CustomerID: credit.CustomerID(customerID),
		SaleID:     credit.SaleID("sale-" + id),
		Original:   o,
		Paid:       p,
		Remaining:  remaining,
		Status:     credit.StatusFor(p, remaining),
		CreatedAt:  createdAt,
	})
	require.NoError(t, err)

	_, err = mem.AppendEntry(ctx, credit.LedgerEntry{
		CustomerID:   credit.CustomerID(customerID),
		CreditLineID: credit.CreditLineID(id),
		Kind:         credit.KindIssuance,
		Direction:    credit.Debit,
		Amount:       o,
		Reference:    "sale:sale-" + id,
		OccurredAt:   createdAt,
	})
	require.NoError(t, err)

	// Keep the ledger consistent with the seeded paid amount.
	if p.IsPositive() {
		_, err = mem.AppendEntry(ctx, credit.LedgerEntry{
			CustomerID:   credit.CustomerID(customerID),
			CreditLineID: credit.CreditLineID(id),
			Kind:         credit.KindPayment,
			Direction:    credit.Credit,
			Amount:       p,
			Reference:    "payment:seed-" + id,
			OccurredAt:   createdAt.Add(time.Minute),
		})
		require.NoError(t, err)
	}
}

// =============================================================================
// AVAILABILITY TESTS
// =============================================================================

func TestCheckAvailability_Headroom(t *testing.T) {
	// GIVEN: limit 100, balance 80
	// WHEN: Checking availability for 20
	// THEN: available = 20 and the request fits exactly

	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 80)

	avail, err := svc.CheckAvailability(context.Background(), "cust-1", credit.NewMoney(20))
	require.NoError(t, err)

	assert.True(t, avail.Available.Equal(credit.NewMoney(20)))
	assert.True(t, avail.Sufficient)
}

func TestCheckAvailability_Insufficient(t *testing.T) {
	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 80)

	avail, err := svc.CheckAvailability(context.Background(), "cust-1", credit.NewMoney(20.01))
	require.NoError(t, err)
	assert.False(t, avail.Sufficient)
}

func TestCheckAvailability_BalanceOverLimit_ClampedToZero(t *testing.T) {
	// A lowered limit can leave the balance above it; availability must
	// floor at zero, not go negative.

	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 50, 80)

	avail, err := svc.CheckAvailability(context.Background(), "cust-1", credit.Zero())
	require.NoError(t, err)
	assert.True(t, avail.Available.IsZero())
}

func TestCheckAvailability_RoundingAtMinorUnit(t *testing.T) {
	// GIVEN: available credit of exactly 19.99 (limit 100, balance 80.01)
	// WHEN: Requesting an amount whose float form is 19.990000000000002
	// THEN: The comparison happens on rounded values, no false negative

	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 80.01)

	requested := credit.NewMoney(19.69 + 0.1 + 0.2) // 19.990000000000002 as raw float64
	avail, err := svc.CheckAvailability(context.Background(), "cust-1", requested)
	require.NoError(t, err)
	assert.True(t, avail.Sufficient)
}

func TestCheckAvailability_UnknownCustomer(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CheckAvailability(context.Background(), "ghost", credit.NewMoney(1))
	assert.ErrorIs(t, err, credit.ErrCustomerNotFound)

	var nf *credit.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

// =============================================================================
// ISSUANCE TESTS
// =============================================================================

func TestIssueCredit_OpensLineAndUpdatesBalance(t *testing.T) {
	// GIVEN: limit 100, balance 0
	// WHEN: Issuing credit of 80 for a sale
	// THEN: New open line with remaining 80, balance 80, one debit entry

	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 0)
	ctx := context.Background()

	line, err := svc.IssueCredit(ctx, "cust-1", "sale-1", credit.NewMoney(80))
	require.NoError(t, err)

	assert.Equal(t, credit.LineOpen, line.Status)
	assert.True(t, line.Original.Equal(credit.NewMoney(80)))
	assert.True(t, line.Remaining.Equal(credit.NewMoney(80)))
	assert.True(t, line.Paid.IsZero())

	customer, err := mem.GetCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, customer.CurrentBalance.Equal(credit.NewMoney(80)))

	entries, err := mem.EntriesByCustomer(ctx, "cust-1", nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, credit.KindIssuance, entries[0].Kind)
	assert.Equal(t, credit.Debit, entries[0].Direction)
	assert.Equal(t, "sale:sale-1", entries[0].Reference)
}

func TestIssueCredit_InsufficientCredit_NoPartialEffects(t *testing.T) {
	// GIVEN: limit 100, balance 80 (20 available)
	// WHEN: Issuing credit of 30
	// THEN: InsufficientCreditError; no line, no entry, balance untouched

	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 80)
	ctx := context.Background()

	_, err := svc.IssueCredit(ctx, "cust-1", "sale-2", credit.NewMoney(30))

	var insufficient *credit.InsufficientCreditError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(credit.NewMoney(20)))
	assert.True(t, insufficient.Requested.Equal(credit.NewMoney(30)))

	customer, err := mem.GetCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, customer.CurrentBalance.Equal(credit.NewMoney(80)))

	entries, err := mem.EntriesByCustomer(ctx, "cust-1", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIssueCredit_ExactRemainingLimit_Allowed(t *testing.T) {
	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 80)

	line, err := svc.IssueCredit(context.Background(), "cust-1", "sale-3", credit.NewMoney(20))
	require.NoError(t, err)
	assert.True(t, line.Remaining.Equal(credit.NewMoney(20)))
}

func TestIssueCredit_NonPositiveAmount_Rejected(t *testing.T) {
	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 0)

	_, err := svc.IssueCredit(context.Background(), "cust-1", "sale-1", credit.Zero())
	assert.ErrorIs(t, err, credit.ErrInvalidAmount)

	_, err = svc.IssueCredit(context.Background(), "cust-1", "sale-1", credit.NewMoney(-5))
	assert.ErrorIs(t, err, credit.ErrInvalidAmount)
}

func TestIssueCredit_UnknownCustomer(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.IssueCredit(context.Background(), "ghost", "sale-1", credit.NewMoney(10))
	assert.ErrorIs(t, err, credit.ErrCustomerNotFound)
}

func TestIssueCreditTx_RollsBackWithCallerTransaction(t *testing.T) {
	// GIVEN: Issuance embedded in a sale's own unit of work
	// WHEN: The sale fails after the credit was issued
	// THEN: The line, entry, and balance increment all roll back

	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 0)
	ctx := context.Background()

	saleFailed := assert.AnError
	err := mem.WithTx(ctx, func(s credit.Store) error {
		if _, err := svc.Manager.IssueCreditTx(ctx, s, "cust-1", "sale-1", credit.NewMoney(40)); err != nil {
			return err
		}
		// Stock decrement, sale record etc. would happen here; simulate a
		// late failure.
		return saleFailed
	})
	require.ErrorIs(t, err, saleFailed)

	customer, err := mem.GetCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, customer.CurrentBalance.IsZero())

	lines, err := mem.CreditLinesByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, lines)

	entries, err := mem.EntriesByCustomer(ctx, "cust-1", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
