package credit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/credit-engine/credit"
)

// =============================================================================
// RETRY INTEGRATION - Injected store conflicts end to end
// =============================================================================

func TestIssueCredit_TransientConflicts_EventuallySucceeds(t *testing.T) {
	// GIVEN: The store rejects the next two transactions as contended
	// WHEN: Issuing credit
	// THEN: The third attempt lands and the line is committed once

	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 0)
	mem.ConflictNext(2)

	line, err := svc.IssueCredit(context.Background(), "cust-1", "sale-1", credit.NewMoney(40))
	require.NoError(t, err)
	assert.True(t, line.Original.Equal(credit.NewMoney(40)))

	customer, err := mem.GetCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.True(t, customer.CurrentBalance.Equal(credit.NewMoney(40)))

	entries, err := mem.EntriesByCustomer(context.Background(), "cust-1", nil, nil)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "retries never double-append")
}

func TestIssueCredit_ConflictsExhaustBudget(t *testing.T) {
	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 0)
	mem.ConflictNext(3)

	_, err := svc.IssueCredit(context.Background(), "cust-1", "sale-1", credit.NewMoney(40))

	var conflict *credit.TransactionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 3, conflict.Attempts)

	customer, gerr := mem.GetCustomer(context.Background(), "cust-1")
	require.NoError(t, gerr)
	assert.True(t, customer.CurrentBalance.IsZero(), "nothing committed")
}

func TestApplyPaymentBulk_TransientConflicts_EventuallySucceeds(t *testing.T) {
	svc, mem := newTestService(t)
	seedCustomer(t, mem, "cust-1", 100, 50)
	seedLine(t, mem, "line-1", "cust-1", 50, 0, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	mem.ConflictNext(1)

	result, err := svc.ApplyPaymentBulk(context.Background(), "cust-1", credit.NewMoney(50), "cash")
	require.NoError(t, err)
	require.Len(t, result.Payments, 1)
	assertBalanceInvariant(t, svc, mem, "cust-1")
}

// =============================================================================
// CUSTOMER REGISTRATION
// =============================================================================

func TestCreateCustomer(t *testing.T) {
	svc, mem := newTestService(t)

	customer, err := svc.CreateCustomer(context.Background(), "Maria Silva", "+55 11 98765-4321", credit.NewMoney(150))
	require.NoError(t, err)
	assert.NotEmpty(t, customer.ID)
	assert.True(t, customer.CurrentBalance.IsZero())

	stored, err := mem.GetCustomer(context.Background(), customer.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Maria Silva", stored.Name)
	assert.True(t, stored.CreditLimit.Equal(credit.NewMoney(150)))
}

func TestCreateCustomer_NegativeLimit_Rejected(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateCustomer(context.Background(), "Maria", "", credit.NewMoney(-10))
	assert.ErrorIs(t, err, credit.ErrInvalidAmount)
}

func TestCreateCustomer_ZeroLimit_Allowed(t *testing.T) {
	// A zero limit means "registered, cannot buy on credit yet".

	svc, _ := newTestService(t)

	customer, err := svc.CreateCustomer(context.Background(), "Novo Cliente", "", credit.Zero())
	require.NoError(t, err)
	assert.True(t, customer.Available().IsZero())
}
