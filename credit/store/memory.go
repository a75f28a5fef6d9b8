// Package store provides credit.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/credit-engine/credit"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps behind one mutex. Transactions are
// simulated with a snapshot + restore, which gives the same all-or-nothing
// visibility the SQLite store provides.
type Memory struct {
	mu        sync.RWMutex
	customers map[credit.CustomerID]credit.Customer
	lines     map[credit.CreditLineID]credit.CreditLine
	payments  map[credit.PaymentID]credit.Payment
	entries   []credit.LedgerEntry
	nextEntry credit.EntryID

	// conflictNext injects transient commit conflicts into the next n
	// WithTx calls, for exercising the retry path without a real database.
	conflictNext int
}

func NewMemory() *Memory {
	return &Memory{
		customers: make(map[credit.CustomerID]credit.Customer),
		lines:     make(map[credit.CreditLineID]credit.CreditLine),
		payments:  make(map[credit.PaymentID]credit.Payment),
		nextEntry: 1,
	}
}

// ConflictNext makes the next n WithTx calls fail with the transient
// conflict signal before applying any writes.
func (m *Memory) ConflictNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflictNext = n
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (m *Memory) GetCustomer(_ context.Context, id credit.CustomerID) (*credit.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCustomerLocked(id), nil
}

func (m *Memory) getCustomerLocked(id credit.CustomerID) *credit.Customer {
	c, ok := m.customers[id]
	if !ok {
		return nil
	}
	return &c
}

func (m *Memory) SaveCustomer(_ context.Context, c credit.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
	return nil
}

func (m *Memory) ListCustomers(_ context.Context) ([]credit.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCustomersLocked(), nil
}

func (m *Memory) listCustomersLocked() []credit.Customer {
	customers := make([]credit.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		customers = append(customers, c)
	}
	sort.Slice(customers, func(i, j int) bool { return customers[i].Name < customers[j].Name })
	return customers
}

// =============================================================================
// CREDIT LINES
// =============================================================================

func (m *Memory) GetCreditLine(_ context.Context, id credit.CreditLineID) (*credit.CreditLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLineLocked(id), nil
}

func (m *Memory) getLineLocked(id credit.CreditLineID) *credit.CreditLine {
	cl, ok := m.lines[id]
	if !ok {
		return nil
	}
	return &cl
}

func (m *Memory) InsertCreditLine(_ context.Context, cl credit.CreditLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[cl.ID] = cl
	return nil
}

func (m *Memory) UpdateCreditLine(_ context.Context, cl credit.CreditLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[cl.ID] = cl
	return nil
}

func (m *Memory) OpenCreditLines(_ context.Context, customerID credit.CustomerID) ([]credit.CreditLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openLinesLocked(customerID), nil
}

func (m *Memory) openLinesLocked(customerID credit.CustomerID) []credit.CreditLine {
	var lines []credit.CreditLine
	for _, cl := range m.lines {
		if cl.CustomerID == customerID && cl.Status != credit.LineSettled {
			lines = append(lines, cl)
		}
	}
	// Oldest first; line ID as tiebreak for equal timestamps.
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].ID < lines[j].ID
		}
		return lines[i].CreatedAt.Before(lines[j].CreatedAt)
	})
	return lines
}

func (m *Memory) CreditLinesByCustomer(_ context.Context, customerID credit.CustomerID) ([]credit.CreditLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.linesByCustomerLocked(customerID), nil
}

func (m *Memory) linesByCustomerLocked(customerID credit.CustomerID) []credit.CreditLine {
	var lines []credit.CreditLine
	for _, cl := range m.lines {
		if cl.CustomerID == customerID {
			lines = append(lines, cl)
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].ID > lines[j].ID
		}
		return lines[i].CreatedAt.After(lines[j].CreatedAt)
	})
	return lines
}

// =============================================================================
// PAYMENTS AND LEDGER ENTRIES
// =============================================================================

func (m *Memory) InsertPayment(_ context.Context, p credit.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) AppendEntry(_ context.Context, e credit.LedgerEntry) (credit.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(e), nil
}

func (m *Memory) appendEntryLocked(e credit.LedgerEntry) credit.EntryID {
	e.ID = m.nextEntry
	m.nextEntry++
	m.entries = append(m.entries, e)
	return e.ID
}

func (m *Memory) EntriesByCustomer(_ context.Context, customerID credit.CustomerID, from, to *time.Time) ([]credit.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(customerID, from, to), nil
}

func (m *Memory) entriesLocked(customerID credit.CustomerID, from, to *time.Time) []credit.LedgerEntry {
	var entries []credit.LedgerEntry
	for _, e := range m.entries {
		if e.CustomerID != customerID {
			continue
		}
		if from != nil && e.OccurredAt.Before(*from) {
			continue
		}
		if to != nil && e.OccurredAt.After(*to) {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].OccurredAt.Equal(entries[j].OccurredAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].OccurredAt.Before(entries[j].OccurredAt)
	})
	return entries
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn against a view that writes through to the parent,
// restoring a pre-transaction snapshot if fn fails. The whole transaction
// runs under the write lock, mirroring a serialized single writer.
func (m *Memory) WithTx(_ context.Context, fn func(credit.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conflictNext > 0 {
		m.conflictNext--
		return credit.ErrTransactionConflict
	}

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	customers map[credit.CustomerID]credit.Customer
	lines     map[credit.CreditLineID]credit.CreditLine
	payments  map[credit.PaymentID]credit.Payment
	entries   []credit.LedgerEntry
	nextEntry credit.EntryID
}

func (m *Memory) snapshot() memorySnapshot {
	customers := make(map[credit.CustomerID]credit.Customer, len(m.customers))
	for k, v := range m.customers {
		customers[k] = v
	}
	lines := make(map[credit.CreditLineID]credit.CreditLine, len(m.lines))
	for k, v := range m.lines {
		lines[k] = v
	}
	payments := make(map[credit.PaymentID]credit.Payment, len(m.payments))
	for k, v := range m.payments {
		payments[k] = v
	}
	return memorySnapshot{
		customers: customers,
		lines:     lines,
		payments:  payments,
		entries:   append([]credit.LedgerEntry{}, m.entries...),
		nextEntry: m.nextEntry,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.customers = s.customers
	m.lines = s.lines
	m.payments = s.payments
	m.entries = s.entries
	m.nextEntry = s.nextEntry
}

// txView routes store calls to the parent's locked helpers. It exists so
// fn can use the credit.Store interface without re-acquiring the mutex the
// transaction already holds.
type txView struct {
	parent *Memory
}

func (tv *txView) GetCustomer(_ context.Context, id credit.CustomerID) (*credit.Customer, error) {
	return tv.parent.getCustomerLocked(id), nil
}

func (tv *txView) SaveCustomer(_ context.Context, c credit.Customer) error {
	tv.parent.customers[c.ID] = c
	return nil
}

func (tv *txView) ListCustomers(_ context.Context) ([]credit.Customer, error) {
	return tv.parent.listCustomersLocked(), nil
}

func (tv *txView) GetCreditLine(_ context.Context, id credit.CreditLineID) (*credit.CreditLine, error) {
	return tv.parent.getLineLocked(id), nil
}

func (tv *txView) InsertCreditLine(_ context.Context, cl credit.CreditLine) error {
	tv.parent.lines[cl.ID] = cl
	return nil
}

func (tv *txView) UpdateCreditLine(_ context.Context, cl credit.CreditLine) error {
	tv.parent.lines[cl.ID] = cl
	return nil
}

func (tv *txView) OpenCreditLines(_ context.Context, customerID credit.CustomerID) ([]credit.CreditLine, error) {
	return tv.parent.openLinesLocked(customerID), nil
}

func (tv *txView) CreditLinesByCustomer(_ context.Context, customerID credit.CustomerID) ([]credit.CreditLine, error) {
	return tv.parent.linesByCustomerLocked(customerID), nil
}

func (tv *txView) InsertPayment(_ context.Context, p credit.Payment) error {
	tv.parent.payments[p.ID] = p
	return nil
}

func (tv *txView) AppendEntry(_ context.Context, e credit.LedgerEntry) (credit.EntryID, error) {
	return tv.parent.appendEntryLocked(e), nil
}

func (tv *txView) EntriesByCustomer(_ context.Context, customerID credit.CustomerID, from, to *time.Time) ([]credit.LedgerEntry, error) {
	return tv.parent.entriesLocked(customerID, from, to), nil
}
