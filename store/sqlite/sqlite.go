/*
Package sqlite provides a SQLite-backed implementation of credit.TxStore.

PURPOSE:
  Production persistence for the credit engine. The same patterns apply to
  PostgreSQL - only minor SQL dialect differences and a different transient
  error class (serialization failure instead of SQLITE_BUSY).

KEY TABLES:
  customers:      Identity, credit limit, denormalized current balance
  credit_lines:   One row per credit-financed sale, updated as payments land
  payments:       Immutable payment events
  ledger_entries: Append-only ledger; INTEGER PRIMARY KEY gives the
                  monotonic id used as the same-timestamp tiebreak

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for payments or ledger_entries.
  credit_lines are updated only in their paid/remaining/status columns.

AMOUNT ENCODING:
  Monetary columns are TEXT holding the 2-decimal string form. SQLite's
  REAL would reintroduce the floating-point drift the engine rounds away.

TRANSIENT CONFLICTS:
  "database is locked" / "database table is locked" map to
  credit.ErrTransactionConflict, which the retry coordinator absorbs.
  Other drivers map their own equivalents to the same sentinel.

WAL MODE:
  SQLite is opened with WAL so readers don't block behind the single
  writer; a busy_timeout keeps brief write overlaps out of the retry path.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - credit/store.go: Interface definitions
  - credit/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/credit-engine/credit"
)

// Store implements credit.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=250")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		credit_limit TEXT NOT NULL,
		current_balance TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credit_lines (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		sale_id TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		remaining_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Oldest-first allocation walk (hot path)
	CREATE INDEX IF NOT EXISTS idx_credit_lines_customer_created
		ON credit_lines(customer_id, created_at ASC);
	CREATE INDEX IF NOT EXISTS idx_credit_lines_status
		ON credit_lines(status);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		credit_line_id TEXT NOT NULL REFERENCES credit_lines(id),
		customer_id TEXT NOT NULL REFERENCES customers(id),
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		notes TEXT,
		paid_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_credit_line
		ON payments(credit_line_id);

	-- Append-only ledger. INTEGER PRIMARY KEY is the rowid: strictly
	-- increasing, used as the (occurred_at, id) ordering tiebreak.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		credit_line_id TEXT,
		kind TEXT NOT NULL,
		direction TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		reference TEXT,
		occurred_at TEXT NOT NULL
	);

	-- Statement replay (hot path)
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_customer_occurred
		ON ledger_entries(customer_id, occurred_at ASC, id ASC);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference
		ON ledger_entries(reference) WHERE reference IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query helper can
// run inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (s *Store) GetCustomer(ctx context.Context, id credit.CustomerID) (*credit.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCustomer(ctx, s.db, id)
}

func getCustomer(ctx context.Context, db dbtx, id credit.CustomerID) (*credit.Customer, error) {
	var (
		c              credit.Customer
		limit, balance string
		createdAt      string
	)

	err := db.QueryRowContext(ctx,
		"SELECT id, name, phone, credit_limit, current_balance, created_at FROM customers WHERE id = ?",
		id,
	).Scan(&c.ID, &c.Name, &c.Phone, &limit, &balance, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("failed to get customer", err)
	}

	c.CreditLimit = credit.MustParseMoney(limit)
	c.CurrentBalance = credit.MustParseMoney(balance)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

func (s *Store) SaveCustomer(ctx context.Context, c credit.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCustomer(ctx, s.db, c)
}

func saveCustomer(ctx context.Context, db dbtx, c credit.Customer) error {
	query := `
		INSERT INTO customers (id, name, phone, credit_limit, current_balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			credit_limit = excluded.credit_limit,
			current_balance = excluded.current_balance
	`

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, query,
		c.ID, c.Name, c.Phone,
		c.CreditLimit.String(),
		c.CurrentBalance.String(),
		createdAt.Format(time.RFC3339),
	)
	return mapErr("failed to save customer", err)
}

func (s *Store) ListCustomers(ctx context.Context) ([]credit.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCustomers(ctx, s.db)
}

func listCustomers(ctx context.Context, db dbtx) ([]credit.Customer, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, name, phone, credit_limit, current_balance, created_at FROM customers ORDER BY name",
	)
	if err != nil {
		return nil, mapErr("failed to list customers", err)
	}
	defer rows.Close()

	var customers []credit.Customer
	for rows.Next() {
		var (
			c              credit.Customer
			limit, balance string
			createdAt      string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &limit, &balance, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		c.CreditLimit = credit.MustParseMoney(limit)
		c.CurrentBalance = credit.MustParseMoney(balance)
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// =============================================================================
// CREDIT LINES
// =============================================================================

const creditLineColumns = "id, customer_id, sale_id, original_amount, paid_amount, remaining_amount, status, created_at"

func (s *Store) GetCreditLine(ctx context.Context, id credit.CreditLineID) (*credit.CreditLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCreditLine(ctx, s.db, id)
}

func getCreditLine(ctx context.Context, db dbtx, id credit.CreditLineID) (*credit.CreditLine, error) {
	lines, err := queryCreditLines(ctx, db,
		"SELECT "+creditLineColumns+" FROM credit_lines WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}
	return &lines[0], nil
}

func (s *Store) InsertCreditLine(ctx context.Context, cl credit.CreditLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertCreditLine(ctx, s.db, cl)
}

func insertCreditLine(ctx context.Context, db dbtx, cl credit.CreditLine) error {
	query := `
		INSERT INTO credit_lines
		(id, customer_id, sale_id, original_amount, paid_amount, remaining_amount, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		cl.ID, cl.CustomerID, cl.SaleID,
		cl.Original.String(), cl.Paid.String(), cl.Remaining.String(),
		cl.Status, cl.CreatedAt.Format(time.RFC3339),
	)
	return mapErr("failed to insert credit line", err)
}

func (s *Store) UpdateCreditLine(ctx context.Context, cl credit.CreditLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateCreditLine(ctx, s.db, cl)
}

func updateCreditLine(ctx context.Context, db dbtx, cl credit.CreditLine) error {
	// Only the payment-mutable columns. original_amount, sale_id and
	// created_at never change after issuance.
	query := `
		UPDATE credit_lines
		SET paid_amount = ?, remaining_amount = ?, status = ?
		WHERE id = ?
	`
	_, err := db.ExecContext(ctx, query,
		cl.Paid.String(), cl.Remaining.String(), cl.Status, cl.ID,
	)
	return mapErr("failed to update credit line", err)
}

func (s *Store) OpenCreditLines(ctx context.Context, customerID credit.CustomerID) ([]credit.CreditLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return openCreditLines(ctx, s.db, customerID)
}

func openCreditLines(ctx context.Context, db dbtx, customerID credit.CustomerID) ([]credit.CreditLine, error) {
	query := `
		SELECT ` + creditLineColumns + `
		FROM credit_lines
		WHERE customer_id = ? AND status != 'settled'
		ORDER BY created_at ASC, id ASC
	`
	return queryCreditLines(ctx, db, query, customerID)
}

func (s *Store) CreditLinesByCustomer(ctx context.Context, customerID credit.CustomerID) ([]credit.CreditLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + creditLineColumns + `
		FROM credit_lines
		WHERE customer_id = ?
		ORDER BY created_at DESC, id DESC
	`
	return queryCreditLines(ctx, s.db, query, customerID)
}

func queryCreditLines(ctx context.Context, db dbtx, query string, args ...any) ([]credit.CreditLine, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("failed to query credit lines", err)
	}
	defer rows.Close()

	var lines []credit.CreditLine
	for rows.Next() {
		var (
			cl                        credit.CreditLine
			original, paid, remaining string
			createdAt                 string
		)
		if err := rows.Scan(&cl.ID, &cl.CustomerID, &cl.SaleID,
			&original, &paid, &remaining, &cl.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit line: %w", err)
		}
		cl.Original = credit.MustParseMoney(original)
		cl.Paid = credit.MustParseMoney(paid)
		cl.Remaining = credit.MustParseMoney(remaining)
		cl.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		lines = append(lines, cl)
	}
	return lines, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) InsertPayment(ctx context.Context, p credit.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPayment(ctx, s.db, p)
}

func insertPayment(ctx context.Context, db dbtx, p credit.Payment) error {
	query := `
		INSERT INTO payments (id, credit_line_id, customer_id, amount, method, notes, paid_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		p.ID, p.CreditLineID, p.CustomerID,
		p.Amount.String(), p.Method, p.Notes,
		p.PaidAt.Format(time.RFC3339),
	)
	return mapErr("failed to insert payment", err)
}

// PaymentsByCreditLine returns a line's payments, oldest first.
func (s *Store) PaymentsByCreditLine(ctx context.Context, creditLineID credit.CreditLineID) ([]credit.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, credit_line_id, customer_id, amount, method, notes, paid_at
		FROM payments
		WHERE credit_line_id = ?
		ORDER BY paid_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, creditLineID)
	if err != nil {
		return nil, mapErr("failed to query payments", err)
	}
	defer rows.Close()

	var payments []credit.Payment
	for rows.Next() {
		var (
			p      credit.Payment
			amount string
			notes  sql.NullString
			paidAt string
		)
		if err := rows.Scan(&p.ID, &p.CreditLineID, &p.CustomerID, &amount, &p.Method, &notes, &paidAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Amount = credit.MustParseMoney(amount)
		p.Notes = notes.String
		p.PaidAt, _ = time.Parse(time.RFC3339, paidAt)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e credit.LedgerEntry) (credit.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, db dbtx, e credit.LedgerEntry) (credit.EntryID, error) {
	query := `
		INSERT INTO ledger_entries
		(customer_id, credit_line_id, kind, direction, amount, description, reference, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := db.ExecContext(ctx, query,
		e.CustomerID, nullString(string(e.CreditLineID)),
		e.Kind, e.Direction, e.Amount.String(),
		e.Description, nullString(e.Reference),
		e.OccurredAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, mapErr("failed to append ledger entry", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read entry id: %w", err)
	}
	return credit.EntryID(id), nil
}

func (s *Store) EntriesByCustomer(ctx context.Context, customerID credit.CustomerID, from, to *time.Time) ([]credit.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entriesByCustomer(ctx, s.db, customerID, from, to)
}

func entriesByCustomer(ctx context.Context, db dbtx, customerID credit.CustomerID, from, to *time.Time) ([]credit.LedgerEntry, error) {
	query := `
		SELECT id, customer_id, credit_line_id, kind, direction, amount, description, reference, occurred_at
		FROM ledger_entries
		WHERE customer_id = ?
	`
	args := []any{customerID}

	if from != nil {
		query += " AND occurred_at >= ?"
		args = append(args, from.Format(time.RFC3339))
	}
	if to != nil {
		query += " AND occurred_at <= ?"
		args = append(args, to.Format(time.RFC3339))
	}
	query += " ORDER BY occurred_at ASC, id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("failed to query ledger entries", err)
	}
	defer rows.Close()

	var entries []credit.LedgerEntry
	for rows.Next() {
		var (
			e                      credit.LedgerEntry
			creditLineID           sql.NullString
			amount                 string
			description, reference sql.NullString
			occurredAt             string
		)
		if err := rows.Scan(&e.ID, &e.CustomerID, &creditLineID, &e.Kind, &e.Direction,
			&amount, &description, &reference, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.CreditLineID = credit.CreditLineID(creditLineID.String)
		e.Amount = credit.MustParseMoney(amount)
		e.Description = description.String
		e.Reference = reference.String
		e.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONS (credit.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. All reads inside fn see
// the transaction's own writes; everything commits together or not at all.
func (s *Store) WithTx(ctx context.Context, fn func(credit.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("failed to begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapErr("failed to commit transaction", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetCustomer(ctx context.Context, id credit.CustomerID) (*credit.Customer, error) {
	return getCustomer(ctx, ts.tx, id)
}

func (ts *txStore) SaveCustomer(ctx context.Context, c credit.Customer) error {
	return saveCustomer(ctx, ts.tx, c)
}

func (ts *txStore) ListCustomers(ctx context.Context) ([]credit.Customer, error) {
	return listCustomers(ctx, ts.tx)
}

func (ts *txStore) GetCreditLine(ctx context.Context, id credit.CreditLineID) (*credit.CreditLine, error) {
	return getCreditLine(ctx, ts.tx, id)
}

func (ts *txStore) InsertCreditLine(ctx context.Context, cl credit.CreditLine) error {
	return insertCreditLine(ctx, ts.tx, cl)
}

func (ts *txStore) UpdateCreditLine(ctx context.Context, cl credit.CreditLine) error {
	return updateCreditLine(ctx, ts.tx, cl)
}

func (ts *txStore) OpenCreditLines(ctx context.Context, customerID credit.CustomerID) ([]credit.CreditLine, error) {
	return openCreditLines(ctx, ts.tx, customerID)
}

func (ts *txStore) CreditLinesByCustomer(ctx context.Context, customerID credit.CustomerID) ([]credit.CreditLine, error) {
	query := `
		SELECT ` + creditLineColumns + `
		FROM credit_lines
		WHERE customer_id = ?
		ORDER BY created_at DESC, id DESC
	`
	return queryCreditLines(ctx, ts.tx, query, customerID)
}

func (ts *txStore) InsertPayment(ctx context.Context, p credit.Payment) error {
	return insertPayment(ctx, ts.tx, p)
}

func (ts *txStore) AppendEntry(ctx context.Context, e credit.LedgerEntry) (credit.EntryID, error) {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) EntriesByCustomer(ctx context.Context, customerID credit.CustomerID, from, to *time.Time) ([]credit.LedgerEntry, error) {
	return entriesByCustomer(ctx, ts.tx, customerID, from, to)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// mapErr wraps a store error, translating SQLite's transient lock failures
// to the engine's conflict sentinel so the retry coordinator can absorb
// them. Everything else (connectivity, constraint bugs) propagates as-is.
func mapErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%s: %w", msg, credit.ErrTransactionConflict)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isTransient(err error) bool {
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "database table is locked") ||
		strings.Contains(s, "SQLITE_BUSY")
}
