/*
Package sqlite provides a SQLite-backed implementation of bookstore.TxStore.

KEY TABLES:
  books:          Catalog (code is the primary key, rowid gives insertion order)
  transactions:   Append-only sale/restock records
  ledger_entries: Append-only cash movements with running balance

APPEND-ONLY ENFORCEMENT:
  There are no UPDATE or DELETE statements on transactions or
  ledger_entries. books.code is referenced with ON DELETE RESTRICT, so even a
  buggy caller cannot cascade a book deletion into history.

MONEY:
  Stored as decimal strings (shopspring/decimal), never REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole unit of work, which is the global-lock isolation choice: the
  "read balance then append" sequence can never interleave with another
  writer. The pool is pinned to one connection because SQLite admits a
  single writer anyway and ":memory:" databases are per-connection.

WAL MODE:
  File databases are opened with WAL so readers don't block the writer.

USAGE:
  store, err := sqlite.New("./data/bookstore.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/bookstore/bookstore"
)

// Store implements bookstore.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS books (
		code TEXT PRIMARY KEY CHECK (length(code) BETWEEN 1 AND 13),
		title TEXT NOT NULL,
		purchase_price TEXT NOT NULL,
		sale_price TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Transactions (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_code TEXT NOT NULL REFERENCES books(code) ON DELETE RESTRICT,
		kind TEXT NOT NULL CHECK (kind IN ('SALE', 'RESTOCK')),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		amount TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_book
		ON transactions(book_code);

	-- Cash ledger (append-only, balance is the running sum)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('INCOME', 'EXPENSE')),
		amount TEXT NOT NULL,
		balance TEXT NOT NULL,
		transaction_id INTEGER REFERENCES transactions(id),
		description TEXT NOT NULL DEFAULT ''
	);

	-- A transaction owns at most one entry
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_transaction
		ON ledger_entries(transaction_id) WHERE transaction_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all rows and restarts the sequences.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range []string{
		"DELETE FROM ledger_entries",
		"DELETE FROM transactions",
		"DELETE FROM books",
		"DELETE FROM sqlite_sequence",
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (bookstore.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store bookstore.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// LOCKED ENTRY POINTS (outside WithTx)
// =============================================================================

func (s *Store) read() *conn { return &conn{q: s.db} }

func (s *Store) InsertBook(ctx context.Context, b bookstore.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertBook(ctx, b)
}

func (s *Store) GetBook(ctx context.Context, code string) (*bookstore.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetBook(ctx, code)
}

func (s *Store) LockBook(ctx context.Context, code string) (*bookstore.Book, error) {
	return s.GetBook(ctx, code)
}

func (s *Store) ListBooks(ctx context.Context, page bookstore.Page) ([]bookstore.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListBooks(ctx, page)
}

func (s *Store) UpdateBook(ctx context.Context, b bookstore.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateBook(ctx, b)
}

func (s *Store) DeleteBook(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().DeleteBook(ctx, code)
}

func (s *Store) InsertTransaction(ctx context.Context, tx *bookstore.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertTransaction(ctx, tx)
}

func (s *Store) GetTransaction(ctx context.Context, id bookstore.TransactionID) (*bookstore.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetTransaction(ctx, id)
}

func (s *Store) ListTransactions(ctx context.Context, page bookstore.Page) ([]bookstore.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListTransactions(ctx, page)
}

func (s *Store) ListTransactionsByBook(ctx context.Context, code string) ([]bookstore.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListTransactionsByBook(ctx, code)
}

func (s *Store) CountTransactionsByBook(ctx context.Context, code string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CountTransactionsByBook(ctx, code)
}

func (s *Store) LatestTransaction(ctx context.Context) (*bookstore.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().LatestTransaction(ctx)
}

func (s *Store) TransactionExists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().TransactionExists(ctx, key)
}

func (s *Store) InsertEntry(ctx context.Context, e *bookstore.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertEntry(ctx, e)
}

func (s *Store) GetEntry(ctx context.Context, id bookstore.EntryID) (*bookstore.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetEntry(ctx, id)
}

func (s *Store) LatestEntry(ctx context.Context) (*bookstore.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().LatestEntry(ctx)
}

func (s *Store) ListEntries(ctx context.Context, page bookstore.Page) ([]bookstore.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListEntries(ctx, page)
}

func (s *Store) LoadEntries(ctx context.Context) ([]bookstore.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().LoadEntries(ctx)
}

// LockLedger is a no-op: WithTx already holds the store-wide write lock.
func (s *Store) LockLedger(context.Context) error { return nil }

// =============================================================================
// CONN - queries over *sql.DB or *sql.Tx, no locking
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q querier
}

const (
	bookColumns  = "code, title, purchase_price, sale_price, quantity, created_at, updated_at"
	txColumns    = "id, book_code, kind, quantity, unit_price, amount, idempotency_key, created_at"
	entryColumns = "id, created_at, kind, amount, balance, transaction_id, description"
)

// --- books ---

func (c *conn) InsertBook(ctx context.Context, b bookstore.Book) error {
	_, err := c.q.ExecContext(ctx,
		"INSERT INTO books ("+bookColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		b.Code, b.Title, b.PurchasePrice.String(), b.SalePrice.String(), b.Quantity,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("book %s: %w", b.Code, bookstore.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return nil
}

func (c *conn) GetBook(ctx context.Context, code string) (*bookstore.Book, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+bookColumns+" FROM books WHERE code = ?", code)
	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *conn) LockBook(ctx context.Context, code string) (*bookstore.Book, error) {
	return c.GetBook(ctx, code)
}

func (c *conn) ListBooks(ctx context.Context, page bookstore.Page) ([]bookstore.Book, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT "+bookColumns+" FROM books ORDER BY rowid LIMIT ? OFFSET ?",
		page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	books := []bookstore.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (c *conn) UpdateBook(ctx context.Context, b bookstore.Book) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE books
		SET title = ?, purchase_price = ?, sale_price = ?, quantity = ?, updated_at = ?
		WHERE code = ?`,
		b.Title, b.PurchasePrice.String(), b.SalePrice.String(), b.Quantity,
		formatTime(b.UpdatedAt), b.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update book %s: no such row", b.Code)
	}
	return nil
}

func (c *conn) DeleteBook(ctx context.Context, code string) error {
	if _, err := c.q.ExecContext(ctx, "DELETE FROM books WHERE code = ?", code); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return nil
}

// --- transactions ---

func (c *conn) InsertTransaction(ctx context.Context, tx *bookstore.Transaction) error {
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO transactions (book_code, kind, quantity, unit_price, amount, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.BookCode, string(tx.Kind), tx.Quantity, tx.UnitPrice.String(), tx.Amount.String(),
		nullString(tx.IdempotencyKey), formatTime(tx.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("idempotency key %s: %w", tx.IdempotencyKey, bookstore.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read transaction id: %w", err)
	}
	tx.ID = bookstore.TransactionID(id)
	return nil
}

func (c *conn) GetTransaction(ctx context.Context, id bookstore.TransactionID) (*bookstore.Transaction, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = ?", int64(id))
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *conn) ListTransactions(ctx context.Context, page bookstore.Page) ([]bookstore.Transaction, error) {
	return c.queryTransactions(ctx,
		"SELECT "+txColumns+" FROM transactions ORDER BY id LIMIT ? OFFSET ?",
		page.Limit, page.Offset)
}

func (c *conn) ListTransactionsByBook(ctx context.Context, code string) ([]bookstore.Transaction, error) {
	return c.queryTransactions(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE book_code = ? ORDER BY id", code)
}

func (c *conn) CountTransactionsByBook(ctx context.Context, code string) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE book_code = ?", code).Scan(&n)
	return n, err
}

func (c *conn) LatestTransaction(ctx context.Context) (*bookstore.Transaction, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+txColumns+" FROM transactions ORDER BY id DESC LIMIT 1")
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *conn) TransactionExists(ctx context.Context, key string) (bool, error) {
	var count int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?", key).Scan(&count)
	return count > 0, err
}

func (c *conn) queryTransactions(ctx context.Context, query string, args ...any) ([]bookstore.Transaction, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []bookstore.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// --- ledger ---

func (c *conn) InsertEntry(ctx context.Context, e *bookstore.LedgerEntry) error {
	var txID sql.NullInt64
	if e.TransactionID != nil {
		txID = sql.NullInt64{Int64: int64(*e.TransactionID), Valid: true}
	}
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (created_at, kind, amount, balance, transaction_id, description)
		VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(e.CreatedAt), string(e.Kind), e.Amount.String(), e.Balance.String(), txID, e.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read ledger entry id: %w", err)
	}
	e.ID = bookstore.EntryID(id)
	return nil
}

func (c *conn) GetEntry(ctx context.Context, id bookstore.EntryID) (*bookstore.LedgerEntry, error) {
	return c.queryOneEntry(ctx, "SELECT "+entryColumns+" FROM ledger_entries WHERE id = ?", int64(id))
}

func (c *conn) LatestEntry(ctx context.Context) (*bookstore.LedgerEntry, error) {
	return c.queryOneEntry(ctx, "SELECT "+entryColumns+" FROM ledger_entries ORDER BY id DESC LIMIT 1")
}

func (c *conn) ListEntries(ctx context.Context, page bookstore.Page) ([]bookstore.LedgerEntry, error) {
	return c.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries ORDER BY id DESC LIMIT ? OFFSET ?",
		page.Limit, page.Offset)
}

func (c *conn) LoadEntries(ctx context.Context) ([]bookstore.LedgerEntry, error) {
	return c.queryEntries(ctx, "SELECT "+entryColumns+" FROM ledger_entries ORDER BY id")
}

func (c *conn) LockLedger(context.Context) error { return nil }

func (c *conn) queryOneEntry(ctx context.Context, query string, args ...any) (*bookstore.LedgerEntry, error) {
	e, err := scanEntry(c.q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *conn) queryEntries(ctx context.Context, query string, args ...any) ([]bookstore.LedgerEntry, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []bookstore.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner) (bookstore.Book, error) {
	var (
		b                    bookstore.Book
		purchase, sale       string
		createdAt, updatedAt string
	)
	if err := row.Scan(&b.Code, &b.Title, &purchase, &sale, &b.Quantity, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return b, err
		}
		return b, fmt.Errorf("failed to scan book: %w", err)
	}
	var err error
	if b.PurchasePrice, err = bookstore.ParseMoney(purchase); err != nil {
		return b, err
	}
	if b.SalePrice, err = bookstore.ParseMoney(sale); err != nil {
		return b, err
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

func scanTransaction(row scanner) (bookstore.Transaction, error) {
	var (
		tx                bookstore.Transaction
		id                int64
		kind              string
		unitPrice, amount string
		idempotencyKey    sql.NullString
		createdAt         string
	)
	if err := row.Scan(&id, &tx.BookCode, &kind, &tx.Quantity, &unitPrice, &amount, &idempotencyKey, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return tx, err
		}
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.ID = bookstore.TransactionID(id)
	tx.Kind = bookstore.TransactionKind(kind)
	var err error
	if tx.UnitPrice, err = bookstore.ParseMoney(unitPrice); err != nil {
		return tx, err
	}
	if tx.Amount, err = bookstore.ParseMoney(amount); err != nil {
		return tx, err
	}
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedAt = parseTime(createdAt)
	return tx, nil
}

func scanEntry(row scanner) (bookstore.LedgerEntry, error) {
	var (
		e               bookstore.LedgerEntry
		id              int64
		createdAt, kind string
		amount, balance string
		txID            sql.NullInt64
	)
	if err := row.Scan(&id, &createdAt, &kind, &amount, &balance, &txID, &e.Description); err != nil {
		if err == sql.ErrNoRows {
			return e, err
		}
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	e.ID = bookstore.EntryID(id)
	e.CreatedAt = parseTime(createdAt)
	e.Kind = bookstore.MovementKind(kind)
	var err error
	if e.Amount, err = bookstore.ParseMoney(amount); err != nil {
		return e, err
	}
	if e.Balance, err = bookstore.ParseMoney(balance); err != nil {
		return e, err
	}
	if txID.Valid {
		id := bookstore.TransactionID(txID.Int64)
		e.TransactionID = &id
	}
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
