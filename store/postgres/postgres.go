/*
Package postgres provides a PostgreSQL-backed implementation of
bookstore.TxStore for multi-instance deployments.

LOCKING:
  Unlike the SQLite store there is no process-wide mutex; several server
  instances may share one database. Compound writes take row and advisory
  locks inside the database transaction instead:

    LockLedger -> SELECT pg_advisory_xact_lock(<ledger key>)
    LockBook   -> SELECT ... FROM books WHERE code = $1 FOR UPDATE

  Both are released at COMMIT or ROLLBACK. Callers always take the ledger
  lock first, so two writers can never wait on each other in a cycle.

MONEY:
  NUMERIC columns, sent and read as decimal strings.
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/warp/bookstore/bookstore"
)

// ledgerLockKey identifies the cash ledger in pg_advisory_xact_lock.
const ledgerLockKey int64 = 0x626f6f6b // "book"

// Config holds connection pool settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements bookstore.TxStore using PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects, verifies the connection and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// New wraps an existing connection pool. The schema is not touched.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS books (
	code           VARCHAR(13) PRIMARY KEY,
	title          TEXT NOT NULL,
	purchase_price NUMERIC NOT NULL CHECK (purchase_price > 0),
	sale_price     NUMERIC NOT NULL CHECK (sale_price > 0),
	quantity       INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
	seq            BIGSERIAL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id              BIGSERIAL PRIMARY KEY,
	book_code       VARCHAR(13) NOT NULL REFERENCES books(code) ON DELETE RESTRICT,
	kind            TEXT NOT NULL CHECK (kind IN ('SALE', 'RESTOCK')),
	quantity        INTEGER NOT NULL CHECK (quantity > 0),
	unit_price      NUMERIC NOT NULL,
	amount          NUMERIC NOT NULL,
	idempotency_key TEXT UNIQUE,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_book ON transactions(book_code);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id             BIGSERIAL PRIMARY KEY,
	created_at     TIMESTAMPTZ NOT NULL,
	kind           TEXT NOT NULL CHECK (kind IN ('INCOME', 'EXPENSE')),
	amount         NUMERIC NOT NULL CHECK (amount > 0),
	balance        NUMERIC NOT NULL CHECK (balance >= 0),
	transaction_id BIGINT UNIQUE REFERENCES transactions(id),
	description    TEXT NOT NULL DEFAULT ''
);
`

// Reset truncates every table and restarts the sequences.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"TRUNCATE ledger_entries, transactions, books RESTART IDENTITY")
	return err
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store bookstore.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx, inTx: true}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) c() *conn { return &conn{q: s.db} }

func (s *Store) InsertBook(ctx context.Context, b bookstore.Book) error {
	return s.c().InsertBook(ctx, b)
}

func (s *Store) GetBook(ctx context.Context, code string) (*bookstore.Book, error) {
	return s.c().GetBook(ctx, code)
}

func (s *Store) LockBook(ctx context.Context, code string) (*bookstore.Book, error) {
	return s.c().LockBook(ctx, code)
}

func (s *Store) ListBooks(ctx context.Context, page bookstore.Page) ([]bookstore.Book, error) {
	return s.c().ListBooks(ctx, page)
}

func (s *Store) UpdateBook(ctx context.Context, b bookstore.Book) error {
	return s.c().UpdateBook(ctx, b)
}

func (s *Store) DeleteBook(ctx context.Context, code string) error {
	return s.c().DeleteBook(ctx, code)
}

func (s *Store) InsertTransaction(ctx context.Context, tx *bookstore.Transaction) error {
	return s.c().InsertTransaction(ctx, tx)
}

func (s *Store) GetTransaction(ctx context.Context, id bookstore.TransactionID) (*bookstore.Transaction, error) {
	return s.c().GetTransaction(ctx, id)
}

func (s *Store) ListTransactions(ctx context.Context, page bookstore.Page) ([]bookstore.Transaction, error) {
	return s.c().ListTransactions(ctx, page)
}

func (s *Store) ListTransactionsByBook(ctx context.Context, code string) ([]bookstore.Transaction, error) {
	return s.c().ListTransactionsByBook(ctx, code)
}

func (s *Store) CountTransactionsByBook(ctx context.Context, code string) (int, error) {
	return s.c().CountTransactionsByBook(ctx, code)
}

func (s *Store) LatestTransaction(ctx context.Context) (*bookstore.Transaction, error) {
	return s.c().LatestTransaction(ctx)
}

func (s *Store) TransactionExists(ctx context.Context, key string) (bool, error) {
	return s.c().TransactionExists(ctx, key)
}

func (s *Store) InsertEntry(ctx context.Context, e *bookstore.LedgerEntry) error {
	return s.c().InsertEntry(ctx, e)
}

func (s *Store) GetEntry(ctx context.Context, id bookstore.EntryID) (*bookstore.LedgerEntry, error) {
	return s.c().GetEntry(ctx, id)
}

func (s *Store) LatestEntry(ctx context.Context) (*bookstore.LedgerEntry, error) {
	return s.c().LatestEntry(ctx)
}

func (s *Store) ListEntries(ctx context.Context, page bookstore.Page) ([]bookstore.LedgerEntry, error) {
	return s.c().ListEntries(ctx, page)
}

func (s *Store) LoadEntries(ctx context.Context) ([]bookstore.LedgerEntry, error) {
	return s.c().LoadEntries(ctx)
}

func (s *Store) LockLedger(ctx context.Context) error {
	return s.c().LockLedger(ctx)
}

// =============================================================================
// CONN
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q    querier
	inTx bool
}

const (
	bookColumns  = "code, title, purchase_price, sale_price, quantity, created_at, updated_at"
	txColumns    = "id, book_code, kind, quantity, unit_price, amount, idempotency_key, created_at"
	entryColumns = "id, created_at, kind, amount, balance, transaction_id, description"
)

// LockLedger takes the transaction-scoped advisory lock. Outside WithTx
// there is nothing to hold it for, so it does nothing.
func (c *conn) LockLedger(ctx context.Context) error {
	if !c.inTx {
		return nil
	}
	if _, err := c.q.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockKey); err != nil {
		return fmt.Errorf("failed to lock ledger: %w", err)
	}
	return nil
}

// --- books ---

func (c *conn) InsertBook(ctx context.Context, b bookstore.Book) error {
	_, err := c.q.ExecContext(ctx,
		"INSERT INTO books ("+bookColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		b.Code, b.Title, b.PurchasePrice.String(), b.SalePrice.String(), b.Quantity,
		b.CreatedAt, b.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("book %s: %w", b.Code, bookstore.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return nil
}

func (c *conn) GetBook(ctx context.Context, code string) (*bookstore.Book, error) {
	return c.queryOneBook(ctx, "SELECT "+bookColumns+" FROM books WHERE code = $1", code)
}

func (c *conn) LockBook(ctx context.Context, code string) (*bookstore.Book, error) {
	return c.queryOneBook(ctx, "SELECT "+bookColumns+" FROM books WHERE code = $1 FOR UPDATE", code)
}

func (c *conn) queryOneBook(ctx context.Context, query string, code string) (*bookstore.Book, error) {
	b, err := scanBook(c.q.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *conn) ListBooks(ctx context.Context, page bookstore.Page) ([]bookstore.Book, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT "+bookColumns+" FROM books ORDER BY seq LIMIT $1 OFFSET $2",
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
		SET title = $1, purchase_price = $2, sale_price = $3, quantity = $4, updated_at = $5
		WHERE code = $6`,
		b.Title, b.PurchasePrice.String(), b.SalePrice.String(), b.Quantity, b.UpdatedAt, b.Code,
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
	if _, err := c.q.ExecContext(ctx, "DELETE FROM books WHERE code = $1", code); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return nil
}

// --- transactions ---

func (c *conn) InsertTransaction(ctx context.Context, tx *bookstore.Transaction) error {
	var id int64
	err := c.q.QueryRowContext(ctx, `
		INSERT INTO transactions (book_code, kind, quantity, unit_price, amount, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		tx.BookCode, string(tx.Kind), tx.Quantity, tx.UnitPrice.String(), tx.Amount.String(),
		nullString(tx.IdempotencyKey), tx.CreatedAt,
	).Scan(&id)
	if isUniqueViolation(err) {
		return fmt.Errorf("idempotency key %s: %w", tx.IdempotencyKey, bookstore.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	tx.ID = bookstore.TransactionID(id)
	return nil
}

func (c *conn) GetTransaction(ctx context.Context, id bookstore.TransactionID) (*bookstore.Transaction, error) {
	return c.queryOneTransaction(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = $1", int64(id))
}

func (c *conn) LatestTransaction(ctx context.Context) (*bookstore.Transaction, error) {
	return c.queryOneTransaction(ctx, "SELECT "+txColumns+" FROM transactions ORDER BY id DESC LIMIT 1")
}

func (c *conn) queryOneTransaction(ctx context.Context, query string, args ...any) (*bookstore.Transaction, error) {
	tx, err := scanTransaction(c.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *conn) ListTransactions(ctx context.Context, page bookstore.Page) ([]bookstore.Transaction, error) {
	return c.queryTransactions(ctx,
		"SELECT "+txColumns+" FROM transactions ORDER BY id LIMIT $1 OFFSET $2",
		page.Limit, page.Offset)
}

func (c *conn) ListTransactionsByBook(ctx context.Context, code string) ([]bookstore.Transaction, error) {
	return c.queryTransactions(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE book_code = $1 ORDER BY id", code)
}

func (c *conn) CountTransactionsByBook(ctx context.Context, code string) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE book_code = $1", code).Scan(&n)
	return n, err
}

func (c *conn) TransactionExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := c.q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM transactions WHERE idempotency_key = $1)", key).Scan(&exists)
	return exists, err
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
	var id int64
	err := c.q.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (created_at, kind, amount, balance, transaction_id, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		e.CreatedAt, string(e.Kind), e.Amount.String(), e.Balance.String(), txID, e.Description,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	e.ID = bookstore.EntryID(id)
	return nil
}

func (c *conn) GetEntry(ctx context.Context, id bookstore.EntryID) (*bookstore.LedgerEntry, error) {
	return c.queryOneEntry(ctx, "SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1", int64(id))
}

func (c *conn) LatestEntry(ctx context.Context) (*bookstore.LedgerEntry, error) {
	return c.queryOneEntry(ctx, "SELECT "+entryColumns+" FROM ledger_entries ORDER BY id DESC LIMIT 1")
}

func (c *conn) ListEntries(ctx context.Context, page bookstore.Page) ([]bookstore.LedgerEntry, error) {
	return c.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries ORDER BY id DESC LIMIT $1 OFFSET $2",
		page.Limit, page.Offset)
}

func (c *conn) LoadEntries(ctx context.Context) ([]bookstore.LedgerEntry, error) {
	return c.queryEntries(ctx, "SELECT "+entryColumns+" FROM ledger_entries ORDER BY id")
}

func (c *conn) queryOneEntry(ctx context.Context, query string, args ...any) (*bookstore.LedgerEntry, error) {
	e, err := scanEntry(c.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
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

// decimal.Decimal implements sql.Scanner, so NUMERIC columns scan directly.

func scanBook(row scanner) (bookstore.Book, error) {
	var b bookstore.Book
	err := row.Scan(&b.Code, &b.Title, &b.PurchasePrice, &b.SalePrice, &b.Quantity, &b.CreatedAt, &b.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return b, fmt.Errorf("failed to scan book: %w", err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, err
}

func scanTransaction(row scanner) (bookstore.Transaction, error) {
	var (
		tx   bookstore.Transaction
		id   int64
		kind string
		key  sql.NullString
	)
	err := row.Scan(&id, &tx.BookCode, &kind, &tx.Quantity, &tx.UnitPrice, &tx.Amount, &key, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx, err
		}
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.ID = bookstore.TransactionID(id)
	tx.Kind = bookstore.TransactionKind(kind)
	tx.IdempotencyKey = key.String
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

func scanEntry(row scanner) (bookstore.LedgerEntry, error) {
	var (
		e    bookstore.LedgerEntry
		id   int64
		kind string
		txID sql.NullInt64
	)
	err := row.Scan(&id, &e.CreatedAt, &kind, &e.Amount, &e.Balance, &txID, &e.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	e.ID = bookstore.EntryID(id)
	e.Kind = bookstore.MovementKind(kind)
	e.CreatedAt = e.CreatedAt.UTC()
	if txID.Valid {
		id := bookstore.TransactionID(txID.Int64)
		e.TransactionID = &id
	}
	return e, nil
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

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}
