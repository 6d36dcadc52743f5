/*
store.go - Persistence interface for books, transactions and the cash ledger

PURPOSE:
  Defines the boundary between the domain logic and the database. Stores are
  deliberately dumb: they read and write rows. Every business rule lives in
  this package, so all implementations behave identically.

KEY INTERFACES:
  Store:   Per-entity reads and writes
  TxStore: Store plus WithTx for all-or-nothing units of work

CONTRACT:
  - Lookups of a missing key return (nil, nil). The domain layer turns that
    into a NotFoundError.
  - Inserting an existing unique key returns an error wrapping ErrDuplicateKey.
  - Transactions and ledger entries have no update or delete method.
  - InsertTransaction and InsertEntry assign the sequence ID.

LOCKING:
  LockLedger and LockBook are called at the start of every compound write,
  always in that order. A store may implement them as no-ops when WithTx
  already serialises writers (memory, sqlite) or as real locks (postgres).

IMPLEMENTATIONS:
  - bookstore/store: in-memory, for tests and demos
  - store/sqlite: SQLite via database/sql
  - store/postgres: PostgreSQL via lib/pq
*/
package bookstore

import "context"

// Store handles persistence of the three record types.
type Store interface {
	// Books
	InsertBook(ctx context.Context, b Book) error
	GetBook(ctx context.Context, code string) (*Book, error)
	// LockBook reads the book and holds it against concurrent writers until
	// the enclosing unit of work ends.
	LockBook(ctx context.Context, code string) (*Book, error)
	ListBooks(ctx context.Context, page Page) ([]Book, error)
	UpdateBook(ctx context.Context, b Book) error
	DeleteBook(ctx context.Context, code string) error

	// Transactions (append-only)
	InsertTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	ListTransactions(ctx context.Context, page Page) ([]Transaction, error)
	ListTransactionsByBook(ctx context.Context, code string) ([]Transaction, error)
	CountTransactionsByBook(ctx context.Context, code string) (int, error)
	LatestTransaction(ctx context.Context) (*Transaction, error)
	TransactionExists(ctx context.Context, idempotencyKey string) (bool, error)

	// Ledger (append-only)
	InsertEntry(ctx context.Context, e *LedgerEntry) error
	GetEntry(ctx context.Context, id EntryID) (*LedgerEntry, error)
	// LatestEntry returns the entry with the highest ID, or nil when empty.
	LatestEntry(ctx context.Context) (*LedgerEntry, error)
	// ListEntries returns entries newest first.
	ListEntries(ctx context.Context, page Page) ([]LedgerEntry, error)
	// LoadEntries returns every entry oldest first.
	LoadEntries(ctx context.Context) ([]LedgerEntry, error)
	// LockLedger serialises ledger appends until the unit of work ends.
	LockLedger(ctx context.Context) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Resetter is implemented by stores that can wipe all data (demo scenarios).
type Resetter interface {
	Reset(ctx context.Context) error
}
