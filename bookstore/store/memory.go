// Package store provides an in-memory bookstore.TxStore.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/bookstore/bookstore"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every record in process memory. WithTx holds the write lock
// for the whole unit of work and restores a snapshot on error, so units of
// work are fully serialised.
type Memory struct {
	mu sync.RWMutex
	st state
}

type state struct {
	books     map[string]bookstore.Book
	bookOrder []string
	txs       []bookstore.Transaction // ID order
	entries   []bookstore.LedgerEntry // ID order
	idemKeys  map[string]bool
	nextTxID  bookstore.TransactionID
	nextEntry bookstore.EntryID
}

func NewMemory() *Memory {
	m := &Memory{}
	m.st = newState()
	return m
}

func newState() state {
	return state{
		books:     make(map[string]bookstore.Book),
		idemKeys:  make(map[string]bool),
		nextTxID:  1,
		nextEntry: 1,
	}
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Memory) InsertBook(ctx context.Context, b bookstore.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertBook(ctx, b)
}

func (m *Memory) GetBook(ctx context.Context, code string) (*bookstore.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBook(ctx, code)
}

func (m *Memory) LockBook(ctx context.Context, code string) (*bookstore.Book, error) {
	return m.GetBook(ctx, code)
}

func (m *Memory) ListBooks(ctx context.Context, page bookstore.Page) ([]bookstore.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListBooks(ctx, page)
}

func (m *Memory) UpdateBook(ctx context.Context, b bookstore.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateBook(ctx, b)
}

func (m *Memory) DeleteBook(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteBook(ctx, code)
}

func (m *Memory) InsertTransaction(ctx context.Context, tx *bookstore.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertTransaction(ctx, tx)
}

func (m *Memory) GetTransaction(ctx context.Context, id bookstore.TransactionID) (*bookstore.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetTransaction(ctx, id)
}

func (m *Memory) ListTransactions(ctx context.Context, page bookstore.Page) ([]bookstore.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListTransactions(ctx, page)
}

func (m *Memory) ListTransactionsByBook(ctx context.Context, code string) ([]bookstore.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListTransactionsByBook(ctx, code)
}

func (m *Memory) CountTransactionsByBook(ctx context.Context, code string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.CountTransactionsByBook(ctx, code)
}

func (m *Memory) LatestTransaction(ctx context.Context) (*bookstore.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.LatestTransaction(ctx)
}

func (m *Memory) TransactionExists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.TransactionExists(ctx, key)
}

func (m *Memory) InsertEntry(ctx context.Context, e *bookstore.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertEntry(ctx, e)
}

func (m *Memory) GetEntry(ctx context.Context, id bookstore.EntryID) (*bookstore.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetEntry(ctx, id)
}

func (m *Memory) LatestEntry(ctx context.Context) (*bookstore.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.LatestEntry(ctx)
}

func (m *Memory) ListEntries(ctx context.Context, page bookstore.Page) ([]bookstore.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListEntries(ctx, page)
}

func (m *Memory) LoadEntries(ctx context.Context) ([]bookstore.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.LoadEntries(ctx)
}

// LockLedger is a no-op outside WithTx; inside it the write lock is held.
func (m *Memory) LockLedger(context.Context) error { return nil }

// Reset drops all data.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(bookstore.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: &m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// txView runs against the state directly; the caller already holds the lock.
type txView struct {
	st *state
}

func (v *txView) InsertBook(ctx context.Context, b bookstore.Book) error {
	return v.st.InsertBook(ctx, b)
}
func (v *txView) GetBook(ctx context.Context, code string) (*bookstore.Book, error) {
	return v.st.GetBook(ctx, code)
}
func (v *txView) LockBook(ctx context.Context, code string) (*bookstore.Book, error) {
	return v.st.GetBook(ctx, code)
}
func (v *txView) ListBooks(ctx context.Context, page bookstore.Page) ([]bookstore.Book, error) {
	return v.st.ListBooks(ctx, page)
}
func (v *txView) UpdateBook(ctx context.Context, b bookstore.Book) error {
	return v.st.UpdateBook(ctx, b)
}
func (v *txView) DeleteBook(ctx context.Context, code string) error {
	return v.st.DeleteBook(ctx, code)
}
func (v *txView) InsertTransaction(ctx context.Context, tx *bookstore.Transaction) error {
	return v.st.InsertTransaction(ctx, tx)
}
func (v *txView) GetTransaction(ctx context.Context, id bookstore.TransactionID) (*bookstore.Transaction, error) {
	return v.st.GetTransaction(ctx, id)
}
func (v *txView) ListTransactions(ctx context.Context, page bookstore.Page) ([]bookstore.Transaction, error) {
	return v.st.ListTransactions(ctx, page)
}
func (v *txView) ListTransactionsByBook(ctx context.Context, code string) ([]bookstore.Transaction, error) {
	return v.st.ListTransactionsByBook(ctx, code)
}
func (v *txView) CountTransactionsByBook(ctx context.Context, code string) (int, error) {
	return v.st.CountTransactionsByBook(ctx, code)
}
func (v *txView) LatestTransaction(ctx context.Context) (*bookstore.Transaction, error) {
	return v.st.LatestTransaction(ctx)
}
func (v *txView) TransactionExists(ctx context.Context, key string) (bool, error) {
	return v.st.TransactionExists(ctx, key)
}
func (v *txView) InsertEntry(ctx context.Context, e *bookstore.LedgerEntry) error {
	return v.st.InsertEntry(ctx, e)
}
func (v *txView) GetEntry(ctx context.Context, id bookstore.EntryID) (*bookstore.LedgerEntry, error) {
	return v.st.GetEntry(ctx, id)
}
func (v *txView) LatestEntry(ctx context.Context) (*bookstore.LedgerEntry, error) {
	return v.st.LatestEntry(ctx)
}
func (v *txView) ListEntries(ctx context.Context, page bookstore.Page) ([]bookstore.LedgerEntry, error) {
	return v.st.ListEntries(ctx, page)
}
func (v *txView) LoadEntries(ctx context.Context) ([]bookstore.LedgerEntry, error) {
	return v.st.LoadEntries(ctx)
}
func (v *txView) LockLedger(context.Context) error { return nil }

// =============================================================================
// STATE - unlocked operations
// =============================================================================

func (s *state) clone() state {
	c := state{
		books:     make(map[string]bookstore.Book, len(s.books)),
		bookOrder: append([]string(nil), s.bookOrder...),
		txs:       append([]bookstore.Transaction(nil), s.txs...),
		entries:   append([]bookstore.LedgerEntry(nil), s.entries...),
		idemKeys:  make(map[string]bool, len(s.idemKeys)),
		nextTxID:  s.nextTxID,
		nextEntry: s.nextEntry,
	}
	for k, v := range s.books {
		c.books[k] = v
	}
	for k, v := range s.idemKeys {
		c.idemKeys[k] = v
	}
	return c
}

func (s *state) InsertBook(_ context.Context, b bookstore.Book) error {
	if _, ok := s.books[b.Code]; ok {
		return fmt.Errorf("book %s: %w", b.Code, bookstore.ErrDuplicateKey)
	}
	s.books[b.Code] = b
	s.bookOrder = append(s.bookOrder, b.Code)
	return nil
}

func (s *state) GetBook(_ context.Context, code string) (*bookstore.Book, error) {
	b, ok := s.books[code]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *state) ListBooks(_ context.Context, page bookstore.Page) ([]bookstore.Book, error) {
	lo, hi := window(len(s.bookOrder), page)
	result := make([]bookstore.Book, 0, hi-lo)
	for _, code := range s.bookOrder[lo:hi] {
		result = append(result, s.books[code])
	}
	return result, nil
}

func (s *state) UpdateBook(_ context.Context, b bookstore.Book) error {
	if _, ok := s.books[b.Code]; !ok {
		return fmt.Errorf("update book %s: no such row", b.Code)
	}
	s.books[b.Code] = b
	return nil
}

func (s *state) DeleteBook(_ context.Context, code string) error {
	if _, ok := s.books[code]; !ok {
		return nil
	}
	delete(s.books, code)
	for i, c := range s.bookOrder {
		if c == code {
			s.bookOrder = append(s.bookOrder[:i:i], s.bookOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *state) InsertTransaction(_ context.Context, tx *bookstore.Transaction) error {
	if tx.IdempotencyKey != "" {
		if s.idemKeys[tx.IdempotencyKey] {
			return fmt.Errorf("idempotency key %s: %w", tx.IdempotencyKey, bookstore.ErrDuplicateKey)
		}
		s.idemKeys[tx.IdempotencyKey] = true
	}
	tx.ID = s.nextTxID
	s.nextTxID++
	s.txs = append(s.txs, *tx)
	return nil
}

func (s *state) GetTransaction(_ context.Context, id bookstore.TransactionID) (*bookstore.Transaction, error) {
	for i := range s.txs {
		if s.txs[i].ID == id {
			tx := s.txs[i]
			return &tx, nil
		}
	}
	return nil, nil
}

func (s *state) ListTransactions(_ context.Context, page bookstore.Page) ([]bookstore.Transaction, error) {
	lo, hi := window(len(s.txs), page)
	return append([]bookstore.Transaction{}, s.txs[lo:hi]...), nil
}

func (s *state) ListTransactionsByBook(_ context.Context, code string) ([]bookstore.Transaction, error) {
	result := []bookstore.Transaction{}
	for _, tx := range s.txs {
		if tx.BookCode == code {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *state) CountTransactionsByBook(ctx context.Context, code string) (int, error) {
	txs, _ := s.ListTransactionsByBook(ctx, code)
	return len(txs), nil
}

func (s *state) LatestTransaction(_ context.Context) (*bookstore.Transaction, error) {
	if len(s.txs) == 0 {
		return nil, nil
	}
	tx := s.txs[len(s.txs)-1]
	return &tx, nil
}

func (s *state) TransactionExists(_ context.Context, key string) (bool, error) {
	return s.idemKeys[key], nil
}

func (s *state) InsertEntry(_ context.Context, e *bookstore.LedgerEntry) error {
	e.ID = s.nextEntry
	s.nextEntry++
	s.entries = append(s.entries, *e)
	return nil
}

func (s *state) GetEntry(_ context.Context, id bookstore.EntryID) (*bookstore.LedgerEntry, error) {
	for i := range s.entries {
		if s.entries[i].ID == id {
			e := s.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *state) LatestEntry(_ context.Context) (*bookstore.LedgerEntry, error) {
	if len(s.entries) == 0 {
		return nil, nil
	}
	e := s.entries[len(s.entries)-1]
	return &e, nil
}

func (s *state) ListEntries(_ context.Context, page bookstore.Page) ([]bookstore.LedgerEntry, error) {
	lo, hi := window(len(s.entries), page)
	result := make([]bookstore.LedgerEntry, 0, hi-lo)
	// Newest first: walk the ID-ordered slice backwards.
	for i := len(s.entries) - 1 - lo; i >= len(s.entries)-hi; i-- {
		result = append(result, s.entries[i])
	}
	return result, nil
}

func (s *state) LoadEntries(_ context.Context) ([]bookstore.LedgerEntry, error) {
	return append([]bookstore.LedgerEntry{}, s.entries...), nil
}

// window clamps a page to [0, n).
func window(n int, page bookstore.Page) (int, int) {
	lo := page.Offset
	if lo > n {
		lo = n
	}
	hi := n
	if page.Limit > 0 && lo+page.Limit < n {
		hi = lo + page.Limit
	}
	return lo, hi
}
