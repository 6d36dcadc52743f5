package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore/bookstore"
	"github.com/warp/bookstore/store/postgres"
)

var (
	bookCols  = []string{"code", "title", "purchase_price", "sale_price", "quantity", "created_at", "updated_at"}
	txCols    = []string{"id", "book_code", "kind", "quantity", "unit_price", "amount", "idempotency_key", "created_at"}
	entryCols = []string{"id", "created_at", "kind", "amount", "balance", "transaction_id", "description"}
)

func newMockStore(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.New(db), mock
}

func TestGetBook(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM books WHERE code = \\$1").
			WithArgs("X1").
			WillReturnRows(sqlmock.NewRows(bookCols).
				AddRow("X1", "Dune", "10.50", "15.00", 4, now, now))

		b, err := s.GetBook(ctx, "X1")
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, "Dune", b.Title)
		assert.True(t, b.PurchasePrice.Equal(decimal.RequireFromString("10.5")))
		assert.Equal(t, 4, b.Quantity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM books WHERE code = \\$1").
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows(bookCols))

		b, err := s.GetBook(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, b)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInsertBook_UniqueViolation(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO books").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := s.InsertBook(ctx, bookstore.Book{
		Code:          "X1",
		Title:         "Dune",
		PurchasePrice: decimal.NewFromInt(10),
		SalePrice:     decimal.NewFromInt(15),
	})
	assert.True(t, errors.Is(err, bookstore.ErrDuplicateKey))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTransaction_ReturningID(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO transactions (.+) RETURNING id").
		WithArgs("X1", "SALE", 2, "15", "30", nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	tx := &bookstore.Transaction{
		BookCode:  "X1",
		Kind:      bookstore.KindSale,
		Quantity:  2,
		UnitPrice: decimal.NewFromInt(15),
		Amount:    decimal.NewFromInt(30),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertTransaction(ctx, tx))
	assert.Equal(t, bookstore.TransactionID(42), tx.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestEntry(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM ledger_entries ORDER BY id DESC LIMIT 1").
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow(7, now, "INCOME", "30", "130", 3, ""))

	e, err := s.LatestEntry(ctx)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, bookstore.EntryID(7), e.ID)
	assert.True(t, e.Balance.Equal(decimal.NewFromInt(130)))
	require.NotNil(t, e.TransactionID)
	assert.Equal(t, bookstore.TransactionID(3), *e.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_LocksLedgerThenBook(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock\\(\\$1\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM books WHERE code = \\$1 FOR UPDATE").
		WithArgs("X1").
		WillReturnRows(sqlmock.NewRows(bookCols).
			AddRow("X1", "Dune", "10", "15", 4, now, now))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(tx bookstore.Store) error {
		if err := tx.LockLedger(ctx); err != nil {
			return err
		}
		_, err := tx.LockBook(ctx, "X1")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockLedger_OutsideTxIsNoop(t *testing.T) {
	s, mock := newMockStore(t)

	require.NoError(t, s.LockLedger(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(ctx, func(bookstore.Store) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitFailure(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err := s.WithTx(ctx, func(bookstore.Store) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A fault halfway through a sale rolls everything back and surfaces as a
// processing failure, not as a business error.
func TestProcessor_InsertFaultRollsBack(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM books WHERE code = \\$1 FOR UPDATE").
		WithArgs("X1").
		WillReturnRows(sqlmock.NewRows(bookCols).
			AddRow("X1", "Dune", "10", "15", 4, now, now))
	mock.ExpectQuery("SELECT (.+) FROM transactions ORDER BY id DESC LIMIT 1").
		WillReturnRows(sqlmock.NewRows(txCols))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	p := bookstore.NewProcessor(s, nil)
	_, err := p.Process(ctx, bookstore.TransactionRequest{
		BookCode: "X1",
		Kind:     bookstore.KindSale,
		Quantity: 1,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, bookstore.ErrProcessingFailure))
	assert.Equal(t, bookstore.KindProcessingFailure, bookstore.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReset(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("TRUNCATE ledger_entries, transactions, books RESTART IDENTITY").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Reset(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
