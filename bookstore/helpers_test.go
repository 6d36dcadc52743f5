package bookstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore/bookstore"
	"github.com/warp/bookstore/bookstore/mocks"
	"github.com/warp/bookstore/bookstore/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var baseTime = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store     *store.Memory
	catalog   *bookstore.Catalog
	cash      *bookstore.CashLedger
	processor *bookstore.Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(baseTime).AnyTimes()
	return newFixtureWithClock(clock)
}

func newFixtureWithClock(clock bookstore.Clock) *fixture {
	s := store.NewMemory()
	return &fixture{
		store:     s,
		catalog:   bookstore.NewCatalog(s, clock),
		cash:      bookstore.NewCashLedger(s, clock),
		processor: bookstore.NewProcessor(s, clock),
	}
}

func money(s string) bookstore.Money {
	return decimal.RequireFromString(s)
}

func (f *fixture) addBook(t *testing.T, code, purchase, sale string, qty int) bookstore.Book {
	t.Helper()
	b, err := f.catalog.Create(context.Background(), bookstore.NewBook{
		Code:            code,
		Title:           "Title " + code,
		PurchasePrice:   money(purchase),
		SalePrice:       money(sale),
		InitialQuantity: qty,
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) deposit(t *testing.T, amount string) {
	t.Helper()
	_, err := f.cash.CreateManual(context.Background(), bookstore.MovementIncome, money(amount), "opening cash")
	require.NoError(t, err)
}

// snapshot captures everything a failed write must leave untouched.
type snapshot struct {
	books   []bookstore.Book
	txs     []bookstore.Transaction
	entries []bookstore.LedgerEntry
}

func (f *fixture) snapshot(t *testing.T) snapshot {
	t.Helper()
	ctx := context.Background()
	books, err := f.catalog.List(ctx, bookstore.Page{})
	require.NoError(t, err)
	txs, err := f.processor.List(ctx, bookstore.Page{})
	require.NoError(t, err)
	entries, err := f.store.LoadEntries(ctx)
	require.NoError(t, err)
	return snapshot{books: books, txs: txs, entries: entries}
}

var errStorage = errors.New("storage fault")

// faultyStore injects a storage error into UpdateBook inside units of work,
// after the transaction row has already been written.
type faultyStore struct {
	*store.Memory
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(bookstore.Store) error) error {
	return f.Memory.WithTx(ctx, func(s bookstore.Store) error {
		return fn(&faultyTx{Store: s})
	})
}

type faultyTx struct {
	bookstore.Store
}

func (faultyTx) UpdateBook(context.Context, bookstore.Book) error { return errStorage }
