/*
handlers_test.go - HTTP tests for the bookstore API

Tests run against a real router and a SQLite :memory: store.
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestServer(t *testing.T) (*chi.Mux, *Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := NewHandler(store, nil)
	return NewRouter(h, RouterOptions{Logger: logger}), h
}

func do(t *testing.T, router http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createBook(t *testing.T, router http.Handler, code string, purchase, sale float64, qty int) {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/books", map[string]any{
		"code": code, "title": "Title " + code,
		"purchase_price": purchase, "sale_price": sale, "initial_quantity": qty,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// BOOKS
// =============================================================================

func TestBooks_CRUD(t *testing.T) {
	router, _ := newTestServer(t)

	createBook(t, router, "B1", 5, 8, 10)

	rec := do(t, router, http.MethodGet, "/api/books/B1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	book := decodeBody[BookDTO](t, rec)
	assert.Equal(t, "Title B1", book.Title)
	assert.Equal(t, 8.0, book.SalePrice)
	assert.Equal(t, 10, book.Quantity)

	rec = do(t, router, http.MethodPut, "/api/books/B1", map[string]any{
		"title": "Renamed", "purchase_price": "5.50", "sale_price": 9,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	book = decodeBody[BookDTO](t, rec)
	assert.Equal(t, "Renamed", book.Title)
	assert.Equal(t, 5.5, book.PurchasePrice)
	assert.Equal(t, 10, book.Quantity)

	rec = do(t, router, http.MethodGet, "/api/books?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]BookDTO](t, rec), 1)

	rec = do(t, router, http.MethodDelete, "/api/books/B1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "book B1 deleted", decodeBody[MessageResponse](t, rec).Message)

	rec = do(t, router, http.MethodGet, "/api/books/B1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Code)
}

func TestBooks_CreateErrors(t *testing.T) {
	router, _ := newTestServer(t)
	createBook(t, router, "B1", 5, 8, 0)

	tests := []struct {
		name string
		body any
		code string
	}{
		{"duplicate", map[string]any{"code": "B1", "title": "x", "purchase_price": 1, "sale_price": 2}, "duplicate_key"},
		{"sale below purchase", map[string]any{"code": "B2", "title": "x", "purchase_price": 5, "sale_price": 4}, "invalid_input"},
		{"missing price", map[string]any{"code": "B2", "title": "x", "sale_price": 4}, "invalid_input"},
		{"negative quantity", map[string]any{"code": "B2", "title": "x", "purchase_price": 1, "sale_price": 2, "initial_quantity": -1}, "invalid_input"},
		{"code too long", map[string]any{"code": "12345678901234", "title": "x", "purchase_price": 1, "sale_price": 2}, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/books", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}

	rec := do(t, router, http.MethodPost, "/api/books", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBooks_ValidationDetailsUseJSONNames(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/books", map[string]any{"code": "B1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[struct {
		Details map[string]string `json:"details"`
	}](t, rec)
	assert.Equal(t, "required", resp.Details["title"])
	assert.Equal(t, "required", resp.Details["purchase_price"])
}

func TestBooks_UpdateRejectsQuantity(t *testing.T) {
	router, _ := newTestServer(t)
	createBook(t, router, "B1", 5, 8, 3)

	rec := do(t, router, http.MethodPut, "/api/books/B1", map[string]any{
		"title": "x", "purchase_price": 5, "sale_price": 8, "quantity": 99,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/books/B1", nil)
	assert.Equal(t, 3, decodeBody[BookDTO](t, rec).Quantity)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestTransactions_Walkthrough(t *testing.T) {
	router, _ := newTestServer(t)
	createBook(t, router, "B1", 5, 8, 10)

	// GIVEN: empty till  WHEN: restock 5  THEN: 400 insufficient funds
	rec := do(t, router, http.MethodPost, "/api/transactions", map[string]any{"book_code": "B1", "kind": "RESTOCK", "quantity": 5})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_funds", errResp.Code)

	rec = do(t, router, http.MethodPost, "/api/transactions", map[string]any{"book_code": "B1", "kind": "SALE", "quantity": 3})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decodeBody[ReceiptDTO](t, rec)
	assert.Equal(t, 7, receipt.Book.Quantity)
	assert.Equal(t, 24.0, receipt.Transaction.Amount)
	assert.Equal(t, "INCOME", receipt.Entry.MovementKind)
	assert.Equal(t, 24.0, receipt.Entry.Balance)
	require.NotNil(t, receipt.Entry.TransactionID)
	assert.Equal(t, receipt.Transaction.ID, *receipt.Entry.TransactionID)

	// Legacy numeric kind 2 is RESTOCK.
	rec = do(t, router, http.MethodPost, "/api/transactions", map[string]any{"book_code": "B1", "kind": "2", "quantity": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/cash/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 14.0, decodeBody[BalanceDTO](t, rec).Balance)

	rec = do(t, router, http.MethodGet, "/api/books/B1/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]TransactionDTO](t, rec), 2)

	rec = do(t, router, http.MethodGet, "/api/transactions/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SALE", decodeBody[TransactionDTO](t, rec).Kind)

	rec = do(t, router, http.MethodDelete, "/api/books/B1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "conflict", decodeBody[ErrorResponse](t, rec).Code)
}

func TestTransactions_Errors(t *testing.T) {
	router, _ := newTestServer(t)
	createBook(t, router, "B1", 5, 8, 1)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"oversell", map[string]any{"book_code": "B1", "kind": "SALE", "quantity": 2}, http.StatusBadRequest, "insufficient_stock"},
		{"unknown book", map[string]any{"book_code": "nope", "kind": "SALE", "quantity": 1}, http.StatusNotFound, "not_found"},
		{"unknown kind", map[string]any{"book_code": "B1", "kind": "GIFT", "quantity": 1}, http.StatusBadRequest, "invalid_input"},
		{"zero quantity", map[string]any{"book_code": "B1", "kind": "SALE", "quantity": 0}, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/transactions", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}

	rec := do(t, router, http.MethodGet, "/api/transactions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/transactions/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/transactions?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactions_IdempotencyKey(t *testing.T) {
	router, _ := newTestServer(t)
	createBook(t, router, "B1", 5, 8, 5)
	body := map[string]any{"book_code": "B1", "kind": "SALE", "quantity": 1}
	key := "6F9619FF-8B86-D011-B42D-00CF4FC964FF"

	rec := do(t, router, http.MethodPost, "/api/transactions", body, IdempotencyKeyHeader, key)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00cf4fc964ff", decodeBody[ReceiptDTO](t, rec).Transaction.IdempotencyKey)

	rec = do(t, router, http.MethodPost, "/api/transactions", body, IdempotencyKeyHeader, key)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "duplicate_key", decodeBody[ErrorResponse](t, rec).Code)

	rec = do(t, router, http.MethodPost, "/api/transactions", body, IdempotencyKeyHeader, "not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/books/B1", nil)
	assert.Equal(t, 4, decodeBody[BookDTO](t, rec).Quantity)
}

// =============================================================================
// CASH
// =============================================================================

func TestCash_ManualEntriesAndReports(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/cash", map[string]any{"movement_kind": "INCOME", "amount": 100, "description": "float"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[LedgerEntryDTO](t, rec)
	assert.Equal(t, 100.0, first.Balance)
	assert.Nil(t, first.TransactionID)

	rec = do(t, router, http.MethodPost, "/api/cash", map[string]any{"movement_kind": "egreso", "amount": "30.25"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 69.75, decodeBody[LedgerEntryDTO](t, rec).Balance)

	rec = do(t, router, http.MethodPost, "/api/cash", map[string]any{"movement_kind": "EXPENSE", "amount": 1000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "insufficient_funds", decodeBody[ErrorResponse](t, rec).Code)

	rec = do(t, router, http.MethodPost, "/api/cash", map[string]any{"movement_kind": "INCOME", "amount": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/cash", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]LedgerEntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].ID)

	rec = do(t, router, http.MethodGet, "/api/cash/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "float", decodeBody[LedgerEntryDTO](t, rec).Description)

	rec = do(t, router, http.MethodGet, "/api/cash/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decodeBody[CashSummaryDTO](t, rec)
	assert.Equal(t, 100.0, sum.TotalIncome)
	assert.Equal(t, 30.25, sum.TotalExpense)
	assert.Equal(t, 69.75, sum.Balance)
	assert.Equal(t, 2, sum.Entries)

	rec = do(t, router, http.MethodGet, "/api/cash/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decodeBody[AuditReportDTO](t, rec)
	assert.True(t, audit.OK)
	assert.Empty(t, audit.Mismatches)
	assert.Equal(t, 69.75, audit.Recomputed)
}

func TestIndex(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodGet, "/api", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/books")
}
