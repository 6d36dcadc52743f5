/*
handlers.go - HTTP API handlers for the bookstore

PURPOSE:
  Exposes the catalog, the transaction processor and the cash ledger via a
  REST API. Handles HTTP request/response, JSON serialization, and
  delegates to the bookstore package.

ENDPOINTS:
  Books:
    GET    /api/books                      List books (offset, limit)
    POST   /api/books                      Create book
    GET    /api/books/{code}               Get book
    PUT    /api/books/{code}               Update title and prices
    DELETE /api/books/{code}               Delete book without history
    GET    /api/books/{code}/transactions  Transactions of one book

  Transactions:
    GET    /api/transactions               List transactions
    POST   /api/transactions               Record a sale or restock
    GET    /api/transactions/{id}          Get transaction

  Cash:
    GET    /api/cash                       List entries, newest first
    POST   /api/cash                       Manual income/expense
    GET    /api/cash/balance               Current balance
    GET    /api/cash/summary               Income/expense totals
    GET    /api/cash/audit                 Replay and verify the ledger
    GET    /api/cash/{id}                  Get entry

REQUEST FLOW:
  1. Decode and validate the body (go-playground/validator)
  2. Call the bookstore service
  3. Map the result to a DTO, or the error to a status

ERROR HANDLING:
  Errors are returned as JSON with a status derived from bookstore.KindOf:
  - 400: invalid input, insufficient stock/funds, conflict, duplicate key
  - 404: not found
  - 500: processing failure

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo datasets
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warp/bookstore/bookstore"
	"github.com/warp/bookstore/logging"
)

// IdempotencyKeyHeader carries an optional client-generated UUID on
// POST /api/transactions. A replayed key is rejected as a duplicate.
const IdempotencyKeyHeader = "Idempotency-Key"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     bookstore.TxStore
	Catalog   *bookstore.Catalog
	Cash      *bookstore.CashLedger
	Processor *bookstore.Processor

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over store. A nil clock means wall time.
func NewHandler(store bookstore.TxStore, clock bookstore.Clock) *Handler {
	v := validator.New()
	// Report JSON names, not Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		Store:     store,
		Catalog:   bookstore.NewCatalog(store, clock),
		Cash:      bookstore.NewCashLedger(store, clock),
		Processor: bookstore.NewProcessor(store, clock),
		validate:  v,
	}
}

// Index lists the available endpoints.
// GET /api
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name": "bookstore",
		"endpoints": []string{
			"/api/books",
			"/api/transactions",
			"/api/cash",
			"/api/cash/balance",
			"/api/cash/summary",
			"/api/cash/audit",
			"/api/scenarios",
		},
	})
}

// =============================================================================
// BOOK HANDLERS
// =============================================================================

// ListBooks returns a page of books.
// GET /api/books?offset=0&limit=100
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	books, err := h.Catalog.List(r.Context(), page)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTOs(books))
}

// CreateBook adds a book to the catalog.
// POST /api/books
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	book, err := h.Catalog.Create(r.Context(), bookstore.NewBook{
		Code:            req.Code,
		Title:           req.Title,
		PurchasePrice:   *req.PurchasePrice,
		SalePrice:       *req.SalePrice,
		InitialQuantity: req.InitialQuantity,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookDTO(book))
}

// GetBook returns one book.
// GET /api/books/{code}
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.Catalog.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

// UpdateBook replaces title and prices. A body carrying quantity (or any
// other unknown field) is rejected.
// PUT /api/books/{code}
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var req UpdateBookRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	book, err := h.Catalog.Update(r.Context(), chi.URLParam(r, "code"), bookstore.BookUpdate{
		Title:         req.Title,
		PurchasePrice: *req.PurchasePrice,
		SalePrice:     *req.SalePrice,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

// DeleteBook removes a book that has no transactions.
// DELETE /api/books/{code}
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := h.Catalog.Delete(r.Context(), code); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("book %s deleted", code)})
}

// ListBookTransactions returns every transaction of one book.
// GET /api/books/{code}/transactions
func (h *Handler) ListBookTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Processor.ListByBook(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction records a sale or restock.
// POST /api/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	kind, err := bookstore.ParseTransactionKind(req.Kind)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var key string
	if raw := r.Header.Get(IdempotencyKeyHeader); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeDomainError(w, r, &bookstore.ValidationError{Field: IdempotencyKeyHeader, Reason: "must be a UUID"})
			return
		}
		key = id.String()
	}

	receipt, err := h.Processor.Process(r.Context(), bookstore.TransactionRequest{
		BookCode:       req.BookCode,
		Kind:           kind,
		Quantity:       req.Quantity,
		IdempotencyKey: key,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ReceiptDTO{
		Transaction: toTransactionDTO(receipt.Transaction),
		Book:        toBookDTO(receipt.Book),
		Entry:       toLedgerEntryDTO(receipt.Entry),
	})
}

// ListTransactions returns a page of transactions in sequence order.
// GET /api/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	txs, err := h.Processor.List(r.Context(), page)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetTransaction returns one transaction.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	tx, err := h.Processor.Get(r.Context(), bookstore.TransactionID(id))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// =============================================================================
// CASH HANDLERS
// =============================================================================

// ListEntries returns a page of ledger entries, newest first.
// GET /api/cash
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	entries, err := h.Cash.List(r.Context(), page)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerEntryDTOs(entries))
}

// CreateEntry records a manual cash movement.
// POST /api/cash
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	kind, err := bookstore.ParseMovementKind(req.MovementKind)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	entry, err := h.Cash.CreateManual(r.Context(), kind, *req.Amount, strings.TrimSpace(req.Description))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLedgerEntryDTO(entry))
}

// GetEntry returns one ledger entry.
// GET /api/cash/{id}
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	entry, err := h.Cash.Get(r.Context(), bookstore.EntryID(id))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerEntryDTO(entry))
}

// GetBalance returns the current cash balance.
// GET /api/cash/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.Cash.CurrentBalance(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Balance: balance.InexactFloat64()})
}

// GetSummary returns income and expense totals.
// GET /api/cash/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Cash.Summary(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CashSummaryDTO{
		Balance:      sum.Balance.InexactFloat64(),
		TotalIncome:  sum.TotalIncome.InexactFloat64(),
		TotalExpense: sum.TotalExpense.InexactFloat64(),
		Entries:      sum.Entries,
	})
}

// AuditLedger replays the ledger and reports broken running balances.
// GET /api/cash/audit
func (h *Handler) AuditLedger(w http.ResponseWriter, r *http.Request) {
	report, err := h.Cash.Audit(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. On failure it writes
// the 400 response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, strict bool) bool {
	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    string(bookstore.KindInvalidInput),
			Details: fields,
		})
		return false
	}
	return true
}

func parsePage(r *http.Request) (bookstore.Page, error) {
	var page bookstore.Page
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"offset", &page.Offset},
		{"limit", &page.Limit},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, &bookstore.ValidationError{Field: p.name, Reason: "must be an integer"}
		}
		*p.dst = n
	}
	return page, nil
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &bookstore.ValidationError{Field: "id", Reason: "must be a positive integer"}
	}
	return id, nil
}

// statusFor maps a bookstore error kind to an HTTP status.
func statusFor(kind bookstore.ErrorKind) int {
	switch kind {
	case bookstore.KindNotFound:
		return http.StatusNotFound
	case bookstore.KindProcessingFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := bookstore.KindOf(err)
	status := statusFor(kind)
	resp := ErrorResponse{Error: err.Error(), Code: string(kind)}

	var (
		stock *bookstore.InsufficientStockError
		funds *bookstore.InsufficientFundsError
		ve    *bookstore.ValidationError
	)
	switch {
	case errors.As(err, &stock):
		resp.Details = map[string]int{"available": stock.Available, "requested": stock.Requested}
	case errors.As(err, &funds):
		resp.Details = map[string]float64{
			"available": funds.Available.InexactFloat64(),
			"required":  funds.Required.InexactFloat64(),
		}
	case errors.As(err, &ve):
		resp.Details = map[string]string{ve.Field: ve.Reason}
	}

	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).Error("request failed")
		resp.Error = "The operation could not be completed and was rolled back"
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
