/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (presence, length, sign). Business rules such as sale >= purchase price
  stay in the bookstore package; handlers never duplicate them.

MONEY:
  Requests accept numbers or decimal strings and decode straight into
  decimal.Decimal. Responses render money as JSON numbers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/warp/bookstore/bookstore"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateBookRequest is the body of POST /api/books.
type CreateBookRequest struct {
	Code            string           `json:"code" validate:"required,max=13"`
	Title           string           `json:"title" validate:"required"`
	PurchasePrice   *decimal.Decimal `json:"purchase_price" validate:"required"`
	SalePrice       *decimal.Decimal `json:"sale_price" validate:"required"`
	InitialQuantity int              `json:"initial_quantity" validate:"min=0"`
}

// UpdateBookRequest is the body of PUT /api/books/{code}. It has no
// quantity field and is decoded with unknown fields disallowed.
type UpdateBookRequest struct {
	Title         string           `json:"title" validate:"required"`
	PurchasePrice *decimal.Decimal `json:"purchase_price" validate:"required"`
	SalePrice     *decimal.Decimal `json:"sale_price" validate:"required"`
}

// CreateTransactionRequest is the body of POST /api/transactions.
type CreateTransactionRequest struct {
	BookCode string `json:"book_code" validate:"required,max=13"`
	Kind     string `json:"kind" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

// CreateEntryRequest is the body of POST /api/cash.
type CreateEntryRequest struct {
	MovementKind string           `json:"movement_kind" validate:"required"`
	Amount       *decimal.Decimal `json:"amount" validate:"required"`
	Description  string           `json:"description" validate:"max=255"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type BookDTO struct {
	Code          string  `json:"code"`
	Title         string  `json:"title"`
	PurchasePrice float64 `json:"purchase_price"`
	SalePrice     float64 `json:"sale_price"`
	Quantity      int     `json:"quantity"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type TransactionDTO struct {
	ID             int64   `json:"id"`
	BookCode       string  `json:"book_code"`
	Kind           string  `json:"kind"`
	Quantity       int     `json:"quantity"`
	UnitPrice      float64 `json:"unit_price"`
	Amount         float64 `json:"amount"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

type LedgerEntryDTO struct {
	ID            int64   `json:"id"`
	CreatedAt     string  `json:"created_at"`
	MovementKind  string  `json:"movement_kind"`
	Amount        float64 `json:"amount"`
	Balance       float64 `json:"balance"`
	TransactionID *int64  `json:"transaction_id,omitempty"`
	Description   string  `json:"description,omitempty"`
}

// ReceiptDTO is returned by POST /api/transactions.
type ReceiptDTO struct {
	Transaction TransactionDTO `json:"transaction"`
	Book        BookDTO        `json:"book"`
	Entry       LedgerEntryDTO `json:"ledger_entry"`
}

type BalanceDTO struct {
	Balance float64 `json:"balance"`
}

type CashSummaryDTO struct {
	Balance      float64 `json:"balance"`
	TotalIncome  float64 `json:"total_income"`
	TotalExpense float64 `json:"total_expense"`
	Entries      int     `json:"entries"`
}

type AuditMismatchDTO struct {
	EntryID  int64   `json:"entry_id"`
	Stored   float64 `json:"stored_balance"`
	Expected float64 `json:"expected_balance"`
}

type AuditReportDTO struct {
	CheckedAt  string             `json:"checked_at"`
	Entries    int                `json:"entries"`
	Balance    float64            `json:"balance"`
	Recomputed float64            `json:"recomputed_balance"`
	Mismatches []AuditMismatchDTO `json:"mismatches"`
	OK         bool               `json:"ok"`
}

// ScenarioDTO describes a demo dataset.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MessageResponse is returned by operations with nothing else to report.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toBookDTO(b bookstore.Book) BookDTO {
	return BookDTO{
		Code:          b.Code,
		Title:         b.Title,
		PurchasePrice: b.PurchasePrice.InexactFloat64(),
		SalePrice:     b.SalePrice.InexactFloat64(),
		Quantity:      b.Quantity,
		CreatedAt:     formatTime(b.CreatedAt),
		UpdatedAt:     formatTime(b.UpdatedAt),
	}
}

func toTransactionDTO(tx bookstore.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:             int64(tx.ID),
		BookCode:       tx.BookCode,
		Kind:           string(tx.Kind),
		Quantity:       tx.Quantity,
		UnitPrice:      tx.UnitPrice.InexactFloat64(),
		Amount:         tx.Amount.InexactFloat64(),
		IdempotencyKey: tx.IdempotencyKey,
		CreatedAt:      formatTime(tx.CreatedAt),
	}
}

func toLedgerEntryDTO(e bookstore.LedgerEntry) LedgerEntryDTO {
	dto := LedgerEntryDTO{
		ID:           int64(e.ID),
		CreatedAt:    formatTime(e.CreatedAt),
		MovementKind: string(e.Kind),
		Amount:       e.Amount.InexactFloat64(),
		Balance:      e.Balance.InexactFloat64(),
		Description:  e.Description,
	}
	if e.TransactionID != nil {
		dto.TransactionID = lo.ToPtr(int64(*e.TransactionID))
	}
	return dto
}

func toBookDTOs(books []bookstore.Book) []BookDTO {
	return lo.Map(books, func(b bookstore.Book, _ int) BookDTO { return toBookDTO(b) })
}

func toTransactionDTOs(txs []bookstore.Transaction) []TransactionDTO {
	return lo.Map(txs, func(tx bookstore.Transaction, _ int) TransactionDTO { return toTransactionDTO(tx) })
}

func toLedgerEntryDTOs(entries []bookstore.LedgerEntry) []LedgerEntryDTO {
	return lo.Map(entries, func(e bookstore.LedgerEntry, _ int) LedgerEntryDTO { return toLedgerEntryDTO(e) })
}

func toAuditReportDTO(r bookstore.AuditReport) AuditReportDTO {
	return AuditReportDTO{
		CheckedAt:  formatTime(r.CheckedAt),
		Entries:    r.Entries,
		Balance:    r.Balance.InexactFloat64(),
		Recomputed: r.Recomputed.InexactFloat64(),
		Mismatches: lo.Map(r.Mismatches, func(m bookstore.AuditMismatch, _ int) AuditMismatchDTO {
			return AuditMismatchDTO{
				EntryID:  int64(m.EntryID),
				Stored:   m.Stored.InexactFloat64(),
				Expected: m.Expected.InexactFloat64(),
			}
		}),
		OK: r.OK,
	}
}
