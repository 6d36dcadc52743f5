/*
Package bookstore provides the inventory and cash ledger engine.

PURPOSE:
  Tracks book stock, records sale/restock transactions and keeps a running
  cash balance derived from those transactions. The package owns every
  cross-entity invariant; persistence is delegated to a TxStore.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amount (never float arithmetic)
  - Book: catalog entry with prices and quantity on hand
  - TransactionKind: SALE or RESTOCK (closed set)
  - Transaction: immutable stock movement
  - MovementKind: INCOME or EXPENSE (closed set)
  - LedgerEntry: immutable cash movement carrying the resulting balance

DESIGN PRINCIPLES:
  1. Immutability: transactions and ledger entries are append-only
  2. Precision: decimal.Decimal for all money
  3. Derived balance: current balance is the latest entry's Balance,
     never a separately stored counter

SEE ALSO:
  - catalog.go: Book operations
  - cash.go: Cash ledger
  - processor.go: The atomic sale/restock write
  - store.go: Persistence interfaces
*/
package bookstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is a decimal currency amount.
type Money = decimal.Decimal

// NewMoney builds Money from a float, as received from JSON clients.
func NewMoney(v float64) Money { return decimal.NewFromFloat(v) }

// ParseMoney parses a stored decimal string.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid money %q: %w", s, err)
	}
	return d, nil
}

// =============================================================================
// BOOK
// =============================================================================

// MaxCodeLength is the width of the catalog code (ISBN-13).
const MaxCodeLength = 13

// Book is a catalog entry. Quantity only changes through transactions.
type Book struct {
	Code          string
	Title         string
	PurchasePrice Money
	SalePrice     Money
	Quantity      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewBook is the input to Catalog.Create.
type NewBook struct {
	Code            string
	Title           string
	PurchasePrice   Money
	SalePrice       Money
	InitialQuantity int
}

// BookUpdate is the input to Catalog.Update. There is deliberately no
// quantity field.
type BookUpdate struct {
	Title         string
	PurchasePrice Money
	SalePrice     Money
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionID int64

// TransactionKind is the closed set of stock movements.
type TransactionKind string

const (
	KindSale    TransactionKind = "SALE"    // stock out, cash in
	KindRestock TransactionKind = "RESTOCK" // stock in, cash out
)

// ParseTransactionKind accepts the canonical names (any case) and the
// legacy numeric codes 1 (sale) and 2 (restock).
func ParseTransactionKind(s string) (TransactionKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SALE", "1":
		return KindSale, nil
	case "RESTOCK", "2":
		return KindRestock, nil
	}
	return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown transaction kind %q", s)}
}

func (k TransactionKind) Valid() bool { return k == KindSale || k == KindRestock }

// Movement returns the ledger movement a transaction of this kind produces.
func (k TransactionKind) Movement() MovementKind {
	if k == KindSale {
		return MovementIncome
	}
	return MovementExpense
}

// Transaction is an immutable record of a sale or restock.
type Transaction struct {
	ID             TransactionID
	BookCode       string
	Kind           TransactionKind
	Quantity       int
	UnitPrice      Money // price applied: sale price for SALE, purchase price for RESTOCK
	Amount         Money // Quantity * UnitPrice
	IdempotencyKey string
	CreatedAt      time.Time
}

// TransactionRequest is the input to Processor.Process.
type TransactionRequest struct {
	BookCode       string
	Kind           TransactionKind
	Quantity       int
	IdempotencyKey string
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

type EntryID int64

// MovementKind is the closed set of cash movements.
type MovementKind string

const (
	MovementIncome  MovementKind = "INCOME"
	MovementExpense MovementKind = "EXPENSE"
)

// ParseMovementKind accepts the canonical names (any case) and the
// Spanish labels INGRESO/EGRESO used by older clients.
func ParseMovementKind(s string) (MovementKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INCOME", "INGRESO":
		return MovementIncome, nil
	case "EXPENSE", "EGRESO":
		return MovementExpense, nil
	}
	return "", &ValidationError{Field: "movement_kind", Reason: fmt.Sprintf("unknown movement kind %q", s)}
}

func (k MovementKind) Valid() bool { return k == MovementIncome || k == MovementExpense }

// Signed returns amount with the sign this movement applies to the balance.
func (k MovementKind) Signed(amount Money) Money {
	if k == MovementExpense {
		return amount.Neg()
	}
	return amount
}

// LedgerEntry is one cash movement. Balance is the running balance after it.
type LedgerEntry struct {
	ID            EntryID
	CreatedAt     time.Time
	Kind          MovementKind
	Amount        Money
	Balance       Money
	TransactionID *TransactionID // nil for manual entries
	Description   string
}

// =============================================================================
// RESULTS
// =============================================================================

// Receipt is everything a committed transaction produced.
type Receipt struct {
	Transaction Transaction
	Book        Book
	Entry       LedgerEntry
}

// CashSummary aggregates the ledger for display.
type CashSummary struct {
	Balance      Money
	TotalIncome  Money
	TotalExpense Money
	Entries      int
}

// =============================================================================
// PAGINATION
// =============================================================================

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Page selects a window of a list. Zero Limit means DefaultPageLimit.
type Page struct {
	Offset int
	Limit  int
}

// Normalize validates the page and applies the default and maximum limit.
func (p Page) Normalize() (Page, error) {
	if p.Offset < 0 {
		return p, &ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	if p.Limit < 0 {
		return p, &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p, nil
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies server timestamps.
//
//go:generate mockgen -destination=mocks/mock_clock.go -package=mocks -source=types.go
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }

// notBefore returns t, or floor when t is earlier, so timestamps never
// run backwards relative to existing history.
func notBefore(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}
