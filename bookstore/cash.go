/*
cash.go - Append-only cash ledger

PURPOSE:
  Records every movement of cash. Each entry carries the balance after it,
  so the current balance is a single point-in-time read of the latest
  entry rather than a fold over history.

INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. RUNNING BALANCE: entry.Balance = previous.Balance +/- entry.Amount,
     with 0 before the first entry
  3. NON-NEGATIVE: an expense may not exceed the balance it draws from
  4. ORDER: "latest" means highest ID, never timestamp

SEE ALSO:
  - processor.go: Appends entries linked to transactions
  - audit.go: Verifies invariant 2 over the whole history
*/
package bookstore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/bookstore/logging"
)

// CashLedger is the cash register of the store.
type CashLedger struct {
	store TxStore
	clock Clock
}

func NewCashLedger(store TxStore, clock Clock) *CashLedger {
	if clock == nil {
		clock = SystemClock()
	}
	return &CashLedger{store: store, clock: clock}
}

// CurrentBalance returns the balance after the most recent entry, or zero
// for an empty ledger.
func (l *CashLedger) CurrentBalance(ctx context.Context) (Money, error) {
	bal, err := currentBalance(ctx, l.store)
	if err != nil {
		return decimal.Zero, classify("read balance", err)
	}
	return bal, nil
}

// CreateManual records a cash adjustment that no transaction caused.
func (l *CashLedger) CreateManual(ctx context.Context, kind MovementKind, amount Money, description string) (LedgerEntry, error) {
	if err := validateMovement(kind, amount); err != nil {
		return LedgerEntry{}, err
	}

	var entry LedgerEntry
	err := l.store.WithTx(ctx, func(s Store) error {
		if err := s.LockLedger(ctx); err != nil {
			return err
		}
		var err error
		entry, err = appendEntry(ctx, s, l.clock.Now(), kind, amount, nil, description)
		return err
	})
	if err != nil {
		logging.FromContext(ctx).WithError(err).Debug("manual cash movement rejected")
		return LedgerEntry{}, classify("create ledger entry", err)
	}

	logging.FromContext(ctx).WithFields(logrus.Fields{
		"entry_id": entry.ID,
		"kind":     entry.Kind,
		"amount":   entry.Amount.String(),
		"balance":  entry.Balance.String(),
	}).Info("manual cash movement recorded")
	return entry, nil
}

// Get returns a single entry.
func (l *CashLedger) Get(ctx context.Context, id EntryID) (LedgerEntry, error) {
	e, err := l.store.GetEntry(ctx, id)
	if err != nil {
		return LedgerEntry{}, classify("get ledger entry", err)
	}
	if e == nil {
		return LedgerEntry{}, &NotFoundError{Entity: "ledger entry", Key: formatID(int64(id))}
	}
	return *e, nil
}

// List returns a page of entries, newest first.
func (l *CashLedger) List(ctx context.Context, page Page) ([]LedgerEntry, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	entries, err := l.store.ListEntries(ctx, page)
	if err != nil {
		return nil, classify("list ledger entries", err)
	}
	return entries, nil
}

// Summary totals income and expense. The balance comes from the latest
// entry, exactly as CurrentBalance reports it.
func (l *CashLedger) Summary(ctx context.Context) (CashSummary, error) {
	entries, err := l.store.LoadEntries(ctx)
	if err != nil {
		return CashSummary{}, classify("summarize ledger", err)
	}
	sum := CashSummary{Balance: decimal.Zero, TotalIncome: decimal.Zero, TotalExpense: decimal.Zero}
	for _, e := range entries {
		switch e.Kind {
		case MovementIncome:
			sum.TotalIncome = sum.TotalIncome.Add(e.Amount)
		case MovementExpense:
			sum.TotalExpense = sum.TotalExpense.Add(e.Amount)
		}
	}
	if n := len(entries); n > 0 {
		sum.Balance = entries[n-1].Balance
		sum.Entries = n
	}
	return sum, nil
}

// =============================================================================
// INTERNALS - shared with the processor, always inside a unit of work
// =============================================================================

func currentBalance(ctx context.Context, s Store) (Money, error) {
	latest, err := s.LatestEntry(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if latest == nil {
		return decimal.Zero, nil
	}
	return latest.Balance, nil
}

func validateMovement(kind MovementKind, amount Money) error {
	if !kind.Valid() {
		return &ValidationError{Field: "movement_kind", Reason: "must be INCOME or EXPENSE"}
	}
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	return nil
}

// appendEntry validates and appends one entry on top of the latest balance.
// The caller must hold the ledger lock.
func appendEntry(ctx context.Context, s Store, now time.Time, kind MovementKind, amount Money, txID *TransactionID, description string) (LedgerEntry, error) {
	if err := validateMovement(kind, amount); err != nil {
		return LedgerEntry{}, err
	}

	latest, err := s.LatestEntry(ctx)
	if err != nil {
		return LedgerEntry{}, err
	}
	balance := decimal.Zero
	if latest != nil {
		balance = latest.Balance
		now = notBefore(now, latest.CreatedAt)
	}

	if kind == MovementExpense && amount.GreaterThan(balance) {
		return LedgerEntry{}, &InsufficientFundsError{Available: balance, Required: amount}
	}

	entry := LedgerEntry{
		CreatedAt:     now,
		Kind:          kind,
		Amount:        amount,
		Balance:       balance.Add(kind.Signed(amount)),
		TransactionID: txID,
		Description:   description,
	}
	if err := s.InsertEntry(ctx, &entry); err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}
