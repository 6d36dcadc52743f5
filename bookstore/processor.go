/*
processor.go - The sale/restock unit of work

PURPOSE:
  The only operation that touches more than one entity. Given a request it
  validates, moves stock, records the transaction and appends the matching
  cash entry as one all-or-nothing write.

FLOW (inside one WithTx):
  1. Lock the ledger, then the book (fixed order, no deadlocks)
  2. SALE:    stock >= qty,          amount = qty * sale price
     RESTOCK: balance >= amount,     amount = qty * purchase price
  3. Insert the transaction
  4. Move stock (re-checking quantity >= 0)
  5. Append INCOME (sale) or EXPENSE (restock) linked to the transaction
  6. Commit

  Any error rolls the whole unit back: a transaction is either COMMITTED
  with its stock change and ledger entry, or it never existed.

ERRORS:
  Business rule violations come back as their own types. Anything else
  raised inside the unit (store faults, commit failures) is returned as a
  *ProcessingError.
*/
package bookstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/bookstore/logging"
)

// Processor records sales and restocks.
type Processor struct {
	store TxStore
	clock Clock
}

func NewProcessor(store TxStore, clock Clock) *Processor {
	if clock == nil {
		clock = SystemClock()
	}
	return &Processor{store: store, clock: clock}
}

// Process applies one sale or restock atomically.
func (p *Processor) Process(ctx context.Context, req TransactionRequest) (Receipt, error) {
	if req.Quantity <= 0 {
		return Receipt{}, &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}
	if !req.Kind.Valid() {
		return Receipt{}, &ValidationError{Field: "kind", Reason: "must be SALE or RESTOCK"}
	}

	var receipt Receipt
	err := p.store.WithTx(ctx, func(s Store) error {
		var err error
		receipt, err = p.apply(ctx, s, req)
		return err
	})

	log := logging.FromContext(ctx).WithFields(logrus.Fields{
		"book_code": req.BookCode,
		"kind":      req.Kind,
		"quantity":  req.Quantity,
	})
	if err != nil {
		err = classify("process transaction", err)
		if KindOf(err) == KindProcessingFailure {
			log.WithError(err).Error("transaction rolled back")
		} else {
			log.WithError(err).Debug("transaction rejected")
		}
		return Receipt{}, err
	}

	log.WithFields(logrus.Fields{
		"transaction_id": receipt.Transaction.ID,
		"amount":         receipt.Transaction.Amount.String(),
		"balance":        receipt.Entry.Balance.String(),
		"stock":          receipt.Book.Quantity,
	}).Info("transaction committed")
	return receipt, nil
}

func (p *Processor) apply(ctx context.Context, s Store, req TransactionRequest) (Receipt, error) {
	if err := s.LockLedger(ctx); err != nil {
		return Receipt{}, err
	}
	if req.IdempotencyKey != "" {
		exists, err := s.TransactionExists(ctx, req.IdempotencyKey)
		if err != nil {
			return Receipt{}, err
		}
		if exists {
			return Receipt{}, &DuplicateKeyError{Entity: "transaction", Key: req.IdempotencyKey}
		}
	}
	book, err := s.LockBook(ctx, req.BookCode)
	if err != nil {
		return Receipt{}, err
	}
	if book == nil {
		return Receipt{}, &NotFoundError{Entity: "book", Key: req.BookCode}
	}

	qty := decimal.NewFromInt(int64(req.Quantity))
	var unitPrice Money
	switch req.Kind {
	case KindSale:
		if book.Quantity < req.Quantity {
			return Receipt{}, &InsufficientStockError{
				BookCode:  book.Code,
				Available: book.Quantity,
				Requested: req.Quantity,
			}
		}
		unitPrice = book.SalePrice
	case KindRestock:
		unitPrice = book.PurchasePrice
		balance, err := currentBalance(ctx, s)
		if err != nil {
			return Receipt{}, err
		}
		if cost := unitPrice.Mul(qty); cost.GreaterThan(balance) {
			return Receipt{}, &InsufficientFundsError{Available: balance, Required: cost}
		}
	}
	amount := unitPrice.Mul(qty)

	now := p.clock.Now()
	last, err := s.LatestTransaction(ctx)
	if err != nil {
		return Receipt{}, err
	}
	if last != nil {
		now = notBefore(now, last.CreatedAt)
	}

	tx := Transaction{
		BookCode:       book.Code,
		Kind:           req.Kind,
		Quantity:       req.Quantity,
		UnitPrice:      unitPrice,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}
	if err := s.InsertTransaction(ctx, &tx); err != nil {
		return Receipt{}, err
	}

	if req.Kind == KindSale {
		book.Quantity -= req.Quantity
	} else {
		book.Quantity += req.Quantity
	}
	if book.Quantity < 0 {
		return Receipt{}, fmt.Errorf("stock of %s would become %d", book.Code, book.Quantity)
	}
	book.UpdatedAt = notBefore(now, book.UpdatedAt)
	if err := s.UpdateBook(ctx, *book); err != nil {
		return Receipt{}, err
	}

	txID := tx.ID
	entry, err := appendEntry(ctx, s, now, req.Kind.Movement(), amount, &txID, "")
	if err != nil {
		return Receipt{}, err
	}

	return Receipt{Transaction: tx, Book: *book, Entry: entry}, nil
}

// Get returns one transaction.
func (p *Processor) Get(ctx context.Context, id TransactionID) (Transaction, error) {
	tx, err := p.store.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, classify("get transaction", err)
	}
	if tx == nil {
		return Transaction{}, &NotFoundError{Entity: "transaction", Key: formatID(int64(id))}
	}
	return *tx, nil
}

// List returns a page of transactions in sequence order.
func (p *Processor) List(ctx context.Context, page Page) ([]Transaction, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	txs, err := p.store.ListTransactions(ctx, page)
	if err != nil {
		return nil, classify("list transactions", err)
	}
	return txs, nil
}

// ListByBook returns every transaction of one book in sequence order.
func (p *Processor) ListByBook(ctx context.Context, code string) ([]Transaction, error) {
	book, err := p.store.GetBook(ctx, code)
	if err != nil {
		return nil, classify("list transactions", err)
	}
	if book == nil {
		return nil, &NotFoundError{Entity: "book", Key: code}
	}
	txs, err := p.store.ListTransactionsByBook(ctx, code)
	if err != nil {
		return nil, classify("list transactions", err)
	}
	return txs, nil
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
