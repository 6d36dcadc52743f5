package bookstore

import (
	"context"
	"errors"
	"strings"

	"github.com/warp/bookstore/logging"
)

// Catalog manages books. Quantity is never written here except at creation;
// after that only the Processor moves stock.
type Catalog struct {
	store TxStore
	clock Clock
}

func NewCatalog(store TxStore, clock Clock) *Catalog {
	if clock == nil {
		clock = SystemClock()
	}
	return &Catalog{store: store, clock: clock}
}

// Create adds a book with its initial quantity.
func (c *Catalog) Create(ctx context.Context, nb NewBook) (Book, error) {
	nb.Code = strings.TrimSpace(nb.Code)
	if err := validateCode(nb.Code); err != nil {
		return Book{}, err
	}
	if err := validateBookFields(nb.Title, nb.PurchasePrice, nb.SalePrice); err != nil {
		return Book{}, err
	}
	if nb.InitialQuantity < 0 {
		return Book{}, &ValidationError{Field: "initial_quantity", Reason: "must not be negative"}
	}

	now := c.clock.Now()
	book := Book{
		Code:          nb.Code,
		Title:         strings.TrimSpace(nb.Title),
		PurchasePrice: nb.PurchasePrice,
		SalePrice:     nb.SalePrice,
		Quantity:      nb.InitialQuantity,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := c.store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetBook(ctx, book.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			return &DuplicateKeyError{Entity: "book", Key: book.Code}
		}
		return s.InsertBook(ctx, book)
	})
	if err != nil {
		// A concurrent insert can still trip the store's unique index.
		var dup *DuplicateKeyError
		if errors.Is(err, ErrDuplicateKey) && !errors.As(err, &dup) {
			err = &DuplicateKeyError{Entity: "book", Key: book.Code}
		}
		return Book{}, classify("create book", err)
	}

	logging.FromContext(ctx).WithField("code", book.Code).Info("book created")
	return book, nil
}

// Get returns the book with the given code.
func (c *Catalog) Get(ctx context.Context, code string) (Book, error) {
	b, err := c.store.GetBook(ctx, code)
	if err != nil {
		return Book{}, classify("get book", err)
	}
	if b == nil {
		return Book{}, &NotFoundError{Entity: "book", Key: code}
	}
	return *b, nil
}

// List returns a page of books in insertion order.
func (c *Catalog) List(ctx context.Context, page Page) ([]Book, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	books, err := c.store.ListBooks(ctx, page)
	if err != nil {
		return nil, classify("list books", err)
	}
	return books, nil
}

// Update replaces title and prices. Quantity is left untouched.
func (c *Catalog) Update(ctx context.Context, code string, u BookUpdate) (Book, error) {
	if err := validateBookFields(u.Title, u.PurchasePrice, u.SalePrice); err != nil {
		return Book{}, err
	}

	var updated Book
	err := c.store.WithTx(ctx, func(s Store) error {
		b, err := s.LockBook(ctx, code)
		if err != nil {
			return err
		}
		if b == nil {
			return &NotFoundError{Entity: "book", Key: code}
		}
		b.Title = strings.TrimSpace(u.Title)
		b.PurchasePrice = u.PurchasePrice
		b.SalePrice = u.SalePrice
		b.UpdatedAt = notBefore(c.clock.Now(), b.CreatedAt)
		if err := s.UpdateBook(ctx, *b); err != nil {
			return err
		}
		updated = *b
		return nil
	})
	if err != nil {
		return Book{}, classify("update book", err)
	}

	logging.FromContext(ctx).WithField("code", code).Info("book updated")
	return updated, nil
}

// Delete removes a book that no transaction references. References are
// checked explicitly; stores never cascade.
func (c *Catalog) Delete(ctx context.Context, code string) error {
	err := c.store.WithTx(ctx, func(s Store) error {
		b, err := s.LockBook(ctx, code)
		if err != nil {
			return err
		}
		if b == nil {
			return &NotFoundError{Entity: "book", Key: code}
		}
		n, err := s.CountTransactionsByBook(ctx, code)
		if err != nil {
			return err
		}
		if n > 0 {
			return &ConflictError{Entity: "book", Key: code, Reason: "has associated transactions"}
		}
		return s.DeleteBook(ctx, code)
	})
	if err != nil {
		return classify("delete book", err)
	}

	logging.FromContext(ctx).WithField("code", code).Info("book deleted")
	return nil
}

func validateCode(code string) error {
	if code == "" {
		return &ValidationError{Field: "code", Reason: "is required"}
	}
	if len(code) > MaxCodeLength {
		return &ValidationError{Field: "code", Reason: "must be at most 13 characters"}
	}
	return nil
}

func validateBookFields(title string, purchase, sale Money) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if !purchase.IsPositive() {
		return &ValidationError{Field: "purchase_price", Reason: "must be greater than zero"}
	}
	if !sale.IsPositive() {
		return &ValidationError{Field: "sale_price", Reason: "must be greater than zero"}
	}
	if sale.LessThan(purchase) {
		return &ValidationError{Field: "sale_price", Reason: "must not be lower than purchase_price"}
	}
	return nil
}
