/*
scenarios.go - Demo datasets for testing and demonstrations

AVAILABLE SCENARIOS:
  empty:       Nothing at all, cash at zero
  walkthrough: One book, a refused restock, a sale, then an affordable restock
  small-shop:  A handful of titles, opening float and a day of trading

HOW SCENARIOS WORK:
  1. Reset the store (clear all data, restart sequences)
  2. Replay the dataset through Catalog, CashLedger and Processor, so every
     seeded row went through the same rules as live traffic

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "walkthrough"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/bookstore/bookstore"
	"github.com/warp/bookstore/logging"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "empty",
		Name:        "Empty Store",
		Description: "No books, no transactions, zero cash",
	},
	{
		ID:          "walkthrough",
		Name:        "Walkthrough",
		Description: "B1 at 5.00/8.00 x10: restock refused on empty till, sell 3, restock 2",
	},
	{
		ID:          "small-shop",
		Name:        "Small Shop",
		Description: "Five titles, a 200.00 opening float and a day of sales and restocks",
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and seeds a predefined dataset.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "empty":
		load = func(context.Context) error { return nil }
	case "walkthrough":
		load = h.loadWalkthroughScenario
	case "small-shop":
		load = h.loadSmallShopScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	logging.FromContext(ctx).WithField("scenario", req.ScenarioID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase wipes all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "database reset"})
}

// reset requires h.mu.
func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Store.(bookstore.Resetter)
	if !ok {
		return errors.New("store does not support reset")
	}
	if err := resetter.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type seedBook struct {
	code, title     string
	purchase, sale  string
	initialQuantity int
}

func (h *Handler) seedBooks(ctx context.Context, books []seedBook) error {
	for _, b := range books {
		_, err := h.Catalog.Create(ctx, bookstore.NewBook{
			Code:            b.code,
			Title:           b.title,
			PurchasePrice:   decimal.RequireFromString(b.purchase),
			SalePrice:       decimal.RequireFromString(b.sale),
			InitialQuantity: b.initialQuantity,
		})
		if err != nil {
			return fmt.Errorf("book %s: %w", b.code, err)
		}
	}
	return nil
}

func (h *Handler) process(ctx context.Context, code string, kind bookstore.TransactionKind, qty int) error {
	_, err := h.Processor.Process(ctx, bookstore.TransactionRequest{BookCode: code, Kind: kind, Quantity: qty})
	if err != nil {
		return fmt.Errorf("%s %d x %s: %w", kind, qty, code, err)
	}
	return nil
}

// loadWalkthroughScenario ends with B1 at 9 copies and 14.00 in cash.
func (h *Handler) loadWalkthroughScenario(ctx context.Context) error {
	if err := h.seedBooks(ctx, []seedBook{
		{"B1", "The Pragmatic Bookseller", "5.00", "8.00", 10},
	}); err != nil {
		return err
	}

	// The till is empty, so this restock must be refused.
	err := h.process(ctx, "B1", bookstore.KindRestock, 5)
	if !errors.Is(err, bookstore.ErrInsufficientFunds) {
		return fmt.Errorf("expected insufficient funds, got %v", err)
	}

	if err := h.process(ctx, "B1", bookstore.KindSale, 3); err != nil {
		return err
	}
	return h.process(ctx, "B1", bookstore.KindRestock, 2)
}

func (h *Handler) loadSmallShopScenario(ctx context.Context) error {
	if err := h.seedBooks(ctx, []seedBook{
		{"9780441013593", "Dune", "6.50", "10.99", 4},
		{"9780547928227", "The Hobbit", "5.25", "8.75", 6},
		{"9780451524935", "1984", "4.10", "7.50", 0},
		{"9780061120084", "To Kill a Mockingbird", "5.80", "9.25", 3},
		{"9780140449136", "Crime and Punishment", "7.40", "12.00", 2},
	}); err != nil {
		return err
	}

	if _, err := h.Cash.CreateManual(ctx, bookstore.MovementIncome, decimal.NewFromInt(200), "opening float"); err != nil {
		return err
	}

	steps := []struct {
		code string
		kind bookstore.TransactionKind
		qty  int
	}{
		{"9780451524935", bookstore.KindRestock, 10},
		{"9780441013593", bookstore.KindSale, 2},
		{"9780547928227", bookstore.KindSale, 1},
		{"9780451524935", bookstore.KindSale, 4},
		{"9780140449136", bookstore.KindRestock, 3},
		{"9780061120084", bookstore.KindSale, 3},
		{"9780441013593", bookstore.KindRestock, 5},
	}
	for _, s := range steps {
		if err := h.process(ctx, s.code, s.kind, s.qty); err != nil {
			return err
		}
	}

	_, err := h.Cash.CreateManual(ctx, bookstore.MovementExpense, decimal.RequireFromString("35.00"), "shop rent (daily)")
	return err
}
