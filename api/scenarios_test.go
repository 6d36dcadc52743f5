package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_List(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]ScenarioDTO](t, rec)
	assert.Len(t, list, len(scenarios))
}

func TestScenarios_LoadWalkthrough(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "walkthrough"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/books/B1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 9, decodeBody[BookDTO](t, rec).Quantity)

	rec = do(t, router, http.MethodGet, "/api/cash/balance", nil)
	assert.Equal(t, 14.0, decodeBody[BalanceDTO](t, rec).Balance)

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "walkthrough", decodeBody[ScenarioDTO](t, rec).ID)
}

func TestScenarios_LoadReplacesPreviousData(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "small-shop"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/books", nil)
	assert.Len(t, decodeBody[[]BookDTO](t, rec), 5)

	rec = do(t, router, http.MethodGet, "/api/cash/audit", nil)
	assert.True(t, decodeBody[AuditReportDTO](t, rec).OK)

	// Loading again starts from a clean store: sequences restart at 1.
	rec = do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "walkthrough"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/transactions", nil)
	txs := decodeBody[[]TransactionDTO](t, rec)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(1), txs[0].ID)
}

func TestScenarios_ResetAndUnknown(t *testing.T) {
	router, _ := newTestServer(t)
	createBook(t, router, "B1", 5, 8, 1)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/books", nil)
	assert.Empty(t, decodeBody[[]BookDTO](t, rec))

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", rec.Body.String())
}
