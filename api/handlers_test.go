/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Document create / revise / retire through the router
- Error mapping (400, 404, 409, 422)
- Reports, imports and audit endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	t       *testing.T
	handler *Handler
	router  *chi.Mux
}

// newTestServer serves the "empty" scenario: master data and the
// 2025-04-01..2026-03-31 period, no documents.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	engine := ledger.NewEngine(store.NewMemory())
	h := NewHandler(engine, zerolog.Nop())
	require.NoError(t, h.LoadScenarioByID(context.Background(), "empty"))
	return &testServer{t: t, handler: h, router: NewRouter(h, nil)}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) create(kind string, req DocumentRequest) DocumentDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/documents/"+kind, req)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeAs[DocumentDTO](s.t, rec)
}

func (s *testServer) balance(item, wh string) decimal.Decimal {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/api/balances?item="+item+"&warehouse="+wh, nil)
	require.Equal(s.t, http.StatusOK, rec.Code)
	rows := decodeAs[[]BalanceDTO](s.t, rec)
	if len(rows) == 0 {
		return decimal.Zero
	}
	return rows[0].Quantity
}

func n(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func receipt(ref, qty string) DocumentRequest {
	return DocumentRequest{
		Date:        "2025-04-03",
		Reference:   ref,
		ContactName: "Acme Supplies",
		Lines:       []LineDTO{{Item: "bolt-m8", Warehouse: "main", Quantity: n(qty)}},
	}
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func TestCreateDocument_InwardUpdatesBalance(t *testing.T) {
	s := newTestServer(t)

	doc := s.create("inward", receipt("INV-1", "10.5"))

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "acme", doc.ContactID)
	assert.Equal(t, ledger.SubTypePurchase, doc.SubType)
	require.Len(t, doc.Lines, 1)
	assert.NotEmpty(t, doc.Lines[0].ID)
	assert.True(t, n("10.5").Equal(s.balance("bolt-m8", "main")))

	rec := s.do(http.MethodGet, "/api/documents/inward/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "INV-1", decodeAs[DocumentDTO](t, rec).Reference)
}

func TestCreateDocument_InsufficientStockIs422(t *testing.T) {
	s := newTestServer(t)
	s.create("inward", receipt("INV-1", "5"))

	rec := s.do(http.MethodPost, "/api/documents/outward", DocumentRequest{
		Date: "2025-05-01", Reference: "SO-1", ContactID: "northwind",
		Lines: []LineDTO{{Item: "bolt-m8", Warehouse: "main", Quantity: n("6")}},
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeAs[ErrorResponse](t, rec)
	require.Len(t, resp.Problems, 1)
	assert.Equal(t, 1, resp.Problems[0].Line)
	assert.Equal(t, "quantity", resp.Problems[0].Field)
	assert.Contains(t, resp.Problems[0].Message, "available 5")
	assert.True(t, n("5").Equal(s.balance("bolt-m8", "main")))
}

func TestCreateDocument_AllProblemsReported(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/documents/outward", DocumentRequest{
		Date: "2026-04-01",
		Lines: []LineDTO{
			{Item: "ghost", Warehouse: "main", Quantity: n("1")},
			{Item: "bolt-m8", Warehouse: "main", Quantity: n("0")},
		},
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	fields := map[string]bool{}
	for _, p := range decodeAs[ErrorResponse](t, rec).Problems {
		fields[p.Field] = true
	}
	for _, f := range []string{"date", "reference", "contact", "item", "quantity"} {
		assert.True(t, fields[f], "missing problem for %s", f)
	}
}

func TestCreateDocument_BadRequests(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/documents/inward", `{"date": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/documents/inward", DocumentRequest{Date: "03/04/2025"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeAs[ErrorResponse](t, rec).Details, "date: datetime")

	rec = s.do(http.MethodPost, "/api/documents/loan", receipt("X", "1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateDocument_DryRunWritesNothing(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/documents/inward?dry_run=true", receipt("INV-1", "3"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.True(t, s.balance("bolt-m8", "main").IsZero())
	rec = s.do(http.MethodGet, "/api/documents/inward", nil)
	assert.Empty(t, decodeAs[[]DocumentDTO](t, rec))
}

func TestCreateDocument_ProductionMergesProducedAndConsumed(t *testing.T) {
	s := newTestServer(t)
	s.create("inward", DocumentRequest{
		Date: "2025-04-03", Reference: "INV-1", ContactID: "acme",
		Lines: []LineDTO{{Item: "steel-rod", Warehouse: "workshop", Quantity: n("20")}},
	})

	doc := s.create("production", DocumentRequest{
		Date: "2025-04-04", Reference: "PR-1",
		Produced: []LineDTO{{Item: "bracket", Warehouse: "workshop", Quantity: n("40")}},
		Consumed: []LineDTO{{Item: "steel-rod", Warehouse: "workshop", Quantity: n("7.5")}},
	})

	require.Len(t, doc.Lines, 2)
	assert.Equal(t, "PRODUCED", doc.Lines[0].Direction)
	assert.Equal(t, "CONSUMED", doc.Lines[1].Direction)
	assert.True(t, n("40").Equal(s.balance("bracket", "workshop")))
	assert.True(t, n("12.5").Equal(s.balance("steel-rod", "workshop")))
}

func TestReviseDocument_TransferEdit(t *testing.T) {
	// GIVEN: 20 bolts in main, 10 transferred to yard
	// WHEN: Editing the transfer down to 4
	// THEN: main=16, yard=4

	s := newTestServer(t)
	s.create("inward", receipt("INV-1", "20"))
	tr := s.create("transfer", DocumentRequest{
		Date: "2025-04-05", Reference: "TR-1",
		Lines: []LineDTO{{Item: "bolt-m8", Warehouse: "main", ToWarehouse: "yard", Quantity: n("10")}},
	})

	edit := DocumentRequest{
		Date: "2025-04-05", Reference: "TR-1",
		Lines: []LineDTO{{ID: tr.Lines[0].ID, Item: "bolt-m8", Warehouse: "main", ToWarehouse: "yard", Quantity: n("4")}},
	}
	rec := s.do(http.MethodPut, "/api/documents/transfer/"+tr.ID, edit)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rev := decodeAs[RevisionDTO](t, rec)
	assert.True(t, rev.Changed)
	assert.Equal(t, tr.Lines[0].ID, rev.Document.Lines[0].ID)

	assert.True(t, n("16").Equal(s.balance("bolt-m8", "main")))
	assert.True(t, n("4").Equal(s.balance("bolt-m8", "yard")))

	// Same submission again is a no-op
	rec = s.do(http.MethodPut, "/api/documents/transfer/"+tr.ID, edit)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeAs[RevisionDTO](t, rec).Changed)
}

func TestRetireDocument_ReversesStock(t *testing.T) {
	s := newTestServer(t)
	doc := s.create("inward", receipt("INV-1", "8"))

	rec := s.do(http.MethodDelete, "/api/documents/outward/"+doc.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "kind in the path must match")

	rec = s.do(http.MethodDelete, "/api/documents/inward/"+doc.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, s.balance("bolt-m8", "main").IsZero())

	rec = s.do(http.MethodGet, "/api/documents/inward/"+doc.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelivery_ReturnLocksIssue(t *testing.T) {
	// GIVEN: 10 drills issued to a crew, 4 returned
	// WHEN: Editing the issue
	// THEN: 409 locked; pending shows 6 outstanding

	s := newTestServer(t)
	s.create("inward", DocumentRequest{
		Date: "2025-04-03", Reference: "INV-1", ContactID: "acme",
		Lines: []LineDTO{{Item: "drill", Warehouse: "main", Quantity: n("10")}},
	})
	out := s.create("delivery_out", DocumentRequest{
		Date: "2025-04-06", Reference: "DO-1", ContactName: "Site Crew A", Vehicle: "TRK-1",
		Lines: []LineDTO{{Item: "drill", Warehouse: "main", Quantity: n("10")}},
	})
	s.create("delivery_in", DocumentRequest{
		Date:  "2025-04-09",
		Lines: []LineDTO{{Source: out.Lines[0].ID, Warehouse: "yard", Quantity: n("4")}},
	})

	rec := s.do(http.MethodGet, "/api/pending?contact="+out.ContactID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeAs[[]PendingLineDTO](t, rec)
	require.Len(t, pending, 1)
	assert.True(t, n("6").Equal(pending[0].Pending))

	rec = s.do(http.MethodPut, "/api/documents/delivery_out/"+out.ID, DocumentRequest{
		Date: "2025-04-06", Reference: "DO-1", ContactID: out.ContactID,
		Lines: []LineDTO{{ID: out.Lines[0].ID, Item: "drill", Warehouse: "main", Quantity: n("9")}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/api/documents/delivery_out/"+out.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeAs[DocumentDTO](t, rec)
	require.NotNil(t, got.Lines[0].Returned)
	assert.True(t, n("4").Equal(*got.Lines[0].Returned))
	assert.True(t, n("4").Equal(s.balance("drill", "yard")))
}

type busyLocker struct{}

func (busyLocker) Acquire(_ context.Context, keys []string) (func(), error) {
	return nil, fmt.Errorf("%s: %w", keys[0], ledger.ErrLockBusy)
}

func TestCreateDocument_BusyLockIs409(t *testing.T) {
	// GIVEN: A locker whose keys are all held by another writer
	// WHEN: Submitting a document
	// THEN: 409 and no stock moves

	engine := ledger.NewEngine(store.NewMemory(), ledger.WithLocker(busyLocker{}))
	h := NewHandler(engine, zerolog.Nop())
	require.NoError(t, h.LoadScenarioByID(context.Background(), "empty"))
	s := &testServer{t: t, handler: h, router: NewRouter(h, nil)}

	rec := s.do(http.MethodPost, "/api/documents/inward", receipt("INV-1", "5"))

	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.True(t, s.balance("bolt-m8", "main").IsZero())
}

// =============================================================================
// MASTER DATA / PERIOD
// =============================================================================

func TestMasterData_CreateAndDuplicate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/items", ItemDTO{Name: "Washer M8", Unit: "pcs", Group: "fasteners"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decodeAs[ItemDTO](t, rec).ID)

	rec = s.do(http.MethodPost, "/api/items", ItemDTO{Name: "Washer M8"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/contacts", ContactDTO{Name: "Globex", Role: "Partner"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/warehouses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]WarehouseDTO](t, rec), 3)
}

func TestPeriod_GetAndSet(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/period", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, PeriodDTO{Start: "2025-04-01", End: "2026-03-31"}, decodeAs[PeriodDTO](t, rec))

	rec = s.do(http.MethodPut, "/api/period", PeriodDTO{Start: "2026-04-01", End: "2026-01-01"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPut, "/api/period", PeriodDTO{Start: "2026-04-01", End: "2027-03-31"})
	require.Equal(t, http.StatusOK, rec.Code)

	// A receipt dated in the old period is now rejected
	rec = s.do(http.MethodPost, "/api/documents/inward", receipt("INV-9", "1"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// =============================================================================
// REPORTS / IMPORTS / AUDIT
// =============================================================================

func TestStockReport(t *testing.T) {
	s := newTestServer(t)
	s.create("inward", receipt("INV-1", "10"))
	s.create("transfer", DocumentRequest{
		Date: "2025-04-05", Reference: "TR-1",
		Lines: []LineDTO{{Item: "bolt-m8", Warehouse: "main", ToWarehouse: "yard", Quantity: n("3")}},
	})

	rec := s.do(http.MethodGet, "/api/reports/stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeAs[[]StockRowDTO](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "bolt-m8", rows[0].Item)
	assert.True(t, n("10").Equal(rows[0].Total))
	assert.True(t, n("7").Equal(rows[0].Warehouses["main"]))
	assert.True(t, n("3").Equal(rows[0].Warehouses["yard"]))
}

func TestImportDocuments(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"rows": []map[string]any{
		{"line": 2, "date": "2025-04-02", "reference": "INV-7", "contact": "Acme Supplies", "item": "Bolt M8", "warehouse": "Main Store", "quantity": "12"},
		{"line": 3, "date": "2025-04-02", "reference": "INV-7", "contact": "Acme Supplies", "item": "Nut M8", "warehouse": "Main Store", "quantity": "30"},
	}}

	rec := s.do(http.MethodPost, "/api/imports/inward", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"imported":2`)
	assert.True(t, n("12").Equal(s.balance("bolt-m8", "main")))

	rec = s.do(http.MethodPost, "/api/imports/inward", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"skipped":2`)

	rec = s.do(http.MethodPost, "/api/imports/delivery_in", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/api/imports/inward", map[string]any{"rows": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAudit_DetectsTamperedBalance(t *testing.T) {
	s := newTestServer(t)
	s.create("inward", receipt("INV-1", "10"))

	rec := s.do(http.MethodPost, "/api/audit/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeAs[AuditReportDTO](t, rec).OK)

	key := ledger.Key{Item: "bolt-m8", Warehouse: "main"}
	require.NoError(t, s.handler.Engine.Store().ApplyDelta(context.Background(), key, n("1")))

	rec = s.do(http.MethodPost, "/api/audit/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeAs[AuditReportDTO](t, rec)
	assert.False(t, report.OK)
	require.Len(t, report.Drifts, 1)
	assert.True(t, n("11").Equal(report.Drifts[0].Stored))
	assert.True(t, n("10").Equal(report.Drifts[0].Expected))

	// GET returns the last run
	rec = s.do(http.MethodGet, "/api/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeAs[AuditReportDTO](t, rec).OK)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}
