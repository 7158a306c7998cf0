/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	master data and documents. Every document goes through the engine, so a
	loaded scenario always passes the ledger audit.

AVAILABLE SCENARIOS:

	empty:           Master data and the active period only
	hardware-store:  Receipts, a transfer, a sale and a stock count
	production-run:  Raw material consumed into finished goods
	tool-loans:      Tools loaned to a site crew, partly returned

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Create groups, items, warehouses, contacts
 3. Set the active period
 4. Create documents through the engine

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "tool-loans"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, e *ledger.Engine) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{ID: "empty", Name: "Empty", Description: "Master data and an open period, no documents"},
		load:        func(context.Context, *ledger.Engine) error { return nil },
	},
	{
		ScenarioDTO: ScenarioDTO{ID: "hardware-store", Name: "Hardware Store", Description: "Supplier receipt, transfer to the yard, a sale and a stock count"},
		load:        loadHardwareStore,
	},
	{
		ScenarioDTO: ScenarioDTO{ID: "production-run", Name: "Production Run", Description: "Steel rod consumed in the workshop to produce brackets"},
		load:        loadProductionRun,
	},
	{
		ScenarioDTO: ScenarioDTO{ID: "tool-loans", Name: "Tool Loans", Description: "Drills loaned to a site crew, half returned so far"},
		load:        loadToolLoans,
	},
}

// ErrResetUnsupported is returned when the store cannot be cleared.
var ErrResetUnsupported = errors.New("store does not support reset")

type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s.ScenarioDTO)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.LoadScenarioByID(r.Context(), req.ScenarioID)
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Unknown scenario", err)
	case errors.Is(err, ErrResetUnsupported):
		writeError(w, http.StatusNotImplemented, "Store cannot be reset", err)
	case err != nil:
		h.writeEngineError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
	}
}

// LoadScenarioByID resets the store and loads scenario id.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var found *scenario
	for i := range scenarios {
		if scenarios[i].ID == id {
			found = &scenarios[i]
		}
	}
	if found == nil {
		return ledger.NotFound("scenario", id)
	}

	rs, ok := h.Engine.Store().(resetter)
	if !ok {
		return ErrResetUnsupported
	}
	if err := rs.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	if err := seedMasterData(ctx, h.Engine); err != nil {
		return fmt.Errorf("seed master data: %w", err)
	}
	if err := found.load(ctx, h.Engine); err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.lastAudit = nil
	h.mu.Unlock()
	h.log.Info().Str("scenario", id).Msg("scenario loaded")
	return nil
}

// =============================================================================
// SHARED SEED
// =============================================================================

// Scenario dates fall inside the fiscal year April 2025 - March 2026.
func scenarioDate(m time.Month, d int) time.Time {
	y := 2025
	if m < time.April {
		y = 2026
	}
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedMasterData(ctx context.Context, e *ledger.Engine) error {
	st := e.Store()
	for _, g := range []ledger.Group{
		{ID: "fasteners", Name: "Fasteners"},
		{ID: "raw", Name: "Raw Material"},
		{ID: "finished", Name: "Finished Goods"},
		{ID: "tools", Name: "Tools"},
	} {
		if err := st.SaveGroup(ctx, g); err != nil {
			return err
		}
	}
	for _, it := range []ledger.Item{
		{ID: "bolt-m8", Name: "Bolt M8", Code: "FB-008", Unit: "pcs", Group: "fasteners"},
		{ID: "nut-m8", Name: "Nut M8", Code: "FN-008", Unit: "pcs", Group: "fasteners"},
		{ID: "steel-rod", Name: "Steel Rod 12mm", Code: "RM-112", Unit: "m", Group: "raw"},
		{ID: "bracket", Name: "Wall Bracket", Code: "FG-201", Unit: "pcs", Group: "finished"},
		{ID: "drill", Name: "Cordless Drill", Code: "TL-010", Unit: "pcs", Group: "tools"},
	} {
		if err := st.SaveItem(ctx, it); err != nil {
			return err
		}
	}
	for _, wh := range []ledger.Warehouse{
		{ID: "main", Name: "Main Store"},
		{ID: "yard", Name: "Yard", Parent: "main"},
		{ID: "workshop", Name: "Workshop"},
	} {
		if err := st.SaveWarehouse(ctx, wh); err != nil {
			return err
		}
	}
	for _, c := range []ledger.Contact{
		{ID: "acme", Name: "Acme Supplies", Role: ledger.RoleSupplier},
		{ID: "northwind", Name: "Northwind Traders", Role: ledger.RoleCustomer},
	} {
		if err := st.SaveContact(ctx, c); err != nil {
			return err
		}
	}
	p, err := ledger.NewPeriod(scenarioDate(time.April, 1), scenarioDate(time.March, 31))
	if err != nil {
		return err
	}
	return e.SetActivePeriod(ctx, p)
}

func q(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadHardwareStore(ctx context.Context, e *ledger.Engine) error {
	docs := []ledger.Document{
		{
			Kind: ledger.KindInward, Date: scenarioDate(time.April, 3), Reference: "INV-1001",
			ContactID: "acme", SubType: ledger.SubTypePurchase,
			Lines: []ledger.Line{
				{Item: "bolt-m8", Warehouse: "main", Quantity: q(500)},
				{Item: "nut-m8", Warehouse: "main", Quantity: q(500)},
			},
		},
		{
			Kind: ledger.KindTransfer, Date: scenarioDate(time.April, 10), Reference: "TR-0001",
			Lines: []ledger.Line{
				{Item: "bolt-m8", Warehouse: "main", ToWarehouse: "yard", Quantity: q(120)},
			},
		},
		{
			Kind: ledger.KindOutward, Date: scenarioDate(time.May, 2), Reference: "SO-2001",
			ContactID: "northwind", SubType: ledger.SubTypeSales,
			Lines: []ledger.Line{
				{Item: "bolt-m8", Warehouse: "main", Quantity: q(200)},
				{Item: "nut-m8", Warehouse: "main", Quantity: q(200)},
			},
		},
		{
			Kind: ledger.KindAdjustment, Date: scenarioDate(time.June, 30), Reason: "Quarterly stock count",
			Lines: []ledger.Line{
				{Item: "nut-m8", Warehouse: "main", Direction: ledger.DirectionSub, Quantity: q(7)},
			},
		},
	}
	return createAll(ctx, e, docs)
}

func loadProductionRun(ctx context.Context, e *ledger.Engine) error {
	docs := []ledger.Document{
		{
			Kind: ledger.KindInward, Date: scenarioDate(time.April, 5), Reference: "INV-1002",
			ContactName: "Sheffield Steel",
			Lines: []ledger.Line{
				{Item: "steel-rod", Warehouse: "workshop", Quantity: decimal.RequireFromString("120.5")},
			},
		},
		{
			Kind: ledger.KindProduction, Date: scenarioDate(time.April, 20), Reference: "PR-0001",
			Lines: []ledger.Line{
				{Item: "steel-rod", Warehouse: "workshop", Direction: ledger.DirectionConsumed, Quantity: decimal.RequireFromString("37.5")},
				{Item: "bracket", Warehouse: "workshop", Direction: ledger.DirectionProduced, Quantity: q(150)},
			},
		},
		{
			Kind: ledger.KindTransfer, Date: scenarioDate(time.April, 21), Reference: "TR-0002",
			Lines: []ledger.Line{
				{Item: "bracket", Warehouse: "workshop", ToWarehouse: "main", Quantity: q(150)},
			},
		},
	}
	return createAll(ctx, e, docs)
}

func loadToolLoans(ctx context.Context, e *ledger.Engine) error {
	if err := createAll(ctx, e, []ledger.Document{{
		Kind: ledger.KindInward, Date: scenarioDate(time.April, 2), Reference: "INV-1003",
		ContactID: "acme",
		Lines:     []ledger.Line{{Item: "drill", Warehouse: "main", Quantity: q(12)}},
	}}); err != nil {
		return err
	}

	out, err := e.Create(ctx, ledger.Document{
		Kind: ledger.KindDeliveryOut, Date: scenarioDate(time.May, 6), Reference: "DO-0001",
		ContactName: "Site Crew A", Vehicle: "TRK-214",
		Lines: []ledger.Line{{Item: "drill", Warehouse: "main", Quantity: q(8)}},
	})
	if err != nil {
		return err
	}
	_, err = e.Create(ctx, ledger.Document{
		Kind: ledger.KindDeliveryIn, Date: scenarioDate(time.May, 20),
		Lines: []ledger.Line{{Source: out.Lines[0].ID, Warehouse: "main", Quantity: q(4)}},
	})
	return err
}

func createAll(ctx context.Context, e *ledger.Engine, docs []ledger.Document) error {
	for _, d := range docs {
		if _, err := e.Create(ctx, d); err != nil {
			return fmt.Errorf("%s %s: %w", d.Kind, d.Reference, err)
		}
	}
	return nil
}
