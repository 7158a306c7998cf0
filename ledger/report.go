package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// READ SIDE - balances, documents, pending lines, stock report
// =============================================================================

// Balance returns the current quantity of item in warehouse.
func (e *Engine) Balance(ctx context.Context, item ItemID, warehouse WarehouseID) (decimal.Decimal, error) {
	return e.store.Balance(ctx, Key{Item: item, Warehouse: warehouse})
}

func (e *Engine) Balances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	return e.store.Balances(ctx, filter)
}

func (e *Engine) Document(ctx context.Context, id DocumentID) (Document, error) {
	return e.store.Document(ctx, id)
}

func (e *Engine) Documents(ctx context.Context, filter DocumentFilter) ([]Document, error) {
	return e.store.Documents(ctx, filter)
}

// PendingLines lists DeliveryOut lines still awaiting returns for contact.
func (e *Engine) PendingLines(ctx context.Context, contact ContactID) ([]PendingLine, error) {
	return e.store.PendingLines(ctx, contact)
}

func (e *Engine) ActivePeriod(ctx context.Context) (Period, error) {
	return e.store.ActivePeriod(ctx)
}

// SetActivePeriod replaces the active period.
func (e *Engine) SetActivePeriod(ctx context.Context, p Period) error {
	p, err := NewPeriod(p.Start, p.End)
	if err != nil {
		return err
	}
	if err := e.store.SetActivePeriod(ctx, p); err != nil {
		return err
	}
	e.log.Info().Str("period", p.String()).Msg("active period updated")
	return nil
}

// StockRow is one item of the stock report.
type StockRow struct {
	Item       ItemID
	Warehouses map[WarehouseID]decimal.Decimal
	Total      decimal.Decimal

	// Pending is the quantity out on deliveries not yet returned.
	Pending decimal.Decimal
}

// StockReport summarizes balances per item, optionally for one warehouse.
func (e *Engine) StockReport(ctx context.Context, warehouse WarehouseID) ([]StockRow, error) {
	balances, err := e.store.Balances(ctx, BalanceFilter{Warehouse: warehouse})
	if err != nil {
		return nil, err
	}
	pending, err := e.store.PendingLines(ctx, "")
	if err != nil {
		return nil, err
	}

	rows := make(map[ItemID]*StockRow)
	row := func(item ItemID) *StockRow {
		r, ok := rows[item]
		if !ok {
			r = &StockRow{Item: item, Warehouses: make(map[WarehouseID]decimal.Decimal)}
			rows[item] = r
		}
		return r
	}
	for _, b := range balances {
		r := row(b.Item)
		r.Warehouses[b.Warehouse] = b.Quantity
		r.Total = r.Total.Add(b.Quantity)
	}
	for _, p := range pending {
		if warehouse != "" && p.Warehouse != warehouse {
			continue
		}
		r := row(p.Item)
		r.Pending = r.Pending.Add(p.Pending())
	}

	out := make([]StockRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out, nil
}
