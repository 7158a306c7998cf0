/*
Package ledger provides the stock-mutation core of the inventory system.

PURPOSE:
  Records goods received, issued, transferred, produced/consumed, loaned out
  and returned, or adjusted by hand, and keeps a current quantity-on-hand per
  (item, warehouse). Every document is a header+lines aggregate whose lines
  translate into signed deltas against the shared balance table.

KEY CONCEPTS IN THIS FILE (types.go):
  - Key: the (item, warehouse) pair a balance is kept for
  - Document: a transaction header with its owned lines
  - Line: one item movement; its sign comes from the document kind
  - Master data: Item, Group, Warehouse, Contact (referenced by id only)

DESIGN PRINCIPLES:
  1. Precision: quantities are decimal.Decimal, never float64
  2. Type Safety: distinct id types for items, warehouses, contacts, documents
  3. One abstraction: the six kinds share one document shape (see kinds.go)

SEE ALSO:
  - kinds.go: per-kind delta and counterparty rules
  - engine.go: create / revise / retire
  - store.go: persistence interfaces
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type GroupID string
type WarehouseID string
type ContactID string
type DocumentID string
type LineID string

// Key identifies a single stock balance.
type Key struct {
	Item      ItemID
	Warehouse WarehouseID
}

func (k Key) String() string {
	return string(k.Item) + "@" + string(k.Warehouse)
}

// =============================================================================
// DOCUMENT KINDS AND LINE DIRECTIONS
// =============================================================================

// Kind names one of the six transaction types.
type Kind string

const (
	KindInward      Kind = "inward"
	KindOutward     Kind = "outward"
	KindProduction  Kind = "production"
	KindTransfer    Kind = "transfer"
	KindDeliveryOut Kind = "delivery_out"
	KindDeliveryIn  Kind = "delivery_in"
	KindAdjustment  Kind = "adjustment"
)

// Kinds lists every supported kind in display order.
var Kinds = []Kind{
	KindInward, KindOutward, KindProduction, KindTransfer,
	KindDeliveryOut, KindDeliveryIn, KindAdjustment,
}

// Direction is the explicit sign flag carried by Adjustment and Production lines.
type Direction string

const (
	DirectionNone     Direction = ""
	DirectionAdd      Direction = "ADD"
	DirectionSub      Direction = "SUB"
	DirectionProduced Direction = "PRODUCED"
	DirectionConsumed Direction = "CONSUMED"
)

// Sub-types for Inward and Outward documents.
const (
	SubTypePurchase       = "Purchase"
	SubTypeSalesReturn    = "Sales Return"
	SubTypeSales          = "Sales"
	SubTypePurchaseReturn = "Purchase Return"
)

// =============================================================================
// MASTER DATA
// =============================================================================

// ContactRole is the role a counterparty plays.
type ContactRole string

const (
	RoleSupplier ContactRole = "Supplier"
	RoleCustomer ContactRole = "Customer"
)

type Group struct {
	ID   GroupID
	Name string
}

type Item struct {
	ID    ItemID
	Name  string
	Code  string
	Unit  string
	Group GroupID
}

type Warehouse struct {
	ID     WarehouseID
	Name   string
	Parent WarehouseID
}

type Contact struct {
	ID   ContactID
	Name string
	Role ContactRole
}

// =============================================================================
// DOCUMENT - header + lines aggregate
// =============================================================================

// Document is a transaction header together with the lines it owns.
// Fields that do not apply to a kind are left empty.
type Document struct {
	ID        DocumentID
	Kind      Kind
	Date      time.Time
	Reference string // invoice or reference number; unique per kind when required
	SubType   string // Inward/Outward only

	// Counterparty. ContactName is free text resolved (or created) on commit.
	ContactID   ContactID
	ContactName string

	Vehicle string // DeliveryOut only
	Reason  string // Adjustment only
	Remarks string

	CreatedBy string
	CreatedAt time.Time

	Lines []Line
}

// Line is a single item movement inside a document.
//
// Warehouse is the source for Transfer and DeliveryOut, the destination for
// DeliveryIn and the only warehouse for every other kind.
type Line struct {
	ID          LineID
	Item        ItemID
	Warehouse   WarehouseID
	ToWarehouse WarehouseID // Transfer only
	Direction   Direction
	Quantity    decimal.Decimal

	// DeliveryIn: the DeliveryOut line being returned against.
	Source LineID

	// DeliveryOut: quantity returned so far. Only the pending tracker writes it.
	Returned decimal.Decimal

	// Deleted marks a submitted line the caller removed. Never persisted.
	Deleted bool
}

// Pending is the issued quantity not yet returned.
func (l Line) Pending() decimal.Decimal {
	return l.Quantity.Sub(l.Returned)
}

// Surviving returns the lines not marked deleted.
func (d Document) Surviving() []Line {
	out := make([]Line, 0, len(d.Lines))
	for _, l := range d.Lines {
		if !l.Deleted {
			out = append(out, l)
		}
	}
	return out
}

// normalize trims free text and drops deleted lines.
func (d *Document) normalize() {
	d.Reference = strings.TrimSpace(d.Reference)
	d.SubType = strings.TrimSpace(d.SubType)
	d.ContactName = strings.TrimSpace(d.ContactName)
	d.Reason = strings.TrimSpace(d.Reason)
	d.Date = DateOf(d.Date)
	d.Lines = d.Surviving()
}

// =============================================================================
// READ MODELS
// =============================================================================

// Balance is a stored quantity-on-hand.
type Balance struct {
	Key
	Quantity decimal.Decimal
}

// PendingLine is a DeliveryOut line seen from the return side.
type PendingLine struct {
	Line
	Document  DocumentID
	Reference string
	Contact   ContactID
	Date      time.Time
}

// BalanceFilter narrows a balance scan. Empty fields match everything.
type BalanceFilter struct {
	Item      ItemID
	Warehouse WarehouseID
}

// DocumentFilter narrows a document listing. Zero times are unbounded.
type DocumentFilter struct {
	Kind Kind
	From time.Time
	To   time.Time
}

func (f DocumentFilter) Match(d Document) bool {
	if f.Kind != "" && d.Kind != f.Kind {
		return false
	}
	if !f.From.IsZero() && d.Date.Before(DateOf(f.From)) {
		return false
	}
	if !f.To.IsZero() && d.Date.After(DateOf(f.To)) {
		return false
	}
	return true
}
