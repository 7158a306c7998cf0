/*
store.go - Persistence interfaces for balances, documents and master data

PURPOSE:
  Defines the interface between the stock-mutation core and the database.
  Different implementations use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  LedgerStore:    Current quantity per (item, warehouse)
  DocumentStore:  Headers and their owned lines
  IssueLineStore: DeliveryOut lines addressed by id (pending tracker)
  Registry:       Items, groups, warehouses, contacts
  PeriodStore:    The singleton active period
  TxStore:        Store + WithTx (atomic unit)

LEDGER CONTRACT:
  Balance() never fails for a missing row, it reports zero.
  ApplyDelta() is an upsert that always succeeds; floor checks are the
  caller's job because reversal deltas must be accepted unconditionally.

ATOMIC UNITS:
  Every create, revise and retire runs inside WithTx(). If fn returns an
  error nothing it wrote survives: ledger deltas, rows and counters roll
  back together. ReadTx() gives a consistent view for multi-read scans
  such as the audit.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: Embedded SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - engine.go: The only writer
  - pending.go: Sole caller of AdjustReturned
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER STORE - current balances
// =============================================================================

type LedgerStore interface {
	// Balance returns the quantity for key, zero when no row exists.
	Balance(ctx context.Context, key Key) (decimal.Decimal, error)

	// BalanceRow returns the quantity and whether a row exists at all.
	BalanceRow(ctx context.Context, key Key) (decimal.Decimal, bool, error)

	// ApplyDelta adds delta to the balance, creating the row if absent.
	ApplyDelta(ctx context.Context, key Key, delta decimal.Decimal) error

	// Balances scans stored balances ordered by item then warehouse.
	Balances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
}

// =============================================================================
// DOCUMENT STORE - headers + owned lines
// =============================================================================

type DocumentStore interface {
	// InsertDocument persists a new header and its lines.
	InsertDocument(ctx context.Context, doc Document) error

	// ReplaceDocument overwrites the header and replaces all of its lines.
	ReplaceDocument(ctx context.Context, doc Document) error

	// DeleteDocument removes the header and its lines.
	DeleteDocument(ctx context.Context, id DocumentID) error

	// Document loads a header with its lines in position order.
	Document(ctx context.Context, id DocumentID) (Document, error)

	// Documents lists headers with lines, ordered by date then creation.
	Documents(ctx context.Context, filter DocumentFilter) ([]Document, error)

	// ReferenceTaken reports whether another document of kind already uses reference.
	ReferenceTaken(ctx context.Context, kind Kind, reference string, except DocumentID) (bool, error)
}

// =============================================================================
// ISSUE LINE STORE - DeliveryOut lines addressed by id
// =============================================================================

type IssueLineStore interface {
	// IssueLine loads a DeliveryOut line by id.
	IssueLine(ctx context.Context, id LineID) (PendingLine, error)

	// AdjustReturned adds delta to the line's returned quantity. It fails with
	// ErrReturnedOutOfRange if the result would leave [0, issued].
	AdjustReturned(ctx context.Context, id LineID, delta decimal.Decimal) error

	// ReturnCount counts DeliveryIn lines referencing any line of document.
	ReturnCount(ctx context.Context, document DocumentID) (int, error)

	// PendingLines lists DeliveryOut lines with issued > returned.
	// An empty contact lists every counterparty.
	PendingLines(ctx context.Context, contact ContactID) ([]PendingLine, error)
}

// =============================================================================
// REGISTRY - master data referenced by id
// =============================================================================

type Registry interface {
	SaveGroup(ctx context.Context, g Group) error
	SaveItem(ctx context.Context, it Item) error
	SaveWarehouse(ctx context.Context, w Warehouse) error
	SaveContact(ctx context.Context, c Contact) error

	Item(ctx context.Context, id ItemID) (Item, error)
	Warehouse(ctx context.Context, id WarehouseID) (Warehouse, error)
	Contact(ctx context.Context, id ContactID) (Contact, error)

	// Name lookups, used for counterparty resolution and imports.
	ItemByName(ctx context.Context, name string) (Item, error)
	WarehouseByName(ctx context.Context, name string) (Warehouse, error)
	ContactByName(ctx context.Context, name string) (Contact, error)

	Groups(ctx context.Context) ([]Group, error)
	Items(ctx context.Context) ([]Item, error)
	Warehouses(ctx context.Context) ([]Warehouse, error)
	Contacts(ctx context.Context) ([]Contact, error)
}

// =============================================================================
// PERIOD STORE - singleton active period
// =============================================================================

type PeriodStore interface {
	// ActivePeriod fails with ErrNoActivePeriod when none is configured.
	ActivePeriod(ctx context.Context) (Period, error)
	SetActivePeriod(ctx context.Context, p Period) error
}

// =============================================================================
// STORE / TX STORE
// =============================================================================

// Store is everything the engine reads and writes.
type Store interface {
	LedgerStore
	DocumentStore
	IssueLineStore
	Registry
	PeriodStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// ReadTx executes fn against one consistent view of the store.
	// Commits from other units are not visible to fn. fn must not write.
	ReadTx(ctx context.Context, fn func(Store) error) error
}
