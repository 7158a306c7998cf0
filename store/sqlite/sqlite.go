/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists documents, lines, balances, master data and the active period.
  The schema mirrors store/postgres; only dialect details differ.

INTERFACES IMPLEMENTED:
  ledger.LedgerStore:    stock_balances
  ledger.DocumentStore:  documents + document_lines
  ledger.IssueLineStore: delivery_out rows of document_lines
  ledger.Registry:       item_groups, items, warehouses, contacts
  ledger.PeriodStore:    active_period
  ledger.TxStore:        WithTx and ReadTx over a single *sql.Tx

KEY TABLES:
  stock_balances:  one row per (item, warehouse); created on first delta
  documents:       headers, unique (kind, reference) when reference is set
  document_lines:  owned by documents (ON DELETE CASCADE); DeliveryIn lines
                   reference their DeliveryOut line via source_line_id
  active_period:   single row (id = 1)

DECIMALS:
  Quantities are stored as TEXT and added in Go with shopspring/decimal, so
  no precision is lost to SQLite's REAL affinity.

CONNECTIONS:
  The pool is capped at one connection. An ":memory:" database exists per
  connection, and a single writer is all SQLite offers anyway. Inside WithTx
  only the transaction view may be used; the parent would wait forever.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres: pgx implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z"

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; Store runs them on the pool and txStore on
// an open transaction.
type queries struct {
	db dbtx
}

// Store implements ledger.TxStore using SQLite.
type Store struct {
	queries
	conn *sql.DB
	mu   sync.Mutex
}

var _ ledger.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{db: db}, conn: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Master data
	CREATE TABLE IF NOT EXISTS item_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		code TEXT NOT NULL DEFAULT '',
		unit TEXT NOT NULL DEFAULT '',
		group_id TEXT REFERENCES item_groups(id)
	);

	CREATE TABLE IF NOT EXISTS warehouses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		parent_id TEXT REFERENCES warehouses(id)
	);

	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL
	);

	-- Documents (header + owned lines)
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		doc_date TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		sub_type TEXT NOT NULL DEFAULT '',
		contact_id TEXT REFERENCES contacts(id),
		vehicle TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		remarks TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Reference numbers are unique within a kind
	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_kind_reference
		ON documents(kind, reference) WHERE reference <> '';

	CREATE INDEX IF NOT EXISTS idx_documents_kind_date
		ON documents(kind, doc_date);

	CREATE TABLE IF NOT EXISTS document_lines (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		item_id TEXT NOT NULL REFERENCES items(id),
		warehouse_id TEXT NOT NULL REFERENCES warehouses(id),
		to_warehouse_id TEXT REFERENCES warehouses(id),
		direction TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL,
		returned TEXT NOT NULL DEFAULT '0',
		source_line_id TEXT REFERENCES document_lines(id)
	);

	CREATE INDEX IF NOT EXISTS idx_document_lines_document
		ON document_lines(document_id, position);

	-- Returns against a delivery line (lock check, audit)
	CREATE INDEX IF NOT EXISTS idx_document_lines_source
		ON document_lines(source_line_id) WHERE source_line_id IS NOT NULL;

	-- Ledger: current quantity per (item, warehouse)
	CREATE TABLE IF NOT EXISTS stock_balances (
		item_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		PRIMARY KEY (item_id, warehouse_id)
	);

	CREATE TABLE IF NOT EXISTS active_period (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL
	);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries{db: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// ReadTx runs fn inside a transaction that is always rolled back.
func (s *Store) ReadTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&txStore{queries{db: sqlTx}})
}

// txStore is the ledger.Store view handed to WithTx callbacks.
type txStore struct {
	queries
}

// ApplyDelta outside WithTx runs its read-modify-write in its own transaction.
func (s *Store) ApplyDelta(ctx context.Context, key ledger.Key, delta decimal.Decimal) error {
	return s.WithTx(ctx, func(st ledger.Store) error {
		return st.ApplyDelta(ctx, key, delta)
	})
}

// AdjustReturned outside WithTx runs in its own transaction.
func (s *Store) AdjustReturned(ctx context.Context, id ledger.LineID, delta decimal.Decimal) error {
	return s.WithTx(ctx, func(st ledger.Store) error {
		return st.AdjustReturned(ctx, id, delta)
	})
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"stock_balances", "document_lines", "documents", "active_period",
		"contacts", "items", "warehouses", "item_groups",
	}
	for _, table := range tables {
		if _, err := s.conn.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (q queries) Balance(ctx context.Context, key ledger.Key) (decimal.Decimal, error) {
	qty, _, err := q.BalanceRow(ctx, key)
	return qty, err
}

func (q queries) BalanceRow(ctx context.Context, key ledger.Key) (decimal.Decimal, bool, error) {
	var raw string
	err := q.db.QueryRowContext(ctx,
		`SELECT quantity FROM stock_balances WHERE item_id = ? AND warehouse_id = ?`,
		key.Item, key.Warehouse,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to read balance %s: %w", key, err)
	}
	qty, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt balance %s: %w", key, err)
	}
	return qty, true, nil
}

func (q queries) ApplyDelta(ctx context.Context, key ledger.Key, delta decimal.Decimal) error {
	current, _, err := q.BalanceRow(ctx, key)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO stock_balances (item_id, warehouse_id, quantity)
		VALUES (?, ?, ?)
		ON CONFLICT(item_id, warehouse_id) DO UPDATE SET quantity = excluded.quantity
	`, key.Item, key.Warehouse, current.Add(delta).String())
	if err != nil {
		return fmt.Errorf("failed to apply delta to %s: %w", key, err)
	}
	return nil
}

func (q queries) Balances(ctx context.Context, filter ledger.BalanceFilter) ([]ledger.Balance, error) {
	query := `SELECT item_id, warehouse_id, quantity FROM stock_balances WHERE 1 = 1`
	var args []any
	if filter.Item != "" {
		query += ` AND item_id = ?`
		args = append(args, filter.Item)
	}
	if filter.Warehouse != "" {
		query += ` AND warehouse_id = ?`
		args = append(args, filter.Warehouse)
	}
	query += ` ORDER BY item_id, warehouse_id`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var out []ledger.Balance
	for rows.Next() {
		var b ledger.Balance
		var raw string
		if err := rows.Scan(&b.Item, &b.Warehouse, &raw); err != nil {
			return nil, err
		}
		if b.Quantity, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("corrupt balance %s: %w", b.Key, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

func (q queries) InsertDocument(ctx context.Context, doc ledger.Document) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO documents
		(id, kind, doc_date, reference, sub_type, contact_id, vehicle, reason, remarks, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		doc.ID, doc.Kind, doc.Date.Format(ledger.DateLayout), doc.Reference, doc.SubType,
		nullString(string(doc.ContactID)), doc.Vehicle, doc.Reason, doc.Remarks,
		doc.CreatedBy, doc.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%s %q: %w", doc.Kind, doc.Reference, ledger.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return q.insertLines(ctx, doc)
}

func (q queries) ReplaceDocument(ctx context.Context, doc ledger.Document) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE documents SET
			doc_date = ?, reference = ?, sub_type = ?, contact_id = ?,
			vehicle = ?, reason = ?, remarks = ?
		WHERE id = ?
	`,
		doc.Date.Format(ledger.DateLayout), doc.Reference, doc.SubType,
		nullString(string(doc.ContactID)), doc.Vehicle, doc.Reason, doc.Remarks, doc.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%s %q: %w", doc.Kind, doc.Reference, ledger.ErrDuplicate)
		}
		return fmt.Errorf("failed to update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.NotFound("document", doc.ID)
	}

	if _, err := q.db.ExecContext(ctx, `DELETE FROM document_lines WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to clear document lines: %w", err)
	}
	return q.insertLines(ctx, doc)
}

func (q queries) insertLines(ctx context.Context, doc ledger.Document) error {
	for i, l := range doc.Lines {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO document_lines
			(id, document_id, position, item_id, warehouse_id, to_warehouse_id, direction, quantity, returned, source_line_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			l.ID, doc.ID, i, l.Item, l.Warehouse, nullString(string(l.ToWarehouse)),
			l.Direction, l.Quantity.String(), l.Returned.String(), nullString(string(l.Source)),
		)
		if err != nil {
			return fmt.Errorf("failed to insert line %d: %w", i+1, err)
		}
	}
	return nil
}

func (q queries) DeleteDocument(ctx context.Context, id ledger.DocumentID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.NotFound("document", id)
	}
	return nil
}

func (q queries) Document(ctx context.Context, id ledger.DocumentID) (ledger.Document, error) {
	docs, err := q.loadDocuments(ctx, " WHERE d.id = ?", []any{id})
	if err != nil {
		return ledger.Document{}, err
	}
	if len(docs) == 0 {
		return ledger.Document{}, ledger.NotFound("document", id)
	}
	return docs[0], nil
}

func (q queries) Documents(ctx context.Context, filter ledger.DocumentFilter) ([]ledger.Document, error) {
	var conds []string
	var args []any
	if filter.Kind != "" {
		conds = append(conds, "d.kind = ?")
		args = append(args, filter.Kind)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "d.doc_date >= ?")
		args = append(args, ledger.DateOf(filter.From).Format(ledger.DateLayout))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "d.doc_date <= ?")
		args = append(args, ledger.DateOf(filter.To).Format(ledger.DateLayout))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return q.loadDocuments(ctx, where, args)
}

// loadDocuments reads headers, closes that cursor, then reads the lines with
// the same filter. The single pooled connection cannot serve two cursors.
func (q queries) loadDocuments(ctx context.Context, where string, args []any) ([]ledger.Document, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT d.id, d.kind, d.doc_date, d.reference, d.sub_type, d.contact_id,
		       d.vehicle, d.reason, d.remarks, d.created_by, d.created_at
		FROM documents d`+where+`
		ORDER BY d.doc_date, d.created_at, d.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	var docs []ledger.Document
	index := make(map[ledger.DocumentID]int)
	for rows.Next() {
		var d ledger.Document
		var date, created string
		var contact sql.NullString
		if err := rows.Scan(&d.ID, &d.Kind, &date, &d.Reference, &d.SubType, &contact,
			&d.Vehicle, &d.Reason, &d.Remarks, &d.CreatedBy, &created); err != nil {
			rows.Close()
			return nil, err
		}
		d.Date, _ = ledger.ParseDate(date)
		d.CreatedAt, _ = time.Parse(timestampLayout, created)
		d.ContactID = ledger.ContactID(contact.String)
		index[d.ID] = len(docs)
		docs = append(docs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	lrows, err := q.db.QueryContext(ctx, `
		SELECT l.document_id, `+lineColumns+`
		FROM document_lines l
		JOIN documents d ON d.id = l.document_id`+where+`
		ORDER BY l.document_id, l.position
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query document lines: %w", err)
	}
	defer lrows.Close()

	for lrows.Next() {
		var docID ledger.DocumentID
		l, err := scanLine(lrows, &docID)
		if err != nil {
			return nil, err
		}
		if i, ok := index[docID]; ok {
			docs[i].Lines = append(docs[i].Lines, l)
		}
	}
	return docs, lrows.Err()
}

func (q queries) ReferenceTaken(ctx context.Context, kind ledger.Kind, reference string, except ledger.DocumentID) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE kind = ? AND reference = ? AND id <> ?`,
		kind, reference, except,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check reference: %w", err)
	}
	return n > 0, nil
}

// =============================================================================
// ISSUE LINES (DeliveryOut pending counters)
// =============================================================================

const lineColumns = `l.id, l.item_id, l.warehouse_id, l.to_warehouse_id, l.direction,
		       l.quantity, l.returned, l.source_line_id`

// scanLine reads lineColumns, preceded by any extra destinations.
func scanLine(rows *sql.Rows, extra ...any) (ledger.Line, error) {
	var l ledger.Line
	var to, source sql.NullString
	var quantity, returned string
	dest := append(extra, &l.ID, &l.Item, &l.Warehouse, &to, &l.Direction, &quantity, &returned, &source)
	if err := rows.Scan(dest...); err != nil {
		return ledger.Line{}, err
	}
	l.ToWarehouse = ledger.WarehouseID(to.String)
	l.Source = ledger.LineID(source.String)

	var err error
	if l.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return ledger.Line{}, fmt.Errorf("corrupt quantity on line %s: %w", l.ID, err)
	}
	if l.Returned, err = decimal.NewFromString(returned); err != nil {
		return ledger.Line{}, fmt.Errorf("corrupt returned on line %s: %w", l.ID, err)
	}
	return l, nil
}

func (q queries) queryPending(ctx context.Context, where string, args ...any) ([]ledger.PendingLine, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT d.id, d.reference, d.contact_id, d.doc_date, `+lineColumns+`
		FROM document_lines l
		JOIN documents d ON d.id = l.document_id
		WHERE d.kind = 'delivery_out'`+where+`
		ORDER BY d.doc_date, d.reference, l.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery lines: %w", err)
	}
	defer rows.Close()

	var out []ledger.PendingLine
	for rows.Next() {
		var p ledger.PendingLine
		var contact sql.NullString
		var date string
		l, err := scanLine(rows, &p.Document, &p.Reference, &contact, &date)
		if err != nil {
			return nil, err
		}
		p.Line = l
		p.Contact = ledger.ContactID(contact.String)
		p.Date, _ = ledger.ParseDate(date)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q queries) IssueLine(ctx context.Context, id ledger.LineID) (ledger.PendingLine, error) {
	lines, err := q.queryPending(ctx, " AND l.id = ?", id)
	if err != nil {
		return ledger.PendingLine{}, err
	}
	if len(lines) == 0 {
		return ledger.PendingLine{}, ledger.NotFound("delivery line", id)
	}
	return lines[0], nil
}

func (q queries) AdjustReturned(ctx context.Context, id ledger.LineID, delta decimal.Decimal) error {
	line, err := q.IssueLine(ctx, id)
	if err != nil {
		return err
	}
	next := line.Returned.Add(delta)
	if next.IsNegative() || next.GreaterThan(line.Quantity) {
		return ledger.ErrReturnedOutOfRange
	}
	_, err = q.db.ExecContext(ctx, `UPDATE document_lines SET returned = ? WHERE id = ?`, next.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update returned quantity: %w", err)
	}
	return nil
}

func (q queries) ReturnCount(ctx context.Context, document ledger.DocumentID) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM document_lines r
		JOIN document_lines o ON o.id = r.source_line_id
		WHERE o.document_id = ?
	`, document).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count returns: %w", err)
	}
	return n, nil
}

func (q queries) PendingLines(ctx context.Context, contact ledger.ContactID) ([]ledger.PendingLine, error) {
	var lines []ledger.PendingLine
	var err error
	if contact != "" {
		lines, err = q.queryPending(ctx, " AND d.contact_id = ?", contact)
	} else {
		lines, err = q.queryPending(ctx, "")
	}
	if err != nil {
		return nil, err
	}

	out := lines[:0]
	for _, l := range lines {
		if l.Pending().IsPositive() {
			out = append(out, l)
		}
	}
	return out, nil
}

// =============================================================================
// REGISTRY
// =============================================================================

func (q queries) SaveGroup(ctx context.Context, g ledger.Group) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO item_groups (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, g.ID, g.Name)
	return saveError(err, "group", g.Name, "", nil)
}

func (q queries) SaveItem(ctx context.Context, it ledger.Item) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO items (id, name, code, unit, group_id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			unit = excluded.unit,
			group_id = excluded.group_id
	`, it.ID, it.Name, it.Code, it.Unit, nullString(string(it.Group)))
	return saveError(err, "item", it.Name, "group", it.Group)
}

func (q queries) SaveWarehouse(ctx context.Context, w ledger.Warehouse) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO warehouses (id, name, parent_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			parent_id = excluded.parent_id
	`, w.ID, w.Name, nullString(string(w.Parent)))
	return saveError(err, "warehouse", w.Name, "warehouse", w.Parent)
}

func (q queries) SaveContact(ctx context.Context, c ledger.Contact) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO contacts (id, name, role) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role
	`, c.ID, c.Name, c.Role)
	return saveError(err, "contact", c.Name, "", nil)
}

func (q queries) Item(ctx context.Context, id ledger.ItemID) (ledger.Item, error) {
	return q.item(ctx, "id", id)
}

func (q queries) ItemByName(ctx context.Context, name string) (ledger.Item, error) {
	return q.item(ctx, "name", name)
}

func (q queries) item(ctx context.Context, col string, v any) (ledger.Item, error) {
	var it ledger.Item
	var group sql.NullString
	err := q.db.QueryRowContext(ctx,
		`SELECT id, name, code, unit, group_id FROM items WHERE `+col+` = ?`, v,
	).Scan(&it.ID, &it.Name, &it.Code, &it.Unit, &group)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Item{}, ledger.NotFound("item", v)
	}
	if err != nil {
		return ledger.Item{}, fmt.Errorf("failed to get item: %w", err)
	}
	it.Group = ledger.GroupID(group.String)
	return it, nil
}

func (q queries) Warehouse(ctx context.Context, id ledger.WarehouseID) (ledger.Warehouse, error) {
	return q.warehouse(ctx, "id", id)
}

func (q queries) WarehouseByName(ctx context.Context, name string) (ledger.Warehouse, error) {
	return q.warehouse(ctx, "name", name)
}

func (q queries) warehouse(ctx context.Context, col string, v any) (ledger.Warehouse, error) {
	var w ledger.Warehouse
	var parent sql.NullString
	err := q.db.QueryRowContext(ctx,
		`SELECT id, name, parent_id FROM warehouses WHERE `+col+` = ?`, v,
	).Scan(&w.ID, &w.Name, &parent)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Warehouse{}, ledger.NotFound("warehouse", v)
	}
	if err != nil {
		return ledger.Warehouse{}, fmt.Errorf("failed to get warehouse: %w", err)
	}
	w.Parent = ledger.WarehouseID(parent.String)
	return w, nil
}

func (q queries) Contact(ctx context.Context, id ledger.ContactID) (ledger.Contact, error) {
	return q.contact(ctx, "id", id)
}

func (q queries) ContactByName(ctx context.Context, name string) (ledger.Contact, error) {
	return q.contact(ctx, "name", name)
}

func (q queries) contact(ctx context.Context, col string, v any) (ledger.Contact, error) {
	var c ledger.Contact
	err := q.db.QueryRowContext(ctx,
		`SELECT id, name, role FROM contacts WHERE `+col+` = ?`, v,
	).Scan(&c.ID, &c.Name, &c.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Contact{}, ledger.NotFound("contact", v)
	}
	if err != nil {
		return ledger.Contact{}, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

func (q queries) Groups(ctx context.Context) ([]ledger.Group, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, name FROM item_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var out []ledger.Group
	for rows.Next() {
		var g ledger.Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (q queries) Items(ctx context.Context) ([]ledger.Item, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, name, code, unit, group_id FROM items ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var out []ledger.Item
	for rows.Next() {
		var it ledger.Item
		var group sql.NullString
		if err := rows.Scan(&it.ID, &it.Name, &it.Code, &it.Unit, &group); err != nil {
			return nil, err
		}
		it.Group = ledger.GroupID(group.String)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (q queries) Warehouses(ctx context.Context) ([]ledger.Warehouse, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, name, parent_id FROM warehouses ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list warehouses: %w", err)
	}
	defer rows.Close()

	var out []ledger.Warehouse
	for rows.Next() {
		var w ledger.Warehouse
		var parent sql.NullString
		if err := rows.Scan(&w.ID, &w.Name, &parent); err != nil {
			return nil, err
		}
		w.Parent = ledger.WarehouseID(parent.String)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (q queries) Contacts(ctx context.Context) ([]ledger.Contact, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, name, role FROM contacts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Contact
	for rows.Next() {
		var c ledger.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Role); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// PERIOD STORE
// =============================================================================

func (q queries) ActivePeriod(ctx context.Context) (ledger.Period, error) {
	var start, end string
	err := q.db.QueryRowContext(ctx,
		`SELECT start_date, end_date FROM active_period WHERE id = 1`,
	).Scan(&start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Period{}, ledger.ErrNoActivePeriod
	}
	if err != nil {
		return ledger.Period{}, fmt.Errorf("failed to read active period: %w", err)
	}
	return ledger.ParsePeriod(start, end)
}

func (q queries) SetActivePeriod(ctx context.Context, p ledger.Period) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO active_period (id, start_date, end_date) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`, p.Start.Format(ledger.DateLayout), p.End.Format(ledger.DateLayout))
	if err != nil {
		return fmt.Errorf("failed to save active period: %w", err)
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

// saveError maps constraint failures of a registry upsert onto ledger errors.
func saveError(err error, what, name, ref string, refID any) error {
	switch {
	case err == nil:
		return nil
	case isUniqueConstraintError(err):
		return fmt.Errorf("%s %q: %w", what, name, ledger.ErrDuplicate)
	case isForeignKeyError(err) && ref != "":
		return ledger.NotFound(ref, refID)
	}
	return fmt.Errorf("failed to save %s: %w", what, err)
}
