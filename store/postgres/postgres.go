/*
Package postgres provides a PostgreSQL implementation of ledger.TxStore on pgx.

PURPOSE:
  The production store. Same tables as store/sqlite, but quantities are
  NUMERIC (scanned straight into decimal.Decimal via pgx-shopspring-decimal)
  and the database does the arithmetic.

CONCURRENCY:
  WithTx runs at READ COMMITTED. Balance reads inside a transaction take
  FOR UPDATE row locks, so two submissions against the same balance
  serialize between the sufficiency check and the delta. Reads on the pool
  take no locks. ReadTx is a read-only REPEATABLE READ snapshot. ApplyDelta
  is a single upsert-increment; AdjustReturned is a guarded UPDATE that
  refuses to leave [0, issued] in the same statement.

SEE ALSO:
  - store/sqlite: embedded variant
  - lock/redislocker: cross-process locking when several writers share a DB
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	q querier

	// forUpdate locks balance rows on read; set only inside WithTx.
	forUpdate bool
}

// Store implements ledger.TxStore on a pgx pool.
type Store struct {
	queries
	pool *pgxpool.Pool
}

var _ ledger.TxStore = (*Store)(nil)

// NewPool opens a pool with the decimal codec registered on every connection.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	// NUMERIC <-> shopspring/decimal
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}
	return pool, nil
}

// New connects to dsn and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{queries: queries{q: pool}, pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
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

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		doc_date DATE NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		sub_type TEXT NOT NULL DEFAULT '',
		contact_id TEXT REFERENCES contacts(id),
		vehicle TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		remarks TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

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
		quantity NUMERIC NOT NULL CHECK (quantity > 0),
		returned NUMERIC NOT NULL DEFAULT 0 CHECK (returned >= 0 AND returned <= quantity),
		source_line_id TEXT REFERENCES document_lines(id)
	);

	CREATE INDEX IF NOT EXISTS idx_document_lines_document
		ON document_lines(document_id, position);
	CREATE INDEX IF NOT EXISTS idx_document_lines_source
		ON document_lines(source_line_id) WHERE source_line_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS stock_balances (
		item_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		quantity NUMERIC NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (item_id, warehouse_id)
	);

	CREATE TABLE IF NOT EXISTS active_period (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		start_date DATE NOT NULL,
		end_date DATE NOT NULL
	);
	`)
	return err
}

// WithTx runs fn inside a READ COMMITTED transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(queries{q: tx, forUpdate: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ReadTx runs fn against one read-only REPEATABLE READ snapshot.
func (s *Store) ReadTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	return fn(queries{q: tx})
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		TRUNCATE stock_balances, document_lines, documents, active_period,
		         contacts, items, warehouses, item_groups CASCADE
	`)
	return err
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (r queries) Balance(ctx context.Context, key ledger.Key) (decimal.Decimal, error) {
	q, _, err := r.BalanceRow(ctx, key)
	return q, err
}

func (r queries) BalanceRow(ctx context.Context, key ledger.Key) (decimal.Decimal, bool, error) {
	sql := `
		SELECT quantity FROM stock_balances
		WHERE item_id = $1 AND warehouse_id = $2`
	if r.forUpdate {
		sql += ` FOR UPDATE`
	}
	var q decimal.Decimal
	err := r.q.QueryRow(ctx, sql, key.Item, key.Warehouse).Scan(&q)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("get balance %s: %w", key, err)
	}
	return q, true, nil
}

func (r queries) ApplyDelta(ctx context.Context, key ledger.Key, delta decimal.Decimal) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO stock_balances (item_id, warehouse_id, quantity, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (item_id, warehouse_id)
		DO UPDATE SET quantity = stock_balances.quantity + EXCLUDED.quantity, updated_at = now()`,
		key.Item, key.Warehouse, delta,
	)
	if err != nil {
		return fmt.Errorf("apply delta %s: %w", key, err)
	}
	return nil
}

func (r queries) Balances(ctx context.Context, filter ledger.BalanceFilter) ([]ledger.Balance, error) {
	rows, err := r.q.Query(ctx, `
		SELECT item_id, warehouse_id, quantity FROM stock_balances
		WHERE ($1 = '' OR item_id = $1) AND ($2 = '' OR warehouse_id = $2)
		ORDER BY item_id, warehouse_id`,
		string(filter.Item), string(filter.Warehouse),
	)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var out []ledger.Balance
	for rows.Next() {
		var b ledger.Balance
		if err := rows.Scan(&b.Item, &b.Warehouse, &b.Quantity); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

func (r queries) InsertDocument(ctx context.Context, doc ledger.Document) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO documents
		(id, kind, doc_date, reference, sub_type, contact_id, vehicle, reason, remarks, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		doc.ID, doc.Kind, doc.Date, doc.Reference, doc.SubType, nullable(string(doc.ContactID)),
		doc.Vehicle, doc.Reason, doc.Remarks, doc.CreatedBy, doc.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s %q: %w", doc.Kind, doc.Reference, ledger.ErrDuplicate)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return r.insertLines(ctx, doc)
}

func (r queries) ReplaceDocument(ctx context.Context, doc ledger.Document) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE documents SET
			doc_date = $2, reference = $3, sub_type = $4, contact_id = $5,
			vehicle = $6, reason = $7, remarks = $8
		WHERE id = $1`,
		doc.ID, doc.Date, doc.Reference, doc.SubType, nullable(string(doc.ContactID)),
		doc.Vehicle, doc.Reason, doc.Remarks,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s %q: %w", doc.Kind, doc.Reference, ledger.ErrDuplicate)
		}
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.NotFound("document", doc.ID)
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM document_lines WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("clear document lines: %w", err)
	}
	return r.insertLines(ctx, doc)
}

func (r queries) insertLines(ctx context.Context, doc ledger.Document) error {
	for i, l := range doc.Lines {
		_, err := r.q.Exec(ctx, `
			INSERT INTO document_lines
			(id, document_id, position, item_id, warehouse_id, to_warehouse_id, direction, quantity, returned, source_line_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			l.ID, doc.ID, i, l.Item, l.Warehouse, nullable(string(l.ToWarehouse)),
			l.Direction, l.Quantity, l.Returned, nullable(string(l.Source)),
		)
		if err != nil {
			return fmt.Errorf("insert line %d: %w", i+1, err)
		}
	}
	return nil
}

func (r queries) DeleteDocument(ctx context.Context, id ledger.DocumentID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.NotFound("document", id)
	}
	return nil
}

func (r queries) Document(ctx context.Context, id ledger.DocumentID) (ledger.Document, error) {
	docs, err := r.loadDocuments(ctx, "d.id = $1", id)
	if err != nil {
		return ledger.Document{}, err
	}
	if len(docs) == 0 {
		return ledger.Document{}, ledger.NotFound("document", id)
	}
	return docs[0], nil
}

func (r queries) Documents(ctx context.Context, filter ledger.DocumentFilter) ([]ledger.Document, error) {
	var from, to *time.Time
	if !filter.From.IsZero() {
		f := ledger.DateOf(filter.From)
		from = &f
	}
	if !filter.To.IsZero() {
		t := ledger.DateOf(filter.To)
		to = &t
	}
	return r.loadDocuments(ctx,
		"($1 = '' OR d.kind = $1) AND ($2::date IS NULL OR d.doc_date >= $2) AND ($3::date IS NULL OR d.doc_date <= $3)",
		string(filter.Kind), from, to,
	)
}

// loadDocuments reads headers then lines; a transaction's connection serves
// one result set at a time.
func (r queries) loadDocuments(ctx context.Context, where string, args ...any) ([]ledger.Document, error) {
	rows, err := r.q.Query(ctx, `
		SELECT d.id, d.kind, d.doc_date, d.reference, d.sub_type, d.contact_id,
		       d.vehicle, d.reason, d.remarks, d.created_by, d.created_at
		FROM documents d
		WHERE `+where+`
		ORDER BY d.doc_date, d.created_at, d.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	var docs []ledger.Document
	index := make(map[ledger.DocumentID]int)
	for rows.Next() {
		var d ledger.Document
		var contact *string
		if err := rows.Scan(&d.ID, &d.Kind, &d.Date, &d.Reference, &d.SubType, &contact,
			&d.Vehicle, &d.Reason, &d.Remarks, &d.CreatedBy, &d.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		d.Date = ledger.DateOf(d.Date)
		d.CreatedAt = d.CreatedAt.UTC()
		d.ContactID = ledger.ContactID(deref(contact))
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

	lrows, err := r.q.Query(ctx, `
		SELECT l.document_id, `+lineColumns+`
		FROM document_lines l
		JOIN documents d ON d.id = l.document_id
		WHERE `+where+`
		ORDER BY l.document_id, l.position`, args...)
	if err != nil {
		return nil, fmt.Errorf("query document lines: %w", err)
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

func (r queries) ReferenceTaken(ctx context.Context, kind ledger.Kind, reference string, except ledger.DocumentID) (bool, error) {
	var taken bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM documents WHERE kind = $1 AND reference = $2 AND id <> $3)`,
		kind, reference, except,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check reference: %w", err)
	}
	return taken, nil
}

// =============================================================================
// ISSUE LINES
// =============================================================================

const lineColumns = `l.id, l.item_id, l.warehouse_id, l.to_warehouse_id, l.direction,
		       l.quantity, l.returned, l.source_line_id`

func scanLine(rows pgx.Rows, extra ...any) (ledger.Line, error) {
	var l ledger.Line
	var to, source *string
	dest := append(extra, &l.ID, &l.Item, &l.Warehouse, &to, &l.Direction, &l.Quantity, &l.Returned, &source)
	if err := rows.Scan(dest...); err != nil {
		return ledger.Line{}, err
	}
	l.ToWarehouse = ledger.WarehouseID(deref(to))
	l.Source = ledger.LineID(deref(source))
	return l, nil
}

func (r queries) queryPending(ctx context.Context, where string, args ...any) ([]ledger.PendingLine, error) {
	rows, err := r.q.Query(ctx, `
		SELECT d.id, d.reference, d.contact_id, d.doc_date, `+lineColumns+`
		FROM document_lines l
		JOIN documents d ON d.id = l.document_id
		WHERE d.kind = 'delivery_out' AND `+where+`
		ORDER BY d.doc_date, d.reference, l.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query delivery lines: %w", err)
	}
	defer rows.Close()

	var out []ledger.PendingLine
	for rows.Next() {
		var p ledger.PendingLine
		var contact *string
		l, err := scanLine(rows, &p.Document, &p.Reference, &contact, &p.Date)
		if err != nil {
			return nil, err
		}
		p.Line = l
		p.Contact = ledger.ContactID(deref(contact))
		p.Date = ledger.DateOf(p.Date)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r queries) IssueLine(ctx context.Context, id ledger.LineID) (ledger.PendingLine, error) {
	lines, err := r.queryPending(ctx, "l.id = $1", id)
	if err != nil {
		return ledger.PendingLine{}, err
	}
	if len(lines) == 0 {
		return ledger.PendingLine{}, ledger.NotFound("delivery line", id)
	}
	return lines[0], nil
}

func (r queries) AdjustReturned(ctx context.Context, id ledger.LineID, delta decimal.Decimal) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE document_lines l SET returned = l.returned + $2
		FROM documents d
		WHERE l.id = $1 AND d.id = l.document_id AND d.kind = 'delivery_out'
		  AND l.returned + $2 >= 0 AND l.returned + $2 <= l.quantity`,
		id, delta,
	)
	if err != nil {
		return fmt.Errorf("adjust returned: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.IssueLine(ctx, id); err != nil {
		return err
	}
	return ledger.ErrReturnedOutOfRange
}

func (r queries) ReturnCount(ctx context.Context, document ledger.DocumentID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM document_lines ret
		JOIN document_lines o ON o.id = ret.source_line_id
		WHERE o.document_id = $1`, document,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count returns: %w", err)
	}
	return n, nil
}

func (r queries) PendingLines(ctx context.Context, contact ledger.ContactID) ([]ledger.PendingLine, error) {
	return r.queryPending(ctx,
		"($1 = '' OR d.contact_id = $1) AND l.returned < l.quantity",
		string(contact),
	)
}

// =============================================================================
// REGISTRY
// =============================================================================

func (r queries) SaveGroup(ctx context.Context, g ledger.Group) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO item_groups (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, g.ID, g.Name)
	return saveError(err, "group", g.Name, "", nil)
}

func (r queries) SaveItem(ctx context.Context, it ledger.Item) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO items (id, name, code, unit, group_id) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, code = EXCLUDED.code,
			unit = EXCLUDED.unit, group_id = EXCLUDED.group_id`,
		it.ID, it.Name, it.Code, it.Unit, nullable(string(it.Group)))
	return saveError(err, "item", it.Name, "group", it.Group)
}

func (r queries) SaveWarehouse(ctx context.Context, w ledger.Warehouse) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO warehouses (id, name, parent_id) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, parent_id = EXCLUDED.parent_id`,
		w.ID, w.Name, nullable(string(w.Parent)))
	return saveError(err, "warehouse", w.Name, "warehouse", w.Parent)
}

func (r queries) SaveContact(ctx context.Context, c ledger.Contact) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO contacts (id, name, role) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role`,
		c.ID, c.Name, c.Role)
	return saveError(err, "contact", c.Name, "", nil)
}

func (r queries) Item(ctx context.Context, id ledger.ItemID) (ledger.Item, error) {
	return r.item(ctx, "id", string(id))
}

func (r queries) ItemByName(ctx context.Context, name string) (ledger.Item, error) {
	return r.item(ctx, "name", name)
}

func (r queries) item(ctx context.Context, col, v string) (ledger.Item, error) {
	var it ledger.Item
	var group *string
	err := r.q.QueryRow(ctx,
		`SELECT id, name, code, unit, group_id FROM items WHERE `+col+` = $1`, v,
	).Scan(&it.ID, &it.Name, &it.Code, &it.Unit, &group)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Item{}, ledger.NotFound("item", v)
	}
	if err != nil {
		return ledger.Item{}, fmt.Errorf("get item: %w", err)
	}
	it.Group = ledger.GroupID(deref(group))
	return it, nil
}

func (r queries) Warehouse(ctx context.Context, id ledger.WarehouseID) (ledger.Warehouse, error) {
	return r.warehouse(ctx, "id", string(id))
}

func (r queries) WarehouseByName(ctx context.Context, name string) (ledger.Warehouse, error) {
	return r.warehouse(ctx, "name", name)
}

func (r queries) warehouse(ctx context.Context, col, v string) (ledger.Warehouse, error) {
	var w ledger.Warehouse
	var parent *string
	err := r.q.QueryRow(ctx,
		`SELECT id, name, parent_id FROM warehouses WHERE `+col+` = $1`, v,
	).Scan(&w.ID, &w.Name, &parent)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Warehouse{}, ledger.NotFound("warehouse", v)
	}
	if err != nil {
		return ledger.Warehouse{}, fmt.Errorf("get warehouse: %w", err)
	}
	w.Parent = ledger.WarehouseID(deref(parent))
	return w, nil
}

func (r queries) Contact(ctx context.Context, id ledger.ContactID) (ledger.Contact, error) {
	return r.contact(ctx, "id", string(id))
}

func (r queries) ContactByName(ctx context.Context, name string) (ledger.Contact, error) {
	return r.contact(ctx, "name", name)
}

func (r queries) contact(ctx context.Context, col, v string) (ledger.Contact, error) {
	var c ledger.Contact
	err := r.q.QueryRow(ctx,
		`SELECT id, name, role FROM contacts WHERE `+col+` = $1`, v,
	).Scan(&c.ID, &c.Name, &c.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Contact{}, ledger.NotFound("contact", v)
	}
	if err != nil {
		return ledger.Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func (r queries) Groups(ctx context.Context) ([]ledger.Group, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name FROM item_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Group, error) {
		var g ledger.Group
		err := row.Scan(&g.ID, &g.Name)
		return g, err
	})
}

func (r queries) Items(ctx context.Context) ([]ledger.Item, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, code, unit, group_id FROM items ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Item, error) {
		var it ledger.Item
		var group *string
		err := row.Scan(&it.ID, &it.Name, &it.Code, &it.Unit, &group)
		it.Group = ledger.GroupID(deref(group))
		return it, err
	})
}

func (r queries) Warehouses(ctx context.Context) ([]ledger.Warehouse, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, parent_id FROM warehouses ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list warehouses: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Warehouse, error) {
		var w ledger.Warehouse
		var parent *string
		err := row.Scan(&w.ID, &w.Name, &parent)
		w.Parent = ledger.WarehouseID(deref(parent))
		return w, err
	})
}

func (r queries) Contacts(ctx context.Context) ([]ledger.Contact, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, role FROM contacts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Contact, error) {
		var c ledger.Contact
		err := row.Scan(&c.ID, &c.Name, &c.Role)
		return c, err
	})
}

// =============================================================================
// PERIOD STORE
// =============================================================================

func (r queries) ActivePeriod(ctx context.Context) (ledger.Period, error) {
	var start, end time.Time
	err := r.q.QueryRow(ctx, `SELECT start_date, end_date FROM active_period WHERE id = 1`).Scan(&start, &end)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Period{}, ledger.ErrNoActivePeriod
	}
	if err != nil {
		return ledger.Period{}, fmt.Errorf("get active period: %w", err)
	}
	return ledger.NewPeriod(start, end)
}

func (r queries) SetActivePeriod(ctx context.Context, p ledger.Period) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO active_period (id, start_date, end_date) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date`,
		p.Start, p.End,
	)
	if err != nil {
		return fmt.Errorf("set active period: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isUniqueViolation reports a unique constraint failure (23505).
func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505" || strings.Contains(err.Error(), "23505")
}

func saveError(err error, what, name, ref string, refID any) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("%s %q: %w", what, name, ledger.ErrDuplicate)
	case pgCode(err) == "23503" && ref != "":
		return ledger.NotFound(ref, refID)
	}
	return fmt.Errorf("save %s: %w", what, err)
}
