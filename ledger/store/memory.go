// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxStore. Every method takes the lock; WithTx holds
// it for the whole unit and restores a snapshot on error.
type Memory struct {
	mu sync.RWMutex
	s  *state
}

var _ ledger.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{s: newState()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.s.clone()
	if err := fn(m.s); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

// ReadTx runs fn with writers held off for its whole duration.
func (m *Memory) ReadTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.s)
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = newState()
	return nil
}

// =============================================================================
// LOCKED DELEGATES
// =============================================================================

func (m *Memory) Balance(ctx context.Context, key ledger.Key) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Balance(ctx, key)
}

func (m *Memory) BalanceRow(ctx context.Context, key ledger.Key) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.BalanceRow(ctx, key)
}

func (m *Memory) ApplyDelta(ctx context.Context, key ledger.Key, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ApplyDelta(ctx, key, delta)
}

func (m *Memory) Balances(ctx context.Context, filter ledger.BalanceFilter) ([]ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Balances(ctx, filter)
}

func (m *Memory) InsertDocument(ctx context.Context, doc ledger.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertDocument(ctx, doc)
}

func (m *Memory) ReplaceDocument(ctx context.Context, doc ledger.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ReplaceDocument(ctx, doc)
}

func (m *Memory) DeleteDocument(ctx context.Context, id ledger.DocumentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.DeleteDocument(ctx, id)
}

func (m *Memory) Document(ctx context.Context, id ledger.DocumentID) (ledger.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Document(ctx, id)
}

func (m *Memory) Documents(ctx context.Context, filter ledger.DocumentFilter) ([]ledger.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Documents(ctx, filter)
}

func (m *Memory) ReferenceTaken(ctx context.Context, kind ledger.Kind, reference string, except ledger.DocumentID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ReferenceTaken(ctx, kind, reference, except)
}

func (m *Memory) IssueLine(ctx context.Context, id ledger.LineID) (ledger.PendingLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.IssueLine(ctx, id)
}

func (m *Memory) AdjustReturned(ctx context.Context, id ledger.LineID, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.AdjustReturned(ctx, id, delta)
}

func (m *Memory) ReturnCount(ctx context.Context, document ledger.DocumentID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ReturnCount(ctx, document)
}

func (m *Memory) PendingLines(ctx context.Context, contact ledger.ContactID) ([]ledger.PendingLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.PendingLines(ctx, contact)
}

func (m *Memory) SaveGroup(ctx context.Context, g ledger.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveGroup(ctx, g)
}

func (m *Memory) SaveItem(ctx context.Context, it ledger.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveItem(ctx, it)
}

func (m *Memory) SaveWarehouse(ctx context.Context, w ledger.Warehouse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveWarehouse(ctx, w)
}

func (m *Memory) SaveContact(ctx context.Context, c ledger.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveContact(ctx, c)
}

func (m *Memory) Item(ctx context.Context, id ledger.ItemID) (ledger.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Item(ctx, id)
}

func (m *Memory) Warehouse(ctx context.Context, id ledger.WarehouseID) (ledger.Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Warehouse(ctx, id)
}

func (m *Memory) Contact(ctx context.Context, id ledger.ContactID) (ledger.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Contact(ctx, id)
}

func (m *Memory) ItemByName(ctx context.Context, name string) (ledger.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ItemByName(ctx, name)
}

func (m *Memory) WarehouseByName(ctx context.Context, name string) (ledger.Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.WarehouseByName(ctx, name)
}

func (m *Memory) ContactByName(ctx context.Context, name string) (ledger.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ContactByName(ctx, name)
}

func (m *Memory) Groups(ctx context.Context) ([]ledger.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Groups(ctx)
}

func (m *Memory) Items(ctx context.Context) ([]ledger.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Items(ctx)
}

func (m *Memory) Warehouses(ctx context.Context) ([]ledger.Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Warehouses(ctx)
}

func (m *Memory) Contacts(ctx context.Context) ([]ledger.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Contacts(ctx)
}

func (m *Memory) ActivePeriod(ctx context.Context) (ledger.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ActivePeriod(ctx)
}

func (m *Memory) SetActivePeriod(ctx context.Context, p ledger.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SetActivePeriod(ctx, p)
}

// =============================================================================
// STATE - unlocked data; also the view handed to WithTx callbacks
// =============================================================================

type state struct {
	balances   map[ledger.Key]decimal.Decimal
	documents  map[ledger.DocumentID]ledger.Document
	lineDoc    map[ledger.LineID]ledger.DocumentID
	groups     map[ledger.GroupID]ledger.Group
	items      map[ledger.ItemID]ledger.Item
	warehouses map[ledger.WarehouseID]ledger.Warehouse
	contacts   map[ledger.ContactID]ledger.Contact
	period     *ledger.Period
}

func newState() *state {
	return &state{
		balances:   make(map[ledger.Key]decimal.Decimal),
		documents:  make(map[ledger.DocumentID]ledger.Document),
		lineDoc:    make(map[ledger.LineID]ledger.DocumentID),
		groups:     make(map[ledger.GroupID]ledger.Group),
		items:      make(map[ledger.ItemID]ledger.Item),
		warehouses: make(map[ledger.WarehouseID]ledger.Warehouse),
		contacts:   make(map[ledger.ContactID]ledger.Contact),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.documents {
		c.documents[k] = copyDocument(v)
	}
	for k, v := range s.lineDoc {
		c.lineDoc[k] = v
	}
	for k, v := range s.groups {
		c.groups[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.warehouses {
		c.warehouses[k] = v
	}
	for k, v := range s.contacts {
		c.contacts[k] = v
	}
	if s.period != nil {
		p := *s.period
		c.period = &p
	}
	return c
}

func copyDocument(d ledger.Document) ledger.Document {
	d.Lines = append([]ledger.Line(nil), d.Lines...)
	return d
}

// Ledger

func (s *state) Balance(_ context.Context, key ledger.Key) (decimal.Decimal, error) {
	return s.balances[key], nil
}

func (s *state) BalanceRow(_ context.Context, key ledger.Key) (decimal.Decimal, bool, error) {
	q, ok := s.balances[key]
	return q, ok, nil
}

func (s *state) ApplyDelta(_ context.Context, key ledger.Key, delta decimal.Decimal) error {
	s.balances[key] = s.balances[key].Add(delta)
	return nil
}

func (s *state) Balances(_ context.Context, filter ledger.BalanceFilter) ([]ledger.Balance, error) {
	var out []ledger.Balance
	for k, q := range s.balances {
		if filter.Item != "" && k.Item != filter.Item {
			continue
		}
		if filter.Warehouse != "" && k.Warehouse != filter.Warehouse {
			continue
		}
		out = append(out, ledger.Balance{Key: k, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Item != out[j].Item {
			return out[i].Item < out[j].Item
		}
		return out[i].Warehouse < out[j].Warehouse
	})
	return out, nil
}

// Documents

func (s *state) InsertDocument(ctx context.Context, doc ledger.Document) error {
	if _, ok := s.documents[doc.ID]; ok {
		return fmt.Errorf("document %s: %w", doc.ID, ledger.ErrDuplicate)
	}
	if doc.Reference != "" {
		if taken, _ := s.ReferenceTaken(ctx, doc.Kind, doc.Reference, doc.ID); taken {
			return fmt.Errorf("reference %q: %w", doc.Reference, ledger.ErrDuplicate)
		}
	}
	s.putDocument(doc)
	return nil
}

func (s *state) ReplaceDocument(ctx context.Context, doc ledger.Document) error {
	if _, ok := s.documents[doc.ID]; !ok {
		return ledger.NotFound("document", doc.ID)
	}
	if doc.Reference != "" {
		if taken, _ := s.ReferenceTaken(ctx, doc.Kind, doc.Reference, doc.ID); taken {
			return fmt.Errorf("reference %q: %w", doc.Reference, ledger.ErrDuplicate)
		}
	}
	s.dropDocument(doc.ID)
	s.putDocument(doc)
	return nil
}

func (s *state) DeleteDocument(_ context.Context, id ledger.DocumentID) error {
	if _, ok := s.documents[id]; !ok {
		return ledger.NotFound("document", id)
	}
	s.dropDocument(id)
	return nil
}

func (s *state) putDocument(doc ledger.Document) {
	doc = copyDocument(doc)
	for i := range doc.Lines {
		doc.Lines[i].Deleted = false
		s.lineDoc[doc.Lines[i].ID] = doc.ID
	}
	doc.ContactName = ""
	s.documents[doc.ID] = doc
}

func (s *state) dropDocument(id ledger.DocumentID) {
	for _, l := range s.documents[id].Lines {
		delete(s.lineDoc, l.ID)
	}
	delete(s.documents, id)
}

func (s *state) Document(_ context.Context, id ledger.DocumentID) (ledger.Document, error) {
	doc, ok := s.documents[id]
	if !ok {
		return ledger.Document{}, ledger.NotFound("document", id)
	}
	return copyDocument(doc), nil
}

func (s *state) Documents(_ context.Context, filter ledger.DocumentFilter) ([]ledger.Document, error) {
	var out []ledger.Document
	for _, doc := range s.documents {
		if filter.Match(doc) {
			out = append(out, copyDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) ReferenceTaken(_ context.Context, kind ledger.Kind, reference string, except ledger.DocumentID) (bool, error) {
	for id, doc := range s.documents {
		if id != except && doc.Kind == kind && doc.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

// Issue lines

func (s *state) issueLine(id ledger.LineID) (ledger.Document, int, bool) {
	docID, ok := s.lineDoc[id]
	if !ok {
		return ledger.Document{}, 0, false
	}
	doc := s.documents[docID]
	if doc.Kind != ledger.KindDeliveryOut {
		return ledger.Document{}, 0, false
	}
	for i, l := range doc.Lines {
		if l.ID == id {
			return doc, i, true
		}
	}
	return ledger.Document{}, 0, false
}

func (s *state) IssueLine(_ context.Context, id ledger.LineID) (ledger.PendingLine, error) {
	doc, i, ok := s.issueLine(id)
	if !ok {
		return ledger.PendingLine{}, ledger.NotFound("delivery line", id)
	}
	return pendingLine(doc, doc.Lines[i]), nil
}

func (s *state) AdjustReturned(_ context.Context, id ledger.LineID, delta decimal.Decimal) error {
	doc, i, ok := s.issueLine(id)
	if !ok {
		return ledger.NotFound("delivery line", id)
	}
	l := &doc.Lines[i]
	next := l.Returned.Add(delta)
	if next.IsNegative() || next.GreaterThan(l.Quantity) {
		return ledger.ErrReturnedOutOfRange
	}
	l.Returned = next
	return nil
}

func (s *state) ReturnCount(_ context.Context, document ledger.DocumentID) (int, error) {
	doc, ok := s.documents[document]
	if !ok {
		return 0, nil
	}
	own := make(map[ledger.LineID]bool, len(doc.Lines))
	for _, l := range doc.Lines {
		own[l.ID] = true
	}
	n := 0
	for _, d := range s.documents {
		if d.Kind != ledger.KindDeliveryIn {
			continue
		}
		for _, l := range d.Lines {
			if own[l.Source] {
				n++
			}
		}
	}
	return n, nil
}

func (s *state) PendingLines(_ context.Context, contact ledger.ContactID) ([]ledger.PendingLine, error) {
	var out []ledger.PendingLine
	for _, doc := range s.documents {
		if doc.Kind != ledger.KindDeliveryOut || (contact != "" && doc.ContactID != contact) {
			continue
		}
		for _, l := range doc.Lines {
			if l.Pending().IsPositive() {
				out = append(out, pendingLine(doc, l))
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Reference != out[j].Reference {
			return out[i].Reference < out[j].Reference
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func pendingLine(doc ledger.Document, l ledger.Line) ledger.PendingLine {
	return ledger.PendingLine{
		Line:      l,
		Document:  doc.ID,
		Reference: doc.Reference,
		Contact:   doc.ContactID,
		Date:      doc.Date,
	}
}

// Registry

func (s *state) SaveGroup(_ context.Context, g ledger.Group) error {
	for id, other := range s.groups {
		if id != g.ID && other.Name == g.Name {
			return fmt.Errorf("group %q: %w", g.Name, ledger.ErrDuplicate)
		}
	}
	s.groups[g.ID] = g
	return nil
}

func (s *state) SaveItem(_ context.Context, it ledger.Item) error {
	if _, ok := s.groups[it.Group]; it.Group != "" && !ok {
		return ledger.NotFound("group", it.Group)
	}
	for id, other := range s.items {
		if id != it.ID && other.Name == it.Name {
			return fmt.Errorf("item %q: %w", it.Name, ledger.ErrDuplicate)
		}
	}
	s.items[it.ID] = it
	return nil
}

func (s *state) SaveWarehouse(_ context.Context, w ledger.Warehouse) error {
	if _, ok := s.warehouses[w.Parent]; w.Parent != "" && !ok {
		return ledger.NotFound("warehouse", w.Parent)
	}
	for id, other := range s.warehouses {
		if id != w.ID && other.Name == w.Name {
			return fmt.Errorf("warehouse %q: %w", w.Name, ledger.ErrDuplicate)
		}
	}
	s.warehouses[w.ID] = w
	return nil
}

func (s *state) SaveContact(_ context.Context, c ledger.Contact) error {
	for id, other := range s.contacts {
		if id != c.ID && other.Name == c.Name {
			return fmt.Errorf("contact %q: %w", c.Name, ledger.ErrDuplicate)
		}
	}
	s.contacts[c.ID] = c
	return nil
}

func (s *state) Item(_ context.Context, id ledger.ItemID) (ledger.Item, error) {
	it, ok := s.items[id]
	if !ok {
		return ledger.Item{}, ledger.NotFound("item", id)
	}
	return it, nil
}

func (s *state) Warehouse(_ context.Context, id ledger.WarehouseID) (ledger.Warehouse, error) {
	w, ok := s.warehouses[id]
	if !ok {
		return ledger.Warehouse{}, ledger.NotFound("warehouse", id)
	}
	return w, nil
}

func (s *state) Contact(_ context.Context, id ledger.ContactID) (ledger.Contact, error) {
	c, ok := s.contacts[id]
	if !ok {
		return ledger.Contact{}, ledger.NotFound("contact", id)
	}
	return c, nil
}

func (s *state) ItemByName(_ context.Context, name string) (ledger.Item, error) {
	for _, it := range s.items {
		if it.Name == name {
			return it, nil
		}
	}
	return ledger.Item{}, ledger.NotFound("item", name)
}

func (s *state) WarehouseByName(_ context.Context, name string) (ledger.Warehouse, error) {
	for _, w := range s.warehouses {
		if w.Name == name {
			return w, nil
		}
	}
	return ledger.Warehouse{}, ledger.NotFound("warehouse", name)
}

func (s *state) ContactByName(_ context.Context, name string) (ledger.Contact, error) {
	for _, c := range s.contacts {
		if c.Name == name {
			return c, nil
		}
	}
	return ledger.Contact{}, ledger.NotFound("contact", name)
}

func (s *state) Groups(_ context.Context) ([]ledger.Group, error) {
	out := make([]ledger.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *state) Items(_ context.Context) ([]ledger.Item, error) {
	out := make([]ledger.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *state) Warehouses(_ context.Context) ([]ledger.Warehouse, error) {
	out := make([]ledger.Warehouse, 0, len(s.warehouses))
	for _, w := range s.warehouses {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *state) Contacts(_ context.Context) ([]ledger.Contact, error) {
	out := make([]ledger.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Period

func (s *state) ActivePeriod(_ context.Context) (ledger.Period, error) {
	if s.period == nil {
		return ledger.Period{}, ledger.ErrNoActivePeriod
	}
	return *s.period, nil
}

func (s *state) SetActivePeriod(_ context.Context, p ledger.Period) error {
	s.period = &p
	return nil
}
