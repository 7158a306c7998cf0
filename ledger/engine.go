/*
engine.go - Entry point for every stock mutation

PURPOSE:
  Engine is the only writer of balances. It runs the shared protocol for all
  six kinds: resolve counterparty, guard the period, validate, persist and
  apply signed deltas, all inside one atomic unit.

OPERATIONS:
  Validate(doc)        Dry run, nothing is written
  Create(doc)          Validate + commit + apply
  Revise(id, doc)      Snapshot, reverse, validate, save, reapply (revision.go)
  Retire(id)           Snapshot, reverse, delete (revision.go)

FLOW (Create):
  1. Normalize the submission (drop deleted lines, default sub-type)
  2. Acquire per-key locks (no-op unless a Locker is configured)
  3. WithTx:
     a. Fetch the active period once
     b. Resolve or create the counterparty
     c. Validate (all problems collected)
     d. Insert header + lines
     e. Apply deltas, record returns
  4. Release locks

SEE ALSO:
  - kinds.go: per-kind rules
  - validate.go: validation steps
  - revision.go: edit and delete
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Engine runs create/revise/retire against a TxStore.
type Engine struct {
	store      TxStore
	locker     Locker
	log        zerolog.Logger
	now        func() time.Time
	newID      func() string
	cumulative bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker sets the cross-process key locker.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides uuid generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithCumulativeCheck makes the sufficiency check net decreases of the same
// key across lines of one submission.
func WithCumulativeCheck(on bool) Option {
	return func(e *Engine) { e.cumulative = on }
}

// NewEngine creates an engine over store.
func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		locker: NopLocker{},
		log:    zerolog.Nop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying store, for reads and master-data writes.
func (e *Engine) Store() TxStore {
	return e.store
}

// =============================================================================
// VALIDATE / CREATE
// =============================================================================

// Validate checks a new submission without writing anything. A free-text
// counterparty that does not exist yet is accepted, as Create would add it.
func (e *Engine) Validate(ctx context.Context, doc Document) error {
	spec, err := SpecFor(doc.Kind)
	if err != nil {
		return err
	}
	e.prepare(spec, &doc)

	period, err := e.store.ActivePeriod(ctx)
	if err != nil {
		return err
	}
	if err := e.resolveContact(ctx, e.store, spec, &doc, false); err != nil {
		return err
	}
	v := e.validation(e.store, spec, period, doc.ID)
	return v.run(ctx, &doc)
}

// Create validates and commits a new document, then applies its deltas.
func (e *Engine) Create(ctx context.Context, doc Document) (Document, error) {
	spec, err := SpecFor(doc.Kind)
	if err != nil {
		return Document{}, err
	}
	e.prepare(spec, &doc)
	doc.ID = ""

	release, err := e.lock(ctx, spec, nil, doc)
	if err != nil {
		return Document{}, err
	}
	defer release()

	err = e.store.WithTx(ctx, func(st Store) error {
		period, err := st.ActivePeriod(ctx)
		if err != nil {
			return err
		}
		if err := e.resolveContact(ctx, st, spec, &doc, true); err != nil {
			return err
		}
		v := e.validation(st, spec, period, "")
		if err := v.run(ctx, &doc); err != nil {
			return err
		}

		doc.ID = DocumentID(e.newID())
		doc.CreatedAt = e.now().UTC()
		e.assignLineIDs(&doc, nil)

		if err := st.InsertDocument(ctx, doc); err != nil {
			return err
		}
		return applyDocument(ctx, st, spec, doc)
	})
	if err != nil {
		e.logRejected("create", doc, err)
		return Document{}, err
	}

	e.log.Info().
		Str("kind", string(doc.Kind)).
		Str("document", string(doc.ID)).
		Str("reference", doc.Reference).
		Int("lines", len(doc.Lines)).
		Msg("document created")
	return doc, nil
}

// =============================================================================
// SHARED STEPS
// =============================================================================

func (e *Engine) validation(st Store, spec KindSpec, period Period, self DocumentID) *validation {
	return &validation{st: st, spec: spec, period: period, self: self, cumulative: e.cumulative}
}

// prepare normalizes a submission and clears fields the kind does not carry.
func (e *Engine) prepare(spec KindSpec, doc *Document) {
	doc.normalize()
	if len(spec.SubTypes) == 0 {
		doc.SubType = ""
	} else if doc.SubType == "" {
		doc.SubType = spec.DefaultSubType()
	}
	if !spec.RequiresContact {
		doc.ContactID = ""
		doc.ContactName = ""
	}
	if spec.Kind != KindDeliveryOut {
		doc.Vehicle = ""
	}
	for i := range doc.Lines {
		l := &doc.Lines[i]
		l.Returned = decimal.Zero
		if !spec.HasDestination {
			l.ToWarehouse = ""
		}
		if !spec.ReturnsAgainstSource {
			l.Source = ""
		}
		if spec.Directions == nil {
			l.Direction = DirectionNone
		}
	}
}

// resolveContact turns a free-text counterparty into an id. With create set,
// an unknown name becomes a new contact whose role the kind infers.
func (e *Engine) resolveContact(ctx context.Context, st Store, spec KindSpec, doc *Document, create bool) error {
	if !spec.RequiresContact || doc.ContactID != "" || doc.ContactName == "" {
		return nil
	}
	c, err := st.ContactByName(ctx, doc.ContactName)
	if err == nil {
		doc.ContactID = c.ID
		return nil
	}
	if !IsNotFound(err) {
		return err
	}
	if !create {
		return nil
	}

	c = Contact{
		ID:   ContactID(e.newID()),
		Name: doc.ContactName,
		Role: spec.ContactRole(doc.SubType),
	}
	if err := st.SaveContact(ctx, c); err != nil {
		return err
	}
	doc.ContactID = c.ID
	e.log.Info().Str("contact", string(c.ID)).Str("name", c.Name).Str("role", string(c.Role)).Msg("contact created")
	return nil
}

// assignLineIDs keeps ids the caller echoed back from keep and mints the rest.
func (e *Engine) assignLineIDs(doc *Document, keep map[LineID]bool) {
	used := make(map[LineID]bool)
	for i := range doc.Lines {
		l := &doc.Lines[i]
		if l.ID != "" && keep[l.ID] && !used[l.ID] {
			used[l.ID] = true
			continue
		}
		l.ID = LineID(e.newID())
		used[l.ID] = true
	}
}

// lock acquires locks for every balance the documents touch.
func (e *Engine) lock(ctx context.Context, spec KindSpec, ids []DocumentID, docs ...Document) (func(), error) {
	var keys []Key
	for _, doc := range docs {
		if spec.ReturnsAgainstSource {
			doc = e.withSourceItems(ctx, doc)
		}
		keys = append(keys, spec.Keys(doc)...)
	}
	return e.locker.Acquire(ctx, lockKeys(ids, keys))
}

// withSourceItems fills DeliveryIn line items from their source lines where
// that can be read; validation reports anything that cannot.
func (e *Engine) withSourceItems(ctx context.Context, doc Document) Document {
	lines := make([]Line, len(doc.Lines))
	copy(lines, doc.Lines)
	for i := range lines {
		if lines[i].Source == "" {
			continue
		}
		if src, err := e.store.IssueLine(ctx, lines[i].Source); err == nil {
			lines[i].Item = src.Item
		}
	}
	doc.Lines = lines
	return doc
}

// applyDocument applies every line's signed deltas and records returns.
func applyDocument(ctx context.Context, st Store, spec KindSpec, doc Document) error {
	for i, l := range doc.Lines {
		if spec.ReturnsAgainstSource {
			if err := acceptReturn(ctx, st, i, l); err != nil {
				return err
			}
		}
		for _, d := range spec.Deltas(l) {
			if err := st.ApplyDelta(ctx, d.Key, d.Quantity); err != nil {
				return err
			}
		}
	}
	return nil
}

// reverseDocument applies the inverse of every committed line. A missing
// balance row means history and ledger diverged; it is never recreated.
func reverseDocument(ctx context.Context, st Store, spec KindSpec, doc Document) error {
	for _, l := range doc.Lines {
		for _, d := range spec.Deltas(l) {
			_, found, err := st.BalanceRow(ctx, d.Key)
			if err != nil {
				return err
			}
			if !found {
				return &IntegrityError{Document: doc.ID, Key: d.Key, Detail: "balance row missing"}
			}
			if err := st.ApplyDelta(ctx, d.Key, d.Quantity.Neg()); err != nil {
				return err
			}
		}
		if spec.ReturnsAgainstSource {
			if err := reverseReturn(ctx, st, doc.ID, l); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) logRejected(op string, doc Document, err error) {
	ev := e.log.Debug()
	switch {
	case errors.Is(err, ErrIntegrity):
		ev = e.log.Error()
	case !IsClientError(err) && !errors.Is(err, ErrLockedForEditing) && !IsNotFound(err):
		ev = e.log.Warn()
	}
	ev.Err(err).
		Str("op", op).
		Str("kind", string(doc.Kind)).
		Str("document", string(doc.ID)).
		Msg("document rejected")
}
