package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Memory
	engine *ledger.Engine
}

func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	require.NoError(t, st.SaveGroup(ctx, ledger.Group{ID: "hardware", Name: "Hardware"}))
	require.NoError(t, st.SaveItem(ctx, ledger.Item{ID: "bolt", Name: "Bolt M8", Unit: "pcs", Group: "hardware"}))
	require.NoError(t, st.SaveItem(ctx, ledger.Item{ID: "nut", Name: "Nut M8", Unit: "pcs", Group: "hardware"}))
	require.NoError(t, st.SaveWarehouse(ctx, ledger.Warehouse{ID: "main", Name: "Main"}))
	require.NoError(t, st.SaveWarehouse(ctx, ledger.Warehouse{ID: "yard", Name: "Yard", Parent: "main"}))
	require.NoError(t, st.SaveContact(ctx, ledger.Contact{ID: "acme", Name: "Acme Supplies", Role: ledger.RoleSupplier}))
	require.NoError(t, st.SetActivePeriod(ctx, year2025()))

	return &fixture{t: t, ctx: ctx, store: st, engine: ledger.NewEngine(st, opts...)}
}

func year2025() ledger.Period {
	return ledger.Period{Start: day(time.January, 1), End: day(time.December, 31)}
}

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func line(item ledger.ItemID, wh ledger.WarehouseID, q string) ledger.Line {
	return ledger.Line{Item: item, Warehouse: wh, Quantity: qty(q)}
}

func assertQty(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, qty(want).Equal(got), append([]any{"want %s, got %s", want, got}, msgAndArgs...)...)
}

func (f *fixture) balance(item ledger.ItemID, wh ledger.WarehouseID) decimal.Decimal {
	f.t.Helper()
	b, err := f.engine.Balance(f.ctx, item, wh)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) inward(ref string, lines ...ledger.Line) ledger.Document {
	f.t.Helper()
	doc, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:      ledger.KindInward,
		Date:      day(time.March, 1),
		Reference: ref,
		ContactID: "acme",
		Lines:     lines,
	})
	require.NoError(f.t, err)
	return doc
}

func (f *fixture) deliveryOut(ref, customer string, lines ...ledger.Line) ledger.Document {
	f.t.Helper()
	doc, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:        ledger.KindDeliveryOut,
		Date:        day(time.March, 5),
		Reference:   ref,
		ContactName: customer,
		Vehicle:     "TRK-7",
		Lines:       lines,
	})
	require.NoError(f.t, err)
	return doc
}

func returnDoc(lines ...ledger.Line) ledger.Document {
	return ledger.Document{Kind: ledger.KindDeliveryIn, Date: day(time.March, 9), Lines: lines}
}

func returnLine(source ledger.LineID, wh ledger.WarehouseID, q string) ledger.Line {
	return ledger.Line{Source: source, Warehouse: wh, Quantity: qty(q)}
}

func (f *fixture) documentCount(kind ledger.Kind) int {
	f.t.Helper()
	docs, err := f.engine.Documents(f.ctx, ledger.DocumentFilter{Kind: kind})
	require.NoError(f.t, err)
	return len(docs)
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_Inward_IncreasesBalance(t *testing.T) {
	// GIVEN: An empty ledger
	// WHEN: Receiving 10 bolts and 4 nuts into main
	// THEN: Both balances increase and the lines get ids

	f := newFixture(t)
	doc := f.inward("INV-1", line("bolt", "main", "10"), line("nut", "main", "4.5"))

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, ledger.SubTypePurchase, doc.SubType, "blank sub-type defaults")
	for _, l := range doc.Lines {
		assert.NotEmpty(t, l.ID)
	}
	assertQty(t, "10", f.balance("bolt", "main"))
	assertQty(t, "4.5", f.balance("nut", "main"))
}

func TestCreate_Outward_InsufficientStock_Rejected(t *testing.T) {
	// GIVEN: 5 bolts in main
	// WHEN: Issuing 8
	// THEN: InsufficientStock with available and required, nothing written

	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "5"))

	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:        ledger.KindOutward,
		Date:        day(time.March, 2),
		Reference:   "SO-1",
		ContactName: "Walk-in",
		Lines:       []ledger.Line{line("bolt", "main", "8")},
	})

	var short *ledger.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, ledger.ItemID("bolt"), short.Item)
	assertQty(t, "5", short.Available)
	assertQty(t, "8", short.Required)
	assert.True(t, ledger.IsClientError(err))

	assertQty(t, "5", f.balance("bolt", "main"))
	assert.Equal(t, 0, f.documentCount(ledger.KindOutward))

	_, err = f.store.ContactByName(f.ctx, "Walk-in")
	assert.True(t, ledger.IsNotFound(err), "rejected submission must not create the contact")
}

func TestCreate_CollectsAllProblems(t *testing.T) {
	// GIVEN: An inward with no reference, no contact, a zero quantity on an unknown item
	// WHEN: Creating it
	// THEN: Every problem is reported together

	f := newFixture(t)
	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:  ledger.KindInward,
		Date:  day(time.March, 1),
		Lines: []ledger.Line{line("ghost", "main", "0")},
	})

	var problems ledger.Problems
	require.ErrorAs(t, err, &problems)
	assert.Len(t, problems, 4)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	fields := map[string]bool{}
	for _, p := range problems {
		var fe *ledger.FieldError
		if errors.As(p, &fe) {
			fields[fe.Field] = true
		}
	}
	assert.True(t, fields["reference"])
	assert.True(t, fields["contact"])
	assert.True(t, fields["quantity"])
	assert.True(t, fields["item"])
}

func TestCreate_DateOutsidePeriod_Rejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:      ledger.KindInward,
		Date:      time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
		Reference: "INV-OLD",
		ContactID: "acme",
		Lines:     []ledger.Line{line("bolt", "main", "1")},
	})

	var oop *ledger.OutOfPeriodError
	require.ErrorAs(t, err, &oop)
	assert.ErrorIs(t, err, ledger.ErrOutOfPeriod)
	assert.True(t, oop.Start.Equal(day(time.January, 1)))
	assertQty(t, "0", f.balance("bolt", "main"))
}

func TestCreate_PeriodBoundsInclusive(t *testing.T) {
	f := newFixture(t)
	for i, d := range []time.Time{day(time.January, 1), day(time.December, 31)} {
		_, err := f.engine.Create(f.ctx, ledger.Document{
			Kind:      ledger.KindInward,
			Date:      d,
			Reference: "INV-EDGE-" + string(rune('A'+i)),
			ContactID: "acme",
			Lines:     []ledger.Line{line("bolt", "main", "1")},
		})
		require.NoError(t, err)
	}
	assertQty(t, "2", f.balance("bolt", "main"))
}

func TestCreate_NoActivePeriod_Rejected(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.SaveItem(ctx, ledger.Item{ID: "bolt", Name: "Bolt"}))
	require.NoError(t, st.SaveWarehouse(ctx, ledger.Warehouse{ID: "main", Name: "Main"}))
	engine := ledger.NewEngine(st)

	_, err := engine.Create(ctx, ledger.Document{
		Kind:   ledger.KindAdjustment,
		Date:   day(time.March, 1),
		Reason: "count",
		Lines:  []ledger.Line{{Item: "bolt", Warehouse: "main", Direction: ledger.DirectionAdd, Quantity: qty("1")}},
	})
	assert.ErrorIs(t, err, ledger.ErrNoActivePeriod)
}

func TestCreate_AllLinesDeleted_NoItems(t *testing.T) {
	// GIVEN: A submission whose only line was removed by the caller
	// WHEN: Creating it
	// THEN: Rejected with "no items" before any mutation

	f := newFixture(t)
	removed := line("bolt", "main", "3")
	removed.Deleted = true

	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:      ledger.KindInward,
		Date:      day(time.March, 1),
		Reference: "INV-EMPTY",
		ContactID: "acme",
		Lines:     []ledger.Line{removed},
	})
	assert.ErrorIs(t, err, ledger.ErrNoItems)
	assertQty(t, "0", f.balance("bolt", "main"))
	assert.Equal(t, 0, f.documentCount(ledger.KindInward))
}

func TestCreate_DeletedLinesIgnored(t *testing.T) {
	f := newFixture(t)
	removed := line("nut", "main", "100")
	removed.Deleted = true

	doc := f.inward("INV-1", line("bolt", "main", "3"), removed)
	assert.Len(t, doc.Lines, 1)
	assertQty(t, "0", f.balance("nut", "main"))
}

func TestCreate_DuplicateReference_PerKind(t *testing.T) {
	// GIVEN: Inward INV-1 exists
	// WHEN: Another inward reuses INV-1, and an outward uses INV-1
	// THEN: The inward is rejected, the outward is accepted

	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "10"))

	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:      ledger.KindInward,
		Date:      day(time.March, 2),
		Reference: "INV-1",
		ContactID: "acme",
		Lines:     []ledger.Line{line("bolt", "main", "1")},
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.engine.Create(f.ctx, ledger.Document{
		Kind:        ledger.KindOutward,
		Date:        day(time.March, 2),
		Reference:   "INV-1",
		ContactName: "Walk-in",
		Lines:       []ledger.Line{line("bolt", "main", "1")},
	})
	assert.NoError(t, err)
	assertQty(t, "9", f.balance("bolt", "main"))
}

func TestCreate_FreeTextContact_CreatedWithInferredRole(t *testing.T) {
	// GIVEN: A sales return from a counterparty nobody has seen before
	// WHEN: Committing the inward
	// THEN: A Customer contact is created and linked

	f := newFixture(t)
	doc, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:        ledger.KindInward,
		Date:        day(time.March, 1),
		Reference:   "SR-1",
		SubType:     ledger.SubTypeSalesReturn,
		ContactName: "  Beta Retail ",
		Lines:       []ledger.Line{line("bolt", "main", "2")},
	})
	require.NoError(t, err)

	c, err := f.store.ContactByName(f.ctx, "Beta Retail")
	require.NoError(t, err)
	assert.Equal(t, ledger.RoleCustomer, c.Role)
	assert.Equal(t, c.ID, doc.ContactID)

	// Same name again resolves to the existing contact
	doc2, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:        ledger.KindInward,
		Date:        day(time.March, 2),
		Reference:   "SR-2",
		SubType:     ledger.SubTypeSalesReturn,
		ContactName: "Beta Retail",
		Lines:       []ledger.Line{line("bolt", "main", "1")},
	})
	require.NoError(t, err)
	assert.Equal(t, c.ID, doc2.ContactID)

	contacts, err := f.store.Contacts(f.ctx)
	require.NoError(t, err)
	assert.Len(t, contacts, 2)
}

func TestCreate_UnknownSubType_Rejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:      ledger.KindInward,
		Date:      day(time.March, 1),
		Reference: "INV-X",
		SubType:   "Gift",
		ContactID: "acme",
		Lines:     []ledger.Line{line("bolt", "main", "1")},
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestCreate_UnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Create(f.ctx, ledger.Document{Kind: "barter"})
	assert.ErrorIs(t, err, ledger.ErrUnknownKind)
}

func TestCreate_PerLineCheck_DoesNotNetWithinSubmission(t *testing.T) {
	// GIVEN: 5 bolts in main
	// WHEN: One outward issues 4 and 4 on separate lines
	// THEN: Each line passes against the balance as read; balance goes to -3

	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "5"))

	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:        ledger.KindOutward,
		Date:        day(time.March, 2),
		Reference:   "SO-1",
		ContactName: "Walk-in",
		Lines:       []ledger.Line{line("bolt", "main", "4"), line("bolt", "main", "4")},
	})
	require.NoError(t, err)
	assertQty(t, "-3", f.balance("bolt", "main"))
}

func TestCreate_CumulativeCheck_NetsWithinSubmission(t *testing.T) {
	f := newFixture(t, ledger.WithCumulativeCheck(true))
	f.inward("INV-1", line("bolt", "main", "5"))

	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:        ledger.KindOutward,
		Date:        day(time.March, 2),
		Reference:   "SO-1",
		ContactName: "Walk-in",
		Lines:       []ledger.Line{line("bolt", "main", "4"), line("bolt", "main", "4")},
	})

	var short *ledger.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 1, short.Line)
	assertQty(t, "8", short.Required)
	assertQty(t, "5", f.balance("bolt", "main"))
}

func TestValidate_WritesNothing(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Validate(f.ctx, ledger.Document{
		Kind:        ledger.KindInward,
		Date:        day(time.March, 1),
		Reference:   "INV-DRY",
		ContactName: "Brand New Supplier",
		Lines:       []ledger.Line{line("bolt", "main", "7")},
	})
	require.NoError(t, err)

	assertQty(t, "0", f.balance("bolt", "main"))
	assert.Equal(t, 0, f.documentCount(ledger.KindInward))
	_, err = f.store.ContactByName(f.ctx, "Brand New Supplier")
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// TRANSFER / PRODUCTION / ADJUSTMENT
// =============================================================================

func TestTransfer_MovesStock(t *testing.T) {
	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "10"))

	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:      ledger.KindTransfer,
		Date:      day(time.March, 3),
		Reference: "TR-1",
		Lines:     []ledger.Line{{Item: "bolt", Warehouse: "main", ToWarehouse: "yard", Quantity: qty("4")}},
	})
	require.NoError(t, err)
	assertQty(t, "6", f.balance("bolt", "main"))
	assertQty(t, "4", f.balance("bolt", "yard"))
}

func TestTransfer_SameWarehouse_Rejected(t *testing.T) {
	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "10"))

	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:      ledger.KindTransfer,
		Date:      day(time.March, 3),
		Reference: "TR-1",
		Lines:     []ledger.Line{{Item: "bolt", Warehouse: "main", ToWarehouse: "main", Quantity: qty("4")}},
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assertQty(t, "10", f.balance("bolt", "main"))
}

func TestProduction_ConsumesAndProduces(t *testing.T) {
	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "10"))

	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:      ledger.KindProduction,
		Date:      day(time.March, 4),
		Reference: "PR-1",
		Lines: []ledger.Line{
			{Item: "bolt", Warehouse: "main", Direction: ledger.DirectionConsumed, Quantity: qty("3")},
			{Item: "nut", Warehouse: "main", Direction: ledger.DirectionProduced, Quantity: qty("1")},
		},
	})
	require.NoError(t, err)
	assertQty(t, "7", f.balance("bolt", "main"))
	assertQty(t, "1", f.balance("nut", "main"))
}

func TestProduction_MissingDirection_Rejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:      ledger.KindProduction,
		Date:      day(time.March, 4),
		Reference: "PR-1",
		Lines:     []ledger.Line{line("nut", "main", "1")},
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestAdjustment_SubFloorChecked_ReasonRequired(t *testing.T) {
	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "2"))

	// GIVEN: no reason and a SUB larger than stock
	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind: ledger.KindAdjustment,
		Date: day(time.March, 6),
		Lines: []ledger.Line{
			{Item: "bolt", Warehouse: "main", Direction: ledger.DirectionSub, Quantity: qty("3")},
		},
	})
	var problems ledger.Problems
	require.ErrorAs(t, err, &problems)
	assert.Len(t, problems, 2)
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	_, err = f.engine.Create(f.ctx, ledger.Document{
		Kind:   ledger.KindAdjustment,
		Date:   day(time.March, 6),
		Reason: "stock count",
		Lines: []ledger.Line{
			{Item: "bolt", Warehouse: "main", Direction: ledger.DirectionSub, Quantity: qty("2")},
			{Item: "nut", Warehouse: "yard", Direction: ledger.DirectionAdd, Quantity: qty("5")},
		},
	})
	require.NoError(t, err)
	assertQty(t, "0", f.balance("bolt", "main"))
	assertQty(t, "5", f.balance("nut", "yard"))
}

func TestAdjustment_OpeningStock_AuditsClean(t *testing.T) {
	// GIVEN: Opening quantities entered as an ADD adjustment
	// WHEN: Auditing, then correcting the opening figure
	// THEN: Balances follow the adjustment and never drift from their lines

	f := newFixture(t)
	opening, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:   ledger.KindAdjustment,
		Date:   day(time.January, 1),
		Reason: "opening stock",
		Lines: []ledger.Line{
			{Item: "bolt", Warehouse: "main", Direction: ledger.DirectionAdd, Quantity: qty("120")},
			{Item: "nut", Warehouse: "yard", Direction: ledger.DirectionAdd, Quantity: qty("80")},
		},
	})
	require.NoError(t, err)
	assertQty(t, "120", f.balance("bolt", "main"))

	next := opening
	next.Lines = []ledger.Line{opening.Lines[0], opening.Lines[1]}
	next.Lines[0].Quantity = qty("115")
	_, err = f.engine.Revise(f.ctx, opening.ID, next)
	require.NoError(t, err)
	assertQty(t, "115", f.balance("bolt", "main"))
	assertQty(t, "80", f.balance("nut", "yard"))

	report, err := ledger.NewAuditor(f.store).Run(f.ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

// =============================================================================
// REVISE / RETIRE
// =============================================================================

func TestRevise_ReversesBeforeValidating(t *testing.T) {
	// GIVEN: 10 bolts received, 8 issued (balance 2)
	// WHEN: Revising the issue to 10
	// THEN: Accepted, because the old 8 is reversed before the check

	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "10"))
	out, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:        ledger.KindOutward,
		Date:        day(time.March, 2),
		Reference:   "SO-1",
		ContactName: "Walk-in",
		Lines:       []ledger.Line{line("bolt", "main", "8")},
	})
	require.NoError(t, err)
	assertQty(t, "2", f.balance("bolt", "main"))

	next := out
	next.Lines = []ledger.Line{out.Lines[0]}
	next.Lines[0].Quantity = qty("10")
	rev, err := f.engine.Revise(f.ctx, out.ID, next)
	require.NoError(t, err)
	assert.True(t, rev.Changed)
	assert.Equal(t, out.Lines[0].ID, rev.Document.Lines[0].ID, "echoed line id is kept")
	assertQty(t, "0", f.balance("bolt", "main"))

	// WHEN: Revising to 11
	// THEN: Rejected and the previous state (10 issued) is intact
	next.Lines[0].Quantity = qty("11")
	_, err = f.engine.Revise(f.ctx, out.ID, next)
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
	assertQty(t, "0", f.balance("bolt", "main"))

	stored, err := f.engine.Document(f.ctx, out.ID)
	require.NoError(t, err)
	assertQty(t, "10", stored.Lines[0].Quantity)
}

func TestRevise_NoChange_IsNoop(t *testing.T) {
	f := newFixture(t)
	doc := f.inward("INV-1", line("bolt", "main", "10"))

	stored, err := f.engine.Document(f.ctx, doc.ID)
	require.NoError(t, err)

	rev, err := f.engine.Revise(f.ctx, doc.ID, stored)
	require.NoError(t, err)
	assert.False(t, rev.Changed)
	assertQty(t, "10", f.balance("bolt", "main"))
}

func TestRevise_RemarksOnly_RoundTripKeepsBalances(t *testing.T) {
	// GIVEN: A two-line transfer that empties nut from the yard
	// WHEN: Revising only its remarks
	// THEN: The edit is a full round trip and every touched balance is unchanged

	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "10"), line("nut", "yard", "3"))
	tr, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:      ledger.KindTransfer,
		Date:      day(time.March, 3),
		Reference: "TR-1",
		Lines: []ledger.Line{
			{Item: "bolt", Warehouse: "main", ToWarehouse: "yard", Quantity: qty("4")},
			{Item: "nut", Warehouse: "yard", ToWarehouse: "main", Quantity: qty("3")},
		},
	})
	require.NoError(t, err)

	next := tr
	next.Remarks = "checked by night shift"
	rev, err := f.engine.Revise(f.ctx, tr.ID, next)
	require.NoError(t, err, "the old lines are reversed before the yard is checked")
	assert.True(t, rev.Changed)
	assert.Equal(t, tr.Lines[0].ID, rev.Document.Lines[0].ID)

	assertQty(t, "6", f.balance("bolt", "main"))
	assertQty(t, "4", f.balance("bolt", "yard"))
	assertQty(t, "3", f.balance("nut", "main"))
	assertQty(t, "0", f.balance("nut", "yard"))

	stored, err := f.engine.Document(f.ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "checked by night shift", stored.Remarks)
}

func TestRevise_MoveLineToOtherWarehouse(t *testing.T) {
	f := newFixture(t)
	doc := f.inward("INV-1", line("bolt", "main", "10"))

	next := doc
	next.Lines = []ledger.Line{line("bolt", "yard", "10")}
	_, err := f.engine.Revise(f.ctx, doc.ID, next)
	require.NoError(t, err)

	assertQty(t, "0", f.balance("bolt", "main"))
	assertQty(t, "10", f.balance("bolt", "yard"))
}

func TestRevise_ChangeKind_Rejected(t *testing.T) {
	f := newFixture(t)
	doc := f.inward("INV-1", line("bolt", "main", "10"))

	next := doc
	next.Kind = ledger.KindOutward
	_, err := f.engine.Revise(f.ctx, doc.ID, next)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestRevise_Unknown_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Revise(f.ctx, "missing", ledger.Document{})
	assert.True(t, ledger.IsNotFound(err))
}

func TestRevise_ReferenceUniqueExcludingSelf(t *testing.T) {
	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "1"))
	doc := f.inward("INV-2", line("bolt", "main", "1"))

	next := doc
	next.Remarks = "recounted"
	_, err := f.engine.Revise(f.ctx, doc.ID, next)
	require.NoError(t, err, "keeping its own reference is fine")

	next.Reference = "INV-1"
	_, err = f.engine.Revise(f.ctx, doc.ID, next)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestRetire_IsInverseOfCreate(t *testing.T) {
	// GIVEN: A known ledger state
	// WHEN: Committing then retiring a transfer
	// THEN: Every touched balance returns to its pre-commit value

	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "10"), line("nut", "yard", "3"))

	tr, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:      ledger.KindTransfer,
		Date:      day(time.March, 3),
		Reference: "TR-1",
		Lines: []ledger.Line{
			{Item: "bolt", Warehouse: "main", ToWarehouse: "yard", Quantity: qty("4")},
			{Item: "nut", Warehouse: "yard", ToWarehouse: "main", Quantity: qty("3")},
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.engine.Retire(f.ctx, tr.ID))
	assertQty(t, "10", f.balance("bolt", "main"))
	assertQty(t, "0", f.balance("bolt", "yard"))
	assertQty(t, "3", f.balance("nut", "yard"))
	assertQty(t, "0", f.balance("nut", "main"))

	_, err = f.engine.Document(f.ctx, tr.ID)
	assert.True(t, ledger.IsNotFound(err))
}

func TestRetire_NoFloorCheck(t *testing.T) {
	f := newFixture(t)
	in := f.inward("INV-1", line("bolt", "main", "10"))
	_, err := f.engine.Create(f.ctx, ledger.Document{
		Kind:        ledger.KindOutward,
		Date:        day(time.March, 2),
		Reference:   "SO-1",
		ContactName: "Walk-in",
		Lines:       []ledger.Line{line("bolt", "main", "8")},
	})
	require.NoError(t, err)

	require.NoError(t, f.engine.Retire(f.ctx, in.ID))
	assertQty(t, "-8", f.balance("bolt", "main"))
}

// =============================================================================
// DELIVERY OUT / IN
// =============================================================================

func TestDelivery_PartialReturns(t *testing.T) {
	// GIVEN: 10 bolts, 6 loaned out to a new customer
	// WHEN: 4 come back, then a return of 3 is attempted
	// THEN: Pending drops to 2; the 3 is rejected

	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "10"))
	out := f.deliveryOut("DO-1", "Gamma Builders", line("bolt", "main", "6"))
	assertQty(t, "4", f.balance("bolt", "main"))

	pending, err := f.engine.PendingLines(f.ctx, out.ContactID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assertQty(t, "6", pending[0].Pending())

	src := out.Lines[0].ID
	in, err := f.engine.Create(f.ctx, returnDoc(returnLine(src, "yard", "4")))
	require.NoError(t, err)
	assert.Equal(t, ledger.ItemID("bolt"), in.Lines[0].Item, "item comes from the source line")
	assertQty(t, "4", f.balance("bolt", "yard"))

	issue, err := f.store.IssueLine(f.ctx, src)
	require.NoError(t, err)
	assertQty(t, "4", issue.Returned)

	_, err = f.engine.Create(f.ctx, returnDoc(returnLine(src, "main", "3")))
	var exceeded *ledger.PendingExceededError
	require.ErrorAs(t, err, &exceeded)
	assertQty(t, "2", exceeded.Pending)
	assertQty(t, "4", f.balance("bolt", "main"))
}

func TestDelivery_ReturnsToSameSourceSummed(t *testing.T) {
	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "10"))
	out := f.deliveryOut("DO-1", "Gamma Builders", line("bolt", "main", "5"))
	src := out.Lines[0].ID

	_, err := f.engine.Create(f.ctx, returnDoc(returnLine(src, "main", "3"), returnLine(src, "main", "3")))
	assert.ErrorIs(t, err, ledger.ErrPendingExceeded)

	issue, err := f.store.IssueLine(f.ctx, src)
	require.NoError(t, err)
	assertQty(t, "0", issue.Returned)
}

func TestDelivery_OutLockedOnceReturned(t *testing.T) {
	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "10"))
	out := f.deliveryOut("DO-1", "Gamma Builders", line("bolt", "main", "6"))
	in, err := f.engine.Create(f.ctx, returnDoc(returnLine(out.Lines[0].ID, "main", "1")))
	require.NoError(t, err)

	next := out
	next.Remarks = "changed"
	_, err = f.engine.Revise(f.ctx, out.ID, next)
	var locked *ledger.LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, 1, locked.Returns)

	assert.ErrorIs(t, f.engine.Retire(f.ctx, out.ID), ledger.ErrLockedForEditing)

	// Retiring the return unlocks the delivery and restores pending
	require.NoError(t, f.engine.Retire(f.ctx, in.ID))
	issue, err := f.store.IssueLine(f.ctx, out.Lines[0].ID)
	require.NoError(t, err)
	assertQty(t, "0", issue.Returned)

	require.NoError(t, f.engine.Retire(f.ctx, out.ID))
	assertQty(t, "10", f.balance("bolt", "main"))
}

func TestDelivery_ReviseReturnReversesOldSourceFirst(t *testing.T) {
	// GIVEN: 6 out, 6 returned
	// WHEN: Revising the return to 5
	// THEN: Accepted even though pending was 0 before the edit

	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "10"))
	out := f.deliveryOut("DO-1", "Gamma Builders", line("bolt", "main", "6"))
	src := out.Lines[0].ID

	in, err := f.engine.Create(f.ctx, returnDoc(returnLine(src, "main", "6")))
	require.NoError(t, err)

	next := in
	next.Lines = []ledger.Line{returnLine(src, "main", "5")}
	rev, err := f.engine.Revise(f.ctx, in.ID, next)
	require.NoError(t, err)
	assert.True(t, rev.Changed)

	issue, err := f.store.IssueLine(f.ctx, src)
	require.NoError(t, err)
	assertQty(t, "5", issue.Returned)
	assertQty(t, "9", f.balance("bolt", "main"))
}

func TestDelivery_UnknownSource_Rejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Create(f.ctx, returnDoc(returnLine("nope", "main", "1")))
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// PERIOD ADMIN
// =============================================================================

func TestSetActivePeriod(t *testing.T) {
	f := newFixture(t)

	err := f.engine.SetActivePeriod(f.ctx, ledger.Period{Start: day(time.June, 1), End: day(time.May, 1)})
	assert.ErrorIs(t, err, ledger.ErrInvalidPeriod)

	require.NoError(t, f.engine.SetActivePeriod(f.ctx, ledger.Period{Start: day(time.June, 1), End: day(time.June, 30)}))
	p, err := f.engine.ActivePeriod(f.ctx)
	require.NoError(t, err)
	assert.True(t, p.Contains(day(time.June, 15)))

	_, err = f.engine.Create(f.ctx, ledger.Document{
		Kind:      ledger.KindInward,
		Date:      day(time.March, 1),
		Reference: "INV-1",
		ContactID: "acme",
		Lines:     []ledger.Line{line("bolt", "main", "1")},
	})
	assert.ErrorIs(t, err, ledger.ErrOutOfPeriod)
}

func TestStockReport(t *testing.T) {
	f := newFixture(t)
	f.inward("INV-1", line("bolt", "main", "10"), line("bolt", "yard", "2"), line("nut", "main", "1"))
	f.deliveryOut("DO-1", "Gamma Builders", line("bolt", "main", "3"))

	rows, err := f.engine.StockReport(f.ctx, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, ledger.ItemID("bolt"), rows[0].Item)
	assertQty(t, "9", rows[0].Total)
	assertQty(t, "7", rows[0].Warehouses["main"])
	assertQty(t, "3", rows[0].Pending)

	rows, err = f.engine.StockReport(f.ctx, "yard")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assertQty(t, "2", rows[0].Total)
	assert.True(t, rows[0].Pending.IsZero())
}
