package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VALIDATION - shared by every kind, parameterized by KindSpec
// =============================================================================

type validation struct {
	st     Store
	spec   KindSpec
	period Period

	// self is excluded from the reference uniqueness check (revisions).
	self DocumentID

	// cumulative nets decreases of the same key across lines of one submission.
	// Off by default: each line is checked against the balance as read.
	cumulative bool

	problems Problems
}

func (v *validation) add(err error) {
	v.problems = append(v.problems, err)
}

func (v *validation) field(line int, field, format string, args ...any) {
	v.add(&FieldError{Field: field, Line: line, Message: fmt.Sprintf(format, args...)})
}

// run checks doc and returns Problems, or a store error that aborts the unit.
// DeliveryIn lines get their Item resolved from the source line.
func (v *validation) run(ctx context.Context, doc *Document) error {
	if err := v.header(ctx, doc); err != nil {
		return err
	}

	if len(doc.Lines) == 0 {
		v.add(&FieldError{Field: "lines", Line: HeaderField, Message: "no items", Cause: ErrNoItems})
		return v.problems.Err()
	}

	usable := make([]bool, len(doc.Lines))
	for i := range doc.Lines {
		ok, err := v.line(ctx, i, &doc.Lines[i])
		if err != nil {
			return err
		}
		usable[i] = ok
	}

	if v.spec.ReturnsAgainstSource {
		if err := v.pending(ctx, doc.Lines, usable); err != nil {
			return err
		}
	}
	if err := v.stock(ctx, doc.Lines, usable); err != nil {
		return err
	}
	return v.problems.Err()
}

func (v *validation) header(ctx context.Context, doc *Document) error {
	if doc.Date.IsZero() {
		v.field(HeaderField, "date", "is required")
	} else if err := AssertInPeriod(doc.Date, v.period); err != nil {
		v.add(err)
	}

	if v.spec.RequiresReference {
		if doc.Reference == "" {
			v.field(HeaderField, "reference", "is required")
		} else {
			taken, err := v.st.ReferenceTaken(ctx, v.spec.Kind, doc.Reference, v.self)
			if err != nil {
				return err
			}
			if taken {
				v.field(HeaderField, "reference", "%q already exists", doc.Reference)
			}
		}
	}

	if len(v.spec.SubTypes) > 0 && !v.spec.allowsSubType(doc.SubType) {
		v.field(HeaderField, "sub_type", "must be one of %s", strings.Join(v.spec.SubTypes, ", "))
	}

	if v.spec.RequiresContact {
		switch {
		case doc.ContactID == "" && doc.ContactName == "":
			v.field(HeaderField, "contact", "is required")
		case doc.ContactID != "":
			if _, err := v.st.Contact(ctx, doc.ContactID); err != nil {
				if !IsNotFound(err) {
					return err
				}
				v.field(HeaderField, "contact", "unknown contact %s", doc.ContactID)
			}
		}
	}

	if v.spec.RequiresReason && doc.Reason == "" {
		v.field(HeaderField, "reason", "is required")
	}
	return nil
}

// line checks shape and references. It reports whether the line can take
// part in stock and pending checks.
func (v *validation) line(ctx context.Context, i int, l *Line) (bool, error) {
	ok := true

	if !l.Quantity.IsPositive() {
		v.field(i, "quantity", "must be greater than zero")
		ok = false
	}

	if v.spec.ReturnsAgainstSource {
		if l.Source == "" {
			v.field(i, "source", "is required")
			ok = false
		} else {
			src, err := v.st.IssueLine(ctx, l.Source)
			switch {
			case IsNotFound(err):
				v.field(i, "source", "unknown delivery line %s", l.Source)
				ok = false
			case err != nil:
				return false, err
			default:
				l.Item = src.Item
			}
		}
	} else {
		found, err := v.itemExists(ctx, l.Item)
		if err != nil {
			return false, err
		}
		if !found {
			v.field(i, "item", "unknown item %q", l.Item)
			ok = false
		}
	}

	found, err := v.warehouseExists(ctx, l.Warehouse)
	if err != nil {
		return false, err
	}
	if !found {
		v.field(i, "warehouse", "unknown warehouse %q", l.Warehouse)
		ok = false
	}

	if v.spec.HasDestination {
		found, err := v.warehouseExists(ctx, l.ToWarehouse)
		if err != nil {
			return false, err
		}
		switch {
		case !found:
			v.field(i, "to_warehouse", "unknown warehouse %q", l.ToWarehouse)
			ok = false
		case l.ToWarehouse == l.Warehouse:
			v.field(i, "to_warehouse", "must differ from the source warehouse")
			ok = false
		}
	}

	if v.spec.Directions != nil && !v.spec.allowsDirection(l.Direction) {
		names := make([]string, len(v.spec.Directions))
		for j, d := range v.spec.Directions {
			names[j] = string(d)
		}
		v.field(i, "direction", "must be one of %s", strings.Join(names, ", "))
		ok = false
	}
	return ok, nil
}

// pending checks each return against what is still out on its source line.
// Returns to the same source within one submission are summed.
func (v *validation) pending(ctx context.Context, lines []Line, usable []bool) error {
	used := make(map[LineID]decimal.Decimal)
	for i, l := range lines {
		if !usable[i] {
			continue
		}
		src, err := v.st.IssueLine(ctx, l.Source)
		if err != nil {
			return err
		}
		remaining := src.Pending().Sub(used[l.Source])
		if l.Quantity.GreaterThan(remaining) {
			v.add(&PendingExceededError{Line: i, Source: l.Source, Pending: remaining, Requested: l.Quantity})
			continue
		}
		used[l.Source] = used[l.Source].Add(l.Quantity)
	}
	return nil
}

// stock checks every decreasing delta against the stored balance.
func (v *validation) stock(ctx context.Context, lines []Line, usable []bool) error {
	used := make(map[Key]decimal.Decimal)
	for i, l := range lines {
		if !usable[i] {
			continue
		}
		for _, d := range v.spec.Deltas(l) {
			if !d.Quantity.IsNegative() {
				continue
			}
			available, err := v.st.Balance(ctx, d.Key)
			if err != nil {
				return err
			}
			required := d.Quantity.Neg()
			if v.cumulative {
				used[d.Key] = used[d.Key].Add(required)
				required = used[d.Key]
			}
			if available.LessThan(required) {
				v.add(&InsufficientStockError{
					Line:      i,
					Item:      d.Key.Item,
					Warehouse: d.Key.Warehouse,
					Available: available,
					Required:  required,
				})
			}
		}
	}
	return nil
}

func (v *validation) itemExists(ctx context.Context, id ItemID) (bool, error) {
	if id == "" {
		return false, nil
	}
	_, err := v.st.Item(ctx, id)
	if IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (v *validation) warehouseExists(ctx context.Context, id WarehouseID) (bool, error) {
	if id == "" {
		return false, nil
	}
	_, err := v.st.Warehouse(ctx, id)
	if IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}
