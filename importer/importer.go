/*
importer.go - Batch import of documents from flat rows

PURPOSE:
  Turns flat rows (one per line item, master data named rather than
  referenced by id) into documents and commits each through the same
  Engine.Create path an interactive submission takes.

GROUPING:
  - Adjustment rows group by (date, reason)
  - Every other supported kind groups by reference; a group whose reference
    already exists for the kind is skipped, so re-importing a file is a no-op
  - DeliveryIn is not importable (returns point at line ids, not names)

STATUS:
  Every input row gets exactly one RowResult. A row that fails to parse is
  reported on its own and left out of its group; a group that the engine
  rejects marks all of its rows failed with the engine's message.
*/
package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// ErrUnsupportedKind is returned for kinds that cannot be imported.
var ErrUnsupportedKind = errors.New("kind not importable")

// Row is one imported line plus the header fields of its document. Header
// fields are taken from the first row of each group.
type Row struct {
	Line int `json:"line"` // caller's row number, echoed in the result

	Date      string `json:"date" validate:"required"`
	Reference string `json:"reference"`
	Contact   string `json:"contact"`
	SubType   string `json:"sub_type"`
	Vehicle   string `json:"vehicle"`
	Reason    string `json:"reason"`
	Remarks   string `json:"remarks"`

	Item        string `json:"item" validate:"required"`
	Warehouse   string `json:"warehouse" validate:"required"`
	ToWarehouse string `json:"to_warehouse"`
	Direction   string `json:"direction"`
	Quantity    string `json:"quantity" validate:"required,numeric"`
}

type Status string

const (
	StatusImported Status = "imported"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

type RowResult struct {
	Line      int               `json:"line"`
	Reference string            `json:"reference,omitempty"`
	Document  ledger.DocumentID `json:"document,omitempty"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
}

// Result summarizes one import run. Counts are in rows.
type Result struct {
	Kind     ledger.Kind `json:"kind"`
	Imported int         `json:"imported"`
	Skipped  int         `json:"skipped"`
	Failed   int         `json:"failed"`
	Rows     []RowResult `json:"rows"`
}

func (r *Result) add(rr RowResult) {
	switch rr.Status {
	case StatusImported:
		r.Imported++
	case StatusSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	r.Rows = append(r.Rows, rr)
}

// Importer commits grouped rows through an engine.
type Importer struct {
	engine   *ledger.Engine
	validate *validator.Validate
	log      zerolog.Logger
}

func New(engine *ledger.Engine, log zerolog.Logger) *Importer {
	return &Importer{
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

type group struct {
	key   string
	doc   ledger.Document
	lines []int // Row.Line per document line
}

// Import groups rows and creates one document per group. The returned error
// is non-nil only for failures that abort the whole run.
func (im *Importer) Import(ctx context.Context, kind ledger.Kind, rows []Row) (Result, error) {
	spec, err := ledger.SpecFor(kind)
	if err != nil {
		return Result{}, err
	}
	if spec.ReturnsAgainstSource {
		return Result{}, fmt.Errorf("%s: %w", kind, ErrUnsupportedKind)
	}

	res := Result{Kind: kind, Rows: make([]RowResult, 0, len(rows))}
	var order []*group
	groups := make(map[string]*group)

	for _, row := range rows {
		line, err := im.parseLine(ctx, spec, row)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			res.add(RowResult{Line: row.Line, Reference: strings.TrimSpace(row.Reference), Status: StatusFailed, Message: err.Error()})
			continue
		}

		key := groupKey(spec, row)
		g, ok := groups[key]
		if !ok {
			date, _ := ledger.ParseDate(strings.TrimSpace(row.Date))
			g = &group{key: key, doc: ledger.Document{
				Kind:        kind,
				Date:        date,
				Reference:   strings.TrimSpace(row.Reference),
				SubType:     strings.TrimSpace(row.SubType),
				ContactName: strings.TrimSpace(row.Contact),
				Vehicle:     strings.TrimSpace(row.Vehicle),
				Reason:      strings.TrimSpace(row.Reason),
				Remarks:     strings.TrimSpace(row.Remarks),
				CreatedBy:   "import",
			}}
			groups[key] = g
			order = append(order, g)
		}
		g.doc.Lines = append(g.doc.Lines, line)
		g.lines = append(g.lines, row.Line)
	}

	store := im.engine.Store()
	for _, g := range order {
		if spec.RequiresReference && g.doc.Reference != "" {
			taken, err := store.ReferenceTaken(ctx, kind, g.doc.Reference, "")
			if err != nil {
				return Result{}, err
			}
			if taken {
				for _, n := range g.lines {
					res.add(RowResult{Line: n, Reference: g.doc.Reference, Status: StatusSkipped,
						Message: fmt.Sprintf("reference %s already exists", g.doc.Reference)})
				}
				continue
			}
		}

		doc, err := im.engine.Create(ctx, g.doc)
		if err != nil {
			if !ledger.IsClientError(err) && !ledger.IsNotFound(err) {
				return Result{}, fmt.Errorf("import group %s: %w", g.key, err)
			}
			for _, n := range g.lines {
				res.add(RowResult{Line: n, Reference: g.doc.Reference, Status: StatusFailed, Message: err.Error()})
			}
			continue
		}
		for _, n := range g.lines {
			res.add(RowResult{Line: n, Reference: doc.Reference, Document: doc.ID, Status: StatusImported})
		}
	}

	sort.SliceStable(res.Rows, func(i, j int) bool { return res.Rows[i].Line < res.Rows[j].Line })
	im.log.Info().
		Str("kind", string(kind)).
		Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("import finished")
	return res, nil
}

func groupKey(spec ledger.KindSpec, row Row) string {
	if spec.RequiresReason {
		return strings.TrimSpace(row.Date) + "|" + strings.TrimSpace(row.Reason)
	}
	return strings.TrimSpace(row.Reference)
}

// parseLine checks one row's shape and resolves its names to ids.
func (im *Importer) parseLine(ctx context.Context, spec ledger.KindSpec, row Row) (ledger.Line, error) {
	if err := im.validate.Struct(row); err != nil {
		return ledger.Line{}, describe(err)
	}
	if _, err := ledger.ParseDate(strings.TrimSpace(row.Date)); err != nil {
		return ledger.Line{}, fmt.Errorf("date: %w", err)
	}
	qty, err := decimal.NewFromString(strings.TrimSpace(row.Quantity))
	if err != nil {
		return ledger.Line{}, fmt.Errorf("quantity: %w", err)
	}

	store := im.engine.Store()
	item, err := store.ItemByName(ctx, strings.TrimSpace(row.Item))
	if err != nil {
		return ledger.Line{}, err
	}
	wh, err := store.WarehouseByName(ctx, strings.TrimSpace(row.Warehouse))
	if err != nil {
		return ledger.Line{}, err
	}
	line := ledger.Line{Item: item.ID, Warehouse: wh.ID, Quantity: qty}

	if spec.HasDestination {
		if strings.TrimSpace(row.ToWarehouse) == "" {
			return ledger.Line{}, errors.New("to_warehouse: required")
		}
		to, err := store.WarehouseByName(ctx, strings.TrimSpace(row.ToWarehouse))
		if err != nil {
			return ledger.Line{}, err
		}
		line.ToWarehouse = to.ID
	}
	if spec.Directions != nil {
		line.Direction = ledger.Direction(strings.ToUpper(strings.TrimSpace(row.Direction)))
	}
	return line, nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = strings.ToLower(fe.Field()) + ": " + fe.Tag()
	}
	return errors.New(strings.Join(msgs, ", "))
}
