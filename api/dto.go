/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request shape (required fields, date formats) is checked with
  go-playground/validator tags before anything reaches the engine. Business
  rules stay in the engine, which reports every problem at once.

QUANTITIES:
  decimal.Decimal on the wire. Requests accept 5, 5.25 or "5.25";
  responses always use the quoted string form.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/importer"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// MASTER DATA
// =============================================================================

type GroupDTO struct {
	ID   string `json:"id"`
	Name string `json:"name" validate:"required"`
}

type ItemDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name" validate:"required"`
	Code  string `json:"code,omitempty"`
	Unit  string `json:"unit,omitempty"`
	Group string `json:"group,omitempty"`
}

type WarehouseDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name" validate:"required"`
	Parent string `json:"parent,omitempty"`
}

type ContactDTO struct {
	ID   string `json:"id"`
	Name string `json:"name" validate:"required"`
	Role string `json:"role" validate:"required,oneof=Supplier Customer"`
}

// PeriodDTO is the active period, both bounds inclusive.
type PeriodDTO struct {
	Start string `json:"start" validate:"required,datetime=2006-01-02"`
	End   string `json:"end" validate:"required,datetime=2006-01-02"`
}

func toPeriodDTO(p ledger.Period) PeriodDTO {
	return PeriodDTO{Start: p.Start.Format(ledger.DateLayout), End: p.End.Format(ledger.DateLayout)}
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// LineDTO is one document line. Returned is response-only.
type LineDTO struct {
	ID          string           `json:"id,omitempty"`
	Item        string           `json:"item,omitempty"`
	Warehouse   string           `json:"warehouse,omitempty"`
	ToWarehouse string           `json:"to_warehouse,omitempty"`
	Direction   string           `json:"direction,omitempty"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Source      string           `json:"source,omitempty"`
	Returned    *decimal.Decimal `json:"returned,omitempty"`
	Deleted     bool             `json:"deleted,omitempty"`
}

// DocumentRequest creates or revises a document of the kind named in the path.
//
// Production documents may list lines under produced/consumed instead of
// setting a direction on each line; the three lists are merged in order.
type DocumentRequest struct {
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Reference   string `json:"reference"`
	SubType     string `json:"sub_type"`
	ContactID   string `json:"contact_id"`
	ContactName string `json:"contact"`
	Vehicle     string `json:"vehicle"`
	Reason      string `json:"reason"`
	Remarks     string `json:"remarks"`
	CreatedBy   string `json:"created_by"`

	Lines    []LineDTO `json:"lines"`
	Produced []LineDTO `json:"produced,omitempty"`
	Consumed []LineDTO `json:"consumed,omitempty"`
}

func (req DocumentRequest) toDocument(kind ledger.Kind) ledger.Document {
	date, _ := ledger.ParseDate(req.Date)
	doc := ledger.Document{
		Kind:        kind,
		Date:        date,
		Reference:   req.Reference,
		SubType:     req.SubType,
		ContactID:   ledger.ContactID(req.ContactID),
		ContactName: req.ContactName,
		Vehicle:     req.Vehicle,
		Reason:      req.Reason,
		Remarks:     req.Remarks,
		CreatedBy:   req.CreatedBy,
	}
	add := func(lines []LineDTO, dir ledger.Direction) {
		for _, l := range lines {
			line := l.toLine()
			if dir != ledger.DirectionNone {
				line.Direction = dir
			}
			doc.Lines = append(doc.Lines, line)
		}
	}
	add(req.Lines, ledger.DirectionNone)
	add(req.Produced, ledger.DirectionProduced)
	add(req.Consumed, ledger.DirectionConsumed)
	return doc
}

func (l LineDTO) toLine() ledger.Line {
	return ledger.Line{
		ID:          ledger.LineID(l.ID),
		Item:        ledger.ItemID(l.Item),
		Warehouse:   ledger.WarehouseID(l.Warehouse),
		ToWarehouse: ledger.WarehouseID(l.ToWarehouse),
		Direction:   ledger.Direction(l.Direction),
		Quantity:    l.Quantity,
		Source:      ledger.LineID(l.Source),
		Deleted:     l.Deleted,
	}
}

// DocumentDTO is a committed document.
type DocumentDTO struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Date      string    `json:"date"`
	Reference string    `json:"reference,omitempty"`
	SubType   string    `json:"sub_type,omitempty"`
	ContactID string    `json:"contact_id,omitempty"`
	Vehicle   string    `json:"vehicle,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Remarks   string    `json:"remarks,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt string    `json:"created_at"`
	Lines     []LineDTO `json:"lines"`
}

func toDocumentDTO(doc ledger.Document) DocumentDTO {
	dto := DocumentDTO{
		ID:        string(doc.ID),
		Kind:      string(doc.Kind),
		Date:      doc.Date.Format(ledger.DateLayout),
		Reference: doc.Reference,
		SubType:   doc.SubType,
		ContactID: string(doc.ContactID),
		Vehicle:   doc.Vehicle,
		Reason:    doc.Reason,
		Remarks:   doc.Remarks,
		CreatedBy: doc.CreatedBy,
		CreatedAt: doc.CreatedAt.Format(time.RFC3339),
		Lines:     make([]LineDTO, len(doc.Lines)),
	}
	for i, l := range doc.Lines {
		line := LineDTO{
			ID:          string(l.ID),
			Item:        string(l.Item),
			Warehouse:   string(l.Warehouse),
			ToWarehouse: string(l.ToWarehouse),
			Direction:   string(l.Direction),
			Quantity:    l.Quantity,
			Source:      string(l.Source),
		}
		if doc.Kind == ledger.KindDeliveryOut {
			returned := l.Returned
			line.Returned = &returned
		}
		dto.Lines[i] = line
	}
	return dto
}

// RevisionDTO reports an edit; Changed is false for a no-op.
type RevisionDTO struct {
	Document DocumentDTO `json:"document"`
	Changed  bool        `json:"changed"`
}

// =============================================================================
// READ MODELS
// =============================================================================

type BalanceDTO struct {
	Item      string          `json:"item"`
	Warehouse string          `json:"warehouse"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type StockRowDTO struct {
	Item       string                     `json:"item"`
	Warehouses map[string]decimal.Decimal `json:"warehouses"`
	Total      decimal.Decimal            `json:"total"`
	Pending    decimal.Decimal            `json:"pending"`
}

type PendingLineDTO struct {
	Line      string          `json:"line"`
	Document  string          `json:"document"`
	Reference string          `json:"reference"`
	Contact   string          `json:"contact"`
	Date      string          `json:"date"`
	Item      string          `json:"item"`
	Warehouse string          `json:"warehouse"`
	Issued    decimal.Decimal `json:"issued"`
	Returned  decimal.Decimal `json:"returned"`
	Pending   decimal.Decimal `json:"pending"`
}

func toPendingLineDTO(p ledger.PendingLine) PendingLineDTO {
	return PendingLineDTO{
		Line:      string(p.ID),
		Document:  string(p.Document),
		Reference: p.Reference,
		Contact:   string(p.Contact),
		Date:      p.Date.Format(ledger.DateLayout),
		Item:      string(p.Item),
		Warehouse: string(p.Warehouse),
		Issued:    p.Quantity,
		Returned:  p.Returned,
		Pending:   p.Pending(),
	}
}

// =============================================================================
// AUDIT
// =============================================================================

type DriftDTO struct {
	Item      string          `json:"item"`
	Warehouse string          `json:"warehouse"`
	Stored    decimal.Decimal `json:"stored"`
	Expected  decimal.Decimal `json:"expected"`
}

type PendingDriftDTO struct {
	Line     string          `json:"line"`
	Document string          `json:"document"`
	Issued   decimal.Decimal `json:"issued"`
	Returned decimal.Decimal `json:"returned"`
	Expected decimal.Decimal `json:"expected"`
}

type AuditReportDTO struct {
	CheckedAt     string            `json:"checked_at"`
	OK            bool              `json:"ok"`
	Documents     int               `json:"documents"`
	Balances      int               `json:"balances"`
	Drifts        []DriftDTO        `json:"drifts"`
	PendingDrifts []PendingDriftDTO `json:"pending_drifts"`
}

func toAuditReportDTO(r ledger.AuditReport) AuditReportDTO {
	dto := AuditReportDTO{
		CheckedAt:     r.CheckedAt.Format(time.RFC3339),
		OK:            r.OK(),
		Documents:     r.Documents,
		Balances:      r.Balances,
		Drifts:        make([]DriftDTO, len(r.Drifts)),
		PendingDrifts: make([]PendingDriftDTO, len(r.PendingDrifts)),
	}
	for i, d := range r.Drifts {
		dto.Drifts[i] = DriftDTO{
			Item: string(d.Key.Item), Warehouse: string(d.Key.Warehouse),
			Stored: d.Stored, Expected: d.Expected,
		}
	}
	for i, d := range r.PendingDrifts {
		dto.PendingDrifts[i] = PendingDriftDTO{
			Line: string(d.Line), Document: string(d.Document),
			Issued: d.Issued, Returned: d.Returned, Expected: d.Expected,
		}
	}
	return dto
}

// =============================================================================
// IMPORTS / SCENARIOS / ERRORS
// =============================================================================

type ImportRequest struct {
	Rows []importer.Row `json:"rows" validate:"required,min=1"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ProblemDTO is one validation problem. Line is 1-based; 0 means the header.
type ProblemDTO struct {
	Line    int    `json:"line,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error    string       `json:"error"`
	Details  string       `json:"details,omitempty"`
	Problems []ProblemDTO `json:"problems,omitempty"`
}
