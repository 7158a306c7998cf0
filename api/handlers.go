/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine, importer and auditor.

ENDPOINTS:
  Master data:
    GET/POST /api/groups, /api/items, /api/warehouses, /api/contacts

  Period:
    GET    /api/period                  Active period
    PUT    /api/period                  Replace active period

  Documents ({kind} is inward, outward, production, transfer,
  delivery_out, delivery_in or adjustment):
    POST   /api/documents/{kind}        Create (?dry_run=true validates only)
    GET    /api/documents/{kind}        List (?from=&to=)
    GET    /api/documents/{kind}/{id}   Get one
    PUT    /api/documents/{kind}/{id}   Revise
    DELETE /api/documents/{kind}/{id}   Retire

  Reports:
    GET    /api/balances                ?item=&warehouse=
    GET    /api/reports/stock           ?warehouse=
    GET    /api/pending                 ?contact=

  Batch / maintenance:
    POST   /api/imports/{kind}          Grouped row import
    GET    /api/audit                   Last audit report
    POST   /api/audit/run               Run an audit now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body or query
  - 404: Unknown kind, document or master record
  - 409: Locked document, duplicate name/reference, stock key busy
  - 422: Validation problems (every problem listed)
  - 500: Internal errors, including ledger integrity failures

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/importer"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *ledger.Engine
	Importer *importer.Importer
	Auditor  *ledger.Auditor

	validate *validator.Validate
	log      zerolog.Logger

	mu              sync.Mutex
	lastAudit       *ledger.AuditReport
	currentScenario string
}

// NewHandler creates a new handler around engine.
func NewHandler(engine *ledger.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:   engine,
		Importer: importer.New(engine, log),
		Auditor:  ledger.NewAuditor(engine.Store()),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// MASTER DATA
// =============================================================================

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Engine.Store().Groups(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]GroupDTO, len(groups))
	for i, g := range groups {
		dtos[i] = GroupDTO{ID: string(g.ID), Name: g.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupDTO
	if !h.decode(w, r, &req) {
		return
	}
	req.ID = idOrNew(req.ID)
	if err := h.Engine.Store().SaveGroup(r.Context(), ledger.Group{ID: ledger.GroupID(req.ID), Name: strings.TrimSpace(req.Name)}); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Engine.Store().Items(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]ItemDTO, len(items))
	for i, it := range items {
		dtos[i] = ItemDTO{ID: string(it.ID), Name: it.Name, Code: it.Code, Unit: it.Unit, Group: string(it.Group)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemDTO
	if !h.decode(w, r, &req) {
		return
	}
	req.ID = idOrNew(req.ID)
	item := ledger.Item{
		ID:    ledger.ItemID(req.ID),
		Name:  strings.TrimSpace(req.Name),
		Code:  req.Code,
		Unit:  req.Unit,
		Group: ledger.GroupID(req.Group),
	}
	if err := h.Engine.Store().SaveItem(r.Context(), item); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) ListWarehouses(w http.ResponseWriter, r *http.Request) {
	whs, err := h.Engine.Store().Warehouses(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]WarehouseDTO, len(whs))
	for i, wh := range whs {
		dtos[i] = WarehouseDTO{ID: string(wh.ID), Name: wh.Name, Parent: string(wh.Parent)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateWarehouse(w http.ResponseWriter, r *http.Request) {
	var req WarehouseDTO
	if !h.decode(w, r, &req) {
		return
	}
	req.ID = idOrNew(req.ID)
	wh := ledger.Warehouse{ID: ledger.WarehouseID(req.ID), Name: strings.TrimSpace(req.Name), Parent: ledger.WarehouseID(req.Parent)}
	if err := h.Engine.Store().SaveWarehouse(r.Context(), wh); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.Engine.Store().Contacts(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]ContactDTO, len(contacts))
	for i, c := range contacts {
		dtos[i] = ContactDTO{ID: string(c.ID), Name: c.Name, Role: string(c.Role)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var req ContactDTO
	if !h.decode(w, r, &req) {
		return
	}
	req.ID = idOrNew(req.ID)
	c := ledger.Contact{ID: ledger.ContactID(req.ID), Name: strings.TrimSpace(req.Name), Role: ledger.ContactRole(req.Role)}
	if err := h.Engine.Store().SaveContact(r.Context(), c); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// PERIOD
// =============================================================================

func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.ActivePeriod(r.Context())
	if errors.Is(err, ledger.ErrNoActivePeriod) {
		writeError(w, http.StatusNotFound, "No active period", err)
		return
	}
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

func (h *Handler) SetPeriod(w http.ResponseWriter, r *http.Request) {
	var req PeriodDTO
	if !h.decode(w, r, &req) {
		return
	}
	p, err := ledger.ParsePeriod(req.Start, req.End)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if err := h.Engine.SetActivePeriod(r.Context(), p); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// CreateDocument commits a new document of the path kind.
// POST /api/documents/{kind}
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	var req DocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc := req.toDocument(kind)

	if r.URL.Query().Get("dry_run") == "true" {
		if err := h.Engine.Validate(r.Context(), doc); err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
		return
	}

	created, err := h.Engine.Create(r.Context(), doc)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentDTO(created))
}

// ListDocuments lists documents of the path kind, optionally by date range.
// GET /api/documents/{kind}?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	filter := ledger.DocumentFilter{Kind: kind}
	for _, bound := range []struct {
		param string
		dst   *time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		s := r.URL.Query().Get(bound.param)
		if s == "" {
			continue
		}
		d, err := ledger.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+bound.param+" date (use YYYY-MM-DD)", err)
			return
		}
		*bound.dst = d
	}

	docs, err := h.Engine.Documents(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]DocumentDTO, len(docs))
	for i, d := range docs {
		dtos[i] = toDocumentDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDocument returns one document.
// GET /api/documents/{kind}/{id}
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.documentParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// ReviseDocument replaces a document. Lines echo their id to be kept;
// a line with deleted=true is dropped.
// PUT /api/documents/{kind}/{id}
func (h *Handler) ReviseDocument(w http.ResponseWriter, r *http.Request) {
	current, ok := h.documentParam(w, r)
	if !ok {
		return
	}
	var req DocumentRequest
	if !h.decode(w, r, &req) {
		return
	}

	rev, err := h.Engine.Revise(r.Context(), current.ID, req.toDocument(current.Kind))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RevisionDTO{Document: toDocumentDTO(rev.Document), Changed: rev.Changed})
}

// RetireDocument reverses and deletes a document.
// DELETE /api/documents/{kind}/{id}
func (h *Handler) RetireDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.documentParam(w, r)
	if !ok {
		return
	}
	if err := h.Engine.Retire(r.Context(), doc.ID); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REPORTS
// =============================================================================

func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	balances, err := h.Engine.Balances(r.Context(), ledger.BalanceFilter{
		Item:      ledger.ItemID(q.Get("item")),
		Warehouse: ledger.WarehouseID(q.Get("warehouse")),
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = BalanceDTO{Item: string(b.Item), Warehouse: string(b.Warehouse), Quantity: b.Quantity}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) StockReport(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Engine.StockReport(r.Context(), ledger.WarehouseID(r.URL.Query().Get("warehouse")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]StockRowDTO, len(rows))
	for i, row := range rows {
		whs := make(map[string]decimal.Decimal, len(row.Warehouses))
		for wh, q := range row.Warehouses {
			whs[string(wh)] = q
		}
		dtos[i] = StockRowDTO{Item: string(row.Item), Warehouses: whs, Total: row.Total, Pending: row.Pending}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListPending lists DeliveryOut lines still out, for one contact or all.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Engine.PendingLines(r.Context(), ledger.ContactID(r.URL.Query().Get("contact")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]PendingLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = toPendingLineDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// IMPORTS / AUDIT
// =============================================================================

// ImportDocuments runs a grouped import for the path kind.
// POST /api/imports/{kind}
func (h *Handler) ImportDocuments(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	var req ImportRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Importer.Import(r.Context(), kind, req.Rows)
	if errors.Is(err, importer.ErrUnsupportedKind) {
		writeError(w, http.StatusUnprocessableEntity, "Kind cannot be imported", err)
		return
	}
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetAudit returns the most recent audit report, running one if none exists.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	last := h.lastAudit
	h.mu.Unlock()
	if last != nil {
		writeJSON(w, http.StatusOK, toAuditReportDTO(*last))
		return
	}
	h.RunAudit(w, r)
}

// RunAudit recomputes the ledger from documents and reports drift.
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.auditNow(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

func (h *Handler) auditNow(ctx context.Context) (ledger.AuditReport, error) {
	report, err := h.Auditor.Run(ctx)
	if err != nil {
		return ledger.AuditReport{}, err
	}
	h.recordAudit(report)
	return report, nil
}

func (h *Handler) recordAudit(report ledger.AuditReport) {
	h.mu.Lock()
	h.lastAudit = &report
	h.mu.Unlock()
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps ledger errors to HTTP status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var problems ledger.Problems
	switch {
	case errors.As(err, &problems):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:    "Validation failed",
			Details:  err.Error(),
			Problems: toProblemDTOs(problems),
		})
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrLockedForEditing):
		writeError(w, http.StatusConflict, "Document locked", err)
	case errors.Is(err, ledger.ErrDuplicate):
		writeError(w, http.StatusConflict, "Already exists", err)
	case errors.Is(err, ledger.ErrLockBusy):
		writeError(w, http.StatusConflict, "Stock is being updated by another request, retry", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusUnprocessableEntity, "Invalid request", err)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func toProblemDTOs(problems ledger.Problems) []ProblemDTO {
	out := make([]ProblemDTO, 0, len(problems))
	for _, p := range problems {
		dto := ProblemDTO{Message: p.Error()}
		var (
			field   *ledger.FieldError
			short   *ledger.InsufficientStockError
			pending *ledger.PendingExceededError
		)
		switch {
		case errors.As(p, &field):
			dto.Field = field.Field
			dto.Message = field.Message
			if field.Line != ledger.HeaderField {
				dto.Line = field.Line + 1
			}
		case errors.As(p, &short):
			dto.Field = "quantity"
			dto.Line = short.Line + 1
		case errors.As(p, &pending):
			dto.Field = "quantity"
			dto.Line = pending.Line + 1
		case errors.Is(p, ledger.ErrOutOfPeriod):
			dto.Field = "date"
		}
		out = append(out, dto)
	}
	return out
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", describeValidation(err))
		return false
	}
	return true
}

func describeValidation(err error) error {
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

func kindParam(w http.ResponseWriter, r *http.Request) (ledger.Kind, bool) {
	kind, err := ledger.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Unknown document kind", err)
		return "", false
	}
	return kind, true
}

// documentParam loads the path document and checks it is of the path kind.
func (h *Handler) documentParam(w http.ResponseWriter, r *http.Request) (ledger.Document, bool) {
	kind, ok := kindParam(w, r)
	if !ok {
		return ledger.Document{}, false
	}
	id := ledger.DocumentID(chi.URLParam(r, "id"))
	doc, err := h.Engine.Document(r.Context(), id)
	if err == nil && doc.Kind != kind {
		err = ledger.NotFound(string(kind), id)
	}
	if err != nil {
		h.writeEngineError(w, r, err)
		return ledger.Document{}, false
	}
	return doc, true
}

func idOrNew(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}
