/*
handlers.go - HTTP request handlers for the workflow API

PURPOSE:
  Implements all HTTP endpoints. Handlers translate between HTTP and
  workflow.Service: parse the role, filter and body, call the service, and
  render the result as JSON.

ENDPOINTS:
  Necessities:
    GET  /api/necessities                   - List necessities visible to role
    GET  /api/necessities/consolidated      - Consolidated view with defaults
    POST /api/necessities/swap              - Swap origin product (ids or group)
    POST /api/necessities/undo-swap         - Restore the pre-swap origin

  Substitutions:
    GET  /api/substitutions                 - List substitutions visible to role
    POST /api/substitutions                 - Save (create-or-update by key)
    PUT  /api/substitutions/{id}/lines/{n}  - Override one line's quantity
    POST /api/substitutions/start           - Start adjustments (bulk)
    POST /api/substitutions/confirm         - Nutritionist confirm (bulk)
    POST /api/substitutions/release         - Release to coordination (bulk)
    POST /api/substitutions/{id}/approve    - Coordination approve
    POST /api/substitutions/{id}/reject     - Coordination reject
    POST /api/substitutions/approve-all     - Approve every visible row
    POST /api/substitutions/reject          - Reject (bulk)
    POST /api/substitutions/logistics/confirm - Logistics confirm (bulk)

  Print:
    POST /api/print                         - Mark filtered set printed
    GET  /api/print/manifest                - Manifest projection (JSON)
    GET  /api/print/export                  - Manifest download

  Reference:
    GET  /api/reference/groups              - Product groups reachable by role
    GET  /api/reference/supply-weeks        - Supply weeks, newest first
    GET  /api/reference/routes              - Delivery routes
    GET  /api/reference/consumption-week    - Consumption week of a supply week
    GET  /api/catalog/generic-options       - Generic options for an origin

ARCHITECTURE:
  Handler holds the workflow.Service, which owns every business rule. The
  store is only used directly by scenarios (reset and seed).

REQUEST FLOW:
  1. Parse role (query "role") and filter (query or body)
  2. Decode request body (if any)
  3. Call workflow.Service
  4. Convert records to DTOs
  5. Write JSON response

ERROR HANDLING:
  - 400 Bad Request:  validation, conversion factor, cross-group swap, nothing found
  - 404 Not Found:    record or product doesn't exist
  - 409 Conflict:     invalid state transition, stage locked, duplicate key
  - 503 Unavailable:  store failure
  - 500 Internal:     anything else

  Bulk operations always answer with BatchResponse:
  - 200 when every item succeeded (or was skipped)
  - 207 Multi-Status when some failed; successes are committed
  - the status of the first failure when every item failed

SEE ALSO:
  - server.go: Route definitions
  - dto.go: Request/response types
  - workflow/service.go: Business operations
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/merenda/necessity-workflow/catalog"
	"github.com/merenda/necessity-workflow/workflow"
)

// ScenarioStore is the store surface demo scenarios need.
type ScenarioStore interface {
	workflow.Store
	Reset(ctx context.Context) error
}

// Handler contains all HTTP handlers and their dependencies.
type Handler struct {
	Service  *workflow.Service
	Store    ScenarioStore
	Catalog  *catalog.Catalog
	Exporter workflow.Exporter
	Logger   *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(svc *workflow.Service, store ScenarioStore, cat *catalog.Catalog, exporter workflow.Exporter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:  svc,
		Store:    store,
		Catalog:  cat,
		Exporter: exporter,
		Logger:   logger,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeOK(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Code = errorCode(err)
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeFailure maps a workflow error to its HTTP status.
func (h *Handler) writeFailure(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case workflow.IsNotFound(err):
		return http.StatusNotFound
	case workflow.IsConflict(err):
		return http.StatusConflict
	case workflow.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, workflow.ErrInvalidConversionFactor):
		return "invalid_conversion_factor"
	case errors.Is(err, workflow.ErrCrossGroupSwapRejected):
		return "cross_group_swap_rejected"
	case errors.Is(err, workflow.ErrNoSubstitutionsFound):
		return "no_substitutions_found"
	case errors.Is(err, workflow.ErrValidation):
		return "validation"
	case errors.Is(err, workflow.ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, workflow.ErrStageLocked):
		return "stage_locked"
	case errors.Is(err, workflow.ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, workflow.ErrNotFound):
		return "not_found"
	case errors.Is(err, workflow.ErrStoreUnavailable):
		return "store_unavailable"
	}
	return "internal"
}

// writeBatch renders a bulk result. Errors that are not a batch summary
// (the operation was refused before any item ran) go through writeFailure.
func writeBatch[K ~string](h *Handler, w http.ResponseWriter, res workflow.BatchResult[K], err error) {
	var partial *workflow.PartialBatchFailure
	var failed *workflow.BatchFailedError
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.As(err, &partial):
		status = http.StatusMultiStatus
	case errors.As(err, &failed):
		status = statusFor(failed.First)
	default:
		h.writeFailure(w, "Operation refused", err)
		return
	}

	resp := BatchResponse{
		Success:      err == nil,
		Operation:    res.Operation,
		Outcome:      string(res.Outcome()),
		SuccessCount: res.SuccessCount,
		FailureCount: res.FailureCount,
		SkippedCount: res.SkippedCount,
		Items:        make([]BatchItemDTO, len(res.Items)),
	}
	if err != nil {
		resp.Message = err.Error()
	} else {
		resp.Message = fmt.Sprintf("%d item(s) processed", res.SuccessCount)
	}
	for i, it := range res.Items {
		item := BatchItemDTO{ID: string(it.ID), Success: it.OK(), Skipped: it.Skipped}
		if it.Err != nil {
			item.Error = it.Err.Error()
			item.Code = errorCode(it.Err)
		}
		resp.Items[i] = item
	}
	writeJSON(w, status, resp)
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &workflow.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func roleFrom(r *http.Request) (workflow.Role, error) {
	return workflow.ParseRole(r.URL.Query().Get("role"))
}

// filterFromQuery reads the shared filter parameters. status may repeat or
// be comma-separated.
func filterFromQuery(r *http.Request) (workflow.Filter, error) {
	q := r.URL.Query()
	f := workflow.Filter{
		SchoolID:        workflow.SchoolID(q.Get("school")),
		OriginProductID: workflow.ProductID(q.Get("origin_product_id")),
		ProductGroupID:  workflow.GroupID(q.Get("group")),
		SupplyWeek:      q.Get("supply_week"),
		ConsumptionWeek: q.Get("consumption_week"),
		RouteID:         workflow.RouteID(q.Get("route")),
		Scope:           workflow.Scope(strings.ToUpper(q.Get("scope"))),
	}
	if f.Scope != "" && !f.Scope.Valid() {
		return workflow.Filter{}, &workflow.ValidationError{Field: "scope", Message: "unknown scope " + q.Get("scope")}
	}
	statuses, err := parseStatuses(q["status"])
	if err != nil {
		return workflow.Filter{}, err
	}
	f.Statuses = statuses
	return f, nil
}

func parseStatuses(values []string) ([]workflow.Status, error) {
	var out []workflow.Status
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			s, err := workflow.ParseStatus(strings.ToUpper(part))
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func (f FilterDTO) toFilter() (workflow.Filter, error) {
	filter := workflow.Filter{
		SchoolID:        workflow.SchoolID(f.SchoolID),
		OriginProductID: workflow.ProductID(f.OriginProductID),
		ProductGroupID:  workflow.GroupID(f.ProductGroupID),
		SupplyWeek:      f.SupplyWeek,
		ConsumptionWeek: f.ConsumptionWeek,
		RouteID:         workflow.RouteID(f.RouteID),
		Scope:           workflow.Scope(strings.ToUpper(f.Scope)),
	}
	if filter.Scope != "" && !filter.Scope.Valid() {
		return workflow.Filter{}, &workflow.ValidationError{Field: "scope", Message: "unknown scope " + f.Scope}
	}
	statuses, err := parseStatuses(f.Statuses)
	if err != nil {
		return workflow.Filter{}, err
	}
	filter.Statuses = statuses
	return filter, nil
}

// requestContext parses what every workflow endpoint needs: role and body.
func (h *Handler) requestContext(w http.ResponseWriter, r *http.Request, body any) (workflow.Role, bool) {
	role, err := roleFrom(r)
	if err != nil {
		h.writeFailure(w, "Invalid role", err)
		return "", false
	}
	if body != nil {
		if err := decodeBody(r, body); err != nil {
			h.writeFailure(w, "Invalid request body", err)
			return "", false
		}
	}
	return role, true
}

// =============================================================================
// NECESSITIES
// =============================================================================

// ListNecessities returns the necessities the role can see.
func (h *Handler) ListNecessities(w http.ResponseWriter, r *http.Request) {
	role, ok := h.requestContext(w, r, nil)
	if !ok {
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		h.writeFailure(w, "Invalid filter", err)
		return
	}
	recs, err := h.Service.Query().Necessities(r.Context(), role, filter)
	if err != nil {
		h.writeFailure(w, "Failed to list necessities", err)
		return
	}
	dtos := make([]NecessityDTO, len(recs))
	for i, n := range recs {
		dtos[i] = toNecessityDTO(n)
	}
	writeOK(w, "", dtos)
}

// ConsolidatedView returns the per-key aggregation with default selections.
func (h *Handler) ConsolidatedView(w http.ResponseWriter, r *http.Request) {
	role, ok := h.requestContext(w, r, nil)
	if !ok {
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		h.writeFailure(w, "Invalid filter", err)
		return
	}
	view, err := h.Service.Query().ConsolidatedView(r.Context(), role, filter)
	if err != nil {
		h.writeFailure(w, "Failed to build consolidated view", err)
		return
	}
	writeOK(w, "", toConsolidatedViewDTO(view))
}

// SwapOrigin swaps the origin product of the listed necessities, or of every
// necessity of one consolidated row when "group" is given.
func (h *Handler) SwapOrigin(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	role, ok := h.requestContext(w, r, &req)
	if !ok {
		return
	}
	target := workflow.ProductID(req.NewOriginProductID)
	if req.Group != nil {
		key := workflow.ConsolidationKey{
			OriginProductID: workflow.ProductID(req.Group.OriginProductID),
			ProductGroupID:  workflow.GroupID(req.Group.ProductGroupID),
		}
		res, err := h.Service.SwapGroup(r.Context(), role, key, req.Group.SupplyWeek, req.Group.ConsumptionWeek, target)
		writeBatch(h, w, res, err)
		return
	}
	res, err := h.Service.SwapOrigin(r.Context(), role, typedOf[workflow.NecessityID](req.NecessityIDs), target)
	writeBatch(h, w, res, err)
}

// UndoSwap restores the retained pre-swap origin.
func (h *Handler) UndoSwap(w http.ResponseWriter, r *http.Request) {
	var req UndoSwapRequest
	role, ok := h.requestContext(w, r, &req)
	if !ok {
		return
	}
	res, err := h.Service.UndoSwap(r.Context(), role, typedOf[workflow.NecessityID](req.NecessityIDs))
	writeBatch(h, w, res, err)
}

// =============================================================================
// SUBSTITUTIONS
// =============================================================================

// ListSubstitutions returns the substitutions the role can see.
func (h *Handler) ListSubstitutions(w http.ResponseWriter, r *http.Request) {
	role, ok := h.requestContext(w, r, nil)
	if !ok {
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		h.writeFailure(w, "Invalid filter", err)
		return
	}
	subs, err := h.Service.Query().Substitutions(r.Context(), role, filter)
	if err != nil {
		h.writeFailure(w, "Failed to list substitutions", err)
		return
	}
	dtos := make([]SubstitutionDTO, len(subs))
	for i, s := range subs {
		dtos[i] = toSubstitutionDTO(s)
	}
	writeOK(w, "", dtos)
}

// SaveSubstitution creates or updates the substitution for a key.
func (h *Handler) SaveSubstitution(w http.ResponseWriter, r *http.Request) {
	var req SaveSubstitutionRequest
	role, ok := h.requestContext(w, r, &req)
	if !ok {
		return
	}
	scope := workflow.Scope(strings.ToUpper(req.Scope))
	if scope == "" {
		scope = workflow.ScopeConsolidated
	}
	save := workflow.SaveRequest{
		Key: workflow.SubstitutionKey{
			ConsolidationKey: workflow.ConsolidationKey{
				OriginProductID: workflow.ProductID(req.OriginProductID),
				ProductGroupID:  workflow.GroupID(req.ProductGroupID),
			},
			SupplyWeek:      req.SupplyWeek,
			ConsumptionWeek: req.ConsumptionWeek,
			Scope:           scope,
			SchoolID:        workflow.SchoolID(req.SchoolID),
		},
		GenericProductID: workflow.ProductID(req.GenericProductID),
	}
	rec, err := h.Service.SaveSubstitution(r.Context(), role, save)
	if err != nil {
		h.writeFailure(w, "Failed to save substitution", err)
		return
	}
	writeOK(w, "Substitution saved", toSubstitutionDTO(rec))
}

// AdjustLine overrides the generic quantity of one line.
func (h *Handler) AdjustLine(w http.ResponseWriter, r *http.Request) {
	var req AdjustLineRequest
	role, ok := h.requestContext(w, r, &req)
	if !ok {
		return
	}
	if req.GenericQuantity == nil {
		writeError(w, http.StatusBadRequest, "generic_quantity is required", nil)
		return
	}
	id := workflow.SubstitutionID(chi.URLParam(r, "id"))
	necessity := workflow.NecessityID(chi.URLParam(r, "necessityID"))
	rec, err := h.Service.AdjustLine(r.Context(), role, id, necessity, *req.GenericQuantity)
	if err != nil {
		h.writeFailure(w, "Failed to adjust line", err)
		return
	}
	writeOK(w, "Line adjusted", toSubstitutionDTO(rec))
}

// StartAdjustments saves default substitutions for every key under filter.
func (h *Handler) StartAdjustments(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	role, ok := h.requestContext(w, r, &req)
	if !ok {
		return
	}
	filter, err := req.Filter.toFilter()
	if err != nil {
		h.writeFailure(w, "Invalid filter", err)
		return
	}
	res, err := h.Service.StartAdjustments(r.Context(), role, filter)
	// Keys are structs; report them by their readable form.
	out := workflow.BatchResult[string]{
		Operation:    res.Operation,
		SuccessCount: res.SuccessCount,
		FailureCount: res.FailureCount,
		SkippedCount: res.SkippedCount,
	}
	for _, it := range res.Items {
		out.Items = append(out.Items, workflow.ItemResult[string]{ID: keyString(it.ID), Skipped: it.Skipped, Err: it.Err})
	}
	writeBatch(h, w, out, err)
}

func keyString(k workflow.SubstitutionKey) string {
	return fmt.Sprintf("%s/%s/%s/%s", k.ProductGroupID, k.OriginProductID, k.SupplyWeek, k.ConsumptionWeek)
}

// ConfirmSubstitutions confirms the listed substitutions, or every
// NUTRITIONIST_PENDING one under filter when no ids are given.
func (h *Handler) ConfirmSubstitutions(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	role, ok := h.requestContext(w, r, &req)
	if !ok {
		return
	}
	if len(req.SubstitutionIDs) > 0 {
		res, err := h.Service.ConfirmMany(r.Context(), role, typedOf[workflow.SubstitutionID](req.SubstitutionIDs))
		writeBatch(h, w, res, err)
		return
	}
	filter, err := req.Filter.toFilter()
	if err != nil {
		h.writeFailure(w, "Invalid filter", err)
		return
	}
	res, err := h.Service.ConfirmAll(r.Context(), role, filter)
	writeBatch(h, w, res, err)
}

// ReleaseSubstitutions sends the listed substitutions to coordination.
func (h *Handler) ReleaseSubstitutions(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	role, ok := h.requestContext(w, r, &req)
	if !ok {
		return
	}
	res, err := h.Service.Release(r.Context(), role, typedOf[workflow.SubstitutionID](req.SubstitutionIDs))
	writeBatch(h, w, res, err)
}

// ApproveSubstitution approves one substitution and forwards it to logistics.
func (h *Handler) ApproveSubstitution(w http.ResponseWriter, r *http.Request) {
	role, ok := h.requestContext(w, r, nil)
	if !ok {
		return
	}
	id := workflow.SubstitutionID(chi.URLParam(r, "id"))
	if err := h.Service.Approve(r.Context(), role, id); err != nil {
		h.writeFailure(w, "Failed to approve substitution", err)
		return
	}
	writeOK(w, "Substitution approved", map[string]string{"id": string(id)})
}

// RejectSubstitution sends one substitution back to the nutritionist.
func (h *Handler) RejectSubstitution(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	role, ok := h.requestContext(w, r, &req)
	if !ok {
		return
	}
	id := workflow.SubstitutionID(chi.URLParam(r, "id"))
	if err := h.Service.Reject(r.Context(), role, id, req.Reason); err != nil {
		h.writeFailure(w, "Failed to reject substitution", err)
		return
	}
	writeOK(w, "Substitution rejected", map[string]string{"id": string(id)})
}

// ApproveAll approves the listed substitutions, or every one the role sees
// under filter when no ids are given.
func (h *Handler) ApproveAll(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	role, ok := h.requestContext(w, r, &req)
	if !ok {
		return
	}
	if len(req.SubstitutionIDs) > 0 {
		res, err := h.Service.ApproveMany(r.Context(), role, typedOf[workflow.SubstitutionID](req.SubstitutionIDs))
		writeBatch(h, w, res, err)
		return
	}
	filter, err := req.Filter.toFilter()
	if err != nil {
		h.writeFailure(w, "Invalid filter", err)
		return
	}
	res, err := h.Service.ApproveAll(r.Context(), role, filter)
	writeBatch(h, w, res, err)
}

// RejectSubstitutions rejects the listed substitutions with one reason.
func (h *Handler) RejectSubstitutions(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	role, ok := h.requestContext(w, r, &req)
	if !ok {
		return
	}
	res, err := h.Service.RejectMany(r.Context(), role, typedOf[workflow.SubstitutionID](req.SubstitutionIDs), req.Reason)
	writeBatch(h, w, res, err)
}

// ConfirmLogistics confirms the listed substitutions at logistics, or every
// LOGISTICS_PENDING one under filter when no ids are given.
func (h *Handler) ConfirmLogistics(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	role, ok := h.requestContext(w, r, &req)
	if !ok {
		return
	}
	if len(req.SubstitutionIDs) > 0 {
		res, err := h.Service.ConfirmLogisticsMany(r.Context(), role, typedOf[workflow.SubstitutionID](req.SubstitutionIDs))
		writeBatch(h, w, res, err)
		return
	}
	filter, err := req.Filter.toFilter()
	if err != nil {
		h.writeFailure(w, "Invalid filter", err)
		return
	}
	res, err := h.Service.ConfirmLogisticsAll(r.Context(), role, filter)
	writeBatch(h, w, res, err)
}

// =============================================================================
// PRINT
// =============================================================================

// MarkPrinted releases every LOGISTICS_CONFIRMED substitution under filter.
// Running it twice is harmless: the second run affects nothing.
func (h *Handler) MarkPrinted(w http.ResponseWriter, r *http.Request) {
	var req PrintRequest
	role, ok := h.requestContext(w, r, &req)
	if !ok {
		return
	}
	filter, err := req.Filter.toFilter()
	if err != nil {
		h.writeFailure(w, "Invalid filter", err)
		return
	}
	res, err := h.Service.MarkPrinted(r.Context(), role, filter)
	writeBatch(h, w, res, err)
}

func manifestParams(r *http.Request) (workflow.Filter, workflow.ManifestMode, []workflow.Status, error) {
	filter, err := filterFromQuery(r)
	if err != nil {
		return workflow.Filter{}, "", nil, err
	}
	mode, err := workflow.ParseManifestMode(r.URL.Query().Get("mode"))
	if err != nil {
		return workflow.Filter{}, "", nil, err
	}
	statuses := filter.Statuses
	filter.Statuses = nil
	return filter, mode, statuses, nil
}

// GetManifest returns the manifest projection as JSON.
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	filter, mode, statuses, err := manifestParams(r)
	if err != nil {
		h.writeFailure(w, "Invalid manifest parameters", err)
		return
	}
	m, err := h.Service.Manifest(r.Context(), filter, mode, statuses)
	if err != nil {
		h.writeFailure(w, "Failed to build manifest", err)
		return
	}
	writeOK(w, "", toManifestDTO(m))
}

// ExportManifest streams the manifest as a downloadable document. The whole
// document is rendered before the first byte is sent so failures still get a
// JSON error.
func (h *Handler) ExportManifest(w http.ResponseWriter, r *http.Request) {
	filter, mode, statuses, err := manifestParams(r)
	if err != nil {
		h.writeFailure(w, "Invalid manifest parameters", err)
		return
	}
	var buf bytes.Buffer
	if err := h.Service.Export(r.Context(), &buf, filter, mode, statuses); err != nil {
		h.writeFailure(w, "Failed to export manifest", err)
		return
	}

	ext := ""
	if e, ok := h.Exporter.(interface{ Extension() string }); ok {
		ext = e.Extension()
	}
	w.Header().Set("Content-Type", h.Exporter.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="manifest-%s%s"`, mode, ext))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.Logger.Warn("export write interrupted", zap.Error(err))
	}
}

// =============================================================================
// REFERENCE
// =============================================================================

// ListGroups returns the product groups reachable by the role.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	role, ok := h.requestContext(w, r, nil)
	if !ok {
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		h.writeFailure(w, "Invalid filter", err)
		return
	}
	groups, err := h.Service.Query().AvailableGroups(r.Context(), role, filter)
	if err != nil {
		h.writeFailure(w, "Failed to list groups", err)
		return
	}
	writeOK(w, "", stringsOf(groups))
}

// ListSupplyWeeks returns supply weeks, most recent first.
func (h *Handler) ListSupplyWeeks(w http.ResponseWriter, r *http.Request) {
	role, ok := h.requestContext(w, r, nil)
	if !ok {
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		h.writeFailure(w, "Invalid filter", err)
		return
	}
	weeks, err := h.Service.Query().AvailableSupplyWeeks(r.Context(), role, filter)
	if err != nil {
		h.writeFailure(w, "Failed to list supply weeks", err)
		return
	}
	writeOK(w, "", weeks)
}

// ListRoutes returns the delivery routes reachable by the role.
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	role, ok := h.requestContext(w, r, nil)
	if !ok {
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		h.writeFailure(w, "Invalid filter", err)
		return
	}
	routes, err := h.Service.Query().AvailableRoutes(r.Context(), role, filter)
	if err != nil {
		h.writeFailure(w, "Failed to list routes", err)
		return
	}
	writeOK(w, "", stringsOf(routes))
}

// GetConsumptionWeek maps a supply week to its consumption week.
func (h *Handler) GetConsumptionWeek(w http.ResponseWriter, r *http.Request) {
	week, err := h.Service.ConsumptionWeekFor(r.Context(), r.URL.Query().Get("supply_week"))
	if err != nil {
		h.writeFailure(w, "Failed to look up consumption week", err)
		return
	}
	writeOK(w, "", map[string]string{
		"supply_week":      r.URL.Query().Get("supply_week"),
		"consumption_week": week,
	})
}

// GetGenericOptions lists the generic products an origin can be replaced by.
func (h *Handler) GetGenericOptions(w http.ResponseWriter, r *http.Request) {
	origin := workflow.ProductID(r.URL.Query().Get("origin_product_id"))
	opts, err := h.Service.GenericOptions(r.Context(), origin)
	if err != nil {
		h.writeFailure(w, "Failed to list generic options", err)
		return
	}
	dtos := make([]GenericOptionDTO, len(opts))
	for i, o := range opts {
		dtos[i] = toGenericOptionDTO(o)
	}
	writeOK(w, "", dtos)
}

// ListCatalogGroups lists the catalog's product groups.
func (h *Handler) ListCatalogGroups(w http.ResponseWriter, r *http.Request) {
	groups := h.Catalog.Groups()
	dtos := make([]GroupDTO, len(groups))
	for i, g := range groups {
		dtos[i] = GroupDTO{ID: string(g.ID), Name: g.Name}
	}
	writeOK(w, "", dtos)
}

// ListOriginProducts lists the origin products of one group, the valid swap
// targets for its necessities.
func (h *Handler) ListOriginProducts(w http.ResponseWriter, r *http.Request) {
	group := workflow.GroupID(r.URL.Query().Get("group"))
	if group == "" {
		writeError(w, http.StatusBadRequest, "group is required", nil)
		return
	}
	origins := h.Catalog.OriginsInGroup(group)
	dtos := make([]ProductDTO, len(origins))
	for i, o := range origins {
		dtos[i] = toProductDTO(o.ProductRef)
	}
	writeOK(w, "", dtos)
}

// Health reports whether the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.writeFailure(w, "Store unavailable", err)
			return
		}
	}
	writeOK(w, "ok", nil)
}
