/*
handlers.go - HTTP API handlers for the textbook distribution engine

PURPOSE:
  Exposes the distribution engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Catalog:
    GET    /api/textbooks                 List all textbooks
    POST   /api/textbooks                 Create textbook
    GET    /api/textbooks/{id}            Get textbook details
    PUT    /api/textbooks/{id}/stock      Resize total stock

  Directory:
    GET/POST /api/branches                Branches
    POST     /api/teachers                Teachers
    POST     /api/students                Students
    GET/POST /api/sets                    Textbook sets

  Batch allocations:
    GET    /api/distributions             List (optional ?academic_year=)
    POST   /api/distributions             Allocate a set to a branch
    GET    /api/distributions/{id}        Get one
    POST   /api/distributions/{id}/returns Record returns
    DELETE /api/distributions/{id}        Cancel (no returns recorded)

  Individual allocations:
    GET/POST /api/individual-distributions
    GET      /api/individual-distributions/{id}
    POST     /api/individual-distributions/{id}/return
    DELETE   /api/individual-distributions/{id}

  Reporting:
    GET    /api/statistics                Aggregate counters and rates

  Scenarios:
    GET    /api/scenarios                 List demo scenarios
    POST   /api/scenarios/load            Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access
  - Batch/Individual allocators, reconciler, statistics projection

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (allocator, reconciler, projection)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Engine errors map to JSON with appropriate HTTP status:
  - 400 VALIDATION:         Validation errors, invalid input
  - 404 NOT_FOUND:          Unknown textbook/branch/set/distribution
  - 409 INSUFFICIENT_STOCK: Not enough available copies (with details)
  - 409 CONFLICT:           Over-return, delete-after-return, duplicate key
  - 500 INTERNAL:           Everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campus/textbook-engine/engine"
	"github.com/campus/textbook-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Batch      *engine.BatchAllocator
	Individual *engine.IndividualAllocator
	Reconciler *engine.ReturnReconciler
	Stats      *engine.StatisticsProjection

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:      store,
		Batch:      engine.NewBatchAllocator(store),
		Individual: engine.NewIndividualAllocator(store),
		Reconciler: engine.NewReturnReconciler(store),
		Stats:      engine.NewStatisticsProjection(store),
	}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListTextbooks returns all textbooks.
// GET /api/textbooks
func (h *Handler) ListTextbooks(w http.ResponseWriter, r *http.Request) {
	textbooks, err := h.Store.ListTextbooks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list textbooks", err)
		return
	}

	dtos := make([]TextbookDTO, len(textbooks))
	for i, tb := range textbooks {
		dtos[i] = toTextbookDTO(tb)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTextbook returns a single textbook.
// GET /api/textbooks/{id}
func (h *Handler) GetTextbook(w http.ResponseWriter, r *http.Request) {
	id := engine.TextbookID(chi.URLParam(r, "id"))

	tb, err := h.Store.GetTextbook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get textbook", err)
		return
	}
	if tb == nil {
		writeErrorCode(w, http.StatusNotFound, "Textbook not found", "NOT_FOUND", nil)
		return
	}
	writeJSON(w, http.StatusOK, toTextbookDTO(*tb))
}

// CreateTextbook creates a new textbook with available stock equal to total.
// POST /api/textbooks
func (h *Handler) CreateTextbook(w http.ResponseWriter, r *http.Request) {
	var req CreateTextbookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Title == "" {
		writeErrorCode(w, http.StatusBadRequest, "id and title are required", "VALIDATION", nil)
		return
	}
	if req.TotalStock < 0 {
		writeErrorCode(w, http.StatusBadRequest, "total_stock must be >= 0", "VALIDATION", nil)
		return
	}

	tb := engine.Textbook{
		ID:             engine.TextbookID(req.ID),
		Title:          req.Title,
		Subject:        req.Subject,
		GradeFrom:      req.GradeFrom,
		GradeTo:        req.GradeTo,
		TotalStock:     req.TotalStock,
		AvailableStock: req.TotalStock,
	}
	if err := h.Store.SaveTextbook(r.Context(), tb); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create textbook", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTextbookDTO(tb))
}

// UpdateStock resizes a textbook's total stock, preserving outstanding
// allocations.
// PUT /api/textbooks/{id}/stock
func (h *Handler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	id := engine.TextbookID(chi.URLParam(r, "id"))

	var req UpdateStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.Store.WithTx(r.Context(), func(s engine.Store) error {
		return engine.NewStockLedger(s).SetTotalStock(r.Context(), id, req.TotalStock)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	tb, err := h.Store.GetTextbook(r.Context(), id)
	if err != nil || tb == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload textbook", err)
		return
	}
	writeJSON(w, http.StatusOK, toTextbookDTO(*tb))
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// ListBranches returns all branches.
// GET /api/branches
func (h *Handler) ListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.Store.ListBranches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list branches", err)
		return
	}

	dtos := make([]BranchDTO, len(branches))
	for i, b := range branches {
		dtos[i] = toBranchDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBranch creates a new branch.
// POST /api/branches
func (h *Handler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	var req CreateBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeErrorCode(w, http.StatusBadRequest, "id and name are required", "VALIDATION", nil)
		return
	}
	if req.StudentCount < 0 {
		writeErrorCode(w, http.StatusBadRequest, "student_count must be >= 0", "VALIDATION", nil)
		return
	}

	b := engine.Branch{
		ID:           engine.BranchID(req.ID),
		Name:         req.Name,
		Grade:        req.Grade,
		StudentCount: req.StudentCount,
		TeacherID:    engine.TeacherID(req.TeacherID),
	}
	if err := h.Store.SaveBranch(r.Context(), b); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create branch", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBranchDTO(b))
}

// CreateTeacher creates a new teacher.
// POST /api/teachers
func (h *Handler) CreateTeacher(w http.ResponseWriter, r *http.Request) {
	var req TeacherDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeErrorCode(w, http.StatusBadRequest, "id and name are required", "VALIDATION", nil)
		return
	}

	t := engine.Teacher{ID: engine.TeacherID(req.ID), Name: req.Name}
	if err := h.Store.SaveTeacher(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create teacher", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// CreateStudent creates a new student.
// POST /api/students
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req StudentDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeErrorCode(w, http.StatusBadRequest, "id and name are required", "VALIDATION", nil)
		return
	}

	st := engine.Student{
		ID:       engine.StudentID(req.ID),
		Name:     req.Name,
		BranchID: engine.BranchID(req.BranchID),
	}
	if err := h.Store.SaveStudent(r.Context(), st); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create student", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListSets returns all textbook sets.
// GET /api/sets
func (h *Handler) ListSets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.Store.ListSets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sets", err)
		return
	}

	dtos := make([]SetDTO, len(sets))
	for i, set := range sets {
		dtos[i] = toSetDTO(set)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSet creates a new textbook set. Every referenced textbook must exist.
// POST /api/sets
func (h *Handler) CreateSet(w http.ResponseWriter, r *http.Request) {
	var req CreateSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeErrorCode(w, http.StatusBadRequest, "id and name are required", "VALIDATION", nil)
		return
	}
	if len(req.TextbookIDs) == 0 {
		writeErrorCode(w, http.StatusBadRequest, "textbook_ids must not be empty", "VALIDATION", nil)
		return
	}

	ids := make([]engine.TextbookID, len(req.TextbookIDs))
	for i, raw := range req.TextbookIDs {
		tid := engine.TextbookID(raw)
		tb, err := h.Store.GetTextbook(r.Context(), tid)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to check textbook", err)
			return
		}
		if tb == nil {
			writeErrorCode(w, http.StatusNotFound, "Textbook not found: "+raw, "NOT_FOUND", nil)
			return
		}
		ids[i] = tid
	}

	set := engine.TextbookSet{
		ID:          engine.SetID(req.ID),
		Name:        req.Name,
		Grade:       req.Grade,
		TextbookIDs: ids,
	}
	if err := h.Store.SaveSet(r.Context(), set); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create set", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSetDTO(set))
}

// =============================================================================
// BATCH DISTRIBUTION HANDLERS
// =============================================================================

// ListDistributions returns batch distributions, optionally filtered by year.
// GET /api/distributions?academic_year=2026-2027
func (h *Handler) ListDistributions(w http.ResponseWriter, r *http.Request) {
	distributions, err := h.Store.ListDistributions(r.Context(), r.URL.Query().Get("academic_year"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list distributions", err)
		return
	}
	writeJSON(w, http.StatusOK, toDistributionDTOs(distributions))
}

// GetDistribution returns one batch distribution.
// GET /api/distributions/{id}
func (h *Handler) GetDistribution(w http.ResponseWriter, r *http.Request) {
	id := engine.DistributionID(chi.URLParam(r, "id"))

	dist, err := h.Store.GetDistribution(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get distribution", err)
		return
	}
	if dist == nil {
		writeErrorCode(w, http.StatusNotFound, "Distribution not found", "NOT_FOUND", nil)
		return
	}
	writeJSON(w, http.StatusOK, toDistributionDTO(*dist))
}

// CreateDistribution allocates a textbook set to a branch, one copy per
// enrolled student per title. All-or-nothing.
// POST /api/distributions
func (h *Handler) CreateDistribution(w http.ResponseWriter, r *http.Request) {
	var req CreateDistributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	dist, err := h.Batch.Allocate(r.Context(), engine.BatchInput{
		BranchID:       engine.BranchID(req.BranchID),
		SetID:          engine.SetID(req.SetID),
		AcademicYear:   req.AcademicYear,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDistributionDTO(*dist))
}

// ReturnDistribution records returned/missing splits on a batch distribution.
// POST /api/distributions/{id}/returns
func (h *Handler) ReturnDistribution(w http.ResponseWriter, r *http.Request) {
	id := engine.DistributionID(chi.URLParam(r, "id"))

	var req ReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lines := make([]engine.ReturnLine, len(req.Lines))
	for i, line := range req.Lines {
		lines[i] = engine.ReturnLine{
			TextbookID:  engine.TextbookID(line.TextbookID),
			ReturnedQty: line.ReturnedQty,
			MissingQty:  line.MissingQty,
		}
	}

	dist, err := h.Reconciler.ReturnBatch(r.Context(), id, lines)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDistributionDTO(*dist))
}

// DeleteDistribution cancels a batch distribution with no recorded returns.
// DELETE /api/distributions/{id}
func (h *Handler) DeleteDistribution(w http.ResponseWriter, r *http.Request) {
	id := engine.DistributionID(chi.URLParam(r, "id"))

	if err := h.Batch.Delete(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// INDIVIDUAL DISTRIBUTION HANDLERS
// =============================================================================

// ListIndividualDistributions returns individual allocations, optionally
// filtered by year.
// GET /api/individual-distributions?academic_year=2026-2027
func (h *Handler) ListIndividualDistributions(w http.ResponseWriter, r *http.Request) {
	distributions, err := h.Store.ListIndividualDistributions(r.Context(), r.URL.Query().Get("academic_year"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list individual distributions", err)
		return
	}
	writeJSON(w, http.StatusOK, toIndividualDTOs(distributions))
}

// GetIndividualDistribution returns one individual allocation.
// GET /api/individual-distributions/{id}
func (h *Handler) GetIndividualDistribution(w http.ResponseWriter, r *http.Request) {
	id := engine.DistributionID(chi.URLParam(r, "id"))

	dist, err := h.Store.GetIndividualDistribution(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get individual distribution", err)
		return
	}
	if dist == nil {
		writeErrorCode(w, http.StatusNotFound, "Distribution not found", "NOT_FOUND", nil)
		return
	}
	writeJSON(w, http.StatusOK, toIndividualDTO(*dist))
}

// CreateIndividualDistribution allocates one textbook to a teacher or student.
// POST /api/individual-distributions
func (h *Handler) CreateIndividualDistribution(w http.ResponseWriter, r *http.Request) {
	var req CreateIndividualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	dist, err := h.Individual.Allocate(r.Context(), engine.IndividualInput{
		TextbookID:     engine.TextbookID(req.TextbookID),
		RecipientType:  engine.RecipientType(req.RecipientType),
		RecipientID:    req.RecipientID,
		RecipientName:  req.RecipientName,
		Quantity:       req.Quantity,
		AcademicYear:   req.AcademicYear,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIndividualDTO(*dist))
}

// ReturnIndividualDistribution records a returned/missing split on an
// individual allocation.
// POST /api/individual-distributions/{id}/return
func (h *Handler) ReturnIndividualDistribution(w http.ResponseWriter, r *http.Request) {
	id := engine.DistributionID(chi.URLParam(r, "id"))

	var req IndividualReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	dist, err := h.Reconciler.ReturnIndividual(r.Context(), id, req.ReturnedQty, req.MissingQty)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIndividualDTO(*dist))
}

// DeleteIndividualDistribution cancels an individual allocation with no
// recorded returns.
// DELETE /api/individual-distributions/{id}
func (h *Handler) DeleteIndividualDistribution(w http.ResponseWriter, r *http.Request) {
	id := engine.DistributionID(chi.URLParam(r, "id"))

	if err := h.Individual.Delete(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REPORTING HANDLERS
// =============================================================================

// GetStatistics returns the aggregate reporting snapshot.
// GET /api/statistics
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Stats.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatisticsDTO(*stats))
}

// =============================================================================
// RESPONSE HELPERS
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

func writeErrorCode(w http.ResponseWriter, status int, message, code string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// writeEngineError translates domain errors into HTTP responses.
func writeEngineError(w http.ResponseWriter, err error) {
	var stockErr *engine.InsufficientStockError
	if errors.As(err, &stockErr) {
		writeErrorCode(w, http.StatusConflict, stockErr.Error(), "INSUFFICIENT_STOCK", map[string]any{
			"textbook_id": string(stockErr.TextbookID),
			"required":    stockErr.Required,
			"available":   stockErr.Available,
		})
		return
	}

	var overErr *engine.OverReturnError
	if errors.As(err, &overErr) {
		writeErrorCode(w, http.StatusConflict, overErr.Error(), "CONFLICT", map[string]any{
			"textbook_id": string(overErr.TextbookID),
			"distributed": overErr.Distributed,
			"returned":    overErr.Returned,
			"missing":     overErr.Missing,
		})
		return
	}

	switch {
	case engine.IsValidation(err):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "VALIDATION", nil)
	case engine.IsNotFound(err):
		writeErrorCode(w, http.StatusNotFound, err.Error(), "NOT_FOUND", nil)
	case engine.IsConflict(err), errors.Is(err, engine.ErrInsufficientAvailableStock):
		writeErrorCode(w, http.StatusConflict, err.Error(), "CONFLICT", nil)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
