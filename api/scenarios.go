/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates textbooks, branches,
	sets, and allocations that demonstrate specific features.

AVAILABLE SCENARIOS:

	fresh-year:      Catalog and directory seeded, nothing distributed yet
	mid-year:        Sets distributed to two branches plus teacher copies
	collection-time: End of year with partial returns and missing books

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create textbooks, teachers, branches, sets
 3. Optionally allocate through the engine (never raw inserts, so the
    stock counters stay consistent)
 4. Optionally record returns through the reconciler

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "mid-year"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/campus/textbook-engine/engine"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-year",
		Name:        "Fresh Year",
		Description: "Catalog and directory seeded, nothing distributed yet",
	},
	{
		ID:          "mid-year",
		Name:        "Mid-Year",
		Description: "Sets distributed to two branches plus individual teacher copies",
	},
	{
		ID:          "collection-time",
		Name:        "Collection Time",
		Description: "End of year: partial returns recorded, some books missing",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "fresh-year":
		err = loadFreshYearScenario(ctx, h)
	case "mid-year":
		err = loadMidYearScenario(ctx, h)
	case "collection-time":
		err = loadCollectionTimeScenario(ctx, h)
	default:
		writeErrorCode(w, http.StatusBadRequest, "Unknown scenario: "+req.ScenarioID, "VALIDATION", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const demoYear = "2026-2027"

// seedBaseData creates the shared catalog and directory used by every
// scenario: six textbooks, two teachers, two branches, and per-grade sets.
func seedBaseData(ctx context.Context, h *Handler) error {
	textbooks := []engine.Textbook{
		{ID: "tb-math-5", Title: "Mathematics 5", Subject: "math", GradeFrom: 5, GradeTo: 5, TotalStock: 60, AvailableStock: 60},
		{ID: "tb-sci-5", Title: "Science 5", Subject: "science", GradeFrom: 5, GradeTo: 5, TotalStock: 55, AvailableStock: 55},
		{ID: "tb-hist-5", Title: "History 5", Subject: "history", GradeFrom: 5, GradeTo: 5, TotalStock: 50, AvailableStock: 50},
		{ID: "tb-math-6", Title: "Mathematics 6", Subject: "math", GradeFrom: 6, GradeTo: 6, TotalStock: 45, AvailableStock: 45},
		{ID: "tb-sci-6", Title: "Science 6", Subject: "science", GradeFrom: 6, GradeTo: 6, TotalStock: 45, AvailableStock: 45},
		{ID: "tb-atlas", Title: "World Atlas", Subject: "geography", GradeFrom: 5, GradeTo: 8, TotalStock: 20, AvailableStock: 20},
	}
	for _, tb := range textbooks {
		if err := h.Store.SaveTextbook(ctx, tb); err != nil {
			return fmt.Errorf("seed textbook %s: %w", tb.ID, err)
		}
	}

	teachers := []engine.Teacher{
		{ID: "t-garcia", Name: "M. Garcia"},
		{ID: "t-okafor", Name: "A. Okafor"},
	}
	for _, t := range teachers {
		if err := h.Store.SaveTeacher(ctx, t); err != nil {
			return fmt.Errorf("seed teacher %s: %w", t.ID, err)
		}
	}

	branches := []engine.Branch{
		{ID: "5a", Name: "5-A", Grade: 5, StudentCount: 28, TeacherID: "t-garcia"},
		{ID: "6b", Name: "6-B", Grade: 6, StudentCount: 24, TeacherID: "t-okafor"},
	}
	for _, b := range branches {
		if err := h.Store.SaveBranch(ctx, b); err != nil {
			return fmt.Errorf("seed branch %s: %w", b.ID, err)
		}
	}

	sets := []engine.TextbookSet{
		{ID: "set-5", Name: "Grade 5 Core", Grade: 5, TextbookIDs: []engine.TextbookID{"tb-math-5", "tb-sci-5", "tb-hist-5"}},
		{ID: "set-6", Name: "Grade 6 Core", Grade: 6, TextbookIDs: []engine.TextbookID{"tb-math-6", "tb-sci-6"}},
	}
	for _, set := range sets {
		if err := h.Store.SaveSet(ctx, set); err != nil {
			return fmt.Errorf("seed set %s: %w", set.ID, err)
		}
	}

	return nil
}

// loadFreshYearScenario seeds the catalog and directory with full stock.
func loadFreshYearScenario(ctx context.Context, h *Handler) error {
	return seedBaseData(ctx, h)
}

// loadMidYearScenario distributes both sets and a couple of teacher copies.
func loadMidYearScenario(ctx context.Context, h *Handler) error {
	if err := seedBaseData(ctx, h); err != nil {
		return err
	}

	if _, err := h.Batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: demoYear,
	}); err != nil {
		return fmt.Errorf("allocate set-5 to 5a: %w", err)
	}
	if _, err := h.Batch.Allocate(ctx, engine.BatchInput{
		BranchID: "6b", SetID: "set-6", AcademicYear: demoYear,
	}); err != nil {
		return fmt.Errorf("allocate set-6 to 6b: %w", err)
	}

	if _, err := h.Individual.Allocate(ctx, engine.IndividualInput{
		TextbookID:    "tb-atlas",
		RecipientType: engine.RecipientTeacher,
		RecipientID:   "t-garcia",
		Quantity:      2,
		AcademicYear:  demoYear,
	}); err != nil {
		return fmt.Errorf("allocate atlas to t-garcia: %w", err)
	}

	return nil
}

// loadCollectionTimeScenario builds on mid-year with partial returns: most
// of 5-A's math books come back, a few go missing, and 6-B is untouched.
func loadCollectionTimeScenario(ctx context.Context, h *Handler) error {
	if err := loadMidYearScenario(ctx, h); err != nil {
		return err
	}

	distributions, err := h.Store.ListDistributions(ctx, demoYear)
	if err != nil {
		return err
	}

	for _, d := range distributions {
		if d.BranchID != "5a" {
			continue
		}
		if _, err := h.Reconciler.ReturnBatch(ctx, d.ID, []engine.ReturnLine{
			{TextbookID: "tb-math-5", ReturnedQty: 25, MissingQty: 3},
			{TextbookID: "tb-sci-5", ReturnedQty: 20},
		}); err != nil {
			return fmt.Errorf("record returns for %s: %w", d.ID, err)
		}
	}

	return nil
}
