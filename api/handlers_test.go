package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus/textbook-engine/api"
	"github.com/campus/textbook-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRouter(t *testing.T) http.Handler {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return api.NewRouter(api.NewHandler(store))
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

// seedViaAPI builds the standard fixture through the HTTP surface: one
// textbook with 30 copies, a teacher, a 25-student branch, a one-title set.
func seedViaAPI(t *testing.T, router http.Handler) {
	t.Helper()

	rec := doJSON(t, router, "POST", "/api/textbooks", api.CreateTextbookRequest{
		ID: "tb-math", Title: "Mathematics 5", Subject: "math",
		GradeFrom: 5, GradeTo: 5, TotalStock: 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, "POST", "/api/teachers", api.TeacherDTO{ID: "t-1", Name: "M. Garcia"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, "POST", "/api/branches", api.CreateBranchRequest{
		ID: "5a", Name: "5-A", Grade: 5, StudentCount: 25, TeacherID: "t-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, "POST", "/api/sets", api.CreateSetRequest{
		ID: "set-5", Name: "Grade 5 Core", Grade: 5, TextbookIDs: []string{"tb-math"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func allocateViaAPI(t *testing.T, router http.Handler) api.DistributionDTO {
	t.Helper()
	rec := doJSON(t, router, "POST", "/api/distributions", api.CreateDistributionRequest{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[api.DistributionDTO](t, rec)
}

// =============================================================================
// CATALOG ENDPOINT TESTS
// =============================================================================

func TestAPI_CreateTextbook_StartsFullyAvailable(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/textbooks", api.CreateTextbookRequest{
		ID: "tb-1", Title: "Mathematics 5", TotalStock: 40,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	tb := decode[api.TextbookDTO](t, rec)
	assert.Equal(t, 40, tb.TotalStock)
	assert.Equal(t, 40, tb.AvailableStock)
}

func TestAPI_CreateTextbook_MissingTitle_400(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/textbooks", api.CreateTextbookRequest{ID: "tb-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "VALIDATION", resp.Code)
}

func TestAPI_GetTextbook_Unknown_404(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "GET", "/api/textbooks/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_UpdateStock_Resize(t *testing.T) {
	router := newTestRouter(t)
	seedViaAPI(t, router)
	allocateViaAPI(t, router)

	rec := doJSON(t, router, "PUT", "/api/textbooks/tb-math/stock", api.UpdateStockRequest{TotalStock: 40})
	require.Equal(t, http.StatusOK, rec.Code)

	tb := decode[api.TextbookDTO](t, rec)
	assert.Equal(t, 40, tb.TotalStock)
	assert.Equal(t, 15, tb.AvailableStock, "outstanding 25 copies preserved")
}

// =============================================================================
// DISTRIBUTION ENDPOINT TESTS
// =============================================================================

func TestAPI_CreateDistribution_Success(t *testing.T) {
	router := newTestRouter(t)
	seedViaAPI(t, router)

	dist := allocateViaAPI(t, router)
	assert.Equal(t, "distributed", dist.Status)
	require.Len(t, dist.Details, 1)
	assert.Equal(t, 25, dist.Details[0].DistributedQty)

	rec := doJSON(t, router, "GET", "/api/textbooks/tb-math", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tb := decode[api.TextbookDTO](t, rec)
	assert.Equal(t, 5, tb.AvailableStock)
}

func TestAPI_CreateDistribution_InsufficientStock_409WithDetails(t *testing.T) {
	router := newTestRouter(t)
	seedViaAPI(t, router)
	allocateViaAPI(t, router)

	rec := doJSON(t, router, "POST", "/api/branches", api.CreateBranchRequest{
		ID: "5b", Name: "5-B", Grade: 5, StudentCount: 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, "POST", "/api/distributions", api.CreateDistributionRequest{
		BranchID: "5b", SetID: "set-5", AcademicYear: "2026-2027",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "INSUFFICIENT_STOCK", resp.Code)

	details, ok := resp.Details.(map[string]any)
	require.True(t, ok, "details should be an object")
	assert.Equal(t, "tb-math", details["textbook_id"])
	assert.Equal(t, float64(10), details["required"])
	assert.Equal(t, float64(5), details["available"])
}

func TestAPI_CreateDistribution_UnknownSet_404(t *testing.T) {
	router := newTestRouter(t)
	seedViaAPI(t, router)

	rec := doJSON(t, router, "POST", "/api/distributions", api.CreateDistributionRequest{
		BranchID: "5a", SetID: "nope", AcademicYear: "2026-2027",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ReturnDistribution_PartialThenDeleteConflicts(t *testing.T) {
	router := newTestRouter(t)
	seedViaAPI(t, router)
	dist := allocateViaAPI(t, router)

	rec := doJSON(t, router, "POST", "/api/distributions/"+dist.ID+"/returns", api.ReturnRequest{
		Lines: []api.ReturnLineDTO{{TextbookID: "tb-math", ReturnedQty: 10}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	updated := decode[api.DistributionDTO](t, rec)
	assert.Equal(t, "partial", updated.Status)
	assert.NotNil(t, updated.ReturnedAt)

	rec = doJSON(t, router, "DELETE", "/api/distributions/"+dist.ID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "CONFLICT", resp.Code)
}

func TestAPI_ReturnDistribution_OverReturn_409(t *testing.T) {
	router := newTestRouter(t)
	seedViaAPI(t, router)
	dist := allocateViaAPI(t, router)

	rec := doJSON(t, router, "POST", "/api/distributions/"+dist.ID+"/returns", api.ReturnRequest{
		Lines: []api.ReturnLineDTO{{TextbookID: "tb-math", ReturnedQty: 26}},
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "CONFLICT", resp.Code)
}

func TestAPI_DeleteDistribution_NoReturns_204(t *testing.T) {
	router := newTestRouter(t)
	seedViaAPI(t, router)
	dist := allocateViaAPI(t, router)

	rec := doJSON(t, router, "DELETE", "/api/distributions/"+dist.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, "GET", "/api/textbooks/tb-math", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tb := decode[api.TextbookDTO](t, rec)
	assert.Equal(t, 30, tb.AvailableStock)
}

func TestAPI_ListDistributions_FilterByYear(t *testing.T) {
	router := newTestRouter(t)
	seedViaAPI(t, router)
	allocateViaAPI(t, router)

	rec := doJSON(t, router, "GET", "/api/distributions?academic_year=2026-2027", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.DistributionDTO](t, rec), 1)

	rec = doJSON(t, router, "GET", "/api/distributions?academic_year=1999-2000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]api.DistributionDTO](t, rec))
}

// =============================================================================
// INDIVIDUAL DISTRIBUTION ENDPOINT TESTS
// =============================================================================

func TestAPI_IndividualFlow(t *testing.T) {
	router := newTestRouter(t)
	seedViaAPI(t, router)

	rec := doJSON(t, router, "POST", "/api/individual-distributions", api.CreateIndividualRequest{
		TextbookID:    "tb-math",
		RecipientType: "teacher",
		RecipientID:   "t-1",
		Quantity:      2,
		AcademicYear:  "2026-2027",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	dist := decode[api.IndividualDistributionDTO](t, rec)
	assert.Equal(t, "M. Garcia", dist.RecipientName)
	assert.Equal(t, "distributed", dist.Status)

	rec = doJSON(t, router, "POST", "/api/individual-distributions/"+dist.ID+"/return",
		api.IndividualReturnRequest{ReturnedQty: 1, MissingQty: 1})
	require.Equal(t, http.StatusOK, rec.Code)

	updated := decode[api.IndividualDistributionDTO](t, rec)
	assert.Equal(t, "returned", updated.Status)
	assert.Equal(t, 1, updated.ReturnedQty)
	assert.Equal(t, 1, updated.MissingQty)
}

func TestAPI_Individual_DuplicateIdempotencyKey_409(t *testing.T) {
	router := newTestRouter(t)
	seedViaAPI(t, router)

	req := api.CreateIndividualRequest{
		TextbookID:     "tb-math",
		RecipientType:  "teacher",
		RecipientID:    "t-1",
		Quantity:       1,
		AcademicYear:   "2026-2027",
		IdempotencyKey: "req-9",
	}
	rec := doJSON(t, router, "POST", "/api/individual-distributions", req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, "POST", "/api/individual-distributions", req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// STATISTICS AND SCENARIO TESTS
// =============================================================================

func TestAPI_Statistics(t *testing.T) {
	router := newTestRouter(t)
	seedViaAPI(t, router)
	dist := allocateViaAPI(t, router)

	rec := doJSON(t, router, "POST", "/api/distributions/"+dist.ID+"/returns", api.ReturnRequest{
		Lines: []api.ReturnLineDTO{{TextbookID: "tb-math", ReturnedQty: 20, MissingQty: 5}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/api/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decode[api.StatisticsDTO](t, rec)
	assert.Equal(t, 1, stats.TotalDistributions)
	assert.Equal(t, 0, stats.PendingReturns)
	assert.Equal(t, 5, stats.TotalMissingBooks)
	assert.Equal(t, 30, stats.TotalTextbookStock)
	assert.Equal(t, 25, stats.AvailableTextbookStock)
	assert.Equal(t, "0.8", stats.ReturnRate)
	assert.Equal(t, "0.2", stats.MissingRate)
}

func TestAPI_LoadScenario_MidYear(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/scenarios/load", api.LoadScenarioRequest{
		ScenarioID: "mid-year",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/api/distributions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.DistributionDTO](t, rec), 2)

	rec = doJSON(t, router, "GET", "/api/individual-distributions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.IndividualDistributionDTO](t, rec), 1)
}

func TestAPI_LoadScenario_Unknown_400(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/scenarios/load", api.LoadScenarioRequest{
		ScenarioID: "nope",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
