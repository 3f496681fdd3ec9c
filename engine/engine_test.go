package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/campus/textbook-engine/engine"
	"github.com/campus/textbook-engine/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testEnv struct {
	store      *store.Memory
	batch      *engine.BatchAllocator
	individual *engine.IndividualAllocator
	reconciler *engine.ReturnReconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	return &testEnv{
		store:      mem,
		batch:      engine.NewBatchAllocator(mem),
		individual: engine.NewIndividualAllocator(mem),
		reconciler: engine.NewReturnReconciler(mem),
	}
}

// seedSchool sets up one textbook (30 copies), a branch of 25 students, and a
// single-title set.
func seedSchool(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()

	mustSave(t, env.store.SaveTextbook(ctx, engine.Textbook{
		ID: "tb-math", Title: "Mathematics 5", TotalStock: 30, AvailableStock: 30,
	}))
	mustSave(t, env.store.SaveTeacher(ctx, engine.Teacher{ID: "t-1", Name: "M. Garcia"}))
	mustSave(t, env.store.SaveStudent(ctx, engine.Student{ID: "s-1", Name: "J. Kim", BranchID: "5a"}))
	mustSave(t, env.store.SaveBranch(ctx, engine.Branch{
		ID: "5a", Name: "5-A", Grade: 5, StudentCount: 25, TeacherID: "t-1",
	}))
	mustSave(t, env.store.SaveSet(ctx, engine.TextbookSet{
		ID: "set-5", Name: "Grade 5 Core", Grade: 5,
		TextbookIDs: []engine.TextbookID{"tb-math"},
	}))
}

func mustSave(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func availableStock(t *testing.T, env *testEnv, id engine.TextbookID) int {
	t.Helper()
	tb, err := env.store.GetTextbook(context.Background(), id)
	if err != nil {
		t.Fatalf("get textbook: %v", err)
	}
	if tb == nil {
		t.Fatalf("textbook %s not found", id)
	}
	return tb.AvailableStock
}

// =============================================================================
// BATCH ALLOCATION TESTS
// =============================================================================

func TestBatchAllocate_ReservesOneCopyPerStudent(t *testing.T) {
	// GIVEN: 30 copies available, branch with 25 students
	// WHEN: Allocating the set to the branch
	// THEN: 25 copies reserved, 5 remain available, status is distributed

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dist.Status != engine.StatusDistributed {
		t.Errorf("status = %v, want distributed", dist.Status)
	}
	if len(dist.Details) != 1 || dist.Details[0].DistributedQty != 25 {
		t.Errorf("details = %+v, want one line of 25", dist.Details)
	}
	if got := availableStock(t, env, "tb-math"); got != 5 {
		t.Errorf("available stock = %d, want 5", got)
	}
}

func TestBatchAllocate_InsufficientStock_NothingReserved(t *testing.T) {
	// GIVEN: Only 5 copies left after a first allocation
	// WHEN: Allocating the same set to a second 10-student branch
	// THEN: Rejected with InsufficientStockError{required: 10, available: 5}
	//       and the 5 remaining copies are untouched

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	if _, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	}); err != nil {
		t.Fatalf("first allocation: %v", err)
	}

	mustSave(t, env.store.SaveBranch(ctx, engine.Branch{
		ID: "5b", Name: "5-B", Grade: 5, StudentCount: 10,
	}))

	_, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5b", SetID: "set-5", AcademicYear: "2026-2027",
	})

	var stockErr *engine.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.Required != 10 || stockErr.Available != 5 {
		t.Errorf("error = %+v, want required=10 available=5", stockErr)
	}
	if got := availableStock(t, env, "tb-math"); got != 5 {
		t.Errorf("available stock = %d, want 5 (unchanged)", got)
	}
}

func TestBatchAllocate_AllOrNothing_MultiTextbookSet(t *testing.T) {
	// GIVEN: A two-title set where only the second title is short
	// WHEN: Allocating the set
	// THEN: Nothing is reserved from either title

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	mustSave(t, env.store.SaveTextbook(ctx, engine.Textbook{
		ID: "tb-sci", Title: "Science 5", TotalStock: 10, AvailableStock: 10,
	}))
	mustSave(t, env.store.SaveSet(ctx, engine.TextbookSet{
		ID: "set-both", Name: "Grade 5 Full", Grade: 5,
		TextbookIDs: []engine.TextbookID{"tb-math", "tb-sci"},
	}))

	_, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-both", AcademicYear: "2026-2027",
	})

	var stockErr *engine.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.TextbookID != "tb-sci" {
		t.Errorf("offending textbook = %s, want tb-sci", stockErr.TextbookID)
	}
	if got := availableStock(t, env, "tb-math"); got != 30 {
		t.Errorf("tb-math available = %d, want 30 (untouched)", got)
	}
	if got := availableStock(t, env, "tb-sci"); got != 10 {
		t.Errorf("tb-sci available = %d, want 10 (untouched)", got)
	}
}

func TestBatchAllocate_UnknownBranch_NotFound(t *testing.T) {
	env := newTestEnv(t)
	seedSchool(t, env)

	_, err := env.batch.Allocate(context.Background(), engine.BatchInput{
		BranchID: "nope", SetID: "set-5", AcademicYear: "2026-2027",
	})
	if !engine.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestBatchAllocate_EmptyAcademicYear_Rejected(t *testing.T) {
	env := newTestEnv(t)
	seedSchool(t, env)

	_, err := env.batch.Allocate(context.Background(), engine.BatchInput{
		BranchID: "5a", SetID: "set-5",
	})
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBatchAllocate_DuplicateIdempotencyKey_Conflict(t *testing.T) {
	// GIVEN: A successful allocation with an idempotency key
	// WHEN: Submitting the same key again
	// THEN: Rejected with ErrDuplicateIdempotencyKey, no extra stock taken

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	in := engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
		IdempotencyKey: "req-123",
	}
	if _, err := env.batch.Allocate(ctx, in); err != nil {
		t.Fatalf("first allocation: %v", err)
	}

	_, err := env.batch.Allocate(ctx, in)
	if !errors.Is(err, engine.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
	if got := availableStock(t, env, "tb-math"); got != 5 {
		t.Errorf("available stock = %d, want 5", got)
	}
}

// =============================================================================
// RETURN RECONCILIATION TESTS
// =============================================================================

func TestReturnBatch_PartialReturn_ReleasesReturnedOnly(t *testing.T) {
	// GIVEN: 25 copies distributed to the branch
	// WHEN: 20 come back and 5 are reported missing
	// THEN: Available rises by 20 only, status flips to returned (fully
	//       accounted), returnedAt is stamped

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	updated, err := env.reconciler.ReturnBatch(ctx, dist.ID, []engine.ReturnLine{
		{TextbookID: "tb-math", ReturnedQty: 20, MissingQty: 5},
	})
	if err != nil {
		t.Fatalf("return: %v", err)
	}

	if got := availableStock(t, env, "tb-math"); got != 25 {
		t.Errorf("available stock = %d, want 25 (missing copies not released)", got)
	}
	if updated.Status != engine.StatusReturned {
		t.Errorf("status = %v, want returned", updated.Status)
	}
	if updated.ReturnedAt == nil {
		t.Error("returnedAt should be set after first return")
	}
}

func TestReturnBatch_Incremental_StatusProgression(t *testing.T) {
	// GIVEN: 25 copies distributed
	// WHEN: 10 returned first, then the remaining 15
	// THEN: Status goes distributed -> partial -> returned

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	first, err := env.reconciler.ReturnBatch(ctx, dist.ID, []engine.ReturnLine{
		{TextbookID: "tb-math", ReturnedQty: 10},
	})
	if err != nil {
		t.Fatalf("first return: %v", err)
	}
	if first.Status != engine.StatusPartial {
		t.Errorf("status after first return = %v, want partial", first.Status)
	}

	second, err := env.reconciler.ReturnBatch(ctx, dist.ID, []engine.ReturnLine{
		{TextbookID: "tb-math", ReturnedQty: 15},
	})
	if err != nil {
		t.Fatalf("second return: %v", err)
	}
	if second.Status != engine.StatusReturned {
		t.Errorf("status after second return = %v, want returned", second.Status)
	}
	if got := availableStock(t, env, "tb-math"); got != 30 {
		t.Errorf("available stock = %d, want 30", got)
	}
}

func TestReturnBatch_OverReturn_RejectedWithoutMutation(t *testing.T) {
	// GIVEN: 25 distributed, 20 already returned
	// WHEN: Returning 10 more (cumulative 30 > 25)
	// THEN: Rejected with OverReturnError, stock and record unchanged

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := env.reconciler.ReturnBatch(ctx, dist.ID, []engine.ReturnLine{
		{TextbookID: "tb-math", ReturnedQty: 20},
	}); err != nil {
		t.Fatalf("first return: %v", err)
	}

	_, err = env.reconciler.ReturnBatch(ctx, dist.ID, []engine.ReturnLine{
		{TextbookID: "tb-math", ReturnedQty: 10},
	})

	var overErr *engine.OverReturnError
	if !errors.As(err, &overErr) {
		t.Fatalf("expected OverReturnError, got %v", err)
	}
	if got := availableStock(t, env, "tb-math"); got != 25 {
		t.Errorf("available stock = %d, want 25 (unchanged)", got)
	}

	reloaded, err := env.store.GetDistribution(ctx, dist.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Details[0].ReturnedQty != 20 {
		t.Errorf("returned qty = %d, want 20 (unchanged)", reloaded.Details[0].ReturnedQty)
	}
}

func TestReturnBatch_NegativeQuantities_Rejected(t *testing.T) {
	// GIVEN: 25 distributed, 20 already returned
	// WHEN: Submitting a negative returned increment (-15)
	// THEN: Rejected with a validation error; a negative increment would
	//       un-return copies whose stock was already released

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := env.reconciler.ReturnBatch(ctx, dist.ID, []engine.ReturnLine{
		{TextbookID: "tb-math", ReturnedQty: 20},
	}); err != nil {
		t.Fatalf("first return: %v", err)
	}

	_, err = env.reconciler.ReturnBatch(ctx, dist.ID, []engine.ReturnLine{
		{TextbookID: "tb-math", ReturnedQty: -15},
	})
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = env.reconciler.ReturnBatch(ctx, dist.ID, []engine.ReturnLine{
		{TextbookID: "tb-math", MissingQty: -1},
	})
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error for negative missing, got %v", err)
	}

	if got := availableStock(t, env, "tb-math"); got != 25 {
		t.Errorf("available stock = %d, want 25 (unchanged)", got)
	}
	reloaded, err := env.store.GetDistribution(ctx, dist.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Details[0].ReturnedQty != 20 {
		t.Errorf("returned qty = %d, want 20 (unchanged)", reloaded.Details[0].ReturnedQty)
	}
}

func TestReturnBatch_UnknownTextbook_Rejected(t *testing.T) {
	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	_, err = env.reconciler.ReturnBatch(ctx, dist.ID, []engine.ReturnLine{
		{TextbookID: "tb-unknown", ReturnedQty: 1},
	})
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReturnBatch_DuplicateLine_Rejected(t *testing.T) {
	// GIVEN: A distribution of 25 copies
	// WHEN: One request lists the same textbook twice (15 + 15)
	// THEN: Rejected up front; two lines that individually fit could
	//       jointly overflow

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	_, err = env.reconciler.ReturnBatch(ctx, dist.ID, []engine.ReturnLine{
		{TextbookID: "tb-math", ReturnedQty: 15},
		{TextbookID: "tb-math", ReturnedQty: 15},
	})
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := availableStock(t, env, "tb-math"); got != 5 {
		t.Errorf("available stock = %d, want 5 (unchanged)", got)
	}
}

// =============================================================================
// DELETION TESTS
// =============================================================================

func TestBatchDelete_NoReturns_RestoresStock(t *testing.T) {
	// GIVEN: A distribution with no recorded returns
	// WHEN: Deleting it
	// THEN: Full quantity released, record gone

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if err := env.batch.Delete(ctx, dist.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if got := availableStock(t, env, "tb-math"); got != 30 {
		t.Errorf("available stock = %d, want 30", got)
	}
	reloaded, err := env.store.GetDistribution(ctx, dist.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded != nil {
		t.Error("distribution should be gone after delete")
	}
}

func TestBatchDelete_AfterReturn_Conflict(t *testing.T) {
	// GIVEN: A distribution with one recorded return
	// WHEN: Deleting it
	// THEN: Rejected with ErrHasReturns (a conflict), record kept

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := env.reconciler.ReturnBatch(ctx, dist.ID, []engine.ReturnLine{
		{TextbookID: "tb-math", ReturnedQty: 5},
	}); err != nil {
		t.Fatalf("return: %v", err)
	}

	err = env.batch.Delete(ctx, dist.ID)
	if !errors.Is(err, engine.ErrHasReturns) {
		t.Fatalf("expected ErrHasReturns, got %v", err)
	}
	if !engine.IsConflict(err) {
		t.Errorf("ErrHasReturns should classify as conflict")
	}

	reloaded, err := env.store.GetDistribution(ctx, dist.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("distribution should survive failed delete, got %v / %v", reloaded, err)
	}
}

// =============================================================================
// INDIVIDUAL ALLOCATION TESTS
// =============================================================================

func TestIndividualAllocate_SnapshotsTeacherName(t *testing.T) {
	// GIVEN: Teacher t-1 named "M. Garcia"
	// WHEN: Allocating 2 copies to the teacher without an explicit name
	// THEN: The directory name is frozen on the record

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.individual.Allocate(ctx, engine.IndividualInput{
		TextbookID:    "tb-math",
		RecipientType: engine.RecipientTeacher,
		RecipientID:   "t-1",
		Quantity:      2,
		AcademicYear:  "2026-2027",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if dist.RecipientName != "M. Garcia" {
		t.Errorf("recipient name = %q, want %q", dist.RecipientName, "M. Garcia")
	}
	if got := availableStock(t, env, "tb-math"); got != 28 {
		t.Errorf("available stock = %d, want 28", got)
	}
}

func TestIndividualAllocate_UnknownRecipient_NotFound(t *testing.T) {
	env := newTestEnv(t)
	seedSchool(t, env)

	_, err := env.individual.Allocate(context.Background(), engine.IndividualInput{
		TextbookID:    "tb-math",
		RecipientType: engine.RecipientStudent,
		RecipientID:   "ghost",
		Quantity:      1,
		AcademicYear:  "2026-2027",
	})
	if !engine.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestIndividualAllocate_ZeroQuantity_Rejected(t *testing.T) {
	env := newTestEnv(t)
	seedSchool(t, env)

	_, err := env.individual.Allocate(context.Background(), engine.IndividualInput{
		TextbookID:    "tb-math",
		RecipientType: engine.RecipientTeacher,
		RecipientID:   "t-1",
		AcademicYear:  "2026-2027",
	})
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIndividualReturn_MissingNeverReleased(t *testing.T) {
	// GIVEN: 3 copies allocated to a student
	// WHEN: 2 returned, 1 missing
	// THEN: Available rises by 2, status returned, the missing copy stays
	//       out of circulation

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.individual.Allocate(ctx, engine.IndividualInput{
		TextbookID:    "tb-math",
		RecipientType: engine.RecipientStudent,
		RecipientID:   "s-1",
		Quantity:      3,
		AcademicYear:  "2026-2027",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	updated, err := env.reconciler.ReturnIndividual(ctx, dist.ID, 2, 1)
	if err != nil {
		t.Fatalf("return: %v", err)
	}

	if got := availableStock(t, env, "tb-math"); got != 29 {
		t.Errorf("available stock = %d, want 29", got)
	}
	if updated.Status != engine.StatusReturned {
		t.Errorf("status = %v, want returned", updated.Status)
	}
}

func TestIndividualReturn_NegativeQuantities_Rejected(t *testing.T) {
	// GIVEN: 3 copies allocated, 2 already returned
	// WHEN: Submitting a negative returned increment
	// THEN: Rejected with a validation error; record and stock unchanged

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.individual.Allocate(ctx, engine.IndividualInput{
		TextbookID:    "tb-math",
		RecipientType: engine.RecipientStudent,
		RecipientID:   "s-1",
		Quantity:      3,
		AcademicYear:  "2026-2027",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := env.reconciler.ReturnIndividual(ctx, dist.ID, 2, 0); err != nil {
		t.Fatalf("first return: %v", err)
	}

	if _, err := env.reconciler.ReturnIndividual(ctx, dist.ID, -1, 0); !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.reconciler.ReturnIndividual(ctx, dist.ID, 0, -1); !engine.IsValidation(err) {
		t.Fatalf("expected validation error for negative missing, got %v", err)
	}

	if got := availableStock(t, env, "tb-math"); got != 29 {
		t.Errorf("available stock = %d, want 29 (unchanged)", got)
	}
	reloaded, err := env.store.GetIndividualDistribution(ctx, dist.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.ReturnedQty != 2 {
		t.Errorf("returned qty = %d, want 2 (unchanged)", reloaded.ReturnedQty)
	}
}

func TestIndividualDelete_RestoresStock(t *testing.T) {
	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.individual.Allocate(ctx, engine.IndividualInput{
		TextbookID:    "tb-math",
		RecipientType: engine.RecipientTeacher,
		RecipientID:   "t-1",
		Quantity:      2,
		AcademicYear:  "2026-2027",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if err := env.individual.Delete(ctx, dist.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := availableStock(t, env, "tb-math"); got != 30 {
		t.Errorf("available stock = %d, want 30", got)
	}
}

// =============================================================================
// STOCK LEDGER TESTS
// =============================================================================

func TestSetTotalStock_PreservesOutstanding(t *testing.T) {
	// GIVEN: 30 total, 25 distributed (5 available)
	// WHEN: Resizing total to 40
	// THEN: Available becomes 15; the 25 outstanding copies are untouched

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	if _, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	}); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	err := env.store.WithTx(ctx, func(s engine.Store) error {
		return engine.NewStockLedger(s).SetTotalStock(ctx, "tb-math", 40)
	})
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if got := availableStock(t, env, "tb-math"); got != 15 {
		t.Errorf("available stock = %d, want 15", got)
	}
}

func TestSetTotalStock_ReductionBelowOutstanding_Rejected(t *testing.T) {
	// GIVEN: 30 total, 25 distributed
	// WHEN: Resizing total to 20 (would drive available to -5)
	// THEN: Rejected

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	if _, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	}); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	err := env.store.WithTx(ctx, func(s engine.Store) error {
		return engine.NewStockLedger(s).SetTotalStock(ctx, "tb-math", 20)
	})
	if !errors.Is(err, engine.ErrInsufficientAvailableStock) {
		t.Fatalf("expected ErrInsufficientAvailableStock, got %v", err)
	}
}

// =============================================================================
// STATISTICS TESTS
// =============================================================================

func TestStatistics_Snapshot(t *testing.T) {
	// GIVEN: One batch allocation (25) with 20 returned + 5 missing, one
	//        individual allocation (2) still out
	// WHEN: Taking a snapshot
	// THEN: Counters and rates reflect the ledger exactly

	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	dist, err := env.batch.Allocate(ctx, engine.BatchInput{
		BranchID: "5a", SetID: "set-5", AcademicYear: "2026-2027",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := env.reconciler.ReturnBatch(ctx, dist.ID, []engine.ReturnLine{
		{TextbookID: "tb-math", ReturnedQty: 20, MissingQty: 5},
	}); err != nil {
		t.Fatalf("return: %v", err)
	}
	if _, err := env.individual.Allocate(ctx, engine.IndividualInput{
		TextbookID:    "tb-math",
		RecipientType: engine.RecipientTeacher,
		RecipientID:   "t-1",
		Quantity:      2,
		AcademicYear:  "2026-2027",
	}); err != nil {
		t.Fatalf("individual allocate: %v", err)
	}

	stats, err := engine.NewStatisticsProjection(env.store).Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if stats.TotalDistributions != 2 {
		t.Errorf("total distributions = %d, want 2", stats.TotalDistributions)
	}
	if stats.PendingReturns != 1 {
		t.Errorf("pending returns = %d, want 1", stats.PendingReturns)
	}
	if stats.TotalMissingBooks != 5 {
		t.Errorf("missing books = %d, want 5", stats.TotalMissingBooks)
	}
	if stats.TotalTextbookStock != 30 {
		t.Errorf("total stock = %d, want 30", stats.TotalTextbookStock)
	}
	if stats.AvailableTextbookStock != 23 {
		t.Errorf("available stock = %d, want 23", stats.AvailableTextbookStock)
	}

	// 20 returned of 27 distributed
	if got := stats.ReturnRate.String(); got != "0.7407" {
		t.Errorf("return rate = %s, want 0.7407", got)
	}
	// 5 missing of 27 distributed
	if got := stats.MissingRate.String(); got != "0.1852" {
		t.Errorf("missing rate = %s, want 0.1852", got)
	}
}
