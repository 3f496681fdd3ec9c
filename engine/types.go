/*
Package engine provides the textbook inventory allocation and reconciliation core.

PURPOSE:
  This package contains the domain types and algorithms for tracking a finite
  physical stock of textbooks: bulk allocation of a named set to a school
  branch, individual allocation to a teacher or student, and reconciliation of
  returned vs. missing copies while keeping the stock count consistent.

KEY CONCEPTS IN THIS FILE (types.go):
  - Textbook: the stock-bearing catalog record (totalStock / availableStock)
  - Distribution / DistributionDetail: a batch allocation to a branch, one
    detail line per textbook in the set
  - IndividualDistribution: a single-title allocation to one person
  - Line: the (distributed, returned, missing) triple every allocation
    ultimately reduces to

CRITICAL INVARIANTS:
  1. Per textbook: 0 <= availableStock <= totalStock
  2. Per line: returnedQty >= 0, missingQty >= 0,
     returnedQty + missingQty <= distributedQty
  3. Conservation: availableStock + sum of outstanding copies over all of a
     textbook's lines == totalStock, at all times

MISSING COPIES:
  A copy reported missing is never released back to availableStock. It stays
  counted in totalStock forever, permanently shrinking the usable pool.

SEE ALSO:
  - status.go: Status derivation from lines
  - ledger.go: Stock counter mutations
  - allocator.go: Batch and individual allocation
  - reconciler.go: Return processing
*/
package engine

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TextbookID string
type SetID string
type BranchID string
type TeacherID string
type StudentID string
type DistributionID string

// NewDistributionID returns a fresh unique allocation id.
func NewDistributionID() DistributionID {
	return DistributionID("dist-" + uuid.NewString())
}

// =============================================================================
// CATALOG AND DIRECTORY RECORDS
// =============================================================================

// Textbook is the stock-bearing catalog record. Title/subject/grade range are
// descriptive only; the engine cares about the two counters.
//
// The counters are mutated only through the StockLedger, never directly.
type Textbook struct {
	ID             TextbookID
	Title          string
	Subject        string
	GradeFrom      int
	GradeTo        int
	TotalStock     int // physical copies ever acquired
	AvailableStock int // copies not currently allocated
}

// TextbookSet is a named collection of textbook ids for one grade.
// Referenced, never owned, by a Distribution.
type TextbookSet struct {
	ID          SetID
	Name        string
	Grade       int
	TextbookIDs []TextbookID // no duplicates
}

// Branch is a school class. External directory entity; read-only to the engine.
type Branch struct {
	ID           BranchID
	Name         string
	Grade        int
	StudentCount int
	TeacherID    TeacherID // optional
}

// Teacher and Student exist for display-name snapshotting on individual
// allocations.
type Teacher struct {
	ID   TeacherID
	Name string
}

type Student struct {
	ID       StudentID
	Name     string
	BranchID BranchID
}

// =============================================================================
// ALLOCATION STATUS
// =============================================================================

type Status string

const (
	StatusDistributed Status = "distributed" // no line has started reconciling
	StatusPartial     Status = "partial"     // some but not all copies accounted for
	StatusReturned    Status = "returned"    // every line fully accounted for
)

type RecipientType string

const (
	RecipientTeacher RecipientType = "teacher"
	RecipientStudent RecipientType = "student"
)

// =============================================================================
// ALLOCATIONS
// =============================================================================

// DistributionDetail is one line of a batch allocation: the copies of one
// textbook handed to a branch, and how many came back or went missing.
type DistributionDetail struct {
	TextbookID     TextbookID
	DistributedQty int
	ReturnedQty    int
	MissingQty     int
}

// Distribution is a batch allocation of a textbook set to a branch.
// Created in StatusDistributed; moves monotonically through partial/returned
// via the reconciler and never back.
type Distribution struct {
	ID             DistributionID
	BranchID       BranchID
	SetID          SetID
	AcademicYear   string
	Status         Status
	DistributedAt  time.Time
	ReturnedAt     *time.Time // set on the first transition away from distributed
	Details        []DistributionDetail
	IdempotencyKey string
}

// IndividualDistribution allocates one textbook title, in some quantity, to
// a single teacher or student. RecipientName is a snapshot, not a live join.
type IndividualDistribution struct {
	ID             DistributionID
	TextbookID     TextbookID
	RecipientType  RecipientType
	RecipientID    string
	RecipientName  string
	Quantity       int // plays DistributedQty's role
	ReturnedQty    int
	MissingQty     int
	AcademicYear   string
	Status         Status
	DistributedAt  time.Time
	ReturnedAt     *time.Time
	IdempotencyKey string
}

// =============================================================================
// LINE - The unit the status deriver and invariants work over
// =============================================================================

type Line struct {
	Distributed int
	Returned    int
	Missing     int
}

// Outstanding is the number of copies still out: distributed minus everything
// accounted for. Missing copies count as accounted for (they will never come
// back), which is what keeps the conservation invariant closed.
func (l Line) Outstanding() int {
	return l.Distributed - l.Returned - l.Missing
}

func (d DistributionDetail) Line() Line {
	return Line{Distributed: d.DistributedQty, Returned: d.ReturnedQty, Missing: d.MissingQty}
}

// Lines returns one Line per detail row.
func (d *Distribution) Lines() []Line {
	lines := make([]Line, len(d.Details))
	for i, detail := range d.Details {
		lines[i] = detail.Line()
	}
	return lines
}

// Line returns the allocation's single implicit line.
func (d *IndividualDistribution) Line() Line {
	return Line{Distributed: d.Quantity, Returned: d.ReturnedQty, Missing: d.MissingQty}
}
