/*
allocator.go - Batch and individual allocation

PURPOSE:
  Creates allocation records and reserves their stock in one atomic unit.

  BatchAllocator allocates a named textbook set to a branch: one copy per
  enrolled student, per textbook title. Strictly all-or-nothing - every
  (textbook, requiredQty) pair is checked against available stock before any
  reservation happens, and the whole operation runs inside one transaction
  spanning all textbooks of the set.

  IndividualAllocator allocates a single textbook, in some quantity, to one
  teacher or student, snapshotting the recipient's display name.

  Both allocators also own deletion: the mirror image of allocation,
  releasing the full distributed quantities and removing the record. Deletion
  is rejected once any return has been recorded, to protect the ledger.

IDEMPOTENCY:
  Both creation operations accept an optional idempotency key, stored UNIQUE
  on the record. A duplicate submission fails with
  ErrDuplicateIdempotencyKey instead of double-allocating stock.

SEE ALSO:
  - ledger.go: Reserve/Release
  - reconciler.go: Returns
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// BATCH ALLOCATOR
// =============================================================================

// BatchInput is a request to distribute a textbook set to a branch.
type BatchInput struct {
	BranchID       BranchID
	SetID          SetID
	AcademicYear   string
	IdempotencyKey string // optional
}

type BatchAllocator struct {
	Store TxStore
}

func NewBatchAllocator(store TxStore) *BatchAllocator {
	return &BatchAllocator{Store: store}
}

// Allocate creates a Distribution with one detail line per textbook in the
// set, each reserving branch.studentCount copies. If any textbook is short,
// nothing is reserved and the shortage is reported for the first offending
// textbook in set order.
func (a *BatchAllocator) Allocate(ctx context.Context, in BatchInput) (*Distribution, error) {
	if in.AcademicYear == "" {
		return nil, &ValidationError{Field: "academic_year", Message: "must not be empty"}
	}

	var dist *Distribution
	err := a.Store.WithTx(ctx, func(s Store) error {
		if err := checkIdempotencyKey(ctx, s, in.IdempotencyKey); err != nil {
			return err
		}

		branch, err := s.GetBranch(ctx, in.BranchID)
		if err != nil {
			return err
		}
		if branch == nil {
			return &NotFoundError{Kind: "branch", ID: string(in.BranchID)}
		}
		if branch.StudentCount <= 0 {
			return &ValidationError{Field: "branch", Message: "branch has no enrolled students"}
		}

		set, err := s.GetSet(ctx, in.SetID)
		if err != nil {
			return err
		}
		if set == nil {
			return &NotFoundError{Kind: "set", ID: string(in.SetID)}
		}
		if len(set.TextbookIDs) == 0 {
			return &ValidationError{Field: "set", Message: "set has no textbooks"}
		}

		required := branch.StudentCount

		// Check every pair before committing any mutation.
		for _, tid := range set.TextbookIDs {
			tb, err := s.GetTextbook(ctx, tid)
			if err != nil {
				return err
			}
			if tb == nil {
				return &NotFoundError{Kind: "textbook", ID: string(tid)}
			}
			if tb.AvailableStock < required {
				return &InsufficientStockError{
					TextbookID: tid,
					Required:   required,
					Available:  tb.AvailableStock,
				}
			}
		}

		// All pairs pass: reserve each inside the same transaction.
		ledger := NewStockLedger(s)
		details := make([]DistributionDetail, 0, len(set.TextbookIDs))
		for _, tid := range set.TextbookIDs {
			if err := ledger.Reserve(ctx, tid, required); err != nil {
				return err
			}
			details = append(details, DistributionDetail{
				TextbookID:     tid,
				DistributedQty: required,
			})
		}

		dist = &Distribution{
			ID:             NewDistributionID(),
			BranchID:       in.BranchID,
			SetID:          in.SetID,
			AcademicYear:   in.AcademicYear,
			Status:         StatusDistributed,
			DistributedAt:  time.Now().UTC(),
			Details:        details,
			IdempotencyKey: in.IdempotencyKey,
		}
		return s.SaveDistribution(ctx, *dist)
	})
	if err != nil {
		return nil, err
	}
	return dist, nil
}

// Delete cancels a batch allocation that has no recorded returns, releasing
// the full distributed quantity of every line back to the ledger.
func (a *BatchAllocator) Delete(ctx context.Context, id DistributionID) error {
	return a.Store.WithTx(ctx, func(s Store) error {
		dist, err := s.GetDistribution(ctx, id)
		if err != nil {
			return err
		}
		if dist == nil {
			return &NotFoundError{Kind: "distribution", ID: string(id)}
		}
		if DeriveStatus(dist.Lines()) != StatusDistributed {
			return ErrHasReturns
		}

		ledger := NewStockLedger(s)
		for _, detail := range dist.Details {
			if err := ledger.Release(ctx, detail.TextbookID, detail.DistributedQty); err != nil {
				return err
			}
		}
		return s.DeleteDistribution(ctx, id)
	})
}

// =============================================================================
// INDIVIDUAL ALLOCATOR
// =============================================================================

// IndividualInput is a request to allocate one textbook to one person.
type IndividualInput struct {
	TextbookID     TextbookID
	RecipientType  RecipientType
	RecipientID    string
	RecipientName  string // optional; snapshotted from the directory when empty
	Quantity       int
	AcademicYear   string
	IdempotencyKey string // optional
}

type IndividualAllocator struct {
	Store TxStore
}

func NewIndividualAllocator(store TxStore) *IndividualAllocator {
	return &IndividualAllocator{Store: store}
}

// Allocate reserves quantity copies of one textbook for a teacher or student.
func (a *IndividualAllocator) Allocate(ctx context.Context, in IndividualInput) (*IndividualDistribution, error) {
	if in.Quantity < 1 {
		return nil, &ValidationError{Field: "quantity", Message: "must be >= 1"}
	}
	if in.AcademicYear == "" {
		return nil, &ValidationError{Field: "academic_year", Message: "must not be empty"}
	}
	if in.RecipientType != RecipientTeacher && in.RecipientType != RecipientStudent {
		return nil, &ValidationError{Field: "recipient_type", Message: "must be teacher or student"}
	}
	if in.RecipientID == "" {
		return nil, &ValidationError{Field: "recipient_id", Message: "must not be empty"}
	}

	var dist *IndividualDistribution
	err := a.Store.WithTx(ctx, func(s Store) error {
		if err := checkIdempotencyKey(ctx, s, in.IdempotencyKey); err != nil {
			return err
		}

		name, err := snapshotRecipientName(ctx, s, in)
		if err != nil {
			return err
		}

		ledger := NewStockLedger(s)
		if err := ledger.Reserve(ctx, in.TextbookID, in.Quantity); err != nil {
			return err
		}

		dist = &IndividualDistribution{
			ID:             NewDistributionID(),
			TextbookID:     in.TextbookID,
			RecipientType:  in.RecipientType,
			RecipientID:    in.RecipientID,
			RecipientName:  name,
			Quantity:       in.Quantity,
			AcademicYear:   in.AcademicYear,
			Status:         StatusDistributed,
			DistributedAt:  time.Now().UTC(),
			IdempotencyKey: in.IdempotencyKey,
		}
		return s.SaveIndividualDistribution(ctx, *dist)
	})
	if err != nil {
		return nil, err
	}
	return dist, nil
}

// Delete cancels an individual allocation with no recorded returns.
func (a *IndividualAllocator) Delete(ctx context.Context, id DistributionID) error {
	return a.Store.WithTx(ctx, func(s Store) error {
		dist, err := s.GetIndividualDistribution(ctx, id)
		if err != nil {
			return err
		}
		if dist == nil {
			return &NotFoundError{Kind: "distribution", ID: string(id)}
		}
		if DeriveStatus([]Line{dist.Line()}) != StatusDistributed {
			return ErrHasReturns
		}

		ledger := NewStockLedger(s)
		if err := ledger.Release(ctx, dist.TextbookID, dist.Quantity); err != nil {
			return err
		}
		return s.DeleteIndividualDistribution(ctx, id)
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func checkIdempotencyKey(ctx context.Context, s Store, key string) error {
	if key == "" {
		return nil
	}
	exists, err := s.HasIdempotencyKey(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateIdempotencyKey
	}
	return nil
}

// snapshotRecipientName resolves the recipient in the directory and returns
// the display name to freeze on the record. An explicit input name wins over
// the directory, but the recipient must exist either way.
func snapshotRecipientName(ctx context.Context, s Store, in IndividualInput) (string, error) {
	switch in.RecipientType {
	case RecipientTeacher:
		t, err := s.GetTeacher(ctx, TeacherID(in.RecipientID))
		if err != nil {
			return "", err
		}
		if t == nil {
			return "", &NotFoundError{Kind: "teacher", ID: in.RecipientID}
		}
		if in.RecipientName != "" {
			return in.RecipientName, nil
		}
		return t.Name, nil
	case RecipientStudent:
		st, err := s.GetStudent(ctx, StudentID(in.RecipientID))
		if err != nil {
			return "", err
		}
		if st == nil {
			return "", &NotFoundError{Kind: "student", ID: in.RecipientID}
		}
		if in.RecipientName != "" {
			return in.RecipientName, nil
		}
		return st.Name, nil
	}
	return "", &ValidationError{Field: "recipient_type", Message: "must be teacher or student"}
}
