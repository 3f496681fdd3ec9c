/*
reconciler.go - Return reconciliation

PURPOSE:
  Accepts returned/missing splits for an allocation, updates the stock
  ledger, and recomputes the allocation status. A return may cover some or
  all of a batch distribution's lines and may be applied incrementally
  across multiple calls (half the class returns books one day, the rest
  later).

RULES:
  - Every supplied line is validated before anything mutates: returnedQty
    and missingQty must be >= 0 and the cumulative returned+missing must not
    exceed distributedQty. One bad line rejects the whole request with a
    CONFLICT. The engine never clamps; clamping is a UI convenience, not a
    contract.
  - Returned copies are released back to available stock. Missing copies are
    never released - they stay counted against totalStock forever.
  - Status is recomputed over ALL lines, not just the ones touched by the
    call. On the first transition away from distributed, returnedAt is set.
*/
package engine

import (
	"context"
	"time"
)

// ReturnLine is one returned/missing split for a batch distribution detail.
// Quantities are increments on top of what was already recorded.
type ReturnLine struct {
	TextbookID  TextbookID
	ReturnedQty int
	MissingQty  int
}

type ReturnReconciler struct {
	Store TxStore
}

func NewReturnReconciler(store TxStore) *ReturnReconciler {
	return &ReturnReconciler{Store: store}
}

// ReturnBatch applies return lines to a batch distribution.
func (r *ReturnReconciler) ReturnBatch(ctx context.Context, id DistributionID, lines []ReturnLine) (*Distribution, error) {
	if len(lines) == 0 {
		return nil, &ValidationError{Field: "lines", Message: "at least one line is required"}
	}

	var result *Distribution
	err := r.Store.WithTx(ctx, func(s Store) error {
		dist, err := s.GetDistribution(ctx, id)
		if err != nil {
			return err
		}
		if dist == nil {
			return &NotFoundError{Kind: "distribution", ID: string(id)}
		}

		detailIndex := make(map[TextbookID]int, len(dist.Details))
		for i, detail := range dist.Details {
			detailIndex[detail.TextbookID] = i
		}

		// Validate every line first; reject the whole request on any violation.
		seen := make(map[TextbookID]bool, len(lines))
		for _, line := range lines {
			if seen[line.TextbookID] {
				return &ValidationError{
					Field:   "textbook_id",
					Message: "textbook " + string(line.TextbookID) + " appears more than once",
				}
			}
			seen[line.TextbookID] = true

			i, ok := detailIndex[line.TextbookID]
			if !ok {
				return &ValidationError{
					Field:   "textbook_id",
					Message: "textbook " + string(line.TextbookID) + " is not part of this distribution",
				}
			}
			if line.ReturnedQty < 0 {
				return &ValidationError{Field: "returned_qty", Message: "must be >= 0"}
			}
			if line.MissingQty < 0 {
				return &ValidationError{Field: "missing_qty", Message: "must be >= 0"}
			}

			detail := dist.Details[i]
			if err := validateLine(line.TextbookID, detail.DistributedQty,
				detail.ReturnedQty+line.ReturnedQty, detail.MissingQty+line.MissingQty); err != nil {
				return err
			}
		}

		// Apply: release returned copies, accumulate line quantities.
		ledger := NewStockLedger(s)
		for _, line := range lines {
			if line.ReturnedQty > 0 {
				if err := ledger.Release(ctx, line.TextbookID, line.ReturnedQty); err != nil {
					return err
				}
			}
			i := detailIndex[line.TextbookID]
			dist.Details[i].ReturnedQty += line.ReturnedQty
			dist.Details[i].MissingQty += line.MissingQty
		}

		finalizeStatus(dist)

		if err := s.SaveDistribution(ctx, *dist); err != nil {
			return err
		}
		result = dist
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReturnIndividual applies a returned/missing split to an individual
// allocation's single implicit line.
func (r *ReturnReconciler) ReturnIndividual(ctx context.Context, id DistributionID, returnedQty, missingQty int) (*IndividualDistribution, error) {
	var result *IndividualDistribution
	err := r.Store.WithTx(ctx, func(s Store) error {
		dist, err := s.GetIndividualDistribution(ctx, id)
		if err != nil {
			return err
		}
		if dist == nil {
			return &NotFoundError{Kind: "distribution", ID: string(id)}
		}

		if returnedQty < 0 {
			return &ValidationError{Field: "returned_qty", Message: "must be >= 0"}
		}
		if missingQty < 0 {
			return &ValidationError{Field: "missing_qty", Message: "must be >= 0"}
		}

		if err := validateLine(dist.TextbookID, dist.Quantity,
			dist.ReturnedQty+returnedQty, dist.MissingQty+missingQty); err != nil {
			return err
		}

		if returnedQty > 0 {
			ledger := NewStockLedger(s)
			if err := ledger.Release(ctx, dist.TextbookID, returnedQty); err != nil {
				return err
			}
		}
		dist.ReturnedQty += returnedQty
		dist.MissingQty += missingQty

		prev := dist.Status
		dist.Status = DeriveStatus([]Line{dist.Line()})
		if prev == StatusDistributed && dist.Status != StatusDistributed {
			now := time.Now().UTC()
			dist.ReturnedAt = &now
		}

		if err := s.SaveIndividualDistribution(ctx, *dist); err != nil {
			return err
		}
		result = dist
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// finalizeStatus recomputes a batch distribution's status over all of its
// lines and stamps returnedAt on the first transition away from distributed.
func finalizeStatus(dist *Distribution) {
	prev := dist.Status
	dist.Status = DeriveStatus(dist.Lines())
	if prev == StatusDistributed && dist.Status != StatusDistributed {
		now := time.Now().UTC()
		dist.ReturnedAt = &now
	}
}
