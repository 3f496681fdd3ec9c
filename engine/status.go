/*
status.go - Pure status derivation

PURPOSE:
  Turns a set of (distributed, returned, missing) lines into one of
  distributed | partial | returned. Status is always derived from line
  quantities on every mutation; the stored status column is a query
  convenience, never an input. That keeps stock and status from drifting
  apart after partial updates.

RULES:
  returned     iff every line has returnedQty + missingQty == distributedQty
  distributed  iff every line has returnedQty == 0 and missingQty == 0
  partial      otherwise
*/
package engine

// DeriveStatus computes the overall allocation status from its lines.
// The input must be non-empty; allocations always have at least one line.
func DeriveStatus(lines []Line) Status {
	allSettled := true
	allUntouched := true

	for _, l := range lines {
		if l.Returned+l.Missing != l.Distributed {
			allSettled = false
		}
		if l.Returned != 0 || l.Missing != 0 {
			allUntouched = false
		}
	}

	switch {
	case allSettled:
		return StatusReturned
	case allUntouched:
		return StatusDistributed
	default:
		return StatusPartial
	}
}

// validateLine checks the per-line invariant for a cumulative state.
func validateLine(textbookID TextbookID, distributed, returned, missing int) error {
	if returned < 0 {
		return &ValidationError{Field: "returned_qty", Message: "must be >= 0"}
	}
	if missing < 0 {
		return &ValidationError{Field: "missing_qty", Message: "must be >= 0"}
	}
	if returned+missing > distributed {
		return &OverReturnError{
			TextbookID:  textbookID,
			Distributed: distributed,
			Returned:    returned,
			Missing:     missing,
		}
	}
	return nil
}
