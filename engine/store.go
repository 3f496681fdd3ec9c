/*
store.go - Persistence interface for the engine

PURPOSE:
  Defines the interface between the domain logic and the database. All
  engine operations run against this interface; SQLite and in-memory
  implementations exist.

GET SEMANTICS:
  Get* methods return (nil, nil) when the record is absent. Callers decide
  whether absence is an error; the engine wraps it as a NotFoundError.

ATOMICITY:
  TxStore.WithTx runs a function inside one serializing transaction. Every
  allocation, return, and deletion executes entirely inside WithTx so the
  check-then-reserve and release sequences are all-or-nothing, even when a
  batch spans every textbook of a set.

STOCK FIELDS:
  UpdateTextbookStock is the single low-level write for the two counters.
  Only the StockLedger calls it; everything else goes through Reserve /
  Release / SetTotalStock.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - engine/store/memory.go: In-memory for testing
*/
package engine

import "context"

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of catalog, directory, and allocation records.
type Store interface {
	// Catalog
	SaveTextbook(ctx context.Context, tb Textbook) error
	GetTextbook(ctx context.Context, id TextbookID) (*Textbook, error)
	ListTextbooks(ctx context.Context) ([]Textbook, error)
	// UpdateTextbookStock overwrites the two stock counters.
	// Reserved for the StockLedger.
	UpdateTextbookStock(ctx context.Context, id TextbookID, total, available int) error

	// Directory
	SaveBranch(ctx context.Context, b Branch) error
	GetBranch(ctx context.Context, id BranchID) (*Branch, error)
	ListBranches(ctx context.Context) ([]Branch, error)
	SaveSet(ctx context.Context, s TextbookSet) error
	GetSet(ctx context.Context, id SetID) (*TextbookSet, error)
	ListSets(ctx context.Context) ([]TextbookSet, error)
	SaveTeacher(ctx context.Context, t Teacher) error
	GetTeacher(ctx context.Context, id TeacherID) (*Teacher, error)
	SaveStudent(ctx context.Context, s Student) error
	GetStudent(ctx context.Context, id StudentID) (*Student, error)

	// Batch allocations
	SaveDistribution(ctx context.Context, d Distribution) error
	GetDistribution(ctx context.Context, id DistributionID) (*Distribution, error)
	// ListDistributions filters by academic year when the argument is non-empty.
	ListDistributions(ctx context.Context, academicYear string) ([]Distribution, error)
	DeleteDistribution(ctx context.Context, id DistributionID) error

	// Individual allocations
	SaveIndividualDistribution(ctx context.Context, d IndividualDistribution) error
	GetIndividualDistribution(ctx context.Context, id DistributionID) (*IndividualDistribution, error)
	ListIndividualDistributions(ctx context.Context, academicYear string) ([]IndividualDistribution, error)
	DeleteIndividualDistribution(ctx context.Context, id DistributionID) error

	// HasIdempotencyKey checks both allocation tables.
	HasIdempotencyKey(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
//
// WithTx executes fn within one transaction. If fn returns an error the
// transaction is rolled back and no mutation survives; otherwise it commits.
// Implementations serialize WithTx calls, giving the engine its single
// logical writer per stock counter.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
