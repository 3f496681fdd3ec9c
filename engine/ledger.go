/*
ledger.go - The stock ledger

PURPOSE:
  The StockLedger is the only path that mutates a textbook's
  totalStock/availableStock pair. Allocators reserve through it, the
  reconciler and deletion release through it, and administrative resizes go
  through SetTotalStock. Nothing else touches the counters.

CONTRACT:
  Reserve(id, qty)       decrement availableStock by qty iff
                         availableStock >= qty, else InsufficientStockError
                         with {textbookId, required, available}; no mutation
                         on failure.
  Release(id, qty)       increment availableStock by qty, clamped so it never
                         exceeds totalStock. The clamp is a defensive bound;
                         correct callers never trigger it.
  SetTotalStock(id, n)   administrative resize. availableStock moves by the
                         same delta so outstanding allocations are untouched;
                         fails if the reduction would drive availableStock
                         negative.

CONCURRENCY:
  The ledger itself holds no locks. Callers run it inside TxStore.WithTx,
  which serializes the read-modify-write against the store.
*/
package engine

import "context"

// StockLedger mutates the per-textbook stock counters.
type StockLedger struct {
	Store Store
}

func NewStockLedger(store Store) *StockLedger {
	return &StockLedger{Store: store}
}

// Reserve takes qty copies out of a textbook's available stock.
func (l *StockLedger) Reserve(ctx context.Context, id TextbookID, qty int) error {
	if qty <= 0 {
		return &ValidationError{Field: "quantity", Message: "must be >= 1"}
	}

	tb, err := l.Store.GetTextbook(ctx, id)
	if err != nil {
		return err
	}
	if tb == nil {
		return &NotFoundError{Kind: "textbook", ID: string(id)}
	}

	if tb.AvailableStock < qty {
		return &InsufficientStockError{
			TextbookID: id,
			Required:   qty,
			Available:  tb.AvailableStock,
		}
	}

	return l.Store.UpdateTextbookStock(ctx, id, tb.TotalStock, tb.AvailableStock-qty)
}

// Release puts qty copies back into a textbook's available stock.
func (l *StockLedger) Release(ctx context.Context, id TextbookID, qty int) error {
	if qty <= 0 {
		return &ValidationError{Field: "quantity", Message: "must be >= 1"}
	}

	tb, err := l.Store.GetTextbook(ctx, id)
	if err != nil {
		return err
	}
	if tb == nil {
		return &NotFoundError{Kind: "textbook", ID: string(id)}
	}

	next := tb.AvailableStock + qty
	if next > tb.TotalStock {
		next = tb.TotalStock
	}

	return l.Store.UpdateTextbookStock(ctx, id, tb.TotalStock, next)
}

// SetTotalStock resizes a textbook's total stock. Outstanding allocations are
// preserved: the available counter moves by the same delta.
func (l *StockLedger) SetTotalStock(ctx context.Context, id TextbookID, newTotal int) error {
	if newTotal < 0 {
		return &ValidationError{Field: "total_stock", Message: "must be >= 0"}
	}

	tb, err := l.Store.GetTextbook(ctx, id)
	if err != nil {
		return err
	}
	if tb == nil {
		return &NotFoundError{Kind: "textbook", ID: string(id)}
	}

	delta := newTotal - tb.TotalStock
	nextAvailable := tb.AvailableStock + delta
	if nextAvailable < 0 {
		return ErrInsufficientAvailableStock
	}

	return l.Store.UpdateTextbookStock(ctx, id, newTotal, nextAvailable)
}
