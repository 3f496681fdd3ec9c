/*
statistics.go - Read-only reporting projection

PURPOSE:
  Aggregates the current records into the counters the reporting and UI
  layers show. Pure read; takes a store snapshot and never mutates anything.

  The five headline counters come straight from the records. The rates are
  computed with shopspring/decimal so reporting maths stays exact instead of
  accumulating float error on large schools.
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// Statistics is the aggregate reporting snapshot.
type Statistics struct {
	TotalDistributions     int // batch + individual allocation records
	PendingReturns         int // allocations not yet fully reconciled
	TotalMissingBooks      int
	TotalTextbookStock     int
	AvailableTextbookStock int

	// Derived rates over all distributed copies, rounded to 4 places.
	ReturnRate       decimal.Decimal // returned / distributed
	MissingRate      decimal.Decimal // missing / distributed
	StockUtilization decimal.Decimal // (total - available) / total
}

type StatisticsProjection struct {
	Store Store
}

func NewStatisticsProjection(store Store) *StatisticsProjection {
	return &StatisticsProjection{Store: store}
}

// Snapshot computes the current statistics. Non-blocking read; needs no
// locking beyond what the store guarantees for a single read transaction.
func (p *StatisticsProjection) Snapshot(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		ReturnRate:       decimal.Zero,
		MissingRate:      decimal.Zero,
		StockUtilization: decimal.Zero,
	}

	textbooks, err := p.Store.ListTextbooks(ctx)
	if err != nil {
		return nil, err
	}
	for _, tb := range textbooks {
		stats.TotalTextbookStock += tb.TotalStock
		stats.AvailableTextbookStock += tb.AvailableStock
	}

	distributions, err := p.Store.ListDistributions(ctx, "")
	if err != nil {
		return nil, err
	}
	individuals, err := p.Store.ListIndividualDistributions(ctx, "")
	if err != nil {
		return nil, err
	}

	var distributed, returned, missing int

	for i := range distributions {
		stats.TotalDistributions++
		if DeriveStatus(distributions[i].Lines()) != StatusReturned {
			stats.PendingReturns++
		}
		for _, detail := range distributions[i].Details {
			distributed += detail.DistributedQty
			returned += detail.ReturnedQty
			missing += detail.MissingQty
		}
	}
	for i := range individuals {
		stats.TotalDistributions++
		line := individuals[i].Line()
		if DeriveStatus([]Line{line}) != StatusReturned {
			stats.PendingReturns++
		}
		distributed += line.Distributed
		returned += line.Returned
		missing += line.Missing
	}

	stats.TotalMissingBooks = missing

	if distributed > 0 {
		d := decimal.NewFromInt(int64(distributed))
		stats.ReturnRate = decimal.NewFromInt(int64(returned)).Div(d).Round(4)
		stats.MissingRate = decimal.NewFromInt(int64(missing)).Div(d).Round(4)
	}
	if stats.TotalTextbookStock > 0 {
		total := decimal.NewFromInt(int64(stats.TotalTextbookStock))
		out := decimal.NewFromInt(int64(stats.TotalTextbookStock - stats.AvailableTextbookStock))
		stats.StockUtilization = out.Div(total).Round(4)
	}

	return stats, nil
}
