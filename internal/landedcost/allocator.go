package landedcost

import (
	"context"
	"errors"
	"math"

	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/inventory"
)

// Allocation is the computed share of landed costs for one bill line.
type Allocation struct {
	LineID    int64
	ProductID int64
	Quantity  float64
	LineTotal float64
	Share     float64
	PerUnit   float64
}

// ErrAlreadyAllocated rejects a second allocation pass over one bill.
var ErrAlreadyAllocated = errors.New("landedcost: bill already allocated")

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Compute distributes landedTotal across inventory-bearing lines in
// proportion to line totals. Rounding happens once, at the per-unit
// increment, so intermediate sums carry full precision and the total
// allocated share stays within a cent of landedTotal.
func Compute(lines []documents.Line, landedTotal float64) []Allocation {
	var base float64
	for _, line := range lines {
		if line.ProductID != nil {
			base += line.LineTotal
		}
	}
	if base <= 0 || landedTotal <= 0 {
		return nil
	}
	var out []Allocation
	for _, line := range lines {
		if line.ProductID == nil || line.Quantity <= 0 {
			continue
		}
		share := landedTotal * (line.LineTotal / base)
		out = append(out, Allocation{
			LineID:    line.ID,
			ProductID: *line.ProductID,
			Quantity:  line.Quantity,
			LineTotal: line.LineTotal,
			Share:     round2(share),
			PerUnit:   round2(share / line.Quantity),
		})
	}
	return out
}

// CostStore is the product cost surface the allocator writes through.
// inventory.Store satisfies it.
type CostStore interface {
	GetProductForUpdate(ctx context.Context, productID int64) (inventory.Product, error)
	UpdateProductCost(ctx context.Context, productID int64, costPrice float64) error
}

// Allocator capitalizes import costs into product cost prices.
type Allocator struct{}

// NewAllocator constructs the allocator.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Allocate distributes a bill's freight, customs and other import costs into
// the cost price of each inventory-bearing line's product, then flags the
// bill. A bill without inventory lines is a no-op here; its landed costs are
// expensed by the posting pipeline instead. Runs on the caller's
// transaction.
func (a *Allocator) Allocate(ctx context.Context, docs documents.TxRepository, costs CostStore, bill documents.Document) ([]Allocation, error) {
	if bill.LandedCostAllocated {
		return nil, ErrAlreadyAllocated
	}
	allocations := Compute(bill.Lines, bill.LandedTotal())
	if len(allocations) == 0 {
		return nil, nil
	}
	for _, alloc := range allocations {
		product, err := costs.GetProductForUpdate(ctx, alloc.ProductID)
		if err != nil {
			return nil, err
		}
		if err := costs.UpdateProductCost(ctx, alloc.ProductID, round2(product.CostPrice+alloc.PerUnit)); err != nil {
			return nil, err
		}
	}
	if err := docs.SetLandedCostAllocated(ctx, bill.ID); err != nil {
		return nil, err
	}
	return allocations, nil
}
