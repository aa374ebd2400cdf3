package landedcost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/inventory"
)

func ptr(v int64) *int64 { return &v }

func TestComputeProportionalShares(t *testing.T) {
	lines := []documents.Line{
		{ID: 1, ProductID: ptr(101), Quantity: 10, LineTotal: 50},
		{ID: 2, ProductID: ptr(102), Quantity: 5, LineTotal: 50},
	}

	allocations := Compute(lines, 10)
	require.Len(t, allocations, 2)

	require.InDelta(t, 5.0, allocations[0].Share, 0.001)
	require.InDelta(t, 0.50, allocations[0].PerUnit, 0.001)
	require.InDelta(t, 5.0, allocations[1].Share, 0.001)
	require.InDelta(t, 1.00, allocations[1].PerUnit, 0.001)
}

func TestComputeSkipsServiceLines(t *testing.T) {
	lines := []documents.Line{
		{ID: 1, ProductID: ptr(101), Quantity: 4, LineTotal: 80},
		{ID: 2, ProductID: nil, Quantity: 1, LineTotal: 20},
	}

	allocations := Compute(lines, 12)
	require.Len(t, allocations, 1)
	require.InDelta(t, 12.0, allocations[0].Share, 0.001)
	require.InDelta(t, 3.0, allocations[0].PerUnit, 0.001)
}

func TestComputeConservation(t *testing.T) {
	lines := []documents.Line{
		{ID: 1, ProductID: ptr(101), Quantity: 3, LineTotal: 33.33},
		{ID: 2, ProductID: ptr(102), Quantity: 7, LineTotal: 33.33},
		{ID: 3, ProductID: ptr(103), Quantity: 11, LineTotal: 33.34},
	}

	allocations := Compute(lines, 100)
	require.Len(t, allocations, 3)
	var total float64
	for _, alloc := range allocations {
		total += alloc.Share
	}
	require.InDelta(t, 100.0, total, 0.011)
}

func TestComputeNoInventoryLines(t *testing.T) {
	lines := []documents.Line{
		{ID: 1, ProductID: nil, Quantity: 1, LineTotal: 100},
	}
	require.Nil(t, Compute(lines, 50))
	require.Nil(t, Compute(nil, 50))
	require.Nil(t, Compute([]documents.Line{{ID: 1, ProductID: ptr(101), Quantity: 1, LineTotal: 100}}, 0))
}

type fakeBillDocs struct {
	documents.TxRepository
	allocated map[int64]bool
}

func (f *fakeBillDocs) SetLandedCostAllocated(ctx context.Context, id int64) error {
	f.allocated[id] = true
	return nil
}

type fakeCosts struct {
	products map[int64]inventory.Product
}

func (f *fakeCosts) GetProductForUpdate(ctx context.Context, productID int64) (inventory.Product, error) {
	product, ok := f.products[productID]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return product, nil
}

func (f *fakeCosts) UpdateProductCost(ctx context.Context, productID int64, costPrice float64) error {
	product := f.products[productID]
	product.CostPrice = costPrice
	f.products[productID] = product
	return nil
}

func TestAllocateCapitalizesCosts(t *testing.T) {
	docs := &fakeBillDocs{allocated: make(map[int64]bool)}
	costs := &fakeCosts{products: map[int64]inventory.Product{
		101: {ID: 101, CostPrice: 5.00},
		102: {ID: 102, CostPrice: 10.00},
	}}
	bill := documents.Document{
		ID:          7,
		Type:        documents.TypeBill,
		FreightCost: 6, CustomsDuty: 4,
		Lines: []documents.Line{
			{ID: 1, ProductID: ptr(101), Quantity: 10, LineTotal: 50},
			{ID: 2, ProductID: ptr(102), Quantity: 5, LineTotal: 50},
		},
	}

	allocations, err := NewAllocator().Allocate(context.Background(), docs, costs, bill)
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	require.InDelta(t, 5.50, costs.products[101].CostPrice, 0.001)
	require.InDelta(t, 11.00, costs.products[102].CostPrice, 0.001)
	require.True(t, docs.allocated[7])
}

func TestAllocateRejectsSecondPass(t *testing.T) {
	bill := documents.Document{ID: 7, LandedCostAllocated: true}
	_, err := NewAllocator().Allocate(context.Background(), nil, nil, bill)
	require.ErrorIs(t, err, ErrAlreadyAllocated)
}

func TestAllocateNoopWithoutInventoryLines(t *testing.T) {
	docs := &fakeBillDocs{allocated: make(map[int64]bool)}
	bill := documents.Document{
		ID:          8,
		FreightCost: 25,
		Lines:       []documents.Line{{ID: 1, ProductID: nil, LineTotal: 100, Quantity: 1}},
	}

	allocations, err := NewAllocator().Allocate(context.Background(), docs, nil, bill)
	require.NoError(t, err)
	require.Nil(t, allocations)
	require.False(t, docs.allocated[8])
}
