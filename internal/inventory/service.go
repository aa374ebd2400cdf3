package inventory

import (
	"context"
	"math"
	"time"
)

// Store is the transactional surface for the stock ledger.
type Store interface {
	GetProductForUpdate(ctx context.Context, productID int64) (Product, error)
	UpdateProductStock(ctx context.Context, productID int64, stock, available float64) error
	UpdateProductCost(ctx context.Context, productID int64, costPrice float64) error
	UpsertLocationQuantity(ctx context.Context, productID, locationID int64, delta float64) error
	InsertMovement(ctx context.Context, movement Movement) (Movement, error)
	ListMovements(ctx context.Context, companyID, productID int64) ([]Movement, error)
	SumLocationQuantities(ctx context.Context, productID int64) (float64, error)
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
}

// Service owns stock movements and the non-negativity invariant.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService constructs the inventory service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// MovementInput describes one requested stock movement. Quantity is
// magnitude for most types; the signed adjustment types may carry a sign
// which normalization overrides with the type's own direction.
type MovementInput struct {
	CompanyID  int64
	ProductID  int64
	LocationID *int64
	Type       MovementType
	Quantity   float64
	UnitCost   float64
	Reference  string
}

// RecordMovement runs one movement in its own transaction.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (Movement, error) {
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		movement, err = s.RecordMovementTx(ctx, store, input)
		return err
	})
	return movement, err
}

// RecordMovementTx applies one movement on the caller's transaction. The
// checks run in a fixed order: stock sufficiency, unit cost, quantity shape,
// then a final recomputation of the resulting quantity. The last check holds
// even when the earlier ones passed.
func (s *Service) RecordMovementTx(ctx context.Context, store Store, input MovementInput) (Movement, error) {
	if !input.Type.Valid() {
		return Movement{}, ErrUnknownMovementType
	}
	product, err := store.GetProductForUpdate(ctx, input.ProductID)
	if err != nil {
		return Movement{}, err
	}
	if !product.TrackStock {
		return Movement{}, ErrNotTracked
	}
	delta := input.Type.Delta(input.Quantity)
	if input.Type.Outbound() && math.Abs(delta) > product.StockQuantity {
		return Movement{}, &InsufficientStockError{
			ProductID: product.ID,
			Requested: math.Abs(delta),
			OnHand:    product.StockQuantity,
		}
	}
	if (input.Type == MovementInbound || input.Type == MovementOutbound) && input.UnitCost <= 0 {
		return Movement{}, ErrUnitCostRequired
	}
	if input.Quantity <= 0 && !input.Type.Signed() {
		return Movement{}, ErrInvalidQuantity
	}
	newQuantity := product.StockQuantity + delta
	if newQuantity < 0 {
		return Movement{}, ErrNegativeStockPrevented
	}
	movement, err := store.InsertMovement(ctx, Movement{
		CompanyID:  input.CompanyID,
		ProductID:  input.ProductID,
		LocationID: input.LocationID,
		Type:       input.Type,
		Quantity:   delta,
		UnitCost:   input.UnitCost,
		Reference:  input.Reference,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return Movement{}, err
	}
	available := newQuantity - product.ReservedQty
	if err := store.UpdateProductStock(ctx, product.ID, newQuantity, available); err != nil {
		return Movement{}, err
	}
	if input.LocationID != nil {
		if err := store.UpsertLocationQuantity(ctx, product.ID, *input.LocationID, delta); err != nil {
			return Movement{}, err
		}
	}
	return movement, nil
}

// IncreaseCostTx raises a product's cost price by a per-unit increment. The
// landed cost allocator calls this inside the bill posting transaction.
func (s *Service) IncreaseCostTx(ctx context.Context, store Store, productID int64, increment float64) error {
	product, err := store.GetProductForUpdate(ctx, productID)
	if err != nil {
		return err
	}
	return store.UpdateProductCost(ctx, productID, product.CostPrice+increment)
}

// Movements lists the movement ledger for one product, newest first.
func (s *Service) Movements(ctx context.Context, companyID, productID int64) ([]Movement, error) {
	var movements []Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		movements, err = store.ListMovements(ctx, companyID, productID)
		return err
	})
	return movements, err
}

// CheckLocationConsistency verifies the aggregate stock equals the sum of
// per-location quantities for a product.
func (s *Service) CheckLocationConsistency(ctx context.Context, productID int64) (bool, error) {
	var ok bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		product, err := store.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		sum, err := store.SumLocationQuantities(ctx, productID)
		if err != nil {
			return err
		}
		ok = math.Abs(product.StockQuantity-sum) < 0.0001
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}
