package inventory

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// MovementType is the closed set of stock movement kinds. Every switch over
// this type handles the full set; unknown values are rejected up front.
type MovementType string

const (
	MovementInbound       MovementType = "INBOUND"
	MovementOutbound      MovementType = "OUTBOUND"
	MovementTransferIn    MovementType = "TRANSFER_IN"
	MovementTransferOut   MovementType = "TRANSFER_OUT"
	MovementAdjustmentIn  MovementType = "ADJUSTMENT_IN"
	MovementAdjustmentOut MovementType = "ADJUSTMENT_OUT"
	MovementReturnIn      MovementType = "RETURN_IN"
	MovementReturnOut     MovementType = "RETURN_OUT"
	MovementDamage        MovementType = "DAMAGE"
	MovementTheft         MovementType = "THEFT"
)

// Valid reports membership in the closed set.
func (t MovementType) Valid() bool {
	switch t {
	case MovementInbound, MovementOutbound, MovementTransferIn, MovementTransferOut,
		MovementAdjustmentIn, MovementAdjustmentOut, MovementReturnIn, MovementReturnOut,
		MovementDamage, MovementTheft:
		return true
	}
	return false
}

// Outbound reports whether the type removes stock. Outbound movements are
// stored with negative deltas.
func (t MovementType) Outbound() bool {
	switch t {
	case MovementOutbound, MovementTransferOut, MovementAdjustmentOut,
		MovementReturnOut, MovementDamage, MovementTheft:
		return true
	}
	return false
}

// Signed reports whether the caller may supply quantity with its own sign.
// Adjustments and shrinkage corrections arrive pre-signed from stock counts.
func (t MovementType) Signed() bool {
	switch t {
	case MovementAdjustmentIn, MovementAdjustmentOut, MovementDamage, MovementTheft:
		return true
	}
	return false
}

// Delta normalizes a quantity to the stored signed delta for this type.
func (t MovementType) Delta(quantity float64) float64 {
	if t.Outbound() {
		return -math.Abs(quantity)
	}
	return math.Abs(quantity)
}

// Product carries the aggregate stock view. Available is stock minus
// reservations.
type Product struct {
	ID            int64
	CompanyID     int64
	SKU           string
	Name          string
	TrackStock    bool
	StockQuantity float64
	ReservedQty   float64
	AvailableQty  float64
	CostPrice     float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Location holds per-warehouse quantity. The sum across locations equals the
// product's aggregate stock after every movement.
type Location struct {
	ID         int64
	ProductID  int64
	LocationID int64
	Quantity   float64
	UpdatedAt  time.Time
}

// Movement is one immutable stock ledger record. Quantity is the signed
// delta after normalization.
type Movement struct {
	ID         int64
	CompanyID  int64
	ProductID  int64
	LocationID *int64
	Type       MovementType
	Quantity   float64
	UnitCost   float64
	Reference  string
	CreatedAt  time.Time
}

var (
	// ErrInsufficientStock indicates an outbound delta larger than on-hand
	// stock.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrNegativeStockPrevented is the final guard recomputing the resulting
	// quantity.
	ErrNegativeStockPrevented = errors.New("inventory: movement would drive stock negative")
	// ErrUnitCostRequired indicates a missing cost on a costed movement.
	ErrUnitCostRequired = errors.New("inventory: positive unit cost required")
	// ErrInvalidQuantity rejects non-positive quantity on unsigned types.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrUnknownMovementType rejects values outside the closed set.
	ErrUnknownMovementType = errors.New("inventory: unknown movement type")
	// ErrProductNotFound indicates a missing product row.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrNotTracked indicates a movement against a product without stock
	// tracking.
	ErrNotTracked = errors.New("inventory: product does not track stock")
)

// InsufficientStockError carries the shortfall so callers can report how
// much is missing.
type InsufficientStockError struct {
	ProductID int64
	Requested float64
	OnHand    float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: product %d has %.2f on hand, movement needs %.2f", e.ProductID, e.OnHand, e.Requested)
}

// Is makes the error match ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
