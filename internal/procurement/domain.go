package procurement

import (
	"errors"
	"fmt"
	"time"

	"github.com/meridian-books/meridian/internal/documents"
)

// Status enumerates the purchase order lifecycle.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusApproved  Status = "approved"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// ReceivingStatus tracks receipt progress against ordered quantities.
type ReceivingStatus string

const (
	ReceivingPending  ReceivingStatus = "pending"
	ReceivingPartial  ReceivingStatus = "partial"
	ReceivingComplete ReceivingStatus = "complete"
)

// Line is one ordered item. Received and accepted quantities accumulate from
// receipts.
type Line struct {
	ID          int64
	OrderID     int64
	ProductID   *int64
	Description string
	Quantity    float64
	UnitPrice   float64
	LineTotal   float64
	ReceivedQty float64
	AcceptedQty float64
	RejectedQty float64
}

// PurchaseOrder heads an order and its lines. FixedAsset orders capitalize
// received goods into asset records instead of stock.
type PurchaseOrder struct {
	ID              int64
	CompanyID       int64
	VendorID        int64
	Number          string
	Date            time.Time
	Status          Status
	ReceivingStatus ReceivingStatus
	PurchaseType    documents.PurchaseType
	FixedAsset      bool
	TotalAmount     float64
	MatchedBillID   *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Lines           []Line
}

// Receipt records one goods delivery against an order.
type Receipt struct {
	ID         int64
	OrderID    int64
	Number     string
	ReceivedAt time.Time
	Items      []ReceiptItem
}

// ReceiptItem splits a received quantity into accepted and rejected parts.
type ReceiptItem struct {
	ID          int64
	ReceiptID   int64
	OrderLineID int64
	Received    float64
	Accepted    float64
	Rejected    float64
}

// Asset is a fixed-asset record created from delivered asset orders.
type Asset struct {
	ID        int64
	CompanyID int64
	ProductID *int64
	Name      string
	Quantity  float64
	UnitCost  float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	// ErrOrderNotFound indicates a missing purchase order.
	ErrOrderNotFound = errors.New("procurement: purchase order not found")
	// ErrInvalidTransition rejects status changes outside the lifecycle.
	ErrInvalidTransition = errors.New("procurement: invalid status transition")
	// ErrNotDeliverable rejects receipts against non-deliverable orders.
	ErrNotDeliverable = errors.New("procurement: order cannot receive goods in its current status")
	// ErrReceiptExceedsOrder rejects receiving more than was ordered.
	ErrReceiptExceedsOrder = errors.New("procurement: received quantity exceeds ordered quantity")
	// ErrLineNotFound indicates a receipt item against an unknown order line.
	ErrLineNotFound = errors.New("procurement: order line not found")
)

// ValidateTransition enforces lifecycle rules. Delivered and closed orders
// cannot regress, approved orders cannot return to draft, and cancellation
// is only reachable before delivery.
func ValidateTransition(current, target Status) error {
	if current == target {
		return nil
	}
	allowed := map[Status][]Status{
		StatusDraft:     {StatusApproved, StatusCancelled},
		StatusApproved:  {StatusSent, StatusDelivered, StatusCancelled},
		StatusSent:      {StatusDelivered, StatusCancelled},
		StatusDelivered: {StatusClosed},
		StatusClosed:    {},
		StatusCancelled: {},
	}
	targets, ok := allowed[current]
	if !ok {
		return fmt.Errorf("procurement: unknown status %q", current)
	}
	for _, t := range targets {
		if t == target {
			return nil
		}
	}
	return ErrInvalidTransition
}

// DeriveReceivingStatus computes receipt progress from line quantities.
func DeriveReceivingStatus(lines []Line) ReceivingStatus {
	var ordered, received float64
	for _, line := range lines {
		ordered += line.Quantity
		received += line.ReceivedQty
	}
	switch {
	case received <= 0:
		return ReceivingPending
	case received < ordered:
		return ReceivingPartial
	default:
		return ReceivingComplete
	}
}
