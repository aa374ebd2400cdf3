package procurement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/shared"
)

// Store is the transactional surface for purchase orders.
type Store interface {
	InsertOrder(ctx context.Context, order PurchaseOrder) (PurchaseOrder, error)
	GetOrder(ctx context.Context, companyID, id int64) (PurchaseOrder, error)
	GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdateOrderStatus(ctx context.Context, id int64, status Status) error
	UpdateReceivingStatus(ctx context.Context, id int64, status ReceivingStatus) error
	SetMatchedBill(ctx context.Context, id, billID int64) error
	InsertReceipt(ctx context.Context, receipt Receipt) (Receipt, error)
	AddLineReceipt(ctx context.Context, lineID int64, received, accepted, rejected float64) error
	UpsertAsset(ctx context.Context, asset Asset) (Asset, error)
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
}

// AuditPort records order lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the purchase order lifecycle and goods receipts. Delivery
// side effects (stock movements, asset capitalization, journal postings) run
// through the posting pipeline, which calls back into this package's stores
// on its own transaction.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// LineInput describes one ordered item.
type LineInput struct {
	ProductID   *int64
	Description string
	Quantity    float64
	UnitPrice   float64
}

// CreateInput groups fields for a new order.
type CreateInput struct {
	CompanyID    int64
	VendorID     int64
	Number       string
	Date         time.Time
	PurchaseType documents.PurchaseType
	FixedAsset   bool
	Lines        []LineInput
}

// Create inserts a draft purchase order with computed totals.
func (s *Service) Create(ctx context.Context, input CreateInput) (PurchaseOrder, error) {
	if input.CompanyID == 0 || input.VendorID == 0 {
		return PurchaseOrder{}, errors.New("procurement: company and vendor required")
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, errors.New("procurement: order requires lines")
	}
	if input.PurchaseType == "" {
		input.PurchaseType = documents.PurchaseLocal
	}
	var total float64
	lines := make([]Line, 0, len(input.Lines))
	for idx, in := range input.Lines {
		if in.Quantity <= 0 {
			return PurchaseOrder{}, fmt.Errorf("procurement: line %d non-positive quantity", idx)
		}
		lineTotal := math.Round(in.Quantity*in.UnitPrice*100) / 100
		total += lineTotal
		lines = append(lines, Line{
			ProductID:   in.ProductID,
			Description: in.Description,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			LineTotal:   lineTotal,
		})
	}
	order := PurchaseOrder{
		CompanyID:       input.CompanyID,
		VendorID:        input.VendorID,
		Number:          input.Number,
		Date:            input.Date,
		Status:          StatusDraft,
		ReceivingStatus: ReceivingPending,
		PurchaseType:    input.PurchaseType,
		FixedAsset:      input.FixedAsset,
		TotalAmount:     math.Round(total*100) / 100,
		Lines:           lines,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		order, err = store.InsertOrder(ctx, order)
		return err
	})
	return order, err
}

// Transition moves an order through its lifecycle. Delivery is rejected
// here; it must run through the posting pipeline so stock and ledger effects
// land in the same transaction.
func (s *Service) Transition(ctx context.Context, companyID, orderID int64, target Status, actorID int64) (PurchaseOrder, error) {
	if target == StatusDelivered {
		return PurchaseOrder{}, errors.New("procurement: delivery runs through the posting pipeline")
	}
	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		current, err := store.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if current.CompanyID != companyID {
			return ErrOrderNotFound
		}
		if err := ValidateTransition(current.Status, target); err != nil {
			return err
		}
		if err := store.UpdateOrderStatus(ctx, orderID, target); err != nil {
			return err
		}
		order = current
		order.Status = target
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			CompanyID: companyID,
			ActorID:   actorID,
			Action:    "purchase_order.transition",
			Entity:    "purchase_order",
			EntityID:  fmt.Sprintf("%d", orderID),
			Meta:      map[string]any{"to": string(target)},
			At:        s.now(),
		})
	}
	return order, nil
}

// ReceiptItemInput records received and rejected quantity for one line.
type ReceiptItemInput struct {
	OrderLineID int64
	Received    float64
	Rejected    float64
}

// RecordReceipt books a goods receipt: accumulates per-line received and
// accepted quantities and rolls the order's receiving status forward.
// Accepted is received minus rejected.
func (s *Service) RecordReceipt(ctx context.Context, companyID, orderID int64, number string, items []ReceiptItemInput) (Receipt, error) {
	if len(items) == 0 {
		return Receipt{}, errors.New("procurement: receipt requires items")
	}
	var receipt Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		order, err := store.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.CompanyID != companyID {
			return ErrOrderNotFound
		}
		switch order.Status {
		case StatusApproved, StatusSent:
		default:
			return ErrNotDeliverable
		}
		linesByID := make(map[int64]*Line, len(order.Lines))
		for idx := range order.Lines {
			linesByID[order.Lines[idx].ID] = &order.Lines[idx]
		}
		receiptItems := make([]ReceiptItem, 0, len(items))
		for _, item := range items {
			line, ok := linesByID[item.OrderLineID]
			if !ok {
				return ErrLineNotFound
			}
			if item.Received <= 0 || item.Rejected < 0 || item.Rejected > item.Received {
				return errors.New("procurement: invalid receipt quantities")
			}
			if line.ReceivedQty+item.Received > line.Quantity {
				return ErrReceiptExceedsOrder
			}
			accepted := item.Received - item.Rejected
			if err := store.AddLineReceipt(ctx, line.ID, item.Received, accepted, item.Rejected); err != nil {
				return err
			}
			line.ReceivedQty += item.Received
			line.AcceptedQty += accepted
			line.RejectedQty += item.Rejected
			receiptItems = append(receiptItems, ReceiptItem{
				OrderLineID: line.ID,
				Received:    item.Received,
				Accepted:    accepted,
				Rejected:    item.Rejected,
			})
		}
		receipt, err = store.InsertReceipt(ctx, Receipt{
			OrderID:    orderID,
			Number:     number,
			ReceivedAt: s.now(),
			Items:      receiptItems,
		})
		if err != nil {
			return err
		}
		return store.UpdateReceivingStatus(ctx, orderID, DeriveReceivingStatus(order.Lines))
	})
	return receipt, err
}

// Get loads one order with lines.
func (s *Service) Get(ctx context.Context, companyID, orderID int64) (PurchaseOrder, error) {
	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		order, err = store.GetOrder(ctx, companyID, orderID)
		return err
	})
	return order, err
}
