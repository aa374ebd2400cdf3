package posting

import (
	"context"
	"fmt"

	"github.com/meridian-books/meridian/internal/inventory"
	"github.com/meridian-books/meridian/internal/procurement"
	"github.com/meridian-books/meridian/internal/shared"
)

// PostDeliveryInput drives the delivered transition of a purchase order.
type PostDeliveryInput struct {
	CompanyID            int64
	OrderID              int64
	ActorID              int64
	OverrideClosedPeriod bool
	Justification        string
}

// DeliveryResult reports the stock movements and assets a delivery created.
type DeliveryResult struct {
	Order     procurement.PurchaseOrder
	Movements []inventory.Movement
	Assets    []procurement.Asset
}

// PostDelivery flips a purchase order to delivered. Every accepted line
// quantity becomes an inbound stock movement; fixed-asset orders capitalize
// accepted quantities into asset records instead. Ledger impact follows when
// the vendor bill posts.
func (s *Service) PostDelivery(ctx context.Context, input PostDeliveryInput) (DeliveryResult, error) {
	var result DeliveryResult
	err := s.uow.Do(ctx, func(ctx context.Context, stores Stores) error {
		order, err := stores.Procurement.GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if order.CompanyID != input.CompanyID {
			return procurement.ErrOrderNotFound
		}
		if err := procurement.ValidateTransition(order.Status, procurement.StatusDelivered); err != nil {
			return err
		}

		if err := s.guard.EnsurePostable(ctx, order.CompanyID, s.now(), input.OverrideClosedPeriod, input.Justification, input.ActorID); err != nil {
			return err
		}

		for _, line := range order.Lines {
			if line.AcceptedQty <= 0 {
				continue
			}
			if order.FixedAsset {
				asset, err := stores.Procurement.UpsertAsset(ctx, procurement.Asset{
					CompanyID: order.CompanyID,
					ProductID: line.ProductID,
					Name:      line.Description,
					Quantity:  line.AcceptedQty,
					UnitCost:  line.UnitPrice,
				})
				if err != nil {
					return err
				}
				result.Assets = append(result.Assets, asset)
				continue
			}
			if line.ProductID == nil {
				continue
			}
			movement, err := s.stock.RecordMovementTx(ctx, stores.Inventory, inventory.MovementInput{
				CompanyID: order.CompanyID,
				ProductID: *line.ProductID,
				Type:      inventory.MovementInbound,
				Quantity:  line.AcceptedQty,
				UnitCost:  line.UnitPrice,
				Reference: fmt.Sprintf("po:%d", order.ID),
			})
			if err != nil {
				return err
			}
			result.Movements = append(result.Movements, movement)
		}

		if err := stores.Procurement.UpdateOrderStatus(ctx, order.ID, procurement.StatusDelivered); err != nil {
			return err
		}
		order.Status = procurement.StatusDelivered
		result.Order = order
		return nil
	})
	if err != nil {
		return DeliveryResult{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			CompanyID: input.CompanyID,
			ActorID:   input.ActorID,
			Action:    "purchase_order.deliver",
			Entity:    "purchase_order",
			EntityID:  fmt.Sprintf("%d", input.OrderID),
			Meta: map[string]any{
				"movements": len(result.Movements),
				"assets":    len(result.Assets),
			},
			At: s.now(),
		})
	}
	if s.enqueue != nil {
		_ = s.enqueue.EnqueueWebhook(ctx, input.CompanyID, "purchase_order.delivered", map[string]any{
			"order_id": input.OrderID,
		})
	}
	return result, nil
}
