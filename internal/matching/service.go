package matching

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/procurement"
	"github.com/meridian-books/meridian/internal/shared"
)

// Store is the transactional surface for match records.
type Store interface {
	GetSetting(ctx context.Context, companyID int64, key string) (string, error)
	InsertException(ctx context.Context, exc Exception) (Exception, error)
	GetException(ctx context.Context, companyID, id int64) (Exception, error)
	ListExceptions(ctx context.Context, companyID int64) ([]Exception, error)
	HasResolution(ctx context.Context, exceptionID int64) (bool, error)
	InsertResolution(ctx context.Context, res Resolution) (Resolution, error)
}

// OrderStore is the purchase order surface the engine needs.
// procurement.Store satisfies it.
type OrderStore interface {
	GetOrderForUpdate(ctx context.Context, id int64) (procurement.PurchaseOrder, error)
	SetMatchedBill(ctx context.Context, id, billID int64) error
}

// BillLinker links a bill back to its order. documents.TxRepository
// satisfies it.
type BillLinker interface {
	LinkPurchaseOrder(ctx context.Context, id, purchaseOrderID int64) error
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store, OrderStore, BillLinker) error) error
}

// AuditPort records resolution events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs three-way matches and manages exceptions.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	defaults Defaults
	now      func() time.Time
}

// NewService constructs the matching service. defaults come from
// configuration and back the company settings lookup.
func NewService(repo RepositoryPort, audit AuditPort, defaults Defaults) *Service {
	return &Service{repo: repo, audit: audit, defaults: defaults, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// resolveTolerance reads company settings for the purchase type, falling
// back to configured then hardcoded defaults. Malformed or absent settings
// fall through silently; tolerance resolution never blocks a match.
func (s *Service) resolveTolerance(ctx context.Context, store Store, companyID int64, purchaseType documents.PurchaseType) Tolerance {
	tol := s.defaults.ToleranceFor(purchaseType)
	pctKey, absKey := KeyPctLocal, KeyAbsLocal
	if purchaseType == documents.PurchaseImport {
		pctKey, absKey = KeyPctImport, KeyAbsImport
	}
	if raw, err := store.GetSetting(ctx, companyID, pctKey); err == nil {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			tol.Pct = v
		}
	}
	if raw, err := store.GetSetting(ctx, companyID, absKey); err == nil {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			tol.Abs = v
		}
	}
	return tol
}

// MatchTx compares an order against a bill on the caller's transaction. The
// bill is linked to the order regardless of outcome; an out-of-tolerance
// pair additionally gets an immutable exception record. Receipt quantity
// variances ride along in the result for review.
func (s *Service) MatchTx(ctx context.Context, store Store, orders OrderStore, bills BillLinker, orderID int64, bill documents.Document) (Result, error) {
	if bill.Type != documents.TypeBill {
		return Result{}, ErrTypeMismatch
	}
	order, err := orders.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	tol := s.resolveTolerance(ctx, store, order.CompanyID, order.PurchaseType)
	diff, pct, within := Evaluate(order.TotalAmount, bill.TotalAmount, tol)

	if err := orders.SetMatchedBill(ctx, order.ID, bill.ID); err != nil {
		return Result{}, err
	}
	if err := bills.LinkPurchaseOrder(ctx, bill.ID, order.ID); err != nil {
		return Result{}, err
	}

	result := Result{
		PurchaseOrderID: order.ID,
		BillID:          bill.ID,
		OrderTotal:      order.TotalAmount,
		BillTotal:       bill.TotalAmount,
		Diff:            diff,
		DiffPct:         pct,
		Tolerance:       tol,
		Matched:         within,
		Variances:       variances(order.Lines),
	}
	if !within {
		exc, err := store.InsertException(ctx, Exception{
			CompanyID:       order.CompanyID,
			PurchaseOrderID: order.ID,
			BillID:          bill.ID,
			OrderTotal:      order.TotalAmount,
			BillTotal:       bill.TotalAmount,
			Diff:            diff,
			DiffPct:         pct,
			TolerancePct:    tol.Pct,
			ToleranceAbs:    tol.Abs,
			CreatedAt:       s.now(),
		})
		if err != nil {
			return Result{}, err
		}
		result.Exception = &exc
	}
	return result, nil
}

// Match runs MatchTx in its own transaction against a loaded bill.
func (s *Service) Match(ctx context.Context, orderID int64, bill documents.Document) (Result, error) {
	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store, orders OrderStore, bills BillLinker) error {
		var err error
		result, err = s.MatchTx(ctx, store, orders, bills, orderID, bill)
		return err
	})
	return result, err
}

func variances(lines []procurement.Line) []QuantityVariance {
	var out []QuantityVariance
	for _, line := range lines {
		if line.ReceivedQty == line.Quantity && line.RejectedQty == 0 {
			continue
		}
		out = append(out, QuantityVariance{
			OrderLineID: line.ID,
			ProductID:   line.ProductID,
			Ordered:     line.Quantity,
			Received:    line.ReceivedQty,
			Accepted:    line.AcceptedQty,
		})
	}
	return out
}

// ResolveException records a resolution for an exception and audit-logs it.
// The exception row itself is never mutated.
func (s *Service) ResolveException(ctx context.Context, companyID, exceptionID, actorID int64, note string) (Resolution, error) {
	var resolution Resolution
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store, _ OrderStore, _ BillLinker) error {
		exc, err := store.GetException(ctx, companyID, exceptionID)
		if err != nil {
			return err
		}
		resolved, err := store.HasResolution(ctx, exc.ID)
		if err != nil {
			return err
		}
		if resolved {
			return ErrAlreadyResolved
		}
		resolution, err = store.InsertResolution(ctx, Resolution{
			ExceptionID: exc.ID,
			ActorID:     actorID,
			Note:        note,
			CreatedAt:   s.now(),
		})
		return err
	})
	if err != nil {
		return Resolution{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			CompanyID: companyID,
			ActorID:   actorID,
			Action:    "match_exception.resolve",
			Entity:    "match_exception",
			EntityID:  fmt.Sprintf("%d", exceptionID),
			Meta:      map[string]any{"note": note},
			At:        s.now(),
		})
	}
	return resolution, nil
}

// ListExceptions returns a company's exception records, newest first.
func (s *Service) ListExceptions(ctx context.Context, companyID int64) ([]Exception, error) {
	var out []Exception
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store, _ OrderStore, _ BillLinker) error {
		var err error
		out, err = store.ListExceptions(ctx, companyID)
		return err
	})
	return out, err
}
