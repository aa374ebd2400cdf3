package payments

import (
	"context"
	"errors"

	"github.com/meridian-books/meridian/internal/documents"
)

// Store is the transactional surface for payments.
type Store interface {
	InsertPayment(ctx context.Context, payment Payment) (Payment, error)
	InsertApplication(ctx context.Context, app Application) (Application, error)
	ListApplications(ctx context.Context, paymentID int64) ([]Application, error)
	GetPayment(ctx context.Context, companyID, id int64) (Payment, error)
}

// DocumentStore is the subset of document operations the engine needs.
// documents.TxRepository satisfies it.
type DocumentStore interface {
	GetDocumentForUpdate(ctx context.Context, id int64) (documents.Document, error)
	DecrementBalance(ctx context.Context, id int64, amount float64) (documents.Document, error)
	OldestOpen(ctx context.Context, companyID int64, docType documents.Type, partyID int64) (documents.Document, error)
}

// Engine allocates a payment across open documents. All writes happen on the
// stores handed in, so the caller controls the transaction boundary.
type Engine struct{}

// NewEngine constructs the application engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Apply persists the payment and allocates it. Explicit allocations are each
// capped at the target's remaining balance; the requested excess is dropped,
// not redirected. Without explicit allocations the single oldest open
// document of the matching type takes up to the full payment amount.
//
// The applications created by one call never sum past payment.Amount, and no
// document balance ever goes negative.
func (e *Engine) Apply(ctx context.Context, store Store, docs DocumentStore, payment Payment, allocations []Allocation) (Payment, []Application, error) {
	if err := payment.Validate(); err != nil {
		return Payment{}, nil, err
	}
	saved, err := store.InsertPayment(ctx, payment)
	if err != nil {
		return Payment{}, nil, err
	}
	var apps []Application
	if len(allocations) > 0 {
		apps, err = e.applyExplicit(ctx, store, docs, saved, allocations)
	} else {
		apps, err = e.applyOldest(ctx, store, docs, saved)
	}
	if err != nil {
		return Payment{}, nil, err
	}
	return saved, apps, nil
}

func (e *Engine) applyExplicit(ctx context.Context, store Store, docs DocumentStore, payment Payment, allocations []Allocation) ([]Application, error) {
	var requested float64
	for _, alloc := range allocations {
		if alloc.Amount <= 0 {
			return nil, ErrInvalidAmount
		}
		requested += alloc.Amount
	}
	if round2(requested) > round2(payment.Amount) {
		return nil, ErrAllocationsExceedPayment
	}
	wantType := payment.Direction.DocumentType()
	apps := make([]Application, 0, len(allocations))
	for _, alloc := range allocations {
		doc, err := docs.GetDocumentForUpdate(ctx, alloc.DocumentID)
		if err != nil {
			return nil, err
		}
		if doc.CompanyID != payment.CompanyID || doc.Type != wantType {
			return nil, ErrDocumentMismatch
		}
		if !doc.IsOpen() {
			return nil, ErrDocumentNotOpen
		}
		applied := round2(min(alloc.Amount, doc.BalanceDue))
		if applied <= 0 {
			continue
		}
		if _, err := docs.DecrementBalance(ctx, doc.ID, applied); err != nil {
			return nil, err
		}
		app, err := store.InsertApplication(ctx, Application{
			PaymentID:  payment.ID,
			DocumentID: doc.ID,
			Amount:     applied,
		})
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// applyOldest allocates the payment to the oldest open document of the
// matching type. A payment with nothing to settle stays on account with zero
// applications.
func (e *Engine) applyOldest(ctx context.Context, store Store, docs DocumentStore, payment Payment) ([]Application, error) {
	doc, err := docs.OldestOpen(ctx, payment.CompanyID, payment.Direction.DocumentType(), payment.PartyID)
	if err != nil {
		if errors.Is(err, documents.ErrDocumentNotFound) {
			return nil, nil
		}
		return nil, err
	}
	applied := round2(min(payment.Amount, doc.BalanceDue))
	if applied <= 0 {
		return nil, nil
	}
	if _, err := docs.DecrementBalance(ctx, doc.ID, applied); err != nil {
		return nil, err
	}
	app, err := store.InsertApplication(ctx, Application{
		PaymentID:  payment.ID,
		DocumentID: doc.ID,
		Amount:     applied,
	})
	if err != nil {
		return nil, err
	}
	return []Application{app}, nil
}
