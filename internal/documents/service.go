package documents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaxSource resolves company tax rates for line computation.
type TaxSource interface {
	GetTaxRate(ctx context.Context, companyID, id int64) (TaxRate, error)
	GetTaxRateByName(ctx context.Context, companyID int64, name string) (TaxRate, error)
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Service owns document creation and queries. Posting and payment side
// effects run through the posting pipeline, not here.
type Service struct {
	repo RepositoryPort
	tax  TaxSource
	now  func() time.Time
}

// NewService constructs the document service.
func NewService(repo RepositoryPort, tax TaxSource) *Service {
	return &Service{repo: repo, tax: tax, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// LineInput describes one incoming document line. Tax is resolved by rate id
// first, then by name, then the numeric TaxPct is used as-is.
type LineInput struct {
	Description  string
	ProductID    *int64
	Quantity     float64
	UnitPrice    float64
	TaxRateID    *int64
	TaxName      string
	TaxPct       float64
	TaxInclusive bool
}

// CreateInput groups fields for a new bill or invoice.
type CreateInput struct {
	CompanyID        int64
	Type             Type
	PartyID          int64
	Number           string
	Date             time.Time
	DueDate          *time.Time
	Currency         string
	PurchaseType     PurchaseType
	FreightCost      float64
	CustomsDuty      float64
	OtherImportCosts float64
	PurchaseOrderID  *int64
	Lines            []LineInput
}

// resolveTax returns the effective rate and inclusiveness for a line.
func (s *Service) resolveTax(ctx context.Context, companyID int64, in LineInput) (float64, bool, error) {
	if in.TaxRateID != nil && s.tax != nil {
		rate, err := s.tax.GetTaxRate(ctx, companyID, *in.TaxRateID)
		if err == nil {
			return rate.Rate, rate.Inclusive, nil
		}
		if !errors.Is(err, ErrTaxRateNotFound) {
			return 0, false, err
		}
	}
	if in.TaxName != "" && s.tax != nil {
		rate, err := s.tax.GetTaxRateByName(ctx, companyID, in.TaxName)
		if err == nil {
			return rate.Rate, rate.Inclusive, nil
		}
		if !errors.Is(err, ErrTaxRateNotFound) {
			return 0, false, err
		}
	}
	return in.TaxPct, in.TaxInclusive, nil
}

// Create inserts a draft document with computed lines and totals.
func (s *Service) Create(ctx context.Context, input CreateInput) (Document, error) {
	if len(input.Lines) == 0 {
		return Document{}, ErrNoLines
	}
	if input.PurchaseType == "" {
		input.PurchaseType = PurchaseLocal
	}
	lines := make([]Line, 0, len(input.Lines))
	for _, in := range input.Lines {
		rate, inclusive, err := s.resolveTax(ctx, input.CompanyID, in)
		if err != nil {
			return Document{}, err
		}
		line := Line{
			Description: in.Description,
			ProductID:   in.ProductID,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			TaxRateID:   in.TaxRateID,
			TaxName:     in.TaxName,
		}
		lines = append(lines, ComputeLine(line, rate, inclusive))
	}
	total := Totals(lines)
	doc := Document{
		CompanyID:        input.CompanyID,
		Type:             input.Type,
		PartyID:          input.PartyID,
		Number:           input.Number,
		Date:             input.Date,
		DueDate:          input.DueDate,
		Currency:         input.Currency,
		PurchaseType:     input.PurchaseType,
		Status:           StatusDraft,
		TotalAmount:      total,
		BalanceDue:       total,
		FreightCost:      input.FreightCost,
		CustomsDuty:      input.CustomsDuty,
		OtherImportCosts: input.OtherImportCosts,
		SourceID:         uuid.New(),
		PurchaseOrderID:  input.PurchaseOrderID,
		Lines:            lines,
	}
	if err := ValidateNew(doc); err != nil {
		return Document{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.InsertDocument(ctx, doc)
		return err
	})
	return doc, err
}

// Get loads a document with lines.
func (s *Service) Get(ctx context.Context, companyID, id int64) (Document, error) {
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.GetDocument(ctx, companyID, id)
		return err
	})
	return doc, err
}

// Cancel flips a draft document to cancelled. Posted documents cannot be
// cancelled; they are reversed through the ledger.
func (s *Service) Cancel(ctx context.Context, companyID, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if doc.CompanyID != companyID {
			return ErrDocumentNotFound
		}
		if doc.Status != StatusDraft {
			return ErrNotDraft
		}
		return tx.UpdateStatus(ctx, id, StatusCancelled)
	})
}

// MarkOverdue flips open documents past their due date to overdue.
func (s *Service) MarkOverdue(ctx context.Context, companyID int64) (int64, error) {
	var updated int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.MarkOverdue(ctx, companyID, s.now())
		return err
	})
	return updated, err
}

// Aging buckets the open balances of one document type by days overdue.
func (s *Service) Aging(ctx context.Context, companyID int64, docType Type) ([]AgingBucket, error) {
	var open []Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		open, err = tx.ListOpen(ctx, companyID, docType)
		return err
	})
	if err != nil {
		return nil, err
	}
	asOf := s.now()
	order := []string{"current", "1-30", "31-60", "61-90", "90+"}
	byLabel := make(map[string]*AgingBucket, len(order))
	for _, label := range order {
		byLabel[label] = &AgingBucket{Label: label}
	}
	for _, doc := range open {
		bucket := byLabel[Age(doc.DueDate, asOf)]
		bucket.Balance = round2(bucket.Balance + doc.BalanceDue)
		bucket.Count++
	}
	out := make([]AgingBucket, 0, len(order))
	for _, label := range order {
		out = append(out, *byLabel[label])
	}
	return out, nil
}
