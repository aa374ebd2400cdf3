package posting

import (
	"context"
	"fmt"

	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/ledger"
	"github.com/meridian-books/meridian/internal/shared"
)

// PostInvoiceInput drives one invoice posting.
type PostInvoiceInput struct {
	CompanyID            int64
	InvoiceID            int64
	ActorID              int64
	OverrideClosedPeriod bool
	Justification        string
}

// InvoiceResult reports what one invoice posting produced.
type InvoiceResult struct {
	Document documents.Document
	Entry    ledger.JournalEntry
}

// PostInvoice posts a draft invoice: AR is debited for the total and
// REVENUE credited per line. Cash effects come later through payment
// postings.
func (s *Service) PostInvoice(ctx context.Context, input PostInvoiceInput) (InvoiceResult, error) {
	var result InvoiceResult
	err := s.uow.Do(ctx, func(ctx context.Context, stores Stores) error {
		doc, err := stores.Documents.GetDocumentForUpdate(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if doc.CompanyID != input.CompanyID {
			return ErrCompanyMismatch
		}
		if doc.Type != documents.TypeInvoice {
			return documents.ErrDocumentNotFound
		}
		switch doc.Status {
		case documents.StatusDraft:
		case documents.StatusCancelled:
			return documents.ErrCancelled
		default:
			return documents.ErrAlreadyPosted
		}

		if err := s.guard.EnsurePostable(ctx, doc.CompanyID, doc.Date, input.OverrideClosedPeriod, input.Justification, input.ActorID); err != nil {
			return err
		}

		resolver := ledger.NewResolver(stores.Ledger)
		accounts, err := resolver.ResolveSet(ctx, doc.CompanyID, ledger.PurposeAR, ledger.PurposeRevenue)
		if err != nil {
			return err
		}

		lines := []ledger.PostingLineInput{{
			AccountID: accounts[ledger.PurposeAR].ID,
			Debit:     round2(doc.TotalAmount),
			Memo:      fmt.Sprintf("Invoice %s", doc.Number),
		}}
		for _, line := range doc.Lines {
			lines = append(lines, ledger.PostingLineInput{
				AccountID: accounts[ledger.PurposeRevenue].ID,
				Credit:    line.LineTotal,
				Memo:      line.Description,
			})
		}

		entry, err := s.journal.PostEntryTx(ctx, stores.Ledger, ledger.PostingInput{
			CompanyID:    doc.CompanyID,
			Date:         doc.Date,
			Memo:         fmt.Sprintf("Invoice %s", doc.Number),
			Reference:    doc.Number,
			SourceModule: "invoice",
			SourceID:     doc.SourceID,
			PostedBy:     input.ActorID,
			Lines:        lines,
		})
		if err != nil {
			return err
		}

		if err := stores.Documents.MarkPosted(ctx, doc.ID); err != nil {
			return err
		}
		doc.Status = documents.StatusPosted
		result.Document = doc
		result.Entry = entry
		return nil
	})
	if err != nil {
		return InvoiceResult{}, err
	}
	s.afterCommit(ctx, shared.AuditLog{
		CompanyID: input.CompanyID,
		ActorID:   input.ActorID,
		Action:    "invoice.post",
		Entity:    "invoice",
		EntityID:  fmt.Sprintf("%d", input.InvoiceID),
		Meta: map[string]any{
			"entry_id": result.Entry.ID,
			"total":    result.Document.TotalAmount,
		},
		At: s.now(),
	}, result.Entry.ID)
	return result, nil
}
