package posting

import (
	"context"
	"fmt"
	"math"

	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/inventory"
	"github.com/meridian-books/meridian/internal/landedcost"
	"github.com/meridian-books/meridian/internal/ledger"
	"github.com/meridian-books/meridian/internal/matching"
	"github.com/meridian-books/meridian/internal/shared"
)

// PostBillInput drives one bill posting.
type PostBillInput struct {
	CompanyID            int64
	BillID               int64
	ActorID              int64
	OverrideClosedPeriod bool
	Justification        string
	MatchOrderID         *int64
}

// BillResult reports everything one bill posting produced.
type BillResult struct {
	Document    documents.Document
	Entry       ledger.JournalEntry
	Allocations []landedcost.Allocation
	Match       *matching.Result
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// PostBill posts a draft bill: inventory lines debit INVENTORY, other lines
// debit EXPENSE, and AP is credited for the full obligation. Import bills
// with landed costs capitalize them into inventory when inventory lines
// exist, otherwise expense them. Stock arrives in the same transaction.
func (s *Service) PostBill(ctx context.Context, input PostBillInput) (BillResult, error) {
	var result BillResult
	err := s.uow.Do(ctx, func(ctx context.Context, stores Stores) error {
		doc, err := stores.Documents.GetDocumentForUpdate(ctx, input.BillID)
		if err != nil {
			return err
		}
		if doc.CompanyID != input.CompanyID {
			return ErrCompanyMismatch
		}
		if doc.Type != documents.TypeBill {
			return matching.ErrTypeMismatch
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

		var inventoryTotal, expenseTotal float64
		for _, line := range doc.Lines {
			if line.ProductID != nil {
				inventoryTotal += line.LineTotal
			} else {
				expenseTotal += line.LineTotal
			}
		}
		landed := doc.LandedTotal()
		importBill := doc.PurchaseType == documents.PurchaseImport && landed > 0

		var allocations []landedcost.Allocation
		if importBill {
			allocations, err = s.allocator.Allocate(ctx, stores.Documents, stores.Inventory, doc)
			if err != nil {
				return err
			}
		}
		capitalized := len(allocations) > 0

		purposes := []ledger.AccountPurpose{ledger.PurposeAP}
		if inventoryTotal > 0 || capitalized {
			purposes = append(purposes, ledger.PurposeInventory)
		}
		if expenseTotal > 0 || (importBill && !capitalized) {
			purposes = append(purposes, ledger.PurposeExpense)
		}
		resolver := ledger.NewResolver(stores.Ledger)
		accounts, err := resolver.ResolveSet(ctx, doc.CompanyID, purposes...)
		if err != nil {
			return err
		}

		var lines []ledger.PostingLineInput
		if inventoryTotal > 0 {
			lines = append(lines, ledger.PostingLineInput{
				AccountID: accounts[ledger.PurposeInventory].ID,
				Debit:     round2(inventoryTotal),
				Memo:      "Inventory purchases",
			})
		}
		if expenseTotal > 0 {
			lines = append(lines, ledger.PostingLineInput{
				AccountID: accounts[ledger.PurposeExpense].ID,
				Debit:     round2(expenseTotal),
				Memo:      "Purchases",
			})
		}
		if importBill {
			memo := "Landed costs capitalized"
			purpose := ledger.PurposeInventory
			if !capitalized {
				memo = "Landed costs expensed"
				purpose = ledger.PurposeExpense
			}
			lines = append(lines, ledger.PostingLineInput{
				AccountID: accounts[purpose].ID,
				Debit:     landed,
				Memo:      memo,
			})
		}
		credit := round2(doc.TotalAmount)
		if importBill {
			credit = round2(credit + landed)
		}
		lines = append(lines, ledger.PostingLineInput{
			AccountID: accounts[ledger.PurposeAP].ID,
			Credit:    credit,
			Memo:      fmt.Sprintf("Bill %s", doc.Number),
		})

		entry, err := s.journal.PostEntryTx(ctx, stores.Ledger, ledger.PostingInput{
			CompanyID:    doc.CompanyID,
			Date:         doc.Date,
			Memo:         fmt.Sprintf("Bill %s", doc.Number),
			Reference:    doc.Number,
			SourceModule: "bill",
			SourceID:     doc.SourceID,
			PostedBy:     input.ActorID,
			Lines:        lines,
		})
		if err != nil {
			return err
		}

		for _, line := range doc.Lines {
			if line.ProductID == nil {
				continue
			}
			if _, err := s.stock.RecordMovementTx(ctx, stores.Inventory, inventory.MovementInput{
				CompanyID: doc.CompanyID,
				ProductID: *line.ProductID,
				Type:      inventory.MovementInbound,
				Quantity:  line.Quantity,
				UnitCost:  line.UnitPrice,
				Reference: fmt.Sprintf("bill:%d", doc.ID),
			}); err != nil {
				return err
			}
		}

		orderID := input.MatchOrderID
		if orderID == nil {
			orderID = doc.PurchaseOrderID
		}
		if orderID != nil {
			match, err := s.matcher.MatchTx(ctx, stores.Matching, stores.Procurement, stores.Documents, *orderID, doc)
			if err != nil {
				return err
			}
			result.Match = &match
		}

		if err := stores.Documents.MarkPosted(ctx, doc.ID); err != nil {
			return err
		}
		doc.Status = documents.StatusPosted
		doc.LandedCostAllocated = doc.LandedCostAllocated || capitalized
		result.Document = doc
		result.Entry = entry
		result.Allocations = allocations
		return nil
	})
	if err != nil {
		return BillResult{}, err
	}
	s.afterCommit(ctx, shared.AuditLog{
		CompanyID: input.CompanyID,
		ActorID:   input.ActorID,
		Action:    "bill.post",
		Entity:    "bill",
		EntityID:  fmt.Sprintf("%d", input.BillID),
		Meta: map[string]any{
			"entry_id": result.Entry.ID,
			"total":    result.Document.TotalAmount,
		},
		At: s.now(),
	}, result.Entry.ID)
	return result, nil
}
