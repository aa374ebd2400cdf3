package posting

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/meridian-books/meridian/internal/ledger"
	"github.com/meridian-books/meridian/internal/payments"
	"github.com/meridian-books/meridian/internal/shared"
)

// PostPaymentInput drives one payment posting, including its applications.
type PostPaymentInput struct {
	Payment              payments.Payment
	Allocations          []payments.Allocation
	ActorID              int64
	OverrideClosedPeriod bool
	Justification        string
}

// PaymentResult reports the saved payment, its applications and the journal
// entry.
type PaymentResult struct {
	Payment      payments.Payment
	Applications []payments.Application
	Entry        ledger.JournalEntry
}

// paymentLines builds the balanced entry for a settled amount with an
// optional realized FX difference. A receivable payment debits CASH and
// credits AR; a payable payment mirrors it. A positive difference credits
// FX_GAIN, a negative one debits FX_LOSS for its absolute value, and the
// counterpart AR/AP amount absorbs the difference so the entry balances.
func paymentLines(p payments.Payment, accounts map[ledger.AccountPurpose]ledger.Account) []ledger.PostingLineInput {
	amount := round2(p.Amount)
	fx := round2(p.FXGainLoss)
	cash := accounts[ledger.PurposeCash].ID

	counterpart := ledger.PurposeAR
	if p.Direction == payments.DirectionPayable {
		counterpart = ledger.PurposeAP
	}
	side := accounts[counterpart].ID

	var lines []ledger.PostingLineInput
	if p.Direction == payments.DirectionReceivable {
		lines = append(lines, ledger.PostingLineInput{AccountID: cash, Debit: amount, Memo: "Payment received"})
		switch {
		case fx > 0:
			lines = append(lines,
				ledger.PostingLineInput{AccountID: side, Credit: round2(amount - fx), Memo: "Settle receivable"},
				ledger.PostingLineInput{AccountID: accounts[ledger.PurposeFXGain].ID, Credit: fx, Memo: "Realized FX gain"})
		case fx < 0:
			loss := round2(math.Abs(fx))
			lines = append(lines,
				ledger.PostingLineInput{AccountID: accounts[ledger.PurposeFXLoss].ID, Debit: loss, Memo: "Realized FX loss"},
				ledger.PostingLineInput{AccountID: side, Credit: round2(amount + loss), Memo: "Settle receivable"})
		default:
			lines = append(lines, ledger.PostingLineInput{AccountID: side, Credit: amount, Memo: "Settle receivable"})
		}
		return lines
	}

	lines = append(lines, ledger.PostingLineInput{AccountID: cash, Credit: amount, Memo: "Payment issued"})
	switch {
	case fx > 0:
		lines = append(lines,
			ledger.PostingLineInput{AccountID: side, Debit: round2(amount + fx), Memo: "Settle payable"},
			ledger.PostingLineInput{AccountID: accounts[ledger.PurposeFXGain].ID, Credit: fx, Memo: "Realized FX gain"})
	case fx < 0:
		loss := round2(math.Abs(fx))
		lines = append(lines,
			ledger.PostingLineInput{AccountID: side, Debit: round2(amount - loss), Memo: "Settle payable"},
			ledger.PostingLineInput{AccountID: accounts[ledger.PurposeFXLoss].ID, Debit: loss, Memo: "Realized FX loss"})
	default:
		lines = append(lines, ledger.PostingLineInput{AccountID: side, Debit: amount, Memo: "Settle payable"})
	}
	return lines
}

// PostPayment persists a payment, applies it to open documents and posts the
// cash entry, all in one unit of work.
func (s *Service) PostPayment(ctx context.Context, input PostPaymentInput) (PaymentResult, error) {
	payment := input.Payment
	if payment.SourceID == uuid.Nil {
		payment.SourceID = uuid.New()
	}
	var result PaymentResult
	err := s.uow.Do(ctx, func(ctx context.Context, stores Stores) error {
		if err := s.guard.EnsurePostable(ctx, payment.CompanyID, payment.Date, input.OverrideClosedPeriod, input.Justification, input.ActorID); err != nil {
			return err
		}

		purposes := []ledger.AccountPurpose{ledger.PurposeCash}
		if payment.Direction == payments.DirectionPayable {
			purposes = append(purposes, ledger.PurposeAP)
		} else {
			purposes = append(purposes, ledger.PurposeAR)
		}
		if payment.FXGainLoss > 0 {
			purposes = append(purposes, ledger.PurposeFXGain)
		} else if payment.FXGainLoss < 0 {
			purposes = append(purposes, ledger.PurposeFXLoss)
		}
		resolver := ledger.NewResolver(stores.Ledger)
		accounts, err := resolver.ResolveSet(ctx, payment.CompanyID, purposes...)
		if err != nil {
			return err
		}

		saved, apps, err := s.engine.Apply(ctx, stores.Payments, stores.Documents, payment, input.Allocations)
		if err != nil {
			return err
		}

		entry, err := s.journal.PostEntryTx(ctx, stores.Ledger, ledger.PostingInput{
			CompanyID:    saved.CompanyID,
			Date:         saved.Date,
			Memo:         fmt.Sprintf("Payment %s", saved.Reference),
			Reference:    saved.Reference,
			SourceModule: "payment",
			SourceID:     saved.SourceID,
			PostedBy:     input.ActorID,
			Lines:        paymentLines(saved, accounts),
		})
		if err != nil {
			return err
		}

		result.Payment = saved
		result.Applications = apps
		result.Entry = entry
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	s.afterCommit(ctx, shared.AuditLog{
		CompanyID: payment.CompanyID,
		ActorID:   input.ActorID,
		Action:    "payment.post",
		Entity:    "payment",
		EntityID:  fmt.Sprintf("%d", result.Payment.ID),
		Meta: map[string]any{
			"entry_id":     result.Entry.ID,
			"amount":       result.Payment.Amount,
			"applications": len(result.Applications),
		},
		At: s.now(),
	}, result.Entry.ID)
	return result, nil
}
