package payments

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-books/meridian/internal/documents"
)

// Direction distinguishes money received from money paid out.
type Direction string

const (
	DirectionReceivable Direction = "receivable"
	DirectionPayable    Direction = "payable"
)

// DocumentType returns the open-document type a direction settles.
func (d Direction) DocumentType() documents.Type {
	if d == DirectionPayable {
		return documents.TypeBill
	}
	return documents.TypeInvoice
}

// Method enumerates payment instruments.
type Method string

const (
	MethodCash     Method = "cash"
	MethodBank     Method = "bank_transfer"
	MethodCard     Method = "card"
	MethodCheque   Method = "cheque"
	MethodInternal Method = "internal"
)

// Payment is one received or issued amount. FXGainLoss is the realized
// difference supplied by the caller when the payment settles a foreign
// currency document.
type Payment struct {
	ID                int64
	CompanyID         int64
	Direction         Direction
	PartyID           int64
	Amount            float64
	Method            Method
	Reference         string
	Date              time.Time
	Currency          string
	FXGainLoss        float64
	BankTransactionID *int64
	SourceID          uuid.UUID
	CreatedAt         time.Time
}

// Application links a payment to one document with the amount applied.
// Applications are append-only.
type Application struct {
	ID         int64
	PaymentID  int64
	DocumentID int64
	Amount     float64
	CreatedAt  time.Time
}

// Allocation is an explicit caller-requested split of a payment.
type Allocation struct {
	DocumentID int64
	Amount     float64
}

var (
	// ErrInvalidAmount rejects non-positive payment amounts.
	ErrInvalidAmount = errors.New("payments: amount must be positive")
	// ErrAllocationsExceedPayment rejects explicit splits summing past the
	// payment amount.
	ErrAllocationsExceedPayment = errors.New("payments: allocations exceed payment amount")
	// ErrDocumentNotOpen indicates an allocation target that carries no
	// payable balance.
	ErrDocumentNotOpen = errors.New("payments: document not open for application")
	// ErrDocumentMismatch indicates an allocation target of the wrong type or
	// company.
	ErrDocumentMismatch = errors.New("payments: document does not match payment")
	// ErrPaymentNotFound indicates a missing payment row.
	ErrPaymentNotFound = errors.New("payments: payment not found")
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Validate checks a payment before persistence.
func (p Payment) Validate() error {
	if p.CompanyID == 0 {
		return errors.New("payments: company required")
	}
	if p.PartyID == 0 {
		return errors.New("payments: party required")
	}
	if p.Direction != DirectionReceivable && p.Direction != DirectionPayable {
		return errors.New("payments: unknown direction")
	}
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
