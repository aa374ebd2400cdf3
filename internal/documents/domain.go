package documents

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Type distinguishes payables from receivables.
type Type string

const (
	TypeBill    Type = "BILL"
	TypeInvoice Type = "INVOICE"
)

// Status enumerates the document lifecycle. Transitions are monotonic except
// for the explicit partial-payment updates.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusPosted        Status = "posted"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusOverdue       Status = "overdue"
	StatusCancelled     Status = "cancelled"
)

// PurchaseType controls landed-cost handling and matching tolerances.
type PurchaseType string

const (
	PurchaseLocal  PurchaseType = "local"
	PurchaseImport PurchaseType = "import"
)

// TaxRate is a named company-level rate. Inclusive rates are back-computed
// out of the gross line amount.
type TaxRate struct {
	ID        int64
	CompanyID int64
	Name      string
	Rate      float64
	Inclusive bool
}

// Line is one document line. ProductID is set when the line moves tracked
// inventory.
type Line struct {
	ID          int64
	DocumentID  int64
	Description string
	ProductID   *int64
	Quantity    float64
	UnitPrice   float64
	TaxRateID   *int64
	TaxName     string
	TaxPct      float64
	TaxAmount   float64
	LineTotal   float64
}

// Document models a bill or invoice. BalanceDue only ever decreases and
// never drops below zero.
type Document struct {
	ID                  int64
	CompanyID           int64
	Type                Type
	PartyID             int64
	Number              string
	Date                time.Time
	DueDate             *time.Time
	Currency            string
	PurchaseType        PurchaseType
	Status              Status
	TotalAmount         float64
	BalanceDue          float64
	FreightCost         float64
	CustomsDuty         float64
	OtherImportCosts    float64
	LandedCostAllocated bool
	SourceID            uuid.UUID
	PurchaseOrderID     *int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Lines               []Line
}

// IsOpen reports whether the document still carries a payable balance.
func (d Document) IsOpen() bool {
	switch d.Status {
	case StatusPosted, StatusPartiallyPaid, StatusOverdue:
		return d.BalanceDue > 0
	}
	return false
}

var (
	// ErrDocumentNotFound indicates a missing document row.
	ErrDocumentNotFound = errors.New("documents: document not found")
	// ErrNotDraft rejects edits to a document past draft.
	ErrNotDraft = errors.New("documents: document is not draft")
	// ErrAlreadyPosted rejects a second posting attempt.
	ErrAlreadyPosted = errors.New("documents: document already posted")
	// ErrCancelled rejects operations on a cancelled document.
	ErrCancelled = errors.New("documents: document cancelled")
	// ErrBalanceExceeded guards balanceDue against going negative.
	ErrBalanceExceeded = errors.New("documents: applied amount exceeds balance due")
	// ErrTaxRateNotFound indicates an unresolvable tax reference.
	ErrTaxRateNotFound = errors.New("documents: tax rate not found")
	// ErrNoLines rejects posting a document with no lines.
	ErrNoLines = errors.New("documents: document has no lines")
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComputeLine fills TaxAmount and LineTotal from quantity, unit price and the
// resolved rate. Rounding happens once per line so line totals sum without
// drift.
func ComputeLine(line Line, rate float64, inclusive bool) Line {
	amount := line.Quantity * line.UnitPrice
	var tax, total float64
	switch {
	case rate <= 0:
		tax, total = 0, amount
	case inclusive:
		tax = amount * rate / (1 + rate)
		total = amount
	default:
		tax = amount * rate
		total = amount + tax
	}
	line.TaxPct = rate
	line.TaxAmount = round2(tax)
	line.LineTotal = round2(total)
	return line
}

// Totals sums line totals at line precision.
func Totals(lines []Line) (total float64) {
	for _, line := range lines {
		total += line.LineTotal
	}
	return round2(total)
}

// LandedTotal is the sum of import-related costs on a bill.
func (d Document) LandedTotal() float64 {
	return round2(d.FreightCost + d.CustomsDuty + d.OtherImportCosts)
}

// StatusForBalance derives the payment status from the remaining balance.
func StatusForBalance(total, balance float64) Status {
	switch {
	case balance <= 0:
		return StatusPaid
	case balance < total:
		return StatusPartiallyPaid
	default:
		return StatusPosted
	}
}

// AgingBucket groups open balances by days overdue.
type AgingBucket struct {
	Label   string
	Balance float64
	Count   int
}

// Age assigns a document's open balance to a standard aging bucket as of a
// given day.
func Age(due *time.Time, asOf time.Time) string {
	if due == nil || !asOf.After(*due) {
		return "current"
	}
	days := int(asOf.Sub(*due).Hours() / 24)
	switch {
	case days <= 30:
		return "1-30"
	case days <= 60:
		return "31-60"
	case days <= 90:
		return "61-90"
	default:
		return "90+"
	}
}

// ValidateNew checks a document before insertion.
func ValidateNew(doc Document) error {
	if doc.CompanyID == 0 {
		return errors.New("documents: company required")
	}
	if doc.PartyID == 0 {
		return errors.New("documents: party required")
	}
	if doc.Type != TypeBill && doc.Type != TypeInvoice {
		return fmt.Errorf("documents: unknown type %q", doc.Type)
	}
	if doc.Date.IsZero() {
		return errors.New("documents: date required")
	}
	for idx, line := range doc.Lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("documents: line %d non-positive quantity", idx)
		}
		if line.UnitPrice < 0 {
			return fmt.Errorf("documents: line %d negative unit price", idx)
		}
	}
	return nil
}
