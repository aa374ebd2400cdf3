package matching

import (
	"errors"
	"math"
	"time"

	"github.com/meridian-books/meridian/internal/documents"
)

// Tolerance bounds the acceptable gap between order and bill totals. Either
// bound satisfies the match.
type Tolerance struct {
	Pct float64
	Abs float64
}

// Hardcoded fallbacks when neither company settings nor configuration
// provide a tolerance.
const (
	DefaultTolerancePct = 2.0
	DefaultToleranceAbs = 5.0
)

// Defaults carries environment-level tolerances per purchase type.
type Defaults struct {
	Local  Tolerance
	Import Tolerance
}

// Settings keys for company-level overrides.
const (
	KeyPctLocal  = "three_way_tolerance_pct_local"
	KeyAbsLocal  = "three_way_tolerance_abs_local"
	KeyPctImport = "three_way_tolerance_pct_import"
	KeyAbsImport = "three_way_tolerance_abs_import"
)

// Exception is an immutable record of an out-of-tolerance order/bill pair.
// Resolution never mutates it; resolutions are separate records.
type Exception struct {
	ID              int64
	CompanyID       int64
	PurchaseOrderID int64
	BillID          int64
	OrderTotal      float64
	BillTotal       float64
	Diff            float64
	DiffPct         float64
	TolerancePct    float64
	ToleranceAbs    float64
	CreatedAt       time.Time
}

// Resolution marks an exception reviewed. The original exception record
// stays untouched.
type Resolution struct {
	ID          int64
	ExceptionID int64
	ActorID     int64
	Note        string
	CreatedAt   time.Time
}

// QuantityVariance reports the gap between ordered and received quantity for
// one order line.
type QuantityVariance struct {
	OrderLineID int64
	ProductID   *int64
	Ordered     float64
	Received    float64
	Accepted    float64
}

// Result is the outcome of one match run. Exception is nil when the pair is
// within tolerance. The bill is linked to the order either way.
type Result struct {
	PurchaseOrderID int64
	BillID          int64
	OrderTotal      float64
	BillTotal       float64
	Diff            float64
	DiffPct         float64
	Tolerance       Tolerance
	Matched         bool
	Exception       *Exception
	Variances       []QuantityVariance
}

var (
	// ErrExceptionNotFound indicates a missing exception record.
	ErrExceptionNotFound = errors.New("matching: exception not found")
	// ErrAlreadyResolved rejects a second resolution for one exception.
	ErrAlreadyResolved = errors.New("matching: exception already resolved")
	// ErrTypeMismatch rejects matching an order against a non-bill document.
	ErrTypeMismatch = errors.New("matching: document is not a bill")
	// ErrSettingNotFound is returned by setting lookups with no row.
	ErrSettingNotFound = errors.New("matching: setting not found")
)

// Evaluate computes diff, percentage and the inclusive tolerance check.
// diff equal to the absolute bound, or pct equal to the percentage bound,
// still matches.
func Evaluate(orderTotal, billTotal float64, tol Tolerance) (diff, pct float64, within bool) {
	diff = math.Abs(orderTotal - billTotal)
	if orderTotal != 0 {
		pct = diff / orderTotal * 100
	}
	within = diff <= tol.Abs || pct <= tol.Pct
	return diff, pct, within
}

// ToleranceFor picks the default tolerance for a purchase type, falling back
// to the hardcoded bounds for unset values.
func (d Defaults) ToleranceFor(purchaseType documents.PurchaseType) Tolerance {
	tol := d.Local
	if purchaseType == documents.PurchaseImport {
		tol = d.Import
	}
	if tol.Pct <= 0 {
		tol.Pct = DefaultTolerancePct
	}
	if tol.Abs <= 0 {
		tol.Abs = DefaultToleranceAbs
	}
	return tol
}
