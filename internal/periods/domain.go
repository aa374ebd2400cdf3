package periods

import (
	"errors"
	"fmt"
	"time"
)

// Status enumerates valid period states.
type Status string

const (
	StatusOpen   Status = "open"
	StatusLocked Status = "locked"
	StatusClosed Status = "closed"
)

// Period represents one accounting month for a company, keyed YYYY-MM.
type Period struct {
	ID        int64
	CompanyID int64
	Key       string
	Status    Status
	ClosedAt  *time.Time
	LockedBy  *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	// ErrPeriodLocked indicates a posting into a locked or closed period
	// without an override.
	ErrPeriodLocked = errors.New("periods: period locked")
	// ErrPeriodNotFound indicates no row for the derived key. Callers treat
	// an absent row as an open period.
	ErrPeriodNotFound = errors.New("periods: period not found")
	// ErrJustificationTooShort rejects overrides without a usable reason.
	ErrJustificationTooShort = errors.New("periods: override justification too short")
	// ErrInvalidTransition indicates a status change not allowed by policy.
	ErrInvalidTransition = errors.New("periods: status transition invalid")
)

// LockedError carries the period context a caller needs to retry with an
// override.
type LockedError struct {
	CompanyID int64
	Key       string
	Status    Status
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("periods: period %s is %s for company %d", e.Key, e.Status, e.CompanyID)
}

// Is makes the error match ErrPeriodLocked.
func (e *LockedError) Is(target error) bool {
	return target == ErrPeriodLocked
}

// KeyFromDate derives the YYYY-MM period key for a document date.
func KeyFromDate(date time.Time) string {
	return date.Format("2006-01")
}

// ValidateTransition checks period status changes according to policy.
// A locked period can only reopen through an explicit override.
func ValidateTransition(current, target Status, hasOverride bool) error {
	if current == target {
		return nil
	}
	switch current {
	case StatusOpen:
		if target == StatusClosed || target == StatusLocked {
			return nil
		}
	case StatusClosed:
		if target == StatusOpen || target == StatusLocked {
			return nil
		}
	case StatusLocked:
		if (target == StatusClosed || target == StatusOpen) && hasOverride {
			return nil
		}
	}
	return ErrInvalidTransition
}
