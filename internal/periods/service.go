package periods

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/meridian-books/meridian/internal/shared"
)

// RepositoryPort abstracts period persistence.
type RepositoryPort interface {
	GetStatus(ctx context.Context, companyID int64, key string) (Status, error)
	Upsert(ctx context.Context, companyID int64, key string, status Status, actorID int64) (Period, error)
	List(ctx context.Context, companyID int64) ([]Period, error)
}

// AuditPort records override and transition events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DefaultMinJustification is the minimum override justification length.
const DefaultMinJustification = 10

// Guard resolves period status and arbitrates postings into non-open
// periods.
type Guard struct {
	repo             RepositoryPort
	audit            AuditPort
	minJustification int
	now              func() time.Time
}

// NewGuard constructs the period guard. minJustification <= 0 selects the
// default.
func NewGuard(repo RepositoryPort, audit AuditPort, minJustification int) *Guard {
	if minJustification <= 0 {
		minJustification = DefaultMinJustification
	}
	return &Guard{repo: repo, audit: audit, minJustification: minJustification, now: time.Now}
}

// WithNow overrides the clock for testing.
func (g *Guard) WithNow(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// Status resolves the period state for a company and YYYY-MM key. Absent
// rows and lookup failures both resolve to open: periods are locked by an
// explicit administrative action, so the guard fails open rather than
// blocking all postings on a degraded store.
func (g *Guard) Status(ctx context.Context, companyID int64, key string) Status {
	status, err := g.repo.GetStatus(ctx, companyID, key)
	if err != nil {
		return StatusOpen
	}
	return status
}

// EnsurePostable checks the period derived from date and either permits the
// posting, rejects it, or records an audited override. The audit record is
// written before the caller proceeds.
func (g *Guard) EnsurePostable(ctx context.Context, companyID int64, date time.Time, override bool, justification string, actorID int64) error {
	key := KeyFromDate(date)
	status := g.Status(ctx, companyID, key)
	if status == StatusOpen {
		return nil
	}
	if !override {
		return &LockedError{CompanyID: companyID, Key: key, Status: status}
	}
	if len(strings.TrimSpace(justification)) < g.minJustification {
		return ErrJustificationTooShort
	}
	if g.audit != nil {
		if err := g.audit.Record(ctx, shared.AuditLog{
			CompanyID: companyID,
			ActorID:   actorID,
			Action:    "period.override",
			Entity:    "period",
			EntityID:  key,
			Meta: map[string]any{
				"adjustment_type": "prior_period_override",
				"justification":   justification,
				"period_status":   string(status),
			},
			At: g.now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// SetStatus transitions a period, validating the change against policy.
func (g *Guard) SetStatus(ctx context.Context, companyID int64, key string, target Status, actorID int64, override bool) (Period, error) {
	switch target {
	case StatusOpen, StatusLocked, StatusClosed:
	default:
		return Period{}, errors.New("periods: unknown status")
	}
	current, err := g.repo.GetStatus(ctx, companyID, key)
	if err != nil {
		if !errors.Is(err, ErrPeriodNotFound) {
			return Period{}, err
		}
		current = StatusOpen
	}
	if err := ValidateTransition(current, target, override); err != nil {
		return Period{}, err
	}
	period, err := g.repo.Upsert(ctx, companyID, key, target, actorID)
	if err != nil {
		return Period{}, err
	}
	if g.audit != nil {
		_ = g.audit.Record(ctx, shared.AuditLog{
			CompanyID: companyID,
			ActorID:   actorID,
			Action:    "period.transition",
			Entity:    "period",
			EntityID:  key,
			Meta: map[string]any{
				"from": string(current),
				"to":   string(target),
			},
			At: g.now(),
		})
	}
	return period, nil
}

// List returns all periods recorded for a company.
func (g *Guard) List(ctx context.Context, companyID int64) ([]Period, error) {
	return g.repo.List(ctx, companyID)
}
