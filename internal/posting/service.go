package posting

import (
	"context"
	"errors"
	"time"

	"github.com/meridian-books/meridian/internal/inventory"
	"github.com/meridian-books/meridian/internal/landedcost"
	"github.com/meridian-books/meridian/internal/ledger"
	"github.com/meridian-books/meridian/internal/matching"
	"github.com/meridian-books/meridian/internal/payments"
	"github.com/meridian-books/meridian/internal/shared"
)

// PeriodGuard arbitrates postings into locked or closed periods.
type PeriodGuard interface {
	EnsurePostable(ctx context.Context, companyID int64, date time.Time, override bool, justification string, actorID int64) error
}

// AuditPort records posting events after commit.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Enqueuer hands committed postings to background workers. Enqueue failures
// never touch the committed state.
type Enqueuer interface {
	EnqueueAnomalyScan(ctx context.Context, companyID, entryID int64) error
	EnqueueWebhook(ctx context.Context, companyID int64, event string, payload map[string]any) error
}

// ErrCompanyMismatch indicates a document addressed under the wrong company.
var ErrCompanyMismatch = errors.New("posting: document belongs to another company")

// Service is the document posting pipeline. Every posting runs the same
// fixed sequence inside one unit of work: period check, account resolution,
// line construction, journal post, side effects, status flip. Audit records
// and background jobs follow only after commit.
type Service struct {
	uow       UnitOfWork
	guard     PeriodGuard
	journal   *ledger.Service
	engine    *payments.Engine
	allocator *landedcost.Allocator
	stock     *inventory.Service
	matcher   *matching.Service
	audit     AuditPort
	enqueue   Enqueuer
	now       func() time.Time
}

// NewService wires the pipeline.
func NewService(uow UnitOfWork, guard PeriodGuard, journal *ledger.Service, engine *payments.Engine,
	allocator *landedcost.Allocator, stock *inventory.Service, matcher *matching.Service,
	audit AuditPort, enqueue Enqueuer) *Service {
	return &Service{
		uow:       uow,
		guard:     guard,
		journal:   journal,
		engine:    engine,
		allocator: allocator,
		stock:     stock,
		matcher:   matcher,
		audit:     audit,
		enqueue:   enqueue,
		now:       time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// afterCommit emits the audit record and background jobs for a committed
// posting. Failures here are deliberately swallowed: the ledger state is
// already durable and out-of-band work never rolls it back.
func (s *Service) afterCommit(ctx context.Context, log shared.AuditLog, entryID int64) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, log)
	}
	if s.enqueue != nil {
		_ = s.enqueue.EnqueueAnomalyScan(ctx, log.CompanyID, entryID)
		_ = s.enqueue.EnqueueWebhook(ctx, log.CompanyID, log.Action, map[string]any{
			"entity":    log.Entity,
			"entity_id": log.EntityID,
			"entry_id":  entryID,
		})
	}
}
