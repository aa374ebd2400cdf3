package posting

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/inventory"
	"github.com/meridian-books/meridian/internal/ledger"
	"github.com/meridian-books/meridian/internal/matching"
	"github.com/meridian-books/meridian/internal/payments"
	"github.com/meridian-books/meridian/internal/platform/db"
	"github.com/meridian-books/meridian/internal/procurement"
)

// Stores groups every package's transactional surface over one shared
// transaction. Nested business operations receive this handle instead of
// opening their own transaction.
type Stores struct {
	Ledger      ledger.TxRepository
	Documents   documents.TxRepository
	Payments    payments.Store
	Inventory   inventory.Store
	Procurement procurement.Store
	Matching    matching.Store
}

// UnitOfWork opens one atomic unit for a posting operation. Either every
// write in fn commits or none do.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(context.Context, Stores) error) error
}

// PgUnitOfWork is the pgx-backed unit of work.
type PgUnitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork constructs PgUnitOfWork.
func NewUnitOfWork(pool *pgxpool.Pool) *PgUnitOfWork {
	return &PgUnitOfWork{pool: pool}
}

// Do runs fn inside one RepeatableRead transaction with all package stores
// bound to it.
func (u *PgUnitOfWork) Do(ctx context.Context, fn func(context.Context, Stores) error) error {
	return db.WithTx(ctx, u.pool, func(tx pgx.Tx) error {
		return fn(ctx, Stores{
			Ledger:      ledger.NewTxRepository(tx),
			Documents:   documents.NewTxRepository(tx),
			Payments:    payments.NewTxStore(tx),
			Inventory:   inventory.NewTxStore(tx),
			Procurement: procurement.NewTxStore(tx),
			Matching:    matching.NewTxStore(tx),
		})
	})
}
