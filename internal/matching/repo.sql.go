package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/platform/db"
	"github.com/meridian-books/meridian/internal/procurement"
)

// Repository persists match exceptions and company settings on a pgx pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn with matching, procurement and document stores sharing one
// transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store, OrderStore, BillLinker) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx}, procurement.NewTxStore(tx), documents.NewTxRepository(tx))
	})
}

// NewTxStore wraps an existing transaction for pipeline composition.
func NewTxStore(tx pgx.Tx) Store {
	return &txRepo{tx: tx}
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) GetSetting(ctx context.Context, companyID int64, key string) (string, error) {
	var value string
	err := r.tx.QueryRow(ctx, `SELECT value FROM company_settings WHERE company_id=$1 AND key=$2`, companyID, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", err
	}
	return value, nil
}

const exceptionColumns = `id, company_id, purchase_order_id, bill_id, order_total, bill_total, diff, diff_pct,
tolerance_pct, tolerance_abs, created_at`

func scanException(row pgx.Row) (Exception, error) {
	var e Exception
	err := row.Scan(&e.ID, &e.CompanyID, &e.PurchaseOrderID, &e.BillID, &e.OrderTotal, &e.BillTotal,
		&e.Diff, &e.DiffPct, &e.TolerancePct, &e.ToleranceAbs, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Exception{}, ErrExceptionNotFound
		}
		return Exception{}, err
	}
	return e, nil
}

func (r *txRepo) InsertException(ctx context.Context, exc Exception) (Exception, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO match_exceptions
(company_id, purchase_order_id, bill_id, order_total, bill_total, diff, diff_pct, tolerance_pct, tolerance_abs, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING `+exceptionColumns,
		exc.CompanyID, exc.PurchaseOrderID, exc.BillID, toNumeric(exc.OrderTotal), toNumeric(exc.BillTotal),
		toNumeric(exc.Diff), exc.DiffPct, exc.TolerancePct, toNumeric(exc.ToleranceAbs), exc.CreatedAt)
	return scanException(row)
}

func (r *txRepo) GetException(ctx context.Context, companyID, id int64) (Exception, error) {
	return scanException(r.tx.QueryRow(ctx, `SELECT `+exceptionColumns+` FROM match_exceptions WHERE company_id=$1 AND id=$2`, companyID, id))
}

func (r *txRepo) ListExceptions(ctx context.Context, companyID int64) ([]Exception, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+exceptionColumns+` FROM match_exceptions WHERE company_id=$1 ORDER BY id DESC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Exception
	for rows.Next() {
		exc, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exc)
	}
	return out, rows.Err()
}

func (r *txRepo) HasResolution(ctx context.Context, exceptionID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM match_exception_resolutions WHERE exception_id=$1)`, exceptionID).Scan(&exists)
	return exists, err
}

func (r *txRepo) InsertResolution(ctx context.Context, res Resolution) (Resolution, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO match_exception_resolutions (exception_id, actor_id, note, created_at)
VALUES ($1,$2,$3,$4) RETURNING id`, res.ExceptionID, res.ActorID, res.Note, res.CreatedAt)
	if err := row.Scan(&res.ID); err != nil {
		return Resolution{}, err
	}
	return res, nil
}

func toNumeric(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
