package periods

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists accounting periods.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetStatus returns the stored status for a company period key.
func (r *Repository) GetStatus(ctx context.Context, companyID int64, key string) (Status, error) {
	var status Status
	err := r.pool.QueryRow(ctx, `SELECT status FROM periods WHERE company_id=$1 AND key=$2`, companyID, key).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrPeriodNotFound
		}
		return "", err
	}
	return status, nil
}

// Upsert inserts or updates the period row for the key.
func (r *Repository) Upsert(ctx context.Context, companyID int64, key string, status Status, actorID int64) (Period, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO periods (company_id, key, status, locked_by, closed_at)
VALUES ($1,$2,$3, CASE WHEN $3 <> 'open' THEN $4 END, CASE WHEN $3='closed' THEN NOW() END)
ON CONFLICT (company_id, key) DO UPDATE SET
  status=EXCLUDED.status,
  locked_by=EXCLUDED.locked_by,
  closed_at=EXCLUDED.closed_at,
  updated_at=NOW()
RETURNING id, company_id, key, status, closed_at, locked_by, created_at, updated_at`,
		companyID, key, status, nullInt(actorID))
	var p Period
	if err := row.Scan(&p.ID, &p.CompanyID, &p.Key, &p.Status, &p.ClosedAt, &p.LockedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, err
	}
	return p, nil
}

// List returns every period recorded for a company, newest first.
func (r *Repository) List(ctx context.Context, companyID int64) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, key, status, closed_at, locked_by, created_at, updated_at
FROM periods WHERE company_id=$1 ORDER BY key DESC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Key, &p.Status, &p.ClosedAt, &p.LockedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
