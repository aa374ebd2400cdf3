package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-books/meridian/internal/platform/db"
)

// Repository persists products, locations and movements on a pgx pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// NewTxStore wraps an existing transaction for pipeline composition.
func NewTxStore(tx pgx.Tx) Store {
	return &txRepo{tx: tx}
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) GetProductForUpdate(ctx context.Context, productID int64) (Product, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, company_id, sku, name, track_stock, stock_quantity, reserved_quantity,
available_quantity, cost_price, created_at, updated_at
FROM products WHERE id=$1 FOR UPDATE`, productID)
	var p Product
	err := row.Scan(&p.ID, &p.CompanyID, &p.SKU, &p.Name, &p.TrackStock, &p.StockQuantity,
		&p.ReservedQty, &p.AvailableQty, &p.CostPrice, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (r *txRepo) UpdateProductStock(ctx context.Context, productID int64, stock, available float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET stock_quantity=$2, available_quantity=$3, updated_at=NOW() WHERE id=$1`,
		productID, stock, available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepo) UpdateProductCost(ctx context.Context, productID int64, costPrice float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET cost_price=$2, updated_at=NOW() WHERE id=$1`,
		productID, toNumeric(costPrice))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// UpsertLocationQuantity increments the per-location quantity atomically so
// the aggregate stays equal to the sum over locations.
func (r *txRepo) UpsertLocationQuantity(ctx context.Context, productID, locationID int64, delta float64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO product_locations (product_id, location_id, quantity)
VALUES ($1,$2,$3)
ON CONFLICT (product_id, location_id) DO UPDATE SET
  quantity = product_locations.quantity + EXCLUDED.quantity,
  updated_at = NOW()`, productID, locationID, delta)
	return err
}

func (r *txRepo) InsertMovement(ctx context.Context, movement Movement) (Movement, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements
(company_id, product_id, location_id, movement_type, quantity, unit_cost, reference, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		movement.CompanyID, movement.ProductID, movement.LocationID, movement.Type,
		movement.Quantity, toNumeric(movement.UnitCost), movement.Reference, movement.CreatedAt)
	if err := row.Scan(&movement.ID); err != nil {
		return Movement{}, err
	}
	return movement, nil
}

func (r *txRepo) ListMovements(ctx context.Context, companyID, productID int64) ([]Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, company_id, product_id, location_id, movement_type, quantity, unit_cost, reference, created_at
FROM inventory_movements WHERE company_id=$1 AND product_id=$2 ORDER BY id DESC`, companyID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.ProductID, &m.LocationID, &m.Type,
			&m.Quantity, &m.UnitCost, &m.Reference, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepo) SumLocationQuantities(ctx context.Context, productID int64) (float64, error) {
	var sum float64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM product_locations WHERE product_id=$1`, productID).Scan(&sum)
	return sum, err
}

func toNumeric(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
