package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-books/meridian/internal/platform/db"
)

// Repository persists purchase orders on a pgx pool.
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

const orderColumns = `id, company_id, vendor_id, number, date, status, receiving_status, purchase_type,
fixed_asset, total_amount, matched_bill_id, created_at, updated_at`

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var o PurchaseOrder
	err := row.Scan(&o.ID, &o.CompanyID, &o.VendorID, &o.Number, &o.Date, &o.Status, &o.ReceivingStatus,
		&o.PurchaseType, &o.FixedAsset, &o.TotalAmount, &o.MatchedBillID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrOrderNotFound
		}
		return PurchaseOrder{}, err
	}
	return o, nil
}

func (r *txRepo) InsertOrder(ctx context.Context, order PurchaseOrder) (PurchaseOrder, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders
(company_id, vendor_id, number, date, status, receiving_status, purchase_type, fixed_asset, total_amount)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING `+orderColumns,
		order.CompanyID, order.VendorID, order.Number, order.Date, order.Status, order.ReceivingStatus,
		order.PurchaseType, order.FixedAsset, toNumeric(order.TotalAmount))
	inserted, err := scanOrder(row)
	if err != nil {
		return PurchaseOrder{}, err
	}
	for _, line := range order.Lines {
		var id int64
		err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines
(order_id, product_id, description, quantity, unit_price, line_total)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			inserted.ID, line.ProductID, line.Description, line.Quantity, toNumeric(line.UnitPrice), toNumeric(line.LineTotal)).Scan(&id)
		if err != nil {
			return PurchaseOrder{}, err
		}
		line.ID = id
		line.OrderID = inserted.ID
		inserted.Lines = append(inserted.Lines, line)
	}
	return inserted, nil
}

func (r *txRepo) GetOrder(ctx context.Context, companyID, id int64) (PurchaseOrder, error) {
	order, err := scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	return r.loadLines(ctx, order)
}

func (r *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, err := scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	return r.loadLines(ctx, order)
}

func (r *txRepo) loadLines(ctx context.Context, order PurchaseOrder) (PurchaseOrder, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, order_id, product_id, description, quantity, unit_price, line_total,
received_qty, accepted_qty, rejected_qty
FROM purchase_order_lines WHERE order_id=$1 ORDER BY id`, order.ID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Description, &line.Quantity,
			&line.UnitPrice, &line.LineTotal, &line.ReceivedQty, &line.AcceptedQty, &line.RejectedQty); err != nil {
			return PurchaseOrder{}, err
		}
		order.Lines = append(order.Lines, line)
	}
	return order, rows.Err()
}

func (r *txRepo) UpdateOrderStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *txRepo) UpdateReceivingStatus(ctx context.Context, id int64, status ReceivingStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET receiving_status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	return err
}

func (r *txRepo) SetMatchedBill(ctx context.Context, id, billID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET matched_bill_id=$2, updated_at=NOW() WHERE id=$1`, id, billID)
	return err
}

func (r *txRepo) InsertReceipt(ctx context.Context, receipt Receipt) (Receipt, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO receipts (order_id, number, received_at)
VALUES ($1,$2,$3) RETURNING id`, receipt.OrderID, receipt.Number, receipt.ReceivedAt)
	if err := row.Scan(&receipt.ID); err != nil {
		return Receipt{}, err
	}
	for idx := range receipt.Items {
		item := &receipt.Items[idx]
		err := r.tx.QueryRow(ctx, `INSERT INTO receipt_items
(receipt_id, order_line_id, received_qty, accepted_qty, rejected_qty)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			receipt.ID, item.OrderLineID, item.Received, item.Accepted, item.Rejected).Scan(&item.ID)
		if err != nil {
			return Receipt{}, err
		}
		item.ReceiptID = receipt.ID
	}
	return receipt, nil
}

func (r *txRepo) AddLineReceipt(ctx context.Context, lineID int64, received, accepted, rejected float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_order_lines SET
  received_qty = received_qty + $2,
  accepted_qty = accepted_qty + $3,
  rejected_qty = rejected_qty + $4
WHERE id=$1`, lineID, received, accepted, rejected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// UpsertAsset increments an existing asset for the product or creates one.
func (r *txRepo) UpsertAsset(ctx context.Context, asset Asset) (Asset, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO fixed_assets (company_id, product_id, name, quantity, unit_cost)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (company_id, product_id) DO UPDATE SET
  quantity = fixed_assets.quantity + EXCLUDED.quantity,
  unit_cost = EXCLUDED.unit_cost,
  updated_at = NOW()
RETURNING id, company_id, product_id, name, quantity, unit_cost, created_at, updated_at`,
		asset.CompanyID, asset.ProductID, asset.Name, asset.Quantity, toNumeric(asset.UnitCost))
	var out Asset
	if err := row.Scan(&out.ID, &out.CompanyID, &out.ProductID, &out.Name, &out.Quantity, &out.UnitCost, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return Asset{}, err
	}
	return out, nil
}

func toNumeric(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
