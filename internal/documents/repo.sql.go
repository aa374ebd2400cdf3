package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-books/meridian/internal/platform/db"
)

// TxRepository is the transactional surface for documents. The posting
// pipeline composes it with the other package repositories over one
// transaction.
type TxRepository interface {
	InsertDocument(ctx context.Context, doc Document) (Document, error)
	GetDocument(ctx context.Context, companyID, id int64) (Document, error)
	GetDocumentForUpdate(ctx context.Context, id int64) (Document, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	MarkPosted(ctx context.Context, id int64) error
	DecrementBalance(ctx context.Context, id int64, amount float64) (Document, error)
	SetLandedCostAllocated(ctx context.Context, id int64) error
	LinkPurchaseOrder(ctx context.Context, id, purchaseOrderID int64) error
	ListOpen(ctx context.Context, companyID int64, docType Type) ([]Document, error)
	OldestOpen(ctx context.Context, companyID int64, docType Type, partyID int64) (Document, error)
	MarkOverdue(ctx context.Context, companyID int64, asOf time.Time) (int64, error)
}

// Repository persists bills and invoices on a pgx pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// NewTxRepository wraps an existing transaction for pipeline composition.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetTaxRate looks a rate up by id.
func (r *Repository) GetTaxRate(ctx context.Context, companyID, id int64) (TaxRate, error) {
	return getTaxRate(ctx, r.pool, `SELECT id, company_id, name, rate, inclusive FROM tax_rates WHERE company_id=$1 AND id=$2`, companyID, id)
}

// GetTaxRateByName looks a rate up by case-insensitive name.
func (r *Repository) GetTaxRateByName(ctx context.Context, companyID int64, name string) (TaxRate, error) {
	return getTaxRate(ctx, r.pool, `SELECT id, company_id, name, rate, inclusive FROM tax_rates WHERE company_id=$1 AND LOWER(name)=LOWER($2)`, companyID, name)
}

func getTaxRate(ctx context.Context, q queryer, sql string, args ...any) (TaxRate, error) {
	var rate TaxRate
	err := q.QueryRow(ctx, sql, args...).Scan(&rate.ID, &rate.CompanyID, &rate.Name, &rate.Rate, &rate.Inclusive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TaxRate{}, ErrTaxRateNotFound
		}
		return TaxRate{}, err
	}
	return rate, nil
}

type txRepo struct {
	tx pgx.Tx
}

const documentColumns = `id, company_id, doc_type, party_id, number, date, due_date, currency, purchase_type,
status, total_amount, balance_due, freight_cost, customs_duty, other_import_costs,
landed_cost_allocated, source_id, purchase_order_id, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.CompanyID, &doc.Type, &doc.PartyID, &doc.Number, &doc.Date, &doc.DueDate,
		&doc.Currency, &doc.PurchaseType, &doc.Status, &doc.TotalAmount, &doc.BalanceDue,
		&doc.FreightCost, &doc.CustomsDuty, &doc.OtherImportCosts, &doc.LandedCostAllocated,
		&doc.SourceID, &doc.PurchaseOrderID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

func (r *txRepo) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO documents
(company_id, doc_type, party_id, number, date, due_date, currency, purchase_type, status,
 total_amount, balance_due, freight_cost, customs_duty, other_import_costs, source_id, purchase_order_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
RETURNING `+documentColumns,
		doc.CompanyID, doc.Type, doc.PartyID, doc.Number, doc.Date, doc.DueDate, doc.Currency,
		doc.PurchaseType, doc.Status, toNumeric(doc.TotalAmount), toNumeric(doc.BalanceDue),
		toNumeric(doc.FreightCost), toNumeric(doc.CustomsDuty), toNumeric(doc.OtherImportCosts),
		doc.SourceID, doc.PurchaseOrderID)
	inserted, err := scanDocument(row)
	if err != nil {
		return Document{}, err
	}
	for _, line := range doc.Lines {
		var id int64
		err := r.tx.QueryRow(ctx, `INSERT INTO document_lines
(document_id, description, product_id, quantity, unit_price, tax_rate_id, tax_name, tax_pct, tax_amount, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
			inserted.ID, line.Description, line.ProductID, line.Quantity, toNumeric(line.UnitPrice),
			line.TaxRateID, line.TaxName, line.TaxPct, toNumeric(line.TaxAmount), toNumeric(line.LineTotal)).Scan(&id)
		if err != nil {
			return Document{}, err
		}
		line.ID = id
		line.DocumentID = inserted.ID
		inserted.Lines = append(inserted.Lines, line)
	}
	return inserted, nil
}

func (r *txRepo) GetDocument(ctx context.Context, companyID, id int64) (Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		return Document{}, err
	}
	return r.loadLines(ctx, doc)
}

func (r *txRepo) GetDocumentForUpdate(ctx context.Context, id int64) (Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Document{}, err
	}
	return r.loadLines(ctx, doc)
}

func (r *txRepo) loadLines(ctx context.Context, doc Document) (Document, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, document_id, description, product_id, quantity, unit_price, tax_rate_id, tax_name, tax_pct, tax_amount, line_total
FROM document_lines WHERE document_id=$1 ORDER BY id`, doc.ID)
	if err != nil {
		return Document{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.Description, &line.ProductID, &line.Quantity,
			&line.UnitPrice, &line.TaxRateID, &line.TaxName, &line.TaxPct, &line.TaxAmount, &line.LineTotal); err != nil {
			return Document{}, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	return doc, rows.Err()
}

func (r *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE documents SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// MarkPosted flips draft to posted. A zero row count means the document was
// already past draft.
func (r *txRepo) MarkPosted(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE documents SET status='posted', updated_at=NOW() WHERE id=$1 AND status='draft'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyPosted
	}
	return nil
}

// DecrementBalance applies a payment amount against balance_due and derives
// the new payment status in one statement. The WHERE clause guarantees the
// balance never goes negative.
func (r *txRepo) DecrementBalance(ctx context.Context, id int64, amount float64) (Document, error) {
	row := r.tx.QueryRow(ctx, `UPDATE documents SET
  balance_due = ROUND(balance_due - $2::numeric, 2),
  status = CASE
    WHEN ROUND(balance_due - $2::numeric, 2) <= 0 THEN 'paid'
    ELSE 'partially_paid'
  END,
  updated_at = NOW()
WHERE id=$1 AND ROUND(balance_due - $2::numeric, 2) >= 0
RETURNING `+documentColumns, id, toNumeric(amount))
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return Document{}, ErrBalanceExceeded
		}
		return Document{}, err
	}
	return doc, nil
}

func (r *txRepo) SetLandedCostAllocated(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE documents SET landed_cost_allocated=TRUE, updated_at=NOW() WHERE id=$1`, id)
	return err
}

func (r *txRepo) LinkPurchaseOrder(ctx context.Context, id, purchaseOrderID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE documents SET purchase_order_id=$2, updated_at=NOW() WHERE id=$1`, id, purchaseOrderID)
	return err
}

func (r *txRepo) ListOpen(ctx context.Context, companyID int64, docType Type) ([]Document, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+documentColumns+` FROM documents
WHERE company_id=$1 AND doc_type=$2 AND status IN ('posted','partially_paid','overdue') AND balance_due > 0
ORDER BY date ASC, id ASC`, companyID, docType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// OldestOpen returns the single oldest open document of the type for a party.
func (r *txRepo) OldestOpen(ctx context.Context, companyID int64, docType Type, partyID int64) (Document, error) {
	return scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents
WHERE company_id=$1 AND doc_type=$2 AND party_id=$3 AND status IN ('posted','partially_paid','overdue') AND balance_due > 0
ORDER BY date ASC, id ASC LIMIT 1 FOR UPDATE`, companyID, docType, partyID))
}

// MarkOverdue is a maintenance sweep over open documents past due.
func (r *txRepo) MarkOverdue(ctx context.Context, companyID int64, asOf time.Time) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE documents SET status='overdue', updated_at=NOW()
WHERE company_id=$1 AND due_date IS NOT NULL AND due_date < $2 AND status IN ('posted','partially_paid') AND balance_due > 0`, companyID, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func toNumeric(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
