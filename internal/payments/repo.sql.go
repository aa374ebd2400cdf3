package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/platform/db"
)

// Repository persists payments and applications on a pgx pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn with transactional payment and document stores sharing one
// transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, store Store, docs DocumentStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx}, documents.NewTxRepository(tx))
	})
}

// NewTxStore wraps an existing transaction for pipeline composition.
func NewTxStore(tx pgx.Tx) Store {
	return &txRepo{tx: tx}
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) InsertPayment(ctx context.Context, payment Payment) (Payment, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO payments
(company_id, direction, party_id, amount, method, reference, date, currency, fx_gain_loss, bank_transaction_id, source_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id, created_at`,
		payment.CompanyID, payment.Direction, payment.PartyID, toNumeric(payment.Amount), payment.Method,
		payment.Reference, payment.Date, payment.Currency, toNumeric(payment.FXGainLoss),
		payment.BankTransactionID, payment.SourceID)
	if err := row.Scan(&payment.ID, &payment.CreatedAt); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

func (r *txRepo) InsertApplication(ctx context.Context, app Application) (Application, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO payment_applications (payment_id, document_id, amount)
VALUES ($1,$2,$3) RETURNING id, created_at`, app.PaymentID, app.DocumentID, toNumeric(app.Amount))
	if err := row.Scan(&app.ID, &app.CreatedAt); err != nil {
		return Application{}, err
	}
	return app, nil
}

func (r *txRepo) ListApplications(ctx context.Context, paymentID int64) ([]Application, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, payment_id, document_id, amount, created_at
FROM payment_applications WHERE payment_id=$1 ORDER BY id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var apps []Application
	for rows.Next() {
		var app Application
		if err := rows.Scan(&app.ID, &app.PaymentID, &app.DocumentID, &app.Amount, &app.CreatedAt); err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func (r *txRepo) GetPayment(ctx context.Context, companyID, id int64) (Payment, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, company_id, direction, party_id, amount, method, reference, date, currency,
fx_gain_loss, bank_transaction_id, source_id, created_at
FROM payments WHERE company_id=$1 AND id=$2`, companyID, id)
	var p Payment
	err := row.Scan(&p.ID, &p.CompanyID, &p.Direction, &p.PartyID, &p.Amount, &p.Method, &p.Reference,
		&p.Date, &p.Currency, &p.FXGainLoss, &p.BankTransactionID, &p.SourceID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	return p, nil
}

func toNumeric(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
