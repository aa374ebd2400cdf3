package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists ledger entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertEntry(ctx context.Context, in PostingInput, status EntryStatus) (JournalEntry, error)
	InsertLine(ctx context.Context, entryID int64, line PostingLineInput) (JournalLine, error)
	GetEntryForUpdate(ctx context.Context, entryID int64) (JournalEntry, error)
	GetEntryWithLines(ctx context.Context, entryID int64) (JournalEntry, []JournalLine, error)
	MarkEntryPosted(ctx context.Context, entryID, actorID int64, at time.Time) error
	LinkSource(ctx context.Context, module string, ref uuid.UUID, entryID int64) error
	InsertAccount(ctx context.Context, in CreateAccountInput) (Account, error)
	GetAccount(ctx context.Context, companyID, accountID int64) (Account, error)
	ListAccounts(ctx context.Context, companyID int64) ([]Account, error)
	AccountInUse(ctx context.Context, accountID int64) (bool, error)
	DeleteAccount(ctx context.Context, companyID, accountID int64) error
	GetAccountForPurpose(ctx context.Context, companyID int64, purpose AccountPurpose) (Account, error)
	AccountBalance(ctx context.Context, companyID, accountID int64) (float64, error)
	TrialBalance(ctx context.Context, companyID int64) ([]TrialBalanceRow, error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so the posting pipeline can
// compose ledger writes with other stores in one atomic unit.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetAccountForPurpose resolves the mapped account without a transaction.
func (r *Repository) GetAccountForPurpose(ctx context.Context, companyID int64, purpose AccountPurpose) (Account, error) {
	return getAccountForPurpose(ctx, r.pool, companyID, purpose)
}

func (r *txRepository) InsertEntry(ctx context.Context, in PostingInput, status EntryStatus) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (company_id, date, memo, reference, source_module, source_id, posted_by, status, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8, CASE WHEN $8='POSTED' THEN NOW() ELSE NULL END)
RETURNING id, posted_at, created_at, updated_at`,
		in.CompanyID, in.Date, in.Memo, in.Reference, in.SourceModule, nullUUID(in.SourceID), nullInt(in.PostedBy), status)
	entry := JournalEntry{
		CompanyID:    in.CompanyID,
		Date:         in.Date,
		Memo:         in.Memo,
		Reference:    in.Reference,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		PostedBy:     in.PostedBy,
		Status:       status,
	}
	if err := row.Scan(&entry.ID, &entry.PostedAt, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertLine(ctx context.Context, entryID int64, line PostingLineInput) (JournalLine, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, account_id, debit, credit, memo)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at`,
		entryID, line.AccountID, toNumeric(line.Debit), toNumeric(line.Credit), line.Memo)
	out := JournalLine{
		EntryID:   entryID,
		AccountID: line.AccountID,
		Debit:     line.Debit,
		Credit:    line.Credit,
		Memo:      line.Memo,
	}
	if err := row.Scan(&out.ID, &out.CreatedAt); err != nil {
		return JournalLine{}, err
	}
	return out, nil
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, entryID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, date, memo, reference, source_module,
COALESCE(source_id, '00000000-0000-0000-0000-000000000000'::uuid), status, COALESCE(posted_by, 0), posted_at, created_at, updated_at
FROM journal_entries WHERE id=$1 FOR UPDATE`, entryID).
		Scan(&entry.ID, &entry.CompanyID, &entry.Date, &entry.Memo, &entry.Reference, &entry.SourceModule, &entry.SourceID, &entry.Status, &entry.PostedBy, &entry.PostedAt, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) GetEntryWithLines(ctx context.Context, entryID int64) (JournalEntry, []JournalLine, error) {
	entry, err := r.GetEntryForUpdate(ctx, entryID)
	if err != nil {
		return JournalEntry{}, nil, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, memo, created_at
FROM journal_lines WHERE entry_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return JournalEntry{}, nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Debit, &line.Credit, &line.Memo, &line.CreatedAt); err != nil {
			return JournalEntry{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return JournalEntry{}, nil, err
	}
	return entry, lines, nil
}

func (r *txRepository) MarkEntryPosted(ctx context.Context, entryID, actorID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='POSTED', posted_by=$2, posted_at=$3, updated_at=NOW()
WHERE id=$1 AND status='DRAFT'`, entryID, nullInt(actorID), at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyPosted
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, module string, ref uuid.UUID, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (module, ref_id, entry_id) VALUES ($1,$2,$3)`, module, ref, entryID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSourceAlreadyLinked
		}
		return err
	}
	return nil
}

func (r *txRepository) InsertAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (company_id, code, name, type, parent_id, is_active)
VALUES ($1,$2,$3,$4,$5,true) RETURNING id, created_at, updated_at`,
		in.CompanyID, in.Code, in.Name, in.Type, in.ParentID)
	account := Account{
		CompanyID: in.CompanyID,
		Code:      in.Code,
		Name:      in.Name,
		Type:      in.Type,
		ParentID:  in.ParentID,
		IsActive:  true,
	}
	if err := row.Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateCode
		}
		return Account{}, err
	}
	return account, nil
}

func (r *txRepository) GetAccount(ctx context.Context, companyID, accountID int64) (Account, error) {
	var a Account
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, code, name, type, parent_id, is_active, created_at, updated_at
FROM accounts WHERE company_id=$1 AND id=$2`, companyID, accountID).
		Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) ListAccounts(ctx context.Context, companyID int64) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, company_id, code, name, type, parent_id, is_active, created_at, updated_at
FROM accounts WHERE company_id=$1 ORDER BY code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) AccountInUse(ctx context.Context, accountID int64) (bool, error) {
	var inUse bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE parent_id=$1)
OR EXISTS(SELECT 1 FROM journal_lines WHERE account_id=$1)`, accountID).Scan(&inUse)
	return inUse, err
}

func (r *txRepository) DeleteAccount(ctx context.Context, companyID, accountID int64) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM accounts WHERE company_id=$1 AND id=$2`, companyID, accountID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) GetAccountForPurpose(ctx context.Context, companyID int64, purpose AccountPurpose) (Account, error) {
	return getAccountForPurpose(ctx, r.tx, companyID, purpose)
}

func (r *txRepository) AccountBalance(ctx context.Context, companyID, accountID int64) (float64, error) {
	var balance float64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit - l.credit), 0)
FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE e.company_id=$1 AND l.account_id=$2 AND e.status='POSTED'`, companyID, accountID).Scan(&balance)
	return balance, err
}

func (r *txRepository) TrialBalance(ctx context.Context, companyID int64) ([]TrialBalanceRow, error) {
	rows, err := r.tx.Query(ctx, `SELECT a.id, a.code, a.name, COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM accounts a
LEFT JOIN journal_lines l ON l.account_id = a.id
LEFT JOIN journal_entries e ON e.id = l.entry_id AND e.status='POSTED'
WHERE a.company_id=$1
GROUP BY a.id, a.code, a.name
ORDER BY a.code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TrialBalanceRow
	for rows.Next() {
		var tb TrialBalanceRow
		if err := rows.Scan(&tb.AccountID, &tb.AccountCode, &tb.AccountName, &tb.Debit, &tb.Credit); err != nil {
			return nil, err
		}
		out = append(out, tb)
	}
	return out, rows.Err()
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getAccountForPurpose(ctx context.Context, q queryer, companyID int64, purpose AccountPurpose) (Account, error) {
	var a Account
	err := q.QueryRow(ctx, `SELECT a.id, a.company_id, a.code, a.name, a.type, a.parent_id, a.is_active, a.created_at, a.updated_at
FROM account_purposes p JOIN accounts a ON a.id = p.account_id
WHERE p.company_id=$1 AND p.purpose=$2 AND a.is_active`, companyID, purpose).
		Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrMissingAccounts
		}
		return Account{}, err
	}
	return a, nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullUUID(val uuid.UUID) any {
	if val == uuid.Nil {
		return nil
	}
	return val
}

func toNumeric(v float64) any {
	return fmt.Sprintf("%.2f", v)
}
