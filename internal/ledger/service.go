package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-books/meridian/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PeriodGuard blocks postings into locked or closed accounting periods.
type PeriodGuard interface {
	EnsurePostable(ctx context.Context, companyID int64, date time.Time, override bool, justification string, actorID int64) error
}

// Service coordinates journal entries and the chart of accounts.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	guard PeriodGuard
	now   func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, guard PeriodGuard) *Service {
	return &Service{repo: repo, audit: audit, guard: guard, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateEntryInput groups fields for opening a draft entry.
type CreateEntryInput struct {
	CompanyID    int64
	Date         time.Time
	Memo         string
	Reference    string
	SourceModule string
	SourceID     uuid.UUID
	ActorID      int64
}

// AddLineInput appends one line to a draft entry.
type AddLineInput struct {
	EntryID   int64
	AccountID int64
	Debit     float64
	Credit    float64
	Memo      string
}

// PostEntryInput flips a draft entry to POSTED.
type PostEntryInput struct {
	EntryID              int64
	ActorID              int64
	OverrideClosedPeriod bool
	Justification        string
}

// CreateEntry opens a journal entry in DRAFT with no lines.
func (s *Service) CreateEntry(ctx context.Context, input CreateEntryInput) (JournalEntry, error) {
	if input.CompanyID == 0 {
		return JournalEntry{}, errors.New("ledger: company required")
	}
	if input.Date.IsZero() {
		return JournalEntry{}, errors.New("ledger: entry date required")
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.InsertEntry(ctx, PostingInput{
			CompanyID:    input.CompanyID,
			Date:         input.Date,
			Memo:         input.Memo,
			Reference:    input.Reference,
			SourceModule: input.SourceModule,
			SourceID:     input.SourceID,
			PostedBy:     input.ActorID,
		}, EntryStatusDraft)
		return err
	})
	return entry, err
}

// AddLine appends a line to a draft entry. Non-draft entries reject appends.
func (s *Service) AddLine(ctx context.Context, input AddLineInput) (JournalLine, error) {
	if input.AccountID == 0 {
		return JournalLine{}, errors.New("ledger: line account required")
	}
	if input.Debit < 0 || input.Credit < 0 {
		return JournalLine{}, errors.New("ledger: line amounts must be non-negative")
	}
	var line JournalLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if entry.Status != EntryStatusDraft {
			return ErrNotDraft
		}
		line, err = tx.InsertLine(ctx, input.EntryID, PostingLineInput{
			AccountID: input.AccountID,
			Debit:     input.Debit,
			Credit:    input.Credit,
			Memo:      input.Memo,
		})
		return err
	})
	return line, err
}

// Post validates balance and period, then flips the entry to POSTED.
// Posting is irreversible; a reversal entry is the only compensation.
func (s *Service) Post(ctx context.Context, input PostEntryInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, errors.New("ledger: entry id required")
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, lines, err := tx.GetEntryWithLines(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if current.Status == EntryStatusPosted {
			return ErrAlreadyPosted
		}
		if len(lines) < 2 {
			return ErrTooFewLines
		}
		var debit, credit float64
		for _, line := range lines {
			debit += line.Debit
			credit += line.Credit
		}
		if Cents(debit) != Cents(credit) {
			return ErrUnbalancedEntry
		}
		if s.guard != nil {
			if err := s.guard.EnsurePostable(ctx, current.CompanyID, current.Date, input.OverrideClosedPeriod, input.Justification, input.ActorID); err != nil {
				return err
			}
		}
		postedAt := s.now()
		if err := tx.MarkEntryPosted(ctx, current.ID, input.ActorID, postedAt); err != nil {
			return err
		}
		entry = current
		entry.Status = EntryStatusPosted
		entry.PostedBy = input.ActorID
		entry.PostedAt = &postedAt
		entry.Lines = lines
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			CompanyID: entry.CompanyID,
			ActorID:   input.ActorID,
			Action:    "journal.post",
			Entity:    "journal_entry",
			EntityID:  fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"source_module": entry.SourceModule,
				"source_id":     entry.SourceID.String(),
			},
			At: s.now(),
		})
	}
	return entry, nil
}

// PostEntryTx creates and posts a balanced entry inside the caller's
// transaction. The document pipeline runs its period check and account
// resolution before calling this, so only balance and source idempotency are
// enforced here.
func (s *Service) PostEntryTx(ctx context.Context, tx TxRepository, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	entry, err := tx.InsertEntry(ctx, input, EntryStatusPosted)
	if err != nil {
		return JournalEntry{}, err
	}
	for _, line := range input.Lines {
		inserted, err := tx.InsertLine(ctx, entry.ID, line)
		if err != nil {
			return JournalEntry{}, err
		}
		entry.Lines = append(entry.Lines, inserted)
	}
	if input.SourceID != uuid.Nil {
		if err := tx.LinkSource(ctx, input.SourceModule, input.SourceID, entry.ID); err != nil {
			return JournalEntry{}, err
		}
	}
	return entry, nil
}

// ReverseInput wraps parameters for a reversal entry.
type ReverseInput struct {
	EntryID int64
	ActorID int64
	Memo    string
	Date    time.Time
}

// Reverse creates a new balanced entry with debit and credit sides swapped.
// The original entry keeps its POSTED status.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, errors.New("ledger: entry id required")
	}
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, lines, err := tx.GetEntryWithLines(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if original.Status != EntryStatusPosted {
			return ErrNotDraft
		}
		date := input.Date
		if date.IsZero() {
			date = original.Date
		}
		posting := PostingInput{
			CompanyID:    original.CompanyID,
			Date:         date,
			Memo:         defaultReversalMemo(input.Memo, original.ID),
			Reference:    original.Reference,
			SourceModule: original.SourceModule + ":REVERSAL",
			SourceID:     uuid.New(),
			PostedBy:     input.ActorID,
			Lines:        reverseLines(lines),
		}
		reversal, err = s.PostEntryTx(ctx, tx, posting)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			CompanyID: reversal.CompanyID,
			ActorID:   input.ActorID,
			Action:    "journal.reverse",
			Entity:    "journal_entry",
			EntityID:  fmt.Sprintf("%d", input.EntryID),
			Meta:      map[string]any{"reversal_id": reversal.ID},
			At:        s.now(),
		})
	}
	return reversal, nil
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID: line.AccountID,
			Debit:     line.Credit,
			Credit:    line.Debit,
			Memo:      line.Memo,
		})
	}
	return out
}

func defaultReversalMemo(memo string, entryID int64) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of JE %d", entryID)
}

// CreateAccountInput describes a new chart-of-accounts node.
type CreateAccountInput struct {
	CompanyID int64
	Code      string
	Name      string
	Type      AccountType
	ParentID  *int64
}

// CreateAccount inserts an account after checking code uniqueness and that
// the parent chain stays acyclic.
func (s *Service) CreateAccount(ctx context.Context, input CreateAccountInput) (Account, error) {
	if input.CompanyID == 0 || input.Code == "" || input.Name == "" {
		return Account{}, errors.New("ledger: company, code and name required")
	}
	switch input.Type {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
	default:
		return Account{}, fmt.Errorf("ledger: unknown account type %q", input.Type)
	}
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.ParentID != nil {
			parent, err := tx.GetAccount(ctx, input.CompanyID, *input.ParentID)
			if err != nil {
				return err
			}
			// New node has no children yet, so a cycle can only appear if the
			// parent chain is already broken; walk it to be sure.
			seen := map[int64]bool{}
			for cur := &parent; cur.ParentID != nil; {
				if seen[cur.ID] {
					return ErrAccountCycle
				}
				seen[cur.ID] = true
				next, err := tx.GetAccount(ctx, input.CompanyID, *cur.ParentID)
				if err != nil {
					return err
				}
				cur = &next
			}
		}
		var err error
		account, err = tx.InsertAccount(ctx, input)
		return err
	})
	return account, err
}

// DeleteAccount removes an account unless it has children or journal lines.
func (s *Service) DeleteAccount(ctx context.Context, companyID, accountID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetAccount(ctx, companyID, accountID); err != nil {
			return err
		}
		inUse, err := tx.AccountInUse(ctx, accountID)
		if err != nil {
			return err
		}
		if inUse {
			return ErrAccountInUse
		}
		return tx.DeleteAccount(ctx, companyID, accountID)
	})
}

// ListAccounts retrieves the chart of accounts for one company.
func (s *Service) ListAccounts(ctx context.Context, companyID int64) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, companyID)
		return err
	})
	return accounts, err
}

// AccountBalance returns the posted debit-minus-credit balance of an account.
func (s *Service) AccountBalance(ctx context.Context, companyID, accountID int64) (float64, error) {
	var balance float64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		balance, err = tx.AccountBalance(ctx, companyID, accountID)
		return err
	})
	return balance, err
}

// TrialBalanceRow aggregates posted activity per account.
type TrialBalanceRow struct {
	AccountID   int64
	AccountCode string
	AccountName string
	Debit       float64
	Credit      float64
}

// TrialBalance lists per-account debit and credit totals for posted entries.
func (s *Service) TrialBalance(ctx context.Context, companyID int64) ([]TrialBalanceRow, error) {
	var rows []TrialBalanceRow
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rows, err = tx.TrialBalance(ctx, companyID)
		return err
	})
	return rows, err
}
