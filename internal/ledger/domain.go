package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// AccountType enumerates chart-of-accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// AccountPurpose is the closed set of semantic roles the posting engine
// resolves to concrete accounts. Unknown purposes never fall through
// silently; every switch over this type handles the full set.
type AccountPurpose string

const (
	PurposeCash      AccountPurpose = "CASH"
	PurposeAR        AccountPurpose = "AR"
	PurposeAP        AccountPurpose = "AP"
	PurposeInventory AccountPurpose = "INVENTORY"
	PurposeExpense   AccountPurpose = "EXPENSE"
	PurposeRevenue   AccountPurpose = "REVENUE"
	PurposeFXGain    AccountPurpose = "FX_GAIN"
	PurposeFXLoss    AccountPurpose = "FX_LOSS"
)

// Valid reports whether the purpose is a member of the closed set.
func (p AccountPurpose) Valid() bool {
	switch p {
	case PurposeCash, PurposeAR, PurposeAP, PurposeInventory, PurposeExpense, PurposeRevenue, PurposeFXGain, PurposeFXLoss:
		return true
	}
	return false
}

// EntryStatus enumerates journal entry lifecycle values. POSTED is terminal;
// no API transitions an entry back to DRAFT.
type EntryStatus string

const (
	EntryStatusDraft  EntryStatus = "DRAFT"
	EntryStatusPosted EntryStatus = "POSTED"
)

// Account models a chart of accounts node. Codes are unique per company and
// the parent chain forms a tree.
type Account struct {
	ID        int64
	CompanyID int64
	Code      string
	Name      string
	Type      AccountType
	ParentID  *int64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JournalEntry captures posting metadata. Entries are created once and never
// mutated in place; the DRAFT to POSTED flip is the only allowed update.
type JournalEntry struct {
	ID           int64
	CompanyID    int64
	Date         time.Time
	Memo         string
	Reference    string
	SourceModule string
	SourceID     uuid.UUID
	Status       EntryStatus
	PostedBy     int64
	PostedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Lines        []JournalLine
}

// JournalLine stores a debit or credit amount for an account.
type JournalLine struct {
	ID        int64
	EntryID   int64
	AccountID int64
	Debit     float64
	Credit    float64
	Memo      string
	CreatedAt time.Time
}

// PostingLineInput describes a journal line for a posting request.
type PostingLineInput struct {
	AccountID int64
	Debit     float64
	Credit    float64
	Memo      string
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	CompanyID    int64
	Date         time.Time
	Memo         string
	Reference    string
	SourceModule string
	SourceID     uuid.UUID
	PostedBy     int64
	Lines        []PostingLineInput
}

var (
	// ErrUnbalancedEntry indicates debits != credits. Reaching this from the
	// document pipeline is an internal defect, never coerced.
	ErrUnbalancedEntry = errors.New("ledger: journal lines must balance")
	// ErrTooFewLines indicates fewer than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrNotDraft indicates a line append or post against a non-draft entry.
	ErrNotDraft = errors.New("ledger: entry is not draft")
	// ErrAlreadyPosted indicates a re-post attempt.
	ErrAlreadyPosted = errors.New("ledger: entry already posted")
	// ErrEntryNotFound indicates missing entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrSourceAlreadyLinked indicates the source document already posted.
	ErrSourceAlreadyLinked = errors.New("ledger: source already linked")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrAccountInUse indicates deletion of an account with children or lines.
	ErrAccountInUse = errors.New("ledger: account has children or journal lines")
	// ErrAccountCycle indicates a parent assignment that would form a cycle.
	ErrAccountCycle = errors.New("ledger: account parent would create a cycle")
	// ErrDuplicateCode indicates an account code clash within a company.
	ErrDuplicateCode = errors.New("ledger: account code already exists")
	// ErrMissingAccounts indicates an unmapped account purpose.
	ErrMissingAccounts = errors.New("ledger: required account mapping missing")
	// ErrInvalidPurpose indicates a purpose outside the closed set.
	ErrInvalidPurpose = errors.New("ledger: invalid account purpose")
)

// MissingAccountsError reports every unmapped purpose so callers can fix the
// configuration in one pass. The posting pipeline aborts before any write.
type MissingAccountsError struct {
	CompanyID int64
	Purposes  []AccountPurpose
}

func (e *MissingAccountsError) Error() string {
	return fmt.Sprintf("ledger: company %d has no account mapped for %v", e.CompanyID, e.Purposes)
}

// Is makes the error match ErrMissingAccounts.
func (e *MissingAccountsError) Is(target error) bool {
	return target == ErrMissingAccounts
}

// Cents converts a monetary amount to currency minor units. Entry balance is
// compared at this precision.
func Cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// Validate ensures posting input meets minimum criteria. Per-line shape is
// deliberately loose: only the entry-level sum invariant is enforced, lines
// carrying both a debit and a credit are accepted as long as the entry
// balances.
func (in PostingInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("ledger: company required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit float64
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	if Cents(debit) != Cents(credit) {
		return ErrUnbalancedEntry
	}
	return nil
}
