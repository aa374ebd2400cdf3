package ledger

import (
	"context"
	"errors"
)

// PurposeSource looks up the concrete account mapped to a semantic purpose
// for one company. Both the pool-backed Repository and the transactional
// TxRepository satisfy it, so resolution can run inside a posting
// transaction.
type PurposeSource interface {
	GetAccountForPurpose(ctx context.Context, companyID int64, purpose AccountPurpose) (Account, error)
}

// Resolver maps account purposes to chart-of-accounts entries.
type Resolver struct {
	source PurposeSource
}

// NewResolver constructs a Resolver over the given source.
func NewResolver(source PurposeSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the account mapped to purpose for the company.
func (r *Resolver) Resolve(ctx context.Context, companyID int64, purpose AccountPurpose) (Account, error) {
	if !purpose.Valid() {
		return Account{}, ErrInvalidPurpose
	}
	account, err := r.source.GetAccountForPurpose(ctx, companyID, purpose)
	if err != nil {
		if errors.Is(err, ErrMissingAccounts) || errors.Is(err, ErrAccountNotFound) {
			return Account{}, &MissingAccountsError{CompanyID: companyID, Purposes: []AccountPurpose{purpose}}
		}
		return Account{}, err
	}
	return account, nil
}

// ResolveSet resolves every purpose or fails with one MissingAccountsError
// listing all unmapped purposes. Callers use this before constructing lines
// so a posting aborts before any write when configuration is incomplete.
func (r *Resolver) ResolveSet(ctx context.Context, companyID int64, purposes ...AccountPurpose) (map[AccountPurpose]Account, error) {
	resolved := make(map[AccountPurpose]Account, len(purposes))
	var missing []AccountPurpose
	for _, purpose := range purposes {
		if !purpose.Valid() {
			return nil, ErrInvalidPurpose
		}
		account, err := r.source.GetAccountForPurpose(ctx, companyID, purpose)
		if err != nil {
			if errors.Is(err, ErrMissingAccounts) || errors.Is(err, ErrAccountNotFound) {
				missing = append(missing, purpose)
				continue
			}
			return nil, err
		}
		resolved[purpose] = account
	}
	if len(missing) > 0 {
		return nil, &MissingAccountsError{CompanyID: companyID, Purposes: missing}
	}
	return resolved, nil
}
