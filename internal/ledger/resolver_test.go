package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type mapSource map[AccountPurpose]Account

func (m mapSource) GetAccountForPurpose(ctx context.Context, companyID int64, purpose AccountPurpose) (Account, error) {
	if acc, ok := m[purpose]; ok {
		return acc, nil
	}
	return Account{}, ErrMissingAccounts
}

func TestResolveSetCollectsAllMissingPurposes(t *testing.T) {
	source := mapSource{
		PurposeCash: {ID: 1, Code: "1000"},
	}
	resolver := NewResolver(source)

	_, err := resolver.ResolveSet(context.Background(), 1, PurposeCash, PurposeAP, PurposeInventory)
	require.ErrorIs(t, err, ErrMissingAccounts)

	var missing *MissingAccountsError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, []AccountPurpose{PurposeAP, PurposeInventory}, missing.Purposes)
	require.Equal(t, int64(1), missing.CompanyID)
}

func TestResolveSetReturnsEveryAccount(t *testing.T) {
	source := mapSource{
		PurposeCash: {ID: 1, Code: "1000"},
		PurposeAR:   {ID: 2, Code: "1100"},
	}
	resolver := NewResolver(source)

	accounts, err := resolver.ResolveSet(context.Background(), 1, PurposeCash, PurposeAR)
	require.NoError(t, err)
	require.Equal(t, int64(1), accounts[PurposeCash].ID)
	require.Equal(t, int64(2), accounts[PurposeAR].ID)
}

func TestResolveRejectsUnknownPurpose(t *testing.T) {
	resolver := NewResolver(mapSource{})
	_, err := resolver.Resolve(context.Background(), 1, AccountPurpose("GOODWILL"))
	require.ErrorIs(t, err, ErrInvalidPurpose)
}
