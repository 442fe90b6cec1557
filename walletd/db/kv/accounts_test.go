package kv

import (
	"context"
	"strings"
	"testing"

	"github.com/custodia/walletd/walletd/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func TestStore_RegisterAccount_RoundTrip(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	acct := &types.Account{
		RegistrationID:  "user_1",
		DerivationIndex: 42,
		Address:         "0xF39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		WebhookURL:      "https://example.com/hook",
	}
	require.NoError(t, db.RegisterAccount(ctx, acct))

	got, err := db.LookupByID(ctx, "user_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, acct.Address, got.Address)
	assert.Equal(t, uint32(42), got.DerivationIndex)
	assert.Equal(t, "https://example.com/hook", got.WebhookURL)

	// The reverse index is case-insensitive.
	id, err := db.LookupByAddress(ctx, strings.ToUpper(acct.Address))
	require.NoError(t, err)
	assert.Equal(t, "user_1", id)

	// Round-trip law: address from the forward row resolves back to the id.
	id, err = db.LookupByAddress(ctx, got.Address)
	require.NoError(t, err)
	assert.Equal(t, acct.RegistrationID, id)
}

func TestStore_Lookup_Missing(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	acct, err := db.LookupByID(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, acct)

	id, err := db.LookupByAddress(ctx, "0x0000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "", id)
}

func TestStore_RegisterAccount_OverwriteKeepsSingleRow(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	acct := &types.Account{
		RegistrationID:  "user_1",
		DerivationIndex: 7,
		Address:         "0x1111111111111111111111111111111111111111",
		WebhookURL:      "https://example.com/hook",
	}
	require.NoError(t, db.RegisterAccount(ctx, acct))
	require.NoError(t, db.RegisterAccount(ctx, acct))

	count := 0
	require.NoError(t, db.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(accountsBucket).ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	}))
	assert.Equal(t, 1, count)
}
