package kv

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/custodia/walletd/walletd/types"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// RegisterAccount persists an account row and its reverse address index in a
// single transaction. Writing an existing registration id overwrites the
// row, which keeps re-registration idempotent.
func (s *Store) RegisterAccount(ctx context.Context, acct *types.Account) error {
	ctx, span := trace.StartSpan(ctx, "WalletDB.RegisterAccount")
	defer span.End()

	enc, err := json.Marshal(acct)
	if err != nil {
		return errors.Wrap(err, "could not encode account")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(accountsBucket).Put([]byte(acct.RegistrationID), enc); err != nil {
			return err
		}
		return tx.Bucket(addressToIDBucket).Put([]byte(strings.ToLower(acct.Address)), []byte(acct.RegistrationID))
	})
}

// LookupByAddress resolves a deposit address to its registration id. The
// lookup is case-insensitive. Returns the empty string when the address is
// not registered.
func (s *Store) LookupByAddress(ctx context.Context, address string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "WalletDB.LookupByAddress")
	defer span.End()

	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(addressToIDBucket).Get([]byte(strings.ToLower(address)))
		if enc != nil {
			id = string(enc)
		}
		return nil
	})
	return id, err
}

// LookupByID returns the account registered under the given id, or nil when
// no such account exists.
func (s *Store) LookupByID(ctx context.Context, registrationID string) (*types.Account, error) {
	ctx, span := trace.StartSpan(ctx, "WalletDB.LookupByID")
	defer span.End()

	var acct *types.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(accountsBucket).Get([]byte(registrationID))
		if enc == nil {
			return nil
		}
		acct = &types.Account{}
		return json.Unmarshal(enc, acct)
	})
	return acct, err
}
