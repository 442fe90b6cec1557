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

// GetTokenMetadata returns the cached identity of an ERC-20 contract, or nil
// when the token has never been resolved. Addresses are matched
// case-insensitively.
func (s *Store) GetTokenMetadata(ctx context.Context, tokenAddress string) (*types.TokenMetadata, error) {
	ctx, span := trace.StartSpan(ctx, "WalletDB.GetTokenMetadata")
	defer span.End()

	var md *types.TokenMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(tokenMetadataBucket).Get([]byte(strings.ToLower(tokenAddress)))
		if enc == nil {
			return nil
		}
		md = &types.TokenMetadata{}
		return json.Unmarshal(enc, md)
	})
	return md, err
}

// PutTokenMetadata caches the identity of an ERC-20 contract.
func (s *Store) PutTokenMetadata(ctx context.Context, tokenAddress string, md *types.TokenMetadata) error {
	ctx, span := trace.StartSpan(ctx, "WalletDB.PutTokenMetadata")
	defer span.End()

	enc, err := json.Marshal(md)
	if err != nil {
		return errors.Wrap(err, "could not encode token metadata")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokenMetadataBucket).Put([]byte(strings.ToLower(tokenAddress)), enc)
	})
}
