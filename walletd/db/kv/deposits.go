package kv

import (
	"context"
	"encoding/json"

	"github.com/custodia/walletd/walletd/types"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// RecordNativeDeposit inserts a native deposit row keyed by transaction
// hash, only if the key is absent. The return reports whether this call
// created the row; a duplicate observation is a silent no-op.
func (s *Store) RecordNativeDeposit(ctx context.Context, dep *types.NativeDeposit) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "WalletDB.RecordNativeDeposit")
	defer span.End()

	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(nativeDepositsBucket)
		key := []byte(dep.TxHash)
		if bkt.Get(key) != nil {
			return nil
		}
		enc, err := json.Marshal(dep)
		if err != nil {
			return errors.Wrap(err, "could not encode native deposit")
		}
		inserted = true
		return bkt.Put(key, enc)
	})
	return inserted, err
}

// RecordErc20Deposit inserts a token deposit row keyed by
// "{tx_hash}:{log_index}", only if the key is absent. The return reports
// whether this call created the row.
func (s *Store) RecordErc20Deposit(ctx context.Context, dep *types.Erc20Deposit) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "WalletDB.RecordErc20Deposit")
	defer span.End()

	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(erc20DepositsBucket)
		key := []byte(dep.Key())
		if bkt.Get(key) != nil {
			return nil
		}
		enc, err := json.Marshal(dep)
		if err != nil {
			return errors.Wrap(err, "could not encode erc20 deposit")
		}
		inserted = true
		return bkt.Put(key, enc)
	})
	return inserted, err
}

// ListDetectedNative returns every native deposit still awaiting a sweep.
// Iteration order is not part of the contract.
func (s *Store) ListDetectedNative(ctx context.Context) ([]*types.NativeDeposit, error) {
	ctx, span := trace.StartSpan(ctx, "WalletDB.ListDetectedNative")
	defer span.End()

	var deposits []*types.NativeDeposit
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(nativeDepositsBucket).ForEach(func(_, v []byte) error {
			dep := &types.NativeDeposit{}
			if err := json.Unmarshal(v, dep); err != nil {
				return errors.Wrap(err, "could not decode native deposit")
			}
			if dep.Status == types.StatusDetected {
				deposits = append(deposits, dep)
			}
			return nil
		})
	})
	return deposits, err
}

// ListDetectedErc20 returns every token deposit still awaiting a sweep.
func (s *Store) ListDetectedErc20(ctx context.Context) ([]*types.Erc20Deposit, error) {
	ctx, span := trace.StartSpan(ctx, "WalletDB.ListDetectedErc20")
	defer span.End()

	var deposits []*types.Erc20Deposit
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(erc20DepositsBucket).ForEach(func(_, v []byte) error {
			dep := &types.Erc20Deposit{}
			if err := json.Unmarshal(v, dep); err != nil {
				return errors.Wrap(err, "could not decode erc20 deposit")
			}
			if dep.Status == types.StatusDetected {
				deposits = append(deposits, dep)
			}
			return nil
		})
	})
	return deposits, err
}

// MarkNativeSwept transitions a native deposit from detected to swept. A
// missing row is a no-op, not an error: the sweep already committed.
func (s *Store) MarkNativeSwept(ctx context.Context, txHash string) error {
	ctx, span := trace.StartSpan(ctx, "WalletDB.MarkNativeSwept")
	defer span.End()

	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(nativeDepositsBucket)
		key := []byte(txHash)
		enc := bkt.Get(key)
		if enc == nil {
			return nil
		}
		dep := &types.NativeDeposit{}
		if err := json.Unmarshal(enc, dep); err != nil {
			return errors.Wrap(err, "could not decode native deposit")
		}
		if dep.Status == types.StatusSwept {
			return nil
		}
		dep.Status = types.StatusSwept
		out, err := json.Marshal(dep)
		if err != nil {
			return errors.Wrap(err, "could not encode native deposit")
		}
		return bkt.Put(key, out)
	})
}

// MarkErc20Swept transitions a token deposit from detected to swept. A
// missing row is a no-op.
func (s *Store) MarkErc20Swept(ctx context.Context, key string) error {
	ctx, span := trace.StartSpan(ctx, "WalletDB.MarkErc20Swept")
	defer span.End()

	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(erc20DepositsBucket)
		k := []byte(key)
		enc := bkt.Get(k)
		if enc == nil {
			return nil
		}
		dep := &types.Erc20Deposit{}
		if err := json.Unmarshal(enc, dep); err != nil {
			return errors.Wrap(err, "could not decode erc20 deposit")
		}
		if dep.Status == types.StatusSwept {
			return nil
		}
		dep.Status = types.StatusSwept
		out, err := json.Marshal(dep)
		if err != nil {
			return errors.Wrap(err, "could not encode erc20 deposit")
		}
		return bkt.Put(k, out)
	})
}
