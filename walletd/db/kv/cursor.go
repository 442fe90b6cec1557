package kv

import (
	"context"
	"encoding/binary"

	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// GetCursor returns the highest fully processed block height. Zero means
// the scanner has never anchored.
func (s *Store) GetCursor(ctx context.Context) (uint64, error) {
	ctx, span := trace.StartSpan(ctx, "WalletDB.GetCursor")
	defer span.End()

	var cursor uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(stateBucket).Get(lastProcessedBlockKey)
		if len(enc) == 8 {
			cursor = binary.BigEndian.Uint64(enc)
		}
		return nil
	})
	return cursor, err
}

// SetCursor persists the highest fully processed block height.
func (s *Store) SetCursor(ctx context.Context, blockNumber uint64) error {
	ctx, span := trace.StartSpan(ctx, "WalletDB.SetCursor")
	defer span.End()

	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, blockNumber)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put(lastProcessedBlockKey, enc)
	})
}
