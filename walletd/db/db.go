// Package db exposes the walletd database.
package db

import "github.com/custodia/walletd/walletd/db/kv"

// NewDB initializes a new DB at the given path.
func NewDB(databasePath string) (Database, error) {
	return kv.NewKVStore(databasePath)
}
