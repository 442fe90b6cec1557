// Package testing allows for spinning up a real bolt-db
// instance for unit tests throughout the walletd repo.
package testing

import (
	"testing"

	"github.com/custodia/walletd/walletd/db"
	"github.com/custodia/walletd/walletd/db/kv"
)

// SetupDB instantiates and returns a database backed by a key value store.
func SetupDB(t testing.TB) db.Database {
	s, err := kv.NewKVStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Fatalf("failed to close database: %v", err)
		}
		if err := s.ClearDB(); err != nil {
			t.Fatalf("failed to clear database: %v", err)
		}
	})
	return s
}
