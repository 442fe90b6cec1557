// Package kv implements the walletd database on top of BoltDB.
package kv

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	prombbolt "github.com/prysmaticlabs/prombbolt"
	bolt "go.etcd.io/bbolt"
)

const (
	// Bolt db mmap growth step. Deposit volumes are small; 10MB is plenty
	// of headroom before the first remap.
	boltInitialMmapSize = 10e6
	databaseFileName    = "wallet.db"
)

// Store implements the walletd Database interface with BoltDB as the
// underlying persistent kv-store.
type Store struct {
	db           *bolt.DB
	databasePath string
}

// NewKVStore opens (creating if necessary) a BoltDB file at the given path
// and ensures every bucket of the schema exists. A path without a file name
// is treated as a directory and the default file name is appended.
func NewKVStore(dbPath string) (*Store, error) {
	datafile := dbPath
	if filepath.Ext(datafile) == "" {
		datafile = filepath.Join(dbPath, databaseFileName)
	}
	if dir := filepath.Dir(datafile); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}
	boltDB, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second, InitialMmapSize: boltInitialMmapSize})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}

	kv := &Store{
		db:           boltDB,
		databasePath: datafile,
	}

	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(
			tx,
			accountsBucket,
			addressToIDBucket,
			nativeDepositsBucket,
			erc20DepositsBucket,
			stateBucket,
			tokenMetadataBucket,
		)
	}); err != nil {
		return nil, err
	}
	err = prometheus.Register(createBoltCollector(kv.db))

	return kv, err
}

// ClearDB removes the database file from disk.
func (s *Store) ClearDB() error {
	if _, err := os.Stat(s.databasePath); os.IsNotExist(err) {
		return nil
	}
	prometheus.Unregister(createBoltCollector(s.db))
	return os.Remove(s.databasePath)
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	prometheus.Unregister(createBoltCollector(s.db))
	return s.db.Close()
}

// DatabasePath is the file at which this database writes.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}

// createBoltCollector returns a prometheus collector specifically configured
// for boltdb.
func createBoltCollector(db *bolt.DB) prometheus.Collector {
	return prombbolt.New("walletd_db", db)
}
