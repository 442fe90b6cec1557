package db

import "github.com/custodia/walletd/walletd/db/iface"

// Database is the persistence interface consumed by walletd services.
type Database = iface.Database
