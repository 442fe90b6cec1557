// Package iface defines the persistence contract consumed by the monitor,
// sweeper and registrar. It exists as its own package to break import cycles
// between db and the services that use it.
package iface

import (
	"context"
	"io"

	"github.com/custodia/walletd/walletd/types"
)

// Database is the transactional store behind the deposit lifecycle. All
// writes are durable when the call returns; cross-bucket writes commit
// atomically. Implementations are safe for concurrent use.
type Database interface {
	io.Closer
	DatabasePath() string
	ClearDB() error

	// Accounts.
	RegisterAccount(ctx context.Context, acct *types.Account) error
	LookupByAddress(ctx context.Context, address string) (string, error)
	LookupByID(ctx context.Context, registrationID string) (*types.Account, error)

	// Deposits. Record* inserts only if the key is absent and reports
	// whether this call inserted the row.
	RecordNativeDeposit(ctx context.Context, dep *types.NativeDeposit) (bool, error)
	RecordErc20Deposit(ctx context.Context, dep *types.Erc20Deposit) (bool, error)
	ListDetectedNative(ctx context.Context) ([]*types.NativeDeposit, error)
	ListDetectedErc20(ctx context.Context) ([]*types.Erc20Deposit, error)
	MarkNativeSwept(ctx context.Context, txHash string) error
	MarkErc20Swept(ctx context.Context, key string) error

	// Scan cursor.
	GetCursor(ctx context.Context) (uint64, error)
	SetCursor(ctx context.Context, blockNumber uint64) error

	// Token metadata cache.
	GetTokenMetadata(ctx context.Context, tokenAddress string) (*types.TokenMetadata, error)
	PutTokenMetadata(ctx context.Context, tokenAddress string, md *types.TokenMetadata) error
}
