// Package chain abstracts the EVM JSON-RPC endpoint behind the capability
// set the deposit lifecycle needs. The monitor and sweeper are written
// against these interfaces; one concrete client backs them over either an
// HTTP or a websocket transport.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
)

// HeadReader reports the current chain tip.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// BlockFetcher retrieves blocks with full transaction bodies.
type BlockFetcher interface {
	BlockByNumber(ctx context.Context, number *big.Int) (*gethTypes.Block, error)
}

// LogFilterer fetches logs matching a filter query.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethTypes.Log, error)
}

// BalanceReader reads native-currency balances at the latest block.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// NonceReader returns the next nonce for an account, pending txs included.
type NonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// FeeEstimate is an EIP-1559 (max fee, priority fee) pair in wei.
type FeeEstimate struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// FeeEstimator derives an EIP-1559 fee pair from recent blocks.
type FeeEstimator interface {
	EstimateFees(ctx context.Context) (*FeeEstimate, error)
}

// GasEstimator estimates the gas limit a call would consume.
type GasEstimator interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// ContractCaller executes a read-only contract call at the latest block.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// TxSender submits a signed transaction.
type TxSender interface {
	SendTransaction(ctx context.Context, tx *gethTypes.Transaction) error
}

// TxReader fetches transactions and receipts by hash.
type TxReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethTypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethTypes.Receipt, error)
}

// ReceiptWaiter blocks until a submitted transaction is mined or the context
// is cancelled.
type ReceiptWaiter interface {
	WaitMined(ctx context.Context, tx *gethTypes.Transaction) (*gethTypes.Receipt, error)
}

// HeadSubscriber streams new chain heads. Only the websocket transport
// supports subscriptions; callers must check SupportsSubscriptions first.
type HeadSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *gethTypes.Header) (ethereum.Subscription, error)
	SupportsSubscriptions() bool
}

// Client is the full capability set of the chain endpoint.
type Client interface {
	HeadReader
	BlockFetcher
	LogFilterer
	BalanceReader
	NonceReader
	FeeEstimator
	GasEstimator
	ContractCaller
	TxSender
	TxReader
	ReceiptWaiter
	HeadSubscriber
	ChainID() *big.Int
	Close()
}
