package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethRPC "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "chain")

// RPCClient implements Client over a single go-ethereum connection. The
// underlying transport is connection-pooled; one instance is shared by every
// service in the node.
type RPCClient struct {
	eth       *ethclient.Client
	rpc       *gethRPC.Client
	chainID   *big.Int
	websocket bool
}

// Dial connects to the endpoint, fetches the chain id once, and determines
// subscription support from the URL scheme.
func Dial(ctx context.Context, endpoint string) (*RPCClient, error) {
	rpcClient, err := gethRPC.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "could not dial %s", endpoint)
	}
	ethClient := ethclient.NewClient(rpcClient)
	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, errors.Wrap(err, "could not fetch chain id")
	}
	ws := isWebsocketEndpoint(endpoint)
	log.WithFields(logrus.Fields{
		"chainID":   chainID,
		"websocket": ws,
	}).Info("Connected to chain endpoint")
	return &RPCClient{
		eth:       ethClient,
		rpc:       rpcClient,
		chainID:   chainID,
		websocket: ws,
	}, nil
}

func isWebsocketEndpoint(endpoint string) bool {
	lower := strings.ToLower(endpoint)
	return strings.HasPrefix(lower, "ws://") || strings.HasPrefix(lower, "wss://")
}

// BlockNumber returns the current chain tip height.
func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// BlockByNumber returns the block at the given height with full transaction
// bodies. A nil number means the latest block.
func (c *RPCClient) BlockByNumber(ctx context.Context, number *big.Int) (*gethTypes.Block, error) {
	return c.eth.BlockByNumber(ctx, number)
}

// FilterLogs returns the logs matching the query.
func (c *RPCClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethTypes.Log, error) {
	return c.eth.FilterLogs(ctx, q)
}

// BalanceAt returns the native balance of the account at the latest block.
func (c *RPCClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, account, nil)
}

// PendingNonceAt returns the next nonce of the account, pending included.
func (c *RPCClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, account)
}

// EstimateFees derives an EIP-1559 fee pair from the suggested priority fee
// and the latest base fee. On chains without EIP-1559 the legacy gas price
// serves as both halves of the pair.
func (c *RPCClient) EstimateFees(ctx context.Context) (*FeeEstimate, error) {
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not fetch latest header")
	}
	if head.BaseFee == nil {
		gasPrice, err := c.eth.SuggestGasPrice(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "could not fetch gas price")
		}
		return &FeeEstimate{MaxFeePerGas: gasPrice, MaxPriorityFeePerGas: gasPrice}, nil
	}
	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not fetch gas tip cap")
	}
	return &FeeEstimate{
		MaxFeePerGas:         maxFeeFromBase(head.BaseFee, tip),
		MaxPriorityFeePerGas: tip,
	}, nil
}

// maxFeeFromBase computes the fee cap 2*baseFee + tip, giving the
// transaction headroom for the next few blocks of base-fee growth.
func maxFeeFromBase(baseFee, tip *big.Int) *big.Int {
	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	return maxFee.Add(maxFee, tip)
}

// EstimateGas estimates the gas limit the call would consume.
func (c *RPCClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.eth.EstimateGas(ctx, msg)
}

// CallContract executes a read-only call at the latest block.
func (c *RPCClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, nil)
}

// SendTransaction submits a signed transaction.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *gethTypes.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

// TransactionByHash returns the transaction and whether it is still pending.
func (c *RPCClient) TransactionByHash(ctx context.Context, hash common.Hash) (*gethTypes.Transaction, bool, error) {
	return c.eth.TransactionByHash(ctx, hash)
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *RPCClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethTypes.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, hash)
}

// WaitMined blocks until the transaction is mined or ctx is cancelled.
func (c *RPCClient) WaitMined(ctx context.Context, tx *gethTypes.Transaction) (*gethTypes.Receipt, error) {
	return bind.WaitMined(ctx, c.eth, tx)
}

// SubscribeNewHead subscribes to new chain heads over the websocket
// transport.
func (c *RPCClient) SubscribeNewHead(ctx context.Context, ch chan<- *gethTypes.Header) (ethereum.Subscription, error) {
	return c.eth.SubscribeNewHead(ctx, ch)
}

// SupportsSubscriptions reports whether the transport can stream heads.
func (c *RPCClient) SupportsSubscriptions() bool {
	return c.websocket
}

// ChainID returns the chain id fetched at dial time.
func (c *RPCClient) ChainID() *big.Int {
	return c.chainID
}

// Close tears down the underlying connection.
func (c *RPCClient) Close() {
	c.eth.Close()
}
