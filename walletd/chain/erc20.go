package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/custodia/walletd/walletd/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), topic0 of
// every ERC-20 transfer log.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(err)
	}
	erc20ABI = parsed
}

// TokenBalance returns balanceOf(holder) on the token contract.
func TokenBalance(ctx context.Context, caller ContractCaller, token, holder common.Address) (*big.Int, error) {
	input, err := erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode balanceOf")
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input})
	if err != nil {
		return nil, errors.Wrap(err, "balanceOf call failed")
	}
	results, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode balanceOf")
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, errors.New("balanceOf returned a non-integer")
	}
	return balance, nil
}

// FetchTokenMetadata reads symbol(), decimals() and name() from the token
// contract. Any failing read fails the whole fetch; callers decide how to
// degrade.
func FetchTokenMetadata(ctx context.Context, caller ContractCaller, token common.Address) (*types.TokenMetadata, error) {
	symbol, err := callString(ctx, caller, token, "symbol")
	if err != nil {
		return nil, err
	}
	name, err := callString(ctx, caller, token, "name")
	if err != nil {
		return nil, err
	}
	input, err := erc20ABI.Pack("decimals")
	if err != nil {
		return nil, errors.Wrap(err, "could not encode decimals")
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input})
	if err != nil {
		return nil, errors.Wrap(err, "decimals call failed")
	}
	results, err := erc20ABI.Unpack("decimals", out)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode decimals")
	}
	decimals, ok := results[0].(uint8)
	if !ok {
		return nil, errors.New("decimals returned a non-uint8")
	}
	return &types.TokenMetadata{Symbol: symbol, Decimals: decimals, Name: name}, nil
}

func callString(ctx context.Context, caller ContractCaller, token common.Address, method string) (string, error) {
	input, err := erc20ABI.Pack(method)
	if err != nil {
		return "", errors.Wrapf(err, "could not encode %s", method)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input})
	if err != nil {
		return "", errors.Wrapf(err, "%s call failed", method)
	}
	results, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return "", errors.Wrapf(err, "could not decode %s", method)
	}
	s, ok := results[0].(string)
	if !ok {
		return "", errors.Errorf("%s returned a non-string", method)
	}
	return s, nil
}

// TransferCalldata encodes transfer(to, amount).
func TransferCalldata(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount)
}

// ParseTransferLog extracts (from, to, amount) from an ERC-20 Transfer log.
// Logs with the wrong topic0 or fewer than three topics report ok=false.
// The amount is the big-endian integer over the data field; empty data
// decodes to zero.
func ParseTransferLog(lg *gethTypes.Log) (from, to common.Address, amount *big.Int, ok bool) {
	if len(lg.Topics) < 3 || lg.Topics[0] != TransferTopic {
		return common.Address{}, common.Address{}, nil, false
	}
	from = common.BytesToAddress(lg.Topics[1].Bytes()[12:])
	to = common.BytesToAddress(lg.Topics[2].Bytes()[12:])
	amount = new(big.Int).SetBytes(lg.Data)
	return from, to, amount, true
}
