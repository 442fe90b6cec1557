package chain

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller answers CallContract from a map of method selector -> encoded
// return data.
type fakeCaller struct {
	responses map[string][]byte
	err       error
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.responses[hex.EncodeToString(msg.Data[:4])], nil
}

func selectorOf(t *testing.T, method string) string {
	input, err := erc20ABI.Pack(method)
	require.NoError(t, err)
	return hex.EncodeToString(input[:4])
}

func TestTransferCalldata_Selector(t *testing.T) {
	to := common.HexToAddress("0x9999999999999999999999999999999999999999")
	data, err := TransferCalldata(to, big.NewInt(1_000_000))
	require.NoError(t, err)

	// transfer(address,uint256) selector.
	assert.Equal(t, "a9059cbb", hex.EncodeToString(data[:4]))
	// address argument, left-padded to 32 bytes.
	assert.Equal(t, to.Bytes(), data[4+12:4+32])
	assert.Equal(t, big.NewInt(1_000_000), new(big.Int).SetBytes(data[4+32:]))
}

func TestTokenBalance_Decodes(t *testing.T) {
	out, err := erc20ABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(123456))
	require.NoError(t, err)

	caller := &fakeCaller{responses: map[string][]byte{}}
	input, err := erc20ABI.Pack("balanceOf", common.Address{})
	require.NoError(t, err)
	caller.responses[hex.EncodeToString(input[:4])] = out

	balance, err := TokenBalance(context.Background(), caller, common.Address{}, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(123456), balance)
}

func TestFetchTokenMetadata_Decodes(t *testing.T) {
	symbolOut, err := erc20ABI.Methods["symbol"].Outputs.Pack("USDT")
	require.NoError(t, err)
	nameOut, err := erc20ABI.Methods["name"].Outputs.Pack("Tether USD")
	require.NoError(t, err)
	decimalsOut, err := erc20ABI.Methods["decimals"].Outputs.Pack(uint8(6))
	require.NoError(t, err)

	caller := &fakeCaller{responses: map[string][]byte{
		selectorOf(t, "symbol"):   symbolOut,
		selectorOf(t, "name"):     nameOut,
		selectorOf(t, "decimals"): decimalsOut,
	}}

	md, err := FetchTokenMetadata(context.Background(), caller, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, "USDT", md.Symbol)
	assert.Equal(t, uint8(6), md.Decimals)
	assert.Equal(t, "Tether USD", md.Name)
}

func TestFetchTokenMetadata_PropagatesCallError(t *testing.T) {
	caller := &fakeCaller{err: assert.AnError}
	_, err := FetchTokenMetadata(context.Background(), caller, common.Address{})
	require.Error(t, err)
}

func TestParseTransferLog(t *testing.T) {
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")

	lg := &gethTypes.Log{
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.BigToHash(big.NewInt(1_000_000)).Bytes(),
	}
	gotFrom, gotTo, amount, ok := ParseTransferLog(lg)
	require.True(t, ok)
	assert.Equal(t, from, gotFrom)
	assert.Equal(t, to, gotTo)
	assert.Equal(t, big.NewInt(1_000_000), amount)
}

func TestParseTransferLog_Rejects(t *testing.T) {
	// Fewer than three topics (e.g. ERC-721 style or non-indexed args).
	lg := &gethTypes.Log{Topics: []common.Hash{TransferTopic, {}}}
	_, _, _, ok := ParseTransferLog(lg)
	assert.False(t, ok)

	// Wrong signature.
	lg = &gethTypes.Log{Topics: []common.Hash{{}, {}, {}}}
	_, _, _, ok = ParseTransferLog(lg)
	assert.False(t, ok)
}

func TestParseTransferLog_EmptyDataIsZero(t *testing.T) {
	lg := &gethTypes.Log{
		Topics: []common.Hash{TransferTopic, {}, {}},
	}
	_, _, amount, ok := ParseTransferLog(lg)
	require.True(t, ok)
	assert.Equal(t, 0, amount.Sign())
}
