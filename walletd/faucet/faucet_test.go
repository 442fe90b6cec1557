package faucet

import (
	"context"
	"math/big"
	"testing"

	"github.com/custodia/walletd/walletd/chain"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "test test test test test test test test test test test junk"

var existential = big.NewInt(10_000_000_000_000_000) // 0.01 ether

// fakeChain implements the faucet's chain capabilities in memory.
type fakeChain struct {
	balances      map[common.Address]*big.Int
	nonce         uint64
	sent          []*gethTypes.Transaction
	receiptStatus uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balances:      make(map[common.Address]*big.Int),
		receiptStatus: gethTypes.ReceiptStatusSuccessful,
	}
}

func (f *fakeChain) BalanceAt(_ context.Context, account common.Address) (*big.Int, error) {
	if b, ok := f.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeChain) EstimateFees(_ context.Context) (*chain.FeeEstimate, error) {
	return &chain.FeeEstimate{
		MaxFeePerGas:         big.NewInt(100_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
	}, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *gethTypes.Transaction) error {
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeChain) WaitMined(_ context.Context, tx *gethTypes.Transaction) (*gethTypes.Receipt, error) {
	return &gethTypes.Receipt{Status: f.receiptStatus, TxHash: tx.Hash()}, nil
}

func setupFaucet(t *testing.T, fc *fakeChain) *Faucet {
	f, err := New(fc, big.NewInt(137), testMnemonic, existential)
	require.NoError(t, err)
	return f
}

func TestFaucet_Fund_SendsExistentialDeposit(t *testing.T) {
	fc := newFakeChain()
	f := setupFaucet(t, fc)
	fc.balances[f.Address()] = big.NewInt(1_000_000_000_000_000_000)

	target := common.HexToAddress("0x4444444444444444444444444444444444444444")
	hash, err := f.Fund(context.Background(), target)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)

	require.Equal(t, 1, len(fc.sent))
	tx := fc.sent[0]
	assert.Equal(t, target, *tx.To())
	assert.Equal(t, 0, tx.Value().Cmp(existential))
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, hash, tx.Hash())
}

func TestFaucet_Fund_InsufficientFaucet(t *testing.T) {
	fc := newFakeChain()
	f := setupFaucet(t, fc)
	fc.balances[f.Address()] = new(big.Int).Sub(existential, big.NewInt(1))

	_, err := f.Fund(context.Background(), common.HexToAddress("0x4444444444444444444444444444444444444444"))
	require.ErrorIs(t, err, ErrInsufficientFaucet)
	assert.Equal(t, 0, len(fc.sent))
}

func TestFaucet_Fund_RevertedReceipt(t *testing.T) {
	fc := newFakeChain()
	fc.receiptStatus = gethTypes.ReceiptStatusFailed
	f := setupFaucet(t, fc)
	fc.balances[f.Address()] = big.NewInt(1_000_000_000_000_000_000)

	_, err := f.Fund(context.Background(), common.HexToAddress("0x4444444444444444444444444444444444444444"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverted")
}

func TestFaucet_NeedsFunding(t *testing.T) {
	fc := newFakeChain()
	f := setupFaucet(t, fc)
	ctx := context.Background()

	poor := common.HexToAddress("0x5555555555555555555555555555555555555555")
	rich := common.HexToAddress("0x6666666666666666666666666666666666666666")
	fc.balances[poor] = new(big.Int).Sub(existential, big.NewInt(1))
	fc.balances[rich] = new(big.Int).Set(existential)

	needs, err := f.NeedsFunding(ctx, poor)
	require.NoError(t, err)
	assert.True(t, needs)

	needs, err = f.NeedsFunding(ctx, rich)
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestFaucet_New_InvalidMnemonic(t *testing.T) {
	_, err := New(newFakeChain(), big.NewInt(137), "not a mnemonic", existential)
	require.Error(t, err)
}
