// Package faucet seeds freshly derived deposit addresses with the
// existential deposit so they can later pay gas for their own sweeps.
package faucet

import (
	"context"
	"math/big"
	"sync"

	"github.com/custodia/walletd/walletd/chain"
	"github.com/custodia/walletd/walletd/wallet"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "faucet")

// ErrInsufficientFaucet means the faucet account itself cannot cover the
// existential deposit. The caller retries on a later tick; the faucet needs
// an operator refill.
var ErrInsufficientFaucet = errors.New("faucet balance below existential deposit")

const fundGasLimit = 21000

// chainClient is the slice of chain capabilities the faucet needs.
type chainClient interface {
	chain.BalanceReader
	chain.NonceReader
	chain.FeeEstimator
	chain.TxSender
	chain.ReceiptWaiter
}

// Faucet sends the configured existential deposit from index 0 of the
// faucet mnemonic. A single mutex serialises Fund calls: the faucet signer
// is one nonce source shared by registration funding and sweep top-ups.
type Faucet struct {
	client  chainClient
	signer  *wallet.Signer
	chainID *big.Int
	deposit *big.Int
	mu      sync.Mutex
}

// New builds the faucet from its mnemonic, binding the signer to index 0.
func New(client chainClient, chainID *big.Int, mnemonic string, existentialDeposit *big.Int) (*Faucet, error) {
	w, err := wallet.New(mnemonic)
	if err != nil {
		return nil, errors.Wrap(err, "invalid faucet mnemonic")
	}
	signer, err := w.Signer(0)
	if err != nil {
		return nil, errors.Wrap(err, "could not derive faucet signer")
	}
	return &Faucet{
		client:  client,
		signer:  signer,
		chainID: chainID,
		deposit: existentialDeposit,
	}, nil
}

// Address returns the funding account address.
func (f *Faucet) Address() common.Address {
	return f.signer.Address()
}

// NeedsFunding reports whether the address holds less than the existential
// deposit.
func (f *Faucet) NeedsFunding(ctx context.Context, addr common.Address) (bool, error) {
	balance, err := f.client.BalanceAt(ctx, addr)
	if err != nil {
		return false, errors.Wrap(err, "could not read balance")
	}
	return balance.Cmp(f.deposit) < 0, nil
}

// Fund sends the existential deposit to the address and waits for the
// receipt. Calls are serialised so concurrent registrations and sweep
// top-ups cannot reuse a nonce.
func (f *Faucet) Fund(ctx context.Context, to common.Address) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	balance, err := f.client.BalanceAt(ctx, f.signer.Address())
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "could not read faucet balance")
	}
	if balance.Cmp(f.deposit) < 0 {
		return common.Hash{}, ErrInsufficientFaucet
	}

	nonce, err := f.client.PendingNonceAt(ctx, f.signer.Address())
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "could not fetch faucet nonce")
	}
	fees, err := f.client.EstimateFees(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "could not estimate fees")
	}
	tx := gethTypes.NewTx(&gethTypes.DynamicFeeTx{
		ChainID:   f.chainID,
		Nonce:     nonce,
		GasTipCap: fees.MaxPriorityFeePerGas,
		GasFeeCap: fees.MaxFeePerGas,
		Gas:       fundGasLimit,
		To:        &to,
		Value:     f.deposit,
	})
	signed, err := f.signer.SignTx(tx, f.chainID)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "could not sign funding tx")
	}
	if err := f.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "could not submit funding tx")
	}
	log.WithFields(logrus.Fields{
		"to":     to.Hex(),
		"txHash": signed.Hash().Hex(),
	}).Info("Submitted faucet funding")

	receipt, err := f.client.WaitMined(ctx, signed)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "funding tx not mined")
	}
	if receipt.Status != gethTypes.ReceiptStatusSuccessful {
		return common.Hash{}, errors.Errorf("funding tx %s reverted", signed.Hash().Hex())
	}
	return signed.Hash(), nil
}
