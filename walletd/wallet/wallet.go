// Package wallet derives deposit addresses and transaction signers from a
// BIP-39 mnemonic along the standard Ethereum path m/44'/60'/0'/0/index.
package wallet

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	bip39 "github.com/tyler-smith/go-bip39"
)

var (
	// ErrInvalidMnemonic rejects phrases that fail BIP-39 wordlist or
	// checksum validation.
	ErrInvalidMnemonic = errors.New("invalid bip39 mnemonic")
	// ErrIndexOutOfRange rejects indexes in the hardened half of the
	// BIP-32 keyspace; deposit addresses use non-hardened children only.
	ErrIndexOutOfRange = errors.New("derivation index out of range")
)

// hdkeychain hardens indexes at and above 2^31.
const maxIndex = uint32(1) << 31

// Wallet holds the BIP-32 master key for one mnemonic. It is immutable after
// construction and safe for concurrent derivation. Derived private keys are
// produced on demand and never persisted.
type Wallet struct {
	masterKey *hdkeychain.ExtendedKey
}

// New builds a wallet from a BIP-39 English mnemonic with an empty
// passphrase.
func New(mnemonic string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, ErrInvalidMnemonic
	}
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, errors.Wrap(err, "could not derive master key")
	}
	return &Wallet{masterKey: masterKey}, nil
}

// DeriveAddress returns the deposit address at the given index.
func (w *Wallet) DeriveAddress(index uint32) (common.Address, error) {
	priv, err := w.privateKey(index)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(priv.PublicKey), nil
}

// Signer returns a transaction signer bound to the key at the given index.
func (w *Wallet) Signer(index uint32) (*Signer, error) {
	priv, err := w.privateKey(index)
	if err != nil {
		return nil, err
	}
	return &Signer{
		priv:    priv,
		address: crypto.PubkeyToAddress(priv.PublicKey),
	}, nil
}

func (w *Wallet) privateKey(index uint32) (*ecdsa.PrivateKey, error) {
	if index >= maxIndex {
		return nil, ErrIndexOutOfRange
	}
	path := make(accounts.DerivationPath, len(accounts.DefaultBaseDerivationPath))
	copy(path, accounts.DefaultBaseDerivationPath)
	path = append(path, index)

	key := w.masterKey
	var err error
	for _, n := range path {
		key, err = key.Derive(n)
		if err != nil {
			return nil, errors.Wrapf(err, "could not derive child %d", n)
		}
	}
	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, errors.Wrap(err, "could not extract private key")
	}
	return privKey.ToECDSA(), nil
}

// Signer signs transaction envelopes with a single derived key.
type Signer struct {
	priv    *ecdsa.PrivateKey
	address common.Address
}

// Address returns the account address of the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTx signs the transaction for the given chain id. The latest signer is
// used so both legacy and dynamic-fee envelopes are accepted.
func (s *Signer) SignTx(tx *gethTypes.Transaction, chainID *big.Int) (*gethTypes.Transaction, error) {
	return gethTypes.SignTx(tx, gethTypes.LatestSignerForChainID(chainID), s.priv)
}
