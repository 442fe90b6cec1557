// Package registrar implements the account-facing core operations behind
// the admission API: deterministic registration of deposit addresses and
// out-of-band transfer verification.
package registrar

import (
	"context"
	"hash/fnv"
	"math/big"
	"strings"

	"github.com/custodia/walletd/walletd/chain"
	"github.com/custodia/walletd/walletd/db"
	"github.com/custodia/walletd/walletd/notifier"
	"github.com/custodia/walletd/walletd/types"
	"github.com/custodia/walletd/walletd/wallet"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "registrar")

// ChainClient is the endpoint capability set transfer verification needs.
type ChainClient interface {
	chain.TxReader
	chain.ContractCaller
}

// Funder tops up a deposit address with the existential deposit.
type Funder interface {
	Fund(ctx context.Context, to common.Address) (common.Hash, error)
}

// Config options for the registrar.
type Config struct {
	Database db.Database
	Wallet   *wallet.Wallet
	Client   ChainClient
	Faucet   Funder
	Notifier *notifier.Notifier
}

// Service exposes Register and VerifyTransfer to the admission adapter. The
// context passed to NewService bounds the background funding tasks spawned
// by registrations, not individual requests.
type Service struct {
	cfg *Config
	ctx context.Context
}

// NewService builds the registrar.
func NewService(ctx context.Context, cfg *Config) *Service {
	return &Service{cfg: cfg, ctx: ctx}
}

// DerivationIndex maps an opaque registration id to a non-hardened BIP-32
// index: the low 31 bits of a 64-bit FNV-1a hash over the id's UTF-8 bytes.
// The same id always maps to the same index.
func DerivationIndex(registrationID string) uint32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(registrationID))
	return uint32(h.Sum64() & 0x7fffffff)
}

// RegisterResult is the outcome of a registration.
type RegisterResult struct {
	Address string `json:"address"`
	// FundingTx is set only when the response could observe the funding
	// transaction; funding normally completes in the background and is
	// reported through the faucet_funding webhook instead.
	FundingTx string `json:"funding_tx,omitempty"`
}

// Register derives the deposit address for the id and persists the account.
// Re-registering an existing id returns the stored address untouched: the
// address is stable and the first webhook URL stays authoritative. New
// accounts get a fire-and-forget faucet funding whose outcome arrives on
// the webhook as a faucet_funding event.
func (s *Service) Register(ctx context.Context, registrationID, webhookURL string) (*RegisterResult, error) {
	existing, err := s.cfg.Database.LookupByID(ctx, registrationID)
	if err != nil {
		return nil, errors.Wrap(err, "could not look up account")
	}
	if existing != nil {
		log.WithFields(logrus.Fields{
			"account": registrationID,
			"address": existing.Address,
		}).Debug("Account already registered")
		return &RegisterResult{Address: existing.Address}, nil
	}

	index := DerivationIndex(registrationID)
	address, err := s.cfg.Wallet.DeriveAddress(index)
	if err != nil {
		return nil, errors.Wrap(err, "could not derive deposit address")
	}
	acct := &types.Account{
		RegistrationID:  registrationID,
		DerivationIndex: index,
		Address:         address.Hex(),
		WebhookURL:      webhookURL,
	}
	if err := s.cfg.Database.RegisterAccount(ctx, acct); err != nil {
		return nil, errors.Wrap(err, "could not persist account")
	}
	registrations.Inc()
	log.WithFields(logrus.Fields{
		"account": registrationID,
		"index":   index,
		"address": acct.Address,
	}).Info("Registered deposit address")

	go s.fundInBackground(acct)
	return &RegisterResult{Address: acct.Address}, nil
}

// fundInBackground seeds the new address with the existential deposit and
// reports the outcome on the account's webhook. Registration has already
// returned by the time this runs; failures are webhook events, not errors.
func (s *Service) fundInBackground(acct *types.Account) {
	event := &notifier.FaucetFundingEvent{
		Event:          notifier.EventFaucetFunding,
		AccountID:      acct.Address,
		RegistrationID: acct.RegistrationID,
		ID:             acct.RegistrationID + ":funding",
	}
	txHash, err := s.cfg.Faucet.Fund(s.ctx, common.HexToAddress(acct.Address))
	if err != nil {
		log.WithError(err).WithField("account", acct.RegistrationID).Error("Background funding failed")
		event.Error = err.Error()
	} else {
		event.Success = true
		event.TxHash = txHash.Hex()
		fundings.Inc()
	}
	if err := s.cfg.Notifier.Send(s.ctx, acct.WebhookURL, event); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"account": acct.RegistrationID,
			"url":     acct.WebhookURL,
		}).Error("Could not deliver faucet_funding webhook")
	}
}

// Cursor returns the scan cursor for operator inspection.
func (s *Service) Cursor(ctx context.Context) (uint64, error) {
	return s.cfg.Database.GetCursor(ctx)
}

// SetCursor overrides the scan cursor. Operators use this to skip ahead or
// rescan a range; the monitor picks the new value up on its next tick.
func (s *Service) SetCursor(ctx context.Context, blockNumber uint64) error {
	log.WithField("block", blockNumber).Warn("Scan cursor overridden by operator")
	return s.cfg.Database.SetCursor(ctx, blockNumber)
}

// VerifyTransferRequest asks whether a transaction paid at least the given
// amount to the given address.
type VerifyTransferRequest struct {
	TxHash       string `json:"tx_hash"`
	ToAddress    string `json:"to_address"`
	Amount       string `json:"amount"` // base units, decimal string
	TokenType    string `json:"token_type"`
	TokenAddress string `json:"token_address,omitempty"`
	TokenSymbol  string `json:"token_symbol,omitempty"`
}

// VerifyTransferResponse reports the verification outcome. Status is
// "success" or "error"; failed verifications carry a message.
type VerifyTransferResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	ActualTo     string `json:"actual_to,omitempty"`
	ActualAmount string `json:"actual_amount,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	TokenSymbol  string `json:"token_symbol,omitempty"`
	BlockNumber  uint64 `json:"block_number,omitempty"`
}

func verifyError(tokenType, message string) *VerifyTransferResponse {
	return &VerifyTransferResponse{Status: "error", Message: message, TokenType: tokenType}
}

// VerifyTransfer confirms an out-of-band transfer against the chain. The
// response always has HTTP semantics of success: a failed check is an
// "error" status, not a transport error.
func (s *Service) VerifyTransfer(ctx context.Context, req *VerifyTransferRequest) *VerifyTransferResponse {
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return verifyError(req.TokenType, "invalid amount")
	}
	if req.TokenType != types.TokenTypeNative && req.TokenType != types.TokenTypeErc20 {
		return verifyError(req.TokenType, "unknown token_type")
	}

	txHash := common.HexToHash(req.TxHash)
	tx, pending, err := s.cfg.Client.TransactionByHash(ctx, txHash)
	if err != nil {
		return verifyError(req.TokenType, "transaction not found: "+err.Error())
	}
	if pending {
		return verifyError(req.TokenType, "transaction still pending")
	}
	receipt, err := s.cfg.Client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return verifyError(req.TokenType, "receipt not found: "+err.Error())
	}
	blockNumber := receipt.BlockNumber.Uint64()
	if receipt.Status != gethTypes.ReceiptStatusSuccessful {
		resp := verifyError(req.TokenType, "transaction reverted")
		resp.BlockNumber = blockNumber
		return resp
	}

	if req.TokenType == types.TokenTypeNative {
		return s.verifyNative(req, tx, amount, blockNumber)
	}
	return s.verifyErc20(ctx, req, receipt, amount, blockNumber)
}

func (s *Service) verifyNative(req *VerifyTransferRequest, tx *gethTypes.Transaction, amount *big.Int, blockNumber uint64) *VerifyTransferResponse {
	to := tx.To()
	if to == nil || !strings.EqualFold(to.Hex(), req.ToAddress) {
		resp := verifyError(req.TokenType, "transaction recipient mismatch")
		resp.BlockNumber = blockNumber
		return resp
	}
	if tx.Value().Cmp(amount) < 0 {
		resp := verifyError(req.TokenType, "transferred amount below expected")
		resp.BlockNumber = blockNumber
		return resp
	}
	return &VerifyTransferResponse{
		Status:       "success",
		ActualTo:     to.Hex(),
		ActualAmount: tx.Value().String(),
		TokenType:    types.TokenTypeNative,
		BlockNumber:  blockNumber,
	}
}

func (s *Service) verifyErc20(ctx context.Context, req *VerifyTransferRequest, receipt *gethTypes.Receipt, amount *big.Int, blockNumber uint64) *VerifyTransferResponse {
	if req.TokenAddress == "" {
		return verifyError(req.TokenType, "token_address required for erc20 verification")
	}
	token := common.HexToAddress(req.TokenAddress)
	for _, lg := range receipt.Logs {
		if lg.Address != token {
			continue
		}
		_, to, transferred, ok := chain.ParseTransferLog(lg)
		if !ok || !strings.EqualFold(to.Hex(), req.ToAddress) {
			continue
		}
		if transferred.Cmp(amount) < 0 {
			continue
		}
		resp := &VerifyTransferResponse{
			Status:       "success",
			ActualTo:     to.Hex(),
			ActualAmount: transferred.String(),
			TokenType:    types.TokenTypeErc20,
			BlockNumber:  blockNumber,
		}
		if req.TokenSymbol != "" {
			md, err := chain.FetchTokenMetadata(ctx, s.cfg.Client, token)
			if err != nil {
				resp := verifyError(req.TokenType, "could not read token symbol: "+err.Error())
				resp.BlockNumber = blockNumber
				return resp
			}
			if !strings.EqualFold(md.Symbol, req.TokenSymbol) {
				resp := verifyError(req.TokenType, "token symbol mismatch: contract reports "+md.Symbol)
				resp.BlockNumber = blockNumber
				return resp
			}
			resp.TokenSymbol = md.Symbol
		}
		return resp
	}
	resp := verifyError(req.TokenType, "no matching transfer log in receipt")
	resp.BlockNumber = blockNumber
	return resp
}
