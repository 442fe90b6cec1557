// Package sweeper forwards detected deposits to the treasury. It consumes
// the rows the monitor records, signs a forwarding transaction with the
// deposit address's own key, tops the address up through the faucet when gas
// is missing, and transitions each row detected -> swept exactly once.
package sweeper

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/custodia/walletd/walletd/chain"
	"github.com/custodia/walletd/walletd/db"
	"github.com/custodia/walletd/walletd/notifier"
	"github.com/custodia/walletd/walletd/types"
	"github.com/custodia/walletd/walletd/wallet"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "sweeper")

const (
	// nativeSweepGasLimit is the fixed cost of a plain value transfer.
	nativeSweepGasLimit = 21000
	// defaultSettleDelay is how long a freshly funded address gets before
	// its balance is re-read.
	defaultSettleDelay = 2 * time.Second
)

// ChainClient is the endpoint capability set the sweeper needs.
type ChainClient interface {
	chain.BalanceReader
	chain.NonceReader
	chain.FeeEstimator
	chain.GasEstimator
	chain.ContractCaller
	chain.TxSender
	chain.ReceiptWaiter
	ChainID() *big.Int
}

// Funder tops up a deposit address with the existential deposit.
type Funder interface {
	Fund(ctx context.Context, to common.Address) (common.Hash, error)
}

// Config options for the sweep service.
type Config struct {
	Database     db.Database
	Client       ChainClient
	Wallet       *wallet.Wallet
	Faucet       Funder
	Notifier     *notifier.Notifier
	Treasury     common.Address
	PollInterval time.Duration
	// SettleDelay overrides the pause after a faucet top-up; zero means
	// the default.
	SettleDelay time.Duration
}

// Service drains detected deposits on a fixed interval. A failure in one
// deposit never halts the loop; the row stays detected and is retried on
// the next tick.
type Service struct {
	cfg      *Config
	ctx      context.Context
	cancel   context.CancelFunc
	settle   time.Duration
	runError error
}

// NewService sets up the sweeper. Sweeping does not start until Start.
func NewService(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	settle := cfg.SettleDelay
	if settle == 0 {
		settle = defaultSettleDelay
	}
	return &Service{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		settle: settle,
	}
}

// Start launches the sweep loop.
func (s *Service) Start() {
	log.WithFields(logrus.Fields{
		"treasury":     s.cfg.Treasury.Hex(),
		"pollInterval": s.cfg.PollInterval,
	}).Info("Starting sweeper")
	go s.run()
}

// Stop halts the sweep loop. A sweep interrupted between receipt and the
// swept mark is retried on restart; the retry observes the moved balance
// and settles the row without a second submission.
func (s *Service) Stop() error {
	defer s.cancel()
	log.Info("Stopping sweeper")
	return nil
}

// Status returns the error from the last sweep iteration, if any.
func (s *Service) Status() error {
	return s.runError
}

func (s *Service) run() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		s.sweepOnce(s.ctx)
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweepOnce processes every detected deposit, isolating failures per row.
func (s *Service) sweepOnce(ctx context.Context) {
	native, err := s.cfg.Database.ListDetectedNative(ctx)
	if err != nil {
		s.runError = err
		log.WithError(err).Error("Could not list detected native deposits")
		return
	}
	for _, dep := range native {
		if ctx.Err() != nil {
			return
		}
		if err := s.sweepNative(ctx, dep); err != nil {
			sweepErrors.Inc()
			log.WithError(err).WithField("tx", dep.TxHash).Error("Native sweep failed, will retry")
		}
	}

	tokens, err := s.cfg.Database.ListDetectedErc20(ctx)
	if err != nil {
		s.runError = err
		log.WithError(err).Error("Could not list detected token deposits")
		return
	}
	for _, dep := range tokens {
		if ctx.Err() != nil {
			return
		}
		if err := s.sweepErc20(ctx, dep); err != nil {
			sweepErrors.Inc()
			log.WithError(err).WithField("deposit", dep.Key()).Error("Token sweep failed, will retry")
		}
	}
	s.runError = nil
}

func (s *Service) sweepNative(ctx context.Context, dep *types.NativeDeposit) error {
	acct, signer, err := s.resolveAccount(ctx, dep.RegistrationID)
	if err != nil {
		return err
	}
	from := signer.Address()

	balance, err := s.cfg.Client.BalanceAt(ctx, from)
	if err != nil {
		return errors.Wrap(err, "could not read deposit balance")
	}
	if balance.Sign() == 0 {
		// Funds already moved, most likely a sweep that crashed between
		// receipt and the swept mark. Settle the row without a webhook.
		log.WithField("tx", dep.TxHash).Info("Deposit balance already empty, marking swept")
		return s.cfg.Database.MarkNativeSwept(ctx, dep.TxHash)
	}

	fees, err := s.cfg.Client.EstimateFees(ctx)
	if err != nil {
		return errors.Wrap(err, "could not estimate fees")
	}
	gasCost := new(big.Int).Mul(big.NewInt(nativeSweepGasLimit), fees.MaxFeePerGas)
	buffer := addTenPercent(gasCost)

	if balance.Cmp(buffer) <= 0 {
		balance, err = s.ensureGas(ctx, from, buffer)
		if err != nil {
			return err
		}
	}

	value := new(big.Int).Sub(balance, buffer)
	nonce, err := s.cfg.Client.PendingNonceAt(ctx, from)
	if err != nil {
		return errors.Wrap(err, "could not fetch nonce")
	}
	tx := gethTypes.NewTx(&gethTypes.DynamicFeeTx{
		ChainID:   s.cfg.Client.ChainID(),
		Nonce:     nonce,
		GasTipCap: fees.MaxPriorityFeePerGas,
		GasFeeCap: fees.MaxFeePerGas,
		Gas:       nativeSweepGasLimit,
		To:        &s.cfg.Treasury,
		Value:     value,
	})
	if err := s.submit(ctx, signer, tx); err != nil {
		return err
	}
	if err := s.cfg.Database.MarkNativeSwept(ctx, dep.TxHash); err != nil {
		return errors.Wrap(err, "could not mark deposit swept")
	}
	nativeSwept.Inc()
	log.WithFields(logrus.Fields{
		"tx":        dep.TxHash,
		"account":   dep.RegistrationID,
		"forwarded": value.String(),
	}).Info("Native deposit swept")
	// The webhook reports the recorded deposit amount; the forwarded value
	// is smaller by the gas buffer.
	s.emitSwept(ctx, acct, &notifier.DepositSweptEvent{
		ID:             dep.TxHash,
		Event:          notifier.EventDepositSwept,
		AccountID:      acct.Address,
		RegistrationID: acct.RegistrationID,
		OriginalTxHash: dep.TxHash,
		Amount:         dep.Amount,
		TokenType:      types.TokenTypeNative,
	})
	return nil
}

func (s *Service) sweepErc20(ctx context.Context, dep *types.Erc20Deposit) error {
	key := dep.Key()
	acct, signer, err := s.resolveAccount(ctx, dep.RegistrationID)
	if err != nil {
		return err
	}
	from := signer.Address()

	if dep.TokenSymbol == types.UnknownTokenSymbol {
		// The token contract never answered symbol(); without an identity
		// the transfer cannot be classified, so the row is settled as-is.
		log.WithField("deposit", key).Warn("Unclassified token, marking swept without transfer")
		return s.cfg.Database.MarkErc20Swept(ctx, key)
	}

	token := common.HexToAddress(dep.TokenAddress)
	tokenBalance, err := chain.TokenBalance(ctx, s.cfg.Client, token, from)
	if err != nil {
		return errors.Wrap(err, "could not read token balance")
	}
	if tokenBalance.Sign() == 0 {
		log.WithField("deposit", key).Info("Token balance already empty, marking swept")
		return s.cfg.Database.MarkErc20Swept(ctx, key)
	}

	calldata, err := chain.TransferCalldata(s.cfg.Treasury, tokenBalance)
	if err != nil {
		return errors.Wrap(err, "could not encode transfer")
	}
	gasLimit, err := s.cfg.Client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &token,
		Data: calldata,
	})
	if err != nil {
		return errors.Wrap(err, "could not estimate gas")
	}
	gasLimit += gasLimit / 10
	fees, err := s.cfg.Client.EstimateFees(ctx)
	if err != nil {
		return errors.Wrap(err, "could not estimate fees")
	}
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), fees.MaxFeePerGas)
	required := addTenPercent(gasCost)

	nativeBalance, err := s.cfg.Client.BalanceAt(ctx, from)
	if err != nil {
		return errors.Wrap(err, "could not read deposit balance")
	}
	if nativeBalance.Cmp(required) < 0 {
		if _, err := s.ensureGas(ctx, from, required); err != nil {
			return err
		}
	}

	nonce, err := s.cfg.Client.PendingNonceAt(ctx, from)
	if err != nil {
		return errors.Wrap(err, "could not fetch nonce")
	}
	tx := gethTypes.NewTx(&gethTypes.DynamicFeeTx{
		ChainID:   s.cfg.Client.ChainID(),
		Nonce:     nonce,
		GasTipCap: fees.MaxPriorityFeePerGas,
		GasFeeCap: fees.MaxFeePerGas,
		Gas:       gasLimit,
		To:        &token,
		Data:      calldata,
	})
	if err := s.submit(ctx, signer, tx); err != nil {
		return err
	}
	if err := s.cfg.Database.MarkErc20Swept(ctx, key); err != nil {
		return errors.Wrap(err, "could not mark deposit swept")
	}
	erc20Swept.Inc()
	log.WithFields(logrus.Fields{
		"deposit":   key,
		"account":   dep.RegistrationID,
		"forwarded": tokenBalance.String(),
		"token":     dep.TokenSymbol,
	}).Info("Token deposit swept")

	// The webhook reports the recorded deposit amount; the transaction
	// forwards the full live balance, which can differ.
	event := &notifier.DepositSweptEvent{
		ID:             key,
		Event:          notifier.EventDepositSwept,
		AccountID:      acct.Address,
		RegistrationID: acct.RegistrationID,
		OriginalTxHash: key,
		Amount:         dep.Amount,
		TokenType:      types.TokenTypeErc20,
		TokenSymbol:    dep.TokenSymbol,
		TokenAddress:   dep.TokenAddress,
	}
	md, err := s.cfg.Database.GetTokenMetadata(ctx, strings.ToLower(dep.TokenAddress))
	if err != nil {
		log.WithError(err).WithField("token", dep.TokenAddress).Error("Could not read token metadata")
	}
	if md != nil {
		decimals := md.Decimals
		event.TokenDecimals = &decimals
	}
	s.emitSwept(ctx, acct, event)
	return nil
}

// resolveAccount loads the account row and derives the signing key for its
// deposit address.
func (s *Service) resolveAccount(ctx context.Context, regID string) (*types.Account, *wallet.Signer, error) {
	acct, err := s.cfg.Database.LookupByID(ctx, regID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not load account")
	}
	if acct == nil {
		return nil, nil, errors.Errorf("no account registered for %s", regID)
	}
	signer, err := s.cfg.Wallet.Signer(acct.DerivationIndex)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not derive signer")
	}
	return acct, signer, nil
}

// ensureGas requests a faucet top-up, waits for the balance to settle and
// re-reads it. The sweep fails if the address still cannot cover the
// required gas; the deposit is retried on the next tick.
func (s *Service) ensureGas(ctx context.Context, addr common.Address, required *big.Int) (*big.Int, error) {
	log.WithFields(logrus.Fields{
		"address":  addr.Hex(),
		"required": required.String(),
	}).Info("Requesting faucet top-up for sweep gas")
	if _, err := s.cfg.Faucet.Fund(ctx, addr); err != nil {
		return nil, errors.Wrap(err, "faucet top-up failed")
	}
	faucetTopUps.Inc()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.settle):
	}
	balance, err := s.cfg.Client.BalanceAt(ctx, addr)
	if err != nil {
		return nil, errors.Wrap(err, "could not re-read balance")
	}
	if balance.Cmp(required) <= 0 {
		return nil, errors.Errorf("balance %s still below required gas %s after top-up", balance, required)
	}
	return balance, nil
}

// submit signs the transaction, sends it and waits for a successful receipt.
func (s *Service) submit(ctx context.Context, signer *wallet.Signer, tx *gethTypes.Transaction) error {
	signed, err := signer.SignTx(tx, s.cfg.Client.ChainID())
	if err != nil {
		return errors.Wrap(err, "could not sign sweep tx")
	}
	if err := s.cfg.Client.SendTransaction(ctx, signed); err != nil {
		return errors.Wrap(err, "could not submit sweep tx")
	}
	log.WithField("txHash", signed.Hash().Hex()).Debug("Submitted sweep transaction")
	receipt, err := s.cfg.Client.WaitMined(ctx, signed)
	if err != nil {
		return errors.Wrap(err, "sweep tx not mined")
	}
	if receipt.Status != gethTypes.ReceiptStatusSuccessful {
		return errors.Errorf("sweep tx %s reverted", signed.Hash().Hex())
	}
	return nil
}

func (s *Service) emitSwept(ctx context.Context, acct *types.Account, event *notifier.DepositSweptEvent) {
	if acct.WebhookURL == "" {
		log.WithField("account", acct.RegistrationID).Warn("No webhook URL for account")
		return
	}
	if err := s.cfg.Notifier.Send(ctx, acct.WebhookURL, event); err != nil {
		webhookFailures.Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"account": acct.RegistrationID,
			"url":     acct.WebhookURL,
		}).Error("Could not deliver deposit_swept webhook")
	}
}

// addTenPercent returns v * 1.1 rounded down.
func addTenPercent(v *big.Int) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(11))
	return out.Div(out, big.NewInt(10))
}
