// Package monitor advances the scan cursor through confirmed blocks and
// records native and ERC-20 deposits to registered addresses. Detection is
// at-least-once per block and deduplicated by deposit key, so the cursor can
// safely re-process a block after a crash.
package monitor

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/custodia/walletd/walletd/chain"
	"github.com/custodia/walletd/walletd/db"
	"github.com/custodia/walletd/walletd/notifier"
	"github.com/custodia/walletd/walletd/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "monitor")

const (
	// scanBatchSize caps the blocks processed per iteration so a long
	// backlog never monopolizes the provider.
	scanBatchSize = 10
	// reconnectDelay is the pause before redialing a dropped head stream.
	reconnectDelay = 5 * time.Second
	// tokenMetadataTTL bounds the in-process metadata cache; expired
	// entries fall back to the persistent bucket.
	tokenMetadataTTL = 10 * time.Minute
)

// ChainClient is the endpoint capability set the monitor needs.
type ChainClient interface {
	chain.HeadReader
	chain.BlockFetcher
	chain.LogFilterer
	chain.ContractCaller
	chain.HeadSubscriber
	ChainID() *big.Int
}

// Config options for the deposit monitor.
type Config struct {
	Database          db.Database
	Client            ChainClient
	Notifier          *notifier.Notifier
	FaucetAddress     common.Address
	PollInterval      time.Duration
	BlockOffset       uint64
	GetLogsMaxRetries int
	GetLogsRetryDelay time.Duration
}

// Service scans confirmed blocks for deposits to registered addresses.
type Service struct {
	cfg      *Config
	ctx      context.Context
	cancel   context.CancelFunc
	logs     chain.LogFilterer
	signer   gethTypes.Signer
	metadata *cache.Cache
	runError error
}

// NewService sets up the monitor. The scan does not start until Start.
func NewService(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		logs: &chain.RetryingLogFilterer{
			Inner:      cfg.Client,
			MaxRetries: cfg.GetLogsMaxRetries,
			Delay:      cfg.GetLogsRetryDelay,
		},
		signer:   gethTypes.LatestSignerForChainID(cfg.Client.ChainID()),
		metadata: cache.New(tokenMetadataTTL, 2*tokenMetadataTTL),
	}
}

// Start launches the scan loop. Streaming is used when the endpoint supports
// head subscriptions, polling otherwise.
func (s *Service) Start() {
	fields := logrus.Fields{
		"blockOffset": s.cfg.BlockOffset,
		"batchSize":   scanBatchSize,
	}
	if s.cfg.Client.SupportsSubscriptions() {
		log.WithFields(fields).Info("Starting deposit monitor in streaming mode")
		go s.subscribeLoop()
		return
	}
	log.WithFields(fields).Info("Starting deposit monitor in polling mode")
	go s.pollLoop()
}

// Stop halts the scan loop. In-flight block processing is abandoned; the
// cursor guarantees the interrupted block is re-scanned on restart.
func (s *Service) Stop() error {
	defer s.cancel()
	log.Info("Stopping deposit monitor")
	return nil
}

// Status returns the error from the last scan iteration, if any.
func (s *Service) Status() error {
	return s.runError
}

// pollLoop drains the backlog at full speed and sleeps only once the cursor
// has reached the confirmed head, or after a failed iteration.
func (s *Service) pollLoop() {
	for {
		if s.ctx.Err() != nil {
			return
		}
		caughtUp, err := s.scanBatch(s.ctx)
		if err == nil && !caughtUp {
			continue
		}
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// subscribeLoop catches up to the confirmed head, then rescans on every new
// header. A dropped stream is redialed after reconnectDelay; the polling
// catch-up covers whatever arrived in between.
func (s *Service) subscribeLoop() {
	for {
		if s.ctx.Err() != nil {
			return
		}
		s.drainBacklog()
		if err := s.streamHeads(); err != nil {
			s.runError = err
			log.WithError(err).Errorf("Head stream lost, reconnecting in %s", reconnectDelay)
		}
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Service) streamHeads() error {
	headers := make(chan *gethTypes.Header, 16)
	sub, err := s.cfg.Client.SubscribeNewHead(s.ctx, headers)
	if err != nil {
		return errors.Wrap(err, "could not subscribe to chain heads")
	}
	defer sub.Unsubscribe()
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-sub.Err():
			return errors.Wrap(err, "head subscription failed")
		case header := <-headers:
			if header.Number != nil {
				log.WithField("block", header.Number.Uint64()).Debug("New chain head")
			}
			s.drainBacklog()
		}
	}
}

func (s *Service) drainBacklog() {
	for s.ctx.Err() == nil {
		caughtUp, err := s.scanBatch(s.ctx)
		if err != nil || caughtUp {
			return
		}
	}
}

// scanBatch runs one iteration of the cursor state machine: anchor on cold
// start, otherwise process up to scanBatchSize blocks in (cursor, safe] and
// commit the cursor after each one. It reports whether the cursor has caught
// up with the confirmed head.
func (s *Service) scanBatch(ctx context.Context) (bool, error) {
	caughtUp, err := s.scanOnce(ctx)
	if err != nil {
		s.runError = err
		scanErrors.Inc()
		log.WithError(err).Error("Deposit scan failed")
		return false, err
	}
	s.runError = nil
	return caughtUp, nil
}

func (s *Service) scanOnce(ctx context.Context) (bool, error) {
	tip, err := s.cfg.Client.BlockNumber(ctx)
	if err != nil {
		return false, errors.Wrap(err, "could not fetch chain head")
	}
	var safe uint64
	if tip > s.cfg.BlockOffset {
		safe = tip - s.cfg.BlockOffset
	}
	cursor, err := s.cfg.Database.GetCursor(ctx)
	if err != nil {
		return false, err
	}
	if cursor == 0 {
		// Cold start: anchor at the confirmed head, no historical backfill.
		log.WithField("block", safe).Info("Anchoring scan cursor")
		if err := s.cfg.Database.SetCursor(ctx, safe); err != nil {
			return false, err
		}
		cursorHeight.Set(float64(safe))
		return true, nil
	}
	if cursor >= safe {
		return true, nil
	}
	to := cursor + scanBatchSize
	if to > safe {
		to = safe
	}
	for b := cursor + 1; b <= to; b++ {
		if err := s.processBlock(ctx, b); err != nil {
			return false, errors.Wrapf(err, "could not process block %d", b)
		}
		if err := s.cfg.Database.SetCursor(ctx, b); err != nil {
			return false, errors.Wrapf(err, "could not advance cursor past block %d", b)
		}
		blocksScanned.Inc()
		cursorHeight.Set(float64(b))
	}
	return to >= safe, nil
}

// processBlock records every deposit in the block. The caller commits the
// cursor only after this returns nil, so any error re-scans the whole block.
func (s *Service) processBlock(ctx context.Context, number uint64) error {
	block, err := s.cfg.Client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return errors.Wrap(err, "could not fetch block")
	}
	if err := s.scanNativeTransfers(ctx, block); err != nil {
		return err
	}
	return s.scanTokenTransfers(ctx, number)
}

func (s *Service) scanNativeTransfers(ctx context.Context, block *gethTypes.Block) error {
	for _, tx := range block.Transactions() {
		to := tx.To()
		if to == nil {
			continue
		}
		regID, err := s.cfg.Database.LookupByAddress(ctx, to.Hex())
		if err != nil {
			return err
		}
		if regID == "" {
			continue
		}
		from, err := gethTypes.Sender(s.signer, tx)
		if err != nil {
			log.WithError(err).WithField("tx", tx.Hash().Hex()).Warn("Could not recover transaction sender, skipping")
			continue
		}
		if from == s.cfg.FaucetAddress {
			log.WithFields(logrus.Fields{
				"tx":      tx.Hash().Hex(),
				"account": regID,
			}).Debug("Skipping gas top-up from faucet")
			continue
		}
		dep := &types.NativeDeposit{
			TxHash:         tx.Hash().Hex(),
			RegistrationID: regID,
			Amount:         tx.Value().String(),
			Status:         types.StatusDetected,
		}
		inserted, err := s.cfg.Database.RecordNativeDeposit(ctx, dep)
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}
		nativeDetected.Inc()
		log.WithFields(logrus.Fields{
			"tx":      dep.TxHash,
			"account": regID,
			"amount":  dep.Amount,
		}).Info("Native deposit detected")
		s.emitDetected(ctx, regID, &notifier.DepositDetectedEvent{
			Event:     notifier.EventDepositDetected,
			AccountID: regID,
			TxHash:    dep.TxHash,
			Amount:    dep.Amount,
			TokenType: types.TokenTypeNative,
		})
	}
	return nil
}

func (s *Service) scanTokenTransfers(ctx context.Context, number uint64) error {
	blk := new(big.Int).SetUint64(number)
	logs, err := s.logs.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: blk,
		ToBlock:   blk,
		Topics:    [][]common.Hash{{chain.TransferTopic}},
	})
	if err != nil {
		return err
	}
	for i := range logs {
		lg := &logs[i]
		from, to, amount, ok := chain.ParseTransferLog(lg)
		if !ok {
			continue
		}
		if from == s.cfg.FaucetAddress {
			continue
		}
		regID, err := s.cfg.Database.LookupByAddress(ctx, to.Hex())
		if err != nil {
			return err
		}
		if regID == "" {
			continue
		}
		md := s.tokenMetadata(ctx, lg.Address)
		dep := &types.Erc20Deposit{
			TxHash:         lg.TxHash.Hex(),
			LogIndex:       lg.Index,
			RegistrationID: regID,
			Amount:         amount.String(),
			TokenAddress:   lg.Address.Hex(),
			TokenSymbol:    md.Symbol,
			Status:         types.StatusDetected,
		}
		inserted, err := s.cfg.Database.RecordErc20Deposit(ctx, dep)
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}
		erc20Detected.Inc()
		log.WithFields(logrus.Fields{
			"tx":      dep.TxHash,
			"account": regID,
			"amount":  dep.Amount,
			"token":   dep.TokenSymbol,
		}).Info("Token deposit detected")
		s.emitDetected(ctx, regID, &notifier.DepositDetectedEvent{
			Event:        notifier.EventDepositDetected,
			AccountID:    regID,
			TxHash:       dep.TxHash,
			Amount:       dep.Amount,
			TokenType:    types.TokenTypeErc20,
			TokenSymbol:  dep.TokenSymbol,
			TokenAddress: dep.TokenAddress,
		})
	}
	return nil
}

// tokenMetadata resolves a token's identity through three tiers: the
// in-process TTL cache, the persistent metadata bucket, and the contract
// itself. A failed contract read degrades to an UNKNOWN placeholder that is
// never cached, so the next sighting of the token retries.
func (s *Service) tokenMetadata(ctx context.Context, token common.Address) *types.TokenMetadata {
	key := strings.ToLower(token.Hex())
	if v, ok := s.metadata.Get(key); ok {
		return v.(*types.TokenMetadata)
	}
	md, err := s.cfg.Database.GetTokenMetadata(ctx, key)
	if err != nil {
		log.WithError(err).WithField("token", key).Error("Could not read token metadata")
	}
	if md != nil {
		s.metadata.Set(key, md, cache.DefaultExpiration)
		return md
	}
	md, err = chain.FetchTokenMetadata(ctx, s.cfg.Client, token)
	if err != nil {
		log.WithError(err).WithField("token", key).Warn("Could not fetch token metadata")
		return &types.TokenMetadata{
			Symbol:   types.UnknownTokenSymbol,
			Decimals: 18,
			Name:     "Unknown Token",
		}
	}
	if err := s.cfg.Database.PutTokenMetadata(ctx, key, md); err != nil {
		log.WithError(err).WithField("token", key).Error("Could not persist token metadata")
	}
	s.metadata.Set(key, md, cache.DefaultExpiration)
	return md
}

func (s *Service) emitDetected(ctx context.Context, regID string, event *notifier.DepositDetectedEvent) {
	acct, err := s.cfg.Database.LookupByID(ctx, regID)
	if err != nil {
		log.WithError(err).WithField("account", regID).Error("Could not load account for webhook")
		return
	}
	if acct == nil || acct.WebhookURL == "" {
		log.WithField("account", regID).Warn("No webhook URL for account")
		return
	}
	if err := s.cfg.Notifier.Send(ctx, acct.WebhookURL, event); err != nil {
		webhookFailures.Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"account": regID,
			"url":     acct.WebhookURL,
		}).Error("Could not deliver deposit_detected webhook")
	}
}
