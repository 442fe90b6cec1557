// Package node assembles the walletd process: configuration, database,
// chain client, wallet, and the long-running services, supervised through a
// single service registry.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/custodia/walletd/monitoring/prometheus"
	"github.com/custodia/walletd/monitoring/tracing"
	"github.com/custodia/walletd/runtime"
	"github.com/custodia/walletd/walletd/api"
	"github.com/custodia/walletd/walletd/chain"
	"github.com/custodia/walletd/walletd/db"
	"github.com/custodia/walletd/walletd/faucet"
	"github.com/custodia/walletd/walletd/flags"
	"github.com/custodia/walletd/walletd/monitor"
	"github.com/custodia/walletd/walletd/notifier"
	"github.com/custodia/walletd/walletd/registrar"
	"github.com/custodia/walletd/walletd/sweeper"
	"github.com/custodia/walletd/walletd/wallet"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var log = logrus.WithField("prefix", "node")

// WalletNode owns the lifecycle of every walletd service.
type WalletNode struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	lock     sync.RWMutex
	services *runtime.ServiceRegistry
	stop     chan struct{}
	db       db.Database
	client   *chain.RPCClient
}

// New builds the node: validates configuration, opens the database, dials
// the chain endpoint and registers every service in start order.
func New(cliCtx *cli.Context) (*WalletNode, error) {
	if err := tracing.Setup(
		"walletd",
		cliCtx.String(flags.TracingProcessNameFlag.Name),
		cliCtx.String(flags.TracingEndpointFlag.Name),
		cliCtx.Float64(flags.TraceSampleFractionFlag.Name),
		cliCtx.Bool(flags.EnableTracingFlag.Name),
	); err != nil {
		return nil, err
	}

	cfg, err := LoadConfig(cliCtx)
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	node := &WalletNode{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
	}

	database, err := db.NewDB(cfg.DatabasePath)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "could not open database")
	}
	node.db = database
	log.WithField("path", database.DatabasePath()).Info("Opened deposit database")

	client, err := chain.Dial(ctx, cfg.Endpoint)
	if err != nil {
		cancel()
		return nil, err
	}
	node.client = client

	hdWallet, err := wallet.New(cfg.Mnemonic)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "invalid deposit mnemonic")
	}
	gasFaucet, err := faucet.New(client, client.ChainID(), cfg.FaucetMnemonic, cfg.ExistentialDeposit)
	if err != nil {
		cancel()
		return nil, err
	}
	if gasFaucet.Address() != cfg.FaucetAddress {
		log.WithFields(logrus.Fields{
			"configured": cfg.FaucetAddress.Hex(),
			"derived":    gasFaucet.Address().Hex(),
		}).Warn("FAUCET_ADDRESS does not match the faucet mnemonic's index 0 address")
	}
	hooks := notifier.New(cfg.WebhookToken)

	cursor, err := database.GetCursor(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"treasury": cfg.TreasuryAddress.Hex(),
		"faucet":   cfg.FaucetAddress.Hex(),
		"cursor":   cursor,
	}).Info("Starting deposit lifecycle node")

	core := registrar.NewService(ctx, &registrar.Config{
		Database: database,
		Wallet:   hdWallet,
		Client:   client,
		Faucet:   gasFaucet,
		Notifier: hooks,
	})

	if err := node.services.RegisterService(monitor.NewService(ctx, &monitor.Config{
		Database:          database,
		Client:            client,
		Notifier:          hooks,
		FaucetAddress:     cfg.FaucetAddress,
		PollInterval:      cfg.PollInterval,
		BlockOffset:       cfg.BlockOffset,
		GetLogsMaxRetries: cfg.GetLogsMaxRetries,
		GetLogsRetryDelay: cfg.GetLogsRetryDelay,
	})); err != nil {
		cancel()
		return nil, err
	}
	if err := node.services.RegisterService(sweeper.NewService(ctx, &sweeper.Config{
		Database:     database,
		Client:       client,
		Wallet:       hdWallet,
		Faucet:       gasFaucet,
		Notifier:     hooks,
		Treasury:     cfg.TreasuryAddress,
		PollInterval: cfg.PollInterval,
	})); err != nil {
		cancel()
		return nil, err
	}
	if err := node.services.RegisterService(api.NewService(fmt.Sprintf(":%d", cfg.Port), core)); err != nil {
		cancel()
		return nil, err
	}
	if !cliCtx.Bool(flags.DisableMonitoringFlag.Name) {
		addr := fmt.Sprintf("%s:%d",
			cliCtx.String(flags.MonitoringHostFlag.Name),
			cliCtx.Int(flags.MonitoringPortFlag.Name),
		)
		if err := node.services.RegisterService(prometheus.NewService(addr, node.services)); err != nil {
			cancel()
			return nil, err
		}
	}
	return node, nil
}

// Start launches every registered service and blocks until the node is
// asked to shut down.
func (n *WalletNode) Start() {
	n.lock.Lock()
	n.services.StartAll()
	n.lock.Unlock()

	stop := n.stop
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the wallet node")
	}()

	<-stop
}

// Close stops every service in reverse start order and releases the
// database and the chain connection.
func (n *WalletNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping wallet node")
	n.services.StopAll()
	n.cancel()
	if err := n.db.Close(); err != nil {
		log.WithError(err).Error("Could not close database")
	}
	n.client.Close()
	close(n.stop)
}
