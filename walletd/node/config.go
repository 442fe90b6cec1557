package node

import (
	"math/big"
	"time"

	"github.com/custodia/walletd/walletd/flags"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// Config is the validated runtime configuration of the node. It is built
// once at startup and never mutated.
type Config struct {
	DatabasePath       string
	Endpoint           string
	Mnemonic           string
	TreasuryAddress    common.Address
	FaucetMnemonic     string
	FaucetAddress      common.Address
	ExistentialDeposit *big.Int
	Port               int
	PollInterval       time.Duration
	BlockOffset        uint64
	WebhookToken       string
	GetLogsMaxRetries  int
	GetLogsRetryDelay  time.Duration
}

// LoadConfig reads and validates the configuration from flags and their
// bound environment variables. Every violation is fatal at startup.
func LoadConfig(cliCtx *cli.Context) (*Config, error) {
	rpcURL := cliCtx.String(flags.RPCURLFlag.Name)
	wsURL := cliCtx.String(flags.WSURLFlag.Name)
	if rpcURL == "" && wsURL == "" {
		return nil, errors.New("one of RPC_URL or WS_URL is required")
	}
	// The websocket endpoint wins when both are configured: it enables
	// head subscriptions instead of polling.
	endpoint := wsURL
	if endpoint == "" {
		endpoint = rpcURL
	}

	mnemonic := cliCtx.String(flags.MnemonicFlag.Name)
	if mnemonic == "" {
		return nil, errors.New("MNEMONIC is required")
	}
	faucetMnemonic := cliCtx.String(flags.FaucetMnemonicFlag.Name)
	if faucetMnemonic == "" {
		return nil, errors.New("FAUCET_MNEMONIC is required")
	}

	treasury := cliCtx.String(flags.TreasuryAddressFlag.Name)
	if !common.IsHexAddress(treasury) {
		return nil, errors.Errorf("TREASURY_ADDRESS %q is not a valid address", treasury)
	}
	faucetAddr := cliCtx.String(flags.FaucetAddressFlag.Name)
	if !common.IsHexAddress(faucetAddr) {
		return nil, errors.Errorf("FAUCET_ADDRESS %q is not a valid address", faucetAddr)
	}

	deposit, ok := new(big.Int).SetString(cliCtx.String(flags.ExistentialDepositFlag.Name), 10)
	if !ok || deposit.Sign() <= 0 {
		return nil, errors.New("EXISTENTIAL_DEPOSIT must be a positive decimal wei amount")
	}

	pollInterval := cliCtx.Int(flags.PollIntervalFlag.Name)
	if pollInterval <= 0 {
		return nil, errors.New("POLL_INTERVAL must be positive")
	}

	return &Config{
		DatabasePath:       cliCtx.String(flags.DatabasePathFlag.Name),
		Endpoint:           endpoint,
		Mnemonic:           mnemonic,
		TreasuryAddress:    common.HexToAddress(treasury),
		FaucetMnemonic:     faucetMnemonic,
		FaucetAddress:      common.HexToAddress(faucetAddr),
		ExistentialDeposit: deposit,
		Port:               cliCtx.Int(flags.PortFlag.Name),
		PollInterval:       time.Duration(pollInterval) * time.Second,
		BlockOffset:        cliCtx.Uint64(flags.BlockOffsetFlag.Name),
		WebhookToken:       cliCtx.String(flags.WebhookTokenFlag.Name),
		GetLogsMaxRetries:  cliCtx.Int(flags.GetLogsMaxRetriesFlag.Name),
		GetLogsRetryDelay:  time.Duration(cliCtx.Int(flags.GetLogsDelayFlag.Name)) * time.Millisecond,
	}, nil
}
