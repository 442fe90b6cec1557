// Package flags defines the command line flags of the walletd binary. Every
// option is also bound to an environment variable so deployments can stay
// flag-free.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// VerbosityFlag defines the logrus logging level.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}
	// LogFormatFlag specifies the log output encoding.
	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json, fluentd.",
		Value: "text",
	}
	// DatabasePathFlag is the path of the bolt database file.
	DatabasePathFlag = &cli.StringFlag{
		Name:    "db-path",
		Usage:   "Path of the deposit database file",
		EnvVars: []string{"DATABASE_URL"},
		Value:   "wallet.db",
	}
	// RPCURLFlag is the HTTP JSON-RPC endpoint of the chain provider.
	RPCURLFlag = &cli.StringFlag{
		Name:    "rpc-url",
		Usage:   "HTTP JSON-RPC endpoint of the chain provider",
		EnvVars: []string{"RPC_URL"},
	}
	// WSURLFlag is the websocket JSON-RPC endpoint; preferred over the
	// HTTP endpoint when both are set.
	WSURLFlag = &cli.StringFlag{
		Name:    "ws-url",
		Usage:   "Websocket JSON-RPC endpoint of the chain provider, preferred over --rpc-url",
		EnvVars: []string{"WS_URL"},
	}
	// MnemonicFlag is the BIP-39 phrase deposit addresses derive from.
	MnemonicFlag = &cli.StringFlag{
		Name:    "mnemonic",
		Usage:   "BIP-39 mnemonic for deposit address derivation",
		EnvVars: []string{"MNEMONIC"},
	}
	// TreasuryAddressFlag is where swept funds are forwarded.
	TreasuryAddressFlag = &cli.StringFlag{
		Name:    "treasury-address",
		Usage:   "Address receiving all swept funds",
		EnvVars: []string{"TREASURY_ADDRESS"},
	}
	// FaucetMnemonicFlag is the BIP-39 phrase of the gas faucet account.
	FaucetMnemonicFlag = &cli.StringFlag{
		Name:    "faucet-mnemonic",
		Usage:   "BIP-39 mnemonic of the faucet account (index 0 signs fundings)",
		EnvVars: []string{"FAUCET_MNEMONIC"},
	}
	// FaucetAddressFlag is the faucet account address; transfers from it
	// are not recorded as deposits.
	FaucetAddressFlag = &cli.StringFlag{
		Name:    "faucet-address",
		Usage:   "Address of the faucet account, excluded from deposit detection",
		EnvVars: []string{"FAUCET_ADDRESS"},
	}
	// ExistentialDepositFlag is the wei amount seeded into new addresses.
	ExistentialDepositFlag = &cli.StringFlag{
		Name:    "existential-deposit",
		Usage:   "Wei sent to each new deposit address so it can pay sweep gas",
		EnvVars: []string{"EXISTENTIAL_DEPOSIT"},
		Value:   "10000000000000000",
	}
	// PortFlag is the admission API listen port.
	PortFlag = &cli.IntFlag{
		Name:    "port",
		Usage:   "Port of the admission HTTP API",
		EnvVars: []string{"PORT"},
		Value:   3000,
	}
	// PollIntervalFlag is the monitor and sweeper tick in seconds.
	PollIntervalFlag = &cli.IntFlag{
		Name:    "poll-interval",
		Usage:   "Seconds between scan and sweep iterations",
		EnvVars: []string{"POLL_INTERVAL"},
		Value:   10,
	}
	// BlockOffsetFlag is the confirmation depth behind the chain head.
	BlockOffsetFlag = &cli.Uint64Flag{
		Name:    "block-offset-from-head",
		Usage:   "Only blocks at least this far behind the head are scanned",
		EnvVars: []string{"BLOCK_OFFSET_FROM_HEAD"},
		Value:   20,
	}
	// WebhookTokenFlag is the optional bearer token attached to webhooks.
	WebhookTokenFlag = &cli.StringFlag{
		Name:    "webhook-jwt-token",
		Usage:   "Bearer token attached to outgoing webhook requests",
		EnvVars: []string{"WEBHOOK_JWT_TOKEN"},
	}
	// GetLogsMaxRetriesFlag bounds immediate retries of eth_getLogs.
	GetLogsMaxRetriesFlag = &cli.IntFlag{
		Name:    "get-logs-max-retries",
		Usage:   "Immediate retries of a failed eth_getLogs before the block is abandoned to the next tick",
		EnvVars: []string{"GET_LOGS_MAX_RETRIES"},
		Value:   30,
	}
	// GetLogsDelayFlag is the pause between eth_getLogs retries.
	GetLogsDelayFlag = &cli.IntFlag{
		Name:    "get-logs-delay-ms",
		Usage:   "Milliseconds between eth_getLogs retries",
		EnvVars: []string{"GET_LOGS_DELAY_MS"},
		Value:   50,
	}
	// MonitoringHostFlag is the host of the metrics server.
	MonitoringHostFlag = &cli.StringFlag{
		Name:  "monitoring-host",
		Usage: "Host used for the prometheus metrics endpoint",
		Value: "127.0.0.1",
	}
	// MonitoringPortFlag is the port of the metrics server.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port used for the prometheus metrics endpoint",
		Value: 8080,
	}
	// DisableMonitoringFlag turns the metrics server off.
	DisableMonitoringFlag = &cli.BoolFlag{
		Name:  "disable-monitoring",
		Usage: "Disable the prometheus metrics service",
	}
	// EnableTracingFlag turns on request tracing.
	EnableTracingFlag = &cli.BoolFlag{
		Name:  "enable-tracing",
		Usage: "Enable request tracing",
	}
	// TracingProcessNameFlag names the process in traces.
	TracingProcessNameFlag = &cli.StringFlag{
		Name:  "tracing-process-name",
		Usage: "The name to apply to tracing tag \"process_name\"",
	}
	// TracingEndpointFlag is the Jaeger collector endpoint.
	TracingEndpointFlag = &cli.StringFlag{
		Name:  "tracing-endpoint",
		Usage: "Tracing endpoint defines where traces are exposed to Jaeger",
		Value: "http://127.0.0.1:14268/api/traces",
	}
	// TraceSampleFractionFlag sets the sampled fraction of traces.
	TraceSampleFractionFlag = &cli.Float64Flag{
		Name:  "trace-sample-fraction",
		Usage: "Fraction of operations sampled for tracing",
		Value: 0.20,
	}
)
