// Package main defines the walletd daemon: a custodial deposit-address
// aggregator that derives an address per account, watches the chain for
// native and ERC-20 deposits, sweeps received funds to a treasury and
// notifies account webhooks.
package main

import (
	"fmt"
	"os"
	goruntime "runtime"

	"github.com/custodia/walletd/monitoring/prometheus"
	"github.com/custodia/walletd/runtime/version"
	"github.com/custodia/walletd/walletd/flags"
	"github.com/custodia/walletd/walletd/node"
	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	flags.DatabasePathFlag,
	flags.RPCURLFlag,
	flags.WSURLFlag,
	flags.MnemonicFlag,
	flags.TreasuryAddressFlag,
	flags.FaucetMnemonicFlag,
	flags.FaucetAddressFlag,
	flags.ExistentialDepositFlag,
	flags.PortFlag,
	flags.PollIntervalFlag,
	flags.BlockOffsetFlag,
	flags.WebhookTokenFlag,
	flags.GetLogsMaxRetriesFlag,
	flags.GetLogsDelayFlag,
	flags.VerbosityFlag,
	flags.LogFormatFlag,
	flags.MonitoringHostFlag,
	flags.MonitoringPortFlag,
	flags.DisableMonitoringFlag,
	flags.EnableTracingFlag,
	flags.TracingProcessNameFlag,
	flags.TracingEndpointFlag,
	flags.TraceSampleFractionFlag,
}

func startNode(cliCtx *cli.Context) error {
	n, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	n.Start()
	return nil
}

func main() {
	app := cli.App{}
	app.Name = "walletd"
	app.Usage = "custodial deposit aggregator for EVM chains"
	app.Version = version.GetVersion()
	app.Flags = appFlags
	app.Action = startNode
	app.Before = func(ctx *cli.Context) error {
		verbosity := ctx.String(flags.VerbosityFlag.Name)
		level, err := logrus.ParseLevel(verbosity)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)

		format := ctx.String(flags.LogFormatFlag.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}
		logrus.AddHook(prometheus.NewLogrusCollector())

		goruntime.GOMAXPROCS(goruntime.NumCPU())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
