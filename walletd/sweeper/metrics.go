package sweeper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	nativeSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_native_sweeps_total",
		Help: "Native deposits forwarded to the treasury",
	})
	erc20Swept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_erc20_sweeps_total",
		Help: "ERC-20 deposits forwarded to the treasury",
	})
	sweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_errors_total",
		Help: "Sweep attempts that failed and will be retried",
	})
	faucetTopUps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_faucet_topups_total",
		Help: "Faucet top-ups requested for sweep gas",
	})
	webhookFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_webhook_failures_total",
		Help: "deposit_swept webhooks that could not be delivered",
	})
)
