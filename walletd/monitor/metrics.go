package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_blocks_scanned_total",
		Help: "Blocks fully scanned for deposits",
	})
	scanErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_scan_errors_total",
		Help: "Scan iterations that failed and will be retried",
	})
	cursorHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_scan_cursor",
		Help: "Height of the last fully processed block",
	})
	nativeDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_native_deposits_detected_total",
		Help: "Native deposits recorded by the scanner",
	})
	erc20Detected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_erc20_deposits_detected_total",
		Help: "ERC-20 deposits recorded by the scanner",
	})
	webhookFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_webhook_failures_total",
		Help: "deposit_detected webhooks that could not be delivered",
	})
)
