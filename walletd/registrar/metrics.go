package registrar

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registrar_accounts_registered_total",
		Help: "New deposit addresses registered",
	})
	fundings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registrar_faucet_fundings_total",
		Help: "Successful existential-deposit fundings of new addresses",
	})
)
