package macro

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// unknownMacrosTotal считает токены {{...}}, оставленные без изменений.
var unknownMacrosTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "janiproxy",
		Subsystem: "macro",
		Name:      "unknown_total",
		Help:      "Total number of unrecognized macro tokens passed through verbatim",
	},
)

func recordUnknown() {
	unknownMacrosTotal.Inc()
}
