package regex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "janiproxy"

const (
	failureCompile = "compile"
	failureReplace = "replace"
)

// scriptFailuresTotal считает пропущенные regex-скрипты.
// Labels:
//   - reason: compile (невалидный паттерн) или replace (ошибка/таймаут при замене)
var scriptFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "regex",
		Name:      "script_failures_total",
		Help:      "Total number of regex scripts skipped because of compile or replace errors",
	},
	[]string{"reason"},
)

func recordFailure(reason string) {
	scriptFailuresTotal.WithLabelValues(reason).Inc()
}
