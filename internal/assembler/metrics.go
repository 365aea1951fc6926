package assembler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "janiproxy"

var (
	// assembledMessages измеряет число сообщений в собранном промпте.
	assembledMessages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "assembler",
			Name:      "messages",
			Help:      "Number of messages in an assembled prompt",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		},
	)

	// assemblyDuration измеряет время сборки промпта.
	assemblyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "assembler",
			Name:      "duration_seconds",
			Help:      "Duration of prompt assembly in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	// markersDeduplicated считает маркеры описания персонажа, пропущенные
	// потому что это содержимое уже выведено.
	markersDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "assembler",
			Name:      "markers_deduplicated_total",
			Help:      "Total number of character content markers skipped because the content was already emitted",
		},
	)
)
