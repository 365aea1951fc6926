package upstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики для upstream клиента
//
// Метрики позволяют отслеживать:
// - Время выполнения upstream запросов
// - Использование токенов (prompt/completion)
// - Стоимость запросов и retry-попытки

const metricsNamespace = "janiproxy"

var (
	// upstreamRequestDuration измеряет время до получения ответа upstream.
	// Labels:
	//   - model: название модели
	//   - status: результат (success, error)
	upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Time until the upstream response headers arrive, retries included",
			// Buckets для типичных времён LLM: 0.5s - 60s
			Buckets: []float64{0.5, 1, 2, 3, 5, 7, 10, 15, 20, 30, 45, 60},
		},
		[]string{"model", "status"},
	)

	// upstreamRequestsTotal считает количество upstream запросов.
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of upstream chat completion requests",
		},
		[]string{"model", "status"},
	)

	// upstreamTokensTotal считает использованные токены.
	// Labels:
	//   - model: название модели
	//   - type: тип токенов (prompt, completion)
	upstreamTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "upstream",
			Name:      "tokens_total",
			Help:      "Total number of tokens reported by upstream",
		},
		[]string{"model", "type"},
	)

	// upstreamCostTotal отслеживает кумулятивную стоимость запросов (USD).
	upstreamCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "upstream",
			Name:      "cost_usd_total",
			Help:      "Total cost reported by upstream in USD",
		},
		[]string{"model"},
	)

	// upstreamRetriesTotal считает количество retry-попыток.
	upstreamRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Total number of retry attempts for upstream requests",
		},
		[]string{"model"},
	)
)

const (
	statusSuccess   = "success"
	statusError     = "error"
	tokenTypePrompt = "prompt"
	tokenTypeCompl  = "completion"
)

// RecordRequest записывает метрики upstream запроса.
func RecordRequest(model string, durationSeconds float64, success bool) {
	status := statusSuccess
	if !success {
		status = statusError
	}
	upstreamRequestDuration.WithLabelValues(model, status).Observe(durationSeconds)
	upstreamRequestsTotal.WithLabelValues(model, status).Inc()
}

// RecordUsage записывает токены и стоимость из ответа.
func RecordUsage(model string, u Usage) {
	if u.PromptTokens > 0 {
		upstreamTokensTotal.WithLabelValues(model, tokenTypePrompt).Add(float64(u.PromptTokens))
	}
	if u.CompletionTokens > 0 {
		upstreamTokensTotal.WithLabelValues(model, tokenTypeCompl).Add(float64(u.CompletionTokens))
	}
	if u.Cost != nil && *u.Cost > 0 {
		upstreamCostTotal.WithLabelValues(model).Add(*u.Cost)
	}
}

// RecordRetry записывает retry-попытку.
func RecordRetry(model string) {
	upstreamRetriesTotal.WithLabelValues(model).Inc()
}
