package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "janiproxy"

var (
	// storageOperationsTotal считает записи и удаления по таблицам.
	// Labels:
	//   - table: presets, regex_scripts, proxy_logs
	//   - operation: save, delete, replace, add
	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Total number of write operations per table",
		},
		[]string{"table", "operation"},
	)

	// storageSizeBytes показывает размер файла базы вместе с WAL.
	storageSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "storage",
			Name:      "size_bytes",
			Help:      "Total size of the database and WAL files in bytes",
		},
	)

	// storageTableBytes показывает размер таблицы вместе с её индексами.
	storageTableBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "storage",
			Name:      "table_bytes",
			Help:      "Size of each database table including its indexes in bytes",
		},
		[]string{"table"},
	)

	// storageTableRows показывает количество строк в таблице.
	// Рост proxy_logs выше proxy_log.keep означает, что очистка не работает.
	storageTableRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "storage",
			Name:      "table_rows",
			Help:      "Number of rows in each database table",
		},
		[]string{"table"},
	)

	// storageCleanupDeletedTotal считает строки, удалённые при очистке.
	storageCleanupDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "storage",
			Name:      "cleanup_deleted_total",
			Help:      "Total number of rows deleted during cleanup",
		},
		[]string{"table"},
	)

	// storageCleanupDuration измеряет время очистки.
	storageCleanupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "storage",
			Name:      "cleanup_duration_seconds",
			Help:      "Duration of cleanup operations in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"table"},
	)
)

func recordOperation(table, operation string) {
	storageOperationsTotal.WithLabelValues(table, operation).Inc()
}

// SetStorageSize updates the storage size metric.
func SetStorageSize(bytes int64) {
	storageSizeBytes.Set(float64(bytes))
}

// SetTableStats updates the size and row gauges for one table.
func SetTableStats(ts TableSize) {
	storageTableBytes.WithLabelValues(ts.Name).Set(float64(ts.Bytes))
	storageTableRows.WithLabelValues(ts.Name).Set(float64(ts.Rows))
}

// RecordCleanupDeleted records the number of deleted rows during cleanup.
func RecordCleanupDeleted(table string, count int64) {
	storageCleanupDeletedTotal.WithLabelValues(table).Add(float64(count))
}

// RecordCleanupDuration records the duration of a cleanup operation.
func RecordCleanupDuration(table string, seconds float64) {
	storageCleanupDuration.WithLabelValues(table).Observe(seconds)
}
