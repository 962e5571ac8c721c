// Package metrics defines custom Prometheus metrics for QuillStore.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for transfer size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// Storage protocol metrics.
var (
	// OperationsTotal counts protocol operations by name and outcome.
	// Operations: checkfileinfo, getfile, putfile, putrelativefile,
	// renamefile, lock, unlock. Outcome is "ok" or an error kind.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillstore_storage_operations_total",
			Help: "Storage protocol operations by type and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// OperationDuration observes operation latency in seconds, redirects
	// included.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quillstore_storage_operation_duration_seconds",
			Help:    "Storage operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// RedirectsTotal counts HTTP redirects followed per operation.
	RedirectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillstore_storage_redirects_total",
			Help: "HTTP redirects followed by operation",
		},
		[]string{"operation"},
	)

	// TransferBytes observes document bytes moved per direction
	// ("download", "upload").
	TransferBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quillstore_storage_transfer_bytes",
			Help:    "Document bytes transferred per operation",
			Buckets: sizeBuckets,
		},
		[]string{"direction"},
	)

	// UploadResultsTotal counts upload completions by mapped result code.
	UploadResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillstore_storage_upload_results_total",
			Help: "Upload completions by result code",
		},
		[]string{"result"},
	)

	// AsyncUploadsInFlight tracks currently running asynchronous uploads.
	AsyncUploadsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quillstore_storage_async_uploads_in_flight",
			Help: "Asynchronous uploads currently running",
		},
	)
)

// Register registers all QuillStore metrics with the default Prometheus
// registry. Safe to call multiple times.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			OperationsTotal,
			OperationDuration,
			RedirectsTotal,
			TransferBytes,
			UploadResultsTotal,
			AsyncUploadsInFlight,
		)
	})
}
