// Package metrics exposes Prometheus instruments for the DSR workers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dsr"

// Metrics is safe for concurrent use. A nil *Metrics records nothing, so
// components can run without instrumentation in tests.
type Metrics struct {
	// DispatchTotal counts queue deliveries by request type and outcome.
	DispatchTotal *prometheus.CounterVec

	// RunningExports is the number of export workers currently executing.
	RunningExports prometheus.Gauge

	// JobDurationSeconds measures worker runs by request type and result.
	JobDurationSeconds *prometheus.HistogramVec

	// ExportBytes records uploaded archive sizes.
	ExportBytes prometheus.Histogram

	// BatchItemsTotal counts per-record outcomes of delete, cascade and purge runs.
	BatchItemsTotal *prometheus.CounterVec
}

// New creates every instrument and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "dispatch_total",
				Help:      "Queue deliveries by request type and outcome",
			},
			[]string{"type", "outcome"},
		),
		RunningExports: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "running",
				Help:      "Export workers currently running in this process",
			},
		),
		JobDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "job",
				Name:      "duration_seconds",
				Help:      "Worker run duration by request type and result",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"type", "result"},
		),
		ExportBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "archive_bytes",
				Help:      "Size of uploaded export archives",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
		BatchItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "items_total",
				Help:      "Per-record outcomes of delete, cascade and purge runs",
			},
			[]string{"job", "bucket", "outcome"},
		),
	}
}

func (m *Metrics) ObserveDispatch(requestType, outcome string) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(requestType, outcome).Inc()
}

func (m *Metrics) ExportStarted() {
	if m == nil {
		return
	}
	m.RunningExports.Inc()
}

func (m *Metrics) ExportFinished() {
	if m == nil {
		return
	}
	m.RunningExports.Dec()
}

func (m *Metrics) ObserveJob(requestType string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.JobDurationSeconds.WithLabelValues(requestType, result).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveExportBytes(size int64) {
	if m == nil {
		return
	}
	m.ExportBytes.Observe(float64(size))
}

func (m *Metrics) AddBatchItems(job, bucket, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BatchItemsTotal.WithLabelValues(job, bucket, outcome).Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
