// Package metrics provides Prometheus metrics for foldervault.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry served on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler serves the metrics of Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Metrics holds the storage engine and purge metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Operations
	OperationsTotal   *prometheus.CounterVec   // foldervault_operations_total{operation,result}
	OperationDuration *prometheus.HistogramVec // foldervault_operation_duration_seconds{operation}

	// Uploads
	UploadedFiles prometheus.Counter     // foldervault_uploaded_files_total
	UploadedBytes prometheus.Counter     // foldervault_uploaded_bytes_total
	Compensations *prometheus.CounterVec // foldervault_upload_compensations_total{result}

	// Permanent deletion
	DeletedItems *prometheus.CounterVec // foldervault_deleted_items_total{type}
	DeletedBytes prometheus.Counter     // foldervault_deleted_bytes_total

	// Archives
	ArchivedFiles  prometheus.Counter // foldervault_archived_files_total
	ArchivedBytes  prometheus.Counter // foldervault_archived_bytes_total
	ArchiveSkipped prometheus.Counter // foldervault_archive_skipped_files_total

	// Purge
	PurgeSweeps      *prometheus.CounterVec // foldervault_purge_sweeps_total{result}
	PurgeItems       *prometheus.CounterVec // foldervault_purge_items_total{result}
	PurgeDuration    prometheus.Histogram   // foldervault_purge_duration_seconds
	PurgeLastSuccess prometheus.Gauge       // foldervault_purge_last_success_timestamp_seconds

	// Trash backlog, sampled by Collector
	TrashItems   *prometheus.GaugeVec // foldervault_trash_items{type}
	ExpiredItems *prometheus.GaugeVec // foldervault_trash_expired_items{type}
	TrashBytes   prometheus.Gauge     // foldervault_trash_bytes
}

// New registers the metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = Registry
	}
	f := promauto.With(reg)

	return &Metrics{
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foldervault_operations_total",
			Help: "Storage operations by operation and result",
		}, []string{"operation", "result"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "foldervault_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		UploadedFiles: f.NewCounter(prometheus.CounterOpts{
			Name: "foldervault_uploaded_files_total",
			Help: "Files stored by uploads",
		}),
		UploadedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "foldervault_uploaded_bytes_total",
			Help: "Bytes stored by uploads",
		}),
		Compensations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foldervault_upload_compensations_total",
			Help: "Blob deletions after a failed record insert, by result",
		}, []string{"result"}),

		DeletedItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foldervault_deleted_items_total",
			Help: "Permanently deleted records by type",
		}, []string{"type"}),
		DeletedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "foldervault_deleted_bytes_total",
			Help: "Bytes released by permanent deletion",
		}),

		ArchivedFiles: f.NewCounter(prometheus.CounterOpts{
			Name: "foldervault_archived_files_total",
			Help: "Files written into folder archives",
		}),
		ArchivedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "foldervault_archived_bytes_total",
			Help: "Uncompressed bytes written into folder archives",
		}),
		ArchiveSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "foldervault_archive_skipped_files_total",
			Help: "Files left out of archives because their content could not be read",
		}),

		PurgeSweeps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foldervault_purge_sweeps_total",
			Help: "Trash purge sweeps by result",
		}, []string{"result"}),
		PurgeItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foldervault_purge_items_total",
			Help: "Expired trash items handled by purge sweeps, by result",
		}, []string{"result"}),
		PurgeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "foldervault_purge_duration_seconds",
			Help:    "Trash purge sweep duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		PurgeLastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "foldervault_purge_last_success_timestamp_seconds",
			Help: "Unix time of the last completed purge sweep",
		}),

		TrashItems: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "foldervault_trash_items",
			Help: "Records currently in trash by type",
		}, []string{"type"}),
		ExpiredItems: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "foldervault_trash_expired_items",
			Help: "Records in trash past the retention period by type",
		}, []string{"type"}),
		TrashBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "foldervault_trash_bytes",
			Help: "Bytes held by files in trash",
		}),
	}
}

// RecordOperation records the result and duration of one engine operation.
func (m *Metrics) RecordOperation(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordUpload records the stored part of an upload batch.
func (m *Metrics) RecordUpload(files int, bytes int64) {
	if m == nil {
		return
	}
	m.UploadedFiles.Add(float64(files))
	m.UploadedBytes.Add(float64(bytes))
}

// RecordCompensation records a blob deletion after a failed record insert.
func (m *Metrics) RecordCompensation(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Compensations.WithLabelValues(result).Inc()
}

// RecordDelete records records destroyed by a permanent deletion.
func (m *Metrics) RecordDelete(folders, files int, bytes int64) {
	if m == nil {
		return
	}
	m.DeletedItems.WithLabelValues("folder").Add(float64(folders))
	m.DeletedItems.WithLabelValues("file").Add(float64(files))
	m.DeletedBytes.Add(float64(bytes))
}

// RecordArchive records the outcome of one folder archive.
func (m *Metrics) RecordArchive(files int, bytes int64, skipped int) {
	if m == nil {
		return
	}
	m.ArchivedFiles.Add(float64(files))
	m.ArchivedBytes.Add(float64(bytes))
	m.ArchiveSkipped.Add(float64(skipped))
}

// RecordSweep records one completed purge sweep.
func (m *Metrics) RecordSweep(purged, failed, skipped int, d time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.PurgeSweeps.WithLabelValues("completed").Inc()
	m.PurgeItems.WithLabelValues("purged").Add(float64(purged))
	m.PurgeItems.WithLabelValues("failed").Add(float64(failed))
	m.PurgeItems.WithLabelValues("skipped").Add(float64(skipped))
	m.PurgeDuration.Observe(d.Seconds())
	m.PurgeLastSuccess.Set(float64(at.Unix()))
}

// RecordSweepOverlap records a tick skipped because the previous sweep was running.
func (m *Metrics) RecordSweepOverlap() {
	if m == nil {
		return
	}
	m.PurgeSweeps.WithLabelValues("skipped_overlap").Inc()
}
