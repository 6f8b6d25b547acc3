// Package metrics holds the Prometheus metrics for the pipeline. Every
// consumer treats a nil *Metrics as "metrics disabled".
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	DocumentsFetched *prometheus.CounterVec
	FetchRetries     *prometheus.CounterVec
	FetchFailures    *prometheus.CounterVec
	RecordsLanded    *prometheus.CounterVec
	RecordsDeduped   *prometheus.CounterVec
	RowsStaged       *prometheus.CounterVec
	RecordsSkipped   *prometheus.CounterVec
	MartRows         prometheus.Gauge
	StageDuration    *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		DocumentsFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courseflow_documents_fetched_total",
			Help: "Documents returned by source API calls",
		}, []string{"source", "entity"}),
		FetchRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courseflow_fetch_retries_total",
			Help: "Retry attempts against source APIs",
		}, []string{"source"}),
		FetchFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courseflow_fetch_failures_total",
			Help: "Terminal fetch failures by error code",
		}, []string{"source", "code"}),
		RecordsLanded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courseflow_records_landed_total",
			Help: "Raw records inserted into the landing log",
		}, []string{"source", "entity"}),
		RecordsDeduped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courseflow_records_deduped_total",
			Help: "Raw records skipped as duplicates at landing",
		}, []string{"source", "entity"}),
		RowsStaged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courseflow_rows_staged_total",
			Help: "Rows upserted into staging tables",
		}, []string{"entity"}),
		RecordsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courseflow_records_skipped_total",
			Help: "Records skipped during transform for failed extraction",
		}, []string{"entity"}),
		MartRows: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "courseflow_mart_rows",
			Help: "Rows in the mart after the last rebuild",
		}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courseflow_stage_duration_seconds",
			Help:    "Wall-clock duration of pipeline stage invocations",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

// ObserveStage records a stage invocation duration. Nil-safe.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
