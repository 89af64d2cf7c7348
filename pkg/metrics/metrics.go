// Package metrics exposes Prometheus metrics for Rowbot runs.
//
// Blocks count rows and batches per operation, workers count recorded
// exceptions, and the runner observes pipeline durations and wave sizes:
//
//	metrics.BlockRows.WithLabelValues("customers", "extract", metrics.OpExtracted).Add(float64(len(batch)))
//
//	timer := metrics.NewTimer()
//	summary, err := p.Invoke(ctx)
//	metrics.PipelineDuration.WithLabelValues(p.Name(), cluster, metrics.Status(err)).Observe(timer.Stop().Seconds())
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Row operations counted by BlockRows.
const (
	OpExtracted   = "extracted"
	OpTransformed = "transformed"
	OpInserted    = "inserted"
	OpUpdated     = "updated"
)

var (
	// BlockRows counts rows moved by blocks
	BlockRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowbot_block_rows_total",
			Help: "Total number of rows handled by a block, by operation",
		},
		[]string{"pipeline", "block", "operation"},
	)

	// BlockBatches counts batches processed by blocks
	BlockBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowbot_block_batches_total",
			Help: "Total number of batches processed by a block",
		},
		[]string{"pipeline", "block"},
	)

	// BlockExceptions counts failures recorded by block workers
	BlockExceptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowbot_block_exceptions_total",
			Help: "Total number of exceptions recorded by block workers",
		},
		[]string{"pipeline", "block"},
	)

	// PipelineDuration tracks pipeline run time
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rowbot_pipeline_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"pipeline", "cluster", "status"},
	)

	// WavePipelines is the number of pipelines in the wave a cluster is running
	WavePipelines = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rowbot_wave_pipelines",
			Help: "Number of pipelines running in the current wave of a cluster",
		},
		[]string{"cluster"},
	)
)

// Status maps a run error to the status label value.
func Status(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}

// Timer measures elapsed time
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
