// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// Runs are batch-shaped, so metrics are pushed to a Pushgateway at flush
// time rather than exposed on a scrape endpoint. All Prometheus-specific
// dependencies stay in this package; the engine depends only on the
// metrics.Backend abstraction.
package prompush

import (
	"fmt"

	"mapload/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	rowCounter    *prometheus.CounterVec // mapload_rows_total
	chunkCounter  *prometheus.CounterVec // mapload_chunks_total
	chunkDuration *prometheus.SummaryVec // mapload_chunk_duration_seconds
	retryCounter  prometheus.Counter     // mapload_merge_retries_total
	runCounter    *prometheus.CounterVec // mapload_runs_total
	runDuration   *prometheus.SummaryVec // mapload_run_duration_seconds
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName is the Pushgateway grouping key, usually the mapping job name.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "mapload"
	}

	reg := prometheus.NewRegistry()

	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapload_rows_total",
			Help: "Row counts per kind (read, succeeded, failed).",
		},
		[]string{"kind"},
	)
	chunkCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapload_chunks_total",
			Help: "Finished chunks per outcome (done, failed, skipped).",
		},
		[]string{"outcome"},
	)
	chunkDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "mapload_chunk_duration_seconds",
			Help:       "Chunk processing duration in seconds, per outcome.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"outcome"},
	)
	retryCounter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mapload_merge_retries_total",
			Help: "Total retried SCD merge batches for this job.",
		},
	)
	runCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapload_runs_total",
			Help: "Completed runs per terminal status.",
		},
		[]string{"status"},
	)
	runDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "mapload_run_duration_seconds",
			Help:       "Total run duration in seconds, per terminal status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"status"},
	)

	for _, c := range []prometheus.Collector{
		rowCounter, chunkCounter, chunkDuration, retryCounter, runCounter, runDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		rowCounter:    rowCounter,
		chunkCounter:  chunkCounter,
		chunkDuration: chunkDuration,
		retryCounter:  retryCounter,
		runCounter:    runCounter,
		runDuration:   runDuration,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "mapload_rows_total":
		b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)
	case "mapload_chunks_total":
		b.chunkCounter.WithLabelValues(labels["outcome"]).Add(delta)
	case "mapload_merge_retries_total":
		b.retryCounter.Add(delta)
	case "mapload_runs_total":
		b.runCounter.WithLabelValues(labels["status"]).Add(delta)
	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch name {
	case "mapload_chunk_duration_seconds":
		b.chunkDuration.WithLabelValues(labels["outcome"]).Observe(value)
	case "mapload_run_duration_seconds":
		b.runDuration.WithLabelValues(labels["status"]).Observe(value)
	}
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
