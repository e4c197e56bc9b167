// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from the mapping engine.
//
// The package is intentionally minimal:
//
//   - A narrow Backend interface covering counters and duration observations.
//   - A global, pluggable backend defaulting to a no-op implementation, so
//     instrumentation calls are always safe even when no backend is
//     configured.
//   - Concrete metric systems (Prometheus Pushgateway, Datadog) live in
//     subpackages; the engine depends only on this package.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a duration-style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordRows increments the row counter for the given job and kind.
//
// Kinds mirror the execution counters: "read", "succeeded", "failed".
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("mapload_rows_total", float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordChunk records one finished chunk: an outcome counter plus its
// duration. Outcomes: "done", "failed", "skipped".
func RecordChunk(job, outcome string, d time.Duration) {
	lbls := Labels{
		"job":     job,
		"outcome": outcome,
	}
	backend.IncCounter("mapload_chunks_total", 1, lbls)
	if outcome != "skipped" {
		backend.ObserveHistogram("mapload_chunk_duration_seconds", d.Seconds(), lbls)
	}
}

// RecordMergeRetry counts one retried SCD merge batch.
func RecordMergeRetry(job string) {
	backend.IncCounter("mapload_merge_retries_total", 1, Labels{"job": job})
}

// RecordRun records one completed run with its terminal status
// (DONE, PARTIAL, FAILED, STOPPED) and total duration.
func RecordRun(job, status string, d time.Duration) {
	lbls := Labels{
		"job":    job,
		"status": status,
	}
	backend.IncCounter("mapload_runs_total", 1, lbls)
	backend.ObserveHistogram("mapload_run_duration_seconds", d.Seconds(), lbls)
}
